package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/tricreative/voicebridge/internal/backend"
	"github.com/tricreative/voicebridge/internal/bridge"
	"github.com/tricreative/voicebridge/internal/business"
	"github.com/tricreative/voicebridge/internal/calllog"
	"github.com/tricreative/voicebridge/internal/config"
	"github.com/tricreative/voicebridge/internal/httpapi"
	"github.com/tricreative/voicebridge/internal/observability"
	"github.com/tricreative/voicebridge/internal/session"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	ctx := context.Background()
	callStore, err := calllog.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("call log store init failed: %v", err)
	}
	defer callStore.Close()

	var contextClient *business.Client
	if strings.TrimSpace(cfg.BusinessID) != "" {
		contextClient = business.NewClient(cfg.ContextBaseURL, cfg.ContextAPIKey, cfg.BusinessID)
	} else {
		log.Printf("BUSINESS_ID not set; using fallback business context")
	}
	contexts := business.NewCache(contextClient, cfg.FallbackBusinessName)

	// Warm the context cache so the first call does not pay the lookup.
	if contextClient != nil {
		go func() {
			warmCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
			defer cancel()
			if b, err := contexts.Refresh(warmCtx); err != nil {
				log.Printf("business context prefetch failed: %v", err)
			} else {
				log.Printf("business context loaded: %s", b.Name)
			}
		}()
	}

	var (
		driver      backend.Driver
		resolved    string
		bridgeVoice string
	)

	backendMode := strings.ToLower(strings.TrimSpace(cfg.Backend))
	if backendMode == "" {
		backendMode = "auto"
	}

	tryOpenAI := func() bool {
		if strings.TrimSpace(cfg.OpenAIAPIKey) == "" {
			return false
		}
		driver = backend.NewOpenAIDriver(backend.OpenAIConfig{
			APIKey:  cfg.OpenAIAPIKey,
			BaseURL: cfg.OpenAIBaseURL,
			Model:   cfg.OpenAIModel,
			Voice:   cfg.OpenAIVoice,
		})
		resolved = "openai"
		bridgeVoice = cfg.OpenAIVoice
		log.Printf("ai backend: openai realtime (%s)", cfg.OpenAIModel)
		return true
	}

	tryElevenLabs := func() bool {
		if strings.TrimSpace(cfg.ElevenLabsAPIKey) == "" || strings.TrimSpace(cfg.ElevenLabsAgentID) == "" {
			return false
		}
		driver = backend.NewElevenLabsDriver(backend.ElevenLabsConfig{
			APIKey:    cfg.ElevenLabsAPIKey,
			WSBaseURL: cfg.ElevenLabsWSBaseURL,
			AgentID:   cfg.ElevenLabsAgentID,
			VoiceID:   cfg.ElevenLabsVoiceID,
		})
		resolved = "elevenlabs"
		bridgeVoice = cfg.ElevenLabsVoiceID
		log.Printf("ai backend: elevenlabs conversational agent")
		return true
	}

	switch backendMode {
	case "openai":
		if !tryOpenAI() {
			log.Fatalf("AI_BACKEND=openai but OPENAI_API_KEY is not set")
		}
	case "elevenlabs":
		if !tryElevenLabs() {
			log.Fatalf("AI_BACKEND=elevenlabs but ELEVENLABS_API_KEY or ELEVENLABS_AGENT_ID is not set")
		}
	case "mock":
		driver = backend.NewMockDriver()
		resolved = "mock"
		log.Printf("ai backend: mock")
	case "auto":
		if tryOpenAI() {
			break
		}
		if tryElevenLabs() {
			break
		}
		driver = backend.NewMockDriver()
		resolved = "mock"
		log.Printf("ai backend: mock (no openai or elevenlabs credentials)")
	default:
		log.Fatalf("invalid AI_BACKEND: %q (expected auto|openai|elevenlabs|mock)", cfg.Backend)
	}
	cfg.Backend = resolved

	sessions := session.NewManager(cfg.CallInactivityTimeout)
	sessions.SetExpireHook(func(c *session.Call) {
		metrics.CallEvents.WithLabelValues("expired").Inc()
		log.Printf("call %s: expired after inactivity", c.ID)
	})

	b := bridge.New(driver, contexts, sessions, callStore, metrics, bridge.Config{
		SettleDelay:       cfg.HandshakeSettleDelay,
		HandshakeTimeout:  cfg.HandshakeTimeout,
		Voice:             bridgeVoice,
		VADThreshold:      cfg.VADThreshold,
		PrefixPaddingMS:   cfg.PrefixPaddingMS,
		SilenceDurationMS: cfg.SilenceDurationMS,
	})

	api := httpapi.New(cfg, sessions, b, contexts, callStore, metrics)
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()
	sessions.StartJanitor(runCtx, 5*time.Second)

	go func() {
		log.Printf("server listening on %s", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf("shutdown signal received")

	runCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = httpServer.Close()
	}

	log.Printf("shutdown complete")
}
