package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the voice bridge service.
type Config struct {
	BindAddr              string
	PublicHost            string
	ShutdownTimeout       time.Duration
	CallInactivityTimeout time.Duration
	MetricsNamespace      string

	AllowAnyOrigin bool

	// Backend selects the AI protocol family: auto, openai, elevenlabs, mock.
	Backend string

	OpenAIAPIKey  string
	OpenAIBaseURL string
	OpenAIModel   string
	OpenAIVoice   string

	ElevenLabsAPIKey    string
	ElevenLabsWSBaseURL string
	ElevenLabsAgentID   string
	ElevenLabsVoiceID   string

	HandshakeSettleDelay time.Duration
	HandshakeTimeout     time.Duration
	VADThreshold         float64
	PrefixPaddingMS      int
	SilenceDurationMS    int

	ContextBaseURL       string
	ContextAPIKey        string
	BusinessID           string
	FallbackBusinessName string

	DatabaseURL string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":8080"),
		PublicHost:       envTrimmed("APP_PUBLIC_HOST"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "voicebridge"),
		AllowAnyOrigin:   false,
		Backend:          envOrDefault("AI_BACKEND", "auto"),

		OpenAIAPIKey:  envTrimmed("OPENAI_API_KEY"),
		OpenAIBaseURL: envOrDefault("OPENAI_REALTIME_BASE_URL", "wss://api.openai.com"),
		OpenAIModel:   envOrDefault("OPENAI_REALTIME_MODEL", "gpt-4o-realtime-preview"),
		OpenAIVoice:   envOrDefault("OPENAI_REALTIME_VOICE", "alloy"),

		ElevenLabsAPIKey:    envTrimmed("ELEVENLABS_API_KEY"),
		ElevenLabsWSBaseURL: envOrDefault("ELEVENLABS_WS_BASE_URL", "wss://api.elevenlabs.io"),
		ElevenLabsAgentID:   envTrimmed("ELEVENLABS_AGENT_ID"),
		ElevenLabsVoiceID:   envTrimmed("ELEVENLABS_VOICE_ID"),

		// A short settle delay lets the socket quiesce before the handshake.
		HandshakeSettleDelay: 250 * time.Millisecond,
		HandshakeTimeout:     10 * time.Second,
		VADThreshold:         0.5,
		PrefixPaddingMS:      300,
		SilenceDurationMS:    500,

		ContextBaseURL:       envOrDefault("CONTEXT_API_BASE_URL", "https://skyiq.app/api"),
		ContextAPIKey:        envTrimmed("CONTEXT_API_KEY"),
		BusinessID:           envTrimmed("BUSINESS_ID"),
		FallbackBusinessName: envOrDefault("FALLBACK_BUSINESS_NAME", "Tri Creative Group"),

		DatabaseURL:           envTrimmed("DATABASE_URL"),
		ShutdownTimeout:       15 * time.Second,
		CallInactivityTimeout: 5 * time.Minute,
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.CallInactivityTimeout, err = durationFromEnv("APP_CALL_INACTIVITY_TIMEOUT", cfg.CallInactivityTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.HandshakeSettleDelay, err = durationFromEnv("HANDSHAKE_SETTLE_DELAY", cfg.HandshakeSettleDelay)
	if err != nil {
		return Config{}, err
	}
	cfg.HandshakeTimeout, err = durationFromEnv("HANDSHAKE_TIMEOUT", cfg.HandshakeTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.VADThreshold, err = floatFromEnv("VAD_THRESHOLD", cfg.VADThreshold)
	if err != nil {
		return Config{}, err
	}
	cfg.PrefixPaddingMS, err = intFromEnv("VAD_PREFIX_PADDING_MS", cfg.PrefixPaddingMS)
	if err != nil {
		return Config{}, err
	}
	cfg.SilenceDurationMS, err = intFromEnv("VAD_SILENCE_DURATION_MS", cfg.SilenceDurationMS)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}

	switch cfg.Backend {
	case "auto", "openai", "elevenlabs", "mock":
	default:
		return Config{}, fmt.Errorf("AI_BACKEND must be auto, openai, elevenlabs or mock")
	}
	if cfg.CallInactivityTimeout < 5*time.Second {
		return Config{}, fmt.Errorf("APP_CALL_INACTIVITY_TIMEOUT must be at least 5s")
	}
	if cfg.HandshakeTimeout < time.Second {
		return Config{}, fmt.Errorf("HANDSHAKE_TIMEOUT must be at least 1s")
	}
	if cfg.HandshakeSettleDelay < 0 {
		return Config{}, fmt.Errorf("HANDSHAKE_SETTLE_DELAY must not be negative")
	}
	if cfg.VADThreshold < 0 || cfg.VADThreshold > 1 {
		return Config{}, fmt.Errorf("VAD_THRESHOLD must be between 0 and 1")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func envTrimmed(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := envTrimmed(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := envTrimmed(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func floatFromEnv(key string, fallback float64) (float64, error) {
	v := envTrimmed(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return f, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(envTrimmed(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
