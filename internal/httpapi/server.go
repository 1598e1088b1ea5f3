package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/twilio/twilio-go/twiml"

	"github.com/tricreative/voicebridge/internal/business"
	"github.com/tricreative/voicebridge/internal/calllog"
	"github.com/tricreative/voicebridge/internal/config"
	"github.com/tricreative/voicebridge/internal/observability"
	"github.com/tricreative/voicebridge/internal/reliability"
	"github.com/tricreative/voicebridge/internal/session"
	"github.com/tricreative/voicebridge/internal/telephony"
)

// CallBridge relays one telephony media stream against an AI backend.
type CallBridge interface {
	Run(ctx context.Context, call *session.Call, inbound <-chan any, outbound chan<- any) error
	Probe(ctx context.Context) error
	BackendName() string
}

type Server struct {
	cfg      config.Config
	sessions *session.Manager
	bridge   CallBridge
	contexts *business.Cache
	calls    calllog.Store
	metrics  *observability.Metrics
	upgrader websocket.Upgrader
}

func New(cfg config.Config, sessions *session.Manager, bridge CallBridge, contexts *business.Cache, calls calllog.Store, metrics *observability.Metrics) *Server {
	return &Server{
		cfg:      cfg,
		sessions: sessions,
		bridge:   bridge,
		contexts: contexts,
		calls:    calls,
		metrics:  metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Telephony media stream clients do not send Origin.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/", s.handleStatus)
	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Post("/twiml", s.handleTwiML)
	r.Get("/twiml", s.handleTwiML)
	r.Get("/media-stream", s.handleMediaStream)

	r.Get("/test-context", s.handleTestContext)
	r.Get("/test-backend", s.handleTestBackend)
	r.Get("/calls/recent", s.handleRecentCalls)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"backend": s.bridge.BackendName(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":       "ready",
		"backend":      s.bridge.BackendName(),
		"active_calls": s.sessions.ActiveCount(),
	})
}

// handleStatus serves a small human-readable landing page so a browser hit on
// the public URL shows the service is up.
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	fetched := "never"
	if t := s.contexts.FetchedAt(); !t.IsZero() {
		fetched = t.Format(time.RFC3339)
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head><title>Voice Bridge</title></head>
<body>
<h1>AI Phone Receptionist</h1>
<p>Status: running</p>
<p>Backend: %s</p>
<p>Active calls: %d</p>
<p>Business context fetched: %s</p>
<p>Point a phone number's voice webhook at <code>/twiml</code>.</p>
</body>
</html>
`, s.bridge.BackendName(), s.sessions.ActiveCount(), fetched)
}

// handleTwiML answers the provider's voice webhook with instructions to open
// a bidirectional media stream back to this service.
func (s *Server) handleTwiML(w http.ResponseWriter, r *http.Request) {
	host := strings.TrimSpace(s.cfg.PublicHost)
	if host == "" {
		host = r.Host
	}

	stream := &twiml.VoiceStream{Url: "wss://" + host + "/media-stream"}
	connect := &twiml.VoiceConnect{InnerElements: []twiml.Element{stream}}
	doc, err := twiml.Voice([]twiml.Element{connect})
	if err != nil {
		respondError(w, http.StatusInternalServerError, "twiml_failed", err.Error())
		return
	}

	if s.metrics != nil {
		s.metrics.CallEvents.WithLabelValues("webhook").Inc()
	}
	w.Header().Set("Content-Type", "text/xml")
	_, _ = w.Write([]byte(doc))
}

func (s *Server) handleTestContext(w http.ResponseWriter, r *http.Request) {
	b, err := s.contexts.Refresh(r.Context())
	if err != nil {
		respondJSON(w, http.StatusBadGateway, map[string]any{
			"error":    err.Error(),
			"fallback": s.contexts.Get(r.Context()),
		})
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"business":   b,
		"fetched_at": s.contexts.FetchedAt(),
	})
}

func (s *Server) handleTestBackend(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	if err := s.bridge.Probe(ctx); err != nil {
		respondJSON(w, http.StatusBadGateway, map[string]any{
			"backend": s.bridge.BackendName(),
			"error":   err.Error(),
		})
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"backend": s.bridge.BackendName(),
		"status":  "reachable",
	})
}

func (s *Server) handleRecentCalls(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := strings.TrimSpace(r.URL.Query().Get("limit")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 200 {
			respondError(w, http.StatusBadRequest, "invalid_limit", "limit must be between 1 and 200")
			return
		}
		limit = n
	}

	records, err := s.calls.RecentCalls(r.Context(), limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "store_failed", err.Error())
		return
	}
	if records == nil {
		records = []calllog.Record{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"calls": records})
}

// handleMediaStream is the provider-facing websocket. One connection is one
// call; the bridge owns the backend leg and both relay directions.
func (s *Server) handleMediaStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	call := s.sessions.Create(s.bridge.BackendName())
	if s.metrics != nil {
		s.metrics.CallEvents.WithLabelValues("ws_connected").Inc()
	}
	log.Printf("call %s: media stream websocket connected from %s", call.ID, r.RemoteAddr)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	inbound := make(chan any, 256)
	outbound := make(chan any, 256)
	runDone := make(chan struct{})

	go func() {
		defer close(runDone)
		if err := s.bridge.Run(ctx, call, inbound, outbound); err != nil {
			log.Printf("call %s: bridge: %v", call.ID, err)
		}
	}()

	// Backend-side termination must hang up the caller too. The read loop
	// below blocks in ReadMessage until its socket dies, so when the bridge
	// finishes first (backend disconnect, handshake failure) close the
	// telephony leg from here.
	go func() {
		<-runDone
		cancel()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = conn.Close()
	}()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-outbound:
				if !ok {
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
				if err := conn.WriteJSON(msg); err != nil {
					cancel()
					return
				}
			}
		}
	}()

	conn.SetReadLimit(1 << 20)

readLoop:
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil && !reliability.IsExpectedCloseError(err) {
				log.Printf("call %s: media stream read: %v", call.ID, err)
			}
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}
		parsed, err := telephony.Parse(data)
		if err != nil {
			// Unknown events are protocol-legal and skipped; malformed frames
			// are logged and skipped without dropping the stream.
			if !errors.Is(err, telephony.ErrUnknownEvent) {
				log.Printf("call %s: bad media stream frame: %v", call.ID, err)
			}
			continue
		}
		select {
		case <-ctx.Done():
			break readLoop
		case inbound <- parsed:
		}
	}

	cancel()
	close(inbound)
	<-runDone
	<-writerDone
	if s.metrics != nil {
		s.metrics.CallEvents.WithLabelValues("ws_disconnected").Inc()
	}
	log.Printf("call %s: media stream websocket closed", call.ID)
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
