package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/tricreative/voicebridge/internal/audio"
	"github.com/tricreative/voicebridge/internal/reliability"
)

// OpenAIConfig configures the realtime-session protocol family.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Voice   string
}

// OpenAIDriver speaks the realtime session protocol: session.update,
// input_audio_buffer.append, response.audio.delta and friends. The session is
// negotiated with g711_ulaw on both directions, so no sample conversion is
// needed on either leg.
type OpenAIDriver struct {
	cfg OpenAIConfig
}

func NewOpenAIDriver(cfg OpenAIConfig) *OpenAIDriver {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = "wss://api.openai.com"
	}
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = "gpt-4o-realtime-preview"
	}
	if strings.TrimSpace(cfg.Voice) == "" {
		cfg.Voice = "alloy"
	}
	return &OpenAIDriver{cfg: cfg}
}

func (d *OpenAIDriver) Name() string { return "openai" }

func (d *OpenAIDriver) Codec() audio.Codec { return audio.PassThrough{} }

func (d *OpenAIDriver) Dial(ctx context.Context) (Conn, error) {
	u, err := url.Parse(strings.TrimRight(d.cfg.BaseURL, "/") + "/v1/realtime")
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("model", d.cfg.Model)
	u.RawQuery = q.Encode()

	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+d.cfg.APIKey)
	headers.Set("OpenAI-Beta", "realtime=v1")

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), headers)
	if err != nil {
		return nil, fmt.Errorf("dial realtime websocket: %w", err)
	}

	c := &openaiConn{conn: conn, voice: d.cfg.Voice, events: make(chan Event, 256)}
	go c.readLoop()
	return c, nil
}

type openaiConn struct {
	conn      *websocket.Conn
	voice     string
	writeMu   sync.Mutex
	closeOnce sync.Once
	events    chan Event
}

func (c *openaiConn) SendSessionConfig(_ context.Context, cfg SessionConfig) error {
	voice := cfg.Voice
	if strings.TrimSpace(voice) == "" {
		voice = c.voice
	}
	inputFormat := cfg.InputFormat
	if inputFormat == "" {
		inputFormat = "g711_ulaw"
	}
	outputFormat := cfg.OutputFormat
	if outputFormat == "" {
		outputFormat = "g711_ulaw"
	}
	threshold := cfg.VADThreshold
	if threshold <= 0 {
		threshold = 0.5
	}
	prefixPadding := cfg.PrefixPaddingMS
	if prefixPadding <= 0 {
		prefixPadding = 300
	}
	silence := cfg.SilenceDurationMS
	if silence <= 0 {
		silence = 500
	}

	session := map[string]any{
		"modalities":          []string{"audio", "text"},
		"voice":               voice,
		"instructions":        cfg.Instructions,
		"input_audio_format":  inputFormat,
		"output_audio_format": outputFormat,
		"turn_detection": map[string]any{
			"type":                "server_vad",
			"threshold":           threshold,
			"prefix_padding_ms":   prefixPadding,
			"silence_duration_ms": silence,
		},
	}
	if cfg.DeclareContextTool {
		session["tools"] = []map[string]any{
			{
				"type":        "function",
				"name":        ContextToolName,
				"description": "Fetch fresh business details (hours, services, contact info) to answer the caller accurately.",
				"parameters": map[string]any{
					"type":       "object",
					"properties": map[string]any{},
				},
			},
		}
		session["tool_choice"] = "auto"
	}

	return c.writeJSON(map[string]any{"type": "session.update", "session": session})
}

func (c *openaiConn) SendAudio(_ context.Context, audioBase64 string) error {
	return c.writeJSON(map[string]any{
		"type":  "input_audio_buffer.append",
		"audio": audioBase64,
	})
}

// SendToolResult attaches the function output to the conversation and asks
// the backend to continue the interrupted response.
func (c *openaiConn) SendToolResult(_ context.Context, callID, output string) error {
	if err := c.writeJSON(map[string]any{
		"type": "conversation.item.create",
		"item": map[string]any{
			"type":    "function_call_output",
			"call_id": callID,
			"output":  output,
		},
	}); err != nil {
		return err
	}
	return c.writeJSON(map[string]any{"type": "response.create"})
}

// SendPong is a no-op: this family has no application-level keepalive.
func (c *openaiConn) SendPong(_ context.Context, _ string) error { return nil }

func (c *openaiConn) Events() <-chan Event { return c.events }

func (c *openaiConn) Close() error {
	var retErr error
	c.closeOnce.Do(func() {
		retErr = c.conn.Close()
	})
	return retErr
}

func (c *openaiConn) writeJSON(payload map[string]any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(payload)
}

// readLoop is the only sender on events and therefore the only closer, which
// keeps teardown safe no matter which side hangs up first.
func (c *openaiConn) readLoop() {
	defer close(c.events)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if !reliability.IsExpectedCloseError(err) {
				log.Printf("realtime session read: %v", err)
			}
			c.closeOnce.Do(func() { _ = c.conn.Close() })
			return
		}
		evt, ok := translateOpenAIEvent(data)
		if !ok {
			continue
		}
		c.events <- evt
	}
}

// translateOpenAIEvent maps one raw realtime-protocol message onto the
// driver-neutral event union. Unrecognized types return ok=false and are
// silently skipped, which keeps us compatible with minor protocol additions.
func translateOpenAIEvent(raw []byte) (Event, bool) {
	var msg struct {
		Type      string `json:"type"`
		Delta     string `json:"delta"`
		CallID    string `json:"call_id"`
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
		Error     struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(raw, &msg); err != nil {
		return Event{}, false
	}

	switch msg.Type {
	case "session.updated":
		return Event{Type: EventReady, Code: msg.Type}, true
	case "response.audio.delta":
		if msg.Delta == "" {
			return Event{}, false
		}
		return Event{Type: EventAudio, AudioBase64: msg.Delta}, true
	case "input_audio_buffer.speech_started":
		return Event{Type: EventBargeIn, Code: msg.Type}, true
	case "response.function_call_arguments.done":
		return Event{Type: EventToolCall, Tool: ToolCall{
			Name:      msg.Name,
			CallID:    msg.CallID,
			Arguments: msg.Arguments,
		}}, true
	case "error":
		return Event{Type: EventError, Code: msg.Error.Code, Detail: msg.Error.Message}, true
	case "session.created",
		"input_audio_buffer.speech_stopped",
		"input_audio_buffer.committed",
		"conversation.item.created",
		"response.created",
		"response.done",
		"response.audio.done",
		"response.audio_transcript.delta",
		"response.audio_transcript.done",
		"rate_limits.updated":
		return Event{Type: EventInfo, Code: msg.Type}, true
	default:
		return Event{}, false
	}
}
