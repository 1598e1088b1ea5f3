package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/tricreative/voicebridge/internal/audio"
	"github.com/tricreative/voicebridge/internal/reliability"
)

// ElevenLabsConfig configures the conversational-agent protocol family.
type ElevenLabsConfig struct {
	APIKey    string
	WSBaseURL string
	AgentID   string
	VoiceID   string
}

// ElevenLabsDriver speaks the conversational-agent protocol:
// conversation_initiation_client_data, user_audio_chunk, audio_event,
// ping_event/pong. The agent consumes 16-bit linear PCM, so telephony mu-law
// is expanded on the way in and compressed on the way out.
type ElevenLabsDriver struct {
	cfg ElevenLabsConfig
}

func NewElevenLabsDriver(cfg ElevenLabsConfig) *ElevenLabsDriver {
	if strings.TrimSpace(cfg.WSBaseURL) == "" {
		cfg.WSBaseURL = "wss://api.elevenlabs.io"
	}
	return &ElevenLabsDriver{cfg: cfg}
}

func (d *ElevenLabsDriver) Name() string { return "elevenlabs" }

func (d *ElevenLabsDriver) Codec() audio.Codec { return audio.LPCM16{} }

func (d *ElevenLabsDriver) Dial(ctx context.Context) (Conn, error) {
	if strings.TrimSpace(d.cfg.AgentID) == "" {
		return nil, fmt.Errorf("agent_id is required")
	}
	u, err := url.Parse(strings.TrimRight(d.cfg.WSBaseURL, "/") + "/v1/convai/conversation")
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("agent_id", d.cfg.AgentID)
	u.RawQuery = q.Encode()

	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+d.cfg.APIKey)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), headers)
	if err != nil {
		return nil, fmt.Errorf("dial conversation websocket: %w", err)
	}

	c := &elevenConn{conn: conn, voiceID: d.cfg.VoiceID, events: make(chan Event, 256)}
	go c.readLoop()
	return c, nil
}

type elevenConn struct {
	conn      *websocket.Conn
	voiceID   string
	writeMu   sync.Mutex
	closeOnce sync.Once
	events    chan Event
}

func (c *elevenConn) SendSessionConfig(_ context.Context, cfg SessionConfig) error {
	agent := map[string]any{}
	if strings.TrimSpace(cfg.Instructions) != "" {
		agent["prompt"] = map[string]any{"prompt": cfg.Instructions}
	}
	tts := map[string]any{}
	voice := cfg.Voice
	if strings.TrimSpace(voice) == "" {
		voice = c.voiceID
	}
	if strings.TrimSpace(voice) != "" {
		tts["voice_id"] = voice
	}

	return c.writeJSON(map[string]any{
		"type": "conversation_initiation_client_data",
		"conversation_config_override": map[string]any{
			"agent": agent,
			"tts":   tts,
		},
	})
}

func (c *elevenConn) SendAudio(_ context.Context, audioBase64 string) error {
	return c.writeJSON(map[string]any{
		"type":             "user_audio_chunk",
		"user_audio_chunk": audioBase64,
	})
}

func (c *elevenConn) SendToolResult(_ context.Context, callID, output string) error {
	return c.writeJSON(map[string]any{
		"type":         "client_tool_result",
		"tool_call_id": callID,
		"result":       output,
		"is_error":     false,
	})
}

func (c *elevenConn) SendPong(_ context.Context, pingID string) error {
	// The agent correlates pongs by numeric event id.
	if n, err := strconv.Atoi(pingID); err == nil {
		return c.writeJSON(map[string]any{"type": "pong", "event_id": n})
	}
	return c.writeJSON(map[string]any{"type": "pong", "event_id": pingID})
}

func (c *elevenConn) Events() <-chan Event { return c.events }

func (c *elevenConn) Close() error {
	var retErr error
	c.closeOnce.Do(func() {
		retErr = c.conn.Close()
	})
	return retErr
}

func (c *elevenConn) writeJSON(payload map[string]any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(payload)
}

// readLoop is the only sender on events and therefore the only closer.
func (c *elevenConn) readLoop() {
	defer close(c.events)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if !reliability.IsExpectedCloseError(err) {
				log.Printf("conversation read: %v", err)
			}
			c.closeOnce.Do(func() { _ = c.conn.Close() })
			return
		}
		evt, ok := translateElevenLabsEvent(data)
		if !ok {
			continue
		}
		c.events <- evt
	}
}

// translateElevenLabsEvent maps one raw conversational-agent message onto the
// driver-neutral event union. Unrecognized types return ok=false.
func translateElevenLabsEvent(raw []byte) (Event, bool) {
	var msg struct {
		Type       string `json:"type"`
		AudioEvent struct {
			AudioBase64 string `json:"audio_base_64"`
			EventID     int    `json:"event_id"`
		} `json:"audio_event"`
		PingEvent struct {
			EventID int `json:"event_id"`
		} `json:"ping_event"`
		ClientToolCall struct {
			ToolName   string          `json:"tool_name"`
			ToolCallID string          `json:"tool_call_id"`
			Parameters json.RawMessage `json:"parameters"`
		} `json:"client_tool_call"`
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &msg); err != nil {
		return Event{}, false
	}

	switch msg.Type {
	case "conversation_initiation_metadata":
		return Event{Type: EventReady, Code: msg.Type}, true
	case "audio":
		if msg.AudioEvent.AudioBase64 == "" {
			return Event{}, false
		}
		return Event{Type: EventAudio, AudioBase64: msg.AudioEvent.AudioBase64}, true
	case "interruption":
		return Event{Type: EventBargeIn, Code: msg.Type}, true
	case "ping":
		return Event{Type: EventPing, PingID: strconv.Itoa(msg.PingEvent.EventID)}, true
	case "client_tool_call":
		return Event{Type: EventToolCall, Tool: ToolCall{
			Name:      msg.ClientToolCall.ToolName,
			CallID:    msg.ClientToolCall.ToolCallID,
			Arguments: string(msg.ClientToolCall.Parameters),
		}}, true
	case "error", "internal_error":
		return Event{Type: EventError, Code: msg.Type, Detail: msg.Error}, true
	case "user_transcript",
		"agent_response",
		"agent_response_correction",
		"internal_tentative_agent_response",
		"vad_score":
		return Event{Type: EventInfo, Code: msg.Type}, true
	default:
		return Event{}, false
	}
}
