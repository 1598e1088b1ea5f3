package backend

import (
	"context"
	"sync"

	"github.com/tricreative/voicebridge/internal/audio"
)

// MockDriver is an in-process backend used when no API key is configured and
// by tests. It acknowledges the handshake immediately and echoes caller audio
// back as agent speech.
type MockDriver struct{}

func NewMockDriver() *MockDriver { return &MockDriver{} }

func (d *MockDriver) Name() string { return "mock" }

func (d *MockDriver) Codec() audio.Codec { return audio.PassThrough{} }

func (d *MockDriver) Dial(_ context.Context) (Conn, error) {
	c := NewMockConn()
	c.AutoAck = true
	c.Echo = true
	return c, nil
}

// SentMessage records one outbound write for test assertions.
type SentMessage struct {
	Kind    string // session_config, audio, tool_result, pong
	Payload string
}

// MockConn is a scriptable backend connection. Tests drive it with Emit and
// inspect writes with Sent.
type MockConn struct {
	// AutoAck makes SendSessionConfig emit the handshake ack immediately.
	AutoAck bool
	// Echo reflects every audio append back as an audio event.
	Echo bool

	mu         sync.Mutex
	closed     bool
	closeCalls int
	sent       []SentMessage
	configs    []SessionConfig
	events     chan Event
}

func NewMockConn() *MockConn {
	return &MockConn{events: make(chan Event, 512)}
}

func (c *MockConn) SendSessionConfig(_ context.Context, cfg SessionConfig) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.configs = append(c.configs, cfg)
	c.sent = append(c.sent, SentMessage{Kind: "session_config", Payload: cfg.Instructions})
	if c.AutoAck && !c.closed {
		c.events <- Event{Type: EventReady, Code: "mock_ack"}
	}
	return nil
}

func (c *MockConn) SendAudio(_ context.Context, audioBase64 string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, SentMessage{Kind: "audio", Payload: audioBase64})
	if c.Echo && !c.closed {
		select {
		case c.events <- Event{Type: EventAudio, AudioBase64: audioBase64}:
		default:
		}
	}
	return nil
}

func (c *MockConn) SendToolResult(_ context.Context, callID, output string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, SentMessage{Kind: "tool_result", Payload: callID + ":" + output})
	return nil
}

func (c *MockConn) SendPong(_ context.Context, pingID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, SentMessage{Kind: "pong", Payload: pingID})
	return nil
}

func (c *MockConn) Events() <-chan Event { return c.events }

func (c *MockConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeCalls++
	if !c.closed {
		c.closed = true
		close(c.events)
	}
	return nil
}

// Emit injects a backend event, as if it arrived from the remote side.
func (c *MockConn) Emit(evt Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.events <- evt
}

// Sent returns a copy of everything written so far.
func (c *MockConn) Sent() []SentMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]SentMessage, len(c.sent))
	copy(out, c.sent)
	return out
}

// SentOfKind filters Sent by message kind.
func (c *MockConn) SentOfKind(kind string) []SentMessage {
	var out []SentMessage
	for _, m := range c.Sent() {
		if m.Kind == kind {
			out = append(out, m)
		}
	}
	return out
}

// Configs returns every session configuration sent.
func (c *MockConn) Configs() []SessionConfig {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]SessionConfig, len(c.configs))
	copy(out, c.configs)
	return out
}

// CloseCalls reports how many times Close was invoked.
func (c *MockConn) CloseCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCalls
}

// Closed reports whether the connection was torn down.
func (c *MockConn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
