package backend

import (
	"context"

	"github.com/tricreative/voicebridge/internal/audio"
)

// SessionConfig is the one-time handshake payload sent to the AI backend.
// Immutable once sent; mid-call updates are not part of either protocol
// family we speak.
type SessionConfig struct {
	Voice        string
	Instructions string
	// InputFormat/OutputFormat override the driver's native sample formats
	// when set. Drivers fill in their defaults otherwise.
	InputFormat  string
	OutputFormat string

	// Server-side voice activity detection knobs.
	VADThreshold      float64
	PrefixPaddingMS   int
	SilenceDurationMS int

	// DeclareContextTool declares a function the backend may invoke mid-call
	// to request fresh business context.
	DeclareContextTool bool
}

// ContextToolName is the tool both drivers declare when
// SessionConfig.DeclareContextTool is set.
const ContextToolName = "get_business_context"

// EventType tags inbound backend events after protocol translation.
type EventType string

const (
	// EventReady is the backend's handshake acknowledgement.
	EventReady EventType = "ready"
	// EventAudio carries one base64 chunk of synthesized speech.
	EventAudio EventType = "audio"
	// EventBargeIn signals the backend detected the caller speaking over the
	// agent; queued playback must be purged.
	EventBargeIn EventType = "barge_in"
	// EventToolCall asks us to run a declared tool and send the result back.
	EventToolCall EventType = "tool_call"
	// EventPing is a keepalive that must be answered with a pong carrying the
	// same correlation id.
	EventPing EventType = "ping"
	// EventInfo covers transcripts, session notices and other events that are
	// logged but never forwarded to the telephony leg.
	EventInfo EventType = "info"
	// EventError is an in-band backend error. Not session-fatal by itself.
	EventError EventType = "error"
)

type ToolCall struct {
	Name      string
	CallID    string
	Arguments string
}

// Event is the tagged union of everything a backend connection can emit.
type Event struct {
	Type        EventType
	AudioBase64 string
	Tool        ToolCall
	PingID      string
	Code        string
	Detail      string
}

// Conn is one live backend websocket. Its Events channel closes on transport
// failure or remote close; that close is the only transport-level error
// signal the relay needs.
type Conn interface {
	SendSessionConfig(ctx context.Context, cfg SessionConfig) error
	SendAudio(ctx context.Context, audioBase64 string) error
	SendToolResult(ctx context.Context, callID, output string) error
	SendPong(ctx context.Context, pingID string) error
	Events() <-chan Event
	Close() error
}

// Driver dials one protocol family. The relay and negotiator depend only on
// this interface, never on family-specific event strings.
type Driver interface {
	Name() string
	// Codec converts telephony audio to the sample format this family's
	// handshake negotiates, and back.
	Codec() audio.Codec
	Dial(ctx context.Context) (Conn, error)
}
