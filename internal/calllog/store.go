package calllog

import (
	"context"
	"strings"
	"time"
)

// Record is one call detail record. No transcript or audio content is ever
// stored, only connection-level facts.
type Record struct {
	ID               string    `json:"id"`
	CallSid          string    `json:"call_sid,omitempty"`
	StreamSid        string    `json:"stream_sid,omitempty"`
	Backend          string    `json:"backend"`
	StartedAt        time.Time `json:"started_at"`
	EndedAt          time.Time `json:"ended_at"`
	DurationMS       int64     `json:"duration_ms"`
	Interruptions    int       `json:"interruptions"`
	FramesIn         int64     `json:"frames_in"`
	FramesOut        int64     `json:"frames_out"`
	DisconnectReason string    `json:"disconnect_reason"`
}

// Store persists call detail records.
type Store interface {
	SaveCall(ctx context.Context, record Record) error
	RecentCalls(ctx context.Context, limit int) ([]Record, error)
	Close() error
}

// NewStore creates a postgres-backed store when configured, otherwise in-memory.
func NewStore(ctx context.Context, databaseURL string) (Store, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return NewInMemoryStore(), nil
	}
	return NewPostgresStore(ctx, databaseURL)
}
