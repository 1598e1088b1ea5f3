package session

import (
	"context"
	"testing"
	"time"
)

func TestManagerCreateBindEnd(t *testing.T) {
	m := NewManager(time.Minute)
	c := m.Create("openai")
	if c.ID == "" {
		t.Fatalf("call ID should not be empty")
	}
	if c.StreamSid != "" {
		t.Fatalf("StreamSid = %q, want empty before the start event", c.StreamSid)
	}

	if err := m.BindStream(c.ID, "MZ1", "CA1"); err != nil {
		t.Fatalf("BindStream() error = %v", err)
	}
	got, err := m.Get(c.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.StreamSid != "MZ1" || got.CallSid != "CA1" {
		t.Fatalf("unexpected call state: %+v", got)
	}

	ended, err := m.End(c.ID)
	if err != nil {
		t.Fatalf("End() error = %v", err)
	}
	if ended.Status != StatusEnded {
		t.Fatalf("ended status = %q, want %q", ended.Status, StatusEnded)
	}
}

func TestManagerBindStreamRejectsRebinding(t *testing.T) {
	m := NewManager(time.Minute)
	c := m.Create("elevenlabs")
	if err := m.BindStream(c.ID, "MZ1", ""); err != nil {
		t.Fatalf("BindStream() error = %v", err)
	}
	// Rebinding with the same sid is allowed; a different sid is not.
	if err := m.BindStream(c.ID, "MZ1", ""); err != nil {
		t.Fatalf("BindStream(same sid) error = %v", err)
	}
	if err := m.BindStream(c.ID, "MZ2", ""); err == nil {
		t.Fatalf("BindStream(different sid) should fail")
	}
}

func TestManagerEndIsSafeToRepeat(t *testing.T) {
	m := NewManager(time.Minute)
	c := m.Create("mock")
	if _, err := m.End(c.ID); err != nil {
		t.Fatalf("End() error = %v", err)
	}
	if _, err := m.End(c.ID); err != ErrNotFound {
		t.Fatalf("second End() error = %v, want ErrNotFound", err)
	}
	if m.ActiveCount() != 0 {
		t.Fatalf("ActiveCount() = %d, want 0", m.ActiveCount())
	}
}

func TestManagerInterruptCounts(t *testing.T) {
	m := NewManager(time.Minute)
	c := m.Create("openai")
	if err := m.Interrupt(c.ID); err != nil {
		t.Fatalf("Interrupt() error = %v", err)
	}
	if err := m.Interrupt(c.ID); err != nil {
		t.Fatalf("Interrupt() error = %v", err)
	}
	got, err := m.Get(c.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.InterruptionCount != 2 {
		t.Fatalf("InterruptionCount = %d, want 2", got.InterruptionCount)
	}
}

func TestManagerJanitorExpiresInactive(t *testing.T) {
	m := NewManager(30 * time.Millisecond)
	c := m.Create("mock")

	expired := make(chan *Call, 1)
	m.SetExpireHook(func(c *Call) { expired <- c })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.StartJanitor(ctx, 10*time.Millisecond)

	select {
	case e := <-expired:
		if e.ID != c.ID {
			t.Fatalf("expired call = %q, want %q", e.ID, c.ID)
		}
	case <-time.After(time.Second):
		t.Fatalf("janitor did not expire the inactive call")
	}
	if _, err := m.Get(c.ID); err != ErrNotFound {
		t.Fatalf("Get() after expiry error = %v, want ErrNotFound", err)
	}
}
