package bridge

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/tricreative/voicebridge/internal/backend"
)

var (
	// ErrHandshakeTimeout means the backend never acknowledged the session
	// configuration within the deadline.
	ErrHandshakeTimeout = errors.New("backend handshake timed out")
	// ErrHandshakeFailed means the backend rejected the session configuration
	// or the transport dropped before acknowledgement.
	ErrHandshakeFailed = errors.New("backend handshake failed")
)

// State tracks handshake progress with a backend session.
type State int

const (
	StateConnecting State = iota
	StateHandshakeSent
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateHandshakeSent:
		return "handshake_sent"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Negotiator drives the session handshake with a backend. Until it reports
// Ready, no caller audio may be forwarded; frames arriving early are dropped
// by the relay, never buffered.
type Negotiator struct {
	mu          sync.Mutex
	state       State
	err         error
	sentAt      time.Time
	readyAt     time.Time
	done        chan struct{}
	settleDelay time.Duration
	timeout     time.Duration
}

func NewNegotiator(settleDelay, timeout time.Duration) *Negotiator {
	return &Negotiator{
		done:        make(chan struct{}),
		settleDelay: settleDelay,
		timeout:     timeout,
	}
}

// Run sends the session configuration after the settle delay and then waits
// for acknowledgement or timeout. It returns when the handshake settles
// either way; the relay keeps consuming events concurrently and calls
// Acknowledge when the backend's ack arrives.
func (n *Negotiator) Run(ctx context.Context, conn backend.Conn, cfg backend.SessionConfig) error {
	if n.settleDelay > 0 {
		select {
		case <-time.After(n.settleDelay):
		case <-ctx.Done():
			n.Fail(ctx.Err())
			return ctx.Err()
		case <-n.done:
			return n.Err()
		}
	}

	if err := conn.SendSessionConfig(ctx, cfg); err != nil {
		n.Fail(err)
		return err
	}
	n.markSent()

	timeout := n.timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	select {
	case <-n.done:
		return n.Err()
	case <-ctx.Done():
		n.Fail(ctx.Err())
		return ctx.Err()
	case <-time.After(timeout):
		n.Fail(ErrHandshakeTimeout)
		return ErrHandshakeTimeout
	}
}

func (n *Negotiator) markSent() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.state == StateConnecting {
		n.state = StateHandshakeSent
		n.sentAt = time.Now()
	}
}

// Acknowledge moves the handshake to Ready. Safe to call more than once; the
// first call wins. Acks after failure are ignored.
func (n *Negotiator) Acknowledge() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.state == StateReady || n.state == StateFailed {
		return
	}
	n.state = StateReady
	n.readyAt = time.Now()
	close(n.done)
}

// Fail moves the handshake to Failed with the given cause. The first terminal
// transition wins.
func (n *Negotiator) Fail(err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.state == StateReady || n.state == StateFailed {
		return
	}
	n.state = StateFailed
	if err == nil {
		err = ErrHandshakeFailed
	}
	n.err = err
	close(n.done)
}

// Ready reports whether outbound audio to the backend is permitted.
func (n *Negotiator) Ready() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state == StateReady
}

// Done is closed once the handshake reaches a terminal state.
func (n *Negotiator) Done() <-chan struct{} { return n.done }

// Err returns the failure cause, or nil when Ready.
func (n *Negotiator) Err() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.err
}

// StateNow returns the current handshake state.
func (n *Negotiator) StateNow() State {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}

// HandshakeLatency reports the time between sending the configuration and
// receiving the ack. Zero until Ready.
func (n *Negotiator) HandshakeLatency() time.Duration {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.state != StateReady || n.sentAt.IsZero() {
		return 0
	}
	return n.readyAt.Sub(n.sentAt)
}
