package bridge

import (
	"context"
	"encoding/base64"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/tricreative/voicebridge/internal/backend"
	"github.com/tricreative/voicebridge/internal/business"
	"github.com/tricreative/voicebridge/internal/calllog"
	"github.com/tricreative/voicebridge/internal/observability"
	"github.com/tricreative/voicebridge/internal/reliability"
	"github.com/tricreative/voicebridge/internal/session"
	"github.com/tricreative/voicebridge/internal/telephony"
)

// Disconnect reasons recorded on the call log.
const (
	ReasonCallerHangup      = "caller_hangup"
	ReasonBackendDisconnect = "backend_disconnect"
	ReasonHandshakeFailed   = "handshake_failed"
	ReasonShutdown          = "shutdown"
)

type Config struct {
	// SettleDelay is the pause between opening the backend socket and sending
	// the session configuration.
	SettleDelay      time.Duration
	HandshakeTimeout time.Duration

	Voice             string
	VADThreshold      float64
	PrefixPaddingMS   int
	SilenceDurationMS int
}

// Bridge pairs one telephony media stream with one AI backend session and
// relays audio both ways. One Bridge serves all calls; per-call state lives in
// the relay started by Run.
type Bridge struct {
	driver   backend.Driver
	contexts *business.Cache
	sessions *session.Manager
	calls    calllog.Store
	metrics  *observability.Metrics
	cfg      Config
}

func New(driver backend.Driver, contexts *business.Cache, sessions *session.Manager, calls calllog.Store, metrics *observability.Metrics, cfg Config) *Bridge {
	return &Bridge{
		driver:   driver,
		contexts: contexts,
		sessions: sessions,
		calls:    calls,
		metrics:  metrics,
		cfg:      cfg,
	}
}

// BackendName reports which driver the bridge dials.
func (b *Bridge) BackendName() string { return b.driver.Name() }

// Probe dials the backend and tears the connection straight down. Used by the
// diagnostic endpoint to verify credentials and reachability.
func (b *Bridge) Probe(ctx context.Context) error {
	conn, err := b.driver.Dial(ctx)
	if err != nil {
		return fmt.Errorf("dial %s: %w", b.driver.Name(), err)
	}
	return conn.Close()
}

// relay is the per-call state machine. All fields are owned by the Run
// goroutine; the tool-call handler runs concurrently but only touches the
// backend connection and the context cache.
type relay struct {
	b    *Bridge
	call *session.Call
	conn backend.Conn
	neg  *Negotiator

	outbound chan<- any

	streamSid     string
	stopped       bool
	reason        string
	framesIn      int64
	framesOut     int64
	interruptions int
}

// Run drives one call to completion. It consumes parsed telephony messages
// from inbound and emits outbound telephony frames; it returns when either
// leg closes, the handshake fails, or ctx is cancelled. The caller owns both
// channels and the websocket they front.
func (b *Bridge) Run(ctx context.Context, call *session.Call, inbound <-chan any, outbound chan<- any) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	conn, err := b.driver.Dial(ctx)
	if err != nil {
		_, _ = b.sessions.End(call.ID)
		b.saveRecord(call, 0, 0, 0, "backend_dial_failed")
		return fmt.Errorf("dial backend %s: %w", b.driver.Name(), err)
	}

	if b.metrics != nil {
		b.metrics.ActiveCalls.Inc()
		defer b.metrics.ActiveCalls.Dec()
		b.metrics.CallEvents.WithLabelValues("started").Inc()
	}
	log.Printf("call %s: backend %s connected", call.ID, b.driver.Name())

	r := &relay{
		b:        b,
		call:     call,
		conn:     conn,
		neg:      NewNegotiator(b.cfg.SettleDelay, b.cfg.HandshakeTimeout),
		outbound: outbound,
	}

	sessCfg := backend.SessionConfig{
		Voice:              b.cfg.Voice,
		Instructions:       b.contexts.Instructions(ctx),
		VADThreshold:       b.cfg.VADThreshold,
		PrefixPaddingMS:    b.cfg.PrefixPaddingMS,
		SilenceDurationMS:  b.cfg.SilenceDurationMS,
		DeclareContextTool: true,
	}
	go func() {
		if err := r.neg.Run(ctx, conn, sessCfg); err != nil {
			log.Printf("call %s: handshake: %v", call.ID, err)
		}
	}()

	var closeOnce sync.Once
	finish := func() {
		closeOnce.Do(func() {
			cancel()
			if err := conn.Close(); err != nil {
				log.Printf("call %s: backend close: %v", call.ID, err)
			}
			if ended, err := b.sessions.End(call.ID); err == nil {
				r.interruptions = ended.InterruptionCount
			}
			b.saveRecord(call, r.framesIn, r.framesOut, r.interruptions, r.reason)
			if b.metrics != nil {
				b.metrics.CallEvents.WithLabelValues("ended").Inc()
			}
			log.Printf("call %s: ended (%s, %d frames in, %d out)", call.ID, r.reason, r.framesIn, r.framesOut)
		})
	}
	defer finish()

	negDone := r.neg.Done()
	events := conn.Events()
	for {
		select {
		case <-ctx.Done():
			if r.reason == "" {
				r.reason = ReasonShutdown
			}
			return nil

		case <-negDone:
			if err := r.neg.Err(); err != nil {
				r.reason = ReasonHandshakeFailed
				return err
			}
			// Ready; stop watching.
			negDone = nil
			b.metrics.ObserveHandshakeLatency(r.neg.HandshakeLatency())
			log.Printf("call %s: backend session ready after %s", call.ID, r.neg.HandshakeLatency().Round(time.Millisecond))

		case msg, ok := <-inbound:
			if !ok {
				if r.reason == "" {
					r.reason = ReasonCallerHangup
				}
				return nil
			}
			r.handleTelephony(ctx, msg)

		case evt, ok := <-events:
			if !ok {
				if r.reason == "" {
					r.reason = ReasonBackendDisconnect
				}
				return nil
			}
			r.handleBackend(ctx, evt)
		}
	}
}

func (r *relay) handleTelephony(ctx context.Context, msg any) {
	switch m := msg.(type) {
	case telephony.ConnectedMessage:
		log.Printf("call %s: media stream connected (protocol %s)", r.call.ID, m.Protocol)

	case telephony.StartMessage:
		sid := m.StreamSidValue()
		if sid == "" {
			// Tolerated; outbound audio stays gated until a sid binds.
			log.Printf("call %s: start event without streamSid", r.call.ID)
			return
		}
		if err := r.b.sessions.BindStream(r.call.ID, sid, m.Start.CallSid); err != nil {
			log.Printf("call %s: bind stream %s: %v", r.call.ID, sid, err)
			return
		}
		r.streamSid = sid
		r.call.StreamSid = sid
		r.call.CallSid = m.Start.CallSid
		if r.b.metrics != nil {
			r.b.metrics.CallEvents.WithLabelValues("stream_started").Inc()
		}
		log.Printf("call %s: stream %s started (callSid %s)", r.call.ID, sid, m.Start.CallSid)

	case telephony.MediaMessage:
		r.forwardCallerAudio(ctx, m.Media.Payload)

	case telephony.StopMessage:
		r.stopped = true
		r.reason = ReasonCallerHangup
		if r.b.metrics != nil {
			r.b.metrics.CallEvents.WithLabelValues("stream_stopped").Inc()
		}
		log.Printf("call %s: stream stopped", r.call.ID)

	case telephony.MarkMessage:
		log.Printf("call %s: mark %q acknowledged", r.call.ID, m.Mark.Name)

	case telephony.DTMFMessage:
		log.Printf("call %s: dtmf digit %q", r.call.ID, m.DTMF.Digit)
		if r.b.metrics != nil {
			r.b.metrics.CallEvents.WithLabelValues("dtmf").Inc()
		}

	default:
		log.Printf("call %s: unhandled telephony message %T", r.call.ID, msg)
	}
}

// forwardCallerAudio transcodes one caller frame and appends it to the
// backend. Frames arriving before the handshake settles are dropped, never
// buffered; malformed frames are dropped without ending the call.
func (r *relay) forwardCallerAudio(ctx context.Context, payloadBase64 string) {
	if !r.neg.Ready() {
		r.drop("handshake_pending")
		return
	}
	if r.stopped {
		r.drop("stream_stopped")
		return
	}

	raw, err := base64.StdEncoding.DecodeString(payloadBase64)
	if err != nil {
		r.drop("malformed")
		return
	}
	encoded, err := r.b.driver.Codec().EncodeForBackend(raw)
	if err != nil {
		r.drop("malformed")
		return
	}

	if err := r.conn.SendAudio(ctx, base64.StdEncoding.EncodeToString(encoded)); err != nil {
		r.drop("backend_write_failed")
		log.Printf("call %s: forward audio: %v", r.call.ID, err)
		return
	}
	r.framesIn++
	if r.b.metrics != nil {
		r.b.metrics.FramesForwarded.WithLabelValues("to_backend").Inc()
	}
	_ = r.b.sessions.Touch(r.call.ID)
}

func (r *relay) handleBackend(ctx context.Context, evt backend.Event) {
	if r.b.metrics != nil {
		r.b.metrics.BackendEvents.WithLabelValues(string(evt.Type)).Inc()
	}

	switch evt.Type {
	case backend.EventReady:
		r.neg.Acknowledge()

	case backend.EventAudio:
		r.forwardAgentAudio(ctx, evt.AudioBase64)

	case backend.EventBargeIn:
		_ = r.b.sessions.Interrupt(r.call.ID)
		if r.b.metrics != nil {
			r.b.metrics.BargeIns.Inc()
		}
		if r.streamSid != "" {
			r.emit(ctx, telephony.NewClear(r.streamSid))
		}
		log.Printf("call %s: barge-in, purging queued audio", r.call.ID)

	case backend.EventToolCall:
		go r.runTool(ctx, evt.Tool)

	case backend.EventPing:
		if err := r.conn.SendPong(ctx, evt.PingID); err != nil {
			log.Printf("call %s: pong: %v", r.call.ID, err)
		}

	case backend.EventInfo:
		if evt.Detail != "" {
			log.Printf("call %s: backend %s: %s", r.call.ID, evt.Code, evt.Detail)
		}

	case backend.EventError:
		// In-band provider errors are logged and counted, not session-fatal.
		retryable := reliability.IsRetryableBackendCode(evt.Code)
		if retryable {
			log.Printf("call %s: transient backend error %s: %s", r.call.ID, evt.Code, evt.Detail)
		} else {
			log.Printf("call %s: backend error %s: %s", r.call.ID, evt.Code, evt.Detail)
		}
		if r.b.metrics != nil {
			r.b.metrics.ProviderErrors.WithLabelValues(r.b.driver.Name(), evt.Code, strconv.FormatBool(retryable)).Inc()
		}
	}
}

// forwardAgentAudio transcodes one agent frame back to the telephony leg.
// Frames are dropped while no stream is bound or after the caller stopped.
func (r *relay) forwardAgentAudio(ctx context.Context, audioBase64 string) {
	if r.stopped {
		r.drop("stream_stopped")
		return
	}
	if r.streamSid == "" {
		r.drop("stream_unbound")
		return
	}

	raw, err := base64.StdEncoding.DecodeString(audioBase64)
	if err != nil {
		r.drop("malformed")
		return
	}
	decoded, err := r.b.driver.Codec().DecodeFromBackend(raw)
	if err != nil {
		r.drop("malformed")
		return
	}

	r.emit(ctx, telephony.NewMedia(r.streamSid, base64.StdEncoding.EncodeToString(decoded)))
	r.framesOut++
	if r.b.metrics != nil {
		r.b.metrics.FramesForwarded.WithLabelValues("to_caller").Inc()
	}
}

func (r *relay) emit(ctx context.Context, msg any) {
	select {
	case r.outbound <- msg:
	case <-ctx.Done():
	}
}

// runTool answers a backend tool invocation. The only declared tool returns
// refreshed business context; anything else gets an explicit failure result
// so the model can recover.
func (r *relay) runTool(ctx context.Context, call backend.ToolCall) {
	var output string
	if call.Name == backend.ContextToolName {
		if _, err := r.b.contexts.Refresh(ctx); err != nil {
			log.Printf("call %s: context refresh for tool call: %v", r.call.ID, err)
		}
		output = r.b.contexts.Instructions(ctx)
	} else {
		log.Printf("call %s: unknown tool %q requested", r.call.ID, call.Name)
		output = fmt.Sprintf("tool %q is not available", call.Name)
	}

	if err := r.conn.SendToolResult(ctx, call.CallID, output); err != nil {
		log.Printf("call %s: tool result: %v", r.call.ID, err)
	}
}

func (r *relay) drop(reason string) {
	if r.b.metrics != nil {
		r.b.metrics.FramesDropped.WithLabelValues(reason).Inc()
	}
}

func (b *Bridge) saveRecord(call *session.Call, framesIn, framesOut int64, interruptions int, reason string) {
	if b.calls == nil {
		return
	}
	now := time.Now().UTC()
	rec := calllog.Record{
		ID:               call.ID,
		CallSid:          call.CallSid,
		StreamSid:        call.StreamSid,
		Backend:          b.driver.Name(),
		StartedAt:        call.StartedAt,
		EndedAt:          now,
		DurationMS:       now.Sub(call.StartedAt).Milliseconds(),
		Interruptions:    interruptions,
		FramesIn:         framesIn,
		FramesOut:        framesOut,
		DisconnectReason: reason,
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := b.calls.SaveCall(ctx, rec); err != nil {
		log.Printf("call %s: save call record: %v", call.ID, err)
	}
}
