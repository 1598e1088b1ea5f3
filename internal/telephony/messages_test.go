package telephony

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestParseStartNestedStreamSid(t *testing.T) {
	raw := []byte(`{"event":"start","sequenceNumber":"1","start":{"streamSid":"MZ123","accountSid":"AC1","callSid":"CA1","mediaFormat":{"encoding":"audio/x-mulaw","sampleRate":8000,"channels":1}}}`)
	parsed, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	msg, ok := parsed.(StartMessage)
	if !ok {
		t.Fatalf("Parse() returned %T, want StartMessage", parsed)
	}
	if got := msg.StreamSidValue(); got != "MZ123" {
		t.Fatalf("StreamSidValue() = %q, want %q", got, "MZ123")
	}
	if msg.Start.CallSid != "CA1" {
		t.Fatalf("CallSid = %q, want %q", msg.Start.CallSid, "CA1")
	}
}

func TestParseStartTopLevelStreamSid(t *testing.T) {
	raw := []byte(`{"event":"start","streamSid":"MZ456","start":{}}`)
	parsed, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	msg := parsed.(StartMessage)
	if got := msg.StreamSidValue(); got != "MZ456" {
		t.Fatalf("StreamSidValue() = %q, want %q", got, "MZ456")
	}
}

func TestParseMedia(t *testing.T) {
	raw := []byte(`{"event":"media","streamSid":"MZ123","media":{"track":"inbound","chunk":"2","timestamp":"40","payload":"//8A"}}`)
	parsed, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	msg, ok := parsed.(MediaMessage)
	if !ok {
		t.Fatalf("Parse() returned %T, want MediaMessage", parsed)
	}
	if msg.Media.Payload != "//8A" {
		t.Fatalf("payload = %q, want %q", msg.Media.Payload, "//8A")
	}
}

func TestParseMediaWithoutPayload(t *testing.T) {
	if _, err := Parse([]byte(`{"event":"media","media":{}}`)); err == nil {
		t.Fatalf("Parse() should reject media without payload")
	}
}

func TestParseUnknownEvent(t *testing.T) {
	_, err := Parse([]byte(`{"event":"telemetry","detail":"new hotness"}`))
	if !errors.Is(err, ErrUnknownEvent) {
		t.Fatalf("Parse() error = %v, want ErrUnknownEvent", err)
	}
}

func TestParseStopAndDTMF(t *testing.T) {
	parsed, err := Parse([]byte(`{"event":"stop","streamSid":"MZ1","stop":{"callSid":"CA1"}}`))
	if err != nil {
		t.Fatalf("Parse(stop) error = %v", err)
	}
	if _, ok := parsed.(StopMessage); !ok {
		t.Fatalf("Parse(stop) returned %T, want StopMessage", parsed)
	}

	parsed, err = Parse([]byte(`{"event":"dtmf","streamSid":"MZ1","dtmf":{"track":"inbound_track","digit":"5"}}`))
	if err != nil {
		t.Fatalf("Parse(dtmf) error = %v", err)
	}
	dtmf, ok := parsed.(DTMFMessage)
	if !ok {
		t.Fatalf("Parse(dtmf) returned %T, want DTMFMessage", parsed)
	}
	if dtmf.DTMF.Digit != "5" {
		t.Fatalf("digit = %q, want %q", dtmf.DTMF.Digit, "5")
	}
}

func TestOutboundMediaWireShape(t *testing.T) {
	out, err := json.Marshal(NewMedia("MZ123", "AAAA"))
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	want := `{"event":"media","streamSid":"MZ123","media":{"payload":"AAAA"}}`
	if string(out) != want {
		t.Fatalf("outbound media = %s, want %s", out, want)
	}
}

func TestOutboundClearWireShape(t *testing.T) {
	out, err := json.Marshal(NewClear("MZ123"))
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	want := `{"event":"clear","streamSid":"MZ123"}`
	if string(out) != want {
		t.Fatalf("outbound clear = %s, want %s", out, want)
	}
}
