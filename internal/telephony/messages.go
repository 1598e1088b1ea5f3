package telephony

import (
	"encoding/json"
	"errors"
	"fmt"
)

// EventName identifies Media Streams message variants.
type EventName string

const (
	EventConnected EventName = "connected"
	EventStart     EventName = "start"
	EventMedia     EventName = "media"
	EventStop      EventName = "stop"
	EventMark      EventName = "mark"
	EventClear     EventName = "clear"
	EventDTMF      EventName = "dtmf"
)

var ErrUnknownEvent = errors.New("unknown telephony event")

type Envelope struct {
	Event EventName `json:"event"`
}

type MediaFormat struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sampleRate"`
	Channels   int    `json:"channels"`
}

type StartPayload struct {
	StreamSid        string            `json:"streamSid"`
	AccountSid       string            `json:"accountSid"`
	CallSid          string            `json:"callSid"`
	Tracks           []string          `json:"tracks"`
	MediaFormat      MediaFormat       `json:"mediaFormat"`
	CustomParameters map[string]string `json:"customParameters"`
}

type StartMessage struct {
	Event          EventName    `json:"event"`
	SequenceNumber string       `json:"sequenceNumber"`
	StreamSid      string       `json:"streamSid"`
	Start          StartPayload `json:"start"`
}

// StreamSidValue returns the stream identifier from whichever nesting depth
// the provider put it at. Some stacks only populate the top-level field, some
// only the start payload.
func (m StartMessage) StreamSidValue() string {
	if m.Start.StreamSid != "" {
		return m.Start.StreamSid
	}
	return m.StreamSid
}

type MediaPayload struct {
	Track     string `json:"track,omitempty"`
	Chunk     string `json:"chunk,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   string `json:"payload"`
}

type MediaMessage struct {
	Event          EventName    `json:"event"`
	SequenceNumber string       `json:"sequenceNumber,omitempty"`
	StreamSid      string       `json:"streamSid,omitempty"`
	Media          MediaPayload `json:"media"`
}

type StopPayload struct {
	AccountSid string `json:"accountSid"`
	CallSid    string `json:"callSid"`
}

type StopMessage struct {
	Event     EventName   `json:"event"`
	StreamSid string      `json:"streamSid"`
	Stop      StopPayload `json:"stop"`
}

type MarkPayload struct {
	Name string `json:"name"`
}

type MarkMessage struct {
	Event     EventName   `json:"event"`
	StreamSid string      `json:"streamSid"`
	Mark      MarkPayload `json:"mark"`
}

type DTMFPayload struct {
	Track string `json:"track"`
	Digit string `json:"digit"`
}

type DTMFMessage struct {
	Event     EventName   `json:"event"`
	StreamSid string      `json:"streamSid"`
	DTMF      DTMFPayload `json:"dtmf"`
}

type ConnectedMessage struct {
	Event    EventName `json:"event"`
	Protocol string    `json:"protocol"`
	Version  string    `json:"version"`
}

// Parse dispatches an inbound Media Streams frame by its event tag.
// Unrecognized tags return ErrUnknownEvent so the caller can ignore them
// without dropping the connection.
func Parse(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Event {
	case EventConnected:
		var msg ConnectedMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	case EventStart:
		var msg StartMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	case EventMedia:
		var msg MediaMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.Media.Payload == "" {
			return nil, errors.New("media event without payload")
		}
		return msg, nil
	case EventStop:
		var msg StopMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	case EventMark:
		var msg MarkMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	case EventDTMF:
		var msg DTMFMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	default:
		return nil, ErrUnknownEvent
	}
}

// OutboundMedia carries one AI audio frame back to the telephony leg. The
// stream identifier is mandatory; the provider rejects frames without it.
type OutboundMedia struct {
	Event     EventName       `json:"event"`
	StreamSid string          `json:"streamSid"`
	Media     OutboundPayload `json:"media"`
}

type OutboundPayload struct {
	Payload string `json:"payload"`
}

func NewMedia(streamSid, payloadBase64 string) OutboundMedia {
	return OutboundMedia{
		Event:     EventMedia,
		StreamSid: streamSid,
		Media:     OutboundPayload{Payload: payloadBase64},
	}
}

// OutboundClear tells the telephony leg to discard all buffered, not yet
// played audio. Sent on barge-in.
type OutboundClear struct {
	Event     EventName `json:"event"`
	StreamSid string    `json:"streamSid"`
}

func NewClear(streamSid string) OutboundClear {
	return OutboundClear{Event: EventClear, StreamSid: streamSid}
}

// OutboundMark asks the provider to echo a named checkpoint once everything
// queued before it has been played.
type OutboundMark struct {
	Event     EventName   `json:"event"`
	StreamSid string      `json:"streamSid"`
	Mark      MarkPayload `json:"mark"`
}

func NewMark(streamSid, name string) OutboundMark {
	return OutboundMark{Event: EventMark, StreamSid: streamSid, Mark: MarkPayload{Name: name}}
}
