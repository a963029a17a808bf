package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// EventType identifies Twilio Media Streams payload variants.
type EventType string

const (
	EventConnected EventType = "connected"
	EventStart     EventType = "start"
	EventMedia     EventType = "media"
	EventStop      EventType = "stop"
	EventMark      EventType = "mark"
	EventDTMF      EventType = "dtmf"
	EventClear     EventType = "clear"
)

var (
	ErrUnsupportedType = errors.New("unsupported message type")
	ErrInvalidMessage  = errors.New("invalid message")
)

// TelephonyEvent is any decoded inbound Media Streams message.
type TelephonyEvent interface {
	EventType() EventType
}

type Envelope struct {
	Event     EventType `json:"event"`
	StreamSID string    `json:"streamSid,omitempty"`
}

type MediaFormat struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sampleRate"`
	Channels   int    `json:"channels"`
}

type StartMetadata struct {
	AccountSID       string            `json:"accountSid"`
	StreamSID        string            `json:"streamSid"`
	CallSID          string            `json:"callSid"`
	Tracks           []string          `json:"tracks"`
	CustomParameters map[string]string `json:"customParameters,omitempty"`
	MediaFormat      MediaFormat       `json:"mediaFormat"`
}

type Connected struct {
	Event    EventType `json:"event"`
	Protocol string    `json:"protocol"`
	Version  string    `json:"version"`
}

type Start struct {
	Event          EventType     `json:"event"`
	SequenceNumber string        `json:"sequenceNumber"`
	StreamSID      string        `json:"streamSid"`
	Start          StartMetadata `json:"start"`
}

// StreamID returns the stream identifier, preferring the start block.
func (s Start) StreamID() string {
	if s.Start.StreamSID != "" {
		return s.Start.StreamSID
	}
	return s.StreamSID
}

type MediaChunk struct {
	Track     string `json:"track,omitempty"`
	Chunk     string `json:"chunk,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   string `json:"payload"`
}

type Media struct {
	Event          EventType  `json:"event"`
	SequenceNumber string     `json:"sequenceNumber,omitempty"`
	StreamSID      string     `json:"streamSid"`
	Media          MediaChunk `json:"media"`
}

type StopMetadata struct {
	AccountSID string `json:"accountSid"`
	CallSID    string `json:"callSid"`
}

type Stop struct {
	Event     EventType    `json:"event"`
	StreamSID string       `json:"streamSid"`
	Stop      StopMetadata `json:"stop"`
}

type MarkLabel struct {
	Name string `json:"name"`
}

type Mark struct {
	Event     EventType `json:"event"`
	StreamSID string    `json:"streamSid"`
	Mark      MarkLabel `json:"mark"`
}

type DTMFDigit struct {
	Track string `json:"track"`
	Digit string `json:"digit"`
}

type DTMF struct {
	Event     EventType `json:"event"`
	StreamSID string    `json:"streamSid"`
	DTMF      DTMFDigit `json:"dtmf"`
}

// Clear asks Twilio to drop any audio queued for playback.
type Clear struct {
	Event     EventType `json:"event"`
	StreamSID string    `json:"streamSid"`
}

func (Connected) EventType() EventType { return EventConnected }
func (Start) EventType() EventType     { return EventStart }
func (Media) EventType() EventType     { return EventMedia }
func (Stop) EventType() EventType      { return EventStop }
func (Mark) EventType() EventType      { return EventMark }
func (DTMF) EventType() EventType      { return EventDTMF }
func (Clear) EventType() EventType     { return EventClear }

// NewMedia builds an outbound media message for the given stream.
func NewMedia(streamSID, payload string) Media {
	return Media{Event: EventMedia, StreamSID: streamSID, Media: MediaChunk{Payload: payload}}
}

// NewClear builds an outbound clear message for the given stream.
func NewClear(streamSID string) Clear {
	return Clear{Event: EventClear, StreamSID: streamSID}
}

// ParseTelephonyMessage decodes one inbound Media Streams text frame.
func ParseTelephonyMessage(raw []byte) (TelephonyEvent, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Event {
	case EventConnected:
		var msg Connected
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	case EventStart:
		var msg Start
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.StreamID() == "" {
			return nil, fmt.Errorf("start without streamSid: %w", ErrInvalidMessage)
		}
		return msg, nil
	case EventMedia:
		var msg Media
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.Media.Payload == "" {
			return nil, fmt.Errorf("media without payload: %w", ErrInvalidMessage)
		}
		return msg, nil
	case EventStop:
		var msg Stop
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	case EventMark:
		var msg Mark
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	case EventDTMF:
		var msg DTMF
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}
