package realtime

import (
	"encoding/json"
	"fmt"
)

const (
	TypeSessionCreated        = "session.created"
	TypeSessionUpdated        = "session.updated"
	TypeResponseCreated       = "response.created"
	TypeResponseAudioDelta    = "response.audio.delta"
	TypeSpeechStarted         = "input_audio_buffer.speech_started"
	TypeFunctionArgumentsDone = "response.function_call_arguments.done"
	TypeResponseDone          = "response.done"
	TypeError                 = "error"
	TypeRateLimitsUpdated     = "rate_limits.updated"
)

// Event is any decoded server event from the realtime backend.
type Event interface {
	EventType() string
}

type envelope struct {
	Type    string `json:"type"`
	EventID string `json:"event_id,omitempty"`
}

type SessionCreated struct {
	Session struct {
		ID    string `json:"id"`
		Model string `json:"model"`
	} `json:"session"`
}

type SessionUpdated struct{}

type ResponseCreated struct {
	Response struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	} `json:"response"`
}

type AudioDelta struct {
	ResponseID string `json:"response_id"`
	ItemID     string `json:"item_id"`
	Delta      string `json:"delta"`
}

type SpeechStarted struct {
	AudioStartMS int    `json:"audio_start_ms"`
	ItemID       string `json:"item_id"`
}

type FunctionArgumentsDone struct {
	ResponseID string `json:"response_id"`
	ItemID     string `json:"item_id"`
	CallID     string `json:"call_id"`
	Name       string `json:"name"`
	Arguments  string `json:"arguments"`
}

type ResponseDone struct {
	Response struct {
		ID            string          `json:"id"`
		Status        string          `json:"status"`
		StatusDetails json.RawMessage `json:"status_details,omitempty"`
	} `json:"response"`
}

// Failed reports whether the backend ended the turn with an error.
func (r ResponseDone) Failed() bool { return r.Response.Status == "failed" }

type ErrorEvent struct {
	Error struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Unhandled is any recognised-but-ignored or unknown event type.
type Unhandled struct {
	Type string
}

func (SessionCreated) EventType() string        { return TypeSessionCreated }
func (SessionUpdated) EventType() string        { return TypeSessionUpdated }
func (ResponseCreated) EventType() string       { return TypeResponseCreated }
func (AudioDelta) EventType() string            { return TypeResponseAudioDelta }
func (SpeechStarted) EventType() string         { return TypeSpeechStarted }
func (FunctionArgumentsDone) EventType() string { return TypeFunctionArgumentsDone }
func (ResponseDone) EventType() string          { return TypeResponseDone }
func (ErrorEvent) EventType() string            { return TypeError }
func (u Unhandled) EventType() string           { return u.Type }

// ParseEvent decodes one server event frame.
func ParseEvent(raw []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("event without type")
	}

	var ev Event
	switch env.Type {
	case TypeSessionCreated:
		ev = &SessionCreated{}
	case TypeSessionUpdated:
		return SessionUpdated{}, nil
	case TypeResponseCreated:
		ev = &ResponseCreated{}
	case TypeResponseAudioDelta:
		ev = &AudioDelta{}
	case TypeSpeechStarted:
		ev = &SpeechStarted{}
	case TypeFunctionArgumentsDone:
		ev = &FunctionArgumentsDone{}
	case TypeResponseDone:
		ev = &ResponseDone{}
	case TypeError:
		ev = &ErrorEvent{}
	default:
		return Unhandled{Type: env.Type}, nil
	}
	if err := json.Unmarshal(raw, ev); err != nil {
		return nil, fmt.Errorf("decode %s: %w", env.Type, err)
	}
	return deref(ev), nil
}

func deref(ev Event) Event {
	switch e := ev.(type) {
	case *SessionCreated:
		return *e
	case *ResponseCreated:
		return *e
	case *AudioDelta:
		return *e
	case *SpeechStarted:
		return *e
	case *FunctionArgumentsDone:
		return *e
	case *ResponseDone:
		return *e
	case *ErrorEvent:
		return *e
	default:
		return ev
	}
}
