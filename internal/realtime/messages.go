package realtime

import (
	"github.com/ent0n29/callrelay/internal/agent"
	"github.com/ent0n29/callrelay/internal/tools"
)

type TurnDetection struct {
	Type string `json:"type"`
}

// SessionConfig is the body of a session.update message.
type SessionConfig struct {
	TurnDetection     TurnDetection      `json:"turn_detection"`
	InputAudioFormat  string             `json:"input_audio_format"`
	OutputAudioFormat string             `json:"output_audio_format"`
	Voice             string             `json:"voice"`
	Instructions      string             `json:"instructions"`
	Modalities        []string           `json:"modalities"`
	Temperature       float64            `json:"temperature"`
	Tools             []tools.Definition `json:"tools"`
	ToolChoice        string             `json:"tool_choice"`
}

type SessionUpdate struct {
	Type    string        `json:"type"`
	Session SessionConfig `json:"session"`
}

type InputAudioAppend struct {
	Type  string `json:"type"`
	Audio string `json:"audio"`
}

type FunctionCallOutputItem struct {
	Type   string `json:"type"`
	CallID string `json:"call_id"`
	Output string `json:"output"`
}

type ConversationItemCreate struct {
	Type string                 `json:"type"`
	Item FunctionCallOutputItem `json:"item"`
}

type ResponseParams struct {
	Modalities   []string `json:"modalities,omitempty"`
	Instructions string   `json:"instructions,omitempty"`
}

type ResponseCreate struct {
	Type     string          `json:"type"`
	Response *ResponseParams `json:"response,omitempty"`
}

type ResponseCancel struct {
	Type string `json:"type"`
}

// BuildSessionUpdate assembles the one configuration message sent when an
// AI connection opens.
func BuildSessionUpdate(p agent.Profile, catalog []tools.Definition) SessionUpdate {
	if catalog == nil {
		catalog = []tools.Definition{}
	}
	modalities := append([]string(nil), p.Modalities...)
	return SessionUpdate{
		Type: "session.update",
		Session: SessionConfig{
			TurnDetection:     TurnDetection{Type: p.TurnDetection},
			InputAudioFormat:  p.InputAudioFormat,
			OutputAudioFormat: p.OutputAudioFormat,
			Voice:             p.Voice,
			Instructions:      p.Instructions,
			Modalities:        modalities,
			Temperature:       p.Temperature,
			Tools:             catalog,
			ToolChoice:        p.ToolChoice,
		},
	}
}

func NewInputAudioAppend(payload string) InputAudioAppend {
	return InputAudioAppend{Type: "input_audio_buffer.append", Audio: payload}
}

func NewFunctionCallOutput(callID, output string) ConversationItemCreate {
	return ConversationItemCreate{
		Type: "conversation.item.create",
		Item: FunctionCallOutputItem{Type: "function_call_output", CallID: callID, Output: output},
	}
}

// NewGreeting asks the backend to speak first.
func NewGreeting(p agent.Profile) ResponseCreate {
	return ResponseCreate{
		Type: "response.create",
		Response: &ResponseParams{
			Modalities:   append([]string(nil), p.Modalities...),
			Instructions: p.Greeting,
		},
	}
}

func NewResponseCreate() ResponseCreate {
	return ResponseCreate{Type: "response.create"}
}

func NewResponseCancel() ResponseCancel {
	return ResponseCancel{Type: "response.cancel"}
}

// MessageType returns the wire type of an outbound message.
func MessageType(v any) string {
	switch m := v.(type) {
	case SessionUpdate:
		return m.Type
	case InputAudioAppend:
		return m.Type
	case ConversationItemCreate:
		return m.Type
	case ResponseCreate:
		return m.Type
	case ResponseCancel:
		return m.Type
	default:
		return "unknown"
	}
}
