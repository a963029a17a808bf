package agent

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Profile is the static persona and audio setup shared by every call.
type Profile struct {
	Voice             string   `yaml:"voice"`
	Instructions      string   `yaml:"instructions"`
	Greeting          string   `yaml:"greeting"`
	ConnectMessage    string   `yaml:"connect_message"`
	Temperature       float64  `yaml:"temperature"`
	TurnDetection     string   `yaml:"turn_detection"`
	InputAudioFormat  string   `yaml:"input_audio_format"`
	OutputAudioFormat string   `yaml:"output_audio_format"`
	Modalities        []string `yaml:"modalities"`
	ToolChoice        string   `yaml:"tool_choice"`
}

const defaultInstructions = `You are Alex, an enthusiastic and professional sales representative for "HotelAI", a premier hospitality management platform.
Your goal is to call hotel managers to pitch the product and schedule a demo appointment.

Product Key Features:
1. Automated Booking Management
2. AI-driven Pricing Optimization
3. 24/7 Guest Concierge Chatbot

Conversation Flow:
1. Greet the prospect and confirm you are speaking to a manager.
2. Briefly introduce HotelAI and its value proposition (increase revenue by 30%).
3. Ask if they are currently using any software to manage their hotel.
4. Listen to their challenges.
5. Pitch how HotelAI solves those challenges.
6. Ask for an appointment to show a 15-minute demo.

Tone: Professional but casual and friendly. Speak naturally like a human.
- Use occasional fillers like "umm", "uh-huh", or "I see" to sound more authentic.
- Don't be too rigid. Adjust your pacing.
- If the user interrupts, stop talking and listen.
- Keep your responses concise to avoid long monologues.
- If they are busy, offer to call back later.`

// Default returns the built-in sales agent profile.
func Default() Profile {
	return Profile{
		Voice:             "alloy",
		Instructions:      defaultInstructions,
		Greeting:          "Greet the user with 'Hello? Is this the manager?'. Do not wait for them to speak first.",
		ConnectMessage:    "Connecting you to the AI sales agent.",
		Temperature:       0.8,
		TurnDetection:     "server_vad",
		InputAudioFormat:  "g711_ulaw",
		OutputAudioFormat: "g711_ulaw",
		Modalities:        []string{"text", "audio"},
		ToolChoice:        "auto",
	}
}

// Load reads a YAML profile over the defaults. An empty path returns Default.
func Load(path string) (Profile, error) {
	p := Default()
	if strings.TrimSpace(path) == "" {
		return p, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Profile{}, fmt.Errorf("read agent profile: %w", err)
	}
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return Profile{}, fmt.Errorf("parse agent profile: %w", err)
	}
	if err := p.Validate(); err != nil {
		return Profile{}, err
	}
	return p, nil
}

func (p Profile) Validate() error {
	var problems []string
	if strings.TrimSpace(p.Instructions) == "" {
		problems = append(problems, "instructions must not be empty")
	}
	if p.Temperature < 0.6 || p.Temperature > 1.2 {
		problems = append(problems, "temperature must be within [0.6, 1.2]")
	}
	if p.InputAudioFormat == "" || p.OutputAudioFormat == "" {
		problems = append(problems, "audio formats must be set")
	}
	if len(p.Modalities) == 0 {
		problems = append(problems, "modalities must not be empty")
	}
	if len(problems) > 0 {
		return errors.New("invalid agent profile: " + strings.Join(problems, "; "))
	}
	return nil
}
