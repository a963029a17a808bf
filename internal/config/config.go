package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ErrMissingCredential is returned when a required secret is not configured.
var ErrMissingCredential = errors.New("missing required credential")

// Config contains all runtime settings for the call relay service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	PublicHost       string
	MetricsNamespace string

	LogLevel  string
	LogFormat string

	OpenAIAPIKey        string
	OpenAIRealtimeURL   string
	OpenAIRealtimeModel string

	ReadyTimeout       time.Duration
	CancelOnBargeIn    bool
	AgentProfilePath   string
	CallRetention      time.Duration
	DialRatePerMinute  int
	DatabaseURL        string
	TwilioAccountSID   string
	TwilioAuthToken    string
	TwilioPhoneNumber  string
	ValidateSignatures bool
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:            envOrDefault("APP_BIND_ADDR", ":5050"),
		PublicHost:          stringsTrimSpace("APP_PUBLIC_HOST"),
		MetricsNamespace:    envOrDefault("APP_METRICS_NAMESPACE", "callrelay"),
		LogLevel:            envOrDefault("LOG_LEVEL", "info"),
		LogFormat:           envOrDefault("LOG_FORMAT", "json"),
		OpenAIAPIKey:        stringsTrimSpace("OPENAI_API_KEY"),
		OpenAIRealtimeURL:   envOrDefault("OPENAI_REALTIME_URL", "wss://api.openai.com/v1/realtime"),
		OpenAIRealtimeModel: envOrDefault("OPENAI_REALTIME_MODEL", "gpt-4o-realtime-preview"),
		AgentProfilePath:    stringsTrimSpace("AGENT_PROFILE_PATH"),
		DatabaseURL:         stringsTrimSpace("DATABASE_URL"),
		TwilioAccountSID:    stringsTrimSpace("TWILIO_ACCOUNT_SID"),
		TwilioAuthToken:     stringsTrimSpace("TWILIO_AUTH_TOKEN"),
		TwilioPhoneNumber:   stringsTrimSpace("TWILIO_PHONE_NUMBER"),
		ShutdownTimeout:     15 * time.Second,
		ReadyTimeout:        30 * time.Second,
		CallRetention:       10 * time.Minute,
		DialRatePerMinute:   6,
	}
	if port := stringsTrimSpace("PORT"); port != "" && os.Getenv("APP_BIND_ADDR") == "" {
		cfg.BindAddr = ":" + port
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.ReadyTimeout, err = durationFromEnv("RELAY_READY_TIMEOUT", cfg.ReadyTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.CallRetention, err = durationFromEnv("CALL_RETENTION", cfg.CallRetention)
	if err != nil {
		return Config{}, err
	}
	cfg.CancelOnBargeIn, err = boolFromEnv("RELAY_CANCEL_ON_BARGE_IN", cfg.CancelOnBargeIn)
	if err != nil {
		return Config{}, err
	}
	cfg.ValidateSignatures, err = boolFromEnv("TWILIO_VALIDATE_SIGNATURE", cfg.ValidateSignatures)
	if err != nil {
		return Config{}, err
	}
	cfg.DialRatePerMinute, err = intFromEnv("DIAL_RATE_PER_MINUTE", cfg.DialRatePerMinute)
	if err != nil {
		return Config{}, err
	}

	if cfg.ReadyTimeout < time.Second {
		return Config{}, fmt.Errorf("RELAY_READY_TIMEOUT must be at least 1s")
	}
	if cfg.CallRetention <= 0 {
		return Config{}, fmt.Errorf("CALL_RETENTION must be positive")
	}
	if cfg.DialRatePerMinute <= 0 {
		return Config{}, fmt.Errorf("DIAL_RATE_PER_MINUTE must be positive")
	}
	if cfg.ValidateSignatures && cfg.TwilioAuthToken == "" {
		return Config{}, fmt.Errorf("TWILIO_VALIDATE_SIGNATURE requires TWILIO_AUTH_TOKEN: %w", ErrMissingCredential)
	}

	return cfg, nil
}

// RequireOpenAI reports whether the realtime backend can be reached.
func (c Config) RequireOpenAI() error {
	if c.OpenAIAPIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY: %w", ErrMissingCredential)
	}
	return nil
}

// RequireTwilio reports whether outbound calls can be placed.
func (c Config) RequireTwilio() error {
	var missing []string
	if c.TwilioAccountSID == "" {
		missing = append(missing, "TWILIO_ACCOUNT_SID")
	}
	if c.TwilioAuthToken == "" {
		missing = append(missing, "TWILIO_AUTH_TOKEN")
	}
	if c.TwilioPhoneNumber == "" {
		missing = append(missing, "TWILIO_PHONE_NUMBER")
	}
	if c.PublicHost == "" {
		missing = append(missing, "APP_PUBLIC_HOST")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%s: %w", strings.Join(missing, ", "), ErrMissingCredential)
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
