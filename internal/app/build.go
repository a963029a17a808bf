package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ent0n29/callrelay/internal/agent"
	"github.com/ent0n29/callrelay/internal/bookings"
	"github.com/ent0n29/callrelay/internal/config"
	"github.com/ent0n29/callrelay/internal/httpapi"
	"github.com/ent0n29/callrelay/internal/observability"
	"github.com/ent0n29/callrelay/internal/realtime"
	"github.com/ent0n29/callrelay/internal/relay"
	"github.com/ent0n29/callrelay/internal/session"
	"github.com/ent0n29/callrelay/internal/telephony"
	"github.com/ent0n29/callrelay/internal/tools"
)

type BuildResult struct {
	Config   config.Config
	Profile  agent.Profile
	API      *httpapi.Server
	Sessions *session.Manager
	Bridge   *relay.Bridge
	Bookings bookings.Store
	Metrics  *observability.Metrics
	// OutboundEnabled reports whether Twilio credentials allow outbound calls.
	OutboundEnabled bool

	// Cleanup should be called on shutdown to release the booking store.
	Cleanup func() error
}

// Build wires the relay service from cfg.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*BuildResult, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	profile, err := agent.Load(cfg.AgentProfilePath)
	if err != nil {
		return nil, fmt.Errorf("agent profile: %w", err)
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	store, err := bookings.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("booking store init failed: %w", err)
	}

	sessions := session.NewManager(cfg.CallRetention)
	sessions.SetEvictHook(func(c *session.Call) {
		logger.Debug("evicted ended call", zap.String("call_id", c.ID), zap.String("reason", c.EndReason))
	})

	realtimeDialer := realtime.NewDialer(realtime.DialerConfig{
		URL:    cfg.OpenAIRealtimeURL,
		Model:  cfg.OpenAIRealtimeModel,
		APIKey: cfg.OpenAIAPIKey,
	}, logger.Named("realtime"))

	bridge := relay.NewBridge(relay.RealtimeDialer(realtimeDialer), relay.Options{
		Profile:         profile,
		Registry:        tools.NewDefaultRegistry(store),
		ReadyTimeout:    cfg.ReadyTimeout,
		CancelOnBargeIn: cfg.CancelOnBargeIn,
	}, sessions, metrics, logger.Named("relay"))

	opts := []httpapi.Option{
		httpapi.WithBookings(store),
		httpapi.WithLogger(logger.Named("http")),
	}

	outbound := false
	if err := cfg.RequireTwilio(); err != nil {
		logger.Info("outbound calling disabled", zap.Error(err))
	} else {
		dialer, err := telephony.NewDialer(telephony.DialerConfig{
			AccountSID: cfg.TwilioAccountSID,
			AuthToken:  cfg.TwilioAuthToken,
			From:       cfg.TwilioPhoneNumber,
			PublicHost: cfg.PublicHost,
		}, logger.Named("telephony"))
		if err != nil {
			logger.Warn("outbound calling disabled", zap.Error(err))
		} else {
			opts = append(opts, httpapi.WithDialer(dialer))
			outbound = true
		}
	}
	if cfg.ValidateSignatures {
		opts = append(opts, httpapi.WithSignatureValidator(telephony.NewSignatureValidator(cfg.TwilioAuthToken)))
	}

	api := httpapi.New(cfg, profile, sessions, bridge, metrics, opts...)

	return &BuildResult{
		Config:          cfg,
		Profile:         profile,
		API:             api,
		Sessions:        sessions,
		Bridge:          bridge,
		Bookings:        store,
		Metrics:         metrics,
		OutboundEnabled: outbound,
		Cleanup:         store.Close,
	}, nil
}
