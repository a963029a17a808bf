package telephony

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/twilio/twilio-go"
	twclient "github.com/twilio/twilio-go/client"
	api "github.com/twilio/twilio-go/rest/api/v2010"
	"go.uber.org/zap"

	"github.com/ent0n29/callrelay/internal/policy"
	"github.com/ent0n29/callrelay/internal/reliability"
)

var (
	ErrInvalidNumber   = errors.New("phone number must be in E.164 format, e.g. +15551234567")
	ErrNotConfigured   = errors.New("telephony provider is not configured")
	ErrProviderRefused = errors.New("telephony provider refused the call")
)

var e164 = regexp.MustCompile(`^\+[1-9][0-9]{1,14}$`)

// NormalizeNumber trims a user-entered number and checks it is E.164.
func NormalizeNumber(raw string) (string, error) {
	n := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '(', ')', '.':
			return -1
		}
		return r
	}, strings.TrimSpace(raw))
	if !e164.MatchString(n) {
		return "", fmt.Errorf("%q: %w", raw, ErrInvalidNumber)
	}
	return n, nil
}

// callCreator is the subset of the Twilio REST API the dialer uses.
type callCreator interface {
	CreateCall(params *api.CreateCallParams) (*api.ApiV2010Call, error)
}

type DialerConfig struct {
	AccountSID string
	AuthToken  string
	From       string
	PublicHost string
}

// CallResult describes an outbound call accepted by the provider.
type CallResult struct {
	SID    string `json:"call_sid"`
	Status string `json:"status"`
	To     string `json:"to"`
}

// Dialer places outbound calls that are answered by the /voice webhook.
type Dialer struct {
	calls     callCreator
	from      string
	answerURL string
	logger    *zap.Logger
}

func NewDialer(cfg DialerConfig, logger *zap.Logger) (*Dialer, error) {
	if cfg.AccountSID == "" || cfg.AuthToken == "" || cfg.From == "" || cfg.PublicHost == "" {
		return nil, ErrNotConfigured
	}
	rest := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return newDialer(rest.Api, cfg, logger), nil
}

func newDialer(calls callCreator, cfg DialerConfig, logger *zap.Logger) *Dialer {
	if logger == nil {
		logger = zap.NewNop()
	}
	host := strings.TrimSuffix(strings.TrimSpace(cfg.PublicHost), "/")
	host = strings.TrimPrefix(strings.TrimPrefix(host, "https://"), "http://")
	return &Dialer{
		calls:     calls,
		from:      cfg.From,
		answerURL: "https://" + host + "/voice",
		logger:    logger,
	}
}

// AnswerURL is the webhook Twilio fetches TwiML from once the callee picks up.
func (d *Dialer) AnswerURL() string { return d.answerURL }

// Call dials to, which must be E.164.
func (d *Dialer) Call(ctx context.Context, to string) (CallResult, error) {
	number, err := NormalizeNumber(to)
	if err != nil {
		return CallResult{}, err
	}
	if err := ctx.Err(); err != nil {
		return CallResult{}, err
	}

	params := &api.CreateCallParams{}
	params.SetTo(number)
	params.SetFrom(d.from)
	params.SetUrl(d.answerURL)

	d.logger.Info("initiating outbound call", zap.String("to", policy.MaskPhone(number)))
	resp, err := d.calls.CreateCall(params)
	if err != nil {
		var restErr *twclient.TwilioRestError
		if errors.As(err, &restErr) {
			d.logger.Warn("outbound call refused",
				zap.Int("status", restErr.Status),
				zap.Int("code", restErr.Code),
				zap.Bool("retryable", reliability.IsRetryableHTTPStatus(restErr.Status)))
			return CallResult{}, fmt.Errorf("%w: %s", ErrProviderRefused, restErr.Message)
		}
		return CallResult{}, fmt.Errorf("create call: %w", err)
	}

	result := CallResult{To: number}
	if resp != nil && resp.Sid != nil {
		result.SID = *resp.Sid
	}
	if resp != nil && resp.Status != nil {
		result.Status = *resp.Status
	}
	d.logger.Info("outbound call initiated", zap.String("call_sid", result.SID), zap.String("status", result.Status))
	return result, nil
}
