package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/ent0n29/callrelay/internal/agent"
	"github.com/ent0n29/callrelay/internal/bookings"
	"github.com/ent0n29/callrelay/internal/config"
	"github.com/ent0n29/callrelay/internal/observability"
	"github.com/ent0n29/callrelay/internal/protocol"
	"github.com/ent0n29/callrelay/internal/session"
	"github.com/ent0n29/callrelay/internal/telephony"
)

// CallRunner bridges one accepted media stream until either leg ends.
type CallRunner interface {
	RunCall(ctx context.Context, callID string, inbound <-chan protocol.TelephonyEvent, outbound chan<- any) error
}

// OutboundDialer places outbound calls.
type OutboundDialer interface {
	Call(ctx context.Context, to string) (telephony.CallResult, error)
}

type Server struct {
	cfg       config.Config
	profile   agent.Profile
	sessions  *session.Manager
	runner    CallRunner
	metrics   *observability.Metrics
	logger    *zap.Logger
	bookings  bookings.Store
	dialer    OutboundDialer
	validator *telephony.SignatureValidator
	dialLimit *rate.Limiter
	upgrader  websocket.Upgrader
}

type Option func(*Server)

func WithBookings(store bookings.Store) Option {
	return func(s *Server) { s.bookings = store }
}

func WithDialer(d OutboundDialer) Option {
	return func(s *Server) { s.dialer = d }
}

// WithSignatureValidator rejects /voice webhooks not signed by Twilio.
func WithSignatureValidator(v *telephony.SignatureValidator) Option {
	return func(s *Server) { s.validator = v }
}

func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func New(cfg config.Config, profile agent.Profile, sessions *session.Manager, runner CallRunner, metrics *observability.Metrics, opts ...Option) *Server {
	s := &Server{
		cfg:       cfg,
		profile:   profile,
		sessions:  sessions,
		runner:    runner,
		metrics:   metrics,
		logger:    zap.NewNop(),
		dialLimit: newDialLimiter(cfg.DialRatePerMinute),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Twilio does not send an Origin header.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func newDialLimiter(perMinute int) *rate.Limiter {
	if perMinute <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute)
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"message": "Twilio Media Stream Server is running!"})
	})
	r.HandleFunc("/voice", s.handleVoice)
	r.Get(telephony.MediaStreamPath, s.handleMediaStream)

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Get("/v1/calls", s.handleListCalls)
	r.Get("/v1/calls/{id}", s.handleGetCall)
	r.Post("/v1/calls/outbound", s.handleOutboundCall)
	r.Get("/v1/bookings", s.handleListBookings)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":           "ok",
		"active_calls":     s.sessions.ActiveCount(),
		"booking_store":    s.bookingStoreMode(),
		"outbound_enabled": s.dialer != nil,
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	if err := s.cfg.RequireOpenAI(); err != nil {
		respondJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"reason": err.Error(),
		})
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":        "ready",
		"booking_store": s.bookingStoreMode(),
	})
}

// handleVoice answers Twilio's call webhook with TwiML that connects the
// call to our media stream endpoint.
func (s *Server) handleVoice(w http.ResponseWriter, r *http.Request) {
	host := s.publicHost(r)
	if s.validator != nil {
		fullURL := "https://" + host + r.URL.RequestURI()
		if !s.validator.Validate(r, fullURL) {
			s.logger.Warn("rejecting unsigned voice webhook", zap.String("remote", r.RemoteAddr))
			s.metrics.CallEvents.WithLabelValues("webhook_rejected").Inc()
			respondError(w, http.StatusForbidden, "invalid_signature", "request signature did not validate")
			return
		}
	}

	doc, err := telephony.StreamResponse(s.profile.ConnectMessage, telephony.MediaStreamURL(host))
	if err != nil {
		s.logger.Error("render voice twiml", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "twiml_error", err.Error())
		return
	}
	s.metrics.CallEvents.WithLabelValues("webhook").Inc()
	w.Header().Set("Content-Type", "text/xml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(doc))
}

func (s *Server) publicHost(r *http.Request) string {
	if h := strings.TrimSpace(s.cfg.PublicHost); h != "" {
		return h
	}
	return r.Host
}

func (s *Server) bookingStoreMode() string {
	switch s.bookings.(type) {
	case nil:
		return "disabled"
	case *bookings.PostgresStore:
		return "postgres"
	default:
		return "in-memory"
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
