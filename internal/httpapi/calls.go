package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ent0n29/callrelay/internal/telephony"
)

const (
	defaultBookingLimit = 50
	maxBookingLimit     = 500
)

type outboundCallRequest struct {
	To string `json:"to"`
}

func (s *Server) handleListCalls(w http.ResponseWriter, _ *http.Request) {
	calls := s.sessions.List()
	respondJSON(w, http.StatusOK, map[string]any{
		"calls":  calls,
		"active": s.sessions.ActiveCount(),
	})
}

func (s *Server) handleGetCall(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	call, err := s.sessions.Get(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "call_not_found", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, call)
}

func (s *Server) handleListBookings(w http.ResponseWriter, r *http.Request) {
	if s.bookings == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "booking store not configured")
		return
	}
	limit := defaultBookingLimit
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
		limit = min(n, maxBookingLimit)
	}
	list, err := s.bookings.List(r.Context(), limit)
	if err != nil {
		s.logger.Error("list bookings", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"bookings": list})
}

func (s *Server) handleOutboundCall(w http.ResponseWriter, r *http.Request) {
	if s.dialer == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "outbound calling not configured")
		return
	}
	var req outboundCallRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "body must be JSON with a \"to\" number")
		return
	}
	if !s.dialLimit.Allow() {
		s.metrics.OutboundDials.WithLabelValues("rate_limited").Inc()
		respondError(w, http.StatusTooManyRequests, "rate_limited", "too many outbound calls, try again later")
		return
	}

	res, err := s.dialer.Call(r.Context(), req.To)
	switch {
	case err == nil:
		s.metrics.OutboundDials.WithLabelValues("initiated").Inc()
		respondJSON(w, http.StatusAccepted, res)
	case errors.Is(err, telephony.ErrInvalidNumber):
		s.metrics.OutboundDials.WithLabelValues("invalid_number").Inc()
		respondError(w, http.StatusBadRequest, "invalid_number", err.Error())
	default:
		s.metrics.OutboundDials.WithLabelValues("failed").Inc()
		s.logger.Warn("outbound call failed", zap.Error(err))
		respondError(w, http.StatusBadGateway, "dial_failed", err.Error())
	}
}
