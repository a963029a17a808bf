package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ent0n29/callrelay/internal/logging"
	"github.com/ent0n29/callrelay/internal/protocol"
	"github.com/ent0n29/callrelay/internal/relay"
	"github.com/ent0n29/callrelay/internal/reliability"
)

const (
	telephonyWriteTimeout = 10 * time.Second
	telephonyReadLimit    = 1 << 20
)

// handleMediaStream accepts one Twilio media stream and runs a call for it.
// The socket is read and written by dedicated goroutines; the call runner is
// the only consumer of inbound events and the only producer of outbound ones.
func (s *Server) handleMediaStream(w http.ResponseWriter, r *http.Request) {
	if s.runner == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "call runner not configured")
		return
	}
	if err := s.cfg.RequireOpenAI(); err != nil {
		respondError(w, http.StatusServiceUnavailable, "not_configured", err.Error())
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("media stream upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	call := s.sessions.Create()
	log := s.logger.With(zap.String("call_id", call.ID))
	log.Info("telephony websocket connected", zap.String("remote", r.RemoteAddr))

	// Detached from the request so a slow handler return does not cut the
	// call short; cancellation comes from either leg ending.
	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()

	inbound := make(chan protocol.TelephonyEvent, 64)
	outbound := make(chan any, 256)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer func() {
			cancel()
			closeTelephony(conn)
		}()
		return s.runner.RunCall(gctx, call.ID, inbound, outbound)
	})

	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case msg := <-outbound:
				_ = conn.SetWriteDeadline(time.Now().Add(telephonyWriteTimeout))
				if err := conn.WriteJSON(msg); err != nil {
					log.Debug("telephony write failed", zap.Error(err))
					return nil
				}
			}
		}
	})

	g.Go(func() error {
		defer close(inbound)
		conn.SetReadLimit(telephonyReadLimit)
		for {
			msgType, data, err := conn.ReadMessage()
			if err != nil {
				log.Debug("telephony socket closed", zap.String("reason", reliability.CloseReason(err)))
				return nil
			}
			if msgType != websocket.TextMessage {
				continue
			}
			ev, err := protocol.ParseTelephonyMessage(data)
			if err != nil {
				s.metrics.CallEvents.WithLabelValues("invalid_telephony_message").Inc()
				log.Warn("discarding telephony message",
					zap.Error(err),
					zap.String("body", logging.Truncate(string(data), 200)))
				continue
			}
			select {
			case inbound <- ev:
			case <-gctx.Done():
				return nil
			}
		}
	})

	err = g.Wait()
	switch {
	case err == nil:
	case errors.Is(err, relay.ErrReadinessTimeout), errors.Is(err, relay.ErrConnection):
		log.Warn("call aborted", zap.Error(err))
	default:
		log.Error("call failed", zap.Error(err))
	}
}

func closeTelephony(conn *websocket.Conn) {
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	_ = conn.Close()
}
