package relay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ent0n29/callrelay/internal/agent"
	"github.com/ent0n29/callrelay/internal/logging"
	"github.com/ent0n29/callrelay/internal/observability"
	"github.com/ent0n29/callrelay/internal/protocol"
	"github.com/ent0n29/callrelay/internal/realtime"
	"github.com/ent0n29/callrelay/internal/reliability"
	"github.com/ent0n29/callrelay/internal/session"
	"github.com/ent0n29/callrelay/internal/tools"
)

var (
	ErrConnection       = errors.New("connection error")
	ErrReadinessTimeout = errors.New("readiness timeout")
)

const (
	directionToAI        = "to_ai"
	directionToTelephony = "to_telephony"
)

// AIConn is an open realtime session.
type AIConn interface {
	Send(ctx context.Context, v any) error
	Events() <-chan realtime.Event
	Close() error
}

// DialFunc opens the AI leg. It returns only once the socket is open.
type DialFunc func(ctx context.Context) (AIConn, error)

// RealtimeDialer adapts a realtime.Dialer to a DialFunc.
func RealtimeDialer(d *realtime.Dialer) DialFunc {
	return func(ctx context.Context) (AIConn, error) {
		conn, err := d.Dial(ctx)
		if err != nil {
			return nil, err
		}
		return conn, nil
	}
}

type Options struct {
	Profile         agent.Profile
	Registry        *tools.Registry
	ReadyTimeout    time.Duration
	CancelOnBargeIn bool
}

// Bridge relays one telephony stream to one realtime session per call.
// Bridge itself is shared and read-only; all per-call state lives in the
// goroutine running RunCall.
type Bridge struct {
	dial            DialFunc
	profile         agent.Profile
	sessionUpdate   realtime.SessionUpdate
	dispatcher      *tools.Dispatcher
	readyTimeout    time.Duration
	cancelOnBargeIn bool
	sessions        *session.Manager
	metrics         *observability.Metrics
	logger          *zap.Logger
}

func NewBridge(dial DialFunc, opts Options, sessions *session.Manager, metrics *observability.Metrics, logger *zap.Logger) *Bridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.ReadyTimeout <= 0 {
		opts.ReadyTimeout = 30 * time.Second
	}
	if opts.Registry == nil {
		opts.Registry = tools.NewRegistry()
	}
	return &Bridge{
		dial:            dial,
		profile:         opts.Profile,
		sessionUpdate:   realtime.BuildSessionUpdate(opts.Profile, opts.Registry.Catalog()),
		dispatcher:      tools.NewDispatcher(opts.Registry, logger),
		readyTimeout:    opts.ReadyTimeout,
		cancelOnBargeIn: opts.CancelOnBargeIn,
		sessions:        sessions,
		metrics:         metrics,
		logger:          logger,
	}
}

// callState is owned by the RunCall goroutine; nothing else touches it.
type callState struct {
	id         string
	acceptedAt time.Time
	readiness  Readiness
	ai         AIConn
	// configured is set once session.update was written to ai.
	configured bool
	// activeResponse is the response currently producing audio.
	activeResponse string
	// interruptedResponse is the response cut off by the last barge-in.
	interruptedResponse string
	endReason           string
	log                 *zap.Logger
}

type dialResult struct {
	conn AIConn
	err  error
}

// RunCall bridges one call until either leg ends. inbound carries decoded
// telephony events and is closed when the telephony socket closes; outbound
// receives telephony messages in send order. When RunCall returns the caller
// must close the telephony socket; the AI leg is already closed.
func (b *Bridge) RunCall(ctx context.Context, callID string, inbound <-chan protocol.TelephonyEvent, outbound chan<- any) (err error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	st := &callState{
		id:         callID,
		acceptedAt: time.Now(),
		log:        b.logger.With(zap.String("call_id", callID)),
	}
	b.metrics.ActiveCalls.Inc()
	b.metrics.CallEvents.WithLabelValues("accepted").Inc()
	st.log.Info("call accepted")

	dialCh := make(chan dialResult, 1)
	dialPending := true
	go func() {
		conn, err := b.dial(ctx)
		dialCh <- dialResult{conn: conn, err: err}
	}()

	defer func() {
		if st.ai != nil {
			_ = st.ai.Close()
		}
		if dialPending {
			go func() {
				if res := <-dialCh; res.conn != nil {
					_ = res.conn.Close()
				}
			}()
		}
		b.finish(st, err)
	}()

	readyTimer := time.NewTimer(b.readyTimeout)
	defer readyTimer.Stop()
	readyC := readyTimer.C

	for {
		var aiEvents <-chan realtime.Event
		if st.ai != nil {
			aiEvents = st.ai.Events()
		}

		select {
		case <-ctx.Done():
			st.endReason = "context_done"
			return nil

		case <-readyC:
			st.endReason = "ready_timeout"
			b.metrics.CallEvents.WithLabelValues("ready_timeout").Inc()
			return fmt.Errorf("%w: legs not ready after %s (phase %s)", ErrReadinessTimeout, b.readyTimeout, st.readiness.State())

		case res := <-dialCh:
			dialPending = false
			if res.err != nil {
				st.endReason = "ai_dial_failed"
				b.metrics.CallEvents.WithLabelValues("ai_dial_failed").Inc()
				return fmt.Errorf("%w: open ai leg: %v", ErrConnection, res.err)
			}
			st.ai = res.conn
			if err := b.onAIOpen(ctx, st, outbound); err != nil {
				return err
			}

		case ev, ok := <-inbound:
			if !ok {
				st.endReason = "telephony_closed"
				return nil
			}
			stop, err := b.onTelephonyEvent(ctx, st, ev, outbound)
			if err != nil {
				return err
			}
			if stop {
				st.endReason = "telephony_stop"
				return nil
			}

		case ev, ok := <-aiEvents:
			if !ok {
				st.endReason = "ai_closed"
				var readErr error
				if withErr, ok := st.ai.(interface{ Err() error }); ok {
					readErr = withErr.Err()
				}
				if reliability.IsExpectedClose(readErr) {
					return nil
				}
				return fmt.Errorf("%w: ai leg closed (%s): %v", ErrConnection, reliability.CloseReason(readErr), readErr)
			}
			if err := b.onAIEvent(ctx, st, ev, outbound); err != nil {
				return err
			}
		}

		if st.readiness.Greeted() && readyC != nil {
			readyTimer.Stop()
			readyC = nil
		}
	}
}

func (b *Bridge) finish(st *callState, err error) {
	b.metrics.ActiveCalls.Dec()
	b.metrics.CallEnds.WithLabelValues(st.endReason).Inc()
	if b.sessions != nil {
		_, _ = b.sessions.End(st.id, st.endReason)
	}
	fields := []zap.Field{zap.String("reason", st.endReason), zap.String("phase", st.readiness.State().String())}
	if err != nil {
		st.log.Warn("call ended with error", append(fields, zap.Error(err))...)
		return
	}
	st.log.Info("call ended", fields...)
}

// onAIOpen sends the session configuration before the AI leg is marked
// ready, so no caller audio can precede it.
func (b *Bridge) onAIOpen(ctx context.Context, st *callState, outbound chan<- any) error {
	st.log.Info("realtime session opened")
	if err := st.ai.Send(ctx, b.sessionUpdate); err != nil {
		st.endReason = "ai_config_failed"
		return fmt.Errorf("%w: send session configuration: %v", ErrConnection, err)
	}
	st.configured = true

	fire := st.readiness.MarkAIReady()
	b.setPhase(st)
	if fire {
		return b.greet(ctx, st)
	}
	return nil
}

func (b *Bridge) greet(ctx context.Context, st *callState) error {
	st.log.Info("both legs ready, sending greeting", zap.String("stream_sid", st.readiness.StreamID()))
	if err := st.ai.Send(ctx, realtime.NewGreeting(b.profile)); err != nil {
		st.endReason = "ai_send_failed"
		return fmt.Errorf("%w: send greeting: %v", ErrConnection, err)
	}
	b.metrics.CallEvents.WithLabelValues("greeted").Inc()
	b.metrics.ObserveReadyLatency(time.Since(st.acceptedAt))
	b.setPhase(st)
	return nil
}

func (b *Bridge) setPhase(st *callState) {
	if b.sessions != nil {
		_ = b.sessions.SetPhase(st.id, st.readiness.State().String())
	}
}

func (b *Bridge) onTelephonyEvent(ctx context.Context, st *callState, ev protocol.TelephonyEvent, outbound chan<- any) (stop bool, err error) {
	switch m := ev.(type) {
	case protocol.Connected:
		st.log.Debug("telephony connected", zap.String("protocol", m.Protocol))

	case protocol.Start:
		streamID := m.StreamID()
		st.log = st.log.With(zap.String("stream_sid", streamID))
		st.log.Info("media stream started", zap.String("call_sid", m.Start.CallSID))
		if b.sessions != nil {
			_ = b.sessions.SetStream(st.id, streamID, m.Start.CallSID)
		}
		fire := st.readiness.MarkTelephonyReady(streamID)
		b.setPhase(st)
		if fire {
			return false, b.greet(ctx, st)
		}

	case protocol.Media:
		if st.ai == nil || !st.configured {
			b.metrics.ObserveFrame(directionToAI, "dropped_not_ready")
			return false, nil
		}
		if err := st.ai.Send(ctx, realtime.NewInputAudioAppend(m.Media.Payload)); err != nil {
			st.endReason = "ai_send_failed"
			return false, fmt.Errorf("%w: forward caller audio: %v", ErrConnection, err)
		}
		b.metrics.ObserveFrame(directionToAI, "forwarded")

	case protocol.Stop:
		st.log.Info("media stream stopped")
		return true, nil

	case protocol.Mark:
		st.log.Debug("telephony mark", zap.String("name", m.Mark.Name))

	case protocol.DTMF:
		st.log.Info("dtmf received", zap.String("digit", m.DTMF.Digit))

	default:
		st.log.Debug("ignoring telephony event", zap.String("event", string(ev.EventType())))
	}
	return false, nil
}

var quietAIEvents = map[string]bool{
	realtime.TypeResponseAudioDelta: true,
	"input_audio_buffer.append":     true,
	realtime.TypeRateLimitsUpdated:  true,
}

func (b *Bridge) onAIEvent(ctx context.Context, st *callState, ev realtime.Event, outbound chan<- any) error {
	if !quietAIEvents[ev.EventType()] {
		st.log.Debug("realtime event", zap.String("type", ev.EventType()))
	}

	switch e := ev.(type) {
	case realtime.ResponseCreated:
		st.activeResponse = e.Response.ID

	case realtime.AudioDelta:
		return b.relayDelta(ctx, st, e, outbound)

	case realtime.SpeechStarted:
		return b.bargeIn(ctx, st, outbound)

	case realtime.FunctionArgumentsDone:
		return b.dispatchTool(ctx, st, e)

	case realtime.ResponseDone:
		if e.Failed() {
			b.metrics.ResponseFailed.Inc()
			st.log.Error("realtime response failed",
				zap.String("response_id", e.Response.ID),
				zap.String("details", logging.Truncate(string(e.Response.StatusDetails), 500)))
		}
		if e.Response.ID == st.activeResponse {
			st.activeResponse = ""
		}

	case realtime.ErrorEvent:
		code := e.Error.Code
		if code == "" {
			code = e.Error.Type
		}
		b.metrics.RealtimeErrors.WithLabelValues(code).Inc()
		st.log.Warn("realtime backend error",
			zap.String("code", code),
			zap.Bool("retryable", reliability.IsRetryableRealtimeError(code)),
			zap.String("message", e.Error.Message))
	}
	return nil
}

func (b *Bridge) relayDelta(ctx context.Context, st *callState, e realtime.AudioDelta, outbound chan<- any) error {
	if e.Delta == "" {
		return nil
	}
	streamID := st.readiness.StreamID()
	if streamID == "" {
		b.metrics.ObserveFrame(directionToTelephony, "dropped_no_stream")
		return nil
	}
	if e.ResponseID != "" && e.ResponseID == st.interruptedResponse {
		b.metrics.ObserveFrame(directionToTelephony, "dropped_interrupted")
		return nil
	}
	if e.ResponseID != "" {
		st.activeResponse = e.ResponseID
	}
	if err := b.sendTelephony(ctx, outbound, protocol.NewMedia(streamID, e.Delta)); err != nil {
		return err
	}
	b.metrics.ObserveFrame(directionToTelephony, "forwarded")
	return nil
}

// bargeIn clears queued playback on the telephony leg. The response that
// was speaking is marked interrupted so its late deltas are not replayed.
func (b *Bridge) bargeIn(ctx context.Context, st *callState, outbound chan<- any) error {
	streamID := st.readiness.StreamID()
	if streamID == "" {
		st.log.Debug("speech started before stream start, nothing to clear")
		return nil
	}
	st.log.Info("caller speech started, clearing playback")
	if err := b.sendTelephony(ctx, outbound, protocol.NewClear(streamID)); err != nil {
		return err
	}
	b.metrics.BargeIns.Inc()
	if b.sessions != nil {
		_ = b.sessions.RecordBargeIn(st.id)
	}

	if st.activeResponse == "" {
		return nil
	}
	st.interruptedResponse = st.activeResponse
	if b.cancelOnBargeIn {
		if err := st.ai.Send(ctx, realtime.NewResponseCancel()); err != nil {
			st.endReason = "ai_send_failed"
			return fmt.Errorf("%w: cancel response: %v", ErrConnection, err)
		}
	}
	return nil
}

func (b *Bridge) dispatchTool(ctx context.Context, st *callState, e realtime.FunctionArgumentsDone) error {
	inv := tools.Invocation{CallID: e.CallID, Name: e.Name, RawArguments: e.Arguments}
	out, err := b.dispatcher.Dispatch(ctx, st.id, inv, aiReporter{conn: st.ai})

	outcome := "success"
	if !out.Success {
		outcome = "failure"
	}
	b.metrics.ToolInvocations.WithLabelValues(e.Name, outcome).Inc()
	if b.sessions != nil {
		_ = b.sessions.RecordToolCall(st.id, session.ToolCall{
			CallID:  e.CallID,
			Name:    e.Name,
			State:   string(out.State),
			Success: out.Success,
		})
	}
	if err != nil {
		st.endReason = "ai_send_failed"
		return fmt.Errorf("%w: %v", ErrConnection, err)
	}
	return nil
}

func (b *Bridge) sendTelephony(ctx context.Context, outbound chan<- any, msg any) error {
	select {
	case outbound <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type aiReporter struct {
	conn AIConn
}

func (r aiReporter) ReportResult(ctx context.Context, callID, output string) error {
	return r.conn.Send(ctx, realtime.NewFunctionCallOutput(callID, output))
}

func (r aiReporter) Continue(ctx context.Context) error {
	return r.conn.Send(ctx, realtime.NewResponseCreate())
}
