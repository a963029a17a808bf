package relay

// Phase is the readiness state of one call.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseTelephonyReady
	PhaseAIReady
	PhaseGreeted
)

func (p Phase) String() string {
	switch p {
	case PhaseTelephonyReady:
		return "telephony_ready"
	case PhaseAIReady:
		return "ai_ready"
	case PhaseGreeted:
		return "greeted"
	default:
		return "idle"
	}
}

// Readiness coordinates the two legs so the greeting fires exactly once,
// and only after both are ready. It is owned by a single goroutine.
type Readiness struct {
	telephony bool
	ai        bool
	greeted   bool
	streamID  string
}

// MarkTelephonyReady records the stream start. It reports whether the
// greeting must be sent now.
func (r *Readiness) MarkTelephonyReady(streamID string) bool {
	r.telephony = true
	r.streamID = streamID
	return r.evaluate()
}

// MarkAIReady records that the AI leg is open and configured. It reports
// whether the greeting must be sent now.
func (r *Readiness) MarkAIReady() bool {
	r.ai = true
	return r.evaluate()
}

func (r *Readiness) evaluate() bool {
	if r.telephony && r.ai && !r.greeted {
		r.greeted = true
		return true
	}
	return false
}

func (r *Readiness) TelephonyReady() bool { return r.telephony }
func (r *Readiness) AIReady() bool        { return r.ai }
func (r *Readiness) Greeted() bool        { return r.greeted }
func (r *Readiness) StreamID() string     { return r.streamID }

func (r *Readiness) State() Phase {
	switch {
	case r.greeted:
		return PhaseGreeted
	case r.telephony:
		return PhaseTelephonyReady
	case r.ai:
		return PhaseAIReady
	default:
		return PhaseIdle
	}
}
