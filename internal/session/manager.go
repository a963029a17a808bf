package session

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusActive Status = "active"
	StatusEnded  Status = "ended"
)

var ErrNotFound = errors.New("call not found")

// ToolCall is the registry view of one dispatched function call.
type ToolCall struct {
	CallID  string `json:"call_id"`
	Name    string `json:"name"`
	State   string `json:"state"`
	Success bool   `json:"success"`
}

// Call is the observable record of one bridged call.
type Call struct {
	ID             string     `json:"id"`
	CallSID        string     `json:"call_sid,omitempty"`
	StreamSID      string     `json:"stream_sid,omitempty"`
	Status         Status     `json:"status"`
	Phase          string     `json:"phase"`
	BargeIns       int        `json:"barge_ins"`
	ToolCalls      []ToolCall `json:"tool_calls"`
	EndReason      string     `json:"end_reason,omitempty"`
	StartedAt      time.Time  `json:"started_at"`
	LastActivityAt time.Time  `json:"last_activity_at"`
	EndedAt        *time.Time `json:"ended_at,omitempty"`
}

// Manager tracks active and recently ended calls. Ended calls are evicted
// by the janitor once they are older than the retention window.
type Manager struct {
	mu        sync.RWMutex
	calls     map[string]*Call
	retention time.Duration
	onEvict   func(*Call)
}

func NewManager(retention time.Duration) *Manager {
	if retention <= 0 {
		retention = 10 * time.Minute
	}
	return &Manager{
		calls:     make(map[string]*Call),
		retention: retention,
	}
}

func (m *Manager) SetEvictHook(hook func(*Call)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onEvict = hook
}

func (m *Manager) Create() *Call {
	now := time.Now().UTC()
	c := &Call{
		ID:             uuid.NewString(),
		Status:         StatusActive,
		Phase:          "idle",
		ToolCalls:      []ToolCall{},
		StartedAt:      now,
		LastActivityAt: now,
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[c.ID] = c
	return clone(c)
}

func (m *Manager) Get(id string) (*Call, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.calls[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(c), nil
}

// List returns calls newest first.
func (m *Manager) List() []*Call {
	m.mu.RLock()
	out := make([]*Call, 0, len(m.calls))
	for _, c := range m.calls {
		out = append(out, clone(c))
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out
}

func (m *Manager) SetStream(id, streamSID, callSID string) error {
	return m.update(id, func(c *Call) {
		c.StreamSID = streamSID
		if callSID != "" {
			c.CallSID = callSID
		}
	})
}

func (m *Manager) SetPhase(id, phase string) error {
	return m.update(id, func(c *Call) { c.Phase = phase })
}

func (m *Manager) RecordBargeIn(id string) error {
	return m.update(id, func(c *Call) { c.BargeIns++ })
}

func (m *Manager) RecordToolCall(id string, tc ToolCall) error {
	return m.update(id, func(c *Call) { c.ToolCalls = append(c.ToolCalls, tc) })
}

// End marks the call ended. Ending an ended call keeps the first reason.
func (m *Manager) End(id, reason string) (*Call, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.calls[id]
	if !ok {
		return nil, ErrNotFound
	}
	if c.Status == StatusEnded {
		return clone(c), nil
	}
	now := time.Now().UTC()
	c.Status = StatusEnded
	c.EndReason = reason
	c.EndedAt = &now
	c.LastActivityAt = now
	return clone(c), nil
}

func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, c := range m.calls {
		if c.Status == StatusActive {
			count++
		}
	}
	return count
}

func (m *Manager) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.evictEnded()
			}
		}
	}()
}

func (m *Manager) update(id string, fn func(*Call)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.calls[id]
	if !ok {
		return ErrNotFound
	}
	fn(c)
	c.LastActivityAt = time.Now().UTC()
	return nil
}

func (m *Manager) evictEnded() {
	now := time.Now().UTC()
	var evicted []*Call

	m.mu.Lock()
	for id, c := range m.calls {
		if c.Status != StatusEnded || c.EndedAt == nil {
			continue
		}
		if now.Sub(*c.EndedAt) < m.retention {
			continue
		}
		evicted = append(evicted, clone(c))
		delete(m.calls, id)
	}
	hook := m.onEvict
	m.mu.Unlock()

	if hook != nil {
		for _, c := range evicted {
			hook(c)
		}
	}
}

func clone(c *Call) *Call {
	cp := *c
	cp.ToolCalls = make([]ToolCall, len(c.ToolCalls))
	copy(cp.ToolCalls, c.ToolCalls)
	if c.EndedAt != nil {
		t := *c.EndedAt
		cp.EndedAt = &t
	}
	return &cp
}
