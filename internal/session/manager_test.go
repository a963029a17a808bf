package session

import (
	"context"
	"testing"
	"time"
)

func TestManagerCreateGetEnd(t *testing.T) {
	m := NewManager(time.Minute)
	c := m.Create()
	if c.ID == "" {
		t.Fatalf("call ID should not be empty")
	}

	if err := m.SetStream(c.ID, "MZ123", "CA1"); err != nil {
		t.Fatalf("SetStream() error = %v", err)
	}
	got, err := m.Get(c.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.StreamSID != "MZ123" || got.CallSID != "CA1" || got.Status != StatusActive {
		t.Fatalf("unexpected call state: %+v", got)
	}
	if m.ActiveCount() != 1 {
		t.Fatalf("ActiveCount() = %d, want 1", m.ActiveCount())
	}

	ended, err := m.End(c.ID, "telephony_stop")
	if err != nil {
		t.Fatalf("End() error = %v", err)
	}
	if ended.Status != StatusEnded || ended.EndedAt == nil {
		t.Fatalf("ended call = %+v, want ended with timestamp", ended)
	}

	again, err := m.End(c.ID, "ai_closed")
	if err != nil {
		t.Fatalf("second End() error = %v", err)
	}
	if again.EndReason != "telephony_stop" {
		t.Fatalf("EndReason = %q, want first reason kept", again.EndReason)
	}
	if m.ActiveCount() != 0 {
		t.Fatalf("ActiveCount() = %d, want 0", m.ActiveCount())
	}
}

func TestManagerRecordsBargeInsAndToolCalls(t *testing.T) {
	m := NewManager(time.Minute)
	c := m.Create()

	_ = m.RecordBargeIn(c.ID)
	_ = m.RecordBargeIn(c.ID)
	_ = m.RecordToolCall(c.ID, ToolCall{CallID: "fc1", Name: "book_appointment", State: "continued", Success: true})

	got, err := m.Get(c.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.BargeIns != 2 {
		t.Fatalf("BargeIns = %d, want 2", got.BargeIns)
	}
	if len(got.ToolCalls) != 1 || got.ToolCalls[0].Name != "book_appointment" {
		t.Fatalf("ToolCalls = %+v", got.ToolCalls)
	}

	got.ToolCalls[0].Name = "mutated"
	fresh, _ := m.Get(c.ID)
	if fresh.ToolCalls[0].Name != "book_appointment" {
		t.Fatalf("Get() must return a copy")
	}
}

func TestManagerCopiesKeepEmptyToolCalls(t *testing.T) {
	m := NewManager(time.Minute)
	c := m.Create()

	got, err := m.Get(c.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.ToolCalls == nil {
		t.Fatalf("ToolCalls = nil, want empty slice")
	}
	if list := m.List(); len(list) != 1 || list[0].ToolCalls == nil {
		t.Fatalf("List() tool calls should be an empty slice: %+v", list)
	}
}

func TestManagerUnknownCall(t *testing.T) {
	m := NewManager(time.Minute)
	if err := m.SetPhase("nope", "idle"); err != ErrNotFound {
		t.Fatalf("SetPhase() error = %v, want ErrNotFound", err)
	}
	if _, err := m.End("nope", "x"); err != ErrNotFound {
		t.Fatalf("End() error = %v, want ErrNotFound", err)
	}
}

func TestManagerJanitorEvictsEnded(t *testing.T) {
	m := NewManager(30 * time.Millisecond)
	ended := m.Create()
	active := m.Create()
	if _, err := m.End(ended.ID, "done"); err != nil {
		t.Fatalf("End() error = %v", err)
	}

	evicted := make(chan string, 1)
	m.SetEvictHook(func(c *Call) { evicted <- c.ID })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.StartJanitor(ctx, 10*time.Millisecond)

	select {
	case id := <-evicted:
		if id != ended.ID {
			t.Fatalf("evicted %q, want %q", id, ended.ID)
		}
	case <-time.After(time.Second):
		t.Fatalf("janitor did not evict ended call")
	}
	if _, err := m.Get(ended.ID); err != ErrNotFound {
		t.Fatalf("Get(ended) error = %v, want ErrNotFound", err)
	}
	if _, err := m.Get(active.ID); err != nil {
		t.Fatalf("active call was evicted: %v", err)
	}
}
