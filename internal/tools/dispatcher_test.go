package tools

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ent0n29/callrelay/internal/bookings"
)

type recordingReporter struct {
	results   []string
	callIDs   []string
	continues int
	order     []string
	reportErr error
}

func (r *recordingReporter) ReportResult(_ context.Context, callID, output string) error {
	if r.reportErr != nil {
		return r.reportErr
	}
	r.callIDs = append(r.callIDs, callID)
	r.results = append(r.results, output)
	r.order = append(r.order, "result")
	return nil
}

func (r *recordingReporter) Continue(context.Context) error {
	r.continues++
	r.order = append(r.order, "continue")
	return nil
}

func decodeOutput(t *testing.T, raw string) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(raw), &out))
	return out
}

func TestDispatchBookAppointment(t *testing.T) {
	store := bookings.NewInMemoryStore()
	d := NewDispatcher(NewDefaultRegistry(store), zap.NewNop())
	rep := &recordingReporter{}

	out, err := d.Dispatch(context.Background(), "call-1", Invocation{
		CallID:       "fc_1",
		Name:         BookAppointmentName,
		RawArguments: `{"prospect_name":"Jane","date":"2024-05-01","time":"2:00 PM"}`,
	}, rep)
	require.NoError(t, err)

	assert.Equal(t, StateContinued, out.State)
	assert.True(t, out.Success)
	assert.Equal(t, []string{"result", "continue"}, rep.order)
	assert.Equal(t, []string{"fc_1"}, rep.callIDs)

	result := decodeOutput(t, rep.results[0])
	assert.Equal(t, true, result["success"])
	assert.NotEmpty(t, result["booking_id"])

	saved, err := store.List(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, saved, 1)
	assert.Equal(t, "Jane", saved[0].ProspectName)
	assert.Equal(t, "call-1", saved[0].CallID)
}

func TestDispatchReportsFailures(t *testing.T) {
	registry := NewDefaultRegistry(bookings.NewInMemoryStore())
	registry.MustRegister(Definition{Name: "explode"}, func(context.Context, Request) (map[string]any, error) {
		panic("boom")
	})
	registry.MustRegister(Definition{Name: "refuse"}, func(context.Context, Request) (map[string]any, error) {
		return nil, errors.New("calendar unavailable")
	})
	d := NewDispatcher(registry, zap.NewNop())

	cases := []struct {
		name    string
		inv     Invocation
		wantErr error
	}{
		{"malformed", Invocation{CallID: "a", Name: BookAppointmentName, RawArguments: `{"prospect_name":`}, ErrMalformedArguments},
		{"invalid", Invocation{CallID: "b", Name: BookAppointmentName, RawArguments: `{"prospect_name":"Jane"}`}, ErrInvalidArguments},
		{"unknown", Invocation{CallID: "c", Name: "send_fax", RawArguments: `{}`}, ErrUnknownTool},
		{"handler error", Invocation{CallID: "d", Name: "refuse"}, nil},
		{"handler panic", Invocation{CallID: "e", Name: "explode"}, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rep := &recordingReporter{}
			out, err := d.Dispatch(context.Background(), "call-1", tc.inv, rep)
			require.NoError(t, err)

			assert.Equal(t, StateContinued, out.State)
			assert.False(t, out.Success)
			require.Error(t, out.ToolErr)
			if tc.wantErr != nil {
				assert.ErrorIs(t, out.ToolErr, tc.wantErr)
			}
			require.Len(t, rep.results, 1, "exactly one result")
			assert.Equal(t, 1, rep.continues, "exactly one continuation")
			assert.Equal(t, []string{tc.inv.CallID}, rep.callIDs)

			result := decodeOutput(t, rep.results[0])
			assert.Equal(t, false, result["success"])
			assert.NotEmpty(t, result["error"])
		})
	}
}

func TestDispatchKeepsHandlerReportedFailure(t *testing.T) {
	registry := NewRegistry()
	registry.MustRegister(Definition{Name: "check_slot"}, func(context.Context, Request) (map[string]any, error) {
		return map[string]any{"success": false, "reason": "slot taken"}, nil
	})
	d := NewDispatcher(registry, zap.NewNop())
	rep := &recordingReporter{}

	out, err := d.Dispatch(context.Background(), "call-1", Invocation{CallID: "f", Name: "check_slot"}, rep)
	require.NoError(t, err)
	assert.Equal(t, StateContinued, out.State)
	assert.NoError(t, out.ToolErr)
	assert.False(t, out.Success)

	result := decodeOutput(t, rep.results[0])
	assert.Equal(t, false, result["success"])
	assert.Equal(t, "slot taken", result["reason"])
	assert.Equal(t, 1, rep.continues)
}

func TestDispatchStopsWhenReportFails(t *testing.T) {
	d := NewDispatcher(NewDefaultRegistry(bookings.NewInMemoryStore()), nil)
	rep := &recordingReporter{reportErr: errors.New("socket closed")}

	out, err := d.Dispatch(context.Background(), "call-1", Invocation{CallID: "x", Name: "nope"}, rep)
	require.Error(t, err)
	assert.Equal(t, StateExecuted, out.State)
	assert.Zero(t, rep.continues)
}

func TestRegistryRejectsBadDefinitions(t *testing.T) {
	r := NewRegistry()
	noop := func(context.Context, Request) (map[string]any, error) { return nil, nil }

	assert.Error(t, r.Register(Definition{}, noop))
	assert.Error(t, r.Register(Definition{Name: "x"}, nil))
	assert.Error(t, r.Register(Definition{Name: "x", Parameters: Schema{Required: []string{"ghost"}}}, noop))

	require.NoError(t, r.Register(Definition{Name: "x"}, noop))
	assert.ErrorIs(t, r.Register(Definition{Name: "x"}, noop), ErrDuplicateTool)

	catalog := r.Catalog()
	require.Len(t, catalog, 1)
	assert.Equal(t, "function", catalog[0].Type)
	assert.Equal(t, "object", catalog[0].Parameters.Type)
}
