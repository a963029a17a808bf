package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/ent0n29/callrelay/internal/logging"
	"github.com/ent0n29/callrelay/internal/policy"
)

// Invocation is a completed function call emitted by the realtime backend.
type Invocation struct {
	CallID       string
	Name         string
	RawArguments string
}

// State tracks an invocation through dispatch.
type State string

const (
	StatePending   State = "pending"
	StateExecuted  State = "executed"
	StateReported  State = "reported"
	StateContinued State = "continued"
)

// Reporter delivers tool results back over the AI leg.
type Reporter interface {
	ReportResult(ctx context.Context, callID, output string) error
	Continue(ctx context.Context) error
}

// Outcome is the result of one Dispatch.
type Outcome struct {
	Invocation Invocation
	State      State
	Success    bool
	Output     string
	// ToolErr is the recoverable failure reported to the backend, if any.
	ToolErr error
}

type Dispatcher struct {
	registry *Registry
	logger   *zap.Logger
}

func NewDispatcher(registry *Registry, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{registry: registry, logger: logger}
}

// Dispatch runs one invocation to completion: execute, report exactly one
// result, then request continuation. Tool failures become unsuccessful
// results. The returned error is non-nil only when the AI leg could not be
// written to.
func (d *Dispatcher) Dispatch(ctx context.Context, sessionID string, inv Invocation, rep Reporter) (Outcome, error) {
	out := Outcome{Invocation: inv, State: StatePending}
	log := d.logger.With(zap.String("call_id", sessionID), zap.String("tool", inv.Name), zap.String("tool_call_id", inv.CallID))

	if ce := log.Check(zap.DebugLevel, "tool invocation received"); ce != nil {
		args, _ := policy.RedactPII(inv.RawArguments)
		ce.Write(zap.String("arguments", logging.Truncate(args, 500)))
	}

	result, toolErr := d.execute(ctx, sessionID, inv)
	out.State = StateExecuted
	out.ToolErr = toolErr
	if toolErr != nil {
		log.Warn("tool invocation failed", zap.Error(toolErr))
		result = map[string]any{"success": false, "error": toolErr.Error()}
	} else {
		if result == nil {
			result = map[string]any{}
		}
		if _, set := result["success"]; !set {
			result["success"] = true
		}
	}
	out.Success = toolErr == nil && result["success"] == true
	if toolErr == nil {
		log.Info("tool invocation finished", zap.Bool("success", out.Success))
	}

	encoded, err := json.Marshal(result)
	if err != nil {
		encoded, _ = json.Marshal(map[string]any{"success": false, "error": "result encoding failed"})
		out.Success = false
	}
	out.Output = string(encoded)

	if err := rep.ReportResult(ctx, inv.CallID, out.Output); err != nil {
		return out, fmt.Errorf("report tool result: %w", err)
	}
	out.State = StateReported

	if err := rep.Continue(ctx); err != nil {
		return out, fmt.Errorf("request continuation: %w", err)
	}
	out.State = StateContinued
	return out, nil
}

func (d *Dispatcher) execute(ctx context.Context, sessionID string, inv Invocation) (result map[string]any, err error) {
	def, handler, err := d.registry.Lookup(inv.Name)
	if err != nil {
		return nil, err
	}
	raw, err := ParseArguments(inv.RawArguments)
	if err != nil {
		return nil, err
	}
	args, err := def.Parameters.Validate(raw)
	if err != nil {
		return nil, err
	}

	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("tool %s panicked: %v", inv.Name, r)
		}
	}()
	return handler(ctx, Request{SessionID: sessionID, Invocation: inv, Args: args})
}
