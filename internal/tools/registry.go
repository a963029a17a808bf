package tools

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

var (
	ErrUnknownTool        = errors.New("unknown tool")
	ErrMalformedArguments = errors.New("malformed arguments")
	ErrInvalidArguments   = errors.New("invalid arguments")
	ErrDuplicateTool      = errors.New("tool already registered")
)

// Definition is one catalog entry as advertised to the realtime backend.
type Definition struct {
	Type        string `json:"type"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Parameters  Schema `json:"parameters"`
}

// Request carries a validated invocation into a handler.
type Request struct {
	SessionID  string
	Invocation Invocation
	Args       Arguments
}

// HandlerFunc executes a tool's side effects and returns the fields of a
// result. Returning an error produces an unsuccessful result; a handler may
// also report a soft failure by setting "success" to false itself.
type HandlerFunc func(ctx context.Context, req Request) (map[string]any, error)

type tool struct {
	def     Definition
	handler HandlerFunc
}

// Registry is the static tool catalog. It is safe for concurrent reads once
// process startup has finished registering tools.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]tool
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]tool)}
}

func (r *Registry) Register(def Definition, handler HandlerFunc) error {
	name := strings.TrimSpace(def.Name)
	if name == "" {
		return fmt.Errorf("tool name is required")
	}
	if handler == nil {
		return fmt.Errorf("tool %q: handler is required", name)
	}
	if def.Type == "" {
		def.Type = "function"
	}
	if def.Parameters.Type == "" {
		def.Parameters.Type = "object"
	}
	for _, req := range def.Parameters.Required {
		if _, ok := def.Parameters.Properties[req]; !ok {
			return fmt.Errorf("tool %q: required parameter %q is not declared", name, req)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateTool, name)
	}
	def.Name = name
	r.tools[name] = tool{def: def, handler: handler}
	return nil
}

// MustRegister is Register for startup wiring.
func (r *Registry) MustRegister(def Definition, handler HandlerFunc) {
	if err := r.Register(def, handler); err != nil {
		panic(err)
	}
}

func (r *Registry) Lookup(name string) (Definition, HandlerFunc, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	if !ok {
		return Definition{}, nil, fmt.Errorf("%w: %q", ErrUnknownTool, name)
	}
	return t.def, t.handler, nil
}

// Catalog returns the definitions sorted by name.
func (r *Registry) Catalog() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Definition, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t.def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
