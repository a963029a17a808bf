package tools

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"
)

type ParamType string

const (
	TypeString  ParamType = "string"
	TypeNumber  ParamType = "number"
	TypeInteger ParamType = "integer"
	TypeBoolean ParamType = "boolean"
)

type Property struct {
	Type        ParamType `json:"type"`
	Description string    `json:"description"`
	Enum        []string  `json:"enum,omitempty"`
}

type Schema struct {
	Type       string              `json:"type"`
	Properties map[string]Property `json:"properties"`
	Required   []string            `json:"required,omitempty"`
}

// Arguments are tool arguments after schema validation.
type Arguments map[string]any

func (a Arguments) String(key string) string {
	s, _ := a[key].(string)
	return s
}

func (a Arguments) Float(key string) float64 {
	f, _ := a[key].(float64)
	return f
}

func (a Arguments) Int(key string) int64 {
	n, _ := a[key].(int64)
	return n
}

func (a Arguments) Bool(key string) bool {
	b, _ := a[key].(bool)
	return b
}

// ParseArguments is the first parse stage: raw text to a generic object.
func ParseArguments(raw string) (map[string]any, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return map[string]any{}, nil
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(trimmed)))
	var out map[string]any
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedArguments, err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("%w: trailing data after object", ErrMalformedArguments)
	}
	if out == nil {
		return nil, fmt.Errorf("%w: expected a JSON object", ErrMalformedArguments)
	}
	return out, nil
}

// Validate is the second parse stage: it checks required parameters and
// coerces declared parameters to their schema types. Undeclared keys pass
// through unchanged.
func (s Schema) Validate(raw map[string]any) (Arguments, error) {
	out := make(Arguments, len(raw))
	for k, v := range raw {
		out[k] = v
	}

	var problems []string
	for _, name := range s.Required {
		v, ok := raw[name]
		if !ok || v == nil {
			problems = append(problems, fmt.Sprintf("%s is required", name))
			continue
		}
		if str, isStr := v.(string); isStr && strings.TrimSpace(str) == "" {
			problems = append(problems, fmt.Sprintf("%s must not be empty", name))
		}
	}

	names := make([]string, 0, len(s.Properties))
	for name := range s.Properties {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		v, ok := raw[name]
		if !ok || v == nil {
			continue
		}
		prop := s.Properties[name]
		coerced, err := coerce(prop.Type, v)
		if err != nil {
			problems = append(problems, fmt.Sprintf("%s: %v", name, err))
			continue
		}
		if len(prop.Enum) > 0 {
			if str, _ := coerced.(string); !contains(prop.Enum, str) {
				problems = append(problems, fmt.Sprintf("%s: %q is not one of %s", name, str, strings.Join(prop.Enum, ", ")))
				continue
			}
		}
		out[name] = coerced
	}

	if len(problems) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidArguments, strings.Join(problems, "; "))
	}
	return out, nil
}

func coerce(t ParamType, v any) (any, error) {
	switch t {
	case TypeString, "":
		switch x := v.(type) {
		case string:
			return x, nil
		case float64:
			return strconv.FormatFloat(x, 'f', -1, 64), nil
		case bool:
			return strconv.FormatBool(x), nil
		}
	case TypeNumber:
		switch x := v.(type) {
		case float64:
			return x, nil
		case string:
			f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
			if err == nil {
				return f, nil
			}
		}
	case TypeInteger:
		switch x := v.(type) {
		case float64:
			if x == math.Trunc(x) {
				return int64(x), nil
			}
		case string:
			n, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64)
			if err == nil {
				return n, nil
			}
		}
	case TypeBoolean:
		switch x := v.(type) {
		case bool:
			return x, nil
		case string:
			b, err := strconv.ParseBool(strings.TrimSpace(x))
			if err == nil {
				return b, nil
			}
		}
	default:
		return v, nil
	}
	return nil, fmt.Errorf("expected %s, got %T", t, v)
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
