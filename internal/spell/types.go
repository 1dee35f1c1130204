// Package spell defines the discoverable unit of magetools and the
// structures that track it: the Spell metadata record, the immutable
// Registry snapshot published per scan, and the Quarantine that isolates
// units which failed to load safely.
//
// Architecture:
//
//	Scanner → SnapshotBuilder → Registry.Swap() → readers hold one Snapshot
package spell

import (
	"context"
	"fmt"
	"strings"
)

// Param describes a single parameter of a spell's declared signature.
type Param struct {
	// Name is the parameter name as written in the source.
	Name string `json:"name"`

	// Type is the parameter's type tag: string, int, float64, or bool.
	Type string `json:"type"`

	// Required is false only for parameters the spell directive marks
	// optional; omitted optional arguments receive Default.
	Required bool `json:"required"`

	// Default is the value supplied when an optional parameter is omitted.
	Default any `json:"default,omitempty"`
}

// InvokeFunc is the signature bound to a discovered spell.
// Arguments arrive validated and normalized; the return value is the
// spell's printable result.
type InvokeFunc func(ctx context.Context, args map[string]any) (string, error)

// Spell is one discoverable callable with extracted metadata.
type Spell struct {
	// Name is the spell's local name within its grimorium.
	Name string

	// Grimorium is the owning grimorium's identifier.
	Grimorium string

	// Qualified is "grimorium.name", globally unique.
	Qualified string

	// Doc is the documentation comment extracted from the source.
	Doc string

	// Params is the declared parameter signature, in source order.
	Params []Param

	// File is the originating source file.
	File string

	// Invoke runs the spell.
	Invoke InvokeFunc
}

// Qualify builds the globally unique name for a spell.
func Qualify(grimorium, name string) string {
	return grimorium + "." + name
}

// SplitQualified splits "grimorium.name" into its parts. The spell name
// is everything after the first dot; grimorium identifiers cannot contain
// dots because they are single directory names.
func SplitQualified(qualified string) (grimorium, name string, ok bool) {
	i := strings.Index(qualified, ".")
	if i <= 0 || i == len(qualified)-1 {
		return "", "", false
	}
	return qualified[:i], qualified[i+1:], true
}

// Validate checks if the spell definition is usable.
func (s *Spell) Validate() error {
	if s.Name == "" {
		return ErrSpellNameEmpty
	}
	if s.Invoke == nil {
		return ErrSpellInvokeNil
	}
	return nil
}

// Signature renders the declared signature for discovery output,
// e.g. "Add(a int, b int)" with optionals as "b int = 0".
func (s *Spell) Signature() string {
	var b strings.Builder
	b.WriteString(s.Name)
	b.WriteByte('(')
	for i, p := range s.Params {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(p.Name)
		b.WriteByte(' ')
		b.WriteString(p.Type)
		if !p.Required {
			fmt.Fprintf(&b, " = %v", p.Default)
		}
	}
	b.WriteByte(')')
	return b.String()
}

// ValidateArgs checks the supplied arguments against the declared
// signature and returns a normalized copy: optional parameters filled
// with their defaults, numeric types coerced to the declared type.
// Unknown arguments are rejected so callers learn about typos instead of
// having them silently ignored.
func (s *Spell) ValidateArgs(args map[string]any) (map[string]any, error) {
	declared := make(map[string]Param, len(s.Params))
	for _, p := range s.Params {
		declared[p.Name] = p
	}

	for name := range args {
		if _, ok := declared[name]; !ok {
			return nil, fmt.Errorf("%w: unknown argument %q", ErrInvalidArgument, name)
		}
	}

	normalized := make(map[string]any, len(s.Params))
	for _, p := range s.Params {
		raw, present := args[p.Name]
		if !present {
			if p.Required {
				return nil, fmt.Errorf("%w: %s", ErrMissingRequiredArg, p.Name)
			}
			normalized[p.Name] = p.Default
			continue
		}
		v, err := coerceArg(p, raw)
		if err != nil {
			return nil, err
		}
		normalized[p.Name] = v
	}
	return normalized, nil
}

// coerceArg normalizes a supplied value to the parameter's declared type.
// JSON decoding hands numbers over as float64, so integral float64 values
// are accepted for int parameters.
func coerceArg(p Param, v any) (any, error) {
	switch p.Type {
	case "string":
		if s, ok := v.(string); ok {
			return s, nil
		}
	case "int":
		switch n := v.(type) {
		case int:
			return n, nil
		case int64:
			return int(n), nil
		case float64:
			if n == float64(int(n)) {
				return int(n), nil
			}
		}
	case "float64":
		switch n := v.(type) {
		case float64:
			return n, nil
		case int:
			return float64(n), nil
		case int64:
			return float64(n), nil
		}
	case "bool":
		if b, ok := v.(bool); ok {
			return b, nil
		}
	}
	return nil, fmt.Errorf("%w: %s expects %s, got %T", ErrInvalidArgType, p.Name, p.Type, v)
}

// ZeroValue returns the zero value for a parameter type tag. Used as the
// default for optional parameters.
func ZeroValue(typeTag string) any {
	switch typeTag {
	case "string":
		return ""
	case "int":
		return 0
	case "float64":
		return 0.0
	case "bool":
		return false
	}
	return nil
}

// InvokeResult wraps the outcome of a spell invocation with metadata.
type InvokeResult struct {
	// Spell is the qualified name that was invoked.
	Spell string

	// Result is the spell's printable output.
	Result string

	// Error is set if the invocation failed.
	Error error

	// DurationMs is how long the invocation took.
	DurationMs int64
}

// IsSuccess returns true if the spell executed without error.
func (r *InvokeResult) IsSuccess() bool {
	return r.Error == nil
}
