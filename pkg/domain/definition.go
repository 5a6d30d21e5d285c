package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Definition is a stored, versioned workflow description
type Definition struct {
	ID          string          `json:"id"`
	Name        string          `json:"name" validate:"required"`
	Description string          `json:"description,omitempty" validate:"max=1000"`
	Version     string          `json:"version" validate:"required"`
	Payload     json.RawMessage `json:"definition" validate:"required"`
	Active      bool            `json:"active"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
	CreatedBy   string          `json:"createdBy,omitempty"`
	Tags        string          `json:"tags,omitempty"`
}

// Clone returns a copy of d that shares no mutable state with it
func (d *Definition) Clone() *Definition {
	if d == nil {
		return nil
	}
	c := *d
	if d.Payload != nil {
		c.Payload = append(json.RawMessage(nil), d.Payload...)
	}
	return &c
}

// DefinitionRequest carries the caller-supplied fields of a new definition.
// Active defaults to true when omitted.
type DefinitionRequest struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Version     string          `json:"version"`
	Payload     json.RawMessage `json:"definition"`
	Active      *bool           `json:"active,omitempty"`
	CreatedBy   string          `json:"createdBy,omitempty"`
	Tags        string          `json:"tags,omitempty"`
}

// DefinitionFilter narrows definition listings
type DefinitionFilter struct {
	ActiveOnly bool
	Search     string
}

// Matches reports whether d satisfies f. Search is a case-insensitive
// substring match on the name.
func (f DefinitionFilter) Matches(d *Definition) bool {
	if f.ActiveOnly && !d.Active {
		return false
	}
	if f.Search != "" && !strings.Contains(strings.ToLower(d.Name), strings.ToLower(f.Search)) {
		return false
	}
	return true
}

// Plan is the typed form of a definition payload that the step engine runs
type Plan struct {
	Steps []PlanStep `json:"steps"`
}

// PlanStep is a single step of a Plan. A nil Delay leaves the wait to the
// engine's default; an explicit zero makes the step instantaneous.
type PlanStep struct {
	Name   string    `json:"name"`
	Delay  *Duration `json:"delay,omitempty"`
	Output Variables `json:"output,omitempty"`
	Fail   string    `json:"fail,omitempty"`
}

// Duration is a time.Duration that decodes from "1s" style strings or
// from a number of milliseconds
type Duration time.Duration

// UnmarshalJSON implements json.Unmarshaler
func (d *Duration) UnmarshalJSON(b []byte) error {
	var raw interface{}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case float64:
		*d = Duration(time.Duration(v * float64(time.Millisecond)))
	case string:
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid delay %q: %w", v, err)
		}
		*d = Duration(parsed)
	case nil:
		*d = 0
	default:
		return fmt.Errorf("invalid delay type %T", raw)
	}
	return nil
}

// MarshalJSON implements json.Marshaler
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// ParsePlan decodes a definition payload. An empty payload or one without
// steps yields a single implicit step named "main".
func ParsePlan(payload json.RawMessage) (*Plan, error) {
	plan := &Plan{}
	trimmed := strings.TrimSpace(string(payload))
	if trimmed != "" && trimmed != "null" {
		if err := json.Unmarshal(payload, plan); err != nil {
			return nil, fmt.Errorf("invalid definition payload: %w", err)
		}
	}
	if len(plan.Steps) == 0 {
		plan.Steps = []PlanStep{{Name: "main"}}
	}
	for i, step := range plan.Steps {
		if step.Name == "" {
			plan.Steps[i].Name = fmt.Sprintf("step-%d", i+1)
		}
		if step.Delay != nil && *step.Delay < 0 {
			return nil, fmt.Errorf("step %s: negative delay", plan.Steps[i].Name)
		}
	}
	return plan, nil
}
