package domain

import "time"

// ExecutionStatus represents the lifecycle status of a workflow execution
type ExecutionStatus string

const (
	ExecutionStatusPending   ExecutionStatus = "PENDING"
	ExecutionStatusRunning   ExecutionStatus = "RUNNING"
	ExecutionStatusCompleted ExecutionStatus = "COMPLETED"
	ExecutionStatusFailed    ExecutionStatus = "FAILED"
	ExecutionStatusCancelled ExecutionStatus = "CANCELLED"
)

// IsTerminal reports whether no further transitions are allowed from s
func (s ExecutionStatus) IsTerminal() bool {
	switch s {
	case ExecutionStatusCompleted, ExecutionStatusFailed, ExecutionStatusCancelled:
		return true
	}
	return false
}

// IsValid reports whether s is one of the known statuses
func (s ExecutionStatus) IsValid() bool {
	switch s {
	case ExecutionStatusPending, ExecutionStatusRunning,
		ExecutionStatusCompleted, ExecutionStatusFailed, ExecutionStatusCancelled:
		return true
	}
	return false
}

// Variables maps variable names to JSON-compatible values
type Variables map[string]interface{}

// Clone returns a shallow copy of v. Nil stays nil.
func (v Variables) Clone() Variables {
	if v == nil {
		return nil
	}
	out := make(Variables, len(v))
	for k, val := range v {
		out[k] = val
	}
	return out
}

// Execution is one run of a workflow definition.
//
// CompletedAt is set if and only if Status is terminal. ErrorMessage is set
// only when Status is FAILED.
type Execution struct {
	ID              string          `json:"id"`
	DefinitionID    string          `json:"workflowDefinitionId"`
	CaseID          string          `json:"caseId"`
	Status          ExecutionStatus `json:"status"`
	InputVariables  Variables       `json:"inputVariables"`
	OutputVariables Variables       `json:"outputVariables,omitempty"`
	ErrorMessage    string          `json:"errorMessage,omitempty"`
	StartedAt       time.Time       `json:"startedAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
	CompletedAt     *time.Time      `json:"completedAt,omitempty"`
}

// Clone returns a copy of e that shares no mutable state with it
func (e *Execution) Clone() *Execution {
	if e == nil {
		return nil
	}
	c := *e
	c.InputVariables = e.InputVariables.Clone()
	c.OutputVariables = e.OutputVariables.Clone()
	if e.CompletedAt != nil {
		t := *e.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// ExecutionRequest asks for one run of a definition
type ExecutionRequest struct {
	DefinitionID   string    `json:"workflowDefinitionId" validate:"required"`
	CaseID         string    `json:"caseId,omitempty"`
	InputVariables Variables `json:"inputVariables,omitempty"`

	// ExecutionID pre-assigns the record id. Left empty, one is generated.
	ExecutionID string `json:"-"`
}

// ExecutionFilter narrows execution listings. Empty fields match everything.
type ExecutionFilter struct {
	DefinitionID string
	Status       ExecutionStatus
	CaseID       string
}

// Matches reports whether e satisfies every non-empty field of f
func (f ExecutionFilter) Matches(e *Execution) bool {
	if f.DefinitionID != "" && e.DefinitionID != f.DefinitionID {
		return false
	}
	if f.Status != "" && e.Status != f.Status {
		return false
	}
	if f.CaseID != "" && e.CaseID != f.CaseID {
		return false
	}
	return true
}
