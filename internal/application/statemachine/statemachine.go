// Package statemachine validates and applies execution status transitions.
//
// Transition is the only code path that writes Execution.Status:
//
//	PENDING -> RUNNING -> COMPLETED | FAILED
//	PENDING | RUNNING -> CANCELLED
//
// COMPLETED, FAILED and CANCELLED are terminal.
package statemachine

import (
	"fmt"
	"time"

	"github.com/aescanero/unite/pkg/domain"
)

var transitions = map[domain.ExecutionStatus][]domain.ExecutionStatus{
	domain.ExecutionStatusPending: {domain.ExecutionStatusRunning, domain.ExecutionStatusCancelled},
	domain.ExecutionStatusRunning: {domain.ExecutionStatusCompleted, domain.ExecutionStatusFailed, domain.ExecutionStatusCancelled},
}

// CanTransition reports whether to is reachable from from in one step
func CanTransition(from, to domain.ExecutionStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition moves execution to target, stamping UpdatedAt and, for
// terminal targets, CompletedAt. The record is left untouched on error.
func Transition(execution *domain.Execution, target domain.ExecutionStatus, now time.Time) error {
	if execution == nil {
		return fmt.Errorf("%w: nil execution", domain.ErrInvalidTransition)
	}
	if !CanTransition(execution.Status, target) {
		return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, execution.Status, target)
	}

	execution.Status = target
	execution.UpdatedAt = now
	if target.IsTerminal() {
		completedAt := now
		execution.CompletedAt = &completedAt
	}
	return nil
}

// NewExecution builds a record in the entry state
func NewExecution(id, definitionID, caseID string, inputs domain.Variables, now time.Time) *domain.Execution {
	if inputs == nil {
		inputs = domain.Variables{}
	}
	return &domain.Execution{
		ID:             id,
		DefinitionID:   definitionID,
		CaseID:         caseID,
		Status:         domain.ExecutionStatusPending,
		InputVariables: inputs,
		StartedAt:      now,
		UpdatedAt:      now,
	}
}
