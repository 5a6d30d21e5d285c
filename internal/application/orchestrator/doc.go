// Package orchestrator implements the core orchestration logic for workflow executions.
//
// The orchestrator manager drives one execution end-to-end by:
//   - Loading the definition and refusing inactive ones before any record exists
//   - Applying status transitions through the state machine
//   - Persisting every transition with a compare-and-swap on the prior status
//   - Publishing lifecycle events after each persisted transition
//   - Invoking the step engine and recording its outcome
//
// The validator checks execution requests and definitions at the boundary.
package orchestrator
