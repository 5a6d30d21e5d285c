// Package domain holds the types shared by every layer of the orchestrator:
// workflow executions and their statuses, workflow definitions, lifecycle
// events and the error taxonomy surfaced to callers.
package domain
