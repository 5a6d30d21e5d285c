// Package workers implements the bounded worker pool that runs executions.
//
// The pool keeps a fixed set of core goroutines and grows up to a maximum
// with burst workers when its queue is full:
//   - Submit never blocks; it queues, adds a burst worker, or rejects
//   - Burst workers retire after a keep-alive period without work
//   - Shutdown stops intake and drains queued tasks before returning
//
// The health monitor tracks worker status and logs metrics.
package workers
