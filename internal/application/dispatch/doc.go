// Package dispatch runs executions on the worker pool.
//
// The Dispatcher submits a single request and hands back a Future for its
// result. Batch fans a list of requests out over the same pool and returns
// one Outcome per request, in request order, whether it succeeded or not.
package dispatch
