// Package http provides the HTTP REST API implementation.
//
// The HTTP server exposes endpoints for:
//   - Workflow execution (synchronous, asynchronous and batch)
//   - Execution queries and cancellation
//   - Workflow definition management
//   - Health checks and Prometheus metrics
//
// Errors use a single envelope, {"error":{"code","message","details"}},
// where code is one of the domain error codes.
package http
