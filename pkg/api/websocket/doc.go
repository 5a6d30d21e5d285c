// Package websocket provides real-time event streaming via WebSocket.
//
// Clients connect to /api/v1/workflow-events/ws for the events of every
// execution, or to /api/v1/workflow-events/:executionId/ws for a single
// one. Each connection first receives a STATE_CHANGED welcome event, then
// one JSON text frame per lifecycle event.
package websocket
