// Package events provides event bus implementations.
//
// Both backends broadcast every event to a global stream and to the stream of
// the execution it concerns. Delivery is best-effort: a subscriber that falls
// behind loses events instead of slowing the publisher.
//
// Implementations:
//   - redis: Redis Streams, one XREAD cursor per subscriber
//   - memory: In-process channel fan-out
package events
