// Package storage provides execution and definition store implementations.
//
// Implementations:
//   - redis: Redis with JSON serialization, TTL and optimistic transactions
//   - postgres: PostgreSQL via lib/pq with conditional updates
//   - memory: In-memory for tests and single-process deployments
package storage
