// Package storage defines persistence interfaces for the cart service.
//
// It covers the event journal, per-tag consumer offsets, the cart report
// read model, and cluster membership with shard and consumer leases.
// Implementations live in subpackages: sqlite for durable deployments,
// postgres for the report store, memory for tests and standalone runs.
//
// Common error types:
//   - ErrNotFound: requested record is missing
//   - ErrConcurrentWrite: a cart sequence number was already written
package storage
