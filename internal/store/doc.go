// Package store persists subscriptions together with a geohash-bucketed
// secondary index so the dispatcher can fetch candidates per cell.
//
// Two drivers exist:
//   - "sqlite": SQLite database file (default)
//   - "memory": in-process map, used by tests and local development
//
// A subscription lives in exactly one cell bucket, the one matching its
// current coordinates. The upsert sequence (read old row, move bucket, write
// row, bump counter) is intentionally not wrapped in one cross-key
// transaction; a crash mid-sequence self-heals on the next upsert.
package store
