// Package storage provides orchestration instance and dedup storage
// implementations.
//
// Implementations:
//   - redis: JSON documents with WATCH/MULTI compare-and-swap, SET NX dedup keys
//   - sqlite: single-file store with version-guarded UPDATE
//   - memory: In-memory for testing
package storage
