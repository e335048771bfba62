// Package persistence provides the key/value blob Store abstraction
// used to persist the op log, snapshots, and reputation ledger exports
// across node restarts.
//
// Grounded on internal/core/storage.go's Storage interface (context
// first, byte-oriented Get/Set/Delete) and internal/storage/storage.go's
// driver-backed implementations (lib/pq, go-redis/v8).
package persistence

import "context"

// Store is a minimal byte-blob key/value interface. Keys are
// namespaced by caller convention (e.g. "oplog:", "snapshot:",
// "reputation:").
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) ([]string, error)
	Close() error
}
