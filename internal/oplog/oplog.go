// Package oplog implements the append-only, totally-ordered operation
// log described in spec.md §4.B. It is the sole source of truth; every
// other store in the system is derived and disposable.
package oplog

import (
	"sync"
	"time"

	"github.com/rumornet/core/internal/corepb"
	"go.uber.org/zap"
)

// Entry is one committed record in the log.
type Entry struct {
	Op         corepb.Op
	IngestedAt time.Time
	IngestIndex uint64
}

// Log is an append-only ordered sequence of entries. Insertion order is
// the sole ordering; there is no timestamp-based reordering (§3).
type Log struct {
	mu      sync.RWMutex
	entries []Entry
	logger  *zap.Logger
}

// New creates an empty log.
func New(logger *zap.Logger) *Log {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Log{logger: logger}
}

// Append assigns the next monotonic ingestIndex, stamps ingestedAt, and
// stores the entry. Returns the assigned entry.
func (l *Log) Append(op corepb.Op) Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	e := Entry{
		Op:          op,
		IngestedAt:  time.Now(),
		IngestIndex: uint64(len(l.entries)),
	}
	l.entries = append(l.entries, e)

	l.logger.Debug("appended op",
		zap.String("type", string(op.Type)),
		zap.Uint64("ingestIndex", e.IngestIndex))

	return e
}

// AppendBatch appends a batch of ops, sequentially equivalent to N
// singular appends (§4.B). An empty batch is a no-op (P9).
func (l *Log) AppendBatch(ops []corepb.Op) []Entry {
	out := make([]Entry, 0, len(ops))
	for _, op := range ops {
		out = append(out, l.Append(op))
	}
	return out
}

// Len returns the number of entries in the log.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Iter yields entries in insertion order via the supplied callback. The
// callback must not call back into the log (it holds a read lock for the
// duration of the snapshot it takes internally).
func (l *Log) Iter(fn func(Entry) bool) {
	l.mu.RLock()
	snapshot := make([]Entry, len(l.entries))
	copy(snapshot, l.entries)
	l.mu.RUnlock()

	for _, e := range snapshot {
		if !fn(e) {
			return
		}
	}
}

// All returns a copy of every entry in insertion order.
func (l *Log) All() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// ExportAll serializes the log for round-trip persistence (R1).
func (l *Log) ExportAll() []Entry {
	return l.All()
}

// ImportAll replaces the log contents wholesale with the given entries,
// preserving their ingestIndex. Used to restore from a persisted export;
// round-trip safe with ExportAll (R1).
func (l *Log) ImportAll(entries []Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = make([]Entry, len(entries))
	copy(l.entries, entries)
}
