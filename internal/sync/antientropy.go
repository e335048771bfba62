package sync

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// SyncCooldown is the minimum interval between two sync exchanges with
// the same peer (§4.I step 1).
const SyncCooldown = 30 * time.Second

// MaxBatchSize bounds how many entries one store includes per response
// batch (§4.I step 2).
const MaxBatchSize = 100

// StoreKeys enumerates the four Merkle-tracked stores.
var StoreKeys = []string{"rumors", "votes", "identities", "reputation"}

// Roots is a peer's declared per-store Merkle roots.
type Roots map[string][32]byte

// Request is a SYNC_REQUEST payload: the requester's roots.
type Request struct {
	Peer  string
	Roots Roots
}

// Batch is the entries one store contributes to a SYNC_RESPONSE.
type Batch struct {
	StoreKey string
	Entries  []Entry
}

// Response is a SYNC_RESPONSE payload.
type Response struct {
	Batches []Batch
}

// PeerStats tracks per-peer exchange history.
type PeerStats struct {
	LastSync time.Time
}

// Stats aggregates global sync activity counters (§4.I).
type Stats struct {
	SyncCount       int
	EntriesReceived int
	EntriesSent     int
}

// Store provides the local entries and current root for one store key,
// and accepts read-repaired entries. Implementations own their own
// locking; the anti-entropy cycle never mutates store internals
// directly.
type Store interface {
	Entries(storeKey string) []Entry
	Root(storeKey string) [32]byte
	Insert(storeKey string, entry Entry) (inserted bool)
	HasLeaf(storeKey string, leaf [32]byte) bool
}

// Engine drives sync cycles against a local Store.
type Engine struct {
	mu     sync.Mutex
	store  Store
	peers  map[string]*PeerStats
	stats  Stats
	logger *zap.Logger
}

// New creates an Engine bound to store.
func New(store Store, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{store: store, peers: make(map[string]*PeerStats), logger: logger}
}

// Stats returns a snapshot of the aggregate sync counters.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

// LastSync returns the last recorded exchange time with peer, or the
// zero time if none.
func (e *Engine) LastSync(peer string) time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	if p, ok := e.peers[peer]; ok {
		return p.LastSync
	}
	return time.Time{}
}

// BuildRequest constructs a SYNC_REQUEST for peer, honoring the
// per-peer cooldown: returns (Request{}, false) if a prior exchange is
// more recent than SyncCooldown. Issuing a request counts as an exchange,
// so the cooldown applies even if no response ever arrives.
func (e *Engine) BuildRequest(peer string) (Request, bool) {
	e.mu.Lock()
	last, known := e.peers[peer]
	if known && time.Since(last.LastSync) < SyncCooldown {
		e.mu.Unlock()
		return Request{}, false
	}
	e.recordExchangeLocked(peer)
	e.mu.Unlock()

	roots := make(Roots, len(StoreKeys))
	for _, key := range StoreKeys {
		roots[key] = e.store.Root(key)
	}
	return Request{Peer: peer, Roots: roots}, true
}

// HandleRequest answers a SYNC_REQUEST with up to MaxBatchSize local
// entries per store whose root differs from (or is absent from) the
// requester's declared roots.
func (e *Engine) HandleRequest(req Request) Response {
	var resp Response
	for _, key := range StoreKeys {
		localRoot := e.store.Root(key)
		peerRoot, present := req.Roots[key]
		if present && peerRoot == localRoot {
			continue
		}
		entries := e.store.Entries(key)
		sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
		if len(entries) > MaxBatchSize {
			entries = entries[:MaxBatchSize]
		}
		resp.Batches = append(resp.Batches, Batch{StoreKey: key, Entries: entries})
	}

	e.mu.Lock()
	e.stats.SyncCount++
	for _, b := range resp.Batches {
		e.stats.EntriesSent += len(b.Entries)
	}
	e.recordExchangeLocked(req.Peer)
	e.mu.Unlock()

	return resp
}

// ApplyResponse performs read-repair over a SYNC_RESPONSE: entries
// absent from the local leaf set are inserted; no entry is ever
// removed by sync.
func (e *Engine) ApplyResponse(peer string, resp Response) int {
	inserted := 0
	for _, batch := range resp.Batches {
		for _, entry := range batch.Entries {
			leaf := leafHash(entry)
			if e.store.HasLeaf(batch.StoreKey, leaf) {
				continue
			}
			if e.store.Insert(batch.StoreKey, entry) {
				inserted++
			}
		}
	}

	e.mu.Lock()
	e.stats.EntriesReceived += inserted
	e.recordExchangeLocked(peer)
	e.mu.Unlock()

	e.logger.Debug("sync read-repair applied", zap.String("peer", peer), zap.Int("inserted", inserted))
	return inserted
}

func (e *Engine) recordExchangeLocked(peer string) {
	if peer == "" {
		return
	}
	p, ok := e.peers[peer]
	if !ok {
		p = &PeerStats{}
		e.peers[peer] = p
	}
	p.LastSync = time.Now()
}
