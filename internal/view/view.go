// Package view maintains the materialized view derived from the op
// log: rumors, votes-per-rumor, tombstones, and reputation seeds
// (spec.md §4.C). It is a pure function of the log and is disposable.
package view

import (
	"reflect"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rumornet/core/internal/corepb"
	"github.com/rumornet/core/internal/oplog"
	"go.uber.org/zap"
)

// SnapshotInterval is the default number of applied ops between
// automatic snapshots (§4.C).
const SnapshotInterval = 10

// InitialTrustScore seeds a freshly-joined member's reputation.
const InitialTrustScore = 10.0

// State is the four derived maps the view maintains.
type State struct {
	Rumors      map[corepb.RumorID]corepb.Rumor
	Votes       map[corepb.RumorID][]corepb.Vote
	Tombstones  map[corepb.RumorID]struct{}
	Reputation  map[corepb.Nullifier]float64
}

func newState() *State {
	return &State{
		Rumors:     make(map[corepb.RumorID]corepb.Rumor),
		Votes:      make(map[corepb.RumorID][]corepb.Vote),
		Tombstones: make(map[corepb.RumorID]struct{}),
		Reputation: make(map[corepb.Nullifier]float64),
	}
}

// Equal performs structural equality across all four maps (P1).
func (s *State) Equal(o *State) bool {
	if len(s.Rumors) != len(o.Rumors) || len(s.Tombstones) != len(o.Tombstones) || len(s.Reputation) != len(o.Reputation) {
		return false
	}
	for id, r := range s.Rumors {
		or, ok := o.Rumors[id]
		if !ok || r != or {
			return false
		}
	}
	for id := range s.Tombstones {
		if _, ok := o.Tombstones[id]; !ok {
			return false
		}
	}
	for n, sc := range s.Reputation {
		if o.Reputation[n] != sc {
			return false
		}
	}
	if len(s.Votes) != len(o.Votes) {
		return false
	}
	for id, vs := range s.Votes {
		ovs, ok := o.Votes[id]
		if !ok || len(vs) != len(ovs) {
			return false
		}
		for i := range vs {
			if !reflect.DeepEqual(vs[i], ovs[i]) {
				return false
			}
		}
	}
	return true
}

// Snapshot is an opaque, emitted record of the view at a point in time.
type Snapshot struct {
	SnapshotID       string
	Timestamp        time.Time
	OpLogLength      int
	ActiveRumors     int
	TombstonedRumors int
	TotalVotes       int
	RegisteredUsers  int
	StateCopy        *State
}

// SnapshotListener is invoked whenever a new snapshot is emitted.
type SnapshotListener func(Snapshot)

// View incrementally derives state from an op log and periodically
// emits snapshots. Grounded on internal/consensus/crdt/state.go's
// incrementally-applied derived-state shape and
// internal/core/eventbus.go's publish-on-event pattern.
type View struct {
	log       *oplog.Log
	state     *State
	applied   int
	listeners []SnapshotListener
	logger    *zap.Logger
}

// New creates a View bound to the given log, starting from empty state.
func New(log *oplog.Log, logger *zap.Logger) *View {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &View{log: log, state: newState(), logger: logger}
}

// OnSnapshot registers a listener invoked on every emitted snapshot.
func (v *View) OnSnapshot(fn SnapshotListener) {
	v.listeners = append(v.listeners, fn)
}

// State returns the live derived state (read-only use by callers).
func (v *View) State() *State {
	return v.state
}

// Apply folds one newly-appended op into the incremental state,
// following the rules in §4.C, then emits a snapshot every
// SnapshotInterval applied ops.
func (v *View) Apply(op corepb.Op) {
	v.applyOne(v.state, op)
	v.applied++

	if v.applied%SnapshotInterval == 0 {
		v.emitSnapshot()
	}
}

func (v *View) applyOne(s *State, op corepb.Op) {
	switch op.Type {
	case corepb.OpRumor:
		if op.Rumor == nil {
			return
		}
		id := op.Rumor.ID
		if _, tombstoned := s.Tombstones[id]; tombstoned {
			return
		}
		if _, exists := s.Rumors[id]; exists {
			return
		}
		s.Rumors[id] = *op.Rumor

	case corepb.OpVote:
		if op.Vote == nil {
			return
		}
		id := op.Vote.RumorID
		if _, tombstoned := s.Tombstones[id]; tombstoned {
			return
		}
		s.Votes[id] = append(s.Votes[id], *op.Vote)

	case corepb.OpTombstone:
		if op.Tombstone == nil {
			return
		}
		id := op.Tombstone.RumorID
		s.Tombstones[id] = struct{}{}
		delete(s.Rumors, id)
		delete(s.Votes, id)

	case corepb.OpJoin:
		if op.Join == nil {
			return
		}
		if _, exists := s.Reputation[op.Join.Nullifier]; !exists {
			s.Reputation[op.Join.Nullifier] = InitialTrustScore
		}
	}
}

// Rebuild performs the two-pass reconstruction described in §4.C: pass
// one collects the tombstone set, pass two folds every non-tombstoned
// op into fresh state. Rebuild is idempotent (P1): two successive
// rebuilds over an unchanged log produce structurally equal state.
func (v *View) Rebuild() *State {
	tombstones := make(map[corepb.RumorID]struct{})
	v.log.Iter(func(e oplog.Entry) bool {
		if e.Op.Type == corepb.OpTombstone && e.Op.Tombstone != nil {
			tombstones[e.Op.Tombstone.RumorID] = struct{}{}
		}
		return true
	})

	fresh := newState()
	for id := range tombstones {
		fresh.Tombstones[id] = struct{}{}
	}
	seenVote := make(map[string]struct{}) // (rumorId, voterNullifier) -> first vote wins

	v.log.Iter(func(e oplog.Entry) bool {
		op := e.Op
		switch op.Type {
		case corepb.OpRumor:
			if op.Rumor == nil {
				return true
			}
			if _, tomb := tombstones[op.Rumor.ID]; tomb {
				return true
			}
			if _, exists := fresh.Rumors[op.Rumor.ID]; !exists {
				fresh.Rumors[op.Rumor.ID] = *op.Rumor
			}
		case corepb.OpVote:
			if op.Vote == nil {
				return true
			}
			if _, tomb := tombstones[op.Vote.RumorID]; tomb {
				return true
			}
			key := string(op.Vote.RumorID) + "|" + string(op.Vote.VoterNullifer)
			if _, dup := seenVote[key]; dup {
				return true
			}
			seenVote[key] = struct{}{}
			fresh.Votes[op.Vote.RumorID] = append(fresh.Votes[op.Vote.RumorID], *op.Vote)
		case corepb.OpJoin:
			if op.Join == nil {
				return true
			}
			if _, exists := fresh.Reputation[op.Join.Nullifier]; !exists {
				fresh.Reputation[op.Join.Nullifier] = InitialTrustScore
			}
		}
		return true
	})

	v.state = fresh
	v.applied = v.log.Len()
	v.emitSnapshot()
	return fresh
}

// Snapshot builds and returns a point-in-time snapshot of the current
// state without notifying listeners or advancing the snapshot cadence;
// for on-demand reads (e.g. an admin-surface query).
func (v *View) Snapshot() Snapshot {
	return v.buildSnapshot()
}

func (v *View) emitSnapshot() {
	snap := v.buildSnapshot()
	v.logger.Info("snapshot emitted",
		zap.String("snapshotId", snap.SnapshotID),
		zap.Int("opLogLength", snap.OpLogLength),
		zap.Int("activeRumors", snap.ActiveRumors))

	for _, l := range v.listeners {
		l(snap)
	}
}

func (v *View) buildSnapshot() Snapshot {
	s := v.state
	cp := &State{
		Rumors:     make(map[corepb.RumorID]corepb.Rumor, len(s.Rumors)),
		Votes:      make(map[corepb.RumorID][]corepb.Vote, len(s.Votes)),
		Tombstones: make(map[corepb.RumorID]struct{}, len(s.Tombstones)),
		Reputation: make(map[corepb.Nullifier]float64, len(s.Reputation)),
	}
	for k, v2 := range s.Rumors {
		cp.Rumors[k] = v2
	}
	for k, v2 := range s.Votes {
		vs := make([]corepb.Vote, len(v2))
		copy(vs, v2)
		cp.Votes[k] = vs
	}
	for k := range s.Tombstones {
		cp.Tombstones[k] = struct{}{}
	}
	for k, v2 := range s.Reputation {
		cp.Reputation[k] = v2
	}

	totalVotes := 0
	for _, vs := range cp.Votes {
		totalVotes += len(vs)
	}

	snap := Snapshot{
		SnapshotID:       uuid.NewString(),
		Timestamp:        time.Now(),
		OpLogLength:      v.log.Len(),
		ActiveRumors:     len(cp.Rumors),
		TombstonedRumors: len(cp.Tombstones),
		TotalVotes:       totalVotes,
		RegisteredUsers:  len(cp.Reputation),
		StateCopy:        cp,
	}
	return snap
}

// SortedNullifiers returns the keys of a reputation map in sorted
// order, used by pkg/node when recording reputation metrics so that no
// reliance on map iteration order creeps in (§9 Float determinism).
func SortedNullifiers(m map[corepb.Nullifier]float64) []corepb.Nullifier {
	out := make([]corepb.Nullifier, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
