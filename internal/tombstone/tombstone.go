// Package tombstone implements the Tombstone Authority (spec.md §4.D):
// validating and emitting logical-delete operations for rumors.
package tombstone

import (
	"sync"
	"time"

	"github.com/rumornet/core/internal/corepb"
	rnerrors "github.com/rumornet/core/internal/errors"
)

// Request is a host-side request to retract a rumor.
type Request struct {
	RumorID        corepb.RumorID
	AuthorNullifer corepb.Nullifier
	Reason         corepb.Reason
}

// Authority tracks registered rumor authorship and tombstoned rumors so
// it can validate retraction and administrative-removal requests before
// constructing a TOMBSTONE op for gossip.
type Authority struct {
	mu          sync.RWMutex
	authors     map[corepb.RumorID]corepb.Nullifier
	tombstoned  map[corepb.RumorID]struct{}
}

// New creates an empty Authority.
func New() *Authority {
	return &Authority{
		authors:    make(map[corepb.RumorID]corepb.Nullifier),
		tombstoned: make(map[corepb.RumorID]struct{}),
	}
}

// RegisterRumor records the author of a rumor as it is ingested, so
// future tombstone requests can be matched against it. Idempotent.
func (a *Authority) RegisterRumor(id corepb.RumorID, author corepb.Nullifier) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, exists := a.authors[id]; !exists {
		a.authors[id] = author
	}
}

// ObserveTombstone records that a rumor has been tombstoned (e.g. via
// gossip, or via a tombstone this authority itself just created), so
// later validate calls reject double-tombstoning.
func (a *Authority) ObserveTombstone(id corepb.RumorID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.tombstoned[id] = struct{}{}
}

// Create validates an author-initiated retraction request and returns
// a TOMBSTONE op ready for gossip.
func (a *Authority) Create(req Request) (corepb.Op, error) {
	a.mu.RLock()
	author, known := a.authors[req.RumorID]
	_, tombstoned := a.tombstoned[req.RumorID]
	a.mu.RUnlock()

	if !known {
		return corepb.Op{}, rnerrors.New(rnerrors.ErrTombstoneUnknown, "unknown target")
	}
	if tombstoned {
		return corepb.Op{}, rnerrors.New(rnerrors.ErrTombstoneAlready, "rumor already tombstoned")
	}
	if author != req.AuthorNullifer {
		return corepb.Op{}, rnerrors.New(rnerrors.ErrTombstoneNotAuthor, "author mismatch")
	}
	if !req.Reason.Valid() {
		return corepb.Op{}, rnerrors.New(rnerrors.ErrBadOp, "invalid reason")
	}

	return a.build(req.RumorID, req.AuthorNullifer, req.Reason), nil
}

// CreateAdministrative bypasses the author-match check. Admin authority
// itself is an external concern (e.g. a separately-verified admin
// credential); this function only constructs a valid op once the host
// has already authorized the action.
func (a *Authority) CreateAdministrative(rumorID corepb.RumorID, reason corepb.Reason, adminID corepb.Nullifier) (corepb.Op, error) {
	a.mu.RLock()
	_, known := a.authors[rumorID]
	_, tombstoned := a.tombstoned[rumorID]
	a.mu.RUnlock()

	if !known {
		return corepb.Op{}, rnerrors.New(rnerrors.ErrTombstoneUnknown, "unknown target")
	}
	if tombstoned {
		return corepb.Op{}, rnerrors.New(rnerrors.ErrTombstoneAlready, "rumor already tombstoned")
	}
	if reason == "" {
		reason = corepb.ReasonAdminRemoval
	}
	return a.build(rumorID, adminID, reason), nil
}

func (a *Authority) build(id corepb.RumorID, author corepb.Nullifier, reason corepb.Reason) corepb.Op {
	now := time.Now()
	a.ObserveTombstone(id)
	return corepb.Op{
		Type: corepb.OpTombstone,
		Tombstone: &corepb.Tombstone{
			RumorID:        id,
			Reason:         reason,
			AuthorNullifer: author,
			Timestamp:      now,
		},
		Timestamp: now,
	}
}
