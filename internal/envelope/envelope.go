// Package envelope implements the gossip wire schema, per-type payload
// validation, and nullifier-scoped deduplication described in
// spec.md §4.A.
package envelope

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rumornet/core/internal/corepb"
	rnerrors "github.com/rumornet/core/internal/errors"
	"github.com/rumornet/core/internal/identity"
	syncpkg "github.com/rumornet/core/internal/sync"
	"go.uber.org/zap"
)

// MaxMessageSize is the serialized-size ceiling (§4.A, §6): 64 KiB.
const MaxMessageSize = 64 * 1024

// PredictionTolerance bounds |sum(prediction) - 1.0| (I3).
const PredictionTolerance = 0.02

// ZKProof carries the membership proof to be checked against the last
// ROOT_HISTORY_SIZE known Merkle roots by the identity collaborator
// (§6). Proof is opaque to the core; MerkleRoot/Nullifier are the
// self-declared values used only when no MembershipVerifier is wired
// (local/test operation).
type ZKProof struct {
	Nullifier  corepb.Nullifier `json:"nullifier" validate:"required"`
	MerkleRoot string           `json:"merkleRoot,omitempty"`
	Proof      []byte           `json:"proof,omitempty"`
}

// DKIMProof carries the raw signed join email plus the domain it
// claims to attest, for verification via the DKIMVerifier collaborator
// (§6).
type DKIMProof struct {
	Domain   string `json:"domain" validate:"required"`
	EmlBytes []byte `json:"emlBytes,omitempty"`
}

// RumorPayload is the wire shape of a RUMOR envelope.
type RumorPayload struct {
	ID        corepb.RumorID `json:"id" validate:"required"`
	Text      string         `json:"text" validate:"required,max=2000"`
	Topic     corepb.Topic   `json:"topic" validate:"required"`
	ZKProof   ZKProof        `json:"zkProof" validate:"required"`
	Timestamp time.Time      `json:"timestamp"`
}

// VotePayload is the wire shape of a VOTE envelope.
type VotePayload struct {
	RumorID     corepb.RumorID           `json:"rumorId" validate:"required"`
	Vote        corepb.Choice            `json:"vote" validate:"required"`
	Prediction  map[corepb.Choice]float64 `json:"prediction" validate:"required"`
	StakeAmount int64                    `json:"stakeAmount" validate:"required,min=1"`
	ZKProof     ZKProof                  `json:"zkProof" validate:"required"`
	Timestamp   time.Time                `json:"timestamp"`
}

// JoinPayload is the wire shape of a JOIN envelope.
type JoinPayload struct {
	Commitment corepb.Commitment `json:"commitment" validate:"required"`
	DKIMProof  DKIMProof         `json:"dkimProof" validate:"required"`
	Timestamp  time.Time         `json:"timestamp"`
}

// TombstonePayload is the wire shape of a TOMBSTONE envelope.
type TombstonePayload struct {
	RumorID   corepb.RumorID `json:"rumorId" validate:"required"`
	Reason    corepb.Reason  `json:"reason" validate:"required"`
	ZKProof   ZKProof        `json:"zkProof" validate:"required"`
	Timestamp time.Time      `json:"timestamp"`
}

// SyncRequestPayload is the wire shape of a SYNC_REQUEST envelope (§6):
// the requester's declared per-store Merkle roots, hex-encoded.
type SyncRequestPayload struct {
	Roots map[string]string `json:"roots" validate:"required"`
}

// syncEntryWire is one Merkle-tree entry as carried over the wire.
type syncEntryWire struct {
	Key       string `json:"key" validate:"required"`
	Canonical []byte `json:"canonical"`
}

// SyncResponsePayload is the wire shape of a SYNC_RESPONSE envelope
// (§6): per-store entries the requester is missing, plus which stores
// were found out of sync.
type SyncResponsePayload struct {
	Roots           map[string]string          `json:"roots,omitempty"`
	MissingEntries  map[string][]syncEntryWire `json:"missingEntries,omitempty"`
	StoresOutOfSync []string                   `json:"storesOutOfSync,omitempty"`
}

// Envelope is the outer wire shape for every topic (§6).
type Envelope struct {
	Type      corepb.OpType   `json:"type"`
	Version   string          `json:"version"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp *time.Time      `json:"timestamp,omitempty"`
}

const currentVersion = "1.0"

// Validator parses, schema-checks, and deduplicates gossiped envelopes.
// Grounded on internal/validation/validator.go's struct-tag wrapping
// pattern, extended with the cross-field checks struct tags cannot
// express (prediction-sum tolerance, serialized-size ceiling).
type Validator struct {
	mu         sync.Mutex
	seen       map[string]struct{} // scope -> nullifier seen
	v          *validator.Validate
	logger     *zap.Logger
	membership identity.MembershipVerifier
	dkim       identity.DKIMVerifier
	knownRoots []string
}

// NewValidator creates a Validator with an empty dedup set. membership
// and dkim may be nil, in which case the corresponding proofs are
// trusted as self-declared (local/test operation without a real
// collaborator wired).
func NewValidator(logger *zap.Logger, membership identity.MembershipVerifier, dkim identity.DKIMVerifier) *Validator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Validator{
		seen:       make(map[string]struct{}),
		v:          validator.New(),
		logger:     logger,
		membership: membership,
		dkim:       dkim,
	}
}

// SetKnownRoots updates the membership-set root history passed to the
// MembershipVerifier collaborator (the last ROOT_HISTORY_SIZE=10 roots,
// per §6, to tolerate propagation delay).
func (val *Validator) SetKnownRoots(roots []string) {
	val.mu.Lock()
	defer val.mu.Unlock()
	val.knownRoots = roots
}

// DropReason explains why an envelope was silently dropped.
type DropReason string

const (
	DropSchema     DropReason = "schema"
	DropDuplicate  DropReason = "duplicate"
	DropTooLarge   DropReason = "too_large"
	DropBadVersion DropReason = "bad_version"
	DropIdentity   DropReason = "identity"
)

// Result is the outcome of Validate: either a parsed Op, or a drop
// reason. Gossip-path failures never return a Go error (§4.A, §7) —
// they are silently dropped, matching the propagation policy.
type Result struct {
	Op      *corepb.Op
	Dropped DropReason
}

// Validate parses and admits a single gossip message; the op type is
// taken from the envelope's own type field. serialized must be the exact bytes that would be put on the
// wire (used for the MAX_MESSAGE_SIZE check). ctx bounds any external
// collaborator call (membership/DKIM verification).
func (val *Validator) Validate(ctx context.Context, serialized []byte) Result {
	if len(serialized) > MaxMessageSize {
		return Result{Dropped: DropTooLarge}
	}

	var env Envelope
	if err := json.Unmarshal(serialized, &env); err != nil {
		return Result{Dropped: DropSchema}
	}
	if env.Version != currentVersion {
		return Result{Dropped: DropBadVersion}
	}

	ts := time.Now()
	if env.Timestamp != nil {
		ts = *env.Timestamp
	}

	var op corepb.Op
	switch env.Type {
	case corepb.OpRumor:
		var p RumorPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return Result{Dropped: DropSchema}
		}
		if err := val.v.Struct(p); err != nil {
			return Result{Dropped: DropSchema}
		}
		if !p.Topic.Valid() || len(p.Text) > 2000 {
			return Result{Dropped: DropSchema}
		}
		nullifier, ok := val.verifyNullifier(ctx, p.ZKProof)
		if !ok {
			return Result{Dropped: DropIdentity}
		}
		op = corepb.Op{
			Type: corepb.OpRumor,
			Rumor: &corepb.Rumor{
				ID:             p.ID,
				Text:           p.Text,
				Topic:          p.Topic,
				AuthorNullifer: nullifier,
				Timestamp:      ts,
			},
			Timestamp: ts,
		}

	case corepb.OpVote:
		var p VotePayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return Result{Dropped: DropSchema}
		}
		if err := val.v.Struct(p); err != nil {
			return Result{Dropped: DropSchema}
		}
		if !p.Vote.Valid() || p.StakeAmount < 1 {
			return Result{Dropped: DropSchema}
		}
		if !predictionSumOK(p.Prediction) {
			return Result{Dropped: DropSchema}
		}
		voterNullifier, ok := val.verifyNullifier(ctx, p.ZKProof)
		if !ok {
			return Result{Dropped: DropIdentity}
		}
		floored := floorPrediction(p.Prediction)
		op = corepb.Op{
			Type: corepb.OpVote,
			Vote: &corepb.Vote{
				RumorID:       p.RumorID,
				VoterNullifer: voterNullifier,
				Choice:        p.Vote,
				Prediction:    floored,
				StakeAmount:   p.StakeAmount,
				Timestamp:     ts,
			},
			Timestamp: ts,
		}

	case corepb.OpJoin:
		var p JoinPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return Result{Dropped: DropSchema}
		}
		if err := val.v.Struct(p); err != nil {
			return Result{Dropped: DropSchema}
		}
		if val.dkim != nil {
			res, err := val.dkim.VerifyDKIM(ctx, p.DKIMProof.EmlBytes)
			if err != nil || !res.OK {
				return Result{Dropped: DropIdentity}
			}
			if res.SigningDomain != p.DKIMProof.Domain {
				return Result{Dropped: DropIdentity}
			}
		}
		op = corepb.Op{
			Type: corepb.OpJoin,
			Join: &corepb.Join{
				Commitment: p.Commitment,
				Nullifier:  nullifierFromJoin(p),
				Timestamp:  ts,
			},
			Timestamp: ts,
		}

	case corepb.OpTombstone:
		var p TombstonePayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return Result{Dropped: DropSchema}
		}
		if err := val.v.Struct(p); err != nil {
			return Result{Dropped: DropSchema}
		}
		if !p.Reason.Valid() {
			return Result{Dropped: DropSchema}
		}
		tombstoneNullifier, ok := val.verifyNullifier(ctx, p.ZKProof)
		if !ok {
			return Result{Dropped: DropIdentity}
		}
		op = corepb.Op{
			Type: corepb.OpTombstone,
			Tombstone: &corepb.Tombstone{
				RumorID:        p.RumorID,
				Reason:         p.Reason,
				AuthorNullifer: tombstoneNullifier,
				Timestamp:      ts,
			},
			Timestamp: ts,
		}

	case corepb.OpSyncRequest:
		var p SyncRequestPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return Result{Dropped: DropSchema}
		}
		if err := val.v.Struct(p); err != nil {
			return Result{Dropped: DropSchema}
		}
		roots, ok := decodeRoots(p.Roots)
		if !ok {
			return Result{Dropped: DropSchema}
		}
		op = corepb.Op{
			Type:        corepb.OpSyncRequest,
			SyncRequest: &syncpkg.Request{Roots: roots},
			Timestamp:   ts,
		}

	case corepb.OpSyncResponse:
		var p SyncResponsePayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return Result{Dropped: DropSchema}
		}
		if err := val.v.Struct(p); err != nil {
			return Result{Dropped: DropSchema}
		}
		var batches []syncpkg.Batch
		for _, storeKey := range sortedStoreKeys(p.MissingEntries) {
			wireEntries := p.MissingEntries[storeKey]
			entries := make([]syncpkg.Entry, len(wireEntries))
			for i, we := range wireEntries {
				entries[i] = syncpkg.Entry{Key: we.Key, Canonical: we.Canonical}
			}
			batches = append(batches, syncpkg.Batch{StoreKey: storeKey, Entries: entries})
		}
		op = corepb.Op{
			Type:         corepb.OpSyncResponse,
			SyncResponse: &syncpkg.Response{Batches: batches},
			Timestamp:    ts,
		}

	default:
		return Result{Dropped: DropSchema}
	}

	if !val.admitNullifier(&op) {
		return Result{Dropped: DropDuplicate}
	}

	return Result{Op: &op}
}

// verifyNullifier resolves the nullifier to admit for a RUMOR/VOTE/
// TOMBSTONE op's zkProof. With a MembershipVerifier wired, the proof is
// checked against the known root history and the verifier's own
// nullifier is authoritative; without one, the self-declared nullifier
// is trusted as-is (local/test operation).
func (val *Validator) verifyNullifier(ctx context.Context, zk ZKProof) (corepb.Nullifier, bool) {
	if val.membership == nil {
		return zk.Nullifier, true
	}
	val.mu.Lock()
	roots := val.knownRoots
	val.mu.Unlock()

	res, err := val.membership.VerifyMembershipProof(ctx, identity.ZKProof{Proof: zk.Proof}, roots)
	if err != nil || !res.OK {
		return "", false
	}
	return corepb.Nullifier(res.Nullifier), true
}

// admitNullifier enforces I1: first-seen-wins per (scope, nullifier).
func (val *Validator) admitNullifier(op *corepb.Op) bool {
	n, ok := op.NullifierOf()
	if !ok {
		return true
	}
	key := op.Scope() + "|" + string(n)

	val.mu.Lock()
	defer val.mu.Unlock()
	if _, exists := val.seen[key]; exists {
		val.logger.Debug("dropped duplicate nullifier", zap.String("scope", op.Scope()))
		return false
	}
	val.seen[key] = struct{}{}
	return true
}

func predictionSumOK(p map[corepb.Choice]float64) bool {
	sum := 0.0
	for _, v := range p {
		if v < 0 {
			return false
		}
		sum += v
	}
	return math.Abs(sum-1.0) <= PredictionTolerance
}

func floorPrediction(p map[corepb.Choice]float64) map[corepb.Choice]float64 {
	out := make(map[corepb.Choice]float64, len(p))
	for k, v := range p {
		if v < corepb.PredictionFloor {
			v = corepb.PredictionFloor
		}
		out[k] = v
	}
	return out
}

func nullifierFromJoin(p JoinPayload) corepb.Nullifier {
	return corepb.Nullifier(string(p.Commitment) + ":" + p.DKIMProof.Domain)
}

// decodeRoots hex-decodes a wire roots map into syncpkg.Roots, rejecting
// any value that isn't exactly a 32-byte SHA-256 digest.
func decodeRoots(wire map[string]string) (syncpkg.Roots, bool) {
	out := make(syncpkg.Roots, len(wire))
	for key, hexRoot := range wire {
		raw, err := hex.DecodeString(hexRoot)
		if err != nil || len(raw) != 32 {
			return nil, false
		}
		var root [32]byte
		copy(root[:], raw)
		out[key] = root
	}
	return out, true
}

// sortedStoreKeys returns m's keys in sorted order so batch assembly
// never depends on map iteration order.
func sortedStoreKeys(m map[string][]syncEntryWire) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// EncodeSyncRequest builds the wire bytes for a SYNC_REQUEST envelope
// carrying req's per-store roots, hex-encoded (§6).
func EncodeSyncRequest(req syncpkg.Request) ([]byte, error) {
	roots := make(map[string]string, len(req.Roots))
	for key, root := range req.Roots {
		roots[key] = hex.EncodeToString(root[:])
	}
	return encodeEnvelope(corepb.OpSyncRequest, SyncRequestPayload{Roots: roots})
}

// EncodeSyncResponse builds the wire bytes for a SYNC_RESPONSE envelope
// carrying resp's per-store missing entries (§6).
func EncodeSyncResponse(resp syncpkg.Response) ([]byte, error) {
	missing := make(map[string][]syncEntryWire, len(resp.Batches))
	storesOutOfSync := make([]string, 0, len(resp.Batches))
	for _, batch := range resp.Batches {
		wireEntries := make([]syncEntryWire, len(batch.Entries))
		for i, e := range batch.Entries {
			wireEntries[i] = syncEntryWire{Key: e.Key, Canonical: e.Canonical}
		}
		missing[batch.StoreKey] = wireEntries
		storesOutOfSync = append(storesOutOfSync, batch.StoreKey)
	}
	sort.Strings(storesOutOfSync)
	return encodeEnvelope(corepb.OpSyncResponse, SyncResponsePayload{
		MissingEntries:  missing,
		StoresOutOfSync: storesOutOfSync,
	})
}

func encodeEnvelope(opType corepb.OpType, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Type: opType, Version: currentVersion, Payload: raw})
}

// ErrTooLarge is returned by callers that want a typed error instead of
// the silent Result.Dropped path (e.g. local API submission).
var ErrTooLarge = rnerrors.New(rnerrors.ErrMessageTooLarge, "serialized envelope exceeds MAX_MESSAGE_SIZE")
