// Package node wires the op log, materialized view, tombstone
// authority, reputation ledger, anti-entropy sync engine, and trust
// propagator behind a single command inbox, matching the cooperative
// single-threaded logical-core model (spec.md §5): one goroutine owns
// all mutable state; every other goroutine communicates through the
// Node's exported methods.
//
// Grounded on cmd/api/main.go's component-wiring order (config, logger,
// metrics, then domain services) and internal/consensus/bft.go's
// single-writer state-machine idiom.
package node

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rumornet/core/internal/corepb"
	"github.com/rumornet/core/internal/dampener"
	"github.com/rumornet/core/internal/envelope"
	"github.com/rumornet/core/internal/identity"
	"github.com/rumornet/core/internal/oplog"
	"github.com/rumornet/core/internal/reputation"
	"github.com/rumornet/core/internal/scoring"
	syncpkg "github.com/rumornet/core/internal/sync"
	"github.com/rumornet/core/internal/tombstone"
	"github.com/rumornet/core/internal/trust"
	"github.com/rumornet/core/internal/view"
	"github.com/rumornet/core/pkg/metrics"
	"go.uber.org/zap"
)

// command is one unit of work processed by the node's single logical
// core. Exactly one of the result channels is used, matching the kind
// of work requested.
type command struct {
	ctx      context.Context
	ingest   []byte
	score    *scoreRequest
	snapshot chan view.Snapshot

	buildSync  *buildSyncRequest
	handleSync *handleSyncRequest
	applySync  *applySyncRequest
	trustQuery *trustQueryRequest

	done chan error
}

type scoreRequest struct {
	rumorID     corepb.RumorID
	blockHeight uint64
	history     map[corepb.Nullifier][]dampener.HistoryEntry
	stakes      reputation.ScoresByStake
	result      chan scoring.Result
}

type buildSyncRequest struct {
	peer   string
	result chan buildSyncResult
}

type buildSyncResult struct {
	req syncpkg.Request
	ok  bool
}

type handleSyncRequest struct {
	req    syncpkg.Request
	result chan syncpkg.Response
}

type applySyncRequest struct {
	peer   string
	resp   syncpkg.Response
	result chan int
}

type trustQueryRequest struct {
	rumorID corepb.RumorID
	seeds   map[corepb.Nullifier]float64
	result  chan float64
}

// Node owns the op log, materialized view, tombstone authority,
// reputation ledger, anti-entropy sync engine, and trust propagator,
// and serializes all access through a command inbox running on one
// goroutine.
type Node struct {
	log       *oplog.Log
	view      *view.View
	authority *tombstone.Authority
	ledger    *reputation.Ledger
	validator *envelope.Validator
	metrics   *metrics.Metrics
	logger    *zap.Logger

	syncStore  *syncpkg.MemoryStore
	syncEngine *syncpkg.Engine

	// scoringHistory retains the consensus/votes/voter-scores outcome of
	// every scored rumor, the input the trust propagator's co-correct-
	// voting graph is built from (§4.H).
	scoringHistory map[corepb.RumorID]trust.RumorOutcome

	inbox chan command
	quit  chan struct{}
}

// New wires a Node from its components and starts its single logical
// core goroutine. membership and dkim are the identity collaborators
// used to verify JOIN/RUMOR/VOTE/TOMBSTONE proofs; either may be nil
// for local/test operation. Call Close to stop it.
func New(logger *zap.Logger, m *metrics.Metrics, membership identity.MembershipVerifier, dkim identity.DKIMVerifier) *Node {
	if logger == nil {
		logger = zap.NewNop()
	}
	log := oplog.New(logger)
	syncStore := syncpkg.NewMemoryStore()
	n := &Node{
		log:            log,
		view:           view.New(log, logger),
		authority:      tombstone.New(),
		ledger:         reputation.New(logger),
		validator:      envelope.NewValidator(logger, membership, dkim),
		metrics:        m,
		logger:         logger,
		syncStore:      syncStore,
		syncEngine:     syncpkg.New(syncStore, logger),
		scoringHistory: make(map[corepb.RumorID]trust.RumorOutcome),
		inbox:          make(chan command, 256),
		quit:           make(chan struct{}),
	}
	go n.run()
	return n
}

func (n *Node) run() {
	for {
		select {
		case <-n.quit:
			return
		case cmd := <-n.inbox:
			n.handle(cmd)
		}
	}
}

func (n *Node) handle(cmd command) {
	switch {
	case cmd.ingest != nil:
		cmd.done <- n.ingestLocal(cmd.ctx, cmd.ingest)
	case cmd.score != nil:
		cmd.score.result <- n.scoreLocal(cmd.score)
	case cmd.snapshot != nil:
		cmd.snapshot <- n.view.Snapshot()
	case cmd.buildSync != nil:
		req, ok := n.syncEngine.BuildRequest(cmd.buildSync.peer)
		cmd.buildSync.result <- buildSyncResult{req: req, ok: ok}
	case cmd.handleSync != nil:
		cmd.handleSync.result <- n.handleSyncLocal(cmd.handleSync.req)
	case cmd.applySync != nil:
		cmd.applySync.result <- n.applySyncLocal(cmd.applySync.peer, cmd.applySync.resp)
	case cmd.trustQuery != nil:
		cmd.trustQuery.result <- n.queryTrustLocal(cmd.trustQuery.rumorID, cmd.trustQuery.seeds)
	}
}

// ingestLocal validates and applies one serialized envelope. Runs only
// on the node's logical core.
func (n *Node) ingestLocal(ctx context.Context, serialized []byte) error {
	result := n.validator.Validate(ctx, serialized)
	if result.Dropped != "" {
		if n.metrics != nil {
			n.metrics.RecordOpDropped(string(result.Dropped))
		}
		return fmt.Errorf("envelope dropped: %s", result.Dropped)
	}

	op := *result.Op
	switch op.Type {
	case corepb.OpRumor:
		if op.Rumor != nil {
			n.authority.RegisterRumor(op.Rumor.ID, op.Rumor.AuthorNullifer)
			n.putSyncEntry("rumors", string(op.Rumor.ID), op.Rumor)
		}
	case corepb.OpTombstone:
		if op.Tombstone != nil {
			n.authority.ObserveTombstone(op.Tombstone.RumorID)
		}
	case corepb.OpVote:
		if op.Vote != nil {
			key := string(op.Vote.RumorID) + "|" + string(op.Vote.VoterNullifer)
			n.putSyncEntry("votes", key, op.Vote)
		}
	case corepb.OpJoin:
		if op.Join != nil {
			n.putSyncEntry("identities", string(op.Join.Nullifier), op.Join)
		}
	}

	n.log.Append(op)
	n.view.Apply(op)

	if n.metrics != nil {
		n.metrics.RecordOpIngested(string(op.Type))
		n.metrics.SetOpLogLength(n.log.Len())
	}
	return nil
}

// putSyncEntry canonicalizes v and stores it under the Merkle-tracked
// store keyed by storeKey/key, so the anti-entropy engine's root over
// that store reflects every op applied so far.
func (n *Node) putSyncEntry(storeKey, key string, v interface{}) {
	canonical, err := json.Marshal(v)
	if err != nil {
		n.logger.Warn("sync entry marshal failed", zap.String("storeKey", storeKey), zap.String("key", key), zap.Error(err))
		return
	}
	n.syncStore.Put(storeKey, syncpkg.Entry{Key: key, Canonical: canonical})
}

func (n *Node) scoreLocal(req *scoreRequest) scoring.Result {
	state := n.view.State()
	votes := state.Votes[req.rumorID]

	dampened := dampener.Dampen(votes, req.history)
	inputs := scoring.InputsFromDampened(dampened)
	result := scoring.Score(inputs, req.rumorID, req.blockHeight)

	n.ledger.ApplyScores(result, req.rumorID, req.stakes)

	voteRecords := make([]trust.VoteRecord, len(votes))
	for i, v := range votes {
		voteRecords[i] = trust.VoteRecord{Voter: v.VoterNullifer, Choice: v.Choice}
	}
	n.scoringHistory[req.rumorID] = trust.RumorOutcome{
		Consensus:   result.Consensus,
		Votes:       voteRecords,
		VoterScores: result.VoterScores,
	}

	if n.metrics != nil {
		n.metrics.RecordScoringRun(string(result.Engine), result.RumorTrustScore)
		for _, nullifier := range view.SortedNullifiers(state.Reputation) {
			n.metrics.RecordReputationScore(state.Reputation[nullifier])
		}
	}
	return result
}

// handleSyncLocal answers a SYNC_REQUEST and records the exchange.
func (n *Node) handleSyncLocal(req syncpkg.Request) syncpkg.Response {
	before := n.syncEngine.Stats()
	resp := n.syncEngine.HandleRequest(req)
	after := n.syncEngine.Stats()
	if n.metrics != nil {
		n.metrics.RecordSyncCycle(after.EntriesSent-before.EntriesSent, 0)
	}
	return resp
}

// applySyncLocal read-repairs from a SYNC_RESPONSE and records the
// exchange.
func (n *Node) applySyncLocal(peer string, resp syncpkg.Response) int {
	inserted := n.syncEngine.ApplyResponse(peer, resp)
	if n.metrics != nil {
		n.metrics.RecordSyncCycle(0, inserted)
	}
	return inserted
}

// queryTrustLocal builds the co-correct-voting graph from recorded
// scoring history, runs personalized PageRank from seeds, and returns
// rumorID's PPR-weighted trust score (§4.H).
func (n *Node) queryTrustLocal(rumorID corepb.RumorID, seeds map[corepb.Nullifier]float64) float64 {
	graph := trust.BuildGraph(n.scoringHistory)
	result := trust.Propagate(graph, seeds)

	votes := n.scoringHistory[rumorID].Votes
	if votes == nil {
		state := n.view.State()
		for _, v := range state.Votes[rumorID] {
			votes = append(votes, trust.VoteRecord{Voter: v.VoterNullifer, Choice: v.Choice})
		}
	}
	return trust.RumorTrust(result, votes)
}

// Ingest submits a serialized envelope for validation and application,
// blocking until the node's logical core has processed it.
func (n *Node) Ingest(ctx context.Context, serialized []byte) error {
	done := make(chan error, 1)
	select {
	case n.inbox <- command{ctx: ctx, ingest: serialized, done: done}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Score runs the scoring pipeline for rumorID against the node's
// current view and applies the resulting rewards/slashes to the
// reputation ledger.
func (n *Node) Score(ctx context.Context, rumorID corepb.RumorID, blockHeight uint64, history map[corepb.Nullifier][]dampener.HistoryEntry, stakes reputation.ScoresByStake) (scoring.Result, error) {
	result := make(chan scoring.Result, 1)
	select {
	case n.inbox <- command{score: &scoreRequest{rumorID: rumorID, blockHeight: blockHeight, history: history, stakes: stakes, result: result}}:
	case <-ctx.Done():
		return scoring.Result{}, ctx.Err()
	}
	select {
	case r := <-result:
		return r, nil
	case <-ctx.Done():
		return scoring.Result{}, ctx.Err()
	}
}

// Snapshot returns a snapshot of the current materialized view, built
// on the node's logical core without rebuilding from the log.
func (n *Node) Snapshot(ctx context.Context) (view.Snapshot, error) {
	out := make(chan view.Snapshot, 1)
	select {
	case n.inbox <- command{snapshot: out}:
	case <-ctx.Done():
		return view.Snapshot{}, ctx.Err()
	}
	select {
	case s := <-out:
		return s, nil
	case <-ctx.Done():
		return view.Snapshot{}, ctx.Err()
	}
}

// Reputation returns the reputation account for n, if known.
func (n *Node) Reputation(nullifier corepb.Nullifier) (corepb.ReputationAccount, bool) {
	return n.ledger.Account(nullifier)
}

// BuildSyncRequest constructs a SYNC_REQUEST to send to peer, honoring
// the engine's per-peer cooldown. ok is false if the cooldown has not
// yet elapsed, in which case no exchange should be attempted.
func (n *Node) BuildSyncRequest(ctx context.Context, peer string) (syncpkg.Request, bool, error) {
	result := make(chan buildSyncResult, 1)
	select {
	case n.inbox <- command{ctx: ctx, buildSync: &buildSyncRequest{peer: peer, result: result}}:
	case <-ctx.Done():
		return syncpkg.Request{}, false, ctx.Err()
	}
	select {
	case r := <-result:
		return r.req, r.ok, nil
	case <-ctx.Done():
		return syncpkg.Request{}, false, ctx.Err()
	}
}

// HandleSyncRequest answers a peer's SYNC_REQUEST with the local
// entries it is missing, per store.
func (n *Node) HandleSyncRequest(ctx context.Context, req syncpkg.Request) (syncpkg.Response, error) {
	result := make(chan syncpkg.Response, 1)
	select {
	case n.inbox <- command{ctx: ctx, handleSync: &handleSyncRequest{req: req, result: result}}:
	case <-ctx.Done():
		return syncpkg.Response{}, ctx.Err()
	}
	select {
	case r := <-result:
		return r, nil
	case <-ctx.Done():
		return syncpkg.Response{}, ctx.Err()
	}
}

// ApplySyncResponse read-repairs the local stores from a peer's
// SYNC_RESPONSE, returning the number of entries inserted.
func (n *Node) ApplySyncResponse(ctx context.Context, peer string, resp syncpkg.Response) (int, error) {
	result := make(chan int, 1)
	select {
	case n.inbox <- command{ctx: ctx, applySync: &applySyncRequest{peer: peer, resp: resp, result: result}}:
	case <-ctx.Done():
		return 0, ctx.Err()
	}
	select {
	case r := <-result:
		return r, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// QueryTrust answers an on-demand trust query for rumorID: personalized
// PageRank over the co-correct-voting graph built from every rumor
// scored so far, seeded by trustSeeds, reduced to rumorID's
// PPR-weighted trust score (§4.H).
func (n *Node) QueryTrust(ctx context.Context, rumorID corepb.RumorID, trustSeeds map[corepb.Nullifier]float64) (float64, error) {
	result := make(chan float64, 1)
	select {
	case n.inbox <- command{ctx: ctx, trustQuery: &trustQueryRequest{rumorID: rumorID, seeds: trustSeeds, result: result}}:
	case <-ctx.Done():
		return 0, ctx.Err()
	}
	select {
	case r := <-result:
		return r, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Close stops the node's logical core goroutine.
func (n *Node) Close() {
	close(n.quit)
}
