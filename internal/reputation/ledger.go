// Package reputation implements the Reputation Ledger (spec.md §4.G):
// per-member stake locking, reward/slash application, group slashing,
// and score decay/recovery.
//
// Grounded on internal/consensus/bft.go's validator-reputation
// bookkeeping and internal/consensus/crdt.go's in-memory mutex-guarded
// state idiom.
package reputation

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/rumornet/core/internal/corepb"
	rnerrors "github.com/rumornet/core/internal/errors"
	"github.com/rumornet/core/internal/scoring"
	"go.uber.org/zap"
)

// Defaults per §4.G.
const (
	InitialTrustScore = 10.0
	MinStakeVote      = 1
	MinStakePost      = 5
	MinStakeDispute   = 3
	RewardMult        = 1.0
	SlashMult         = 1.5
	DecayRate         = 0.99
	RecoveryRate      = 0.1
	MinScore          = 0.0
	MaxScore          = 1000.0
)

// Action names the kind of stake a lock is held against.
type Action string

const (
	ActionVote    Action = "vote"
	ActionPost    Action = "post"
	ActionDispute Action = "dispute"
)

func (a Action) minimum() int64 {
	switch a {
	case ActionVote:
		return MinStakeVote
	case ActionPost:
		return MinStakePost
	case ActionDispute:
		return MinStakeDispute
	}
	return math.MaxInt64
}

func (a Action) fraction() float64 {
	switch a {
	case ActionVote:
		return 0.25
	case ActionPost, ActionDispute:
		return 0.50
	}
	return 0
}

// ScoresByStake bundles the applyScores input: per-voter stake amounts
// alongside the scoring Result they accompany.
type ScoresByStake map[corepb.Nullifier]int64

// Adjustment summarizes one account's reward or slash from applyScores.
type Adjustment struct {
	Nullifier corepb.Nullifier
	Amount    float64
}

// Ledger is the in-memory reputation account store.
type Ledger struct {
	mu       sync.Mutex
	accounts map[corepb.Nullifier]*corepb.ReputationAccount
	logger   *zap.Logger
}

// New creates an empty Ledger.
func New(logger *zap.Logger) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{accounts: make(map[corepb.Nullifier]*corepb.ReputationAccount), logger: logger}
}

// Register admits a new account at InitialTrustScore. Idempotent.
func (l *Ledger) Register(n corepb.Nullifier) *corepb.ReputationAccount {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.registerLocked(n)
}

func (l *Ledger) registerLocked(n corepb.Nullifier) *corepb.ReputationAccount {
	if acc, ok := l.accounts[n]; ok {
		return acc
	}
	acc := &corepb.ReputationAccount{
		Nullifier:    n,
		Score:        InitialTrustScore,
		LockedStakes: make(map[string]corepb.LockedStake),
	}
	l.accounts[n] = acc
	return acc
}

// Account returns a copy of the account state, or false if unknown.
func (l *Ledger) Account(n corepb.Nullifier) (corepb.ReputationAccount, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	acc, ok := l.accounts[n]
	if !ok {
		return corepb.ReputationAccount{}, false
	}
	return *acc, true
}

func lockedTotal(acc *corepb.ReputationAccount) int64 {
	var total int64
	for _, ls := range acc.LockedStakes {
		total += ls.Amount
	}
	return total
}

// CanStake reports whether n may lock amount for action, per §4.G's
// minimum / fraction-of-score / remaining-budget rules.
func (l *Ledger) CanStake(n corepb.Nullifier, amount int64, action Action) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.canStakeLocked(n, amount, action)
}

func (l *Ledger) canStakeLocked(n corepb.Nullifier, amount int64, action Action) bool {
	acc, ok := l.accounts[n]
	if !ok {
		return false
	}
	if amount < action.minimum() {
		return false
	}
	if float64(amount) > action.fraction()*acc.Score {
		return false
	}
	if acc.Score-float64(lockedTotal(acc)) < float64(amount) {
		return false
	}
	return true
}

// LockStake reserves amount against actionId. Fails with
// ErrStakeNotPermitted if CanStake would be false.
func (l *Ledger) LockStake(n corepb.Nullifier, amount int64, actionID string, action Action) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.canStakeLocked(n, amount, action) {
		return rnerrors.New(rnerrors.ErrStakeNotPermitted, "stake-not-permitted")
	}
	acc := l.accounts[n]
	acc.LockedStakes[actionID] = corepb.LockedStake{Amount: amount, Action: string(action)}
	acc.History = append(acc.History, corepb.HistoryEntry{
		Kind:      corepb.HistoryStakeLock,
		Delta:     0,
		Reference: actionID,
		Timestamp: time.Now(),
	})
	return nil
}

// ReleaseLock removes a held lock without changing score.
func (l *Ledger) ReleaseLock(n corepb.Nullifier, actionID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if acc, ok := l.accounts[n]; ok {
		delete(acc.LockedStakes, actionID)
	}
}

func clamp(score float64) float64 {
	if score < MinScore {
		return MinScore
	}
	if score > MaxScore {
		return MaxScore
	}
	return score
}

// ApplyScores applies a scoring.Result's voter scores as rewards or
// slashes, releasing each voter's lock for rumorID. Returns the
// clamped per-account deltas actually recorded.
func (l *Ledger) ApplyScores(result scoring.Result, rumorID corepb.RumorID, stakes ScoresByStake) (rewards, slashes map[corepb.Nullifier]float64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rewards = make(map[corepb.Nullifier]float64)
	slashes = make(map[corepb.Nullifier]float64)

	voters := make([]corepb.Nullifier, 0, len(result.VoterScores))
	for v := range result.VoterScores {
		voters = append(voters, v)
	}
	sort.Slice(voters, func(i, j int) bool { return voters[i] < voters[j] })

	for _, voter := range voters {
		score := result.VoterScores[voter]
		acc := l.registerLocked(voter)
		stake := float64(stakes[voter])

		before := acc.Score
		var kind corepb.HistoryKind
		switch {
		case score > 0:
			reward := score * stake * RewardMult
			acc.Score = clamp(acc.Score + reward)
			kind = corepb.HistoryReward
		case score < 0:
			slash := math.Abs(score) * stake * SlashMult
			acc.Score = clamp(acc.Score - slash)
			kind = corepb.HistorySlash
		default:
			delete(acc.LockedStakes, string(rumorID))
			continue
		}
		delta := acc.Score - before
		acc.History = append(acc.History, corepb.HistoryEntry{
			Kind:      kind,
			Delta:     delta,
			Reference: string(rumorID),
			Timestamp: time.Now(),
		})
		if delta >= 0 {
			rewards[voter] = delta
		} else {
			slashes[voter] = delta
		}
		delete(acc.LockedStakes, string(rumorID))
	}
	return rewards, slashes
}

// ApplyGroupSlash penalizes every member of a coordinated cluster by an
// identical amount, scaled by cluster size (§4.G).
func (l *Ledger) ApplyGroupSlash(nullifiers []corepb.Nullifier, basePenalty float64, rumorID corepb.RumorID) map[corepb.Nullifier]float64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	size := len(nullifiers)
	if size == 0 {
		size = 1
	}
	penalty := basePenalty * (1 + math.Log2(math.Max(float64(size), 1)))

	sorted := append([]corepb.Nullifier(nil), nullifiers...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	applied := make(map[corepb.Nullifier]float64, len(sorted))
	for _, n := range sorted {
		acc := l.registerLocked(n)
		before := acc.Score
		acc.Score = clamp(acc.Score - penalty)
		delta := acc.Score - before
		acc.History = append(acc.History, corepb.HistoryEntry{
			Kind:      corepb.HistoryGroupSlash,
			Delta:     delta,
			Reference: string(rumorID),
			Timestamp: time.Now(),
		})
		applied[n] = delta
	}
	return applied
}

// ApplyDecay multiplies every score by rate (default DecayRate).
func (l *Ledger) ApplyDecay(rate float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if rate == 0 {
		rate = DecayRate
	}

	names := l.sortedNamesLocked()
	for _, n := range names {
		acc := l.accounts[n]
		before := acc.Score
		acc.Score = clamp(acc.Score * rate)
		delta := acc.Score - before
		acc.History = append(acc.History, corepb.HistoryEntry{Kind: corepb.HistoryDecay, Delta: delta, Timestamp: time.Now()})
	}
}

// ApplyRecovery nudges under-baseline scores back toward
// InitialTrustScore by rate (default RecoveryRate), never overshooting.
func (l *Ledger) ApplyRecovery(rate float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if rate == 0 {
		rate = RecoveryRate
	}

	names := l.sortedNamesLocked()
	for _, n := range names {
		acc := l.accounts[n]
		if acc.Score >= InitialTrustScore {
			continue
		}
		before := acc.Score
		acc.Score = math.Min(InitialTrustScore, clamp(acc.Score+rate))
		delta := acc.Score - before
		acc.History = append(acc.History, corepb.HistoryEntry{Kind: corepb.HistoryRecovery, Delta: delta, Timestamp: time.Now()})
	}
}

func (l *Ledger) sortedNamesLocked() []corepb.Nullifier {
	names := make([]corepb.Nullifier, 0, len(l.accounts))
	for n := range l.accounts {
		names = append(names, n)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

// Export returns a deterministically-ordered snapshot of every account,
// for R1 round-trip and anti-entropy sync.
func (l *Ledger) Export() []corepb.ReputationAccount {
	l.mu.Lock()
	defer l.mu.Unlock()
	names := l.sortedNamesLocked()
	out := make([]corepb.ReputationAccount, 0, len(names))
	for _, n := range names {
		out = append(out, *l.accounts[n])
	}
	return out
}

// Import replaces ledger contents wholesale.
func (l *Ledger) Import(accounts []corepb.ReputationAccount) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fresh := make(map[corepb.Nullifier]*corepb.ReputationAccount, len(accounts))
	for i := range accounts {
		acc := accounts[i]
		if acc.LockedStakes == nil {
			acc.LockedStakes = make(map[string]corepb.LockedStake)
		}
		fresh[acc.Nullifier] = &acc
	}
	l.accounts = fresh
}
