// Package scoring implements the BTS / RBTS Scoring component (spec.md
// §4.F): truth-eliciting scoring rules over dampened votes, selecting
// between Bayesian Truth Serum (large populations) and Robust BTS
// (small populations).
//
// Grounded on internal/analyzers/statistical/detector.go's
// windowed-aggregate idiom and internal/consensus/bft.go's vocabulary
// for voter scoring and slashing signals.
package scoring

import (
	"fmt"
	"math"
	"sort"

	"github.com/rumornet/core/internal/corepb"
	"github.com/rumornet/core/internal/dampener"
)

// RBTSThreshold is the dampened-vote count at or above which BTS runs
// instead of RBTS (§4.F).
const RBTSThreshold = 30

// RBTSMinimum is the smallest dampened-vote count RBTS will score;
// below this, scoring returns a neutral result.
const RBTSMinimum = 3

// BTSAlpha weights the prediction-score term in Score_i = Info_i + α·Pred_i.
const BTSAlpha = 1.0

var choices = []corepb.Choice{corepb.ChoiceTrue, corepb.ChoiceFalse, corepb.ChoiceUnverified}

// Engine names the scoring rule a Result was produced by.
type Engine string

const (
	EngineNone Engine = "none"
	EngineBTS  Engine = "bts"
	EngineRBTS Engine = "rbts"
)

// PeerAssignment records the RBTS reference/peer indices assigned to one
// voter, kept in the output for auditability.
type PeerAssignment struct {
	Voter     corepb.Nullifier
	Reference corepb.Nullifier
	Peer      corepb.Nullifier
}

// Result is the shared output shape of both engines.
type Result struct {
	Engine            Engine
	RumorTrustScore   float64
	VoterScores       map[corepb.Nullifier]float64
	ActualProportions map[corepb.Choice]float64
	Consensus         corepb.Consensus
	GeometricMeans    map[corepb.Choice]float64 // BTS only
	PeerAssignments   []PeerAssignment          // RBTS only
}

// Input is one dampened voter's contribution to a scoring run.
type Input struct {
	Voter      corepb.Nullifier
	Choice     corepb.Choice
	Prediction map[corepb.Choice]float64
	Stake      int64
	Weight     float64 // from dampener.DampenedVote.Weight
}

// InputsFromDampened adapts dampener output plus the original votes'
// predictions into scoring Input records, sorted by voter nullifier so
// downstream accumulation never depends on map/slice iteration order.
func InputsFromDampened(dampened []dampener.DampenedVote) []Input {
	out := make([]Input, len(dampened))
	for i, d := range dampened {
		out[i] = Input{
			Voter:      d.Vote.VoterNullifer,
			Choice:     d.Vote.Choice,
			Prediction: d.Vote.Prediction,
			Stake:      d.Vote.StakeAmount,
			Weight:     d.Weight,
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Voter < out[j].Voter })
	return out
}

// Score selects BTS or RBTS by population size and runs it. rumorID and
// blockHeight seed RBTS's deterministic peer assignment; both are
// ignored by BTS.
func Score(inputs []Input, rumorID corepb.RumorID, blockHeight uint64) Result {
	n := len(inputs)
	if n < RBTSMinimum {
		return neutralResult()
	}
	if n >= RBTSThreshold {
		return scoreBTS(inputs)
	}
	return scoreRBTS(inputs, rumorID, blockHeight)
}

func neutralResult() Result {
	return Result{
		Engine:            EngineNone,
		RumorTrustScore:   50,
		VoterScores:       map[corepb.Nullifier]float64{},
		ActualProportions: map[corepb.Choice]float64{},
		Consensus:         corepb.ConsensusUnverified,
	}
}

func floor(p float64) float64 {
	return math.Max(p, corepb.PredictionFloor)
}

// actualProportions computes weighted actual proportion x̄_K for each K.
func actualProportions(inputs []Input) map[corepb.Choice]float64 {
	sums := map[corepb.Choice]float64{}
	var totalW float64
	for _, in := range inputs {
		sums[in.Choice] += in.Weight
		totalW += in.Weight
	}
	out := map[corepb.Choice]float64{}
	for _, k := range choices {
		if totalW == 0 {
			out[k] = 0
			continue
		}
		out[k] = sums[k] / totalW
	}
	return out
}

// rumorTrustScore computes 100·Σ(w·stake·1[TRUE]) / Σ(w·stake).
func rumorTrustScore(inputs []Input) float64 {
	var num, den float64
	for _, in := range inputs {
		ws := in.Weight * float64(in.Stake)
		den += ws
		if in.Choice == corepb.ChoiceTrue {
			num += ws
		}
	}
	if den == 0 {
		return 50
	}
	return 100 * num / den
}

// consensusLabel returns the unique K with x̄_K > 0.5, else DISPUTED; or
// UNVERIFIED if there are no votes at all.
func consensusLabel(inputs []Input, props map[corepb.Choice]float64) corepb.Consensus {
	if len(inputs) == 0 {
		return corepb.ConsensusUnverified
	}
	for _, k := range choices {
		if props[k] > 0.5 {
			switch k {
			case corepb.ChoiceTrue:
				return corepb.ConsensusTrue
			case corepb.ChoiceFalse:
				return corepb.ConsensusFalse
			case corepb.ChoiceUnverified:
				return corepb.ConsensusUnverified
			default:
				return corepb.ConsensusDisputed
			}
		}
	}
	return corepb.ConsensusDisputed
}

func scoreBTS(inputs []Input) Result {
	props := actualProportions(inputs)

	var totalW float64
	for _, in := range inputs {
		totalW += in.Weight
	}

	// Weighted geometric mean of predictions per K, via log-space average.
	geo := map[corepb.Choice]float64{}
	for _, k := range choices {
		var logSum float64
		for _, in := range inputs {
			p := floor(in.Prediction[k])
			logSum += in.Weight * math.Log(p)
		}
		if totalW == 0 {
			geo[k] = corepb.PredictionFloor
			continue
		}
		geo[k] = math.Exp(logSum / totalW)
	}

	voterScores := make(map[corepb.Nullifier]float64, len(inputs))
	for _, in := range inputs {
		xk := floor(props[in.Choice])
		yk := floor(geo[in.Choice])
		info := math.Log(xk / yk)

		var pred float64
		for _, k := range choices {
			xK := floor(props[k])
			pK := floor(in.Prediction[k])
			pred += xK * math.Log(pK/xK)
		}
		voterScores[in.Voter] = info + BTSAlpha*pred
	}

	return Result{
		Engine:            EngineBTS,
		RumorTrustScore:   rumorTrustScore(inputs),
		VoterScores:       voterScores,
		ActualProportions: props,
		Consensus:         consensusLabel(inputs, props),
		GeometricMeans:    geo,
	}
}

func scoreRBTS(inputs []Input, rumorID corepb.RumorID, blockHeight uint64) Result {
	props := actualProportions(inputs)
	n := len(inputs)

	rng := newMulberry32(seedFor(rumorID, blockHeight))
	refIdx := make([]int, n)
	peerIdx := make([]int, n)
	for i := range inputs {
		r := rng.nextExcluding(n, i)
		refIdx[i] = r
		p := rng.nextExcludingTwo(n, i, r)
		if p < 0 {
			// no index other than i and r(i) exists (n <= 2): accept p(i) = r(i).
			p = r
		}
		peerIdx[i] = p
	}

	voterScores := make(map[corepb.Nullifier]float64, n)
	assignments := make([]PeerAssignment, n)
	for i, in := range inputs {
		ref := inputs[refIdx[i]]
		peer := inputs[peerIdx[i]]

		info := 0.0
		if in.Choice == ref.Choice {
			info = 1.0
		}
		pred := math.Log(floor(in.Prediction[peer.Choice]))

		voterScores[in.Voter] = info + BTSAlpha*pred
		assignments[i] = PeerAssignment{Voter: in.Voter, Reference: ref.Voter, Peer: peer.Voter}
	}

	return Result{
		Engine:            EngineRBTS,
		RumorTrustScore:   rumorTrustScore(inputs),
		VoterScores:       voterScores,
		ActualProportions: props,
		Consensus:         consensusLabel(inputs, props),
		PeerAssignments:   assignments,
	}
}

// seedFor derives a 32-bit Mulberry32 seed from (rumorId, blockHeight)
// via FNV-1a, matching the spec's hash(rumorId || ":" || blockHeight).
func seedFor(rumorID corepb.RumorID, blockHeight uint64) uint32 {
	s := fmt.Sprintf("%s:%d", rumorID, blockHeight)
	var h uint32 = 2166136261
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= 16777619
	}
	return h
}

// mulberry32 is a small, fast, deterministic PRNG; ported in the
// canonical bit-manipulation form used for reproducible seeded
// sequences across implementations.
type mulberry32 struct {
	state uint32
}

func newMulberry32(seed uint32) *mulberry32 {
	return &mulberry32{state: seed}
}

// next returns a value in [0,1).
func (m *mulberry32) next() float64 {
	m.state += 0x6D2B79F5
	z := m.state
	z = (z ^ (z >> 15)) * (z | 1)
	z ^= z + (z^(z>>7))*(z|61)
	z ^= z >> 14
	return float64(z) / 4294967296.0
}

// nextIntN returns a deterministic value in [0, n).
func (m *mulberry32) nextIntN(n int) int {
	if n <= 0 {
		return 0
	}
	return int(m.next() * float64(n))
}

// nextExcluding draws an index in [0,n) excluding `exclude`, retrying
// deterministically until satisfied.
func (m *mulberry32) nextExcluding(n, exclude int) int {
	if n <= 1 {
		return exclude
	}
	for {
		v := m.nextIntN(n)
		if v != exclude {
			return v
		}
	}
}

// nextExcludingTwo draws an index in [0,n) excluding both a and b. If
// no such index exists (n≤2), returns -1 so the caller can fall back.
func (m *mulberry32) nextExcludingTwo(n, a, b int) int {
	if n-len(distinct(a, b)) <= 0 {
		return -1
	}
	for {
		v := m.nextIntN(n)
		if v != a && v != b {
			return v
		}
	}
}

func distinct(a, b int) []int {
	if a == b {
		return []int{a}
	}
	return []int{a, b}
}
