// Package trust implements the Trust Propagator (spec.md §4.H):
// personalized PageRank over a co-correct-voting graph, used to derive
// subjective per-voter trust relative to a set of seed accounts.
//
// Grounded on internal/consensus/crdt.go's deterministic
// sorted-iteration idiom; no teacher or pack repo implements PageRank
// directly, so the iteration loop follows the mutex-free pure-function
// style used throughout internal/analyzers/statistical.
package trust

import (
	"math"
	"sort"

	"github.com/rumornet/core/internal/corepb"
)

// Damping, Tolerance and MaxIterations are the PPR convergence
// parameters (§4.H).
const (
	Damping       = 0.85
	Tolerance     = 1e-6
	MaxIterations = 100
)

// VoteRecord is one voter's choice on one rumor, as retained in history.
type VoteRecord struct {
	Voter  corepb.Nullifier
	Choice corepb.Choice
}

// RumorOutcome pairs a rumor's recorded votes with its scoring consensus
// and per-voter |score|, the two inputs graph construction needs.
type RumorOutcome struct {
	Consensus   corepb.Consensus
	Votes       []VoteRecord
	VoterScores map[corepb.Nullifier]float64
}

// Graph is the co-correct-voting trust graph: undirected edges (stored
// as two directed entries) weighted by the average |score| of the pair,
// plus precomputed out-degrees.
type Graph struct {
	nodes     map[corepb.Nullifier]struct{}
	adjacency map[corepb.Nullifier]map[corepb.Nullifier]float64
	outDegree map[corepb.Nullifier]float64
}

// BuildGraph constructs the trust graph from per-rumor vote histories
// and scoring outcomes (§4.H). Nodes include every participant seen
// across history, even voters isolated from any TRUE/FALSE consensus.
func BuildGraph(history map[corepb.RumorID]RumorOutcome) *Graph {
	g := &Graph{
		nodes:     make(map[corepb.Nullifier]struct{}),
		adjacency: make(map[corepb.Nullifier]map[corepb.Nullifier]float64),
		outDegree: make(map[corepb.Nullifier]float64),
	}

	rumorIDs := make([]corepb.RumorID, 0, len(history))
	for id := range history {
		rumorIDs = append(rumorIDs, id)
	}
	sort.Slice(rumorIDs, func(i, j int) bool { return rumorIDs[i] < rumorIDs[j] })

	for _, id := range rumorIDs {
		outcome := history[id]
		for _, v := range outcome.Votes {
			g.addNode(v.Voter)
		}

		if outcome.Consensus != corepb.ConsensusTrue && outcome.Consensus != corepb.ConsensusFalse {
			continue
		}

		var correct []corepb.Nullifier
		for _, v := range outcome.Votes {
			if string(v.Choice) == string(outcome.Consensus) {
				correct = append(correct, v.Voter)
			}
		}
		sort.Slice(correct, func(i, j int) bool { return correct[i] < correct[j] })

		for i := 0; i < len(correct); i++ {
			for j := i + 1; j < len(correct); j++ {
				a, b := correct[i], correct[j]
				weight := (math.Abs(outcome.VoterScores[a]) + math.Abs(outcome.VoterScores[b])) / 2
				g.addEdge(a, b, weight)
				g.addEdge(b, a, weight)
			}
		}
	}
	return g
}

func (g *Graph) addNode(n corepb.Nullifier) {
	g.nodes[n] = struct{}{}
	if _, ok := g.adjacency[n]; !ok {
		g.adjacency[n] = make(map[corepb.Nullifier]float64)
	}
}

func (g *Graph) addEdge(from, to corepb.Nullifier, weight float64) {
	g.addNode(from)
	g.addNode(to)
	g.adjacency[from][to] += weight
	g.outDegree[from] += weight
}

func (g *Graph) sortedNodes() []corepb.Nullifier {
	out := make([]corepb.Nullifier, 0, len(g.nodes))
	for n := range g.nodes {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Result is the output of one PPR run.
type Result struct {
	Scores     map[corepb.Nullifier]float64
	Iterations int
	Converged  bool
}

// Propagate runs personalized PageRank over g. trustSeeds, if non-empty
// and summing to a positive value, is normalized and used as the
// personalization vector; otherwise personalization is uniform.
func Propagate(g *Graph, trustSeeds map[corepb.Nullifier]float64) Result {
	nodes := g.sortedNodes()
	n := len(nodes)
	if n == 0 {
		return Result{Scores: map[corepb.Nullifier]float64{}, Iterations: 0, Converged: true}
	}

	personalization := personalize(nodes, trustSeeds)

	// Invert adjacency once so each iteration is O(E) rather than O(V·E).
	inbound := make(map[corepb.Nullifier][]corepb.Nullifier, n)
	for _, u := range nodes {
		for v := range g.adjacency[u] {
			inbound[v] = append(inbound[v], u)
		}
	}
	for v := range inbound {
		sort.Slice(inbound[v], func(i, j int) bool { return inbound[v][i] < inbound[v][j] })
	}

	ppr := make(map[corepb.Nullifier]float64, n)
	for _, u := range nodes {
		ppr[u] = personalization[u]
	}

	converged := false
	iterations := 0
	for i := 0; i < MaxIterations; i++ {
		next := make(map[corepb.Nullifier]float64, n)
		for _, u := range nodes {
			sum := 0.0
			for _, v := range inbound[u] {
				od := g.outDegree[v]
				if od == 0 {
					continue
				}
				sum += ppr[v] * g.adjacency[v][u] / od
			}
			next[u] = (1-Damping)*personalization[u] + Damping*sum
		}

		maxResidual := 0.0
		for _, u := range nodes {
			d := math.Abs(next[u] - ppr[u])
			if d > maxResidual {
				maxResidual = d
			}
		}
		ppr = next
		iterations = i + 1
		if maxResidual < Tolerance {
			converged = true
			break
		}
	}

	return Result{Scores: ppr, Iterations: iterations, Converged: converged}
}

// RumorTrust computes the PPR-weighted trust score for one rumor's
// votes (§4.H): 100·Σ_{v: choice_v=TRUE} PPR(v) / Σ_v PPR(v), or 50 if
// no voter on this rumor carries any PPR weight.
func RumorTrust(result Result, votes []VoteRecord) float64 {
	var num, den float64
	for _, v := range votes {
		weight := result.Scores[v.Voter]
		den += weight
		if v.Choice == corepb.ChoiceTrue {
			num += weight
		}
	}
	if den == 0 {
		return 50
	}
	return 100 * num / den
}

func personalize(nodes []corepb.Nullifier, seeds map[corepb.Nullifier]float64) map[corepb.Nullifier]float64 {
	out := make(map[corepb.Nullifier]float64, len(nodes))

	var sum float64
	for _, n := range nodes {
		sum += seeds[n]
	}
	if sum <= 0 {
		uniform := 1.0 / float64(len(nodes))
		for _, n := range nodes {
			out[n] = uniform
		}
		return out
	}
	for _, n := range nodes {
		out[n] = seeds[n] / sum
	}
	return out
}
