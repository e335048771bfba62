// Package dampener implements the Correlation Dampener (spec.md §4.E):
// pairwise Pearson correlation over voting history, union-find
// clustering, and per-voter weight assignment, used to reduce the
// effective voting power of coordinated clusters.
//
// Grounded on internal/analyzers/pattern/matcher.go's Pearson
// correlation computation and internal/analyzers/statistical/detector.go's
// windowed-statistics idiom.
package dampener

import (
	"math"
	"sort"

	"github.com/rumornet/core/internal/corepb"
)

// ClusterThreshold is the Pearson correlation above which two voters'
// histories are considered coordinated enough to cluster (§4.E step 3).
const ClusterThreshold = 0.85

// CorrelationLambda is the dampening strength applied per cluster
// (§4.E step 4).
const CorrelationLambda = 10.0

// HistoryEntry is one past (rumor, choice) pair for a voter.
type HistoryEntry struct {
	RumorID corepb.RumorID
	Choice  corepb.Choice
}

// DampenedVote is the output of dampening one voter's current vote.
type DampenedVote struct {
	Vote        corepb.Vote
	Weight      float64
	ClusterID   int
	ClusterSize int
}

// Dampen computes per-voter weights for the current votes on one rumor,
// given each voter's full cross-rumor history.
func Dampen(votes []corepb.Vote, history map[corepb.Nullifier][]HistoryEntry) []DampenedVote {
	if len(votes) == 0 {
		return nil
	}
	if len(votes) == 1 {
		return []DampenedVote{{Vote: votes[0], Weight: 1.0, ClusterID: 0, ClusterSize: 1}}
	}

	voters := make([]corepb.Nullifier, len(votes))
	for i, v := range votes {
		voters[i] = v.VoterNullifer
	}

	// §4.E step 1: union of rumorIds across all current voters' histories
	// forms the feature axis.
	axisSet := make(map[corepb.RumorID]struct{})
	vectors := make(map[corepb.Nullifier]map[corepb.RumorID]float64, len(voters))
	for _, n := range voters {
		vec := make(map[corepb.RumorID]float64)
		for _, h := range history[n] {
			axisSet[h.RumorID] = struct{}{}
			vec[h.RumorID] = encodeChoice(h.Choice)
		}
		vectors[n] = vec
	}

	uf := newUnionFind(len(voters))
	index := make(map[corepb.Nullifier]int, len(voters))
	for i, n := range voters {
		index[n] = i
	}

	// §4.E step 2+3: pairwise Pearson correlation, union where ρ > threshold.
	// Sorted iteration keeps this deterministic regardless of map order.
	sortedAxis := sortedRumorIDs(axisSet)
	pairRho := make(map[[2]int]float64)
	for i := 0; i < len(voters); i++ {
		for j := i + 1; j < len(voters); j++ {
			rho, ok := pearson(vectors[voters[i]], vectors[voters[j]], sortedAxis)
			if !ok {
				continue
			}
			pairRho[[2]int{i, j}] = rho
			if rho > ClusterThreshold {
				uf.union(i, j)
			}
		}
	}

	// Group voters by cluster root, collect intra-cluster rho values.
	groups := make(map[int][]int)
	for i := range voters {
		root := uf.find(i)
		groups[root] = append(groups[root], i)
	}

	weights := make([]float64, len(voters))
	clusterIDs := make([]int, len(voters))
	clusterSizes := make([]int, len(voters))

	// Stable cluster numbering: order roots by their smallest member index.
	roots := make([]int, 0, len(groups))
	for r := range groups {
		roots = append(roots, r)
	}
	// groups[r] is filled in ascending voter order, so groups[r][0] is
	// the cluster's smallest member index.
	sort.Slice(roots, func(a, b int) bool { return groups[roots[a]][0] < groups[roots[b]][0] })

	for clusterID, root := range roots {
		members := groups[root]
		sort.Ints(members)
		k := len(members)

		w := 1.0
		if k > 1 {
			rhoBar := averageIntraClusterRho(members, pairRho)
			w = 1.0 / (1.0 + CorrelationLambda*rhoBar)
		}
		for _, m := range members {
			weights[m] = w
			clusterIDs[m] = clusterID
			clusterSizes[m] = k
		}
	}

	out := make([]DampenedVote, len(votes))
	for i, v := range votes {
		out[i] = DampenedVote{
			Vote:        v,
			Weight:      weights[i],
			ClusterID:   clusterIDs[i],
			ClusterSize: clusterSizes[i],
		}
	}
	return out
}

func encodeChoice(c corepb.Choice) float64 {
	switch c {
	case corepb.ChoiceTrue:
		return 1
	case corepb.ChoiceFalse:
		return -1
	case corepb.ChoiceUnverified:
		return 0
	}
	return math.NaN()
}

func sortedRumorIDs(set map[corepb.RumorID]struct{}) []corepb.RumorID {
	out := make([]corepb.RumorID, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// pearson computes the Pearson correlation coefficient between two
// voters' history vectors, restricted to dimensions where both
// participated (≥2 shared). Dimensions either voter did not vote on
// (absent from the map) are NaN and dropped. Identical zero-variance
// vectors return 1.0 by definition (§9 clustering self-loops), so
// lockstep bots cluster.
func pearson(a, b map[corepb.RumorID]float64, axis []corepb.RumorID) (float64, bool) {
	var xs, ys []float64
	for _, id := range axis {
		xv, xok := a[id]
		yv, yok := b[id]
		if !xok || !yok {
			continue
		}
		xs = append(xs, xv)
		ys = append(ys, yv)
	}
	if len(xs) < 2 {
		return 0, false
	}

	n := float64(len(xs))
	var sumX, sumY float64
	for i := range xs {
		sumX += xs[i]
		sumY += ys[i]
	}
	meanX, meanY := sumX/n, sumY/n

	var varX, varY, cov float64
	for i := range xs {
		dx := xs[i] - meanX
		dy := ys[i] - meanY
		varX += dx * dx
		varY += dy * dy
		cov += dx * dy
	}

	if varX == 0 && varY == 0 {
		// identical constant vectors: defined as perfectly correlated
		if meanX == meanY {
			return 1.0, true
		}
		return 0, false
	}
	if varX == 0 || varY == 0 {
		return 0, false
	}

	rho := cov / math.Sqrt(varX*varY)
	if math.IsNaN(rho) {
		return 0, false
	}
	return rho, true
}

func averageIntraClusterRho(members []int, pairRho map[[2]int]float64) float64 {
	var sum float64
	var count int
	for i := 0; i < len(members); i++ {
		for j := i + 1; j < len(members); j++ {
			key := [2]int{members[i], members[j]}
			if rho, ok := pairRho[key]; ok {
				sum += rho
				count++
			}
		}
	}
	if count == 0 {
		// every pair failed the ≥2-shared-dimension test but still
		// clustered via transitive union; treat as maximally correlated.
		return 1.0
	}
	return sum / float64(count)
}

// unionFind is a standard disjoint-set structure with path compression
// and union by rank.
type unionFind struct {
	parent []int
	rank   []int
}

func newUnionFind(n int) *unionFind {
	uf := &unionFind{parent: make([]int, n), rank: make([]int, n)}
	for i := range uf.parent {
		uf.parent[i] = i
	}
	return uf
}

func (uf *unionFind) find(x int) int {
	if uf.parent[x] != x {
		uf.parent[x] = uf.find(uf.parent[x])
	}
	return uf.parent[x]
}

func (uf *unionFind) union(a, b int) {
	ra, rb := uf.find(a), uf.find(b)
	if ra == rb {
		return
	}
	if uf.rank[ra] < uf.rank[rb] {
		ra, rb = rb, ra
	}
	uf.parent[rb] = ra
	if uf.rank[ra] == uf.rank[rb] {
		uf.rank[ra]++
	}
}
