package trust

import (
	"fmt"
	"testing"

	"github.com/rumornet/core/internal/corepb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// S5: PPR personalization.
func TestPersonalizationFavorsSeed(t *testing.T) {
	history := map[corepb.RumorID]RumorOutcome{
		"r": {
			Consensus: corepb.ConsensusTrue,
			Votes: []VoteRecord{
				{Voter: "A", Choice: corepb.ChoiceTrue},
				{Voter: "B", Choice: corepb.ChoiceTrue},
				{Voter: "C", Choice: corepb.ChoiceTrue},
			},
			VoterScores: map[corepb.Nullifier]float64{"A": 1, "B": 1, "C": 1},
		},
	}
	g := BuildGraph(history)
	result := Propagate(g, map[corepb.Nullifier]float64{"A": 1, "B": 0, "C": 0})

	require.True(t, result.Converged)
	require.LessOrEqual(t, result.Iterations, MaxIterations)
	assert.Greater(t, result.Scores["A"], result.Scores["B"])
	assert.InDelta(t, result.Scores["B"], result.Scores["C"], 1e-9)
}

func TestUniformPersonalizationWhenSeedsSumZero(t *testing.T) {
	history := map[corepb.RumorID]RumorOutcome{
		"r": {
			Consensus: corepb.ConsensusTrue,
			Votes: []VoteRecord{
				{Voter: "A", Choice: corepb.ChoiceTrue},
				{Voter: "B", Choice: corepb.ChoiceTrue},
			},
			VoterScores: map[corepb.Nullifier]float64{"A": 1, "B": 1},
		},
	}
	g := BuildGraph(history)
	result := Propagate(g, nil)
	assert.InDelta(t, result.Scores["A"], result.Scores["B"], 1e-9)
}

// P7: terminates within MaxIterations, converged implies residual bound.
func TestConvergesWithinBudget(t *testing.T) {
	history := map[corepb.RumorID]RumorOutcome{}
	votes := []VoteRecord{}
	scores := map[corepb.Nullifier]float64{}
	for i := 0; i < 20; i++ {
		voter := corepb.Nullifier(fmt.Sprintf("voter-%d", i))
		votes = append(votes, VoteRecord{Voter: voter, Choice: corepb.ChoiceTrue})
		scores[voter] = 1
	}
	history["r"] = RumorOutcome{Consensus: corepb.ConsensusTrue, Votes: votes, VoterScores: scores}

	g := BuildGraph(history)
	result := Propagate(g, nil)
	assert.LessOrEqual(t, result.Iterations, MaxIterations)
	assert.True(t, result.Converged)
}

func TestIsolatedVoterIncludedAsNode(t *testing.T) {
	history := map[corepb.RumorID]RumorOutcome{
		"r": {
			Consensus: corepb.ConsensusDisputed,
			Votes: []VoteRecord{
				{Voter: "lonely", Choice: corepb.ChoiceTrue},
			},
			VoterScores: map[corepb.Nullifier]float64{},
		},
	}
	g := BuildGraph(history)
	result := Propagate(g, nil)
	_, ok := result.Scores["lonely"]
	assert.True(t, ok)
}

func TestEmptyGraph(t *testing.T) {
	g := BuildGraph(map[corepb.RumorID]RumorOutcome{})
	result := Propagate(g, nil)
	assert.Empty(t, result.Scores)
	assert.True(t, result.Converged)
}

// §4.H headline output: 100·Σ_{v: choice_v=TRUE} PPR(v) / Σ_v PPR(v).
func TestRumorTrustWeightsByPPRScore(t *testing.T) {
	result := Result{Scores: map[corepb.Nullifier]float64{"A": 3, "B": 1}}
	votes := []VoteRecord{
		{Voter: "A", Choice: corepb.ChoiceTrue},
		{Voter: "B", Choice: corepb.ChoiceFalse},
	}
	assert.InDelta(t, 75.0, RumorTrust(result, votes), 1e-9)
}

func TestRumorTrustNeutralWhenNoWeight(t *testing.T) {
	result := Result{Scores: map[corepb.Nullifier]float64{}}
	votes := []VoteRecord{{Voter: "A", Choice: corepb.ChoiceTrue}}
	assert.Equal(t, 50.0, RumorTrust(result, votes))
}
