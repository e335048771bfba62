package dampener

import (
	"fmt"
	"math"
	"testing"

	"github.com/rumornet/core/internal/corepb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mkVote(voter corepb.Nullifier, choice corepb.Choice) corepb.Vote {
	return corepb.Vote{RumorID: "target", VoterNullifer: voter, Choice: choice, StakeAmount: 1}
}

func identicalHistory() []HistoryEntry {
	return []HistoryEntry{
		{RumorID: "h1", Choice: corepb.ChoiceTrue},
		{RumorID: "h2", Choice: corepb.ChoiceFalse},
		{RumorID: "h3", Choice: corepb.ChoiceTrue},
		{RumorID: "h4", Choice: corepb.ChoiceTrue},
		{RumorID: "h5", Choice: corepb.ChoiceFalse},
	}
}

// S1: lockstep bot dampening.
func TestLockstepBotDampening(t *testing.T) {
	const n = 50
	votes := make([]corepb.Vote, n)
	history := make(map[corepb.Nullifier][]HistoryEntry, n)
	for i := 0; i < n; i++ {
		id := corepb.Nullifier(fmt.Sprintf("bot-%d", i))
		votes[i] = mkVote(id, corepb.ChoiceTrue)
		history[id] = identicalHistory()
	}

	out := Dampen(votes, history)
	require.Len(t, out, n)

	cluster := out[0].ClusterID
	var total float64
	for _, dv := range out {
		assert.Equal(t, cluster, dv.ClusterID)
		assert.Equal(t, n, dv.ClusterSize)
		total += dv.Weight
	}

	expected := float64(n) / (1 + CorrelationLambda*1.0)
	assert.InDelta(t, expected, total, 1e-9)
}

func TestSingleVoterWeightOne(t *testing.T) {
	out := Dampen([]corepb.Vote{mkVote("A", corepb.ChoiceTrue)}, nil)
	require.Len(t, out, 1)
	assert.Equal(t, 1.0, out[0].Weight)
}

func TestEmptyInput(t *testing.T) {
	assert.Empty(t, Dampen(nil, nil))
}

func TestUncorrelatedVotersAreSingletons(t *testing.T) {
	votes := []corepb.Vote{mkVote("A", corepb.ChoiceTrue), mkVote("B", corepb.ChoiceFalse)}
	history := map[corepb.Nullifier][]HistoryEntry{
		"A": {{RumorID: "h1", Choice: corepb.ChoiceTrue}, {RumorID: "h2", Choice: corepb.ChoiceTrue}},
		"B": {{RumorID: "h1", Choice: corepb.ChoiceFalse}, {RumorID: "h2", Choice: corepb.ChoiceFalse}},
	}
	out := Dampen(votes, history)
	require.Len(t, out, 2)
	assert.NotEqual(t, out[0].ClusterID, out[1].ClusterID)
	assert.Equal(t, 1.0, out[0].Weight)
	assert.Equal(t, 1.0, out[1].Weight)
}

// P6: for a cluster of k identical history-vectors with k>=2, the
// summed cluster weight matches k/(1+lambda*rhoBar) within epsilon.
func TestClusterWeightBound(t *testing.T) {
	const k = 8
	votes := make([]corepb.Vote, k)
	history := make(map[corepb.Nullifier][]HistoryEntry, k)
	for i := 0; i < k; i++ {
		id := corepb.Nullifier(fmt.Sprintf("v%d", i))
		votes[i] = mkVote(id, corepb.ChoiceTrue)
		history[id] = identicalHistory()
	}
	out := Dampen(votes, history)
	var total float64
	for _, dv := range out {
		total += dv.Weight
	}
	expected := float64(k) / (1 + CorrelationLambda*1.0)
	assert.True(t, math.Abs(total-expected) < 1e-6)
}

func TestNaNHistoryIgnored(t *testing.T) {
	votes := []corepb.Vote{mkVote("A", corepb.ChoiceTrue), mkVote("B", corepb.ChoiceTrue)}
	history := map[corepb.Nullifier][]HistoryEntry{
		"A": {{RumorID: "h1", Choice: corepb.ChoiceTrue}},
		"B": {{RumorID: "h2", Choice: corepb.ChoiceTrue}}, // no shared dimension
	}
	out := Dampen(votes, history)
	require.Len(t, out, 2)
	// fewer than 2 shared dims -> undefined correlation -> no union
	assert.NotEqual(t, out[0].ClusterID, out[1].ClusterID)
}
