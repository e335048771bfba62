package scoring

import (
	"testing"

	"github.com/rumornet/core/internal/corepb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func unanimousPrediction(choice corepb.Choice) map[corepb.Choice]float64 {
	p := map[corepb.Choice]float64{
		corepb.ChoiceTrue:       0.01,
		corepb.ChoiceFalse:      0.01,
		corepb.ChoiceUnverified: 0.01,
	}
	p[choice] = 0.98
	return p
}

// S1: 50 voters, all TRUE, all weight 1 (no lockstep dampening applied
// at this layer — dampener runs upstream). Population is >= RBTSThreshold
// so BTS must run, and with unanimous TRUE the trust score is 100.
func TestScoreBTSUnanimousTrue(t *testing.T) {
	inputs := make([]Input, 50)
	for i := range inputs {
		inputs[i] = Input{
			Voter:      corepb.Nullifier(string(rune('a' + i))),
			Choice:     corepb.ChoiceTrue,
			Prediction: unanimousPrediction(corepb.ChoiceTrue),
			Stake:      1,
			Weight:     1,
		}
	}
	result := Score(inputs, "r1", 1)
	assert.Equal(t, EngineBTS, result.Engine)
	assert.Equal(t, corepb.ConsensusTrue, result.Consensus)
	assert.InDelta(t, 100, result.RumorTrustScore, 1e-9)
}

// Majority-UNVERIFIED proportion must label consensus UNVERIFIED, not
// DISPUTED — the two are distinct outcomes (§4.H).
func TestScoreBTSUnanimousUnverifiedConsensus(t *testing.T) {
	inputs := make([]Input, 50)
	for i := range inputs {
		inputs[i] = Input{
			Voter:      corepb.Nullifier(string(rune('a' + i))),
			Choice:     corepb.ChoiceUnverified,
			Prediction: unanimousPrediction(corepb.ChoiceUnverified),
			Stake:      1,
			Weight:     1,
		}
	}
	result := Score(inputs, "r1", 1)
	assert.Equal(t, EngineBTS, result.Engine)
	assert.Equal(t, corepb.ConsensusUnverified, result.Consensus)
}

// S2: RBTS determinism and trust score.
func TestScoreRBTSDeterministicAndTrustScore(t *testing.T) {
	build := func() []Input {
		cs := []corepb.Choice{corepb.ChoiceTrue, corepb.ChoiceTrue, corepb.ChoiceFalse, corepb.ChoiceTrue, corepb.ChoiceUnverified}
		inputs := make([]Input, 5)
		for i, c := range cs {
			inputs[i] = Input{
				Voter:      corepb.Nullifier(string(rune('s' + i))),
				Choice:     c,
				Prediction: unanimousPrediction(c),
				Stake:      1,
				Weight:     1,
			}
		}
		return inputs
	}

	r1 := Score(build(), "Q", 50)
	r2 := Score(build(), "Q", 50)

	require.Equal(t, EngineRBTS, r1.Engine)
	assert.Equal(t, r1.VoterScores, r2.VoterScores)
	assert.Equal(t, r1.PeerAssignments, r2.PeerAssignments)
	assert.Equal(t, corepb.ConsensusTrue, r1.Consensus)
	assert.InDelta(t, 60.0, r1.RumorTrustScore, 1e-9)
}

func TestScoreBelowMinimumNeutral(t *testing.T) {
	inputs := []Input{
		{Voter: "a", Choice: corepb.ChoiceTrue, Prediction: unanimousPrediction(corepb.ChoiceTrue), Stake: 1, Weight: 1},
	}
	result := Score(inputs, "r1", 1)
	assert.Equal(t, EngineNone, result.Engine)
	assert.Equal(t, corepb.ConsensusUnverified, result.Consensus)
	assert.Equal(t, 50.0, result.RumorTrustScore)
	assert.Empty(t, result.VoterScores)
}

func TestActualProportionsSumToOne(t *testing.T) {
	inputs := []Input{
		{Voter: "a", Choice: corepb.ChoiceTrue, Prediction: unanimousPrediction(corepb.ChoiceTrue), Stake: 1, Weight: 1},
		{Voter: "b", Choice: corepb.ChoiceFalse, Prediction: unanimousPrediction(corepb.ChoiceFalse), Stake: 1, Weight: 1},
		{Voter: "c", Choice: corepb.ChoiceTrue, Prediction: unanimousPrediction(corepb.ChoiceTrue), Stake: 1, Weight: 1},
	}
	result := Score(inputs, "r1", 1)
	var sum float64
	for _, v := range result.ActualProportions {
		sum += v
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
}

func TestPeerAssignmentExcludesSelfAndReference(t *testing.T) {
	inputs := []Input{
		{Voter: "a", Choice: corepb.ChoiceTrue, Prediction: unanimousPrediction(corepb.ChoiceTrue), Stake: 1, Weight: 1},
		{Voter: "b", Choice: corepb.ChoiceFalse, Prediction: unanimousPrediction(corepb.ChoiceFalse), Stake: 1, Weight: 1},
		{Voter: "c", Choice: corepb.ChoiceTrue, Prediction: unanimousPrediction(corepb.ChoiceTrue), Stake: 1, Weight: 1},
	}
	result := Score(inputs, "r2", 7)
	require.Equal(t, EngineRBTS, result.Engine)
	for _, a := range result.PeerAssignments {
		assert.NotEqual(t, a.Voter, a.Reference)
		assert.NotEqual(t, a.Voter, a.Peer)
		assert.NotEqual(t, a.Reference, a.Peer)
	}
}
