package view

import (
	"testing"
	"time"

	"github.com/rumornet/core/internal/corepb"
	"github.com/rumornet/core/internal/oplog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rumorOp(id corepb.RumorID, author corepb.Nullifier) corepb.Op {
	return corepb.Op{
		Type: corepb.OpRumor,
		Rumor: &corepb.Rumor{
			ID:             id,
			Text:           "text",
			Topic:          corepb.TopicGeneral,
			AuthorNullifer: author,
			Timestamp:      time.Now(),
		},
	}
}

func voteOp(id corepb.RumorID, voter corepb.Nullifier, choice corepb.Choice) corepb.Op {
	return corepb.Op{
		Type: corepb.OpVote,
		Vote: &corepb.Vote{
			RumorID:       id,
			VoterNullifer: voter,
			Choice:        choice,
			Prediction:    map[corepb.Choice]float64{corepb.ChoiceTrue: 0.9, corepb.ChoiceFalse: 0.05, corepb.ChoiceUnverified: 0.05},
			StakeAmount:   1,
			Timestamp:     time.Now(),
		},
	}
}

func tombstoneOp(id corepb.RumorID, author corepb.Nullifier) corepb.Op {
	return corepb.Op{
		Type: corepb.OpTombstone,
		Tombstone: &corepb.Tombstone{
			RumorID:        id,
			Reason:         corepb.ReasonRetracted,
			AuthorNullifer: author,
			Timestamp:      time.Now(),
		},
	}
}

// S3: tombstone absorption scenario.
func TestTombstoneAbsorption(t *testing.T) {
	log := oplog.New(nil)
	log.Append(rumorOp("r1", "A"))
	log.Append(voteOp("r1", "B", corepb.ChoiceTrue))
	log.Append(tombstoneOp("r1", "A"))

	v := New(log, nil)
	s := v.Rebuild()

	assert.Len(t, s.Rumors, 0)
	assert.Len(t, s.Votes, 0)
	assert.Contains(t, s.Tombstones, corepb.RumorID("r1"))
}

// P1: two successive rebuilds over an unchanged log produce structurally
// equal state.
func TestRebuildIdempotent(t *testing.T) {
	log := oplog.New(nil)
	log.Append(rumorOp("r1", "A"))
	log.Append(voteOp("r1", "B", corepb.ChoiceTrue))
	log.Append(voteOp("r2", "C", corepb.ChoiceFalse))

	v := New(log, nil)
	s1 := v.Rebuild()
	s2 := v.Rebuild()

	assert.True(t, s1.Equal(s2))
}

// P2: tombstone anywhere in the log removes the rumor and its votes
// post-rebuild, regardless of insertion order relative to the votes.
func TestTombstoneRemovesPriorVotes(t *testing.T) {
	log := oplog.New(nil)
	log.Append(rumorOp("r1", "A"))
	log.Append(voteOp("r1", "B", corepb.ChoiceTrue))
	log.Append(voteOp("r1", "C", corepb.ChoiceFalse))
	log.Append(tombstoneOp("r1", "A"))
	log.Append(voteOp("r1", "D", corepb.ChoiceTrue)) // late vote after tombstone

	v := New(log, nil)
	s := v.Rebuild()

	_, exists := s.Rumors["r1"]
	assert.False(t, exists)
	assert.Empty(t, s.Votes["r1"])
}

func TestDuplicateVoteFirstAuthoritative(t *testing.T) {
	log := oplog.New(nil)
	log.Append(rumorOp("r1", "A"))
	log.Append(voteOp("r1", "B", corepb.ChoiceTrue))
	log.Append(voteOp("r1", "B", corepb.ChoiceFalse)) // late duplicate from same voter

	v := New(log, nil)
	s := v.Rebuild()

	require.Len(t, s.Votes["r1"], 1)
	assert.Equal(t, corepb.ChoiceTrue, s.Votes["r1"][0].Choice)
}

func TestJoinSeedsReputation(t *testing.T) {
	log := oplog.New(nil)
	log.Append(corepb.Op{Type: corepb.OpJoin, Join: &corepb.Join{Commitment: "c1", Nullifier: "n1"}})

	v := New(log, nil)
	s := v.Rebuild()

	assert.Equal(t, InitialTrustScore, s.Reputation["n1"])
}

func TestSnapshotEmittedOnInterval(t *testing.T) {
	log := oplog.New(nil)
	v := New(log, nil)

	var snaps []Snapshot
	v.OnSnapshot(func(s Snapshot) { snaps = append(snaps, s) })

	for i := 0; i < SnapshotInterval; i++ {
		log.Append(rumorOp(corepb.RumorID(string(rune('a'+i))), "A"))
		v.Apply(log.All()[i].Op)
	}

	require.Len(t, snaps, 1)
	assert.Equal(t, SnapshotInterval, snaps[0].ActiveRumors)
}
