package identity

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticMembershipVerifierAcceptsKnownProof(t *testing.T) {
	v := NewStaticMembershipVerifier(map[string]MembershipResult{
		"proof-1": {OK: true, Nullifier: "n1", Scope: "RUMOR"},
	})
	res, err := v.VerifyMembershipProof(context.Background(), ZKProof{Proof: []byte("proof-1")}, []string{"root-a"})
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Equal(t, "n1", res.Nullifier)
	assert.Equal(t, "RUMOR", res.Scope)
}

func TestStaticMembershipVerifierRejectsUnknownProof(t *testing.T) {
	v := NewStaticMembershipVerifier(nil)
	res, err := v.VerifyMembershipProof(context.Background(), ZKProof{Proof: []byte("nope")}, nil)
	require.NoError(t, err)
	assert.False(t, res.OK)
}

func TestStaticDKIMVerifierReturnsConfiguredResult(t *testing.T) {
	v := NewStaticDKIMVerifier(DKIMResult{
		OK:            true,
		DeliveredTo:   "member@campus.edu",
		SigningDomain: "campus.edu",
		BodyHash:      "abc123",
		MessageID:     "<msg-1@campus.edu>",
	})
	res, err := v.VerifyDKIM(context.Background(), []byte("raw eml bytes"))
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Equal(t, "campus.edu", res.SigningDomain)
	assert.Equal(t, "member@campus.edu", res.DeliveredTo)
}
