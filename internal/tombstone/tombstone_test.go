package tombstone

import (
	"testing"

	"github.com/rumornet/core/internal/corepb"
	rnerrors "github.com/rumornet/core/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateUnknownTarget(t *testing.T) {
	a := New()
	_, err := a.Create(Request{RumorID: "nope", AuthorNullifer: "A", Reason: corepb.ReasonRetracted})
	require.Error(t, err)
	assert.True(t, rnerrors.Is(err, rnerrors.ErrTombstoneUnknown))
}

func TestCreateAuthorMismatch(t *testing.T) {
	a := New()
	a.RegisterRumor("r1", "A")
	_, err := a.Create(Request{RumorID: "r1", AuthorNullifer: "B", Reason: corepb.ReasonRetracted})
	require.Error(t, err)
	assert.True(t, rnerrors.Is(err, rnerrors.ErrTombstoneNotAuthor))
}

func TestCreateAlreadyTombstoned(t *testing.T) {
	a := New()
	a.RegisterRumor("r1", "A")
	_, err := a.Create(Request{RumorID: "r1", AuthorNullifer: "A", Reason: corepb.ReasonRetracted})
	require.NoError(t, err)

	_, err = a.Create(Request{RumorID: "r1", AuthorNullifer: "A", Reason: corepb.ReasonRetracted})
	require.Error(t, err)
	assert.True(t, rnerrors.Is(err, rnerrors.ErrTombstoneAlready))
}

func TestCreateSuccess(t *testing.T) {
	a := New()
	a.RegisterRumor("r1", "A")
	op, err := a.Create(Request{RumorID: "r1", AuthorNullifer: "A", Reason: corepb.ReasonDuplicate})
	require.NoError(t, err)
	assert.Equal(t, corepb.OpTombstone, op.Type)
	assert.Equal(t, corepb.ReasonDuplicate, op.Tombstone.Reason)
}

func TestCreateAdministrativeBypassesAuthor(t *testing.T) {
	a := New()
	a.RegisterRumor("r1", "A")
	op, err := a.CreateAdministrative("r1", "", "admin1")
	require.NoError(t, err)
	assert.Equal(t, corepb.ReasonAdminRemoval, op.Tombstone.Reason)
	assert.Equal(t, corepb.Nullifier("admin1"), op.Tombstone.AuthorNullifer)
}
