package sync

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// S6: sync reconciliation. Node X has {r1,r2}, node Y has {r1}.
func TestSyncReconciliation(t *testing.T) {
	x := NewMemoryStore()
	x.Put("rumors", Entry{Key: "r1", Canonical: []byte("rumor-1")})
	x.Put("rumors", Entry{Key: "r2", Canonical: []byte("rumor-2")})

	y := NewMemoryStore()
	y.Put("rumors", Entry{Key: "r1", Canonical: []byte("rumor-1")})

	engineX := New(x, nil)
	engineY := New(y, nil)

	req, ok := engineY.BuildRequest("X")
	require.True(t, ok)

	resp := engineX.HandleRequest(req)
	inserted := engineY.ApplyResponse("X", resp)
	assert.Equal(t, 1, inserted)

	assert.Equal(t, x.Root("rumors"), y.Root("rumors"))
}

func TestCooldownBlocksRepeatRequest(t *testing.T) {
	x := NewMemoryStore()
	engine := New(x, nil)

	_, ok := engine.BuildRequest("peer")
	require.True(t, ok)

	_, ok = engine.BuildRequest("peer")
	assert.False(t, ok, "second request within cooldown should be suppressed")
}

func TestNoDivergenceWhenRootsMatch(t *testing.T) {
	x := NewMemoryStore()
	x.Put("rumors", Entry{Key: "r1", Canonical: []byte("rumor-1")})
	y := NewMemoryStore()
	y.Put("rumors", Entry{Key: "r1", Canonical: []byte("rumor-1")})

	engineX := New(x, nil)
	engineY := New(y, nil)

	req, _ := engineY.BuildRequest("X")
	resp := engineX.HandleRequest(req)
	inserted := engineY.ApplyResponse("X", resp)
	assert.Equal(t, 0, inserted)
}

// R2 (sampled): after one full exchange, the symmetric difference
// cannot grow; with batches large enough to cover the full diff it
// reaches zero.
func TestFullExchangeConvergesWithinBatchLimit(t *testing.T) {
	x := NewMemoryStore()
	y := NewMemoryStore()
	for i := 0; i < 10; i++ {
		key := string(rune('a' + i))
		x.Put("rumors", Entry{Key: key, Canonical: []byte(key)})
	}

	engineX := New(x, nil)
	engineY := New(y, nil)

	req, _ := engineY.BuildRequest("X")
	resp := engineX.HandleRequest(req)
	engineY.ApplyResponse("X", resp)

	assert.Equal(t, x.Root("rumors"), y.Root("rumors"))
}

func TestStatsTracked(t *testing.T) {
	x := NewMemoryStore()
	x.Put("rumors", Entry{Key: "r1", Canonical: []byte("rumor-1")})
	y := NewMemoryStore()

	engineX := New(x, nil)
	engineY := New(y, nil)

	req, _ := engineY.BuildRequest("X")
	resp := engineX.HandleRequest(req)
	engineY.ApplyResponse("X", resp)

	assert.Equal(t, 1, engineX.Stats().SyncCount)
	assert.Equal(t, 1, engineX.Stats().EntriesSent)
	assert.Equal(t, 1, engineY.Stats().EntriesReceived)
}
