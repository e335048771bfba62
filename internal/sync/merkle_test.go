package sync

import "testing"

func TestEmptyRootIsCanonical(t *testing.T) {
	r1 := MerkleRoot(nil)
	r2 := MerkleRoot([]Entry{})
	if r1 != r2 {
		t.Fatalf("empty roots differ")
	}
}

// P8: Merkle root is a pure function of the multiset of canonical
// serializations; order of the input slice must not matter.
func TestRootOrderIndependent(t *testing.T) {
	a := []Entry{{Key: "1", Canonical: []byte("a")}, {Key: "2", Canonical: []byte("b")}, {Key: "3", Canonical: []byte("c")}}
	b := []Entry{a[2], a[0], a[1]}

	if MerkleRoot(a) != MerkleRoot(b) {
		t.Fatalf("root depends on input order")
	}
}

func TestRootChangesWithContent(t *testing.T) {
	a := []Entry{{Key: "1", Canonical: []byte("a")}}
	b := []Entry{{Key: "1", Canonical: []byte("b")}}
	if MerkleRoot(a) == MerkleRoot(b) {
		t.Fatalf("differing content produced equal roots")
	}
}

func TestOddNodeCountPromotesWithoutPairing(t *testing.T) {
	entries := []Entry{
		{Key: "1", Canonical: []byte("a")},
		{Key: "2", Canonical: []byte("b")},
		{Key: "3", Canonical: []byte("c")},
	}
	// three leaves: pair(1,2) -> internal; 3 promotes unpaired; final
	// hash is internalHash(pair, leaf3).
	pair := internalHash(leafHash(entries[0]), leafHash(entries[1]))
	want := internalHash(pair, leafHash(entries[2]))
	got := MerkleRoot(entries)
	if got != want {
		t.Fatalf("odd-node promotion mismatch: got %x want %x", got, want)
	}
}
