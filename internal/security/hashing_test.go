package security

import (
	"testing"
)

func TestHasher_HashAndCompare(t *testing.T) {
	h := NewHasher(4)
	hash, err := h.Hash("password123")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if hash == "" || hash == "password123" {
		t.Fatalf("Hash returned %q", hash)
	}
	if err := h.Compare(hash, "password123"); err != nil {
		t.Fatalf("Compare: %v", err)
	}
}

func TestHasher_SaltedHashesDiffer(t *testing.T) {
	h := NewHasher(4)
	a, _ := h.Hash("password123")
	b, _ := h.Hash("password123")
	if a == b {
		t.Error("two hashes of the same password should differ")
	}
}

func TestHasher_CompareWrongPassword(t *testing.T) {
	h := NewHasher(4)
	hash, _ := h.Hash("password123")
	if err := h.Compare(hash, "wrong"); err == nil {
		t.Fatal("Compare with wrong password should fail")
	}
}

func TestHasher_CompareDummy(t *testing.T) {
	h := NewHasher(4)
	h.CompareDummy("anything")
	if len(h.dummy) == 0 {
		t.Error("dummy hash should be initialised")
	}
}

func TestHasher_Cost(t *testing.T) {
	h := NewHasher(12)
	if h.Cost != 12 {
		t.Errorf("Cost want 12, got %d", h.Cost)
	}
	h0 := NewHasher(0)
	if h0.Cost < 4 {
		t.Errorf("zero cost should be clamped to at least MinCost, got %d", h0.Cost)
	}
	if hi := NewHasher(99); hi.Cost != 31 {
		t.Errorf("cost above max should clamp to 31, got %d", hi.Cost)
	}
}
