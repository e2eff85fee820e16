package artifact

import "testing"

func TestNewComputesStableHash(t *testing.T) {
	a := New("text", "mock", "mock-1")
	b := New("text", "mock", "mock-1")
	if a.Hash != b.Hash {
		t.Fatalf("hash mismatch: %s != %s", a.Hash, b.Hash)
	}
	if a.ID == b.ID {
		t.Fatalf("expected distinct IDs")
	}
	if len(a.Hash) != 16 {
		t.Fatalf("unexpected hash length %d", len(a.Hash))
	}
}

func TestWithMetadataDoesNotMutateOriginal(t *testing.T) {
	a := New("text", "mock", "mock-1")
	b := a.WithMetadata("stage", "risk")

	if _, ok := a.Metadata["stage"]; ok {
		t.Fatalf("original artifact mutated")
	}
	if b.Metadata["stage"] != "risk" {
		t.Fatalf("metadata not set on copy")
	}
	if b.Hash != a.Hash {
		t.Fatalf("metadata must not change hash")
	}
}
