package core

import (
	"testing"
)

func TestDocumentID_Deterministic(t *testing.T) {
	id1, err := DocumentID("tenant-a", "deadbeef")
	if err != nil {
		t.Fatalf("DocumentID() error = %v", err)
	}
	id2, err := DocumentID("tenant-a", "deadbeef")
	if err != nil {
		t.Fatalf("DocumentID() error = %v", err)
	}

	if id1 != id2 {
		t.Errorf("DocumentID() not deterministic: %d vs %d", id1, id2)
	}
	if id1 == 0 {
		t.Error("DocumentID() produced zero ID")
	}
}

func TestDocumentID_DistinctInputs(t *testing.T) {
	base, _ := DocumentID("tenant-a", "deadbeef")

	tests := []struct {
		name        string
		owner       string
		fingerprint string
	}{
		{"different owner", "tenant-b", "deadbeef"},
		{"different fingerprint", "tenant-a", "cafebabe"},
		{"fields swapped", "deadbeef", "tenant-a"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := DocumentID(tt.owner, tt.fingerprint)
			if err != nil {
				t.Fatalf("DocumentID() error = %v", err)
			}
			if id == base {
				t.Errorf("DocumentID(%q, %q) collided with base ID", tt.owner, tt.fingerprint)
			}
		})
	}
}

func TestDocumentID_Invalid(t *testing.T) {
	tests := []struct {
		name        string
		owner       string
		fingerprint string
	}{
		{"empty owner", "", "deadbeef"},
		{"whitespace owner", "   ", "deadbeef"},
		{"empty fingerprint", "tenant-a", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DocumentID(tt.owner, tt.fingerprint); err == nil {
				t.Error("DocumentID() expected error, got nil")
			}
		})
	}
}

func TestChunkID_Deterministic(t *testing.T) {
	docID, _ := DocumentID("tenant-a", "deadbeef")

	id1, err := ChunkID(docID, "recursive", "v1", 0)
	if err != nil {
		t.Fatalf("ChunkID() error = %v", err)
	}
	id2, err := ChunkID(docID, "recursive", "v1", 0)
	if err != nil {
		t.Fatalf("ChunkID() error = %v", err)
	}

	if id1 != id2 {
		t.Errorf("ChunkID() not deterministic: %d vs %d", id1, id2)
	}
}

func TestChunkID_DistinctInputs(t *testing.T) {
	docID, _ := DocumentID("tenant-a", "deadbeef")
	base, _ := ChunkID(docID, "recursive", "v1", 0)

	tests := []struct {
		name    string
		docID   ID
		chunker string
		version string
		ordinal int
	}{
		{"different document", docID + 1, "recursive", "v1", 0},
		{"different chunker", docID, "semantic", "v1", 0},
		{"different version", docID, "recursive", "v2", 0},
		{"different ordinal", docID, "recursive", "v1", 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := ChunkID(tt.docID, tt.chunker, tt.version, tt.ordinal)
			if err != nil {
				t.Fatalf("ChunkID() error = %v", err)
			}
			if id == base {
				t.Error("ChunkID() collided with base ID")
			}
		})
	}
}

func TestChunkID_Invalid(t *testing.T) {
	docID, _ := DocumentID("tenant-a", "deadbeef")

	tests := []struct {
		name    string
		docID   ID
		chunker string
		version string
		ordinal int
	}{
		{"zero document id", 0, "recursive", "v1", 0},
		{"empty chunker name", docID, "", "v1", 0},
		{"empty chunker version", docID, "recursive", "", 0},
		{"negative ordinal", docID, "recursive", "v1", -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ChunkID(tt.docID, tt.chunker, tt.version, tt.ordinal); err == nil {
				t.Error("ChunkID() expected error, got nil")
			}
		})
	}
}

// Document and chunk ID preimages are domain-separated, so a chunk whose
// fields happen to spell out a document preimage still gets a distinct ID.
func TestIdentity_DomainSeparation(t *testing.T) {
	docID, err := DocumentID("tenant-a", "deadbeef")
	if err != nil {
		t.Fatalf("DocumentID() error = %v", err)
	}

	direct := IDFromContent("tenant-a\x00deadbeef")
	if docID == direct {
		t.Error("DocumentID() matches undomained hash of its fields")
	}
}
