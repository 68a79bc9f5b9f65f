package core

import (
	"fmt"
	"strconv"
	"strings"
)

// Identity derivation for content-addressed entities. Both functions are pure:
// no network, no database, and identical inputs always produce identical IDs.
// Preimages are domain-separated and field-delimited with NUL so that distinct
// input tuples cannot collide by concatenation.

const (
	documentIDDomain = "docstream/document"
	chunkIDDomain    = "docstream/chunk"
	fieldSeparator   = "\x00"
)

// DocumentID derives the deterministic document identifier from the owner and
// the content fingerprint of the raw bytes.
func DocumentID(ownerID, contentFingerprint string) (ID, error) {
	if strings.TrimSpace(ownerID) == "" {
		return 0, fmt.Errorf("%w: %w", ErrInvalidInput, ErrEmptyOwnerId)
	}
	if strings.TrimSpace(contentFingerprint) == "" {
		return 0, fmt.Errorf("%w: %w", ErrInvalidInput, ErrEmptyFingerprint)
	}

	preimage := documentIDDomain + fieldSeparator + ownerID + fieldSeparator + contentFingerprint
	return IDFromContent(preimage), nil
}

// ChunkID derives the deterministic chunk identifier from the owning document,
// the chunker configuration, and the chunk ordinal. Re-chunking a document with
// the same chunker name and version reproduces the same IDs.
func ChunkID(documentID ID, chunkerName, chunkerVersion string, ordinal int) (ID, error) {
	if documentID == 0 {
		return 0, fmt.Errorf("%w: document id is zero", ErrInvalidInput)
	}
	if strings.TrimSpace(chunkerName) == "" {
		return 0, fmt.Errorf("%w: %w", ErrInvalidInput, ErrEmptyChunkerName)
	}
	if strings.TrimSpace(chunkerVersion) == "" {
		return 0, fmt.Errorf("%w: %w", ErrInvalidInput, ErrEmptyChunkerVersion)
	}
	if ordinal < 0 {
		return 0, fmt.Errorf("%w: negative ordinal %d", ErrInvalidInput, ordinal)
	}

	preimage := chunkIDDomain + fieldSeparator +
		strconv.FormatUint(uint64(documentID), 16) + fieldSeparator +
		chunkerName + fieldSeparator +
		chunkerVersion + fieldSeparator +
		strconv.Itoa(ordinal)
	return IDFromContent(preimage), nil
}
