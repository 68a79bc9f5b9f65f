// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"

	"github.com/poiesic/docstream/core"
	"github.com/poiesic/docstream/services"
	"github.com/poiesic/docstream/storage"
)

// Registry is the document front door: it derives the deterministic document
// ID, stores raw bytes, and registers documents idempotently. The same upload
// twice yields the same document with no duplicate row.
type Registry struct {
	documents storage.DocumentRepository
	store     services.ObjectStore
	ledger    *Ledger
	logger    *slog.Logger
}

// RegisterRequest describes a document to register.
type RegisterRequest struct {
	// OwnerId identifies the uploading tenant. Required.
	OwnerId string

	// Filename is the original upload name. Required.
	Filename string

	// MimeType of the raw bytes. Required.
	MimeType string

	// Content is the raw document. When set, the fingerprint and byte length
	// are computed and the bytes stored; otherwise ContentFingerprint and
	// RawLocation must reference already-stored bytes.
	Content []byte

	// ContentFingerprint is the hex sha-256 of the raw bytes. Computed from
	// Content when empty.
	ContentFingerprint string

	// ByteLength of the raw bytes. Computed from Content when zero.
	ByteLength int64

	// RawLocation is where the raw bytes live. Filled by the registry when
	// Content is provided.
	RawLocation string
}

// NewRegistry creates a document registry. ledger may be nil if enqueueing is
// handled elsewhere; RegisterAndEnqueue then fails.
func NewRegistry(documents storage.DocumentRepository, store services.ObjectStore, ledger *Ledger) (*Registry, error) {
	if documents == nil {
		return nil, ErrDocumentRepositoryRequired
	}
	if store == nil {
		return nil, ErrProviderRequired
	}
	return &Registry{
		documents: documents,
		store:     store,
		ledger:    ledger,
		logger:    slog.Default().With("component", "registry"),
	}, nil
}

// Register computes the document's identity and upserts it.
// Returns the stored document and whether it was newly created; a re-upload
// of known content returns the existing document with created=false.
func (r *Registry) Register(ctx context.Context, req RegisterRequest) (*core.Document, bool, error) {
	if req.ContentFingerprint == "" {
		if len(req.Content) == 0 {
			return nil, false, fmt.Errorf("%w: %w", core.ErrInvalidInput, core.ErrEmptyFingerprint)
		}
		sum := sha256.Sum256(req.Content)
		req.ContentFingerprint = hex.EncodeToString(sum[:])
	}
	if req.ByteLength == 0 {
		req.ByteLength = int64(len(req.Content))
	}

	id, err := core.DocumentID(req.OwnerId, req.ContentFingerprint)
	if err != nil {
		return nil, false, err
	}

	if req.RawLocation == "" {
		if len(req.Content) == 0 {
			return nil, false, fmt.Errorf("%w: %w", core.ErrInvalidInput, core.ErrEmptyRawLocation)
		}
		key := fmt.Sprintf("%s/%016x/raw", req.OwnerId, uint64(id))
		location, err := r.store.Put(ctx, key, req.Content)
		if err != nil {
			return nil, false, err
		}
		req.RawLocation = location
	}

	doc := &core.Document{
		Id:                 id,
		OwnerId:            req.OwnerId,
		Filename:           req.Filename,
		MimeType:           req.MimeType,
		ByteLength:         req.ByteLength,
		ContentFingerprint: req.ContentFingerprint,
		RawLocation:        req.RawLocation,
		Status:             core.StatusPending,
	}

	stored, created, err := r.documents.Upsert(ctx, doc)
	if err != nil {
		return nil, false, err
	}
	r.logger.Info("document registered", "document", stored.Id, "owner", stored.OwnerId, "created", created)
	return stored, created, nil
}

// Get retrieves a document by ID.
func (r *Registry) Get(ctx context.Context, id core.ID) (*core.Document, error) {
	return r.documents.Get(ctx, id)
}

// RegisterAndEnqueue registers the document and enqueues its parse job in one
// call. If the document already has an active job, that job is returned
// instead of a conflict: the upload is already in progress.
func (r *Registry) RegisterAndEnqueue(ctx context.Context, req RegisterRequest, idempotencyKey string) (*core.Document, *core.Job, bool, error) {
	if r.ledger == nil {
		return nil, nil, false, ErrJobRepositoryRequired
	}

	doc, created, err := r.Register(ctx, req)
	if err != nil {
		return nil, nil, false, err
	}

	job, jobCreated, err := r.ledger.Enqueue(ctx, doc, core.StageParse, idempotencyKey)
	if err != nil {
		if errors.Is(err, storage.ErrActiveJobExists) {
			active, activeErr := r.ledger.jobs.GetActiveByDocument(ctx, doc.Id)
			if activeErr != nil {
				return nil, nil, false, err
			}
			return doc, active, false, nil
		}
		return nil, nil, false, err
	}
	return doc, job, created || jobCreated, nil
}
