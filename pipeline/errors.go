package pipeline

import (
	"errors"

	"github.com/poiesic/docstream/storage"
)

var (
	// ErrDocumentRepositoryRequired is returned when a document repository is not provided.
	ErrDocumentRepositoryRequired = errors.New("document repository required")

	// ErrJobRepositoryRequired is returned when a job repository is not provided.
	ErrJobRepositoryRequired = errors.New("job repository required")

	// ErrChunkRepositoryRequired is returned when a chunk repository is not provided.
	ErrChunkRepositoryRequired = errors.New("chunk repository required")

	// ErrEventRepositoryRequired is returned when an event repository is not provided.
	ErrEventRepositoryRequired = errors.New("event repository required")

	// ErrProviderRequired is returned when a services provider is not provided.
	ErrProviderRequired = errors.New("services provider required")

	// ErrUnknownStage is returned when no processor is registered for a
	// job's stage.
	ErrUnknownStage = errors.New("no processor for stage")

	// ErrCallbackJobInactive is returned by callback ingestion when the
	// referenced job is still queued and therefore has no worker to act for.
	ErrCallbackJobInactive = errors.New("callback references a job no worker holds")

	// ErrConflict is returned when a document already has an active job.
	ErrConflict = storage.ErrActiveJobExists

	// ErrLeaseLost is returned when a worker no longer holds its job.
	ErrLeaseLost = storage.ErrLeaseLost
)
