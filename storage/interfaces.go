package storage

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/poiesic/docstream/core"
)

// Repository provides common lifecycle operations shared across all
// repositories. Implementations must be thread-safe and support concurrent
// access.
type Repository interface {
	// Close closes the repository and releases resources.
	Close() error
}

// DocumentRepository provides durable storage for registered documents, keyed
// by their deterministic content-addressed ID.
type DocumentRepository interface {
	Repository

	// Upsert inserts the document if no row with its ID exists, or returns the
	// existing row unchanged. This is the system's core dedup guarantee:
	// callers never need to check existence first.
	// Returns the stored document and whether a new row was created.
	Upsert(ctx context.Context, doc *core.Document) (*core.Document, bool, error)

	// Get retrieves a document by ID.
	// Returns ErrNotFound if no such document exists.
	Get(ctx context.Context, id core.ID) (*core.Document, error)

	// UpdateStatus sets the denormalized processing status.
	// Last writer wins on UpdatedAt.
	UpdateStatus(ctx context.Context, id core.ID, status core.ProcessingStatus) error

	// SetParsedLocation records where the parsed representation was stored.
	SetParsedLocation(ctx context.Context, id core.ID, location string) error

	// List returns up to limit documents with ID greater than after, ordered
	// by ID. Pass after=0 to start from the beginning.
	List(ctx context.Context, after core.ID, limit int) ([]*core.Document, error)
}

// JobRepository is the durable job ledger. It is the single source of truth
// for the pipeline state machine; all mutations below are atomic with respect
// to concurrent callers.
type JobRepository interface {
	Repository

	// Enqueue creates a queued job for a document, upserting by idempotency
	// key: if the key already maps to an active job, that job is returned
	// unchanged (created=false). If a different active job exists for the
	// document, returns ErrActiveJobExists.
	// Assigns the enqueue sequence number and timestamps.
	Enqueue(ctx context.Context, job *core.Job) (*core.Job, bool, error)

	// Get retrieves a job by ID. Returns ErrNotFound if no such job exists.
	Get(ctx context.Context, id uuid.UUID) (*core.Job, error)

	// GetActiveByDocument returns the document's active job, or ErrNotFound.
	GetActiveByDocument(ctx context.Context, docID core.ID) (*core.Job, error)

	// ListByDocument returns all jobs ever created for a document, ordered by
	// enqueue sequence (oldest first).
	ListByDocument(ctx context.Context, docID core.ID) ([]*core.Job, error)

	// Claim atomically selects the oldest claimable queued job (stable FIFO by
	// enqueue sequence, NotBefore elapsed), sets state=claimed and the lease
	// fields, and returns it. Two concurrent claims can never return the same
	// job. maxPerOwner > 0 additionally skips jobs whose owner already holds
	// that many claimed or running jobs.
	// Returns ErrNoJob when nothing is claimable.
	Claim(ctx context.Context, workerID string, lease time.Duration, maxPerOwner int) (*core.Job, error)

	// MarkRunning transitions the worker's claimed job to running.
	// Returns ErrLeaseLost if the worker no longer holds the job.
	MarkRunning(ctx context.Context, id uuid.UUID, workerID string) error

	// Heartbeat extends the worker's lease. Returns ErrLeaseLost if the lease
	// expired and the job was reclaimed or stolen.
	Heartbeat(ctx context.Context, id uuid.UUID, workerID string, lease time.Duration) error

	// Complete transitions the worker's running job to done and releases the
	// document's active-job slot. Returns the updated job.
	// Returns ErrLeaseLost if the worker no longer holds the job.
	Complete(ctx context.Context, id uuid.UUID, workerID string) (*core.Job, error)

	// Fail records a failed attempt. Retryable failures with remaining budget
	// return to queued with NotBefore = now + backoffBase * 2^retryCount and
	// an incremented retry count. Non-retryable failures and exhausted budgets
	// move the job to deadletter in one step.
	// Returns the updated job. Returns ErrLeaseLost if the worker no longer
	// holds the job.
	Fail(ctx context.Context, id uuid.UUID, workerID string, cause string, retryable bool, backoffBase time.Duration) (*core.Job, error)

	// ReclaimExpired returns every claimed or running job whose lease has
	// lapsed to queued, clearing the lease fields. This is the sweep that
	// makes worker crashes non-fatal. Returns the reclaimed jobs.
	ReclaimExpired(ctx context.Context, now time.Time) ([]*core.Job, error)
}

// ChunkRepository provides durable storage for document chunks.
type ChunkRepository interface {
	Repository

	// UpsertChunks writes chunks by their deterministic IDs. A chunk that
	// already exists with the same content hash is left untouched, so
	// re-running the chunk stage never clobbers an existing embedding.
	UpsertChunks(ctx context.Context, chunks ...*core.Chunk) ([]*core.Chunk, error)

	// Get retrieves a chunk by ID. Returns ErrNotFound if no such chunk exists.
	Get(ctx context.Context, id core.ID) (*core.Chunk, error)

	// ListByDocument returns all chunks of a document ordered by ordinal.
	ListByDocument(ctx context.Context, docID core.ID) ([]*core.Chunk, error)

	// UpdateVectors persists embedding results (Vector, EmbedModel,
	// EmbedVersion) for existing chunks.
	UpdateVectors(ctx context.Context, chunks ...*core.Chunk) error

	// DeleteSuperseded removes the document's chunks whose generation tag
	// differs from keep, returning how many were removed. This is the cleanup
	// step that prevents old chunker generations from leaking.
	DeleteSuperseded(ctx context.Context, docID core.ID, keep string) (int, error)

	// FindSimilar finds chunks similar to the given vector.
	// Returns chunks with similarity >= minSimilarity, up to limit results,
	// ordered by similarity score (highest first).
	FindSimilar(ctx context.Context, vector []float32, minSimilarity float32, limit int) ([]*core.ChunkMatch, error)
}

// EventRepository is the append-only audit trail. Events are never mutated or
// deleted.
type EventRepository interface {
	Repository

	// Append records an event. Assigns the event ID and timestamp if unset.
	Append(ctx context.Context, event *core.Event) error

	// ListByDocument returns a document's events ordered by timestamp.
	ListByDocument(ctx context.Context, docID core.ID) ([]*core.Event, error)

	// ListByJob returns a job's events ordered by timestamp.
	ListByJob(ctx context.Context, jobID uuid.UUID) ([]*core.Event, error)
}
