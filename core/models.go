package core

//go:generate go run ../cmd/musgen

import (
	"encoding/binary"
	"time"

	"github.com/go-crypt/x/blake2b"
	"github.com/google/uuid"
)

// ID is a deterministic identifier for content-addressed entities
// (documents and chunks). Identical inputs always derive identical IDs.
type ID uint64

// IDFromContent generates a deterministic ID from text content using BLAKE2b hashing.
// This ensures that identical content produces identical IDs.
func IDFromContent(text string) ID {
	h, _ := blake2b.New(8, nil) // 8 bytes = 64 bits
	h.Write([]byte(text))
	sum := h.Sum(nil)
	return ID(binary.LittleEndian.Uint64(sum))
}

// Stage identifies one phase of the ingestion pipeline.
// Stages advance in fixed order: parse, chunk, embed.
type Stage int

const (
	// StageParse extracts text from the raw uploaded bytes.
	StageParse Stage = iota + 1
	// StageChunk splits parsed text into chunks with deterministic IDs.
	StageChunk
	// StageEmbed generates embedding vectors for chunks.
	StageEmbed
)

// String returns the wire name of the stage.
func (s Stage) String() string {
	switch s {
	case StageParse:
		return "parse"
	case StageChunk:
		return "chunk"
	case StageEmbed:
		return "embed"
	}
	return "unknown"
}

// Next returns the stage that follows s, and false after the last stage.
func (s Stage) Next() (Stage, bool) {
	switch s {
	case StageParse:
		return StageChunk, true
	case StageChunk:
		return StageEmbed, true
	}
	return 0, false
}

// State is the lifecycle state of a pipeline job.
type State int

const (
	// StateQueued means the job is waiting to be claimed.
	StateQueued State = iota + 1
	// StateClaimed means a worker holds a lease on the job.
	StateClaimed
	// StateRunning means the claiming worker has started the stage processor.
	StateRunning
	// StateDone is the terminal success state.
	StateDone
	// StateFailed is recorded on a failed attempt before the job is requeued
	// or deadlettered.
	StateFailed
	// StateDeadletter is the terminal failure state. Jobs here are never
	// retried automatically and require operator intervention.
	StateDeadletter
)

// String returns the wire name of the state.
func (s State) String() string {
	switch s {
	case StateQueued:
		return "queued"
	case StateClaimed:
		return "claimed"
	case StateRunning:
		return "running"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	case StateDeadletter:
		return "deadletter"
	}
	return "unknown"
}

// Active reports whether the state counts against the one-active-job-per-document
// invariant.
func (s State) Active() bool {
	return s == StateQueued || s == StateClaimed || s == StateRunning
}

// Terminal reports whether the state is final.
func (s State) Terminal() bool {
	return s == StateDone || s == StateDeadletter
}

// ProcessingStatus is the denormalized document-level mirror of the latest
// pipeline progress. It is mutated only by the worker coordinator.
type ProcessingStatus int

const (
	// StatusPending means the document is registered but no stage has run.
	StatusPending ProcessingStatus = iota + 1
	// StatusParsing means the parse stage is in flight.
	StatusParsing
	// StatusChunking means the chunk stage is in flight.
	StatusChunking
	// StatusEmbedding means the embed stage is in flight.
	StatusEmbedding
	// StatusComplete means all stages finished.
	StatusComplete
	// StatusDeadletter means the pipeline gave up on the document.
	StatusDeadletter
)

// String returns the wire name of the processing status.
func (s ProcessingStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusParsing:
		return "parsing"
	case StatusChunking:
		return "chunking"
	case StatusEmbedding:
		return "embedding"
	case StatusComplete:
		return "complete"
	case StatusDeadletter:
		return "deadletter"
	}
	return "unknown"
}

// StatusForStage returns the in-flight processing status for a stage.
func StatusForStage(stage Stage) ProcessingStatus {
	switch stage {
	case StageParse:
		return StatusParsing
	case StageChunk:
		return StatusChunking
	case StageEmbed:
		return StatusEmbedding
	}
	return StatusPending
}

// Document represents a registered upload. Its ID is content-addressed:
// re-registering identical (owner, fingerprint) resolves to the same row.
type Document struct {
	Id                 ID
	OwnerId            string
	Filename           string
	MimeType           string
	ByteLength         int64
	ContentFingerprint string // hex SHA-256 of the raw bytes
	RawLocation        string
	ParsedLocation     string // empty until the parse stage completes
	Status             ProcessingStatus
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Job is one pipeline job for a document. Job IDs are random; only uniqueness
// matters. At most one job per document may be in an active state at a time.
type Job struct {
	Id             uuid.UUID
	DocumentId     ID
	OwnerId        string // denormalized from the document for claim predicates
	Stage          Stage
	State          State
	Seq            uint64 // enqueue sequence, gives stable FIFO claim order
	RetryCount     int
	MaxRetries     int
	IdempotencyKey string
	ClaimedBy      string    // worker identity, empty when unclaimed
	ClaimedAt      time.Time // zero when unclaimed
	LeaseUntil     time.Time // zero when unclaimed
	NotBefore      time.Time // backoff gate; job is not claimable before this
	LastError      string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// LeaseExpired reports whether the job's lease has lapsed at the given time.
// A job with no lease is not expired.
func (j *Job) LeaseExpired(now time.Time) bool {
	if j.LeaseUntil.IsZero() {
		return false
	}
	return !now.Before(j.LeaseUntil)
}

// Claimable reports whether the job is eligible for claiming at the given time.
func (j *Job) Claimable(now time.Time) bool {
	return j.State == StateQueued && !now.Before(j.NotBefore)
}

// Chunk is one span of a parsed document. Chunk IDs are content-addressed over
// (document, chunker name, chunker version, ordinal), so re-chunking with the
// same configuration reproduces identical IDs.
type Chunk struct {
	Id             ID
	DocumentId     ID
	Ordinal        int
	Text           string
	ContentHash    string // hex SHA-256 of Text
	ChunkerName    string
	ChunkerVersion string
	EmbedModel     string // empty until embedded
	EmbedVersion   string
	Vector         []float32 // nil until embedded
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Generation returns the chunker generation tag used for supersede bookkeeping.
func (c *Chunk) Generation() string {
	return ChunkGeneration(c.ChunkerName, c.ChunkerVersion)
}

// ChunkGeneration builds a generation tag from a chunker name and version.
func ChunkGeneration(name, version string) string {
	return name + "@" + version
}

// ChunkMatch represents a chunk match from vector similarity search.
type ChunkMatch struct {
	Chunk *Chunk
	Score float32
}

// EventType classifies an audit-trail entry.
type EventType int

const (
	// EventEnqueued records a job entering the queue.
	EventEnqueued EventType = iota + 1
	// EventClaimed records a worker taking a lease.
	EventClaimed
	// EventStageStarted records a stage processor starting.
	EventStageStarted
	// EventStageCompleted records a stage finishing successfully.
	EventStageCompleted
	// EventStageFailed records a stage attempt failing.
	EventStageFailed
	// EventRetried records a failed job returning to the queue.
	EventRetried
	// EventDeadlettered records a job exhausting its retry budget.
	EventDeadlettered
	// EventReclaimed records an expired lease being swept back to queued.
	EventReclaimed
)

// String returns the wire name of the event type.
func (t EventType) String() string {
	switch t {
	case EventEnqueued:
		return "enqueued"
	case EventClaimed:
		return "claimed"
	case EventStageStarted:
		return "stage_started"
	case EventStageCompleted:
		return "stage_completed"
	case EventStageFailed:
		return "stage_failed"
	case EventRetried:
		return "retried"
	case EventDeadlettered:
		return "deadlettered"
	case EventReclaimed:
		return "reclaimed"
	}
	return "unknown"
}

// Event is one append-only audit-trail entry. Events are never mutated.
type Event struct {
	Id         uuid.UUID
	JobId      uuid.UUID
	DocumentId ID
	Timestamp  time.Time
	Type       EventType
	Payload    map[string]string
}
