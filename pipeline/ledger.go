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
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/poiesic/docstream/core"
	"github.com/poiesic/docstream/storage"
)

const (
	defaultMaxRetries    = 3
	defaultBackoffBase   = 30 * time.Second
	defaultLeaseDuration = 2 * time.Minute
)

// Ledger drives the job state machine over the repositories: every enqueue,
// claim, completion, failure, and reclaim goes through here so that stage
// advancement, document status, and the event log stay consistent.
type Ledger struct {
	jobs      storage.JobRepository
	documents storage.DocumentRepository
	chunks    storage.ChunkRepository
	events    storage.EventRepository

	maxRetries    int
	backoffBase   time.Duration
	leaseDuration time.Duration
	maxPerOwner   int

	logger *slog.Logger
}

// LedgerOption configures a Ledger.
type LedgerOption func(*Ledger) error

// WithMaxRetries sets the retry budget assigned to new jobs.
// Default is 3.
func WithMaxRetries(n int) LedgerOption {
	return func(l *Ledger) error {
		if n < 0 {
			n = 0
		}
		l.maxRetries = n
		return nil
	}
}

// WithBackoffBase sets the base delay for exponential retry backoff.
// Default is 30s.
func WithBackoffBase(d time.Duration) LedgerOption {
	return func(l *Ledger) error {
		if d <= 0 {
			return errors.New("backoff base must be positive")
		}
		l.backoffBase = d
		return nil
	}
}

// WithLeaseDuration sets the claim lease length.
// Default is 2m.
func WithLeaseDuration(d time.Duration) LedgerOption {
	return func(l *Ledger) error {
		if d <= 0 {
			return errors.New("lease duration must be positive")
		}
		l.leaseDuration = d
		return nil
	}
}

// WithMaxClaimsPerOwner caps how many jobs of one owner may be claimed or
// running at once, so one tenant's bulk upload can't starve the rest.
// Default is 0 (unlimited).
func WithMaxClaimsPerOwner(n int) LedgerOption {
	return func(l *Ledger) error {
		if n < 0 {
			n = 0
		}
		l.maxPerOwner = n
		return nil
	}
}

// WithLedgerLogger sets a custom logger.
// Default is slog.Default().
func WithLedgerLogger(logger *slog.Logger) LedgerOption {
	return func(l *Ledger) error {
		if logger == nil {
			logger = slog.Default()
		}
		l.logger = logger.With("component", "ledger")
		return nil
	}
}

// NewLedger creates a job ledger over the given repositories.
func NewLedger(
	jobs storage.JobRepository,
	documents storage.DocumentRepository,
	chunks storage.ChunkRepository,
	events storage.EventRepository,
	opts ...LedgerOption,
) (*Ledger, error) {
	if jobs == nil {
		return nil, ErrJobRepositoryRequired
	}
	if documents == nil {
		return nil, ErrDocumentRepositoryRequired
	}
	if chunks == nil {
		return nil, ErrChunkRepositoryRequired
	}
	if events == nil {
		return nil, ErrEventRepositoryRequired
	}

	l := &Ledger{
		jobs:          jobs,
		documents:     documents,
		chunks:        chunks,
		events:        events,
		maxRetries:    defaultMaxRetries,
		backoffBase:   defaultBackoffBase,
		leaseDuration: defaultLeaseDuration,
		logger:        slog.Default().With("component", "ledger"),
	}
	for _, opt := range opts {
		if err := opt(l); err != nil {
			return nil, err
		}
	}
	return l, nil
}

// LeaseDuration returns the configured claim lease length.
func (l *Ledger) LeaseDuration() time.Duration {
	return l.leaseDuration
}

// Enqueue creates a queued job for the document at the given stage.
// An idempotency key that already maps to an active job returns that job
// with created=false; a different active job on the document returns
// ErrConflict.
func (l *Ledger) Enqueue(ctx context.Context, doc *core.Document, stage core.Stage, idempotencyKey string) (*core.Job, bool, error) {
	if doc == nil {
		return nil, false, core.ErrInvalidDocument
	}

	job := &core.Job{
		DocumentId:     doc.Id,
		OwnerId:        doc.OwnerId,
		Stage:          stage,
		MaxRetries:     l.maxRetries,
		IdempotencyKey: idempotencyKey,
	}

	stored, created, err := l.jobs.Enqueue(ctx, job)
	if err != nil {
		return nil, false, err
	}
	if created {
		l.emit(ctx, stored, core.EventEnqueued, map[string]string{
			"stage": stored.Stage.String(),
		})
		l.logger.Info("job enqueued", "job", stored.Id, "document", stored.DocumentId, "stage", stored.Stage)
	}
	return stored, created, nil
}

// Claim atomically claims the oldest eligible queued job for workerID.
// Returns storage.ErrNoJob when the queue has nothing claimable.
func (l *Ledger) Claim(ctx context.Context, workerID string) (*core.Job, error) {
	job, err := l.jobs.Claim(ctx, workerID, l.leaseDuration, l.maxPerOwner)
	if err != nil {
		return nil, err
	}
	l.emit(ctx, job, core.EventClaimed, map[string]string{"worker": workerID})
	return job, nil
}

// StartStage marks the claimed job running and moves the document's status to
// the stage's in-progress value.
func (l *Ledger) StartStage(ctx context.Context, job *core.Job, workerID string) error {
	if err := l.jobs.MarkRunning(ctx, job.Id, workerID); err != nil {
		return err
	}
	if err := l.documents.UpdateStatus(ctx, job.DocumentId, core.StatusForStage(job.Stage)); err != nil {
		l.logger.Warn("failed to update document status", "document", job.DocumentId, "err", err)
	}
	l.emit(ctx, job, core.EventStageStarted, map[string]string{
		"stage":  job.Stage.String(),
		"worker": workerID,
	})
	return nil
}

// Heartbeat extends the worker's lease on a job.
func (l *Ledger) Heartbeat(ctx context.Context, jobID uuid.UUID, workerID string) error {
	return l.jobs.Heartbeat(ctx, jobID, workerID, l.leaseDuration)
}

// Complete finishes the job's stage and advances the pipeline: a next stage
// gets a fresh queued job, the final stage marks the document complete.
// Returns the completed job and the follow-up job, nil after the last stage.
func (l *Ledger) Complete(ctx context.Context, jobID uuid.UUID, workerID string) (*core.Job, *core.Job, error) {
	done, err := l.jobs.Complete(ctx, jobID, workerID)
	if err != nil {
		return nil, nil, err
	}
	l.emit(ctx, done, core.EventStageCompleted, map[string]string{
		"stage":  done.Stage.String(),
		"worker": workerID,
	})

	next, ok := done.Stage.Next()
	if !ok {
		if err := l.documents.UpdateStatus(ctx, done.DocumentId, core.StatusComplete); err != nil {
			l.logger.Warn("failed to mark document complete", "document", done.DocumentId, "err", err)
		}
		l.logger.Info("document processing complete", "document", done.DocumentId)
		return done, nil, nil
	}

	doc, err := l.documents.Get(ctx, done.DocumentId)
	if err != nil {
		return done, nil, err
	}
	follow, _, err := l.Enqueue(ctx, doc, next, "")
	if err != nil {
		return done, nil, fmt.Errorf("enqueueing %s stage: %w", next, err)
	}
	return done, follow, nil
}

// Fail records a failed attempt. A retryable failure with budget left goes
// back to the queue with exponential backoff; everything else dead-letters
// the job and the document.
func (l *Ledger) Fail(ctx context.Context, jobID uuid.UUID, workerID string, cause string, retryable bool) (*core.Job, error) {
	job, err := l.jobs.Fail(ctx, jobID, workerID, cause, retryable, l.backoffBase)
	if err != nil {
		return nil, err
	}

	l.emit(ctx, job, core.EventStageFailed, map[string]string{
		"stage":     job.Stage.String(),
		"error":     cause,
		"retryable": fmt.Sprintf("%t", retryable),
	})

	if job.State == core.StateQueued {
		l.emit(ctx, job, core.EventRetried, map[string]string{
			"retry_count": fmt.Sprintf("%d", job.RetryCount),
			"not_before":  job.NotBefore.Format(time.RFC3339),
		})
		l.logger.Warn("job requeued after failure",
			"job", job.Id, "stage", job.Stage, "retry", job.RetryCount, "err", cause)
		return job, nil
	}

	l.emit(ctx, job, core.EventDeadlettered, map[string]string{
		"retry_count": fmt.Sprintf("%d", job.RetryCount),
		"error":       cause,
	})
	if err := l.documents.UpdateStatus(ctx, job.DocumentId, core.StatusDeadletter); err != nil {
		l.logger.Warn("failed to update document status", "document", job.DocumentId, "err", err)
	}
	l.logger.Error("job deadlettered", "job", job.Id, "stage", job.Stage, "err", cause)
	return job, nil
}

// ReclaimExpired returns expired-lease jobs to the queue and records the
// reclaims. Run this periodically; it is what makes worker crashes non-fatal.
func (l *Ledger) ReclaimExpired(ctx context.Context) ([]*core.Job, error) {
	reclaimed, err := l.jobs.ReclaimExpired(ctx, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	for _, job := range reclaimed {
		l.emit(ctx, job, core.EventReclaimed, map[string]string{
			"stage": job.Stage.String(),
		})
		l.logger.Warn("reclaimed expired lease", "job", job.Id, "document", job.DocumentId)
	}
	return reclaimed, nil
}

// HandleParseCallback ingests an asynchronous completion callback from the
// parse service. Delivery is at-least-once: a callback for a job already in a
// terminal state is a duplicate and a no-op.
func (l *Ledger) HandleParseCallback(ctx context.Context, jobID uuid.UUID, success bool, resultRef string, errMsg string) error {
	job, err := l.jobs.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if job.State.Terminal() {
		return nil
	}
	if job.State == core.StateQueued {
		return ErrCallbackJobInactive
	}

	// The callback acts on behalf of whichever worker holds the job.
	if success {
		if resultRef != "" {
			if err := l.documents.SetParsedLocation(ctx, job.DocumentId, resultRef); err != nil {
				return err
			}
		}
		if job.State == core.StateClaimed {
			if err := l.jobs.MarkRunning(ctx, job.Id, job.ClaimedBy); err != nil {
				return err
			}
		}
		_, _, err = l.Complete(ctx, job.Id, job.ClaimedBy)
		return err
	}

	if job.State == core.StateClaimed {
		if err := l.jobs.MarkRunning(ctx, job.Id, job.ClaimedBy); err != nil {
			return err
		}
	}
	_, err = l.Fail(ctx, job.Id, job.ClaimedBy, errMsg, false)
	return err
}

// RequeueDeadletter acknowledges a dead-lettered job and enqueues a fresh job
// for the stage it died in, with a reset retry budget.
func (l *Ledger) RequeueDeadletter(ctx context.Context, jobID uuid.UUID) (*core.Job, error) {
	job, err := l.jobs.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.State != core.StateDeadletter {
		return nil, storage.ErrNotDeadletter
	}

	doc, err := l.documents.Get(ctx, job.DocumentId)
	if err != nil {
		return nil, err
	}
	fresh, _, err := l.Enqueue(ctx, doc, job.Stage, "")
	if err != nil {
		return nil, err
	}
	if err := l.documents.UpdateStatus(ctx, doc.Id, core.StatusPending); err != nil {
		l.logger.Warn("failed to reset document status", "document", doc.Id, "err", err)
	}
	l.logger.Info("deadlettered job requeued", "deadletter", job.Id, "fresh", fresh.Id)
	return fresh, nil
}

// DocumentStatus is the externally visible processing state of a document.
type DocumentStatus struct {
	Document    *core.Document
	ActiveJob   *core.Job
	ProgressPct int
}

// Status reports a document's processing state with a coarse progress
// percentage: pending 0, parse 10, chunk 40, embed 70 refined by the embedded
// chunk ratio, complete 100.
func (l *Ledger) Status(ctx context.Context, docID core.ID) (*DocumentStatus, error) {
	doc, err := l.documents.Get(ctx, docID)
	if err != nil {
		return nil, err
	}

	status := &DocumentStatus{Document: doc}

	active, err := l.jobs.GetActiveByDocument(ctx, docID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}
	status.ActiveJob = active

	switch doc.Status {
	case core.StatusComplete:
		status.ProgressPct = 100
	case core.StatusParsing:
		status.ProgressPct = 10
	case core.StatusChunking:
		status.ProgressPct = 40
	case core.StatusEmbedding:
		status.ProgressPct = 70
		chunks, err := l.chunks.ListByDocument(ctx, docID)
		if err == nil && len(chunks) > 0 {
			embedded := 0
			for _, chunk := range chunks {
				if len(chunk.Vector) > 0 {
					embedded++
				}
			}
			status.ProgressPct = 70 + 30*embedded/len(chunks)
		}
	}
	return status, nil
}

// Events lists a document's audit trail, oldest first.
func (l *Ledger) Events(ctx context.Context, docID core.ID) ([]*core.Event, error) {
	return l.events.ListByDocument(ctx, docID)
}

// JobEvents lists a single job's audit trail, oldest first.
func (l *Ledger) JobEvents(ctx context.Context, jobID uuid.UUID) ([]*core.Event, error) {
	return l.events.ListByJob(ctx, jobID)
}

// Jobs lists every job ever created for a document, oldest first.
func (l *Ledger) Jobs(ctx context.Context, docID core.ID) ([]*core.Job, error) {
	return l.jobs.ListByDocument(ctx, docID)
}

// emit appends an event to the audit trail. The state transition has already
// committed, so an append failure is logged rather than unwound.
func (l *Ledger) emit(ctx context.Context, job *core.Job, eventType core.EventType, payload map[string]string) {
	event := &core.Event{
		JobId:      job.Id,
		DocumentId: job.DocumentId,
		Type:       eventType,
		Payload:    payload,
	}
	if err := l.events.Append(ctx, event); err != nil {
		l.logger.Error("failed to append event", "job", job.Id, "type", eventType, "err", err)
	}
}
