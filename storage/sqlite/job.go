package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/poiesic/docstream/core"
	"github.com/poiesic/docstream/storage"
)

// JobRepository implements storage.JobRepository over SQLite. SQLite
// serializes writers, so each single-statement mutation below is atomic; the
// partial unique indexes on (document_id) and (idempotency_key) enforce the
// one-active-job invariants at the schema level.
type JobRepository struct {
	store *Store
}

var _ storage.JobRepository = (*JobRepository)(nil)

// Close releases resources. The shared store owns the connection.
func (r *JobRepository) Close() error {
	return nil
}

const jobColumns = `id, document_id, owner_id, stage, state, seq, retry_count,
	max_retries, idempotency_key, claimed_by, claimed_at, lease_until,
	not_before, last_error, created_at, updated_at`

// Enqueue creates a queued job, upserting by idempotency key.
func (r *JobRepository) Enqueue(ctx context.Context, job *core.Job) (*core.Job, bool, error) {
	if job == nil {
		return nil, false, core.ErrInvalidJob
	}

	if job.IdempotencyKey != "" {
		existing, err := r.queryOne(ctx, `
			SELECT `+jobColumns+` FROM jobs
			WHERE idempotency_key = ? AND state IN (1, 2, 3)`, job.IdempotencyKey)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return nil, false, err
		}
		if existing != nil {
			return existing, false, nil
		}
	}

	stored := *job
	if stored.Id == uuid.Nil {
		stored.Id = uuid.New()
	}
	stored.State = core.StateQueued
	stored.ClaimedBy = ""
	stored.ClaimedAt = time.Time{}
	stored.LeaseUntil = time.Time{}
	now := time.Now().UTC()
	stored.CreatedAt = now
	stored.UpdatedAt = now
	if err := core.ValidateJob(&stored); err != nil {
		return nil, false, err
	}

	// seq comes from the insert itself so assignment and insert are one
	// atomic statement.
	row := r.store.db.QueryRowContext(ctx, `
		INSERT INTO jobs (`+jobColumns+`)
		VALUES (?, ?, ?, ?, ?,
			(SELECT COALESCE(MAX(seq), 0) + 1 FROM jobs),
			?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING seq`,
		stored.Id.String(), int64(stored.DocumentId), stored.OwnerId,
		int(stored.Stage), int(stored.State), stored.RetryCount,
		stored.MaxRetries, stored.IdempotencyKey, stored.ClaimedBy,
		encodeTime(stored.ClaimedAt), encodeTime(stored.LeaseUntil),
		encodeTime(stored.NotBefore), stored.LastError,
		encodeTime(stored.CreatedAt), encodeTime(stored.UpdatedAt))
	if err := row.Scan(&stored.Seq); err != nil {
		if isConstraintErr(err) {
			return nil, false, storage.ErrActiveJobExists
		}
		return nil, false, err
	}
	return &stored, true, nil
}

// Get retrieves a job by ID.
func (r *JobRepository) Get(ctx context.Context, id uuid.UUID) (*core.Job, error) {
	return r.queryOne(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id.String())
}

// GetActiveByDocument returns the document's active job, or ErrNotFound.
func (r *JobRepository) GetActiveByDocument(ctx context.Context, docID core.ID) (*core.Job, error) {
	return r.queryOne(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE document_id = ? AND state IN (1, 2, 3)`, int64(docID))
}

// ListByDocument returns all jobs for a document, oldest first.
func (r *JobRepository) ListByDocument(ctx context.Context, docID core.ID) ([]*core.Job, error) {
	return r.queryMany(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE document_id = ? ORDER BY seq`, int64(docID))
}

// Claim atomically selects the oldest claimable queued job in a single
// UPDATE ... RETURNING statement.
func (r *JobRepository) Claim(ctx context.Context, workerID string, lease time.Duration, maxPerOwner int) (*core.Job, error) {
	now := time.Now().UTC()
	nowMicro := encodeTime(now)

	row := r.store.db.QueryRowContext(ctx, `
		UPDATE jobs SET
			state = 2,
			claimed_by = ?,
			claimed_at = ?,
			lease_until = ?,
			updated_at = ?
		WHERE id = (
			SELECT j.id FROM jobs j
			WHERE j.state = 1
			  AND j.not_before <= ?
			  AND (? <= 0 OR (
				SELECT COUNT(*) FROM jobs h
				WHERE h.owner_id = j.owner_id AND h.state IN (2, 3)
			  ) < ?)
			ORDER BY j.seq LIMIT 1
		) AND state = 1
		RETURNING `+jobColumns,
		workerID, nowMicro, encodeTime(now.Add(lease)), nowMicro,
		nowMicro, maxPerOwner, maxPerOwner)

	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, storage.ErrNoJob
		}
		return nil, err
	}
	return job, nil
}

// MarkRunning transitions the worker's claimed job to running.
func (r *JobRepository) MarkRunning(ctx context.Context, id uuid.UUID, workerID string) error {
	return r.mutateOwned(ctx, `
		UPDATE jobs SET state = 3, updated_at = ?
		WHERE id = ? AND claimed_by = ? AND state = 2`,
		encodeTime(time.Now().UTC()), id.String(), workerID)
}

// Heartbeat extends the worker's lease.
func (r *JobRepository) Heartbeat(ctx context.Context, id uuid.UUID, workerID string, lease time.Duration) error {
	now := time.Now().UTC()
	return r.mutateOwned(ctx, `
		UPDATE jobs SET lease_until = ?, updated_at = ?
		WHERE id = ? AND claimed_by = ? AND state IN (2, 3)`,
		encodeTime(now.Add(lease)), encodeTime(now), id.String(), workerID)
}

// Complete transitions the worker's running job to done.
func (r *JobRepository) Complete(ctx context.Context, id uuid.UUID, workerID string) (*core.Job, error) {
	row := r.store.db.QueryRowContext(ctx, `
		UPDATE jobs SET state = 4, lease_until = 0, updated_at = ?
		WHERE id = ? AND claimed_by = ? AND state = 3
		RETURNING `+jobColumns,
		encodeTime(time.Now().UTC()), id.String(), workerID)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, storage.ErrLeaseLost
		}
		return nil, err
	}
	return job, nil
}

// Fail records a failed attempt, requeueing with backoff or deadlettering.
func (r *JobRepository) Fail(ctx context.Context, id uuid.UUID, workerID string, cause string, retryable bool, backoffBase time.Duration) (*core.Job, error) {
	job, err := r.queryOne(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE id = ? AND claimed_by = ? AND state = 3`, id.String(), workerID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, storage.ErrLeaseLost
		}
		return nil, err
	}

	now := time.Now().UTC()
	retry := retryable && job.RetryCount < job.MaxRetries

	var query string
	var args []any
	if retry {
		delay := backoffBase
		for i := 0; i < job.RetryCount; i++ {
			delay *= 2
		}
		query = `
			UPDATE jobs SET
				state = 1, retry_count = retry_count + 1, last_error = ?,
				claimed_by = '', claimed_at = 0, lease_until = 0,
				not_before = ?, updated_at = ?
			WHERE id = ? AND claimed_by = ? AND state = 3
			RETURNING ` + jobColumns
		args = []any{cause, encodeTime(now.Add(delay)), encodeTime(now),
			id.String(), workerID}
	} else {
		query = `
			UPDATE jobs SET
				state = 6, last_error = ?,
				claimed_by = '', claimed_at = 0, lease_until = 0,
				updated_at = ?
			WHERE id = ? AND claimed_by = ? AND state = 3
			RETURNING ` + jobColumns
		args = []any{cause, encodeTime(now), id.String(), workerID}
	}

	row := r.store.db.QueryRowContext(ctx, query, args...)
	updated, err := scanJob(row)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, storage.ErrLeaseLost
		}
		return nil, err
	}
	return updated, nil
}

// ReclaimExpired sweeps expired leases back to queued.
func (r *JobRepository) ReclaimExpired(ctx context.Context, now time.Time) ([]*core.Job, error) {
	rows, err := r.store.db.QueryContext(ctx, `
		UPDATE jobs SET
			state = 1, claimed_by = '', claimed_at = 0, lease_until = 0,
			updated_at = ?
		WHERE state IN (2, 3) AND lease_until != 0 AND lease_until < ?
		RETURNING `+jobColumns,
		encodeTime(now), encodeTime(now))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reclaimed []*core.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		reclaimed = append(reclaimed, job)
	}
	return reclaimed, rows.Err()
}

func (r *JobRepository) mutateOwned(ctx context.Context, query string, args ...any) error {
	res, err := r.store.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storage.ErrLeaseLost
	}
	return nil
}

func (r *JobRepository) queryOne(ctx context.Context, query string, args ...any) (*core.Job, error) {
	return scanJob(r.store.db.QueryRowContext(ctx, query, args...))
}

func (r *JobRepository) queryMany(ctx context.Context, query string, args ...any) ([]*core.Job, error) {
	rows, err := r.store.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []*core.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, job)
	}
	return results, rows.Err()
}

func scanJob(row rowScanner) (*core.Job, error) {
	var job core.Job
	var id string
	var docID int64
	var stage, state int
	var claimedAt, leaseUntil, notBefore, createdAt, updatedAt int64
	err := row.Scan(&id, &docID, &job.OwnerId, &stage, &state, &job.Seq,
		&job.RetryCount, &job.MaxRetries, &job.IdempotencyKey, &job.ClaimedBy,
		&claimedAt, &leaseUntil, &notBefore, &job.LastError,
		&createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, storage.ErrSerializationFailed
	}
	job.Id = parsed
	job.DocumentId = core.ID(docID)
	job.Stage = core.Stage(stage)
	job.State = core.State(state)
	job.ClaimedAt = decodeTime(claimedAt)
	job.LeaseUntil = decodeTime(leaseUntil)
	job.NotBefore = decodeTime(notBefore)
	job.CreatedAt = decodeTime(createdAt)
	job.UpdatedAt = decodeTime(updatedAt)
	return &job, nil
}
