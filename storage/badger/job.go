package badger

import (
	"context"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/poiesic/docstream/core"
	"github.com/poiesic/docstream/storage"
)

// JobRepository implements storage.JobRepository for BadgerDB.
//
// Atomicity of the state transitions comes from BadgerDB's serializable
// write transactions: every mutation below reads the job record inside the
// transaction, so two workers racing on the same job conflict at commit and
// the loser retries against the new state.
type JobRepository struct {
	backend *Backend
	seq     *badger.Sequence
}

var _ storage.JobRepository = (*JobRepository)(nil)

// NewJobRepository creates a new JobRepository.
func NewJobRepository(backend *Backend) (*JobRepository, error) {
	seq, err := backend.GetSequence(jobSeqName)
	if err != nil {
		return nil, err
	}
	return &JobRepository{
		backend: backend,
		seq:     seq,
	}, nil
}

// Close releases the enqueue sequence.
func (r *JobRepository) Close() error {
	return r.seq.Release()
}

// Enqueue creates a queued job, upserting by idempotency key.
func (r *JobRepository) Enqueue(ctx context.Context, job *core.Job) (*core.Job, bool, error) {
	if job == nil {
		return nil, false, core.ErrInvalidJob
	}

	var result *core.Job
	var created bool
	err := r.backend.WithWriteRetry(func(tx *badger.Txn) error {
		// Duplicate enqueue request: same idempotency key, still active.
		if job.IdempotencyKey != "" {
			existing, err := r.readJobByIndex(tx, makeJobIdemKey(job.IdempotencyKey))
			if err != nil {
				return err
			}
			if existing != nil && existing.State.Active() {
				result = existing
				created = false
				return nil
			}
		}

		// One active job per document.
		active, err := r.readJobByIndex(tx, makeJobActiveKey(job.DocumentId))
		if err != nil {
			return err
		}
		if active != nil && active.State.Active() {
			return storage.ErrActiveJobExists
		}

		stored := *job
		if stored.Id == uuid.Nil {
			stored.Id = uuid.New()
		}
		stored.State = core.StateQueued
		stored.ClaimedBy = ""
		stored.ClaimedAt = time.Time{}
		stored.LeaseUntil = time.Time{}
		seq, err := r.nextSeq()
		if err != nil {
			return err
		}
		stored.Seq = seq
		stored.CreatedAt = time.Now().UTC()
		stored.UpdatedAt = stored.CreatedAt
		if err := core.ValidateJob(&stored); err != nil {
			return err
		}

		if err := r.writeJob(tx, &stored); err != nil {
			return err
		}
		if err := tx.Set(makeJobQueueKey(stored.Seq), stored.Id[:]); err != nil {
			return err
		}
		if err := tx.Set(makeJobActiveKey(stored.DocumentId), stored.Id[:]); err != nil {
			return err
		}
		if stored.IdempotencyKey != "" {
			if err := tx.Set(makeJobIdemKey(stored.IdempotencyKey), stored.Id[:]); err != nil {
				return err
			}
		}
		if err := tx.Set(makeJobDocKey(stored.DocumentId, stored.Seq), stored.Id[:]); err != nil {
			return err
		}

		result = &stored
		created = true
		return tx.Commit()
	})

	return result, created, err
}

// Get retrieves a job by ID.
func (r *JobRepository) Get(ctx context.Context, id uuid.UUID) (*core.Job, error) {
	var result *core.Job
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		var err error
		result, err = readJob(tx, makeJobKey(id))
		if err != nil {
			return err
		}
		if result == nil {
			return storage.ErrNotFound
		}
		return nil
	}, false)
	return result, err
}

// GetActiveByDocument returns the document's active job, or ErrNotFound.
func (r *JobRepository) GetActiveByDocument(ctx context.Context, docID core.ID) (*core.Job, error) {
	var result *core.Job
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		job, err := r.readJobByIndex(tx, makeJobActiveKey(docID))
		if err != nil {
			return err
		}
		if job == nil || !job.State.Active() {
			return storage.ErrNotFound
		}
		result = job
		return nil
	}, false)
	return result, err
}

// ListByDocument returns all jobs for a document, oldest first.
func (r *JobRepository) ListByDocument(ctx context.Context, docID core.ID) ([]*core.Job, error) {
	var results []*core.Job
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = makePartialJobDocKey(docID)
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			var jobID uuid.UUID
			err := iter.Item().Value(func(val []byte) error {
				if len(val) != 16 {
					return storage.ErrSerializationFailed
				}
				copy(jobID[:], val)
				return nil
			})
			if err != nil {
				return err
			}
			job, err := readJob(tx, makeJobKey(jobID))
			if err != nil {
				return err
			}
			if job != nil {
				results = append(results, job)
			}
		}
		return nil
	}, false)
	return results, err
}

// Claim atomically selects the oldest claimable queued job.
func (r *JobRepository) Claim(ctx context.Context, workerID string, lease time.Duration, maxPerOwner int) (*core.Job, error) {
	var result *core.Job
	err := r.backend.WithWriteRetry(func(tx *badger.Txn) error {
		result = nil
		now := time.Now().UTC()

		var ownerLoad map[string]int
		if maxPerOwner > 0 {
			var err error
			ownerLoad, err = r.countClaimsByOwner(tx)
			if err != nil {
				return err
			}
		}

		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(jobQueuePrefix + ":")
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			var jobID uuid.UUID
			err := iter.Item().Value(func(val []byte) error {
				if len(val) != 16 {
					return storage.ErrSerializationFailed
				}
				copy(jobID[:], val)
				return nil
			})
			if err != nil {
				return err
			}

			job, err := readJob(tx, makeJobKey(jobID))
			if err != nil {
				return err
			}
			if job == nil || !job.Claimable(now) {
				continue
			}
			if maxPerOwner > 0 && ownerLoad[job.OwnerId] >= maxPerOwner {
				continue
			}

			job.State = core.StateClaimed
			job.ClaimedBy = workerID
			job.ClaimedAt = now
			job.LeaseUntil = now.Add(lease)
			job.UpdatedAt = now

			if err := r.writeJob(tx, job); err != nil {
				return err
			}
			if err := tx.Delete(makeJobQueueKey(job.Seq)); err != nil {
				return err
			}
			result = job
			iter.Close()
			return tx.Commit()
		}
		return storage.ErrNoJob
	})
	return result, err
}

// MarkRunning transitions the worker's claimed job to running.
func (r *JobRepository) MarkRunning(ctx context.Context, id uuid.UUID, workerID string) error {
	return r.mutateOwned(id, workerID, func(job *core.Job) error {
		if err := core.CheckTransition(job.State, core.StateRunning); err != nil {
			return err
		}
		job.State = core.StateRunning
		return nil
	})
}

// Heartbeat extends the worker's lease.
func (r *JobRepository) Heartbeat(ctx context.Context, id uuid.UUID, workerID string, lease time.Duration) error {
	return r.mutateOwned(id, workerID, func(job *core.Job) error {
		job.LeaseUntil = time.Now().UTC().Add(lease)
		return nil
	})
}

// Complete transitions the worker's running job to done and frees the
// document's active-job slot.
func (r *JobRepository) Complete(ctx context.Context, id uuid.UUID, workerID string) (*core.Job, error) {
	var result *core.Job
	err := r.backend.WithWriteRetry(func(tx *badger.Txn) error {
		job, err := r.loadOwned(tx, id, workerID)
		if err != nil {
			return err
		}
		if err := core.CheckTransition(job.State, core.StateDone); err != nil {
			return err
		}

		job.State = core.StateDone
		job.LeaseUntil = time.Time{}
		job.UpdatedAt = time.Now().UTC()

		if err := r.writeJob(tx, job); err != nil {
			return err
		}
		if err := r.releaseActive(tx, job); err != nil {
			return err
		}
		result = job
		return tx.Commit()
	})
	return result, err
}

// Fail records a failed attempt, requeueing with backoff or deadlettering.
func (r *JobRepository) Fail(ctx context.Context, id uuid.UUID, workerID string, cause string, retryable bool, backoffBase time.Duration) (*core.Job, error) {
	var result *core.Job
	err := r.backend.WithWriteRetry(func(tx *badger.Txn) error {
		job, err := r.loadOwned(tx, id, workerID)
		if err != nil {
			return err
		}
		if err := core.CheckTransition(job.State, core.StateFailed); err != nil {
			return err
		}

		now := time.Now().UTC()
		job.LastError = cause
		job.ClaimedBy = ""
		job.ClaimedAt = time.Time{}
		job.LeaseUntil = time.Time{}
		job.UpdatedAt = now

		if retryable && job.RetryCount < job.MaxRetries {
			job.RetryCount++
			job.State = core.StateQueued
			job.NotBefore = now.Add(backoffDelay(backoffBase, job.RetryCount))
			if err := r.writeJob(tx, job); err != nil {
				return err
			}
			if err := tx.Set(makeJobQueueKey(job.Seq), job.Id[:]); err != nil {
				return err
			}
		} else {
			job.State = core.StateDeadletter
			if err := r.writeJob(tx, job); err != nil {
				return err
			}
			if err := r.releaseActive(tx, job); err != nil {
				return err
			}
		}
		result = job
		return tx.Commit()
	})
	return result, err
}

// ReclaimExpired sweeps expired leases back to queued.
func (r *JobRepository) ReclaimExpired(ctx context.Context, now time.Time) ([]*core.Job, error) {
	var reclaimed []*core.Job
	err := r.backend.WithWriteRetry(func(tx *badger.Txn) error {
		reclaimed = nil

		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(jobActivePrefix + ":")
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			var jobID uuid.UUID
			err := iter.Item().Value(func(val []byte) error {
				if len(val) != 16 {
					return storage.ErrSerializationFailed
				}
				copy(jobID[:], val)
				return nil
			})
			if err != nil {
				return err
			}

			job, err := readJob(tx, makeJobKey(jobID))
			if err != nil {
				return err
			}
			if job == nil {
				continue
			}
			if job.State != core.StateClaimed && job.State != core.StateRunning {
				continue
			}
			if !job.LeaseExpired(now) {
				continue
			}

			job.State = core.StateQueued
			job.ClaimedBy = ""
			job.ClaimedAt = time.Time{}
			job.LeaseUntil = time.Time{}
			job.UpdatedAt = now

			if err := r.writeJob(tx, job); err != nil {
				return err
			}
			if err := tx.Set(makeJobQueueKey(job.Seq), job.Id[:]); err != nil {
				return err
			}
			reclaimed = append(reclaimed, job)
		}

		if len(reclaimed) == 0 {
			return nil
		}
		iter.Close()
		return tx.Commit()
	})
	return reclaimed, err
}

// nextSeq returns the next enqueue sequence number, skipping the initial 0.
func (r *JobRepository) nextSeq() (uint64, error) {
	seq, err := r.seq.Next()
	if err != nil {
		return 0, err
	}
	if seq == 0 {
		seq, err = r.seq.Next()
		if err != nil {
			return 0, err
		}
	}
	return seq, nil
}

// backoffDelay computes base * 2^(retry-1), capped to avoid shift overflow.
func backoffDelay(base time.Duration, retry int) time.Duration {
	if base <= 0 {
		return 0
	}
	shift := retry - 1
	if shift < 0 {
		shift = 0
	}
	if shift > 16 {
		shift = 16
	}
	return base << uint(shift)
}

// loadOwned reads a job and verifies the worker still holds it.
func (r *JobRepository) loadOwned(tx *badger.Txn, id uuid.UUID, workerID string) (*core.Job, error) {
	job, err := readJob(tx, makeJobKey(id))
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, storage.ErrNotFound
	}
	if job.ClaimedBy != workerID || (job.State != core.StateClaimed && job.State != core.StateRunning) {
		return nil, storage.ErrLeaseLost
	}
	return job, nil
}

// mutateOwned applies fn to an owned job and persists it.
func (r *JobRepository) mutateOwned(id uuid.UUID, workerID string, fn func(*core.Job) error) error {
	return r.backend.WithWriteRetry(func(tx *badger.Txn) error {
		job, err := r.loadOwned(tx, id, workerID)
		if err != nil {
			return err
		}
		if err := fn(job); err != nil {
			return err
		}
		job.UpdatedAt = time.Now().UTC()
		if err := r.writeJob(tx, job); err != nil {
			return err
		}
		return tx.Commit()
	})
}

// releaseActive clears the active-job slot and idempotency binding for a job
// entering a terminal state.
func (r *JobRepository) releaseActive(tx *badger.Txn, job *core.Job) error {
	if err := tx.Delete(makeJobActiveKey(job.DocumentId)); err != nil {
		return err
	}
	if job.IdempotencyKey != "" {
		if err := tx.Delete(makeJobIdemKey(job.IdempotencyKey)); err != nil {
			return err
		}
	}
	return nil
}

// countClaimsByOwner tallies claimed and running jobs per owner, for the
// per-owner concurrency predicate on claim.
func (r *JobRepository) countClaimsByOwner(tx *badger.Txn) (map[string]int, error) {
	counts := make(map[string]int)

	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte(jobActivePrefix + ":")
	iter := tx.NewIterator(opts)
	defer iter.Close()

	for iter.Rewind(); iter.Valid(); iter.Next() {
		var jobID uuid.UUID
		err := iter.Item().Value(func(val []byte) error {
			if len(val) != 16 {
				return storage.ErrSerializationFailed
			}
			copy(jobID[:], val)
			return nil
		})
		if err != nil {
			return nil, err
		}
		job, err := readJob(tx, makeJobKey(jobID))
		if err != nil {
			return nil, err
		}
		if job == nil {
			continue
		}
		if job.State == core.StateClaimed || job.State == core.StateRunning {
			counts[job.OwnerId]++
		}
	}
	return counts, nil
}

// readJobByIndex resolves an index entry (value = job uuid) to its job.
// Returns nil, nil if the index entry doesn't exist.
func (r *JobRepository) readJobByIndex(tx *badger.Txn, key []byte) (*core.Job, error) {
	item, err := tx.Get(key)
	if err != nil {
		if err == badger.ErrKeyNotFound {
			return nil, nil
		}
		return nil, err
	}
	var jobID uuid.UUID
	err = item.Value(func(val []byte) error {
		if len(val) != 16 {
			return storage.ErrSerializationFailed
		}
		copy(jobID[:], val)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return readJob(tx, makeJobKey(jobID))
}

// writeJob persists a job record.
func (r *JobRepository) writeJob(tx *badger.Txn, job *core.Job) error {
	return tx.Set(makeJobKey(job.Id), storage.MarshalJob(job))
}

// readJob reads a job by key within a transaction.
// Returns nil, nil if the key doesn't exist.
func readJob(tx *badger.Txn, key []byte) (*core.Job, error) {
	item, err := tx.Get(key)
	if err != nil {
		if err == badger.ErrKeyNotFound {
			return nil, nil
		}
		return nil, err
	}
	var job *core.Job
	err = item.Value(func(val []byte) error {
		var err error
		job, err = storage.UnmarshalJob(val)
		return err
	})
	return job, err
}
