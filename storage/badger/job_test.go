package badger

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/poiesic/docstream/core"
	"github.com/poiesic/docstream/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testJob(docID core.ID, owner string) *core.Job {
	return &core.Job{
		DocumentId: docID,
		OwnerId:    owner,
		Stage:      core.StageParse,
		MaxRetries: 3,
	}
}

func TestJobEnqueue(t *testing.T) {
	repos, err := NewMemoryRepositories()
	require.NoError(t, err)
	defer repos.Close()

	ctx := context.Background()
	job, created, err := repos.Jobs.Enqueue(ctx, testJob(1, "tenant-a"))
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, uuid.Nil, job.Id)
	assert.Equal(t, core.StateQueued, job.State)
	assert.NotZero(t, job.Seq)

	active, err := repos.Jobs.GetActiveByDocument(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, job.Id, active.Id)
}

func TestJobEnqueue_OneActivePerDocument(t *testing.T) {
	repos, err := NewMemoryRepositories()
	require.NoError(t, err)
	defer repos.Close()

	ctx := context.Background()
	_, _, err = repos.Jobs.Enqueue(ctx, testJob(1, "tenant-a"))
	require.NoError(t, err)

	_, _, err = repos.Jobs.Enqueue(ctx, testJob(1, "tenant-a"))
	assert.ErrorIs(t, err, storage.ErrActiveJobExists)

	// A different document is unaffected.
	_, created, err := repos.Jobs.Enqueue(ctx, testJob(2, "tenant-a"))
	require.NoError(t, err)
	assert.True(t, created)
}

func TestJobEnqueue_IdempotencyKey(t *testing.T) {
	repos, err := NewMemoryRepositories()
	require.NoError(t, err)
	defer repos.Close()

	ctx := context.Background()
	first := testJob(1, "tenant-a")
	first.IdempotencyKey = "client-key"
	job1, created, err := repos.Jobs.Enqueue(ctx, first)
	require.NoError(t, err)
	assert.True(t, created)

	// Same key while the job is active returns the existing job.
	dup := testJob(1, "tenant-a")
	dup.IdempotencyKey = "client-key"
	job2, created, err := repos.Jobs.Enqueue(ctx, dup)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, job1.Id, job2.Id)
}

func TestJobEnqueue_KeyReleasedAfterCompletion(t *testing.T) {
	repos, err := NewMemoryRepositories()
	require.NoError(t, err)
	defer repos.Close()

	ctx := context.Background()
	first := testJob(1, "tenant-a")
	first.IdempotencyKey = "client-key"
	job1, _, err := repos.Jobs.Enqueue(ctx, first)
	require.NoError(t, err)

	claimed, err := repos.Jobs.Claim(ctx, "worker-1", time.Minute, 0)
	require.NoError(t, err)
	require.Equal(t, job1.Id, claimed.Id)
	require.NoError(t, repos.Jobs.MarkRunning(ctx, claimed.Id, "worker-1"))
	_, err = repos.Jobs.Complete(ctx, claimed.Id, "worker-1")
	require.NoError(t, err)

	// The key no longer maps to an active job, so a fresh enqueue succeeds.
	next := testJob(1, "tenant-a")
	next.IdempotencyKey = "client-key"
	job2, created, err := repos.Jobs.Enqueue(ctx, next)
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, job1.Id, job2.Id)
}

func TestJobClaim_FIFO(t *testing.T) {
	repos, err := NewMemoryRepositories()
	require.NoError(t, err)
	defer repos.Close()

	ctx := context.Background()
	var enqueued []uuid.UUID
	for docID := core.ID(1); docID <= 3; docID++ {
		job, _, err := repos.Jobs.Enqueue(ctx, testJob(docID, "tenant-a"))
		require.NoError(t, err)
		enqueued = append(enqueued, job.Id)
	}

	for i := 0; i < 3; i++ {
		claimed, err := repos.Jobs.Claim(ctx, "worker-1", time.Minute, 0)
		require.NoError(t, err)
		assert.Equal(t, enqueued[i], claimed.Id, "claims must follow enqueue order")
		assert.Equal(t, core.StateClaimed, claimed.State)
		assert.Equal(t, "worker-1", claimed.ClaimedBy)
		assert.False(t, claimed.LeaseUntil.IsZero())
	}

	_, err = repos.Jobs.Claim(ctx, "worker-1", time.Minute, 0)
	assert.ErrorIs(t, err, storage.ErrNoJob)
}

func TestJobClaim_Concurrent(t *testing.T) {
	repos, err := NewMemoryRepositories()
	require.NoError(t, err)
	defer repos.Close()

	ctx := context.Background()
	const jobs = 20
	for docID := core.ID(1); docID <= jobs; docID++ {
		_, _, err := repos.Jobs.Enqueue(ctx, testJob(docID, "tenant-a"))
		require.NoError(t, err)
	}

	var mu sync.Mutex
	claimed := make(map[uuid.UUID]string)

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		workerID := string(rune('a' + w))
		go func() {
			defer wg.Done()
			for {
				job, err := repos.Jobs.Claim(ctx, workerID, time.Minute, 0)
				if err != nil {
					return
				}
				mu.Lock()
				if prior, dup := claimed[job.Id]; dup {
					t.Errorf("job %s claimed by both %s and %s", job.Id, prior, workerID)
				}
				claimed[job.Id] = workerID
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, claimed, jobs, "every job claimed exactly once")
}

func TestJobClaim_PerOwnerCap(t *testing.T) {
	repos, err := NewMemoryRepositories()
	require.NoError(t, err)
	defer repos.Close()

	ctx := context.Background()
	_, _, err = repos.Jobs.Enqueue(ctx, testJob(1, "tenant-a"))
	require.NoError(t, err)
	_, _, err = repos.Jobs.Enqueue(ctx, testJob(2, "tenant-a"))
	require.NoError(t, err)
	_, _, err = repos.Jobs.Enqueue(ctx, testJob(3, "tenant-b"))
	require.NoError(t, err)

	first, err := repos.Jobs.Claim(ctx, "worker-1", time.Minute, 1)
	require.NoError(t, err)
	assert.Equal(t, "tenant-a", first.OwnerId)

	// tenant-a already holds one claim, so the cap skips to tenant-b.
	second, err := repos.Jobs.Claim(ctx, "worker-1", time.Minute, 1)
	require.NoError(t, err)
	assert.Equal(t, "tenant-b", second.OwnerId)

	_, err = repos.Jobs.Claim(ctx, "worker-1", time.Minute, 1)
	assert.ErrorIs(t, err, storage.ErrNoJob)
}

func TestJobComplete_ReleasesActiveSlot(t *testing.T) {
	repos, err := NewMemoryRepositories()
	require.NoError(t, err)
	defer repos.Close()

	ctx := context.Background()
	job, _, err := repos.Jobs.Enqueue(ctx, testJob(1, "tenant-a"))
	require.NoError(t, err)

	claimed, err := repos.Jobs.Claim(ctx, "worker-1", time.Minute, 0)
	require.NoError(t, err)
	require.NoError(t, repos.Jobs.MarkRunning(ctx, claimed.Id, "worker-1"))

	done, err := repos.Jobs.Complete(ctx, claimed.Id, "worker-1")
	require.NoError(t, err)
	assert.Equal(t, core.StateDone, done.State)
	assert.True(t, done.LeaseUntil.IsZero())

	_, err = repos.Jobs.GetActiveByDocument(ctx, 1)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	// Follow-up enqueues for the same document now succeed.
	next := testJob(1, "tenant-a")
	next.Stage = core.StageChunk
	follow, created, err := repos.Jobs.Enqueue(ctx, next)
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, job.Id, follow.Id)
}

func TestJobFail_RetryThenSuccess(t *testing.T) {
	repos, err := NewMemoryRepositories()
	require.NoError(t, err)
	defer repos.Close()

	ctx := context.Background()
	_, _, err = repos.Jobs.Enqueue(ctx, testJob(1, "tenant-a"))
	require.NoError(t, err)

	// Two transient failures, then success. With no backoff base the job is
	// immediately claimable again after each failure.
	for attempt := 1; attempt <= 2; attempt++ {
		claimed, err := repos.Jobs.Claim(ctx, "worker-1", time.Minute, 0)
		require.NoError(t, err)
		require.NoError(t, repos.Jobs.MarkRunning(ctx, claimed.Id, "worker-1"))

		failed, err := repos.Jobs.Fail(ctx, claimed.Id, "worker-1", "embed: timeout", true, 0)
		require.NoError(t, err)
		assert.Equal(t, core.StateQueued, failed.State)
		assert.Equal(t, attempt, failed.RetryCount)
		assert.Equal(t, "embed: timeout", failed.LastError)
		assert.Empty(t, failed.ClaimedBy)
	}

	claimed, err := repos.Jobs.Claim(ctx, "worker-1", time.Minute, 0)
	require.NoError(t, err)
	require.NoError(t, repos.Jobs.MarkRunning(ctx, claimed.Id, "worker-1"))
	done, err := repos.Jobs.Complete(ctx, claimed.Id, "worker-1")
	require.NoError(t, err)
	assert.Equal(t, core.StateDone, done.State)
	assert.Equal(t, 2, done.RetryCount)
}

func TestJobFail_ExhaustedBudgetDeadletters(t *testing.T) {
	repos, err := NewMemoryRepositories()
	require.NoError(t, err)
	defer repos.Close()

	ctx := context.Background()
	_, _, err = repos.Jobs.Enqueue(ctx, testJob(1, "tenant-a"))
	require.NoError(t, err)

	var last *core.Job
	for attempt := 1; attempt <= 4; attempt++ {
		claimed, err := repos.Jobs.Claim(ctx, "worker-1", time.Minute, 0)
		require.NoError(t, err)
		require.NoError(t, repos.Jobs.MarkRunning(ctx, claimed.Id, "worker-1"))
		last, err = repos.Jobs.Fail(ctx, claimed.Id, "worker-1", "embed: timeout", true, 0)
		require.NoError(t, err)
	}

	assert.Equal(t, core.StateDeadletter, last.State)
	assert.Equal(t, 3, last.RetryCount)

	_, err = repos.Jobs.GetActiveByDocument(ctx, 1)
	assert.ErrorIs(t, err, storage.ErrNotFound, "deadletter frees the active slot")
}

func TestJobFail_NonRetryableDeadlettersImmediately(t *testing.T) {
	repos, err := NewMemoryRepositories()
	require.NoError(t, err)
	defer repos.Close()

	ctx := context.Background()
	_, _, err = repos.Jobs.Enqueue(ctx, testJob(1, "tenant-a"))
	require.NoError(t, err)

	claimed, err := repos.Jobs.Claim(ctx, "worker-1", time.Minute, 0)
	require.NoError(t, err)
	require.NoError(t, repos.Jobs.MarkRunning(ctx, claimed.Id, "worker-1"))

	failed, err := repos.Jobs.Fail(ctx, claimed.Id, "worker-1", "parse: unsupported format", false, 0)
	require.NoError(t, err)
	assert.Equal(t, core.StateDeadletter, failed.State)
	assert.Zero(t, failed.RetryCount)
}

func TestJobFail_BackoffGatesClaim(t *testing.T) {
	repos, err := NewMemoryRepositories()
	require.NoError(t, err)
	defer repos.Close()

	ctx := context.Background()
	_, _, err = repos.Jobs.Enqueue(ctx, testJob(1, "tenant-a"))
	require.NoError(t, err)

	claimed, err := repos.Jobs.Claim(ctx, "worker-1", time.Minute, 0)
	require.NoError(t, err)
	require.NoError(t, repos.Jobs.MarkRunning(ctx, claimed.Id, "worker-1"))

	failed, err := repos.Jobs.Fail(ctx, claimed.Id, "worker-1", "embed: timeout", true, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, core.StateQueued, failed.State)
	assert.True(t, failed.NotBefore.After(time.Now()))

	_, err = repos.Jobs.Claim(ctx, "worker-1", time.Minute, 0)
	assert.ErrorIs(t, err, storage.ErrNoJob, "backoff gate hides the job")
}

func TestBackoffDelay(t *testing.T) {
	base := 30 * time.Second

	tests := []struct {
		retry int
		want  time.Duration
	}{
		{1, 30 * time.Second},
		{2, 60 * time.Second},
		{3, 120 * time.Second},
		{4, 240 * time.Second},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, backoffDelay(base, tt.retry), "retry %d", tt.retry)
	}

	assert.Equal(t, time.Duration(0), backoffDelay(0, 5))
	// The shift is capped so huge retry counts can't overflow.
	assert.Equal(t, base<<16, backoffDelay(base, 1000))
}

func TestJobHeartbeat(t *testing.T) {
	repos, err := NewMemoryRepositories()
	require.NoError(t, err)
	defer repos.Close()

	ctx := context.Background()
	_, _, err = repos.Jobs.Enqueue(ctx, testJob(1, "tenant-a"))
	require.NoError(t, err)

	claimed, err := repos.Jobs.Claim(ctx, "worker-1", time.Minute, 0)
	require.NoError(t, err)

	require.NoError(t, repos.Jobs.Heartbeat(ctx, claimed.Id, "worker-1", time.Hour))

	extended, err := repos.Jobs.Get(ctx, claimed.Id)
	require.NoError(t, err)
	assert.True(t, extended.LeaseUntil.After(claimed.LeaseUntil))

	// Another worker cannot touch the lease.
	err = repos.Jobs.Heartbeat(ctx, claimed.Id, "worker-2", time.Hour)
	assert.ErrorIs(t, err, storage.ErrLeaseLost)
}

func TestJobReclaimExpired(t *testing.T) {
	repos, err := NewMemoryRepositories()
	require.NoError(t, err)
	defer repos.Close()

	ctx := context.Background()
	_, _, err = repos.Jobs.Enqueue(ctx, testJob(1, "tenant-a"))
	require.NoError(t, err)

	claimed, err := repos.Jobs.Claim(ctx, "worker-1", 10*time.Millisecond, 0)
	require.NoError(t, err)
	require.NoError(t, repos.Jobs.MarkRunning(ctx, claimed.Id, "worker-1"))

	// Nothing to reclaim while the lease is held.
	none, err := repos.Jobs.ReclaimExpired(ctx, claimed.LeaseUntil.Add(-time.Millisecond))
	require.NoError(t, err)
	assert.Empty(t, none)

	reclaimed, err := repos.Jobs.ReclaimExpired(ctx, claimed.LeaseUntil.Add(time.Millisecond))
	require.NoError(t, err)
	require.Len(t, reclaimed, 1)
	assert.Equal(t, claimed.Id, reclaimed[0].Id)
	assert.Equal(t, core.StateQueued, reclaimed[0].State)
	assert.Empty(t, reclaimed[0].ClaimedBy)

	// The crashed worker's writes now fail; another worker can claim.
	err = repos.Jobs.MarkRunning(ctx, claimed.Id, "worker-1")
	assert.ErrorIs(t, err, storage.ErrLeaseLost)

	stolen, err := repos.Jobs.Claim(ctx, "worker-2", time.Minute, 0)
	require.NoError(t, err)
	assert.Equal(t, claimed.Id, stolen.Id)
}

func TestJobListByDocument(t *testing.T) {
	repos, err := NewMemoryRepositories()
	require.NoError(t, err)
	defer repos.Close()

	ctx := context.Background()

	// Run one job to completion, then enqueue the next stage.
	parse, _, err := repos.Jobs.Enqueue(ctx, testJob(1, "tenant-a"))
	require.NoError(t, err)
	claimed, err := repos.Jobs.Claim(ctx, "worker-1", time.Minute, 0)
	require.NoError(t, err)
	require.NoError(t, repos.Jobs.MarkRunning(ctx, claimed.Id, "worker-1"))
	_, err = repos.Jobs.Complete(ctx, claimed.Id, "worker-1")
	require.NoError(t, err)

	chunk := testJob(1, "tenant-a")
	chunk.Stage = core.StageChunk
	chunkJob, _, err := repos.Jobs.Enqueue(ctx, chunk)
	require.NoError(t, err)

	jobs, err := repos.Jobs.ListByDocument(ctx, 1)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, parse.Id, jobs[0].Id)
	assert.Equal(t, chunkJob.Id, jobs[1].Id)
}
