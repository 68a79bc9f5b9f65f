package sqlite

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/poiesic/docstream/core"
	"github.com/poiesic/docstream/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func testDocument(owner, fingerprint string) *core.Document {
	id, _ := core.DocumentID(owner, fingerprint)
	return &core.Document{
		Id:                 id,
		OwnerId:            owner,
		Filename:           "report.txt",
		MimeType:           "text/plain",
		ByteLength:         64,
		ContentFingerprint: fingerprint,
		RawLocation:        "mem://raw/" + fingerprint,
		Status:             core.StatusPending,
	}
}

func testJob(docID core.ID, owner string) *core.Job {
	return &core.Job{
		DocumentId: docID,
		OwnerId:    owner,
		Stage:      core.StageParse,
		MaxRetries: 3,
	}
}

func TestDocumentUpsert(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	doc, created, err := store.Documents().Upsert(ctx, testDocument("tenant-a", "deadbeef"))
	require.NoError(t, err)
	assert.True(t, created)

	again, created, err := store.Documents().Upsert(ctx, testDocument("tenant-a", "deadbeef"))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, doc.Id, again.Id)

	_, err = store.Documents().Get(ctx, core.ID(99999))
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestDocumentUpdateAndList(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	doc, _, err := store.Documents().Upsert(ctx, testDocument("tenant-a", "deadbeef"))
	require.NoError(t, err)

	require.NoError(t, store.Documents().UpdateStatus(ctx, doc.Id, core.StatusChunking))
	require.NoError(t, store.Documents().SetParsedLocation(ctx, doc.Id, "mem://parsed"))

	updated, err := store.Documents().Get(ctx, doc.Id)
	require.NoError(t, err)
	assert.Equal(t, core.StatusChunking, updated.Status)
	assert.Equal(t, "mem://parsed", updated.ParsedLocation)

	_, _, err = store.Documents().Upsert(ctx, testDocument("tenant-a", "cafebabe"))
	require.NoError(t, err)

	var all []*core.Document
	var after core.ID
	for {
		batch, err := store.Documents().List(ctx, after, 1)
		require.NoError(t, err)
		if len(batch) == 0 {
			break
		}
		all = append(all, batch...)
		after = batch[len(batch)-1].Id
	}
	require.Len(t, all, 2)
	assert.Greater(t, all[1].Id, all[0].Id)
}

func TestJobLifecycle(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	job, created, err := store.Jobs().Enqueue(ctx, testJob(1, "tenant-a"))
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, core.StateQueued, job.State)
	assert.NotZero(t, job.Seq)

	// One active job per document, enforced by the partial unique index.
	_, _, err = store.Jobs().Enqueue(ctx, testJob(1, "tenant-a"))
	assert.ErrorIs(t, err, storage.ErrActiveJobExists)

	claimed, err := store.Jobs().Claim(ctx, "worker-1", time.Minute, 0)
	require.NoError(t, err)
	assert.Equal(t, job.Id, claimed.Id)
	assert.Equal(t, core.StateClaimed, claimed.State)
	assert.False(t, claimed.LeaseUntil.IsZero())

	_, err = store.Jobs().Claim(ctx, "worker-2", time.Minute, 0)
	assert.ErrorIs(t, err, storage.ErrNoJob)

	require.NoError(t, store.Jobs().MarkRunning(ctx, claimed.Id, "worker-1"))
	err = store.Jobs().MarkRunning(ctx, claimed.Id, "worker-2")
	assert.ErrorIs(t, err, storage.ErrLeaseLost)

	done, err := store.Jobs().Complete(ctx, claimed.Id, "worker-1")
	require.NoError(t, err)
	assert.Equal(t, core.StateDone, done.State)
	assert.True(t, done.LeaseUntil.IsZero())

	// The active slot is free again.
	next := testJob(1, "tenant-a")
	next.Stage = core.StageChunk
	_, created, err = store.Jobs().Enqueue(ctx, next)
	require.NoError(t, err)
	assert.True(t, created)
}

func TestJobEnqueue_IdempotencyKey(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	first := testJob(1, "tenant-a")
	first.IdempotencyKey = "client-key"
	job1, created, err := store.Jobs().Enqueue(ctx, first)
	require.NoError(t, err)
	assert.True(t, created)

	dup := testJob(1, "tenant-a")
	dup.IdempotencyKey = "client-key"
	job2, created, err := store.Jobs().Enqueue(ctx, dup)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, job1.Id, job2.Id)
}

func TestJobClaim_FIFOAndBackoffGate(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	first, _, err := store.Jobs().Enqueue(ctx, testJob(1, "tenant-a"))
	require.NoError(t, err)
	second, _, err := store.Jobs().Enqueue(ctx, testJob(2, "tenant-a"))
	require.NoError(t, err)
	assert.Greater(t, second.Seq, first.Seq)

	claimed, err := store.Jobs().Claim(ctx, "worker-1", time.Minute, 0)
	require.NoError(t, err)
	assert.Equal(t, first.Id, claimed.Id, "oldest job first")

	// Push the first job into backoff; the second claim must skip past it.
	require.NoError(t, store.Jobs().MarkRunning(ctx, claimed.Id, "worker-1"))
	failed, err := store.Jobs().Fail(ctx, claimed.Id, "worker-1", "parse: timeout", true, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, core.StateQueued, failed.State)
	assert.Equal(t, 1, failed.RetryCount)

	claimed, err = store.Jobs().Claim(ctx, "worker-1", time.Minute, 0)
	require.NoError(t, err)
	assert.Equal(t, second.Id, claimed.Id)
}

func TestJobClaim_PerOwnerCap(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	_, _, err := store.Jobs().Enqueue(ctx, testJob(1, "tenant-a"))
	require.NoError(t, err)
	_, _, err = store.Jobs().Enqueue(ctx, testJob(2, "tenant-a"))
	require.NoError(t, err)
	_, _, err = store.Jobs().Enqueue(ctx, testJob(3, "tenant-b"))
	require.NoError(t, err)

	first, err := store.Jobs().Claim(ctx, "worker-1", time.Minute, 1)
	require.NoError(t, err)
	assert.Equal(t, "tenant-a", first.OwnerId)

	second, err := store.Jobs().Claim(ctx, "worker-1", time.Minute, 1)
	require.NoError(t, err)
	assert.Equal(t, "tenant-b", second.OwnerId)

	_, err = store.Jobs().Claim(ctx, "worker-1", time.Minute, 1)
	assert.ErrorIs(t, err, storage.ErrNoJob)
}

func TestJobFail_Deadletter(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	_, _, err := store.Jobs().Enqueue(ctx, testJob(1, "tenant-a"))
	require.NoError(t, err)

	var last *core.Job
	for attempt := 1; attempt <= 4; attempt++ {
		claimed, err := store.Jobs().Claim(ctx, "worker-1", time.Minute, 0)
		require.NoError(t, err)
		require.NoError(t, store.Jobs().MarkRunning(ctx, claimed.Id, "worker-1"))
		last, err = store.Jobs().Fail(ctx, claimed.Id, "worker-1", "embed: timeout", true, 0)
		require.NoError(t, err)
	}
	assert.Equal(t, core.StateDeadletter, last.State)
	assert.Equal(t, 3, last.RetryCount)

	_, err = store.Jobs().GetActiveByDocument(ctx, 1)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestJobReclaimExpired(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	_, _, err := store.Jobs().Enqueue(ctx, testJob(1, "tenant-a"))
	require.NoError(t, err)

	claimed, err := store.Jobs().Claim(ctx, "worker-1", 10*time.Millisecond, 0)
	require.NoError(t, err)

	reclaimed, err := store.Jobs().ReclaimExpired(ctx, claimed.LeaseUntil.Add(time.Millisecond))
	require.NoError(t, err)
	require.Len(t, reclaimed, 1)
	assert.Equal(t, core.StateQueued, reclaimed[0].State)
	assert.Empty(t, reclaimed[0].ClaimedBy)

	err = store.Jobs().Heartbeat(ctx, claimed.Id, "worker-1", time.Minute)
	assert.ErrorIs(t, err, storage.ErrLeaseLost)
}

func testChunk(t *testing.T, docID core.ID, ordinal int, text, version string) *core.Chunk {
	t.Helper()
	id, err := core.ChunkID(docID, "recursive", version, ordinal)
	require.NoError(t, err)
	hash := sha256.Sum256([]byte(text))
	return &core.Chunk{
		Id:             id,
		DocumentId:     docID,
		Ordinal:        ordinal,
		Text:           text,
		ContentHash:    hex.EncodeToString(hash[:]),
		ChunkerName:    "recursive",
		ChunkerVersion: version,
	}
}

func TestChunkUpsertAndSupersede(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	chunk := testChunk(t, 1, 0, "hello world", "v1")
	_, err := store.Chunks().UpsertChunks(ctx, chunk)
	require.NoError(t, err)

	chunk.Vector = []float32{0.1, 0.2}
	chunk.EmbedModel = "embeddinggemma"
	chunk.EmbedVersion = "v1"
	require.NoError(t, store.Chunks().UpdateVectors(ctx, chunk))

	// Same text again: the embedding survives.
	_, err = store.Chunks().UpsertChunks(ctx, testChunk(t, 1, 0, "hello world", "v1"))
	require.NoError(t, err)
	got, err := store.Chunks().Get(ctx, chunk.Id)
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2}, got.Vector)

	// New generation supersedes the old one.
	_, err = store.Chunks().UpsertChunks(ctx, testChunk(t, 1, 0, "hello world", "v2"))
	require.NoError(t, err)
	removed, err := store.Chunks().DeleteSuperseded(ctx, 1, core.ChunkGeneration("recursive", "v2"))
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	chunks, err := store.Chunks().ListByDocument(ctx, 1)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "v2", chunks[0].ChunkerVersion)
}

func TestChunkFindSimilar(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	vectors := [][]float32{{1, 0}, {0.8, 0.2}, {0, 1}}
	for ordinal, vec := range vectors {
		chunk := testChunk(t, 1, ordinal, fmt.Sprintf("chunk %d", ordinal), "v1")
		_, err := store.Chunks().UpsertChunks(ctx, chunk)
		require.NoError(t, err)
		chunk.Vector = vec
		chunk.EmbedModel = "embeddinggemma"
		chunk.EmbedVersion = "v1"
		require.NoError(t, store.Chunks().UpdateVectors(ctx, chunk))
	}

	matches, err := store.Chunks().FindSimilar(ctx, []float32{1, 0}, 0.5, 10)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, 0, matches[0].Chunk.Ordinal)
}

func TestEventAppendAndList(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Microsecond)
	job, _, err := store.Jobs().Enqueue(ctx, testJob(1, "tenant-a"))
	require.NoError(t, err)

	types := []core.EventType{core.EventEnqueued, core.EventClaimed, core.EventStageStarted}
	for i, eventType := range types {
		err := store.Events().Append(ctx, &core.Event{
			DocumentId: 1,
			JobId:      job.Id,
			Timestamp:  base.Add(time.Duration(i) * time.Millisecond),
			Type:       eventType,
			Payload:    map[string]string{"stage": "parse"},
		})
		require.NoError(t, err)
	}

	events, err := store.Events().ListByDocument(ctx, 1)
	require.NoError(t, err)
	require.Len(t, events, len(types))
	for i, event := range events {
		assert.Equal(t, types[i], event.Type)
		assert.Equal(t, "parse", event.Payload["stage"])
	}

	byJob, err := store.Events().ListByJob(ctx, job.Id)
	require.NoError(t, err)
	assert.Len(t, byJob, len(types))
}
