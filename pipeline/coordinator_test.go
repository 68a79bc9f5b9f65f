package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/poiesic/docstream/core"
	"github.com/poiesic/docstream/services"
	"github.com/poiesic/docstream/services/mock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCoordinator_Validation(t *testing.T) {
	repos, ledger := newTestLedger(t)
	provider := mock.NewMockProvider()

	_, err := NewCoordinator(nil, repos.Documents, repos.Chunks, provider, nil, nil)
	assert.ErrorIs(t, err, ErrJobRepositoryRequired)

	_, err = NewCoordinator(ledger, nil, repos.Chunks, provider, nil, nil)
	assert.ErrorIs(t, err, ErrDocumentRepositoryRequired)

	_, err = NewCoordinator(ledger, repos.Documents, nil, provider, nil, nil)
	assert.ErrorIs(t, err, ErrChunkRepositoryRequired)

	_, err = NewCoordinator(ledger, repos.Documents, repos.Chunks, nil, nil, nil)
	assert.ErrorIs(t, err, ErrProviderRequired)

	_, err = NewCoordinator(ledger, repos.Documents, repos.Chunks, provider, nil, nil,
		WithWorkerID(""))
	assert.Error(t, err)
}

// waitForStatus polls until the document reaches the wanted status or the
// deadline passes.
func waitForStatus(t *testing.T, ledger *Ledger, docID core.ID, want core.ProcessingStatus) *DocumentStatus {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		status, err := ledger.Status(context.Background(), docID)
		require.NoError(t, err)
		if status.Document.Status == want {
			return status
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("document %d never reached status %s", docID, want)
	return nil
}

func TestCoordinator_ProcessesDocumentEndToEnd(t *testing.T) {
	repos, ledger := newTestLedger(t)
	provider := mock.NewMockProvider()

	registry, err := NewRegistry(repos.Documents, provider.ObjectStore(), ledger)
	require.NoError(t, err)

	coord, err := NewCoordinator(ledger, repos.Documents, repos.Chunks, provider,
		services.DefaultConfig(), newFixedChunker(),
		WithWorkerID("worker-1"),
		WithConcurrency(2),
		WithPollInterval(10*time.Millisecond),
		WithReclaimInterval(50*time.Millisecond),
	)
	require.NoError(t, err)
	defer coord.Release()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- coord.Run(ctx) }()

	content := strings.Repeat("every document tells a story ", 8)
	doc, job, created, err := registry.RegisterAndEnqueue(ctx, RegisterRequest{
		OwnerId:  "tenant-a",
		Filename: "story.txt",
		MimeType: "text/plain",
		Content:  []byte(content),
	}, "")
	require.NoError(t, err)
	require.True(t, created)
	require.Equal(t, core.StageParse, job.Stage)

	status := waitForStatus(t, ledger, doc.Id, core.StatusComplete)
	assert.Equal(t, 100, status.ProgressPct)
	assert.Nil(t, status.ActiveJob)

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)

	// Every stage ran to completion.
	jobs, err := ledger.Jobs(context.Background(), doc.Id)
	require.NoError(t, err)
	require.Len(t, jobs, 3)
	stages := make(map[core.Stage]core.State, 3)
	for _, j := range jobs {
		stages[j.Stage] = j.State
	}
	assert.Equal(t, core.StateDone, stages[core.StageParse])
	assert.Equal(t, core.StateDone, stages[core.StageChunk])
	assert.Equal(t, core.StateDone, stages[core.StageEmbed])

	// Chunks exist and carry vectors.
	chunks, err := repos.Chunks.ListByDocument(context.Background(), doc.Id)
	require.NoError(t, err)
	require.NotEmpty(t, chunks)
	for _, chunk := range chunks {
		assert.NotEmpty(t, chunk.Vector)
	}

	// The audit trail covers the whole run.
	events, err := ledger.Events(context.Background(), doc.Id)
	require.NoError(t, err)
	types := eventTypes(events)
	assert.Contains(t, types, core.EventEnqueued)
	assert.Contains(t, types, core.EventClaimed)
	assert.Contains(t, types, core.EventStageStarted)
	assert.Contains(t, types, core.EventStageCompleted)
}

func TestCoordinator_RetriesTransientFailure(t *testing.T) {
	repos, ledger := newTestLedger(t, WithBackoffBase(time.Millisecond))
	provider := mock.NewMockProvider().(*mock.MockProvider)

	registry, err := NewRegistry(repos.Documents, provider.ObjectStore(), ledger)
	require.NoError(t, err)

	// First parse attempt fails with a transient error, later attempts
	// succeed.
	var attempts int
	provider.GetMockParser().ParseFunc = func(ctx context.Context, raw []byte, mimeType string) (*services.ParseResult, error) {
		attempts++
		if attempts == 1 {
			return nil, services.NewRetryable("parse", errors.New("service warming up"))
		}
		return &services.ParseResult{Text: string(raw)}, nil
	}

	coord, err := NewCoordinator(ledger, repos.Documents, repos.Chunks, provider,
		services.DefaultConfig(), newFixedChunker(),
		WithWorkerID("worker-1"),
		WithConcurrency(1),
		WithPollInterval(10*time.Millisecond),
	)
	require.NoError(t, err)
	defer coord.Release()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go coord.Run(ctx)

	doc, _, _, err := registry.RegisterAndEnqueue(ctx, RegisterRequest{
		OwnerId:  "tenant-a",
		Filename: "flaky.txt",
		MimeType: "text/plain",
		Content:  []byte("transient failures heal"),
	}, "")
	require.NoError(t, err)

	waitForStatus(t, ledger, doc.Id, core.StatusComplete)
	assert.GreaterOrEqual(t, attempts, 2)

	events, err := ledger.Events(context.Background(), doc.Id)
	require.NoError(t, err)
	assert.Contains(t, eventTypes(events), core.EventRetried)
}

func TestCoordinator_DeadlettersPermanentFailure(t *testing.T) {
	repos, ledger := newTestLedger(t)
	provider := mock.NewMockProvider().(*mock.MockProvider)

	registry, err := NewRegistry(repos.Documents, provider.ObjectStore(), ledger)
	require.NoError(t, err)

	provider.GetMockParser().ParseFunc = func(ctx context.Context, raw []byte, mimeType string) (*services.ParseResult, error) {
		return nil, services.NewPermanent("parse", services.ErrMalformedInput)
	}

	coord, err := NewCoordinator(ledger, repos.Documents, repos.Chunks, provider,
		services.DefaultConfig(), newFixedChunker(),
		WithWorkerID("worker-1"),
		WithConcurrency(1),
		WithPollInterval(10*time.Millisecond),
	)
	require.NoError(t, err)
	defer coord.Release()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go coord.Run(ctx)

	doc, job, _, err := registry.RegisterAndEnqueue(ctx, RegisterRequest{
		OwnerId:  "tenant-a",
		Filename: "broken.bin",
		MimeType: "application/octet-stream",
		Content:  []byte{0xde, 0xad},
	}, "")
	require.NoError(t, err)

	waitForStatus(t, ledger, doc.Id, core.StatusDeadletter)

	deadline := time.Now().Add(5 * time.Second)
	for {
		j, err := repos.Jobs.Get(context.Background(), job.Id)
		require.NoError(t, err)
		if j.State == core.StateDeadletter {
			assert.Zero(t, j.RetryCount, "permanent failures skip the retry budget")
			break
		}
		require.True(t, time.Now().Before(deadline), "job never deadlettered")
		time.Sleep(20 * time.Millisecond)
	}
}
