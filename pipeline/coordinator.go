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
	"os"
	"runtime"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"github.com/poiesic/docstream/core"
	"github.com/poiesic/docstream/services"
	"github.com/poiesic/docstream/storage"
)

// Coordinator is the worker's main loop: it claims jobs from the ledger,
// dispatches them to stage processors on a bounded pool, heartbeats held
// leases, and periodically sweeps expired leases back to the queue.
type Coordinator struct {
	ledger    *Ledger
	documents storage.DocumentRepository
	procs     processorSet
	pool      *ants.Pool

	workerID        string
	pollInterval    time.Duration
	reclaimInterval time.Duration

	logger *slog.Logger
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator) error

// WithWorkerID sets the worker identity recorded on claims.
// Default is hostname plus a random suffix.
func WithWorkerID(id string) CoordinatorOption {
	return func(c *Coordinator) error {
		if id == "" {
			return errors.New("worker id must not be empty")
		}
		c.workerID = id
		return nil
	}
}

// WithConcurrency sets how many jobs this worker runs at once.
// Default is runtime.NumCPU() / 2, with a minimum of 1.
func WithConcurrency(n int) CoordinatorOption {
	return func(c *Coordinator) error {
		if n < 1 {
			n = 1
		}
		if c.pool != nil {
			c.pool.Release()
		}
		pool, err := ants.NewPool(n)
		if err != nil {
			return err
		}
		c.pool = pool
		return nil
	}
}

// WithPollInterval sets the sleep between claim attempts on an empty queue.
// Default is 1s.
func WithPollInterval(d time.Duration) CoordinatorOption {
	return func(c *Coordinator) error {
		if d <= 0 {
			return errors.New("poll interval must be positive")
		}
		c.pollInterval = d
		return nil
	}
}

// WithReclaimInterval sets how often expired leases are swept.
// Default is 30s.
func WithReclaimInterval(d time.Duration) CoordinatorOption {
	return func(c *Coordinator) error {
		if d <= 0 {
			return errors.New("reclaim interval must be positive")
		}
		c.reclaimInterval = d
		return nil
	}
}

// WithProcessors replaces the default stage processors.
func WithProcessors(procs ...Processor) CoordinatorOption {
	return func(c *Coordinator) error {
		c.procs = newProcessorSet(procs...)
		return nil
	}
}

// WithCoordinatorLogger sets a custom logger.
// Default is slog.Default().
func WithCoordinatorLogger(logger *slog.Logger) CoordinatorOption {
	return func(c *Coordinator) error {
		if logger == nil {
			logger = slog.Default()
		}
		c.logger = logger.With("component", "coordinator")
		return nil
	}
}

// NewCoordinator creates a worker coordinator with the default parse, chunk,
// and embed processors wired to the provider's services.
func NewCoordinator(
	ledger *Ledger,
	documents storage.DocumentRepository,
	chunks storage.ChunkRepository,
	provider services.Provider,
	config *services.Config,
	chunker Chunker,
	opts ...CoordinatorOption,
) (*Coordinator, error) {
	if ledger == nil {
		return nil, ErrJobRepositoryRequired
	}
	if documents == nil {
		return nil, ErrDocumentRepositoryRequired
	}
	if chunks == nil {
		return nil, ErrChunkRepositoryRequired
	}
	if provider == nil {
		return nil, ErrProviderRequired
	}
	if config == nil {
		config = services.DefaultConfig()
	}
	if chunker == nil {
		var err error
		chunker, err = NewRecursiveChunker(1000, 200, "v1")
		if err != nil {
			return nil, err
		}
	}

	poolSize := runtime.NumCPU() / 2
	if poolSize < 1 {
		poolSize = 1
	}
	pool, err := ants.NewPool(poolSize)
	if err != nil {
		return nil, err
	}

	logger := slog.Default()
	c := &Coordinator{
		ledger:          ledger,
		documents:       documents,
		pool:            pool,
		workerID:        defaultWorkerID(),
		pollInterval:    time.Second,
		reclaimInterval: 30 * time.Second,
		logger:          logger.With("component", "coordinator"),
	}
	c.procs = newProcessorSet(
		newParseProcessor(documents, provider.Parser(), provider.ObjectStore(), logger),
		newChunkProcessor(documents, chunks, provider.ObjectStore(), chunker, logger),
		newEmbedProcessor(chunks, provider.Embedder(), config.EmbeddingModel, config.EmbeddingVersion, logger),
	)

	for _, opt := range opts {
		if optErr := opt(c); optErr != nil {
			c.pool.Release()
			return nil, optErr
		}
	}
	return c, nil
}

// WorkerID returns this coordinator's worker identity.
func (c *Coordinator) WorkerID() string {
	return c.workerID
}

// Run claims and executes jobs until ctx is canceled. In-flight jobs are
// given up without completion on shutdown; their leases expire and the
// reclaim sweep returns them to the queue.
func (c *Coordinator) Run(ctx context.Context) error {
	c.logger.Info("worker starting", "worker", c.workerID, "concurrency", c.pool.Cap())

	go c.reclaimLoop(ctx)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("worker stopping", "worker", c.workerID)
			return ctx.Err()
		default:
		}

		job, err := c.ledger.Claim(ctx, c.workerID)
		if err != nil {
			if errors.Is(err, storage.ErrNoJob) {
				c.sleep(ctx, c.pollInterval)
				continue
			}
			c.logger.Error("claim failed", "err", err)
			c.sleep(ctx, c.pollInterval)
			continue
		}

		claimed := job
		if err := c.pool.Submit(func() {
			c.execute(ctx, claimed)
		}); err != nil {
			c.logger.Error("failed to submit job to pool", "job", claimed.Id, "err", err)
		}
	}
}

// Release frees the worker pool. The coordinator should not be used after
// calling Release.
func (c *Coordinator) Release() {
	c.pool.Release()
}

// execute runs one claimed job through its stage processor.
func (c *Coordinator) execute(ctx context.Context, job *core.Job) {
	logger := c.logger.With("job", job.Id, "document", job.DocumentId, "stage", job.Stage)

	if err := c.ledger.StartStage(ctx, job, c.workerID); err != nil {
		if errors.Is(err, storage.ErrLeaseLost) {
			logger.Warn("lease lost before start, abandoning")
			return
		}
		logger.Error("failed to start stage", "err", err)
		return
	}

	// Keep the lease alive while the processor runs.
	heartbeatCtx, stopHeartbeat := context.WithCancel(ctx)
	defer stopHeartbeat()
	go c.heartbeatLoop(heartbeatCtx, job, logger)

	doc, err := c.documents.Get(ctx, job.DocumentId)
	if err != nil {
		c.fail(ctx, job, fmt.Sprintf("loading document: %v", err), true, logger)
		return
	}

	proc, ok := c.procs.get(job.Stage)
	if !ok {
		c.fail(ctx, job, fmt.Sprintf("%v: %s", ErrUnknownStage, job.Stage), false, logger)
		return
	}

	if err := proc.Process(ctx, doc, job); err != nil {
		c.fail(ctx, job, err.Error(), services.IsRetryable(err), logger)
		return
	}

	stopHeartbeat()
	if _, _, err := c.ledger.Complete(ctx, job.Id, c.workerID); err != nil {
		if errors.Is(err, storage.ErrLeaseLost) {
			logger.Warn("lease lost before completion, work will be redone")
			return
		}
		logger.Error("failed to complete job", "err", err)
	}
}

func (c *Coordinator) fail(ctx context.Context, job *core.Job, cause string, retryable bool, logger *slog.Logger) {
	if _, err := c.ledger.Fail(ctx, job.Id, c.workerID, cause, retryable); err != nil {
		if errors.Is(err, storage.ErrLeaseLost) {
			logger.Warn("lease lost before failure could be recorded")
			return
		}
		logger.Error("failed to record job failure", "err", err)
	}
}

// heartbeatLoop extends the job's lease at a third of its duration until the
// context is canceled. A lost lease stops the loop; the job belongs to
// someone else now.
func (c *Coordinator) heartbeatLoop(ctx context.Context, job *core.Job, logger *slog.Logger) {
	interval := c.ledger.LeaseDuration() / 3
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.ledger.Heartbeat(ctx, job.Id, c.workerID); err != nil {
				if errors.Is(err, storage.ErrLeaseLost) {
					logger.Warn("heartbeat found lease lost")
					return
				}
				logger.Error("heartbeat failed", "err", err)
			}
		}
	}
}

func (c *Coordinator) reclaimLoop(ctx context.Context) {
	ticker := time.NewTicker(c.reclaimInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := c.ledger.ReclaimExpired(ctx); err != nil {
				c.logger.Error("reclaim sweep failed", "err", err)
			}
		}
	}
}

func (c *Coordinator) sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

func defaultWorkerID() string {
	host, err := os.Hostname()
	if err != nil {
		host = "worker"
	}
	return fmt.Sprintf("%s-%s", host, uuid.NewString()[:8])
}
