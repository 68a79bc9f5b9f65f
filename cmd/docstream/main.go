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

package main

import (
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/poiesic/docstream"
	"github.com/poiesic/docstream/core"
	"github.com/poiesic/docstream/pipeline"
	"github.com/poiesic/docstream/reprocess"
	"github.com/poiesic/docstream/services"
	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:  "docstream",
		Usage: "Durable document ingestion pipeline",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				Value:   "info",
			},
		},
		Before: setupLogger,
		Commands: []*cli.Command{
			{
				Name:      "register",
				Usage:     "Register a document and enqueue it for processing",
				ArgsUsage: "FILE",
				Action:    registerCommand,
				Flags: append(databaseFlags(),
					&cli.StringFlag{
						Name:     "owner",
						Aliases:  []string{"o"},
						Usage:    "Owner (tenant) identifier",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "mime-type",
						Usage: "MIME type of the document",
						Value: "text/plain",
					},
					&cli.StringFlag{
						Name:  "idempotency-key",
						Usage: "Client idempotency key for the enqueue",
					},
				),
			},
			{
				Name:      "status",
				Usage:     "Show a document's processing status",
				ArgsUsage: "DOCUMENT_ID",
				Action:    statusCommand,
				Flags:     databaseFlags(),
			},
			{
				Name:   "worker",
				Usage:  "Run a worker processing queued jobs until interrupted",
				Action: workerCommand,
				Flags: append(databaseFlags(),
					&cli.IntFlag{
						Name:  "concurrency",
						Usage: "Number of jobs to run at once",
						Value: 0,
					},
					&cli.StringFlag{
						Name:  "worker-id",
						Usage: "Worker identity recorded on claims",
					},
					&cli.DurationFlag{
						Name:  "lease",
						Usage: "Claim lease duration",
						Value: 2 * time.Minute,
					},
					&cli.IntFlag{
						Name:  "max-retries",
						Usage: "Retry budget for new jobs",
						Value: 3,
					},
					&cli.DurationFlag{
						Name:  "backoff-base",
						Usage: "Base delay for retry backoff",
						Value: 30 * time.Second,
					},
				),
			},
			{
				Name:   "reprocess",
				Usage:  "Re-chunk and re-embed all parsed documents",
				Action: reprocessCommand,
				Flags: append(databaseFlags(),
					&cli.StringFlag{
						Name:  "chunker-version",
						Usage: "Chunker generation tag for the new chunks",
						Value: "v1",
					},
					&cli.IntFlag{
						Name:  "chunk-size",
						Usage: "Target chunk size in characters",
						Value: 1000,
					},
					&cli.IntFlag{
						Name:  "chunk-overlap",
						Usage: "Overlap between adjacent chunks",
						Value: 200,
					},
					&cli.IntFlag{
						Name:  "batch-size",
						Usage: "Number of documents to process in each batch",
						Value: 100,
					},
					&cli.IntFlag{
						Name:  "report-interval",
						Usage: "Report progress every N documents",
						Value: 100,
					},
					&cli.IntFlag{
						Name:  "max-retries",
						Usage: "Maximum retry attempts for failed operations",
						Value: 3,
					},
					&cli.DurationFlag{
						Name:  "retry-delay",
						Usage: "Base delay for exponential backoff",
						Value: 1 * time.Second,
					},
				),
			},
			{
				Name:      "requeue",
				Usage:     "Requeue a dead-lettered job with a fresh retry budget",
				ArgsUsage: "JOB_ID",
				Action:    requeueCommand,
				Flags:     databaseFlags(),
			},
			{
				Name:      "events",
				Usage:     "List the event log for a document",
				ArgsUsage: "DOCUMENT_ID",
				Action:    eventsCommand,
				Flags:     databaseFlags(),
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func databaseFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:     "db",
			Aliases:  []string{"d"},
			Usage:    "Path to the database (BadgerDB directory or SQLite file)",
			Required: true,
		},
		&cli.BoolFlag{
			Name:  "sqlite",
			Usage: "Use the SQLite backend instead of BadgerDB",
		},
		&cli.StringFlag{
			Name:  "object-dir",
			Usage: "Directory for raw and parsed document bytes (default: <db>-objects)",
		},
		&cli.StringFlag{
			Name:  "embedding-host",
			Usage: "Embedding service host URL",
			Value: "http://localhost:11434/v1",
		},
		&cli.StringFlag{
			Name:  "embedding-model",
			Usage: "Embedding model name",
			Value: "embeddinggemma",
		},
		&cli.StringFlag{
			Name:  "embedding-version",
			Usage: "Embedding version tag recorded on chunks",
			Value: "v1",
		},
		&cli.StringFlag{
			Name:  "parser-host",
			Usage: "Parse service host URL",
			Value: "http://localhost:9200",
		},
		&cli.BoolFlag{
			Name:  "mock-services",
			Usage: "Use in-process mock services (no parse or embedding service needed)",
		},
	}
}

func openDatabase(c *cli.Context, extra ...docstream.DatabaseOption) (*docstream.Database, error) {
	cfg := services.NewConfig(
		services.WithEmbeddingHost(c.String("embedding-host")),
		services.WithEmbeddingModel(c.String("embedding-model")),
		services.WithEmbeddingVersion(c.String("embedding-version")),
		services.WithParserHost(c.String("parser-host")),
	)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid service configuration: %w", err)
	}

	opts := []docstream.DatabaseOption{docstream.WithServiceConfig(cfg)}
	if c.Bool("sqlite") {
		opts = append(opts, docstream.WithSQLite())
	}
	if dir := c.String("object-dir"); dir != "" {
		opts = append(opts, docstream.WithObjectDir(dir))
	}
	if c.Bool("mock-services") {
		opts = append(opts, docstream.WithMockServices())
	}
	opts = append(opts, extra...)

	db, err := docstream.NewDatabase(c.String("db"), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return db, nil
}

func registerCommand(c *cli.Context) error {
	if c.NArg() != 1 {
		return fmt.Errorf("expected exactly one FILE argument")
	}
	path := c.Args().First()

	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}

	db, err := openDatabase(c)
	if err != nil {
		return err
	}
	defer db.Close()

	registry, err := db.NewRegistry()
	if err != nil {
		return err
	}

	doc, job, created, err := registry.RegisterAndEnqueue(c.Context, pipeline.RegisterRequest{
		OwnerId:  c.String("owner"),
		Filename: path,
		MimeType: c.String("mime-type"),
		Content:  content,
	}, c.String("idempotency-key"))
	if err != nil {
		return err
	}

	fmt.Printf("document: %d\n", doc.Id)
	fmt.Printf("job:      %s (stage=%s state=%s)\n", job.Id, job.Stage, job.State)
	if !created {
		fmt.Println("already registered; processing in progress or complete")
	}
	return nil
}

func statusCommand(c *cli.Context) error {
	docID, err := parseDocumentID(c)
	if err != nil {
		return err
	}

	db, err := openDatabase(c)
	if err != nil {
		return err
	}
	defer db.Close()

	status, err := db.Ledger().Status(c.Context, docID)
	if err != nil {
		return err
	}

	doc := status.Document
	fmt.Printf("document: %d\n", doc.Id)
	fmt.Printf("owner:    %s\n", doc.OwnerId)
	fmt.Printf("filename: %s\n", doc.Filename)
	fmt.Printf("status:   %s\n", doc.Status)
	fmt.Printf("progress: %d%%\n", status.ProgressPct)
	if status.ActiveJob != nil {
		job := status.ActiveJob
		fmt.Printf("active job: %s (stage=%s state=%s retries=%d/%d)\n",
			job.Id, job.Stage, job.State, job.RetryCount, job.MaxRetries)
	}
	return nil
}

func workerCommand(c *cli.Context) error {
	db, err := openDatabase(c, docstream.WithLedgerOptions(
		pipeline.WithLeaseDuration(c.Duration("lease")),
		pipeline.WithMaxRetries(c.Int("max-retries")),
		pipeline.WithBackoffBase(c.Duration("backoff-base")),
	))
	if err != nil {
		return err
	}
	defer db.Close()

	var coordOpts []pipeline.CoordinatorOption
	if n := c.Int("concurrency"); n > 0 {
		coordOpts = append(coordOpts, pipeline.WithConcurrency(n))
	}
	if id := c.String("worker-id"); id != "" {
		coordOpts = append(coordOpts, pipeline.WithWorkerID(id))
	}

	coordinator, err := db.NewCoordinator(coordOpts...)
	if err != nil {
		return err
	}
	defer coordinator.Release()

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := coordinator.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

func reprocessCommand(c *cli.Context) error {
	chunker, err := pipeline.NewRecursiveChunker(
		c.Int("chunk-size"), c.Int("chunk-overlap"), c.String("chunker-version"))
	if err != nil {
		return err
	}

	db, err := openDatabase(c, docstream.WithChunker(chunker))
	if err != nil {
		return err
	}
	defer db.Close()

	config := &reprocess.Config{
		BatchSize:      c.Int("batch-size"),
		ReportInterval: c.Int("report-interval"),
		MaxRetries:     c.Int("max-retries"),
		RetryDelay:     c.Duration("retry-delay"),
	}
	if config.BatchSize <= 0 {
		return fmt.Errorf("batch-size must be greater than 0")
	}
	if config.ReportInterval <= 0 {
		return fmt.Errorf("report-interval must be greater than 0")
	}
	if config.MaxRetries <= 0 {
		return fmt.Errorf("max-retries must be greater than 0")
	}

	reprocessor := db.NewReprocessor(config, os.Stderr)
	if err := reprocessor.Run(c.Context); err != nil {
		return fmt.Errorf("reprocessing failed: %w", err)
	}
	return nil
}

func requeueCommand(c *cli.Context) error {
	if c.NArg() != 1 {
		return fmt.Errorf("expected exactly one JOB_ID argument")
	}
	jobID, err := uuid.Parse(c.Args().First())
	if err != nil {
		return fmt.Errorf("invalid job id: %w", err)
	}

	db, err := openDatabase(c)
	if err != nil {
		return err
	}
	defer db.Close()

	fresh, err := db.Ledger().RequeueDeadletter(c.Context, jobID)
	if err != nil {
		return err
	}
	fmt.Printf("requeued as job %s (stage=%s)\n", fresh.Id, fresh.Stage)
	return nil
}

func eventsCommand(c *cli.Context) error {
	docID, err := parseDocumentID(c)
	if err != nil {
		return err
	}

	db, err := openDatabase(c)
	if err != nil {
		return err
	}
	defer db.Close()

	events, err := db.Ledger().Events(c.Context, docID)
	if err != nil {
		return err
	}
	for _, event := range events {
		line := fmt.Sprintf("%s  %-16s job=%s",
			event.Timestamp.Format(time.RFC3339), event.Type, event.JobId)
		for key, value := range event.Payload {
			line += fmt.Sprintf(" %s=%s", key, value)
		}
		fmt.Println(line)
	}
	return nil
}

func parseDocumentID(c *cli.Context) (core.ID, error) {
	if c.NArg() != 1 {
		return 0, fmt.Errorf("expected exactly one DOCUMENT_ID argument")
	}
	raw, err := strconv.ParseUint(c.Args().First(), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid document id: %w", err)
	}
	return core.ID(raw), nil
}

func setupLogger(c *cli.Context) error {
	// Get log level from flag and normalize to lowercase
	levelStr := strings.ToLower(c.String("log-level"))

	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", levelStr)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	return nil
}
