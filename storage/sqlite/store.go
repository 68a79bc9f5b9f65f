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

// Package sqlite provides a SQLite implementation of the storage
// repositories, for deployments that want the state in a single relational
// file rather than a BadgerDB directory.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/binary"
	"log/slog"
	"math"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/poiesic/docstream/storage"
)

// Store owns the database handle shared by the repositories.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens a SQLite database with WAL mode enabled and creates the schema
// if it doesn't exist. Pass ":memory:" for an in-memory database.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	// A single connection keeps in-memory databases coherent and sidesteps
	// SQLITE_BUSY under concurrent writers.
	db.SetMaxOpenConns(1)

	// Enable WAL mode for better concurrency
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, err
	}

	// Enable foreign keys
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, err
	}

	if err := initSchema(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{
		db:     db,
		logger: slog.Default().With("component", "sqlite-store"),
	}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Documents returns the document repository.
func (s *Store) Documents() storage.DocumentRepository {
	return &DocumentRepository{store: s}
}

// Jobs returns the job repository.
func (s *Store) Jobs() storage.JobRepository {
	return &JobRepository{store: s}
}

// Chunks returns the chunk repository.
func (s *Store) Chunks() storage.ChunkRepository {
	return &ChunkRepository{store: s}
}

// Events returns the event repository.
func (s *Store) Events() storage.EventRepository {
	return &EventRepository{store: s}
}

// initSchema creates tables if they don't exist
func initSchema(ctx context.Context, db *sql.DB) error {
	schema := `
CREATE TABLE IF NOT EXISTS documents (
	id INTEGER PRIMARY KEY,
	owner_id TEXT NOT NULL,
	filename TEXT NOT NULL,
	mime_type TEXT NOT NULL,
	byte_length INTEGER NOT NULL DEFAULT 0,
	content_fingerprint TEXT NOT NULL,
	raw_location TEXT NOT NULL,
	parsed_location TEXT NOT NULL DEFAULT '',
	status INTEGER NOT NULL,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	UNIQUE(owner_id, content_fingerprint)
);

CREATE TABLE IF NOT EXISTS jobs (
	id TEXT PRIMARY KEY,
	document_id INTEGER NOT NULL,
	owner_id TEXT NOT NULL,
	stage INTEGER NOT NULL,
	state INTEGER NOT NULL,
	seq INTEGER NOT NULL,
	retry_count INTEGER NOT NULL DEFAULT 0,
	max_retries INTEGER NOT NULL DEFAULT 0,
	idempotency_key TEXT NOT NULL DEFAULT '',
	claimed_by TEXT NOT NULL DEFAULT '',
	claimed_at INTEGER NOT NULL DEFAULT 0,
	lease_until INTEGER NOT NULL DEFAULT 0,
	not_before INTEGER NOT NULL DEFAULT 0,
	last_error TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	FOREIGN KEY(document_id) REFERENCES documents(id)
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_jobs_one_active
	ON jobs(document_id) WHERE state IN (1, 2, 3);

CREATE UNIQUE INDEX IF NOT EXISTS idx_jobs_idem_active
	ON jobs(idempotency_key) WHERE state IN (1, 2, 3) AND idempotency_key != '';

CREATE INDEX IF NOT EXISTS idx_jobs_queue
	ON jobs(seq) WHERE state = 1;

CREATE TABLE IF NOT EXISTS chunks (
	id INTEGER PRIMARY KEY,
	document_id INTEGER NOT NULL,
	ordinal INTEGER NOT NULL,
	text TEXT NOT NULL,
	content_hash TEXT NOT NULL,
	chunker_name TEXT NOT NULL,
	chunker_version TEXT NOT NULL,
	embed_model TEXT NOT NULL DEFAULT '',
	embed_version TEXT NOT NULL DEFAULT '',
	vector BLOB,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	FOREIGN KEY(document_id) REFERENCES documents(id)
);

CREATE INDEX IF NOT EXISTS idx_chunks_document
	ON chunks(document_id, ordinal);

CREATE TABLE IF NOT EXISTS events (
	id TEXT PRIMARY KEY,
	job_id TEXT NOT NULL DEFAULT '',
	document_id INTEGER NOT NULL,
	timestamp INTEGER NOT NULL,
	type INTEGER NOT NULL,
	payload TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_events_document
	ON events(document_id, timestamp);

CREATE INDEX IF NOT EXISTS idx_events_job
	ON events(job_id, timestamp);
`
	_, err := db.ExecContext(ctx, schema)
	return err
}

// isConstraintErr reports whether err is a SQLite uniqueness violation.
func isConstraintErr(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// encodeTime stores a time as microseconds since the epoch, with 0 meaning
// the zero time so lease fields round-trip IsZero.
func encodeTime(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMicro()
}

func decodeTime(v int64) time.Time {
	if v == 0 {
		return time.Time{}
	}
	return time.UnixMicro(v).UTC()
}

// encodeVector packs a float32 vector into little-endian bytes.
func encodeVector(vec []float32) []byte {
	if len(vec) == 0 {
		return nil
	}
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func decodeVector(buf []byte) []float32 {
	if len(buf) < 4 {
		return nil
	}
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return vec
}
