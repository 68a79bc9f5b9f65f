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

// Package storage provides the storage abstraction layer for docstream.
//
// This package defines repository interfaces that decouple storage
// implementation from the pipeline logic. Two backends ship with the module:
// BadgerDB (storage/badger, the default embedded store) and SQLite
// (storage/sqlite, a relational store with schema-level constraints).
//
// # Constructor Return Type Pattern
//
// Public backend constructors return the storage interfaces, not concrete
// types, to enforce abstraction and keep backends swappable:
//
//	repos, err := badger.NewRepositories(path, false)
//	repos, err := sqlite.Open(ctx, path)
//
// Internal constructors may return concrete types since they're only used
// within the implementation package.
//
// # Architecture
//
// The storage layer follows the Repository pattern:
//
//   - DocumentRepository: idempotent upsert registry of documents
//   - JobRepository: the durable job ledger and its atomic state transitions
//   - ChunkRepository: content-addressed chunk storage and vector search
//   - EventRepository: append-only audit trail
//
// The JobRepository is the correctness-critical piece: Claim, Heartbeat,
// Complete, Fail and ReclaimExpired must be atomic with respect to concurrent
// workers. The badger backend gets this from BadgerDB's serializable
// transactions (commit conflicts are retried); the sqlite backend from
// single-statement updates.
//
// # Thread Safety
//
// All repository implementations must be thread-safe and support concurrent
// access from multiple goroutines.
//
// # Context Support
//
// All repository methods accept context.Context for cancellation and timeout
// support.
package storage
