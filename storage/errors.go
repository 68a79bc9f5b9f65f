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


package storage

import "errors"

var (
	// ErrNotFound indicates that the requested record was not found.
	ErrNotFound = errors.New("record not found")

	// ErrDuplicateKey indicates a duplicate key violation.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrTransactionFailed indicates that a transaction failed.
	ErrTransactionFailed = errors.New("transaction failed")

	// ErrStorageClosed indicates that the storage backend is closed.
	ErrStorageClosed = errors.New("storage is closed")

	// ErrSerializationFailed indicates a serialization/deserialization failure.
	ErrSerializationFailed = errors.New("serialization failed")

	// ErrTruncatedData indicates that data was truncated during reading.
	ErrTruncatedData = errors.New("truncated data")

	// ErrActiveJobExists indicates an enqueue would violate the
	// one-active-job-per-document invariant. Callers of the registration API
	// treat this as "already in progress", not as a failure.
	ErrActiveJobExists = errors.New("active job already exists for document")

	// ErrNoJob indicates no eligible queued job was available to claim.
	ErrNoJob = errors.New("no claimable job")

	// ErrLeaseLost indicates another worker reclaimed the job after this
	// worker's lease expired. The current worker must abandon its in-flight
	// work without writing results.
	ErrLeaseLost = errors.New("job lease lost")

	// ErrJobNotActive indicates an operation that requires an active job was
	// attempted against a terminal one.
	ErrJobNotActive = errors.New("job is not active")

	// ErrNotDeadletter indicates a deadletter-only operation was attempted
	// against a job in another state.
	ErrNotDeadletter = errors.New("job is not deadlettered")
)
