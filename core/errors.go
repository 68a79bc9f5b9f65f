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


package core

import "errors"

// Domain validation errors
var (
	// ErrInvalidInput indicates a malformed request. It is never retryable
	// and is surfaced to the caller immediately.
	ErrInvalidInput = errors.New("invalid input")

	// ErrInvalidDocument indicates a Document failed validation.
	ErrInvalidDocument = errors.New("invalid document")

	// ErrInvalidJob indicates a Job failed validation.
	ErrInvalidJob = errors.New("invalid job")

	// ErrInvalidChunk indicates a Chunk failed validation.
	ErrInvalidChunk = errors.New("invalid chunk")

	// ErrEmptyOwnerId indicates the OwnerId field is empty.
	ErrEmptyOwnerId = errors.New("owner id cannot be empty")

	// ErrEmptyFingerprint indicates the ContentFingerprint field is empty.
	ErrEmptyFingerprint = errors.New("content fingerprint cannot be empty")

	// ErrEmptyRawLocation indicates the RawLocation field is empty.
	ErrEmptyRawLocation = errors.New("raw location cannot be empty")

	// ErrEmptyChunkerName indicates the chunker name is empty.
	ErrEmptyChunkerName = errors.New("chunker name cannot be empty")

	// ErrEmptyChunkerVersion indicates the chunker version is empty.
	ErrEmptyChunkerVersion = errors.New("chunker version cannot be empty")

	// ErrEmptyChunkText indicates the chunk Text field is empty.
	ErrEmptyChunkText = errors.New("chunk text cannot be empty")

	// ErrInvalidStage indicates an invalid Stage value.
	ErrInvalidStage = errors.New("invalid stage")

	// ErrInvalidState indicates an invalid State value.
	ErrInvalidState = errors.New("invalid state")

	// ErrInvalidTransition indicates a state transition the job state machine
	// does not permit.
	ErrInvalidTransition = errors.New("invalid state transition")
)
