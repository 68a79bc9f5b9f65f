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

import "fmt"

// ValidateDocument validates a Document according to domain rules.
//
// Validation rules:
//   - OwnerId, ContentFingerprint and RawLocation must not be empty
//   - ByteLength must not be negative
//
// NOT validated (populated by the pipeline):
//   - ParsedLocation (empty until the parse stage completes)
//   - Status (defaults to pending)
func ValidateDocument(doc *Document) error {
	if doc == nil {
		return fmt.Errorf("%w: document is nil", ErrInvalidDocument)
	}
	if doc.OwnerId == "" {
		return fmt.Errorf("%w: %w", ErrInvalidDocument, ErrEmptyOwnerId)
	}
	if doc.ContentFingerprint == "" {
		return fmt.Errorf("%w: %w", ErrInvalidDocument, ErrEmptyFingerprint)
	}
	if doc.RawLocation == "" {
		return fmt.Errorf("%w: %w", ErrInvalidDocument, ErrEmptyRawLocation)
	}
	if doc.ByteLength < 0 {
		return fmt.Errorf("%w: negative byte length %d", ErrInvalidDocument, doc.ByteLength)
	}
	return nil
}

// ValidateJob validates a Job according to domain rules.
func ValidateJob(job *Job) error {
	if job == nil {
		return fmt.Errorf("%w: job is nil", ErrInvalidJob)
	}
	if job.DocumentId == 0 {
		return fmt.Errorf("%w: document id is zero", ErrInvalidJob)
	}
	if err := ValidateStage(job.Stage); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidJob, err)
	}
	if err := ValidateState(job.State); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidJob, err)
	}
	if job.MaxRetries < 0 {
		return fmt.Errorf("%w: negative max retries %d", ErrInvalidJob, job.MaxRetries)
	}
	return nil
}

// ValidateChunk validates a Chunk according to domain rules.
//
// NOT validated (populated by the embed stage):
//   - Vector, EmbedModel, EmbedVersion
func ValidateChunk(chunk *Chunk) error {
	if chunk == nil {
		return fmt.Errorf("%w: chunk is nil", ErrInvalidChunk)
	}
	if chunk.DocumentId == 0 {
		return fmt.Errorf("%w: document id is zero", ErrInvalidChunk)
	}
	if chunk.Ordinal < 0 {
		return fmt.Errorf("%w: negative ordinal %d", ErrInvalidChunk, chunk.Ordinal)
	}
	if chunk.Text == "" {
		return fmt.Errorf("%w: %w", ErrInvalidChunk, ErrEmptyChunkText)
	}
	if chunk.ChunkerName == "" {
		return fmt.Errorf("%w: %w", ErrInvalidChunk, ErrEmptyChunkerName)
	}
	if chunk.ChunkerVersion == "" {
		return fmt.Errorf("%w: %w", ErrInvalidChunk, ErrEmptyChunkerVersion)
	}
	return nil
}

// ValidateStage validates that a Stage has a valid value.
func ValidateStage(stage Stage) error {
	switch stage {
	case StageParse, StageChunk, StageEmbed:
		return nil
	}
	return fmt.Errorf("%w: %d", ErrInvalidStage, stage)
}

// ValidateState validates that a State has a valid value.
func ValidateState(state State) error {
	switch state {
	case StateQueued, StateClaimed, StateRunning, StateDone, StateFailed, StateDeadletter:
		return nil
	}
	return fmt.Errorf("%w: %d", ErrInvalidState, state)
}

// CanTransition reports whether the job state machine permits moving from one
// state to another. The permitted transitions are:
//
//	queued  -> claimed            (worker claim)
//	claimed -> running            (processor started)
//	claimed -> queued             (lease expiry reclaim)
//	running -> done               (stage success)
//	running -> failed             (stage failure)
//	running -> queued             (lease expiry reclaim)
//	failed  -> queued             (retry budget remaining)
//	failed  -> deadletter         (retry budget exhausted or permanent error)
func CanTransition(from, to State) bool {
	switch from {
	case StateQueued:
		return to == StateClaimed
	case StateClaimed:
		return to == StateRunning || to == StateQueued
	case StateRunning:
		return to == StateDone || to == StateFailed || to == StateQueued
	case StateFailed:
		return to == StateQueued || to == StateDeadletter
	}
	return false
}

// CheckTransition returns ErrInvalidTransition if the move is not permitted.
func CheckTransition(from, to State) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}
