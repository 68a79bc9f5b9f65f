package core

import (
	"errors"
	"testing"
)

func TestValidateDocument(t *testing.T) {
	tests := []struct {
		name    string
		doc     *Document
		wantErr error
	}{
		{
			name: "valid document",
			doc: &Document{
				Id:                 1,
				OwnerId:            "tenant-a",
				Filename:           "report.pdf",
				ContentFingerprint: "deadbeef",
				RawLocation:        "file:///tmp/raw",
				ByteLength:         42,
			},
			wantErr: nil,
		},
		{
			name: "valid document without parsed location",
			doc: &Document{
				Id:                 1,
				OwnerId:            "tenant-a",
				ContentFingerprint: "deadbeef",
				RawLocation:        "file:///tmp/raw",
			},
			wantErr: nil,
		},
		{
			name:    "nil document",
			doc:     nil,
			wantErr: ErrInvalidDocument,
		},
		{
			name: "missing owner",
			doc: &Document{
				ContentFingerprint: "deadbeef",
				RawLocation:        "file:///tmp/raw",
			},
			wantErr: ErrEmptyOwnerId,
		},
		{
			name: "missing fingerprint",
			doc: &Document{
				OwnerId:     "tenant-a",
				RawLocation: "file:///tmp/raw",
			},
			wantErr: ErrEmptyFingerprint,
		},
		{
			name: "missing raw location",
			doc: &Document{
				OwnerId:            "tenant-a",
				ContentFingerprint: "deadbeef",
			},
			wantErr: ErrEmptyRawLocation,
		},
		{
			name: "negative byte length",
			doc: &Document{
				OwnerId:            "tenant-a",
				ContentFingerprint: "deadbeef",
				RawLocation:        "file:///tmp/raw",
				ByteLength:         -1,
			},
			wantErr: ErrInvalidDocument,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateDocument(tt.doc)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("ValidateDocument() error = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateDocument() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateJob(t *testing.T) {
	tests := []struct {
		name    string
		job     *Job
		wantErr error
	}{
		{
			name: "valid job",
			job: &Job{
				DocumentId: 1,
				Stage:      StageParse,
				State:      StateQueued,
				MaxRetries: 3,
			},
			wantErr: nil,
		},
		{
			name:    "nil job",
			job:     nil,
			wantErr: ErrInvalidJob,
		},
		{
			name: "zero document id",
			job: &Job{
				Stage: StageParse,
				State: StateQueued,
			},
			wantErr: ErrInvalidJob,
		},
		{
			name: "invalid stage",
			job: &Job{
				DocumentId: 1,
				Stage:      Stage(99),
				State:      StateQueued,
			},
			wantErr: ErrInvalidStage,
		},
		{
			name: "invalid state",
			job: &Job{
				DocumentId: 1,
				Stage:      StageParse,
				State:      State(99),
			},
			wantErr: ErrInvalidState,
		},
		{
			name: "negative max retries",
			job: &Job{
				DocumentId: 1,
				Stage:      StageParse,
				State:      StateQueued,
				MaxRetries: -1,
			},
			wantErr: ErrInvalidJob,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateJob(tt.job)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("ValidateJob() error = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateJob() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateChunk(t *testing.T) {
	tests := []struct {
		name    string
		chunk   *Chunk
		wantErr error
	}{
		{
			name: "valid chunk",
			chunk: &Chunk{
				Id:             1,
				DocumentId:     2,
				Ordinal:        0,
				Text:           "some text",
				ChunkerName:    "recursive",
				ChunkerVersion: "v1",
			},
			wantErr: nil,
		},
		{
			name: "valid chunk without embedding",
			chunk: &Chunk{
				Id:             1,
				DocumentId:     2,
				Text:           "some text",
				ChunkerName:    "recursive",
				ChunkerVersion: "v1",
				Vector:         nil,
			},
			wantErr: nil,
		},
		{
			name:    "nil chunk",
			chunk:   nil,
			wantErr: ErrInvalidChunk,
		},
		{
			name: "zero document id",
			chunk: &Chunk{
				Text:           "some text",
				ChunkerName:    "recursive",
				ChunkerVersion: "v1",
			},
			wantErr: ErrInvalidChunk,
		},
		{
			name: "negative ordinal",
			chunk: &Chunk{
				DocumentId:     2,
				Ordinal:        -1,
				Text:           "some text",
				ChunkerName:    "recursive",
				ChunkerVersion: "v1",
			},
			wantErr: ErrInvalidChunk,
		},
		{
			name: "empty text",
			chunk: &Chunk{
				DocumentId:     2,
				ChunkerName:    "recursive",
				ChunkerVersion: "v1",
			},
			wantErr: ErrEmptyChunkText,
		},
		{
			name: "empty chunker name",
			chunk: &Chunk{
				DocumentId:     2,
				Text:           "some text",
				ChunkerVersion: "v1",
			},
			wantErr: ErrEmptyChunkerName,
		},
		{
			name: "empty chunker version",
			chunk: &Chunk{
				DocumentId:  2,
				Text:        "some text",
				ChunkerName: "recursive",
			},
			wantErr: ErrEmptyChunkerVersion,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateChunk(tt.chunk)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("ValidateChunk() error = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateChunk() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestCanTransition(t *testing.T) {
	allowed := map[[2]State]bool{
		{StateQueued, StateClaimed}:    true,
		{StateClaimed, StateRunning}:   true,
		{StateClaimed, StateQueued}:    true,
		{StateRunning, StateDone}:      true,
		{StateRunning, StateFailed}:    true,
		{StateRunning, StateQueued}:    true,
		{StateFailed, StateQueued}:     true,
		{StateFailed, StateDeadletter}: true,
	}

	states := []State{StateQueued, StateClaimed, StateRunning, StateDone, StateFailed, StateDeadletter}

	for _, from := range states {
		for _, to := range states {
			want := allowed[[2]State{from, to}]
			if got := CanTransition(from, to); got != want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", from, to, got, want)
			}
		}
	}
}

func TestCheckTransition(t *testing.T) {
	if err := CheckTransition(StateQueued, StateClaimed); err != nil {
		t.Errorf("CheckTransition(queued, claimed) error = %v, want nil", err)
	}

	err := CheckTransition(StateDone, StateQueued)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("CheckTransition(done, queued) error = %v, want ErrInvalidTransition", err)
	}
}
