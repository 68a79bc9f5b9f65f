package sqlite

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/poiesic/docstream/core"
	"github.com/poiesic/docstream/storage"
)

// EventRepository implements storage.EventRepository over SQLite. Payloads
// are stored as JSON text.
type EventRepository struct {
	store *Store
}

var _ storage.EventRepository = (*EventRepository)(nil)

// Close releases resources. The shared store owns the connection.
func (r *EventRepository) Close() error {
	return nil
}

// Append records an event, assigning ID and timestamp if unset.
func (r *EventRepository) Append(ctx context.Context, event *core.Event) error {
	if event == nil {
		return core.ErrInvalidInput
	}
	if event.Id == uuid.Nil {
		event.Id = uuid.New()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	payload := ""
	if len(event.Payload) > 0 {
		data, err := json.Marshal(event.Payload)
		if err != nil {
			return err
		}
		payload = string(data)
	}

	jobID := ""
	if event.JobId != uuid.Nil {
		jobID = event.JobId.String()
	}

	_, err := r.store.db.ExecContext(ctx, `
		INSERT INTO events (id, job_id, document_id, timestamp, type, payload)
		VALUES (?, ?, ?, ?, ?, ?)`,
		event.Id.String(), jobID, int64(event.DocumentId),
		encodeTime(event.Timestamp), int(event.Type), payload)
	return err
}

// ListByDocument returns a document's events ordered by timestamp.
func (r *EventRepository) ListByDocument(ctx context.Context, docID core.ID) ([]*core.Event, error) {
	return r.list(ctx, `
		SELECT id, job_id, document_id, timestamp, type, payload FROM events
		WHERE document_id = ? ORDER BY timestamp, id`, int64(docID))
}

// ListByJob returns a job's events ordered by timestamp.
func (r *EventRepository) ListByJob(ctx context.Context, jobID uuid.UUID) ([]*core.Event, error) {
	return r.list(ctx, `
		SELECT id, job_id, document_id, timestamp, type, payload FROM events
		WHERE job_id = ? ORDER BY timestamp, id`, jobID.String())
}

func (r *EventRepository) list(ctx context.Context, query string, args ...any) ([]*core.Event, error) {
	rows, err := r.store.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []*core.Event
	for rows.Next() {
		var event core.Event
		var id, jobID, payload string
		var docID, ts int64
		var eventType int
		if err := rows.Scan(&id, &jobID, &docID, &ts, &eventType, &payload); err != nil {
			return nil, err
		}

		parsed, err := uuid.Parse(id)
		if err != nil {
			return nil, storage.ErrSerializationFailed
		}
		event.Id = parsed
		if jobID != "" {
			parsed, err := uuid.Parse(jobID)
			if err != nil {
				return nil, storage.ErrSerializationFailed
			}
			event.JobId = parsed
		}
		event.DocumentId = core.ID(docID)
		event.Timestamp = decodeTime(ts)
		event.Type = core.EventType(eventType)
		if payload != "" {
			if err := json.Unmarshal([]byte(payload), &event.Payload); err != nil {
				return nil, err
			}
		}
		results = append(results, &event)
	}
	return results, rows.Err()
}
