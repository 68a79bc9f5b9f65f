package badger

import (
	"context"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/poiesic/docstream/core"
	"github.com/poiesic/docstream/storage"
)

// EventRepository implements storage.EventRepository for BadgerDB. Events are
// append-only; nothing here mutates or deletes.
type EventRepository struct {
	backend *Backend
}

var _ storage.EventRepository = (*EventRepository)(nil)

// NewEventRepository creates a new EventRepository.
func NewEventRepository(backend *Backend) *EventRepository {
	return &EventRepository{backend: backend}
}

// Close releases resources. EventRepository has no resources to release.
func (r *EventRepository) Close() error {
	return nil
}

// Append records an event, assigning ID and timestamp if unset.
func (r *EventRepository) Append(ctx context.Context, event *core.Event) error {
	if event == nil {
		return core.ErrInvalidInput
	}
	stored := *event
	if stored.Id == uuid.Nil {
		stored.Id = uuid.New()
	}
	if stored.Timestamp.IsZero() {
		stored.Timestamp = time.Now().UTC()
	}

	err := r.backend.WithWriteRetry(func(tx *badger.Txn) error {
		data := storage.MarshalEvent(&stored)
		if err := tx.Set(makeEventKey(stored.Id), data); err != nil {
			return err
		}
		if err := tx.Set(makeEventDocKey(stored.DocumentId, stored.Timestamp, stored.Id), stored.Id[:]); err != nil {
			return err
		}
		if stored.JobId != uuid.Nil {
			if err := tx.Set(makeEventJobKey(stored.JobId, stored.Timestamp, stored.Id), stored.Id[:]); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
	if err != nil {
		return err
	}
	*event = stored
	return nil
}

// ListByDocument returns a document's events ordered by timestamp.
func (r *EventRepository) ListByDocument(ctx context.Context, docID core.ID) ([]*core.Event, error) {
	return r.listByIndex(makePartialEventDocKey(docID))
}

// ListByJob returns a job's events ordered by timestamp.
func (r *EventRepository) ListByJob(ctx context.Context, jobID uuid.UUID) ([]*core.Event, error) {
	return r.listByIndex(makePartialEventJobKey(jobID))
}

// listByIndex walks a timestamp-ordered event index.
func (r *EventRepository) listByIndex(prefix []byte) ([]*core.Event, error) {
	var results []*core.Event
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			var eventID uuid.UUID
			err := iter.Item().Value(func(val []byte) error {
				if len(val) != 16 {
					return storage.ErrSerializationFailed
				}
				copy(eventID[:], val)
				return nil
			})
			if err != nil {
				return err
			}

			item, err := tx.Get(makeEventKey(eventID))
			if err != nil {
				if err == badger.ErrKeyNotFound {
					continue
				}
				return err
			}
			err = item.Value(func(val []byte) error {
				event, err := storage.UnmarshalEvent(val)
				if err != nil {
					return err
				}
				results = append(results, event)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	}, false)
	return results, err
}
