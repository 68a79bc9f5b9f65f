package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/poiesic/docstream/core"
	"github.com/poiesic/docstream/storage"
)

// DocumentRepository implements storage.DocumentRepository over SQLite.
type DocumentRepository struct {
	store *Store
}

var _ storage.DocumentRepository = (*DocumentRepository)(nil)

// Close releases resources. The shared store owns the connection.
func (r *DocumentRepository) Close() error {
	return nil
}

const documentColumns = `id, owner_id, filename, mime_type, byte_length,
	content_fingerprint, raw_location, parsed_location, status, created_at, updated_at`

// Upsert inserts the document if absent, or returns the existing row unchanged.
func (r *DocumentRepository) Upsert(ctx context.Context, doc *core.Document) (*core.Document, bool, error) {
	if err := core.ValidateDocument(doc); err != nil {
		return nil, false, err
	}

	stored := *doc
	if stored.Status == 0 {
		stored.Status = core.StatusPending
	}
	now := time.Now().UTC()
	stored.CreatedAt = now
	stored.UpdatedAt = now

	res, err := r.store.db.ExecContext(ctx, `
		INSERT INTO documents (`+documentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		int64(stored.Id), stored.OwnerId, stored.Filename, stored.MimeType,
		stored.ByteLength, stored.ContentFingerprint, stored.RawLocation,
		stored.ParsedLocation, int(stored.Status),
		encodeTime(stored.CreatedAt), encodeTime(stored.UpdatedAt))
	if err != nil {
		return nil, false, err
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return nil, false, err
	}

	// Read back whichever row won; a pre-existing row keeps its fields.
	existing, err := r.Get(ctx, stored.Id)
	if err != nil {
		return nil, false, err
	}
	return existing, inserted > 0, nil
}

// Get retrieves a document by ID.
func (r *DocumentRepository) Get(ctx context.Context, id core.ID) (*core.Document, error) {
	row := r.store.db.QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE id = ?`, int64(id))
	return scanDocument(row)
}

// UpdateStatus sets the denormalized processing status.
func (r *DocumentRepository) UpdateStatus(ctx context.Context, id core.ID, status core.ProcessingStatus) error {
	return r.update(ctx,
		`UPDATE documents SET status = ?, updated_at = ? WHERE id = ?`,
		int(status), encodeTime(time.Now().UTC()), int64(id))
}

// SetParsedLocation records where the parsed representation was stored.
func (r *DocumentRepository) SetParsedLocation(ctx context.Context, id core.ID, location string) error {
	return r.update(ctx,
		`UPDATE documents SET parsed_location = ?, updated_at = ? WHERE id = ?`,
		location, encodeTime(time.Now().UTC()), int64(id))
}

// List returns up to limit documents with ID greater than after, by ID.
func (r *DocumentRepository) List(ctx context.Context, after core.ID, limit int) ([]*core.Document, error) {
	rows, err := r.store.db.QueryContext(ctx, `
		SELECT `+documentColumns+` FROM documents
		WHERE id > ? ORDER BY id LIMIT ?`, int64(after), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []*core.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, doc)
	}
	return results, rows.Err()
}

func (r *DocumentRepository) update(ctx context.Context, query string, args ...any) error {
	res, err := r.store.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*core.Document, error) {
	var doc core.Document
	var id, createdAt, updatedAt int64
	var status int
	err := row.Scan(&id, &doc.OwnerId, &doc.Filename, &doc.MimeType,
		&doc.ByteLength, &doc.ContentFingerprint, &doc.RawLocation,
		&doc.ParsedLocation, &status, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	doc.Id = core.ID(id)
	doc.Status = core.ProcessingStatus(status)
	doc.CreatedAt = decodeTime(createdAt)
	doc.UpdatedAt = decodeTime(updatedAt)
	return &doc, nil
}
