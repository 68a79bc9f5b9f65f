package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"slices"
	"time"

	"github.com/poiesic/docstream/core"
	"github.com/poiesic/docstream/storage"
)

// ChunkRepository implements storage.ChunkRepository over SQLite.
type ChunkRepository struct {
	store *Store
}

var _ storage.ChunkRepository = (*ChunkRepository)(nil)

// Close releases resources. The shared store owns the connection.
func (r *ChunkRepository) Close() error {
	return nil
}

const chunkColumns = `id, document_id, ordinal, text, content_hash,
	chunker_name, chunker_version, embed_model, embed_version, vector,
	created_at, updated_at`

// UpsertChunks writes chunks by ID, leaving same-hash rows untouched.
func (r *ChunkRepository) UpsertChunks(ctx context.Context, chunks ...*core.Chunk) ([]*core.Chunk, error) {
	results := make([]*core.Chunk, 0, len(chunks))
	now := time.Now().UTC()

	for _, chunk := range chunks {
		if err := core.ValidateChunk(chunk); err != nil {
			return nil, err
		}

		existing, err := r.get(ctx, chunk.Id)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return nil, err
		}
		if existing != nil && existing.ContentHash == chunk.ContentHash {
			results = append(results, existing)
			continue
		}

		stored := *chunk
		stored.CreatedAt = now
		stored.UpdatedAt = now
		if existing != nil {
			stored.CreatedAt = existing.CreatedAt
		}

		_, err = r.store.db.ExecContext(ctx, `
			INSERT INTO chunks (`+chunkColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				text = excluded.text,
				content_hash = excluded.content_hash,
				chunker_name = excluded.chunker_name,
				chunker_version = excluded.chunker_version,
				embed_model = excluded.embed_model,
				embed_version = excluded.embed_version,
				vector = excluded.vector,
				updated_at = excluded.updated_at`,
			int64(stored.Id), int64(stored.DocumentId), stored.Ordinal,
			stored.Text, stored.ContentHash, stored.ChunkerName,
			stored.ChunkerVersion, stored.EmbedModel, stored.EmbedVersion,
			encodeVector(stored.Vector),
			encodeTime(stored.CreatedAt), encodeTime(stored.UpdatedAt))
		if err != nil {
			return nil, err
		}
		results = append(results, &stored)
	}
	return results, nil
}

// Get retrieves a chunk by ID.
func (r *ChunkRepository) Get(ctx context.Context, id core.ID) (*core.Chunk, error) {
	return r.get(ctx, id)
}

// ListByDocument returns all chunks of a document ordered by ordinal.
func (r *ChunkRepository) ListByDocument(ctx context.Context, docID core.ID) ([]*core.Chunk, error) {
	rows, err := r.store.db.QueryContext(ctx, `
		SELECT `+chunkColumns+` FROM chunks
		WHERE document_id = ? ORDER BY ordinal`, int64(docID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []*core.Chunk
	for rows.Next() {
		chunk, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, chunk)
	}
	return results, rows.Err()
}

// UpdateVectors persists embedding results for existing chunks.
func (r *ChunkRepository) UpdateVectors(ctx context.Context, chunks ...*core.Chunk) error {
	now := encodeTime(time.Now().UTC())
	for _, chunk := range chunks {
		res, err := r.store.db.ExecContext(ctx, `
			UPDATE chunks SET
				vector = ?, embed_model = ?, embed_version = ?, updated_at = ?
			WHERE id = ?`,
			encodeVector(chunk.Vector), chunk.EmbedModel, chunk.EmbedVersion,
			now, int64(chunk.Id))
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
	}
	return nil
}

// DeleteSuperseded removes the document's chunks whose generation tag differs
// from keep.
func (r *ChunkRepository) DeleteSuperseded(ctx context.Context, docID core.ID, keep string) (int, error) {
	res, err := r.store.db.ExecContext(ctx, `
		DELETE FROM chunks
		WHERE document_id = ? AND chunker_name || '@' || chunker_version != ?`,
		int64(docID), keep)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// FindSimilar scans all embedded chunks and ranks them by cosine similarity.
func (r *ChunkRepository) FindSimilar(ctx context.Context, vector []float32, minSimilarity float32, limit int) ([]*core.ChunkMatch, error) {
	rows, err := r.store.db.QueryContext(ctx, `
		SELECT `+chunkColumns+` FROM chunks WHERE vector IS NOT NULL`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []*core.ChunkMatch
	for rows.Next() {
		chunk, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		if len(chunk.Vector) == 0 {
			continue
		}
		similarity := dotProduct(vector, chunk.Vector)
		if similarity >= minSimilarity {
			results = append(results, &core.ChunkMatch{Chunk: chunk, Score: similarity})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	slices.SortFunc(results, func(a, b *core.ChunkMatch) int {
		if a.Score > b.Score {
			return -1
		}
		if a.Score < b.Score {
			return 1
		}
		return 0
	})
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func (r *ChunkRepository) get(ctx context.Context, id core.ID) (*core.Chunk, error) {
	row := r.store.db.QueryRowContext(ctx,
		`SELECT `+chunkColumns+` FROM chunks WHERE id = ?`, int64(id))
	return scanChunk(row)
}

func scanChunk(row rowScanner) (*core.Chunk, error) {
	var chunk core.Chunk
	var id, docID, createdAt, updatedAt int64
	var vector []byte
	err := row.Scan(&id, &docID, &chunk.Ordinal, &chunk.Text,
		&chunk.ContentHash, &chunk.ChunkerName, &chunk.ChunkerVersion,
		&chunk.EmbedModel, &chunk.EmbedVersion, &vector,
		&createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	chunk.Id = core.ID(id)
	chunk.DocumentId = core.ID(docID)
	chunk.Vector = decodeVector(vector)
	chunk.CreatedAt = decodeTime(createdAt)
	chunk.UpdatedAt = decodeTime(updatedAt)
	return &chunk, nil
}

// dotProduct calculates the dot product of two vectors.
func dotProduct(a, b []float32) float32 {
	var sum float32
	minLen := len(a)
	if len(b) < minLen {
		minLen = len(b)
	}
	for i := 0; i < minLen; i++ {
		sum += a[i] * b[i]
	}
	return sum
}
