package badger

import (
	"context"
	"slices"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/docstream/core"
	"github.com/poiesic/docstream/storage"
)

// ChunkRepository implements storage.ChunkRepository for BadgerDB.
type ChunkRepository struct {
	backend *Backend
}

var _ storage.ChunkRepository = (*ChunkRepository)(nil)

// NewChunkRepository creates a new ChunkRepository.
func NewChunkRepository(backend *Backend) *ChunkRepository {
	return &ChunkRepository{backend: backend}
}

// Close releases resources. ChunkRepository has no resources to release.
func (r *ChunkRepository) Close() error {
	return nil
}

// UpsertChunks writes chunks by ID, leaving same-hash rows untouched so an
// existing embedding survives a re-run of the chunk stage.
func (r *ChunkRepository) UpsertChunks(ctx context.Context, chunks ...*core.Chunk) ([]*core.Chunk, error) {
	results := make([]*core.Chunk, 0, len(chunks))
	err := r.backend.WithWriteRetry(func(tx *badger.Txn) error {
		results = results[:0]
		now := time.Now().UTC()

		for _, chunk := range chunks {
			if err := core.ValidateChunk(chunk); err != nil {
				return err
			}
			existing, err := readChunk(tx, makeChunkKey(chunk.Id))
			if err != nil {
				return err
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
			if err := r.writeChunk(tx, &stored); err != nil {
				return err
			}
			if err := tx.Set(makeChunkDocKey(stored.DocumentId, stored.Ordinal), storage.MarshalID(stored.Id)); err != nil {
				return err
			}
			results = append(results, &stored)
		}
		return tx.Commit()
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// Get retrieves a chunk by ID.
func (r *ChunkRepository) Get(ctx context.Context, id core.ID) (*core.Chunk, error) {
	var result *core.Chunk
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		var err error
		result, err = readChunk(tx, makeChunkKey(id))
		if err != nil {
			return err
		}
		if result == nil {
			return storage.ErrNotFound
		}
		return nil
	}, false)
	return result, err
}

// ListByDocument returns all chunks of a document ordered by ordinal.
func (r *ChunkRepository) ListByDocument(ctx context.Context, docID core.ID) ([]*core.Chunk, error) {
	var results []*core.Chunk
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		return r.forEachDocChunk(tx, docID, func(chunk *core.Chunk) error {
			results = append(results, chunk)
			return nil
		})
	}, false)
	return results, err
}

// UpdateVectors persists embedding results for existing chunks.
func (r *ChunkRepository) UpdateVectors(ctx context.Context, chunks ...*core.Chunk) error {
	return r.backend.WithWriteRetry(func(tx *badger.Txn) error {
		now := time.Now().UTC()
		for _, chunk := range chunks {
			stored, err := readChunk(tx, makeChunkKey(chunk.Id))
			if err != nil {
				return err
			}
			if stored == nil {
				return storage.ErrNotFound
			}
			stored.Vector = chunk.Vector
			stored.EmbedModel = chunk.EmbedModel
			stored.EmbedVersion = chunk.EmbedVersion
			stored.UpdatedAt = now
			if err := r.writeChunk(tx, stored); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
}

// DeleteSuperseded removes the document's chunks whose generation tag differs
// from keep. Scans chunk records rather than the ordinal index: a new
// generation may have overwritten an old chunk's index entry, leaving the old
// record reachable only by its own key.
func (r *ChunkRepository) DeleteSuperseded(ctx context.Context, docID core.ID, keep string) (int, error) {
	var removed int
	err := r.backend.WithWriteRetry(func(tx *badger.Txn) error {
		removed = 0

		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(chunkRecordPrefix + ":")
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			var chunk *core.Chunk
			err := iter.Item().Value(func(val []byte) error {
				var err error
				chunk, err = storage.UnmarshalChunk(val)
				return err
			})
			if err != nil {
				return err
			}
			if chunk.DocumentId != docID || chunk.Generation() == keep {
				continue
			}

			if err := tx.Delete(makeChunkKey(chunk.Id)); err != nil {
				return err
			}
			// Drop the ordinal index entry only if it still points at this
			// chunk; the replacement generation may have reclaimed it.
			indexed, err := readChunkID(tx, makeChunkDocKey(chunk.DocumentId, chunk.Ordinal))
			if err != nil {
				return err
			}
			if indexed == chunk.Id {
				if err := tx.Delete(makeChunkDocKey(chunk.DocumentId, chunk.Ordinal)); err != nil {
					return err
				}
			}
			removed++
		}

		if removed == 0 {
			return nil
		}
		iter.Close()
		return tx.Commit()
	})
	return removed, err
}

// FindSimilar scans all embedded chunks and ranks them by cosine similarity
// (dot product, assuming normalized vectors).
func (r *ChunkRepository) FindSimilar(ctx context.Context, vector []float32, minSimilarity float32, limit int) ([]*core.ChunkMatch, error) {
	var results []*core.ChunkMatch

	err := r.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(chunkRecordPrefix + ":")
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			var chunk *core.Chunk
			err := iter.Item().Value(func(val []byte) error {
				var err error
				chunk, err = storage.UnmarshalChunk(val)
				return err
			})
			if err != nil {
				return err
			}
			if len(chunk.Vector) == 0 {
				continue
			}

			similarity := dotProduct(vector, chunk.Vector)
			if similarity >= minSimilarity {
				results = append(results, &core.ChunkMatch{
					Chunk: chunk,
					Score: similarity,
				})
			}
		}
		return nil
	}, false)
	if err != nil {
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

// forEachDocChunk walks a document's chunks in ordinal order.
func (r *ChunkRepository) forEachDocChunk(tx *badger.Txn, docID core.ID, fn func(*core.Chunk) error) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = makePartialChunkDocKey(docID)
	iter := tx.NewIterator(opts)
	defer iter.Close()

	for iter.Rewind(); iter.Valid(); iter.Next() {
		var chunkID core.ID
		err := iter.Item().Value(func(val []byte) error {
			var err error
			chunkID, err = storage.UnmarshalID(val)
			return err
		})
		if err != nil {
			return err
		}
		chunk, err := readChunk(tx, makeChunkKey(chunkID))
		if err != nil {
			return err
		}
		if chunk == nil {
			continue
		}
		if err := fn(chunk); err != nil {
			return err
		}
	}
	return nil
}

// writeChunk persists a chunk record.
func (r *ChunkRepository) writeChunk(tx *badger.Txn, chunk *core.Chunk) error {
	return tx.Set(makeChunkKey(chunk.Id), storage.MarshalChunk(chunk))
}

// readChunkID reads a chunk ID index entry.
// Returns 0, nil if the key doesn't exist.
func readChunkID(tx *badger.Txn, key []byte) (core.ID, error) {
	item, err := tx.Get(key)
	if err != nil {
		if err == badger.ErrKeyNotFound {
			return 0, nil
		}
		return 0, err
	}
	var id core.ID
	err = item.Value(func(val []byte) error {
		var err error
		id, err = storage.UnmarshalID(val)
		return err
	})
	return id, err
}

// readChunk reads a chunk by key within a transaction.
// Returns nil, nil if the key doesn't exist.
func readChunk(tx *badger.Txn, key []byte) (*core.Chunk, error) {
	item, err := tx.Get(key)
	if err != nil {
		if err == badger.ErrKeyNotFound {
			return nil, nil
		}
		return nil, err
	}
	var chunk *core.Chunk
	err = item.Value(func(val []byte) error {
		var err error
		chunk, err = storage.UnmarshalChunk(val)
		return err
	})
	return chunk, err
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
