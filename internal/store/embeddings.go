package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/memvault/memvault/internal/model"
)

// PutEmbeddingParams stores or replaces the vector for an entry.
type PutEmbeddingParams struct {
	EntryID   int64
	Vector    []float32
	ModelName string
}

func (s *Store) PutEmbedding(ctx context.Context, p PutEmbeddingParams) (*model.Embedding, error) {
	if len(p.Vector) == 0 {
		return nil, model.Invalidf("vector must not be empty")
	}

	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO embeddings (entry_id, vector, dimension, model_name, created_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(entry_id) DO UPDATE SET
		   vector = excluded.vector,
		   dimension = excluded.dimension,
		   model_name = excluded.model_name,
		   created_at = excluded.created_at`,
		p.EntryID, encodeVector(p.Vector), len(p.Vector), p.ModelName, formatTime(now))
	if err != nil {
		return nil, fmt.Errorf("put embedding: %w", err)
	}

	return &model.Embedding{
		EntryID:   p.EntryID,
		Vector:    p.Vector,
		Dimension: len(p.Vector),
		ModelName: p.ModelName,
		CreatedAt: now,
	}, nil
}

func (s *Store) EmbeddingForEntry(ctx context.Context, entryID int64) (*model.Embedding, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT entry_id, vector, dimension, model_name, created_at FROM embeddings WHERE entry_id = ?`,
		entryID)
	emb, err := scanEmbedding(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("embedding for entry %d: %w", entryID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &emb, nil
}

// AllEmbeddings returns every stored vector, ordered by entry id.
func (s *Store) AllEmbeddings(ctx context.Context) ([]model.Embedding, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT entry_id, vector, dimension, model_name, created_at FROM embeddings ORDER BY entry_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var embeddings []model.Embedding
	for rows.Next() {
		emb, err := scanEmbedding(rows)
		if err != nil {
			return nil, err
		}
		embeddings = append(embeddings, emb)
	}
	return embeddings, rows.Err()
}

// EntriesWithoutEmbedding lists entries that have no stored vector yet,
// ordered by id.
func (s *Store) EntriesWithoutEmbedding(ctx context.Context) ([]model.MemoryEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+entryCols+` FROM entries
		 WHERE id NOT IN (SELECT entry_id FROM embeddings) ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []model.MemoryEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func scanEmbedding(row scanner) (model.Embedding, error) {
	var emb model.Embedding
	var blob []byte
	var createdAt string

	err := row.Scan(&emb.EntryID, &blob, &emb.Dimension, &emb.ModelName, &createdAt)
	if err != nil {
		return emb, err
	}

	emb.Vector = decodeVector(blob)
	emb.CreatedAt = parseTime(createdAt)
	return emb, nil
}

// Vectors are stored as little-endian float32 blobs.

func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(b []byte) []float32 {
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}
