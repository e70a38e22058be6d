package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"github.com/memvault/memvault/internal/embedding"
	"github.com/memvault/memvault/internal/model"
)

// SearchWatermark identifies the current entry modification state: the
// row count plus the greatest updated_at. Every insert, update, and
// delete moves it.
func (s *Store) SearchWatermark(ctx context.Context) (string, error) {
	var count int64
	var maxUpdated sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), MAX(updated_at) FROM entries`).Scan(&count, &maxUpdated)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d:%s", count, maxUpdated.String), nil
}

// ensureSearchIndex rebuilds the full-text index when the watermark has
// moved since the last rebuild. Concurrent rebuilds are harmless; the
// index always ends up reflecting a committed entry state.
func (s *Store) ensureSearchIndex(ctx context.Context) error {
	mark, err := s.SearchWatermark(ctx)
	if err != nil {
		return err
	}

	s.ftsMu.Lock()
	defer s.ftsMu.Unlock()
	if s.ftsWatermark == mark {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM entries_fts`); err != nil {
		return fmt.Errorf("clear search index: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO entries_fts (rowid, title, content) SELECT id, title, content FROM entries`)
	if err != nil {
		return fmt.Errorf("fill search index: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	s.ftsWatermark = mark
	return nil
}

// TextScores runs a prefix full-text query over titles and content and
// returns normalized relevance per entry id. The index is refreshed
// first if entries changed since the last call.
func (s *Store) TextScores(ctx context.Context, query string, limit int) (map[int64]float64, error) {
	scores := make(map[int64]float64)

	match := ftsQuery(query)
	if match == "" {
		return scores, nil
	}
	if err := s.ensureSearchIndex(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT rowid, bm25(entries_fts) AS rank FROM entries_fts
		 WHERE entries_fts MATCH ? ORDER BY rank LIMIT ?`,
		match, limit)
	if err != nil {
		return nil, fmt.Errorf("text search: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		var rank float64
		if err := rows.Scan(&id, &rank); err != nil {
			return nil, err
		}
		if rank < 0 {
			rank = 0
		}
		scores[id] = 1.0 / (1.0 + rank)
	}
	return scores, rows.Err()
}

// ftsQuery turns free text into a prefix match expression. Tokens are
// quoted so input cannot carry full-text query syntax.
func ftsQuery(q string) string {
	fields := strings.Fields(q)
	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		escaped := strings.ReplaceAll(f, `"`, `""`)
		terms = append(terms, `"`+escaped+`"*`)
	}
	return strings.Join(terms, " ")
}

// VectorScores ranks entries by cosine similarity against the query
// vector and keeps the top positive scores. A zero-norm query matches
// nothing.
func (s *Store) VectorScores(ctx context.Context, query embedding.Vector, keep int) (map[int64]float64, error) {
	scores := make(map[int64]float64)

	var norm float64
	for _, f := range query {
		norm += float64(f) * float64(f)
	}
	if norm == 0 {
		return scores, nil
	}

	embeddings, err := s.AllEmbeddings(ctx)
	if err != nil {
		return nil, err
	}

	type scored struct {
		id    int64
		score float64
	}
	ranked := make([]scored, 0, len(embeddings))
	for _, emb := range embeddings {
		score := embedding.CosineSimilarity(query, emb.Vector)
		if score > 0 {
			ranked = append(ranked, scored{emb.EntryID, score})
		}
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].id < ranked[j].id
	})
	if keep > 0 && len(ranked) > keep {
		ranked = ranked[:keep]
	}

	for _, r := range ranked {
		scores[r.id] = r.score
	}
	return scores, nil
}

// EntriesByIDs fetches the given entries. Missing ids are simply absent
// from the result.
func (s *Store) EntriesByIDs(ctx context.Context, ids []int64) (map[int64]model.MemoryEntry, error) {
	out := make(map[int64]model.MemoryEntry, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+entryCols+` FROM entries WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out[e.ID] = e
	}
	return out, rows.Err()
}
