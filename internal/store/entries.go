package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/memvault/memvault/internal/chunker"
	"github.com/memvault/memvault/internal/event"
	"github.com/memvault/memvault/internal/model"
)

const entryCols = "id, title, content, sensitivity, entry_type, version, created_at, updated_at"

// CreateEntryParams creates a new memory entry at version 1.
type CreateEntryParams struct {
	Title       string
	Content     string
	Sensitivity model.Sensitivity
	EntryType   model.EntryType
}

// UpdateEntryParams mutates an entry under an expected-version
// precondition. Nil fields are left unchanged.
type UpdateEntryParams struct {
	ID              int64
	ExpectedVersion int64
	Title           *string
	Content         *string
	Sensitivity     *model.Sensitivity
	EntryType       *model.EntryType
}

// DeleteEntryParams removes an entry. ExpectedVersion, when set, must
// match the live version.
type DeleteEntryParams struct {
	ID              int64
	ExpectedVersion *int64
}

// ListEntriesParams filters the entry listing. Zero values mean no
// filter; Limit <= 0 returns all.
type ListEntriesParams struct {
	Sensitivity model.Sensitivity
	EntryType   model.EntryType
	Limit       int
}

func (s *Store) CreateEntry(ctx context.Context, p CreateEntryParams) (*model.MemoryEntry, error) {
	if p.Sensitivity == "" {
		p.Sensitivity = model.SensitivityPublic
	}
	if p.EntryType == "" {
		p.EntryType = model.TypeNote
	}
	if !p.Sensitivity.Valid() {
		return nil, model.Invalidf("unknown sensitivity %q", p.Sensitivity)
	}
	if !p.EntryType.Valid() {
		return nil, model.Invalidf("unknown entry_type %q", p.EntryType)
	}

	now := time.Now().UTC()
	ts := formatTime(now)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO entries (title, content, sensitivity, entry_type, version, created_at, updated_at)
		 VALUES (?, ?, ?, ?, 1, ?, ?)`,
		p.Title, p.Content, string(p.Sensitivity), string(p.EntryType), ts, ts)
	if err != nil {
		return nil, fmt.Errorf("insert entry: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}

	if err := replaceChunksTx(ctx, tx, id, p.Content); err != nil {
		return nil, err
	}
	if strings.TrimSpace(p.Content) != "" {
		if err := enqueueCondensationTx(ctx, tx, id, ts); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	entry := model.MemoryEntry{
		ID:          id,
		Title:       p.Title,
		Content:     p.Content,
		Sensitivity: p.Sensitivity,
		EntryType:   p.EntryType,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.events.Publish(ctx, event.EntryCreated{Entry: entry})
	return &entry, nil
}

func (s *Store) EntryByID(ctx context.Context, id int64) (*model.MemoryEntry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+entryCols+` FROM entries WHERE id = ?`, id)
	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("entry %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (s *Store) ListEntries(ctx context.Context, p ListEntriesParams) ([]model.MemoryEntry, error) {
	query := `SELECT ` + entryCols + ` FROM entries`
	var where []string
	args := []interface{}{}
	if p.Sensitivity != "" {
		where = append(where, "sensitivity = ?")
		args = append(args, string(p.Sensitivity))
	}
	if p.EntryType != "" {
		where = append(where, "entry_type = ?")
		args = append(args, string(p.EntryType))
	}
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY updated_at DESC, title`
	if p.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, p.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
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

func (s *Store) UpdateEntry(ctx context.Context, p UpdateEntryParams) (*model.MemoryEntry, error) {
	now := time.Now().UTC()
	ts := formatTime(now)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx,
		`SELECT `+entryCols+` FROM entries WHERE id = ?`, p.ID)
	cur, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("entry %d: %w", p.ID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if cur.Version != p.ExpectedVersion {
		return nil, fmt.Errorf("entry %d at version %d, expected %d: %w",
			p.ID, cur.Version, p.ExpectedVersion, ErrVersionConflict)
	}

	next := cur
	if p.Title != nil {
		next.Title = *p.Title
	}
	if p.Content != nil {
		next.Content = *p.Content
	}
	if p.Sensitivity != nil {
		if !p.Sensitivity.Valid() {
			return nil, model.Invalidf("unknown sensitivity %q", *p.Sensitivity)
		}
		next.Sensitivity = *p.Sensitivity
	}
	if p.EntryType != nil {
		if !p.EntryType.Valid() {
			return nil, model.Invalidf("unknown entry_type %q", *p.EntryType)
		}
		next.EntryType = *p.EntryType
	}
	next.Version = cur.Version + 1
	next.UpdatedAt = now

	res, err := tx.ExecContext(ctx,
		`UPDATE entries SET title = ?, content = ?, sensitivity = ?, entry_type = ?, version = ?, updated_at = ?
		 WHERE id = ? AND version = ?`,
		next.Title, next.Content, string(next.Sensitivity), string(next.EntryType),
		next.Version, ts, p.ID, p.ExpectedVersion)
	if err != nil {
		return nil, fmt.Errorf("update entry: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("entry %d: %w", p.ID, ErrVersionConflict)
	}

	if p.Content != nil {
		if err := replaceChunksTx(ctx, tx, p.ID, next.Content); err != nil {
			return nil, err
		}
		if strings.TrimSpace(next.Content) != "" {
			if err := enqueueCondensationTx(ctx, tx, p.ID, ts); err != nil {
				return nil, err
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	s.events.Publish(ctx, event.EntryUpdated{Entry: next})
	return &next, nil
}

func (s *Store) DeleteEntry(ctx context.Context, p DeleteEntryParams) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx,
		`SELECT `+entryCols+` FROM entries WHERE id = ?`, p.ID)
	cur, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("entry %d: %w", p.ID, ErrNotFound)
	}
	if err != nil {
		return err
	}
	if p.ExpectedVersion != nil && cur.Version != *p.ExpectedVersion {
		return fmt.Errorf("entry %d at version %d, expected %d: %w",
			p.ID, cur.Version, *p.ExpectedVersion, ErrVersionConflict)
	}

	// Chunks, embeddings, and jobs cascade with the row.
	if _, err := tx.ExecContext(ctx, `DELETE FROM entries WHERE id = ?`, p.ID); err != nil {
		return fmt.Errorf("delete entry: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	s.events.Publish(ctx, event.EntryDeleted{EntryID: p.ID})
	return nil
}

// ChunksForEntry returns the entry's content segments in order.
func (s *Store) ChunksForEntry(ctx context.Context, entryID int64) ([]model.EntryChunk, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, entry_id, seq, content, token_count FROM entry_chunks
		 WHERE entry_id = ? ORDER BY seq`, entryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []model.EntryChunk
	for rows.Next() {
		var c model.EntryChunk
		if err := rows.Scan(&c.ID, &c.EntryID, &c.Seq, &c.Content, &c.TokenCount); err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

func replaceChunksTx(ctx context.Context, tx *sql.Tx, entryID int64, content string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM entry_chunks WHERE entry_id = ?`, entryID); err != nil {
		return fmt.Errorf("clear chunks: %w", err)
	}
	for i, seg := range chunker.Split(content, chunker.DefaultOptions()) {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO entry_chunks (entry_id, seq, content, token_count) VALUES (?, ?, ?, ?)`,
			entryID, i, seg.Text, seg.Tokens)
		if err != nil {
			return fmt.Errorf("insert chunk: %w", err)
		}
	}
	return nil
}

func scanEntry(row scanner) (model.MemoryEntry, error) {
	var e model.MemoryEntry
	var sensitivity, entryType, createdAt, updatedAt string

	err := row.Scan(&e.ID, &e.Title, &e.Content, &sensitivity, &entryType,
		&e.Version, &createdAt, &updatedAt)
	if err != nil {
		return e, err
	}

	e.Sensitivity = model.Sensitivity(sensitivity)
	e.EntryType = model.EntryType(entryType)
	e.CreatedAt = parseTime(createdAt)
	e.UpdatedAt = parseTime(updatedAt)
	return e, nil
}
