package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/memvault/memvault/internal/model"
)

const apiKeyCols = "id, key, name, is_active, rate_limit, rate_limit_window, last_used_at, created_at"

// CreateAPIKeyParams mints a gateway key. The key string is a ULID.
type CreateAPIKeyParams struct {
	Name            string
	RateLimit       int
	RateLimitWindow int
}

func (s *Store) CreateAPIKey(ctx context.Context, p CreateAPIKeyParams) (*model.APIKey, error) {
	if p.Name == "" {
		return nil, model.Invalidf("name must not be empty")
	}
	if p.RateLimit <= 0 {
		return nil, model.Invalidf("rate_limit must be positive")
	}
	if p.RateLimitWindow <= 0 {
		return nil, model.Invalidf("rate_limit_window must be positive")
	}

	key := s.newID()
	now := time.Now().UTC()

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO api_keys (key, name, is_active, rate_limit, rate_limit_window, created_at)
		 VALUES (?, ?, 1, ?, ?, ?)`,
		key, p.Name, p.RateLimit, p.RateLimitWindow, formatTime(now))
	if err != nil {
		return nil, fmt.Errorf("insert api key: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}

	return &model.APIKey{
		ID:              id,
		Key:             key,
		Name:            p.Name,
		Active:          true,
		RateLimit:       p.RateLimit,
		RateLimitWindow: p.RateLimitWindow,
		CreatedAt:       now,
	}, nil
}

// APIKeyByKey looks up a key by its secret value, active or not.
func (s *Store) APIKeyByKey(ctx context.Context, key string) (*model.APIKey, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+apiKeyCols+` FROM api_keys WHERE key = ?`, key)
	k, err := scanAPIKey(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("api key: %w", ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &k, nil
}

func (s *Store) ListAPIKeys(ctx context.Context) ([]model.APIKey, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+apiKeyCols+` FROM api_keys ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []model.APIKey
	for rows.Next() {
		k, err := scanAPIKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// TouchAPIKey stamps last_used_at. Best effort; callers may ignore the
// error.
func (s *Store) TouchAPIKey(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE api_keys SET last_used_at = ? WHERE id = ?`,
		formatTime(time.Now().UTC()), id)
	return err
}

// DeactivateAPIKey disables a key without deleting its history.
func (s *Store) DeactivateAPIKey(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE api_keys SET is_active = 0 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deactivate api key: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("api key %d: %w", id, ErrNotFound)
	}
	return nil
}

func scanAPIKey(row scanner) (model.APIKey, error) {
	var k model.APIKey
	var active int
	var lastUsed sql.NullString
	var createdAt string

	err := row.Scan(&k.ID, &k.Key, &k.Name, &active, &k.RateLimit, &k.RateLimitWindow,
		&lastUsed, &createdAt)
	if err != nil {
		return k, err
	}

	k.Active = active != 0
	k.LastUsedAt = timePtr(lastUsed)
	k.CreatedAt = parseTime(createdAt)
	return k, nil
}
