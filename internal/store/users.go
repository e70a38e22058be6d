package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/memvault/memvault/internal/model"
)

// CreateUser registers a memory subject. Emails are unique.
func (s *Store) CreateUser(ctx context.Context, email, displayName string) (*model.User, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, model.Invalidf("email must not be empty")
	}

	id := uuid.NewString()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, email, display_name, created_at) VALUES (?, ?, ?, ?)`,
		id, email, displayName, formatTime(now))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return nil, fmt.Errorf("user email %s: %w", email, ErrDuplicate)
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}

	return &model.User{
		ID:          id,
		Email:       email,
		DisplayName: displayName,
		CreatedAt:   now,
	}, nil
}

func (s *Store) UserByID(ctx context.Context, id string) (*model.User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, email, display_name, created_at FROM users WHERE id = ?`, id)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *Store) UserByEmail(ctx context.Context, email string) (*model.User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, email, display_name, created_at FROM users WHERE email = ?`, email)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %s: %w", email, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]model.User, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, email, display_name, created_at FROM users ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func scanUser(row scanner) (model.User, error) {
	var u model.User
	var createdAt string

	err := row.Scan(&u.ID, &u.Email, &u.DisplayName, &createdAt)
	if err != nil {
		return u, err
	}

	u.CreatedAt = parseTime(createdAt)
	return u, nil
}
