package store

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/memvault/memvault/internal/model"
)

const subscriptionCols = "id, name, target_url, secret, events, status, failure_count, last_success_at, last_failure_at, last_error, created_at, updated_at"

// CreateSubscriptionParams registers a webhook endpoint. An empty
// Secret gets a random one.
type CreateSubscriptionParams struct {
	Name      string
	TargetURL string
	Events    []string
	Secret    string
}

func (s *Store) CreateSubscription(ctx context.Context, p CreateSubscriptionParams) (*model.WebhookSubscription, error) {
	if p.Name == "" {
		return nil, model.Invalidf("name must not be empty")
	}
	if p.TargetURL == "" {
		return nil, model.Invalidf("target_url must not be empty")
	}

	secret := p.Secret
	if secret == "" {
		var err error
		secret, err = randomSecret()
		if err != nil {
			return nil, err
		}
	}

	events := model.NormalizeEvents(p.Events)
	eventsJSON, _ := json.Marshal(events)
	now := time.Now().UTC()
	ts := formatTime(now)

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO webhook_subscriptions (name, target_url, secret, events, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.Name, p.TargetURL, secret, string(eventsJSON), string(model.SubscriptionActive), ts, ts)
	if err != nil {
		return nil, fmt.Errorf("insert subscription: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}

	return &model.WebhookSubscription{
		ID:        id,
		Name:      p.Name,
		TargetURL: p.TargetURL,
		Secret:    secret,
		Events:    events,
		Status:    model.SubscriptionActive,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *Store) SubscriptionByID(ctx context.Context, id int64) (*model.WebhookSubscription, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+subscriptionCols+` FROM webhook_subscriptions WHERE id = ?`, id)
	sub, err := scanSubscription(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("subscription %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (s *Store) ListSubscriptions(ctx context.Context) ([]model.WebhookSubscription, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+subscriptionCols+` FROM webhook_subscriptions ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []model.WebhookSubscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// ActiveSubscriptionsForEvent returns active subscriptions listening
// for the named event.
func (s *Store) ActiveSubscriptionsForEvent(ctx context.Context, event string) ([]model.WebhookSubscription, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+subscriptionCols+` FROM webhook_subscriptions WHERE status = ? ORDER BY id`,
		string(model.SubscriptionActive))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []model.WebhookSubscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		if sub.AllowsEvent(event) {
			subs = append(subs, sub)
		}
	}
	return subs, rows.Err()
}

// MarkSubscriptionSuccess resets the failure streak after a delivery
// lands, reactivating error'd subscriptions.
func (s *Store) MarkSubscriptionSuccess(ctx context.Context, id int64) error {
	now := formatTime(time.Now().UTC())
	res, err := s.db.ExecContext(ctx,
		`UPDATE webhook_subscriptions
		 SET failure_count = 0, status = ?, last_success_at = ?, last_error = '', updated_at = ?
		 WHERE id = ?`,
		string(model.SubscriptionActive), now, now, id)
	if err != nil {
		return fmt.Errorf("mark success: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("subscription %d: %w", id, ErrNotFound)
	}
	return nil
}

// MarkSubscriptionFailure counts a failed delivery. Crossing the
// threshold moves the subscription to the error state.
func (s *Store) MarkSubscriptionFailure(ctx context.Context, id int64, message string) (*model.WebhookSubscription, error) {
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx,
		`SELECT `+subscriptionCols+` FROM webhook_subscriptions WHERE id = ?`, id)
	sub, err := scanSubscription(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("subscription %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	sub.FailureCount++
	sub.LastFailureAt = &now
	sub.LastError = message
	sub.UpdatedAt = now
	if sub.FailureCount >= model.FailureThreshold {
		sub.Status = model.SubscriptionError
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE webhook_subscriptions
		 SET failure_count = ?, status = ?, last_failure_at = ?, last_error = ?, updated_at = ?
		 WHERE id = ?`,
		sub.FailureCount, string(sub.Status), formatTime(now), message, formatTime(now), id)
	if err != nil {
		return nil, fmt.Errorf("mark failure: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &sub, nil
}

// ActivateSubscription resumes delivery and clears the failure streak.
func (s *Store) ActivateSubscription(ctx context.Context, id int64) error {
	now := formatTime(time.Now().UTC())
	res, err := s.db.ExecContext(ctx,
		`UPDATE webhook_subscriptions
		 SET status = ?, failure_count = 0, last_error = '', updated_at = ?
		 WHERE id = ?`,
		string(model.SubscriptionActive), now, id)
	if err != nil {
		return fmt.Errorf("activate subscription: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("subscription %d: %w", id, ErrNotFound)
	}
	return nil
}

// PauseSubscription stops delivery without losing state.
func (s *Store) PauseSubscription(ctx context.Context, id int64) error {
	now := formatTime(time.Now().UTC())
	res, err := s.db.ExecContext(ctx,
		`UPDATE webhook_subscriptions SET status = ?, updated_at = ? WHERE id = ?`,
		string(model.SubscriptionPaused), now, id)
	if err != nil {
		return fmt.Errorf("pause subscription: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("subscription %d: %w", id, ErrNotFound)
	}
	return nil
}

// UpdateSubscriptionEvents replaces the event filter.
func (s *Store) UpdateSubscriptionEvents(ctx context.Context, id int64, events []string) error {
	eventsJSON, _ := json.Marshal(model.NormalizeEvents(events))
	now := formatTime(time.Now().UTC())
	res, err := s.db.ExecContext(ctx,
		`UPDATE webhook_subscriptions SET events = ?, updated_at = ? WHERE id = ?`,
		string(eventsJSON), now, id)
	if err != nil {
		return fmt.Errorf("update subscription events: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("subscription %d: %w", id, ErrNotFound)
	}
	return nil
}

func (s *Store) DeleteSubscription(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM webhook_subscriptions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete subscription: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("subscription %d: %w", id, ErrNotFound)
	}
	return nil
}

func scanSubscription(row scanner) (model.WebhookSubscription, error) {
	var sub model.WebhookSubscription
	var eventsJSON, status, createdAt, updatedAt string
	var lastSuccess, lastFailure sql.NullString

	err := row.Scan(&sub.ID, &sub.Name, &sub.TargetURL, &sub.Secret, &eventsJSON, &status,
		&sub.FailureCount, &lastSuccess, &lastFailure, &sub.LastError, &createdAt, &updatedAt)
	if err != nil {
		return sub, err
	}

	if err := json.Unmarshal([]byte(eventsJSON), &sub.Events); err != nil {
		return sub, fmt.Errorf("decode events: %w", err)
	}
	sub.Status = model.SubscriptionStatus(status)
	sub.LastSuccessAt = timePtr(lastSuccess)
	sub.LastFailureAt = timePtr(lastFailure)
	sub.CreatedAt = parseTime(createdAt)
	sub.UpdatedAt = parseTime(updatedAt)
	return sub, nil
}

func randomSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate secret: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
