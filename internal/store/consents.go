package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/memvault/memvault/internal/event"
	"github.com/memvault/memvault/internal/model"
)

const consentCols = "id, user_id, agent_identifier, scopes, sensitivity_levels, status, version, issued_at, updated_at, revoked_at"

// CreateConsentParams grants a new consent version. The version is
// computed inside the insert transaction as max(existing)+1 for the
// (user, agent) pair, so concurrent grants cannot collide.
type CreateConsentParams struct {
	UserID            string
	AgentIdentifier   string
	Scopes            []model.Scope
	SensitivityLevels []model.Sensitivity
}

func (s *Store) CreateConsent(ctx context.Context, p CreateConsentParams) (*model.Consent, error) {
	if err := model.ValidateGrant(p.Scopes, p.SensitivityLevels); err != nil {
		return nil, err
	}
	if p.AgentIdentifier == "" {
		return nil, model.Invalidf("agent_identifier must not be empty")
	}

	scopes := model.NewScopeSet(p.Scopes...)
	levels := normalizeLevels(p.SensitivityLevels)
	scopesJSON, _ := json.Marshal(scopes)
	levelsJSON, _ := json.Marshal(levels)

	now := time.Now().UTC()
	ts := formatTime(now)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM users WHERE id = ?`, p.UserID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %s: %w", p.UserID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	var version int64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM consents WHERE user_id = ? AND agent_identifier = ?`,
		p.UserID, p.AgentIdentifier).Scan(&version)
	if err != nil {
		return nil, err
	}
	version++

	res, err := tx.ExecContext(ctx,
		`INSERT INTO consents (user_id, agent_identifier, scopes, sensitivity_levels, status, version, issued_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.UserID, p.AgentIdentifier, string(scopesJSON), string(levelsJSON),
		string(model.ConsentPending), version, ts, ts)
	if err != nil {
		return nil, fmt.Errorf("insert consent: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	consent := model.Consent{
		ID:                id,
		UserID:            p.UserID,
		AgentIdentifier:   p.AgentIdentifier,
		Scopes:            scopes,
		SensitivityLevels: levels,
		Status:            model.ConsentPending,
		Version:           version,
		IssuedAt:          now,
		UpdatedAt:         now,
	}
	s.events.Publish(ctx, event.ConsentCreated{Consent: consent})
	return &consent, nil
}

// ActivateConsent moves a consent to the active state and clears any
// prior revocation stamp.
func (s *Store) ActivateConsent(ctx context.Context, id int64) (*model.Consent, error) {
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	consent, err := consentByIDTx(ctx, tx, id)
	if err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE consents SET status = ?, revoked_at = NULL, updated_at = ? WHERE id = ?`,
		string(model.ConsentActive), formatTime(now), id)
	if err != nil {
		return nil, fmt.Errorf("activate consent: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	consent.Status = model.ConsentActive
	consent.RevokedAt = nil
	consent.UpdatedAt = now
	s.events.Publish(ctx, event.ConsentUpdated{Consent: *consent})
	return consent, nil
}

// RevokeConsent moves a consent to the revoked state. Revoking an
// already revoked consent changes nothing and emits nothing.
func (s *Store) RevokeConsent(ctx context.Context, id int64) (*model.Consent, error) {
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	consent, err := consentByIDTx(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if consent.Status == model.ConsentRevoked {
		return consent, nil
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE consents SET status = ?, revoked_at = ?, updated_at = ? WHERE id = ?`,
		string(model.ConsentRevoked), formatTime(now), formatTime(now), id)
	if err != nil {
		return nil, fmt.Errorf("revoke consent: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	consent.Status = model.ConsentRevoked
	consent.RevokedAt = &now
	consent.UpdatedAt = now
	s.events.Publish(ctx, event.ConsentRevoked{Consent: *consent})
	return consent, nil
}

func (s *Store) ConsentByID(ctx context.Context, id int64) (*model.Consent, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+consentCols+` FROM consents WHERE id = ?`, id)
	consent, err := scanConsent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("consent %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &consent, nil
}

// ActiveConsent returns the highest-version active consent for the
// (user, agent) pair.
func (s *Store) ActiveConsent(ctx context.Context, userID, agentIdentifier string) (*model.Consent, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+consentCols+` FROM consents
		 WHERE user_id = ? AND agent_identifier = ? AND status = ?
		 ORDER BY version DESC LIMIT 1`,
		userID, agentIdentifier, string(model.ConsentActive))
	consent, err := scanConsent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("active consent for %s/%s: %w", userID, agentIdentifier, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &consent, nil
}

// ListConsents returns consents, newest version first per agent. An
// empty userID lists every consent.
func (s *Store) ListConsents(ctx context.Context, userID string) ([]model.Consent, error) {
	query := `SELECT ` + consentCols + ` FROM consents`
	args := []interface{}{}
	if userID != "" {
		query += ` WHERE user_id = ?`
		args = append(args, userID)
	}
	query += ` ORDER BY user_id, agent_identifier, version DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var consents []model.Consent
	for rows.Next() {
		c, err := scanConsent(rows)
		if err != nil {
			return nil, err
		}
		consents = append(consents, c)
	}
	return consents, rows.Err()
}

func consentByIDTx(ctx context.Context, tx *sql.Tx, id int64) (*model.Consent, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+consentCols+` FROM consents WHERE id = ?`, id)
	consent, err := scanConsent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("consent %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &consent, nil
}

func scanConsent(row scanner) (model.Consent, error) {
	var c model.Consent
	var scopesJSON, levelsJSON, status, issuedAt, updatedAt string
	var revokedAt sql.NullString

	err := row.Scan(&c.ID, &c.UserID, &c.AgentIdentifier, &scopesJSON, &levelsJSON,
		&status, &c.Version, &issuedAt, &updatedAt, &revokedAt)
	if err != nil {
		return c, err
	}

	if err := json.Unmarshal([]byte(scopesJSON), &c.Scopes); err != nil {
		return c, fmt.Errorf("decode scopes: %w", err)
	}
	if err := json.Unmarshal([]byte(levelsJSON), &c.SensitivityLevels); err != nil {
		return c, fmt.Errorf("decode sensitivity levels: %w", err)
	}
	c.Status = model.ConsentStatus(status)
	c.IssuedAt = parseTime(issuedAt)
	c.UpdatedAt = parseTime(updatedAt)
	c.RevokedAt = timePtr(revokedAt)
	return c, nil
}

// normalizeLevels deduplicates sensitivity levels and orders them least
// to most sensitive.
func normalizeLevels(levels []model.Sensitivity) []model.Sensitivity {
	seen := make(map[model.Sensitivity]bool, len(levels))
	out := make([]model.Sensitivity, 0, len(levels))
	for _, l := range levels {
		if seen[l] {
			continue
		}
		seen[l] = true
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Rank() < out[j].Rank() })
	return out
}
