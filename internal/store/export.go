package store

import (
	"context"

	"github.com/memvault/memvault/internal/model"
)

// Export is a portable snapshot of the primary records. Derived state
// (chunks, the search index, the graph projection) is rebuilt on import.
type Export struct {
	Users    []model.User        `json:"users"`
	Entries  []model.MemoryEntry `json:"entries"`
	Consents []model.Consent     `json:"consents"`
}

// ImportStats counts what an import created.
type ImportStats struct {
	Users    int `json:"users"`
	Entries  int `json:"entries"`
	Consents int `json:"consents"`
}

// ExportAll snapshots users, entries, and consents in creation order.
func (s *Store) ExportAll(ctx context.Context) (*Export, error) {
	out := &Export{}

	users, err := s.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	out.Users = users

	rows, err := s.db.QueryContext(ctx, `SELECT `+entryCols+` FROM entries ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out.Entries = append(out.Entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	crows, err := s.db.QueryContext(ctx, `SELECT `+consentCols+` FROM consents ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer crows.Close()
	for crows.Next() {
		c, err := scanConsent(crows)
		if err != nil {
			return nil, err
		}
		out.Consents = append(out.Consents, c)
	}
	return out, crows.Err()
}

// Import replays a snapshot. Users keep their ids; existing emails are
// reused. Entries and consents are recreated, so ids and versions are
// assigned fresh and derived state is rebuilt through the usual paths.
func (s *Store) Import(ctx context.Context, snapshot *Export) (ImportStats, error) {
	var stats ImportStats

	userIDs := make(map[string]string, len(snapshot.Users))
	for _, u := range snapshot.Users {
		existing, err := s.UserByEmail(ctx, u.Email)
		if err == nil {
			userIDs[u.ID] = existing.ID
			continue
		}
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO users (id, email, display_name, created_at) VALUES (?, ?, ?, ?)`,
			u.ID, u.Email, u.DisplayName, formatTime(u.CreatedAt))
		if err != nil {
			return stats, err
		}
		userIDs[u.ID] = u.ID
		stats.Users++
	}

	for _, e := range snapshot.Entries {
		_, err := s.CreateEntry(ctx, CreateEntryParams{
			Title:       e.Title,
			Content:     e.Content,
			Sensitivity: e.Sensitivity,
			EntryType:   e.EntryType,
		})
		if err != nil {
			return stats, err
		}
		stats.Entries++
	}

	for _, c := range snapshot.Consents {
		userID, ok := userIDs[c.UserID]
		if !ok {
			userID = c.UserID
		}
		created, err := s.CreateConsent(ctx, CreateConsentParams{
			UserID:            userID,
			AgentIdentifier:   c.AgentIdentifier,
			Scopes:            c.Scopes.Sorted(),
			SensitivityLevels: c.SensitivityLevels,
		})
		if err != nil {
			return stats, err
		}
		switch c.Status {
		case model.ConsentActive:
			_, err = s.ActivateConsent(ctx, created.ID)
		case model.ConsentRevoked:
			_, err = s.RevokeConsent(ctx, created.ID)
		}
		if err != nil {
			return stats, err
		}
		stats.Consents++
	}

	return stats, nil
}
