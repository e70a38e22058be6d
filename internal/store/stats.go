package store

import (
	"context"
	"os"

	"github.com/memvault/memvault/internal/model"
)

// Stats holds database statistics.
type Stats struct {
	DBPath         string             `json:"db_path"`
	DBSizeBytes    int64              `json:"db_size_bytes"`
	Entries        int                `json:"entries"`
	Chunks         int                `json:"chunks"`
	Embeddings     int                `json:"embeddings"`
	Users          int                `json:"users"`
	Consents       int                `json:"consents"`
	ActiveConsents int                `json:"active_consents"`
	PendingJobs    int                `json:"pending_jobs"`
	FailedJobs     int                `json:"failed_jobs"`
	Subscriptions  int                `json:"subscriptions"`
	GraphNodes     int                `json:"graph_nodes"`
	GraphEdges     int                `json:"graph_edges"`
	AuditRecords   int                `json:"audit_records"`
	BySensitivity  []SensitivityStats `json:"by_sensitivity"`
}

// SensitivityStats holds per-level entry counts.
type SensitivityStats struct {
	Sensitivity string `json:"sensitivity"`
	Count       int    `json:"count"`
}

// Stats returns database statistics.
func (s *Store) Stats(ctx context.Context, dbPath string) (*Stats, error) {
	st := &Stats{DBPath: dbPath}

	if info, err := os.Stat(dbPath); err == nil {
		st.DBSizeBytes = info.Size()
	}

	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM entries`).Scan(&st.Entries)
	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM entry_chunks`).Scan(&st.Chunks)
	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM embeddings`).Scan(&st.Embeddings)
	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&st.Users)
	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM consents`).Scan(&st.Consents)
	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM consents WHERE status = ?`,
		string(model.ConsentActive)).Scan(&st.ActiveConsents)
	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM condensation_jobs WHERE status = ?`,
		string(model.JobPending)).Scan(&st.PendingJobs)
	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM condensation_jobs WHERE status = ?`,
		string(model.JobFailed)).Scan(&st.FailedJobs)
	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM webhook_subscriptions`).Scan(&st.Subscriptions)
	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM graph_nodes`).Scan(&st.GraphNodes)
	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM graph_edges`).Scan(&st.GraphEdges)
	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM audit_records`).Scan(&st.AuditRecords)

	rows, err := s.db.QueryContext(ctx, `
		SELECT sensitivity, COUNT(*) as cnt
		FROM entries GROUP BY sensitivity ORDER BY cnt DESC`)
	if err != nil {
		return st, err
	}
	defer rows.Close()

	for rows.Next() {
		var sl SensitivityStats
		rows.Scan(&sl.Sensitivity, &sl.Count)
		st.BySensitivity = append(st.BySensitivity, sl)
	}

	return st, nil
}
