package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/memvault/memvault/internal/model"
)

// RecordAudit persists one observed action. Ids are ULIDs, so records
// sort by creation time.
func (s *Store) RecordAudit(ctx context.Context, rec model.AuditRecord) (*model.AuditRecord, error) {
	if rec.Action == "" {
		return nil, model.Invalidf("action must not be empty")
	}

	rec.ID = s.newID()
	rec.CreatedAt = time.Now().UTC()

	var metaJSON interface{}
	if len(rec.Metadata) > 0 {
		b, _ := json.Marshal(rec.Metadata)
		metaJSON = string(b)
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_records (id, actor, action, object_type, object_id, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Actor, rec.Action, rec.ObjectType, rec.ObjectID, metaJSON, formatTime(rec.CreatedAt))
	if err != nil {
		return nil, fmt.Errorf("insert audit record: %w", err)
	}
	return &rec, nil
}

// RecentAudits returns the newest records first.
func (s *Store) RecentAudits(ctx context.Context, limit int) ([]model.AuditRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, actor, action, object_type, object_id, metadata, created_at
		 FROM audit_records ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []model.AuditRecord
	for rows.Next() {
		var rec model.AuditRecord
		var metaJSON sql.NullString
		var createdAt string
		err := rows.Scan(&rec.ID, &rec.Actor, &rec.Action, &rec.ObjectType, &rec.ObjectID,
			&metaJSON, &createdAt)
		if err != nil {
			return nil, err
		}
		if metaJSON.Valid && metaJSON.String != "" {
			if err := json.Unmarshal([]byte(metaJSON.String), &rec.Metadata); err != nil {
				return nil, fmt.Errorf("decode audit metadata: %w", err)
			}
		}
		rec.CreatedAt = parseTime(createdAt)
		records = append(records, rec)
	}
	return records, rows.Err()
}
