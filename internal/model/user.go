package model

import "time"

// User is a memory subject. IDs are UUID strings.
type User struct {
	ID          string    `json:"id"`
	Email       string    `json:"email"`
	DisplayName string    `json:"display_name,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// APIKey authenticates a collaborator at the HTTP gateway and carries its
// rate-limit budget.
type APIKey struct {
	ID              int64      `json:"id"`
	Key             string     `json:"key"`
	Name            string     `json:"name"`
	Active          bool       `json:"active"`
	RateLimit       int        `json:"rate_limit"`
	RateLimitWindow int        `json:"rate_limit_window"`
	LastUsedAt      *time.Time `json:"last_used_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// AuditRecord is one observed domain or API action. IDs are ULIDs, so
// records sort by creation time.
type AuditRecord struct {
	ID         string            `json:"id"`
	Actor      string            `json:"actor,omitempty"`
	Action     string            `json:"action"`
	ObjectType string            `json:"object_type"`
	ObjectID   string            `json:"object_id"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}
