package model

import "time"

// Graph node types for the derived projection.
const (
	NodeMemoryEntry      = "memory_entry"
	NodeMemoryEntryType  = "memory_entry_type"
	NodeSensitivityLevel = "sensitivity_level"
	NodeConsent          = "consent"
	NodeUser             = "user"
	NodeAgent            = "agent"
)

// GraphNode is one node of the derived knowledge-graph projection,
// unique per (node type, reference id).
type GraphNode struct {
	ID          int64             `json:"id"`
	NodeType    string            `json:"node_type"`
	ReferenceID string            `json:"reference_id"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// GraphEdge is a weighted, typed relation between two nodes.
type GraphEdge struct {
	ID        int64     `json:"id"`
	SourceID  int64     `json:"source_id"`
	TargetID  int64     `json:"target_id"`
	Relation  string    `json:"relation"`
	Weight    float64   `json:"weight"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
