package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/memvault/memvault/internal/model"
)

const nodeCols = "id, node_type, reference_id, metadata, created_at, updated_at"
const edgeCols = "id, source_id, target_id, relation, weight, created_at, updated_at"

// UpsertNode creates or refreshes the node for (nodeType, referenceID),
// replacing its metadata.
func (s *Store) UpsertNode(ctx context.Context, nodeType, referenceID string, metadata map[string]string) (*model.GraphNode, error) {
	var metaJSON interface{}
	if len(metadata) > 0 {
		b, _ := json.Marshal(metadata)
		metaJSON = string(b)
	}
	now := formatTime(time.Now().UTC())

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO graph_nodes (node_type, reference_id, metadata, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(node_type, reference_id) DO UPDATE SET
		   metadata = excluded.metadata,
		   updated_at = excluded.updated_at`,
		nodeType, referenceID, metaJSON, now, now)
	if err != nil {
		return nil, fmt.Errorf("upsert node: %w", err)
	}

	return s.NodeByRef(ctx, nodeType, referenceID)
}

func (s *Store) NodeByRef(ctx context.Context, nodeType, referenceID string) (*model.GraphNode, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+nodeCols+` FROM graph_nodes WHERE node_type = ? AND reference_id = ?`,
		nodeType, referenceID)
	node, err := scanNode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("node %s/%s: %w", nodeType, referenceID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &node, nil
}

func (s *Store) NodesByIDs(ctx context.Context, ids []int64) (map[int64]model.GraphNode, error) {
	out := make(map[int64]model.GraphNode, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+nodeCols+` FROM graph_nodes WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		node, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		out[node.ID] = node
	}
	return out, rows.Err()
}

// NodesByRefs maps reference ids to nodes of the given type. Unknown
// refs are absent from the result.
func (s *Store) NodesByRefs(ctx context.Context, nodeType string, refs []string) (map[string]model.GraphNode, error) {
	out := make(map[string]model.GraphNode, len(refs))
	if len(refs) == 0 {
		return out, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(refs)), ",")
	args := make([]interface{}, 0, len(refs)+1)
	args = append(args, nodeType)
	for _, ref := range refs {
		args = append(args, ref)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+nodeCols+` FROM graph_nodes WHERE node_type = ? AND reference_id IN (`+placeholders+`)`,
		args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		node, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		out[node.ReferenceID] = node
	}
	return out, rows.Err()
}

// DeleteNodeByRef removes a node and, through cascade, every edge
// touching it. Missing nodes are a no-op.
func (s *Store) DeleteNodeByRef(ctx context.Context, nodeType, referenceID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM graph_nodes WHERE node_type = ? AND reference_id = ?`,
		nodeType, referenceID)
	if err != nil {
		return fmt.Errorf("delete node: %w", err)
	}
	return nil
}

// EnsureEdge creates or reweights the (source, target, relation) edge.
func (s *Store) EnsureEdge(ctx context.Context, sourceID, targetID int64, relation string, weight float64) error {
	now := formatTime(time.Now().UTC())
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO graph_edges (source_id, target_id, relation, weight, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(source_id, target_id, relation) DO UPDATE SET
		   weight = excluded.weight,
		   updated_at = excluded.updated_at`,
		sourceID, targetID, relation, weight, now, now)
	if err != nil {
		return fmt.Errorf("ensure edge: %w", err)
	}
	return nil
}

func (s *Store) DeleteEdge(ctx context.Context, sourceID, targetID int64, relation string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM graph_edges WHERE source_id = ? AND target_id = ? AND relation = ?`,
		sourceID, targetID, relation)
	if err != nil {
		return fmt.Errorf("delete edge: %w", err)
	}
	return nil
}

// EdgesFrom returns the node's outgoing edges for one relation.
func (s *Store) EdgesFrom(ctx context.Context, sourceID int64, relation string) ([]model.GraphEdge, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+edgeCols+` FROM graph_edges WHERE source_id = ? AND relation = ?`,
		sourceID, relation)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEdges(rows)
}

// ClearEdgesTouching removes every edge with the given relations that
// starts or ends at the node.
func (s *Store) ClearEdgesTouching(ctx context.Context, nodeID int64, relations []string) error {
	if len(relations) == 0 {
		return nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(relations)), ",")
	args := make([]interface{}, 0, len(relations)+2)
	args = append(args, nodeID, nodeID)
	for _, r := range relations {
		args = append(args, r)
	}

	_, err := s.db.ExecContext(ctx,
		`DELETE FROM graph_edges WHERE (source_id = ? OR target_id = ?) AND relation IN (`+placeholders+`)`,
		args...)
	if err != nil {
		return fmt.Errorf("clear edges: %w", err)
	}
	return nil
}

// EdgesTouching returns every edge that starts or ends at any of the
// given nodes. Used to expand a traversal frontier.
func (s *Store) EdgesTouching(ctx context.Context, nodeIDs []int64) ([]model.GraphEdge, error) {
	if len(nodeIDs) == 0 {
		return nil, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(nodeIDs)), ",")
	args := make([]interface{}, 0, len(nodeIDs)*2)
	for _, id := range nodeIDs {
		args = append(args, id)
	}
	for _, id := range nodeIDs {
		args = append(args, id)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+edgeCols+` FROM graph_edges
		 WHERE source_id IN (`+placeholders+`) OR target_id IN (`+placeholders+`)`,
		args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEdges(rows)
}

func collectEdges(rows *sql.Rows) ([]model.GraphEdge, error) {
	var edges []model.GraphEdge
	for rows.Next() {
		var e model.GraphEdge
		var createdAt, updatedAt string
		err := rows.Scan(&e.ID, &e.SourceID, &e.TargetID, &e.Relation, &e.Weight, &createdAt, &updatedAt)
		if err != nil {
			return nil, err
		}
		e.CreatedAt = parseTime(createdAt)
		e.UpdatedAt = parseTime(updatedAt)
		edges = append(edges, e)
	}
	return edges, rows.Err()
}

func scanNode(row scanner) (model.GraphNode, error) {
	var n model.GraphNode
	var metaJSON sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(&n.ID, &n.NodeType, &n.ReferenceID, &metaJSON, &createdAt, &updatedAt)
	if err != nil {
		return n, err
	}

	if metaJSON.Valid && metaJSON.String != "" {
		if err := json.Unmarshal([]byte(metaJSON.String), &n.Metadata); err != nil {
			return n, fmt.Errorf("decode node metadata: %w", err)
		}
	}
	n.CreatedAt = parseTime(createdAt)
	n.UpdatedAt = parseTime(updatedAt)
	return n, nil
}
