package graph

import (
	"container/heap"
	"context"
	"errors"
	"math"
	"sort"
	"strings"

	"github.com/memvault/memvault/internal/model"
	"github.com/memvault/memvault/internal/store"
)

const (
	// maxDepth bounds both the adjacency walk and the path search.
	maxDepth = 4

	DefaultLimit = 5
	MaxLimit     = 100
)

// RelatedParams selects an anchor node and the candidates to rank
// against it.
type RelatedParams struct {
	NodeType      string
	ReferenceID   string
	CandidateType string
	Candidates    []string
	Limit         int
}

// NodeRef identifies the anchor in a relatedness response.
type NodeRef struct {
	ID          int64  `json:"id"`
	NodeType    string `json:"node_type"`
	ReferenceID string `json:"reference_id"`
}

// ScoredNode is one ranked candidate.
type ScoredNode struct {
	ID          int64   `json:"id"`
	ReferenceID string  `json:"reference_id"`
	NodeType    string  `json:"node_type"`
	Score       float64 `json:"score"`
}

// RelatedResult ranks resolved candidates by proximity to the anchor.
// Node is nil when the anchor or every candidate is unknown.
type RelatedResult struct {
	Node    *NodeRef     `json:"node,omitempty"`
	Count   int          `json:"count"`
	Results []ScoredNode `json:"results"`
}

// Related scores each candidate by the strongest weighted path from the
// anchor within maxDepth hops, damping longer paths. Unknown anchors and
// candidates produce an empty result rather than an error.
func Related(ctx context.Context, st *store.Store, p RelatedParams) (*RelatedResult, error) {
	limit := p.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	candidateType := p.CandidateType
	if candidateType == "" {
		candidateType = model.NodeMemoryEntry
	}

	empty := &RelatedResult{Results: []ScoredNode{}}
	refs := dedupeRefs(p.Candidates)
	if len(refs) == 0 {
		return empty, nil
	}

	anchor, err := st.NodeByRef(ctx, p.NodeType, p.ReferenceID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return empty, nil
		}
		return nil, err
	}
	nodes, err := st.NodesByRefs(ctx, candidateType, refs)
	if err != nil {
		return nil, err
	}
	if len(nodes) == 0 {
		return empty, nil
	}

	adjacency, err := buildAdjacency(ctx, st, anchor.ID)
	if err != nil {
		return nil, err
	}

	results := make([]ScoredNode, 0, len(nodes))
	for _, ref := range refs {
		node, ok := nodes[ref]
		if !ok {
			continue
		}
		score := closeness(anchor.ID, node.ID, adjacency)
		results = append(results, ScoredNode{
			ID:          node.ID,
			ReferenceID: node.ReferenceID,
			NodeType:    node.NodeType,
			Score:       math.Round(score*1e6) / 1e6,
		})
	}
	// Stable, so equal scores keep the requested candidate order.
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > limit {
		results = results[:limit]
	}
	return &RelatedResult{
		Node:    &NodeRef{ID: anchor.ID, NodeType: anchor.NodeType, ReferenceID: anchor.ReferenceID},
		Count:   len(results),
		Results: results,
	}, nil
}

func dedupeRefs(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

type neighbor struct {
	id     int64
	weight float64
}

type pair struct{ source, target int64 }

// buildAdjacency expands outward from the anchor one hop per round,
// recording every touched edge in both directions exactly once.
func buildAdjacency(ctx context.Context, st *store.Store, anchorID int64) (map[int64][]neighbor, error) {
	adjacency := make(map[int64][]neighbor)
	frontier := map[int64]struct{}{anchorID: {}}
	visited := make(map[int64]struct{})
	seen := make(map[pair]struct{})

	for depth := 0; depth < maxDepth && len(frontier) > 0; depth++ {
		ids := make([]int64, 0, len(frontier))
		for id := range frontier {
			ids = append(ids, id)
		}
		edges, err := st.EdgesTouching(ctx, ids)
		if err != nil {
			return nil, err
		}

		next := make(map[int64]struct{})
		for _, e := range edges {
			if _, ok := seen[pair{e.SourceID, e.TargetID}]; !ok {
				seen[pair{e.SourceID, e.TargetID}] = struct{}{}
				adjacency[e.SourceID] = append(adjacency[e.SourceID], neighbor{e.TargetID, e.Weight})
			}
			if _, ok := seen[pair{e.TargetID, e.SourceID}]; !ok {
				seen[pair{e.TargetID, e.SourceID}] = struct{}{}
				adjacency[e.TargetID] = append(adjacency[e.TargetID], neighbor{e.SourceID, e.Weight})
			}
			for _, id := range []int64{e.SourceID, e.TargetID} {
				if _, ok := visited[id]; ok {
					continue
				}
				if _, ok := frontier[id]; ok {
					continue
				}
				next[id] = struct{}{}
			}
		}
		for id := range frontier {
			visited[id] = struct{}{}
		}
		frontier = next
	}
	return adjacency, nil
}

type pathItem struct {
	product float64
	nodeID  int64
	depth   int
}

// pathQueue pops the strongest weight product first.
type pathQueue []pathItem

func (q pathQueue) Len() int { return len(q) }

func (q pathQueue) Less(i, j int) bool {
	if q[i].product != q[j].product {
		return q[i].product > q[j].product
	}
	if q[i].nodeID != q[j].nodeID {
		return q[i].nodeID < q[j].nodeID
	}
	return q[i].depth < q[j].depth
}

func (q pathQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *pathQueue) Push(x interface{}) { *q = append(*q, x.(pathItem)) }

func (q *pathQueue) Pop() interface{} {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}

// closeness is the best weight product over any path from anchor to
// candidate, divided by path length plus one. Paths are pruned once a
// stronger product has already reached the same node.
func closeness(anchorID, candidateID int64, adjacency map[int64][]neighbor) float64 {
	if anchorID == candidateID {
		return 1.0
	}
	bestPaths := map[int64]float64{anchorID: 1.0}
	queue := &pathQueue{{product: 1.0, nodeID: anchorID, depth: 0}}
	heap.Init(queue)

	best := 0.0
	for queue.Len() > 0 {
		item := heap.Pop(queue).(pathItem)
		if item.depth >= maxDepth {
			continue
		}
		for _, nb := range adjacency[item.nodeID] {
			nextDepth := item.depth + 1
			nextProduct := item.product * nb.weight
			if nb.id == candidateID {
				if score := nextProduct / float64(nextDepth+1); score > best {
					best = score
				}
			}
			if nextProduct <= bestPaths[nb.id] {
				continue
			}
			bestPaths[nb.id] = nextProduct
			heap.Push(queue, pathItem{product: nextProduct, nodeID: nb.id, depth: nextDepth})
		}
	}
	return best
}
