// Package query ranks memory entries against free text by combining
// lexical and vector similarity.
package query

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/sirupsen/logrus"

	"github.com/memvault/memvault/internal/config"
	"github.com/memvault/memvault/internal/embedding"
	"github.com/memvault/memvault/internal/model"
)

// DefaultLimit is the result count when the caller does not set one.
const DefaultLimit = 10

// snippetLen bounds the content preview carried by each result.
const snippetLen = 200

// Index is the store surface the service searches over.
type Index interface {
	SearchWatermark(ctx context.Context) (string, error)
	TextScores(ctx context.Context, query string, limit int) (map[int64]float64, error)
	VectorScores(ctx context.Context, query embedding.Vector, keep int) (map[int64]float64, error)
	EntriesByIDs(ctx context.Context, ids []int64) (map[int64]model.MemoryEntry, error)
}

// Scores carries the per-signal components behind a combined score.
type Scores struct {
	Text   float64 `json:"text"`
	Vector float64 `json:"vector"`
}

// Result is one scored entry. Ranking is sensitivity-agnostic; callers
// filter against the consent before anything leaves the process.
type Result struct {
	EntryID     int64             `json:"id"`
	Title       string            `json:"title"`
	Snippet     string            `json:"snippet"`
	Combined    float64           `json:"combined_score"`
	Scores      Scores            `json:"scores"`
	Sensitivity model.Sensitivity `json:"sensitivity"`
	EntryType   model.EntryType   `json:"entry_type"`
}

// Doc renders the result as its wire-shaped map, for surfaces that
// post-process responses before serialization.
func (r Result) Doc() map[string]interface{} {
	return map[string]interface{}{
		"id":             r.EntryID,
		"title":          r.Title,
		"snippet":        r.Snippet,
		"combined_score": r.Combined,
		"scores": map[string]interface{}{
			"text":   r.Scores.Text,
			"vector": r.Scores.Vector,
		},
		"sensitivity": string(r.Sensitivity),
		"entry_type":  string(r.EntryType),
	}
}

// cached pairs results with the watermark they were computed under, so
// a stale hit is detected by comparison instead of eviction.
type cached struct {
	watermark string
	results   []Result
}

// Service runs hybrid searches with a short-TTL result cache.
type Service struct {
	index        Index
	embedder     embedding.Embedder
	cache        *ristretto.Cache
	ttl          time.Duration
	textWeight   float64
	vectorWeight float64
	log          *logrus.Logger
}

// New creates a search service. embedder may be nil, which disables
// the vector side entirely.
func New(index Index, embedder embedding.Embedder, cfg config.QueryConfig, log *logrus.Logger) (*Service, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 10_000,
		MaxCost:     1 << 12,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create query cache: %w", err)
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	textWeight, vectorWeight := cfg.TextWeight, cfg.VectorWeight
	if textWeight == 0 && vectorWeight == 0 {
		textWeight, vectorWeight = 0.6, 0.4
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Service{
		index:        index,
		embedder:     embedder,
		cache:        cache,
		ttl:          ttl,
		textWeight:   textWeight,
		vectorWeight: vectorWeight,
		log:          log,
	}, nil
}

// Close releases the result cache.
func (s *Service) Close() {
	s.cache.Close()
}

// Search returns up to limit entries ranked by combined text and
// vector score. A blank query returns nothing. Results are cached per
// (userID, limit, query) until the TTL lapses or any entry changes.
func (s *Service) Search(ctx context.Context, userID, query string, limit int) ([]Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = DefaultLimit
	}

	watermark, err := s.index.SearchWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("read search watermark: %w", err)
	}
	key := fmt.Sprintf("%s|%d|%s", userID, limit, query)
	if v, ok := s.cache.Get(key); ok {
		if hit, ok := v.(cached); ok && hit.watermark == watermark {
			return hit.results, nil
		}
	}

	text, err := s.index.TextScores(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("text scores: %w", err)
	}

	vector := map[int64]float64{}
	if s.embedder != nil {
		vec, err := s.embedder.Embed(ctx, query)
		if err != nil {
			// Degrade to lexical-only rather than failing the search.
			s.log.WithError(err).Warn("query embedding failed")
		} else {
			vector, err = s.index.VectorScores(ctx, vec, limit*3)
			if err != nil {
				return nil, fmt.Errorf("vector scores: %w", err)
			}
		}
	}

	ranked := combine(text, vector, s.textWeight, s.vectorWeight)
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}

	ids := make([]int64, len(ranked))
	for i, r := range ranked {
		ids[i] = r.id
	}
	entries, err := s.index.EntriesByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load ranked entries: %w", err)
	}

	results := make([]Result, 0, len(ranked))
	for _, r := range ranked {
		entry, ok := entries[r.id]
		if !ok {
			// Deleted between scoring and load.
			continue
		}
		results = append(results, Result{
			EntryID:     entry.ID,
			Title:       entry.Title,
			Snippet:     entry.Snippet(snippetLen),
			Combined:    r.combined,
			Scores:      Scores{Text: r.text, Vector: r.vector},
			Sensitivity: entry.Sensitivity,
			EntryType:   entry.EntryType,
		})
	}

	s.cache.SetWithTTL(key, cached{watermark: watermark, results: results}, 1, s.ttl)
	// Flush the set buffer so the next identical query sees the entry.
	s.cache.Wait()
	return results, nil
}

type scored struct {
	id                     int64
	combined, text, vector float64
}

// combine merges the two score maps with the given weights. An entry
// missing from one side scores zero there. Order is descending by
// (combined, text, vector) with entry id as the final tiebreak.
func combine(text, vector map[int64]float64, textWeight, vectorWeight float64) []scored {
	seen := make(map[int64]struct{}, len(text)+len(vector))
	for id := range text {
		seen[id] = struct{}{}
	}
	for id := range vector {
		seen[id] = struct{}{}
	}
	out := make([]scored, 0, len(seen))
	for id := range seen {
		t, v := text[id], vector[id]
		out = append(out, scored{
			id:       id,
			combined: textWeight*t + vectorWeight*v,
			text:     t,
			vector:   v,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.combined != b.combined {
			return a.combined > b.combined
		}
		if a.text != b.text {
			return a.text > b.text
		}
		if a.vector != b.vector {
			return a.vector > b.vector
		}
		return a.id < b.id
	})
	return out
}
