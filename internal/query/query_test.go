package query

import (
	"context"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/memvault/memvault/internal/config"
	"github.com/memvault/memvault/internal/embedding"
	"github.com/memvault/memvault/internal/model"
)

type fakeIndex struct {
	watermark string
	text      map[int64]float64
	vector    map[int64]float64
	entries   map[int64]model.MemoryEntry
	textCalls int
	lastLimit int
}

func (f *fakeIndex) SearchWatermark(ctx context.Context) (string, error) {
	return f.watermark, nil
}

func (f *fakeIndex) TextScores(ctx context.Context, q string, limit int) (map[int64]float64, error) {
	f.textCalls++
	f.lastLimit = limit
	return f.text, nil
}

func (f *fakeIndex) VectorScores(ctx context.Context, v embedding.Vector, keep int) (map[int64]float64, error) {
	return f.vector, nil
}

func (f *fakeIndex) EntriesByIDs(ctx context.Context, ids []int64) (map[int64]model.MemoryEntry, error) {
	out := map[int64]model.MemoryEntry{}
	for _, id := range ids {
		if e, ok := f.entries[id]; ok {
			out[id] = e
		}
	}
	return out, nil
}

func testEntry(id int64, title, content string) model.MemoryEntry {
	return model.MemoryEntry{
		ID: id, Title: title, Content: content,
		Sensitivity: model.SensitivityPublic, EntryType: model.TypeNote, Version: 1,
	}
}

func newTestService(t *testing.T, f *fakeIndex) *Service {
	t.Helper()
	svc, err := New(f, embedding.NewHashEmbedder(16), config.QueryConfig{
		CacheTTL:     time.Minute,
		TextWeight:   0.6,
		VectorWeight: 0.4,
	}, nil)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	t.Cleanup(svc.Close)
	return svc
}

func TestCombineWeighted(t *testing.T) {
	text := map[int64]float64{1: 0.6, 2: 0.1}
	vector := map[int64]float64{1: 0.2, 2: 0.9}

	ranked := combine(text, vector, 0.6, 0.4)
	if len(ranked) != 2 {
		t.Fatalf("got %d ranked, want 2", len(ranked))
	}
	if ranked[0].id != 1 || ranked[1].id != 2 {
		t.Fatalf("order = [%d, %d], want [1, 2]", ranked[0].id, ranked[1].id)
	}
	if math.Abs(ranked[0].combined-0.44) > 1e-9 {
		t.Errorf("combined(1) = %f, want 0.44", ranked[0].combined)
	}
	if math.Abs(ranked[1].combined-0.42) > 1e-9 {
		t.Errorf("combined(2) = %f, want 0.42", ranked[1].combined)
	}
}

func TestCombineMissingSideScoresZero(t *testing.T) {
	ranked := combine(map[int64]float64{1: 0.5}, map[int64]float64{2: 0.5}, 0.6, 0.4)
	if len(ranked) != 2 {
		t.Fatalf("got %d ranked, want 2", len(ranked))
	}
	// 0.6*0.5 beats 0.4*0.5.
	if ranked[0].id != 1 {
		t.Errorf("text-only entry should outrank vector-only at equal raw score")
	}
	if ranked[0].vector != 0 || ranked[1].text != 0 {
		t.Errorf("missing sides should be zero, got %+v", ranked)
	}
}

func TestCombineTiebreaksByID(t *testing.T) {
	ranked := combine(map[int64]float64{9: 0.5, 3: 0.5}, nil, 0.6, 0.4)
	if ranked[0].id != 3 || ranked[1].id != 9 {
		t.Errorf("ties should break by id asc, got [%d, %d]", ranked[0].id, ranked[1].id)
	}
}

func TestSearchBlankQuery(t *testing.T) {
	f := &fakeIndex{watermark: "0:"}
	svc := newTestService(t, f)

	for _, q := range []string{"", "   ", "\n\t"} {
		results, err := svc.Search(context.Background(), "u1", q, 10)
		if err != nil {
			t.Fatalf("search %q: %v", q, err)
		}
		if len(results) != 0 {
			t.Errorf("blank query %q returned %d results", q, len(results))
		}
	}
	if f.textCalls != 0 {
		t.Errorf("blank queries should not touch the index, calls = %d", f.textCalls)
	}
}

func TestSearchDefaultLimit(t *testing.T) {
	f := &fakeIndex{watermark: "1:x", text: map[int64]float64{1: 1}, entries: map[int64]model.MemoryEntry{1: testEntry(1, "a", "b")}}
	svc := newTestService(t, f)

	if _, err := svc.Search(context.Background(), "u1", "hello", 0); err != nil {
		t.Fatalf("search: %v", err)
	}
	if f.lastLimit != DefaultLimit {
		t.Errorf("limit = %d, want %d", f.lastLimit, DefaultLimit)
	}
}

func TestSearchCachesUntilWatermarkMoves(t *testing.T) {
	f := &fakeIndex{
		watermark: "2:2026-01-01T00:00:00.000000000Z",
		text:      map[int64]float64{1: 0.9, 2: 0.4},
		entries: map[int64]model.MemoryEntry{
			1: testEntry(1, "first", "alpha"),
			2: testEntry(2, "second", "beta"),
		},
	}
	svc := newTestService(t, f)
	ctx := context.Background()

	first, err := svc.Search(ctx, "u1", "alpha", 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	second, err := svc.Search(ctx, "u1", "alpha", 10)
	if err != nil {
		t.Fatalf("cached search: %v", err)
	}
	if f.textCalls != 1 {
		t.Fatalf("identical search should hit the cache, index calls = %d", f.textCalls)
	}
	if len(first) != len(second) || first[0].EntryID != second[0].EntryID {
		t.Errorf("cached results differ: %+v vs %+v", first, second)
	}

	// A different caller misses the per-user cache entry.
	if _, err := svc.Search(ctx, "u2", "alpha", 10); err != nil {
		t.Fatalf("search as u2: %v", err)
	}
	if f.textCalls != 2 {
		t.Errorf("per-user keying broken, index calls = %d", f.textCalls)
	}

	// Any entry change moves the watermark and invalidates the hit.
	f.watermark = "3:2026-01-02T00:00:00.000000000Z"
	if _, err := svc.Search(ctx, "u1", "alpha", 10); err != nil {
		t.Fatalf("search after change: %v", err)
	}
	if f.textCalls != 3 {
		t.Errorf("stale watermark should recompute, index calls = %d", f.textCalls)
	}
}

func TestSearchDropsVanishedEntries(t *testing.T) {
	f := &fakeIndex{
		watermark: "1:x",
		text:      map[int64]float64{1: 0.9, 99: 0.8},
		entries:   map[int64]model.MemoryEntry{1: testEntry(1, "kept", "still here")},
	}
	svc := newTestService(t, f)

	results, err := svc.Search(context.Background(), "u1", "here", 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 1 || results[0].EntryID != 1 {
		t.Fatalf("results = %+v, want only entry 1", results)
	}
}

func TestSearchSnippetAndTruncation(t *testing.T) {
	long := strings.Repeat("lorem ipsum ", 50)
	f := &fakeIndex{
		watermark: "3:x",
		text:      map[int64]float64{1: 0.9, 2: 0.8, 3: 0.7},
		entries: map[int64]model.MemoryEntry{
			1: testEntry(1, "one", long),
			2: testEntry(2, "two", "short"),
			3: testEntry(3, "three", "short"),
		},
	}
	svc := newTestService(t, f)

	results, err := svc.Search(context.Background(), "u1", "lorem", 2)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("limit 2 returned %d results", len(results))
	}
	if got := len([]rune(results[0].Snippet)); got != snippetLen {
		t.Errorf("snippet length = %d, want %d", got, snippetLen)
	}
	if results[0].Combined <= results[1].Combined {
		t.Errorf("results out of order: %f then %f", results[0].Combined, results[1].Combined)
	}
}
