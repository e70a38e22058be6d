// Package model defines the core domain types: memory entries, consents,
// and the records derived from them.
package model

import (
	"fmt"
	"time"
)

// Sensitivity classifies how restricted an entry is. Levels are ordered
// least to most sensitive.
type Sensitivity string

const (
	SensitivityPublic       Sensitivity = "public"
	SensitivityConfidential Sensitivity = "confidential"
	SensitivitySecret       Sensitivity = "secret"
)

var sensitivityRank = map[Sensitivity]int{
	SensitivityPublic:       0,
	SensitivityConfidential: 1,
	SensitivitySecret:       2,
}

// Valid reports whether s is a recognized sensitivity level.
func (s Sensitivity) Valid() bool {
	_, ok := sensitivityRank[s]
	return ok
}

// Rank returns the ordering position of s (public=0, secret=2).
// Unrecognized values rank below public.
func (s Sensitivity) Rank() int {
	if r, ok := sensitivityRank[s]; ok {
		return r
	}
	return -1
}

// ParseSensitivity validates a wire value.
func ParseSensitivity(v string) (Sensitivity, error) {
	s := Sensitivity(v)
	if !s.Valid() {
		return "", Invalidf("unknown sensitivity %q", v)
	}
	return s, nil
}

// HighestSensitivity returns the most sensitive level in the collection.
// ok is false for an empty collection.
func HighestSensitivity(levels []Sensitivity) (Sensitivity, bool) {
	if len(levels) == 0 {
		return "", false
	}
	highest := levels[0]
	for _, l := range levels[1:] {
		if l.Rank() > highest.Rank() {
			highest = l
		}
	}
	return highest, true
}

// EntryType categorizes a memory entry.
type EntryType string

const (
	TypeFact  EntryType = "fact"
	TypeEvent EntryType = "event"
	TypeNote  EntryType = "note"
)

// Valid reports whether t is a recognized entry type.
func (t EntryType) Valid() bool {
	switch t {
	case TypeFact, TypeEvent, TypeNote:
		return true
	}
	return false
}

// ParseEntryType validates a wire value.
func ParseEntryType(v string) (EntryType, error) {
	t := EntryType(v)
	if !t.Valid() {
		return "", Invalidf("unknown entry_type %q", v)
	}
	return t, nil
}

// MemoryEntry is a stored memory record. Version starts at 1 and every
// field mutation increments it by exactly one under an expected-version
// precondition.
type MemoryEntry struct {
	ID          int64       `json:"id"`
	Title       string      `json:"title"`
	Content     string      `json:"content"`
	Sensitivity Sensitivity `json:"sensitivity"`
	EntryType   EntryType   `json:"entry_type"`
	Version     int64       `json:"version"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// Snippet returns the first n characters of the entry content.
func (e *MemoryEntry) Snippet(n int) string {
	runes := []rune(e.Content)
	if len(runes) <= n {
		return e.Content
	}
	return string(runes[:n])
}

// ETag renders the entry version as a quoted HTTP entity tag.
func (e *MemoryEntry) ETag() string {
	return fmt.Sprintf("%q", fmt.Sprintf("%d", e.Version))
}

// Embedding is one dense vector for an entry, read-only input to ranking.
type Embedding struct {
	EntryID   int64     `json:"entry_id"`
	Vector    []float32 `json:"vector"`
	Dimension int       `json:"dimension"`
	ModelName string    `json:"model_name"`
	CreatedAt time.Time `json:"created_at"`
}

// EntryChunk is one contiguous piece of an entry's content.
type EntryChunk struct {
	ID         int64  `json:"id"`
	EntryID    int64  `json:"entry_id"`
	Seq        int    `json:"seq"`
	Content    string `json:"content"`
	TokenCount int    `json:"token_count"`
}
