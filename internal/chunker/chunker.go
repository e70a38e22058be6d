// Package chunker splits entry content into segments for indexing.
package chunker

import (
	"strings"
)

const (
	DefaultTargetSize = 400
	DefaultMinSize    = 100
	DefaultMaxSize    = 600
)

// Options configures segmentation behavior. Sizes are in bytes.
type Options struct {
	TargetSize int
	MinSize    int
	MaxSize    int
}

// DefaultOptions returns default segmentation options.
func DefaultOptions() Options {
	return Options{
		TargetSize: DefaultTargetSize,
		MinSize:    DefaultMinSize,
		MaxSize:    DefaultMaxSize,
	}
}

// Segment is one contiguous piece of content with a rough token count.
type Segment struct {
	Text   string
	Tokens int
}

// Split breaks text into segments. Short text (<= MaxSize) returns a
// single segment.
func Split(text string, opts Options) []Segment {
	if opts.TargetSize == 0 {
		opts = DefaultOptions()
	}

	text = strings.TrimSpace(text)
	if len(text) == 0 {
		return nil
	}

	if len(text) <= opts.MaxSize {
		return []Segment{segment(text)}
	}

	return merge(splitBlocks(text), opts)
}

func segment(text string) Segment {
	return Segment{Text: text, Tokens: len(strings.Fields(text))}
}

// splitBlocks splits text on heading lines and double newlines.
func splitBlocks(text string) []string {
	lines := strings.Split(text, "\n")
	var blocks []string
	var current []string

	flush := func() {
		if len(current) == 0 {
			return
		}
		if t := strings.TrimSpace(strings.Join(current, "\n")); t != "" {
			blocks = append(blocks, t)
		}
		current = nil
	}

	prevEmpty := false
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)

		if strings.HasPrefix(trimmed, "#") && len(current) > 0 {
			flush()
		}

		if trimmed == "" {
			if prevEmpty && len(current) > 0 {
				flush()
			}
			prevEmpty = true
			current = append(current, line)
			continue
		}
		prevEmpty = false
		current = append(current, line)
	}
	flush()

	return blocks
}

// merge combines small blocks and splits oversized ones.
func merge(blocks []string, opts Options) []Segment {
	var segments []Segment
	var accum string

	flushAccum := func() {
		t := strings.TrimSpace(accum)
		if t == "" {
			return
		}
		if len(t) > opts.MaxSize {
			segments = append(segments, hardSplit(t, opts)...)
		} else {
			segments = append(segments, segment(t))
		}
		accum = ""
	}

	for _, b := range blocks {
		if accum == "" {
			accum = b
			continue
		}

		combined := accum + "\n\n" + b
		if len(combined) <= opts.TargetSize {
			accum = combined
		} else {
			flushAccum()
			accum = b
		}
	}
	flushAccum()

	return segments
}

// hardSplit breaks text that exceeds MaxSize on line boundaries.
func hardSplit(text string, opts Options) []Segment {
	lines := strings.Split(text, "\n")
	var segments []Segment
	var current []string
	curLen := 0

	for _, line := range lines {
		if curLen+len(line) > opts.TargetSize && len(current) > 0 {
			if t := strings.TrimSpace(strings.Join(current, "\n")); t != "" {
				segments = append(segments, segment(t))
			}
			current = nil
			curLen = 0
		}
		current = append(current, line)
		curLen += len(line) + 1 // +1 for newline
	}

	if len(current) > 0 {
		if t := strings.TrimSpace(strings.Join(current, "\n")); t != "" {
			segments = append(segments, segment(t))
		}
	}

	return segments
}
