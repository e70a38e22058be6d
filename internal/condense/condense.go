// Package condense produces extractive summaries of entry content and
// drives the job queue that schedules them.
package condense

import (
	"context"
	"strings"
	"unicode"

	"github.com/sirupsen/logrus"

	"github.com/memvault/memvault/internal/model"
)

const (
	maxSentences   = 3
	summaryCap     = 1024
	fallbackPrefix = 256
)

// splitSentences breaks text on whitespace runs that follow sentence
// punctuation. Newlines are folded to spaces first so a hard-wrapped
// paragraph still splits on its sentence boundaries.
func splitSentences(text string) []string {
	normalized := strings.TrimSpace(strings.ReplaceAll(text, "\n", " "))
	if normalized == "" {
		return nil
	}
	var sentences []string
	var b strings.Builder
	runes := []rune(normalized)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		b.WriteRune(r)
		if r != '.' && r != '!' && r != '?' {
			continue
		}
		j := i + 1
		for j < len(runes) && unicode.IsSpace(runes[j]) {
			j++
		}
		if j > i+1 {
			if s := strings.TrimSpace(b.String()); s != "" {
				sentences = append(sentences, s)
			}
			b.Reset()
			i = j - 1
		}
	}
	if s := strings.TrimSpace(b.String()); s != "" {
		sentences = append(sentences, s)
	}
	return sentences
}

// Summarize produces a lightweight extractive summary: the first three
// sentences capped at 1024 characters, or the first 256 characters when
// the content has no sentence structure at all.
func Summarize(content string) string {
	sentences := splitSentences(content)
	if len(sentences) == 0 {
		trimmed := []rune(strings.TrimSpace(content))
		if len(trimmed) > fallbackPrefix {
			trimmed = trimmed[:fallbackPrefix]
		}
		return string(trimmed)
	}
	if len(sentences) > maxSentences {
		sentences = sentences[:maxSentences]
	}
	summary := []rune(strings.Join(sentences, " "))
	if len(summary) > summaryCap {
		summary = summary[:summaryCap]
	}
	return string(summary)
}

// JobStore is the store surface the runner drains jobs from.
type JobStore interface {
	AcquireNextJob(ctx context.Context) (*model.CondensationJob, error)
	EntryByID(ctx context.Context, id int64) (*model.MemoryEntry, error)
	CompleteJob(ctx context.Context, id int64, summary string) (*model.CondensationJob, error)
	FailJob(ctx context.Context, id int64, message string) (*model.CondensationJob, error)
}

// Runner processes due condensation jobs one at a time. Failed jobs
// stay failed until somebody reschedules them; there is no automatic
// retry.
type Runner struct {
	jobs JobStore
	log  *logrus.Logger
}

// NewRunner creates a runner over the given job store.
func NewRunner(jobs JobStore, log *logrus.Logger) *Runner {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Runner{jobs: jobs, log: log}
}

// Run drains due jobs until none remain or maxJobs is reached.
// maxJobs <= 0 means unbounded. Returns the number of jobs processed,
// counting both completions and failures.
func (r *Runner) Run(ctx context.Context, maxJobs int) (int, error) {
	processed := 0
	for maxJobs <= 0 || processed < maxJobs {
		job, err := r.jobs.AcquireNextJob(ctx)
		if err != nil {
			return processed, err
		}
		if job == nil {
			break
		}
		r.process(ctx, job)
		processed++
	}
	return processed, nil
}

func (r *Runner) process(ctx context.Context, job *model.CondensationJob) {
	entry, err := r.jobs.EntryByID(ctx, job.EntryID)
	if err != nil {
		if _, failErr := r.jobs.FailJob(ctx, job.ID, err.Error()); failErr != nil {
			r.log.WithError(failErr).WithField("job_id", job.ID).Error("mark condensation job failed")
		}
		return
	}
	if _, err := r.jobs.CompleteJob(ctx, job.ID, Summarize(entry.Content)); err != nil {
		r.log.WithError(err).WithField("job_id", job.ID).Error("complete condensation job")
	}
}
