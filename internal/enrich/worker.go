// Package enrich tags newly captured issues in the background when
// automatic tagging is enabled.
package enrich

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/kalambet/fixhero/internal/metrics"
	"github.com/kalambet/fixhero/internal/session"
	"github.com/kalambet/fixhero/internal/storage"
)

// DefaultQueueSize bounds how many issues may wait for tagging.
const DefaultQueueSize = 64

// TagSuggester proposes tags for an issue.
type TagSuggester interface {
	SuggestTags(ctx context.Context, issue session.Issue) ([]string, error)
}

// IssueTagger merges tags into a stored issue.
type IssueTagger interface {
	MergeTags(ctx context.Context, sessionID, issueID string, tags []string) (*session.Issue, error)
}

// Switch reports whether automatic tagging is currently on.
type Switch func(ctx context.Context) bool

// Job identifies one issue to tag.
type Job struct {
	SessionID string
	IssueID   string
	issue     session.Issue
}

// Worker drains a bounded in-memory queue of issues. Enqueue never blocks
// the capture path; a full queue drops the job.
type Worker struct {
	suggester TagSuggester
	store     IssueTagger
	enabled   Switch
	queue     chan Job
	metrics   *metrics.Recorder
	logger    *slog.Logger
}

// NewWorker creates a Worker. If queueSize is <= 0 it defaults to
// DefaultQueueSize; a nil enabled switch means always on.
func NewWorker(suggester TagSuggester, store IssueTagger, enabled Switch, queueSize int, m *metrics.Recorder) *Worker {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if enabled == nil {
		enabled = func(context.Context) bool { return true }
	}
	return &Worker{
		suggester: suggester,
		store:     store,
		enabled:   enabled,
		queue:     make(chan Job, queueSize),
		metrics:   m,
		logger:    slog.Default().With("component", "enrich"),
	}
}

// Enqueue schedules issue for tagging and reports whether it was accepted.
func (w *Worker) Enqueue(issue session.Issue) bool {
	job := Job{SessionID: issue.SessionID, IssueID: issue.ID, issue: issue}
	select {
	case w.queue <- job:
		w.metrics.EnrichQueueDepth(len(w.queue))
		return true
	default:
		w.logger.Warn("enrich queue full, skipping issue", "session", issue.SessionID, "issue", issue.ID)
		return false
	}
}

// Pending returns the number of queued jobs.
func (w *Worker) Pending() int { return len(w.queue) }

// Run processes jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("enrich worker started")
	for {
		select {
		case <-ctx.Done():
			return nil
		case job := <-w.queue:
			w.metrics.EnrichQueueDepth(len(w.queue))
			if err := w.process(ctx, job); err != nil {
				w.logger.Warn("tagging issue failed", "session", job.SessionID, "issue", job.IssueID, "error", err)
			}
		}
	}
}

// RunOnce processes a single queued job without waiting. It returns true if
// a job was taken, regardless of whether tagging succeeded.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	select {
	case job := <-w.queue:
		w.metrics.EnrichQueueDepth(len(w.queue))
		return true, w.process(ctx, job)
	default:
		return false, nil
	}
}

func (w *Worker) process(ctx context.Context, job Job) error {
	if !w.enabled(ctx) {
		return nil
	}
	tags, err := w.suggester.SuggestTags(ctx, job.issue)
	if err != nil {
		return fmt.Errorf("suggesting tags: %w", err)
	}
	if _, err := w.store.MergeTags(ctx, job.SessionID, job.IssueID, tags); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			// Deleted while queued.
			return nil
		}
		return fmt.Errorf("merging tags: %w", err)
	}
	w.logger.Debug("issue tagged", "issue", job.IssueID, "tags", tags)
	return nil
}
