package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/kalambet/fixhero/internal/storage"
)

// AddIssue appends in to the current session and returns the stored copy.
// It assigns the id, timestamp, session id and default status. When no
// session is current the issue is dropped and added is false with a nil
// error; callers that need confirmation must check added.
func (s *Store) AddIssue(ctx context.Context, in Issue) (issue *Issue, added bool, err error) {
	issue, err = s.addIssue(ctx, in)
	if err != nil || issue == nil {
		return nil, false, err
	}
	for _, fn := range s.onIssue {
		fn(*issue)
	}
	return issue, true, nil
}

func (s *Store) addIssue(ctx context.Context, in Issue) (*Issue, error) {
	if in.Severity != "" && !in.Severity.Valid() {
		return nil, fmt.Errorf("%w: severity %q", ErrInvalidField, in.Severity)
	}
	if in.Status != "" && !in.Status.Valid() {
		return nil, fmt.Errorf("%w: status %q", ErrInvalidField, in.Status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := s.currentID(ctx)
	if err != nil {
		return nil, err
	}
	if id == "" {
		s.logger.Debug("dropping issue, no current session", "title", in.Title)
		s.metrics.IssueDropped()
		return nil, nil
	}
	sess, err := s.get(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		s.logger.Warn("current session record missing, dropping issue", "session", id)
		if err := s.setCurrentLocked(ctx, ""); err != nil {
			s.logger.Warn("clearing stale current session", "session", id, "error", err)
			s.current = ""
		}
		s.metrics.IssueDropped()
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if limit := s.limits.SessionLimits(ctx).MaxIssuesPerSession; limit > 0 && len(sess.Issues) >= limit {
		return nil, fmt.Errorf("session %s holds %d issues: %w", sess.ID, len(sess.Issues), ErrIssueLimit)
	}

	issue := in
	for issue.ID == "" || sess.issueIndex(issue.ID) >= 0 {
		issue.ID = s.ids.Generate()
	}
	if issue.Timestamp == 0 {
		issue.Timestamp = s.clock.Now().UnixMilli()
	}
	if issue.Status == "" {
		issue.Status = StatusOpen
	}
	if issue.ConsoleErrors == nil {
		issue.ConsoleErrors = []ConsoleError{}
	}
	if issue.NetworkErrors == nil {
		issue.NetworkErrors = []NetworkError{}
	}
	issue.Tags = MergeTags(nil, issue.Tags)
	issue.SessionID = sess.ID

	sess.Issues = append(sess.Issues, issue)
	if err := s.put(ctx, sess); err != nil {
		return nil, err
	}
	s.metrics.IssueAdded()
	return &issue, nil
}

// Issue returns one issue of a session.
func (s *Store) Issue(ctx context.Context, sessionID, issueID string) (*Issue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	i := sess.issueIndex(issueID)
	if i < 0 {
		return nil, fmt.Errorf("issue %s: %w", issueID, storage.ErrNotFound)
	}
	issue := sess.Issues[i]
	return &issue, nil
}

// UpdateIssue applies the non-nil fields of u. Tags replace the existing set
// and are de-duplicated.
func (s *Store) UpdateIssue(ctx context.Context, sessionID, issueID string, u IssueUpdate) (*Issue, error) {
	if u.Severity != nil && *u.Severity != "" && !u.Severity.Valid() {
		return nil, fmt.Errorf("%w: severity %q", ErrInvalidField, *u.Severity)
	}
	if u.Status != nil && !u.Status.Valid() {
		return nil, fmt.Errorf("%w: status %q", ErrInvalidField, *u.Status)
	}
	return s.mutateIssue(ctx, sessionID, issueID, func(issue *Issue) {
		if u.Title != nil {
			issue.Title = *u.Title
		}
		if u.Notes != nil {
			issue.Notes = *u.Notes
		}
		if u.Severity != nil {
			issue.Severity = *u.Severity
		}
		if u.Status != nil {
			issue.Status = *u.Status
		}
		if u.Category != nil {
			issue.Category = *u.Category
		}
		if u.Tags != nil {
			issue.Tags = MergeTags(nil, *u.Tags)
		}
	})
}

// DeleteIssue removes an issue from its session.
func (s *Store) DeleteIssue(ctx context.Context, sessionID, issueID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.get(ctx, sessionID)
	if err != nil {
		return err
	}
	i := sess.issueIndex(issueID)
	if i < 0 {
		return fmt.Errorf("issue %s: %w", issueID, storage.ErrNotFound)
	}
	sess.Issues = append(sess.Issues[:i], sess.Issues[i+1:]...)
	return s.put(ctx, sess)
}

// AppendDiagnostics adds captured console and network errors to an issue.
// Existing records are never rewritten.
func (s *Store) AppendDiagnostics(ctx context.Context, sessionID, issueID string, console []ConsoleError, network []NetworkError) (*Issue, error) {
	return s.mutateIssue(ctx, sessionID, issueID, func(issue *Issue) {
		issue.ConsoleErrors = append(issue.ConsoleErrors, console...)
		issue.NetworkErrors = append(issue.NetworkErrors, network...)
	})
}

// ApplySuggestion merges an accepted AI suggestion into an issue. Empty
// suggestion fields leave the issue unchanged and tags are merged as a set.
func (s *Store) ApplySuggestion(ctx context.Context, sessionID, issueID string, sg Suggestion) (*Issue, error) {
	if sg.Severity != "" && !sg.Severity.Valid() {
		return nil, fmt.Errorf("%w: severity %q", ErrInvalidField, sg.Severity)
	}
	return s.mutateIssue(ctx, sessionID, issueID, func(issue *Issue) {
		if sg.Severity != "" {
			issue.Severity = sg.Severity
		}
		if sg.Priority != "" {
			issue.Priority = sg.Priority
		}
		if sg.Summary != "" {
			issue.Summary = sg.Summary
		}
		if sg.Fix != "" {
			issue.SuggestedFix = sg.Fix
		}
		issue.Tags = MergeTags(issue.Tags, sg.Tags)
	})
}

// LinkGitHubIssue records the GitHub issue number opened for an issue so a
// later sync skips it.
func (s *Store) LinkGitHubIssue(ctx context.Context, sessionID, issueID string, number int) (*Issue, error) {
	if number <= 0 {
		return nil, fmt.Errorf("%w: github issue number %d", ErrInvalidField, number)
	}
	return s.mutateIssue(ctx, sessionID, issueID, func(issue *Issue) {
		issue.GitHubIssue = number
	})
}

// MergeTags adds tags to an issue, skipping ones it already carries.
func (s *Store) MergeTags(ctx context.Context, sessionID, issueID string, tags []string) (*Issue, error) {
	return s.mutateIssue(ctx, sessionID, issueID, func(issue *Issue) {
		issue.Tags = MergeTags(issue.Tags, tags)
	})
}

func (s *Store) mutateIssue(ctx context.Context, sessionID, issueID string, fn func(*Issue)) (*Issue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	i := sess.issueIndex(issueID)
	if i < 0 {
		return nil, fmt.Errorf("issue %s: %w", issueID, storage.ErrNotFound)
	}
	fn(&sess.Issues[i])
	if err := s.put(ctx, sess); err != nil {
		return nil, err
	}
	issue := sess.Issues[i]
	return &issue, nil
}

func (sess *Session) issueIndex(id string) int {
	for i := range sess.Issues {
		if sess.Issues[i].ID == id {
			return i
		}
	}
	return -1
}
