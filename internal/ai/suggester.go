// Package ai asks a local model for triage and tag suggestions on captured
// issues. Suggestions are proposals only; the session store decides how they
// are merged.
package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kalambet/fixhero/internal/ollama"
	"github.com/kalambet/fixhero/internal/session"
)

// DefaultTimeout bounds one suggestion round trip.
const DefaultTimeout = 30 * time.Second

// maxTags caps how many suggested tags are kept.
const maxTags = 5

// ErrEmptySuggestion is returned when the model answers with nothing usable.
var ErrEmptySuggestion = errors.New("model returned an empty suggestion")

// Chatter is the chat completion capability the Suggester needs.
type Chatter interface {
	Chat(ctx context.Context, model string, messages []ollama.Message, schema *ollama.Schema) (string, error)
}

// Suggester produces triage and tag suggestions for issues.
type Suggester struct {
	client  Chatter
	model   string
	timeout time.Duration
	logger  *slog.Logger
}

func NewSuggester(client Chatter, model string) *Suggester {
	return &Suggester{
		client:  client,
		model:   model,
		timeout: DefaultTimeout,
		logger:  slog.Default().With("component", "ai"),
	}
}

// WithTimeout returns a copy of s that gives up after d.
func (s *Suggester) WithTimeout(d time.Duration) *Suggester {
	cp := *s
	cp.timeout = d
	return &cp
}

type triageResult struct {
	Severity string   `json:"severity"`
	Priority string   `json:"priority"`
	Summary  string   `json:"summary"`
	Fix      string   `json:"fix"`
	Tags     []string `json:"tags"`
}

// SuggestTriage proposes severity, priority, a one-line summary, a likely
// fix and tags. A severity outside the known set is dropped rather than
// failing the whole suggestion.
func (s *Suggester) SuggestTriage(ctx context.Context, issue session.Issue) (session.Suggestion, error) {
	var res triageResult
	if err := s.ask(ctx, BuildTriagePrompt(issue), triageSchema(), &res); err != nil {
		return session.Suggestion{}, err
	}

	sg := session.Suggestion{
		Priority: strings.TrimSpace(res.Priority),
		Summary:  strings.TrimSpace(res.Summary),
		Fix:      strings.TrimSpace(res.Fix),
		Tags:     cleanTags(res.Tags),
	}
	sev := session.Severity(strings.ToLower(strings.TrimSpace(res.Severity)))
	if sev.Valid() {
		sg.Severity = sev
	} else if res.Severity != "" {
		s.logger.Debug("dropping unknown severity from model", "severity", res.Severity)
	}
	if sg.Severity == "" && sg.Summary == "" && sg.Fix == "" && sg.Priority == "" && len(sg.Tags) == 0 {
		return session.Suggestion{}, ErrEmptySuggestion
	}
	return sg, nil
}

// SuggestTags proposes up to five short tags.
func (s *Suggester) SuggestTags(ctx context.Context, issue session.Issue) ([]string, error) {
	var res struct {
		Tags []string `json:"tags"`
	}
	if err := s.ask(ctx, BuildTagPrompt(issue), tagSchema(), &res); err != nil {
		return nil, err
	}
	tags := cleanTags(res.Tags)
	if len(tags) == 0 {
		return nil, ErrEmptySuggestion
	}
	return tags, nil
}

func (s *Suggester) ask(ctx context.Context, messages []ollama.Message, schema *ollama.Schema, out any) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	raw, err := s.client.Chat(ctx, s.model, messages, schema)
	if err != nil {
		return fmt.Errorf("asking %s: %w", s.model, err)
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		s.logger.Warn("malformed suggestion from model", "error", err, "response", raw)
		return fmt.Errorf("decoding suggestion: %w", err)
	}
	return nil
}

// cleanTags lower-cases, trims and de-duplicates model tags.
func cleanTags(tags []string) []string {
	lowered := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(t), "#")))
		if t != "" {
			lowered = append(lowered, t)
		}
	}
	out := session.MergeTags(nil, lowered)
	if len(out) > maxTags {
		out = out[:maxTags]
	}
	return out
}

func triageSchema() *ollama.Schema {
	return &ollama.Schema{
		Type: "object",
		Properties: map[string]ollama.SchemaProperty{
			"severity": {Type: "string", Enum: []string{"low", "medium", "high", "critical"}},
			"priority": {Type: "string", Description: "P0 (drop everything) to P3 (whenever)"},
			"summary":  {Type: "string", Description: "One sentence describing the bug"},
			"fix":      {Type: "string", Description: "The most likely fix, in a few sentences"},
			"tags":     {Type: "array", Items: &ollama.SchemaProperty{Type: "string"}},
		},
		Required: []string{"severity", "priority", "summary", "fix", "tags"},
	}
}

func tagSchema() *ollama.Schema {
	return &ollama.Schema{
		Type: "object",
		Properties: map[string]ollama.SchemaProperty{
			"tags": {Type: "array", Description: "Short lowercase labels", Items: &ollama.SchemaProperty{Type: "string"}},
		},
		Required: []string{"tags"},
	}
}
