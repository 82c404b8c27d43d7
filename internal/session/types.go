package session

import "strings"

// Session is a bounded unit of bug hunting on one page. Timestamps are epoch
// milliseconds, matching what the capture front end sends.
type Session struct {
	ID          string  `json:"id"`
	StartTime   int64   `json:"startTime"`
	URL         string  `json:"url"`
	Name        string  `json:"name,omitempty"`
	Description string  `json:"description,omitempty"`
	Issues      []Issue `json:"issues"`
}

// Severity of an issue. The zero value means "not yet classified".
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// Status is the triage state of an issue.
type Status string

const (
	StatusOpen       Status = "open"
	StatusInProgress Status = "in-progress"
	StatusResolved   Status = "resolved"
)

func (s Status) Valid() bool {
	switch s {
	case StatusOpen, StatusInProgress, StatusResolved:
		return true
	}
	return false
}

// Issue is one captured finding.
type Issue struct {
	ID             string          `json:"id"`
	Timestamp      int64           `json:"timestamp"`
	URL            string          `json:"url"`
	Title          string          `json:"title"`
	ElementDetails *ElementDetails `json:"elementDetails,omitempty"`
	// Screenshot is either a data URI (data:image/png;base64,...) or a URL.
	Screenshot    string         `json:"screenshot,omitempty"`
	ConsoleErrors []ConsoleError `json:"consoleErrors"`
	NetworkErrors []NetworkError `json:"networkErrors"`
	Notes         string         `json:"notes"`
	Severity      Severity       `json:"severity,omitempty"`
	Priority      string         `json:"priority,omitempty"`
	Summary       string         `json:"summary,omitempty"`
	SuggestedFix  string         `json:"suggestedFix,omitempty"`
	Category      string         `json:"category,omitempty"`
	Tags          []string       `json:"tags"`
	Status        Status         `json:"status"`
	SessionID     string         `json:"sessionId"`
	// GitHubIssue is the number of the GitHub issue opened for this one, or
	// zero before it has been synced.
	GitHubIssue int `json:"githubIssue,omitempty"`
}

// HasDataScreenshot reports whether the screenshot is embedded rather than
// referenced by URL.
func (i Issue) HasDataScreenshot() bool {
	return strings.HasPrefix(i.Screenshot, "data:")
}

// ElementDetails is a snapshot of an inspected DOM node.
type ElementDetails struct {
	Selector       string            `json:"selector"`
	XPath          string            `json:"xpath,omitempty"`
	Text           string            `json:"text,omitempty"`
	Attributes     map[string]string `json:"attributes,omitempty"`
	ComputedStyles map[string]string `json:"computedStyles,omitempty"`
	BoundingBox    *BoundingBox      `json:"boundingBox,omitempty"`
	OuterHTML      string            `json:"outerHTML,omitempty"`
}

type BoundingBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

type ConsoleError struct {
	Message   string `json:"message"`
	Source    string `json:"source,omitempty"`
	Line      int    `json:"line,omitempty"`
	Column    int    `json:"column,omitempty"`
	Stack     string `json:"stack,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

type NetworkError struct {
	URL        string `json:"url"`
	Method     string `json:"method"`
	Status     int    `json:"status"`
	StatusText string `json:"statusText,omitempty"`
	Timestamp  int64  `json:"timestamp"`
}

// Suggestion is what the AI collaborator proposes for an issue. Empty fields
// are left alone when the suggestion is applied.
type Suggestion struct {
	Severity Severity `json:"severity,omitempty"`
	Priority string   `json:"priority,omitempty"`
	Summary  string   `json:"summary,omitempty"`
	Fix      string   `json:"fix,omitempty"`
	Tags     []string `json:"tags,omitempty"`
}

// MetadataUpdate carries the user-editable session fields; nil means
// "leave unchanged".
type MetadataUpdate struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
}

// IssueUpdate carries the mutable issue fields; nil means "leave unchanged".
type IssueUpdate struct {
	Title    *string   `json:"title,omitempty"`
	Notes    *string   `json:"notes,omitempty"`
	Severity *Severity `json:"severity,omitempty"`
	Status   *Status   `json:"status,omitempty"`
	Category *string   `json:"category,omitempty"`
	Tags     *[]string `json:"tags,omitempty"`
}

// MergeTags appends the tags in add that are not already in existing,
// comparing case-insensitively and ignoring surrounding whitespace. The first
// spelling seen wins and order is preserved, so merging the same tags twice
// is a no-op.
func MergeTags(existing, add []string) []string {
	out := make([]string, 0, len(existing)+len(add))
	seen := make(map[string]bool, len(existing)+len(add))
	for _, group := range [][]string{existing, add} {
		for _, tag := range group {
			tag = strings.TrimSpace(tag)
			if tag == "" {
				continue
			}
			key := strings.ToLower(tag)
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, tag)
		}
	}
	return out
}
