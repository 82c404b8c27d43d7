package ai

import (
	"fmt"
	"strings"

	"github.com/kalambet/fixhero/internal/ollama"
	"github.com/kalambet/fixhero/internal/session"
)

const triageSystemPrompt = `You are a front-end bug triage assistant. You receive one bug captured from a web page. Your output must be ONLY a single valid JSON object that conforms to the provided schema.

Severity:
- "critical": data loss, security problem, or the page is unusable
- "high": a core flow is broken with no workaround
- "medium": broken behaviour with a workaround, or a visible layout defect
- "low": cosmetic

Keep the summary to one sentence. Suggest a concrete fix based on the element, console and network evidence. Tags are short lowercase labels such as "layout", "a11y", "network", "javascript".`

const tagSystemPrompt = `You label front-end bugs. Your output must be ONLY a single valid JSON object with a "tags" array of at most five short lowercase labels such as "layout", "a11y", "forms", "network", "javascript", "performance".`

// maxEvidence caps how many console or network records go into a prompt.
const maxEvidence = 10

// BuildTriagePrompt constructs the chat messages for a triage suggestion.
func BuildTriagePrompt(issue session.Issue) []ollama.Message {
	return []ollama.Message{
		{Role: "system", Content: triageSystemPrompt},
		{Role: "user", Content: describe(issue)},
	}
}

// BuildTagPrompt constructs the chat messages for a tag suggestion.
func BuildTagPrompt(issue session.Issue) []ollama.Message {
	return []ollama.Message{
		{Role: "system", Content: tagSystemPrompt},
		{Role: "user", Content: describe(issue)},
	}
}

// describe renders the evidence of an issue as plain text. Screenshots are
// left out; the model only sees text.
func describe(issue session.Issue) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Title: %s\n", issue.Title)
	if issue.URL != "" {
		fmt.Fprintf(&b, "Page: %s\n", issue.URL)
	}
	if issue.Notes != "" {
		fmt.Fprintf(&b, "Notes: %s\n", issue.Notes)
	}
	if len(issue.Tags) > 0 {
		fmt.Fprintf(&b, "Existing tags: %s\n", strings.Join(issue.Tags, ", "))
	}
	if el := issue.ElementDetails; el != nil {
		fmt.Fprintf(&b, "Element: %s\n", el.Selector)
		if el.Text != "" {
			fmt.Fprintf(&b, "Element text: %s\n", truncate(el.Text, 200))
		}
		if el.OuterHTML != "" {
			fmt.Fprintf(&b, "Element HTML: %s\n", truncate(el.OuterHTML, 500))
		}
	}
	for i, ce := range issue.ConsoleErrors {
		if i == maxEvidence {
			fmt.Fprintf(&b, "(%d more console errors)\n", len(issue.ConsoleErrors)-i)
			break
		}
		fmt.Fprintf(&b, "Console error: %s\n", truncate(ce.Message, 300))
	}
	for i, ne := range issue.NetworkErrors {
		if i == maxEvidence {
			fmt.Fprintf(&b, "(%d more network errors)\n", len(issue.NetworkErrors)-i)
			break
		}
		fmt.Fprintf(&b, "Network error: %s %s -> %d %s\n", ne.Method, ne.URL, ne.Status, ne.StatusText)
	}
	return b.String()
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
