package main

import (
	"encoding/base64"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kalambet/fixhero/internal/export"
	"github.com/kalambet/fixhero/internal/quota"
	"github.com/kalambet/fixhero/internal/session"
)

type sessionResponse struct {
	Session *session.Session `json:"session"`
}

type sessionsResponse struct {
	Sessions []session.Session `json:"sessions"`
}

type issueResponse struct {
	Issue      *session.Issue      `json:"issue"`
	Suggestion *session.Suggestion `json:"suggestion"`
}

func splitTags(raw string) []string {
	if raw == "" {
		return nil
	}
	var tags []string
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}

func printSession(s *session.Session) {
	printStatus("ID", "%s", s.ID)
	printStatus("URL", "%s", s.URL)
	if s.Name != "" {
		printStatus("Name", "%s", s.Name)
	}
	if s.Description != "" {
		printStatus("Description", "%s", s.Description)
	}
	printStatus("Started", "%s", formatStart(s.StartTime))
	printStatus("Issues", "%d", len(s.Issues))
	for _, is := range s.Issues {
		sev := string(is.Severity)
		if sev == "" {
			sev = "-"
		}
		fmt.Fprintf(stdout, "    %s  [%s] %s (%s)\n", is.ID, colorize(severityColor(sev), sev), is.Title, is.Status)
	}
}

// --- session ---

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Manage capture sessions",
}

var sessionNewCmd = &cobra.Command{
	Use:   "new <url>",
	Short: "Start a session for a page; it becomes current",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		var out sessionResponse
		if err := client.post(cmd.Context(), "/sessions", map[string]string{"url": args[0]}, &out); err != nil {
			return err
		}
		printSuccess("Started session %s", out.Session.ID)
		return nil
	},
}

var sessionCurrentCmd = &cobra.Command{
	Use:   "current",
	Short: "Show the current session",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		var out sessionResponse
		if err := client.get(cmd.Context(), "/sessions/current", &out); err != nil {
			return err
		}
		if out.Session == nil {
			printWarning("No current session. Start one with: fixhero session new <url>")
			return nil
		}
		printSession(out.Session)
		return nil
	},
}

var sessionUseCmd = &cobra.Command{
	Use:   "use <id>",
	Short: "Make an existing session current",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		if err := client.put(cmd.Context(), "/sessions/current", map[string]string{"id": args[0]}, nil); err != nil {
			return err
		}
		printSuccess("Session %s is now current", args[0])
		return nil
	},
}

var sessionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		var out sessionsResponse
		if err := client.get(cmd.Context(), "/sessions", &out); err != nil {
			return err
		}
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return printJSON(out.Sessions)
		}
		if len(out.Sessions) == 0 {
			fmt.Fprintln(stdout, "No sessions.")
			return nil
		}
		for _, s := range out.Sessions {
			label := s.Name
			if label == "" {
				label = s.URL
			}
			fmt.Fprintf(stdout, "%s  %s  %3d issues  %s\n", colorize(colorBold, s.ID), formatStart(s.StartTime), len(s.Issues), label)
		}
		return nil
	},
}

var sessionShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a session and its issues",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		var out sessionResponse
		if err := client.get(cmd.Context(), "/sessions/"+url.PathEscape(args[0]), &out); err != nil {
			return err
		}
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return printJSON(out.Session)
		}
		printSession(out.Session)
		return nil
	},
}

var sessionRenameCmd = &cobra.Command{
	Use:   "rename <id>",
	Short: "Set a session's name or description",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var u session.MetadataUpdate
		if cmd.Flags().Changed("name") {
			name, _ := cmd.Flags().GetString("name")
			u.Name = &name
		}
		if cmd.Flags().Changed("description") {
			desc, _ := cmd.Flags().GetString("description")
			u.Description = &desc
		}
		if u.Name == nil && u.Description == nil {
			return fmt.Errorf("one of --name or --description is required")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		if err := client.patch(cmd.Context(), "/sessions/"+url.PathEscape(args[0]), u, nil); err != nil {
			return err
		}
		printSuccess("Updated session %s", args[0])
		return nil
	},
}

var sessionDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		if err := client.delete(cmd.Context(), "/sessions/"+url.PathEscape(args[0])); err != nil {
			return err
		}
		printSuccess("Deleted session %s", args[0])
		return nil
	},
}

var sessionClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every stored session",
	RunE: func(cmd *cobra.Command, args []string) error {
		if yes, _ := cmd.Flags().GetBool("yes"); !yes {
			return fmt.Errorf("this deletes all sessions; pass --yes to confirm")
		}
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		if err := client.delete(cmd.Context(), "/sessions"); err != nil {
			return err
		}
		printSuccess("All sessions deleted")
		return nil
	},
}

var sessionUsageCmd = &cobra.Command{
	Use:   "usage <id>",
	Short: "Estimate the storage a session takes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		var out struct {
			Usage quota.Usage `json:"usage"`
		}
		if err := client.get(cmd.Context(), "/sessions/"+url.PathEscape(args[0])+"/usage", &out); err != nil {
			return err
		}
		printStatus("Total", "%.1f KB", out.Usage.TotalKB)
		printStatus("Issues", "%.1f KB", out.Usage.IssuesKB)
		printStatus("Screenshots", "%.1f KB", out.Usage.ScreenshotsKB)
		printStatus("Metadata", "%.1f KB", out.Usage.MetadataKB)
		return nil
	},
}

var sessionExportCmd = &cobra.Command{
	Use:   "export <id>",
	Short: "Export a session as markdown, json, csv, html or a GitHub payload",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")
		browser, _ := cmd.Flags().GetString("browser")
		out, _ := cmd.Flags().GetString("out")
		if format != "" {
			if _, err := export.ForFormat(format); err != nil {
				return err
			}
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		query := map[string]string{}
		if format != "" {
			query["format"] = format
		}
		if browser != "" {
			query["browser"] = browser
		}
		doc, disposition, err := client.download(cmd.Context(), "/sessions/"+url.PathEscape(args[0])+"/export", query)
		if err != nil {
			return err
		}

		if out == "" {
			_, err := stdout.Write(doc)
			return err
		}
		if info, err := os.Stat(out); err == nil && info.IsDir() {
			out = filepath.Join(out, attachmentName(disposition, args[0]))
		}
		if err := os.WriteFile(out, doc, 0o644); err != nil {
			return fmt.Errorf("writing export: %w", err)
		}
		printSuccess("Wrote %s", out)
		return nil
	},
}

func attachmentName(disposition, fallback string) string {
	if _, params, err := mime.ParseMediaType(disposition); err == nil && params["filename"] != "" {
		return filepath.Base(params["filename"])
	}
	return "fixhero-" + fallback
}

var sessionSyncCmd = &cobra.Command{
	Use:   "sync <id>",
	Short: "Create one GitHub issue per captured issue",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		var out struct {
			Issues []export.CreatedIssue `json:"issues"`
		}
		if err := client.post(cmd.Context(), "/sessions/"+url.PathEscape(args[0])+"/sync/github", nil, &out); err != nil {
			return err
		}
		for _, is := range out.Issues {
			fmt.Fprintf(stdout, "#%d  %s\n", is.Number, is.HTMLURL)
		}
		printSuccess("Created %d GitHub issues", len(out.Issues))
		return nil
	},
}

func init() {
	sessionListCmd.Flags().Bool("json", false, "print raw JSON")
	sessionShowCmd.Flags().Bool("json", false, "print raw JSON")
	sessionRenameCmd.Flags().String("name", "", "session name")
	sessionRenameCmd.Flags().String("description", "", "session description")
	sessionClearCmd.Flags().Bool("yes", false, "confirm deleting every session")
	sessionExportCmd.Flags().String("format", "", "export format (default: the default_export_format preference)")
	sessionExportCmd.Flags().String("browser", "", "browser name to show in the report")
	sessionExportCmd.Flags().StringP("out", "o", "", "write to this file or directory instead of stdout")

	sessionCmd.AddCommand(sessionNewCmd, sessionCurrentCmd, sessionUseCmd, sessionListCmd, sessionShowCmd,
		sessionRenameCmd, sessionDeleteCmd, sessionClearCmd, sessionUsageCmd, sessionExportCmd, sessionSyncCmd)
}

// --- issue ---

var issueCmd = &cobra.Command{
	Use:   "issue",
	Short: "Record and triage issues",
}

var issueAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add an issue to the current session",
	Long: `Add an issue to the current session.

Examples:
  fixhero issue add --title "Checkout button hidden on mobile" --severity high --tags mobile,checkout
  fixhero issue add --title "Logo blurry" --screenshot ./logo.png`,
	RunE: func(cmd *cobra.Command, args []string) error {
		title, _ := cmd.Flags().GetString("title")
		if title == "" {
			return fmt.Errorf("--title is required")
		}
		notes, _ := cmd.Flags().GetString("notes")
		severity, _ := cmd.Flags().GetString("severity")
		category, _ := cmd.Flags().GetString("category")
		pageURL, _ := cmd.Flags().GetString("url")
		tags, _ := cmd.Flags().GetString("tags")
		shot, _ := cmd.Flags().GetString("screenshot")

		in := session.Issue{
			Title:    title,
			Notes:    notes,
			URL:      pageURL,
			Severity: session.Severity(severity),
			Category: category,
			Tags:     splitTags(tags),
		}
		if shot != "" {
			uri, err := screenshotURI(shot)
			if err != nil {
				return err
			}
			in.Screenshot = uri
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		var out issueResponse
		if err := client.post(cmd.Context(), "/sessions/current/issues", in, &out); err != nil {
			if _, ok := isAPIError(err, http.StatusConflict); ok {
				printWarning("start a session first with: fixhero session new <url>")
			}
			return err
		}
		printSuccess("Added issue %s to session %s", out.Issue.ID, out.Issue.SessionID)
		return nil
	},
}

// screenshotURI returns remote references unchanged and inlines local files
// as a base64 data URI.
func screenshotURI(ref string) (string, error) {
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") || strings.HasPrefix(ref, "data:") {
		return ref, nil
	}
	data, err := os.ReadFile(ref)
	if err != nil {
		return "", fmt.Errorf("reading screenshot: %w", err)
	}
	ct := mime.TypeByExtension(filepath.Ext(ref))
	if ct == "" {
		ct = http.DetectContentType(data)
	}
	return "data:" + ct + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}

func issuePath(sessionID, issueID string) string {
	return "/sessions/" + url.PathEscape(sessionID) + "/issues/" + url.PathEscape(issueID)
}

var issueUpdateCmd = &cobra.Command{
	Use:   "update <session-id> <issue-id>",
	Short: "Change an issue's title, notes, severity, status, category or tags",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var u session.IssueUpdate
		f := cmd.Flags()
		if f.Changed("title") {
			v, _ := f.GetString("title")
			u.Title = &v
		}
		if f.Changed("notes") {
			v, _ := f.GetString("notes")
			u.Notes = &v
		}
		if f.Changed("severity") {
			v, _ := f.GetString("severity")
			sev := session.Severity(v)
			u.Severity = &sev
		}
		if f.Changed("status") {
			v, _ := f.GetString("status")
			st := session.Status(v)
			u.Status = &st
		}
		if f.Changed("category") {
			v, _ := f.GetString("category")
			u.Category = &v
		}
		if f.Changed("tags") {
			v, _ := f.GetString("tags")
			tags := splitTags(v)
			if tags == nil {
				tags = []string{}
			}
			u.Tags = &tags
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		var out issueResponse
		if err := client.patch(cmd.Context(), issuePath(args[0], args[1]), u, &out); err != nil {
			return err
		}
		printSuccess("Updated issue %s", out.Issue.ID)
		return nil
	},
}

var issueDeleteCmd = &cobra.Command{
	Use:   "delete <session-id> <issue-id>",
	Short: "Delete an issue",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		if err := client.delete(cmd.Context(), issuePath(args[0], args[1])); err != nil {
			return err
		}
		printSuccess("Deleted issue %s", args[1])
		return nil
	},
}

var issueSuggestCmd = &cobra.Command{
	Use:   "suggest <session-id> <issue-id>",
	Short: "Ask the local model for severity, priority, summary and tags",
	Long: `Ask the local model for triage fields. The proposal is only printed;
pass --apply to merge it into the issue.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		path := issuePath(args[0], args[1]) + "/suggest"
		printStep("Asking the local model...")
		var out issueResponse
		if err := client.post(cmd.Context(), path, nil, &out); err != nil {
			return err
		}
		if out.Suggestion == nil {
			return fmt.Errorf("daemon returned no suggestion")
		}
		sg := out.Suggestion
		printStatus("Severity", "%s", sg.Severity)
		if sg.Priority != "" {
			printStatus("Priority", "%s", sg.Priority)
		}
		if sg.Summary != "" {
			printStatus("Summary", "%s", sg.Summary)
		}
		if sg.Fix != "" {
			printStatus("Suggested fix", "%s", sg.Fix)
		}
		printStatus("Tags", "%s", strings.Join(sg.Tags, ", "))

		if apply, _ := cmd.Flags().GetBool("apply"); !apply {
			printStep("Not saved; rerun with --apply to merge it into the issue")
			return nil
		}
		if err := client.post(cmd.Context(), path, map[string]any{"suggestion": sg}, &out); err != nil {
			return err
		}
		printSuccess("Applied suggestion to issue %s", args[1])
		return nil
	},
}

func init() {
	issueSuggestCmd.Flags().Bool("apply", false, "merge the suggestion into the issue")

	issueAddCmd.Flags().String("title", "", "issue title")
	issueAddCmd.Flags().String("notes", "", "notes or reproduction steps")
	issueAddCmd.Flags().String("severity", "", "low, medium, high or critical")
	issueAddCmd.Flags().String("category", "", "issue category")
	issueAddCmd.Flags().String("url", "", "page URL the issue was seen on")
	issueAddCmd.Flags().String("tags", "", "comma-separated tags")
	issueAddCmd.Flags().String("screenshot", "", "image file or URL")

	issueUpdateCmd.Flags().String("title", "", "issue title")
	issueUpdateCmd.Flags().String("notes", "", "notes")
	issueUpdateCmd.Flags().String("severity", "", "low, medium, high or critical")
	issueUpdateCmd.Flags().String("status", "", "open, in-progress or resolved")
	issueUpdateCmd.Flags().String("category", "", "issue category")
	issueUpdateCmd.Flags().String("tags", "", "comma-separated tags; replaces the current set")

	issueCmd.AddCommand(issueAddCmd, issueUpdateCmd, issueDeleteCmd, issueSuggestCmd)
}
