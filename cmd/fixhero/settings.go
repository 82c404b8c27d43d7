package main

import (
	"bufio"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"runtime"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kalambet/fixhero/internal/auth"
	"github.com/kalambet/fixhero/internal/config"
	"github.com/kalambet/fixhero/internal/prefs"
	"github.com/kalambet/fixhero/internal/quota"
)

var stdin io.Reader = os.Stdin

// readSecret takes the first line of stdin so secrets never appear in argv
// or shell history.
func readSecret(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	line, err := bufio.NewReader(stdin).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("reading secret: %w", err)
	}
	secret := strings.TrimRight(line, "\r\n")
	if secret == "" {
		return "", fmt.Errorf("empty secret")
	}
	return secret, nil
}

// --- login ---

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Check credentials against the daemon and print the API token",
	Long: `Check credentials against the daemon and print the API token.

The secret is read from stdin. After three failed attempts logins are locked
for fifteen minutes.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		identifier, _ := cmd.Flags().GetString("identifier")
		if identifier == "" {
			return fmt.Errorf("--identifier is required")
		}
		secret, err := readSecret("Secret: ")
		if err != nil {
			return err
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		var out struct {
			Token string `json:"token"`
		}
		err = client.post(cmd.Context(), "/auth/login", map[string]string{
			"identifier": identifier,
			"secret":     secret,
		}, &out)
		if apiErr, ok := isAPIError(err, http.StatusLocked); ok {
			return fmt.Errorf("too many failed attempts; try again in %s", formatRemaining(apiErr.RemainingSeconds))
		}
		if err != nil {
			return err
		}
		printSuccess("Logged in")
		fmt.Fprintln(stdout, out.Token)
		return nil
	},
}

func formatRemaining(seconds int) string {
	if seconds < 60 {
		return fmt.Sprintf("%ds", seconds)
	}
	return fmt.Sprintf("%dm%02ds", seconds/60, seconds%60)
}

var loginStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether logins are locked",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		var out struct {
			Locked     bool `json:"locked"`
			Remaining  int  `json:"remainingTimeSeconds"`
			Configured bool `json:"configured"`
		}
		if err := client.get(cmd.Context(), "/auth/status", &out); err != nil {
			return err
		}
		switch {
		case !out.Configured:
			printWarning("No login credentials configured. Set them with: fixhero credentials set")
		case out.Locked:
			printStatus("Login", "%s (%s left)", colorize(colorRed, "locked"), formatRemaining(out.Remaining))
		default:
			printStatus("Login", "%s", colorize(colorGreen, "open"))
		}
		return nil
	},
}

// --- credentials ---

var credentialsCmd = &cobra.Command{
	Use:   "credentials",
	Short: "Manage stored secrets",
}

var credentialsSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Store the login identifier and secret hash, and optionally a GitHub token",
	RunE: func(cmd *cobra.Command, args []string) error {
		identifier, _ := cmd.Flags().GetString("identifier")
		ghToken, _ := cmd.Flags().GetString("github-token")
		kc := config.NewKeychain()

		if identifier != "" {
			secret, err := readSecret("New secret: ")
			if err != nil {
				return err
			}
			hash, err := auth.HashSecret(secret, 0)
			if err != nil {
				return err
			}
			if err := config.SetLoginCredentials(kc, identifier, hash); err != nil {
				return err
			}
			printSuccess("Stored login credentials for %s", identifier)
		}
		if ghToken != "" {
			if err := config.SetGitHubToken(kc, ghToken); err != nil {
				return err
			}
			printSuccess("Stored GitHub token")
		}
		if identifier == "" && ghToken == "" {
			return fmt.Errorf("nothing to set; pass --identifier and/or --github-token")
		}
		printStep("Restart the daemon to pick up new credentials.")
		return nil
	},
}

func init() {
	loginCmd.Flags().String("identifier", "", "login identifier")
	loginCmd.AddCommand(loginStatusCmd)

	credentialsSetCmd.Flags().String("identifier", "", "login identifier; the secret is read from stdin")
	credentialsSetCmd.Flags().String("github-token", "", "GitHub token used for issue sync")
	credentialsCmd.AddCommand(credentialsSetCmd)
}

// --- stats ---

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show storage usage against the configured quota",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		var out struct {
			Stats quota.Stats `json:"stats"`
		}
		if err := client.get(cmd.Context(), "/storage/stats", &out); err != nil {
			return err
		}
		st := out.Stats
		color := colorGreen
		if st.Percent >= 80 {
			color = colorYellow
		}
		if st.Percent >= 100 {
			color = colorRed
		}
		printStatus("Used", "%.2f MB of %.0f MB (%s)", st.UsedMB, st.TotalMB, colorize(color, fmt.Sprintf("%.1f%%", st.Percent)))
		return nil
	},
}

// --- prefs ---

var prefsCmd = &cobra.Command{
	Use:   "prefs",
	Short: "Show or change capture preferences",
}

var prefsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current preferences",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		var out struct {
			Preferences map[string]any `json:"preferences"`
		}
		if err := client.get(cmd.Context(), "/preferences", &out); err != nil {
			return err
		}
		printPrefs(out.Preferences)
		return nil
	},
}

var prefsSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Change one preference",
	Long:  "Change one preference. Valid keys: " + strings.Join(prefs.Keys(), ", "),
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		var out struct {
			Preferences map[string]any `json:"preferences"`
		}
		if err := client.patch(cmd.Context(), "/preferences", map[string]string{args[0]: args[1]}, &out); err != nil {
			return err
		}
		printSuccess("Set %s = %s", args[0], args[1])
		return nil
	},
}

func printPrefs(p map[string]any) {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(stdout, "  %s = %v\n", colorize(colorBold, k), p[k])
	}
}

func init() {
	prefsCmd.AddCommand(prefsShowCmd, prefsSetCmd)
}

// --- dashboard ---

var openBrowser = func(url string) error {
	var name string
	switch runtime.GOOS {
	case "darwin":
		name = "open"
	case "windows":
		return exec.Command("rundll32", "url.dll,FileProtocolHandler", url).Start()
	default:
		name = "xdg-open"
	}
	return exec.Command(name, url).Start()
}

var dashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Open the read-only session dashboard in a browser",
	RunE: func(cmd *cobra.Command, args []string) error {
		sessionID, _ := cmd.Flags().GetString("session")
		noOpen, _ := cmd.Flags().GetBool("no-open")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		var out struct {
			URL string `json:"url"`
		}
		body := map[string]string{}
		if sessionID != "" {
			body["sessionId"] = sessionID
		}
		if err := client.post(cmd.Context(), "/dashboard/open", body, &out); err != nil {
			return err
		}
		if noOpen {
			fmt.Fprintln(stdout, out.URL)
			return nil
		}
		if err := openBrowser(out.URL); err != nil {
			printWarning("could not open a browser: %v", err)
			fmt.Fprintln(stdout, out.URL)
			return nil
		}
		printSuccess("Opened dashboard")
		return nil
	},
}

func init() {
	dashboardCmd.Flags().String("session", "", "session to show (default: current)")
	dashboardCmd.Flags().Bool("no-open", false, "print the URL instead of opening it")
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update daemon configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		for _, k := range config.ShowAll(cfg) {
			fmt.Fprintf(stdout, "  %s = %s  %s\n", colorize(colorBold, k.Key), k.Value, colorize(colorCyan, "$"+k.EnvVar))
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long:  "Set a configuration value. Valid keys: " + strings.Join(config.ValidKeys(), ", "),
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]
		if err := config.SetKey(key, value); err != nil {
			return err
		}
		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd, configSetCmd)
}

var configUnsetCmd = &cobra.Command{
	Use:   "unset <key>",
	Short: "Remove a configuration value so its default applies",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.UnsetKey(args[0]); err != nil {
			return err
		}
		printSuccess("Unset %s", args[0])
		return nil
	},
}

func init() {
	configCmd.AddCommand(configUnsetCmd)
}
