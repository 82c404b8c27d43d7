package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/fixhero/internal/ai"
	"github.com/kalambet/fixhero/internal/api"
	"github.com/kalambet/fixhero/internal/auth"
	"github.com/kalambet/fixhero/internal/config"
	"github.com/kalambet/fixhero/internal/enrich"
	"github.com/kalambet/fixhero/internal/export"
	"github.com/kalambet/fixhero/internal/metrics"
	"github.com/kalambet/fixhero/internal/ollama"
	"github.com/kalambet/fixhero/internal/prefs"
	"github.com/kalambet/fixhero/internal/quota"
	"github.com/kalambet/fixhero/internal/session"
	"github.com/kalambet/fixhero/internal/storage"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the fixhero daemon (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running fixhero daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon, storage and model status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "fixhero.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "fixhero version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parseLevel(cfg.Log.Level)})))

	apiToken, err := config.GetAPIToken(config.NewKeychain())
	if err != nil {
		return fmt.Errorf("initializing API token: %w", err)
	}
	slog.Info("API bearer token available")

	pidPath := pidFilePath(cfg.Storage.DataDir)
	baseURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(baseURL + "/health"); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("fixhero is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("fixhero is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sel, err := storage.Open(ctx, storage.Options{
		Kind:     cfg.Storage.Backend,
		DataDir:  cfg.Storage.DataDir,
		RedisURL: cfg.Storage.RedisURL,
	}, slog.Default())
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := sel.Backend.Close(); err != nil {
			slog.Warn("closing storage", "error", err)
		}
	}()
	if sel.Degraded {
		printWarning("storage %s unavailable, sessions will not survive a restart: %v", cfg.Storage.Backend, sel.Cause)
	}

	m := metrics.Default()
	prefsMgr := prefs.NewManager(sel.Backend)

	ollamaClient := ollama.New(cfg.Ollama.BaseURL)
	if err := ollama.Probe(ctx, ollamaClient, cfg.Ollama.Model); err != nil {
		slog.Warn("AI suggestions unavailable until ollama is ready", "error", err)
	}
	suggester := ai.NewSuggester(ollamaClient, cfg.Ollama.Model)

	var worker *enrich.Worker
	store := session.NewStore(sel.Backend,
		session.WithLimits(prefsMgr),
		session.WithMetrics(m),
		session.WithIssueHook(func(i session.Issue) { worker.Enqueue(i) }),
	)
	autoTag := func(ctx context.Context) bool {
		p, _ := prefsMgr.Get(ctx)
		return p.AutoTag
	}
	worker = enrich.NewWorker(suggester, store, autoTag, enrich.DefaultQueueSize, m)

	reporter := quota.NewReporter(sel.Backend, float64(cfg.Storage.QuotaMB))
	monitor := quota.NewMonitor(reporter, cfg.Monitor.Schedule, float64(cfg.Storage.WarnPercent), m)

	deps := api.Deps{
		Sessions:  store,
		Prefs:     prefsMgr,
		Quota:     reporter,
		Suggester: suggester,
		Token:     apiToken,
		BaseURL:   baseURL,
		Metrics:   m,
	}
	if v, err := auth.NewBcryptVerifier(cfg.Auth.Identifier, cfg.Auth.SecretHash); err == nil {
		deps.Guard = auth.NewGuard(sel.Backend, v, m)
	} else {
		slog.Warn("login disabled", "error", err)
	}
	if gh, err := export.NewGitHubClient(cfg.GitHub.APIURL, cfg.GitHub.Repo, cfg.GitHub.Token); err == nil {
		deps.GitHub = gh
	} else if !errors.Is(err, export.ErrGitHubNotConfigured) {
		slog.Warn("github sync disabled", "error", err)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port),
		Handler:           api.NewHandler(deps),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		fmt.Fprintf(os.Stderr, "fixhero listening on %s\n", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		fmt.Fprintln(os.Stderr, "shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error { return worker.Run(gctx) })
	g.Go(func() error {
		if err := monitor.Run(gctx); err != nil {
			slog.Warn("storage monitor stopped", "error", err)
		}
		return nil
	})

	if cfg.Server.MCP {
		mcpSrv := api.NewMCPServer(api.MCPDeps{
			Sessions: store,
			Prefs:    prefsMgr,
			Quota:    reporter,
			Version:  version,
		})
		stdioSrv := server.NewStdioServer(mcpSrv)
		g.Go(func() error {
			if err := stdioSrv.Listen(gctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("MCP stdio server error", "error", err)
			}
			return nil
		})
		slog.Info("MCP server started (stdio transport)")
	}

	return g.Wait()
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("fixhero is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop fixhero (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to fixhero (PID %d)", pid)
	return nil
}

func showStatus(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	client := &http.Client{Timeout: 2 * time.Second}
	running := false
	if resp, err := client.Get(fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)); err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		running = resp.StatusCode == http.StatusOK
		if running {
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	oc := ollama.New(cfg.Ollama.BaseURL)
	switch err := ollama.Probe(ctx, oc, cfg.Ollama.Model); {
	case err == nil:
		printStatus("Ollama", "ready at %s (%s)", cfg.Ollama.BaseURL, cfg.Ollama.Model)
	case errors.Is(err, ollama.ErrNotRunning):
		printStatus("Ollama", "not running")
	default:
		printStatus("Ollama", "%v", err)
	}

	printStatus("Storage", "%s", cfg.Storage.Backend)
	if running {
		if c, err := newAPIClient(); err == nil {
			var out struct {
				Stats quota.Stats `json:"stats"`
			}
			if err := c.get(ctx, "/storage/stats", &out); err == nil {
				printStatus("Usage", "%.2f MB of %.0f MB (%.1f%%)", out.Stats.UsedMB, out.Stats.TotalMB, out.Stats.Percent)
			}
			var cur struct {
				Session *session.Session `json:"session"`
			}
			if err := c.get(ctx, "/sessions/current", &cur); err == nil && cur.Session != nil {
				printStatus("Current session", "%s (%d issues)", cur.Session.ID, len(cur.Session.Issues))
			}
		}
	}
	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}
