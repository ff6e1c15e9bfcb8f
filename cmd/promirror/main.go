package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/promirror/promirror/internal/config"
	"github.com/promirror/promirror/internal/gitinfo"
	"github.com/promirror/promirror/internal/manifest"
	"github.com/promirror/promirror/internal/mirror"
	"github.com/promirror/promirror/internal/report"
	"github.com/promirror/promirror/internal/status"
	"github.com/promirror/promirror/internal/watch"
)

var (
	// Set by goreleaser
	version = "dev"
	commit  = "none"
	date    = "unknown"

	// Global flags
	cfgFile   string
	logLevel  string
	logFormat string
	dryRun    bool
	showDiff  bool
	strict    bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "promirror",
	Short: "Mirror project sources into an installed tree by content hash",
	Long: `promirror keeps an installed copy of a project's source files in sync with a
development working copy. File selection is driven by a qmake-style project
manifest, and only files whose content hash differs are copied.

It can run as a oneshot sync (via systemd timer or by hand) or as a
long-running daemon that watches the source tree for changes.`,
	SilenceUsage: true,
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Perform a one-time sync from source to destination",
	Long: `Sync reads the project manifest, compares the content hash of every listed
file between the source and destination trees, and copies the files that
differ. Destination files whose sources left the manifest are pruned when
sync.prune is enabled.`,
	RunE: runSync,
}

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Show what a sync would change without applying it",
	RunE:  runPlan,
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate the manifest against the source tree",
	Long: `Check reports manifest entries with no file on disk and source files the
manifest does not cover. With --strict (or manifest.strict in the config),
missing files make the command fail.`,
	RunE: runCheck,
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch the source tree and sync on every change",
	Long: `Watch performs an initial sync and then keeps mirroring: changes in the
source tree are debounced and applied automatically. When watch.status_addr
is configured (or a socket is passed via systemd activation), an HTTP status
endpoint reports the last run and accepts sync triggers.`,
	RunE: runWatch,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the state recorded by the last sync",
	RunE:  runStatus,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("promirror %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", date)
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/promirror/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text, json)")

	syncCmd.Flags().BoolVar(&dryRun, "dry-run", false, "show what would be done without making changes")
	planCmd.Flags().BoolVar(&showDiff, "diff", false, "show unified diffs of changed files")
	checkCmd.Flags().BoolVar(&strict, "strict", false, "fail when the manifest lists missing files")

	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(versionCmd)
}

func runSync(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	logger := setupLogger(nil)

	cfg, err := loadConfig(logger)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logger = setupLogger(&cfg.Log)

	engine, err := mirror.NewEngine(cfg, gitinfo.NewShellDescriber(), logger, dryRun)
	if err != nil {
		return err
	}

	if _, err := engine.Run(ctx); err != nil {
		logger.Error("sync failed", "error", err)
		return err
	}

	return nil
}

func runPlan(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	logger := setupLogger(nil)

	cfg, err := loadConfig(logger)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	engine, err := mirror.NewEngine(cfg, gitinfo.NewShellDescriber(), logger, true)
	if err != nil {
		return err
	}

	prevState, err := mirror.LoadState(cfg.StateFilePath())
	if err != nil {
		logger.Warn("failed to load previous state (will treat as fresh sync)", "error", err)
		prevState = &mirror.State{ManagedFiles: make(map[string]mirror.ManagedFile)}
	}

	plan, err := engine.BuildPlan(ctx, prevState)
	if err != nil {
		return fmt.Errorf("failed to build sync plan: %w", err)
	}

	if plan.Changes() == 0 {
		fmt.Println("Nothing to do, destination is up to date.")
		return nil
	}

	report.PlanTable(os.Stdout, plan)
	if showDiff {
		fmt.Println()
		if err := report.PlanDiffs(os.Stdout, plan); err != nil {
			return err
		}
	}

	return nil
}

func runCheck(cmd *cobra.Command, args []string) error {
	logger := setupLogger(nil)

	cfg, err := loadConfig(logger)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	manifestPath := cfg.ManifestPath()
	if manifestPath == "" {
		return fmt.Errorf("check requires manifest.file to be configured")
	}

	m, err := manifest.Load(manifestPath)
	if err != nil {
		return err
	}

	missing, err := m.Missing(cfg.Paths.Source, cfg.Manifest.Variables...)
	if err != nil {
		return err
	}
	unlisted, err := m.Unlisted(cfg.Paths.Source, manifestPath, cfg.Manifest.Variables...)
	if err != nil {
		return err
	}

	for _, rel := range missing {
		fmt.Printf("missing:  %s\n", rel)
	}
	for _, rel := range unlisted {
		fmt.Printf("unlisted: %s\n", rel)
	}

	fmt.Printf("%d file(s) listed, %d missing, %d unlisted\n",
		len(m.Files(cfg.Manifest.Variables...)), len(missing), len(unlisted))

	if (strict || cfg.Manifest.Strict) && len(missing) > 0 {
		return fmt.Errorf("manifest lists %d missing source file(s)", len(missing))
	}

	return nil
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	logger := setupLogger(nil)

	cfg, err := loadConfig(logger)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logger = setupLogger(&cfg.Log)

	engine, err := mirror.NewEngine(cfg, gitinfo.NewShellDescriber(), logger, false)
	if err != nil {
		return err
	}

	watcher := watch.New(cfg, logger, engine.Run)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return watcher.Run(ctx)
	})

	if cfg.Watch.StatusAddr != "" || os.Getenv("LISTEN_FDS") != "" {
		server, err := status.NewServer(cfg, logger,
			func() { watcher.Trigger(ctx) },
			func() status.Snapshot {
				last, lastErr := watcher.Last()
				return status.Snapshot{Watching: true, LastRun: last, Error: lastErr}
			})
		if err != nil {
			cancel()
			_ = g.Wait()
			return err
		}
		g.Go(func() error {
			return server.Start(ctx)
		})
	}

	return g.Wait()
}

func runStatus(cmd *cobra.Command, args []string) error {
	logger := setupLogger(nil)

	cfg, err := loadConfig(logger)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	state, err := mirror.LoadState(cfg.StateFilePath())
	if err != nil {
		return fmt.Errorf("failed to load state: %w", err)
	}

	if state.RunID == "" {
		fmt.Println("No sync recorded yet.")
		return nil
	}

	report.StateTable(os.Stdout, state)
	return nil
}

// setupLogger builds the slog logger. With a log config carrying a file
// name, output additionally goes to a rotating log file.
func setupLogger(logCfg *config.LogConfig) *slog.Logger {
	var level slog.Level
	switch logLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var out io.Writer = os.Stdout
	if logCfg != nil && logCfg.File != "" {
		out = io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   logCfg.File,
			MaxSize:    logCfg.MaxSizeMB,
			MaxBackups: logCfg.MaxBackups,
			MaxAge:     logCfg.MaxAgeDays,
			Compress:   logCfg.Compress,
		})
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	if logFormat == "json" {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}

	return slog.New(handler)
}

func loadConfig(logger *slog.Logger) (*config.Config, error) {
	configPath := cfgFile
	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		configPath = fmt.Sprintf("%s/.config/promirror/config.yaml", home)
	}

	logger.Info("loading configuration", "path", configPath)

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger.Debug("configuration loaded",
		"source", cfg.Paths.Source,
		"dest", cfg.Paths.Dest,
		"state_dir", cfg.Paths.StateDir,
		"manifest", cfg.ManifestPath())

	return cfg, nil
}

func setupSignalHandler() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigCh
		cancel()
	}()

	return ctx, cancel
}
