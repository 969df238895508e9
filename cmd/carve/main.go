// # cmd/carve/main.go
package main

import (
	"carve/internal/config"
	"carve/internal/core/errors"
	"carve/internal/packager"
	"carve/internal/shared/observability"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

var (
	configPath = flag.String("config", "./carve.toml", "Path to config file")
	crateName  = flag.String("crate", "", "Entry workspace crate name (required)")
	moduleArg  = flag.String("module", "crate", `Entry module path, e.g. "crate::foo::bar"`)
	outDir     = flag.String("out", "", "Output directory (overrides the config)")
	outName    = flag.String("name", "", `Name for the generated package (default "<crate>_subset")`)
	force      = flag.Bool("force", false, "Replace an existing destination")
	tree       = flag.Bool("tree", false, "Print reachable modules and exit without writing")
	watch      = flag.Bool("watch", false, "Stay resident and re-extract when workspace sources change")
	ui         = flag.Bool("ui", false, "Terminal UI browsing the closure (implies --watch)")
	verbose    = flag.Bool("verbose", false, "Enable verbose logging")
	version    = flag.Bool("version", false, "Print version and exit")
)

const VERSION = "1.0.0"

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("carve v%s\n", VERSION)
		os.Exit(0)
	}

	if *crateName == "" {
		fmt.Fprintln(os.Stderr, "--crate is required: carve --crate <name> [workspace-path]")
		os.Exit(1)
	}
	if *tree && (*watch || *ui) {
		fmt.Fprintln(os.Stderr, "--tree and --watch/--ui cannot be used together")
		os.Exit(1)
	}
	if *ui {
		*watch = true
	}

	// Setup logging
	logLevel := slog.LevelInfo
	if *verbose {
		logLevel = slog.LevelDebug
	}

	output := os.Stdout
	if *ui {
		// In UI mode, avoid stdout logs corrupting the TUI.
		logPath := resolveLogPath()
		if err := os.MkdirAll(filepath.Dir(logPath), 0700); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to create log dir for %s: %v\n", logPath, err)
		} else {
			if fi, err := os.Lstat(logPath); err == nil && (fi.Mode()&os.ModeSymlink) != 0 {
				fmt.Fprintf(os.Stderr, "warning: refusing to write logs to symlink path %s\n", logPath)
			} else {
				f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
				if err == nil {
					output = f
				} else {
					fmt.Fprintf(os.Stderr, "warning: failed to open log file %s: %v\n", logPath, err)
				}
			}
		}
	}

	logger := slog.New(slog.NewTextHandler(output, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	// Load config
	cfg, err := config.Load(*configPath)
	if err != nil && os.IsNotExist(err) && *configPath == "./carve.toml" {
		cfg, err = config.Load("./carve.example.toml")
		if err != nil && os.IsNotExist(err) {
			// No config file anywhere; defaults plus flags are enough.
			cfg = config.Default()
			err = nil
		}
	}
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	if flag.NArg() > 0 {
		cfg.Workspace = flag.Arg(0)
	}
	if *outDir != "" {
		cfg.OutputDir = *outDir
	}

	// Make the workspace path absolute relative to the current working directory.
	if !filepath.IsAbs(cfg.Workspace) {
		cwd, _ := os.Getwd()
		cfg.Workspace = filepath.Join(cwd, cfg.Workspace)
	}

	os.Exit(run(cfg))
}

func run(cfg *config.Config) int {
	ctx := context.Background()

	shutdownTracing, err := observability.InitTracing(ctx, cfg.Tracing.Endpoint, VERSION)
	if err != nil {
		slog.Warn("tracing setup failed, continuing without it", "error", err)
		shutdownTracing = func(context.Context) error { return nil }
	}
	defer shutdownTracing(context.Background())

	name := *outName
	if name == "" {
		name = *crateName + "_subset"
	}

	app, err := NewApp(cfg, AppOptions{
		EntryCrate: *crateName,
		EntryPath:  *moduleArg,
		Name:       name,
		Force:      *force,
		DryRun:     *tree,
		WatchMode:  *watch,
		UIMode:     *ui,
	})
	if err != nil {
		slog.Error("failed to initialize", "error", err)
		return 1
	}
	defer app.Close()

	result, err := app.RunOnce(ctx)
	if err != nil {
		slog.Error("extraction failed", "error", err)
		return exitCode(err)
	}

	if *tree {
		fmt.Print(app.FormatTree(result))
		return 0
	}

	app.PrintSummary(result)

	if !*watch {
		return 0
	}

	// Watch mode
	if err := app.StartWatcher(); err != nil {
		slog.Error("failed to start watcher", "error", err)
		return 1
	}

	if *ui {
		if err := app.RunUI(); err != nil {
			slog.Error("failed to run UI", "error", err)
			return 1
		}
		return 0
	}

	// Block forever
	select {}
}

// exitCode maps a run failure onto the documented exit codes: 1 for bad
// inputs (workspace metadata, entry crate), 2 for a destination conflict,
// 3 for everything that fails mid-extraction.
func exitCode(err error) int {
	switch {
	case packager.IsDestinationConflict(err):
		return 2
	case errors.IsCode(err, errors.CodeCargoMetadata), errors.IsCode(err, errors.CodeCrateNotFound):
		return 1
	default:
		return 3
	}
}

func resolveLogPath() string {
	if xdg := os.Getenv("XDG_STATE_HOME"); xdg != "" {
		return filepath.Join(xdg, "carve", "carve.log")
	}

	home, err := os.UserHomeDir()
	if err == nil && home != "" {
		return filepath.Join(home, ".local", "state", "carve", "carve.log")
	}

	return "carve.log"
}
