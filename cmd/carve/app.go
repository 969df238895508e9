// # cmd/carve/app.go
package main

import (
	"carve/internal/cargo"
	"carve/internal/config"
	"carve/internal/engine/classify"
	"carve/internal/engine/closure"
	"carve/internal/engine/graph"
	"carve/internal/engine/modtree"
	"carve/internal/history"
	"carve/internal/output"
	"carve/internal/packager"
	"carve/internal/shared/observability"
	"carve/internal/shared/util"
	"carve/internal/watcher"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Watch-mode builds keep parsed file scans for this many files.
const scanCacheCapacity = 8192

// Above this heap size a change batch prunes the scan cache before re-running.
const maxHeapMB = 512

// loadWorkspace is a seam for tests, which cannot assume a cargo binary on
// the path.
var loadWorkspace = cargo.FromCargo

type AppOptions struct {
	EntryCrate string
	EntryPath  string
	Name       string
	Force      bool
	// DryRun computes the closure but writes nothing.
	DryRun    bool
	WatchMode bool
	UIMode    bool
}

type App struct {
	Config *config.Config
	opts   AppOptions

	builder *modtree.Builder
	store   *history.Store
	watcher *watcher.Watcher

	metricsServer *http.Server

	runMu sync.Mutex
	// After the first successful write the destination belongs to this
	// process; watch-mode re-runs replace it without requiring --force.
	ownsDest bool

	statusMu   sync.Mutex
	last       *RunResult
	lastRun    time.Time
	lastErr    string
	teaProgram *tea.Program
}

// RunResult carries the artifacts of one extraction. On failure the fields
// populated before the failing stage are still set, so reporting can say how
// far the run got.
type RunResult struct {
	Workspace *cargo.Workspace
	Forest    *modtree.Forest
	Graph     *graph.Graph
	Entry     modtree.ID
	Closure   *closure.Result
	Plan      *packager.Plan
	Duration  time.Duration
}

func NewApp(cfg *config.Config, opts AppOptions) (*App, error) {
	builder := modtree.NewBuilder()
	if opts.WatchMode {
		builder = modtree.NewBuilderWithCache(scanCacheCapacity)
	}

	a := &App{
		Config:  cfg,
		opts:    opts,
		builder: builder,
	}

	if cfg.History.Enabled {
		store, err := history.Open(cfg.History.Path)
		if err != nil {
			return nil, err
		}
		a.store = store
	}

	return a, nil
}

// RunOnce executes the full pipeline once: metadata, module trees, reference
// graph, closure, and (outside dry runs) packaging, graph renders and a
// history row. Concurrent calls serialize.
func (a *App) RunOnce(ctx context.Context) (*RunResult, error) {
	a.runMu.Lock()
	defer a.runMu.Unlock()

	start := time.Now()
	result, err := a.extract(ctx)
	result.Duration = time.Since(start)

	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	observability.RunsTotal.WithLabelValues(outcome).Inc()

	if !a.opts.DryRun {
		a.recordRun(result, err)
	}

	a.statusMu.Lock()
	a.lastRun = time.Now()
	if err != nil {
		a.lastErr = err.Error()
	} else {
		a.lastErr = ""
		a.last = result
	}
	a.statusMu.Unlock()

	if err != nil {
		return nil, err
	}
	return result, nil
}

// extract runs the pipeline stages in order. The returned result is partial
// when err is non-nil.
func (a *App) extract(ctx context.Context) (*RunResult, error) {
	result := &RunResult{}

	ctx, span := observability.Tracer.Start(ctx, "extract",
		trace.WithAttributes(attribute.String("entry.crate", a.opts.EntryCrate)))
	defer span.End()

	sctx, done := stage(ctx, "metadata")
	ws, err := loadWorkspace(sctx, a.Config.Workspace)
	done()
	if err != nil {
		return result, err
	}
	result.Workspace = ws

	crate, err := ws.Crate(a.opts.EntryCrate)
	if err != nil {
		return result, err
	}
	entry, err := resolveEntry(crate, a.opts.EntryPath)
	if err != nil {
		return result, err
	}
	result.Entry = entry

	sctx, done = stage(ctx, "modtree")
	forest, err := a.builder.BuildWorkspace(sctx, ws, a.Config.Parallelism)
	done()
	if err != nil {
		return result, err
	}
	result.Forest = forest

	_, done = stage(ctx, "graph")
	classifier := classify.New(ws, forest, a.Config.ExternalCrateSet())
	g, err := graph.Build(forest, classifier)
	done()
	if err != nil {
		return result, err
	}
	result.Graph = g

	_, done = stage(ctx, "closure")
	res, err := closure.Compute(forest, g, entry)
	done()
	if err != nil {
		return result, err
	}
	result.Closure = res

	span.SetAttributes(
		attribute.Int("closure.modules", len(res.Members)),
		attribute.Int("closure.crates", len(res.Crates)),
	)
	for _, warning := range res.Warnings {
		slog.Warn("closure warning", "warning", warning)
	}

	if a.opts.DryRun {
		return result, nil
	}

	_, done = stage(ctx, "package")
	pkg := packager.New(ws, forest, packager.Options{
		Name:      a.opts.Name,
		OutputDir: a.Config.OutputDir,
		Force:     a.opts.Force || a.ownsDest,
		Externals: a.Config.ExternalCrateSet(),
	})
	plan, err := pkg.Plan(res)
	if err == nil {
		err = pkg.Write(plan)
	}
	done()
	if err != nil {
		return result, err
	}
	result.Plan = plan
	a.ownsDest = true

	if err := a.GenerateOutputs(g, res); err != nil {
		slog.Error("failed to render graph outputs", "error", err)
	}

	return result, nil
}

// stage opens a pipeline-stage span and times it. The done func ends both.
func stage(ctx context.Context, name string) (context.Context, func()) {
	start := time.Now()
	ctx, span := observability.Tracer.Start(ctx, name)
	return ctx, func() {
		span.End()
		observability.StageDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	}
}

// resolveEntry maps the --module path onto a module of the entry crate. A
// leading "crate" segment (or the crate's own name) is accepted and dropped;
// trailing item names resolve to their containing module.
func resolveEntry(crate *cargo.Crate, entryPath string) (modtree.ID, error) {
	segments := []string(modtree.ParseID(entryPath))
	if len(segments) > 0 && (segments[0] == "crate" || segments[0] == crate.Name) {
		segments = segments[1:]
	}

	resolved, _, err := crate.Module(segments)
	if err != nil {
		return nil, err
	}
	return append(modtree.ID{crate.Name}, resolved...), nil
}

// GenerateOutputs renders the closure-annotated reference graph to whichever
// formats the config names.
func (a *App) GenerateOutputs(g *graph.Graph, res *closure.Result) error {
	cycles := retainedCycles(g, res)

	if a.Config.Outputs.DOT != "" {
		dot, err := output.NewDOTGenerator(g, res).Generate(cycles)
		if err != nil {
			return err
		}
		if err := util.WriteStringWithDirs(a.Config.Outputs.DOT, dot, 0o644); err != nil {
			return err
		}
	}

	if a.Config.Outputs.Mermaid != "" {
		gen := output.NewMermaidGenerator(g, res)
		gen.SetModuleMetrics(g.ComputeModuleMetrics())
		mermaid, err := gen.Generate(cycles)
		if err != nil {
			return err
		}
		if err := util.WriteStringWithDirs(a.Config.Outputs.Mermaid, mermaid, 0o644); err != nil {
			return err
		}
	}

	if a.Config.Outputs.TSV != "" {
		tsv, err := output.NewTSVGenerator(g, res).Generate()
		if err != nil {
			return err
		}
		if err := util.WriteStringWithDirs(a.Config.Outputs.TSV, tsv, 0o644); err != nil {
			return err
		}
	}

	return nil
}

// retainedCycles recomputes the cycles among fully retained modules so the
// renderers can highlight the edges behind the recorded warnings.
func retainedCycles(g *graph.Graph, res *closure.Result) [][]string {
	full := make(map[string]bool, len(res.Members))
	for key, membership := range res.Members {
		if membership == closure.MemberFull {
			full[key] = true
		}
	}
	return g.DetectCyclesWithin(full)
}

// recordRun persists one history row, successful or not. History failures
// are logged, never fatal.
func (a *App) recordRun(result *RunResult, runErr error) {
	if a.store == nil {
		return
	}

	run := history.Run{
		Timestamp:     time.Now().UTC(),
		WorkspaceRoot: a.Config.Workspace,
		EntryCrate:    a.opts.EntryCrate,
		EntryModule:   a.opts.EntryPath,
		Duration:      result.Duration,
		Success:       runErr == nil,
	}
	if result.Workspace != nil {
		run.WorkspaceRoot = result.Workspace.Root
	}
	if len(result.Entry) > 0 {
		run.EntryModule = result.Entry.String()
	}
	if result.Closure != nil {
		run.ModuleCount = len(result.Closure.Members)
		run.CrateCount = len(result.Closure.Crates)
		run.WarningCount = len(result.Closure.Warnings)
	}
	if result.Plan != nil {
		run.OutputPath = result.Plan.Dest
		run.FileCount = len(result.Plan.Files)
	}
	if runErr != nil {
		run.Error = runErr.Error()
	}
	run.CommitHash, run.Branch = history.ResolveGitMetadata(run.WorkspaceRoot)

	if _, err := a.store.SaveRun(run); err != nil {
		slog.Warn("failed to record run history", "error", err)
	}
}

// FormatTree renders the --tree listing: every retained module with its
// source file, shells marked, then warnings and a history footer.
func (a *App) FormatTree(result *RunResult) string {
	res := result.Closure

	var b strings.Builder
	fmt.Fprintf(&b, "Closure of %s: %d modules in %d crates\n\n",
		result.Entry, len(res.Members), len(res.Crates))

	for _, id := range res.ModuleIDs() {
		label := id.String()
		if res.IsShell(id) {
			label += " (shell)"
		}
		file := ""
		if mod, ok := result.Forest.Module(id); ok {
			file = relPath(result.Workspace.Root, mod.File)
		}
		fmt.Fprintf(&b, "  %-44s %s\n", label, file)
	}

	if len(res.Warnings) > 0 {
		fmt.Fprintf(&b, "\n%d warnings:\n", len(res.Warnings))
		for _, warning := range res.Warnings {
			fmt.Fprintf(&b, "  %v\n", warning)
		}
	}

	if footer := a.historyFooter(result.Workspace.Root); footer != "" {
		b.WriteString("\n")
		b.WriteString(footer)
	}

	return b.String()
}

// historyFooter summarizes recent runs for the same workspace, newest first,
// with a week-scale module-count trend when enough runs exist.
func (a *App) historyFooter(workspaceRoot string) string {
	if a.store == nil {
		return ""
	}

	runs, err := a.store.RecentRuns(workspaceRoot, 5)
	if err != nil || len(runs) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("Recent runs:\n")
	for _, run := range runs {
		status := "ok"
		if !run.Success {
			status = "failed"
		}
		commit := run.CommitHash
		if commit == "" {
			commit = "-"
		}
		fmt.Fprintf(&b, "  %s  %-6s  %3d modules  %s\n",
			run.Timestamp.Format("2006-01-02 15:04"), status, run.ModuleCount, commit)
	}

	since := time.Now().AddDate(0, 0, -7)
	trendRuns, err := a.store.RunsSince(workspaceRoot, since)
	if err == nil && len(trendRuns) >= 2 {
		report, err := history.BuildTrendReport(trendRuns, 24*time.Hour)
		if err == nil && len(report.Points) >= 2 {
			first := report.Points[0]
			last := report.Points[len(report.Points)-1]
			fmt.Fprintf(&b, "Trend (7d, %d runs): %d -> %d modules (%+d)\n",
				report.RunCount, first.ModuleCount, last.ModuleCount,
				last.ModuleCount-first.ModuleCount)
		}
	}

	return b.String()
}

func (a *App) PrintSummary(result *RunResult) {
	if a.opts.UIMode || result == nil || result.Plan == nil {
		return
	}
	res := result.Closure

	fmt.Println(strings.Repeat("-", 40))
	fmt.Printf("Extracted %s -> %s\n", result.Entry, result.Plan.Dest)
	fmt.Printf("Modules: %d (%d shells) | Crates: %d | Files: %d | Duration: %v\n",
		len(res.Members), shellCount(res), len(res.Crates), len(result.Plan.Files),
		result.Duration.Round(time.Millisecond))

	if len(res.Warnings) > 0 {
		fmt.Printf("⚠️  RETAINED %d REFERENCE CYCLES:\n", len(res.Warnings))
		for _, warning := range res.Warnings {
			fmt.Printf("   %v\n", warning)
		}
	} else {
		fmt.Println("✅ No reference cycles retained.")
	}
	fmt.Println(strings.Repeat("-", 40))
}

// HandleChanges is the watcher callback: invalidate cached scans for the
// changed files and re-run the pipeline. A failed re-run leaves the previous
// output in place.
func (a *App) HandleChanges(paths []string) {
	slog.Info("detected changes", "count", len(paths))
	a.builder.Invalidate(paths)
	if util.HeapAllocMB() > maxHeapMB {
		slog.Debug("pruning scan cache under heap pressure", "evicted", a.builder.PruneCache(20))
	}

	result, err := a.RunOnce(context.Background())
	if err != nil {
		slog.Error("re-extraction failed, previous output kept", "error", err)
		a.notifyUI(nil, err)
		return
	}

	a.PrintSummary(result)
	a.notifyUI(result, nil)
}

func (a *App) StartWatcher() error {
	a.startMetricsServer()

	w, err := watcher.New(watcher.Options{
		Debounce:      a.Config.Watch.Debounce,
		Include:       a.Config.Watch.Include,
		ExcludeDirs:   a.Config.Watch.ExcludeDirs,
		ExcludeFiles:  a.Config.Watch.ExcludeFiles,
		RunsPerMinute: a.Config.Watch.RunsPerMinute,
	}, a.HandleChanges)
	if err != nil {
		return err
	}
	a.watcher = w

	// The watcher runs for the life of the process.
	return w.Watch(a.watchRoots())
}

// watchRoots lists the member crate directories of the last loaded
// workspace, falling back to the workspace root before any run has
// completed. A crate directory nested inside another member's is dropped;
// the recursive watch on the outer one already covers it.
func (a *App) watchRoots() []string {
	a.statusMu.Lock()
	last := a.last
	a.statusMu.Unlock()

	if last == nil || last.Workspace == nil {
		return []string{a.Config.Workspace}
	}

	seen := make(map[string]bool)
	dirs := make([]string, 0, len(last.Workspace.Crates))
	for _, name := range last.Workspace.MemberNames() {
		crate, err := last.Workspace.Crate(name)
		if err != nil {
			continue
		}
		dir := filepath.Dir(crate.ManifestPath)
		if !seen[dir] {
			seen[dir] = true
			dirs = append(dirs, dir)
		}
	}

	// A parent directory sorts before anything nested under it.
	sort.Strings(dirs)
	roots := make([]string, 0, len(dirs))
	for _, dir := range dirs {
		nested := false
		for _, root := range roots {
			if util.HasPathPrefix(dir, root) {
				nested = true
				break
			}
		}
		if !nested {
			roots = append(roots, dir)
		}
	}
	return roots
}

// startMetricsServer exposes /metrics and /health while in watch mode.
func (a *App) startMetricsServer() {
	if !a.Config.Metrics.Enabled {
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		a.statusMu.Lock()
		status := healthStatus{
			Status:    "up",
			LastRun:   a.lastRun,
			Workspace: a.Config.Workspace,
			LastError: a.lastErr,
		}
		a.statusMu.Unlock()
		if status.LastError != "" {
			status.Status = "degraded"
		}

		w.Header().Set("Content-Type", "application/json")
		if status.Status != "up" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(status)
	})

	a.metricsServer = &http.Server{
		Addr:    a.Config.Metrics.Listen,
		Handler: mux,
	}

	slog.Info("metrics listener starting", "addr", a.Config.Metrics.Listen)
	go func() {
		if err := a.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("metrics listener failed", "error", err)
		}
	}()
}

type healthStatus struct {
	Status    string    `json:"status"`
	LastRun   time.Time `json:"last_run"`
	Workspace string    `json:"workspace"`
	LastError string    `json:"last_error,omitempty"`
}

func (a *App) RunUI() error {
	a.statusMu.Lock()
	last := a.last
	m := initialModel(a.Config.Workspace)
	p := tea.NewProgram(m, tea.WithAltScreen())
	a.teaProgram = p
	a.statusMu.Unlock()

	// Seed the UI with the state of the initial run.
	go a.notifyUI(last, nil)

	_, err := p.Run()
	return err
}

func (a *App) notifyUI(result *RunResult, runErr error) {
	a.statusMu.Lock()
	p := a.teaProgram
	a.statusMu.Unlock()
	if p == nil {
		return
	}

	msg := updateMsg{}
	if runErr != nil {
		msg.err = runErr.Error()
	}
	if result != nil {
		res := result.Closure
		msg.entry = result.Entry.String()
		msg.moduleCount = len(res.Members)
		msg.crateCount = len(res.Crates)
		if result.Plan != nil {
			msg.fileCount = len(result.Plan.Files)
		}
		for _, id := range res.ModuleIDs() {
			file := ""
			if mod, ok := result.Forest.Module(id); ok {
				file = relPath(result.Workspace.Root, mod.File)
			}
			msg.modules = append(msg.modules, moduleRow{
				name:  id.String(),
				file:  file,
				shell: res.IsShell(id),
			})
		}
		for _, warning := range res.Warnings {
			msg.warnings = append(msg.warnings, warning.Error())
		}
	}

	p.Send(msg)
}

func (a *App) Close() error {
	if a.watcher != nil {
		a.watcher.Close()
	}
	if a.metricsServer != nil {
		a.metricsServer.Shutdown(context.Background())
	}
	if a.store != nil {
		return a.store.Close()
	}
	return nil
}

func shellCount(res *closure.Result) int {
	count := 0
	for _, membership := range res.Members {
		if membership == closure.MemberShell {
			count++
		}
	}
	return count
}

func relPath(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return path
	}
	return rel
}
