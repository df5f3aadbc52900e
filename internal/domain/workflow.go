package domain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/MatthewMckee4/karva/internal/adapter"
	"github.com/MatthewMckee4/karva/internal/controller"
	"github.com/MatthewMckee4/karva/internal/model"
)

// ErrInvocation marks user errors (bad arguments, unreadable paths)
// that map to exit code 2.
var ErrInvocation = errors.New("invalid invocation")

// Exit codes for the test command.
const (
	ExitOK          = 0
	ExitFailures    = 1
	ExitInvocation  = 2
	ExitWorkerCrash = 3
)

// TestArgs parameterizes a main-process test run.
type TestArgs struct {
	RootDir    string
	RawTargets []string
	Settings   model.Settings
	CacheRoot  string
	ConfigFile string
	RunID      string
}

// WorkerArgs parameterizes a worker-process run over its shard.
type WorkerArgs struct {
	RootDir  string
	RunID    string
	WorkerID int
	CacheDir string
	Paths    []string
	Settings model.Settings
}

// RunSummary is the aggregated result of a run.
type RunSummary struct {
	Records     []model.ResultRecord
	Collection  []model.Diagnostic
	Duration    time.Duration
	TestCount   int
	ExitCode    int
}

// Workflow ties the pipeline together: resolve paths, discover,
// normalize, execute, aggregate, report.
type Workflow interface {
	Test(ctx context.Context, args TestArgs) (*RunSummary, error)
	Worker(ctx context.Context, args WorkerArgs) error
}

type workflow struct {
	fs             adapter.SourceFSAdapter
	store          adapter.ResultStore
	workers        adapter.WorkerAdapter
	ui             controller.UI
	runtimeFactory RuntimeFactory
}

// NewWorkflow constructs the Workflow with its collaborators.
func NewWorkflow(
	fs adapter.SourceFSAdapter,
	store adapter.ResultStore,
	workers adapter.WorkerAdapter,
	ui controller.UI,
	factory RuntimeFactory,
) Workflow {
	return &workflow{
		fs:             fs,
		store:          store,
		workers:        workers,
		ui:             ui,
		runtimeFactory: factory,
	}
}

// Test implements Workflow.
func (w *workflow) Test(ctx context.Context, args TestArgs) (*RunSummary, error) {
	start := time.Now()

	root, err := filepath.Abs(args.RootDir)
	if err != nil {
		return nil, fmt.Errorf("%w: cannot resolve project root: %v", ErrInvocation, err)
	}

	targets, err := w.fs.ResolveTargets(ctx, model.Path(root), args.RawTargets)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvocation, err)
	}

	project := model.NewProject(model.Path(root), targets, args.Settings)

	discoverer := NewDiscoverer(w.fs)

	tree, diags, err := discoverer.Discover(ctx, project)
	if err != nil {
		return nil, err
	}

	suite, err := NewNormalizer(nil).Normalize(tree)
	if err != nil {
		return nil, err
	}
	diags = append(diags, suite.Diagnostics...)

	w.ui.DisplayCollection(ctx, len(suite.Tests), diags)

	runID := args.RunID
	if runID == "" {
		runID = fmt.Sprintf("%d-%d", time.Now().Unix(), os.Getpid())
	}

	cacheRoot := args.CacheRoot
	if cacheRoot == "" {
		cacheRoot = filepath.Join(root, ".karva", "cache")
	}

	orch := NewOrchestrator(w.store, w.workers, w.runtimeFactory)

	records, err := orch.Execute(ctx, project, suite, ExecuteArgs{
		RunID:      runID,
		CacheRoot:  model.Path(cacheRoot),
		ConfigFile: args.ConfigFile,
		OnRecord: func(rec model.ResultRecord) {
			w.ui.DisplayRecord(ctx, rec)
		},
	})
	if err != nil {
		return nil, err
	}

	summary := &RunSummary{
		Records:    records,
		Collection: diags,
		Duration:   time.Since(start),
		TestCount:  len(suite.Tests),
		ExitCode:   exitCodeFor(records, diags),
	}

	if err := w.ui.DisplaySummary(ctx, records, diags, summary.Duration); err != nil {
		slog.Error("failed to render summary", "error", err)
	}

	return summary, nil
}

// Worker implements Workflow: local discovery over the assigned shard
// paths, execution, and streaming results into this worker's cache
// file.
func (w *workflow) Worker(ctx context.Context, args WorkerArgs) error {
	root, err := filepath.Abs(args.RootDir)
	if err != nil {
		return fmt.Errorf("cannot resolve project root: %w", err)
	}

	targets, err := w.fs.ResolveTargets(ctx, model.Path(root), args.Paths)
	if err != nil {
		return err
	}

	project := model.NewProject(model.Path(root), targets, args.Settings)

	tree, diags, err := NewDiscoverer(w.fs).Discover(ctx, project)
	if err != nil {
		return err
	}

	rt, err := w.runtimeFactory(project.Root)
	if err != nil {
		return fmt.Errorf("failed to start python runtime: %w", err)
	}

	if args.Settings.TryImportFixtures {
		w.warmImports(tree, rt)
	}

	suite, err := NewNormalizer(rt).Normalize(tree)
	if err != nil {
		return err
	}

	for _, diag := range append(diags, suite.Diagnostics...) {
		slog.Warn("collection diagnostic", "kind", diag.Kind, "location", diag.Location.String(), "message", diag.Message)
	}

	log, err := w.store.OpenResults(model.Path(args.CacheDir), args.RunID, args.WorkerID)
	if err != nil {
		return err
	}

	defer func() {
		if err := log.Close(); err != nil {
			slog.Error("failed to close results log", "error", err)
		}
	}()

	sink := func(rec model.ResultRecord) {
		if err := log.Append(rec); err != nil {
			slog.Error("failed to write result record", "test", rec.DisplayName, "error", err)
		}
	}

	executor := NewExecutor(rt, project.Root, args.Settings, suite, sink)

	err = executor.Run(ctx, suite.Tests)
	if err != nil && !errors.Is(err, ErrFailFast) && !errors.Is(err, context.Canceled) {
		return err
	}

	return nil
}

// warmImports imports every discovered module up front so runtime
// definitions are observable before tests run. Import failures surface
// later as the affected tests execute.
func (w *workflow) warmImports(pkg *model.Package, rt Runtime) {
	if pkg.Conftest != nil {
		if _, err := rt.ImportModule(pkg.Conftest.Path); err != nil {
			slog.Warn("failed to pre-import conftest", "path", pkg.Conftest.Path, "error", err)
		}
	}

	for _, mod := range pkg.SortedModules() {
		if _, err := rt.ImportModule(mod.Path); err != nil {
			slog.Warn("failed to pre-import module", "path", mod.Path, "error", err)
		}
	}

	for _, child := range pkg.SortedChildren() {
		w.warmImports(child, rt)
	}
}

// exitCodeFor maps the aggregated outcomes onto the CLI exit contract.
func exitCodeFor(records []model.ResultRecord, diags []model.Diagnostic) int {
	code := ExitOK

	for _, diag := range diags {
		if diag.Kind == model.DiagParseError || diag.Kind == model.DiagFixtureCycle {
			code = ExitFailures
		}
	}

	for _, rec := range records {
		if rec.Outcome.Phase == model.PhaseWorker {
			return ExitWorkerCrash
		}
		if !rec.Outcome.Passing() && rec.Outcome.Phase != model.PhaseTeardown {
			code = ExitFailures
		}
	}

	return code
}
