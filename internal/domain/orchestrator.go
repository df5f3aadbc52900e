package domain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MatthewMckee4/karva/internal/adapter"
	"github.com/MatthewMckee4/karva/internal/model"
)

// failurePollInterval is how often the main process scans worker results
// for fail-fast cancellation.
const failurePollInterval = 200 * time.Millisecond

// ExecuteArgs parameterizes one execution round.
type ExecuteArgs struct {
	RunID      string
	CacheRoot  model.Path
	ConfigFile string

	// OnRecord observes records as they arrive (in-process runs only).
	OnRecord ResultSink
}

// Orchestrator runs the normalized test set, in-process or across
// worker subprocesses, and aggregates the results.
type Orchestrator interface {
	Execute(ctx context.Context, project *model.Project, suite *NormalizedSuite, args ExecuteArgs) ([]model.ResultRecord, error)
}

type orchestrator struct {
	store          adapter.ResultStore
	workers        adapter.WorkerAdapter
	runtimeFactory RuntimeFactory
}

// NewOrchestrator constructs an Orchestrator.
func NewOrchestrator(store adapter.ResultStore, workers adapter.WorkerAdapter, factory RuntimeFactory) Orchestrator {
	return &orchestrator{store: store, workers: workers, runtimeFactory: factory}
}

// Execute implements Orchestrator.
func (o *orchestrator) Execute(ctx context.Context, project *model.Project, suite *NormalizedSuite, args ExecuteArgs) ([]model.ResultRecord, error) {
	workers := project.Settings.NumWorkers
	if !project.Settings.Parallel {
		workers = 1
	}
	if workers < 1 {
		workers = 1
	}

	if workers == 1 || len(suite.Tests) == 0 {
		return o.executeInProcess(ctx, project, suite, args)
	}

	return o.executeParallel(ctx, project, suite, args, workers)
}

// executeInProcess runs the whole suite through one executor in this
// process.
func (o *orchestrator) executeInProcess(ctx context.Context, project *model.Project, suite *NormalizedSuite, args ExecuteArgs) ([]model.ResultRecord, error) {
	rt, err := o.runtimeFactory(project.Root)
	if err != nil {
		return nil, fmt.Errorf("failed to start python runtime: %w", err)
	}

	var records []model.ResultRecord

	sink := func(rec model.ResultRecord) {
		records = append(records, rec)
		if args.OnRecord != nil {
			args.OnRecord(rec)
		}
	}

	executor := NewExecutor(rt, project.Root, project.Settings, suite, sink)

	if err := executor.Run(ctx, suite.Tests); err != nil && !errors.Is(err, ErrFailFast) {
		return records, err
	}

	sortRecords(records)

	return records, nil
}

// executeParallel shards the suite over worker subprocesses and merges
// their result files.
func (o *orchestrator) executeParallel(ctx context.Context, project *model.Project, suite *NormalizedSuite, args ExecuteArgs, workers int) ([]model.ResultRecord, error) {
	shards := Partition(suite.Tests, workers)

	meta := model.RunMeta{
		RunID:     args.RunID,
		Workers:   len(shards),
		StartedAt: time.Now().UTC(),
	}
	for _, shard := range shards {
		meta.Shards = append(meta.Shards, shard.Paths)
	}

	if err := o.store.PrepareRun(args.CacheRoot, meta); err != nil {
		return nil, err
	}

	defer func() {
		if err := o.store.ReleaseRun(args.CacheRoot, args.RunID); err != nil {
			slog.Warn("failed to release run directory", "run", args.RunID, "error", err)
		}
	}()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make([]adapter.WorkerResult, len(shards))

	var mu sync.Mutex

	group, groupCtx := errgroup.WithContext(runCtx)

	for i := range shards {
		workerID := i
		shard := shards[i]

		group.Go(func() error {
			result, err := o.workers.RunWorker(groupCtx, adapter.WorkerSpec{
				RunID:      args.RunID,
				WorkerID:   workerID,
				CacheDir:   string(args.CacheRoot),
				ConfigFile: args.ConfigFile,
				ProjectDir: string(project.Root),
				Paths:      shard.Paths,
			})

			mu.Lock()
			results[workerID] = result
			mu.Unlock()

			return err
		})
	}

	if project.Settings.FailFast {
		group.Go(func() error {
			o.watchForFailure(groupCtx, args, len(shards), cancel)
			return nil
		})
	}

	groupErr := group.Wait()
	cancel()

	records, aggErr := o.aggregate(args, shards, results)
	if aggErr != nil {
		return records, aggErr
	}

	if groupErr != nil && !errors.Is(groupErr, context.Canceled) {
		return records, groupErr
	}

	return records, nil
}

// watchForFailure polls worker result files and cancels the run on the
// first observed failure. Cancellation is cooperative: workers unwind
// open scopes before exiting.
func (o *orchestrator) watchForFailure(ctx context.Context, args ExecuteArgs, workers int, cancel context.CancelFunc) {
	ticker := time.NewTicker(failurePollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for id := 0; id < workers; id++ {
				records, err := o.store.LoadResults(args.CacheRoot, args.RunID, id)
				if err != nil {
					continue
				}
				for _, rec := range records {
					if !rec.Outcome.Passing() {
						slog.Info("fail-fast: cancelling remaining workers", "failed", rec.DisplayName)
						cancel()
						return
					}
				}
			}
		}
	}
}

// aggregate merges worker result files. Tests a crashed worker never
// reported become worker errors carrying the exit status and stderr.
func (o *orchestrator) aggregate(args ExecuteArgs, shards []Shard, results []adapter.WorkerResult) ([]model.ResultRecord, error) {
	var records []model.ResultRecord

	for id, shard := range shards {
		expected := map[string]bool{}
		for _, nt := range shard.Tests {
			expected[nt.DisplayName()] = true
		}

		reported := map[string]bool{}

		loaded, err := o.store.LoadResults(args.CacheRoot, args.RunID, id)
		if err != nil {
			slog.Error("failed to load worker results", "worker", id, "error", err)
		}

		for _, rec := range loaded {
			// Workers re-discover whole modules; selector-narrowed runs
			// only keep the variants the main process asked for.
			// Teardown records pass through untouched.
			if rec.Outcome.Phase != model.PhaseTeardown && !expected[rec.DisplayName] {
				continue
			}

			reported[rec.DisplayName] = true
			records = append(records, rec)
		}

		if results[id].ExitCode == 0 {
			continue
		}

		for _, nt := range shard.Tests {
			name := nt.DisplayName()
			if reported[name] {
				continue
			}

			records = append(records, model.ResultRecord{
				DisplayName:  name,
				Module:       nt.Module,
				Line:         nt.Def.Location.Line,
				VariantIndex: nt.VariantIndex,
				Outcome: model.Outcome{
					Kind:   model.OutcomeError,
					Phase:  model.PhaseWorker,
					Reason: fmt.Sprintf("worker %d exited with code %d", id, results[id].ExitCode),
					Diagnostic: &model.Diagnostic{
						Kind:     model.DiagWorkerError,
						Location: nt.Def.Location,
						Message:  truncate(results[id].Stderr, 4096),
					},
					Attempts: 1,
				},
			})
		}
	}

	sortRecords(records)

	return records, nil
}

// sortRecords orders the report by (module path, source line, variant
// index); scope-teardown records sort after everything else.
func sortRecords(records []model.ResultRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		a, b := records[i], records[j]

		if (a.Outcome.Phase == model.PhaseTeardown) != (b.Outcome.Phase == model.PhaseTeardown) {
			return b.Outcome.Phase == model.PhaseTeardown
		}
		if a.Module != b.Module {
			return a.Module < b.Module
		}
		if a.Line != b.Line {
			return a.Line < b.Line
		}

		return a.VariantIndex < b.VariantIndex
	})
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}

	return s[:limit] + "…"
}
