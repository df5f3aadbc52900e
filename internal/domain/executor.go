package domain

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/MatthewMckee4/karva/internal/model"
)

// ResultSink receives records as tests complete.
type ResultSink func(model.ResultRecord)

// ErrFailFast stops enumeration after the first real failure when
// fail-fast is configured.
var ErrFailFast = fmt.Errorf("stopping after first failure")

// Executor drives normalized tests through setup, run and teardown,
// opening and closing scope instances lazily as the test sequence moves
// between modules and packages.
type Executor struct {
	rt       Runtime
	fm       *FixtureManager
	root     model.Path
	settings model.Settings
	suite    *NormalizedSuite
	sink     ResultSink

	// openKeys mirrors the manager's non-function scope stack.
	openKeys []string
}

// NewExecutor constructs an executor for one worker process.
func NewExecutor(rt Runtime, root model.Path, settings model.Settings, suite *NormalizedSuite, sink ResultSink) *Executor {
	return &Executor{
		rt:       rt,
		fm:       NewFixtureManager(rt),
		root:     root,
		settings: settings,
		suite:    suite,
		sink:     sink,
	}
}

// Run executes the tests in order. Open scopes always unwind, even on
// cancellation or fail-fast.
func (e *Executor) Run(ctx context.Context, tests []*model.NormalizedTest) error {
	defer e.unwindAll()

	for _, nt := range tests {
		if err := ctx.Err(); err != nil {
			return err
		}

		record := e.runCase(nt)
		e.sink(record)

		if e.settings.FailFast && !record.Outcome.Passing() {
			return ErrFailFast
		}
	}

	return nil
}

// scopeChainFor computes the desired open-scope keys for a test: the
// session, each package directory from the root down, then the module.
func (e *Executor) scopeChainFor(nt *model.NormalizedTest) []scopeDesc {
	chain := []scopeDesc{{kind: model.ScopeSession, key: sessionKey}}

	dir := nt.Module.Dir()
	if rel, err := filepath.Rel(string(e.root), string(dir)); err == nil && rel != "." {
		cur := e.root
		for _, part := range strings.Split(rel, string(filepath.Separator)) {
			cur = cur.Join(part)
			chain = append(chain, scopeDesc{kind: model.ScopePackage, key: PackageKey(cur)})
		}
	}

	chain = append(chain, scopeDesc{kind: model.ScopeModule, key: ModuleKey(nt.Module)})

	return chain
}

type scopeDesc struct {
	kind model.FixtureScope
	key  string
}

// transition pops scopes below the lowest common ancestor with the next
// test and opens the missing ones.
func (e *Executor) transition(desired []scopeDesc) {
	common := 0
	for common < len(e.openKeys) && common < len(desired) && e.openKeys[common] == desired[common].key {
		common++
	}

	for len(e.openKeys) > common {
		e.popScope()
	}

	for _, d := range desired[common:] {
		e.fm.Push(NewScopeInstance(d.kind, d.key))
		e.openKeys = append(e.openKeys, d.key)
	}
}

// popScope closes the innermost non-function scope, surfacing teardown
// errors as summary records.
func (e *Executor) popScope() {
	key := e.openKeys[len(e.openKeys)-1]
	e.openKeys = e.openKeys[:len(e.openKeys)-1]

	e.emitTeardown(key, e.fm.Pop())
}

// unwindAll closes everything that is still open.
func (e *Executor) unwindAll() {
	for len(e.openKeys) > 0 {
		e.popScope()
	}
	for e.fm.Depth() > 0 {
		e.emitTeardown("function", e.fm.Pop())
	}
}

// emitTeardown reports finalizer failures; they never change a test's
// outcome but show up in the summary.
func (e *Executor) emitTeardown(key string, diags []model.Diagnostic) {
	for i := range diags {
		diag := diags[i]
		e.sink(model.ResultRecord{
			DisplayName: fmt.Sprintf("teardown:%s", key),
			Outcome: model.Outcome{
				Kind:       model.OutcomeError,
				Phase:      model.PhaseTeardown,
				Reason:     diag.Message,
				Diagnostic: &diag,
				Attempts:   1,
			},
		})
	}
}

// runCase runs one normalized test, applying the retry policy: only
// test failures retry, never collection, setup or teardown errors.
func (e *Executor) runCase(nt *model.NormalizedTest) model.ResultRecord {
	record := model.ResultRecord{
		DisplayName:  nt.DisplayName(),
		Module:       nt.Module,
		Line:         nt.Def.Location.Line,
		VariantIndex: nt.VariantIndex,
	}

	if nt.CollectionError != nil {
		record.Outcome = model.Outcome{
			Kind:       model.OutcomeError,
			Phase:      model.PhaseCollection,
			Reason:     nt.CollectionError.Message,
			Diagnostic: nt.CollectionError,
			Attempts:   1,
		}

		return record
	}

	attempts := 0

	for {
		attempts++
		outcome := e.runAttempt(nt)
		outcome.Attempts = attempts

		if outcome.Kind != model.OutcomeFailed || attempts > e.settings.Retry {
			record.Outcome = outcome
			return record
		}

		slog.Debug("retrying failed test", "test", record.DisplayName, "attempt", attempts)
	}
}

// runAttempt performs one setup → run → teardown pass.
func (e *Executor) runAttempt(nt *model.NormalizedTest) model.Outcome {
	start := time.Now()

	outcome := e.execute(nt)
	outcome.Duration = time.Since(start).Nanoseconds()

	return outcome
}

func (e *Executor) execute(nt *model.NormalizedTest) model.Outcome {
	e.transition(e.scopeChainFor(nt))

	fnScope := NewScopeInstance(model.ScopeFunction, nt.DisplayName())
	e.fm.Push(fnScope)

	defer func() {
		e.emitTeardown(nt.DisplayName(), e.fm.Pop())
	}()

	mod, err := e.rt.ImportModule(nt.Module)
	if err != nil {
		return e.errorOutcome(model.PhaseCollection, nt, err)
	}

	// Gating tags run before any fixture work.
	if skipTag, ok := nt.Tags().First(model.TagSkip); ok {
		if active, reason := e.gateActive(skipTag, mod); active {
			return model.Outcome{Kind: model.OutcomeSkipped, Reason: reason}
		}
	}

	expectFail := false
	expectReason := ""
	if xfTag, ok := nt.Tags().First(model.TagExpectFail); ok {
		expectFail, expectReason = e.gateActive(xfTag, mod)
	}

	kwargs, setupErr := e.setup(nt, mod)
	if setupErr != nil {
		return e.errorOutcome(model.PhaseSetup, nt, setupErr)
	}

	fn, err := mod.Attr(nt.Def.Name)
	if err != nil {
		return e.errorOutcome(model.PhaseCollection, nt, err)
	}

	var (
		callErr error
		output  string
	)

	call := func() error {
		_, err := e.rt.Call(fn, nil, kwargs)
		return err
	}

	if e.settings.ShowPythonOutput {
		callErr = call()
	} else {
		output, callErr = e.rt.CaptureOutput(call)
	}

	outcome := e.classify(nt, callErr)
	outcome.Output = output

	if expectFail {
		outcome = invertExpected(outcome, expectReason)
	}

	return outcome
}

// setup instantiates auto-use fixtures for every container on the
// test's path, then the test's own dependencies, and materializes
// parametrize values. Parametrize bindings take precedence over
// identically named fixtures.
func (e *Executor) setup(nt *model.NormalizedTest, mod RuntimeModule) (map[string]any, error) {
	for _, key := range e.autoUseKeys(nt) {
		for _, nf := range e.suite.AutoUse[key] {
			if _, err := e.fm.Instantiate(nf); err != nil {
				return nil, err
			}
		}
	}

	declared := map[string]bool{}
	for _, name := range nt.Def.Requires {
		declared[name] = true
	}

	kwargs := map[string]any{}

	for _, nf := range nt.Fixtures {
		value, err := e.fm.Instantiate(nf)
		if err != nil {
			return nil, err
		}

		if declared[nf.Name] {
			kwargs[nf.Name] = value
		}
	}

	for _, binding := range nt.Params {
		if !declared[binding.Name] {
			continue
		}

		value, err := e.rt.MaterializeValue(mod, binding.Value)
		if err != nil {
			return nil, err
		}

		kwargs[binding.Name] = value
	}

	return kwargs, nil
}

// autoUseKeys lists the container keys whose auto-use fixtures apply to
// a test, outermost first.
func (e *Executor) autoUseKeys(nt *model.NormalizedTest) []string {
	keys := make([]string, 0, len(e.openKeys)+1)
	keys = append(keys, e.openKeys...)

	return keys
}

// gateActive evaluates a gating tag: with no conditions it is always
// active, otherwise every condition must be truthy.
func (e *Executor) gateActive(tag model.Tag, mod RuntimeModule) (bool, string) {
	reason := tag.Reason

	if len(tag.Conditions) == 0 {
		return true, reason
	}

	for _, cond := range tag.Conditions {
		value, err := e.rt.MaterializeValue(mod, cond)
		if err != nil {
			slog.Warn("cannot evaluate gating condition", "test-tag", string(tag.Kind), "error", err)
			return false, reason
		}

		truthy, err := e.rt.Truthy(value)
		if err != nil || !truthy {
			return false, reason
		}
	}

	return true, reason
}

// classify maps the call result onto the outcome taxonomy.
func (e *Executor) classify(nt *model.NormalizedTest, callErr error) model.Outcome {
	if callErr == nil {
		return model.Outcome{Kind: model.OutcomePassed}
	}

	pyErr := e.rt.ClassifyException(callErr)

	diag := &model.Diagnostic{
		Kind:      model.DiagTestFailure,
		Location:  nt.Def.Location,
		Message:   pyErr.Error(),
		Traceback: pyErr.Traceback,
	}

	switch pyErr.Kind {
	case model.PyErrSkip:
		return model.Outcome{Kind: model.OutcomeSkipped, Reason: pyErr.Message}
	case model.PyErrFail:
		return model.Outcome{Kind: model.OutcomeFailed, Reason: pyErr.Message, Diagnostic: diag}
	default:
		return model.Outcome{Kind: model.OutcomeFailed, Reason: pyErr.Error(), Diagnostic: diag}
	}
}

// invertExpected applies expect_fail semantics: a failure becomes an
// expected failure, a pass becomes a failure.
func invertExpected(outcome model.Outcome, reason string) model.Outcome {
	switch outcome.Kind {
	case model.OutcomeFailed:
		return model.Outcome{
			Kind:     model.OutcomeExpectFail,
			Reason:   reason,
			Output:   outcome.Output,
			Duration: outcome.Duration,
		}
	case model.OutcomePassed:
		return model.Outcome{
			Kind:     model.OutcomeFailed,
			Reason:   "passed when expected to fail",
			Output:   outcome.Output,
			Duration: outcome.Duration,
		}
	default:
		return outcome
	}
}

// errorOutcome wraps a non-test error in the right phase.
func (e *Executor) errorOutcome(phase model.ErrorPhase, nt *model.NormalizedTest, err error) model.Outcome {
	pyErr := e.rt.ClassifyException(err)

	message := err.Error()
	traceback := ""
	if pyErr != nil {
		message = pyErr.Error()
		traceback = pyErr.Traceback
	}

	kind := model.DiagSetupError
	if phase == model.PhaseCollection {
		kind = model.DiagParseError
	}

	return model.Outcome{
		Kind:   model.OutcomeError,
		Phase:  phase,
		Reason: message,
		Diagnostic: &model.Diagnostic{
			Kind:      kind,
			Location:  nt.Def.Location,
			Message:   message,
			Traceback: traceback,
		},
	}
}
