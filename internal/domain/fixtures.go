package domain

import (
	"fmt"
	"log/slog"

	"github.com/MatthewMckee4/karva/internal/model"
)

// ScopeInstance is a live activation of one scope level. It owns the
// fixture instances created within it and a LIFO stack of finalizers to
// run at scope exit.
type ScopeInstance struct {
	Kind model.FixtureScope

	// Key discriminates instances: test display name, module path,
	// package path or "session".
	Key string

	instances  map[string]any
	finalizers []finalizerEntry
}

type finalizerEntry struct {
	id  string
	run func() error
}

// NewScopeInstance opens a scope.
func NewScopeInstance(kind model.FixtureScope, key string) *ScopeInstance {
	return &ScopeInstance{
		Kind:      kind,
		Key:       key,
		instances: map[string]any{},
	}
}

// AddFinalizer registers a teardown step; finalizers run in LIFO order.
func (s *ScopeInstance) AddFinalizer(id string, run func() error) {
	s.finalizers = append(s.finalizers, finalizerEntry{id: id, run: run})
}

// Close fires every finalizer exactly once, newest first. A failing
// finalizer is reported but does not stop the rest.
func (s *ScopeInstance) Close() []model.Diagnostic {
	var diags []model.Diagnostic

	for i := len(s.finalizers) - 1; i >= 0; i-- {
		entry := s.finalizers[i]

		if err := entry.run(); err != nil {
			slog.Warn("fixture finalizer failed", "fixture", entry.id, "scope", s.Key, "error", err)
			diags = append(diags, model.Diagnostic{
				Kind:    model.DiagTeardownError,
				Message: fmt.Sprintf("finalizer for %s failed: %v", entry.id, err),
			})
		}
	}

	s.finalizers = nil
	s.instances = map[string]any{}

	return diags
}

// FixtureManager instantiates fixture variants, caching each at the
// scope instance matching its scope.
type FixtureManager struct {
	rt Runtime

	// open is the stack of scope instances, session first, function
	// last. The executor pushes and pops; the manager only caches into
	// and reads from it.
	open []*ScopeInstance

	inProgress map[string]bool
}

// NewFixtureManager constructs a manager over the runtime.
func NewFixtureManager(rt Runtime) *FixtureManager {
	return &FixtureManager{rt: rt, inProgress: map[string]bool{}}
}

// Push opens a scope instance on the stack.
func (fm *FixtureManager) Push(s *ScopeInstance) {
	fm.open = append(fm.open, s)
}

// Pop closes the innermost scope instance, firing its finalizers.
func (fm *FixtureManager) Pop() []model.Diagnostic {
	if len(fm.open) == 0 {
		return nil
	}

	top := fm.open[len(fm.open)-1]
	fm.open = fm.open[:len(fm.open)-1]

	return top.Close()
}

// Depth reports how many scopes are open.
func (fm *FixtureManager) Depth() int { return len(fm.open) }

// Top returns the innermost open scope.
func (fm *FixtureManager) Top() *ScopeInstance {
	if len(fm.open) == 0 {
		return nil
	}
	return fm.open[len(fm.open)-1]
}

// scopeFor picks the cache owner for a fixture variant. Package-scoped
// fixtures bind to the package whose conftest defines them when that
// package is open; otherwise the innermost open scope of the matching
// kind wins, widening when the exact kind is not open (a module-scoped
// fixture requested with only the session open degrades to the
// session).
func (fm *FixtureManager) scopeFor(nf *model.NormalizedFixture) (*ScopeInstance, error) {
	scope := nf.Scope

	if scope == model.ScopePackage && nf.Def != nil {
		definingKey := PackageKey(nf.Def.Location.Path.Dir())
		for i := len(fm.open) - 1; i >= 0; i-- {
			if fm.open[i].Key == definingKey {
				return fm.open[i], nil
			}
		}
	}

	for i := len(fm.open) - 1; i >= 0; i-- {
		if fm.open[i].Kind == scope {
			return fm.open[i], nil
		}
	}

	for i := 0; i < len(fm.open); i++ {
		if !fm.open[i].Kind.Narrower(scope) {
			return fm.open[i], nil
		}
	}

	if len(fm.open) == 0 {
		return nil, fmt.Errorf("no open scope for %s fixture", scope)
	}

	return fm.open[0], nil
}

// Instantiate returns the fixture variant's value, creating it (and its
// dependencies, depth first) on first request within its scope.
func (fm *FixtureManager) Instantiate(nf *model.NormalizedFixture) (any, error) {
	owner, err := fm.scopeFor(nf)
	if err != nil {
		return nil, err
	}

	id := nf.ID()

	if value, ok := owner.instances[id]; ok {
		return value, nil
	}

	if fm.inProgress[id] {
		return nil, fmt.Errorf("fixture %q participates in a dependency cycle", nf.Name)
	}

	fm.inProgress[id] = true
	defer delete(fm.inProgress, id)

	value, err := fm.build(nf, owner)
	if err != nil {
		return nil, err
	}

	owner.instances[id] = value

	return value, nil
}

// build materializes one variant: builtins come from the runtime,
// everything else imports the defining module and calls the fixture
// callable with its dependency values.
func (fm *FixtureManager) build(nf *model.NormalizedFixture, owner *ScopeInstance) (any, error) {
	if nf.BuiltIn {
		value, finalize, ok, err := fm.rt.BuiltinFixture(nf.Name)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("unknown builtin fixture %q", nf.Name)
		}
		if finalize != nil {
			owner.AddFinalizer(nf.ID(), finalize)
		}

		return value, nil
	}

	kwargs := map[string]any{}

	for _, dep := range nf.Deps {
		value, err := fm.Instantiate(dep)
		if err != nil {
			return nil, err
		}
		kwargs[dep.Name] = value
	}

	mod, err := fm.rt.ImportModule(nf.Def.Location.Path)
	if err != nil {
		return nil, err
	}

	fn, err := mod.Attr(nf.Def.FuncName)
	if err != nil {
		return nil, err
	}

	if nf.Def.HasRequest {
		request, err := fm.buildRequest(nf, mod)
		if err != nil {
			return nil, err
		}
		kwargs["request"] = request
	}

	result, err := fm.rt.Call(fn, nil, kwargs)
	if err != nil {
		return nil, err
	}

	if fm.rt.IsGenerator(result) {
		return fm.startGenerator(nf, owner, result)
	}

	return result, nil
}

// buildRequest makes the request object for fixtures that declare it,
// carrying the current parameter value.
func (fm *FixtureManager) buildRequest(nf *model.NormalizedFixture, mod RuntimeModule) (any, error) {
	var param any
	if nf.Param != nil {
		value, err := fm.rt.MaterializeValue(mod, *nf.Param)
		if err != nil {
			return nil, fmt.Errorf("cannot materialize parameter for fixture %q: %w", nf.Name, err)
		}
		param = value
	}

	return fm.rt.NewRequest(param, nf.ID())
}

// startGenerator advances a yield-form fixture to its yield point and
// registers the resumption as a finalizer.
func (fm *FixtureManager) startGenerator(nf *model.NormalizedFixture, owner *ScopeInstance, gen any) (any, error) {
	value, done, err := fm.rt.ResumeGenerator(gen)
	if err != nil {
		return nil, err
	}
	if done {
		return nil, fmt.Errorf("fixture %q returned without yielding", nf.Name)
	}

	owner.AddFinalizer(nf.ID(), func() error {
		return fm.rt.FinalizeGenerator(gen)
	})

	return value, nil
}
