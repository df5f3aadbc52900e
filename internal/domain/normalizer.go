package domain

import (
	"fmt"
	"log/slog"

	"github.com/MatthewMckee4/karva/internal/model"
)

// NormalizedSuite is the flat, fully expanded output of normalization.
type NormalizedSuite struct {
	Tests []*model.NormalizedTest

	// AutoUse maps a container key (session / pkg:<path> / mod:<path>)
	// to the auto-use fixtures declared there.
	AutoUse map[string][]*model.NormalizedFixture

	// Diagnostics are container-level collection problems not tied to a
	// single test.
	Diagnostics []model.Diagnostic
}

// Container keys for auto-use lookup.
const sessionKey = "session"

// PackageKey keys a package's auto-use fixtures.
func PackageKey(path model.Path) string { return "pkg:" + string(path) }

// ModuleKey keys a module's auto-use fixtures.
func ModuleKey(path model.Path) string { return "mod:" + string(path) }

// lexLevel is one level of the lexical fixture-resolution chain: the
// test's module first, then enclosing conftests from nearest to the
// session root.
type lexLevel struct {
	module *model.Module
	pkg    *model.Package
}

// Normalizer expands discovered definitions into concrete variants.
type Normalizer struct {
	// rt is optional: it is only needed to resolve dynamic fixture
	// scopes at collection time. Without it dynamic scopes default to
	// function scope.
	rt Runtime

	memo           map[string][]*model.NormalizedFixture
	resolvedScopes map[string]model.FixtureScope
}

// NewNormalizer constructs a Normalizer. rt may be nil.
func NewNormalizer(rt Runtime) *Normalizer {
	return &Normalizer{
		rt:             rt,
		memo:           map[string][]*model.NormalizedFixture{},
		resolvedScopes: map[string]model.FixtureScope{},
	}
}

// Normalize flattens the discovered tree into executable test variants,
// in discovery order.
func (n *Normalizer) Normalize(root *model.Package) (*NormalizedSuite, error) {
	suite := &NormalizedSuite{AutoUse: map[string][]*model.NormalizedFixture{}}

	n.walkPackage(root, []*model.Package{root}, suite)

	names := map[string]model.Path{}
	for _, nt := range suite.Tests {
		name := nt.DisplayName()
		if prev, dup := names[name]; dup {
			slog.Warn("duplicate test display name", "name", name, "first", prev, "second", nt.Module)
		}
		names[name] = nt.Module
	}

	return suite, nil
}

func (n *Normalizer) walkPackage(pkg *model.Package, chain []*model.Package, suite *NormalizedSuite) {
	n.collectAutoUse(pkg, chain, suite)

	for _, mod := range pkg.SortedModules() {
		n.collectModuleAutoUse(mod, chain, suite)

		for _, test := range mod.Tests {
			suite.Tests = append(suite.Tests, n.normalizeTest(test, mod, chain)...)
		}
	}

	for _, child := range pkg.SortedChildren() {
		childChain := make([]*model.Package, len(chain), len(chain)+1)
		copy(childChain, chain)
		n.walkPackage(child, append(childChain, child), suite)
	}
}

// collectAutoUse gathers auto-use fixtures from a package's conftest.
func (n *Normalizer) collectAutoUse(pkg *model.Package, chain []*model.Package, suite *NormalizedSuite) {
	if pkg.Conftest == nil {
		return
	}

	key := PackageKey(pkg.Path)
	if pkg.Parent == nil {
		key = sessionKey
	}

	levels := levelsFor(pkg.Conftest, chain)

	for _, def := range pkg.Conftest.Fixtures {
		if !def.AutoUse {
			continue
		}

		variants, diag := n.normalizeFixture(def, 0, levels, map[string]bool{})
		if diag != nil {
			suite.Diagnostics = append(suite.Diagnostics, *diag)
			continue
		}

		suite.AutoUse[key] = append(suite.AutoUse[key], variants...)
	}
}

// collectModuleAutoUse gathers auto-use fixtures defined in a test
// module.
func (n *Normalizer) collectModuleAutoUse(mod *model.Module, chain []*model.Package, suite *NormalizedSuite) {
	levels := levelsFor(mod, chain)

	for _, def := range mod.Fixtures {
		if !def.AutoUse {
			continue
		}

		variants, diag := n.normalizeFixture(def, 0, levels, map[string]bool{})
		if diag != nil {
			suite.Diagnostics = append(suite.Diagnostics, *diag)
			continue
		}

		suite.AutoUse[ModuleKey(mod.Path)] = append(suite.AutoUse[ModuleKey(mod.Path)], variants...)
	}
}

// levelsFor builds the lexical resolution chain for a module: the module
// itself, then conftests from the innermost package out to the root.
func levelsFor(module *model.Module, chain []*model.Package) []lexLevel {
	levels := []lexLevel{{module: module}}

	for i := len(chain) - 1; i >= 0; i-- {
		pkg := chain[i]
		if pkg.Conftest == nil || pkg.Conftest == module {
			continue
		}
		levels = append(levels, lexLevel{module: pkg.Conftest, pkg: pkg})
	}

	return levels
}

// resolveFixture walks the lexical chain from startIdx outward. The
// first binding wins; later definitions in a module re-bind the name.
func resolveFixture(name string, levels []lexLevel, startIdx int) (*model.FixtureDef, int, bool) {
	for i := startIdx; i < len(levels); i++ {
		if def, ok := levels[i].module.FixtureByName(name); ok {
			return def, i, true
		}
	}

	return nil, 0, false
}

// normalizeTest expands one test definition into its variants.
func (n *Normalizer) normalizeTest(test *model.TestDef, mod *model.Module, chain []*model.Package) []*model.NormalizedTest {
	if diag := invalidTagDiagnostic(test); diag != nil {
		return []*model.NormalizedTest{{
			Def:             test,
			Module:          mod.Path,
			CollectionError: diag,
		}}
	}

	levels := levelsFor(mod, chain)

	specs := test.Tags.Parametrizations()
	bound := map[string]bool{}
	for _, spec := range specs {
		for _, name := range spec.Names {
			bound[name] = true
		}
	}

	// Resolve fixture dependencies for parameters not claimed by
	// parametrize; parametrize values take precedence over fixtures.
	var depVariants [][]*model.NormalizedFixture

	appendDep := func(name string) *model.Diagnostic {
		def, levelIdx, ok := resolveFixture(name, levels, 0)
		if !ok {
			if model.IsBuiltinFixtureName(name) {
				depVariants = append(depVariants, []*model.NormalizedFixture{builtinFixture(name)})
				return nil
			}

			return &model.Diagnostic{
				Kind:     model.DiagMissingValue,
				Location: test.Location,
				Message:  fmt.Sprintf("fixture %q not found for test %s", name, test.Name),
			}
		}

		variants, diag := n.normalizeFixture(def, levelIdx, levels, map[string]bool{})
		if diag != nil {
			return diag
		}

		depVariants = append(depVariants, variants)

		return nil
	}

	for _, name := range test.Requires {
		if bound[name] {
			continue
		}
		if diag := appendDep(name); diag != nil {
			return []*model.NormalizedTest{{Def: test, Module: mod.Path, CollectionError: diag}}
		}
	}

	for _, name := range test.Tags.UsedFixtures() {
		if diag := appendDep(name); diag != nil {
			return []*model.NormalizedTest{{Def: test, Module: mod.Path, CollectionError: diag}}
		}
	}

	cases := productCases(specs)
	fixtureCombos := productFixtures(depVariants)

	variants := make([]*model.NormalizedTest, 0, len(cases)*len(fixtureCombos))

	index := 0

	for _, c := range cases {
		for _, combo := range fixtureCombos {
			variants = append(variants, &model.NormalizedTest{
				Def:          test,
				Module:       mod.Path,
				Params:       c.bindings,
				Fixtures:     combo,
				ExtraTags:    c.tags,
				VariantIndex: index,
			})
			index++
		}
	}

	return variants
}

// invalidTagDiagnostic surfaces malformed decorators as collection
// errors.
func invalidTagDiagnostic(test *model.TestDef) *model.Diagnostic {
	for _, tag := range test.Tags {
		if tag.Invalid != nil {
			return tag.Invalid
		}
	}

	return nil
}

// normalizeFixture expands a fixture definition into its variants,
// recursively expanding dependencies and multiplying by params.
// Expansions are memoized per (definition, resolution site).
func (n *Normalizer) normalizeFixture(def *model.FixtureDef, levelIdx int, levels []lexLevel, inProgress map[string]bool) ([]*model.NormalizedFixture, *model.Diagnostic) {
	memoKey := fmt.Sprintf("%s|%s|%d", def.ID(), levels[0].module.Path, levelIdx)
	if cached, ok := n.memo[memoKey]; ok {
		return cached, nil
	}

	if inProgress[def.ID()] {
		return nil, &model.Diagnostic{
			Kind:     model.DiagFixtureCycle,
			Location: def.Location,
			Message:  fmt.Sprintf("fixture %q participates in a dependency cycle", def.Name),
		}
	}

	inProgress[def.ID()] = true
	defer delete(inProgress, def.ID())

	scope := n.resolveScope(def)

	var depVariants [][]*model.NormalizedFixture

	for _, name := range def.Requires {
		// An override may depend on the name it shadows; resolution for
		// that name starts one level up.
		start := levelIdx
		if name == def.Name {
			start = levelIdx + 1
		}

		depDef, depLevel, ok := resolveFixture(name, levels, start)
		if !ok {
			if model.IsBuiltinFixtureName(name) {
				depVariants = append(depVariants, []*model.NormalizedFixture{builtinFixture(name)})
				continue
			}

			return nil, &model.Diagnostic{
				Kind:     model.DiagMissingValue,
				Location: def.Location,
				Message:  fmt.Sprintf("fixture %q required by %q not found", name, def.Name),
			}
		}

		depScope := n.resolveScope(depDef)
		if depScope.Narrower(scope) {
			return nil, &model.Diagnostic{
				Kind:     model.DiagScopeConflict,
				Location: def.Location,
				Message: fmt.Sprintf("%s-scoped fixture %q cannot depend on %s-scoped fixture %q",
					scope, def.Name, depScope, name),
				Secondary: []model.Location{depDef.Location},
			}
		}

		variants, diag := n.normalizeFixture(depDef, depLevel, levels, inProgress)
		if diag != nil {
			return nil, diag
		}

		depVariants = append(depVariants, variants)
	}

	combos := productFixtures(depVariants)

	var out []*model.NormalizedFixture

	for _, combo := range combos {
		if len(def.Params) == 0 {
			out = append(out, &model.NormalizedFixture{
				Def:   def,
				Name:  def.Name,
				Deps:  combo,
				Scope: scope,
			})
			continue
		}

		for i := range def.Params {
			param := def.Params[i]
			out = append(out, &model.NormalizedFixture{
				Def:   def,
				Name:  def.Name,
				Param: &param,
				Deps:  combo,
				Scope: scope,
			})
		}
	}

	n.memo[memoKey] = out

	return out, nil
}

// resolveScope collapses dynamic scopes to a static one, invoking the
// scope callable once per fixture and caching the answer.
func (n *Normalizer) resolveScope(def *model.FixtureDef) model.FixtureScope {
	if def.Scope != model.ScopeDynamic {
		return def.Scope
	}

	if cached, ok := n.resolvedScopes[def.ID()]; ok {
		return cached
	}

	scope := model.ScopeFunction

	if n.rt != nil && def.ScopeDynamic != nil {
		if resolved, ok := n.callScopeCallable(def); ok {
			scope = resolved
		}
	}

	n.resolvedScopes[def.ID()] = scope

	return scope
}

// callScopeCallable invokes the dynamic scope callable with
// (fixture_name, None) and coerces the result to a static scope name.
func (n *Normalizer) callScopeCallable(def *model.FixtureDef) (model.FixtureScope, bool) {
	mod, err := n.rt.ImportModule(def.Location.Path)
	if err != nil {
		slog.Warn("cannot import module for dynamic scope", "fixture", def.Name, "error", err)
		return "", false
	}

	fn, err := n.rt.MaterializeValue(mod, *def.ScopeDynamic)
	if err != nil {
		slog.Warn("cannot resolve dynamic scope callable", "fixture", def.Name, "error", err)
		return "", false
	}

	result, err := n.rt.Call(fn, []any{def.Name, nil}, nil)
	if err != nil {
		slog.Warn("dynamic scope callable raised", "fixture", def.Name, "error", err)
		return "", false
	}

	name, ok := n.rt.AsString(result)
	if !ok || !model.ValidScope(name) {
		slog.Warn("dynamic scope callable returned an invalid scope", "fixture", def.Name)
		return "", false
	}

	return model.FixtureScope(name), true
}

// builtinFixture wraps a runtime-provided fixture name.
func builtinFixture(name string) *model.NormalizedFixture {
	return &model.NormalizedFixture{
		Name:    name,
		Scope:   model.ScopeFunction,
		BuiltIn: true,
	}
}

// testCase is one point of the test-level parametrize product.
type testCase struct {
	bindings []model.ParamBinding
	tags     model.TagSet
}

// productCases expands stacked parametrize specs into their cartesian
// product, outermost decorator varying slowest.
func productCases(specs []*model.ParamSpec) []testCase {
	cases := []testCase{{}}

	for _, spec := range specs {
		next := make([]testCase, 0, len(cases)*len(spec.Cases))

		for _, base := range cases {
			for _, c := range spec.Cases {
				bindings := make([]model.ParamBinding, len(base.bindings), len(base.bindings)+len(spec.Names))
				copy(bindings, base.bindings)

				for i, name := range spec.Names {
					bindings = append(bindings, model.ParamBinding{Name: name, Value: c.Values[i]})
				}

				tags := make(model.TagSet, len(base.tags), len(base.tags)+len(c.Tags))
				copy(tags, base.tags)
				tags = append(tags, c.Tags...)

				next = append(next, testCase{bindings: bindings, tags: tags})
			}
		}

		cases = next
	}

	return cases
}

// productFixtures expands per-dependency variant lists into their
// cartesian product, first dependency varying slowest.
func productFixtures(lists [][]*model.NormalizedFixture) [][]*model.NormalizedFixture {
	combos := [][]*model.NormalizedFixture{nil}

	for _, list := range lists {
		next := make([][]*model.NormalizedFixture, 0, len(combos)*len(list))

		for _, base := range combos {
			for _, nf := range list {
				combo := make([]*model.NormalizedFixture, len(base), len(base)+1)
				copy(combo, base)
				combo = append(combo, nf)
				next = append(next, combo)
			}
		}

		combos = next
	}

	return combos
}
