package model

import "sort"

// FixtureScope is the lifetime over which a fixture instance is cached.
type FixtureScope string

// Static fixture scopes, narrowest first, plus the dynamic marker.
const (
	ScopeFunction FixtureScope = "function"
	ScopeModule   FixtureScope = "module"
	ScopePackage  FixtureScope = "package"
	ScopeSession  FixtureScope = "session"
	ScopeDynamic  FixtureScope = "dynamic"
)

// scopeRank orders static scopes from narrowest to widest.
var scopeRank = map[FixtureScope]int{
	ScopeFunction: 0,
	ScopeModule:   1,
	ScopePackage:  2,
	ScopeSession:  3,
}

// Narrower reports whether s is strictly narrower than other. Dynamic
// scopes are unordered until resolved.
func (s FixtureScope) Narrower(other FixtureScope) bool {
	a, aok := scopeRank[s]
	b, bok := scopeRank[other]
	return aok && bok && a < b
}

// ValidScope reports whether the name is one of the static scopes.
func ValidScope(name string) bool {
	_, ok := scopeRank[FixtureScope(name)]
	return ok
}

// IsBuiltinFixtureName reports whether the name resolves to a
// runtime-provided fixture. Builtins are resolved after every lexical
// scope has been searched.
func IsBuiltinFixtureName(name string) bool {
	switch name {
	case "tmp_path", "tmpdir", "temp_path", "temp_dir", "monkeypatch":
		return true
	}

	return false
}

// FixtureDef is a discovered fixture definition.
type FixtureDef struct {
	// Name is the fixture name tests request; defaults to the function
	// name, overridable by the decorator's name argument.
	Name string

	// FuncName is the attribute name of the callable in its module.
	FuncName string

	Scope   FixtureScope
	AutoUse bool

	// IsGenerator marks yield-form fixtures that carry a finalizer.
	IsGenerator bool

	// Requires lists the callable's parameter names, in order. The
	// special "request" parameter is excluded.
	Requires []string

	// HasRequest records whether the callable declares the request
	// parameter.
	HasRequest bool

	// Params is the decorator's params list, one variant per value.
	Params []PyValue

	// ScopeDynamic is set when the scope argument was a callable
	// reference rather than a literal string.
	ScopeDynamic *PyValue

	// LateBound marks definitions whose decorator arguments could not be
	// extracted from the AST and need runtime reflection.
	LateBound bool

	Location Location
}

// ID uniquely identifies a fixture definition within a run.
func (f *FixtureDef) ID() string { return f.Location.String() + "::" + f.Name }

// TestDef is a discovered test function.
type TestDef struct {
	Name     string
	Location Location

	// Requires lists the callable's parameter names, in order.
	Requires []string

	Tags TagSet

	// Index is the source position of the definition within its module.
	Index int
}

// Module is a parsed python file with its discovered definitions.
type Module struct {
	Path Path

	Tests    []*TestDef
	Fixtures []*FixtureDef

	// Imports maps local alias names to the dotted import target, e.g.
	// {"k": "karva", "fixture": "karva.fixture"}.
	Imports map[string]string
}

// FixtureByName returns the last fixture bound to the given name in the
// module. Later definitions re-bind the name.
func (m *Module) FixtureByName(name string) (*FixtureDef, bool) {
	for i := len(m.Fixtures) - 1; i >= 0; i-- {
		if m.Fixtures[i].Name == name {
			return m.Fixtures[i], true
		}
	}
	return nil, false
}

// Package is a directory in the discovered tree.
type Package struct {
	Path Path

	// Conftest holds fixtures from this directory's conftest.py.
	Conftest *Module

	Modules  map[string]*Module
	Children map[string]*Package
	Parent   *Package
}

// NewPackage constructs an empty package for a directory.
func NewPackage(path Path) *Package {
	return &Package{
		Path:     path,
		Modules:  map[string]*Module{},
		Children: map[string]*Package{},
	}
}

// SortedModules returns child modules ordered by filename.
func (p *Package) SortedModules() []*Module {
	names := make([]string, 0, len(p.Modules))
	for name := range p.Modules {
		names = append(names, name)
	}
	sort.Strings(names)
	mods := make([]*Module, 0, len(names))
	for _, name := range names {
		mods = append(mods, p.Modules[name])
	}
	return mods
}

// SortedChildren returns child packages ordered by directory name.
func (p *Package) SortedChildren() []*Package {
	names := make([]string, 0, len(p.Children))
	for name := range p.Children {
		names = append(names, name)
	}
	sort.Strings(names)
	children := make([]*Package, 0, len(names))
	for _, name := range names {
		children = append(children, p.Children[name])
	}
	return children
}

// Lineage returns the chain of packages from the session root down to p.
func (p *Package) Lineage() []*Package {
	var chain []*Package
	for cur := p; cur != nil; cur = cur.Parent {
		chain = append([]*Package{cur}, chain...)
	}
	return chain
}

// TotalTests counts tests in the package and all descendants.
func (p *Package) TotalTests() int {
	n := 0
	for _, m := range p.Modules {
		n += len(m.Tests)
	}
	for _, c := range p.Children {
		n += c.TotalTests()
	}
	return n
}
