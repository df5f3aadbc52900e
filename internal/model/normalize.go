package model

import (
	"fmt"
	"strings"
)

// NormalizedFixture is a concrete variant of a fixture after
// parametrization: one per (definition, parameter value) pair, with its
// dependencies already expanded.
type NormalizedFixture struct {
	Def *FixtureDef

	// Name is the resolved fixture name (built-in fixtures have no Def).
	Name string

	// Param is the parameter value for this variant, nil when the
	// fixture is not parametrized.
	Param *PyValue

	// Deps are the resolved dependency variants, in declaration order.
	Deps []*NormalizedFixture

	// Scope is the resolved static scope (dynamic already collapsed).
	Scope FixtureScope

	// BuiltIn marks runtime-provided fixtures (tmp_path, monkeypatch...).
	BuiltIn bool
}

// ID is the cache key for fixture instances: `{name}[{param}]` with the
// param repr omitted for unparametrized variants.
func (nf *NormalizedFixture) ID() string {
	if nf.Param == nil {
		return nf.Name
	}
	return fmt.Sprintf("%s[%s]", nf.Name, nf.Param.Repr)
}

// NameContribution renders this variant's contribution to a test display
// name, empty when unparametrized.
func (nf *NormalizedFixture) NameContribution() string {
	if nf.Param == nil {
		return ""
	}
	return fmt.Sprintf("%s=%s", nf.Name, nf.Param.Repr)
}

// NormalizedTest is a fully expanded, directly executable test variant.
type NormalizedTest struct {
	Def *TestDef

	// Module is the path of the defining module.
	Module Path

	// Params are the test-level parametrize bindings, in source order
	// across stacked decorators.
	Params []ParamBinding

	// Fixtures are the resolved dependency variants in declared order,
	// including use_fixtures entries (which contribute no argument).
	Fixtures []*NormalizedFixture

	// ExtraTags are per-tuple tag overrides from param(...) forms.
	ExtraTags TagSet

	// VariantIndex is the position of this variant within its test's
	// expansion, used for stable report ordering.
	VariantIndex int

	// CollectionError poisons the variant: it is reported as errored
	// without executing.
	CollectionError *Diagnostic
}

// DisplayName renders `{test}[{k=v, …}]`: parametrize bindings in source
// order, then parametrized-fixture contributions in dependency order.
func (nt *NormalizedTest) DisplayName() string {
	var parts []string
	for _, b := range nt.Params {
		parts = append(parts, fmt.Sprintf("%s=%s", b.Name, b.Value.Repr))
	}
	for _, nf := range nt.Fixtures {
		parts = append(parts, fixtureContributions(nf)...)
	}
	if len(parts) == 0 {
		return nt.Def.Name
	}
	return fmt.Sprintf("%s[%s]", nt.Def.Name, strings.Join(parts, ", "))
}

// fixtureContributions walks a fixture variant depth-first, collecting
// parametrized contributions of the fixture and its dependencies.
func fixtureContributions(nf *NormalizedFixture) []string {
	var parts []string
	for _, dep := range nf.Deps {
		parts = append(parts, fixtureContributions(dep)...)
	}
	if c := nf.NameContribution(); c != "" {
		parts = append(parts, c)
	}
	return parts
}

// Tags returns the effective tag set: definition tags plus per-tuple
// overrides.
func (nt *NormalizedTest) Tags() TagSet {
	if len(nt.ExtraTags) == 0 {
		return nt.Def.Tags
	}
	tags := make(TagSet, 0, len(nt.Def.Tags)+len(nt.ExtraTags))
	tags = append(tags, nt.Def.Tags...)
	tags = append(tags, nt.ExtraTags...)
	return tags
}
