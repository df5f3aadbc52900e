package domain

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/MatthewMckee4/karva/internal/model"
)

func paramSpec(names []string, rows ...[]model.PyValue) *model.ParamSpec {
	spec := &model.ParamSpec{Names: names}
	for _, row := range rows {
		spec.Cases = append(spec.Cases, model.ParamCase{Values: row})
	}
	return spec
}

func intVal(n int, repr string) model.PyValue { return model.LiteralValue(repr, n) }

func singleModuleTree(mod *model.Module) *model.Package {
	root := model.NewPackage("/proj")
	root.Modules[mod.Path.Base()] = mod
	return root
}

func TestNormalizerSingleTest(t *testing.T) {
	mod := &model.Module{
		Path:  "/proj/test_a.py",
		Tests: []*model.TestDef{testDef("test_one", "/proj/test_a.py", 1)},
	}

	suite, err := NewNormalizer(nil).Normalize(singleModuleTree(mod))
	require.NoError(t, err)
	require.Len(t, suite.Tests, 1)
	require.Equal(t, "test_one", suite.Tests[0].DisplayName())
}

func TestNormalizerParametrize(t *testing.T) {
	def := testDef("test_pos", "/proj/test_a.py", 1, "a")
	def.Tags = model.TagSet{{
		Kind: model.TagParametrize,
		Spec: paramSpec([]string{"a"},
			[]model.PyValue{intVal(1, "1")},
			[]model.PyValue{intVal(2, "2")},
			[]model.PyValue{intVal(3, "3")},
		),
	}}

	mod := &model.Module{Path: "/proj/test_a.py", Tests: []*model.TestDef{def}}

	suite, err := NewNormalizer(nil).Normalize(singleModuleTree(mod))
	require.NoError(t, err)
	require.Len(t, suite.Tests, 3)

	var names []string
	for _, nt := range suite.Tests {
		names = append(names, nt.DisplayName())
	}

	require.Equal(t, []string{"test_pos[a=1]", "test_pos[a=2]", "test_pos[a=3]"}, names)
}

func TestNormalizerStackedParametrizeCartesian(t *testing.T) {
	def := testDef("test_c", "/proj/test_a.py", 1, "a", "b")
	def.Tags = model.TagSet{
		{Kind: model.TagParametrize, Spec: paramSpec([]string{"a"},
			[]model.PyValue{intVal(1, "1")}, []model.PyValue{intVal(2, "2")})},
		{Kind: model.TagParametrize, Spec: paramSpec([]string{"b"},
			[]model.PyValue{intVal(3, "3")}, []model.PyValue{intVal(4, "4")})},
	}

	mod := &model.Module{Path: "/proj/test_a.py", Tests: []*model.TestDef{def}}

	suite, err := NewNormalizer(nil).Normalize(singleModuleTree(mod))
	require.NoError(t, err)
	require.Len(t, suite.Tests, 4)

	names := map[string]bool{}
	for _, nt := range suite.Tests {
		names[nt.DisplayName()] = true
	}

	for _, want := range []string{
		"test_c[a=1, b=3]", "test_c[a=1, b=4]",
		"test_c[a=2, b=3]", "test_c[a=2, b=4]",
	} {
		require.True(t, names[want], "missing variant %s", want)
	}
}

func TestNormalizerParametrizedFixtureExpansion(t *testing.T) {
	fix := fixtureDef("num", model.ScopeFunction, "/proj/test_a.py")
	fix.Params = []model.PyValue{intVal(1, "1"), intVal(2, "2")}

	def := testDef("test_n", "/proj/test_a.py", 5, "num")

	mod := &model.Module{
		Path:     "/proj/test_a.py",
		Tests:    []*model.TestDef{def},
		Fixtures: []*model.FixtureDef{fix},
	}

	suite, err := NewNormalizer(nil).Normalize(singleModuleTree(mod))
	require.NoError(t, err)
	require.Len(t, suite.Tests, 2)
	require.Equal(t, "test_n[num=1]", suite.Tests[0].DisplayName())
	require.Equal(t, "test_n[num=2]", suite.Tests[1].DisplayName())
}

func TestNormalizerFixtureOverrideShadowsOuter(t *testing.T) {
	outer := fixtureDef("username", model.ScopeFunction, "/proj/conftest.py")
	inner := fixtureDef("username", model.ScopeFunction, "/proj/sub/conftest.py", "username")

	root := model.NewPackage("/proj")
	root.Conftest = &model.Module{Path: "/proj/conftest.py", Fixtures: []*model.FixtureDef{outer}}

	sub := model.NewPackage("/proj/sub")
	sub.Parent = root
	sub.Conftest = &model.Module{Path: "/proj/sub/conftest.py", Fixtures: []*model.FixtureDef{inner}}
	root.Children["sub"] = sub

	def := testDef("test_u", "/proj/sub/test_user.py", 1, "username")
	sub.Modules["test_user.py"] = &model.Module{Path: "/proj/sub/test_user.py", Tests: []*model.TestDef{def}}

	suite, err := NewNormalizer(nil).Normalize(root)
	require.NoError(t, err)
	require.Len(t, suite.Tests, 1)

	nt := suite.Tests[0]
	require.Len(t, nt.Fixtures, 1)
	require.Same(t, inner, nt.Fixtures[0].Def)

	// The inner fixture's dependency resolved to the outer definition.
	require.Len(t, nt.Fixtures[0].Deps, 1)
	require.Same(t, outer, nt.Fixtures[0].Deps[0].Def)
}

func TestNormalizerCycleIsCollectionError(t *testing.T) {
	a := fixtureDef("a", model.ScopeFunction, "/proj/test_a.py", "b")
	b := fixtureDef("b", model.ScopeFunction, "/proj/test_a.py", "a")

	def := testDef("test_cyc", "/proj/test_a.py", 10, "a")

	mod := &model.Module{
		Path:     "/proj/test_a.py",
		Tests:    []*model.TestDef{def},
		Fixtures: []*model.FixtureDef{a, b},
	}

	suite, err := NewNormalizer(nil).Normalize(singleModuleTree(mod))
	require.NoError(t, err)
	require.Len(t, suite.Tests, 1)
	require.NotNil(t, suite.Tests[0].CollectionError)
	require.Equal(t, model.DiagFixtureCycle, suite.Tests[0].CollectionError.Kind)
}

func TestNormalizerMissingFixtureIsCollectionError(t *testing.T) {
	def := testDef("test_m", "/proj/test_a.py", 1, "nonexistent")

	mod := &model.Module{Path: "/proj/test_a.py", Tests: []*model.TestDef{def}}

	suite, err := NewNormalizer(nil).Normalize(singleModuleTree(mod))
	require.NoError(t, err)
	require.NotNil(t, suite.Tests[0].CollectionError)
	require.Equal(t, model.DiagMissingValue, suite.Tests[0].CollectionError.Kind)
}

func TestNormalizerScopeConflict(t *testing.T) {
	narrow := fixtureDef("narrow", model.ScopeFunction, "/proj/test_a.py")
	wide := fixtureDef("wide", model.ScopeSession, "/proj/test_a.py", "narrow")

	def := testDef("test_w", "/proj/test_a.py", 1, "wide")

	mod := &model.Module{
		Path:     "/proj/test_a.py",
		Tests:    []*model.TestDef{def},
		Fixtures: []*model.FixtureDef{narrow, wide},
	}

	suite, err := NewNormalizer(nil).Normalize(singleModuleTree(mod))
	require.NoError(t, err)
	require.NotNil(t, suite.Tests[0].CollectionError)
	require.Equal(t, model.DiagScopeConflict, suite.Tests[0].CollectionError.Kind)
}

func TestNormalizerBuiltinFixturesResolveLast(t *testing.T) {
	def := testDef("test_t", "/proj/test_a.py", 1, "tmp_path")

	mod := &model.Module{Path: "/proj/test_a.py", Tests: []*model.TestDef{def}}

	suite, err := NewNormalizer(nil).Normalize(singleModuleTree(mod))
	require.NoError(t, err)
	require.Nil(t, suite.Tests[0].CollectionError)
	require.Len(t, suite.Tests[0].Fixtures, 1)
	require.True(t, suite.Tests[0].Fixtures[0].BuiltIn)

	// A user fixture with the same name wins over the builtin.
	userTmp := fixtureDef("tmp_path", model.ScopeFunction, "/proj/test_a.py")
	mod.Fixtures = []*model.FixtureDef{userTmp}

	suite, err = NewNormalizer(nil).Normalize(singleModuleTree(mod))
	require.NoError(t, err)
	require.False(t, suite.Tests[0].Fixtures[0].BuiltIn)
	require.Same(t, userTmp, suite.Tests[0].Fixtures[0].Def)
}

func TestNormalizerMemoizesSharedFixtures(t *testing.T) {
	fix := fixtureDef("db", model.ScopeModule, "/proj/test_a.py")

	t1 := testDef("test_one", "/proj/test_a.py", 1, "db")
	t2 := testDef("test_two", "/proj/test_a.py", 5, "db")

	mod := &model.Module{
		Path:     "/proj/test_a.py",
		Tests:    []*model.TestDef{t1, t2},
		Fixtures: []*model.FixtureDef{fix},
	}

	suite, err := NewNormalizer(nil).Normalize(singleModuleTree(mod))
	require.NoError(t, err)
	require.Len(t, suite.Tests, 2)

	// The shared fixture is not re-expanded: both tests reference the
	// same variant.
	require.Same(t, suite.Tests[0].Fixtures[0], suite.Tests[1].Fixtures[0])
}

func TestNormalizerPerCaseTagOverrides(t *testing.T) {
	def := testDef("test_v", "/proj/test_a.py", 1, "a")
	spec := paramSpec([]string{"a"}, []model.PyValue{intVal(1, "1")}, []model.PyValue{intVal(2, "2")})
	spec.Cases[1].Tags = []model.Tag{{Kind: model.TagSkip, Reason: "flaky"}}
	def.Tags = model.TagSet{{Kind: model.TagParametrize, Spec: spec}}

	mod := &model.Module{Path: "/proj/test_a.py", Tests: []*model.TestDef{def}}

	suite, err := NewNormalizer(nil).Normalize(singleModuleTree(mod))
	require.NoError(t, err)
	require.Len(t, suite.Tests, 2)

	require.Empty(t, suite.Tests[0].ExtraTags)

	skipTag, ok := suite.Tests[1].Tags().First(model.TagSkip)
	require.True(t, ok)
	require.Equal(t, "flaky", skipTag.Reason)
}

func TestNormalizerUseFixturesResolvedWithoutBinding(t *testing.T) {
	fix := fixtureDef("env", model.ScopeFunction, "/proj/test_a.py")

	def := testDef("test_u", "/proj/test_a.py", 1)
	def.Tags = model.TagSet{{Kind: model.TagUseFixtures, Fixtures: []string{"env"}}}

	mod := &model.Module{
		Path:     "/proj/test_a.py",
		Tests:    []*model.TestDef{def},
		Fixtures: []*model.FixtureDef{fix},
	}

	suite, err := NewNormalizer(nil).Normalize(singleModuleTree(mod))
	require.NoError(t, err)
	require.Len(t, suite.Tests[0].Fixtures, 1)
	require.Equal(t, "env", suite.Tests[0].Fixtures[0].Name)
}

func TestNormalizerAutoUseCollected(t *testing.T) {
	auto := fixtureDef("setup_env", model.ScopeModule, "/proj/test_a.py")
	auto.AutoUse = true

	mod := &model.Module{
		Path:     "/proj/test_a.py",
		Tests:    []*model.TestDef{testDef("test_x", "/proj/test_a.py", 5)},
		Fixtures: []*model.FixtureDef{auto},
	}

	suite, err := NewNormalizer(nil).Normalize(singleModuleTree(mod))
	require.NoError(t, err)

	autoUse := suite.AutoUse[ModuleKey("/proj/test_a.py")]
	require.Len(t, autoUse, 1)
	require.Equal(t, "setup_env", autoUse[0].Name)
}
