package domain

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/MatthewMckee4/karva/internal/model"
)

func testDef(name, path string, line int, requires ...string) *model.TestDef {
	return &model.TestDef{
		Name:     name,
		Location: model.Location{Path: model.Path(path), Line: line},
		Requires: requires,
	}
}

func runExecutor(t *testing.T, rt *fakeRuntime, settings model.Settings, suite *NormalizedSuite) ([]model.ResultRecord, error) {
	t.Helper()

	var records []model.ResultRecord

	executor := NewExecutor(rt, "/proj", settings, suite, func(rec model.ResultRecord) {
		records = append(records, rec)
	})

	err := executor.Run(context.Background(), suite.Tests)

	return records, err
}

func emptySuite(tests ...*model.NormalizedTest) *NormalizedSuite {
	return &NormalizedSuite{
		Tests:   tests,
		AutoUse: map[string][]*model.NormalizedFixture{},
	}
}

func TestExecutorSinglePassingTest(t *testing.T) {
	rt := newFakeRuntime()
	rt.module("/proj/test_a.py").attrs["test_one"] = fakeCallable(func(_ []any, _ map[string]any) (any, error) {
		return nil, nil
	})

	suite := emptySuite(&model.NormalizedTest{
		Def:    testDef("test_one", "/proj/test_a.py", 1),
		Module: "/proj/test_a.py",
	})

	records, err := runExecutor(t, rt, model.DefaultSettings(), suite)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, model.OutcomePassed, records[0].Outcome.Kind)
	require.Equal(t, "test_one", records[0].DisplayName)
	require.Equal(t, 1, records[0].Outcome.Attempts)
}

func TestExecutorFixtureFinalizerOrder(t *testing.T) {
	rt := newFakeRuntime()

	var events []string

	rt.module("/proj/conftest.py").attrs["db"] = fakeCallable(func(_ []any, _ map[string]any) (any, error) {
		events = append(events, "s")
		return &fakeGenerator{value: 1, teardown: func() error {
			events = append(events, "t")
			return nil
		}}, nil
	})
	rt.module("/proj/test_a.py").attrs["test_x"] = fakeCallable(func(_ []any, kwargs map[string]any) (any, error) {
		events = append(events, "test")
		require.Equal(t, 1, kwargs["db"])
		return nil, nil
	})

	suite := emptySuite(&model.NormalizedTest{
		Def:    testDef("test_x", "/proj/test_a.py", 1, "db"),
		Module: "/proj/test_a.py",
		Fixtures: []*model.NormalizedFixture{{
			Def:   fixtureDef("db", model.ScopeFunction, "/proj/conftest.py"),
			Name:  "db",
			Scope: model.ScopeFunction,
		}},
	})

	records, err := runExecutor(t, rt, model.DefaultSettings(), suite)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, model.OutcomePassed, records[0].Outcome.Kind)
	require.Equal(t, []string{"s", "test", "t"}, events)
}

func TestExecutorSkipCondition(t *testing.T) {
	rt := newFakeRuntime()
	rt.module("/proj/test_a.py").attrs["test_s"] = fakeCallable(func(_ []any, _ map[string]any) (any, error) {
		t.Fatal("skipped test must not run")
		return nil, nil
	})

	def := testDef("test_s", "/proj/test_a.py", 1)
	def.Tags = model.TagSet{{
		Kind:       model.TagSkip,
		Conditions: []model.PyValue{model.LiteralValue("True", true)},
		Reason:     "X",
	}}

	suite := emptySuite(&model.NormalizedTest{Def: def, Module: "/proj/test_a.py"})

	records, err := runExecutor(t, rt, model.DefaultSettings(), suite)
	require.NoError(t, err)
	require.Equal(t, model.OutcomeSkipped, records[0].Outcome.Kind)
	require.Equal(t, "X", records[0].Outcome.Reason)
}

func TestExecutorSkipConditionFalseRuns(t *testing.T) {
	rt := newFakeRuntime()
	rt.module("/proj/test_a.py").attrs["test_s"] = fakeCallable(func(_ []any, _ map[string]any) (any, error) {
		return nil, nil
	})

	def := testDef("test_s", "/proj/test_a.py", 1)
	def.Tags = model.TagSet{{
		Kind:       model.TagSkip,
		Conditions: []model.PyValue{model.LiteralValue("False", false)},
	}}

	suite := emptySuite(&model.NormalizedTest{Def: def, Module: "/proj/test_a.py"})

	records, err := runExecutor(t, rt, model.DefaultSettings(), suite)
	require.NoError(t, err)
	require.Equal(t, model.OutcomePassed, records[0].Outcome.Kind)
}

func TestExecutorExpectFailInversion(t *testing.T) {
	rt := newFakeRuntime()
	rt.module("/proj/test_a.py").attrs["test_passes"] = fakeCallable(func(_ []any, _ map[string]any) (any, error) {
		return nil, nil
	})
	rt.module("/proj/test_a.py").attrs["test_fails"] = fakeCallable(func(_ []any, _ map[string]any) (any, error) {
		return nil, assertionError("expected 2, got 3")
	})

	expectTag := model.Tag{Kind: model.TagExpectFail, Reason: "X"}

	passDef := testDef("test_passes", "/proj/test_a.py", 1)
	passDef.Tags = model.TagSet{expectTag}
	failDef := testDef("test_fails", "/proj/test_a.py", 5)
	failDef.Tags = model.TagSet{expectTag}

	suite := emptySuite(
		&model.NormalizedTest{Def: passDef, Module: "/proj/test_a.py"},
		&model.NormalizedTest{Def: failDef, Module: "/proj/test_a.py"},
	)

	records, err := runExecutor(t, rt, model.DefaultSettings(), suite)
	require.NoError(t, err)
	require.Len(t, records, 2)

	require.Equal(t, model.OutcomeFailed, records[0].Outcome.Kind)
	require.Equal(t, "passed when expected to fail", records[0].Outcome.Reason)

	require.Equal(t, model.OutcomeExpectFail, records[1].Outcome.Kind)
	require.True(t, records[1].Outcome.Passing())
}

func TestExecutorParametrizeValuesBeatFixtures(t *testing.T) {
	rt := newFakeRuntime()
	rt.module("/proj/test_a.py").attrs["test_p"] = fakeCallable(func(_ []any, kwargs map[string]any) (any, error) {
		require.Equal(t, 5, kwargs["a"])
		return nil, nil
	})

	suite := emptySuite(&model.NormalizedTest{
		Def:    testDef("test_p", "/proj/test_a.py", 1, "a"),
		Module: "/proj/test_a.py",
		Params: []model.ParamBinding{{Name: "a", Value: model.LiteralValue("5", 5)}},
	})

	records, err := runExecutor(t, rt, model.DefaultSettings(), suite)
	require.NoError(t, err)
	require.Equal(t, model.OutcomePassed, records[0].Outcome.Kind)
	require.Equal(t, "test_p[a=5]", records[0].DisplayName)
}

func TestExecutorRetriesOnlyFailures(t *testing.T) {
	rt := newFakeRuntime()

	calls := 0
	rt.module("/proj/test_a.py").attrs["test_flaky"] = fakeCallable(func(_ []any, _ map[string]any) (any, error) {
		calls++
		if calls < 3 {
			return nil, assertionError("flaky")
		}
		return nil, nil
	})

	settings := model.DefaultSettings()
	settings.Retry = 2

	suite := emptySuite(&model.NormalizedTest{
		Def:    testDef("test_flaky", "/proj/test_a.py", 1),
		Module: "/proj/test_a.py",
	})

	records, err := runExecutor(t, rt, settings, suite)
	require.NoError(t, err)
	require.Equal(t, model.OutcomePassed, records[0].Outcome.Kind)
	require.Equal(t, 3, records[0].Outcome.Attempts)
}

func TestExecutorSetupErrorsDoNotRetry(t *testing.T) {
	rt := newFakeRuntime()

	fixtureCalls := 0
	rt.module("/proj/conftest.py").attrs["db"] = fakeCallable(func(_ []any, _ map[string]any) (any, error) {
		fixtureCalls++
		return nil, failError("db down")
	})
	rt.module("/proj/test_a.py").attrs["test_x"] = fakeCallable(func(_ []any, _ map[string]any) (any, error) {
		t.Fatal("test must not run after setup error")
		return nil, nil
	})

	settings := model.DefaultSettings()
	settings.Retry = 3

	suite := emptySuite(&model.NormalizedTest{
		Def:    testDef("test_x", "/proj/test_a.py", 1, "db"),
		Module: "/proj/test_a.py",
		Fixtures: []*model.NormalizedFixture{{
			Def:   fixtureDef("db", model.ScopeFunction, "/proj/conftest.py"),
			Name:  "db",
			Scope: model.ScopeFunction,
		}},
	})

	records, err := runExecutor(t, rt, settings, suite)
	require.NoError(t, err)
	require.Equal(t, model.OutcomeError, records[0].Outcome.Kind)
	require.Equal(t, model.PhaseSetup, records[0].Outcome.Phase)
	require.Equal(t, 1, records[0].Outcome.Attempts)
	require.Equal(t, 1, fixtureCalls)
}

func TestExecutorFailFastStopsEnumeration(t *testing.T) {
	rt := newFakeRuntime()
	rt.module("/proj/test_a.py").attrs["test_bad"] = fakeCallable(func(_ []any, _ map[string]any) (any, error) {
		return nil, assertionError("nope")
	})
	rt.module("/proj/test_a.py").attrs["test_later"] = fakeCallable(func(_ []any, _ map[string]any) (any, error) {
		t.Fatal("fail-fast must stop before this test")
		return nil, nil
	})

	settings := model.DefaultSettings()
	settings.FailFast = true

	suite := emptySuite(
		&model.NormalizedTest{Def: testDef("test_bad", "/proj/test_a.py", 1), Module: "/proj/test_a.py"},
		&model.NormalizedTest{Def: testDef("test_later", "/proj/test_a.py", 5), Module: "/proj/test_a.py"},
	)

	records, err := runExecutor(t, rt, settings, suite)
	require.ErrorIs(t, err, ErrFailFast)
	require.Len(t, records, 1)
}

func TestExecutorModuleScopedFixtureSharedWithinModule(t *testing.T) {
	rt := newFakeRuntime()

	instantiations := 0
	teardowns := 0

	rt.module("/proj/conftest.py").attrs["db"] = fakeCallable(func(_ []any, _ map[string]any) (any, error) {
		instantiations++
		return &fakeGenerator{value: instantiations, teardown: func() error {
			teardowns++
			return nil
		}}, nil
	})

	passing := fakeCallable(func(_ []any, _ map[string]any) (any, error) { return nil, nil })
	rt.module("/proj/test_a.py").attrs["test_one"] = passing
	rt.module("/proj/test_a.py").attrs["test_two"] = passing
	rt.module("/proj/test_b.py").attrs["test_three"] = passing

	def := fixtureDef("db", model.ScopeModule, "/proj/conftest.py")

	fixtureFor := func() []*model.NormalizedFixture {
		return []*model.NormalizedFixture{{Def: def, Name: "db", Scope: model.ScopeModule}}
	}

	suite := emptySuite(
		&model.NormalizedTest{Def: testDef("test_one", "/proj/test_a.py", 1, "db"), Module: "/proj/test_a.py", Fixtures: fixtureFor()},
		&model.NormalizedTest{Def: testDef("test_two", "/proj/test_a.py", 5, "db"), Module: "/proj/test_a.py", Fixtures: fixtureFor()},
		&model.NormalizedTest{Def: testDef("test_three", "/proj/test_b.py", 1, "db"), Module: "/proj/test_b.py", Fixtures: fixtureFor()},
	)

	records, err := runExecutor(t, rt, model.DefaultSettings(), suite)
	require.NoError(t, err)
	require.Len(t, records, 3)

	// Once per module, torn down at each module boundary.
	require.Equal(t, 2, instantiations)
	require.Equal(t, 2, teardowns)
}

func TestExecutorAutoUseFixturesRun(t *testing.T) {
	rt := newFakeRuntime()

	autoRan := 0
	rt.module("/proj/conftest.py").attrs["setup_env"] = fakeCallable(func(_ []any, _ map[string]any) (any, error) {
		autoRan++
		return nil, nil
	})
	rt.module("/proj/test_a.py").attrs["test_one"] = fakeCallable(func(_ []any, _ map[string]any) (any, error) {
		require.Equal(t, 1, autoRan)
		return nil, nil
	})

	def := fixtureDef("setup_env", model.ScopeSession, "/proj/conftest.py")
	def.AutoUse = true

	suite := emptySuite(&model.NormalizedTest{
		Def:    testDef("test_one", "/proj/test_a.py", 1),
		Module: "/proj/test_a.py",
	})
	suite.AutoUse[sessionKey] = []*model.NormalizedFixture{{Def: def, Name: "setup_env", Scope: model.ScopeSession}}

	records, err := runExecutor(t, rt, model.DefaultSettings(), suite)
	require.NoError(t, err)
	require.Equal(t, model.OutcomePassed, records[0].Outcome.Kind)
	require.Equal(t, 1, autoRan)
}

func TestExecutorCollectionErrorPoisonsVariant(t *testing.T) {
	rt := newFakeRuntime()

	suite := emptySuite(&model.NormalizedTest{
		Def:    testDef("test_cyclic", "/proj/test_a.py", 1, "a"),
		Module: "/proj/test_a.py",
		CollectionError: &model.Diagnostic{
			Kind:    model.DiagFixtureCycle,
			Message: `fixture "a" participates in a dependency cycle`,
		},
	})

	records, err := runExecutor(t, rt, model.DefaultSettings(), suite)
	require.NoError(t, err)
	require.Equal(t, model.OutcomeError, records[0].Outcome.Kind)
	require.Equal(t, model.PhaseCollection, records[0].Outcome.Phase)
}

func TestExecutorCapturedOutputAttached(t *testing.T) {
	rt := newFakeRuntime()
	rt.captured = "hello from python\n"
	rt.module("/proj/test_a.py").attrs["test_out"] = fakeCallable(func(_ []any, _ map[string]any) (any, error) {
		return nil, assertionError("boom")
	})

	suite := emptySuite(&model.NormalizedTest{
		Def:    testDef("test_out", "/proj/test_a.py", 1),
		Module: "/proj/test_a.py",
	})

	records, err := runExecutor(t, rt, model.DefaultSettings(), suite)
	require.NoError(t, err)
	require.Equal(t, "hello from python\n", records[0].Outcome.Output)
}
