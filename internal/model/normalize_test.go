package model

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDisplayName(t *testing.T) {
	def := &TestDef{Name: "test_pos"}

	t.Run("no parameters", func(t *testing.T) {
		nt := &NormalizedTest{Def: def}
		require.Equal(t, "test_pos", nt.DisplayName())
	})

	t.Run("parametrize bindings in source order", func(t *testing.T) {
		nt := &NormalizedTest{
			Def: def,
			Params: []ParamBinding{
				{Name: "a", Value: LiteralValue("1", 1)},
				{Name: "b", Value: LiteralValue("'x'", "x")},
			},
		}
		require.Equal(t, "test_pos[a=1, b='x']", nt.DisplayName())
	})

	t.Run("parametrized fixtures contribute after bindings", func(t *testing.T) {
		param := LiteralValue("2", 2)
		nt := &NormalizedTest{
			Def:    def,
			Params: []ParamBinding{{Name: "a", Value: LiteralValue("1", 1)}},
			Fixtures: []*NormalizedFixture{
				{Name: "db", Param: &param, Scope: ScopeFunction},
			},
		}
		require.Equal(t, "test_pos[a=1, db=2]", nt.DisplayName())
	})

	t.Run("fixture dependencies contribute depth first", func(t *testing.T) {
		inner := LiteralValue("1", 1)
		outer := LiteralValue("2", 2)
		nt := &NormalizedTest{
			Def: def,
			Fixtures: []*NormalizedFixture{
				{
					Name:  "outer",
					Param: &outer,
					Deps: []*NormalizedFixture{
						{Name: "inner", Param: &inner},
					},
				},
			},
		}
		require.Equal(t, "test_pos[inner=1, outer=2]", nt.DisplayName())
	})

	t.Run("unparametrized fixtures contribute nothing", func(t *testing.T) {
		nt := &NormalizedTest{
			Def:      def,
			Fixtures: []*NormalizedFixture{{Name: "db"}},
		}
		require.Equal(t, "test_pos", nt.DisplayName())
	})
}

func TestNormalizedFixtureID(t *testing.T) {
	nf := &NormalizedFixture{Name: "db"}
	require.Equal(t, "db", nf.ID())

	param := LiteralValue("3", 3)
	nf.Param = &param
	require.Equal(t, "db[3]", nf.ID())
}

func TestScopeNarrower(t *testing.T) {
	require.True(t, ScopeFunction.Narrower(ScopeModule))
	require.True(t, ScopeModule.Narrower(ScopeSession))
	require.False(t, ScopeSession.Narrower(ScopeFunction))
	require.False(t, ScopeModule.Narrower(ScopeModule))
	require.False(t, ScopeDynamic.Narrower(ScopeSession))
}

func TestParseTarget(t *testing.T) {
	target := ParseTarget("tests/test_api.py::test_get")
	require.Equal(t, Path("tests/test_api.py"), target.Path)
	require.Equal(t, "test_get", target.Function)
	require.Equal(t, "tests/test_api.py::test_get", target.String())

	plain := ParseTarget("tests")
	require.Equal(t, Path("tests"), plain.Path)
	require.Empty(t, plain.Function)
}
