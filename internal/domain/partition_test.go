package domain

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/MatthewMckee4/karva/internal/model"
)

func ntFor(module string, name string) *model.NormalizedTest {
	return &model.NormalizedTest{
		Def:    testDef(name, module, 1),
		Module: model.Path(module),
	}
}

func TestPartitionKeepsModulesTogether(t *testing.T) {
	tests := []*model.NormalizedTest{
		ntFor("/proj/test_a.py", "test_a1"),
		ntFor("/proj/test_a.py", "test_a2"),
		ntFor("/proj/test_b.py", "test_b1"),
		ntFor("/proj/test_c.py", "test_c1"),
		ntFor("/proj/test_c.py", "test_c2"),
	}

	shards := Partition(tests, 2)
	require.Len(t, shards, 2)

	// Round-robin over modules: a and c on shard 0, b on shard 1.
	require.Equal(t, []string{"/proj/test_a.py", "/proj/test_c.py"}, shards[0].Paths)
	require.Equal(t, []string{"/proj/test_b.py"}, shards[1].Paths)
	require.Len(t, shards[0].Tests, 4)
	require.Len(t, shards[1].Tests, 1)
}

func TestPartitionFewerModulesThanWorkers(t *testing.T) {
	tests := []*model.NormalizedTest{
		ntFor("/proj/test_a.py", "test_a1"),
	}

	shards := Partition(tests, 8)
	require.Len(t, shards, 1)
	require.Len(t, shards[0].Tests, 1)
}

func TestPartitionPreservesAllTests(t *testing.T) {
	tests := []*model.NormalizedTest{
		ntFor("/proj/test_a.py", "test_a"),
		ntFor("/proj/test_b.py", "test_b"),
		ntFor("/proj/test_c.py", "test_c"),
		ntFor("/proj/test_d.py", "test_d"),
	}

	shards := Partition(tests, 3)

	total := 0
	for _, shard := range shards {
		total += len(shard.Tests)
	}

	require.Equal(t, len(tests), total)
}

func TestPartitionZeroWorkers(t *testing.T) {
	shards := Partition(nil, 0)
	require.Len(t, shards, 1)
	require.Empty(t, shards[0].Tests)
}
