package adapter

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/MatthewMckee4/karva/internal/model"
)

func write(t *testing.T, dir, name, content string) string {
	t.Helper()

	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestResolveTargets(t *testing.T) {
	fs := NewLocalSourceFSAdapter()
	dir := t.TempDir()

	path := write(t, dir, "test_a.py", "")

	t.Run("empty arguments default to the root", func(t *testing.T) {
		targets, err := fs.ResolveTargets(context.Background(), model.Path(dir), nil)
		require.NoError(t, err)
		require.Len(t, targets, 1)
		require.Equal(t, model.Path(dir), targets[0].Path)
	})

	t.Run("relative path with selector", func(t *testing.T) {
		targets, err := fs.ResolveTargets(context.Background(), model.Path(dir), []string{"test_a.py::test_x"})
		require.NoError(t, err)
		require.Len(t, targets, 1)
		require.Equal(t, model.Path(path), targets[0].Path)
		require.Equal(t, "test_x", targets[0].Function)
	})

	t.Run("missing path is an error", func(t *testing.T) {
		_, err := fs.ResolveTargets(context.Background(), model.Path(dir), []string{"nope.py"})
		require.Error(t, err)
	})
}

func TestWalkPythonDeterministicOrder(t *testing.T) {
	fs := NewLocalSourceFSAdapter()
	dir := t.TempDir()

	write(t, dir, "test_b.py", "")
	write(t, dir, "test_a.py", "")
	write(t, dir, filepath.Join("sub", "test_c.py"), "")
	write(t, dir, "notes.txt", "")
	write(t, dir, filepath.Join("__pycache__", "test_cached.py"), "")

	var visited []string

	err := fs.WalkPython(context.Background(), model.Path(dir), []model.Target{{Path: model.Path(dir)}}, true, func(path model.Path) error {
		rel, err := filepath.Rel(dir, string(path))
		require.NoError(t, err)
		visited = append(visited, rel)
		return nil
	})
	require.NoError(t, err)

	require.Equal(t, []string{filepath.Join("sub", "test_c.py"), "test_a.py", "test_b.py"}, visited)
}

func TestWalkPythonHonorsGitignore(t *testing.T) {
	fs := NewLocalSourceFSAdapter()
	dir := t.TempDir()

	write(t, dir, ".gitignore", "ignored/\nskipme.py\n")
	write(t, dir, "test_kept.py", "")
	write(t, dir, "skipme.py", "")
	write(t, dir, filepath.Join("ignored", "test_hidden.py"), "")

	var visited []string

	visit := func(path model.Path) error {
		rel, _ := filepath.Rel(dir, string(path))
		visited = append(visited, rel)
		return nil
	}

	err := fs.WalkPython(context.Background(), model.Path(dir), []model.Target{{Path: model.Path(dir)}}, true, visit)
	require.NoError(t, err)
	require.Equal(t, []string{"test_kept.py"}, visited)

	// Opting out of ignore files visits everything.
	visited = nil
	err = fs.WalkPython(context.Background(), model.Path(dir), []model.Target{{Path: model.Path(dir)}}, false, visit)
	require.NoError(t, err)
	require.Contains(t, visited, "skipme.py")
	require.Contains(t, visited, filepath.Join("ignored", "test_hidden.py"))
}

func TestWalkPythonSingleFileTarget(t *testing.T) {
	fs := NewLocalSourceFSAdapter()
	dir := t.TempDir()

	path := write(t, dir, "test_single.py", "")
	write(t, dir, "test_other.py", "")

	var visited []string

	err := fs.WalkPython(context.Background(), model.Path(dir), []model.Target{{Path: model.Path(path)}}, true, func(p model.Path) error {
		visited = append(visited, string(p))
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []string{path}, visited)
}
