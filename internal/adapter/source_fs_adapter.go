// Package adapter provides concrete implementations of the boundary
// interfaces the engine depends on: filesystem traversal, the results
// cache, worker subprocesses and the python runtime.
package adapter

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	gitignore "github.com/sabhiram/go-gitignore"

	"github.com/MatthewMckee4/karva/internal/model"
)

// SourceFSAdapter abstracts filesystem-specific operations the engine
// relies on when scanning user projects. It hides direct `os` access so
// discovery logic can be tested without touching the disk.
type SourceFSAdapter interface {
	// ResolveTargets canonicalizes raw CLI arguments (paths and
	// path::function selectors) against the project root. Unreadable
	// paths are invocation errors.
	ResolveTargets(ctx context.Context, root model.Path, raw []string) ([]model.Target, error)

	// WalkPython visits every python file under the targets in
	// deterministic (lexical) order, honoring ignore files unless
	// disabled.
	WalkPython(ctx context.Context, root model.Path, targets []model.Target, respectIgnores bool, visit func(path model.Path) error) error

	// ReadFile loads a source file.
	ReadFile(ctx context.Context, path model.Path) ([]byte, error)
}

// LocalSourceFSAdapter is the os-backed implementation.
type LocalSourceFSAdapter struct{}

// NewLocalSourceFSAdapter constructs a LocalSourceFSAdapter.
func NewLocalSourceFSAdapter() *LocalSourceFSAdapter {
	return &LocalSourceFSAdapter{}
}

// ResolveTargets implements SourceFSAdapter.
func (a *LocalSourceFSAdapter) ResolveTargets(ctx context.Context, root model.Path, raw []string) ([]model.Target, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if len(raw) == 0 {
		return []model.Target{{Path: root}}, nil
	}

	targets := make([]model.Target, 0, len(raw))

	for _, arg := range raw {
		target := model.ParseTarget(arg)

		path := string(target.Path)
		if !filepath.IsAbs(path) {
			path = filepath.Join(string(root), path)
		}

		abs, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("cannot resolve path %q: %w", arg, err)
		}

		// Symlinks are followed; only existence matters here.
		if _, err := os.Stat(abs); err != nil {
			slog.Error("target path is not readable", "path", abs, "error", err)
			return nil, fmt.Errorf("cannot read path %q: %w", arg, err)
		}

		targets = append(targets, model.Target{Path: model.Path(abs), Function: target.Function})
	}

	return targets, nil
}

// WalkPython implements SourceFSAdapter.
func (a *LocalSourceFSAdapter) WalkPython(ctx context.Context, root model.Path, targets []model.Target, respectIgnores bool, visit func(path model.Path) error) error {
	ignorer := loadIgnorer(root, respectIgnores)
	seen := map[model.Path]bool{}

	for _, target := range targets {
		info, err := os.Stat(string(target.Path))
		if err != nil {
			return fmt.Errorf("cannot read path %q: %w", target.Path, err)
		}

		if !info.IsDir() {
			if target.Path.IsPython() && !seen[target.Path] {
				seen[target.Path] = true
				if err := visit(target.Path); err != nil {
					return err
				}
			}

			continue
		}

		err = filepath.WalkDir(string(target.Path), func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}

			if err := ctx.Err(); err != nil {
				return err
			}

			name := d.Name()

			if d.IsDir() {
				if path != string(target.Path) && skipDir(name) {
					return filepath.SkipDir
				}
				if ignorer != nil && ignorer.MatchesPath(relTo(root, path)+"/") {
					return filepath.SkipDir
				}

				return nil
			}

			if filepath.Ext(name) != ".py" {
				return nil
			}

			if ignorer != nil && ignorer.MatchesPath(relTo(root, path)) {
				return nil
			}

			p := model.Path(path)
			if seen[p] {
				return nil
			}
			seen[p] = true

			return visit(p)
		})
		if err != nil {
			return err
		}
	}

	return nil
}

// ReadFile implements SourceFSAdapter.
func (a *LocalSourceFSAdapter) ReadFile(ctx context.Context, path model.Path) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(string(path))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	return data, nil
}

// loadIgnorer compiles the project's .gitignore when ignore handling is
// on. A missing file disables matching.
func loadIgnorer(root model.Path, respectIgnores bool) *gitignore.GitIgnore {
	if !respectIgnores {
		return nil
	}

	ignorer, err := gitignore.CompileIgnoreFile(filepath.Join(string(root), ".gitignore"))
	if err != nil {
		return nil
	}

	return ignorer
}

// skipDir filters directories that can never contain collectible tests.
func skipDir(name string) bool {
	if name == "__pycache__" {
		return true
	}

	return strings.HasPrefix(name, ".")
}

func relTo(root model.Path, path string) string {
	rel, err := filepath.Rel(string(root), path)
	if err != nil {
		return path
	}

	return rel
}
