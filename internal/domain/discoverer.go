package domain

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/go-python/gpython/parser"
	"github.com/go-python/gpython/py"

	"github.com/MatthewMckee4/karva/internal/adapter"
	"github.com/MatthewMckee4/karva/internal/model"
)

// Discoverer walks the project, parses python sources and builds the
// discovered package tree.
type Discoverer struct {
	fs adapter.SourceFSAdapter
}

// NewDiscoverer constructs a Discoverer over the given filesystem.
func NewDiscoverer(fs adapter.SourceFSAdapter) *Discoverer {
	return &Discoverer{fs: fs}
}

// Discover builds the package tree for the project's targets. Files that
// fail to parse produce collection diagnostics without aborting the
// walk.
func (d *Discoverer) Discover(ctx context.Context, project *model.Project) (*model.Package, []model.Diagnostic, error) {
	root := model.NewPackage(project.Root)

	var diags []model.Diagnostic

	selectors := functionSelectors(project.Targets)

	err := d.fs.WalkPython(ctx, project.Root, project.Targets, project.Settings.RespectIgnores, func(path model.Path) error {
		mod, fileDiags, err := d.parseFile(ctx, path, project.Settings.TestPrefix)
		diags = append(diags, fileDiags...)

		if err != nil {
			diags = append(diags, model.Diagnostic{
				Kind:     model.DiagParseError,
				Location: model.Location{Path: path},
				Message:  err.Error(),
			})
			slog.Warn("failed to parse python file", "path", path, "error", err)

			return nil
		}

		if wanted, ok := selectors[path]; ok {
			mod.Tests = filterTests(mod.Tests, wanted)
		}

		if path.IsConftest() {
			pkg := d.packageFor(root, project.Root, path.Dir())
			pkg.Conftest = mod

			return nil
		}

		if len(mod.Tests) == 0 && len(mod.Fixtures) == 0 {
			return nil
		}

		pkg := d.packageFor(root, project.Root, path.Dir())
		pkg.Modules[path.Base()] = mod

		return nil
	})
	if err != nil {
		return nil, diags, fmt.Errorf("discovery failed: %w", err)
	}

	return root, diags, nil
}

// parseFile parses one python source file and extracts its definitions.
func (d *Discoverer) parseFile(ctx context.Context, path model.Path, prefix string) (*model.Module, []model.Diagnostic, error) {
	src, err := d.fs.ReadFile(ctx, path)
	if err != nil {
		return nil, nil, err
	}

	tree, err := parser.Parse(bytes.NewReader(src), string(path), py.ExecMode)
	if err != nil {
		return nil, nil, err
	}

	mod, diags := extractModule(path, tree, prefix)

	return mod, diags, nil
}

// packageFor returns (creating as needed) the package for a directory,
// building the chain from the project root down.
func (d *Discoverer) packageFor(root *model.Package, projectRoot, dir model.Path) *model.Package {
	rel, err := filepath.Rel(string(projectRoot), string(dir))
	if err != nil || rel == "." || rel == "" {
		return root
	}

	pkg := root

	for _, part := range strings.Split(rel, string(filepath.Separator)) {
		if part == "" || part == "." {
			continue
		}

		child, ok := pkg.Children[part]
		if !ok {
			child = model.NewPackage(pkg.Path.Join(part))
			child.Parent = pkg
			pkg.Children[part] = child
		}

		pkg = child
	}

	return pkg
}

// functionSelectors indexes path::function targets by file path.
func functionSelectors(targets []model.Target) map[model.Path]map[string]bool {
	selectors := map[model.Path]map[string]bool{}

	for _, t := range targets {
		if t.Function == "" {
			continue
		}

		if selectors[t.Path] == nil {
			selectors[t.Path] = map[string]bool{}
		}
		selectors[t.Path][t.Function] = true
	}

	return selectors
}

func filterTests(tests []*model.TestDef, wanted map[string]bool) []*model.TestDef {
	var kept []*model.TestDef

	for _, t := range tests {
		if wanted[t.Name] {
			kept = append(kept, t)
		}
	}

	return kept
}
