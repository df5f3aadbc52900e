// Package model defines the data structures for test discovery and execution.
package model

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Path represents a file system path.
type Path string

// String returns the path as a plain string.
func (p Path) String() string { return string(p) }

// Join appends elements to the path.
func (p Path) Join(elem ...string) Path {
	parts := append([]string{string(p)}, elem...)
	return Path(filepath.Join(parts...))
}

// Base returns the last element of the path.
func (p Path) Base() string { return filepath.Base(string(p)) }

// Dir returns all but the last element of the path.
func (p Path) Dir() Path { return Path(filepath.Dir(string(p))) }

// IsPython reports whether the path names a python source file.
func (p Path) IsPython() bool { return filepath.Ext(string(p)) == ".py" }

// IsConftest reports whether the path names a conftest file.
func (p Path) IsConftest() bool { return p.Base() == "conftest.py" }

// Location identifies a position in a source file.
type Location struct {
	Path Path
	Line int
}

// String renders the location as path:line.
func (l Location) String() string {
	if l.Line <= 0 {
		return string(l.Path)
	}
	return fmt.Sprintf("%s:%d", l.Path, l.Line)
}

// Target is a user-supplied test target: a path, optionally narrowed to a
// single function via the path::function selector form.
type Target struct {
	Path     Path
	Function string
}

// ParseTarget splits a raw CLI argument into its path and optional
// function selector.
func ParseTarget(raw string) Target {
	if idx := strings.Index(raw, "::"); idx >= 0 {
		return Target{Path: Path(raw[:idx]), Function: raw[idx+2:]}
	}
	return Target{Path: Path(raw)}
}

// String renders the target back into selector form.
func (t Target) String() string {
	if t.Function == "" {
		return string(t.Path)
	}
	return fmt.Sprintf("%s::%s", t.Path, t.Function)
}
