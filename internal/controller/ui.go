// Package controller renders engine results to the terminal.
package controller

import (
	"context"
	"os"
	"time"

	"github.com/mattn/go-isatty"

	"github.com/MatthewMckee4/karva/internal/model"
)

// ColorMode controls colorized output.
type ColorMode string

// Color modes accepted by --color.
const (
	ColorAuto   ColorMode = "auto"
	ColorAlways ColorMode = "always"
	ColorNever  ColorMode = "never"
)

// UI is the interface for displaying run progress and results.
// Implementations can use different output methods (plain text, TUI).
type UI interface {
	DisplayCollection(ctx context.Context, testCount int, diags []model.Diagnostic)
	DisplayRecord(ctx context.Context, rec model.ResultRecord)
	DisplaySummary(ctx context.Context, records []model.ResultRecord, diags []model.Diagnostic, duration time.Duration) error
}

// IsTTY reports whether the file is attached to a terminal.
func IsTTY(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
