package controller

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/MatthewMckee4/karva/internal/model"
)

// SimpleUI prints results through a cobra command's output stream.
type SimpleUI struct {
	cmd      *cobra.Command
	format   model.OutputFormat
	quiet    bool
	verbose  int
	colored  bool
	styles   styles
}

type styles struct {
	pass lipgloss.Style
	fail lipgloss.Style
	skip lipgloss.Style
	warn lipgloss.Style
	dim  lipgloss.Style
}

// NewSimpleUI creates a SimpleUI.
func NewSimpleUI(cmd *cobra.Command, format model.OutputFormat, quiet bool, verbose int, colored bool) *SimpleUI {
	return &SimpleUI{
		cmd:     cmd,
		format:  format,
		quiet:   quiet,
		verbose: verbose,
		colored: colored,
		styles: styles{
			pass: lipgloss.NewStyle().Foreground(lipgloss.Color("2")),
			fail: lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true),
			skip: lipgloss.NewStyle().Foreground(lipgloss.Color("3")),
			warn: lipgloss.NewStyle().Foreground(lipgloss.Color("5")),
			dim:  lipgloss.NewStyle().Faint(true),
		},
	}
}

func (s *SimpleUI) render(style lipgloss.Style, text string) string {
	if !s.colored {
		return text
	}

	return style.Render(text)
}

func (s *SimpleUI) printf(format string, args ...any) {
	s.cmd.Printf(format, args...)
}

// DisplayCollection announces what was discovered.
func (s *SimpleUI) DisplayCollection(ctx context.Context, testCount int, diags []model.Diagnostic) {
	if err := ctx.Err(); err != nil {
		return
	}

	if s.quiet {
		return
	}

	s.printf("collected %d tests\n", testCount)

	for _, diag := range diags {
		s.printf("%s %s: %s\n", s.render(s.styles.warn, "collection"), diag.Location.String(), diag.Message)
	}
}

// DisplayRecord prints one result as it completes.
func (s *SimpleUI) DisplayRecord(ctx context.Context, rec model.ResultRecord) {
	if err := ctx.Err(); err != nil {
		return
	}

	if s.quiet {
		return
	}

	if s.verbose == 0 && rec.Outcome.Passing() {
		return
	}

	s.printf("%s %s%s\n", s.outcomeLabel(rec.Outcome), rec.DisplayName, s.reasonSuffix(rec.Outcome))
}

func (s *SimpleUI) outcomeLabel(outcome model.Outcome) string {
	switch outcome.Kind {
	case model.OutcomePassed:
		return s.render(s.styles.pass, "PASS")
	case model.OutcomeFailed:
		return s.render(s.styles.fail, "FAIL")
	case model.OutcomeSkipped:
		return s.render(s.styles.skip, "SKIP")
	case model.OutcomeExpectFail:
		return s.render(s.styles.skip, "XFAIL")
	default:
		return s.render(s.styles.fail, "ERROR")
	}
}

func (s *SimpleUI) reasonSuffix(outcome model.Outcome) string {
	if outcome.Reason == "" {
		return ""
	}

	return s.render(s.styles.dim, fmt.Sprintf(" (%s)", outcome.Reason))
}

// DisplaySummary renders the final report: diagnostics for every
// non-passing test, then the counts line (and a per-module table in
// full format).
func (s *SimpleUI) DisplaySummary(ctx context.Context, records []model.ResultRecord, diags []model.Diagnostic, duration time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	counts := map[model.OutcomeKind]int{}

	for _, rec := range records {
		counts[rec.Outcome.Kind]++

		if rec.Outcome.Passing() || s.quiet {
			continue
		}

		s.displayFailure(rec)
	}

	if s.format == model.OutputFull && !s.quiet {
		s.displayTable(records)
	}

	s.printf("\n%s\n", s.summaryLine(counts, duration))

	return nil
}

func (s *SimpleUI) displayFailure(rec model.ResultRecord) {
	s.printf("\n%s %s\n", s.outcomeLabel(rec.Outcome), rec.DisplayName)

	diag := rec.Outcome.Diagnostic
	if diag == nil {
		if rec.Outcome.Reason != "" {
			s.printf("  %s\n", rec.Outcome.Reason)
		}
		return
	}

	if diag.Location.Path != "" {
		s.printf("  at %s\n", diag.Location.String())
	}
	if diag.Message != "" {
		s.printf("  %s\n", diag.Message)
	}

	if s.format == model.OutputFull && diag.Traceback != "" {
		for _, line := range strings.Split(strings.TrimRight(diag.Traceback, "\n"), "\n") {
			s.printf("  %s\n", s.render(s.styles.dim, line))
		}
	}

	if s.format == model.OutputFull && rec.Outcome.Output != "" {
		s.printf("  captured output:\n")
		for _, line := range strings.Split(strings.TrimRight(rec.Outcome.Output, "\n"), "\n") {
			s.printf("  | %s\n", line)
		}
	}
}

// displayTable renders per-module counts the way the full format wants.
func (s *SimpleUI) displayTable(records []model.ResultRecord) {
	type moduleCounts struct {
		passed, failed, skipped, errored int
	}

	var order []model.Path

	byModule := map[model.Path]*moduleCounts{}

	for _, rec := range records {
		if rec.Module == "" {
			continue
		}

		mc, ok := byModule[rec.Module]
		if !ok {
			mc = &moduleCounts{}
			byModule[rec.Module] = mc
			order = append(order, rec.Module)
		}

		switch rec.Outcome.Kind {
		case model.OutcomePassed:
			mc.passed++
		case model.OutcomeFailed:
			mc.failed++
		case model.OutcomeSkipped, model.OutcomeExpectFail:
			mc.skipped++
		default:
			mc.errored++
		}
	}

	if len(order) == 0 {
		return
	}

	var buf strings.Builder

	table := tablewriter.NewWriter(&buf)
	table.SetHeader([]string{"Module", "Passed", "Failed", "Skipped", "Errors"})
	table.SetBorder(false)
	table.SetAutoWrapText(false)

	for _, mod := range order {
		mc := byModule[mod]
		table.Append([]string{
			string(mod),
			fmt.Sprintf("%d", mc.passed),
			fmt.Sprintf("%d", mc.failed),
			fmt.Sprintf("%d", mc.skipped),
			fmt.Sprintf("%d", mc.errored),
		})
	}

	table.Render()

	s.printf("\n%s", buf.String())
}

func (s *SimpleUI) summaryLine(counts map[model.OutcomeKind]int, duration time.Duration) string {
	var parts []string

	appendCount := func(kind model.OutcomeKind, label string, style lipgloss.Style) {
		if counts[kind] == 0 {
			return
		}
		parts = append(parts, s.render(style, fmt.Sprintf("%d %s", counts[kind], label)))
	}

	appendCount(model.OutcomePassed, "passed", s.styles.pass)
	appendCount(model.OutcomeFailed, "failed", s.styles.fail)
	appendCount(model.OutcomeSkipped, "skipped", s.styles.skip)
	appendCount(model.OutcomeExpectFail, "expected failures", s.styles.skip)
	appendCount(model.OutcomeError, "errors", s.styles.fail)

	if len(parts) == 0 {
		parts = append(parts, "no tests ran")
	}

	return fmt.Sprintf("%s in %.2fs", strings.Join(parts, ", "), duration.Seconds())
}
