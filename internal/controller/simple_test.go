package controller

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"github.com/MatthewMckee4/karva/internal/model"
)

func uiWithBuffer(format model.OutputFormat, quiet bool, verbose int) (*SimpleUI, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	cmd := &cobra.Command{}
	cmd.SetOut(buf)

	return NewSimpleUI(cmd, format, quiet, verbose, false), buf
}

func passRec(name string) model.ResultRecord {
	return model.ResultRecord{
		DisplayName: name,
		Module:      "/proj/test_a.py",
		Outcome:     model.Outcome{Kind: model.OutcomePassed, Attempts: 1},
	}
}

func failRec(name, reason string) model.ResultRecord {
	return model.ResultRecord{
		DisplayName: name,
		Module:      "/proj/test_a.py",
		Outcome: model.Outcome{
			Kind:   model.OutcomeFailed,
			Reason: reason,
			Diagnostic: &model.Diagnostic{
				Kind:     model.DiagTestFailure,
				Location: model.Location{Path: "/proj/test_a.py", Line: 3},
				Message:  reason,
			},
			Attempts: 1,
		},
	}
}

func TestSimpleUISummaryCounts(t *testing.T) {
	ui, buf := uiWithBuffer(model.OutputConcise, false, 0)

	records := []model.ResultRecord{
		passRec("test_one"),
		passRec("test_two"),
		failRec("test_three", "assertion failed"),
		{DisplayName: "test_four", Outcome: model.Outcome{Kind: model.OutcomeSkipped, Reason: "later"}},
	}

	err := ui.DisplaySummary(context.Background(), records, nil, 1500*time.Millisecond)
	require.NoError(t, err)

	out := buf.String()
	require.Contains(t, out, "2 passed")
	require.Contains(t, out, "1 failed")
	require.Contains(t, out, "1 skipped")
	require.Contains(t, out, "1.50s")
}

func TestSimpleUIFailureDetails(t *testing.T) {
	ui, buf := uiWithBuffer(model.OutputFull, false, 0)

	err := ui.DisplaySummary(context.Background(), []model.ResultRecord{failRec("test_x", "boom")}, nil, time.Second)
	require.NoError(t, err)

	out := buf.String()
	require.Contains(t, out, "FAIL")
	require.Contains(t, out, "test_x")
	require.Contains(t, out, "/proj/test_a.py:3")
	require.Contains(t, out, "boom")
}

func TestSimpleUIQuietSuppressesPerTestOutput(t *testing.T) {
	ui, buf := uiWithBuffer(model.OutputFull, true, 0)

	ui.DisplayCollection(context.Background(), 3, nil)
	ui.DisplayRecord(context.Background(), failRec("test_noisy", "boom"))

	require.Empty(t, buf.String())
}

func TestSimpleUIVerboseShowsPasses(t *testing.T) {
	ui, buf := uiWithBuffer(model.OutputFull, false, 1)

	ui.DisplayRecord(context.Background(), passRec("test_seen"))
	require.Contains(t, buf.String(), "test_seen")

	ui2, buf2 := uiWithBuffer(model.OutputFull, false, 0)
	ui2.DisplayRecord(context.Background(), passRec("test_hidden"))
	require.Empty(t, buf2.String())
}

func TestSimpleUINoTests(t *testing.T) {
	ui, buf := uiWithBuffer(model.OutputFull, false, 0)

	err := ui.DisplaySummary(context.Background(), nil, nil, time.Second)
	require.NoError(t, err)
	require.Contains(t, buf.String(), "no tests ran")
}
