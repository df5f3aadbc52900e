package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/MatthewMckee4/karva/internal/adapter"
	"github.com/MatthewMckee4/karva/internal/controller"
	"github.com/MatthewMckee4/karva/internal/domain"
	"github.com/MatthewMckee4/karva/internal/python"
)

var (
	testPrefixFlag        string
	failFastFlag          bool
	noIgnoreFlag          bool
	noParallelFlag        bool
	numWorkersFlag        int
	retryFlag             int
	tryImportFixturesFlag bool
	outputFormatFlag      string
)

// exitError carries a non-zero exit code out of a command that ran to
// completion.
type exitError struct {
	code int
}

func (e exitError) Error() string { return fmt.Sprintf("exit code %d", e.code) }

// exitCodeForError maps command errors onto the exit-code contract.
func exitCodeForError(err error) int {
	var exit exitError
	if errors.As(err, &exit) {
		return exit.code
	}

	if errors.Is(err, domain.ErrInvocation) {
		fmt.Fprintln(os.Stderr, err)
		return domain.ExitInvocation
	}

	fmt.Fprintln(os.Stderr, err)

	return 1
}

// testCmd represents the test command.
var testCmd = newTestCmd()

func newTestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "test [paths...]",
		Short:        "Discover and run tests",
		Long:         "Run tests under the given paths (default: current directory).\n\nPaths may be files, directories, or path::function selectors.",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			settings := settingsFromConfig(verboseFlag, quietFlag)
			settings.Parallel = !noParallelFlag
			settings.TryImportFixtures = tryImportFixturesFlag
			if noIgnoreFlag {
				settings.RespectIgnores = false
			}

			if settings.NumWorkers <= 0 {
				settings.NumWorkers = runtime.NumCPU()
			}

			ui := controller.NewSimpleUI(
				cmd,
				settings.OutputFormat,
				settings.Quiet,
				settings.Verbosity,
				colorOn(),
			)

			workflow := domain.NewWorkflow(
				adapter.NewLocalSourceFSAdapter(),
				adapter.NewLocalResultStore(),
				adapter.NewLocalWorkerAdapter(),
				ui,
				python.NewRuntime,
			)

			cwd, err := os.Getwd()
			if err != nil {
				return fmt.Errorf("%w: %v", domain.ErrInvocation, err)
			}

			// Positional paths win; otherwise the config's include list
			// seeds the run.
			if len(args) == 0 {
				args = viper.GetStringSlice(includeConfigKey)
			}

			summary, err := workflow.Test(ctx, domain.TestArgs{
				RootDir:    cwd,
				RawTargets: args,
				Settings:   settings,
				ConfigFile: configFileFlag,
			})
			if err != nil {
				return err
			}

			if summary.ExitCode != domain.ExitOK {
				return exitError{code: summary.ExitCode}
			}

			return nil
		},
	}

	configureTestFlags(cmd)

	return cmd
}

func colorOn() bool {
	switch controller.ColorMode(colorFlag) {
	case controller.ColorAlways:
		return true
	case controller.ColorNever:
		return false
	default:
		return controller.IsTTY(os.Stdout)
	}
}

func configureTestFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&testPrefixFlag, testPrefixFlagName, viper.GetString(testPrefixConfigKey), "prefix identifying test functions")
	bindFlagToConfig(cmd.Flags().Lookup(testPrefixFlagName), testPrefixConfigKey)

	cmd.Flags().BoolVar(&failFastFlag, failFastFlagName, viper.GetBool(failFastConfigKey), "stop after the first failing test")
	bindFlagToConfig(cmd.Flags().Lookup(failFastFlagName), failFastConfigKey)

	cmd.Flags().BoolVar(&noIgnoreFlag, noIgnoreFlagName, false, "do not honor ignore files during discovery")

	cmd.Flags().BoolVar(&noParallelFlag, noParallelFlagName, false, "run every test in this process")

	cmd.Flags().IntVar(&numWorkersFlag, numWorkersFlagName, viper.GetInt(numWorkersConfigKey), "number of parallel worker processes (0 = CPU count)")
	bindFlagToConfig(cmd.Flags().Lookup(numWorkersFlagName), numWorkersConfigKey)

	cmd.Flags().IntVar(&retryFlag, retryFlagName, viper.GetInt(retryConfigKey), "re-run failing tests up to N extra times")
	bindFlagToConfig(cmd.Flags().Lookup(retryFlagName), retryConfigKey)

	cmd.Flags().BoolVar(&tryImportFixturesFlag, tryImportFixturesFlagName, false, "import test modules to refine fixture discovery")

	cmd.Flags().StringVar(&outputFormatFlag, outputFormatFlagName, viper.GetString(outputFormatConfigKey), "report format: full or concise")
	bindFlagToConfig(cmd.Flags().Lookup(outputFormatFlagName), outputFormatConfigKey)
}

func init() {
	rootCmd.AddCommand(testCmd)
}
