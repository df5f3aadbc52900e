// Package cmd provides the root command and CLI setup for karva.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Root-level flags shared by subcommands.
var (
	configFileFlag string
	verboseFlag    int
	quietFlag      bool
	colorFlag      string
)

const rootLongDescription = `Karva is a test runner for Python projects, compatible with a
significant subset of the pytest contract: it discovers test functions
and fixtures, resolves fixture scopes, expands parametrized tests and
runs them, optionally across parallel worker processes.

Select tests by path, directory, or path::function selector:
  karva test tests/
  karva test tests/test_api.py
  karva test tests/test_api.py::test_get`

// rootCmd represents the base command when called without any
// subcommands.
var rootCmd = baseRootCmd()

func baseRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "karva",
		Short: "Python test runner",
		Long:  rootLongDescription,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			initConfig(configFileFlag)
			configureLogger(verboseFlag > 0)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	cmd.PersistentFlags().StringVar(&configFileFlag, configFileFlagName, "", "path to the karva.toml configuration file")
	cmd.PersistentFlags().CountVarP(&verboseFlag, "verbose", "v", "increase output verbosity (repeatable)")
	cmd.PersistentFlags().BoolVarP(&quietFlag, "quiet", "q", false, "suppress per-test output")
	cmd.PersistentFlags().StringVar(&colorFlag, colorFlagName, "auto", "colorize output: auto, always or never")

	return cmd
}

// bindFlagToConfig wires a cobra flag to a viper key so config/env
// values feed the flag.
func bindFlagToConfig(flag *pflag.Flag, key string) {
	if flag == nil {
		cobra.CheckErr(fmt.Errorf("flag for config key %q not found", key))
		return
	}

	cobra.CheckErr(viper.BindPFlag(key, flag))
}

// Execute adds all child commands to the root command and sets flags
// appropriately. This is called by main.main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(exitCodeForError(err))
	}
}
