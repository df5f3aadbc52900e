// Package main is the entry point for the karva worker binary. A worker
// executes one shard of a run: it re-discovers its assigned paths,
// runs them through the executor and streams outcomes into its own
// results file under the shared cache directory.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/MatthewMckee4/karva/internal/adapter"
	"github.com/MatthewMckee4/karva/internal/domain"
	"github.com/MatthewMckee4/karva/internal/python"
)

var (
	runIDFlag      string
	workerIDFlag   int
	cacheDirFlag   string
	configFileFlag string
)

func newWorkerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "karva-worker --run-id ID --worker-id N --cache DIR [paths...]",
		Short:         "Execute one shard of a karva run",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(_ *cobra.Command, args []string) error {
			// SIGTERM from the main process (fail-fast or interrupt)
			// cancels the run; the executor unwinds open scopes before
			// the process exits.
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			settings, err := loadSettings(configFileFlag)
			if err != nil {
				return err
			}

			workflow := domain.NewWorkflow(
				adapter.NewLocalSourceFSAdapter(),
				adapter.NewLocalResultStore(),
				adapter.NewLocalWorkerAdapter(),
				noopUI{},
				python.NewRuntime,
			)

			cwd, err := os.Getwd()
			if err != nil {
				return err
			}

			// Exit code 0 covers completed runs even when tests failed;
			// only internal errors are non-zero.
			return workflow.Worker(ctx, domain.WorkerArgs{
				RootDir:  cwd,
				RunID:    runIDFlag,
				WorkerID: workerIDFlag,
				CacheDir: cacheDirFlag,
				Paths:    args,
				Settings: settings,
			})
		},
	}

	cmd.Flags().StringVar(&runIDFlag, "run-id", "", "run identifier")
	cmd.Flags().IntVar(&workerIDFlag, "worker-id", 0, "worker index within the run")
	cmd.Flags().StringVar(&cacheDirFlag, "cache", "", "results cache directory")
	cmd.Flags().StringVar(&configFileFlag, "config-file", "", "path to the karva.toml configuration file")

	cobra.CheckErr(cmd.MarkFlagRequired("run-id"))
	cobra.CheckErr(cmd.MarkFlagRequired("cache"))

	return cmd
}

func main() {
	if err := newWorkerCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
