package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"

	"github.com/MatthewMckee4/karva/internal/model"
)

// loadSettings reads the worker's configuration from the file the main
// process passed down, or KARVA_CONFIG_FILE, falling back to defaults.
func loadSettings(configFile string) (model.Settings, error) {
	v := viper.New()
	v.SetConfigType("toml")

	if configFile == "" {
		configFile = os.Getenv("KARVA_CONFIG_FILE")
	}

	v.SetDefault("src.respect-ignore-files", true)
	v.SetDefault("terminal.output-format", string(model.OutputFull))
	v.SetDefault("terminal.show-python-output", false)
	v.SetDefault("test.fail-fast", false)
	v.SetDefault("test.test-function-prefix", "test")
	v.SetDefault("test.retry", 0)

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return model.Settings{}, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	settings := model.DefaultSettings()
	settings.TestPrefix = v.GetString("test.test-function-prefix")
	settings.FailFast = v.GetBool("test.fail-fast")
	settings.RespectIgnores = v.GetBool("src.respect-ignore-files")
	settings.Retry = v.GetInt("test.retry")
	settings.ShowPythonOutput = v.GetBool("terminal.show-python-output")
	settings.Parallel = false

	if settings.TestPrefix == "" {
		settings.TestPrefix = "test"
	}

	return settings, nil
}

// noopUI satisfies the workflow's UI dependency; workers report through
// their results file, never the terminal.
type noopUI struct{}

func (noopUI) DisplayCollection(context.Context, int, []model.Diagnostic) {}

func (noopUI) DisplayRecord(context.Context, model.ResultRecord) {}

func (noopUI) DisplaySummary(context.Context, []model.ResultRecord, []model.Diagnostic, time.Duration) error {
	return nil
}
