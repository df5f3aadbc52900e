package cmd

import (
	"errors"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/MatthewMckee4/karva/internal/model"
)

const (
	configBaseName = "karva"
	configFileName = configBaseName + ".toml"

	configFileEnv = "KARVA_CONFIG_FILE"

	testPrefixFlagName        = "test-prefix"
	failFastFlagName          = "fail-fast"
	noIgnoreFlagName          = "no-ignore"
	noParallelFlagName        = "no-parallel"
	numWorkersFlagName        = "num-workers"
	retryFlagName             = "retry"
	tryImportFixturesFlagName = "try-import-fixtures"
	outputFormatFlagName      = "output-format"
	colorFlagName             = "color"
	configFileFlagName        = "config-file"

	includeConfigKey        = "src.include"
	respectIgnoresConfigKey = "src.respect-ignore-files"
	outputFormatConfigKey   = "terminal.output-format"
	showPyOutputConfigKey   = "terminal.show-python-output"
	failFastConfigKey       = "test.fail-fast"
	testPrefixConfigKey     = "test.test-function-prefix"
	retryConfigKey          = "test.retry"
	numWorkersConfigKey     = "test.num-workers"

	logFilenameKey   = "log.filename"
	logLevelKey      = "log.level"
	logMaxSizeKey    = "log.max_size"
	logMaxBackupsKey = "log.max_backups"
	logMaxAgeKey     = "log.max_age"
	logCompressKey   = "log.compress"

	defaultLogFilename   = ".karva.log"
	defaultLogMaxSize    = 10
	defaultLogMaxBackups = 3
	defaultLogMaxAge     = 28
	defaultLogCompress   = true

	envPrefix = "KARVA"
)

// initConfig wires viper to the TOML config file: the --config-file
// flag wins, then KARVA_CONFIG_FILE, then karva.toml in the working
// directory.
func initConfig(explicitPath string) {
	viper.SetConfigType("toml")
	viper.AutomaticEnv()
	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))

	viper.SetDefault(includeConfigKey, []string{})
	viper.SetDefault(respectIgnoresConfigKey, true)
	viper.SetDefault(outputFormatConfigKey, string(model.OutputFull))
	viper.SetDefault(showPyOutputConfigKey, false)
	viper.SetDefault(failFastConfigKey, false)
	viper.SetDefault(testPrefixConfigKey, "test")
	viper.SetDefault(retryConfigKey, 0)
	viper.SetDefault(numWorkersConfigKey, 0)

	viper.SetDefault(logFilenameKey, defaultLogFilename)
	viper.SetDefault(logLevelKey, int(slog.LevelInfo))
	viper.SetDefault(logMaxSizeKey, defaultLogMaxSize)
	viper.SetDefault(logMaxBackupsKey, defaultLogMaxBackups)
	viper.SetDefault(logMaxAgeKey, defaultLogMaxAge)
	viper.SetDefault(logCompressKey, defaultLogCompress)

	switch {
	case explicitPath != "":
		viper.SetConfigFile(explicitPath)
	case os.Getenv(configFileEnv) != "":
		viper.SetConfigFile(os.Getenv(configFileEnv))
	default:
		viper.SetConfigName(configBaseName)
		viper.AddConfigPath(".")
	}

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return
		}

		slog.Warn("failed to read config file", "error", err)
	}
}

// settingsFromConfig folds the merged flag/env/file configuration into
// the engine settings.
func settingsFromConfig(verbosity int, quiet bool) model.Settings {
	settings := model.DefaultSettings()

	settings.TestPrefix = viper.GetString(testPrefixConfigKey)
	settings.FailFast = viper.GetBool(failFastConfigKey)
	settings.RespectIgnores = viper.GetBool(respectIgnoresConfigKey)
	settings.Retry = viper.GetInt(retryConfigKey)
	settings.NumWorkers = viper.GetInt(numWorkersConfigKey)
	settings.ShowPythonOutput = viper.GetBool(showPyOutputConfigKey)
	settings.OutputFormat = model.OutputFormat(viper.GetString(outputFormatConfigKey))
	settings.Verbosity = verbosity
	settings.Quiet = quiet

	if settings.TestPrefix == "" {
		settings.TestPrefix = "test"
	}
	if settings.OutputFormat != model.OutputConcise {
		settings.OutputFormat = model.OutputFull
	}

	return settings
}

func parseSlogLevel(value string, defaultLevel slog.Level) slog.Level {
	level := strings.ToLower(strings.TrimSpace(value))
	if level == "" {
		return defaultLevel
	}

	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}

	// Allow numeric slog levels as well (e.g. -4 for debug).
	if n, err := strconv.Atoi(level); err == nil {
		return slog.Level(n)
	}

	return defaultLevel
}

// configureLogger routes slog to a rotating log file. The terminal is
// reserved for test output.
func configureLogger(verbose bool) {
	logPath := viper.GetString(logFilenameKey)
	if strings.TrimSpace(logPath) == "" {
		logPath = defaultLogFilename
	}

	var logLevel slog.Level
	if verbose {
		logLevel = slog.LevelDebug
	} else {
		logLevel = parseSlogLevel(viper.GetString(logLevelKey), slog.LevelInfo)
	}

	logWriter := &lumberjack.Logger{
		Filename:   logPath,
		MaxSize:    viper.GetInt(logMaxSizeKey),
		MaxBackups: viper.GetInt(logMaxBackupsKey),
		MaxAge:     viper.GetInt(logMaxAgeKey),
		Compress:   viper.GetBool(logCompressKey),
	}

	handler := slog.NewTextHandler(logWriter, &slog.HandlerOptions{
		AddSource: true,
		Level:     logLevel,
	})

	slog.SetDefault(slog.New(handler))
}
