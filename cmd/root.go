package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/brensch/tilepull/internal/config"
	"github.com/brensch/tilepull/internal/ledger"
)

var (
	// Flags bound in init()
	cfgFile    string
	outputDir  string
	stagingDir string
	dbPath     string
	workers    int
	logFormat  string
	logLevel   string
	logOutput  string

	// Populated in PersistentPreRunE
	rootLogger *slog.Logger
	appConfig  config.Config
	stateDB    *ledger.Ledger
)

var rootCmd = &cobra.Command{
	Use:   "tilepull",
	Short: "Fetch and unpack raster elevation tile datasets, resumably.",
	Long: `tilepull acquires large elevation tile datasets: fetching remote zip
archives with bearer-token auth, or unpacking local gzip tiles in place.
Runs are resumable (tiles already on disk are skipped) and failures are
recorded in a DuckDB ledger so they can be retried later.

The primary commands are 'fetch' and 'unpack'. 'retry' re-runs only the
tiles the ledger holds as failed, and 'state' shows the event history.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var level slog.Level
		switch strings.ToLower(logLevel) {
		case "debug":
			level = slog.LevelDebug
		case "info":
			level = slog.LevelInfo
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		default:
			level = slog.LevelInfo
		}

		var logWriter io.Writer = os.Stderr
		switch strings.ToLower(logOutput) {
		case "", "stderr":
		case "stdout":
			logWriter = os.Stdout
		default:
			f, err := os.OpenFile(logOutput, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
			if err != nil {
				return fmt.Errorf("failed to open log file %s: %w", logOutput, err)
			}
			logWriter = f
		}

		opts := &slog.HandlerOptions{Level: level}
		var handler slog.Handler
		if logFormat == "json" {
			handler = slog.NewJSONHandler(logWriter, opts)
		} else {
			handler = slog.NewTextHandler(logWriter, opts)
		}
		rootLogger = slog.New(handler)
		slog.SetDefault(rootLogger)

		appConfig = config.Default()
		if cfgFile != "" {
			var err error
			appConfig, err = config.LoadFile(cfgFile)
			if err != nil {
				return err
			}
		}
		// Explicit flags win over config file values.
		if cmd.Flags().Changed("output-dir") {
			appConfig.OutputDir = outputDir
		}
		if cmd.Flags().Changed("staging-dir") {
			appConfig.StagingDir = stagingDir
		}
		if cmd.Flags().Changed("db-path") {
			appConfig.DBPath = dbPath
		}
		if cmd.Flags().Changed("workers") {
			appConfig.Workers = workers
		}
		if appConfig.Workers < 1 {
			return fmt.Errorf("--workers must be at least 1")
		}
		rootLogger.Debug("Configuration loaded.", slog.Any("config", appConfig))

		for _, d := range []string{appConfig.OutputDir, appConfig.StagingDir} {
			if err := os.MkdirAll(d, 0o755); err != nil {
				return fmt.Errorf("failed to create directory %s: %w", d, err)
			}
		}
		if appConfig.DBPath != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(appConfig.DBPath), 0o755); err != nil {
				return fmt.Errorf("failed to create database directory: %w", err)
			}
		}

		rootLogger.Info("Opening state ledger.", "path", appConfig.DBPath)
		var err error
		stateDB, err = ledger.Open(appConfig.DBPath)
		if err != nil {
			return err
		}
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if stateDB != nil {
			if err := stateDB.Close(); err != nil {
				rootLogger.Error("Failed to close state ledger cleanly.", "error", err)
			}
		}
		return nil
	},
}

// Execute wires up the command tree and runs it. Called by main.main().
func Execute() {
	rootCmd.AddCommand(fetchCmd)
	rootCmd.AddCommand(unpackCmd)
	rootCmd.AddCommand(retryCmd)
	rootCmd.AddCommand(stateCmd)

	if err := rootCmd.Execute(); err != nil {
		if rootLogger != nil {
			rootLogger.Error("Command execution failed.", "error", err)
		} else {
			fmt.Fprintf(os.Stderr, "Command execution failed: %v\n", err)
		}
		os.Exit(1)
	}
}

func init() {
	defaults := config.Default()
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "YAML config file overriding built-in defaults")
	rootCmd.PersistentFlags().StringVarP(&outputDir, "output-dir", "o", defaults.OutputDir, "Directory for final tile artifacts")
	rootCmd.PersistentFlags().StringVarP(&stagingDir, "staging-dir", "s", defaults.StagingDir, "Directory for in-flight archive downloads")
	rootCmd.PersistentFlags().StringVarP(&dbPath, "db-path", "d", defaults.DBPath, "Path to DuckDB state database file (:memory: for in-memory)")
	rootCmd.PersistentFlags().IntVarP(&workers, "workers", "w", defaults.Workers, "Number of concurrent workers")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "Log output format (text or json)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logOutput, "log-output", "stderr", "Log output destination (stderr, stdout, or file path)")

	rootCmd.Version = "0.3.0"
}

func getLogger() *slog.Logger {
	if rootLogger == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return rootLogger
}

func getLedger() *ledger.Ledger { return stateDB }

func getConfig() config.Config { return appConfig }
