package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/vincentbai/formshot-agent/internal/config"
)

var (
	// Global flags
	verbose    bool
	configPath string
	dbPath     string

	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "formshot-agent",
	Short: "Save and restore the state of web forms",
	Long: `formshot-agent captures the visible fields of a form into a shot,
stores shots per origin and puts them back later, even after the form
has gained or lost fields.

Targets are pages in Chrome (http/https URLs) or HTML files on disk.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		if dbPath != "" {
			cfg.Database = dbPath
		}

		logger, err = newLogger(cfg.LogLevel, verbose)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func newLogger(level string, verbose bool) (*zap.Logger, error) {
	zapConfig := zap.NewProductionConfig()
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	if verbose {
		lvl = zapcore.DebugLevel
	}
	zapConfig.Level = zap.NewAtomicLevelAt(lvl)
	return zapConfig.Build()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "Shot database path (default: per-user data directory)")

	addCaptureFlags(captureCmd)
	addRestoreFlags(restoreCmd)
	addListFlags(listCmd)
	_ = listCmd.MarkFlagRequired("url")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(captureCmd)
	rootCmd.AddCommand(restoreCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(rmCmd)
}

func addCaptureFlags(cmd *cobra.Command) {
	cmd.Flags().Bool("save", false, "Store the shot instead of printing it")
}

func addRestoreFlags(cmd *cobra.Command) {
	cmd.Flags().Int64("shot", 0, "Time of a stored shot to restore")
	cmd.Flags().String("from", "", "Read the shot from a JSON file ('-' for stdin)")
	cmd.Flags().BoolP("yes", "y", false, "Restore even if the field count differs")
}

func addListFlags(cmd *cobra.Command) {
	cmd.Flags().String("url", "", "Page URL whose origin to list shots for (required)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
