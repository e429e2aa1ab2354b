// Command fuelctl runs fuel analyses offline and manages the telemetry schema.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"fuelflow/config"
	"fuelflow/internal/analysis"
	"fuelflow/logger"
)

var (
	gAnalysis = "Analysis:"
	gDatabase = "Database:"
)

type rootOptions struct {
	configPath string
	logLevel   string
}

func main() {
	if err := NewCommand().Execute(); err != nil {
		handleCmdError(err)
		os.Exit(1)
	}
}

func handleCmdError(err error) {
	switch analysis.Classify(err) {
	case analysis.OutcomeNoData:
		fmt.Fprintln(os.Stderr, "\nno data: the input holds too few usable samples")
	case analysis.OutcomeCannotCompute:
		fmt.Fprintln(os.Stderr, "\ncannot compute: the calibration table needs at least two distinct input values")
	}
}

func NewCommand() *cobra.Command {
	opts := &rootOptions{logLevel: "warn"}

	cmd := &cobra.Command{
		Use:   "fuelctl",
		Short: "fuelctl detects refuels and drains in fuel sensor telemetry",
		Long: `fuelctl detects refuels and drains in fuel sensor telemetry.

It runs the same calibration, smoothing and segmentation as the pipeline
service on CSV exports, and prepares the telemetry database.`,
		SilenceUsage: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			_ = godotenv.Load()
			return logger.GetLogger().Configure(opts.logLevel, "text", "stderr", 0)
		},
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to the service config file")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", opts.logLevel, "log level (debug, info, warn, error)")

	cmd.AddGroup(
		&cobra.Group{ID: gAnalysis, Title: gAnalysis},
		&cobra.Group{ID: gDatabase, Title: gDatabase},
	)

	cmd.AddCommand(
		newAnalyzeCommand(opts),
		newSmoothCommand(opts),
		newMigrateCommand(opts),
		newImportCalibrationCommand(opts),
	)
	return cmd
}

// loadConfig returns nil without error when no config file was given.
func (o *rootOptions) loadConfig() (*config.Config, error) {
	if o.configPath == "" {
		return nil, nil
	}
	cfg, err := config.LoadConfig(o.configPath)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", o.configPath, err)
	}
	return cfg, nil
}
