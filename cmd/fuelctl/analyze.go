package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"fuelflow/internal/analysis"
	"fuelflow/models"
	"fuelflow/reader"
)

// policyFlags are the tuning flags shared by analyze and smooth. Unset flags
// keep the value from --config, or the built in defaults without one.
type policyFlags struct {
	frac           float64
	iterations     int
	threshold      float64
	maxDrainWindow time.Duration
}

func (p *policyFlags) register(cmd *cobra.Command, withPolicy bool) {
	def := analysis.DefaultOptions()
	cmd.Flags().Float64Var(&p.frac, "frac", def.Smoothing.Frac, "share of the series used as each LOWESS neighbourhood")
	cmd.Flags().IntVar(&p.iterations, "iterations", def.Smoothing.Iterations, "robustifying LOWESS passes")
	if withPolicy {
		cmd.Flags().Float64Var(&p.threshold, "threshold", def.Policy.Threshold, "minimum volume change in litres for an event")
		cmd.Flags().DurationVar(&p.maxDrainWindow, "max-drain-window", def.Policy.MaxDrainWindow, "longest decline that can count as a drain")
	}
}

func (p *policyFlags) options(cmd *cobra.Command, root *rootOptions) (analysis.Options, error) {
	opts := analysis.DefaultOptions()
	cfg, err := root.loadConfig()
	if err != nil {
		return opts, err
	}
	if cfg != nil {
		opts = cfg.Analysis.Options()
	}

	flags := cmd.Flags()
	if flags.Changed("frac") {
		opts.Smoothing.Frac = p.frac
	}
	if flags.Changed("iterations") {
		opts.Smoothing.Iterations = p.iterations
	}
	if flags.Changed("threshold") {
		opts.Policy.Threshold = p.threshold
	}
	if flags.Changed("max-drain-window") {
		opts.Policy.MaxDrainWindow = p.maxDrainWindow
	}
	return opts, nil
}

type analyzeOptions struct {
	policyFlags
	samples     string
	calibration string
	device      string
	asJSON      bool
}

type analyzeOutput struct {
	Device  string           `json:"device,omitempty"`
	Options analysis.Options `json:"options"`
	Labels  []string         `json:"labels"`
	*analysis.Result
}

func newAnalyzeCommand(root *rootOptions) *cobra.Command {
	o := &analyzeOptions{}
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Detect refuels and drains in a CSV export",
		Long: `Detect refuels and drains in a CSV export.

The samples file holds "timestamp,value" rows of raw sensor readings in
ascending time order. The calibration file uses the table export layout
"id,deviceid_port,calibrating_data"; with --device only that terminal's
ports are pooled.`,
		Example: "  fuelctl analyze --samples lls.csv --calibration calibrating.csv --device 860001",
		GroupID: gAnalysis,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts, err := o.options(cmd, root)
			if err != nil {
				return err
			}
			raw, err := readSamplesFile(o.samples)
			if err != nil {
				return err
			}
			points, err := readCalibrationFile(o.calibration, o.device)
			if err != nil {
				return err
			}

			res, err := analysis.Analyze(points, raw, opts)
			if err != nil {
				return fmt.Errorf("%s: %w", analysis.Classify(err).Message(), err)
			}

			out := cmd.OutOrStdout()
			if o.asJSON {
				labels := make([]string, len(res.Events))
				for i, e := range res.Events {
					labels[i] = e.Label()
				}
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(analyzeOutput{Device: o.device, Options: opts, Labels: labels, Result: res})
			}
			printEvents(out, o.device, len(raw), res.Events)
			return nil
		},
	}

	cmd.Flags().StringVarP(&o.samples, "samples", "s", "", "CSV file of timestamp,value readings")
	cmd.Flags().StringVar(&o.calibration, "calibration", "", "CSV export of the calibrating table")
	cmd.Flags().StringVarP(&o.device, "device", "d", "", "terminal id whose calibration ports are pooled")
	cmd.Flags().BoolVar(&o.asJSON, "json", false, "print the full result as JSON")
	o.register(cmd, true)
	_ = cmd.MarkFlagRequired("samples")
	_ = cmd.MarkFlagRequired("calibration")
	return cmd
}

func printEvents(w io.Writer, device string, samples int, events []models.Event) {
	if device != "" {
		fmt.Fprintf(w, "device %s: ", device)
	}
	fmt.Fprintf(w, "%d samples, %d events\n", samples, len(events))
	for _, e := range events {
		fmt.Fprintf(w, "%-16s %s -> %s  (%s, marker at #%d)\n",
			e.Label(),
			e.StartTime.Format(time.RFC3339),
			e.EndTime.Format(time.RFC3339),
			e.Duration(),
			e.AnchorIndex(),
		)
	}
}

func readSamplesFile(path string) ([]models.RawSample, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open samples: %w", err)
	}
	defer f.Close()
	return reader.ReadSamplesCSV(f)
}

func readCalibrationFile(path, device string) ([]models.CalibrationPoint, error) {
	records, err := readCalibrationRecords(path)
	if err != nil {
		return nil, err
	}
	return reader.PoolCalibration(records, device)
}

func readCalibrationRecords(path string) ([]reader.Calibration, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open calibration: %w", err)
	}
	defer f.Close()
	return reader.ReadCalibrationCSV(f)
}
