package main

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"fuelflow/internal/analysis"
)

type smoothOptions struct {
	policyFlags
	samples string
	asJSON  bool
}

func newSmoothCommand(root *rootOptions) *cobra.Command {
	o := &smoothOptions{}
	cmd := &cobra.Command{
		Use:   "smooth",
		Short: "Smooth a signal that needs no calibration, such as speed",
		Long: `Smooth a signal that needs no calibration, such as speed.

Reads "timestamp,value" rows and prints the LOWESS trend as CSV, or as JSON
with --json.`,
		Example: "  fuelctl smooth --samples speed.csv --frac 0.1",
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
			series, err := analysis.SmoothSeries(raw, opts.Smoothing)
			if err != nil {
				return fmt.Errorf("%s: %w", analysis.Classify(err).Message(), err)
			}

			if o.asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(series)
			}
			w := csv.NewWriter(cmd.OutOrStdout())
			_ = w.Write([]string{"timestamp", "value"})
			for _, s := range series {
				_ = w.Write([]string{s.Timestamp.Format(time.RFC3339), strconv.FormatFloat(s.Value, 'f', 3, 64)})
			}
			w.Flush()
			return w.Error()
		},
	}

	cmd.Flags().StringVarP(&o.samples, "samples", "s", "", "CSV file of timestamp,value readings")
	cmd.Flags().BoolVar(&o.asJSON, "json", false, "print the series as JSON")
	o.register(cmd, false)
	_ = cmd.MarkFlagRequired("samples")
	return cmd
}
