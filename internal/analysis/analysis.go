// Package analysis runs the calibration, smoothing and segmentation stages as
// one pass over a device's samples. It is the single entry point used by the
// pipeline processor, the HTTP API and the command line tool.
package analysis

import (
	"context"
	"errors"
	"fmt"

	"fuelflow/internal/calibration"
	"fuelflow/internal/segment"
	"fuelflow/internal/smoothing"
	"fuelflow/models"
)

// Options bundles the policy constants of every stage.
type Options struct {
	Smoothing smoothing.Options `yaml:"smoothing" json:"smoothing"`
	Policy    segment.Policy    `yaml:"policy" json:"policy"`
}

func DefaultOptions() Options {
	return Options{
		Smoothing: smoothing.DefaultOptions(),
		Policy:    segment.DefaultPolicy(),
	}
}

// Result holds every intermediate series so charting collaborators can draw
// the calibrated volume next to its trend and the event markers.
type Result struct {
	Volumes []models.VolumeSample   `json:"volumes"`
	Series  []models.SmoothedSample `json:"series"`
	Events  []models.Event          `json:"events"`
}

// Analyze calibrates, smooths and segments one series. Errors from the
// calibration and smoothing stages wrap calibration.ErrCalibration and
// smoothing.ErrInsufficientData respectively.
func Analyze(points []models.CalibrationPoint, raw []models.RawSample, opts Options) (*Result, error) {
	if err := opts.Policy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid policy: %w", err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: no samples", smoothing.ErrInsufficientData)
	}

	curve, err := calibration.NewCurve(points)
	if err != nil {
		return nil, err
	}
	volumes := curve.Apply(raw)

	values := make([]float64, len(volumes))
	for i, v := range volumes {
		values[i] = v.Volume
	}
	smoothed, err := smoothing.Lowess(values, opts.Smoothing)
	if err != nil {
		return nil, err
	}

	series := make([]models.SmoothedSample, len(volumes))
	for i, v := range volumes {
		series[i] = models.SmoothedSample{Timestamp: v.Timestamp, Value: smoothed[i]}
	}

	return &Result{
		Volumes: volumes,
		Series:  series,
		Events:  segment.Detect(series, opts.Policy),
	}, nil
}

// AnalyzeContext is Analyze bounded by ctx. The stages have no internal
// checkpoints, so the deadline is only checked around the whole pass.
func AnalyzeContext(ctx context.Context, points []models.CalibrationPoint, raw []models.RawSample, opts Options) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	res, err := Analyze(points, raw, opts)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return res, nil
}

// SmoothSeries smooths a signal that needs no calibration, such as speed.
func SmoothSeries(raw []models.RawSample, opts smoothing.Options) ([]models.SmoothedSample, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: no samples", smoothing.ErrInsufficientData)
	}
	values := make([]float64, len(raw))
	for i, s := range raw {
		values[i] = s.RawValue
	}
	smoothed, err := smoothing.Lowess(values, opts)
	if err != nil {
		return nil, err
	}
	out := make([]models.SmoothedSample, len(raw))
	for i, s := range raw {
		out[i] = models.SmoothedSample{Timestamp: s.Timestamp, Value: smoothed[i]}
	}
	return out, nil
}

// Outcome classifies an analysis error for user facing collaborators.
type Outcome int

const (
	OutcomeOK Outcome = iota
	OutcomeNoData
	OutcomeCannotCompute
	OutcomeFailed
)

func Classify(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeOK
	case errors.Is(err, smoothing.ErrInsufficientData):
		return OutcomeNoData
	case errors.Is(err, calibration.ErrCalibration):
		return OutcomeCannotCompute
	default:
		return OutcomeFailed
	}
}

func (o Outcome) Message() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeNoData:
		return "no data"
	case OutcomeCannotCompute:
		return "cannot compute"
	default:
		return "analysis failed"
	}
}
