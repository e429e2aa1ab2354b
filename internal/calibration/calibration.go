// Package calibration turns pooled calibration points into a piecewise-linear
// mapping from raw sensor readings to tank volume.
package calibration

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"fuelflow/models"
)

// ErrCalibration is returned when the points cannot define a curve.
var ErrCalibration = errors.New("insufficient calibration data")

// Curve is an immutable interpolation function built from calibration points.
// Knots are sorted by input value with duplicate inputs collapsed.
type Curve struct {
	xs []float64
	ys []float64
}

// NewCurve sorts the points by input value and builds the interpolation
// segments. Points sharing an input value are averaged into one knot.
// The caller's slice is not modified.
func NewCurve(points []models.CalibrationPoint) (*Curve, error) {
	sorted := make([]models.CalibrationPoint, 0, len(points))
	for _, p := range points {
		if !isFinite(p.InputValue) || !isFinite(p.OutputValue) {
			return nil, fmt.Errorf("%w: non-finite point (%v, %v)", ErrCalibration, p.InputValue, p.OutputValue)
		}
		sorted = append(sorted, p)
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].InputValue < sorted[j].InputValue
	})

	c := &Curve{
		xs: make([]float64, 0, len(sorted)),
		ys: make([]float64, 0, len(sorted)),
	}
	for i := 0; i < len(sorted); {
		x := sorted[i].InputValue
		sum := 0.0
		n := 0
		for ; i < len(sorted) && sorted[i].InputValue == x; i++ {
			sum += sorted[i].OutputValue
			n++
		}
		c.xs = append(c.xs, x)
		c.ys = append(c.ys, sum/float64(n))
	}

	if len(c.xs) < 2 {
		return nil, fmt.Errorf("%w: need at least 2 distinct input values, got %d from %d points",
			ErrCalibration, len(c.xs), len(points))
	}
	return c, nil
}

// Value maps a raw reading to volume. Readings outside the calibrated range
// continue the slope of the nearest boundary segment.
func (c *Curve) Value(raw float64) float64 {
	n := len(c.xs)
	// first knot >= raw
	k := sort.SearchFloat64s(c.xs, raw)
	if k < n && c.xs[k] == raw {
		return c.ys[k]
	}
	switch {
	case k == 0:
		k = 1
	case k >= n:
		k = n - 1
	}
	x0, x1 := c.xs[k-1], c.xs[k]
	y0, y1 := c.ys[k-1], c.ys[k]
	return y0 + (raw-x0)*(y1-y0)/(x1-x0)
}

// Apply calibrates a whole series. Order and length are preserved.
func (c *Curve) Apply(samples []models.RawSample) []models.VolumeSample {
	out := make([]models.VolumeSample, len(samples))
	for i, s := range samples {
		out[i] = models.VolumeSample{Timestamp: s.Timestamp, Volume: c.Value(s.RawValue)}
	}
	return out
}

// Knots returns a copy of the sorted, de-duplicated calibration points.
func (c *Curve) Knots() []models.CalibrationPoint {
	out := make([]models.CalibrationPoint, len(c.xs))
	for i := range c.xs {
		out[i] = models.CalibrationPoint{InputValue: c.xs[i], OutputValue: c.ys[i]}
	}
	return out
}

// Range reports the calibrated input interval.
func (c *Curve) Range() (lo, hi float64) {
	return c.xs[0], c.xs[len(c.xs)-1]
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
