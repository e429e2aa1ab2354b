// Package smoothing implements robust locally weighted regression (LOWESS)
// over index-ordered series.
package smoothing

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// ErrInsufficientData is returned when a series is too short to smooth.
var ErrInsufficientData = errors.New("insufficient data for smoothing")

const (
	DefaultFrac       = 0.05
	DefaultIterations = 3
)

// Options controls the smoother. Frac is the share of the series used as the
// neighbourhood of each point; Iterations is the number of robustifying
// re-weighting passes after the initial fit.
type Options struct {
	Frac       float64 `yaml:"frac" json:"frac"`
	Iterations int     `yaml:"iterations" json:"iterations"`
}

func DefaultOptions() Options {
	return Options{Frac: DefaultFrac, Iterations: DefaultIterations}
}

func (o Options) validate() error {
	if math.IsNaN(o.Frac) || o.Frac <= 0 || o.Frac > 1 {
		return fmt.Errorf("frac must be in (0, 1], got %v", o.Frac)
	}
	if o.Iterations < 0 {
		return fmt.Errorf("iterations must be >= 0, got %d", o.Iterations)
	}
	return nil
}

// Lowess returns a smoothed copy of values, index aligned with the input.
// The abscissa is the sample index, so spacing in time is ignored.
func Lowess(values []float64, opts Options) ([]float64, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	n := len(values)
	if n < 2 {
		return nil, fmt.Errorf("%w: %d samples", ErrInsufficientData, n)
	}

	k := int(opts.Frac*float64(n) + 1e-10)
	if k < 2 {
		k = 2
	}
	if k > n {
		k = n
	}

	x := make([]float64, n)
	for i := range x {
		x[i] = float64(i)
	}

	robust := make([]float64, n)
	for i := range robust {
		robust[i] = 1
	}
	fit := make([]float64, n)
	weights := make([]float64, n)

	for pass := 0; pass <= opts.Iterations; pass++ {
		left, right := 0, k
		for i := 0; i < n; i++ {
			for right < n && x[i] > (x[left]+x[right])/2 {
				left++
				right++
			}
			v, ok := localFit(x, values, robust, weights, i, left, right)
			if !ok {
				v = values[i]
			}
			fit[i] = v
		}
		if pass < opts.Iterations {
			residualWeights(values, fit, robust)
		}
	}
	return fit, nil
}

// localFit evaluates the weighted least squares line through the
// neighbourhood [left, right) at x[i].
func localFit(x, y, robust, w []float64, i, left, right int) (float64, bool) {
	xi := x[i]
	radius := math.Max(xi-x[left], x[right-1]-xi)

	total := 0.0
	for j := left; j < right; j++ {
		var d float64
		if radius > 0 {
			d = math.Abs(x[j]-xi) / radius
		}
		w[j] = tricube(d) * robust[j]
		total += w[j]
	}
	if total <= 0 {
		return 0, false
	}

	mean := 0.0
	for j := left; j < right; j++ {
		w[j] /= total
		mean += w[j] * x[j]
	}
	ssx := 0.0
	for j := left; j < right; j++ {
		dx := x[j] - mean
		ssx += w[j] * dx * dx
	}

	out := 0.0
	if ssx > 1e-12*radius*radius {
		for j := left; j < right; j++ {
			out += w[j] * (1 + (xi-mean)*(x[j]-mean)/ssx) * y[j]
		}
	} else {
		for j := left; j < right; j++ {
			out += w[j] * y[j]
		}
	}
	return out, true
}

// residualWeights overwrites robust with bisquare weights of the scaled
// residuals. A zero median residual keeps exact fits and drops the rest.
func residualWeights(y, fit, robust []float64) {
	n := len(y)
	res := make([]float64, n)
	for i := range y {
		res[i] = math.Abs(y[i] - fit[i])
	}
	med := median(res)
	for i, r := range res {
		var u float64
		switch {
		case med == 0 && r > 0:
			u = 1
		case med == 0:
			u = 0
		default:
			u = r / (6 * med)
		}
		if u >= 1 {
			robust[i] = 0
			continue
		}
		b := 1 - u*u
		robust[i] = b * b
	}
}

func tricube(d float64) float64 {
	if d >= 1 {
		return 0
	}
	c := 1 - d*d*d
	return c * c * c
}

func median(v []float64) float64 {
	s := append([]float64(nil), v...)
	sort.Float64s(s)
	m := len(s) / 2
	if len(s)%2 == 1 {
		return s[m]
	}
	return (s[m-1] + s[m]) / 2
}
