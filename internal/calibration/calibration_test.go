package calibration

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fuelflow/models"
)

func pts(pairs ...float64) []models.CalibrationPoint {
	out := make([]models.CalibrationPoint, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, models.CalibrationPoint{InputValue: pairs[i], OutputValue: pairs[i+1]})
	}
	return out
}

func TestCurvePassesThroughKnots(t *testing.T) {
	points := pts(0, 0, 100, 50, 200, 120, 400, 180)
	c, err := NewCurve(points)
	require.NoError(t, err)

	for _, p := range points {
		assert.InDelta(t, p.OutputValue, c.Value(p.InputValue), 1e-9, "knot %v", p.InputValue)
	}
	assert.InDelta(t, 25.0, c.Value(50), 1e-9)
	assert.InDelta(t, 150.0, c.Value(300), 1e-9)
}

func TestCurveSortsUnorderedPoints(t *testing.T) {
	points := pts(200, 120, 0, 0, 100, 50)
	c, err := NewCurve(points)
	require.NoError(t, err)

	assert.InDelta(t, 85.0, c.Value(150), 1e-9)
	// caller's slice untouched
	assert.Equal(t, 200.0, points[0].InputValue)

	lo, hi := c.Range()
	assert.Equal(t, 0.0, lo)
	assert.Equal(t, 200.0, hi)
}

func TestCurveExtrapolatesBoundarySlope(t *testing.T) {
	c, err := NewCurve(pts(10, 5, 20, 15, 30, 20))
	require.NoError(t, err)

	// below: slope 1 from first segment
	assert.InDelta(t, 0.0, c.Value(5), 1e-9)
	assert.InDelta(t, -5.0, c.Value(0), 1e-9)
	// above: slope 0.5 from last segment
	assert.InDelta(t, 25.0, c.Value(40), 1e-9)
	assert.InDelta(t, 70.0, c.Value(130), 1e-9)
}

func TestCurveAveragesDuplicateInputs(t *testing.T) {
	c, err := NewCurve(pts(0, 0, 10, 10, 10, 20, 20, 30))
	require.NoError(t, err)

	assert.Len(t, c.Knots(), 3)
	assert.InDelta(t, 15.0, c.Value(10), 1e-9)
}

func TestCurveRejectsDegenerateInput(t *testing.T) {
	cases := map[string][]models.CalibrationPoint{
		"empty":          nil,
		"single":         pts(1, 1),
		"same input":     pts(5, 1, 5, 2, 5, 3),
		"nan output":     pts(0, 0, 1, math.NaN()),
		"infinite input": pts(math.Inf(1), 0, 1, 1),
	}
	for name, points := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := NewCurve(points)
			assert.ErrorIs(t, err, ErrCalibration)
		})
	}
}

func TestApplyKeepsOrderAndTimestamps(t *testing.T) {
	c, err := NewCurve(pts(0, 0, 100, 200))
	require.NoError(t, err)

	base := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	raw := []models.RawSample{
		{Timestamp: base, RawValue: 50},
		{Timestamp: base.Add(time.Minute), RawValue: 10},
		{Timestamp: base.Add(2 * time.Minute), RawValue: 120},
	}
	out := c.Apply(raw)
	require.Len(t, out, len(raw))
	for i := range raw {
		assert.True(t, out[i].Timestamp.Equal(raw[i].Timestamp))
	}
	assert.InDelta(t, 100.0, out[0].Volume, 1e-9)
	assert.InDelta(t, 20.0, out[1].Volume, 1e-9)
	assert.InDelta(t, 240.0, out[2].Volume, 1e-9)
}
