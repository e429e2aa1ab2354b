package analysis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fuelflow/internal/calibration"
	"fuelflow/internal/smoothing"
	"fuelflow/models"
)

var start = time.Date(2024, 2, 3, 7, 0, 0, 0, time.UTC)

func identity() []models.CalibrationPoint {
	// deliberately unsorted, two ports pooled
	return []models.CalibrationPoint{
		{InputValue: 1000, OutputValue: 1000},
		{InputValue: 0, OutputValue: 0},
		{InputValue: 500, OutputValue: 500},
	}
}

func samples(values []float64) []models.RawSample {
	out := make([]models.RawSample, len(values))
	for i, v := range values {
		out[i] = models.RawSample{Timestamp: start.Add(time.Duration(i) * time.Minute), RawValue: v}
	}
	return out
}

// tripProfile: idle, refuel to 150, slow burn, quick siphon of 30, slow rise.
func tripProfile() []float64 {
	var v []float64
	for i := 0; i < 40; i++ {
		v = append(v, 100)
	}
	for i := 1; i <= 5; i++ {
		v = append(v, 100+10*float64(i))
	}
	for i := 1; i <= 30; i++ {
		v = append(v, 150-0.1*float64(i))
	}
	last := v[len(v)-1]
	for i := 1; i <= 3; i++ {
		v = append(v, last-10*float64(i))
	}
	last = v[len(v)-1]
	for i := 1; i <= 30; i++ {
		v = append(v, last+0.1*float64(i))
	}
	return v
}

func TestAnalyzeFindsRefuelAndDrain(t *testing.T) {
	raw := samples(tripProfile())
	res, err := Analyze(identity(), raw, DefaultOptions())
	require.NoError(t, err)

	assert.Len(t, res.Volumes, len(raw))
	assert.Len(t, res.Series, len(raw))
	for i := range raw {
		assert.True(t, res.Series[i].Timestamp.Equal(raw[i].Timestamp))
	}

	require.Len(t, res.Events, 2)
	refuel, drain := res.Events[0], res.Events[1]
	assert.Equal(t, models.EventRefuel, refuel.Kind)
	assert.InDelta(t, 50, refuel.Magnitude, 5)
	assert.Equal(t, models.EventDrain, drain.Kind)
	assert.InDelta(t, 30, drain.Magnitude, 5)
	assert.True(t, refuel.EndTime.Before(drain.StartTime))
}

func TestAnalyzeAppliesCalibration(t *testing.T) {
	points := []models.CalibrationPoint{
		{InputValue: 0, OutputValue: 0},
		{InputValue: 10, OutputValue: 20},
	}
	raw := samples([]float64{5, 5, 5, 5, 5})
	res, err := Analyze(points, raw, DefaultOptions())
	require.NoError(t, err)
	for _, v := range res.Volumes {
		assert.InDelta(t, 10, v.Volume, 1e-9)
	}
	assert.Empty(t, res.Events)
}

func TestAnalyzeErrors(t *testing.T) {
	_, err := Analyze(identity()[:1], samples([]float64{1, 2, 3}), DefaultOptions())
	assert.ErrorIs(t, err, calibration.ErrCalibration)
	assert.Equal(t, OutcomeCannotCompute, Classify(err))

	_, err = Analyze(identity(), nil, DefaultOptions())
	assert.ErrorIs(t, err, smoothing.ErrInsufficientData)
	assert.Equal(t, OutcomeNoData, Classify(err))

	_, err = Analyze(identity(), samples([]float64{7}), DefaultOptions())
	assert.ErrorIs(t, err, smoothing.ErrInsufficientData)

	opts := DefaultOptions()
	opts.Policy.Threshold = -1
	_, err = Analyze(identity(), samples([]float64{1, 2}), opts)
	assert.Error(t, err)
	assert.Equal(t, OutcomeFailed, Classify(err))
}

func TestAnalyzeContextHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := AnalyzeContext(ctx, identity(), samples(tripProfile()), DefaultOptions())
	assert.True(t, errors.Is(err, context.Canceled))

	res, err := AnalyzeContext(context.Background(), identity(), samples(tripProfile()), DefaultOptions())
	require.NoError(t, err)
	assert.NotEmpty(t, res.Events)
}

func TestSmoothSeries(t *testing.T) {
	raw := samples([]float64{0, 12, 30, 41, 38, 60, 55, 20, 0, 0})
	out, err := SmoothSeries(raw, smoothing.DefaultOptions())
	require.NoError(t, err)
	require.Len(t, out, len(raw))
	assert.True(t, out[9].Timestamp.Equal(raw[9].Timestamp))

	_, err = SmoothSeries(nil, smoothing.DefaultOptions())
	assert.ErrorIs(t, err, smoothing.ErrInsufficientData)
}

func TestOutcomeMessages(t *testing.T) {
	assert.Equal(t, "ok", Classify(nil).Message())
	assert.Equal(t, "no data", OutcomeNoData.Message())
	assert.Equal(t, "cannot compute", OutcomeCannotCompute.Message())
}
