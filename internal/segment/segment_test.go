package segment

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fuelflow/models"
)

var t0 = time.Date(2024, 5, 14, 6, 0, 0, 0, time.UTC)

// evenly spaced series
func series(step time.Duration, values ...float64) []models.SmoothedSample {
	out := make([]models.SmoothedSample, len(values))
	for i, v := range values {
		out[i] = models.SmoothedSample{Timestamp: t0.Add(time.Duration(i) * step), Value: v}
	}
	return out
}

func TestDetectEmptyAndSingle(t *testing.T) {
	assert.Empty(t, Detect(nil, DefaultPolicy()))
	assert.NotNil(t, Detect(nil, DefaultPolicy()))
	assert.Empty(t, Detect(series(time.Minute, 42), DefaultPolicy()))
}

func TestDetectIgnoresRiseBelowThreshold(t *testing.T) {
	s := series(time.Minute, 100, 102, 104, 106, 109)
	assert.Empty(t, Detect(s, DefaultPolicy()))
}

func TestDetectDrainAfterChoppySamples(t *testing.T) {
	// wobbles stay under the threshold until 108 falls to 96
	s := series(time.Minute, 100, 105, 100, 108, 101, 96, 99)
	events := Detect(s, DefaultPolicy())
	require.Len(t, events, 1)
	evt := events[0]
	assert.Equal(t, models.EventDrain, evt.Kind)
	assert.Equal(t, 3, evt.StartIndex)
	assert.Equal(t, 5, evt.EndIndex)
	assert.InDelta(t, 12, evt.Magnitude, 1e-9)
	assert.True(t, evt.StartTime.Equal(t0.Add(3*time.Minute)))
	assert.True(t, evt.EndTime.Equal(t0.Add(5*time.Minute)))
}

func TestDetectThresholdIsStrictForClassification(t *testing.T) {
	exact := series(time.Minute, 100, 110, 100)
	assert.Empty(t, Detect(exact, DefaultPolicy()))

	above := series(time.Minute, 100, 110.5, 100)
	events := Detect(above, DefaultPolicy())
	require.Len(t, events, 1)
	assert.Equal(t, models.EventRefuel, events[0].Kind)
	assert.InDelta(t, 10.5, events[0].Magnitude, 1e-9)
	assert.Equal(t, 0, events[0].StartIndex)
	assert.Equal(t, 1, events[0].EndIndex)
}

func TestDetectRefuelThenDrainScenario(t *testing.T) {
	s := series(time.Minute, 100, 100, 115, 115, 95, 95)
	events := Detect(s, DefaultPolicy())

	// the drain starts on the sample the refuel closed after, so the scan
	// resumes past it and only the refuel is reported
	require.Len(t, events, 1)
	evt := events[0]
	assert.Equal(t, models.EventRefuel, evt.Kind)
	assert.True(t, evt.StartTime.Equal(t0))
	assert.True(t, evt.EndTime.Equal(t0.Add(180*time.Second)))
	assert.InDelta(t, 15, evt.Magnitude, 1e-9)
	assert.Equal(t, 3, evt.EndIndex)
}

func TestDetectFastDrain(t *testing.T) {
	s := series(time.Minute, 100, 94, 88, 88, 90)
	events := Detect(s, DefaultPolicy())

	require.Len(t, events, 1)
	evt := events[0]
	assert.Equal(t, models.EventDrain, evt.Kind)
	assert.InDelta(t, 12, evt.Magnitude, 1e-9)
	assert.True(t, evt.EndTime.Equal(t0.Add(3*time.Minute)))
	assert.Equal(t, 3, evt.AnchorIndex())
}

func TestDetectSlowDrainIsNotAnEvent(t *testing.T) {
	s := series(10*time.Minute, 100, 94, 88, 88, 90)
	assert.Empty(t, Detect(s, DefaultPolicy()))
}

func TestDetectAbandonedDrainRetriesFromNextSample(t *testing.T) {
	times := []time.Duration{0, 11 * time.Minute, 12 * time.Minute, 13 * time.Minute, 14 * time.Minute, 15 * time.Minute}
	values := []float64{100, 100, 94, 88, 88, 90}
	s := make([]models.SmoothedSample, len(values))
	for i := range values {
		s[i] = models.SmoothedSample{Timestamp: t0.Add(times[i]), Value: values[i]}
	}

	events := Detect(s, DefaultPolicy())
	require.Len(t, events, 1)
	assert.Equal(t, models.EventDrain, events[0].Kind)
	assert.Equal(t, 1, events[0].StartIndex)
	assert.Equal(t, 4, events[0].EndIndex)
	assert.InDelta(t, 12, events[0].Magnitude, 1e-9)
}

func TestDetectCustomDrainWindow(t *testing.T) {
	s := series(10*time.Minute, 100, 94, 88, 88, 90)
	events := Detect(s, Policy{Threshold: 10, MaxDrainWindow: time.Hour})
	require.Len(t, events, 1)
	assert.Equal(t, models.EventDrain, events[0].Kind)
}

func TestDetectOpenEpisodeAtEndIsDropped(t *testing.T) {
	s := series(time.Minute, 100, 120, 130)
	assert.Empty(t, Detect(s, DefaultPolicy()))
}

func TestDetectEventsDoNotOverlap(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	values := make([]float64, 2000)
	v := 200.0
	for i := range values {
		switch r := rng.Float64(); {
		case r < 0.02:
			v += 20 + rng.Float64()*30
		case r < 0.04:
			v -= 15 + rng.Float64()*20
		default:
			v += rng.Float64()*2 - 1
		}
		values[i] = v
	}
	s := series(30*time.Second, values...)
	p := DefaultPolicy()

	events := Detect(s, p)
	require.NotEmpty(t, events)
	for k, evt := range events {
		assert.GreaterOrEqual(t, evt.Magnitude, p.Threshold)
		assert.LessOrEqual(t, evt.StartIndex, evt.EndIndex)
		if k == 0 {
			continue
		}
		prev := events[k-1]
		assert.Greater(t, evt.StartIndex, prev.EndIndex)
		assert.True(t, evt.StartTime.After(prev.EndTime))
	}
}

func TestPolicyValidate(t *testing.T) {
	assert.NoError(t, DefaultPolicy().Validate())
	assert.Error(t, Policy{Threshold: 0, MaxDrainWindow: time.Minute}.Validate())
	assert.Error(t, Policy{Threshold: 5}.Validate())
}
