package processor

import (
	"context"
	"errors"
	"testing"
	"time"

	"fuelflow/config"
	"fuelflow/internal/analysis"
	"fuelflow/internal/calibration"
	"fuelflow/internal/channel"
	"fuelflow/internal/smoothing"
	"fuelflow/models"
)

var base = time.Date(2024, 2, 3, 7, 0, 0, 0, time.UTC)

func minimalConfig() *config.Config {
	return &config.Config{
		Analysis: config.AnalysisConfig{
			Frac:           0.05,
			Iterations:     3,
			Threshold:      10,
			MaxDrainWindow: 10 * time.Minute,
		},
		Processor: config.ProcessorConfig{MaxWorkers: 1, BatchTimeout: time.Second},
	}
}

func identity() []models.CalibrationPoint {
	return []models.CalibrationPoint{
		{InputValue: 0, OutputValue: 0},
		{InputValue: 1000, OutputValue: 1000},
	}
}

// refuelBatch idles at 100, fills to 150 over five minutes and then burns slowly.
func refuelBatch() models.RawBatch {
	var values []float64
	for i := 0; i < 40; i++ {
		values = append(values, 100)
	}
	for i := 1; i <= 5; i++ {
		values = append(values, 100+10*float64(i))
	}
	for i := 1; i <= 30; i++ {
		values = append(values, 150-0.1*float64(i))
	}

	samples := make([]models.RawSample, len(values))
	for i, v := range values {
		samples[i] = models.RawSample{Timestamp: base.Add(time.Duration(i) * time.Minute), RawValue: v}
	}
	return models.RawBatch{
		BatchID:     "b-1",
		DeviceID:    "860001",
		Signal:      models.SignalFuel,
		From:        base,
		To:          samples[len(samples)-1].Timestamp,
		Calibration: identity(),
		Samples:     samples,
	}
}

func TestProcessProducesResultBatch(t *testing.T) {
	ch := channel.NewChannels(1, 1)
	defer ch.Close()
	a := NewAnalyzer(minimalConfig(), ch)

	batch := refuelBatch()
	res, err := a.Process(context.Background(), batch)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if res.BatchID != batch.BatchID || res.DeviceID != batch.DeviceID {
		t.Fatalf("batch identity not carried: %+v", res)
	}
	if res.RecordCount != len(batch.Samples) || len(res.Series) != len(batch.Samples) {
		t.Fatalf("series length %d, want %d", len(res.Series), len(batch.Samples))
	}
	if len(res.Events) == 0 || res.Events[0].Kind != models.EventRefuel {
		t.Fatalf("expected a refuel, got %+v", res.Events)
	}

	stats := a.Stats()
	if stats.BatchesAnalyzed != 1 || stats.EventsDetected != int64(len(res.Events)) {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestProcessClassifiesFailures(t *testing.T) {
	ch := channel.NewChannels(1, 1)
	defer ch.Close()
	a := NewAnalyzer(minimalConfig(), ch)

	empty := refuelBatch()
	empty.Samples = nil
	if _, err := a.Process(context.Background(), empty); !errors.Is(err, smoothing.ErrInsufficientData) {
		t.Fatalf("expected insufficient data, got %v", err)
	}

	uncalibrated := refuelBatch()
	uncalibrated.Calibration = uncalibrated.Calibration[:1]
	_, err := a.Process(context.Background(), uncalibrated)
	if !errors.Is(err, calibration.ErrCalibration) {
		t.Fatalf("expected calibration error, got %v", err)
	}
	if analysis.Classify(err) != analysis.OutcomeCannotCompute {
		t.Fatalf("calibration error should classify as cannot compute")
	}

	stats := a.Stats()
	if stats.NoData != 1 || stats.CannotCompute != 1 || stats.BatchesAnalyzed != 0 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestAnalyzerWorkerForwardsResults(t *testing.T) {
	ch := channel.NewChannels(1, 1)
	a := NewAnalyzer(minimalConfig(), ch)

	ctx, cancel := context.WithCancel(context.Background())
	if err := a.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := a.Start(ctx); err == nil {
		t.Fatalf("expected error on second start")
	}

	if !ch.SendRaw(ctx, refuelBatch()) {
		t.Fatalf("raw send failed")
	}

	select {
	case res := <-ch.Result:
		if res.BatchID != "b-1" {
			t.Fatalf("unexpected result %+v", res)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no result forwarded")
	}

	cancel()
	a.Stop()
	ch.Close()
}

func TestAnalyzerRejectsInvalidPolicy(t *testing.T) {
	cfg := minimalConfig()
	cfg.Analysis.Threshold = 0
	ch := channel.NewChannels(1, 1)
	defer ch.Close()

	if err := NewAnalyzer(cfg, ch).Start(context.Background()); err == nil {
		t.Fatalf("expected invalid policy error")
	}
}
