package reader

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"fuelflow/config"
	"fuelflow/internal/channel"
	"fuelflow/models"
)

func strPtr(s string) *string { return &s }

func TestToSamplesSkipsNullAndGarbage(t *testing.T) {
	rows := []sampleRow{
		{Timestamp: 100, Value: strPtr("1200")},
		{Timestamp: 160, Value: nil},
		{Timestamp: 220, Value: strPtr("n/a")},
		{Timestamp: 280, Value: strPtr(" 1187.5 ")},
	}
	out := toSamples(rows)
	if len(out) != 2 {
		t.Fatalf("expected 2 samples, got %d", len(out))
	}
	if out[1].RawValue != 1187.5 || out[1].Timestamp.Unix() != 280 {
		t.Fatalf("unexpected sample %+v", out[1])
	}
}

func TestParseCalibrationData(t *testing.T) {
	points, err := ParseCalibrationData(`[{"input_value": 10, "output_value": 0}, {"input_value": 4000, "output_value": 400}]`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(points) != 2 || points[1].OutputValue != 400 {
		t.Fatalf("unexpected points %+v", points)
	}
	if points, err := ParseCalibrationData("null"); err != nil || len(points) != 0 {
		t.Fatalf("null should give no points: %v %v", points, err)
	}
	if _, err := ParseCalibrationData(`{"oops":`); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestPortPatternEscapesWildcards(t *testing.T) {
	if got := portPattern("8600"); got != `8600\_%` {
		t.Errorf("portPattern = %q", got)
	}
	if got := portPattern("a_b%"); got != `a\_b\%\_%` {
		t.Errorf("portPattern = %q", got)
	}
}

func TestPage(t *testing.T) {
	ids := make([]string, 120)
	for i := range ids {
		ids[i] = string(rune('a' + i%26))
	}
	page, total := Page(ids, 2)
	if total != 3 || len(page) != 20 {
		t.Fatalf("page=%d total=%d", len(page), total)
	}
	if page, _ := Page(ids, 5); len(page) != 0 {
		t.Fatalf("out of range page should be empty")
	}
}

func TestReadSamplesCSV(t *testing.T) {
	in := "timestamp,value\n1700000000,1500\n1700000060,\n2023-11-14T22:15:20Z,1490\n"
	samples, err := ReadSamplesCSV(strings.NewReader(in))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(samples) != 2 || samples[1].RawValue != 1490 {
		t.Fatalf("unexpected samples %+v", samples)
	}

	if _, err := ReadSamplesCSV(strings.NewReader("1700000060,1\n1700000000,2\n")); err == nil {
		t.Fatalf("expected error for descending timestamps")
	}
}

func TestReadCalibrationCSVAndPool(t *testing.T) {
	in := `id,deviceid_port,calibrating_data
1,860001_1,"[{""input_value"":0,""output_value"":0},{""input_value"":100,""output_value"":50}]"
2,860001_2,"[{""input_value"":200,""output_value"":100}]"
3,8600012_1,"[{""input_value"":5,""output_value"":5}]"
`
	records, err := ReadCalibrationCSV(strings.NewReader(in))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}
	points, err := PoolCalibration(records, "860001")
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	if len(points) != 3 {
		t.Fatalf("expected 3 pooled points, got %+v", points)
	}
	all, _ := PoolCalibration(records, "")
	if len(all) != 4 {
		t.Fatalf("expected 4 points overall, got %d", len(all))
	}
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	base := time.Unix(1700000000, 0).UTC()
	m.AddCalibration("42_1", models.CalibrationPoint{InputValue: 0, OutputValue: 0})
	m.AddCalibration("42_2", models.CalibrationPoint{InputValue: 10, OutputValue: 20})
	m.AddCalibration("421_1", models.CalibrationPoint{InputValue: 1, OutputValue: 1})
	m.AddSamples("42", models.SignalFuel,
		models.RawSample{Timestamp: base.Add(2 * time.Minute), RawValue: 3},
		models.RawSample{Timestamp: base, RawValue: 1},
	)

	points, _ := m.CalibrationPoints(ctx, "42")
	if len(points) != 2 {
		t.Fatalf("expected 2 points, got %d", len(points))
	}
	samples, err := m.Samples(ctx, "42", models.SignalFuel, base, base.Add(time.Hour))
	if err != nil || len(samples) != 2 || samples[0].RawValue != 1 {
		t.Fatalf("unexpected samples %+v (%v)", samples, err)
	}
	if _, err := m.Samples(ctx, "nope", models.SignalFuel, base, base); !errors.Is(err, ErrDeviceNotFound) {
		t.Fatalf("expected ErrDeviceNotFound, got %v", err)
	}
}

func TestWithRetry(t *testing.T) {
	cfg := config.RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond, BackoffMultiplier: 2}

	calls := 0
	err := withRetry(context.Background(), cfg, func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil || calls != 3 {
		t.Fatalf("expected success on third attempt, calls=%d err=%v", calls, err)
	}

	calls = 0
	err = withRetry(context.Background(), cfg, func(context.Context) error {
		calls++
		return ErrDeviceNotFound
	})
	if !errors.Is(err, ErrDeviceNotFound) || calls != 1 {
		t.Fatalf("not found should not be retried, calls=%d", calls)
	}
}

func testConfig() *config.Config {
	return &config.Config{
		Analysis: config.AnalysisConfig{Lookback: time.Hour},
		Reader: config.ReaderConfig{
			PollInterval: time.Hour,
			MaxWorkers:   1,
			Timeout:      time.Second,
			Retry:        config.RetryConfig{MaxAttempts: 1},
		},
	}
}

func TestPollDeviceSendsBatch(t *testing.T) {
	base := time.Unix(1700000000, 0).UTC()
	store := NewMemoryStore()
	store.AddCalibration("7_0", models.CalibrationPoint{InputValue: 0, OutputValue: 0}, models.CalibrationPoint{InputValue: 1, OutputValue: 1})
	store.AddSamples("7", models.SignalFuel,
		models.RawSample{Timestamp: base.Add(-30 * time.Minute), RawValue: 5},
		models.RawSample{Timestamp: base.Add(-2 * time.Hour), RawValue: 9},
	)

	ch := channel.NewChannels(1, 1)
	defer ch.Close()
	p := NewPoller(testConfig(), store, ch, []string{"7"})
	p.now = func() time.Time { return base }

	if err := p.PollDevice(context.Background(), "7"); err != nil {
		t.Fatalf("poll: %v", err)
	}
	batch := <-ch.Raw
	if batch.DeviceID != "7" || len(batch.Samples) != 1 || len(batch.Calibration) != 2 {
		t.Fatalf("unexpected batch %+v", batch)
	}
	if batch.BatchID == "" || !batch.To.Equal(base) {
		t.Fatalf("batch id or window missing: %+v", batch)
	}
}

func TestPollerStartTwice(t *testing.T) {
	ch := channel.NewChannels(4, 4)
	defer ch.Close()
	p := NewPoller(testConfig(), NewMemoryStore(), ch, []string{"x"})

	ctx, cancel := context.WithCancel(context.Background())
	if err := p.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := p.Start(ctx); err == nil {
		t.Fatalf("expected error on second start")
	}
	cancel()
	p.Stop()
}
