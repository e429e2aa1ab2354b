package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestWithComponent(t *testing.T) {
	log := Logger()
	entry := log.WithComponent("test")
	if v, ok := entry.Entry.Data["component"]; !ok || v != "test" {
		t.Fatalf("component field missing: %v", entry.Entry.Data)
	}
}

func TestConfigureInvalidLevel(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")

	log := Logger()
	if err := log.Configure("invalid", "json", "stdout", 0); err == nil {
		t.Fatalf("expected error for invalid level")
	}
	if err := log.Configure("info", "xml", "stdout", 0); err == nil {
		t.Fatalf("expected error for invalid format")
	}
}

func TestConfigureReportLevelAndEnvOverride(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")
	log := Logger()
	if err := log.Configure("report", "text", "stderr", 0); err != nil {
		t.Fatalf("configure: %v", err)
	}
	if log.GetLevel() != logrus.InfoLevel {
		t.Errorf("report should log at info, got %v", log.GetLevel())
	}

	t.Setenv("LOG_LEVEL", "debug")
	if err := log.Configure("warn", "json", "stdout", 0); err != nil {
		t.Fatalf("configure: %v", err)
	}
	if log.GetLevel() != logrus.DebugLevel {
		t.Errorf("LOG_LEVEL should win, got %v", log.GetLevel())
	}
}

func TestConfigureFileOutput(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")
	log := Logger()
	path := filepath.Join(t.TempDir(), "fuelflow.log")
	if err := log.Configure("info", "json", path, 3); err != nil {
		t.Fatalf("configure rotating file: %v", err)
	}
	if err := log.Configure("info", "json", path, 0); err != nil {
		t.Fatalf("configure plain file: %v", err)
	}
}

func TestWithEnv(t *testing.T) {
	t.Setenv("FOO", "bar")
	log := Logger()
	entry := log.WithEnv("FOO")
	if v, ok := entry.Entry.Data["FOO"]; !ok || v != "bar" {
		t.Fatalf("env field not set: %v", entry.Entry.Data)
	}
}

func TestWarnAndErrorAreCountedPerComponent(t *testing.T) {
	log := Logger()
	log.SetOutput(&bytes.Buffer{})

	log.WithComponent("counting_test").Warn("w")
	log.WithComponent("counting_test").WithError(errors.New("x")).Error("e")
	log.WithComponent("counting_test").Error("e")

	warns, errs := ComponentCounts("counting_test")
	if warns != 1 || errs != 2 {
		t.Fatalf("unexpected counts warns=%d errors=%d", warns, errs)
	}
}

func TestLogMetricWritesFields(t *testing.T) {
	var buf bytes.Buffer
	log := Logger()
	log.SetOutput(&buf)

	log.LogMetric("analyzer", "events_detected", 3, "", Fields{"device": "860001"})

	var line map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	if line["metric"] != "events_detected" || line["metric_type"] != "counter" || line["device"] != "860001" {
		t.Fatalf("unexpected metric line: %v", line)
	}
}

func TestPipelineCounters(t *testing.T) {
	before := Counters()
	IncrementBatchRead(10)
	IncrementAnalysis(true, 2)
	IncrementAnalysis(false, 0)
	IncrementSinkWrite("kafka", 128)
	after := Counters()

	diff := func(key string) int64 { return after[key].(int64) - before[key].(int64) }
	if diff("batches_read") != 1 || diff("samples_read") != 10 {
		t.Errorf("read counters not updated: %v", after)
	}
	if diff("analyses_ok") != 1 || diff("analyses_failed") != 1 || diff("events_detected") != 2 {
		t.Errorf("analysis counters not updated: %v", after)
	}
	if diff("sink_writes") != 1 {
		t.Errorf("sink counter not updated: %v", after)
	}
}

func TestCallerPointsAtComponent(t *testing.T) {
	var buf bytes.Buffer
	log := Logger()
	log.SetOutput(&buf)

	log.WithComponent("poller").Info("batch read")

	var line map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	file, _ := line["file"].(string)
	if !strings.HasPrefix(file, "logger_test.go:") {
		t.Fatalf("caller should be the test, got %q", file)
	}
}

func TestLoggingFrame(t *testing.T) {
	cases := map[string]bool{
		"github.com/sirupsen/logrus.(*Entry).log":   true,
		loggerPackage + ".(*Entry).Info":            true,
		loggerPackage + ".LogPerformanceEntry":      true,
		loggerPackage + ".TestLoggingFrame":         false,
		loggerPackage + "/other.Run":                false,
		"fuelflow/reader.(*Poller).poll":            false,
		"github.com/sirupsen/logrusx.(*Entry).Info": false,
	}
	for fn, want := range cases {
		if got := loggingFrame(fn); got != want {
			t.Errorf("loggingFrame(%q) = %v, want %v", fn, got, want)
		}
	}
}
