package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// writeTempConfig writes a minimal configuration file for LoadConfig and
// returns its path.
func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}

const minimalConfig = `fuelflow:
  name: "TestApp"
  version: "1.0"
reader:
  max_workers: 1
analysis:
  threshold: 12
  max_drain_window: 5m
`

func TestLoadConfigAppliesDefaults(t *testing.T) {
	cfg, err := LoadConfig(writeTempConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Fuelflow.Name != "TestApp" {
		t.Errorf("unexpected name: %s", cfg.Fuelflow.Name)
	}
	if cfg.Reader.MaxWorkers != 1 {
		t.Errorf("unexpected max workers: %d", cfg.Reader.MaxWorkers)
	}
	if cfg.Analysis.Frac != 0.05 || cfg.Analysis.Iterations != 3 {
		t.Errorf("smoothing defaults not applied: %+v", cfg.Analysis)
	}
	if cfg.Analysis.FuelSignal != "LLS_0" {
		t.Errorf("unexpected fuel signal: %s", cfg.Analysis.FuelSignal)
	}

	opts := cfg.Analysis.Options()
	if opts.Policy.Threshold != 12 || opts.Policy.MaxDrainWindow != 5*time.Minute {
		t.Errorf("unexpected policy: %+v", opts.Policy)
	}
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://u:p@db:5432/telemetry")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("REDIS_ADDR", "cache:6379")
	t.Setenv("S3_BUCKET", "fuel-results")
	t.Setenv("AWS_REGION", "eu-west-1")
	t.Setenv("AWS_ACCESS_KEY_ID", "id")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "secret")

	cfg, err := LoadConfig(writeTempConfig(t, minimalConfig+`storage:
  s3:
    enabled: true
  kafka:
    enabled: true
`))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Storage.Postgres.DSN != "postgres://u:p@db:5432/telemetry" {
		t.Errorf("DSN not overridden: %s", cfg.Storage.Postgres.DSN)
	}
	if len(cfg.Storage.Kafka.Brokers) != 2 || cfg.Storage.Kafka.Brokers[1] != "k2:9092" {
		t.Errorf("unexpected brokers: %v", cfg.Storage.Kafka.Brokers)
	}
	if cfg.Storage.Redis.Addr != "cache:6379" {
		t.Errorf("unexpected redis addr: %s", cfg.Storage.Redis.Addr)
	}
	if cfg.Storage.S3.Bucket != "fuel-results" || cfg.Storage.S3.Region != "eu-west-1" {
		t.Errorf("s3 not overridden: %+v", cfg.Storage.S3)
	}
}

func TestLoadConfigValidation(t *testing.T) {
	cases := map[string]string{
		"missing name":   "fuelflow:\n  version: \"1\"\n",
		"bad frac":       minimalConfig + "  frac: 1.5\n",
		"zero threshold": "fuelflow:\n  name: a\n  version: b\nanalysis:\n  threshold: 0\n",
		"s3 no bucket":   minimalConfig + "storage:\n  s3:\n    enabled: true\n    region: x\n",
		"kafka brokers":  minimalConfig + "storage:\n  kafka:\n    enabled: true\n",
		"zero timeout":   "fuelflow:\n  name: a\n  version: b\nreader:\n  timeout: 0s\n",
		"neg lookback":   minimalConfig + "  lookback: -1h\n",
		"zero lookback":  minimalConfig + "  lookback: 0s\n",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := LoadConfig(writeTempConfig(t, content)); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestLoadConfigRejectsNonPositiveWindows(t *testing.T) {
	cases := map[string]string{
		"reader.timeout":    "fuelflow:\n  name: a\n  version: b\nreader:\n  timeout: 0s\n",
		"analysis.lookback": minimalConfig + "  lookback: -1h\n",
	}
	for field, content := range cases {
		_, err := LoadConfig(writeTempConfig(t, content))
		if err == nil || !strings.Contains(err.Error(), field) {
			t.Errorf("%s: expected validation error naming the field, got %v", field, err)
		}
	}
}

func TestLoadDevices(t *testing.T) {
	content := `groups:
- name: north
  terminals: ["860001", "860002"]
- name: south
  terminals: ["860002", " ", "860003"]
`
	path := filepath.Join(t.TempDir(), "devices.yml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}

	devices, err := LoadDevices(path)
	if err != nil {
		t.Fatalf("LoadDevices failed: %v", err)
	}
	ids := devices.Terminals()
	if len(ids) != 3 || ids[0] != "860001" || ids[2] != "860003" {
		t.Errorf("unexpected terminals: %v", ids)
	}
}

func TestLoadDevicesRejectsEmptyInProduction(t *testing.T) {
	t.Setenv("APP_ENV", "prod")
	path := filepath.Join(t.TempDir(), "devices.yml")
	if err := os.WriteFile(path, []byte("groups: []\n"), 0o644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	if _, err := LoadDevices(path); err == nil {
		t.Fatalf("expected error for empty production device list")
	}
}

func TestAppEnvironmentAliases(t *testing.T) {
	t.Setenv("APP_ENV", "Stagging")
	if got := AppEnvironment(); got != EnvironmentStaging {
		t.Errorf("AppEnvironment() = %q", got)
	}
	if !IsProductionLike(AppEnvironment()) {
		t.Errorf("staging should be production-like")
	}
}

func TestIsValidS3Bucket(t *testing.T) {
	cases := []struct {
		name  string
		valid bool
	}{
		{"valid-bucket", true},
		{"Invalid", false},
		{"ab", false},
		{"my..bucket", false},
	}
	for _, c := range cases {
		if got := isValidS3Bucket(c.name); got != c.valid {
			t.Errorf("isValidS3Bucket(%q) = %v, want %v", c.name, got, c.valid)
		}
	}
}
