package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fuelflow/internal/calibration"
	"fuelflow/internal/smoothing"
)

const calibrationCSV = `id,deviceid_port,calibrating_data
1,860001_1,"[{""input_value"":0,""output_value"":0},{""input_value"":500,""output_value"":500}]"
2,860001_2,"[{""input_value"":1000,""output_value"":1000}]"
3,860002_1,"[{""input_value"":5,""output_value"":5}]"
`

// samplesCSV idles at 100, fills to 150 over five minutes and burns slowly.
func samplesCSV() string {
	var b strings.Builder
	b.WriteString("timestamp,value\n")
	ts := int64(1706943600)
	write := func(v float64) {
		fmt.Fprintf(&b, "%d,%g\n", ts, v)
		ts += 60
	}
	for i := 0; i < 40; i++ {
		write(100)
	}
	for i := 1; i <= 5; i++ {
		write(100 + 10*float64(i))
	}
	for i := 1; i <= 30; i++ {
		write(150 - 0.1*float64(i))
	}
	return b.String()
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func run(args ...string) (string, error) {
	cmd := NewCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestAnalyzePrintsEvents(t *testing.T) {
	samples := writeFile(t, "lls.csv", samplesCSV())
	calib := writeFile(t, "calibrating.csv", calibrationCSV)

	out, err := run("analyze", "--samples", samples, "--calibration", calib, "--device", "860001")
	require.NoError(t, err)
	assert.Contains(t, out, "device 860001: 75 samples")
	assert.Contains(t, out, "Refuel: ")
}

func TestAnalyzeJSON(t *testing.T) {
	samples := writeFile(t, "lls.csv", samplesCSV())
	calib := writeFile(t, "calibrating.csv", calibrationCSV)

	out, err := run("analyze", "-s", samples, "--calibration", calib, "-d", "860001", "--json", "--threshold", "20")
	require.NoError(t, err)

	var got struct {
		Device  string   `json:"device"`
		Labels  []string `json:"labels"`
		Series  []json.RawMessage
		Volumes []json.RawMessage
		Options struct {
			Policy struct {
				Threshold float64 `json:"threshold"`
			} `json:"policy"`
		} `json:"options"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, "860001", got.Device)
	assert.Len(t, got.Series, 75)
	assert.Len(t, got.Volumes, 75)
	assert.Equal(t, 20.0, got.Options.Policy.Threshold)
	require.NotEmpty(t, got.Labels)
	assert.True(t, strings.HasPrefix(got.Labels[0], "Refuel: "))
}

func TestAnalyzeWithoutCalibrationCannotCompute(t *testing.T) {
	samples := writeFile(t, "lls.csv", samplesCSV())
	calib := writeFile(t, "calibrating.csv", calibrationCSV)

	_, err := run("analyze", "--samples", samples, "--calibration", calib, "--device", "860002")
	require.Error(t, err)
	assert.ErrorIs(t, err, calibration.ErrCalibration)
	assert.Contains(t, err.Error(), "cannot compute")
}

func TestAnalyzeRequiresFlags(t *testing.T) {
	_, err := run("analyze", "--samples", "x.csv")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "calibration")
}

func TestSmoothCSV(t *testing.T) {
	samples := writeFile(t, "speed.csv", "timestamp,value\n1706943600,40\n1706943660,41\n1706943720,42\n1706943780,41\n")

	out, err := run("smooth", "--samples", samples, "--frac", "1")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 5)
	assert.Equal(t, "timestamp,value", lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "2024-02-03T07:00:00Z,"))
}

func TestSmoothNeedsTwoSamples(t *testing.T) {
	samples := writeFile(t, "speed.csv", "timestamp,value\n1706943600,40\n")

	_, err := run("smooth", "--samples", samples)
	require.Error(t, err)
	assert.ErrorIs(t, err, smoothing.ErrInsufficientData)
}

func TestMigrateWithoutDatabase(t *testing.T) {
	t.Setenv("DATABASE_URL", "")

	_, err := run("migrate")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no database configured")
}

func TestImportCalibrationRejectsBadFile(t *testing.T) {
	bad := writeFile(t, "bad.csv", "id,deviceid_port,calibrating_data\n1,860001_1,\"not json\"\n")

	_, err := run("import-calibration", bad, "--dsn", "postgres://unused")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")
}
