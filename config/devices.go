package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

const DefaultDevicesPath = "config/devices.yml"

var deviceFilesByEnv = map[string]string{
	environmentStaging:    "config/devices.staging.yml",
	environmentProduction: "config/devices.production.yml",
}

// DeviceGroup is a named set of terminals polled together.
type DeviceGroup struct {
	Name      string   `yaml:"name"`
	Terminals []string `yaml:"terminals"`
}

// Devices is the list of terminals the pipeline analyses.
type Devices struct {
	Groups []DeviceGroup `yaml:"groups"`
}

// Terminals returns every terminal once, in file order.
func (d *Devices) Terminals() []string {
	seen := make(map[string]struct{})
	out := make([]string, 0)
	for _, g := range d.Groups {
		for _, id := range g.Terminals {
			id = strings.TrimSpace(id)
			if id == "" {
				continue
			}
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}

// LoadDevices loads the device list. An empty path resolves to the file for
// the current APP_ENV. Production-like environments reject an empty list.
func LoadDevices(path string) (*Devices, error) {
	path = resolveEnvSpecificPath(path, DefaultDevicesPath, deviceFilesByEnv)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read devices file: %w", err)
	}
	var cfg Devices
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse devices file: %w", err)
	}

	env := getAppEnvironment()
	if IsProductionLike(env) && len(cfg.Terminals()) == 0 {
		return nil, fmt.Errorf("devices file %s lists no terminals for %s", path, env)
	}
	return &cfg, nil
}
