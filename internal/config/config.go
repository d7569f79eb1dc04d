// SPDX-License-Identifier: GPL-3.0-or-later

// Package config loads the probe's process-lifetime configuration: the
// handful of environment variables and an optional YAML override file,
// per spec.md §6 and §9's "single config value commands.timeout".
package config

import (
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config is the probe's process-lifetime configuration.
type Config struct {
	// CommandsTimeoutSeconds is the wall-clock timeout, in seconds, applied
	// uniformly to every subprocess-driven measurement (default 30 per spec.md §9's
	// open-question resolution); HTTP keeps its own dedicated 10s budget
	// regardless of this value.
	CommandsTimeoutSeconds int `yaml:"commandsTimeoutSeconds"`

	// APIHost is the coordinator host, e.g. "api.globalping.io".
	APIHost string `yaml:"apiHost"`

	// NodeVersion is reported on the connect handshake.
	NodeVersion string `yaml:"nodeVersion"`

	// FakeIPFirstOctet seeds the diagnostic fake-IP generator when
	// PROBE_FAKE_IP_FIRST_OCTET is set; 0 means unset.
	FakeIPFirstOctet int `yaml:"-"`

	// MultiWorker toggles multi-worker mode, driven by PROBE_ENV.
	MultiWorker bool `yaml:"-"`

	// FakeCommands substitutes stub handlers for the real subprocess
	// tools, driven by PROBE_FAKE_COMMANDS; used only in development.
	FakeCommands bool `yaml:"-"`
}

// DefaultCommandsTimeoutSeconds is applied when unset.
const DefaultCommandsTimeoutSeconds = 30

// Default returns a Config with the documented defaults.
func Default() Config {
	return Config{
		CommandsTimeoutSeconds: DefaultCommandsTimeoutSeconds,
		APIHost:                "api.globalping.io",
	}
}

// Load builds a Config starting from Default, applying an optional YAML
// file at path (skipped if path is empty or unreadable is not tolerated:
// callers must check existence first if that distinction matters), then
// the environment variables documented in spec.md §6.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("PROBE_ENV"); v != "" {
		c.MultiWorker = v == "multi"
	}
	if v := os.Getenv("PROBE_FAKE_IP_FIRST_OCTET"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.FakeIPFirstOctet = n
		}
	}
	if v := os.Getenv("PROBE_FAKE_COMMANDS"); v != "" {
		c.FakeCommands = v == "1" || v == "true"
	}
}
