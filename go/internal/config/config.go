// Package config loads numguess settings from defaults, an optional YAML file and
// the environment, in that order.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/mcdev12/numguess/go/internal/bridge"
	"github.com/mcdev12/numguess/go/internal/sync/engine"
	"github.com/mcdev12/numguess/go/internal/sync/events"
)

// Environment variables that override file settings.
const (
	EnvBaseURL    = "NUMGUESS_BASE_URL"
	EnvConfigPath = "NUMGUESS_CONFIG"
	EnvNATSURL    = "NATS_URL"
	EnvBridgeAddr = "BRIDGE_ADDR"
	EnvSnapshotDB = "SNAPSHOT_DB"
	EnvLogLevel   = "LOG_LEVEL"
	EnvMetrics    = "NUMGUESS_METRICS"
)

// NATS enables the optional sync-event publisher.
type NATS struct {
	Enabled           bool `yaml:"enabled"`
	events.NATSConfig `yaml:",inline"`
}

// Bridge enables the local observer server.
type Bridge struct {
	Enabled       bool `yaml:"enabled"`
	bridge.Config `yaml:",inline"`
}

// Config is the full client configuration.
type Config struct {
	BaseURL  string `yaml:"base_url"`
	LogLevel string `yaml:"log_level"`
	// SnapshotDB is the SQLite file for last-known-good snapshots; empty keeps
	// snapshots in memory only.
	SnapshotDB string        `yaml:"snapshot_db"`
	Metrics    bool          `yaml:"metrics"`
	Engine     engine.Config `yaml:"engine"`
	NATS       NATS          `yaml:"nats"`
	Bridge     Bridge        `yaml:"bridge"`
}

// Default returns a config that talks to a local game server.
func Default() Config {
	return Config{
		BaseURL:  "http://localhost:8000",
		LogLevel: "info",
		Engine:   engine.DefaultConfig(),
		NATS:     NATS{NATSConfig: events.DefaultNATSConfig()},
		Bridge:   Bridge{Config: bridge.DefaultConfig()},
	}
}

// Load builds the config. path may be empty, in which case NUMGUESS_CONFIG is
// consulted; a missing file is only an error when a path was given explicitly.
func Load(path string) (Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = getEnv(EnvConfigPath, "")
		explicit = path != ""
	}
	if path == "" {
		path = "numguess.yaml"
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.BaseURL = getEnv(EnvBaseURL, c.BaseURL)
	c.LogLevel = getEnv(EnvLogLevel, c.LogLevel)
	c.SnapshotDB = getEnv(EnvSnapshotDB, c.SnapshotDB)
	c.Metrics = getEnvAsBool(EnvMetrics, c.Metrics)
	if v := getEnv(EnvNATSURL, ""); v != "" {
		c.NATS.URL = v
		c.NATS.Enabled = true
	}
	if v := getEnv(EnvBridgeAddr, ""); v != "" {
		c.Bridge.Addr = v
		c.Bridge.Enabled = true
	}
}

// Validate checks every section.
func (c Config) Validate() error {
	u, err := url.Parse(c.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("base_url must be an absolute URL, got %q", c.BaseURL)
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	if err := c.Engine.Validate(); err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	if c.NATS.Enabled && c.NATS.URL == "" {
		return errors.New("nats.url is required when nats is enabled")
	}
	if c.Bridge.Enabled && c.Bridge.Addr == "" {
		return errors.New("bridge.addr is required when the bridge is enabled")
	}
	return nil
}

// Level returns the parsed log level.
func (c Config) Level() zerolog.Level {
	lvl, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil {
		return zerolog.InfoLevel
	}
	return lvl
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
