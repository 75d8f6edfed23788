// Package config handles tether.toml bridge configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// FileName is the configuration file the bridge looks for.
const FileName = "tether.toml"

// Config is a parsed tether.toml.
type Config struct {
	Server    Server    `toml:"server"`
	Project   Project   `toml:"project"`
	Tick      Tick      `toml:"tick"`
	Transport Transport `toml:"transport"`

	// Dir is the directory containing the tether.toml file (set at load time).
	Dir string `toml:"-"`
}

// Server locates the orchestrator.
type Server struct {
	URL   string `toml:"url"`
	Codec string `toml:"codec"`
}

// Project locates the open project on disk.
type Project struct {
	Root string `toml:"root"`
}

// Tick configures the host update loop driving the marshaling queue.
type Tick struct {
	RateHz int `toml:"rate-hz"`
}

// Transport tunes reconnection and the send cooldown.
type Transport struct {
	InitialBackoffMs int `toml:"initial-backoff-ms"`
	MaxBackoffMs     int `toml:"max-backoff-ms"`
	FailureThreshold int `toml:"failure-threshold"`
	FailureWindowMs  int `toml:"failure-window-ms"`
	CooldownMs       int `toml:"cooldown-ms"`
}

// Default returns the configuration used when no tether.toml exists.
func Default() *Config {
	return &Config{
		Server: Server{
			URL:   "ws://localhost:8090/bridge",
			Codec: "json",
		},
		Tick: Tick{RateHz: 60},
	}
}

// Load parses a tether.toml file from the given directory.
func Load(dir string) (*Config, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	cfg := Default()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	cfg.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}
	cfg.applyDefaults()
	return cfg, nil
}

// FindAndLoad walks up from startDir to find a tether.toml file, then
// loads and returns it. Returns the defaults if no file is found.
func FindAndLoad(startDir string) (*Config, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}
	for {
		if _, statErr := os.Stat(filepath.Join(dir, FileName)); statErr == nil {
			return Load(dir)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return Default(), nil
		}
		dir = parent
	}
}

func (c *Config) applyDefaults() {
	def := Default()
	if c.Server.URL == "" {
		c.Server.URL = def.Server.URL
	}
	if c.Server.Codec == "" {
		c.Server.Codec = def.Server.Codec
	}
	if c.Tick.RateHz <= 0 {
		c.Tick.RateHz = def.Tick.RateHz
	}
}

// TickInterval converts the configured rate to a ticker interval.
func (c *Config) TickInterval() time.Duration {
	return time.Second / time.Duration(c.Tick.RateHz)
}

// InitialBackoff returns the configured duration, or zero for the
// transport default.
func (t Transport) InitialBackoff() time.Duration {
	return time.Duration(t.InitialBackoffMs) * time.Millisecond
}

// MaxBackoff returns the configured duration, or zero for the transport
// default.
func (t Transport) MaxBackoff() time.Duration {
	return time.Duration(t.MaxBackoffMs) * time.Millisecond
}

// FailureWindow returns the configured duration, or zero for the
// transport default.
func (t Transport) FailureWindow() time.Duration {
	return time.Duration(t.FailureWindowMs) * time.Millisecond
}

// Cooldown returns the configured duration, or zero for the transport
// default.
func (t Transport) Cooldown() time.Duration {
	return time.Duration(t.CooldownMs) * time.Millisecond
}
