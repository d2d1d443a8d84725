// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// Environment represents the deployment environment.
type Environment string

const (
	Development Environment = "development"
	Production  Environment = "production"
)

// Stream buffer bounds. The ring must hold the largest frame with room
// to spare and is mapped in both processes.
const (
	minBufferSize = 4096
	maxBufferSize = 64 << 20
)

// Config is the procbridge configuration.
type Config struct {
	// Environment selects which override section applies.
	Environment Environment `yaml:"environment"`

	// SocketPath is the Unix socket the broker listens on.
	// Default: ${XDG_RUNTIME_DIR:-/tmp}/procbridge.sock
	SocketPath string `yaml:"socket_path"`

	// Streaming configures the shared-memory transport.
	Streaming StreamingConfig `yaml:"streaming"`

	// Sink configures where forwarded records go.
	Sink SinkConfig `yaml:"sink"`

	// Trace configures signpost tracing.
	Trace TraceConfig `yaml:"trace"`

	// Activity configures the keep-alives held for each page.
	Activity ActivityConfig `yaml:"activity"`

	Development *ConfigOverrides `yaml:"development,omitempty"`
	Production  *ConfigOverrides `yaml:"production,omitempty"`
}

// StreamingConfig configures the streaming transport variant.
type StreamingConfig struct {
	// Enabled selects the streaming variant for clients that ask for
	// it. When false every client uses the direct variant.
	Enabled bool `yaml:"enabled"`

	// BufferSize is the ring capacity in bytes: a power of two of at
	// least 4096. Default: 1 MiB.
	BufferSize int `yaml:"buffer_size"`

	// WaitTimeout bounds how long a client waits for ring space.
	// Default: 2s
	WaitTimeout time.Duration `yaml:"wait_timeout"`
}

// SinkConfig configures log outputs.
type SinkConfig struct {
	// Console prints forwarded records to stderr.
	Console bool `yaml:"console"`

	// Color is auto, always, or never.
	Color string `yaml:"color"`

	// ArchivePath, when set, appends records to a zstd CBOR archive.
	ArchivePath string `yaml:"archive_path"`

	// MaxHandles bounds the number of distinct destinations.
	MaxHandles int `yaml:"max_handles"`
}

// TraceConfig configures the signpost tracer.
type TraceConfig struct {
	Enabled   bool `yaml:"enabled"`
	MaxEvents int  `yaml:"max_events"`
}

// ActivityConfig configures page keep-alives.
type ActivityConfig struct {
	// Name labels every keep-alive the broker acquires.
	Name string `yaml:"name"`

	// Priority is foreground or background.
	Priority string `yaml:"priority"`

	// MaxPerProcess bounds the keep-alives one process may hold.
	// Zero means unlimited.
	MaxPerProcess int `yaml:"max_per_process"`
}

// ConfigOverrides contains fields that can be overridden per
// environment. Pointer fields distinguish "unset" from false.
type ConfigOverrides struct {
	SocketPath string          `yaml:"socket_path,omitempty"`
	Sink       *SinkOverrides  `yaml:"sink,omitempty"`
	Trace      *TraceOverrides `yaml:"trace,omitempty"`
}

// SinkOverrides overrides SinkConfig fields.
type SinkOverrides struct {
	Console     *bool  `yaml:"console,omitempty"`
	Color       string `yaml:"color,omitempty"`
	ArchivePath string `yaml:"archive_path,omitempty"`
}

// TraceOverrides overrides TraceConfig fields.
type TraceOverrides struct {
	Enabled *bool `yaml:"enabled,omitempty"`
}

// Default returns the default configuration, used as the base before
// the config file is decoded over it.
func Default() *Config {
	return &Config{
		Environment: Development,
		SocketPath:  "${XDG_RUNTIME_DIR:-/tmp}/procbridge.sock",
		Streaming: StreamingConfig{
			Enabled:     true,
			BufferSize:  1 << 20,
			WaitTimeout: 2 * time.Second,
		},
		Sink: SinkConfig{
			Console:    true,
			Color:      "auto",
			MaxHandles: 1024,
		},
		Trace: TraceConfig{
			Enabled:   false,
			MaxEvents: 4096,
		},
		Activity: ActivityConfig{
			Name:          "procbridge-page",
			Priority:      "foreground",
			MaxPerProcess: 64,
		},
	}
}

// Load loads configuration from the PROCBRIDGE_CONFIG environment
// variable. There is no fallback when it is unset.
func Load() (*Config, error) {
	configPath := os.Getenv("PROCBRIDGE_CONFIG")
	if configPath == "" {
		return nil, fmt.Errorf("PROCBRIDGE_CONFIG environment variable not set; " +
			"set it to the path of your procbridge config file, or use --config flag")
	}
	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path, applies the
// matching environment overrides, and expands path variables. It does
// not validate; call Validate.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if err := cfg.loadFile(path); err != nil {
		return nil, err
	}
	cfg.applyEnvironmentOverrides()
	cfg.expandVariables()
	return cfg, nil
}

// loadFile decodes one file over the current config.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		data = jsonc.ToJSON(data)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing config %s: %w", path, err)
	}
	return nil
}

// applyEnvironmentOverrides applies the section matching Environment.
func (c *Config) applyEnvironmentOverrides() {
	var overrides *ConfigOverrides
	switch c.Environment {
	case Development:
		overrides = c.Development
	case Production:
		overrides = c.Production
		if overrides == nil {
			disabled := false
			overrides = &ConfigOverrides{
				Sink:  &SinkOverrides{Color: "never"},
				Trace: &TraceOverrides{Enabled: &disabled},
			}
		}
	}
	if overrides == nil {
		return
	}

	if overrides.SocketPath != "" {
		c.SocketPath = overrides.SocketPath
	}
	if overrides.Sink != nil {
		if overrides.Sink.Console != nil {
			c.Sink.Console = *overrides.Sink.Console
		}
		if overrides.Sink.Color != "" {
			c.Sink.Color = overrides.Sink.Color
		}
		if overrides.Sink.ArchivePath != "" {
			c.Sink.ArchivePath = overrides.Sink.ArchivePath
		}
	}
	if overrides.Trace != nil && overrides.Trace.Enabled != nil {
		c.Trace.Enabled = *overrides.Trace.Enabled
	}
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in paths.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"HOME":            os.Getenv("HOME"),
		"XDG_RUNTIME_DIR": os.Getenv("XDG_RUNTIME_DIR"),
	}
	c.SocketPath = expandVars(c.SocketPath, vars)
	c.Sink.ArchivePath = expandVars(c.Sink.ArchivePath, vars)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}
		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Environment != Development && c.Environment != Production {
		errs = append(errs, fmt.Errorf("invalid environment: %s", c.Environment))
	}
	if c.SocketPath == "" {
		errs = append(errs, errors.New("socket_path is required"))
	}

	size := c.Streaming.BufferSize
	if size < minBufferSize || size > maxBufferSize || size&(size-1) != 0 {
		errs = append(errs, fmt.Errorf("streaming.buffer_size must be a power of two between %d and %d, got %d",
			minBufferSize, maxBufferSize, size))
	}
	if c.Streaming.WaitTimeout <= 0 {
		errs = append(errs, fmt.Errorf("streaming.wait_timeout must be positive, got %s", c.Streaming.WaitTimeout))
	}

	colors := []string{"auto", "always", "never"}
	if !slices.Contains(colors, c.Sink.Color) {
		errs = append(errs, fmt.Errorf("sink.color must be one of: %v", colors))
	}
	if c.Sink.MaxHandles <= 0 {
		errs = append(errs, fmt.Errorf("sink.max_handles must be positive, got %d", c.Sink.MaxHandles))
	}

	if c.Trace.Enabled && c.Trace.MaxEvents <= 0 {
		errs = append(errs, fmt.Errorf("trace.max_events must be positive when tracing is enabled, got %d", c.Trace.MaxEvents))
	}

	if c.Activity.Name == "" {
		errs = append(errs, errors.New("activity.name is required"))
	}
	priorities := []string{"foreground", "background"}
	if !slices.Contains(priorities, c.Activity.Priority) {
		errs = append(errs, fmt.Errorf("activity.priority must be one of: %v", priorities))
	}
	if c.Activity.MaxPerProcess < 0 {
		errs = append(errs, fmt.Errorf("activity.max_per_process must not be negative, got %d", c.Activity.MaxPerProcess))
	}

	return errors.Join(errs...)
}
