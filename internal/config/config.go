// Package config loads o365scan settings from defaults, an optional config
// file, O365SCAN_* environment variables and command-line flags, in rising
// order of precedence.
package config

/*
o365scan — resumable Microsoft 365 MX classification of address lists
Copyright (C) 2025  Pepijn van der Stap <rxtls@vanderstap.info>

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU Affero General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU Affero General Public License for more details.

You should have received a copy of the GNU Affero General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/x-stp/o365scan/internal/core"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "O365SCAN"

// Configuration keys.
const (
	KeyInput             = "input"
	KeyOutput            = "output"
	KeyCheckpointPath    = "checkpoint.path"
	KeyCheckpointEnabled = "checkpoint.enabled"
	KeySaveEvery         = "checkpoint.save_every"
	KeyProgressEvery     = "progress.every"
	KeyDNSTimeout        = "dns.timeout"
	KeyDNSRetries        = "dns.retries"
	KeyDNSNameservers    = "dns.nameservers"
	KeyDNSBackend        = "dns.backend"
	KeyDNSQPS            = "dns.qps"
	KeyWorkers           = "workers"
	KeyMetricsAddr       = "metrics.addr"
	KeyLogLevel          = "log.level"
	KeyLogFormat         = "log.format"
)

// DNS backends.
const (
	BackendMiekg = "miekg"
	BackendStd   = "std"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Config represents the application configuration
type Config struct {
	v *viper.Viper
}

// New returns a configuration holding only the defaults.
func New() *Config {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	return &Config{v: v}
}

// Load builds the configuration. configFile may be empty. Flags in flags are
// bound to keys through FlagKeys; only flags the user set override lower layers.
func Load(configFile string, flags *pflag.FlagSet) (*Config, error) {
	c := New()

	if configFile != "" {
		c.v.SetConfigFile(configFile)
		if err := c.v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if flags != nil {
		for name, key := range FlagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := c.v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// FlagKeys maps command-line flag names to configuration keys.
var FlagKeys = map[string]string{
	"input":          KeyInput,
	"output":         KeyOutput,
	"checkpoint":     KeyCheckpointPath,
	"checkpointing":  KeyCheckpointEnabled,
	"save-every":     KeySaveEvery,
	"progress-every": KeyProgressEvery,
	"dns-timeout":    KeyDNSTimeout,
	"dns-retries":    KeyDNSRetries,
	"nameserver":     KeyDNSNameservers,
	"dns-backend":    KeyDNSBackend,
	"qps":            KeyDNSQPS,
	"workers":        KeyWorkers,
	"metrics-addr":   KeyMetricsAddr,
	"log-level":      KeyLogLevel,
	"log-format":     KeyLogFormat,
}

// setDefaults sets the default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault(KeyInput, "input.rtf")
	v.SetDefault(KeyOutput, "output_o365.rtf")

	v.SetDefault(KeyCheckpointPath, "checkpoint.json")
	v.SetDefault(KeyCheckpointEnabled, true)
	v.SetDefault(KeySaveEvery, core.DefaultSaveEvery)
	v.SetDefault(KeyProgressEvery, core.DefaultProgressEvery)

	v.SetDefault(KeyDNSTimeout, core.DefaultDNSTimeout)
	v.SetDefault(KeyDNSRetries, 1)
	v.SetDefault(KeyDNSNameservers, []string{})
	v.SetDefault(KeyDNSBackend, BackendMiekg)
	v.SetDefault(KeyDNSQPS, 0.0)

	v.SetDefault(KeyWorkers, 1)
	v.SetDefault(KeyMetricsAddr, "")

	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogFormat, "console")
}

// Set overrides a key, mostly for tests.
func (c *Config) Set(key string, value any) {
	c.v.Set(key, value)
}

// IOConfig names the files the run reads and writes.
type IOConfig struct {
	Input  string
	Output string
}

// CheckpointConfig controls resume state.
type CheckpointConfig struct {
	Path          string
	Enabled       bool
	SaveEvery     int
	ProgressEvery int
}

// DNSConfig controls MX lookups.
type DNSConfig struct {
	Backend     string
	Nameservers []string
	Timeout     time.Duration
	Retries     int
	QPS         float64
}

// LogConfig controls the zap logger.
type LogConfig struct {
	Level  string
	Format string
}

// GetIO returns the input and output paths.
func (c *Config) GetIO() IOConfig {
	return IOConfig{
		Input:  c.v.GetString(KeyInput),
		Output: c.v.GetString(KeyOutput),
	}
}

// GetCheckpoint returns the checkpoint settings.
func (c *Config) GetCheckpoint() CheckpointConfig {
	return CheckpointConfig{
		Path:          c.v.GetString(KeyCheckpointPath),
		Enabled:       c.v.GetBool(KeyCheckpointEnabled),
		SaveEvery:     c.v.GetInt(KeySaveEvery),
		ProgressEvery: c.v.GetInt(KeyProgressEvery),
	}
}

// GetDNS returns the resolver settings.
func (c *Config) GetDNS() DNSConfig {
	return DNSConfig{
		Backend:     strings.ToLower(c.v.GetString(KeyDNSBackend)),
		Nameservers: c.v.GetStringSlice(KeyDNSNameservers),
		Timeout:     c.v.GetDuration(KeyDNSTimeout),
		Retries:     c.v.GetInt(KeyDNSRetries),
		QPS:         c.v.GetFloat64(KeyDNSQPS),
	}
}

// GetWorkers returns the number of resolution workers.
func (c *Config) GetWorkers() int {
	return c.v.GetInt(KeyWorkers)
}

// GetMetricsAddr returns the /metrics listen address, empty when disabled.
func (c *Config) GetMetricsAddr() string {
	return c.v.GetString(KeyMetricsAddr)
}

// GetLog returns the logger settings.
func (c *Config) GetLog() LogConfig {
	return LogConfig{
		Level:  strings.ToLower(c.v.GetString(KeyLogLevel)),
		Format: strings.ToLower(c.v.GetString(KeyLogFormat)),
	}
}

// Validate checks value ranges and enumerations.
func (c *Config) Validate() error {
	cp := c.GetCheckpoint()
	if cp.Enabled && cp.Path == "" {
		return fmt.Errorf("%w: %s must not be empty", ErrInvalid, KeyCheckpointPath)
	}
	if cp.SaveEvery < 1 {
		return fmt.Errorf("%w: %s must be at least 1, got %d", ErrInvalid, KeySaveEvery, cp.SaveEvery)
	}
	if cp.ProgressEvery < 1 {
		return fmt.Errorf("%w: %s must be at least 1, got %d", ErrInvalid, KeyProgressEvery, cp.ProgressEvery)
	}
	if c.GetIO().Output == "" {
		return fmt.Errorf("%w: %s must not be empty", ErrInvalid, KeyOutput)
	}

	d := c.GetDNS()
	if d.Timeout <= 0 {
		return fmt.Errorf("%w: %s must be positive, got %s", ErrInvalid, KeyDNSTimeout, d.Timeout)
	}
	if d.Retries < 0 {
		return fmt.Errorf("%w: %s must not be negative", ErrInvalid, KeyDNSRetries)
	}
	if d.QPS < 0 {
		return fmt.Errorf("%w: %s must not be negative", ErrInvalid, KeyDNSQPS)
	}
	switch d.Backend {
	case BackendMiekg, BackendStd:
	default:
		return fmt.Errorf("%w: unknown %s %q", ErrInvalid, KeyDNSBackend, d.Backend)
	}
	if d.Backend == BackendStd && len(d.Nameservers) > 0 {
		return fmt.Errorf("%w: %s cannot be combined with the %s backend", ErrInvalid, KeyDNSNameservers, BackendStd)
	}

	if w := c.GetWorkers(); w < 1 || w > core.MaxWorkers {
		return fmt.Errorf("%w: %s must be between 1 and %d, got %d", ErrInvalid, KeyWorkers, core.MaxWorkers, w)
	}

	l := c.GetLog()
	switch l.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: unknown %s %q", ErrInvalid, KeyLogLevel, l.Level)
	}
	switch l.Format {
	case "console", "json":
	default:
		return fmt.Errorf("%w: unknown %s %q", ErrInvalid, KeyLogFormat, l.Format)
	}
	return nil
}
