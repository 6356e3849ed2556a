// Package config provides hierarchical configuration management.
// Priority: defaults < system < user < project < env < flags
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/simvis/simvis/pkg/export"
	"github.com/simvis/simvis/pkg/parsers"
	"github.com/simvis/simvis/pkg/remote"
	"github.com/simvis/simvis/pkg/resilience"
)

// Config holds all simvis configuration.
type Config struct {
	Version int `yaml:"version"`

	Dispatch  DispatchConfig  `yaml:"dispatch"`
	Plugins   PluginsConfig   `yaml:"plugins"`
	Remote    RemoteConfig    `yaml:"remote"`
	Log       LogConfig       `yaml:"log"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Export    ExportConfig    `yaml:"export"`
}

// DispatchConfig controls retries and format detection.
type DispatchConfig struct {
	MaxAttempts          int           `yaml:"max_attempts"`
	RetryInitialInterval time.Duration `yaml:"retry_initial_interval"`
	RetryMaxInterval     time.Duration `yaml:"retry_max_interval"`
	ScanLines            int           `yaml:"scan_lines"`
	TempDir              string        `yaml:"temp_dir"`
}

// PluginsConfig locates declarative parser specs.
type PluginsConfig struct {
	Dir      string   `yaml:"dir"`
	Disabled []string `yaml:"disabled,omitempty"`
}

// RemoteConfig configures file access backends.
type RemoteConfig struct {
	SSH SSHConfig `yaml:"ssh"`
	S3  S3Config  `yaml:"s3"`
}

// SSHConfig mirrors remote.SSHConfig.
type SSHConfig struct {
	User                  string        `yaml:"user"`
	Port                  int           `yaml:"port"`
	IdentityFile          string        `yaml:"identity_file"`
	KnownHosts            string        `yaml:"known_hosts"`
	UseAgent              bool          `yaml:"use_agent"`
	InsecureIgnoreHostKey bool          `yaml:"insecure_ignore_host_key"`
	Timeout               time.Duration `yaml:"timeout"`
}

// S3Config mirrors remote.S3Config. Credentials come from the AWS chain.
type S3Config struct {
	Region       string `yaml:"region"`
	Endpoint     string `yaml:"endpoint"`
	UsePathStyle bool   `yaml:"use_path_style"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// TelemetryConfig for optional tracing and metrics.
type TelemetryConfig struct {
	Enabled       bool    `yaml:"enabled"`
	Endpoint      string  `yaml:"endpoint"`
	SamplingRatio float64 `yaml:"sampling_ratio"`
	MetricsAddr   string  `yaml:"metrics_addr"`
}

// ExportConfig controls output files.
type ExportConfig struct {
	Compression string `yaml:"compression"` // snappy | zstd | gzip | lz4 | none
}

// Default returns the default configuration.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	ssh := remote.DefaultSSHConfig()

	return &Config{
		Version: 1,
		Dispatch: DispatchConfig{
			MaxAttempts:          3,
			RetryInitialInterval: 100 * time.Millisecond,
			RetryMaxInterval:     2 * time.Second,
			ScanLines:            parsers.DefaultScanLines,
		},
		Plugins: PluginsConfig{
			Dir: filepath.Join(homeDir, ".simvis", "parsers"),
		},
		Remote: RemoteConfig{
			SSH: SSHConfig{
				User:       ssh.User,
				Port:       ssh.Port,
				KnownHosts: ssh.KnownHosts,
				UseAgent:   ssh.UseAgent,
				Timeout:    ssh.Timeout,
			},
		},
		Log: LogConfig{
			Level:  "warn",
			Format: "text",
		},
		Telemetry: TelemetryConfig{
			Endpoint:      "localhost:4317",
			SamplingRatio: 1.0,
			MetricsAddr:   ":9464",
		},
		Export: ExportConfig{
			Compression: "snappy",
		},
	}
}

// Policy returns the retry policy of each dispatcher job.
func (c *Config) Policy() resilience.Policy {
	return resilience.Policy{
		MaxAttempts:     c.Dispatch.MaxAttempts,
		InitialInterval: c.Dispatch.RetryInitialInterval,
		MaxInterval:     c.Dispatch.RetryMaxInterval,
	}
}

// RemoteConfig returns the file access configuration.
func (c *Config) RemoteConfig() remote.Config {
	s := c.Remote.SSH
	return remote.Config{
		SSH: remote.SSHConfig{
			User:                  s.User,
			Port:                  s.Port,
			IdentityFile:          s.IdentityFile,
			KnownHosts:            s.KnownHosts,
			UseAgent:              s.UseAgent,
			InsecureIgnoreHostKey: s.InsecureIgnoreHostKey,
			Timeout:               s.Timeout,
		},
		S3: remote.S3Config{
			Region:       c.Remote.S3.Region,
			Endpoint:     c.Remote.S3.Endpoint,
			UsePathStyle: c.Remote.S3.UsePathStyle,
		},
	}
}

// ParserOptions returns the options shared by every parser plugin.
func (c *Config) ParserOptions() parsers.Options {
	opts := parsers.DefaultOptions()
	opts.ScanLines = c.Dispatch.ScanLines
	opts.TempDir = c.Dispatch.TempDir
	return opts
}

// ExportOptions returns the writer options.
func (c *Config) ExportOptions() export.Options {
	opts := export.DefaultOptions()
	opts.Compression = c.Export.Compression
	return opts
}

// Manager handles configuration loading and merging.
type Manager struct {
	mu     sync.RWMutex
	config *Config
	paths  []string // Paths that were loaded
}

// NewManager creates a new configuration manager.
func NewManager() *Manager {
	return &Manager{
		config: Default(),
	}
}

// Load loads configuration from all sources in priority order.
func (m *Manager) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.config = Default()
	m.paths = nil

	for _, path := range configPaths() {
		if err := m.loadFile(path); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return err
		}
		m.paths = append(m.paths, path)
	}

	return m.loadEnv()
}

// LoadFile applies one explicit config file on top of the current settings,
// then re-applies the environment.
func (m *Manager) LoadFile(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.loadFile(path); err != nil {
		return err
	}
	m.paths = append(m.paths, path)
	return m.loadEnv()
}

// configPaths returns config file paths in priority order.
func configPaths() []string {
	var paths []string

	if runtime.GOOS != "windows" {
		paths = append(paths, "/etc/simvis/config.yaml")
	}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".simvis", "config.yaml"))
	}
	if cwd, err := os.Getwd(); err == nil {
		paths = append(paths, filepath.Join(cwd, ".simvis.yaml"))
	}
	return paths
}

// loadFile decodes a config file over the current settings: keys present in
// the file replace the current value, absent keys keep it.
func (m *Manager) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(m.config); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

// loadEnv applies SIMVIS_* environment variables.
func (m *Manager) loadEnv() error {
	c := m.config

	str := map[string]*string{
		"SIMVIS_PLUGIN_DIR":    &c.Plugins.Dir,
		"SIMVIS_TEMP_DIR":      &c.Dispatch.TempDir,
		"SIMVIS_SSH_USER":      &c.Remote.SSH.User,
		"SIMVIS_SSH_IDENTITY":  &c.Remote.SSH.IdentityFile,
		"SIMVIS_KNOWN_HOSTS":   &c.Remote.SSH.KnownHosts,
		"SIMVIS_S3_REGION":     &c.Remote.S3.Region,
		"SIMVIS_S3_ENDPOINT":   &c.Remote.S3.Endpoint,
		"SIMVIS_LOG_LEVEL":     &c.Log.Level,
		"SIMVIS_LOG_FORMAT":    &c.Log.Format,
		"SIMVIS_OTLP_ENDPOINT": &c.Telemetry.Endpoint,
		"SIMVIS_METRICS_ADDR":  &c.Telemetry.MetricsAddr,
		"SIMVIS_COMPRESSION":   &c.Export.Compression,
	}
	for key, dst := range str {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	if v := os.Getenv("SIMVIS_MAX_ATTEMPTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return fmt.Errorf("SIMVIS_MAX_ATTEMPTS: want a positive integer, got %q", v)
		}
		c.Dispatch.MaxAttempts = n
	}
	if v := os.Getenv("SIMVIS_DISABLED_PARSERS"); v != "" {
		c.Plugins.Disabled = splitList(v)
	}
	if v := os.Getenv("SIMVIS_TELEMETRY"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("SIMVIS_TELEMETRY: %w", err)
		}
		c.Telemetry.Enabled = b
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Get returns the current configuration.
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// GetPaths returns the paths that were loaded.
func (m *Manager) GetPaths() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.paths...)
}

// Dump renders the effective configuration as YAML.
func (m *Manager) Dump() ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return yaml.Marshal(m.config)
}

// Global instance
var (
	globalManager *Manager
	globalOnce    sync.Once
	globalErr     error
)

// Global returns the process-wide configuration manager, loaded on first use.
func Global() (*Manager, error) {
	globalOnce.Do(func() {
		globalManager = NewManager()
		globalErr = globalManager.Load()
	})
	return globalManager, globalErr
}
