// Package config defines the scanner configuration surface: targets,
// port selection, probe timing, service detection, output, and the
// optional API/schedule layers. Values merge defaults-first from an
// optional YAML file; command-line flags override on top via the CLI.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/portsweep/portsweep/internal/errors"
)

// Config represents the complete scanner configuration
type Config struct {
	// Scan configuration
	Scan ScanConfig `yaml:"scan" json:"scan"`

	// Service detection configuration
	Detection DetectionConfig `yaml:"detection" json:"detection"`

	// Output configuration
	Output OutputConfig `yaml:"output" json:"output"`

	// Script hook configuration
	Scripts ScriptsConfig `yaml:"scripts" json:"scripts"`

	// Scheduled re-scan configuration
	Schedule ScheduleConfig `yaml:"schedule" json:"schedule"`

	// API configuration
	API APIConfig `yaml:"api" json:"api"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

// ScanConfig holds the core scan settings
type ScanConfig struct {
	// Targets to scan (hostnames or IP addresses)
	Targets []string `yaml:"targets" json:"targets"`

	// Port specification string, e.g. "22,80,8000-8100"
	Ports string `yaml:"ports" json:"ports"`

	// Whether the port list was given explicitly rather than defaulted.
	// Controls default display filtering in the output layer.
	PortsSpecified bool `yaml:"-" json:"-"`

	// Enable TCP scanning
	TCP bool `yaml:"tcp" json:"tcp"`

	// Enable UDP scanning
	UDP bool `yaml:"udp" json:"udp"`

	// Per-connection timeout in milliseconds
	TimeoutMS int `yaml:"timeout_ms" json:"timeout_ms" validate:"gt=0"`

	// Size of the connection permit pool shared across all targets
	Concurrency int `yaml:"concurrency" json:"concurrency" validate:"gt=0"`
}

// DetectionConfig holds service detection settings
type DetectionConfig struct {
	// Enable service detection on open TCP ports
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Per-probe timeout in milliseconds
	TimeoutMS int `yaml:"timeout_ms" json:"timeout_ms" validate:"gt=0"`

	// Path to the probe database file
	ProbeFile string `yaml:"probe_file" json:"probe_file"`

	// Skip probes rarer than this value (0 disables the filter)
	MaxRarity int `yaml:"max_rarity" json:"max_rarity" validate:"gte=0,lte=9"`
}

// OutputConfig holds result presentation settings
type OutputConfig struct {
	// Output format (table, json)
	Format string `yaml:"format" json:"format" validate:"oneof=table json"`

	// Show closed and filtered ports as well as open ones
	ShowAll bool `yaml:"show_all" json:"show_all"`

	// Optional file to write results to instead of stdout
	File string `yaml:"file" json:"file"`
}

// ScriptsConfig holds post-scan script hook settings
type ScriptsConfig struct {
	// Enable running scripts against open ports
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Script or command to execute, with {target} and {port} placeholders
	Command string `yaml:"command" json:"command"`

	// Per-script execution timeout
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
}

// ScheduleConfig holds scheduled re-scan settings
type ScheduleConfig struct {
	// Enable the re-scan loop
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Cron expression controlling when scans re-run
	Spec string `yaml:"spec" json:"spec"`
}

// APIConfig holds the health/metrics HTTP endpoint settings
type APIConfig struct {
	// Enable the HTTP endpoint
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Listen address
	ListenAddr string `yaml:"listen_addr" json:"listen_addr"`

	// Listen port
	Port int `yaml:"port" json:"port" validate:"gte=0,lte=65535"`

	// Request timeout
	RequestTimeout time.Duration `yaml:"request_timeout" json:"request_timeout"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	// Log level (debug, info, warn, error)
	Level string `yaml:"level" json:"level" validate:"oneof=debug info warn error"`

	// Log format (text, json)
	Format string `yaml:"format" json:"format" validate:"oneof=text json"`

	// Log output (stdout, stderr, file path)
	Output string `yaml:"output" json:"output"`
}

// Default returns a configuration with sensible defaults
func Default() *Config {
	return &Config{
		Scan: ScanConfig{
			Targets:     nil,
			Ports:       "1-1024",
			TCP:         true,
			UDP:         false,
			TimeoutMS:   1500,
			Concurrency: 500,
		},
		Detection: DetectionConfig{
			Enabled:   false,
			TimeoutMS: 5000,
			ProbeFile: "nmap-service-probes",
			MaxRarity: 0,
		},
		Output: OutputConfig{
			Format:  "table",
			ShowAll: false,
			File:    "",
		},
		Scripts: ScriptsConfig{
			Enabled: false,
			Command: "",
			Timeout: 30 * time.Second,
		},
		Schedule: ScheduleConfig{
			Enabled: false,
			Spec:    "",
		},
		API: APIConfig{
			Enabled:        false,
			ListenAddr:     "127.0.0.1",
			Port:           8080,
			RequestTimeout: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
	}
}

// Load loads configuration from a file
func Load(path string) (*Config, error) {
	// Start with defaults
	config := Default()

	// Check if file exists
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return config, nil // Return defaults if no config file
	}

	// Read file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapConfigError(errors.CodeFilePermission,
			"failed to read config file", err)
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, errors.WrapConfigError(errors.CodeConfiguration,
			"failed to parse YAML config", err)
	}

	// Validate configuration
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Save saves configuration to a file
func (c *Config) Save(path string) error {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Marshal to YAML
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// Write file
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
			first := verrs[0]
			return errors.NewConfigFieldError(errors.CodeValidation,
				fmt.Sprintf("invalid value (constraint %s)", first.Tag()),
				first.Namespace(), first.Value())
		}
		return errors.WrapConfigError(errors.CodeValidation,
			"configuration validation failed", err)
	}

	if c.Scripts.Enabled && c.Scripts.Command == "" {
		return errors.NewConfigFieldError(errors.CodeConfiguration,
			"script command is required when scripts are enabled",
			"scripts.command", c.Scripts.Command)
	}
	if c.Schedule.Enabled && c.Schedule.Spec == "" {
		return errors.NewConfigFieldError(errors.CodeConfiguration,
			"schedule spec is required when scheduling is enabled",
			"schedule.spec", c.Schedule.Spec)
	}
	if c.API.Enabled {
		if c.API.Port <= 0 {
			return errors.NewConfigFieldError(errors.CodeConfiguration,
				"API port must be positive when the API is enabled",
				"api.port", c.API.Port)
		}
		if c.API.ListenAddr == "" {
			return errors.NewConfigFieldError(errors.CodeConfiguration,
				"API listen address is required when the API is enabled",
				"api.listen_addr", c.API.ListenAddr)
		}
	}

	return nil
}

// Timeout returns the per-connection timeout as a duration
func (c *ScanConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

// Timeout returns the per-probe timeout as a duration
func (c *DetectionConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

// GetAPIAddress returns the full API address
func (c *Config) GetAPIAddress() string {
	return fmt.Sprintf("%s:%d", c.API.ListenAddr, c.API.Port)
}

// IsAPIEnabled returns true if the HTTP endpoint is enabled
func (c *Config) IsAPIEnabled() bool {
	return c.API.Enabled
}

// GetLogOutput returns the log output destination
func (c *Config) GetLogOutput() string {
	return c.Logging.Output
}
