package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Sandbox   SandboxConfig   `mapstructure:"sandbox"`
	Policy    PolicyConfig    `mapstructure:"policy"`
	Validator ValidatorConfig `mapstructure:"validator"`
	Reaper    ReaperConfig    `mapstructure:"reaper"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Transport string `mapstructure:"transport"`
	HTTPPort  int    `mapstructure:"http_port"`
}

// SandboxConfig holds execution environment configuration
type SandboxConfig struct {
	Image                string  `mapstructure:"image"`
	TimeoutSec           int     `mapstructure:"timeout_sec"`
	MemoryMB             int     `mapstructure:"memory_mb"`
	CPUCores             float64 `mapstructure:"cpu_cores"`
	MaxConcurrent        int     `mapstructure:"max_concurrent"`
	MaxResultSizeKB      int     `mapstructure:"max_result_size_kb"`
	ScratchDir           string  `mapstructure:"scratch_dir"`
	HeartbeatIntervalSec int     `mapstructure:"heartbeat_interval_sec"`
}

// PolicyConfig holds the default runtime abuse thresholds. Callers may
// override these per request; the defaults come from here.
type PolicyConfig struct {
	MaxCPUPercent    float64 `mapstructure:"max_cpu_percent"`
	MaxMemoryPercent float64 `mapstructure:"max_memory_percent"`
	MaxPids          int     `mapstructure:"max_pids"`
	CPUWindowSec     int     `mapstructure:"cpu_window_sec"`
	MemoryWindowSec  int     `mapstructure:"memory_window_sec"`
	SampleIntervalMS int     `mapstructure:"sample_interval_ms"`
	AnomalyScore     float64 `mapstructure:"anomaly_score"`
	AnomalyWindowSec int     `mapstructure:"anomaly_window_sec"`
}

// ValidatorConfig holds static analysis configuration
type ValidatorConfig struct {
	// AllowlistFile optionally points at a YAML file with extra permitted
	// module names, merged on top of the built-in allow-list.
	AllowlistFile string `mapstructure:"allowlist_file"`
}

// ReaperConfig holds orphan cleanup configuration
type ReaperConfig struct {
	IntervalSec    int `mapstructure:"interval_sec"`
	GracePeriodSec int `mapstructure:"grace_period_sec"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Mode  string `mapstructure:"mode"`
	Level string `mapstructure:"level"`
}

// New loads and validates the application configuration
func New() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	// Set default values
	viper.SetDefault("server.transport", "stdio")
	viper.SetDefault("server.http_port", 8080)

	viper.SetDefault("sandbox.image", "strategy-runtime:latest")
	viper.SetDefault("sandbox.timeout_sec", 120)
	viper.SetDefault("sandbox.memory_mb", 1024)
	viper.SetDefault("sandbox.cpu_cores", 1.0)
	viper.SetDefault("sandbox.max_concurrent", 4)
	viper.SetDefault("sandbox.max_result_size_kb", 256)
	viper.SetDefault("sandbox.scratch_dir", "")
	viper.SetDefault("sandbox.heartbeat_interval_sec", 10)

	viper.SetDefault("policy.max_cpu_percent", 90)
	viper.SetDefault("policy.max_memory_percent", 85)
	viper.SetDefault("policy.max_pids", 32)
	viper.SetDefault("policy.cpu_window_sec", 15)
	viper.SetDefault("policy.memory_window_sec", 10)
	viper.SetDefault("policy.sample_interval_ms", 1000)
	viper.SetDefault("policy.anomaly_score", 80)
	viper.SetDefault("policy.anomaly_window_sec", 20)

	viper.SetDefault("validator.allowlist_file", "")

	viper.SetDefault("reaper.interval_sec", 300)
	viper.SetDefault("reaper.grace_period_sec", 60)

	viper.SetDefault("logging.mode", "production")
	viper.SetDefault("logging.level", "info")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// If config file not found, continue with defaults
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Validate configuration
	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("config validation error: %w", err)
	}

	return &config, nil
}

// validate ensures the configuration is valid
func (c *Config) validate() error {
	if c.Server.Transport != "stdio" && c.Server.Transport != "http" {
		return fmt.Errorf("invalid server.transport: %s, must be 'stdio' or 'http'", c.Server.Transport)
	}

	if c.Sandbox.Image == "" {
		return fmt.Errorf("sandbox.image must not be empty")
	}

	if c.Sandbox.TimeoutSec <= 0 {
		return fmt.Errorf("sandbox.timeout_sec must be positive, got: %d", c.Sandbox.TimeoutSec)
	}

	if c.Sandbox.MemoryMB <= 0 {
		return fmt.Errorf("sandbox.memory_mb must be positive, got: %d", c.Sandbox.MemoryMB)
	}

	if c.Sandbox.CPUCores <= 0 {
		return fmt.Errorf("sandbox.cpu_cores must be positive, got: %g", c.Sandbox.CPUCores)
	}

	if c.Sandbox.MaxConcurrent <= 0 {
		return fmt.Errorf("sandbox.max_concurrent must be positive, got: %d", c.Sandbox.MaxConcurrent)
	}

	if c.Sandbox.MaxResultSizeKB <= 0 {
		return fmt.Errorf("sandbox.max_result_size_kb must be positive, got: %d", c.Sandbox.MaxResultSizeKB)
	}

	if c.Sandbox.HeartbeatIntervalSec <= 0 {
		return fmt.Errorf("sandbox.heartbeat_interval_sec must be positive, got: %d", c.Sandbox.HeartbeatIntervalSec)
	}

	if err := c.validatePolicy(); err != nil {
		return err
	}

	if c.Reaper.IntervalSec <= 0 {
		return fmt.Errorf("reaper.interval_sec must be positive, got: %d", c.Reaper.IntervalSec)
	}

	if c.Reaper.GracePeriodSec <= 0 {
		return fmt.Errorf("reaper.grace_period_sec must be positive, got: %d", c.Reaper.GracePeriodSec)
	}

	return nil
}

func (c *Config) validatePolicy() error {
	p := c.Policy

	if p.MaxCPUPercent <= 0 || p.MaxMemoryPercent <= 0 || p.AnomalyScore <= 0 {
		return fmt.Errorf("policy thresholds must be positive")
	}

	if p.MaxPids <= 0 {
		return fmt.Errorf("policy.max_pids must be positive, got: %d", p.MaxPids)
	}

	if p.CPUWindowSec <= 0 || p.MemoryWindowSec <= 0 || p.AnomalyWindowSec <= 0 {
		return fmt.Errorf("policy sustained windows must be positive")
	}

	if p.SampleIntervalMS <= 0 {
		return fmt.Errorf("policy.sample_interval_ms must be positive, got: %d", p.SampleIntervalMS)
	}

	// The monitor must sample several times inside a window to confirm a
	// breach is sustained rather than a single spike.
	sample := c.SampleInterval()
	if sample >= c.CPUWindow() || sample >= c.MemoryWindow() {
		return fmt.Errorf("policy.sample_interval_ms (%s) must be shorter than the shortest sustained window", sample)
	}

	return nil
}

// GetTimeout returns the default execution timeout as a duration
func (c *Config) GetTimeout() time.Duration {
	return time.Duration(c.Sandbox.TimeoutSec) * time.Second
}

// HeartbeatInterval returns how often an owner refreshes its liveness signal
func (c *Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.Sandbox.HeartbeatIntervalSec) * time.Second
}

// SampleInterval returns the monitor sampling interval
func (c *Config) SampleInterval() time.Duration {
	return time.Duration(c.Policy.SampleIntervalMS) * time.Millisecond
}

// CPUWindow returns the CPU sustained window as a duration
func (c *Config) CPUWindow() time.Duration {
	return time.Duration(c.Policy.CPUWindowSec) * time.Second
}

// MemoryWindow returns the memory sustained window as a duration
func (c *Config) MemoryWindow() time.Duration {
	return time.Duration(c.Policy.MemoryWindowSec) * time.Second
}

// AnomalyWindow returns the combined anomaly sustained window as a duration
func (c *Config) AnomalyWindow() time.Duration {
	return time.Duration(c.Policy.AnomalyWindowSec) * time.Second
}

// ReapGracePeriod returns how stale a heartbeat must be before reaping
func (c *Config) ReapGracePeriod() time.Duration {
	return time.Duration(c.Reaper.GracePeriodSec) * time.Second
}

// ReapInterval returns how often the scheduled orphan sweep runs
func (c *Config) ReapInterval() time.Duration {
	return time.Duration(c.Reaper.IntervalSec) * time.Second
}
