package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	Node        NodeConfig        `mapstructure:"node"`
	Sync        SyncConfig        `mapstructure:"sync"`
	Tracking    TrackingConfig    `mapstructure:"tracking"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Diagnostics DiagnosticsConfig `mapstructure:"diagnostics"`
	Control     ControlConfig     `mapstructure:"control"`
}

// NodeConfig identifies this process within the cluster
type NodeConfig struct {
	ID      string `mapstructure:"id"`
	Role    string `mapstructure:"role"`
	Address string `mapstructure:"address"`
}

// SyncConfig contains frame-synchronization configuration
type SyncConfig struct {
	MasterAddress     string  `mapstructure:"master_address"`
	TimeoutSeconds    float64 `mapstructure:"timeout_seconds"`
	PrintSyncMessages bool    `mapstructure:"print_sync_messages"`
}

// TrackingConfig contains tracking sampler configuration
type TrackingConfig struct {
	SampleIntervalMS int             `mapstructure:"sample_interval_ms"`
	HeadTracker      string          `mapstructure:"head_tracker"`
	HeadDevice       string          `mapstructure:"head_device"`
	Trackers         []TrackerConfig `mapstructure:"trackers"`
}

// TrackerConfig describes one named tracker and its devices
type TrackerConfig struct {
	Name    string         `mapstructure:"name"`
	Scale   float64        `mapstructure:"scale"`
	Offset  []float64      `mapstructure:"offset"`
	Devices []DeviceConfig `mapstructure:"devices"`
}

// DeviceConfig describes one tracked device
type DeviceConfig struct {
	Name     string `mapstructure:"name"`
	Sensor   int    `mapstructure:"sensor"`
	Buttons  int    `mapstructure:"buttons"`
	Axes     int    `mapstructure:"axes"`
	Disabled bool   `mapstructure:"disabled"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DiagnosticsConfig contains the HTTP diagnostics endpoint configuration
type DiagnosticsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Address string `mapstructure:"address"`
}

// ControlConfig contains the external control endpoint configuration
type ControlConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Address string `mapstructure:"address"`
}

// SyncTimeout returns the barrier timeout as a duration.
func (c *Config) SyncTimeout() time.Duration {
	return time.Duration(c.Sync.TimeoutSeconds * float64(time.Second))
}

// SampleInterval returns the tracking sampling pause as a duration.
func (c *Config) SampleInterval() time.Duration {
	return time.Duration(c.Tracking.SampleIntervalMS) * time.Millisecond
}

// IsMaster reports whether this node is configured as the cluster master.
func (c *Config) IsMaster() bool {
	return c.Node.Role == "master"
}

// LoadConfig loads configuration from file and environment
func LoadConfig(configPath string) (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	if configPath != "" {
		viper.SetConfigFile(configPath)
	} else {
		viper.AddConfigPath(".")
		viper.AddConfigPath("./config")
		viper.AddConfigPath("/etc/framesync")
	}

	setDefaults()

	viper.AutomaticEnv()
	viper.SetEnvPrefix("FRAMESYNC")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validateConfig(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults() {
	viper.SetDefault("node.id", "")
	viper.SetDefault("node.role", "client")
	viper.SetDefault("node.address", "localhost:20400")

	viper.SetDefault("sync.master_address", "")
	viper.SetDefault("sync.timeout_seconds", 60.0)
	viper.SetDefault("sync.print_sync_messages", true)

	viper.SetDefault("tracking.sample_interval_ms", 1)
	viper.SetDefault("tracking.head_tracker", "")
	viper.SetDefault("tracking.head_device", "")

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "text")

	viper.SetDefault("diagnostics.enabled", true)
	viper.SetDefault("diagnostics.address", "localhost:20480")

	viper.SetDefault("control.enabled", false)
	viper.SetDefault("control.address", "localhost:20500")
}

// validateConfig validates the configuration
func validateConfig(config *Config) error {
	if config.Node.ID == "" {
		return fmt.Errorf("node.id is required")
	}

	switch config.Node.Role {
	case "master", "client":
	default:
		return fmt.Errorf("node.role must be master or client, got %q", config.Node.Role)
	}

	if config.Node.Role == "client" && config.Sync.MasterAddress == "" {
		return fmt.Errorf("sync.master_address is required for client nodes")
	}
	if config.Node.Role == "master" && config.Node.Address == "" {
		return fmt.Errorf("node.address is required for the master node")
	}

	if config.Sync.TimeoutSeconds <= 0 {
		return fmt.Errorf("sync.timeout_seconds must be positive")
	}
	if config.Tracking.SampleIntervalMS < 0 {
		return fmt.Errorf("tracking.sample_interval_ms must not be negative")
	}

	if (config.Tracking.HeadTracker == "") != (config.Tracking.HeadDevice == "") {
		return fmt.Errorf("tracking.head_tracker and tracking.head_device must be set together")
	}

	for _, t := range config.Tracking.Trackers {
		if t.Name == "" {
			return fmt.Errorf("every tracker needs a name")
		}
		for _, d := range t.Devices {
			if d.Name == "" {
				return fmt.Errorf("every device on tracker %q needs a name", t.Name)
			}
		}
	}

	return nil
}

// GetDefaultConfig returns a default configuration
func GetDefaultConfig() *Config {
	setDefaults()

	var config Config
	viper.Unmarshal(&config)

	return &config
}
