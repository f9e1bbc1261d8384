package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config holds all configuration for the toolkit.
type Config struct {
	Transport TransportConfig `mapstructure:"transport"`
	Discovery DiscoveryConfig `mapstructure:"discovery"`
	Bridge    BridgeConfig    `mapstructure:"bridge"`
	Rescan    RescanConfig    `mapstructure:"rescan"`
	Logger    LoggerConfig    `mapstructure:"logger"`
}

// TransportConfig contains the Transport Manager's serial and TCP defaults.
type TransportConfig struct {
	DefaultBaudRate int    `mapstructure:"default_baud_rate"`
	DefaultParity   string `mapstructure:"default_parity"`
	DefaultDataBits int    `mapstructure:"default_data_bits"`
	DefaultStopBits int    `mapstructure:"default_stop_bits"`
	DialTimeoutMS   int    `mapstructure:"dial_timeout_ms"`
	MaxRetries      int    `mapstructure:"max_retries"`
}

// DiscoveryConfig contains the Parameter Generator's and Discovery
// Scanner's defaults.
type DiscoveryConfig struct {
	Strategy      string `mapstructure:"strategy"` // quick, thorough
	TimeoutMS     int    `mapstructure:"timeout_ms"`
	DelayMS       int    `mapstructure:"delay_ms"`
	MaxDevices    int    `mapstructure:"max_devices"`
	AddressRngMin int    `mapstructure:"address_range_min"`
	AddressRngMax int    `mapstructure:"address_range_max"`
}

// BridgeConfig contains the MQTT bridge's connection settings.
type BridgeConfig struct {
	BrokerURL    string `mapstructure:"broker_url"`
	TopicPrefix  string `mapstructure:"topic_prefix"`
	QoS          byte   `mapstructure:"qos"`
	ClientID     string `mapstructure:"client_id"`
	ConnectRetry int    `mapstructure:"connect_retry"`
}

// RescanConfig contains the periodic rescan scheduler's settings.
type RescanConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Cron    string `mapstructure:"cron"`
}

// LoggerConfig contains logging settings.
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	LogDir     string `mapstructure:"log_dir"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

const envPrefix = "MODBUSTK"

// Load reads configuration from file and environment variables, falling
// back to defaults for anything neither sets.
func Load(configPath string) (*Config, error) {
	v := newViper(configPath)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func newViper(configPath string) *viper.Viper {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
		v.AddConfigPath(getConfigDir())
	}

	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	return v
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("transport.default_baud_rate", 9600)
	v.SetDefault("transport.default_parity", "none")
	v.SetDefault("transport.default_data_bits", 8)
	v.SetDefault("transport.default_stop_bits", 1)
	v.SetDefault("transport.dial_timeout_ms", 5000)
	v.SetDefault("transport.max_retries", 3)

	v.SetDefault("discovery.strategy", "quick")
	v.SetDefault("discovery.timeout_ms", 500)
	v.SetDefault("discovery.delay_ms", 100)
	v.SetDefault("discovery.max_devices", 1)
	v.SetDefault("discovery.address_range_min", 1)
	v.SetDefault("discovery.address_range_max", 247)

	v.SetDefault("bridge.broker_url", "tcp://localhost:1883")
	v.SetDefault("bridge.topic_prefix", "modbus")
	v.SetDefault("bridge.qos", 0)
	v.SetDefault("bridge.client_id", "modbus-toolkit")
	v.SetDefault("bridge.connect_retry", 3)

	v.SetDefault("rescan.enabled", false)
	v.SetDefault("rescan.cron", "0 */6 * * *")

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.log_dir", "./logs")
	v.SetDefault("logger.max_size_mb", 50)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age_days", 7)
	v.SetDefault("logger.compress", true)
}

// Watch reads the config file once, returning its contents, then invokes
// onChange with the reloaded Config every time the underlying file changes
// on disk. Config has no supported_config/default_config driver
// restriction section, and Watch does not alter a scan already in
// progress; applying a reloaded Config is left to onChange.
func Watch(configPath string, onChange func(*Config)) (*Config, error) {
	v := newViper(configPath)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		var reloaded Config
		if err := v.Unmarshal(&reloaded); err != nil {
			return
		}
		onChange(&reloaded)
	})
	v.WatchConfig()

	return &cfg, nil
}

func getConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".modbus-toolkit")
}
