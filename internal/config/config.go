// Package config loads and validates the application configuration from a
// YAML file with environment variable overrides via viper.
package config

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/modelwatch/modelwatch/pkg/models"
)

// Retention bounds in days for stored check history
const (
	DefaultRetentionDays = 30
	MinRetentionDays     = 7
	MaxRetentionDays     = 365
)

// Config represents the application configuration
type Config struct {
	Server    ServerConfig            `yaml:"server" mapstructure:"server"`
	Logging   LoggingConfig           `yaml:"logging" mapstructure:"logging"`
	Metrics   MetricsConfig           `yaml:"metrics" mapstructure:"metrics"`
	Storage   StorageConfig           `yaml:"storage" mapstructure:"storage"`
	Polling   PollingConfig           `yaml:"polling" mapstructure:"polling"`
	Providers []models.ProviderConfig `yaml:"providers" mapstructure:"providers"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Port        string   `yaml:"port" mapstructure:"port"`
	Host        string   `yaml:"host" mapstructure:"host"`
	CORSOrigins []string `yaml:"corsOrigins" mapstructure:"corsOrigins"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
	Output string `yaml:"output" mapstructure:"output"`
}

// MetricsConfig contains Prometheus metrics configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Path    string `yaml:"path" mapstructure:"path"`
}

// StorageConfig selects and configures the snapshot store backend
type StorageConfig struct {
	Backend       string         `yaml:"backend" mapstructure:"backend"` // none, badger, postgres
	RetentionDays int            `yaml:"retentionDays" mapstructure:"retentionDays"`
	Badger        BadgerConfig   `yaml:"badger" mapstructure:"badger"`
	Postgres      PostgresConfig `yaml:"postgres" mapstructure:"postgres"`
}

// BadgerConfig configures the embedded BadgerDB backend
type BadgerConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// PostgresConfig configures the remote PostgreSQL telemetry store
type PostgresConfig struct {
	DSN string `yaml:"dsn" mapstructure:"dsn"`
}

// PollingConfig controls the check scheduler
type PollingConfig struct {
	Interval time.Duration `yaml:"interval" mapstructure:"interval"`
}

// LoadConfig loads configuration from file
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	v.SetDefault("server.port", "8787")
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.corsOrigins", []string{"http://localhost:3000"})
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("storage.backend", "badger")
	v.SetDefault("storage.retentionDays", DefaultRetentionDays)
	v.SetDefault("storage.badger.path", "./data")
	v.SetDefault("polling.interval", "60s")

	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/modelwatch")
	}

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	// Custom hook first so provider timeouts decode into models.Duration;
	// the stock hooks keep plain time.Duration and comma-slice fields working.
	decodeHook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		stringToModelDurationHookFunc(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))

	var config Config
	if err := v.Unmarshal(&config, decodeHook); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	config.Storage.RetentionDays = ClampRetentionDays(config.Storage.RetentionDays)

	return &config, nil
}

// stringToModelDurationHookFunc converts duration strings like "20s" (and
// plain nanosecond numbers) into models.Duration during config decoding.
func stringToModelDurationHookFunc() mapstructure.DecodeHookFunc {
	durationType := reflect.TypeOf(models.Duration(0))
	return mapstructure.DecodeHookFuncType(func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != durationType {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			dur, err := time.ParseDuration(v)
			if err != nil {
				return nil, fmt.Errorf("invalid duration string %q: %w", v, err)
			}
			return models.Duration(dur), nil
		case int:
			return models.Duration(v), nil
		case int64:
			return models.Duration(v), nil
		case float64:
			return models.Duration(v), nil
		default:
			return data, nil
		}
	})
}

// ClampRetentionDays bounds a retention value to [MinRetentionDays, MaxRetentionDays],
// substituting the default for non-positive input.
func ClampRetentionDays(days int) int {
	if days <= 0 {
		return DefaultRetentionDays
	}
	if days < MinRetentionDays {
		return MinRetentionDays
	}
	if days > MaxRetentionDays {
		return MaxRetentionDays
	}
	return days
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server.port is required")
	}

	if c.Polling.Interval < time.Second {
		return fmt.Errorf("polling.interval too short (min 1 second): %v", c.Polling.Interval)
	}

	switch c.Storage.Backend {
	case "none", "badger", "postgres":
	default:
		return fmt.Errorf("invalid storage backend: %s (valid options: none, badger, postgres)", c.Storage.Backend)
	}

	if c.Storage.Backend == "postgres" && c.Storage.Postgres.DSN == "" {
		return fmt.Errorf("storage.postgres.dsn is required for the postgres backend")
	}

	ids := make(map[string]bool)
	for _, provider := range c.Providers {
		if provider.ID == "" {
			return fmt.Errorf("provider id is required")
		}
		// ids become storage key segments, ":" is the separator
		if strings.Contains(provider.ID, ":") {
			return fmt.Errorf("provider id must not contain ':': %s", provider.ID)
		}
		if ids[provider.ID] {
			return fmt.Errorf("duplicate provider id: %s", provider.ID)
		}
		ids[provider.ID] = true

		switch provider.Type {
		case models.ProtocolAnthropic, models.ProtocolOpenAI:
		default:
			return fmt.Errorf("provider %s has invalid type: %s", provider.ID, provider.Type)
		}

		if provider.Model == "" {
			return fmt.Errorf("provider %s requires model", provider.ID)
		}
		if provider.APIKey == "" {
			return fmt.Errorf("provider %s requires apiKey", provider.ID)
		}
		if provider.Timeout.ToDuration() < 0 {
			return fmt.Errorf("provider %s has negative timeout: %v", provider.ID, provider.Timeout)
		}
	}

	return nil
}

// EnabledProviders returns the providers that should be polled this cycle,
// including those in maintenance (the scheduler short-circuits them).
func (c *Config) EnabledProviders() []models.ProviderConfig {
	var enabled []models.ProviderConfig
	for _, provider := range c.Providers {
		if provider.IsEnabled() {
			enabled = append(enabled, provider)
		}
	}
	return enabled
}
