package config

import (
	"github.com/spf13/viper"
)

// Config holds all configuration for the service.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Telemetry TelemetryConfig
	Notifier  NotifierConfig
	RateLimit RateLimitConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port string
}

// DatabaseConfig holds storage configuration. An empty URL selects the
// in-memory stores (local runs and tests).
type DatabaseConfig struct {
	URL string
}

// TelemetryConfig holds OpenTelemetry exporter configuration.
type TelemetryConfig struct {
	Enabled     bool
	Endpoint    string
	ServiceName string
	Insecure    bool
}

// NotifierConfig holds the tier-change notification collaborator endpoint.
// Empty means notifications are disabled.
type NotifierConfig struct {
	URL string
}

// RateLimitConfig bounds the write path.
type RateLimitConfig struct {
	PerSecond float64
	Burst     int
}

// Load reads configuration from a yaml file and environment variables.
func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.SetEnvPrefix("memberledger")
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		// Missing config file is fine, environment variables cover it.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}
	return &config, nil
}

func setDefaults() {
	viper.SetDefault("Server.Port", "8080")
	viper.SetDefault("Database.URL", "")
	viper.SetDefault("Telemetry.Enabled", false)
	viper.SetDefault("Telemetry.Endpoint", "localhost:4318")
	viper.SetDefault("Telemetry.ServiceName", "memberledger")
	viper.SetDefault("Telemetry.Insecure", true)
	viper.SetDefault("Notifier.URL", "")
	viper.SetDefault("RateLimit.PerSecond", 100.0)
	viper.SetDefault("RateLimit.Burst", 200)
}
