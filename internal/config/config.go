// Package config loads and validates the application configuration using Viper.
//
// Configuration is layered: built-in defaults < YAML config file < environment
// variables. Environment variables use the KDA_ prefix (e.g., KDA_DATABASE_HOST
// overrides database.host in the YAML). This layering allows the same binary to
// run with a config.yaml in local development and with pure environment variables
// in containerized deployments.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Credentials   CredentialsConfig   `mapstructure:"credentials"`
	Security      SecurityConfig      `mapstructure:"security"`
	Logging       LoggingConfig       `mapstructure:"logging"`
	Telemetry     TelemetryConfig     `mapstructure:"telemetry"`
	Notifications NotificationsConfig `mapstructure:"notifications"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	BaseURL      string        `mapstructure:"base_url"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	Host               string `mapstructure:"host"`
	Port               int    `mapstructure:"port"`
	Name               string `mapstructure:"name"`
	User               string `mapstructure:"user"`
	Password           string `mapstructure:"password"`
	SSLMode            string `mapstructure:"ssl_mode"`
	MaxConnections     int    `mapstructure:"max_connections"`
	MinIdleConnections int    `mapstructure:"min_idle_connections"`
}

// RedisConfig holds the connection settings for the Redis instance that
// backs the pending-verification marker store.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// CredentialsConfig holds the API credential lifecycle and admission settings.
// The defaults are the documented service constants; they are configurable so
// tests and staging environments can tighten or relax them.
type CredentialsConfig struct {
	// MinuteLimit is the per-key request cap for the one-minute window.
	MinuteLimit int `mapstructure:"minute_limit"`
	// DayLimit is the per-key request cap for the one-day window.
	DayLimit int `mapstructure:"day_limit"`
	// InactivityDays is how long a key may go unused before it is deleted.
	InactivityDays int `mapstructure:"inactivity_days"`
	// ChallengeValidity is how long an emailed verification code stays valid.
	ChallengeValidity time.Duration `mapstructure:"challenge_validity"`
	// SweepIntervalHours controls how often the inactivity sweeper runs.
	SweepIntervalHours int `mapstructure:"sweep_interval_hours"`
}

// InactivityThreshold returns the inactivity window as a duration.
func (c *CredentialsConfig) InactivityThreshold() time.Duration {
	return time.Duration(c.InactivityDays) * 24 * time.Hour
}

// SecurityConfig holds TLS, CORS, and session settings
type SecurityConfig struct {
	TLS  TLSConfig  `mapstructure:"tls"`
	CORS CORSConfig `mapstructure:"cors"`
	// SessionSecret signs the admin session JWTs accepted by the
	// key-or-session gate strategy. May reference an env var as ${VAR}.
	SessionSecret string `mapstructure:"session_secret"`
}

// CORSConfig holds CORS configuration
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// TLSConfig holds TLS listener configuration
type TLSConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	CertFile string `mapstructure:"cert_file"`
	KeyFile  string `mapstructure:"key_file"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// TelemetryConfig holds metrics configuration
type TelemetryConfig struct {
	MetricsEnabled bool `mapstructure:"metrics_enabled"`
	PrometheusPort int  `mapstructure:"prometheus_port"`
}

// NotificationsConfig holds outbound email configuration
type NotificationsConfig struct {
	Enabled bool       `mapstructure:"enabled"`
	SMTP    SMTPConfig `mapstructure:"smtp"`
}

// SMTPConfig holds the SMTP relay settings used by the notifier
type SMTPConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
	UseTLS   bool   `mapstructure:"use_tls"`
}

// bindEnvVars explicitly binds environment variables for nested keys.
// AutomaticEnv() alone does not surface nested keys through Unmarshal().
func bindEnvVars(v *viper.Viper) error {
	keys := []string{
		"server.host",
		"server.port",
		"server.base_url",
		"server.read_timeout",
		"server.write_timeout",

		"database.host",
		"database.port",
		"database.name",
		"database.user",
		"database.password",
		"database.ssl_mode",
		"database.max_connections",
		"database.min_idle_connections",

		"redis.addr",
		"redis.password",
		"redis.db",

		"credentials.minute_limit",
		"credentials.day_limit",
		"credentials.inactivity_days",
		"credentials.challenge_validity",
		"credentials.sweep_interval_hours",

		"security.tls.enabled",
		"security.tls.cert_file",
		"security.tls.key_file",
		"security.cors.allowed_origins",
		"security.session_secret",

		"logging.level",
		"logging.format",

		"telemetry.metrics_enabled",
		"telemetry.prometheus_port",

		"notifications.enabled",
		"notifications.smtp.host",
		"notifications.smtp.port",
		"notifications.smtp.username",
		"notifications.smtp.password",
		"notifications.smtp.from",
		"notifications.smtp.use_tls",
	}
	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			return fmt.Errorf("failed to bind env var %q: %w", key, err)
		}
	}
	return nil
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/kumasi-data-api")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; use defaults and environment variables
	}

	v.SetEnvPrefix("KDA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := bindEnvVars(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Expand ${VAR} references in sensitive fields
	cfg.Database.Password = os.ExpandEnv(cfg.Database.Password)
	cfg.Redis.Password = os.ExpandEnv(cfg.Redis.Password)
	cfg.Security.SessionSecret = os.ExpandEnv(cfg.Security.SessionSecret)
	cfg.Notifications.SMTP.Password = os.ExpandEnv(cfg.Notifications.SMTP.Password)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.base_url", "http://localhost:8080")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "kumasi_data")
	v.SetDefault("database.user", "kumasi")
	v.SetDefault("database.ssl_mode", "require")
	v.SetDefault("database.max_connections", 25)
	v.SetDefault("database.min_idle_connections", 5)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)

	v.SetDefault("credentials.minute_limit", 20)
	v.SetDefault("credentials.day_limit", 250)
	v.SetDefault("credentials.inactivity_days", 365)
	v.SetDefault("credentials.challenge_validity", "10m")
	v.SetDefault("credentials.sweep_interval_hours", 24)

	v.SetDefault("security.tls.enabled", false)
	v.SetDefault("security.cors.allowed_origins", []string{})

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("telemetry.metrics_enabled", true)
	v.SetDefault("telemetry.prometheus_port", 9090)

	v.SetDefault("notifications.enabled", false)
	v.SetDefault("notifications.smtp.port", 587)
	v.SetDefault("notifications.smtp.use_tls", true)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.BaseURL == "" {
		return fmt.Errorf("server.base_url is required")
	}

	if c.Database.Host == "" {
		return fmt.Errorf("database.host is required")
	}
	if c.Database.Name == "" {
		return fmt.Errorf("database.name is required")
	}
	if c.Database.User == "" {
		return fmt.Errorf("database.user is required")
	}

	if c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required")
	}

	if c.Credentials.MinuteLimit < 1 {
		return fmt.Errorf("credentials.minute_limit must be positive, got %d", c.Credentials.MinuteLimit)
	}
	if c.Credentials.DayLimit < 1 {
		return fmt.Errorf("credentials.day_limit must be positive, got %d", c.Credentials.DayLimit)
	}
	if c.Credentials.InactivityDays < 1 {
		return fmt.Errorf("credentials.inactivity_days must be positive, got %d", c.Credentials.InactivityDays)
	}
	if c.Credentials.ChallengeValidity <= 0 {
		return fmt.Errorf("credentials.challenge_validity must be positive, got %v", c.Credentials.ChallengeValidity)
	}

	if c.Security.TLS.Enabled {
		if c.Security.TLS.CertFile == "" {
			return fmt.Errorf("security.tls.cert_file is required when TLS is enabled")
		}
		if c.Security.TLS.KeyFile == "" {
			return fmt.Errorf("security.tls.key_file is required when TLS is enabled")
		}
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	if c.Notifications.Enabled {
		if c.Notifications.SMTP.Host == "" {
			return fmt.Errorf("notifications.smtp.host is required when notifications are enabled")
		}
		if c.Notifications.SMTP.From == "" {
			return fmt.Errorf("notifications.smtp.from is required when notifications are enabled")
		}
	}

	return nil
}

// GetDSN returns the PostgreSQL connection string
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// GetAddress returns the server address in host:port format
func (c *ServerConfig) GetAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
