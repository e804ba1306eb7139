/*
Package config loads server configuration.

SOURCES (later wins):
  1. Defaults (setDefaults)
  2. leave-engine.yaml in ./config or /etc/leave-engine
  3. Environment variables with the LEAVE_ prefix, dots replaced by
     underscores: LEAVE_SERVER_PORT, LEAVE_DATABASE_PATH,
     LEAVE_RABBITMQ_URL, ...

  cmd/server loads a .env file (godotenv) before calling Load, so .env
  entries behave like environment variables.

SEE ALSO:
  - cmd/server/main.go: Consumer of Config
*/
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvStaging     = "staging"
	EnvProduction  = "production"
)

// Config holds all configuration for the application
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	RabbitMQ  RabbitMQConfig  `mapstructure:"rabbitmq"`
	Policies  PoliciesConfig  `mapstructure:"policies"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	Host            string        `mapstructure:"host"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	Environment     string        `mapstructure:"environment"`
	LogLevel        string        `mapstructure:"log_level"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
}

// Addr is host:port for http.Server.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type DatabaseConfig struct {
	// Path is the SQLite file; ":memory:" keeps everything in process.
	Path string `mapstructure:"path"`
}

// SchedulerConfig drives the periodic accrual refresh.
type SchedulerConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
}

// RabbitMQConfig enables balance-change publishing when URL is set.
type RabbitMQConfig struct {
	URL      string `mapstructure:"url"`
	Exchange string `mapstructure:"exchange"`
}

func (c RabbitMQConfig) Enabled() bool { return c.URL != "" }

// PoliciesConfig seeds tenants with policies at startup.
type PoliciesConfig struct {
	// SeedFile is a JSON policy file; empty uses the bundled preset.
	SeedFile string `mapstructure:"seed_file"`
	// Preset names a bundled seed ("nes").
	Preset string `mapstructure:"preset"`
	// Tenants to seed when they have no policies yet.
	Tenants []string `mapstructure:"tenants"`
}

// Load reads configuration from defaults, an optional config file and the
// environment, then validates it.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("LEAVE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("leave-engine")
	v.SetConfigType("yaml")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/leave-engine")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.read_timeout", 15*time.Second)
	// Long enough for a version long-poll.
	v.SetDefault("server.write_timeout", 65*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)
	v.SetDefault("server.environment", EnvDevelopment)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.allowed_origins", []string{"http://localhost:3000", "http://localhost:5173"})

	v.SetDefault("database.path", "leave.db")

	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.interval", time.Hour)

	v.SetDefault("rabbitmq.url", "")
	v.SetDefault("rabbitmq.exchange", "leave.events")

	v.SetDefault("policies.seed_file", "")
	v.SetDefault("policies.preset", "nes")
	v.SetDefault("policies.tenants", []string{})
}

// Validate fails fast on values the server cannot run with.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	switch c.Server.Environment {
	case EnvDevelopment, EnvStaging, EnvProduction:
	default:
		return fmt.Errorf("server.environment %q must be development, staging or production", c.Server.Environment)
	}
	if c.Database.Path == "" {
		return errors.New("database.path is required")
	}
	if c.Scheduler.Enabled && c.Scheduler.Interval < time.Second {
		return fmt.Errorf("scheduler.interval %s is too short", c.Scheduler.Interval)
	}
	if c.RabbitMQ.Enabled() && c.RabbitMQ.Exchange == "" {
		return errors.New("rabbitmq.exchange is required when rabbitmq.url is set")
	}
	if c.Server.Environment == EnvProduction && c.Database.Path == ":memory:" {
		return errors.New("in-memory database not allowed in production - set LEAVE_DATABASE_PATH")
	}
	return nil
}
