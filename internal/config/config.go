package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the dqrunner server.
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	Check      CheckConfig
	Validation ValidationConfig
}

type ServerConfig struct {
	Port               int
	Env                string
	RateLimitPerMinute int
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL string
}

// CheckConfig bounds the synchronous checks run against source and target databases.
type CheckConfig struct {
	Timeout         time.Duration
	ConnectTimeout  time.Duration
	BreakerFailures int
	BreakerCooldown time.Duration
}

// ValidationConfig selects and configures the data-validation job launcher.
type ValidationConfig struct {
	Launcher        string
	Timeout         time.Duration
	SampleRows      int
	GlueJobName     string
	AWSRegion       string
	CallbackBaseURL string
}

var validLaunchers = map[string]bool{
	"local": true,
	"glue":  true,
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:               envInt("DQRUNNER_PORT", 8080),
			Env:                envString("DQRUNNER_ENV", "development"),
			RateLimitPerMinute: envInt("RATE_LIMIT_PER_MINUTE", 60),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Check: CheckConfig{
			Timeout:         envDuration("CHECK_TIMEOUT", 5*time.Minute),
			ConnectTimeout:  envDuration("CHECK_CONNECT_TIMEOUT", 10*time.Second),
			BreakerFailures: envInt("CHECK_BREAKER_FAILURES", 5),
			BreakerCooldown: envDuration("CHECK_BREAKER_COOLDOWN", 30*time.Second),
		},
		Validation: ValidationConfig{
			Launcher:        envString("VALIDATION_LAUNCHER", "local"),
			Timeout:         envDuration("VALIDATION_TIMEOUT", 30*time.Minute),
			SampleRows:      envInt("VALIDATION_SAMPLE_ROWS", 100),
			GlueJobName:     os.Getenv("GLUE_JOB_NAME"),
			AWSRegion:       os.Getenv("AWS_REGION"),
			CallbackBaseURL: os.Getenv("CALLBACK_BASE_URL"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.Check.Timeout <= 0 {
		return fmt.Errorf("CHECK_TIMEOUT must be positive, got %s", c.Check.Timeout)
	}

	if !validLaunchers[c.Validation.Launcher] {
		return fmt.Errorf("VALIDATION_LAUNCHER must be one of local, glue; got %q", c.Validation.Launcher)
	}
	if c.Validation.SampleRows < 0 {
		return fmt.Errorf("VALIDATION_SAMPLE_ROWS must not be negative, got %d", c.Validation.SampleRows)
	}

	if c.Validation.Launcher == "glue" {
		if c.Validation.GlueJobName == "" {
			return fmt.Errorf("GLUE_JOB_NAME is required when VALIDATION_LAUNCHER is glue")
		}
		if c.Validation.CallbackBaseURL == "" {
			return fmt.Errorf("CALLBACK_BASE_URL is required when VALIDATION_LAUNCHER is glue")
		}
		if !strings.HasPrefix(c.Validation.CallbackBaseURL, "http://") && !strings.HasPrefix(c.Validation.CallbackBaseURL, "https://") {
			return fmt.Errorf("CALLBACK_BASE_URL must start with http:// or https://, got %q", c.Validation.CallbackBaseURL)
		}
	}

	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
