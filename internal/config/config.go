package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server   ServerConfig
	Runner   RunnerConfig
	Browser  BrowserConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Captcha  CaptchaConfig
	Logging  LoggingConfig
}

type ServerConfig struct {
	Port            string
	Host            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

type RunnerConfig struct {
	MaxRetries       int
	BackoffBase      time.Duration
	Workers          int
	RunTimeout       time.Duration
	SelectorWait     time.Duration
	Precision        int
	HumanizeMinDelay time.Duration
	HumanizeMaxDelay time.Duration
	StatusRetention  time.Duration
}

type BrowserConfig struct {
	Headless         bool
	Timeout          time.Duration
	ViewportWidth    int
	ViewportHeight   int
	AcceptLanguage   string
	TimezoneID       string
	Locale           string
	UserAgents       []string
	FailureThreshold int
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type CaptchaConfig struct {
	APIKey       string
	BaseURL      string
	PollInterval time.Duration
	Timeout      time.Duration
}

type LoggingConfig struct {
	Level  string
	Format string
}

func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnvOrDefault("SERVER_PORT", "8080"),
			Host:            getEnvOrDefault("SERVER_HOST", "0.0.0.0"),
			ReadTimeout:     getDurationOrDefault("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getDurationOrDefault("SERVER_WRITE_TIMEOUT", 120*time.Second),
			ShutdownTimeout: getDurationOrDefault("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Runner: RunnerConfig{
			MaxRetries:       getIntOrDefault("RUNNER_MAX_RETRIES", 3),
			BackoffBase:      getDurationOrDefault("RUNNER_BACKOFF_BASE", 500*time.Millisecond),
			Workers:          getIntOrDefault("RUNNER_WORKERS", 3),
			RunTimeout:       getDurationOrDefault("RUNNER_RUN_TIMEOUT", 3*time.Minute),
			SelectorWait:     getDurationOrDefault("RUNNER_SELECTOR_WAIT", 5*time.Second),
			Precision:        getIntOrDefault("RUNNER_PRECISION", 2),
			HumanizeMinDelay: getDurationOrDefault("RUNNER_HUMANIZE_MIN", 200*time.Millisecond),
			HumanizeMaxDelay: getDurationOrDefault("RUNNER_HUMANIZE_MAX", 800*time.Millisecond),
			StatusRetention:  getDurationOrDefault("RUNNER_STATUS_RETENTION", 5*time.Minute),
		},
		Browser: BrowserConfig{
			Headless:         getBoolOrDefault("BROWSER_HEADLESS", true),
			Timeout:          getDurationOrDefault("BROWSER_TIMEOUT", 30*time.Second),
			ViewportWidth:    getIntOrDefault("BROWSER_VIEWPORT_WIDTH", 1920),
			ViewportHeight:   getIntOrDefault("BROWSER_VIEWPORT_HEIGHT", 1080),
			AcceptLanguage:   getEnvOrDefault("BROWSER_ACCEPT_LANGUAGE", "nl-NL,nl;q=0.9,en;q=0.8"),
			TimezoneID:       getEnvOrDefault("BROWSER_TIMEZONE", "Europe/Amsterdam"),
			Locale:           getEnvOrDefault("BROWSER_LOCALE", "nl-NL"),
			UserAgents:       getStringSliceOrDefault("BROWSER_USER_AGENTS", nil),
			FailureThreshold: getIntOrDefault("BROWSER_FAILURE_THRESHOLD", 2),
		},
		Database: DatabaseConfig{
			Host:     getEnvOrDefault("DB_HOST", "localhost"),
			Port:     getIntOrDefault("DB_PORT", 5432),
			User:     getEnvOrDefault("DB_USER", "postgres"),
			Password: getEnvOrDefault("DB_PASSWORD", ""),
			DBName:   getEnvOrDefault("DB_NAME", "price_scraper"),
			SSLMode:  getEnvOrDefault("DB_SSL_MODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:     getEnvOrDefault("REDIS_ADDR", "localhost:6379"),
			Password: getEnvOrDefault("REDIS_PASSWORD", ""),
			DB:       getIntOrDefault("REDIS_DB", 0),
		},
		Captcha: CaptchaConfig{
			APIKey:       getEnvOrDefault("CAPTCHA_API_KEY", ""),
			BaseURL:      getEnvOrDefault("CAPTCHA_BASE_URL", "https://2captcha.com"),
			PollInterval: getDurationOrDefault("CAPTCHA_POLL_INTERVAL", 5*time.Second),
			Timeout:      getDurationOrDefault("CAPTCHA_TIMEOUT", 120*time.Second),
		},
		Logging: LoggingConfig{
			Level:  getEnvOrDefault("LOG_LEVEL", "info"),
			Format: getEnvOrDefault("LOG_FORMAT", "json"),
		},
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Runner.Workers < 1 {
		return fmt.Errorf("RUNNER_WORKERS must be at least 1")
	}

	if c.Runner.MaxRetries < 0 {
		return fmt.Errorf("RUNNER_MAX_RETRIES cannot be negative")
	}

	if c.Runner.HumanizeMinDelay > c.Runner.HumanizeMaxDelay {
		return fmt.Errorf("RUNNER_HUMANIZE_MIN cannot be greater than RUNNER_HUMANIZE_MAX")
	}

	if c.Browser.FailureThreshold < 1 {
		return fmt.Errorf("BROWSER_FAILURE_THRESHOLD must be at least 1")
	}

	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getStringSliceOrDefault(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		return strings.Split(value, ",")
	}
	return defaultValue
}
