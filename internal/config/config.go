package config

import (
	"os"
	"strconv"
	"time"

	"github.com/spf13/pflag"
)

// Config holds the process-level configuration. Runtime monitoring settings
// (interval, threshold, channels) live in the settings store instead.
type Config struct {
	DatabaseDriver    string
	DatabaseURL       string
	HTTPPort          string
	ProbeTimeout      time.Duration
	ProbeDelay        time.Duration
	ProbeConcurrency  int
	ShutdownGrace     time.Duration
	RetentionDays     int
	RetentionTimeout  time.Duration
	RestoreAlertState bool
	SettingsFile      string
	LogLevel          string
	LogFormat         string
}

// Load loads configuration from environment variables with sane defaults.
func Load() *Config {
	return &Config{
		DatabaseDriver:    getEnv("DATABASE_DRIVER", "sqlite"),
		DatabaseURL:       getEnv("DATABASE_URL", "domainwatch.db"),
		HTTPPort:          getEnv("HTTP_PORT", "8080"),
		ProbeTimeout:      getEnvDuration("PROBE_TIMEOUT", 10*time.Second),
		ProbeDelay:        getEnvDuration("PROBE_DELAY", 500*time.Millisecond),
		ProbeConcurrency:  getEnvInt("PROBE_CONCURRENCY", 1),
		ShutdownGrace:     getEnvDuration("SHUTDOWN_GRACE", 10*time.Second),
		RetentionDays:     getEnvInt("RETENTION_DAYS", 90),
		RetentionTimeout:  getEnvDuration("RETENTION_TIMEOUT", 30*time.Second),
		RestoreAlertState: getEnvBool("RESTORE_ALERT_STATE", true),
		SettingsFile:      getEnv("SETTINGS_FILE", ""),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		LogFormat:         getEnv("LOG_FORMAT", "json"),
	}
}

// BindFlags registers command-line overrides for every field, using the
// current values as defaults.
func (c *Config) BindFlags(fs *pflag.FlagSet) {
	fs.StringVar(&c.DatabaseDriver, "db-driver", c.DatabaseDriver, "database driver: sqlite or postgres")
	fs.StringVar(&c.DatabaseURL, "db", c.DatabaseURL, "sqlite file path or postgres connection string")
	fs.StringVarP(&c.HTTPPort, "port", "p", c.HTTPPort, "HTTP listen port")
	fs.DurationVar(&c.ProbeTimeout, "probe-timeout", c.ProbeTimeout, "timeout of each probe attempt")
	fs.DurationVar(&c.ProbeDelay, "probe-delay", c.ProbeDelay, "delay between probes within a pass")
	fs.IntVar(&c.ProbeConcurrency, "probe-concurrency", c.ProbeConcurrency, "number of endpoints probed in parallel")
	fs.DurationVar(&c.ShutdownGrace, "shutdown-grace", c.ShutdownGrace, "time allowed for graceful shutdown")
	fs.IntVar(&c.RetentionDays, "retention-days", c.RetentionDays, "days of check history to keep (0 keeps everything)")
	fs.DurationVar(&c.RetentionTimeout, "retention-timeout", c.RetentionTimeout, "time limit of one retention sweep")
	fs.BoolVar(&c.RestoreAlertState, "restore-alert-state", c.RestoreAlertState, "rebuild alert state from stored checks on startup")
	fs.StringVar(&c.SettingsFile, "settings", c.SettingsFile, "YAML file of settings to seed into the settings store")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "log level: debug, info, warn or error")
	fs.StringVar(&c.LogFormat, "log-format", c.LogFormat, "log format: json or console")
}

// Helper function to get an environment variable or return a default value.
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

// Helper function to get an environment variable as an integer.
func getEnvInt(key string, fallback int) int {
	if valueStr, exists := os.LookupEnv(key); exists {
		if value, err := strconv.Atoi(valueStr); err == nil {
			return value
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if valueStr, exists := os.LookupEnv(key); exists {
		if value, err := strconv.ParseBool(valueStr); err == nil {
			return value
		}
	}
	return fallback
}

// Helper function to get an environment variable as a time.Duration.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if valueStr, exists := os.LookupEnv(key); exists {
		if value, err := time.ParseDuration(valueStr); err == nil {
			return value
		}
	}
	return fallback
}
