/*
config.go - Environment-based configuration

PURPOSE:
  Loads server configuration from environment variables, with an optional
  .env file for local development. Every setting has a working default so
  the server starts with zero configuration.

VARIABLES:
  PORT          HTTP server port                  (default: 8080)
  DB_PATH       SQLite database path              (default: reports.db)
                Use ":memory:" for an in-memory database
  CATALOG_PATH  YAML catalog file; empty uses the built-in catalog
  CRON_SPEC     Monthly sweep schedule; empty disables the scheduler
                (default: "0 2 1 * *", 02:00 on the 1st)
  LOG_LEVEL     logrus level name                 (default: info)
  LOG_FORMAT    "json" or "text"                  (default: text)

SEE ALSO:
  - cmd/server/main.go: The only consumer
*/
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// Config holds all server settings.
type Config struct {
	Port        int
	DBPath      string
	CatalogPath string
	CronSpec    string
	LogLevel    logrus.Level
	LogFormat   string
}

// Load reads configuration from the environment. A .env file in the working
// directory is loaded first when present; real environment variables win.
func Load() (*Config, error) {
	_ = godotenv.Load() // missing .env is fine

	cfg := &Config{
		Port:        8080,
		DBPath:      "reports.db",
		CatalogPath: os.Getenv("CATALOG_PATH"),
		CronSpec:    "0 2 1 * *",
		LogLevel:    logrus.InfoLevel,
		LogFormat:   "text",
	}

	if v := os.Getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil || port < 1 || port > 65535 {
			return nil, fmt.Errorf("invalid PORT %q", v)
		}
		cfg.Port = port
	}
	if v := os.Getenv("DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v, ok := os.LookupEnv("CRON_SPEC"); ok {
		cfg.CronSpec = v // explicitly empty disables the scheduler
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		level, err := logrus.ParseLevel(v)
		if err != nil {
			return nil, fmt.Errorf("invalid LOG_LEVEL %q: %w", v, err)
		}
		cfg.LogLevel = level
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		if v != "json" && v != "text" {
			return nil, fmt.Errorf("invalid LOG_FORMAT %q (use json or text)", v)
		}
		cfg.LogFormat = v
	}
	return cfg, nil
}

// Logger builds a logrus logger per the configuration.
func (c *Config) Logger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(c.LogLevel)
	if c.LogFormat == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	}
	return log
}
