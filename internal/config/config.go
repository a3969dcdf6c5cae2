package config

import (
	"net"
	"net/url"
	"os"
	"time"

	"github.com/apexai/nexus/pkg/service"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

const DefaultPort = "8080"

// Config is the process configuration read from the environment.
type Config struct {
	Port          string
	DatabaseURL   string // empty selects the in-memory store
	LogLevel      string
	PollInterval  time.Duration
	RetryInterval time.Duration
	BatchDelay    time.Duration
	ProxyTimeout  time.Duration // zero means no timeout
}

// Load reads .env when present, then the process environment.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from getenv.
func FromEnv(getenv func(string) string) (*Config, error) {
	cfg := &Config{
		Port:        getenv("PORT"),
		DatabaseURL: DatabaseURL(getenv),
		LogLevel:    getenv("LOG_LEVEL"),
	}
	if cfg.Port == "" {
		cfg.Port = DefaultPort
	}

	durations := []struct {
		key  string
		dest *time.Duration
		def  time.Duration
	}{
		{"NEXUS_POLL_INTERVAL", &cfg.PollInterval, service.DefaultPollInterval},
		{"NEXUS_RETRY_INTERVAL", &cfg.RetryInterval, service.DefaultRetryInterval},
		{"NEXUS_BATCH_DELAY", &cfg.BatchDelay, service.DefaultBatchDelay},
		{"NEXUS_PROXY_TIMEOUT", &cfg.ProxyTimeout, 0},
	}
	for _, d := range durations {
		raw := getenv(d.key)
		if raw == "" {
			*d.dest = d.def
			continue
		}
		v, err := time.ParseDuration(raw)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid %s", d.key)
		}
		if v < 0 {
			return nil, errors.Errorf("invalid %s: must not be negative", d.key)
		}
		*d.dest = v
	}
	return cfg, nil
}

// DatabaseURL returns DATABASE_URL, or a URL assembled from the DB_* variables
// when all of them are set, or "".
func DatabaseURL(getenv func(string) string) string {
	if dsn := getenv("DATABASE_URL"); dsn != "" {
		return dsn
	}
	dbUsername := getenv("DB_USERNAME")
	dbPassword := getenv("DB_PASSWORD")
	dbHost := getenv("DB_HOST")
	dbPort := getenv("DB_PORT")
	dbName := getenv("DB_NAME")
	if dbUsername == "" || dbPassword == "" || dbHost == "" || dbPort == "" || dbName == "" {
		return ""
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(dbUsername, dbPassword),
		Host:     net.JoinHostPort(dbHost, dbPort),
		Path:     "/" + dbName,
		RawQuery: "sslmode=disable",
	}
	return u.String()
}
