// Package config handles client configuration and environment loading.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"tapkit/internal/conn"
)

// DefaultPollInterval paces status requests of async jobs.
const DefaultPollInterval = 500 * time.Millisecond

// Config holds the TAP connection settings read from the environment.
type Config struct {
	// URL, when set, is parsed with conn.ParseURL and wins over Host.
	URL  string
	Host string

	ServerContext    string
	TapContext       string
	UploadContext    string
	TableEditContext string
	DataContext      string
	DatalinkContext  string

	Port    int  // 0 means the protocol default
	SSLPort int  // 0 means 443
	HTTPS   bool // plain http unless set

	ClientID        string        // sent as the tapclient parameter
	PollInterval    time.Duration // async polling pace (default 500ms)
	LogLevel        string        // debug, info, warn, error (default "info")
	UseNamesOverIDs bool          // VOTable column naming

	// Warnings collects non-fatal problems found while loading. The caller
	// logs them once its logger exists.
	Warnings []string
}

// SlogLevel maps the LogLevel string to an slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// HasTarget reports whether a service is configured.
func (c *Config) HasTarget() bool {
	return c.URL != "" || c.Host != ""
}

// ConnConfig converts the settings into a connection config. Context
// variables override the contexts parsed from URL.
func (c *Config) ConnConfig() (conn.Config, error) {
	var cc conn.Config
	switch {
	case c.URL != "":
		parsed, err := conn.ParseURL(c.URL)
		if err != nil {
			return conn.Config{}, err
		}
		cc = parsed
	case c.Host != "":
		cc = conn.Config{Host: c.Host, Port: c.Port, SSLPort: c.SSLPort}
		if c.HTTPS {
			cc.Protocol = "https"
		}
	default:
		return conn.Config{}, fmt.Errorf("neither TAP_URL nor TAP_HOST is set")
	}
	if c.SSLPort != 0 {
		cc.SSLPort = c.SSLPort
	}
	override(&cc.ServerContext, c.ServerContext)
	override(&cc.TapContext, c.TapContext)
	override(&cc.UploadContext, c.UploadContext)
	override(&cc.TableEditContext, c.TableEditContext)
	override(&cc.DataContext, c.DataContext)
	override(&cc.DatalinkContext, c.DatalinkContext)
	return cc, nil
}

func override(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// LoadFromEnv loads configuration from TAP_* environment variables.
// Nothing is required; a missing target is reported by ConnConfig.
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		URL:              os.Getenv("TAP_URL"),
		Host:             os.Getenv("TAP_HOST"),
		ServerContext:    os.Getenv("TAP_SERVER_CONTEXT"),
		TapContext:       os.Getenv("TAP_CONTEXT"),
		UploadContext:    os.Getenv("TAP_UPLOAD_CONTEXT"),
		TableEditContext: os.Getenv("TAP_TABLE_EDIT_CONTEXT"),
		DataContext:      os.Getenv("TAP_DATA_CONTEXT"),
		DatalinkContext:  os.Getenv("TAP_DATALINK_CONTEXT"),
		ClientID:         os.Getenv("TAP_CLIENT_ID"),
		LogLevel:         os.Getenv("TAP_LOG_LEVEL"),
		HTTPS:            parseBoolEnvDefault("TAP_HTTPS", false),
		UseNamesOverIDs:  parseBoolEnvDefault("TAP_USE_NAMES_OVER_IDS", false),
	}

	var err error
	if cfg.Port, err = parsePortEnv("TAP_PORT"); err != nil {
		return nil, err
	}
	if cfg.SSLPort, err = parsePortEnv("TAP_SSL_PORT"); err != nil {
		return nil, err
	}
	if v := os.Getenv("TAP_POLL_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		switch {
		case err != nil:
			cfg.Warnings = append(cfg.Warnings, fmt.Sprintf("TAP_POLL_INTERVAL %q is not a duration, using %s", v, DefaultPollInterval))
		case d <= 0:
			cfg.Warnings = append(cfg.Warnings, fmt.Sprintf("TAP_POLL_INTERVAL must be positive, using %s", DefaultPollInterval))
		default:
			cfg.PollInterval = d
		}
	}

	// Defaults
	if cfg.PollInterval == 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.URL != "" && cfg.Host != "" {
		cfg.Warnings = append(cfg.Warnings, "both TAP_URL and TAP_HOST are set, TAP_HOST is ignored")
	}
	if cfg.URL != "" && (cfg.Port != 0 || cfg.HTTPS) {
		cfg.Warnings = append(cfg.Warnings, "TAP_PORT and TAP_HTTPS are ignored when TAP_URL is set")
	}
	return cfg, nil
}

func parsePortEnv(key string) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 || n > 65535 {
		return 0, fmt.Errorf("%s must be a port number, got %q", key, v)
	}
	return n, nil
}

func parseBoolEnvDefault(key string, defaultVal bool) bool {
	v := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	if v == "" {
		return defaultVal
	}
	if v == "0" || v == "false" || v == "no" || v == "off" {
		return false
	}
	if v == "1" || v == "true" || v == "yes" || v == "on" {
		return true
	}
	return defaultVal
}

// LoadDotEnv reads a .env file and sets any variables not already in the
// environment. A missing file is not an error.
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("stat %s: %w", path, err)
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}
