// Package config loads the entrystore server configuration from CLI flags
// and environment variables, validates it, and fills in defaults.
//
// Flags choose the storage mode (--db, --test) and listen address (--addr).
// Everything else, including secrets, comes from the environment.
package config

import (
	"errors"
	"flag"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/kuitang/entrystore/internal/crypto"
	"github.com/kuitang/entrystore/internal/db"
	"github.com/kuitang/entrystore/internal/ratelimit"
)

const (
	defaultListenAddr    = ":8080"
	defaultDatabasePath  = "database.db"
	defaultManifestPath  = "ai-plugin.json"
	defaultS3Region      = "auto"
	defaultShutdownDelay = 10 * time.Second
)

// Flags holds values parsed from the command line.
type Flags struct {
	Addr   string // overrides LISTEN_ADDR when non-empty
	DBPath string // overrides DATABASE_PATH when non-empty
	Test   bool   // in-memory SQLite, manifest from disk only
}

// Config holds all application configuration.
type Config struct {
	ListenAddr      string
	ShutdownTimeout time.Duration
	LogLevel        string

	// Storage. DatabaseURL selects Postgres; otherwise SQLite at DatabasePath.
	DatabaseURL  string
	DatabasePath string
	DatabaseKey  string // optional master key, 64 hex characters
	TestMode     bool

	// Plugin manifest. ManifestS3Key, when set, takes precedence over the file.
	ManifestPath  string
	ManifestS3Key string

	RateLimitConfig ratelimit.Config

	// S3 (AWS_ env vars, as set by `fly storage create`)
	AWSEndpointS3      string // AWS_ENDPOINT_URL_S3
	AWSRegion          string // AWS_REGION
	AWSAccessKeyID     string // AWS_ACCESS_KEY_ID
	AWSSecretAccessKey string // AWS_SECRET_ACCESS_KEY
	AWSBucketName      string // BUCKET_NAME
}

// ValidationError represents a configuration validation error with multiple issues.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("configuration validation failed:\n  - %s", strings.Join(e.Errors, "\n  - "))
}

// ParseFlags parses CLI flags and returns them. Call before LoadConfig.
func ParseFlags() Flags {
	return parseFlags(flag.CommandLine, os.Args[1:])
}

func parseFlags(fs *flag.FlagSet, args []string) Flags {
	var f Flags
	fs.StringVar(&f.Addr, "addr", "", "Listen address (default :8080, overrides LISTEN_ADDR env var)")
	fs.StringVar(&f.DBPath, "db", "", "SQLite database path (overrides DATABASE_PATH env var)")
	fs.BoolVar(&f.Test, "test", false, "Use an in-memory SQLite database and skip S3")
	// ExitOnError flag sets never return an error here.
	_ = fs.Parse(args)
	return f
}

// LoadConfig loads configuration from environment variables and CLI flag values.
// Malformed numbers and durations are reported alongside Validate's findings.
func LoadConfig(f Flags) (*Config, error) {
	cfg := &Config{TestMode: f.Test}
	var problems []string

	cfg.ListenAddr = getEnvOrDefault("LISTEN_ADDR", defaultListenAddr)
	if f.Addr != "" {
		cfg.ListenAddr = f.Addr
	}
	cfg.ShutdownTimeout = parseDurationOrDefault("SHUTDOWN_TIMEOUT", defaultShutdownDelay, &problems)
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")

	cfg.DatabaseURL = getEnvOrDefault("DATABASE_URL", "")
	cfg.DatabasePath = getEnvOrDefault("DATABASE_PATH", defaultDatabasePath)
	if f.DBPath != "" {
		cfg.DatabasePath = f.DBPath
	}
	cfg.DatabaseKey = getEnvOrDefault("DATABASE_KEY", "")
	if f.Test {
		cfg.DatabaseURL = ""
		cfg.DatabasePath = db.MemoryPath
	}

	cfg.ManifestPath = getEnvOrDefault("AI_PLUGIN_PATH", defaultManifestPath)
	if !f.Test {
		cfg.ManifestS3Key = getEnvOrDefault("AI_PLUGIN_S3_KEY", "")
	}

	cfg.RateLimitConfig = ratelimit.Config{
		RPS:             parseFloat64OrDefault("RATE_LIMIT_RPS", ratelimit.DefaultConfig.RPS, &problems),
		Burst:           parseIntOrDefault("RATE_LIMIT_BURST", ratelimit.DefaultConfig.Burst, &problems),
		CleanupInterval: parseDurationOrDefault("RATE_LIMIT_CLEANUP_INTERVAL", ratelimit.DefaultConfig.CleanupInterval, &problems),
	}

	cfg.AWSEndpointS3 = getEnvOrDefault("AWS_ENDPOINT_URL_S3", "")
	cfg.AWSRegion = getEnvOrDefault("AWS_REGION", defaultS3Region)
	cfg.AWSAccessKeyID = getEnvOrDefault("AWS_ACCESS_KEY_ID", "")
	cfg.AWSSecretAccessKey = getEnvOrDefault("AWS_SECRET_ACCESS_KEY", "")
	cfg.AWSBucketName = getEnvOrDefault("BUCKET_NAME", "")

	err := cfg.Validate()
	if len(problems) > 0 {
		var validationErr *ValidationError
		if errors.As(err, &validationErr) {
			problems = append(problems, validationErr.Errors...)
		}
		return nil, &ValidationError{Errors: problems}
	}
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that all required configuration is present and valid.
func (c *Config) Validate() error {
	var errs []string

	if c.ListenAddr == "" {
		errs = append(errs, "LISTEN_ADDR must not be empty")
	}

	if c.DatabaseURL != "" {
		if !strings.HasPrefix(c.DatabaseURL, "postgres://") && !strings.HasPrefix(c.DatabaseURL, "postgresql://") {
			errs = append(errs, "DATABASE_URL must start with postgres:// or postgresql://")
		}
		if c.DatabaseKey != "" {
			errs = append(errs, "DATABASE_KEY applies to SQLite only; unset it when DATABASE_URL is set")
		}
	} else if c.DatabasePath == "" {
		errs = append(errs, "DATABASE_PATH is required when DATABASE_URL is not set")
	}

	if c.DatabaseKey != "" {
		if len(c.DatabaseKey) != 64 {
			errs = append(errs, "DATABASE_KEY must be 64 hex characters (32 bytes)")
		} else if _, err := crypto.ParseMasterKey(c.DatabaseKey); err != nil {
			errs = append(errs, "DATABASE_KEY must be hex (generate with: openssl rand -hex 32)")
		}
	}

	if c.ManifestS3Key != "" {
		if c.AWSBucketName == "" {
			errs = append(errs, "BUCKET_NAME is required when AI_PLUGIN_S3_KEY is set")
		}
	} else if c.ManifestPath == "" {
		errs = append(errs, "AI_PLUGIN_PATH must not be empty")
	}

	if !(c.RateLimitConfig.RPS > 0) || math.IsInf(c.RateLimitConfig.RPS, 1) {
		errs = append(errs, "RATE_LIMIT_RPS must be a finite positive number")
	}
	if c.RateLimitConfig.Burst <= 0 {
		errs = append(errs, "RATE_LIMIT_BURST must be positive")
	}
	if c.ShutdownTimeout <= 0 {
		errs = append(errs, "SHUTDOWN_TIMEOUT must be positive")
	}

	if len(errs) > 0 {
		return &ValidationError{Errors: errs}
	}
	return nil
}

// UsesPostgres reports whether the store is PostgreSQL.
func (c *Config) UsesPostgres() bool {
	return c.DatabaseURL != ""
}

// DBOptions returns the options for db.Open. DATABASE_KEY is a master key;
// the SQLCipher key is derived from it.
func (c *Config) DBOptions() (db.Options, error) {
	opts := db.Options{URL: c.DatabaseURL, Path: c.DatabasePath}
	if c.DatabaseKey != "" {
		key, err := crypto.DatabaseKeyHex(c.DatabaseKey)
		if err != nil {
			return db.Options{}, fmt.Errorf("DATABASE_KEY: %w", err)
		}
		opts.Key = key
	}
	return opts, nil
}

// PrintStartupSummary prints a human-readable summary of the configuration to stderr.
func (c *Config) PrintStartupSummary() {
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "entrystore server starting...")

	switch {
	case c.UsesPostgres():
		fmt.Fprintln(os.Stderr, "  Store:    PostgreSQL (DATABASE_URL)")
	case c.DatabasePath == db.MemoryPath:
		fmt.Fprintln(os.Stderr, "  Store:    SQLite in memory (--test)")
	case c.DatabaseKey != "":
		fmt.Fprintf(os.Stderr, "  Store:    SQLite %s (encrypted)\n", c.DatabasePath)
	default:
		fmt.Fprintf(os.Stderr, "  Store:    SQLite %s\n", c.DatabasePath)
	}

	if c.ManifestS3Key != "" {
		fmt.Fprintf(os.Stderr, "  Manifest: s3://%s/%s\n", c.AWSBucketName, c.ManifestS3Key)
	} else {
		fmt.Fprintf(os.Stderr, "  Manifest: %s\n", c.ManifestPath)
	}

	fmt.Fprintf(os.Stderr, "  Limits:   %.4g req/s, burst %d per token\n", c.RateLimitConfig.RPS, c.RateLimitConfig.Burst)
	fmt.Fprintf(os.Stderr, "  Listen:   %s\n", c.ListenAddr)
	fmt.Fprintln(os.Stderr, "")
}

// Helper functions for parsing environment variables

func getEnvOrDefault(key, defaultValue string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	return value
}

// The parse helpers return defaultValue for unset variables. A value that
// does not parse is recorded in problems and also yields defaultValue.

func parseIntOrDefault(key string, defaultValue int, problems *[]string) int {
	value := getEnvOrDefault(key, "")
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		*problems = append(*problems, fmt.Sprintf("%s: invalid integer %q", key, value))
		return defaultValue
	}
	return parsed
}

func parseFloat64OrDefault(key string, defaultValue float64, problems *[]string) float64 {
	value := getEnvOrDefault(key, "")
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		*problems = append(*problems, fmt.Sprintf("%s: invalid number %q", key, value))
		return defaultValue
	}
	return parsed
}

func parseDurationOrDefault(key string, defaultValue time.Duration, problems *[]string) time.Duration {
	value := getEnvOrDefault(key, "")
	if value == "" {
		return defaultValue
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		*problems = append(*problems, fmt.Sprintf("%s: invalid duration %q (use e.g. 30s, 1h)", key, value))
		return defaultValue
	}
	return parsed
}

// MustLoadConfig loads configuration and panics if validation fails.
func MustLoadConfig(f Flags) *Config {
	cfg, err := LoadConfig(f)
	if err != nil {
		var validationErr *ValidationError
		if errors.As(err, &validationErr) {
			panic(fmt.Sprintf("Configuration validation failed:\n  - %s", strings.Join(validationErr.Errors, "\n  - ")))
		}
		panic(fmt.Sprintf("Failed to load configuration: %v", err))
	}
	return cfg
}
