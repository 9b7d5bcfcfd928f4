// Package config implements the demandcast forecaster config.
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"
)

// Config holds all forecaster configuration.
type Config struct {
	Listen     string
	GRPCListen string
	Series     string

	// Data source for the scheduled loop
	Source      string
	CSVPath     string
	DateColumn  string
	ValueColumn string
	Filters     map[string]string
	PromURL     string
	PromQuery   string
	Interval    time.Duration
	Window      time.Duration
	HorizonDays int

	// Model selection
	Candidates     []string
	Holdout        int
	Lags           int
	Trees          int
	Seed           uint64
	IntervalWidth  float64
	KeepCandidates bool
	TrainPerMinute float64

	// Storage
	Storage       string
	ModelDir      string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisTTL      time.Duration

	LogFormat string
	LogLevel  string
}

// ParseFlags parses command-line flags and environment variables into a Config.
// Exits with status 1 when the configuration is inconsistent.
// Environment variables are used as fallbacks when flags are not provided.
func ParseFlags() *Config {
	cfg := &Config{}
	var candidates, filters string
	var seed int

	// Server
	flag.StringVar(&cfg.Listen, "listen", getEnv("LISTEN", ":8081"), "HTTP listen address")
	flag.StringVar(&cfg.GRPCListen, "grpc-listen", getEnv("GRPC_LISTEN", ""), "gRPC listen address (disabled when empty)")
	flag.StringVar(&cfg.Series, "series", getEnv("SERIES", "sales"), "Series name used for scheduled forecasts and snapshots")

	// Source
	flag.StringVar(&cfg.Source, "source", getEnv("SOURCE", "none"), "Scheduled data source: none, csv or prometheus")
	flag.StringVar(&cfg.CSVPath, "csv-path", getEnv("CSV_PATH", ""), "CSV file read by the csv source")
	flag.StringVar(&cfg.DateColumn, "date-column", getEnv("DATE_COLUMN", ""), "CSV date column (auto-detected when empty)")
	flag.StringVar(&cfg.ValueColumn, "value-column", getEnv("VALUE_COLUMN", ""), "CSV value column (auto-detected when empty)")
	flag.StringVar(&filters, "filters", getEnv("FILTERS", ""), "CSV row filters, e.g. store_id=S1,product_id=P9")
	flag.StringVar(&cfg.PromURL, "prom-url", getEnv("PROM_URL", "http://localhost:9090"), "Prometheus URL")
	flag.StringVar(&cfg.PromQuery, "prom-query", getEnv("PROM_QUERY", ""), "Prometheus query returning daily demand")

	// Timing
	flag.DurationVar(&cfg.Interval, "interval", getEnvDuration("INTERVAL", 24*time.Hour), "Train and forecast interval")
	flag.DurationVar(&cfg.Window, "window", getEnvDuration("WINDOW", 0), "Historical window (0 = everything)")
	flag.IntVar(&cfg.HorizonDays, "horizon-days", getEnvInt("HORIZON_DAYS", 30), "Days forecast on each scheduled run")

	// Model selection
	flag.StringVar(&candidates, "candidates", getEnv("CANDIDATES", "RandomForest,Prophet"), "Candidate models in evaluation order")
	flag.IntVar(&cfg.Holdout, "holdout", getEnvInt("HOLDOUT", 30), "Points held out for scoring")
	flag.IntVar(&cfg.Lags, "lags", getEnvInt("LAGS", 7), "Lag features for the lag ensemble")
	flag.IntVar(&cfg.Trees, "trees", getEnvInt("TREES", 100), "Trees in the random forest")
	flag.IntVar(&seed, "seed", getEnvInt("SEED", 42), "Random seed")
	flag.Float64Var(&cfg.IntervalWidth, "interval-width", getEnvFloat("INTERVAL_WIDTH", 0.8), "Uncertainty interval width for decomposition forecasts")
	flag.BoolVar(&cfg.KeepCandidates, "keep-candidates", getEnvBool("KEEP_CANDIDATES", false), "Persist every successful candidate")
	flag.Float64Var(&cfg.TrainPerMinute, "train-per-minute", getEnvFloat("TRAIN_PER_MINUTE", 6), "Training requests allowed per minute (0 = unlimited)")

	// Storage
	flag.StringVar(&cfg.Storage, "storage", getEnv("STORAGE", "file"), "Storage backend: memory, file or redis")
	flag.StringVar(&cfg.ModelDir, "model-dir", getEnv("MODEL_DIR", "models"), "Artifact directory for the file backend")
	flag.StringVar(&cfg.RedisAddr, "redis-addr", getEnv("REDIS_ADDR", "localhost:6379"), "Redis address")
	flag.StringVar(&cfg.RedisPassword, "redis-password", getEnv("REDIS_PASSWORD", ""), "Redis password")
	flag.IntVar(&cfg.RedisDB, "redis-db", getEnvInt("REDIS_DB", 0), "Redis database")
	flag.DurationVar(&cfg.RedisTTL, "redis-ttl", getEnvDuration("REDIS_TTL", 48*time.Hour), "TTL for forecast snapshots in Redis")

	// Logging
	flag.StringVar(&cfg.LogFormat, "log-format", getEnv("LOG_FORMAT", "text"), "Log format: text or json")
	flag.StringVar(&cfg.LogLevel, "log-level", getEnv("LOG_LEVEL", "info"), "Log level: debug, info, warn, error")

	flag.Parse()

	cfg.Candidates = splitList(candidates)
	cfg.Filters = parseFilters(filters)
	cfg.Seed = uint64(seed)

	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}

	return cfg
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch c.Source {
	case "none":
	case "csv":
		if c.CSVPath == "" {
			return errors.New("--csv-path is required with --source=csv")
		}
	case "prometheus":
		if c.PromQuery == "" {
			return errors.New("--prom-query is required with --source=prometheus")
		}
	default:
		return fmt.Errorf("unknown --source %q", c.Source)
	}

	switch c.Storage {
	case "memory", "redis":
	case "file":
		if c.ModelDir == "" {
			return errors.New("--model-dir is required with --storage=file")
		}
	default:
		return fmt.Errorf("unknown --storage %q", c.Storage)
	}

	if len(c.Candidates) == 0 {
		return errors.New("--candidates must name at least one model")
	}
	if c.Holdout < 1 {
		return errors.New("--holdout must be at least 1")
	}
	if c.Lags < 1 {
		return errors.New("--lags must be at least 1")
	}
	if c.Trees < 1 {
		return errors.New("--trees must be at least 1")
	}
	if c.HorizonDays < 1 {
		return errors.New("--horizon-days must be at least 1")
	}
	if c.IntervalWidth <= 0 || c.IntervalWidth >= 1 {
		return errors.New("--interval-width must be in (0, 1)")
	}
	if c.Source != "none" && c.Interval <= 0 {
		return errors.New("--interval must be positive")
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for part := range strings.SplitSeq(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseFilters(s string) map[string]string {
	filters := make(map[string]string)
	for _, pair := range splitList(s) {
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		filters[strings.ToLower(strings.TrimSpace(k))] = strings.TrimSpace(v)
	}
	return filters
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var i int
		if _, err := fmt.Sscanf(value, "%d", &i); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		var f float64
		if _, err := fmt.Sscanf(value, "%f", &f); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	switch strings.ToLower(os.Getenv(key)) {
	case "1", "true", "yes":
		return true
	case "0", "false", "no":
		return false
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
