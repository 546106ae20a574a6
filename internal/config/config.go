package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	ListenAddr       string `yaml:"listen_addr"`
	DBPath           string `yaml:"db_path"`
	PayloadBucketURL string `yaml:"payload_bucket_url"`
	LocalImportRoot  string `yaml:"local_import_root"`

	BatchSize  int           `yaml:"import_batch_size"`
	BatchPause time.Duration `yaml:"batch_pause"`

	QueueWorkers int `yaml:"queue_workers"`
	QueueSize    int `yaml:"queue_size"`

	TransformConcurrency int `yaml:"transform_concurrency"`
	MaxEdge              int `yaml:"transform_max_edge"`
	Quality              int `yaml:"transform_quality"`

	RankingTTL time.Duration `yaml:"ranking_cache_ttl"`
	PhotoTTL   time.Duration `yaml:"photo_cache_ttl"`

	VoteRateLimit float64 `yaml:"vote_rate_limit"`

	LogLevel       string `yaml:"log_level"`
	LogFormat      string `yaml:"log_format"`
	LogFile        string `yaml:"log_file"`
	MetricsEnabled bool   `yaml:"metrics_enabled"`
}

func defaults() *Config {
	return &Config{
		ListenAddr:       ":8080",
		DBPath:           "/data/vowselect.db",
		PayloadBucketURL: "file:///data/photos?create_dir=true",
		LocalImportRoot:  "/data/import",
		BatchSize:        10,
		BatchPause:       100 * time.Millisecond,
		QueueWorkers:     2,
		QueueSize:        100,
		MaxEdge:          1440,
		Quality:          88,
		RankingTTL:       30 * time.Second,
		PhotoTTL:         5 * time.Minute,
		VoteRateLimit:    10,
		LogLevel:         "info",
		LogFormat:        "json",
		MetricsEnabled:   true,
	}
}

// Load builds the configuration from defaults, the optional YAML file named
// by VOWSELECT_CONFIG, and environment variables, in that order.
func Load() (*Config, error) {
	cfg := defaults()

	if path := os.Getenv("VOWSELECT_CONFIG"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	c.ListenAddr = getEnv("LISTEN_ADDR", c.ListenAddr)
	c.DBPath = getEnv("DB_PATH", c.DBPath)
	c.PayloadBucketURL = getEnv("PAYLOAD_BUCKET_URL", c.PayloadBucketURL)
	c.LocalImportRoot = getEnv("LOCAL_IMPORT_ROOT", c.LocalImportRoot)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.LogFormat = getEnv("LOG_FORMAT", c.LogFormat)
	c.LogFile = getEnv("LOG_FILE", c.LogFile)

	var errs []error
	ints := []struct {
		key string
		dst *int
	}{
		{"IMPORT_BATCH_SIZE", &c.BatchSize},
		{"QUEUE_WORKERS", &c.QueueWorkers},
		{"QUEUE_SIZE", &c.QueueSize},
		{"TRANSFORM_CONCURRENCY", &c.TransformConcurrency},
		{"TRANSFORM_MAX_EDGE", &c.MaxEdge},
		{"TRANSFORM_QUALITY", &c.Quality},
	}
	for _, v := range ints {
		if err := envInt(v.key, v.dst); err != nil {
			errs = append(errs, err)
		}
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"BATCH_PAUSE", &c.BatchPause},
		{"RANKING_CACHE_TTL", &c.RankingTTL},
		{"PHOTO_CACHE_TTL", &c.PhotoTTL},
	}
	for _, v := range durations {
		if err := envDuration(v.key, v.dst); err != nil {
			errs = append(errs, err)
		}
	}

	if val, ok := os.LookupEnv("VOTE_RATE_LIMIT"); ok {
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("invalid VOTE_RATE_LIMIT %q: %w", val, err))
		} else {
			c.VoteRateLimit = f
		}
	}
	if val, ok := os.LookupEnv("METRICS_ENABLED"); ok {
		b, err := strconv.ParseBool(val)
		if err != nil {
			errs = append(errs, fmt.Errorf("invalid METRICS_ENABLED %q: %w", val, err))
		} else {
			c.MetricsEnabled = b
		}
	}

	return errors.Join(errs...)
}

func (c *Config) validate() error {
	var errs []error
	if c.ListenAddr == "" {
		errs = append(errs, errors.New("LISTEN_ADDR must not be empty"))
	}
	if c.DBPath == "" {
		errs = append(errs, errors.New("DB_PATH must not be empty"))
	}
	if c.PayloadBucketURL == "" {
		errs = append(errs, errors.New("PAYLOAD_BUCKET_URL must not be empty"))
	}
	if c.BatchSize < 1 {
		errs = append(errs, fmt.Errorf("IMPORT_BATCH_SIZE must be at least 1, got %d", c.BatchSize))
	}
	if c.BatchPause < 0 {
		errs = append(errs, fmt.Errorf("BATCH_PAUSE must not be negative, got %s", c.BatchPause))
	}
	if c.QueueWorkers < 1 {
		errs = append(errs, fmt.Errorf("QUEUE_WORKERS must be at least 1, got %d", c.QueueWorkers))
	}
	if c.QueueSize < 1 {
		errs = append(errs, fmt.Errorf("QUEUE_SIZE must be at least 1, got %d", c.QueueSize))
	}
	if c.TransformConcurrency < 0 {
		errs = append(errs, fmt.Errorf("TRANSFORM_CONCURRENCY must not be negative, got %d", c.TransformConcurrency))
	}
	if c.MaxEdge < 1 {
		errs = append(errs, fmt.Errorf("TRANSFORM_MAX_EDGE must be positive, got %d", c.MaxEdge))
	}
	if c.Quality < 1 || c.Quality > 100 {
		errs = append(errs, fmt.Errorf("TRANSFORM_QUALITY must be between 1 and 100, got %d", c.Quality))
	}
	if c.RankingTTL <= 0 || c.PhotoTTL <= 0 {
		errs = append(errs, errors.New("cache TTLs must be positive"))
	}
	if c.VoteRateLimit <= 0 {
		errs = append(errs, fmt.Errorf("VOTE_RATE_LIMIT must be positive, got %v", c.VoteRateLimit))
	}
	return errors.Join(errs...)
}

func getEnv(key, defaultVal string) string {
	if val, exists := os.LookupEnv(key); exists {
		return val
	}
	return defaultVal
}

func envInt(key string, dst *int) error {
	val, ok := os.LookupEnv(key)
	if !ok {
		return nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", key, val, err)
	}
	*dst = n
	return nil
}

func envDuration(key string, dst *time.Duration) error {
	val, ok := os.LookupEnv(key)
	if !ok {
		return nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", key, val, err)
	}
	*dst = d
	return nil
}
