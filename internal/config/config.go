package config

import (
	"errors"
	"net/url"
	"os"
	"strconv"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	KafkaBrokers     []string
	KafkaSourceTopic string
	KafkaSinkTopic   string
	KafkaGroupID     string
	HTTPAddr         string
	LogLevel         string
	LogFormat        string
	ShutdownTimeout  time.Duration

	BatchSize          int
	BatchFlushInterval time.Duration

	// Chart source configuration.
	ChartBaseURL   string
	ChartTimeout   time.Duration
	ChartUserAgent string
	ChartChunkSize int

	// Requests for a place loaded within RecentWindow are skipped unless forced.
	RecentWindow    time.Duration
	RecentCacheSize int
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	chartTimeout, err2 := time.ParseDuration(sharedcfg.EnvOrDefault("CHART_TIMEOUT", "30s"))
	if err2 != nil || chartTimeout <= 0 {
		return nil, errors.New("invalid CHART_TIMEOUT")
	}

	recentWindow, err2 := time.ParseDuration(sharedcfg.EnvOrDefault("RECENT_WINDOW", "1h"))
	if err2 != nil || recentWindow < 0 {
		return nil, errors.New("invalid RECENT_WINDOW")
	}

	batchSize, err := sharedcfg.ParseBatchSize()
	if err != nil {
		return nil, err
	}

	flushInterval, err := sharedcfg.ParseBatchFlushInterval()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		KafkaBrokers:       sharedcfg.ParseBrokers(sharedcfg.EnvOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaSourceTopic:   sharedcfg.EnvOrDefault("KAFKA_SOURCE_TOPIC", "chart-load-requests"),
		KafkaSinkTopic:     sharedcfg.EnvOrDefault("KAFKA_SINK_TOPIC", "place-charts"),
		KafkaGroupID:       sharedcfg.EnvOrDefault("KAFKA_GROUP_ID", "water-chart-etl"),
		HTTPAddr:           sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:           sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:          sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout:    shutdownTimeout,
		BatchSize:          batchSize,
		BatchFlushInterval: flushInterval,

		ChartBaseURL:   sharedcfg.EnvOrDefault("CHART_BASE_URL", "http://localhost:8081"),
		ChartTimeout:   chartTimeout,
		ChartUserAgent: sharedcfg.EnvOrDefault("CHART_USER_AGENT", "water-chart-etl/1.0"),
		ChartChunkSize: parsePositiveInt("CHART_CHUNK_SIZE", 16*1024),

		RecentWindow:    recentWindow,
		RecentCacheSize: parsePositiveInt("RECENT_CACHE_SIZE", 1000),
	}

	if len(cfg.KafkaBrokers) == 0 {
		return nil, errors.New("KAFKA_BROKERS is required")
	}
	if cfg.KafkaSourceTopic == "" {
		return nil, errors.New("KAFKA_SOURCE_TOPIC is required")
	}
	if cfg.KafkaSinkTopic == "" {
		return nil, errors.New("KAFKA_SINK_TOPIC is required")
	}
	if u, err := url.Parse(cfg.ChartBaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return nil, errors.New("CHART_BASE_URL must be an absolute URL")
	}

	return cfg, nil
}

// parsePositiveInt reads a positive integer, falling back to def when the
// variable is unset or invalid.
func parsePositiveInt(key string, def int) int {
	if s := os.Getenv(key); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			return n
		}
	}
	return def
}
