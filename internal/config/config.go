// Package config provides configuration management for the zminer client.
// Values load from an optional TOML file, then environment variables, then
// defaults; environment variables win over the file.
package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml"
)

// Config holds the full miner configuration
type Config struct {
	// Service identification
	ServiceName string `toml:"-"`
	Version     string `toml:"-"`

	// Pool connection
	PoolHost  string `toml:"pool_host"`
	PoolPort  int    `toml:"pool_port"`
	Wallet    string `toml:"wallet"`
	Worker    string `toml:"worker"`
	UserAgent string `toml:"-"`

	// Mining
	Algorithm    string `toml:"algorithm"`
	CPUThreads   int    `toml:"cpu_threads"`
	GPUEnabled   bool   `toml:"gpu_enabled"`
	GPUBatchSize int    `toml:"gpu_batch_size"`

	// ProviderVariant forces a specific hash provider (dev runs).
	ProviderVariant string `toml:"provider_variant"`

	// Session
	Duration      time.Duration `toml:"duration"`
	StatsInterval time.Duration `toml:"stats_interval"`
	StatsFile     string        `toml:"stats_file"`

	// Telemetry (all optional)
	InfluxURL    string `toml:"influx_url"`
	InfluxToken  string `toml:"influx_token"`
	InfluxOrg    string `toml:"influx_org"`
	InfluxBucket string `toml:"influx_bucket"`

	RedisAddr     string `toml:"redis_addr"`
	RedisPassword string `toml:"redis_password"`
	RedisDB       int    `toml:"redis_db"`

	KafkaBrokers []string `toml:"kafka_brokers"`
	KafkaTopic   string   `toml:"kafka_topic"`

	// Logging
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
}

// Load builds the configuration. A non-empty path loads a TOML file
// first; environment variables then override, defaults fill the rest.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyEnv()
	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// PoolAddr returns host:port for dialing.
func (c *Config) PoolAddr() string {
	return fmt.Sprintf("%s:%d", c.PoolHost, c.PoolPort)
}

// TelemetryEnabled reports whether any telemetry endpoint is configured.
func (c *Config) TelemetryEnabled() bool {
	return c.InfluxURL != "" || c.RedisAddr != "" || len(c.KafkaBrokers) > 0
}

func (c *Config) applyEnv() {
	c.PoolHost = getEnv("ZMINER_POOL_HOST", c.PoolHost)
	c.PoolPort = getEnvInt("ZMINER_POOL_PORT", c.PoolPort)
	c.Wallet = getEnv("ZMINER_WALLET", c.Wallet)
	c.Worker = getEnv("ZMINER_WORKER", c.Worker)

	c.Algorithm = getEnv("ZMINER_ALGORITHM", c.Algorithm)
	c.CPUThreads = getEnvInt("ZMINER_CPU_THREADS", c.CPUThreads)
	c.GPUEnabled = getEnvBool("ZMINER_GPU_ENABLED", c.GPUEnabled)
	c.GPUBatchSize = getEnvInt("ZMINER_GPU_BATCH_SIZE", c.GPUBatchSize)
	c.ProviderVariant = getEnv("ZMINER_PROVIDER_VARIANT", c.ProviderVariant)

	c.Duration = getEnvDuration("ZMINER_DURATION", c.Duration)
	c.StatsInterval = getEnvDuration("ZMINER_STATS_INTERVAL", c.StatsInterval)
	c.StatsFile = getEnv("ZMINER_STATS_FILE", c.StatsFile)

	c.InfluxURL = getEnv("ZMINER_INFLUX_URL", c.InfluxURL)
	c.InfluxToken = getEnv("ZMINER_INFLUX_TOKEN", c.InfluxToken)
	c.InfluxOrg = getEnv("ZMINER_INFLUX_ORG", c.InfluxOrg)
	c.InfluxBucket = getEnv("ZMINER_INFLUX_BUCKET", c.InfluxBucket)

	c.RedisAddr = getEnv("ZMINER_REDIS_ADDR", c.RedisAddr)
	c.RedisPassword = getEnv("ZMINER_REDIS_PASSWORD", c.RedisPassword)
	c.RedisDB = getEnvInt("ZMINER_REDIS_DB", c.RedisDB)

	c.KafkaBrokers = getEnvSlice("ZMINER_KAFKA_BROKERS", c.KafkaBrokers)
	c.KafkaTopic = getEnv("ZMINER_KAFKA_TOPIC", c.KafkaTopic)

	c.LogLevel = getEnv("ZMINER_LOG_LEVEL", c.LogLevel)
	c.LogFormat = getEnv("ZMINER_LOG_FORMAT", c.LogFormat)
}

func (c *Config) applyDefaults() {
	c.ServiceName = "zminer"
	c.Version = "2.9.0"
	c.UserAgent = "zminer/" + c.Version

	if c.PoolHost == "" {
		c.PoolHost = "127.0.0.1"
	}
	if c.PoolPort == 0 {
		c.PoolPort = 3333
	}
	if c.Worker == "" {
		c.Worker = defaultWorkerName()
	}
	if c.Algorithm == "" {
		c.Algorithm = "cosmic_harmony"
	}
	if c.CPUThreads <= 0 {
		c.CPUThreads = max(runtime.NumCPU()-1, 1)
	}
	if c.GPUBatchSize <= 0 {
		c.GPUBatchSize = 50000
	}
	if c.StatsInterval <= 0 {
		c.StatsInterval = 30 * time.Second
	}
	if c.InfluxOrg == "" {
		c.InfluxOrg = "zion"
	}
	if c.InfluxBucket == "" {
		c.InfluxBucket = "mining"
	}
	if c.KafkaTopic == "" {
		c.KafkaTopic = "zminer.events"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "text"
	}
}

// validate performs basic validation of configuration values
func (c *Config) validate() error {
	if c.Wallet == "" {
		return fmt.Errorf("wallet address is required (ZMINER_WALLET)")
	}

	if c.PoolPort <= 0 || c.PoolPort > 65535 {
		return fmt.Errorf("pool_port must be between 1 and 65535")
	}

	if c.CPUThreads < 1 {
		return fmt.Errorf("cpu_threads must be at least 1")
	}

	if c.GPUBatchSize < 1 {
		return fmt.Errorf("gpu_batch_size must be positive")
	}

	if c.Duration < 0 {
		return fmt.Errorf("duration cannot be negative")
	}

	return nil
}

func defaultWorkerName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "zminer"
	}
	return host
}

// Helper functions for environment variable parsing

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return defaultValue
}
