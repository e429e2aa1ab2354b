package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"fuelflow/internal/analysis"
	"fuelflow/internal/segment"
	"fuelflow/internal/smoothing"
)

type Config struct {
	Fuelflow  FuelflowConfig  `yaml:"fuelflow"`
	Analysis  AnalysisConfig  `yaml:"analysis"`
	Channels  ChannelsConfig  `yaml:"channels"`
	Reader    ReaderConfig    `yaml:"reader"`
	Processor ProcessorConfig `yaml:"processor"`
	Writer    WriterConfig    `yaml:"writer"`
	Storage   StorageConfig   `yaml:"storage"`
	API       APIConfig       `yaml:"api"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type FuelflowConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

// AnalysisConfig carries the policy constants of the detection pipeline.
type AnalysisConfig struct {
	Frac           float64       `yaml:"frac"`
	Iterations     int           `yaml:"iterations"`
	Threshold      float64       `yaml:"threshold"`
	MaxDrainWindow time.Duration `yaml:"max_drain_window"`
	FuelSignal     string        `yaml:"fuel_signal"`
	SpeedSignal    string        `yaml:"speed_signal"`
	Lookback       time.Duration `yaml:"lookback"`
}

type ChannelsConfig struct {
	RawBuffer    int `yaml:"raw_buffer"`
	ResultBuffer int `yaml:"result_buffer"`
}

type ReaderConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	MaxWorkers   int           `yaml:"max_workers"`
	Timeout      time.Duration `yaml:"timeout"`
	Retry        RetryConfig   `yaml:"retry"`
}

type RetryConfig struct {
	MaxAttempts       int           `yaml:"max_attempts"`
	BaseDelay         time.Duration `yaml:"base_delay"`
	MaxDelay          time.Duration `yaml:"max_delay"`
	BackoffMultiplier int           `yaml:"backoff_multiplier"`
}

type ProcessorConfig struct {
	MaxWorkers   int           `yaml:"max_workers"`
	BatchTimeout time.Duration `yaml:"batch_timeout"`
}

type WriterConfig struct {
	MaxWorkers   int                `yaml:"max_workers"`
	Partitioning PartitioningConfig `yaml:"partitioning"`
	Formats      FormatsConfig      `yaml:"formats"`
}

type PartitioningConfig struct {
	Scheme     string `yaml:"scheme"`
	TimeFormat string `yaml:"time_format"`
}

type FormatsConfig struct {
	Parquet ParquetConfig `yaml:"parquet"`
}

type ParquetConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Compression string `yaml:"compression"`
	PageSize    int    `yaml:"page_size"`
}

type StorageConfig struct {
	Postgres PostgresConfig `yaml:"postgres"`
	S3       S3Config       `yaml:"s3"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Redis    RedisConfig    `yaml:"redis"`
}

type PostgresConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

type S3Config struct {
	Enabled         bool   `yaml:"enabled"`
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	PathStyle       bool   `yaml:"path_style"`
	Prefix          string `yaml:"prefix"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

type KafkaConfig struct {
	Enabled bool     `yaml:"enabled"`
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type RedisConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

type APIConfig struct {
	Enabled   bool            `yaml:"enabled"`
	Address   string          `yaml:"address"`
	Timeout   time.Duration   `yaml:"timeout"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

type RateLimitConfig struct {
	RequestsPerSecond int `yaml:"requests_per_second"`
	BurstSize         int `yaml:"burst_size"`
}

type MetricsConfig struct {
	PrometheusAddress   string `yaml:"prometheus_address"`
	CloudWatchNamespace string `yaml:"cloudwatch_namespace"`
	ChannelSize         bool   `yaml:"channel_size"`
	Analysis            bool   `yaml:"analysis"`
}

type LoggingConfig struct {
	Level         string                 `yaml:"level"`
	Format        string                 `yaml:"format"`
	Output        string                 `yaml:"output"`
	MaxAge        int                    `yaml:"max_age"`
	Fields        map[string]interface{} `yaml:"fields"`
	DashboardName string                 `yaml:"dashboard_name"`
}

// defaultConfig holds the values used when the YAML leaves a field out.
func defaultConfig() Config {
	return Config{
		Analysis: AnalysisConfig{
			Frac:           0.05,
			Iterations:     3,
			Threshold:      10,
			MaxDrainWindow: 10 * time.Minute,
			FuelSignal:     "LLS_0",
			SpeedSignal:    "speed",
			Lookback:       24 * time.Hour,
		},
		Channels: ChannelsConfig{RawBuffer: 64, ResultBuffer: 64},
		Reader: ReaderConfig{
			PollInterval: 5 * time.Minute,
			MaxWorkers:   4,
			Timeout:      30 * time.Second,
			Retry: RetryConfig{
				MaxAttempts:       3,
				BaseDelay:         time.Second,
				MaxDelay:          30 * time.Second,
				BackoffMultiplier: 2,
			},
		},
		Processor: ProcessorConfig{MaxWorkers: 4, BatchTimeout: 10 * time.Second},
		Writer: WriterConfig{
			MaxWorkers: 2,
			Partitioning: PartitioningConfig{
				Scheme:     "device_date",
				TimeFormat: "2006-01-02",
			},
			Formats: FormatsConfig{Parquet: ParquetConfig{Enabled: true, Compression: "snappy"}},
		},
		Storage: StorageConfig{
			Postgres: PostgresConfig{MaxOpenConns: 10, MaxIdleConns: 5, ConnMaxLifetime: time.Hour},
			Kafka:    KafkaConfig{Topic: "fuel-events"},
			Redis:    RedisConfig{Addr: "localhost:6379", TTL: 24 * time.Hour},
		},
		API: APIConfig{
			Address:   ":8080",
			Timeout:   15 * time.Second,
			RateLimit: RateLimitConfig{RequestsPerSecond: 10, BurstSize: 20},
		},
		Metrics: MetricsConfig{PrometheusAddress: ":2112", ChannelSize: true, Analysis: true},
		Logging: LoggingConfig{Level: "info", Format: "json", Output: "stdout"},
	}
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := defaultConfig()
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyEnvOverrides(&config)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

func applyEnvOverrides(config *Config) {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		config.Storage.Postgres.DSN = strings.TrimSpace(v)
	}

	if config.Storage.S3.Enabled {
		if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
			config.Storage.S3.AccessKeyID = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
			config.Storage.S3.SecretAccessKey = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_REGION"); v != "" {
			config.Storage.S3.Region = strings.TrimSpace(v)
		}
		if v := os.Getenv("S3_BUCKET"); v != "" {
			config.Storage.S3.Bucket = strings.TrimSpace(v)
		}
	}
	config.Storage.S3.Bucket = strings.TrimSpace(config.Storage.S3.Bucket)

	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		brokers := make([]string, 0)
		for _, b := range strings.Split(v, ",") {
			if b = strings.TrimSpace(b); b != "" {
				brokers = append(brokers, b)
			}
		}
		config.Storage.Kafka.Brokers = brokers
	}

	if v := os.Getenv("REDIS_ADDR"); v != "" {
		config.Storage.Redis.Addr = strings.TrimSpace(v)
	}
}

func validateConfig(cfg *Config) error {
	if cfg.Fuelflow.Name == "" {
		return fmt.Errorf("fuelflow.name is required")
	}
	if cfg.Fuelflow.Version == "" {
		return fmt.Errorf("fuelflow.version is required")
	}

	if cfg.Analysis.Frac <= 0 || cfg.Analysis.Frac > 1 {
		return fmt.Errorf("analysis.frac must be in (0, 1]")
	}
	if cfg.Analysis.Iterations < 0 {
		return fmt.Errorf("analysis.iterations must not be negative")
	}
	if cfg.Analysis.Threshold <= 0 {
		return fmt.Errorf("analysis.threshold must be greater than 0")
	}
	if cfg.Analysis.MaxDrainWindow <= 0 {
		return fmt.Errorf("analysis.max_drain_window must be greater than 0")
	}
	if cfg.Analysis.Lookback <= 0 {
		return fmt.Errorf("analysis.lookback must be greater than 0")
	}
	if cfg.Analysis.FuelSignal == "" {
		return fmt.Errorf("analysis.fuel_signal is required")
	}

	if cfg.Channels.RawBuffer <= 0 {
		return fmt.Errorf("channels.raw_buffer must be greater than 0")
	}
	if cfg.Channels.ResultBuffer <= 0 {
		return fmt.Errorf("channels.result_buffer must be greater than 0")
	}

	if cfg.Reader.MaxWorkers <= 0 {
		return fmt.Errorf("reader.max_workers must be greater than 0")
	}
	if cfg.Reader.PollInterval <= 0 {
		return fmt.Errorf("reader.poll_interval must be greater than 0")
	}
	if cfg.Reader.Timeout <= 0 {
		return fmt.Errorf("reader.timeout must be greater than 0")
	}

	if cfg.Processor.MaxWorkers <= 0 {
		return fmt.Errorf("processor.max_workers must be greater than 0")
	}
	if cfg.Processor.BatchTimeout <= 0 {
		return fmt.Errorf("processor.batch_timeout must be greater than 0")
	}

	if cfg.Writer.MaxWorkers <= 0 {
		return fmt.Errorf("writer.max_workers must be greater than 0")
	}

	if cfg.Storage.S3.Enabled {
		if cfg.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required when S3 is enabled")
		}
		if cfg.Storage.S3.Region == "" {
			return fmt.Errorf("storage.s3.region is required when S3 is enabled")
		}
		if cfg.Storage.S3.AccessKeyID == "" || cfg.Storage.S3.SecretAccessKey == "" {
			return fmt.Errorf("storage.s3.access_key_id and storage.s3.secret_access_key are required when S3 is enabled")
		}
		if !isValidS3Bucket(cfg.Storage.S3.Bucket) {
			return fmt.Errorf("storage.s3.bucket '%s' is invalid", cfg.Storage.S3.Bucket)
		}
	}

	if cfg.Storage.Kafka.Enabled {
		if len(cfg.Storage.Kafka.Brokers) == 0 {
			return fmt.Errorf("storage.kafka.brokers is required when Kafka is enabled")
		}
		if cfg.Storage.Kafka.Topic == "" {
			return fmt.Errorf("storage.kafka.topic is required when Kafka is enabled")
		}
	}

	if cfg.Storage.Redis.Enabled && cfg.Storage.Redis.Addr == "" {
		return fmt.Errorf("storage.redis.addr is required when Redis is enabled")
	}

	if cfg.API.Enabled && cfg.API.Address == "" {
		return fmt.Errorf("api.address is required when the API is enabled")
	}

	return nil
}

var s3BucketRegexp = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]{1,61}[a-z0-9]$`)

func isValidS3Bucket(name string) bool {
	if len(name) < 3 || len(name) > 63 {
		return false
	}
	if strings.Contains(name, "..") || strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".") {
		return false
	}
	return s3BucketRegexp.MatchString(name)
}

// Options converts the analysis section into pipeline options.
func (a AnalysisConfig) Options() analysis.Options {
	return analysis.Options{
		Smoothing: smoothing.Options{Frac: a.Frac, Iterations: a.Iterations},
		Policy:    segment.Policy{Threshold: a.Threshold, MaxDrainWindow: a.MaxDrainWindow},
	}
}
