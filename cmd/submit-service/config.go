package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"judgeflow/internal/common/cache"
	"judgeflow/internal/common/db"
	"judgeflow/internal/common/http/middleware"
	"judgeflow/internal/common/mq"
	"judgeflow/internal/common/storage"
	"judgeflow/internal/stats"
	"judgeflow/internal/submit/service"
	"judgeflow/pkg/utils/logger"

	"github.com/joho/godotenv"
	"github.com/segmentio/kafka-go"
	"gopkg.in/yaml.v3"
)

const (
	defaultHTTPAddr        = "0.0.0.0:8086"
	defaultReadTimeout     = 5 * time.Second
	defaultWriteTimeout    = 10 * time.Second
	defaultIdleTimeout     = 60 * time.Second
	defaultShutdownTimeout = 10 * time.Second
	defaultJudgeTopic      = "judge.submit"
	defaultFinalTopic      = "judge.status"
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	IdleTimeout  time.Duration `yaml:"idleTimeout"`
}

// KafkaConfig holds Kafka producer and status consumer settings.
type KafkaConfig struct {
	Brokers       []string      `yaml:"brokers"`
	ClientID      string        `yaml:"clientID"`
	BatchSize     int           `yaml:"batchSize"`
	BatchTimeout  time.Duration `yaml:"batchTimeout"`
	DialTimeout   time.Duration `yaml:"dialTimeout"`
	RequiredAcks  int           `yaml:"requiredAcks"`
	Compression   string        `yaml:"compression"`
	JudgeTopic    string        `yaml:"judgeTopic"`
	FinalTopic    string        `yaml:"finalTopic"`
	ConsumerGroup string        `yaml:"consumerGroup"`
	MaxRetries    int           `yaml:"maxRetries"`
	RetryDelay    time.Duration `yaml:"retryDelay"`
}

// SubmitConfig holds submission settings.
type SubmitConfig struct {
	SourceBucket   string                  `yaml:"sourceBucket"`
	MaxCodeBytes   int                     `yaml:"maxCodeBytes"`
	IdempotencyTTL time.Duration           `yaml:"idempotencyTTL"`
	StatusTTL      time.Duration           `yaml:"statusTTL"`
	RateLimit      service.RateLimitConfig `yaml:"rateLimit"`
	Timeouts       service.TimeoutConfig   `yaml:"timeouts"`
}

// AppConfig holds submit-service configuration.
type AppConfig struct {
	Server   ServerConfig         `yaml:"server"`
	Logger   logger.Config        `yaml:"logger"`
	Kafka    KafkaConfig          `yaml:"kafka"`
	Database db.Config            `yaml:"database"`
	Redis    cache.RedisConfig    `yaml:"redis"`
	MinIO    storage.MinIOConfig  `yaml:"minio"`
	Auth     middleware.JWTConfig `yaml:"auth"`
	Stats    stats.Config         `yaml:"stats"`
	Submit   SubmitConfig         `yaml:"submit"`
}

func loadYAML(path string, out interface{}) error {
	_ = godotenv.Load()
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file failed: %w", err)
	}
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), out); err != nil {
		return fmt.Errorf("parse config file failed: %w", err)
	}
	return nil
}

func loadAppConfig(path string) (*AppConfig, error) {
	var cfg AppConfig
	if err := loadYAML(path, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Database.Validate(); err != nil {
		return nil, err
	}
	if cfg.Redis.Addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}
	if cfg.Auth.Secret == "" {
		return nil, fmt.Errorf("auth secret is required")
	}
	if len(cfg.Kafka.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers are required")
	}
	applyRedisDefaults(&cfg.Redis)
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = defaultHTTPAddr
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = defaultReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = defaultWriteTimeout
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = defaultIdleTimeout
	}
	if cfg.Submit.SourceBucket == "" {
		cfg.Submit.SourceBucket = cfg.MinIO.Bucket
	}
	if cfg.Kafka.JudgeTopic == "" {
		cfg.Kafka.JudgeTopic = defaultJudgeTopic
	}
	if cfg.Kafka.FinalTopic == "" {
		cfg.Kafka.FinalTopic = defaultFinalTopic
	}
	return &cfg, nil
}

func applyRedisDefaults(cfg *cache.RedisConfig) {
	defaults := cache.DefaultRedisConfig()
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = defaults.MaxRetries
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = defaults.DialTimeout
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = defaults.ReadTimeout
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = defaults.WriteTimeout
	}
	if cfg.PoolSize == 0 {
		cfg.PoolSize = defaults.PoolSize
	}
	if cfg.MinIdleConns == 0 {
		cfg.MinIdleConns = defaults.MinIdleConns
	}
	if cfg.PoolTimeout == 0 {
		cfg.PoolTimeout = defaults.PoolTimeout
	}
	if cfg.ConnMaxIdleTime == 0 {
		cfg.ConnMaxIdleTime = defaults.ConnMaxIdleTime
	}
}

func (k KafkaConfig) toMQConfig() mq.KafkaConfig {
	cfg := mq.KafkaConfig{
		Brokers:      k.Brokers,
		ClientID:     k.ClientID,
		BatchSize:    k.BatchSize,
		BatchTimeout: k.BatchTimeout,
		DialTimeout:  k.DialTimeout,
		RequiredAcks: kafka.RequiredAcks(k.RequiredAcks),
	}
	switch strings.ToLower(k.Compression) {
	case "gzip":
		cfg.Compression = kafka.Gzip
	case "snappy":
		cfg.Compression = kafka.Snappy
	case "lz4":
		cfg.Compression = kafka.Lz4
	case "zstd":
		cfg.Compression = kafka.Zstd
	}
	return cfg
}

func (k KafkaConfig) statusSubscribeOptions() *mq.SubscribeOptions {
	opts := &mq.SubscribeOptions{
		ConsumerGroup: k.ConsumerGroup,
		MaxRetries:    k.MaxRetries,
		RetryDelay:    k.RetryDelay,
	}
	opts.SetDefaults()
	return opts
}
