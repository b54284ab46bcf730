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
	"judgeflow/internal/judge/controller"
	"judgeflow/internal/judge/executor"
	"judgeflow/internal/stats"
	"judgeflow/pkg/utils/logger"

	"github.com/joho/godotenv"
	"github.com/segmentio/kafka-go"
	"gopkg.in/yaml.v3"
)

const (
	defaultHTTPAddr        = "0.0.0.0:8085"
	defaultReadTimeout     = 5 * time.Second
	defaultWriteTimeout    = 10 * time.Second
	defaultIdleTimeout     = 60 * time.Second
	defaultShutdownTimeout = 10 * time.Second
	defaultJudgeTopic      = "judge.submit"
	defaultRetryTopic      = "judge.retry"
	defaultFinalTopic      = "judge.status"
	defaultDeadLetterTopic = "judge.dlq"
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	IdleTimeout  time.Duration `yaml:"idleTimeout"`
}

// KafkaConfig holds Kafka settings.
type KafkaConfig struct {
	Brokers       []string       `yaml:"brokers"`
	ClientID      string         `yaml:"clientID"`
	MinBytes      int            `yaml:"minBytes"`
	MaxBytes      int            `yaml:"maxBytes"`
	MaxWait       time.Duration  `yaml:"maxWait"`
	BatchSize     int            `yaml:"batchSize"`
	BatchTimeout  time.Duration  `yaml:"batchTimeout"`
	DialTimeout   time.Duration  `yaml:"dialTimeout"`
	RequiredAcks  int            `yaml:"requiredAcks"`
	Compression   string         `yaml:"compression"`
	Topics        []string       `yaml:"topics"`
	ConsumerGroup string         `yaml:"consumerGroup"`
	Concurrency   int            `yaml:"concurrency"`
	MaxRetries    int            `yaml:"maxRetries"`
	RetryDelay    time.Duration  `yaml:"retryDelay"`
	RetryTopic    string         `yaml:"retryTopic"`
	PoolRetryMax  int            `yaml:"poolRetryMax"`
	PoolRetryBase time.Duration  `yaml:"poolRetryBaseDelay"`
	PoolRetryMaxD time.Duration  `yaml:"poolRetryMaxDelay"`
	DeadLetter    string         `yaml:"deadLetterTopic"`
	MessageTTL    time.Duration  `yaml:"messageTTL"`
	TopicWeights  map[string]int `yaml:"topicWeights"`
}

// WorkerConfig holds worker pool settings.
type WorkerConfig struct {
	PoolSize    int           `yaml:"poolSize"`
	Timeout     time.Duration `yaml:"timeout"`
	SlotTimeout time.Duration `yaml:"slotTimeout"`
	LockTTL     time.Duration `yaml:"lockTTL"`
}

// SourceConfig holds source download settings.
type SourceConfig struct {
	Bucket  string        `yaml:"bucket"`
	Timeout time.Duration `yaml:"timeout"`
}

// StatusConfig holds status persistence settings.
type StatusConfig struct {
	TTL        time.Duration           `yaml:"ttl"`
	Timeout    time.Duration           `yaml:"timeout"`
	FinalTopic string                  `yaml:"finalTopic"`
	Stream     controller.StreamConfig `yaml:"stream"`
}

// ExecutorConfig selects the execution backend. Mode is "local" (default) or "remote".
type ExecutorConfig struct {
	Mode   string                `yaml:"mode"`
	Local  executor.LocalConfig  `yaml:"local"`
	Remote executor.RemoteConfig `yaml:"remote"`
}

// CallbackConfig authenticates results posted back by external judges.
type CallbackConfig struct {
	Token string `yaml:"token"`
}

// AppConfig holds judge-service config.
type AppConfig struct {
	Server   ServerConfig         `yaml:"server"`
	Logger   logger.Config        `yaml:"logger"`
	Kafka    KafkaConfig          `yaml:"kafka"`
	Database db.Config            `yaml:"database"`
	Redis    cache.RedisConfig    `yaml:"redis"`
	MinIO    storage.MinIOConfig  `yaml:"minio"`
	Auth     middleware.JWTConfig `yaml:"auth"`
	Worker   WorkerConfig         `yaml:"worker"`
	Source   SourceConfig         `yaml:"source"`
	Status   StatusConfig         `yaml:"status"`
	Executor ExecutorConfig       `yaml:"executor"`
	Callback CallbackConfig       `yaml:"callback"`
	Stats    stats.Config         `yaml:"stats"`
}

// loadYAML reads path, expands ${VAR} references from the environment
// (after loading an optional .env file) and decodes the result.
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
	if cfg.Source.Bucket == "" {
		cfg.Source.Bucket = cfg.MinIO.Bucket
	}
	if cfg.Worker.PoolSize <= 0 {
		cfg.Worker.PoolSize = 1
	}
	if cfg.Status.FinalTopic == "" {
		cfg.Status.FinalTopic = defaultFinalTopic
	}
	if cfg.Kafka.RetryTopic == "" {
		cfg.Kafka.RetryTopic = defaultRetryTopic
	}
	if cfg.Kafka.DeadLetter == "" {
		cfg.Kafka.DeadLetter = defaultDeadLetterTopic
	}
	if len(cfg.Kafka.Topics) == 0 {
		cfg.Kafka.Topics = []string{defaultJudgeTopic, cfg.Kafka.RetryTopic}
	}
	if cfg.Kafka.PoolRetryMax <= 0 {
		cfg.Kafka.PoolRetryMax = 5
	}
	if cfg.Kafka.PoolRetryBase == 0 {
		cfg.Kafka.PoolRetryBase = time.Second
	}
	if cfg.Kafka.PoolRetryMaxD == 0 {
		cfg.Kafka.PoolRetryMaxD = 30 * time.Second
	}
	if len(cfg.Kafka.TopicWeights) == 0 {
		cfg.Kafka.TopicWeights = defaultTopicWeights(cfg.Kafka.Topics)
	}
	switch strings.ToLower(cfg.Executor.Mode) {
	case "", "local":
		cfg.Executor.Mode = "local"
	case "remote":
		cfg.Executor.Mode = "remote"
		if cfg.Executor.Remote.CallbackToken == "" {
			return nil, fmt.Errorf("remote executor callback token is required")
		}
	default:
		return nil, fmt.Errorf("unsupported executor mode: %s", cfg.Executor.Mode)
	}
	return &cfg, nil
}

func defaultTopicWeights(topics []string) map[string]int {
	weights := []int{8, 4, 2, 1}
	out := make(map[string]int, len(topics))
	for i, topic := range topics {
		if topic == "" {
			continue
		}
		if i < len(weights) {
			out[topic] = weights[i]
			continue
		}
		out[topic] = 1
	}
	return out
}

func applyRedisDefaults(cfg *cache.RedisConfig) {
	if cfg == nil {
		return
	}
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
	return mq.KafkaConfig{
		Brokers:      k.Brokers,
		ClientID:     k.ClientID,
		MinBytes:     k.MinBytes,
		MaxBytes:     k.MaxBytes,
		MaxWait:      k.MaxWait,
		BatchSize:    k.BatchSize,
		BatchTimeout: k.BatchTimeout,
		DialTimeout:  k.DialTimeout,
		RequiredAcks: kafka.RequiredAcks(k.RequiredAcks),
		Compression:  parseCompression(k.Compression),
	}
}

func parseCompression(raw string) kafka.Compression {
	switch strings.ToLower(raw) {
	case "gzip":
		return kafka.Gzip
	case "snappy":
		return kafka.Snappy
	case "lz4":
		return kafka.Lz4
	case "zstd":
		return kafka.Zstd
	default:
		return kafka.Compression(0)
	}
}

func (k KafkaConfig) weightedTopics() ([]mq.WeightedTopic, error) {
	out := make([]mq.WeightedTopic, 0, len(k.Topics))
	for _, topic := range k.Topics {
		weight, ok := k.TopicWeights[topic]
		if !ok || weight <= 0 {
			return nil, fmt.Errorf("invalid weight %d for topic %s", weight, topic)
		}
		out = append(out, mq.WeightedTopic{Topic: topic, Weight: weight})
	}
	return out, nil
}
