package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "judge.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppConfigDefaultsAndEnv(t *testing.T) {
	t.Setenv("JUDGE_TEST_DSN", "root:pw@tcp(db:3306)/judge")
	path := writeConfig(t, `
database:
  mysql:
    dsn: ${JUDGE_TEST_DSN}
redis:
  addr: localhost:6379
auth:
  secret: s3cret
minio:
  bucket: sources
worker:
  poolSize: 4
`)
	cfg, err := loadAppConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Database.MySQL.DSN != "root:pw@tcp(db:3306)/judge" {
		t.Fatalf("env not expanded: %q", cfg.Database.MySQL.DSN)
	}
	if cfg.Server.Addr != defaultHTTPAddr || cfg.Source.Bucket != "sources" {
		t.Fatalf("unexpected defaults: %+v %+v", cfg.Server, cfg.Source)
	}
	if cfg.Executor.Mode != "local" {
		t.Fatalf("expected local executor, got %s", cfg.Executor.Mode)
	}
	if len(cfg.Kafka.Topics) != 2 || cfg.Kafka.TopicWeights[defaultJudgeTopic] != 8 || cfg.Kafka.TopicWeights[defaultRetryTopic] != 4 {
		t.Fatalf("unexpected topics %v weights %v", cfg.Kafka.Topics, cfg.Kafka.TopicWeights)
	}
	if cfg.Kafka.PoolRetryBase != time.Second || cfg.Redis.PoolSize == 0 {
		t.Fatalf("defaults not applied: %+v", cfg.Kafka)
	}
	topics, err := cfg.Kafka.weightedTopics()
	if err != nil || len(topics) != 2 {
		t.Fatalf("weighted topics: %v %v", topics, err)
	}
}

func TestLoadAppConfigRejects(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"missing dsn", "redis:\n  addr: x\n"},
		{"missing redis", "database:\n  mysql:\n    dsn: a\n"},
		{"missing auth secret", "database:\n  mysql:\n    dsn: a\nredis:\n  addr: x\n"},
		{"unknown executor", "database:\n  mysql:\n    dsn: a\nredis:\n  addr: x\nauth:\n  secret: s\nexecutor:\n  mode: docker\n"},
		{"remote without token", "database:\n  mysql:\n    dsn: a\nredis:\n  addr: x\nauth:\n  secret: s\nexecutor:\n  mode: remote\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := loadAppConfig(writeConfig(t, tc.body)); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}
