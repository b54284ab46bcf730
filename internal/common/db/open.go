package db

import (
	"fmt"
	"strings"
)

// Config selects the relational backend. Driver is "mysql" (default) or "postgres".
type Config struct {
	Driver   string         `yaml:"driver"`
	MySQL    MySQLConfig    `yaml:"mysql"`
	Postgres PostgresConfig `yaml:"postgres"`
}

// Open connects to the backend named by cfg.Driver.
func Open(cfg Config) (*SQLDatabase, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "mysql":
		return NewMySQL(cfg.MySQL)
	case "postgres", "postgresql", "pgx":
		return NewPostgres(cfg.Postgres)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}
}

// Validate reports a missing DSN for the selected backend.
func (c Config) Validate() error {
	switch strings.ToLower(strings.TrimSpace(c.Driver)) {
	case "", "mysql":
		if c.MySQL.DSN == "" {
			return fmt.Errorf("database mysql dsn is required")
		}
	case "postgres", "postgresql", "pgx":
		if c.Postgres.DSN == "" {
			return fmt.Errorf("database postgres dsn is required")
		}
	default:
		return fmt.Errorf("unsupported database driver: %s", c.Driver)
	}
	return nil
}
