package db

import (
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
)

// MySQLConfig holds the configuration for a MySQL connection pool.
type MySQLConfig struct {
	// DSN format: "user:password@tcp(host:port)/dbname"
	DSN  string     `yaml:"dsn"`
	Pool PoolConfig `yaml:"pool"`
}

// NewMySQL opens a MySQL pool. parseTime is forced on and the location
// pinned to UTC so DATETIME columns scan into time.Time consistently.
func NewMySQL(cfg MySQLConfig) (*SQLDatabase, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("DSN cannot be empty")
	}
	parsed, err := mysql.ParseDSN(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("invalid mysql dsn: %w", err)
	}
	parsed.ParseTime = true
	parsed.Loc = time.UTC
	return openPool("mysql", parsed.FormatDSN(), DialectMySQL, cfg.Pool)
}
