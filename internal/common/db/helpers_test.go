package db

import (
	"errors"
	"fmt"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

func TestRebind(t *testing.T) {
	tests := []struct {
		name    string
		dialect Dialect
		in      string
		want    string
	}{
		{"mysql untouched", DialectMySQL, "SELECT * FROM t WHERE a = ? AND b = ?", "SELECT * FROM t WHERE a = ? AND b = ?"},
		{"postgres numbered", DialectPostgres, "UPDATE t SET a = ? WHERE id = ?", "UPDATE t SET a = $1 WHERE id = $2"},
		{"quoted literal kept", DialectPostgres, "SELECT '?' , x FROM t WHERE y = ?", "SELECT '?' , x FROM t WHERE y = $1"},
		{"no placeholders", DialectPostgres, "SELECT 1", "SELECT 1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Rebind(tt.dialect, tt.in); got != tt.want {
				t.Fatalf("Rebind() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestUniqueViolation(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantKey string
		wantOK  bool
	}{
		{"mysql", &mysql.MySQLError{Number: 1062, Message: "Duplicate entry '7' for key 'user_stats.PRIMARY'"}, "user_stats.PRIMARY", true},
		{"mysql other", &mysql.MySQLError{Number: 1213, Message: "Deadlock"}, "", false},
		{"pgx", fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505", ConstraintName: "user_stats_pkey"}), "user_stats_pkey", true},
		{"pq", &pq.Error{Code: "23505", Constraint: "user_stats_pkey"}, "user_stats_pkey", true},
		{"plain", errors.New("boom"), "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, ok := UniqueViolation(tt.err)
			if ok != tt.wantOK || key != tt.wantKey {
				t.Fatalf("UniqueViolation() = (%q, %v), want (%q, %v)", key, ok, tt.wantKey, tt.wantOK)
			}
		})
	}
}

func TestPlaceholders(t *testing.T) {
	if got := Placeholders(3); got != "?, ?, ?" {
		t.Fatalf("Placeholders(3) = %q", got)
	}
	if got := Placeholders(0); got != "" {
		t.Fatalf("Placeholders(0) = %q", got)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"mysql default", Config{MySQL: MySQLConfig{DSN: "u:p@tcp(h:3306)/d"}}, false},
		{"mysql missing dsn", Config{Driver: "mysql"}, true},
		{"postgres", Config{Driver: "postgres", Postgres: PostgresConfig{DSN: "postgres://h/d"}}, false},
		{"postgres missing dsn", Config{Driver: "pgx", MySQL: MySQLConfig{DSN: "x"}}, true},
		{"unknown driver", Config{Driver: "sqlite"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.cfg.Validate(); (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
