package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/tokengen/tokengen-bot/internal/config"
)

// Connect opens the MySQL connection with sensible pooling defaults.
func Connect(cfg config.Config) (*sql.DB, error) {
	dsn, err := buildDSN(cfg.MySQLDSN, cfg.StoreTimeout)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}

	db.SetConnMaxLifetime(time.Minute * 5)
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.StoreTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping mysql: %w", err)
	}

	return db, nil
}

// buildDSN normalizes the operator-supplied DSN. parseTime is forced on
// because DATE and TIMESTAMP columns are scanned into time.Time
// throughout the repositories; multiStatements because the bootstrap
// schema runs as one script. The connect/read/write deadlines bound
// every store call so a hung connection cannot block a handler forever.
func buildDSN(raw string, timeout time.Duration) (string, error) {
	dsn, err := mysql.ParseDSN(raw)
	if err != nil {
		return "", fmt.Errorf("parse mysql dsn: %w", err)
	}
	dsn.ParseTime = true
	dsn.MultiStatements = true
	if timeout > 0 {
		dsn.Timeout = timeout
		dsn.ReadTimeout = timeout
		dsn.WriteTimeout = timeout
	}
	return dsn.FormatDSN(), nil
}

// Migrate runs the bootstrap schema to ensure required tables exist.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
