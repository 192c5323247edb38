package database

import (
	"context"
	"fmt"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver
	"github.com/jmoiron/sqlx"

	"github.com/smarttransit/afc-backend/internal/config"
)

// PostgresDB wraps the sqlx pool shared by every repository
type PostgresDB struct {
	*sqlx.DB
}

// NewConnection creates a new database connection
func NewConnection(cfg config.DatabaseConfig) (*PostgresDB, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("database URL is required")
	}

	// Connection poolers such as Supavisor reject the extended protocol's
	// prepared statements, so ask pgx for the simple protocol
	connectionURL := cfg.URL
	if !strings.Contains(connectionURL, "default_query_exec_mode") {
		separator := "?"
		if strings.Contains(connectionURL, "?") {
			separator = "&"
		}
		connectionURL = connectionURL + separator + "default_query_exec_mode=simple_protocol"
	}

	db, err := sqlx.Connect("pgx", connectionURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetMaxIdleConns(cfg.MaxIdleConnections)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxLifetime / 2)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresDB{DB: db}, nil
}

// Health pings the database within the caller's deadline
func (db *PostgresDB) Health(ctx context.Context) error {
	return db.PingContext(ctx)
}
