package database

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"strings"

	"github.com/fenilmodi00/vin-backend/config"
	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

//go:embed schema.sql
var schemaSQL string

var DB *sql.DB

// Connect opens the Postgres pool described by cfg and stores it in DB.
func Connect(cfg config.DatabaseConfig) error {
	db, err := Open(cfg)
	if err != nil {
		return err
	}
	DB = db
	return nil
}

// Open establishes a database connection with the configured pool settings
func Open(cfg config.DatabaseConfig) (*sql.DB, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("database url not configured")
	}

	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.PingTimeout)
	defer cancel()

	if err = db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"max_open_conns":     cfg.MaxOpenConns,
		"max_idle_conns":     cfg.MaxIdleConns,
		"conn_max_lifetime":  cfg.ConnMaxLifetime,
		"conn_max_idle_time": cfg.ConnMaxIdleTime,
	}).Info("Connected to database successfully")

	return db, nil
}

func Close() {
	if DB != nil {
		DB.Close()
		logrus.Info("Database connection closed")
	}
}

// HealthCheck pings the pool and logs its statistics
func HealthCheck(ctx context.Context, db *sql.DB) error {
	if db == nil {
		return fmt.Errorf("database connection not established")
	}

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	stats := db.Stats()
	logrus.WithFields(logrus.Fields{
		"max_open_connections": stats.MaxOpenConnections,
		"open_connections":     stats.OpenConnections,
		"in_use":               stats.InUse,
		"idle":                 stats.Idle,
		"wait_count":           stats.WaitCount,
		"wait_duration":        stats.WaitDuration,
	}).Debug("Database connection pool health check")

	return nil
}

// Migrate applies the embedded schema. Every statement is idempotent, and a
// failure aborts startup because the active-VIN index is what enforces dedup.
func Migrate(ctx context.Context, db *sql.DB) error {
	statements := parseSQLStatements(schemaSQL)

	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration statement failed: %w", err)
		}
	}

	logrus.WithField("statements", len(statements)).Info("Database migration completed successfully")
	return nil
}

// parseSQLStatements splits SQL content on statement-terminating semicolons,
// skipping blank and comment-only lines.
func parseSQLStatements(content string) []string {
	var statements []string
	var currentStatement strings.Builder

	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)

		if line == "" || strings.HasPrefix(line, "--") {
			continue
		}

		if currentStatement.Len() > 0 {
			currentStatement.WriteString(" ")
		}
		currentStatement.WriteString(line)

		if strings.HasSuffix(line, ";") {
			stmt := strings.TrimSpace(strings.TrimSuffix(currentStatement.String(), ";"))
			if stmt != "" {
				statements = append(statements, stmt)
			}
			currentStatement.Reset()
		}
	}

	if stmt := strings.TrimSpace(currentStatement.String()); stmt != "" {
		statements = append(statements, stmt)
	}

	return statements
}
