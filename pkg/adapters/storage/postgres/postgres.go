// Package postgres stores executions and definitions in PostgreSQL through
// database/sql and the lib/pq driver.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"github.com/lib/pq"
	"go.uber.org/zap"
)

// uniqueViolation is the SQLSTATE PostgreSQL reports for duplicate keys
const uniqueViolation = "23505"

// Persistence owns the connection pool shared by both stores
type Persistence struct {
	db     *sql.DB
	logger *zap.Logger

	executions  *ExecutionStorage
	definitions *DefinitionStorage
}

// NewPersistence connects, pings and migrates the database
func NewPersistence(ctx context.Context, databaseURL string, logger *zap.Logger) (*Persistence, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := runMigrations(ctx, db, logger); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Persistence{
		db:          db,
		logger:      logger,
		executions:  &ExecutionStorage{db: db, logger: logger},
		definitions: &DefinitionStorage{db: db, logger: logger},
	}, nil
}

// Executions returns the execution store
func (p *Persistence) Executions() *ExecutionStorage {
	return p.executions
}

// Definitions returns the definition store
func (p *Persistence) Definitions() *DefinitionStorage {
	return p.definitions
}

// HealthCheck verifies the database connection is healthy
func (p *Persistence) HealthCheck(ctx context.Context) error {
	if err := p.db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}
	return nil
}

// Close closes the database connection
func (p *Persistence) Close() error {
	if err := p.db.Close(); err != nil {
		return fmt.Errorf("failed to close database connection: %w", err)
	}
	return nil
}

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE workflow_definitions (
				id VARCHAR(64) PRIMARY KEY,
				name VARCHAR(255) NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				version VARCHAR(64) NOT NULL,
				definition JSONB NOT NULL,
				active BOOLEAN NOT NULL DEFAULT true,
				created_by VARCHAR(255) NOT NULL DEFAULT '',
				tags TEXT NOT NULL DEFAULT '',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				UNIQUE (name, version)
			);

			CREATE INDEX idx_workflow_definitions_active ON workflow_definitions(active);
			CREATE INDEX idx_workflow_definitions_created_at ON workflow_definitions(created_at);

			CREATE TABLE workflow_executions (
				id VARCHAR(64) PRIMARY KEY,
				workflow_definition_id VARCHAR(64) NOT NULL,
				case_id VARCHAR(255) NOT NULL,
				status VARCHAR(20) NOT NULL CHECK (status IN ('PENDING', 'RUNNING', 'COMPLETED', 'FAILED', 'CANCELLED')),
				input_variables JSONB NOT NULL DEFAULT '{}',
				output_variables JSONB,
				error_message TEXT,
				started_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				completed_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX idx_workflow_executions_definition ON workflow_executions(workflow_definition_id);
			CREATE INDEX idx_workflow_executions_status ON workflow_executions(status);
			CREATE INDEX idx_workflow_executions_case ON workflow_executions(case_id);
			CREATE INDEX idx_workflow_executions_started_at ON workflow_executions(started_at);
		`,
	}
}

// runMigrations applies every migration newer than the recorded schema
// version, in version order, each in its own transaction
func runMigrations(ctx context.Context, db *sql.DB, logger *zap.Logger) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		)`)
	if err != nil {
		return fmt.Errorf("failed to create schema_migrations table: %w", err)
	}

	var current int
	if err := db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&current); err != nil {
		return fmt.Errorf("failed to query current schema version: %w", err)
	}

	all := migrations()
	versions := make([]int, 0, len(all))
	for version := range all {
		versions = append(versions, version)
	}
	sort.Ints(versions)

	for _, version := range versions {
		if version <= current {
			continue
		}
		logger.Info("applying migration", zap.Int("version", version))

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction for migration %d: %w", version, err)
		}
		if _, err := tx.ExecContext(ctx, all[version]); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to execute migration %d: %w", version, err)
		}
		if _, err := tx.ExecContext(ctx, "INSERT INTO schema_migrations (version) VALUES ($1)", version); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", version, err)
		}
	}

	logger.Info("database migrations completed", zap.Int("version", versions[len(versions)-1]))
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}
