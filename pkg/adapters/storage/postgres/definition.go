package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aescanero/unite/pkg/domain"
	"go.uber.org/zap"
)

// DefinitionStorage implements ports.DefinitionStore on the workflow_definitions table
type DefinitionStorage struct {
	db     *sql.DB
	logger *zap.Logger
}

const definitionColumns = `id, name, description, version, definition, active,
	created_by, tags, created_at, updated_at`

// Create inserts a new definition
func (s *DefinitionStorage) Create(ctx context.Context, definition *domain.Definition) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO workflow_definitions (`+definitionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		definition.ID, definition.Name, definition.Description, definition.Version,
		string(definition.Payload), definition.Active, definition.CreatedBy, definition.Tags,
		definition.CreatedAt, definition.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: name '%s' version '%s'", domain.ErrDuplicateDefinition, definition.Name, definition.Version)
		}
		return fmt.Errorf("failed to insert definition: %w", err)
	}
	return nil
}

// Get retrieves a definition by id
func (s *DefinitionStorage) Get(ctx context.Context, id string) (*domain.Definition, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+definitionColumns+` FROM workflow_definitions WHERE id = $1`, id)
	definition, err := scanDefinition(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", domain.ErrDefinitionNotFound, id)
		}
		return nil, fmt.Errorf("failed to get definition: %w", err)
	}
	return definition, nil
}

// List returns definitions matching filter ordered by creation time
func (s *DefinitionStorage) List(ctx context.Context, filter domain.DefinitionFilter) ([]*domain.Definition, error) {
	var (
		clauses []string
		args    []interface{}
	)
	if filter.ActiveOnly {
		clauses = append(clauses, "active = true")
	}
	if filter.Search != "" {
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
		clauses = append(clauses, fmt.Sprintf("LOWER(name) LIKE $%d", len(args)))
	}

	query := `SELECT ` + definitionColumns + ` FROM workflow_definitions`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at ASC, id ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query definitions: %w", err)
	}
	defer rows.Close()

	definitions := make([]*domain.Definition, 0)
	for rows.Next() {
		definition, err := scanDefinition(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan definition: %w", err)
		}
		definitions = append(definitions, definition)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate definitions: %w", err)
	}
	return definitions, nil
}

// Update rewrites every column but id and created_at
func (s *DefinitionStorage) Update(ctx context.Context, definition *domain.Definition) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE workflow_definitions
		SET name = $2, description = $3, version = $4, definition = $5, active = $6,
			created_by = $7, tags = $8, updated_at = $9
		WHERE id = $1`,
		definition.ID, definition.Name, definition.Description, definition.Version,
		string(definition.Payload), definition.Active, definition.CreatedBy, definition.Tags,
		definition.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: name '%s' version '%s'", domain.ErrDuplicateDefinition, definition.Name, definition.Version)
		}
		return fmt.Errorf("failed to update definition: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", domain.ErrDefinitionNotFound, definition.ID)
	}
	return nil
}

// SetActive flips the active flag and returns the updated definition
func (s *DefinitionStorage) SetActive(ctx context.Context, id string, active bool) (*domain.Definition, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE workflow_definitions SET active = $2, updated_at = $3
		WHERE id = $1
		RETURNING `+definitionColumns, id, active, time.Now())
	definition, err := scanDefinition(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", domain.ErrDefinitionNotFound, id)
		}
		return nil, fmt.Errorf("failed to update definition: %w", err)
	}
	return definition, nil
}

// Delete removes a definition
func (s *DefinitionStorage) Delete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM workflow_definitions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete definition: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", domain.ErrDefinitionNotFound, id)
	}
	s.logger.Debug("definition deleted", zap.String("definition_id", id))
	return nil
}

func scanDefinition(row rowScanner) (*domain.Definition, error) {
	var (
		definition domain.Definition
		payload    []byte
	)
	err := row.Scan(&definition.ID, &definition.Name, &definition.Description, &definition.Version,
		&payload, &definition.Active, &definition.CreatedBy, &definition.Tags,
		&definition.CreatedAt, &definition.UpdatedAt)
	if err != nil {
		return nil, err
	}
	definition.Payload = payload
	return &definition, nil
}
