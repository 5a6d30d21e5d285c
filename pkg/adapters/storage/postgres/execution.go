package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aescanero/unite/pkg/domain"
	"go.uber.org/zap"
)

// ExecutionStorage implements ports.ExecutionStore on the workflow_executions table
type ExecutionStorage struct {
	db     *sql.DB
	logger *zap.Logger
}

const executionColumns = `id, workflow_definition_id, case_id, status, input_variables,
	output_variables, error_message, started_at, updated_at, completed_at`

// Create inserts a new execution
func (s *ExecutionStorage) Create(ctx context.Context, execution *domain.Execution) error {
	inputs, outputs, err := marshalVariables(execution)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO workflow_executions (`+executionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		execution.ID, execution.DefinitionID, execution.CaseID, string(execution.Status),
		inputs, outputs, nullString(execution.ErrorMessage),
		execution.StartedAt, execution.UpdatedAt, execution.CompletedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("execution already exists: %s", execution.ID)
		}
		return fmt.Errorf("failed to insert execution: %w", err)
	}
	return nil
}

// Get retrieves an execution by id
func (s *ExecutionStorage) Get(ctx context.Context, id string) (*domain.Execution, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+executionColumns+` FROM workflow_executions WHERE id = $1`, id)
	execution, err := scanExecution(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", domain.ErrExecutionNotFound, id)
		}
		return nil, fmt.Errorf("failed to get execution: %w", err)
	}
	return execution, nil
}

// List returns executions matching filter ordered by start time
func (s *ExecutionStorage) List(ctx context.Context, filter domain.ExecutionFilter) ([]*domain.Execution, error) {
	var (
		clauses []string
		args    []interface{}
	)
	if filter.DefinitionID != "" {
		args = append(args, filter.DefinitionID)
		clauses = append(clauses, fmt.Sprintf("workflow_definition_id = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		clauses = append(clauses, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.CaseID != "" {
		args = append(args, filter.CaseID)
		clauses = append(clauses, fmt.Sprintf("case_id = $%d", len(args)))
	}

	query := `SELECT ` + executionColumns + ` FROM workflow_executions`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY started_at ASC, id ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query executions: %w", err)
	}
	defer rows.Close()

	executions := make([]*domain.Execution, 0)
	for rows.Next() {
		execution, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}
		executions = append(executions, execution)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate executions: %w", err)
	}
	return executions, nil
}

// CompareAndSwap updates an execution only while its stored status equals expected
func (s *ExecutionStorage) CompareAndSwap(ctx context.Context, expected domain.ExecutionStatus, execution *domain.Execution) error {
	inputs, outputs, err := marshalVariables(execution)
	if err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE workflow_executions SET
			status = $3, input_variables = $4, output_variables = $5,
			error_message = $6, updated_at = $7, completed_at = $8
		WHERE id = $1 AND status = $2`,
		execution.ID, string(expected), string(execution.Status), inputs, outputs,
		nullString(execution.ErrorMessage), execution.UpdatedAt, execution.CompletedAt)
	if err != nil {
		return fmt.Errorf("failed to update execution: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 1 {
		return nil
	}

	// Nothing matched: the row is either gone or has moved on
	var status string
	err = s.db.QueryRowContext(ctx, `SELECT status FROM workflow_executions WHERE id = $1`, execution.ID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", domain.ErrExecutionNotFound, execution.ID)
	}
	if err != nil {
		return fmt.Errorf("failed to get execution: %w", err)
	}
	return fmt.Errorf("%w: expected %s, found %s", domain.ErrStatusConflict, expected, status)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanExecution(row rowScanner) (*domain.Execution, error) {
	var (
		execution    domain.Execution
		status       string
		inputs       []byte
		outputs      []byte
		errorMessage sql.NullString
		completedAt  sql.NullTime
	)
	err := row.Scan(&execution.ID, &execution.DefinitionID, &execution.CaseID, &status,
		&inputs, &outputs, &errorMessage, &execution.StartedAt, &execution.UpdatedAt, &completedAt)
	if err != nil {
		return nil, err
	}

	execution.Status = domain.ExecutionStatus(status)
	execution.ErrorMessage = errorMessage.String
	if completedAt.Valid {
		t := completedAt.Time
		execution.CompletedAt = &t
	}
	if len(inputs) > 0 {
		if err := json.Unmarshal(inputs, &execution.InputVariables); err != nil {
			return nil, fmt.Errorf("failed to unmarshal input variables: %w", err)
		}
	}
	if len(outputs) > 0 {
		if err := json.Unmarshal(outputs, &execution.OutputVariables); err != nil {
			return nil, fmt.Errorf("failed to unmarshal output variables: %w", err)
		}
	}
	return &execution, nil
}

// marshalVariables encodes the JSONB columns; absent outputs become NULL
func marshalVariables(execution *domain.Execution) (string, sql.NullString, error) {
	inputs := execution.InputVariables
	if inputs == nil {
		inputs = domain.Variables{}
	}
	in, err := json.Marshal(inputs)
	if err != nil {
		return "", sql.NullString{}, fmt.Errorf("failed to marshal input variables: %w", err)
	}

	var out sql.NullString
	if execution.OutputVariables != nil {
		encoded, err := json.Marshal(execution.OutputVariables)
		if err != nil {
			return "", sql.NullString{}, fmt.Errorf("failed to marshal output variables: %w", err)
		}
		out = sql.NullString{String: string(encoded), Valid: true}
	}
	return string(in), out, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
