package sqlbase

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/dukex/agentflow/pkg/models"
	"github.com/dukex/agentflow/pkg/persistence"
)

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const executionColumns = `id, workflow_id, user_id, status, current_node, inputs, started_at, completed_at, result, error, node_states`

// Store implements persistence.ExecutionStore over database/sql. The schema is
// created by the dialect-specific package through Migrate.
type Store struct {
	db      *sql.DB
	logger  *slog.Logger
	dialect Dialect
	now     func() time.Time
}

var _ persistence.ExecutionStore = (*Store)(nil)

func NewStore(db *sql.DB, logger *slog.Logger, dialect Dialect) *Store {
	return &Store{
		db:      db,
		logger:  logger,
		dialect: dialect,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// DB exposes the underlying handle.
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) Create(ctx context.Context, execution *models.Execution) error {
	if execution.ID == "" {
		return persistence.NewExecutionError("Create", execution.ID, persistence.ErrInvalidExecutionID)
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		var exists int

		err := tx.QueryRowContext(ctx, s.dialect.Rebind("SELECT COUNT(*) FROM executions WHERE id = ?"), execution.ID).Scan(&exists)
		if err != nil {
			return fmt.Errorf("failed to check execution %s: %w", execution.ID, err)
		}

		if exists > 0 {
			return persistence.NewExecutionError("Create", execution.ID, persistence.ErrExecutionAlreadyExists)
		}

		args, err := executionArgs(execution)
		if err != nil {
			return err
		}

		query := `INSERT INTO executions (` + executionColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

		_, err = tx.ExecContext(ctx, s.dialect.Rebind(query), append([]any{execution.ID}, args...)...)
		if err != nil {
			return fmt.Errorf("failed to save execution: %w", err)
		}

		for _, entry := range execution.Logs {
			err = s.insertLog(ctx, tx, execution.ID, entry)
			if err != nil {
				return err
			}
		}

		return nil
	})
}

func (s *Store) UpdateStatus(ctx context.Context, executionID string, status models.ExecutionStatus) error {
	return s.mutate(ctx, "UpdateStatus", executionID, func(execution *models.Execution) error {
		return persistence.ApplyStatus(execution, status, s.now())
	})
}

func (s *Store) UpdateNodeState(ctx context.Context, executionID string, nodeID string, state models.NodeState) error {
	return s.mutate(ctx, "UpdateNodeState", executionID, func(execution *models.Execution) error {
		persistence.ApplyNodeState(execution, nodeID, state)

		return nil
	})
}

func (s *Store) AppendLog(ctx context.Context, executionID string, entry models.LogEntry) error {
	err := s.ensureExists(ctx, s.db, "AppendLog", executionID)
	if err != nil {
		return err
	}

	return s.insertLog(ctx, s.db, executionID, entry)
}

func (s *Store) SetResult(ctx context.Context, executionID string, result any) error {
	return s.mutate(ctx, "SetResult", executionID, func(execution *models.Execution) error {
		execution.Result = result

		return nil
	})
}

func (s *Store) SetError(ctx context.Context, executionID string, message string) error {
	return s.mutate(ctx, "SetError", executionID, func(execution *models.Execution) error {
		execution.Error = message

		return nil
	})
}

func (s *Store) Get(ctx context.Context, executionID string) (*models.Execution, error) {
	execution, err := s.getExecution(ctx, s.db, "Get", executionID, false)
	if err != nil {
		return nil, err
	}

	logs, err := s.queryLogs(ctx, "SELECT logged_at, level, node_id, message FROM execution_logs WHERE execution_id = ? ORDER BY id", executionID)
	if err != nil {
		return nil, err
	}

	execution.Logs = logs

	return execution, nil
}

func (s *Store) List(ctx context.Context, filter models.ExecutionFilter) ([]*models.Execution, error) {
	var (
		conditions []string
		args       []any
	)

	if filter.WorkflowID != "" {
		conditions = append(conditions, "workflow_id = ?")
		args = append(args, filter.WorkflowID)
	}

	if filter.UserID != "" {
		conditions = append(conditions, "user_id = ?")
		args = append(args, filter.UserID)
	}

	if filter.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, string(filter.Status))
	}

	query := "SELECT " + executionColumns + " FROM executions"
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}

	query += " ORDER BY started_at DESC"
	query += s.pagination(filter.Limit, filter.Offset)

	return s.queryExecutions(ctx, query, args...)
}

func (s *Store) GetLogs(ctx context.Context, executionID string, query models.LogQuery) (*models.LogPage, error) {
	query = query.Normalize()

	err := s.ensureExists(ctx, s.db, "GetLogs", executionID)
	if err != nil {
		return nil, err
	}

	where := "execution_id = ?"
	args := []any{executionID}

	if query.Level != "" {
		where += " AND level = ?"
		args = append(args, string(query.Level))
	}

	if query.NodeID != "" {
		where += " AND node_id = ?"
		args = append(args, query.NodeID)
	}

	var total int

	err = s.db.QueryRowContext(ctx, s.dialect.Rebind("SELECT COUNT(*) FROM execution_logs WHERE "+where), args...).Scan(&total)
	if err != nil {
		return nil, fmt.Errorf("failed to count logs for execution %s: %w", executionID, err)
	}

	logs, err := s.queryLogs(ctx,
		"SELECT logged_at, level, node_id, message FROM execution_logs WHERE "+where+" ORDER BY id"+s.pagination(query.Limit, query.Offset),
		args...,
	)
	if err != nil {
		return nil, err
	}

	if logs == nil {
		logs = []models.LogEntry{}
	}

	return &models.LogPage{
		ExecutionID: executionID,
		Logs:        logs,
		Total:       total,
		Limit:       query.Limit,
		Offset:      query.Offset,
	}, nil
}

func (s *Store) ListRunning(ctx context.Context) ([]*models.Execution, error) {
	return s.queryExecutions(ctx,
		"SELECT "+executionColumns+" FROM executions WHERE status IN (?, ?) ORDER BY started_at DESC",
		string(models.ExecutionStatusPending), string(models.ExecutionStatusRunning),
	)
}

// HealthCheck verifies the database connection is healthy.
func (s *Store) HealthCheck(ctx context.Context) error {
	err := s.db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (s *Store) Close(_ context.Context) error {
	if s.db != nil {
		err := s.db.Close()
		if err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}

	return nil
}

func (s *Store) pagination(limit, offset int) string {
	switch {
	case limit > 0 && offset > 0:
		return " LIMIT " + strconv.Itoa(limit) + " OFFSET " + strconv.Itoa(offset)
	case limit > 0:
		return " LIMIT " + strconv.Itoa(limit)
	case offset > 0:
		return " LIMIT " + s.dialect.NoLimit + " OFFSET " + strconv.Itoa(offset)
	default:
		return ""
	}
}

func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	err = fn(tx)
	if err != nil {
		if rollbackErr := tx.Rollback(); rollbackErr != nil {
			s.logger.ErrorContext(ctx, "failed to rollback transaction", "error", rollbackErr)
		}

		return err
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

func (s *Store) mutate(ctx context.Context, op, executionID string, fn func(*models.Execution) error) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		execution, err := s.getExecution(ctx, tx, op, executionID, true)
		if err != nil {
			return err
		}

		err = fn(execution)
		if err != nil {
			return err
		}

		args, err := executionArgs(execution)
		if err != nil {
			return err
		}

		query := `UPDATE executions SET workflow_id = ?, user_id = ?, status = ?, current_node = ?, inputs = ?,
			started_at = ?, completed_at = ?, result = ?, error = ?, node_states = ? WHERE id = ?`

		_, err = tx.ExecContext(ctx, s.dialect.Rebind(query), append(args, executionID)...)
		if err != nil {
			return fmt.Errorf("failed to update execution %s: %w", executionID, err)
		}

		return nil
	})
}

func (s *Store) ensureExists(ctx context.Context, q querier, op, executionID string) error {
	var exists int

	err := q.QueryRowContext(ctx, s.dialect.Rebind("SELECT COUNT(*) FROM executions WHERE id = ?"), executionID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check execution %s: %w", executionID, err)
	}

	if exists == 0 {
		return persistence.NewExecutionError(op, executionID, persistence.ErrExecutionNotFound)
	}

	return nil
}

func (s *Store) insertLog(ctx context.Context, q querier, executionID string, entry models.LogEntry) error {
	_, err := q.ExecContext(ctx,
		s.dialect.Rebind("INSERT INTO execution_logs (execution_id, logged_at, level, node_id, message) VALUES (?, ?, ?, ?, ?)"),
		executionID, entry.Timestamp.UTC(), string(entry.Level), entry.NodeID, entry.Message,
	)
	if err != nil {
		return fmt.Errorf("failed to append log for execution %s: %w", executionID, err)
	}

	return nil
}

func (s *Store) getExecution(ctx context.Context, q querier, op, executionID string, forUpdate bool) (*models.Execution, error) {
	query := "SELECT " + executionColumns + " FROM executions WHERE id = ?"
	if forUpdate {
		query += s.dialect.ForUpdate
	}

	execution, err := scanExecution(q.QueryRowContext(ctx, s.dialect.Rebind(query), executionID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewExecutionError(op, executionID, persistence.ErrExecutionNotFound)
		}

		return nil, fmt.Errorf("failed to scan execution: %w", err)
	}

	return execution, nil
}

func (s *Store) queryExecutions(ctx context.Context, query string, args ...any) ([]*models.Execution, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query executions: %w", err)
	}

	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			s.logger.ErrorContext(ctx, "failed to close rows", "error", closeErr)
		}
	}()

	executions := make([]*models.Execution, 0)

	for rows.Next() {
		execution, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}

		executions = append(executions, execution)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating executions: %w", err)
	}

	return executions, nil
}

func (s *Store) queryLogs(ctx context.Context, query string, args ...any) ([]models.LogEntry, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query logs: %w", err)
	}

	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			s.logger.ErrorContext(ctx, "failed to close rows", "error", closeErr)
		}
	}()

	var logs []models.LogEntry

	for rows.Next() {
		var (
			entry models.LogEntry
			level string
		)

		err := rows.Scan(&entry.Timestamp, &level, &entry.NodeID, &entry.Message)
		if err != nil {
			return nil, fmt.Errorf("failed to scan log entry: %w", err)
		}

		entry.Timestamp = entry.Timestamp.UTC()
		entry.Level = models.LogLevel(level)
		logs = append(logs, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating logs: %w", err)
	}

	return logs, nil
}

// executionArgs returns the column values after id, in executionColumns order.
func executionArgs(execution *models.Execution) ([]any, error) {
	inputsJSON, err := json.Marshal(execution.Inputs)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal inputs: %w", err)
	}

	resultJSON, err := json.Marshal(execution.Result)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}

	nodeStates := execution.NodeStates
	if nodeStates == nil {
		nodeStates = map[string]models.NodeState{}
	}

	nodeStatesJSON, err := json.Marshal(nodeStates)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal node states: %w", err)
	}

	var completedAt sql.NullTime
	if execution.CompletedAt != nil {
		completedAt = sql.NullTime{Time: execution.CompletedAt.UTC(), Valid: true}
	}

	return []any{
		execution.WorkflowID,
		execution.UserID,
		string(execution.Status),
		execution.CurrentNode,
		string(inputsJSON),
		execution.StartedAt.UTC(),
		completedAt,
		string(resultJSON),
		execution.Error,
		string(nodeStatesJSON),
	}, nil
}

// scanExecution scans an execution from a database row.
func scanExecution(scanner interface {
	Scan(dest ...any) error
}) (*models.Execution, error) {
	var (
		execution      models.Execution
		status         string
		inputsJSON     []byte
		resultJSON     []byte
		nodeStatesJSON []byte
		completedAt    sql.NullTime
	)

	err := scanner.Scan(
		&execution.ID,
		&execution.WorkflowID,
		&execution.UserID,
		&status,
		&execution.CurrentNode,
		&inputsJSON,
		&execution.StartedAt,
		&completedAt,
		&resultJSON,
		&execution.Error,
		&nodeStatesJSON,
	)
	if err != nil {
		return nil, err
	}

	execution.Status = models.ExecutionStatus(status)
	execution.StartedAt = execution.StartedAt.UTC()

	if completedAt.Valid {
		completed := completedAt.Time.UTC()
		execution.CompletedAt = &completed
	}

	if len(inputsJSON) > 0 {
		err = json.Unmarshal(inputsJSON, &execution.Inputs)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal inputs: %w", err)
		}
	}

	if len(resultJSON) > 0 {
		err = json.Unmarshal(resultJSON, &execution.Result)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal result: %w", err)
		}
	}

	execution.NodeStates = make(map[string]models.NodeState)

	if len(nodeStatesJSON) > 0 {
		err = json.Unmarshal(nodeStatesJSON, &execution.NodeStates)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal node states: %w", err)
		}
	}

	return &execution, nil
}
