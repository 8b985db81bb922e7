// Package file provides a file-based execution store.
//
// Each execution is kept as <root>/executions/<id>.json and its log as an
// append-only JSON lines file <root>/executions/<id>.log.jsonl.
package file

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dukex/agentflow/pkg/models"
	"github.com/dukex/agentflow/pkg/persistence"
)

// Store implements persistence.ExecutionStore on the file system.
type Store struct {
	root string
	mu   sync.Mutex
	now  func() time.Time
}

var _ persistence.ExecutionStore = (*Store)(nil)

// NewStore creates a store rooted at root. A "file://" prefix is accepted.
func NewStore(root string) *Store {
	return &Store{
		root: strings.Replace(root, "file://", "", 1),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) dir() string {
	return filepath.Join(s.root, "executions")
}

// validateExecutionID validates that the execution ID is safe for file operations.
func validateExecutionID(executionID string) error {
	if executionID == "" {
		return errors.New("execution ID cannot be empty")
	}

	if strings.Contains(executionID, "..") || strings.Contains(executionID, "/") || strings.Contains(executionID, "\\") {
		return errors.New("execution ID contains invalid characters")
	}

	return nil
}

func (s *Store) recordPath(executionID string) (string, error) {
	if err := validateExecutionID(executionID); err != nil {
		return "", &persistence.ExecutionError{Op: "path", ExecutionID: executionID, Err: persistence.ErrInvalidExecutionID, Message: err.Error()}
	}

	return filepath.Join(s.dir(), executionID+".json"), nil
}

func (s *Store) logPath(executionID string) string {
	return filepath.Join(s.dir(), executionID+".log.jsonl")
}

func (s *Store) Create(_ context.Context, execution *models.Execution) error {
	path, err := s.recordPath(execution.ID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(path); err == nil {
		return persistence.NewExecutionError("Create", execution.ID, persistence.ErrExecutionAlreadyExists)
	}

	err = os.MkdirAll(s.dir(), 0750)
	if err != nil {
		return fmt.Errorf("failed to create executions directory: %w", err)
	}

	toSave := *execution
	toSave.Logs = nil

	if toSave.NodeStates == nil {
		toSave.NodeStates = make(map[string]models.NodeState)
	}

	err = s.write(path, &toSave)
	if err != nil {
		return err
	}

	for _, entry := range execution.Logs {
		err = s.appendLogLine(execution.ID, entry)
		if err != nil {
			return err
		}
	}

	return nil
}

func (s *Store) UpdateStatus(_ context.Context, executionID string, status models.ExecutionStatus) error {
	return s.mutate("UpdateStatus", executionID, func(execution *models.Execution) error {
		return persistence.ApplyStatus(execution, status, s.now())
	})
}

func (s *Store) UpdateNodeState(_ context.Context, executionID string, nodeID string, state models.NodeState) error {
	return s.mutate("UpdateNodeState", executionID, func(execution *models.Execution) error {
		persistence.ApplyNodeState(execution, nodeID, state)

		return nil
	})
}

func (s *Store) AppendLog(_ context.Context, executionID string, entry models.LogEntry) error {
	path, err := s.recordPath(executionID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return persistence.NewExecutionError("AppendLog", executionID, persistence.ErrExecutionNotFound)
	}

	return s.appendLogLine(executionID, entry)
}

func (s *Store) SetResult(_ context.Context, executionID string, result any) error {
	return s.mutate("SetResult", executionID, func(execution *models.Execution) error {
		execution.Result = result

		return nil
	})
}

func (s *Store) SetError(_ context.Context, executionID string, message string) error {
	return s.mutate("SetError", executionID, func(execution *models.Execution) error {
		execution.Error = message

		return nil
	})
}

func (s *Store) Get(_ context.Context, executionID string) (*models.Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	execution, err := s.read("Get", executionID)
	if err != nil {
		return nil, err
	}

	logs, err := s.readLogs(executionID)
	if err != nil {
		return nil, err
	}

	execution.Logs = logs

	return execution, nil
}

func (s *Store) List(_ context.Context, filter models.ExecutionFilter) ([]*models.Execution, error) {
	executions, err := s.all()
	if err != nil {
		return nil, err
	}

	return persistence.FilterExecutions(executions, filter), nil
}

func (s *Store) GetLogs(_ context.Context, executionID string, query models.LogQuery) (*models.LogPage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.read("GetLogs", executionID)
	if err != nil {
		return nil, err
	}

	logs, err := s.readLogs(executionID)
	if err != nil {
		return nil, err
	}

	return persistence.PageLogs(executionID, logs, query), nil
}

func (s *Store) ListRunning(_ context.Context) ([]*models.Execution, error) {
	executions, err := s.all()
	if err != nil {
		return nil, err
	}

	running := make([]*models.Execution, 0)

	for _, execution := range executions {
		if persistence.IsRunning(execution) {
			running = append(running, execution)
		}
	}

	return persistence.FilterExecutions(running, models.ExecutionFilter{}), nil
}

// HealthCheck verifies the root directory exists.
func (s *Store) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(s.root); os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return nil
}

// Close performs any necessary cleanup. For file-based persistence, there is nothing to clean up.
func (s *Store) Close(_ context.Context) error {
	return nil
}

func (s *Store) mutate(op, executionID string, fn func(*models.Execution) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	execution, err := s.read(op, executionID)
	if err != nil {
		return err
	}

	err = fn(execution)
	if err != nil {
		return err
	}

	path, _ := s.recordPath(executionID)

	return s.write(path, execution)
}

func (s *Store) read(op, executionID string) (*models.Execution, error) {
	path, err := s.recordPath(executionID)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path) // #nosec G304 -- path is validated and constructed safely
	if err != nil {
		if os.IsNotExist(err) {
			return nil, persistence.NewExecutionError(op, executionID, persistence.ErrExecutionNotFound)
		}

		return nil, fmt.Errorf("failed to read execution %s: %w", executionID, err)
	}

	var execution models.Execution

	err = json.Unmarshal(data, &execution)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal execution %s: %w", executionID, err)
	}

	return &execution, nil
}

// write replaces the record file through a rename so readers never see a partial file.
func (s *Store) write(path string, execution *models.Execution) error {
	data, err := json.Marshal(execution)
	if err != nil {
		return fmt.Errorf("failed to marshal execution %s: %w", execution.ID, err)
	}

	tmp := path + ".tmp"

	err = os.WriteFile(tmp, data, 0600)
	if err != nil {
		return fmt.Errorf("failed to write execution %s: %w", execution.ID, err)
	}

	err = os.Rename(tmp, path)
	if err != nil {
		return fmt.Errorf("failed to replace execution %s: %w", execution.ID, err)
	}

	return nil
}

func (s *Store) appendLogLine(executionID string, entry models.LogEntry) error {
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal log entry: %w", err)
	}

	file, err := os.OpenFile(s.logPath(executionID), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to open log for execution %s: %w", executionID, err)
	}

	_, err = file.Write(append(line, '\n'))
	if err != nil {
		_ = file.Close()

		return fmt.Errorf("failed to append log for execution %s: %w", executionID, err)
	}

	return file.Close()
}

func (s *Store) readLogs(executionID string) ([]models.LogEntry, error) {
	data, err := os.ReadFile(s.logPath(executionID)) // #nosec G304 -- id validated by caller
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to read log for execution %s: %w", executionID, err)
	}

	var logs []models.LogEntry

	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		if len(bytes.TrimSpace(scanner.Bytes())) == 0 {
			continue
		}

		var entry models.LogEntry

		err := json.Unmarshal(scanner.Bytes(), &entry)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal log entry for execution %s: %w", executionID, err)
		}

		logs = append(logs, entry)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan log for execution %s: %w", executionID, err)
	}

	return logs, nil
}

func (s *Store) all() ([]*models.Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir())
	if err != nil {
		if os.IsNotExist(err) {
			return []*models.Execution{}, nil
		}

		return nil, fmt.Errorf("failed to read executions directory: %w", err)
	}

	executions := make([]*models.Execution, 0, len(entries))

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}

		execution, err := s.read("List", strings.TrimSuffix(name, ".json"))
		if err != nil {
			return nil, err
		}

		executions = append(executions, execution)
	}

	return executions, nil
}
