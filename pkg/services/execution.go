package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dukex/agentflow/pkg/models"
	"github.com/dukex/agentflow/pkg/observer"
	"github.com/dukex/agentflow/pkg/persistence"
	"github.com/dukex/agentflow/pkg/workflow"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
)

const (
	DefaultMaxConcurrentExecutions = 10
	DefaultExecutionTimeout        = 300 * time.Second
)

type ExecutionOptions struct {
	MaxConcurrent int
	// Timeout is the wall-clock budget of one execution; zero disables it.
	Timeout time.Duration
}

// StartRequest submits a workflow for execution.
type StartRequest struct {
	Workflow *models.WorkflowDefinition `json:"workflow" validate:"required"`
	Inputs   map[string]any             `json:"inputs,omitempty"`
	UserID   string                     `json:"user_id,omitempty"`
}

// Execution starts, observes and cancels workflow executions. Runs are
// tracked in process; records are read from the store.
type Execution struct {
	store     persistence.ExecutionStore
	executor  *workflow.Executor
	bus       *observer.Bus
	validator *validator.Validate
	slots     *semaphore.Weighted
	timeout   time.Duration
	logger    *slog.Logger

	ctx    context.Context //nolint:containedctx // lifetime of background runs
	stop   context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
	closed bool
	live   map[string]*liveRun
}

// liveRun is a run tracked in process. release aborts its wait for a
// concurrency slot.
type liveRun struct {
	ec      *workflow.ExecutionContext
	release context.CancelFunc
}

func NewExecution(store persistence.ExecutionStore, executor *workflow.Executor, bus *observer.Bus, logger *slog.Logger, opts ExecutionOptions) *Execution {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = DefaultMaxConcurrentExecutions
	}

	ctx, stop := context.WithCancel(context.Background())

	return &Execution{
		store:     store,
		executor:  executor,
		bus:       bus,
		validator: validator.New(validator.WithRequiredStructEnabled()),
		slots:     semaphore.NewWeighted(int64(opts.MaxConcurrent)),
		timeout:   opts.Timeout,
		logger:    logger.With("module", "execution_service"),
		ctx:       ctx,
		stop:      stop,
		live:      make(map[string]*liveRun),
	}
}

// HealthCheck checks the health of the persistence layer.
func (s *Execution) HealthCheck(ctx context.Context) (string, bool) {
	if s.store == nil {
		return "Persistence layer not initialized", false
	}

	err := s.store.HealthCheck(ctx)
	if err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

// Start validates the workflow, persists a pending record and runs it in the
// background once a concurrency slot is free.
func (s *Execution) Start(ctx context.Context, req StartRequest) (*models.Execution, error) {
	if req.Workflow == nil {
		return nil, NewValidationError("Start", "WORKFLOW_REQUIRED", "workflow is required", ErrWorkflowNil)
	}

	err := s.validator.Struct(req)
	if err != nil {
		return nil, NewValidationError("Start", "INVALID_REQUEST", err.Error(), ErrInvalidRequest)
	}

	ec, err := s.executor.Prepare(uuid.NewString(), req.Workflow, req.Inputs, req.UserID, s.timeout)
	if err != nil {
		return nil, NewValidationError("Start", "INVALID_WORKFLOW", err.Error(), err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()

		return nil, &ServiceError{Op: "Start", Code: "SHUTTING_DOWN", Err: ErrShuttingDown}
	}

	queued, release := context.WithCancel(s.ctx)
	s.live[ec.ID] = &liveRun{ec: ec, release: release}
	s.wg.Add(1)
	s.mu.Unlock()

	record := ec.Record()

	err = s.store.Create(ctx, record)
	if err != nil {
		s.forget(ec.ID)
		s.wg.Done()

		return nil, fmt.Errorf("failed to create execution record: %w", err)
	}

	s.logger.InfoContext(ctx, "Execution accepted", "execution_id", ec.ID, "workflow_id", ec.WorkflowID)

	go s.run(queued, ec)

	return record, nil
}

// run waits for a slot on queued, then executes ec. A run cancelled while
// queued never gets a slot; Execute then records it cancelled from pending.
func (s *Execution) run(queued context.Context, ec *workflow.ExecutionContext) {
	defer s.wg.Done()
	defer s.forget(ec.ID)

	err := s.slots.Acquire(queued, 1)
	if err == nil {
		defer s.slots.Release(1)
	}

	err = s.executor.Execute(s.ctx, ec)
	if err != nil && !errors.Is(err, workflow.ErrExecutionCancelled) {
		s.logger.Warn("Execution failed", "execution_id", ec.ID, "error", err)
	}
}

func (s *Execution) forget(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if run, ok := s.live[id]; ok {
		run.release()
		delete(s.live, id)
	}
}

func (s *Execution) running(id string) (*workflow.ExecutionContext, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.live[id]
	if !ok {
		return nil, false
	}

	return run.ec, true
}

func (s *Execution) release(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if run, ok := s.live[id]; ok {
		run.release()
	}
}

func (s *Execution) Get(ctx context.Context, id string) (*models.Execution, error) {
	return s.store.Get(ctx, id)
}

func (s *Execution) List(ctx context.Context, filter models.ExecutionFilter) ([]*models.Execution, error) {
	err := s.validator.Struct(filter)
	if err != nil {
		return nil, NewValidationError("List", "INVALID_FILTER", err.Error(), ErrInvalidRequest)
	}

	return s.store.List(ctx, filter)
}

func (s *Execution) GetLogs(ctx context.Context, id string, query models.LogQuery) (*models.LogPage, error) {
	err := s.validator.Struct(query)
	if err != nil {
		return nil, NewValidationError("GetLogs", "INVALID_QUERY", err.Error(), ErrInvalidRequest)
	}

	return s.store.GetLogs(ctx, id, query.Normalize())
}

// Cancel requests cooperative cancellation and returns the current record. The
// run observes the request at its next checkpoint. A record with no live run
// in this process is cancelled directly in the store.
func (s *Execution) Cancel(ctx context.Context, id string) (*models.Execution, error) {
	if ec, ok := s.running(id); ok {
		if ec.Status().IsTerminal() || !ec.RequestCancel() {
			return nil, NewInvalidStateError("Cancel", id, string(ec.Status()))
		}

		if ec.Status() == models.ExecutionStatusPending {
			s.release(id)
		}

		s.logger.InfoContext(ctx, "Cancellation requested", "execution_id", id)

		return s.store.Get(ctx, id)
	}

	execution, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if execution.Status.IsTerminal() {
		return nil, NewInvalidStateError("Cancel", id, string(execution.Status))
	}

	err = s.store.UpdateStatus(ctx, id, models.ExecutionStatusCancelled)
	if err != nil {
		if persistence.IsTerminalExecution(err) {
			return nil, NewInvalidStateError("Cancel", id, "terminal")
		}

		return nil, fmt.Errorf("failed to cancel execution %s: %w", id, err)
	}

	s.appendLog(ctx, id, models.LogLevelWarning, "Workflow execution cancelled")
	s.bus.CloseExecution(id)
	s.logger.InfoContext(ctx, "Cancelled orphaned execution", "execution_id", id)

	return s.store.Get(ctx, id)
}

// Wait blocks until the live run of id ends, then returns its record.
func (s *Execution) Wait(ctx context.Context, id string) (*models.Execution, error) {
	if ec, ok := s.running(id); ok {
		select {
		case <-ec.Done():
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return s.store.Get(ctx, id)
}

// Subscribe attaches a live subscriber to id and returns the record as of the
// moment of attaching. The subscription of an execution that already ended
// is closed at once; its history is in the record.
func (s *Execution) Subscribe(ctx context.Context, id string) (*observer.Subscription, *models.Execution, error) {
	sub := s.bus.Subscribe(id)

	execution, err := s.store.Get(ctx, id)
	if err != nil {
		sub.Close()

		return nil, nil, err
	}

	if execution.Status.IsTerminal() {
		sub.Close()
	}

	return sub, execution, nil
}

// Ping delivers a pong to the subscriber subscriptionID of id only.
func (s *Execution) Ping(ctx context.Context, id, subscriptionID string) error {
	if subscriptionID == "" {
		return NewValidationError("ping", "SUBSCRIPTION_REQUIRED", "subscription id is required", ErrInvalidRequest)
	}

	_, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}

	if !s.bus.Ping(id, subscriptionID) {
		return &ServiceError{
			Op:      "ping",
			Code:    "SUBSCRIPTION_NOT_FOUND",
			Message: fmt.Sprintf("subscription %s is not attached to execution %s", subscriptionID, id),
			Err:     ErrSubscriptionNotFound,
		}
	}

	return nil
}

// SweepStale fails pending or running records that have no live run in this
// process and are older than the execution timeout.
func (s *Execution) SweepStale(ctx context.Context) (int, error) {
	if s.timeout <= 0 {
		return 0, nil
	}

	executions, err := s.store.ListRunning(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list running executions: %w", err)
	}

	cutoff := s.executor.Now().Add(-s.timeout)
	swept := 0

	for _, execution := range executions {
		if _, ok := s.running(execution.ID); ok || execution.StartedAt.After(cutoff) {
			continue
		}

		message := fmt.Sprintf("%v after %s", workflow.ErrExecutionTimeout, s.timeout)

		err = s.store.SetError(ctx, execution.ID, message)
		if err == nil {
			err = s.store.UpdateStatus(ctx, execution.ID, models.ExecutionStatusFailed)
		}

		if err != nil {
			s.logger.WarnContext(ctx, "Failed to sweep stale execution", "execution_id", execution.ID, "error", err)

			continue
		}

		s.appendLog(ctx, execution.ID, models.LogLevelError, "Workflow execution failed: "+message)
		s.bus.CloseExecution(execution.ID)

		swept++
	}

	return swept, nil
}

func (s *Execution) appendLog(ctx context.Context, id string, level models.LogLevel, message string) {
	err := s.store.AppendLog(ctx, id, models.LogEntry{
		Timestamp: s.executor.Now().UTC(),
		Level:     level,
		Message:   message,
	})
	if err != nil {
		s.logger.WarnContext(ctx, "Failed to persist execution log", "execution_id", id, "error", err)
	}
}

// Shutdown stops accepting executions, cancels the live ones and waits for
// them to finish or for ctx to end.
func (s *Execution) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	for _, run := range s.live {
		run.ec.RequestCancel()
		run.release()
	}
	s.mu.Unlock()

	done := make(chan struct{})

	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.stop()

		return nil
	case <-ctx.Done():
		s.stop()

		return ctx.Err()
	}
}
