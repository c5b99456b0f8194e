// Package task runs the durable work queue that makes every side effect
// of a transaction reliable: claim one atomically, execute, record the
// attempt, retry on failure, abort and alert after exhaustion.
package task

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/tokyo-tower/domain-sub000/internal/clock"
	"github.com/tokyo-tower/domain-sub000/internal/domain"
)

// Repository is the durable task store. Claim and the status transitions
// are atomic at the store level; workers carry no client-side locks.
type Repository interface {
	// ClaimOneByName atomically moves the oldest runnable Ready task of
	// the given name to Running and returns it; nil when none matches.
	ClaimOneByName(ctx context.Context, name domain.TaskName, now time.Time) (*domain.Task, error)
	// Finish records a successful attempt and moves the task to Executed.
	Finish(ctx context.Context, id string, result domain.TaskExecutionResult) error
	// Requeue records a failed attempt, decrements the retry budget and
	// moves the task back to Ready with the new runsAt.
	Requeue(ctx context.Context, id string, result domain.TaskExecutionResult, runsAt time.Time) error
	// Abort records a final failed attempt and moves the task to Aborted.
	Abort(ctx context.Context, id string, result domain.TaskExecutionResult) error
	// RequeueStuck returns to Ready every task stuck in Running since
	// before the cutoff that still has retries, reporting how many moved.
	RequeueStuck(ctx context.Context, before time.Time) (int, error)
	// AbortOneStuck aborts one task stuck in Running since before the
	// cutoff with no retries left; nil when none matches.
	AbortOneStuck(ctx context.Context, before time.Time) (*domain.Task, error)
}

// Handler executes one task payload. Handlers must tolerate re-execution
// with partial prior side effects; a crash between external completion
// and the Executed mark is always possible.
type Handler func(ctx context.Context, task domain.Task) error

// AlertPublisher is the sink for operator alerts. The broker publishers
// satisfy it; the engine never closes the connection it is handed.
type AlertPublisher interface {
	Publish(ctx context.Context, routingKey string, body any) error
}

type Engine struct {
	repo          Repository
	handlers      map[domain.TaskName]Handler
	alerts        AlertPublisher
	clock         clock.Clock
	retryInterval time.Duration
	logger        *log.Logger
}

type EngineConfig struct {
	// RetryInterval is how far runsAt is pushed forward on a failed
	// attempt.
	RetryInterval time.Duration
}

const defaultRetryInterval = 10 * time.Minute

func NewEngine(repo Repository, alerts AlertPublisher, clk clock.Clock, cfg EngineConfig, logger *log.Logger) *Engine {
	interval := cfg.RetryInterval
	if interval <= 0 {
		interval = defaultRetryInterval
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Engine{
		repo:          repo,
		handlers:      make(map[domain.TaskName]Handler),
		alerts:        alerts,
		clock:         clk,
		retryInterval: interval,
		logger:        logger,
	}
}

// Register binds a handler to a task name. Not safe for concurrent use;
// call during wiring, before workers start.
func (e *Engine) Register(name domain.TaskName, h Handler) {
	e.handlers[name] = h
}

// ExecuteOneByName claims and runs at most one runnable task of the
// given name. A nil task with nil error means nothing was runnable.
func (e *Engine) ExecuteOneByName(ctx context.Context, name domain.TaskName) (*domain.Task, error) {
	task, err := e.repo.ClaimOneByName(ctx, name, e.clock.Now())
	if err != nil {
		return nil, fmt.Errorf("claim task %s: %w", name, err)
	}
	if task == nil {
		return nil, nil
	}

	handler, ok := e.handlers[name]
	var execErr error
	if !ok {
		execErr = fmt.Errorf("no handler for task %s: %w", name, domain.ErrNotImplemented)
	} else {
		execErr = handler(ctx, *task)
	}

	now := e.clock.Now()
	if execErr == nil {
		result := domain.TaskExecutionResult{ExecutedAt: now}
		if err := e.repo.Finish(ctx, task.ID, result); err != nil {
			return nil, fmt.Errorf("finish task %s: %w", task.ID, err)
		}
		return task, nil
	}

	e.logger.Printf("task failed name=%s id=%s tried=%d remaining=%d err=%v",
		task.Name, task.ID, task.NumberOfTried+1, task.RemainingNumberOfTries, execErr)

	result := domain.TaskExecutionResult{ExecutedAt: now, Error: execErr.Error()}
	if task.RemainingNumberOfTries > 0 {
		if err := e.repo.Requeue(ctx, task.ID, result, now.Add(e.retryInterval)); err != nil {
			return nil, fmt.Errorf("requeue task %s: %w", task.ID, err)
		}
		return task, nil
	}

	if err := e.repo.Abort(ctx, task.ID, result); err != nil {
		return nil, fmt.Errorf("abort task %s: %w", task.ID, err)
	}
	e.alert(ctx, *task, execErr.Error())
	return task, nil
}

// Retry is the liveness recovery for crashed workers: tasks stuck in
// Running longer than olderThan with retries remaining go back to Ready.
func (e *Engine) Retry(ctx context.Context, olderThan time.Duration) (int, error) {
	return e.repo.RequeueStuck(ctx, e.clock.Now().Add(-olderThan))
}

// AbortOne aborts one task stuck in Running past olderThan with no
// retries left and alerts the operator; nil when none is stuck.
func (e *Engine) AbortOne(ctx context.Context, olderThan time.Duration) (*domain.Task, error) {
	task, err := e.repo.AbortOneStuck(ctx, e.clock.Now().Add(-olderThan))
	if err != nil {
		return nil, fmt.Errorf("abort stuck task: %w", err)
	}
	if task == nil {
		return nil, nil
	}
	e.alert(ctx, *task, "stuck in Running with no retries remaining")
	return task, nil
}

type abortedAlert struct {
	TaskID        string          `json:"task_id"`
	Name          domain.TaskName `json:"name"`
	NumberOfTried int             `json:"number_of_tried"`
	LastError     string          `json:"last_error"`
}

func (e *Engine) alert(ctx context.Context, task domain.Task, lastError string) {
	alert := abortedAlert{
		TaskID:        task.ID,
		Name:          task.Name,
		NumberOfTried: task.NumberOfTried + 1,
		LastError:     lastError,
	}
	if err := e.alerts.Publish(ctx, "task.aborted", alert); err != nil {
		e.logger.Printf("WARN: publish abort alert task=%s: %v", task.ID, err)
	}
}
