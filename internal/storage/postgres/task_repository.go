package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tokyo-tower/domain-sub000/internal/domain"
)

// TaskRepository is the durable queue. A claim is a single conditional
// UPDATE with SKIP LOCKED, so concurrent workers never run the same task
// and an idle worker never waits on a busy one.
type TaskRepository struct {
	db
}

func NewTaskRepository(pool *pgxpool.Pool) *TaskRepository {
	return &TaskRepository{db: db{pool: pool}}
}

const taskColumns = `id, name, status, runs_at, remaining_number_of_tries, number_of_tried,
	last_tried_at, execution_results, data, created_at`

func (r *TaskRepository) CreateTasks(ctx context.Context, tasks []domain.Task) error {
	for _, t := range tasks {
		_, err := r.exec(ctx, `
			INSERT INTO tasks (
				id, name, status, runs_at, remaining_number_of_tries, number_of_tried,
				last_tried_at, execution_results, data, created_at
			) VALUES ($1, $2, $3, $4, $5, 0, NULL, '[]'::jsonb, $6, $7)`,
			t.ID, t.Name, t.Status, t.RunsAt, t.RemainingNumberOfTries, t.Data, t.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert task %s: %w", t.Name, err)
		}
	}
	return nil
}

func (r *TaskRepository) ClaimOneByName(ctx context.Context, name domain.TaskName, now time.Time) (*domain.Task, error) {
	row := r.queryRow(ctx, `
		UPDATE tasks
		SET status = $1, last_tried_at = $3
		WHERE id = (
			SELECT id FROM tasks
			WHERE name = $2 AND status = $4 AND runs_at <= $3
			ORDER BY runs_at
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+taskColumns,
		domain.TaskStatusRunning, name, now, domain.TaskStatusReady,
	)
	task, err := scanTask(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim task: %w", err)
	}
	return &task, nil
}

func (r *TaskRepository) Finish(ctx context.Context, id string, result domain.TaskExecutionResult) error {
	return r.settle(ctx, id, domain.TaskStatusExecuted, result, nil)
}

func (r *TaskRepository) Requeue(ctx context.Context, id string, result domain.TaskExecutionResult, runsAt time.Time) error {
	return r.settle(ctx, id, domain.TaskStatusReady, result, &runsAt)
}

func (r *TaskRepository) Abort(ctx context.Context, id string, result domain.TaskExecutionResult) error {
	return r.settle(ctx, id, domain.TaskStatusAborted, result, nil)
}

// settle ends one attempt of a Running task: it appends the attempt
// record, bumps the counters and applies the status the attempt earned.
func (r *TaskRepository) settle(ctx context.Context, id string, to domain.TaskStatus, result domain.TaskExecutionResult, runsAt *time.Time) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal execution result: %w", err)
	}

	tag, err := r.exec(ctx, `
		UPDATE tasks
		SET status = $2,
			number_of_tried = number_of_tried + 1,
			remaining_number_of_tries = remaining_number_of_tries - CASE WHEN $4::timestamptz IS NULL THEN 0 ELSE 1 END,
			runs_at = COALESCE($4, runs_at),
			execution_results = execution_results || $3::jsonb
		WHERE id = $1 AND status = $5`,
		id, to, payload, runsAt, domain.TaskStatusRunning,
	)
	if err != nil {
		return fmt.Errorf("settle task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *TaskRepository) RequeueStuck(ctx context.Context, before time.Time) (int, error) {
	tag, err := r.exec(ctx, `
		UPDATE tasks
		SET status = $1
		WHERE status = $2 AND last_tried_at < $3 AND remaining_number_of_tries > 0`,
		domain.TaskStatusReady, domain.TaskStatusRunning, before,
	)
	if err != nil {
		return 0, fmt.Errorf("requeue stuck tasks: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *TaskRepository) AbortOneStuck(ctx context.Context, before time.Time) (*domain.Task, error) {
	row := r.queryRow(ctx, `
		UPDATE tasks
		SET status = $1
		WHERE id = (
			SELECT id FROM tasks
			WHERE status = $2 AND last_tried_at < $3 AND remaining_number_of_tries = 0
			ORDER BY last_tried_at
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+taskColumns,
		domain.TaskStatusAborted, domain.TaskStatusRunning, before,
	)
	task, err := scanTask(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("abort stuck task: %w", err)
	}
	return &task, nil
}

func scanTask(row pgx.Row) (domain.Task, error) {
	var (
		task    domain.Task
		results []byte
	)
	if err := row.Scan(
		&task.ID, &task.Name, &task.Status, &task.RunsAt,
		&task.RemainingNumberOfTries, &task.NumberOfTried,
		&task.LastTriedAt, &results, &task.Data, &task.CreatedAt,
	); err != nil {
		return domain.Task{}, err
	}
	if err := json.Unmarshal(results, &task.ExecutionResults); err != nil {
		return domain.Task{}, fmt.Errorf("unmarshal execution results: %w", err)
	}
	return task, nil
}
