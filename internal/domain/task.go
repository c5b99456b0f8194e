package domain

import (
	"encoding/json"
	"time"
)

type TaskName string

const (
	TaskSettleSeatReservation TaskName = "settleSeatReservation"
	TaskSettlePayment         TaskName = "settlePayment"
	TaskCancelSeatReservation TaskName = "cancelSeatReservation"
	TaskCancelPayment         TaskName = "cancelPayment"
	TaskPlaceOrder            TaskName = "placeOrder"
	TaskReturnOrder           TaskName = "returnOrder"
	TaskAggregateSales        TaskName = "aggregateSales"
	TaskSendEmailNotification TaskName = "sendEmailNotification"
)

type TaskStatus string

const (
	TaskStatusReady    TaskStatus = "Ready"
	TaskStatusRunning  TaskStatus = "Running"
	TaskStatusExecuted TaskStatus = "Executed"
	TaskStatusAborted  TaskStatus = "Aborted"
)

// TaskExecutionResult is one attempt outcome, appended in order.
type TaskExecutionResult struct {
	ExecutedAt time.Time `json:"executed_at"`
	// Error is empty on success.
	Error string `json:"error,omitempty"`
}

// Task is a durable, retryable unit of asynchronous work emitted by a
// transaction state transition.
type Task struct {
	ID     string
	Name   TaskName
	Status TaskStatus
	RunsAt time.Time

	RemainingNumberOfTries int
	NumberOfTried          int
	LastTriedAt            *time.Time
	ExecutionResults       []TaskExecutionResult

	Data      json.RawMessage
	CreatedAt time.Time
}

// TransactionTaskData is the payload of every task derived from a
// transaction; the task references the transaction by id only.
type TransactionTaskData struct {
	TransactionID string `json:"transaction_id"`
}

// AggregateTaskData is the payload of seat-count re-aggregation tasks.
type AggregateTaskData struct {
	PerformanceID string `json:"performance_id"`
}
