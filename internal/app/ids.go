package app

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tokyo-tower/domain-sub000/internal/domain"
)

func newID() string {
	return uuid.NewString()
}

// taskRetries is the per-name retry budget. External-call tasks get a
// generous budget; re-aggregation is cheap to lose and rebuilt by the
// next authorize anyway.
var taskRetries = map[domain.TaskName]int{
	domain.TaskSettleSeatReservation: 10,
	domain.TaskSettlePayment:         10,
	domain.TaskCancelSeatReservation: 10,
	domain.TaskCancelPayment:         10,
	domain.TaskPlaceOrder:            10,
	domain.TaskReturnOrder:           10,
	domain.TaskAggregateSales:        3,
	domain.TaskSendEmailNotification: 10,
}

// NewTransactionTask builds a Ready task referencing a transaction by id.
func NewTransactionTask(name domain.TaskName, transactionID string, runsAt time.Time) (domain.Task, error) {
	data, err := json.Marshal(domain.TransactionTaskData{TransactionID: transactionID})
	if err != nil {
		return domain.Task{}, fmt.Errorf("marshal task data: %w", err)
	}
	return newTask(name, data, runsAt), nil
}

// NewAggregateTask builds a Ready seat-count re-aggregation task.
func NewAggregateTask(performanceID string, runsAt time.Time) (domain.Task, error) {
	data, err := json.Marshal(domain.AggregateTaskData{PerformanceID: performanceID})
	if err != nil {
		return domain.Task{}, fmt.Errorf("marshal task data: %w", err)
	}
	return newTask(domain.TaskAggregateSales, data, runsAt), nil
}

func newTask(name domain.TaskName, data json.RawMessage, runsAt time.Time) domain.Task {
	return domain.Task{
		ID:                     newID(),
		Name:                   name,
		Status:                 domain.TaskStatusReady,
		RunsAt:                 runsAt,
		RemainingNumberOfTries: taskRetries[name],
		Data:                   data,
		CreatedAt:              runsAt,
	}
}
