package broker

import (
	"context"
	"encoding/json"
	"log"
)

// LogPublisher writes alerts to the process log. Used in development and
// as the fallback when AMQP is not configured.
type LogPublisher struct {
	Logger *log.Logger
}

func (p LogPublisher) Publish(_ context.Context, routingKey string, body any) error {
	logger := p.Logger
	if logger == nil {
		logger = log.Default()
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	logger.Printf("ALERT key=%s body=%s", routingKey, payload)
	return nil
}

func (p LogPublisher) Close() error {
	return nil
}
