package notify

import (
	"context"
	"log"
)

// LogSender writes messages to the process log. Used in development and
// as the fallback when MailerSend is not configured.
type LogSender struct {
	Logger *log.Logger
}

func (s LogSender) Send(_ context.Context, msg Message) error {
	logger := s.Logger
	if logger == nil {
		logger = log.Default()
	}
	logger.Printf("MAIL to=%s subject=%q", msg.To, msg.Subject)
	return nil
}
