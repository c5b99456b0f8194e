// Package notify delivers customer-facing email for confirmed and
// returned orders.
package notify

import (
	"context"
	"fmt"

	"github.com/mailersend/mailersend-go"
)

// Message is one order notification to a customer.
type Message struct {
	To      string
	ToName  string
	Subject string
	Text    string
}

// Sender is implemented by the MailerSend client and by test fakes.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

type MailerSendConfig struct {
	APIKey    string
	FromName  string
	FromEmail string
}

type MailerSend struct {
	client *mailersend.Mailersend
	from   mailersend.From
}

func NewMailerSend(cfg MailerSendConfig) (*MailerSend, error) {
	if cfg.APIKey == "" || cfg.FromEmail == "" {
		return nil, fmt.Errorf("mailersend configuration incomplete")
	}
	return &MailerSend{
		client: mailersend.NewMailersend(cfg.APIKey),
		from:   mailersend.From{Name: cfg.FromName, Email: cfg.FromEmail},
	}, nil
}

func (m *MailerSend) Send(ctx context.Context, msg Message) error {
	message := m.client.Email.NewMessage()
	message.SetFrom(m.from)
	message.SetRecipients([]mailersend.Recipient{{Name: msg.ToName, Email: msg.To}})
	message.SetSubject(msg.Subject)
	message.SetText(msg.Text)

	if _, err := m.client.Email.Send(ctx, message); err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	return nil
}
