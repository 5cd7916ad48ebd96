package notify

import (
	"context"

	"go.uber.org/zap"

	"github.com/ariefcatur/go-resto-orders/internal/logging"
)

type Mail struct {
	To      string
	Subject string
	Body    string
}

type Mailer interface {
	Send(ctx context.Context, m Mail) error
}

// LogMailer writes mails to the log instead of delivering them.
type LogMailer struct{}

func (LogMailer) Send(ctx context.Context, m Mail) error {
	logging.Info(ctx, "mail sent",
		zap.String("to", m.To),
		zap.String("subject", m.Subject),
		zap.Int("body_bytes", len(m.Body)),
	)
	return nil
}
