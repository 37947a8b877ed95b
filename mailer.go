package workgate

import (
	"context"
	"log/slog"

	"github.com/MrEthical07/workgate/internal/notify"
)

// Mail is one outbound email.
type Mail = notify.Message

// Mail kinds.
const (
	MailTwoFactorCode = "two_factor_code"
	MailNewDevice     = "new_device"
)

// Mailer delivers outbound email. Implementations must be safe for concurrent use.
type Mailer interface {
	Send(ctx context.Context, msg Mail) error
}

// LogMailer writes mail to a logger instead of sending it. Code bodies are logged
// at Debug so they stay out of default production output.
type LogMailer struct {
	Logger *slog.Logger
}

func (m LogMailer) Send(ctx context.Context, msg Mail) error {
	logger := m.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "mail", "kind", msg.Kind, "to", msg.To, "subject", msg.Subject)
	logger.DebugContext(ctx, "mail body", "kind", msg.Kind, "body", msg.Body)
	return nil
}

// NopMailer discards mail.
type NopMailer struct{}

func (NopMailer) Send(context.Context, Mail) error { return nil }
