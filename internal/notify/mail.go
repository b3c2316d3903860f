package notify

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/wneessen/go-mail"

	"github.com/relengtools/composer/internal/config"
)

// Mailer sends plain text mail.
//
//go:generate mockgen -destination=mocks/mock_mailer.go -package=mocks -source=mail.go Mailer
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

// SMTPMailer relays mail through an SMTP server without authentication,
// upgrading to STARTTLS when the relay offers it.
type SMTPMailer struct {
	addr   string
	from   string
	logger *slog.Logger
}

// Send implements Mailer.
func (m *SMTPMailer) Send(ctx context.Context, to, subject, body string) error {
	msg, err := newMessage(m.from, to, subject, body, time.Now())
	if err != nil {
		return err
	}
	client, err := m.client()
	if err != nil {
		return err
	}
	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("failed to send mail to %s: %w", to, err)
	}
	m.logger.InfoContext(ctx, "Sent mail", "to", to, "subject", subject)
	return nil
}

func (m *SMTPMailer) client() (*mail.Client, error) {
	host, portStr, err := net.SplitHostPort(m.addr)
	if err != nil {
		return nil, fmt.Errorf("invalid smtp address %q: %w", m.addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("invalid smtp port %q: %w", portStr, err)
	}
	client, err := mail.NewClient(host,
		mail.WithPort(port),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create smtp client for %s: %w", m.addr, err)
	}
	return client, nil
}

func newMessage(from, to, subject, body string, now time.Time) (*mail.Msg, error) {
	msg := mail.NewMsg()
	if err := msg.From(from); err != nil {
		return nil, fmt.Errorf("invalid sender %q: %w", from, err)
	}
	if err := msg.To(to); err != nil {
		return nil, fmt.Errorf("invalid recipient %q: %w", to, err)
	}
	msg.Subject(subject)
	msg.SetDateWithValue(now)
	msg.SetBodyString(mail.TypeTextPlain, body)
	return msg, nil
}

// LogMailer logs mail instead of sending it.
type LogMailer struct {
	logger *slog.Logger
}

// Send implements Mailer.
func (m *LogMailer) Send(ctx context.Context, to, subject, body string) error {
	m.logger.InfoContext(ctx, "Mail", "to", to, "subject", subject, "bytes", len(body))
	return nil
}

// NewMailer returns an SMTP mailer when a relay is configured and a logging
// mailer otherwise.
func NewMailer(cfg *config.MailConfig, logger *slog.Logger) Mailer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg == nil || cfg.SMTPAddress == "" {
		return &LogMailer{logger: logger}
	}
	return &SMTPMailer{addr: cfg.SMTPAddress, from: cfg.From, logger: logger}
}
