package notify

import (
	"context"
	"fmt"

	"github.com/wneessen/go-mail"
)

// SMTPConfig holds the outbound mail server settings
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SMTPNotifier sends OTP messages through an SMTP relay
type SMTPNotifier struct {
	cfg SMTPConfig
}

// NewSMTPNotifier creates a new SMTP notifier
func NewSMTPNotifier(cfg SMTPConfig) *SMTPNotifier {
	return &SMTPNotifier{cfg: cfg}
}

// SendOTP builds and sends one message, dialling a fresh connection per call
func (n *SMTPNotifier) SendOTP(ctx context.Context, msg Message) error {
	m := mail.NewMsg()
	if err := m.From(n.cfg.From); err != nil {
		return fmt.Errorf("set sender: %w", err)
	}
	if err := m.To(msg.To); err != nil {
		return fmt.Errorf("set recipient: %w", err)
	}
	m.Subject(Subject(msg))
	m.SetBodyString(mail.TypeTextPlain, Body(msg))

	opts := []mail.Option{
		mail.WithPort(n.cfg.Port),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
	}
	if n.cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(n.cfg.Username),
			mail.WithPassword(n.cfg.Password),
		)
	}

	client, err := mail.NewClient(n.cfg.Host, opts...)
	if err != nil {
		return fmt.Errorf("create smtp client: %w", err)
	}
	if err := client.DialAndSendWithContext(ctx, m); err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	return nil
}
