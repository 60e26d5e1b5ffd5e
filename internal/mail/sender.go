// Package mail delivers rendered notifications over SMTP.
package mail

import (
	"context"
	"fmt"
	"log/slog"

	gomail "github.com/wneessen/go-mail"
	"go.uber.org/fx"

	"github.com/trellis-app/trellis-core/internal/config"
	"github.com/trellis-app/trellis-core/pkg/logger"
)

var Module = fx.Module("mail",
	fx.Provide(NewSender),
)

// SendOptions describes one outbound email. HTMLBody and TextBody are both
// attached when present; mail clients pick their preferred alternative.
type SendOptions struct {
	ToEmail  string
	ToName   string
	Subject  string
	HTMLBody string
	TextBody string
}

// Sender delivers email. The SMTP implementation is used when a host is
// configured; otherwise a no-op sender that logs and succeeds, so local
// development works without a mail server.
type Sender interface {
	Send(ctx context.Context, opts SendOptions) error
}

// NewSender picks the sender implementation from config.
func NewSender(cfg *config.Config, log *slog.Logger) Sender {
	log = log.With(logger.Scope("mail"))

	if !cfg.SMTP.Enabled || !cfg.SMTP.IsConfigured() {
		log.Warn("email disabled or smtp not configured, using noop sender")
		return &noopSender{log: log}
	}

	return &smtpSender{cfg: cfg.SMTP, log: log}
}

type smtpSender struct {
	cfg config.SMTPConfig
	log *slog.Logger
}

func (s *smtpSender) Send(ctx context.Context, opts SendOptions) error {
	if opts.ToEmail == "" {
		return fmt.Errorf("send email: recipient address is required")
	}

	msg := gomail.NewMsg()
	if err := msg.FromFormat(s.cfg.FromName, s.cfg.FromAddress); err != nil {
		return fmt.Errorf("send email: invalid from address: %w", err)
	}
	if err := msg.AddToFormat(opts.ToName, opts.ToEmail); err != nil {
		return fmt.Errorf("send email: invalid recipient %q: %w", opts.ToEmail, err)
	}
	msg.Subject(opts.Subject)

	// Text part first so HTML becomes the preferred alternative
	switch {
	case opts.TextBody != "" && opts.HTMLBody != "":
		msg.SetBodyString(gomail.TypeTextPlain, opts.TextBody)
		msg.AddAlternativeString(gomail.TypeTextHTML, opts.HTMLBody)
	case opts.HTMLBody != "":
		msg.SetBodyString(gomail.TypeTextHTML, opts.HTMLBody)
	case opts.TextBody != "":
		msg.SetBodyString(gomail.TypeTextPlain, opts.TextBody)
	default:
		return fmt.Errorf("send email: empty body")
	}

	clientOpts := []gomail.Option{
		gomail.WithPort(s.cfg.Port),
		gomail.WithTLSPolicy(gomail.TLSOpportunistic),
	}
	if s.cfg.Username != "" {
		clientOpts = append(clientOpts,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(s.cfg.Username),
			gomail.WithPassword(s.cfg.Password),
		)
	}

	client, err := gomail.NewClient(s.cfg.Host, clientOpts...)
	if err != nil {
		return fmt.Errorf("send email: create smtp client: %w", err)
	}

	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("send email to %s: %w", opts.ToEmail, err)
	}

	s.log.Info("email sent",
		slog.String("to", opts.ToEmail),
		slog.String("subject", opts.Subject),
	)
	return nil
}

// noopSender logs instead of sending. Deliveries succeed so the notification
// pipeline can be exercised end to end without SMTP credentials.
type noopSender struct {
	log *slog.Logger
}

func (s *noopSender) Send(ctx context.Context, opts SendOptions) error {
	s.log.Info("email suppressed (noop sender)",
		slog.String("to", opts.ToEmail),
		slog.String("subject", opts.Subject),
	)
	return nil
}
