// Package emailout implements the email channel adapter. Outbound mail goes
// through SMTP or Mailgun depending on configuration; typing indicators and
// feedback prompts do not exist on email and are no-ops.
package emailout

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	mg "github.com/mailgun/mailgun-go/v5"
	mail "github.com/wneessen/go-mail"

	"github.com/kanalbot/kanal/internal/channel"
	"github.com/kanalbot/kanal/internal/config"
)

// Adapter sends email replies threaded onto the stored reply anchor.
type Adapter struct {
	cfg    config.EmailConfig
	logger *slog.Logger
}

// New creates an email adapter.
func New(log *slog.Logger, cfg config.EmailConfig) *Adapter {
	if log == nil {
		log = slog.Default()
	}
	return &Adapter{
		cfg:    cfg,
		logger: log.With(slog.String("adapter", "email")),
	}
}

// Type returns the email platform identifier.
func (a *Adapter) Type() channel.Platform {
	return channel.PlatformEmail
}

// SendMessage delivers the reply. Hints carry the subject and reply-chain
// headers; without them the message starts a fresh thread.
func (a *Adapter) SendMessage(ctx context.Context, recipient, text string, hints channel.SendHints) error {
	subject := strings.TrimSpace(hints.Subject)
	if subject == "" {
		subject = "Re: Your inquiry"
	} else if !strings.HasPrefix(strings.ToLower(subject), "re:") {
		subject = "Re: " + subject
	}

	body := formatBody(text, a.cfg.Signature)

	if a.cfg.Outbound == "mailgun" {
		return a.sendViaMailgun(ctx, recipient, subject, body, hints)
	}
	return a.sendViaSMTP(ctx, recipient, subject, body, hints)
}

// SendTypingOn is a no-op for email.
func (a *Adapter) SendTypingOn(_ context.Context, _ string) error { return nil }

// SendTypingOff is a no-op for email.
func (a *Adapter) SendTypingOff(_ context.Context, _ string) error { return nil }

// SendFeedbackRequest is a no-op: email carries no feedback buttons.
func (a *Adapter) SendFeedbackRequest(_ context.Context, _ string, _ int64) error { return nil }

func (a *Adapter) sendViaSMTP(ctx context.Context, recipient, subject, htmlBody string, hints channel.SendHints) error {
	smtp := a.cfg.SMTP

	from := a.cfg.FromAddress
	if from == "" {
		from = smtp.Username
	}

	m := mail.NewMsg()
	if err := m.From(from); err != nil {
		return fmt.Errorf("set from: %w", err)
	}
	if err := m.To(recipient); err != nil {
		return fmt.Errorf("set to: %w", err)
	}
	m.Subject(subject)
	m.SetMessageID()
	if hints.InReplyTo != "" {
		m.SetGenHeader(mail.HeaderInReplyTo, hints.InReplyTo)
	}
	if hints.References != "" {
		m.SetGenHeader(mail.HeaderReferences, hints.References)
	}
	m.SetBodyString(mail.TypeTextHTML, htmlBody)

	opts := []mail.Option{
		mail.WithPort(smtp.Port),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(smtp.Username),
		mail.WithPassword(smtp.Password),
	}
	switch smtp.Security {
	case "tls":
		opts = append(opts, mail.WithSSLPort(false), mail.WithTLSPolicy(mail.TLSMandatory))
	case "none":
		opts = append(opts, mail.WithTLSPolicy(mail.NoTLS))
	default:
		opts = append(opts, mail.WithTLSPolicy(mail.TLSMandatory))
	}

	client, err := mail.NewClient(smtp.Host, opts...)
	if err != nil {
		return fmt.Errorf("create smtp client: %w", err)
	}
	if err := client.DialAndSendWithContext(ctx, m); err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	return nil
}

func (a *Adapter) sendViaMailgun(ctx context.Context, recipient, subject, htmlBody string, hints channel.SendHints) error {
	client := mg.NewMailgun(a.cfg.Mailgun.APIKey)
	domain := a.cfg.Mailgun.Domain

	from := a.cfg.FromAddress
	if from == "" {
		from = "noreply@" + domain
	}

	m := mg.NewMessage(domain, from, subject, htmlBody, recipient)
	m.SetHTML(htmlBody)
	if hints.InReplyTo != "" {
		m.AddHeader("In-Reply-To", hints.InReplyTo)
	}
	if hints.References != "" {
		m.AddHeader("References", hints.References)
	}

	if _, err := client.Send(ctx, m); err != nil {
		return fmt.Errorf("mailgun send: %w", err)
	}
	return nil
}

func formatBody(text, signature string) string {
	html := strings.ReplaceAll(text, "\n", "<br>")
	if signature == "" {
		return html
	}
	return html + "<br><br>" + strings.ReplaceAll(signature, "\n", "<br>")
}
