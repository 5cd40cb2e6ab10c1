package services

import (
	"context"
	"fmt"
	"io"
	"time"

	"gopkg.in/gomail.v2"

	"github.com/HSouheill/coursemarket_backend/config"
)

// CodeSender delivers a verification code to an email address.
type CodeSender interface {
	SendCode(ctx context.Context, email, code string, expiresAt time.Time) error
}

// mailDialer is the part of *gomail.Dialer the mailer uses.
type mailDialer interface {
	DialAndSend(m ...*gomail.Message) error
}

// SMTPCodeSender sends verification codes by email through an SMTP relay.
type SMTPCodeSender struct {
	from   string
	dialer mailDialer
	clock  func() time.Time
}

func NewSMTPCodeSender(cfg config.SMTPConfig) *SMTPCodeSender {
	return &SMTPCodeSender{
		from:   cfg.From,
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.User, cfg.Pass),
		clock:  time.Now,
	}
}

func (s *SMTPCodeSender) SendCode(ctx context.Context, email, code string, expiresAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", email)
	m.SetHeader("Subject", "Verify your email")
	m.SetBody("text/plain", plainCodeBody(code, s.minutesLeft(expiresAt)))
	m.AddAlternative("text/html", htmlCodeBody(code, s.minutesLeft(expiresAt)))

	if err := s.dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	return nil
}

func (s *SMTPCodeSender) minutesLeft(expiresAt time.Time) int {
	minutes := int(expiresAt.Sub(s.clock()).Round(time.Minute) / time.Minute)
	if minutes < 1 {
		return 1
	}
	return minutes
}

func plainCodeBody(code string, minutes int) string {
	return fmt.Sprintf("Your verification code is: %s\nThis code will expire in %d minutes.\nIf you did not sign up, you can ignore this email.", code, minutes)
}

func htmlCodeBody(code string, minutes int) string {
	return fmt.Sprintf(`
		<html>
		<body>
			<h2>Verify your email</h2>
			<p>Use the following code to finish creating your account:</p>
			<h3 style="background-color: #f0f0f0; padding: 10px; font-size: 24px; letter-spacing: 5px; text-align: center;">%s</h3>
			<p>This code will expire in %d minutes.</p>
			<p>If you did not sign up, you can ignore this email.</p>
		</body>
		</html>
	`, code, minutes)
}

// ConsoleCodeSender writes codes to a terminal. It exists for local
// development without an SMTP relay and must not be used in production.
type ConsoleCodeSender struct {
	Out io.Writer
}

func (s ConsoleCodeSender) SendCode(_ context.Context, email, code string, expiresAt time.Time) error {
	_, err := fmt.Fprintf(s.Out, "verification code for %s: %s (expires %s)\n", email, code, expiresAt.Format(time.RFC3339))
	return err
}
