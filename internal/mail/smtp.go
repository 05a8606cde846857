package mail

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gopkg.in/gomail.v2"
)

const resetSubject = "Reset your password"

// SMTPSender delivers mail synchronously through gomail
type SMTPSender struct {
	config Config
	send   func(messages ...*gomail.Message) error
	logger *zap.Logger
}

var _ Mailer = (*SMTPSender)(nil)

// NewSMTPSender builds a sender. An empty Host is allowed; sends then fail
// with ErrNotConfigured.
func NewSMTPSender(config Config, logger *zap.Logger) *SMTPSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &SMTPSender{config: config, logger: logger.Named("mail")}

	if config.Configured() {
		dialer := gomail.NewDialer(config.Host, config.Port, config.Username, config.Password)
		dialer.SSL = config.Port == 465
		if config.UseTLS {
			dialer.TLSConfig = &tls.Config{ServerName: config.Host, MinVersion: tls.VersionTLS12}
		}
		s.send = dialer.DialAndSend
	}
	return s
}

// SendPasswordReset emails the reset link for token
func (s *SMTPSender) SendPasswordReset(ctx context.Context, to, name, token string) error {
	if s.send == nil {
		return ErrNotConfigured
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	msg, err := s.buildPasswordReset(to, name, token)
	if err != nil {
		return err
	}
	if err := s.send(msg); err != nil {
		return fmt.Errorf("mail: send password reset: %w", err)
	}

	s.logger.Info("password reset email sent", zap.String("to", to))
	return nil
}

func (s *SMTPSender) buildPasswordReset(to, name, token string) (*gomail.Message, error) {
	if name == "" {
		name = "there"
	}
	appName := s.config.FromName
	if appName == "" {
		appName = "Chat App"
	}
	ttl := s.config.ResetTokenTTL
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}

	text, html, err := renderPasswordReset(resetData{
		Name:      name,
		AppName:   appName,
		ResetURL:  s.config.ResetLink(token),
		ExpiresIn: humanDuration(ttl),
	})
	if err != nil {
		return nil, fmt.Errorf("mail: render password reset: %w", err)
	}

	m := gomail.NewMessage()
	m.SetAddressHeader("From", s.config.From, s.config.FromName)
	m.SetHeader("To", to)
	m.SetHeader("Subject", resetSubject)
	m.SetBody("text/plain", text)
	m.AddAlternative("text/html", html)
	return m, nil
}

func humanDuration(d time.Duration) string {
	switch {
	case d >= time.Hour && d%time.Hour == 0:
		if d == time.Hour {
			return "1 hour"
		}
		return fmt.Sprintf("%d hours", d/time.Hour)
	case d >= time.Minute:
		minutes := int(d / time.Minute)
		if minutes == 1 {
			return "1 minute"
		}
		return fmt.Sprintf("%d minutes", minutes)
	default:
		return d.String()
	}
}
