package mail

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"
)

var (
	ErrNotConfigured = errors.New("mail: smtp server is not configured")
	ErrBadPayload    = errors.New("mail: malformed task payload")
)

// Mailer delivers account emails
type Mailer interface {
	SendPasswordReset(ctx context.Context, to, name, token string) error
}

// Config carries the SMTP account and the link target for emails
type Config struct {
	Host        string
	Port        int
	Username    string
	Password    string
	UseTLS      bool
	From        string
	FromName    string
	FrontendURL string

	// ResetTokenTTL is shown to the reader as the link's lifetime
	ResetTokenTTL time.Duration
}

// Configured reports whether an SMTP server was supplied
func (c Config) Configured() bool {
	return c.Host != ""
}

// ResetLink builds {FrontendURL}/reset-password?token=...
func (c Config) ResetLink(token string) string {
	base := strings.TrimRight(c.FrontendURL, "/")
	return base + "/reset-password?token=" + url.QueryEscape(token)
}
