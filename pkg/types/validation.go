package types

import (
	"net/mail"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// MaxExternalIDLength bounds ids supplied by real-time clients
const MaxExternalIDLength = 256

// Compiled once at package initialization
var idRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// IsValidID checks an opaque identifier (conversation ids, user ids, uuids)
func IsValidID(id string) bool {
	if len(id) < 1 || len(id) > 64 {
		return false
	}
	return idRegex.MatchString(id)
}

// IsValidExternalID accepts any opaque id a client may present on the
// real-time path: non-empty UTF-8 without control characters, up to
// MaxExternalIDLength bytes.
func IsValidExternalID(id string) bool {
	if id == "" || len(id) > MaxExternalIDLength || !utf8.ValidString(id) {
		return false
	}
	return strings.IndexFunc(id, unicode.IsControl) < 0
}

// NormalizeEmail lowercases and trims an address so lookups are case-insensitive
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidateEmail accepts a bare address only, no display name
func ValidateEmail(email string) error {
	if email == "" || len(email) > 320 {
		return ErrInvalidEmail
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return ErrInvalidEmail
	}
	return nil
}

// ValidateName allows nil (no name) or up to 200 characters
func ValidateName(name *string) error {
	if name != nil && len(*name) > 200 {
		return ErrInvalidName
	}
	return nil
}

// ValidateContent enforces a non-blank body of at most MaxContentLength bytes
func ValidateContent(content string) error {
	if strings.TrimSpace(content) == "" {
		return ErrInvalidContent
	}
	if len(content) > MaxContentLength {
		return ErrContentTooLarge
	}
	return nil
}
