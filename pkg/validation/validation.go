// Package validation checks identifiers and free text coming from the control
// API before they are put on the signaling wire.
package validation

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	MaxIDLength       = 128
	MaxUserNameLength = 64
	MaxMessageLength  = 1000
)

var idRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

func validateID(id, field string) error {
	if id == "" {
		return fmt.Errorf("%s is required", field)
	}
	if len(id) > MaxIDLength {
		return fmt.Errorf("%s is too long (max %d characters)", field, MaxIDLength)
	}
	if !idRegex.MatchString(id) {
		return fmt.Errorf("%s may only contain letters, digits, '_' and '-'", field)
	}
	return nil
}

// ValidateStreamID accepts UUIDs and slug-like ids.
func ValidateStreamID(streamID string) error {
	return validateID(streamID, "stream_id")
}

func ValidateUserID(userID string) error {
	return validateID(userID, "user_id")
}

// ValidateUserName allows an empty name; the server shows the user id instead.
func ValidateUserName(name string) error {
	if !utf8.ValidString(name) {
		return fmt.Errorf("user_name is not valid UTF-8")
	}
	if n := utf8.RuneCountInString(name); n > MaxUserNameLength {
		return fmt.Errorf("user_name is too long (%d > %d characters)", n, MaxUserNameLength)
	}
	return nil
}

func ValidateChatMessage(text string) error {
	if !utf8.ValidString(text) {
		return fmt.Errorf("message is not valid UTF-8")
	}
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("message is required")
	}
	if n := utf8.RuneCountInString(text); n > MaxMessageLength {
		return fmt.Errorf("message is too long (%d > %d characters)", n, MaxMessageLength)
	}
	return nil
}

// SanitizeText drops control characters other than newline and tab, and trims
// surrounding whitespace.
func SanitizeText(s string) string {
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && r != '\n' && r != '\t' {
			return -1
		}
		return r
	}, s)
	return strings.TrimSpace(s)
}

// ValidateSignalURL requires a ws or wss URL with a host.
func ValidateSignalURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("URL is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("URL must use ws or wss scheme, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("URL must have a host")
	}
	return nil
}
