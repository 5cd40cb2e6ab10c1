// utils/valid.go
package utils

import (
	"strings"
	"unicode"
)

// SanitizeName trims a display name and strips control characters.
func SanitizeName(input string) string {
	input = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, input)
	return strings.TrimSpace(input)
}

// NormalizeEmail trims and lowercases an email address. It does not validate it.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// MaskEmail hides most of the local part of an email for logs and events.
func MaskEmail(email string) string {
	at := strings.LastIndex(email, "@")
	if at <= 0 {
		return "***"
	}

	name := []rune(email[:at])
	domain := email[at+1:]

	if len(name) <= 2 {
		return string(name[:1]) + "***@" + domain
	}

	return string(name[:2]) + strings.Repeat("*", len(name)-2) + "@" + domain
}
