package util

import (
	"regexp"
	"strings"
)

var (
	nonPhoneRe = regexp.MustCompile(`[^\d\+]+`)
	e164Re     = regexp.MustCompile(`^\+[1-9]\d{7,14}$`)
)

// NormalizePhone tries to normalize user input into E.164 format.
// Bare national numbers default to Brazil (+55).
func NormalizePhone(raw string) string {
	s := strings.TrimSpace(raw)
	s = nonPhoneRe.ReplaceAllString(s, "")

	switch {
	case strings.HasPrefix(s, "+"):
		// already prefixed
	case strings.HasPrefix(s, "00"):
		s = "+" + s[2:]
	case strings.HasPrefix(s, "55") && len(s) >= 12:
		s = "+" + s
	case len(s) == 10 || len(s) == 11:
		// DDD + local number
		s = "+55" + s
	}

	return s
}

// ValidE164 reports whether s is a strictly valid E.164 number.
func ValidE164(s string) bool {
	return e164Re.MatchString(s)
}
