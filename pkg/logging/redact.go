package logging

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
)

var emailPattern = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)

// HashEmail is the one-way identifier used wherever an address would
// otherwise be logged: sha256 of the lowercased address, first 16 hex chars.
func HashEmail(email string) string {
	if email == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(email))))
	return hex.EncodeToString(sum[:])[:16]
}

// RedactEmails replaces every address in s with "email:<hash>".
func RedactEmails(s string) string {
	if !strings.Contains(s, "@") {
		return s
	}
	return emailPattern.ReplaceAllStringFunc(s, func(m string) string {
		return "email:" + HashEmail(m)
	})
}
