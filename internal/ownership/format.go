package ownership

import (
	"regexp"
	"strings"

	apperrors "sandboxnotify/pkg/errors"
	"sandboxnotify/pkg/logging"
)

var (
	emailFormat = regexp.MustCompile(`^[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}$`)

	doubledDelimiter = regexp.MustCompile(`\.\.|@@|\+\+|--|__`)

	suspiciousPatterns = []struct {
		name  string
		match func(string) bool
	}{
		{"doubled_delimiter", hasDoubledDelimiter},
		{"disposable_domain", regexp.MustCompile(`(?i)@(?:[a-z0-9-]+\.)*(?:mailinator|guerrillamail|10minutemail|tempmail|yopmail)\.`).MatchString},
		{"test_domain", regexp.MustCompile(`(?i)@(?:[a-z0-9-]+\.)*(?:example|test)\.[a-z]+$`).MatchString},
		{"numeric_local_part", regexp.MustCompile(`^(?:\d+[._+\-]|\d+@)`).MatchString},
	}
)

// punycodePrefix marks an IDNA A-label; its "--" is not a doubled delimiter.
const punycodePrefix = "xn--"

func hasDoubledDelimiter(email string) bool {
	at := strings.LastIndex(email, "@")
	if at < 0 {
		return doubledDelimiter.MatchString(email)
	}
	if doubledDelimiter.MatchString(email[:at+1]) {
		return true
	}
	for _, label := range strings.Split(email[at+1:], ".") {
		if label == "" {
			return true
		}
		if len(label) >= len(punycodePrefix) && strings.EqualFold(label[:len(punycodePrefix)], punycodePrefix) {
			label = label[len(punycodePrefix):]
		}
		if doubledDelimiter.MatchString(label) {
			return true
		}
	}
	return false
}

// HashEmail is the one-way identifier used wherever an address would
// otherwise be logged.
func HashEmail(email string) string {
	return logging.HashEmail(email)
}

// ValidateRecipient checks the address shape, the suspicious-pattern list and
// the domain allow-list.
func ValidateRecipient(email string, allowedDomains []string) error {
	hash := HashEmail(email)

	if strings.Count(email, "@") != 1 || !emailFormat.MatchString(email) {
		return apperrors.NewPermanent("INVALID_RECIPIENT", "recipient is not a valid email address",
			map[string]interface{}{"recipient_hash": hash})
	}

	for _, p := range suspiciousPatterns {
		if p.match(email) {
			return apperrors.NewPermanent("SUSPICIOUS_RECIPIENT", "recipient matches a suspicious pattern",
				map[string]interface{}{"recipient_hash": hash, "pattern": p.name})
		}
	}

	if !DomainAllowed(email, allowedDomains) {
		return apperrors.NewPermanent("DOMAIN_NOT_ALLOWED", "recipient domain is not approved",
			map[string]interface{}{"recipient_hash": hash})
	}
	return nil
}

// DomainAllowed matches the address domain against the allow-list exactly or
// as a subdomain, case-insensitively. An empty allow-list admits nothing.
func DomainAllowed(email string, allowedDomains []string) bool {
	at := strings.LastIndex(email, "@")
	if at < 0 {
		return false
	}
	domain := strings.ToLower(email[at+1:])
	for _, allowed := range allowedDomains {
		allowed = strings.ToLower(strings.TrimSpace(allowed))
		if allowed == "" {
			continue
		}
		if domain == allowed || strings.HasSuffix(domain, "."+allowed) {
			return true
		}
	}
	return false
}
