package directory

import (
	"regexp"
	"strings"
)

var phoneDigitsRe = regexp.MustCompile(`\d+`)

// SanitizePhone strips everything but digits from a phone number.
func SanitizePhone(value string) string {
	if value == "" {
		return ""
	}
	digits := phoneDigitsRe.FindAllString(value, -1)
	return strings.Join(digits, "")
}

// NormalizeE164 converts common US number formats to canonical E.164.
// Accepts 10-digit national numbers, 11-digit numbers with a leading country
// code, and values that are already E.164. Anything else is returned as
// +<digits> so lookups stay deterministic.
func NormalizeE164(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	digits := SanitizePhone(value)
	if digits == "" {
		return ""
	}
	switch {
	case len(digits) == 10:
		return "+1" + digits
	case len(digits) == 11 && strings.HasPrefix(digits, "1"):
		return "+" + digits
	default:
		return "+" + digits
	}
}
