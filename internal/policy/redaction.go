// Package policy masks caller data before it is written to logs.
package policy

import (
	"regexp"
	"strings"
)

type redactionRule struct {
	name    string
	pattern *regexp.Regexp
	marker  string
}

// Card numbers run before phones since a card also matches the phone rule.
var redactionRules = []redactionRule{
	{"email", regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`), "[REDACTED_EMAIL]"},
	{"card", regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`), "[REDACTED_CARD]"},
	{"phone", regexp.MustCompile(`\+?[0-9][0-9\-() ]{7,}[0-9]`), "[REDACTED_PHONE]"},
}

// RedactPII replaces emails, card numbers and phone numbers in free text
// such as tool arguments. It returns the names of the rules that matched.
func RedactPII(input string) (string, []string) {
	out := input
	var hits []string
	for _, rule := range redactionRules {
		next := rule.pattern.ReplaceAllString(out, rule.marker)
		if next != out {
			hits = append(hits, rule.name)
			out = next
		}
	}
	return out, hits
}

// MaskPhone keeps the country prefix and last four digits of an E.164
// number, e.g. +1555***4567.
func MaskPhone(number string) string {
	n := strings.TrimSpace(number)
	if len(n) <= 8 {
		return strings.Repeat("*", len(n))
	}
	return n[:5] + strings.Repeat("*", len(n)-9) + n[len(n)-4:]
}
