package utils

import (
	"strings"
	"unicode"
)

// NormalizeName trims and collapses inner whitespace so display names from
// different sign-in sessions compare equal.
func NormalizeName(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// NormalizePhone keeps digits, a leading +, and the dashes people type in
// local numbers (010-1234-5678).
func NormalizePhone(phone string) string {
	cleaned := strings.TrimSpace(phone)
	if cleaned == "" {
		return ""
	}

	var result strings.Builder
	for i, r := range cleaned {
		switch {
		case i == 0 && r == '+':
			result.WriteRune(r)
		case unicode.IsDigit(r), r == '-':
			result.WriteRune(r)
		}
	}
	return strings.Trim(result.String(), "-")
}

// IsValidPhone reports whether phone has enough digits to be callable.
func IsValidPhone(phone string) bool {
	digits := 0
	for _, r := range NormalizePhone(phone) {
		if unicode.IsDigit(r) {
			digits++
		}
	}
	return digits >= 7
}
