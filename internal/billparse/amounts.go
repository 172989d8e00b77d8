// internal/billparse/amounts.go
package billparse

import (
	"strconv"
	"strings"
)

// NormalizeAmount converts a locale-formatted amount string to a canonical
// dot-decimal form. A value containing both '.' and ',' is assumed to be
// thousands-dot/decimal-comma ("1.234,56"); a value with only ',' is
// decimal-comma ("45,00"). Returns ok=false for anything that does not
// survive as a number; it never panics on malformed input.
func NormalizeAmount(raw string) (string, bool) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return "", false
	}

	switch {
	case strings.Contains(value, ",") && strings.Contains(value, "."):
		value = strings.ReplaceAll(value, ".", "")
		value = strings.ReplaceAll(value, ",", ".")
	case strings.Contains(value, ","):
		value = strings.ReplaceAll(value, ",", ".")
	}

	// Strip stray currency noise left by loose capture groups.
	value = strings.Trim(value, ".$ ")
	if value == "" || value == "-" {
		return "", false
	}

	if _, err := strconv.ParseFloat(value, 64); err != nil {
		return "", false
	}
	return value, true
}
