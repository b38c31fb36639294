// Package types contains helpers for quoting and pointer values.
package types

import (
	"strings"
	"time"
)

///////////////////////////////////////////////////////////////////////////////
// QUOTING

// IsNumeric returns true if the string is not empty and contains only digits
func IsNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// IsSingleQuoted returns true if the string is enclosed in single quotes
func IsSingleQuoted(s string) bool {
	return len(s) >= 2 && s[0] == '\'' && s[len(s)-1] == '\''
}

// IsDoubleQuoted returns true if the string is enclosed in double quotes
func IsDoubleQuoted(s string) bool {
	return len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"'
}

// Quote returns a string literal, doubling any single quotes
func Quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// DoubleQuote returns an identifier, doubling any double quotes
func DoubleQuote(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

///////////////////////////////////////////////////////////////////////////////
// POINTERS

// Ptr returns a pointer to a copy of the value
func Ptr[T any](v T) *T {
	return &v
}

// Value returns the value a pointer points to, or the zero value for nil
func Value[T any](v *T) T {
	if v == nil {
		var zero T
		return zero
	}
	return *v
}

// PtrDuration returns nil for a zero duration
func PtrDuration(d time.Duration) *time.Duration {
	if d == 0 {
		return nil
	}
	return &d
}

// PtrTime returns nil for a zero time
func PtrTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
