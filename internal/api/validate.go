package api

import (
	"time"
	"unicode/utf8"
)

// maxNameLen is the maximum length for names and free-text search terms.
const maxNameLen = 200

// maxShortStringLen is the maximum length for short identifiers (call IDs).
const maxShortStringLen = 64

// maxPasswordLen is the maximum length for passwords.
const maxPasswordLen = 256

// validateStringLen checks that a string does not exceed maxLen runes.
// Returns an error message if invalid, empty string if OK.
func validateStringLen(field, value string, maxLen int) string {
	if utf8.RuneCountInString(value) > maxLen {
		return field + " exceeds maximum length"
	}
	return ""
}

// validateRequiredStringLen checks that a non-empty string does not exceed maxLen runes.
func validateRequiredStringLen(field, value string, maxLen int) string {
	if value == "" {
		return field + " is required"
	}
	return validateStringLen(field, value, maxLen)
}

// containsControlChars checks whether a string has control characters
// (except common whitespace like \n, \r, \t).
func containsControlChars(s string) bool {
	for _, r := range s {
		if r < 32 && r != '\n' && r != '\r' && r != '\t' {
			return true
		}
	}
	return false
}

// validateNoControlChars rejects strings with control characters.
func validateNoControlChars(field, value string) string {
	if containsControlChars(value) {
		return field + " contains invalid characters"
	}
	return ""
}

// parseTimestamp accepts an RFC 3339 timestamp or a YYYY-MM-DD date (UTC
// midnight). Empty input yields the zero time.
func parseTimestamp(field, value string) (time.Time, string) {
	if value == "" {
		return time.Time{}, ""
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t.UTC(), ""
	}
	if t, err := time.Parse(time.DateOnly, value); err == nil {
		return t, ""
	}
	return time.Time{}, field + " must be an RFC 3339 timestamp or YYYY-MM-DD date"
}
