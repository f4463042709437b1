package api

import "unicode/utf8"

const (
	maxUsernameLen = 64
	maxPasswordLen = 256
)

// validateStringLen checks that value does not exceed maxLen characters.
// Returns an error message if invalid, empty string if OK.
func validateStringLen(field, value string, maxLen int) string {
	if utf8.RuneCountInString(value) > maxLen {
		return field + " exceeds maximum length"
	}
	return ""
}

// validateRequiredStringLen is validateStringLen for mandatory fields.
func validateRequiredStringLen(field, value string, maxLen int) string {
	if value == "" {
		return field + " is required"
	}
	return validateStringLen(field, value, maxLen)
}

// containsControlChars reports control characters other than common
// whitespace.
func containsControlChars(s string) bool {
	for _, r := range s {
		if r < 32 && r != '\n' && r != '\r' && r != '\t' {
			return true
		}
	}
	return false
}
