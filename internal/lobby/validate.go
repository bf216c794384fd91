package lobby

import (
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

const (
	maxTitleLength    = 255
	maxUsernameLength = 30
)

var policy = bluemonday.StrictPolicy()

// sanitize strips any HTML and trims surrounding whitespace.
func sanitize(input string) string {
	return strings.TrimSpace(policy.Sanitize(input))
}

func validateText(field, raw string, max int) (string, error) {
	cleaned := sanitize(raw)
	if cleaned == "" {
		return "", &ValidationError{Field: field, Message: field + " is required"}
	}
	if utf8.RuneCountInString(cleaned) > max {
		return "", &ValidationError{Field: field, Message: field + " is too long"}
	}
	return cleaned, nil
}

// ValidateTitle returns the sanitised lobby title.
func ValidateTitle(raw string) (string, error) {
	return validateText("title", raw, maxTitleLength)
}

// ValidateUsername returns the sanitised player name.
func ValidateUsername(raw string) (string, error) {
	return validateText("username", raw, maxUsernameLength)
}

func validateTeam(number int) error {
	if number < 1 {
		return &ValidationError{Field: "team", Message: "team must be at least 1"}
	}
	return nil
}
