package validation

import (
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"waconsole/internal/constants"
	"waconsole/internal/errors"

	"github.com/adhocore/gronx"
)

// ValidateConversationID rejects ids that cannot be sent to the bot API.
func ValidateConversationID(id string) error {
	if strings.TrimSpace(id) == "" {
		return errors.NewValidationError("conversation_id", id, "conversation id is required")
	}
	if len(id) > constants.MaxConversationIDLength {
		return errors.NewValidationError("conversation_id", "",
			fmt.Sprintf("conversation id too long (max %d characters)", constants.MaxConversationIDLength))
	}
	if strings.ContainsAny(id, "\x00\n\r\t/") {
		return errors.NewValidationError("conversation_id", "", "conversation id contains invalid characters")
	}
	return nil
}

// ValidateMessageBody checks an outgoing text message.
func ValidateMessageBody(body string, maxRunes int) error {
	if strings.TrimSpace(body) == "" {
		return errors.NewValidationError("body", "", "message is empty")
	}
	if utf8.RuneCountInString(body) > maxRunes {
		return errors.NewValidationError("body", "",
			fmt.Sprintf("message too long (max %d characters)", maxRunes))
	}
	return nil
}

// ValidateFilePath rejects empty paths, NUL bytes and ".." segments.
// Absolute paths are allowed.
func ValidateFilePath(path string) error {
	if path == "" {
		return errors.New(errors.ErrCodeInvalidInput, "file path cannot be empty")
	}
	if strings.ContainsRune(path, '\x00') {
		return errors.New(errors.ErrCodeInvalidInput, "file path contains a NUL byte")
	}
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if part == ".." {
			return errors.New(errors.ErrCodeInvalidInput,
				fmt.Sprintf("path contains directory traversal: %s", path))
		}
	}
	return nil
}

// ValidateNumericRange validates numeric values against bounds
func ValidateNumericRange(value int, fieldName string, min, max int) error {
	if value < min {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("%s too small (min %d)", fieldName, min))
	}

	if value > max {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("%s too large (max %d)", fieldName, max))
	}

	return nil
}

// ValidateRetentionDays validates the journal retention period
func ValidateRetentionDays(days int) error {
	if days < 1 {
		return errors.New(errors.ErrCodeInvalidInput, "retention days must be at least 1")
	}

	if days > 3650 {
		return errors.New(errors.ErrCodeInvalidInput, "retention days too large (max 3650)")
	}

	return nil
}

// ValidateCronExpression checks a five-field cron expression.
func ValidateCronExpression(expr string) error {
	if !gronx.New().IsValid(expr) {
		return errors.New(errors.ErrCodeInvalidInput, fmt.Sprintf("invalid cron expression: %q", expr))
	}
	return nil
}
