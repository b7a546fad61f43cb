package validation

import (
	"strings"
	"testing"

	"waconsole/internal/errors"

	"github.com/stretchr/testify/assert"
)

func TestValidateConversationID(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		wantErr bool
	}{
		{"plain", "c_123", false},
		{"uuid", "6f1c2a4e-9a7b-4c1d-8e2f-0a1b2c3d4e5f", false},
		{"max length", strings.Repeat("x", 128), false},
		{"empty", "", true},
		{"blank", "  ", true},
		{"too long", strings.Repeat("x", 129), true},
		{"newline", "c1\n", true},
		{"nul", "c\x001", true},
		{"slash", "../c1", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateConversationID(tt.id)
			if tt.wantErr {
				assert.True(t, errors.HasCode(err, errors.ErrCodeValidationFailed))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateMessageBody(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{"text", "hola", false},
		{"multibyte at limit", strings.Repeat("ñ", 10), false},
		{"empty", "", true},
		{"whitespace", " \n\t", true},
		{"over limit", strings.Repeat("ñ", 11), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateMessageBody(tt.body, 10)
			if tt.wantErr {
				assert.True(t, errors.HasCode(err, errors.ErrCodeValidationFailed))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateFilePath(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{"relative", "data/waconsole.db", false},
		{"absolute", "/var/lib/waconsole/journal.db", false},
		{"dotted name", "journal..db", false},
		{"empty", "", true},
		{"parent", "../journal.db", true},
		{"nested parent", "data/../../journal.db", true},
		{"nul", "journal\x00.db", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateFilePath(tt.path)
			if tt.wantErr {
				assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidInput))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateNumericRange(t *testing.T) {
	assert.NoError(t, ValidateNumericRange(5, "pageSize", 1, 10))
	assert.NoError(t, ValidateNumericRange(1, "pageSize", 1, 10))
	assert.NoError(t, ValidateNumericRange(10, "pageSize", 1, 10))

	err := ValidateNumericRange(0, "pageSize", 1, 10)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "pageSize too small")

	err = ValidateNumericRange(11, "pageSize", 1, 10)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "pageSize too large")
}

func TestValidateRetentionDays(t *testing.T) {
	assert.NoError(t, ValidateRetentionDays(1))
	assert.NoError(t, ValidateRetentionDays(3650))
	assert.Error(t, ValidateRetentionDays(0))
	assert.Error(t, ValidateRetentionDays(3651))
}

func TestValidateCronExpression(t *testing.T) {
	assert.NoError(t, ValidateCronExpression("0 3 * * *"))
	assert.NoError(t, ValidateCronExpression("*/15 * * * *"))
	assert.Error(t, ValidateCronExpression("every night"))
	assert.Error(t, ValidateCronExpression(""))
}
