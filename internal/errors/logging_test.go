package errors

import (
	"bytes"
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func jsonLogger(buf *bytes.Buffer) *Logger {
	l := logrus.New()
	l.SetFormatter(&logrus.JSONFormatter{})
	l.SetOutput(buf)
	l.SetLevel(logrus.DebugLevel)
	return WrapLogger(l)
}

func TestLogger_LogError(t *testing.T) {
	var buf bytes.Buffer
	logger := jsonLogger(&buf)

	err := New(ErrCodeValidationFailed, "validation failed").WithContext("field", "body")
	logger.LogError(err, "Send rejected", logrus.Fields{"conversation_id": "c1"})

	out := buf.String()
	assert.Contains(t, out, `"level":"error"`)
	assert.Contains(t, out, `"error_code":"VALIDATION_FAILED"`)
	assert.Contains(t, out, `"field":"body"`)
	assert.Contains(t, out, `"conversation_id":"c1"`)
	assert.Contains(t, out, `"msg":"Send rejected"`)
}

func TestLevelFor(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		level logrus.Level
	}{
		{"retryable stream error", NewStreamError("read", errors.New("eof")), logrus.WarnLevel},
		{"malformed frame", New(ErrCodeMalformedEvent, "bad frame"), logrus.WarnLevel},
		{"user validation", New(ErrCodeValidationFailed, "empty"), logrus.InfoLevel},
		{"media rejected", New(ErrCodeMediaRejected, "too big"), logrus.InfoLevel},
		{"mutation failed", New(ErrCodeMutationFailed, "send failed"), logrus.ErrorLevel},
		{"plain error", errors.New("plain"), logrus.ErrorLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.level, LevelFor(tt.err))
		})
	}
}

func TestLogger_LogUsesLevelFor(t *testing.T) {
	var buf bytes.Buffer
	logger := jsonLogger(&buf)

	logger.Log(NewStreamError("dial", errors.New("refused")), "stream problem")

	assert.Contains(t, buf.String(), `"level":"warning"`)
	assert.Contains(t, buf.String(), `"retryable":true`)
}
