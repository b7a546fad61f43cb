package errors

import (
	"github.com/sirupsen/logrus"
)

// Logger logs errors with their AppError code, retryability and context
// flattened into the entry.
type Logger struct {
	*logrus.Logger
}

// WrapLogger adopts an existing logrus logger.
func WrapLogger(logger *logrus.Logger) *Logger {
	return &Logger{Logger: logger}
}

// LevelFor picks the log level for err. Problems the user caused or the
// system will retry are not errors.
func LevelFor(err error) logrus.Level {
	appErr, ok := As(err)
	if !ok {
		return logrus.ErrorLevel
	}
	switch {
	case appErr.Code == ErrCodeValidationFailed,
		appErr.Code == ErrCodeInvalidInput,
		appErr.Code == ErrCodeMediaRejected:
		return logrus.InfoLevel
	case appErr.Retryable, appErr.Code == ErrCodeMalformedEvent:
		return logrus.WarnLevel
	}
	return logrus.ErrorLevel
}

// Log writes err at the level LevelFor chooses.
func (l *Logger) Log(err error, message string, fields ...logrus.Fields) {
	l.entry(err, fields).Log(LevelFor(err), message)
}

// LogError always logs at error level.
func (l *Logger) LogError(err error, message string, fields ...logrus.Fields) {
	l.entry(err, fields).Error(message)
}

// LogWarn always logs at warn level.
func (l *Logger) LogWarn(err error, message string, fields ...logrus.Fields) {
	l.entry(err, fields).Warn(message)
}

func (l *Logger) entry(err error, fields []logrus.Fields) *logrus.Entry {
	entry := l.Logger.WithError(err)
	if appErr, ok := As(err); ok {
		flat := logrus.Fields{
			"error_code": appErr.Code,
			"retryable":  appErr.Retryable,
		}
		for k, v := range appErr.Context {
			flat[k] = v
		}
		entry = entry.WithFields(flat)
	}
	for _, f := range fields {
		entry = entry.WithFields(f)
	}
	return entry
}
