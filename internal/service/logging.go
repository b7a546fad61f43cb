package service

import (
	"context"

	"waconsole/internal/models"
	"waconsole/internal/privacy"
	"waconsole/internal/tracing"

	"github.com/sirupsen/logrus"
)

// ContextKey is a package-local type to prevent context key collisions
// See staticcheck SA1029 guidance
type ContextKey string

// VerboseContextKey is the strongly-typed context key for verbose logging flag
const VerboseContextKey ContextKey = "verbose"

// WithVerbose marks ctx so customer data is logged unmasked.
func WithVerbose(ctx context.Context, verbose bool) context.Context {
	return context.WithValue(ctx, VerboseContextKey, verbose)
}

// IsVerboseLogging checks if verbose logging is enabled from context
func IsVerboseLogging(ctx context.Context) bool {
	if verbose, ok := ctx.Value(VerboseContextKey).(bool); ok {
		return verbose
	}
	return false
}

// LogWithContext returns an entry carrying the correlation ids found in ctx.
func LogWithContext(ctx context.Context, logger *logrus.Logger) *logrus.Entry {
	fields := logrus.Fields{"verbose": IsVerboseLogging(ctx)}
	if id := tracing.GetRequestID(ctx); id != "" {
		fields[LogFieldRequestID] = id
	}
	if id := tracing.GetTraceID(ctx); id != "" {
		fields["trace_id"] = id
	}
	if id := tracing.GetConversationID(ctx); id != "" {
		fields[LogFieldConversationID] = id
	}
	return logger.WithFields(fields)
}

// LogMessage logs a message with customer data masked unless ctx is verbose.
func LogMessage(ctx context.Context, logger *logrus.Logger, msg models.Message, text string) {
	fields := logrus.Fields{
		LogFieldConversationID: msg.ConversationID,
		LogFieldMessageID:      msg.ID,
		LogFieldMessageType:    msg.Type,
		LogFieldDirection:      msg.Direction,
	}
	if IsVerboseLogging(ctx) {
		fields[LogFieldBody] = msg.Body
	} else {
		fields[LogFieldMessageID] = privacy.MaskIdentifier(msg.ID)
		fields[LogFieldBody] = privacy.MaskBody(msg.Body)
	}
	LogWithContext(ctx, logger).WithFields(fields).Debug(text)
}
