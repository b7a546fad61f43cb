package service

// Logging standards for the console engine.
//
// Field names and log levels used across the service layer so log lines from
// the stream, dispatcher, stores and gateway can be correlated.

// Standard Field Names
const (
	// Core identifiers
	LogFieldConversationID = "conversation_id"
	LogFieldMessageID      = "message_id"
	LogFieldMutationID     = "mutation_id"
	LogFieldOrderID        = "order_id"
	LogFieldRequestID      = "request_id"

	// Component and operation fields
	LogFieldComponent = "component"
	LogFieldOperation = "operation"
	LogFieldMutation  = "mutation"

	// Event fields
	LogFieldEvent       = "event"
	LogFieldMessageType = "message_type"
	LogFieldDirection   = "direction"
	LogFieldState       = "state"
	LogFieldSource      = "source"

	// Paging and counts
	LogFieldCount    = "count"
	LogFieldSkipped  = "skipped"
	LogFieldPageSize = "page_size"
	LogFieldHasMore  = "has_more"

	// Performance
	LogFieldDuration = "duration_ms"
	LogFieldSize     = "size_bytes"

	// Customer data, always masked
	LogFieldPhone = "phone"
	LogFieldBody  = "body"

	// Error and retry
	LogFieldErrorCode = "error_code"
	LogFieldAttempt   = "attempt"
	LogFieldDelay     = "delay_ms"
)

// Component names used with LogFieldComponent.
const (
	ComponentDispatcher = "dispatcher"
	ComponentDirectory  = "directory"
	ComponentTimeline   = "timeline"
	ComponentGateway    = "gateway"
	ComponentConsole    = "console"
	ComponentScheduler  = "scheduler"
)

// Log Level Usage Guidelines
//
// DEBUG: ignored frame types, keepalive traffic, dropped duplicates, raw sizes.
//
// INFO: startup and shutdown, stream connected, directory refreshed, mutation confirmed.
//
// WARN: malformed frames, reconnect scheduled, journal write failed, partial pages
// with skipped records.
//
// ERROR: mutation rolled back, bot API rejected a request, cleanup failed.
//
// FATAL: required configuration missing or the journal cannot be opened at startup.

// Standard Log Message Patterns
//
// Starting operations: "Starting [operation]"
// Failed operations: "Failed to [operation]"
// Skipping operations: "Skipping [operation]: [reason]"
// Dropped input: "Dropped [thing]"

// Example Usage:
//
// logger.WithFields(logrus.Fields{
//     LogFieldComponent:      ComponentGateway,
//     LogFieldMutation:       models.MutationSendText,
//     LogFieldConversationID: conversationID,
// }).Error("Failed to send message")
