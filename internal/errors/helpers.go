package errors

import (
	"fmt"
	"net/http"
)

// NewValidationError creates a validation error with field context
func NewValidationError(field, value, message string) *AppError {
	return New(ErrCodeValidationFailed, message).
		WithContext("field", field).
		WithContext("value", value).
		WithUserMessage(fmt.Sprintf("Invalid %s: %s", field, message))
}

// NewConfigError creates a configuration error
func NewConfigError(key, message string) *AppError {
	return New(ErrCodeInvalidConfig, message).
		WithContext("config_key", key).
		WithUserMessage("Configuration error")
}

// NewDatabaseError creates a database error with operation context
func NewDatabaseError(operation string, err error) *AppError {
	return Wrap(err, ErrCodeDatabaseQuery, fmt.Sprintf("database %s failed", operation)).
		WithContext("operation", operation).
		WithUserMessage("Database operation failed")
}

// NewAPIError creates an error for a failed bot service REST call.
// A zero status code means the request never produced a response.
func NewAPIError(endpoint string, statusCode int, err error) *AppError {
	retryable := statusCode == 0 || statusCode >= 500 || statusCode == http.StatusTooManyRequests || statusCode == http.StatusRequestTimeout

	appErr := Wrap(err, ErrCodeBotAPI, "bot API call failed").
		WithContext("endpoint", endpoint).
		WithContext("status_code", statusCode).
		WithUserMessage("The bot service could not complete the request")
	appErr.Retryable = retryable
	return appErr
}

// NewStreamError creates a transport error for the event stream.
func NewStreamError(operation string, err error) *AppError {
	return WrapRetryable(err, ErrCodeStreamTransport, fmt.Sprintf("stream %s failed", operation)).
		WithContext("operation", operation).
		WithUserMessage("Live updates are reconnecting")
}

// NewMalformedEventError describes a frame that could not be decoded.
func NewMalformedEventError(eventType, reason string) *AppError {
	return New(ErrCodeMalformedEvent, reason).
		WithContext("event", eventType)
}

// NewMutationError wraps a failed user action so it can be shown with a retry prompt.
func NewMutationError(kind, conversationID string, err error) *AppError {
	return WrapRetryable(err, ErrCodeMutationFailed, fmt.Sprintf("%s failed", kind)).
		WithContext("mutation", kind).
		WithContext("conversation_id", conversationID).
		WithUserMessage(mutationUserMessage(kind))
}

func mutationUserMessage(kind string) string {
	switch kind {
	case "send_text":
		return "Message could not be sent, please retry"
	case "send_media":
		return "Attachment could not be sent, please retry"
	case "mark_read":
		return "Could not mark the conversation as read, please retry"
	case "toggle_bot", "global_bot":
		return "Could not change the bot setting, please retry"
	default:
		return "Action failed, please retry"
	}
}

// NewMediaRejectedError creates an error for a file refused by the upload pre-check.
func NewMediaRejectedError(reason string) *AppError {
	return New(ErrCodeMediaRejected, reason).
		WithUserMessage(fmt.Sprintf("Attachment rejected: %s", reason))
}

// NewTimeoutError creates a timeout error with context
func NewTimeoutError(operation string, duration string) *AppError {
	return New(ErrCodeTimeout, fmt.Sprintf("%s timed out after %s", operation, duration)).
		WithContext("operation", operation).
		WithContext("timeout", duration).
		WithUserMessage("Operation timed out, please try again")
}

// NewNotFoundError creates a not found error with resource context
func NewNotFoundError(resource, identifier string) *AppError {
	return New(ErrCodeNotFound, fmt.Sprintf("%s not found", resource)).
		WithContext("resource", resource).
		WithContext("identifier", identifier).
		WithUserMessage(fmt.Sprintf("%s not found", resource))
}

// HTTPStatusCode maps error codes to appropriate HTTP status codes
func HTTPStatusCode(err error) int {
	switch GetCode(err) {
	case ErrCodeValidationFailed, ErrCodeInvalidInput, ErrCodeInvalidConfig:
		return http.StatusBadRequest
	case ErrCodeMediaRejected:
		return http.StatusUnprocessableEntity
	case ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case ErrCodeRateLimited:
		return http.StatusTooManyRequests
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeTimeout:
		return http.StatusRequestTimeout
	case ErrCodeBotAPI, ErrCodeMutationFailed:
		if IsRetryable(err) {
			return http.StatusBadGateway
		}
		return http.StatusInternalServerError
	case ErrCodeStreamTransport, ErrCodeUnavailable, ErrCodeDatabaseConnection, ErrCodeDatabaseQuery:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// HTTPErrorResponse is the JSON error body of the dashboard API
type HTTPErrorResponse struct {
	Error struct {
		Code      ErrorCode   `json:"code"`
		Message   string      `json:"message"`
		Retryable bool        `json:"retryable"`
		Context   interface{} `json:"context,omitempty"`
	} `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

// ToHTTPResponse converts an error to a standardized HTTP response
func ToHTTPResponse(err error, requestID string) HTTPErrorResponse {
	response := HTTPErrorResponse{
		RequestID: requestID,
	}

	appErr, ok := As(err)
	if !ok {
		response.Error.Code = ErrCodeInternalError
		response.Error.Message = GetUserMessage(err)
		return response
	}

	response.Error.Code = appErr.Code
	response.Error.Message = GetUserMessage(err)
	response.Error.Retryable = appErr.Retryable
	if len(appErr.Context) > 0 {
		publicContext := make(map[string]interface{})
		for k, v := range appErr.Context {
			if k != "value" && k != "token" && k != "secret" {
				publicContext[k] = v
			}
		}
		if len(publicContext) > 0 {
			response.Error.Context = publicContext
		}
	}
	return response
}
