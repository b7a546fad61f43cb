package tracing

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type infoKey struct{}

// RequestInfo is the correlation data carried through a dashboard request or
// a console operation.
type RequestInfo struct {
	RequestID      string    `json:"request_id"`
	TraceID        string    `json:"trace_id"`
	SpanID         string    `json:"span_id"`
	ConversationID string    `json:"conversation_id,omitempty"`
	StartTime      time.Time `json:"start_time"`
}

// GenerateRequestID returns "req_" followed by a random uuid.
func GenerateRequestID() string {
	return "req_" + uuid.NewString()
}

// GetRequestInfo returns the correlation data stored in ctx, or the zero value.
func GetRequestInfo(ctx context.Context) RequestInfo {
	if info, ok := ctx.Value(infoKey{}).(RequestInfo); ok {
		return info
	}
	return RequestInfo{}
}

// with copies the stored info, applies fn and stores the copy. Contexts are
// shared across goroutines so the stored value is never mutated in place.
func with(ctx context.Context, fn func(*RequestInfo)) context.Context {
	info := GetRequestInfo(ctx)
	fn(&info)
	return context.WithValue(ctx, infoKey{}, info)
}

func WithRequestID(ctx context.Context, id string) context.Context {
	return with(ctx, func(i *RequestInfo) { i.RequestID = id })
}

func WithTraceID(ctx context.Context, id string) context.Context {
	return with(ctx, func(i *RequestInfo) { i.TraceID = id })
}

func WithSpanID(ctx context.Context, id string) context.Context {
	return with(ctx, func(i *RequestInfo) { i.SpanID = id })
}

// WithConversationID tags ctx with the conversation an operation targets.
func WithConversationID(ctx context.Context, id string) context.Context {
	return with(ctx, func(i *RequestInfo) { i.ConversationID = id })
}

func GetRequestID(ctx context.Context) string {
	return GetRequestInfo(ctx).RequestID
}

func GetTraceID(ctx context.Context) string {
	return GetRequestInfo(ctx).TraceID
}

func GetConversationID(ctx context.Context) string {
	return GetRequestInfo(ctx).ConversationID
}

// WithRequestTracing stamps a fresh request id and start time onto ctx.
func WithRequestTracing(ctx context.Context) context.Context {
	return with(ctx, func(i *RequestInfo) {
		i.RequestID = GenerateRequestID()
		i.StartTime = time.Now()
	})
}

// Duration is the time elapsed since WithRequestTracing, or zero.
func Duration(ctx context.Context) time.Duration {
	start := GetRequestInfo(ctx).StartTime
	if start.IsZero() {
		return 0
	}
	return time.Since(start)
}
