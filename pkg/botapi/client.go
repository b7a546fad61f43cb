package botapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"

	"waconsole/internal/constants"
	apperrors "waconsole/internal/errors"
	"waconsole/internal/metrics"
	"waconsole/internal/models"
	"waconsole/internal/tracing"
	"waconsole/pkg/circuitbreaker"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

// ClientConfig configures the bot REST client.
type ClientConfig struct {
	BaseURL            string
	APIKey             string
	Timeout            time.Duration
	BreakerMaxFailures int
	BreakerCooldown    time.Duration
}

// Client talks to the bot service REST API. Every call runs in a span and
// behind a circuit breaker that only counts retryable failures.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	breaker *circuitbreaker.CircuitBreaker
	logger  *logrus.Logger
}

var _ API = (*Client)(nil)

func NewClient(cfg ClientConfig, logger *logrus.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = time.Duration(constants.DefaultBotTimeoutMs) * time.Millisecond
	}
	if cfg.BreakerMaxFailures <= 0 {
		cfg.BreakerMaxFailures = constants.DefaultBreakerMaxFailures
	}
	if cfg.BreakerCooldown <= 0 {
		cfg.BreakerCooldown = time.Duration(constants.DefaultBreakerCooldownSec) * time.Second
	}

	return &Client{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		http:    &http.Client{Timeout: cfg.Timeout},
		breaker: circuitbreaker.NewWithLogger(constants.DefaultBotBreakerName,
			uint32(cfg.BreakerMaxFailures), cfg.BreakerCooldown, logger,
			circuitbreaker.WithFailurePredicate(apperrors.IsRetryable)),
		logger: logger,
	}
}

// BreakerStats exposes the circuit breaker for the status endpoint.
func (c *Client) BreakerStats() circuitbreaker.Stats {
	return c.breaker.GetStats()
}

func (c *Client) ListConversations(ctx context.Context, cursor string, limit int) (models.ConversationPage, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	if cursor != "" {
		q.Set("cursor", cursor)
	}

	body, err := c.do(ctx, "list_conversations", http.MethodGet, "/api/conversations?"+q.Encode(), nil, "")
	if err != nil {
		return models.ConversationPage{}, err
	}

	page, skipped := ParseConversationPage(body)
	if skipped > 0 {
		c.logger.WithField("skipped", skipped).Warn("Dropped conversations without an id")
	}
	return page, nil
}

func (c *Client) FetchMessages(ctx context.Context, conversationID string, limit int, before *time.Time) ([]models.Message, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	if before != nil {
		q.Set("before", before.UTC().Format(time.RFC3339Nano))
	}

	path := "/api/conversations/" + url.PathEscape(conversationID) + "/messages?" + q.Encode()
	body, err := c.do(ctx, "fetch_messages", http.MethodGet, path, nil, "")
	if err != nil {
		return nil, err
	}

	msgs, skipped := ParseMessages(body, conversationID)
	if skipped > 0 {
		c.logger.WithFields(logrus.Fields{
			"conversation_id": conversationID,
			"skipped":         skipped,
		}).Warn("Dropped messages that could not be normalized")
	}
	return msgs, nil
}

func (c *Client) SendText(ctx context.Context, conversationID, text string) (models.Message, error) {
	payload := map[string]interface{}{
		"type": models.ContentTypeText,
		"body": text,
	}
	return c.sendMessage(ctx, "send_text", conversationID, payload)
}

func (c *Client) SendMedia(ctx context.Context, conversationID string, media models.MediaSend) (models.Message, error) {
	payload := map[string]interface{}{
		"type":      media.Type,
		"media_url": media.URL,
	}
	if media.Caption != "" {
		payload["caption"] = media.Caption
	}
	if media.Filename != "" {
		payload["filename"] = media.Filename
	}
	return c.sendMessage(ctx, "send_media", conversationID, payload)
}

// sendMessage posts a message. A 2xx reply without a recognizable message
// yields a Message with an empty ID; the stream echo will carry the real record.
func (c *Client) sendMessage(ctx context.Context, op, conversationID string, payload map[string]interface{}) (models.Message, error) {
	path := "/api/conversations/" + url.PathEscape(conversationID) + "/messages"
	body, err := c.doJSON(ctx, op, http.MethodPost, path, payload)
	if err != nil {
		return models.Message{}, err
	}

	msg, err := ParseMessage(body, conversationID)
	if err != nil {
		c.logger.WithFields(logrus.Fields{
			"conversation_id": conversationID,
			"operation":       op,
		}).Debug("Send response carried no message record")
		return models.Message{ConversationID: conversationID}, nil
	}
	return msg, nil
}

func (c *Client) UploadMedia(ctx context.Context, filename, contentType string, content io.Reader) (string, error) {
	buf := &bytes.Buffer{}
	writer := multipart.NewWriter(buf)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
	header.Set("Content-Type", contentType)
	part, err := writer.CreatePart(header)
	if err != nil {
		return "", fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := io.Copy(part, content); err != nil {
		return "", fmt.Errorf("failed to copy file content: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("failed to close multipart writer: %w", err)
	}

	body, err := c.do(ctx, "upload_media", http.MethodPost, "/api/media", buf.Bytes(), writer.FormDataContentType())
	if err != nil {
		return "", err
	}

	mediaURL, ok := ParseUploadURL(body)
	if !ok {
		return "", apperrors.NewAPIError("/api/media", http.StatusOK, fmt.Errorf("upload response has no url"))
	}
	if u, err := url.Parse(mediaURL); err != nil || !u.IsAbs() || (u.Scheme != "http" && u.Scheme != "https") {
		return "", apperrors.NewAPIError("/api/media", http.StatusOK, fmt.Errorf("upload returned a non http(s) url: %q", mediaURL))
	}
	return mediaURL, nil
}

func (c *Client) MarkRead(ctx context.Context, conversationID string) error {
	path := "/api/conversations/" + url.PathEscape(conversationID) + "/read"
	_, err := c.doJSON(ctx, "mark_read", http.MethodPost, path, map[string]interface{}{})
	return err
}

func (c *Client) SetConversationBot(ctx context.Context, conversationID string, enabled bool) error {
	path := "/api/conversations/" + url.PathEscape(conversationID) + "/bot"
	_, err := c.doJSON(ctx, "set_conversation_bot", http.MethodPut, path, map[string]interface{}{"enabled": enabled})
	return err
}

func (c *Client) SetGlobalBot(ctx context.Context, enabled bool) error {
	_, err := c.doJSON(ctx, "set_global_bot", http.MethodPut, "/api/bot", map[string]interface{}{"enabled": enabled})
	return err
}

func (c *Client) doJSON(ctx context.Context, op, method, path string, payload interface{}) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	return c.do(ctx, op, method, path, data, "application/json")
}

// do performs one request through the breaker and returns the response body of a 2xx reply.
func (c *Client) do(ctx context.Context, op, method, path string, payload []byte, contentType string) ([]byte, error) {
	endpoint := path
	if i := strings.IndexByte(endpoint, '?'); i >= 0 {
		endpoint = endpoint[:i]
	}

	ctx, span := tracing.StartSpan(ctx, "botapi."+op,
		attribute.String("http.method", method),
		attribute.String("bot.endpoint", endpoint),
	)
	start := time.Now()

	var body []byte
	status := 0
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		var reqErr error
		body, status, reqErr = c.roundTrip(ctx, method, path, payload, contentType)
		if reqErr != nil {
			return apperrors.NewAPIError(endpoint, status, reqErr)
		}
		return nil
	})
	if circuitbreaker.IsCircuitBreakerError(err) {
		err = apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "bot API temporarily unavailable").
			WithContext("endpoint", endpoint).
			WithUserMessage("The bot service is temporarily unavailable, please retry shortly")
	}

	labels := map[string]string{"operation": op, "status": strconv.Itoa(status)}
	metrics.RecordTimer("bot_api_request_duration", time.Since(start), labels, "Bot API request latency")
	metrics.IncrementCounter("bot_api_requests_total", labels, "Bot API requests")
	tracing.AddSpanAttributes(ctx, attribute.Int("http.status_code", status))
	tracing.EndSpan(span, err)

	if err != nil {
		return nil, err
	}
	return body, nil
}

func (c *Client) roundTrip(ctx context.Context, method, path string, payload []byte, contentType string) ([]byte, int, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-Api-Key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, constants.DefaultMaxResponseBodyBytes))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, resp.StatusCode, fmt.Errorf("request failed with status %d: %s", resp.StatusCode, snippet(body))
	}
	return body, resp.StatusCode, nil
}

func snippet(body []byte) string {
	const max = 200
	s := strings.TrimSpace(string(body))
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
