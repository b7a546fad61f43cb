package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	apperrors "waconsole/internal/errors"
	"waconsole/internal/metrics"
	"waconsole/internal/tracing"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bufferLogger(level logrus.Level) (*logrus.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	logger := logrus.New()
	logger.SetOutput(&buf)
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetLevel(level)
	return logger, &buf
}

func TestObservabilityMiddleware_RouteTemplateLabels(t *testing.T) {
	logger, logs := bufferLogger(logrus.InfoLevel)

	router := mux.NewRouter()
	router.Use(ObservabilityMiddleware(logger))
	router.HandleFunc("/obs/conversations/{id}/messages", func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, tracing.GetRequestID(r.Context()))
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)

	req := httptest.NewRequest(http.MethodGet, "/obs/conversations/c-42/messages", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get(RequestIDHeader))

	snap := metrics.GetSnapshot()
	key := "http_requests_total_endpoint:/obs/conversations/{id}/messages_method:GET"
	require.Contains(t, snap.Counters, key)
	assert.GreaterOrEqual(t, snap.Counters[key].Value, float64(1))
	for k := range snap.Counters {
		assert.NotContains(t, k, "c-42", "raw path ids must not become metric labels")
	}

	var entry map[string]interface{}
	lines := strings.Split(strings.TrimSpace(logs.String()), "\n")
	require.NoError(t, json.Unmarshal([]byte(lines[len(lines)-1]), &entry))
	assert.Equal(t, "HTTP request completed", entry["msg"])
	assert.Equal(t, float64(200), entry["status_code"])
	assert.Equal(t, float64(2), entry["size_bytes"])
}

func TestObservabilityMiddleware_StatusLevels(t *testing.T) {
	tests := []struct {
		name   string
		status int
		level  string
	}{
		{"ok", http.StatusOK, "info"},
		{"client error", http.StatusNotFound, "warning"},
		{"server error", http.StatusBadGateway, "error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, logs := bufferLogger(logrus.InfoLevel)
			handler := ObservabilityMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))

			w := httptest.NewRecorder()
			handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/obs/levels", nil))

			assert.Equal(t, tt.status, w.Code)
			assert.Contains(t, logs.String(), `"level":"`+tt.level+`"`)
		})
	}
}

func TestObservabilityMiddleware_KeepsIncomingRequestID(t *testing.T) {
	logger, _ := bufferLogger(logrus.InfoLevel)
	var seen string
	handler := ObservabilityMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = tracing.GetRequestID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/obs/id", nil)
	req.Header.Set(RequestIDHeader, "client-req.1")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	assert.Equal(t, "client-req.1", seen)
	assert.Equal(t, "client-req.1", w.Header().Get(RequestIDHeader))

	req = httptest.NewRequest(http.MethodGet, "/obs/id", nil)
	req.Header.Set(RequestIDHeader, "bad id\nwith newline")
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	assert.NotEqual(t, "bad id\nwith newline", seen)
	assert.NotEmpty(t, seen)
}

func TestObservabilityMiddleware_MasksHeadersAtDebug(t *testing.T) {
	logger, logs := bufferLogger(logrus.DebugLevel)
	handler := ObservabilityMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest(http.MethodGet, "/obs/headers", nil)
	req.Header.Set("X-Api-Key", "super-secret")
	req.Header.Set("Accept", "application/json")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	assert.NotContains(t, logs.String(), "super-secret")
	assert.Contains(t, logs.String(), "[masked]")
	assert.Contains(t, logs.String(), "application/json")
}

func TestAPIKeyMiddleware(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })
	handler := APIKeyMiddleware("tok", "/health")(ok)

	tests := []struct {
		name   string
		path   string
		header [2]string
		status int
	}{
		{"missing token", "/api/status", [2]string{}, http.StatusUnauthorized},
		{"wrong token", "/api/status", [2]string{"X-Api-Key", "nope"}, http.StatusUnauthorized},
		{"api key header", "/api/status", [2]string{"X-Api-Key", "tok"}, http.StatusNoContent},
		{"bearer", "/api/status", [2]string{"Authorization", "Bearer tok"}, http.StatusNoContent},
		{"open path", "/health", [2]string{}, http.StatusNoContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header[0] != "" {
				req.Header.Set(tt.header[0], tt.header[1])
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)
			assert.Equal(t, tt.status, w.Code)
			if tt.status == http.StatusUnauthorized {
				var body apperrors.HTTPErrorResponse
				require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
				assert.Equal(t, apperrors.ErrCodeUnauthorized, body.Error.Code)
			}
		})
	}
}

func TestAPIKeyMiddleware_EmptyTokenDisablesCheck(t *testing.T) {
	handler := APIKeyMiddleware("")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name     string
		xff      string
		xri      string
		remote   string
		expected string
	}{
		{"forwarded first hop", "203.0.113.5, 10.0.0.1", "", "10.0.0.2:5000", "203.0.113.5"},
		{"real ip", "", "198.51.100.7", "10.0.0.2:5000", "198.51.100.7"},
		{"remote addr", "", "", "192.0.2.1:1234", "192.0.2.1"},
		{"remote addr without port", "", "", "192.0.2.1", "192.0.2.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.xri != "" {
				req.Header.Set("X-Real-IP", tt.xri)
			}
			assert.Equal(t, tt.expected, GetClientIP(req))
		})
	}
}

func TestResponseWrapper_FirstStatusWins(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := &responseWrapper{ResponseWriter: rec, statusCode: http.StatusOK}
	rw.WriteHeader(http.StatusCreated)
	rw.WriteHeader(http.StatusInternalServerError)
	n, err := rw.Write([]byte("abc"))
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, http.StatusCreated, rw.statusCode)
	assert.Equal(t, int64(3), rw.responseSize)

	_, _, err = rw.Hijack()
	assert.Error(t, err, "httptest recorder cannot be hijacked")
}
