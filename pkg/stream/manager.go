package stream

import (
	"bytes"
	"context"
	"net/http"
	"sync"
	"time"

	"waconsole/internal/constants"
	apperrors "waconsole/internal/errors"
	"waconsole/internal/metrics"
	"waconsole/internal/retry"

	"github.com/coder/websocket"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

// State is the connection lifecycle exposed to consumers.
type State string

const (
	StateIdle       State = "idle"
	StateConnecting State = "connecting"
	StateConnected  State = "connected"
	StateError      State = "error"
)

// Status is a snapshot of the manager.
type Status struct {
	State     State  `json:"state"`
	LastError string `json:"last_error,omitempty"`
	Attempt   int    `json:"attempt"`
}

// Config configures the stream connection.
type Config struct {
	URL            string
	APIKey         string
	Keepalive      time.Duration
	ReconnectBase  time.Duration
	ReconnectMax   time.Duration
	ConnectTimeout time.Duration
}

// Timer is the handle of a scheduled reconnect.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f after d. It exists so tests can observe reconnect delays.
type AfterFunc func(d time.Duration, f func()) Timer

func realAfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Option customizes a Manager.
type Option func(*Manager)

// WithAfterFunc replaces the reconnect scheduler.
func WithAfterFunc(fn AfterFunc) Option {
	return func(m *Manager) { m.afterFunc = fn }
}

// Manager keeps exactly one logical websocket connection to the bot service
// alive, with keepalive pings and exponential-backoff reconnects.
type Manager struct {
	cfg       Config
	logger    *logrus.Logger
	backoff   *retry.Backoff
	afterFunc AfterFunc

	mu      sync.Mutex
	state   State
	lastErr error
	attempt int
	gen     uint64
	conn    *websocket.Conn
	cancel  context.CancelFunc
	pending Timer
	closed  bool

	// deliverMu serializes callbacks with teardown so none run after Close returns.
	deliverMu   sync.Mutex
	onFrame     func([]byte)
	onConnected []func()
	onState     []func(Status)
}

func NewManager(cfg Config, logger *logrus.Logger, opts ...Option) *Manager {
	if cfg.Keepalive <= 0 {
		cfg.Keepalive = time.Duration(constants.DefaultKeepaliveSec) * time.Second
	}
	if cfg.ReconnectBase <= 0 {
		cfg.ReconnectBase = time.Duration(constants.DefaultReconnectBaseMs) * time.Millisecond
	}
	if cfg.ReconnectMax <= 0 {
		cfg.ReconnectMax = time.Duration(constants.DefaultReconnectMaxMs) * time.Millisecond
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = time.Duration(constants.DefaultStreamConnectTimeoutMs) * time.Millisecond
	}

	m := &Manager{
		cfg:       cfg,
		logger:    logger,
		backoff:   retry.NewBackoff(retry.ReconnectBackoffConfig(cfg.ReconnectBase, cfg.ReconnectMax)),
		afterFunc: realAfterFunc,
		state:     StateIdle,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SetFrameHandler installs the receiver of every non-keepalive frame.
func (m *Manager) SetFrameHandler(fn func([]byte)) {
	m.deliverMu.Lock()
	defer m.deliverMu.Unlock()
	m.onFrame = fn
}

// OnConnected registers a callback run after every successful open.
func (m *Manager) OnConnected(fn func()) {
	m.deliverMu.Lock()
	defer m.deliverMu.Unlock()
	m.onConnected = append(m.onConnected, fn)
}

// OnStateChange registers a callback run after every state transition.
func (m *Manager) OnStateChange(fn func(Status)) {
	m.deliverMu.Lock()
	defer m.deliverMu.Unlock()
	m.onState = append(m.onState, fn)
}

// Status returns the current state and last error.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statusLocked()
}

func (m *Manager) statusLocked() Status {
	s := Status{State: m.state, Attempt: m.attempt}
	if m.lastErr != nil {
		if appErr, ok := apperrors.As(m.lastErr); ok && appErr.UserMessage != "" {
			s.LastError = appErr.UserMessage
		} else {
			s.LastError = m.lastErr.Error()
		}
	}
	return s
}

// Connect opens the connection unless one is open or opening. It does not block.
func (m *Manager) Connect() {
	m.mu.Lock()
	if m.closed || m.state == StateConnecting || m.state == StateConnected {
		m.mu.Unlock()
		return
	}
	gen := m.startAttemptLocked()
	status := m.statusLocked()
	m.mu.Unlock()

	m.emitState(gen, status)
	go m.run(gen)
}

// startAttemptLocked invalidates older connections and marks a new one as opening.
func (m *Manager) startAttemptLocked() uint64 {
	m.stopPendingLocked()
	m.gen++
	m.state = StateConnecting
	m.lastErr = nil
	return m.gen
}

// Reconnect force-closes any connection, resets the backoff and connects immediately.
func (m *Manager) Reconnect() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	conn, cancel := m.detachLocked()
	m.attempt = 0
	gen := m.startAttemptLocked()
	status := m.statusLocked()
	m.mu.Unlock()

	closeConn(conn, cancel)
	m.logger.Info("Manual stream reconnect requested")
	m.emitState(gen, status)
	go m.run(gen)
}

// Close tears the manager down. No callback runs after Close returns.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.gen++
	m.stopPendingLocked()
	conn, cancel := m.detachLocked()
	m.state = StateIdle
	m.mu.Unlock()

	closeConn(conn, cancel)

	// Taking deliverMu waits out any in-flight callback.
	m.deliverMu.Lock()
	metrics.SetGauge("stream_connected", 0, nil, "1 when the bot stream is connected")
	m.deliverMu.Unlock()
	m.logger.Info("Stream manager closed")
}

func (m *Manager) detachLocked() (*websocket.Conn, context.CancelFunc) {
	conn, cancel := m.conn, m.cancel
	m.conn, m.cancel = nil, nil
	return conn, cancel
}

func (m *Manager) stopPendingLocked() {
	if m.pending != nil {
		m.pending.Stop()
		m.pending = nil
	}
}

func closeConn(conn *websocket.Conn, cancel context.CancelFunc) {
	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.CloseNow()
	}
}

func (m *Manager) isCurrent(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.closed && m.gen == gen
}

// deliver runs fn only while gen is still the live connection.
func (m *Manager) deliver(gen uint64, fn func()) {
	m.deliverMu.Lock()
	defer m.deliverMu.Unlock()
	if !m.isCurrent(gen) {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			m.logger.WithField("panic", r).Error("Stream callback panicked")
		}
	}()
	fn()
}

func (m *Manager) emitState(gen uint64, status Status) {
	m.deliver(gen, func() {
		for _, fn := range m.onState {
			fn(status)
		}
	})
}

func (m *Manager) run(gen uint64) {
	ctx, cancel := context.WithCancel(context.Background())

	dialCtx, dialCancel := context.WithTimeout(ctx, m.cfg.ConnectTimeout)
	header := http.Header{}
	if m.cfg.APIKey != "" {
		header.Set("X-Api-Key", m.cfg.APIKey)
	}
	conn, _, err := websocket.Dial(dialCtx, m.cfg.URL, &websocket.DialOptions{HTTPHeader: header})
	dialCancel()
	if err != nil {
		cancel()
		m.handleClosed(gen, apperrors.NewStreamError("dial", err))
		return
	}
	conn.SetReadLimit(constants.DefaultMaxResponseBodyBytes)

	m.mu.Lock()
	if m.closed || m.gen != gen {
		m.mu.Unlock()
		cancel()
		_ = conn.CloseNow()
		return
	}
	m.conn = conn
	m.cancel = cancel
	m.state = StateConnected
	m.lastErr = nil
	m.attempt = 0
	status := m.statusLocked()
	m.mu.Unlock()

	metrics.SetGauge("stream_connected", 1, nil, "1 when the bot stream is connected")
	m.logger.WithField("url", m.cfg.URL).Info("Stream connected")
	m.emitState(gen, status)
	m.deliver(gen, func() {
		for _, fn := range m.onConnected {
			fn()
		}
	})

	go m.keepalive(ctx, conn)
	m.readLoop(ctx, conn, gen)
}

func (m *Manager) readLoop(ctx context.Context, conn *websocket.Conn, gen uint64) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			_ = conn.CloseNow()
			m.handleClosed(gen, apperrors.NewStreamError("read", err))
			return
		}
		if isKeepaliveReply(data) {
			continue
		}
		metrics.IncrementCounter("stream_frames_total", nil, "Frames received from the bot stream")
		m.deliver(gen, func() {
			if m.onFrame != nil {
				m.onFrame(data)
			}
		})
	}
}

func (m *Manager) keepalive(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(m.cfg.Keepalive)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.Write(ctx, websocket.MessageText, []byte(constants.KeepalivePing)); err != nil {
				m.logger.WithError(err).Debug("Keepalive ping failed")
			}
		}
	}
}

// isKeepaliveReply recognizes both a bare "pong" and {"type":"pong"}.
func isKeepaliveReply(data []byte) bool {
	trimmed := bytes.TrimSpace(data)
	if string(trimmed) == constants.KeepalivePong {
		return true
	}
	return gjson.ValidBytes(trimmed) && gjson.GetBytes(trimmed, "type").String() == constants.KeepalivePong
}

// handleClosed moves a live attempt to the error state and schedules the next connect.
func (m *Manager) handleClosed(gen uint64, cause error) {
	m.mu.Lock()
	if m.closed || m.gen != gen {
		m.mu.Unlock()
		return
	}
	if m.cancel != nil {
		m.cancel()
	}
	m.conn, m.cancel = nil, nil
	m.state = StateError
	m.lastErr = cause
	m.attempt++
	attempt := m.attempt
	delay := m.backoff.Delay(attempt)
	m.stopPendingLocked()
	m.pending = m.afterFunc(delay, func() { m.fireReconnect(gen) })
	status := m.statusLocked()
	m.mu.Unlock()

	metrics.SetGauge("stream_connected", 0, nil, "1 when the bot stream is connected")
	metrics.IncrementCounter("stream_reconnects_scheduled_total", nil, "Reconnects scheduled after a stream close")
	m.logger.WithFields(logrus.Fields{
		"attempt":  attempt,
		"delay_ms": delay.Milliseconds(),
		"error":    cause.Error(),
	}).Warn("Stream closed, reconnect scheduled")
	m.emitState(gen, status)
}

func (m *Manager) fireReconnect(gen uint64) {
	m.mu.Lock()
	if m.closed || m.gen != gen {
		m.mu.Unlock()
		return
	}
	m.pending = nil
	m.mu.Unlock()
	m.Connect()
}
