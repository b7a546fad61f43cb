package service

import (
	"context"
	"fmt"
	"io"
	"slices"
	"sync"
	"time"

	"waconsole/internal/models"
	"waconsole/pkg/media"
	"waconsole/pkg/stream"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/mock"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func at(minutes int) time.Time {
	return baseTime.Add(time.Duration(minutes) * time.Minute)
}

// mockBotAPI is a testify mock of botapi.API.
type mockBotAPI struct {
	mock.Mock
}

func (m *mockBotAPI) ListConversations(ctx context.Context, cursor string, limit int) (models.ConversationPage, error) {
	args := m.Called(ctx, cursor, limit)
	return args.Get(0).(models.ConversationPage), args.Error(1)
}

func (m *mockBotAPI) FetchMessages(ctx context.Context, conversationID string, limit int, before *time.Time) ([]models.Message, error) {
	args := m.Called(ctx, conversationID, limit, before)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Message), args.Error(1)
}

func (m *mockBotAPI) SendText(ctx context.Context, conversationID, body string) (models.Message, error) {
	args := m.Called(ctx, conversationID, body)
	return args.Get(0).(models.Message), args.Error(1)
}

func (m *mockBotAPI) UploadMedia(ctx context.Context, filename, contentType string, content io.Reader) (string, error) {
	args := m.Called(ctx, filename, contentType, content)
	return args.String(0), args.Error(1)
}

func (m *mockBotAPI) SendMedia(ctx context.Context, conversationID string, media models.MediaSend) (models.Message, error) {
	args := m.Called(ctx, conversationID, media)
	return args.Get(0).(models.Message), args.Error(1)
}

func (m *mockBotAPI) MarkRead(ctx context.Context, conversationID string) error {
	return m.Called(ctx, conversationID).Error(0)
}

func (m *mockBotAPI) SetConversationBot(ctx context.Context, conversationID string, enabled bool) error {
	return m.Called(ctx, conversationID, enabled).Error(0)
}

func (m *mockBotAPI) SetGlobalBot(ctx context.Context, enabled bool) error {
	return m.Called(ctx, enabled).Error(0)
}

// historyAPI serves message history from memory, newest first, the way the
// bot service pages it.
type historyAPI struct {
	mockBotAPI

	mu      sync.Mutex
	history map[string][]models.Message
	fetches int
	block   chan struct{}
}

func newHistoryAPI() *historyAPI {
	return &historyAPI{history: make(map[string][]models.Message)}
}

// seed adds n messages to conversation, one minute apart, starting at minute 0.
func (h *historyAPI) seed(conversationID string, n int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i := 0; i < n; i++ {
		h.history[conversationID] = append(h.history[conversationID], models.Message{
			ID:             fmt.Sprintf("%s-m%03d", conversationID, i),
			ConversationID: conversationID,
			Direction:      models.DirectionCustomer,
			Type:           models.ContentTypeText,
			Body:           fmt.Sprintf("message %d", i),
			CreatedAt:      at(i),
		})
	}
}

func (h *historyAPI) fetchCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.fetches
}

func (h *historyAPI) FetchMessages(ctx context.Context, conversationID string, limit int, before *time.Time) ([]models.Message, error) {
	h.mu.Lock()
	h.fetches++
	block := h.block
	all := slices.Clone(h.history[conversationID])
	h.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	var out []models.Message
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		if before != nil && !all[i].CreatedAt.Before(*before) {
			continue
		}
		out = append(out, all[i])
	}
	return out, nil
}

// fakeStream stands in for the websocket manager.
type fakeStream struct {
	mu          sync.Mutex
	onFrame     func([]byte)
	onConnected []func()
	onState     []func(stream.Status)
	connects    int
	reconnects  int
	closed      bool
	status      stream.Status
}

func (f *fakeStream) Connect() {
	f.mu.Lock()
	f.connects++
	f.mu.Unlock()
}

func (f *fakeStream) Reconnect() {
	f.mu.Lock()
	f.reconnects++
	f.mu.Unlock()
}

func (f *fakeStream) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}

func (f *fakeStream) Status() stream.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *fakeStream) SetFrameHandler(fn func([]byte)) {
	f.mu.Lock()
	f.onFrame = fn
	f.mu.Unlock()
}

func (f *fakeStream) OnConnected(fn func()) {
	f.mu.Lock()
	f.onConnected = append(f.onConnected, fn)
	f.mu.Unlock()
}

func (f *fakeStream) OnStateChange(fn func(stream.Status)) {
	f.mu.Lock()
	f.onState = append(f.onState, fn)
	f.mu.Unlock()
}

func (f *fakeStream) frame(data string) {
	f.mu.Lock()
	fn := f.onFrame
	f.mu.Unlock()
	fn([]byte(data))
}

func (f *fakeStream) connected() {
	f.mu.Lock()
	f.status = stream.Status{State: stream.StateConnected}
	handlers := slices.Clone(f.onConnected)
	stateHandlers := slices.Clone(f.onState)
	status := f.status
	f.mu.Unlock()
	for _, fn := range stateHandlers {
		fn(status)
	}
	for _, fn := range handlers {
		fn()
	}
}

// memJournal records mutation transitions in memory.
type memJournal struct {
	mu      sync.Mutex
	records []models.Mutation
	err     error
}

func (j *memJournal) RecordMutation(_ context.Context, m *models.Mutation) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.records = append(j.records, *m)
	return j.err
}

func (j *memJournal) states(id string) []models.MutationState {
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []models.MutationState
	for _, r := range j.records {
		if r.ID == id {
			out = append(out, r.State)
		}
	}
	return out
}

func (j *memJournal) all() []models.Mutation {
	j.mu.Lock()
	defer j.mu.Unlock()
	return slices.Clone(j.records)
}

func newTestPolicy() *media.Policy {
	return media.NewPolicy(models.MediaConfig{
		MaxSizeMB:    2,
		AllowedTypes: []string{"image/png", "image/jpeg", "application/pdf"},
	})
}
