package service

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	apperrors "waconsole/internal/errors"
	"waconsole/internal/models"
	"waconsole/pkg/stream"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newTestConsole(t *testing.T, api *historyAPI) (*Console, *fakeStream) {
	t.Helper()
	conn := &fakeStream{}
	c := NewConsole(api, conn, &memJournal{}, ConsoleConfig{
		TimelinePageSize:  4,
		DirectoryPageSize: 10,
		Media:             models.MediaConfig{MaxSizeMB: 1},
	}, quietLogger())
	t.Cleanup(c.Shutdown)
	return c, conn
}

func TestConsole_StartConnectsAndRefreshesOnEveryConnect(t *testing.T) {
	api := newHistoryAPI()
	var listCalls atomic.Int32
	api.On("ListConversations", mock.Anything, "", 10).Run(func(mock.Arguments) {
		listCalls.Add(1)
	}).Return(models.ConversationPage{
		Conversations: []models.Conversation{conv("c1", 1)},
	}, nil)

	c, conn := newTestConsole(t, api)
	c.Start()
	c.Start()

	assert.Equal(t, 1, conn.connects, "Start is idempotent")
	require.Eventually(t, func() bool { return c.Directory.Len() == 1 }, time.Second, time.Millisecond)

	conn.connected()
	conn.connected()
	require.Eventually(t, func() bool {
		return listCalls.Load() == 3
	}, time.Second, time.Millisecond, "one fetch at start and one per connect")
}

func TestConsole_StreamStatusIsRelayed(t *testing.T) {
	api := newHistoryAPI()
	api.On("ListConversations", mock.Anything, "", 10).Return(models.ConversationPage{}, nil)
	c, conn := newTestConsole(t, api)

	var states []stream.State
	c.StreamStatus.Subscribe(func(s stream.Status) { states = append(states, s.State) })
	c.Start()
	conn.connected()

	assert.Equal(t, []stream.State{stream.StateConnected}, states)
	assert.Equal(t, stream.StateConnected, c.Status().Stream.State)
}

func TestConsole_LiveMessagesReachTimelineAndHighlights(t *testing.T) {
	api := newHistoryAPI()
	api.On("ListConversations", mock.Anything, "", 10).Return(models.ConversationPage{}, nil)
	api.seed("c1", 2)
	c, conn := newTestConsole(t, api)
	c.Start()

	_, err := c.Select(context.Background(), "c1")
	require.NoError(t, err)

	conn.frame(`{"type":"message.created","data":{"id":"new1","conversation_id":"c1","created_at":"2026-03-01T13:00:00Z"}}`)
	conn.frame(`{"type":"message.created","data":{"id":"new1","conversation_id":"c1","created_at":"2026-03-01T13:00:00Z"}}`)
	conn.frame(`{"type":"message.created","data":{"id":"other","conversation_id":"c2"}}`)

	assert.Equal(t, []string{"c1-m000", "c1-m001", "new1"}, messageIDs(c.Timeline.Messages("c1")))
	assert.Equal(t, Selection{ConversationID: "c1", NewMessageIDs: []string{"new1"}}, c.Selection())
	assert.Len(t, c.Timeline.Messages("c2"), 1)
}

func TestConsole_ReselectResetsHighlightsAndRefetches(t *testing.T) {
	api := newHistoryAPI()
	api.On("ListConversations", mock.Anything, "", 10).Return(models.ConversationPage{}, nil)
	api.seed("c1", 10)
	c, conn := newTestConsole(t, api)
	c.Start()
	ctx := context.Background()

	_, err := c.Select(ctx, "c1")
	require.NoError(t, err)
	_, err = c.Timeline.LoadOlder(ctx, "c1")
	require.NoError(t, err)
	assert.Len(t, c.Timeline.Messages("c1"), 8)

	conn.frame(`{"type":"message.created","data":{"id":"live","conversation_id":"c1","created_at":"2026-03-01T14:00:00Z"}}`)
	assert.Len(t, c.Selection().NewMessageIDs, 1)

	fetchesBefore := api.fetchCount()
	got, err := c.Select(ctx, "c1")
	require.NoError(t, err)

	assert.Equal(t, fetchesBefore+1, api.fetchCount(), "reselect always refetches")
	assert.Len(t, got, 4, "older pages are dropped on reselect")
	assert.Empty(t, c.Selection().NewMessageIDs)
}

func TestConsole_SelectRequiresID(t *testing.T) {
	c, _ := newTestConsole(t, newHistoryAPI())
	_, err := c.Select(context.Background(), "")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeValidationFailed))
}

func TestConsole_DraftClearedOnlyOnSuccess(t *testing.T) {
	api := newHistoryAPI()
	c, _ := newTestConsole(t, api)

	c.SetDraft("c1", "hola")
	api.On("SendText", mock.Anything, "c1", "hola").
		Return(models.Message{}, apperrors.NewAPIError("/send", 503, nil)).Once()

	_, err := c.SendText(context.Background(), "c1", "hola")
	require.Error(t, err)
	assert.Equal(t, "hola", c.Draft("c1"))

	api.On("SendText", mock.Anything, "c1", "hola").Return(msg("c1", "M1", 1), nil).Once()
	_, err = c.SendText(context.Background(), "c1", "hola")
	require.NoError(t, err)
	assert.Empty(t, c.Draft("c1"))
}

func TestConsole_StatusAndShutdown(t *testing.T) {
	api := newHistoryAPI()
	api.On("ListConversations", mock.Anything, "", 10).Return(models.ConversationPage{
		Conversations: []models.Conversation{conv("c1", 1), conv("c2", 2)},
		NextCursor:    "n",
		HasMore:       true,
	}, nil)
	conn := &fakeStream{}
	c := NewConsole(api, conn, nil, ConsoleConfig{}, quietLogger())
	c.Start()
	require.Eventually(t, func() bool { return c.Directory.Len() == 2 }, time.Second, time.Millisecond)

	status := c.Status()
	assert.Equal(t, 2, status.Conversations)
	assert.True(t, status.HasMore)
	assert.True(t, status.GlobalBot.Enabled)
	assert.Zero(t, status.PendingMutations)

	c.Reconnect()
	assert.Equal(t, 1, conn.reconnects)

	c.Shutdown()
	assert.True(t, conn.closed)
	assert.Zero(t, c.Dispatcher.Messages.Len())
}
