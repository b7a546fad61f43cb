package service

import (
	"context"
	"testing"

	apperrors "waconsole/internal/errors"
	"waconsole/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func conv(id string, minute int) models.Conversation {
	return models.Conversation{
		ID:            id,
		CustomerPhone: "+1555000" + id,
		Status:        models.ConversationStatusActive,
		LastMessageAt: at(minute),
		BotEnabled:    true,
	}
}

func ids(convs []models.Conversation) []string {
	out := make([]string, len(convs))
	for i, c := range convs {
		out[i] = c.ID
	}
	return out
}

func TestDirectory_FetchAllSortsByRecency(t *testing.T) {
	api := &mockBotAPI{}
	api.On("ListConversations", mock.Anything, "", 50).Return(models.ConversationPage{
		Conversations: []models.Conversation{conv("a", 1), conv("b", 5), conv("c", 3)},
		NextCursor:    "p2",
		HasMore:       true,
	}, nil).Once()

	d := NewDirectory(api, 0, quietLogger())
	got, err := d.FetchAll(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b", "c"}, ids(got), "FetchAll returns the page as received")
	assert.Equal(t, []string{"b", "c", "a"}, ids(d.List()))
	assert.True(t, d.HasMore())
	api.AssertExpectations(t)
}

func TestDirectory_FetchAllMergesWithoutDuplicates(t *testing.T) {
	api := &mockBotAPI{}
	api.On("ListConversations", mock.Anything, "", 50).Return(models.ConversationPage{
		Conversations: []models.Conversation{conv("a", 1), conv("b", 2)},
	}, nil).Once()
	updated := conv("a", 10)
	updated.UnreadCount = 4
	api.On("ListConversations", mock.Anything, "", 50).Return(models.ConversationPage{
		Conversations: []models.Conversation{updated},
	}, nil).Once()

	d := NewDirectory(api, 0, quietLogger())
	_, err := d.FetchAll(context.Background())
	require.NoError(t, err)
	_, err = d.FetchAll(context.Background())
	require.NoError(t, err)

	list := d.List()
	assert.Equal(t, []string{"a", "b"}, ids(list))
	assert.Equal(t, 4, list[0].UnreadCount)
}

func TestDirectory_FetchAllError(t *testing.T) {
	api := &mockBotAPI{}
	api.On("ListConversations", mock.Anything, "", 50).
		Return(models.ConversationPage{}, apperrors.NewAPIError("/api/conversations", 502, nil)).Once()

	d := NewDirectory(api, 0, quietLogger())
	_, err := d.FetchAll(context.Background())
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeBotAPI))
	assert.Equal(t, 0, d.Len())
}

func TestDirectory_FetchMoreAppendsUntilExhausted(t *testing.T) {
	api := &mockBotAPI{}
	api.On("ListConversations", mock.Anything, "", 2).Return(models.ConversationPage{
		Conversations: []models.Conversation{conv("a", 10), conv("b", 9)},
		NextCursor:    "c2",
		HasMore:       true,
	}, nil).Once()
	api.On("ListConversations", mock.Anything, "c2", 2).Return(models.ConversationPage{
		Conversations: []models.Conversation{conv("c", 8), conv("b", 9)},
		NextCursor:    "c3",
		HasMore:       true,
	}, nil).Once()
	api.On("ListConversations", mock.Anything, "c3", 2).Return(models.ConversationPage{
		Conversations: []models.Conversation{conv("d", 7)},
		HasMore:       false,
	}, nil).Once()

	d := NewDirectory(api, 2, quietLogger())
	ctx := context.Background()
	_, err := d.FetchAll(ctx)
	require.NoError(t, err)

	page, err := d.FetchMore(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "b"}, ids(page))

	page, err = d.FetchMore(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"d"}, ids(page))
	assert.False(t, d.HasMore())

	page, err = d.FetchMore(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, page)

	assert.Equal(t, []string{"a", "b", "c", "d"}, ids(d.List()))
	api.AssertExpectations(t)
}

func TestDirectory_RefreshKeepsDeeperCursor(t *testing.T) {
	api := &mockBotAPI{}
	first := models.ConversationPage{
		Conversations: []models.Conversation{conv("a", 10), conv("b", 9)},
		NextCursor:    "c2",
		HasMore:       true,
	}
	api.On("ListConversations", mock.Anything, "", 2).Return(first, nil).Twice()
	api.On("ListConversations", mock.Anything, "c2", 2).Return(models.ConversationPage{
		Conversations: []models.Conversation{conv("c", 8)},
		NextCursor:    "c3",
		HasMore:       true,
	}, nil).Once()
	api.On("ListConversations", mock.Anything, "c3", 2).Return(models.ConversationPage{
		Conversations: []models.Conversation{conv("d", 7)},
	}, nil).Once()

	d := NewDirectory(api, 2, quietLogger())
	ctx := context.Background()
	_, err := d.FetchAll(ctx)
	require.NoError(t, err)
	_, err = d.FetchMore(ctx, "")
	require.NoError(t, err)

	_, err = d.FetchAll(ctx)
	require.NoError(t, err)
	assert.True(t, d.HasMore())

	page, err := d.FetchMore(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"d"}, ids(page), "continues after the deepest page loaded")
	api.AssertExpectations(t)
}

func TestDirectory_ApplyPatchPreservesUnspecifiedFields(t *testing.T) {
	d := NewDirectory(&mockBotAPI{}, 0, quietLogger())
	name := "Ana"
	base := conv("a", 1)
	base.CustomerName = &name
	base.UnreadCount = 2
	base.BotEnabled = false
	d.Upsert(base, conv("b", 5))

	unread := 7
	ts := at(9)
	merged := d.ApplyPatch(models.ConversationPatch{ID: "a", UnreadCount: &unread, LastMessageAt: &ts})

	assert.Equal(t, 7, merged.UnreadCount)
	assert.Equal(t, "Ana", *merged.CustomerName)
	assert.Equal(t, base.CustomerPhone, merged.CustomerPhone)
	assert.False(t, merged.BotEnabled)
	assert.Equal(t, []string{"a", "b"}, ids(d.List()), "patched conversation moves to the top")
}

func TestDirectory_ApplyPatchCreatesUnknown(t *testing.T) {
	d := NewDirectory(&mockBotAPI{}, 0, quietLogger())
	phone := "+15550001"
	merged := d.ApplyPatch(models.ConversationPatch{ID: "new", CustomerPhone: &phone})

	assert.Equal(t, "new", merged.ID)
	assert.Equal(t, phone, merged.CustomerPhone)
	assert.True(t, merged.BotEnabled)
	assert.Equal(t, 1, d.Len())
}

func TestDirectory_SortIsStableForEqualTimestamps(t *testing.T) {
	d := NewDirectory(&mockBotAPI{}, 0, quietLogger())
	d.Upsert(conv("x", 5), conv("y", 5), conv("z", 5), conv("old", 1))
	assert.Equal(t, []string{"x", "y", "z", "old"}, ids(d.List()))

	// Updating y without changing its timestamp keeps the relative order.
	unread := 3
	d.ApplyPatch(models.ConversationPatch{ID: "y", UnreadCount: &unread})
	assert.Equal(t, []string{"x", "y", "z", "old"}, ids(d.List()))

	d.Upsert(conv("w", 5))
	assert.Equal(t, []string{"x", "y", "z", "w", "old"}, ids(d.List()))

	list := d.List()
	for i := 1; i < len(list); i++ {
		assert.False(t, list[i].LastMessageAt.After(list[i-1].LastMessageAt))
	}
}

func TestDirectory_OverlaysRevertAndCommit(t *testing.T) {
	d := NewDirectory(&mockBotAPI{}, 0, quietLogger())
	c := conv("a", 1)
	c.UnreadCount = 5
	d.Upsert(c)

	require.NoError(t, d.ZeroUnread("a", "m1"))
	got, _ := d.Get("a")
	assert.Equal(t, 0, got.UnreadCount)

	d.DropOverride("m1")
	got, _ = d.Get("a")
	assert.Equal(t, 5, got.UnreadCount)

	require.NoError(t, d.OverrideBot("a", false, "m2"))
	got, _ = d.Get("a")
	assert.False(t, got.BotEnabled)

	d.CommitOverride("m2")
	got, _ = d.Get("a")
	assert.False(t, got.BotEnabled)

	// A full upsert replaces the committed value.
	d.Upsert(conv("a", 1))
	got, _ = d.Get("a")
	assert.True(t, got.BotEnabled)
}

func TestDirectory_OverlaySurvivesRefreshUntilResolved(t *testing.T) {
	api := &mockBotAPI{}
	api.On("ListConversations", mock.Anything, "", 50).Return(models.ConversationPage{
		Conversations: []models.Conversation{conv("a", 1)},
	}, nil)

	d := NewDirectory(api, 0, quietLogger())
	d.Upsert(conv("a", 1))
	require.NoError(t, d.OverrideBot("a", false, "m1"))

	_, err := d.FetchAll(context.Background())
	require.NoError(t, err)
	got, _ := d.Get("a")
	assert.False(t, got.BotEnabled, "pending override still applies")

	d.DropOverride("m1")
	got, _ = d.Get("a")
	assert.True(t, got.BotEnabled)
}

func TestDirectory_OverrideUnknownConversation(t *testing.T) {
	d := NewDirectory(&mockBotAPI{}, 0, quietLogger())
	err := d.ZeroUnread("missing", "m1")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNotFound))
	_, ok := d.Get("missing")
	assert.False(t, ok)
}
