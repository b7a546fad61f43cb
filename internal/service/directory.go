package service

import (
	"context"
	"slices"
	"sync"

	"waconsole/internal/constants"
	apperrors "waconsole/internal/errors"
	"waconsole/internal/metrics"
	"waconsole/internal/models"
	"waconsole/pkg/botapi"

	"github.com/sirupsen/logrus"
)

// overlay is an optimistic value applied on top of a stored conversation until
// the mutation that created it is confirmed or rolled back.
type overlay struct {
	mutationID string
	unread     *int
	botEnabled *bool
}

// Directory is the deduplicated, recency-ordered set of conversations.
// The REST listing is its only bulk source.
type Directory struct {
	api      botapi.API
	logger   *logrus.Logger
	pageSize int

	mu          sync.RWMutex
	items       []models.Conversation
	overlays    map[string][]overlay
	cursor      string
	hasMore     bool
	loadingMore bool
	// listing pages loaded so far
	pages int
}

func NewDirectory(api botapi.API, pageSize int, logger *logrus.Logger) *Directory {
	if pageSize <= 0 {
		pageSize = constants.DefaultDirectoryPageSize
	}
	return &Directory{
		api:      api,
		logger:   logger,
		pageSize: pageSize,
		overlays: make(map[string][]overlay),
	}
}

// FetchAll loads the first listing page, upserts every record and returns the
// normalized page as seen through any pending optimistic overlays. Once deeper
// pages were loaded the FetchMore cursor is left where it was.
func (d *Directory) FetchAll(ctx context.Context) ([]models.Conversation, error) {
	page, err := d.api.ListConversations(ctx, "", d.pageSize)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	d.upsertLocked(page.Conversations...)
	if d.pages <= 1 {
		d.cursor = page.NextCursor
		d.hasMore = page.HasMore
		d.pages = 1
	}
	out := d.viewLocked(page.Conversations)
	total := len(d.items)
	d.mu.Unlock()

	metrics.SetGauge("directory_conversations", float64(total), nil, "Conversations held by the directory")
	d.logger.WithFields(logrus.Fields{
		LogFieldComponent: ComponentDirectory,
		LogFieldCount:     len(page.Conversations),
		LogFieldHasMore:   page.HasMore,
	}).Info("Directory refreshed")
	return out, nil
}

// FetchMore loads the next listing page and appends it. An empty cursor
// continues from the last page fetched. It returns no records and no request
// is made once the server reported the end of the listing or while another
// FetchMore is running.
func (d *Directory) FetchMore(ctx context.Context, cursor string) ([]models.Conversation, error) {
	d.mu.Lock()
	if cursor == "" {
		cursor = d.cursor
	}
	if d.loadingMore || !d.hasMore || cursor == "" {
		d.mu.Unlock()
		return nil, nil
	}
	d.loadingMore = true
	d.mu.Unlock()

	page, err := d.api.ListConversations(ctx, cursor, d.pageSize)

	d.mu.Lock()
	defer d.mu.Unlock()
	d.loadingMore = false
	if err != nil {
		return nil, err
	}
	d.upsertLocked(page.Conversations...)
	d.cursor = page.NextCursor
	d.hasMore = page.HasMore && page.NextCursor != ""
	d.pages++
	metrics.SetGauge("directory_conversations", float64(len(d.items)), nil, "Conversations held by the directory")
	return d.viewLocked(page.Conversations), nil
}

// HasMore reports whether FetchMore can return further conversations.
func (d *Directory) HasMore() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.hasMore
}

// Upsert stores full records, replacing any existing entry with the same id.
func (d *Directory) Upsert(convs ...models.Conversation) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.upsertLocked(convs...)
}

// ApplyPatch merges a partial update into the stored record, creating it when
// unknown, and returns the merged conversation.
func (d *Directory) ApplyPatch(patch models.ConversationPatch) models.Conversation {
	d.mu.Lock()
	defer d.mu.Unlock()

	base := models.Conversation{ID: patch.ID, Status: models.ConversationStatusActive, BotEnabled: true}
	if i := d.indexLocked(patch.ID); i >= 0 {
		base = d.items[i]
	}
	merged := patch.Apply(base)
	d.upsertLocked(merged)
	return d.effectiveLocked(merged)
}

func (d *Directory) upsertLocked(convs ...models.Conversation) {
	for _, c := range convs {
		if c.ID == "" {
			continue
		}
		if i := d.indexLocked(c.ID); i >= 0 {
			d.items[i] = c
		} else {
			d.items = append(d.items, c)
		}
	}
	// Stable sort keeps the prior relative order of equal timestamps.
	slices.SortStableFunc(d.items, func(a, b models.Conversation) int {
		return b.LastMessageAt.Compare(a.LastMessageAt)
	})
}

func (d *Directory) indexLocked(id string) int {
	return slices.IndexFunc(d.items, func(c models.Conversation) bool { return c.ID == id })
}

// List returns every conversation, most recent first.
func (d *Directory) List() []models.Conversation {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.viewLocked(d.items)
}

// Get returns one conversation.
func (d *Directory) Get(id string) (models.Conversation, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	i := d.indexLocked(id)
	if i < 0 {
		return models.Conversation{}, false
	}
	return d.effectiveLocked(d.items[i]), true
}

// Len returns the number of stored conversations.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.items)
}

func (d *Directory) viewLocked(convs []models.Conversation) []models.Conversation {
	out := make([]models.Conversation, len(convs))
	for i, c := range convs {
		out[i] = d.effectiveLocked(c)
	}
	return out
}

func (d *Directory) effectiveLocked(c models.Conversation) models.Conversation {
	for _, o := range d.overlays[c.ID] {
		if o.unread != nil {
			c.UnreadCount = *o.unread
		}
		if o.botEnabled != nil {
			c.BotEnabled = *o.botEnabled
		}
	}
	return c
}

// ZeroUnread optimistically shows the conversation as read until mutationID
// is resolved.
func (d *Directory) ZeroUnread(conversationID, mutationID string) error {
	zero := 0
	return d.addOverlay(conversationID, overlay{mutationID: mutationID, unread: &zero})
}

// OverrideBot optimistically shows the bot flag as the given value until
// mutationID is resolved.
func (d *Directory) OverrideBot(conversationID string, enabled bool, mutationID string) error {
	return d.addOverlay(conversationID, overlay{mutationID: mutationID, botEnabled: &enabled})
}

func (d *Directory) addOverlay(conversationID string, o overlay) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.indexLocked(conversationID) < 0 {
		return apperrors.NewNotFoundError("conversation", conversationID)
	}
	d.overlays[conversationID] = append(d.overlays[conversationID], o)
	return nil
}

// DropOverride removes the overlays of a mutation, reverting to the stored
// values. Used on rollback and after an authoritative refetch.
func (d *Directory) DropOverride(mutationID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.removeOverlaysLocked(mutationID, false)
}

// CommitOverride folds the overlays of a mutation into the stored records.
// Used when the mutation succeeded but the authoritative refetch did not.
func (d *Directory) CommitOverride(mutationID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.removeOverlaysLocked(mutationID, true)
}

func (d *Directory) removeOverlaysLocked(mutationID string, commit bool) {
	for convID, list := range d.overlays {
		kept := list[:0]
		for _, o := range list {
			if o.mutationID != mutationID {
				kept = append(kept, o)
				continue
			}
			if !commit {
				continue
			}
			if i := d.indexLocked(convID); i >= 0 {
				if o.unread != nil {
					d.items[i].UnreadCount = *o.unread
				}
				if o.botEnabled != nil {
					d.items[i].BotEnabled = *o.botEnabled
				}
			}
		}
		if len(kept) == 0 {
			delete(d.overlays, convID)
		} else {
			d.overlays[convID] = kept
		}
	}
}
