package service

import (
	"context"
	"slices"
	"sync"

	"waconsole/internal/constants"
	"waconsole/internal/metrics"
	"waconsole/internal/models"
	"waconsole/pkg/botapi"

	"github.com/sirupsen/logrus"
)

// Message sources, used as a metrics label.
const (
	SourceHistory    = "history"
	SourceStream     = "stream"
	SourceOptimistic = "optimistic"
)

type thread struct {
	messages []models.Message
	noOlder  bool

	// epoch changes on every initial load so older results of a superseded
	// load are discarded.
	epoch          uint64
	loadingInitial bool
	loadingOlder   bool
	// live holds messages appended while an initial load is in flight.
	live []models.Message
}

func (t *thread) has(id string) bool {
	return slices.ContainsFunc(t.messages, func(m models.Message) bool { return m.ID == id })
}

func (t *thread) sort() {
	slices.SortStableFunc(t.messages, func(a, b models.Message) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
}

// Timeline holds one ascending message list per conversation, merged from
// history pages, optimistic sends and the live stream without duplicates.
type Timeline struct {
	api      botapi.API
	logger   *logrus.Logger
	pageSize int

	mu      sync.Mutex
	threads map[string]*thread
	seen    map[string]struct{}
}

func NewTimeline(api botapi.API, pageSize int, logger *logrus.Logger) *Timeline {
	if pageSize <= 0 {
		pageSize = constants.DefaultTimelinePageSize
	}
	return &Timeline{
		api:      api,
		logger:   logger,
		pageSize: pageSize,
		threads:  make(map[string]*thread),
		seen:     make(map[string]struct{}),
	}
}

func (tl *Timeline) threadLocked(conversationID string) *thread {
	th, ok := tl.threads[conversationID]
	if !ok {
		th = &thread{}
		tl.threads[conversationID] = th
	}
	return th
}

// LoadInitial replaces the conversation's timeline with its newest pageSize
// messages. A pageSize of zero uses the configured page size.
func (tl *Timeline) LoadInitial(ctx context.Context, conversationID string, pageSize int) ([]models.Message, error) {
	if pageSize <= 0 {
		pageSize = tl.pageSize
	}

	tl.mu.Lock()
	th := tl.threadLocked(conversationID)
	th.epoch++
	epoch := th.epoch
	th.loadingInitial = true
	th.loadingOlder = false
	th.live = nil
	tl.mu.Unlock()

	fetched, err := tl.api.FetchMessages(ctx, conversationID, pageSize, nil)

	tl.mu.Lock()
	defer tl.mu.Unlock()
	if th.epoch != epoch {
		// A newer load for the same conversation owns the thread now.
		return cloneMessages(th.messages), nil
	}
	th.loadingInitial = false
	live := th.live
	th.live = nil
	if err != nil {
		return nil, err
	}

	messages := make([]models.Message, 0, len(fetched)+len(live))
	ids := make(map[string]struct{}, len(fetched)+len(live))
	for _, m := range append(fetched, live...) {
		if _, dup := ids[m.ID]; dup {
			continue
		}
		ids[m.ID] = struct{}{}
		tl.seen[m.ID] = struct{}{}
		messages = append(messages, m)
	}
	th.messages = messages
	th.noOlder = len(fetched) < pageSize
	th.sort()

	metrics.AddToCounter("timeline_messages_loaded_total", float64(len(fetched)),
		map[string]string{LogFieldSource: SourceHistory}, "Messages merged into timelines")
	tl.logger.WithFields(logrus.Fields{
		LogFieldComponent:      ComponentTimeline,
		LogFieldConversationID: conversationID,
		LogFieldCount:          len(fetched),
		LogFieldPageSize:       pageSize,
	}).Debug("Loaded initial timeline page")
	return cloneMessages(th.messages), nil
}

// LoadOlder fetches the page before the oldest stored message and merges it
// in front. It returns the number of messages added. No request is made while
// another LoadOlder for the conversation runs or once history is exhausted.
func (tl *Timeline) LoadOlder(ctx context.Context, conversationID string) (int, error) {
	tl.mu.Lock()
	th, ok := tl.threads[conversationID]
	if !ok || th.noOlder || th.loadingOlder || th.loadingInitial {
		tl.mu.Unlock()
		return 0, nil
	}
	var before *models.Message
	if len(th.messages) > 0 {
		oldest := th.messages[0]
		before = &oldest
	}
	th.loadingOlder = true
	epoch := th.epoch
	tl.mu.Unlock()

	var fetched []models.Message
	var err error
	if before != nil {
		fetched, err = tl.api.FetchMessages(ctx, conversationID, tl.pageSize, &before.CreatedAt)
	} else {
		fetched, err = tl.api.FetchMessages(ctx, conversationID, tl.pageSize, nil)
	}

	tl.mu.Lock()
	defer tl.mu.Unlock()
	if th.epoch != epoch {
		return 0, nil
	}
	th.loadingOlder = false
	if err != nil {
		return 0, err
	}
	if len(fetched) == 0 {
		th.noOlder = true
		return 0, nil
	}

	added := 0
	for _, m := range fetched {
		if th.has(m.ID) {
			continue
		}
		th.messages = append(th.messages, m)
		tl.seen[m.ID] = struct{}{}
		added++
	}
	th.sort()
	if len(fetched) < tl.pageSize {
		th.noOlder = true
	}

	metrics.AddToCounter("timeline_messages_loaded_total", float64(added),
		map[string]string{LogFieldSource: SourceHistory}, "Messages merged into timelines")
	tl.logger.WithFields(logrus.Fields{
		LogFieldComponent:      ComponentTimeline,
		LogFieldConversationID: conversationID,
		LogFieldCount:          added,
		LogFieldHasMore:        !th.noOlder,
	}).Debug("Loaded older timeline page")
	return added, nil
}

// Append adds a live or optimistic message. It returns false when the id was
// already seen through any source.
func (tl *Timeline) Append(msg models.Message, source string) bool {
	if msg.ID == "" || msg.ConversationID == "" {
		return false
	}

	tl.mu.Lock()
	defer tl.mu.Unlock()
	if _, dup := tl.seen[msg.ID]; dup {
		metrics.IncrementCounter("timeline_duplicates_dropped_total",
			map[string]string{LogFieldSource: source}, "Messages dropped as already seen")
		tl.logger.WithFields(logrus.Fields{
			LogFieldComponent: ComponentTimeline,
			LogFieldMessageID: msg.ID,
			LogFieldSource:    source,
		}).Debug("Dropped duplicate message")
		return false
	}

	tl.seen[msg.ID] = struct{}{}
	th := tl.threadLocked(msg.ConversationID)
	th.messages = append(th.messages, msg)
	th.sort()
	if th.loadingInitial {
		th.live = append(th.live, msg)
	}
	metrics.IncrementCounter("timeline_messages_loaded_total",
		map[string]string{LogFieldSource: source}, "Messages merged into timelines")
	return true
}

// Messages returns the conversation's timeline, oldest first.
func (tl *Timeline) Messages(conversationID string) []models.Message {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	th, ok := tl.threads[conversationID]
	if !ok {
		return []models.Message{}
	}
	return cloneMessages(th.messages)
}

// HasOlder reports whether LoadOlder may still return messages.
func (tl *Timeline) HasOlder(conversationID string) bool {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	th, ok := tl.threads[conversationID]
	return ok && !th.noOlder
}

// Seen reports whether a message id has been observed by any source.
func (tl *Timeline) Seen(messageID string) bool {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	_, ok := tl.seen[messageID]
	return ok
}

func cloneMessages(in []models.Message) []models.Message {
	out := make([]models.Message, len(in))
	copy(out, in)
	return out
}
