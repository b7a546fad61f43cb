package service

import (
	"context"
	"sync"

	apperrors "waconsole/internal/errors"
	"waconsole/internal/models"
	"waconsole/internal/validation"
	"waconsole/pkg/botapi"
	"waconsole/pkg/media"
	"waconsole/pkg/stream"

	"github.com/sirupsen/logrus"
)

// StreamConn is the live event connection the console drives.
type StreamConn interface {
	Connect()
	Reconnect()
	Close()
	Status() stream.Status
	SetFrameHandler(fn func([]byte))
	OnConnected(fn func())
	OnStateChange(fn func(stream.Status))
}

// ConsoleConfig sizes the stores and the media pre-check.
type ConsoleConfig struct {
	TimelinePageSize  int
	DirectoryPageSize int
	Media             models.MediaConfig
	// Verbose logs live message bodies unmasked.
	Verbose bool
}

// Selection is the conversation currently open in the thread view.
type Selection struct {
	ConversationID string   `json:"conversation_id"`
	NewMessageIDs  []string `json:"new_message_ids"`
}

// ConsoleStatus is the ambient health shown next to the conversation list.
type ConsoleStatus struct {
	Stream           stream.Status    `json:"stream"`
	GlobalBot        models.BotStatus `json:"global_bot"`
	Conversations    int              `json:"conversations"`
	HasMore          bool             `json:"has_more"`
	PendingMutations int              `json:"pending_mutations"`
	Selected         string           `json:"selected,omitempty"`
}

// Console owns the sync engine for one process: stream, dispatcher, stores
// and gateway. Build it once at start and call Shutdown on exit.
type Console struct {
	logger    *logrus.Logger
	errLogger *apperrors.Logger
	conn      StreamConn

	Dispatcher   *Dispatcher
	Directory    *Directory
	Timeline     *Timeline
	Gateway      *Gateway
	StreamStatus *Topic[stream.Status]

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	started  bool
	selected string
	fresh    []string
	drafts   map[string]string
	subs     []*Subscription
}

func NewConsole(api botapi.API, conn StreamConn, journal MutationJournal, cfg ConsoleConfig, logger *logrus.Logger) *Console {
	directory := NewDirectory(api, cfg.DirectoryPageSize, logger)
	timeline := NewTimeline(api, cfg.TimelinePageSize, logger)
	dispatcher := NewDispatcher(directory, logger)
	gateway := NewGateway(api, directory, timeline, dispatcher, media.NewPolicy(cfg.Media), journal, logger)

	ctx, cancel := context.WithCancel(WithVerbose(context.Background(), cfg.Verbose))
	return &Console{
		logger:       logger,
		errLogger:    apperrors.WrapLogger(logger),
		conn:         conn,
		Dispatcher:   dispatcher,
		Directory:    directory,
		Timeline:     timeline,
		Gateway:      gateway,
		StreamStatus: NewTopic[stream.Status]("stream.status", logger),
		ctx:          ctx,
		cancel:       cancel,
		drafts:       make(map[string]string),
	}
}

// Start wires live messages into the timeline, refreshes the directory and
// opens the stream. The directory is refetched after every successful
// (re)connect, so it never depends on the stream's bootstrap snapshot.
func (c *Console) Start() {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return
	}
	c.started = true
	c.subs = append(c.subs, c.Dispatcher.Messages.Subscribe(c.onMessage))
	c.mu.Unlock()

	c.conn.SetFrameHandler(c.Dispatcher.Dispatch)
	c.conn.OnStateChange(c.StreamStatus.Publish)
	c.conn.OnConnected(c.refreshAsync)

	c.refreshAsync()
	c.conn.Connect()
	c.logger.WithField(LogFieldComponent, ComponentConsole).Info("Console started")
}

// Shutdown closes the stream, cancels background work and waits for it.
func (c *Console) Shutdown() {
	c.conn.Close()
	c.cancel()

	c.mu.Lock()
	subs := c.subs
	c.subs = nil
	c.mu.Unlock()
	for _, s := range subs {
		s.Cancel()
	}

	c.wg.Wait()
	c.logger.WithField(LogFieldComponent, ComponentConsole).Info("Console stopped")
}

func (c *Console) refreshAsync() {
	if c.ctx.Err() != nil {
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if _, err := c.Directory.FetchAll(c.ctx); err != nil && c.ctx.Err() == nil {
			c.errLogger.Log(err, "Failed to refresh conversation directory",
				logrus.Fields{LogFieldComponent: ComponentConsole})
		}
	}()
}

func (c *Console) onMessage(msg models.Message) {
	if !c.Timeline.Append(msg, SourceStream) {
		return
	}
	LogMessage(c.ctx, c.logger, msg, "Live message appended")
	c.mu.Lock()
	defer c.mu.Unlock()
	if msg.ConversationID == c.selected {
		c.fresh = append(c.fresh, msg.ID)
	}
}

// Select opens a conversation: new-message highlights are reset and the
// timeline is always reloaded from the bot API.
func (c *Console) Select(ctx context.Context, conversationID string) ([]models.Message, error) {
	if err := validation.ValidateConversationID(conversationID); err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.selected = conversationID
	c.fresh = nil
	c.mu.Unlock()

	return c.Timeline.LoadInitial(ctx, conversationID, 0)
}

// Selection returns the open conversation and the messages that arrived live
// since it was selected.
func (c *Console) Selection() Selection {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]string, len(c.fresh))
	copy(ids, c.fresh)
	return Selection{ConversationID: c.selected, NewMessageIDs: ids}
}

// SetDraft stores the compose text of a conversation.
func (c *Console) SetDraft(conversationID, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if text == "" {
		delete(c.drafts, conversationID)
		return
	}
	c.drafts[conversationID] = text
}

// Draft returns the compose text of a conversation.
func (c *Console) Draft(conversationID string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.drafts[conversationID]
}

// SendText sends body and clears the draft only when the send succeeded.
func (c *Console) SendText(ctx context.Context, conversationID, body string) (models.Message, error) {
	msg, err := c.Gateway.SendText(ctx, conversationID, body)
	if err != nil {
		return models.Message{}, err
	}
	c.SetDraft(conversationID, "")
	return msg, nil
}

// SendMedia sends an attachment and clears the draft on success.
func (c *Console) SendMedia(ctx context.Context, conversationID string, up Upload) (models.Message, error) {
	msg, err := c.Gateway.SendMedia(ctx, conversationID, up)
	if err != nil {
		return models.Message{}, err
	}
	c.SetDraft(conversationID, "")
	return msg, nil
}

// Reconnect forces a new stream connection, bypassing the backoff.
func (c *Console) Reconnect() {
	c.conn.Reconnect()
}

// Status summarizes stream health and store sizes.
func (c *Console) Status() ConsoleStatus {
	c.mu.Lock()
	selected := c.selected
	c.mu.Unlock()
	return ConsoleStatus{
		Stream:           c.conn.Status(),
		GlobalBot:        c.Dispatcher.GlobalBot(),
		Conversations:    c.Directory.Len(),
		HasMore:          c.Directory.HasMore(),
		PendingMutations: len(c.Gateway.Pending()),
		Selected:         selected,
	}
}
