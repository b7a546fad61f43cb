package service

import (
	"context"
	"io"
	"slices"
	"sync"
	"time"

	"waconsole/internal/constants"
	apperrors "waconsole/internal/errors"
	"waconsole/internal/metrics"
	"waconsole/internal/models"
	"waconsole/internal/tracing"
	"waconsole/internal/validation"
	"waconsole/pkg/botapi"
	"waconsole/pkg/media"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

const journalWriteTimeout = 5 * time.Second

// MutationJournal persists mutation transitions.
type MutationJournal interface {
	RecordMutation(ctx context.Context, m *models.Mutation) error
}

// Upload is a media file handed to SendMedia.
type Upload struct {
	Filename    string
	ContentType string
	Size        int64
	Content     io.Reader
	Caption     string
}

// Gateway runs user actions against the bot API with optimistic local effects.
// Each action is tracked as a Mutation that ends confirmed or rolled back.
type Gateway struct {
	api        botapi.API
	directory  *Directory
	timeline   *Timeline
	dispatcher *Dispatcher
	policy     *media.Policy
	journal    MutationJournal
	logger     *logrus.Logger
	errLogger  *apperrors.Logger
	now        func() time.Time

	mu      sync.Mutex
	pending map[string]*models.Mutation
}

// NewGateway wires the gateway. journal may be nil.
func NewGateway(api botapi.API, directory *Directory, timeline *Timeline, dispatcher *Dispatcher,
	policy *media.Policy, journal MutationJournal, logger *logrus.Logger) *Gateway {
	return &Gateway{
		api:        api,
		directory:  directory,
		timeline:   timeline,
		dispatcher: dispatcher,
		policy:     policy,
		journal:    journal,
		logger:     logger,
		errLogger:  apperrors.WrapLogger(logger),
		now:        time.Now,
		pending:    make(map[string]*models.Mutation),
	}
}

// SendText sends a text message and inserts the confirmed message into the
// timeline. Nothing is inserted on failure.
func (g *Gateway) SendText(ctx context.Context, conversationID, body string) (models.Message, error) {
	if err := validation.ValidateConversationID(conversationID); err != nil {
		return models.Message{}, err
	}
	if err := validation.ValidateMessageBody(body, constants.DefaultMaxTextMessageRunes); err != nil {
		return models.Message{}, err
	}

	ctx, span := tracing.StartSpan(ctx, "gateway.send_text", attribute.String("conversation.id", conversationID))
	m := g.begin(ctx, models.MutationSendText, conversationID)

	msg, err := g.api.SendText(ctx, conversationID, body)
	if err != nil {
		err = g.rollback(ctx, m, err)
		tracing.EndSpan(span, err)
		return models.Message{}, err
	}

	g.insertSent(msg, conversationID)
	g.confirm(ctx, m, msg.ID)
	tracing.EndSpan(span, nil)
	return msg, nil
}

// SendMedia pre-checks the file, uploads it and sends it as a media message.
func (g *Gateway) SendMedia(ctx context.Context, conversationID string, up Upload) (models.Message, error) {
	if err := validation.ValidateConversationID(conversationID); err != nil {
		return models.Message{}, err
	}
	check, err := g.policy.Validate(up.Filename, up.ContentType, up.Size)
	if err != nil {
		metrics.IncrementCounter("media_rejected_total", nil, "Attachments rejected before upload")
		return models.Message{}, err
	}

	ctx, span := tracing.StartSpan(ctx, "gateway.send_media",
		attribute.String("conversation.id", conversationID),
		attribute.String("media.type", check.MessageType),
		attribute.Int64("media.size", up.Size))
	m := g.begin(ctx, models.MutationSendMedia, conversationID)

	url, err := g.api.UploadMedia(ctx, up.Filename, check.ContentType, up.Content)
	if err != nil {
		err = g.rollback(ctx, m, err)
		tracing.EndSpan(span, err)
		return models.Message{}, err
	}

	msg, err := g.api.SendMedia(ctx, conversationID, models.MediaSend{
		URL:      url,
		Type:     check.MessageType,
		Caption:  up.Caption,
		Filename: up.Filename,
	})
	if err != nil {
		err = g.rollback(ctx, m, err)
		tracing.EndSpan(span, err)
		return models.Message{}, err
	}

	g.insertSent(msg, conversationID)
	g.confirm(ctx, m, msg.ID)
	tracing.EndSpan(span, nil)
	return msg, nil
}

// insertSent puts a confirmed send into the timeline so its stream echo is
// recognized as a duplicate. A reply without an id is left to the echo.
func (g *Gateway) insertSent(msg models.Message, conversationID string) {
	if msg.ID == "" {
		g.logger.WithFields(logrus.Fields{
			LogFieldComponent:      ComponentGateway,
			LogFieldConversationID: conversationID,
		}).Debug("Skipping optimistic insert: send reply carried no message id")
		return
	}
	if msg.ConversationID == "" {
		msg.ConversationID = conversationID
	}
	g.timeline.Append(msg, SourceOptimistic)
}

// ToggleConversationBot flips the conversation's bot flag immediately, then
// reconciles with the directory once the bot API accepted the change.
func (g *Gateway) ToggleConversationBot(ctx context.Context, conversationID string, enabled bool) error {
	if err := validation.ValidateConversationID(conversationID); err != nil {
		return err
	}
	ctx, span := tracing.StartSpan(ctx, "gateway.toggle_bot",
		attribute.String("conversation.id", conversationID),
		attribute.Bool("bot.enabled", enabled))
	m := g.begin(ctx, models.MutationToggleBot, conversationID)

	if err := g.directory.OverrideBot(conversationID, enabled, m.ID); err != nil {
		g.finish(ctx, m, models.MutationRolledBack, "", err)
		tracing.EndSpan(span, err)
		return err
	}

	if err := g.api.SetConversationBot(ctx, conversationID, enabled); err != nil {
		g.directory.DropOverride(m.ID)
		err = g.rollback(ctx, m, err)
		tracing.EndSpan(span, err)
		return err
	}

	g.reconcile(ctx, m)
	tracing.EndSpan(span, nil)
	return nil
}

// MarkRead zeros the unread count immediately, then reconciles with the
// directory once the bot API accepted the change.
func (g *Gateway) MarkRead(ctx context.Context, conversationID string) error {
	if err := validation.ValidateConversationID(conversationID); err != nil {
		return err
	}
	ctx, span := tracing.StartSpan(ctx, "gateway.mark_read", attribute.String("conversation.id", conversationID))
	m := g.begin(ctx, models.MutationMarkRead, conversationID)

	if err := g.directory.ZeroUnread(conversationID, m.ID); err != nil {
		g.finish(ctx, m, models.MutationRolledBack, "", err)
		tracing.EndSpan(span, err)
		return err
	}

	if err := g.api.MarkRead(ctx, conversationID); err != nil {
		g.directory.DropOverride(m.ID)
		err = g.rollback(ctx, m, err)
		tracing.EndSpan(span, err)
		return err
	}

	g.reconcile(ctx, m)
	tracing.EndSpan(span, nil)
	return nil
}

// ToggleGlobalBot changes the process-wide auto-reply flag. The local flag is
// only updated after the bot API confirmed it.
func (g *Gateway) ToggleGlobalBot(ctx context.Context, enabled bool) error {
	ctx, span := tracing.StartSpan(ctx, "gateway.global_bot", attribute.Bool("bot.enabled", enabled))
	m := g.begin(ctx, models.MutationGlobalBot, "")

	if err := g.api.SetGlobalBot(ctx, enabled); err != nil {
		err = g.rollback(ctx, m, err)
		tracing.EndSpan(span, err)
		return err
	}

	g.dispatcher.SetGlobalBot(models.BotStatus{Enabled: enabled, UpdatedAt: g.now().UTC()})
	g.confirm(ctx, m, "")
	tracing.EndSpan(span, nil)
	return nil
}

// reconcile refetches the directory so the authoritative value replaces the
// optimistic one. The optimistic value is folded into the stored record when
// the refetch fails or the first page no longer carries the conversation.
func (g *Gateway) reconcile(ctx context.Context, m *models.Mutation) {
	page, err := g.directory.FetchAll(ctx)
	switch {
	case err != nil:
		g.directory.CommitOverride(m.ID)
		g.errLogger.LogWarn(err, "Failed to refresh directory after mutation", logrus.Fields{
			LogFieldMutationID: m.ID,
			LogFieldMutation:   m.Kind,
		})
	case slices.ContainsFunc(page, func(c models.Conversation) bool { return c.ID == m.ConversationID }):
		g.directory.DropOverride(m.ID)
	default:
		g.directory.CommitOverride(m.ID)
	}
	g.confirm(ctx, m, "")
}

// Pending returns the mutations still in flight, oldest first.
func (g *Gateway) Pending() []models.Mutation {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]models.Mutation, 0, len(g.pending))
	for _, m := range g.pending {
		out = append(out, *m)
	}
	slices.SortFunc(out, func(a, b models.Mutation) int {
		return a.StartedAt.Compare(b.StartedAt)
	})
	return out
}

func (g *Gateway) begin(ctx context.Context, kind models.MutationKind, conversationID string) *models.Mutation {
	m := &models.Mutation{
		ID:             uuid.New().String(),
		Kind:           kind,
		ConversationID: conversationID,
		State:          models.MutationPending,
		StartedAt:      g.now().UTC(),
	}
	g.mu.Lock()
	g.pending[m.ID] = m
	g.mu.Unlock()

	tracing.AddSpanAttributes(ctx, attribute.String("mutation.id", m.ID))
	g.record(ctx, *m)
	return m
}

func (g *Gateway) confirm(ctx context.Context, m *models.Mutation, detail string) {
	g.finish(ctx, m, models.MutationConfirmed, detail, nil)
}

// rollback resolves m as rolled back and returns the user-facing error.
func (g *Gateway) rollback(ctx context.Context, m *models.Mutation, cause error) error {
	err := apperrors.NewMutationError(string(m.Kind), m.ConversationID, cause)
	g.finish(ctx, m, models.MutationRolledBack, "", err)
	return err
}

func (g *Gateway) finish(ctx context.Context, m *models.Mutation, state models.MutationState, detail string, err error) {
	resolved := g.now().UTC()

	g.mu.Lock()
	delete(g.pending, m.ID)
	m.State = state
	m.ResolvedAt = &resolved
	if detail != "" {
		m.Detail = detail
	}
	if err != nil {
		m.Error = err.Error()
	}
	snapshot := *m
	g.mu.Unlock()

	metrics.IncrementCounter("gateway_mutations_total", map[string]string{
		LogFieldMutation: string(m.Kind),
		LogFieldState:    string(state),
	}, "Mutations resolved by kind and outcome")
	metrics.RecordTimer("gateway_mutation_duration", resolved.Sub(m.StartedAt),
		map[string]string{LogFieldMutation: string(m.Kind)}, "Time from mutation start to resolution")

	fields := logrus.Fields{
		LogFieldComponent:      ComponentGateway,
		LogFieldMutationID:     m.ID,
		LogFieldMutation:       m.Kind,
		LogFieldConversationID: m.ConversationID,
	}
	if err != nil {
		g.errLogger.LogError(err, "Mutation rolled back", fields)
	} else {
		LogWithContext(ctx, g.logger).WithFields(fields).Info("Mutation confirmed")
	}
	g.record(ctx, snapshot)
}

// record writes a transition to the journal. Journal failures never fail the action.
func (g *Gateway) record(ctx context.Context, m models.Mutation) {
	if g.journal == nil {
		return
	}
	jctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), journalWriteTimeout)
	defer cancel()
	if err := g.journal.RecordMutation(jctx, &m); err != nil {
		g.errLogger.LogWarn(err, "Failed to journal mutation", logrus.Fields{
			LogFieldMutationID: m.ID,
			LogFieldState:      m.State,
		})
	}
}
