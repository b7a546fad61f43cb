package service

import (
	"sync"
	"time"

	apperrors "waconsole/internal/errors"
	"waconsole/internal/metrics"
	"waconsole/internal/models"
	"waconsole/internal/privacy"
	"waconsole/pkg/botapi"

	"github.com/sirupsen/logrus"
)

// Stream event types.
const (
	EventConnection          = "connection"
	EventConversationInit    = "conversation.bootstrap"
	EventMessageCreated      = "message.created"
	EventConversationUpdated = "conversation.updated"
	EventBotStatus           = "bot.status"
	EventOrderCreated        = string(models.OrderCreated)
	EventOrderUpdated        = string(models.OrderUpdated)
)

// BootstrapEvent reports that the stream sent a snapshot. The snapshot itself
// is not applied anywhere.
type BootstrapEvent struct {
	Conversations int       `json:"conversations"`
	ReceivedAt    time.Time `json:"received_at"`
}

// Dispatcher decodes stream frames and fans them out per category.
type Dispatcher struct {
	logger    *logrus.Logger
	errLogger *apperrors.Logger
	directory *Directory

	Messages      *Topic[models.Message]
	Conversations *Topic[models.Conversation]
	Status        *Topic[models.BotStatus]
	Orders        *Topic[models.OrderEvent]
	Bootstrap     *Topic[BootstrapEvent]

	// mu serializes Dispatch so each event is fully applied before the next.
	mu        sync.Mutex
	globalMu  sync.RWMutex
	globalBot models.BotStatus
}

func NewDispatcher(directory *Directory, logger *logrus.Logger) *Dispatcher {
	return &Dispatcher{
		logger:        logger,
		errLogger:     apperrors.WrapLogger(logger),
		directory:     directory,
		Messages:      NewTopic[models.Message](EventMessageCreated, logger),
		Conversations: NewTopic[models.Conversation](EventConversationUpdated, logger),
		Status:        NewTopic[models.BotStatus](EventBotStatus, logger),
		Orders:        NewTopic[models.OrderEvent]("order", logger),
		Bootstrap:     NewTopic[BootstrapEvent](EventConversationInit, logger),
		globalBot:     models.BotStatus{Enabled: true},
	}
}

// GlobalBot returns the process-wide auto-reply flag.
func (d *Dispatcher) GlobalBot() models.BotStatus {
	d.globalMu.RLock()
	defer d.globalMu.RUnlock()
	return d.globalBot
}

// SetGlobalBot records a confirmed global flag and notifies status subscribers.
func (d *Dispatcher) SetGlobalBot(status models.BotStatus) {
	if status.UpdatedAt.IsZero() {
		status.UpdatedAt = time.Now().UTC()
	}
	d.globalMu.Lock()
	d.globalBot = status
	d.globalMu.Unlock()
	d.Status.Publish(status)
}

// Dispatch handles one raw frame. Malformed frames are logged and dropped.
func (d *Dispatcher) Dispatch(frame []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()

	env, err := botapi.ParseEnvelope(frame)
	if err != nil {
		d.drop("", apperrors.NewMalformedEventError("", err.Error()).WithContext("size_bytes", len(frame)))
		return
	}
	metrics.IncrementCounter("dispatcher_events_total", map[string]string{LogFieldEvent: env.Type},
		"Stream events received by type")

	switch env.Type {
	case EventConnection:
		d.logger.WithField(LogFieldEvent, env.Type).Debug("Stream handshake acknowledged")

	case EventConversationInit:
		// The stream-side cache does not survive service restarts, so the
		// snapshot never touches the directory.
		n := 0
		if env.Payload.IsArray() {
			n = len(env.Payload.Array())
		} else if list := env.Payload.Get("conversations"); list.IsArray() {
			n = len(list.Array())
		}
		d.logger.WithFields(logrus.Fields{
			LogFieldEvent: env.Type,
			LogFieldCount: n,
		}).Debug("Skipping bootstrap snapshot: directory is sourced from REST")
		d.Bootstrap.Publish(BootstrapEvent{Conversations: n, ReceivedAt: time.Now().UTC()})

	case EventMessageCreated:
		msg, err := botapi.NormalizeEventMessage(env)
		if err != nil {
			d.drop(env.Type, apperrors.NewMalformedEventError(env.Type, err.Error()))
			return
		}
		d.Messages.Publish(msg)

	case EventConversationUpdated:
		patch, err := botapi.NormalizeConversationPatch(env.Payload)
		if err != nil {
			d.drop(env.Type, apperrors.NewMalformedEventError(env.Type, err.Error()))
			return
		}
		merged := d.directory.ApplyPatch(patch)
		d.logger.WithFields(logrus.Fields{
			LogFieldEvent:          env.Type,
			LogFieldConversationID: merged.ID,
			LogFieldPhone:          privacy.MaskPhoneNumber(merged.CustomerPhone),
		}).Debug("Applied conversation update")
		d.Conversations.Publish(merged)

	case EventBotStatus:
		status, err := botapi.NormalizeBotStatus(env.Payload)
		if err != nil {
			d.drop(env.Type, apperrors.NewMalformedEventError(env.Type, err.Error()))
			return
		}
		d.SetGlobalBot(status)

	case EventOrderCreated, EventOrderUpdated:
		order, err := botapi.NormalizeOrder(env.Payload)
		if err != nil {
			d.drop(env.Type, apperrors.NewMalformedEventError(env.Type, err.Error()))
			return
		}
		d.Orders.Publish(models.OrderEvent{Kind: models.OrderEventKind(env.Type), Order: order})

	default:
		d.logger.WithField(LogFieldEvent, env.Type).Debug("Ignoring unknown stream event")
	}
}

func (d *Dispatcher) drop(eventType string, err error) {
	metrics.IncrementCounter("dispatcher_events_dropped_total", map[string]string{LogFieldEvent: eventType},
		"Stream events dropped as malformed")
	d.errLogger.LogWarn(err, "Dropped malformed stream event")
}
