package main

import (
	"context"
	"net/http"
	"time"

	"waconsole/internal/constants"
	"waconsole/internal/metrics"
	"waconsole/internal/models"
	"waconsole/internal/service"
	"waconsole/pkg/stream"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/sirupsen/logrus"
)

const (
	eventConsoleStatus = "console.status"
	relayWriteTimeout  = 10 * time.Second
)

// relayEvent is one frame sent to a dashboard client.
type relayEvent struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
	At   time.Time   `json:"at"`
}

// eventRelay buffers topic publications for one client. Publishers never block:
// when the client falls behind, events are dropped and counted.
type eventRelay struct {
	ch   chan relayEvent
	subs []*service.Subscription
}

func newEventRelay(console *service.Console) *eventRelay {
	rl := &eventRelay{ch: make(chan relayEvent, constants.DefaultEventRelayBuffer)}
	d := console.Dispatcher
	rl.subs = append(rl.subs,
		d.Messages.Subscribe(func(m models.Message) { rl.offer(service.EventMessageCreated, m) }),
		d.Conversations.Subscribe(func(c models.Conversation) { rl.offer(service.EventConversationUpdated, c) }),
		d.Status.Subscribe(func(b models.BotStatus) { rl.offer(service.EventBotStatus, b) }),
		d.Orders.Subscribe(func(o models.OrderEvent) { rl.offer(string(o.Kind), o.Order) }),
		d.Bootstrap.Subscribe(func(b service.BootstrapEvent) { rl.offer(service.EventConversationInit, b) }),
		console.StreamStatus.Subscribe(func(st stream.Status) { rl.offer(service.EventConnection, st) }),
	)
	return rl
}

func (rl *eventRelay) offer(kind string, data interface{}) {
	select {
	case rl.ch <- relayEvent{Type: kind, Data: data, At: time.Now().UTC()}:
	default:
		metrics.IncrementCounter("event_relay_dropped_total", map[string]string{"type": kind},
			"Events dropped because a dashboard client fell behind")
	}
}

func (rl *eventRelay) close() {
	for _, s := range rl.subs {
		s.Cancel()
	}
}

// handleEvents upgrades to a websocket and relays console events until the
// client disconnects or the server shuts down.
func (s *Server) handleEvents() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			s.logger.WithError(err).Warn("Event stream upgrade failed")
			return
		}
		defer conn.CloseNow()

		relay := newEventRelay(s.console)
		defer relay.close()

		metrics.SetGauge("event_relay_clients", float64(s.clients.Add(1)), nil, "Connected dashboard event clients")
		defer func() {
			metrics.SetGauge("event_relay_clients", float64(s.clients.Add(-1)), nil, "Connected dashboard event clients")
		}()

		ctx := conn.CloseRead(r.Context())
		if err := s.writeEvent(ctx, conn, relayEvent{Type: eventConsoleStatus, Data: s.console.Status(), At: time.Now().UTC()}); err != nil {
			return
		}

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.done.Done():
				conn.Close(websocket.StatusGoingAway, "server shutting down")
				return
			case ev := <-relay.ch:
				if err := s.writeEvent(ctx, conn, ev); err != nil {
					s.logger.WithFields(logrus.Fields{
						service.LogFieldEvent: ev.Type,
						"error":               err,
					}).Debug("Event client write failed")
					return
				}
			}
		}
	}
}

func (s *Server) writeEvent(ctx context.Context, conn *websocket.Conn, ev relayEvent) error {
	writeCtx, cancel := context.WithTimeout(ctx, relayWriteTimeout)
	defer cancel()
	return wsjson.Write(writeCtx, conn, ev)
}
