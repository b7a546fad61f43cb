package service

import (
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// Subscription is the handle returned by Topic.Subscribe.
type Subscription struct {
	active atomic.Bool
	once   sync.Once
	remove func()
}

// Cancel stops delivery to the subscriber. It is safe to call more than once
// and from inside the subscriber itself.
func (s *Subscription) Cancel() {
	s.once.Do(func() {
		s.active.Store(false)
		s.remove()
	})
}

// Active reports whether the subscription still receives events.
func (s *Subscription) Active() bool {
	return s.active.Load()
}

type subscriber[T any] struct {
	id  uint64
	fn  func(T)
	sub *Subscription
}

// Topic is a typed fan-out of one event category. Subscribers are notified
// in registration order; a panicking subscriber does not stop the others.
type Topic[T any] struct {
	name   string
	logger *logrus.Logger

	mu     sync.RWMutex
	nextID uint64
	subs   []subscriber[T]
}

func NewTopic[T any](name string, logger *logrus.Logger) *Topic[T] {
	return &Topic[T]{name: name, logger: logger}
}

// Subscribe registers fn and returns its cancellation handle.
func (t *Topic[T]) Subscribe(fn func(T)) *Subscription {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.nextID++
	id := t.nextID
	sub := &Subscription{}
	sub.active.Store(true)
	sub.remove = func() { t.unsubscribe(id) }
	t.subs = append(t.subs, subscriber[T]{id: id, fn: fn, sub: sub})
	return sub
}

func (t *Topic[T]) unsubscribe(id uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, s := range t.subs {
		if s.id == id {
			t.subs = append(t.subs[:i:i], t.subs[i+1:]...)
			return
		}
	}
}

// Publish delivers v to every active subscriber.
func (t *Topic[T]) Publish(v T) {
	t.mu.RLock()
	subs := make([]subscriber[T], len(t.subs))
	copy(subs, t.subs)
	t.mu.RUnlock()

	for _, s := range subs {
		if !s.sub.Active() {
			continue
		}
		t.call(s, v)
	}
}

func (t *Topic[T]) call(s subscriber[T], v T) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.WithFields(logrus.Fields{
				LogFieldEvent: t.name,
				"panic":       r,
			}).Error("Subscriber panicked")
		}
	}()
	s.fn(v)
}

// Len returns the number of active subscribers.
func (t *Topic[T]) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.subs)
}
