package broadcast

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/dgnsrekt/kwitch/internal/kick"
	"github.com/dgnsrekt/kwitch/internal/message"
)

const subscriberBufSize = 256

var errQueueFull = errors.New("broadcast: target queue full")

// Handler receives one envelope. A returned error is a delivery failure for
// that target only.
type Handler func(message.Envelope) error

// Publisher sends an envelope to every registered target.
type Publisher interface {
	Publish(message.Envelope)
}

// Subscriber registers targets. The returned func unregisters.
type Subscriber interface {
	Subscribe(Handler) (unsubscribe func())
}

// PullFunc returns the current cached collection.
type PullFunc func(ctx context.Context) ([]kick.Channel, error)

type target struct {
	id      int64
	ch      chan message.Envelope
	handler Handler
}

// Broker fans envelopes out to every target. Each target has its own queue
// and delivery goroutine, so a slow or failing target never holds up
// Publish or the other targets.
type Broker struct {
	mu          sync.RWMutex
	subscribers map[int64]*target
	nextID      atomic.Int64

	latestMu sync.RWMutex
	latest   *message.Envelope
}

func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[int64]*target),
	}
}

func (b *Broker) Subscribe(h Handler) func() {
	t := &target{
		id:      b.nextID.Add(1),
		ch:      make(chan message.Envelope, subscriberBufSize),
		handler: h,
	}
	b.mu.Lock()
	b.subscribers[t.id] = t
	b.mu.Unlock()

	go b.deliver(t)

	var once sync.Once
	return func() {
		once.Do(func() { b.unsubscribe(t.id) })
	}
}

func (b *Broker) unsubscribe(id int64) {
	b.mu.Lock()
	t, ok := b.subscribers[id]
	if ok {
		delete(b.subscribers, id)
		close(t.ch)
	}
	b.mu.Unlock()
}

// Publish queues env for every target without blocking. A target whose
// queue is full misses this envelope.
func (b *Broker) Publish(env message.Envelope) {
	if env.Type == message.TypeChannelsUpdated {
		b.latestMu.Lock()
		b.latest = &env
		b.latestMu.Unlock()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, t := range b.subscribers {
		select {
		case t.ch <- env:
		default:
			slog.Debug("broadcast delivery failed", "target", t.id, "type", env.Type, "error", errQueueFull)
		}
	}
}

// Latest returns the most recent CHANNELS_UPDATED envelope, if any.
func (b *Broker) Latest() (message.Envelope, bool) {
	b.latestMu.RLock()
	defer b.latestMu.RUnlock()
	if b.latest == nil {
		return message.Envelope{}, false
	}
	return *b.latest, true
}

// Targets returns the number of registered targets.
func (b *Broker) Targets() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

func (b *Broker) deliver(t *target) {
	for env := range t.ch {
		if err := invoke(t.handler, env); err != nil {
			slog.Debug("broadcast delivery failed", "target", t.id, "type", env.Type, "error", err)
		}
	}
}

func invoke(h Handler, env message.Envelope) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("broadcast: handler panic: %v", r)
		}
	}()
	return h(env)
}

// queueHandler adapts a buffered channel into a Handler that never blocks.
func queueHandler(ch chan<- message.Envelope) Handler {
	return func(env message.Envelope) error {
		select {
		case ch <- env:
			return nil
		default:
			return errQueueFull
		}
	}
}
