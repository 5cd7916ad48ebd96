// Package broadcast is the in-process publish/subscribe hub that fans order
// events out to live push connections. It is not a queue: a handle that is not
// attached when an event is published never sees it.
package broadcast

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/ariefcatur/go-resto-orders/internal/logging"
	"github.com/ariefcatur/go-resto-orders/internal/metrics"
)

var (
	ErrInvalidTopic    = errors.New("invalid topic")
	ErrAlreadyAttached = errors.New("handle already attached to another topic")
	ErrHandleClosed    = errors.New("handle closed")
)

type HandleID uint64

// Handle is one subscriber's mailbox. The event channel is never closed;
// readers select on Done to learn the handle was dropped.
type Handle struct {
	id     HandleID
	events chan Event
	done   chan struct{}
	once   sync.Once

	mu    sync.Mutex
	topic string
}

func (h *Handle) ID() HandleID { return h.id }

func (h *Handle) Events() <-chan Event { return h.events }

func (h *Handle) Done() <-chan struct{} { return h.done }

func (h *Handle) Topic() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.topic
}

// Close marks the handle dead. Safe to call more than once.
func (h *Handle) Close() { h.once.Do(func() { close(h.done) }) }

func (h *Handle) closed() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// deliver never blocks: a full buffer counts as a dead consumer.
func (h *Handle) deliver(ev Event) bool {
	if h.closed() {
		return false
	}
	select {
	case h.events <- ev:
		return true
	default:
		return false
	}
}

type Hub struct {
	mu     sync.RWMutex
	topics map[string]map[HandleID]*Handle
	nextID atomic.Uint64
	buffer int
}

// NewHub returns a hub whose handles buffer up to buffer events.
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 64
	}
	return &Hub{topics: map[string]map[HandleID]*Handle{}, buffer: buffer}
}

// NewHandle allocates a detached handle with a stable id.
func (b *Hub) NewHandle() *Handle {
	return &Handle{
		id:     HandleID(b.nextID.Add(1)),
		events: make(chan Event, b.buffer),
		done:   make(chan struct{}),
	}
}

// Subscribe attaches h to topic. A handle serves exactly one topic; attaching
// it again to the same topic is a no-op.
func (b *Hub) Subscribe(topic string, h *Handle) error {
	if !ValidTopic(topic) {
		return ErrInvalidTopic
	}
	if h.closed() {
		return ErrHandleClosed
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.topic != "" && h.topic != topic {
		return ErrAlreadyAttached
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	set, ok := b.topics[topic]
	if !ok {
		set = map[HandleID]*Handle{}
		b.topics[topic] = set
	}
	if _, exists := set[h.id]; !exists {
		set[h.id] = h
		metrics.StreamSubscribers.WithLabelValues(topicClass(topic)).Inc()
	}
	h.topic = topic
	return nil
}

// Unsubscribe detaches h from topic and closes it.
func (b *Hub) Unsubscribe(topic string, h *Handle) {
	b.remove(topic, h.id)
	h.mu.Lock()
	if h.topic == topic {
		h.topic = ""
	}
	h.mu.Unlock()
	h.Close()
}

func (b *Hub) remove(topic string, id HandleID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	set, ok := b.topics[topic]
	if !ok {
		return false
	}
	if _, ok := set[id]; !ok {
		return false
	}
	delete(set, id)
	if len(set) == 0 {
		delete(b.topics, topic)
	}
	metrics.StreamSubscribers.WithLabelValues(topicClass(topic)).Dec()
	return true
}

// Publish delivers ev to every handle attached to topic right now. Dead or
// saturated handles are closed and removed; the rest still receive ev.
func (b *Hub) Publish(topic string, ev Event) {
	ev.Topic = topic

	b.mu.RLock()
	set := b.topics[topic]
	targets := make([]*Handle, 0, len(set))
	for _, h := range set {
		targets = append(targets, h)
	}
	b.mu.RUnlock()

	metrics.StreamPublished.WithLabelValues(ev.Name).Inc()

	var dead []*Handle
	for _, h := range targets {
		if !h.deliver(ev) {
			dead = append(dead, h)
		}
	}
	for _, h := range dead {
		if b.remove(topic, h.id) {
			metrics.StreamDropped.Inc()
			logging.Debug(context.Background(), "dropped subscriber",
				zap.String("topic", topic), zap.Uint64("handle", uint64(h.id)))
		}
		h.Close()
	}
}

// Count returns the number of handles attached to topic.
func (b *Hub) Count(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics[topic])
}
