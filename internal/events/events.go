// Package events provides the typed publish/subscribe bus that threads
// through every pipeline and lifecycle transition.
//
// Delivery is best-effort and non-blocking: a slow subscriber never delays
// a containment decision. Channel subscribers with a full buffer drop the
// event (counted); func subscribers run on their own goroutine.
package events

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/aeges-net/aeges/internal/idgen"
)

// Kind identifies an event type on the bus.
type Kind string

const (
	// KindAll subscribes to every event kind.
	KindAll Kind = "*"

	KindAnalysisCompleted     Kind = "analysis.completed"
	KindContainmentCreated    Kind = "containment.created"
	KindContainmentExpired    Kind = "containment.expired"
	KindRecoveryInitiated     Kind = "recovery.initiated"
	KindRecoveryCheckUpdated  Kind = "recovery.check_updated"
	KindRecoveryApproved      Kind = "recovery.approved"
	KindRecoveryRejected      Kind = "recovery.rejected"
	KindRecoveryCompleted     Kind = "recovery.completed"
	KindPropagationDispatched Kind = "propagation.dispatched"
)

// Event is a single notification on the bus.
type Event struct {
	ID        string         `json:"id"`
	Kind      Kind           `json:"kind"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload"`
}

var (
	eventsPublished = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "aeges",
		Subsystem: "events",
		Name:      "published_total",
		Help:      "Events published to the bus by kind.",
	}, []string{"kind"})

	eventsDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "aeges",
		Subsystem: "events",
		Name:      "dropped_total",
		Help:      "Events dropped because a subscriber buffer was full.",
	}, []string{"kind"})
)

func init() {
	prometheus.MustRegister(eventsPublished, eventsDropped)
}

type subscriber struct {
	mu     sync.Mutex
	ch     chan Event
	fn     func(Event)
	closed bool
}

// deliver hands the event to the subscriber without blocking. Returns
// false when the event was dropped on a full buffer. Delivery after
// detach is a no-op.
func (s *subscriber) deliver(evt Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return true
	}
	if s.fn != nil {
		go s.fn(evt)
		return true
	}
	select {
	case s.ch <- evt:
		return true
	default:
		return false
	}
}

// detach closes the subscriber's channel. The mutex keeps the close out
// of the window where a concurrent deliver holds a snapshot of this
// subscriber, so a send never races the close.
func (s *subscriber) detach() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	if s.ch != nil {
		close(s.ch)
	}
}

// Bus is an in-process event bus with per-kind fan-out.
type Bus struct {
	mu      sync.RWMutex
	subs    map[Kind][]*subscriber
	logger  *slog.Logger
	closed  bool
	dropped atomic.Uint64
}

// NewBus creates an event bus.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		subs:   make(map[Kind][]*subscriber),
		logger: logger,
	}
}

// Subscribe returns a buffered channel receiving events of the given kind
// (or all events for KindAll) and a cancel function. Events are dropped,
// not queued, once the buffer fills.
func (b *Bus) Subscribe(kind Kind, buffer int) (<-chan Event, func()) {
	if buffer < 1 {
		buffer = 16
	}
	sub := &subscriber{ch: make(chan Event, buffer)}
	b.add(kind, sub)
	return sub.ch, func() { b.remove(kind, sub) }
}

// SubscribeFunc registers a handler invoked on its own goroutine for each
// matching event. Returns a cancel function.
func (b *Bus) SubscribeFunc(kind Kind, fn func(Event)) func() {
	sub := &subscriber{fn: fn}
	b.add(kind, sub)
	return func() { b.remove(kind, sub) }
}

// Publish sends an event to all matching subscribers without blocking.
// A missing id or timestamp is filled in.
func (b *Bus) Publish(evt Event) {
	if evt.ID == "" {
		evt.ID = idgen.New(idgen.PrefixEvent)
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	eventsPublished.WithLabelValues(string(evt.Kind)).Inc()

	b.mu.RLock()
	targets := make([]*subscriber, 0, len(b.subs[evt.Kind])+len(b.subs[KindAll]))
	targets = append(targets, b.subs[evt.Kind]...)
	targets = append(targets, b.subs[KindAll]...)
	closed := b.closed
	b.mu.RUnlock()

	if closed {
		return
	}

	for _, sub := range targets {
		if !sub.deliver(evt) {
			b.dropped.Add(1)
			eventsDropped.WithLabelValues(string(evt.Kind)).Inc()
			b.logger.Warn("event dropped, subscriber buffer full",
				"kind", evt.Kind, "event_id", evt.ID)
		}
	}
}

// Dropped reports how many events were dropped on full subscriber buffers.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// Close detaches all subscribers and closes their channels.
// Publish after Close is a no-op.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, subs := range b.subs {
		for _, sub := range subs {
			sub.detach()
		}
	}
	b.subs = make(map[Kind][]*subscriber)
}

func (b *Bus) add(kind Kind, sub *subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		sub.detach()
		return
	}
	b.subs[kind] = append(b.subs[kind], sub)
}

func (b *Bus) remove(kind Kind, sub *subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[kind]
	for i, s := range subs {
		if s == sub {
			b.subs[kind] = append(subs[:i], subs[i+1:]...)
			s.detach()
			return
		}
	}
}
