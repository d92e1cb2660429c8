package events

import (
	"reflect"
	"sort"
	"sync"
	"sync/atomic"
	"time"
	"weak"

	"github.com/cuemby/gamefeed/pkg/log"
	"github.com/cuemby/gamefeed/pkg/metrics"
	"github.com/rs/zerolog"
)

// EventType identifies a stream of events on the bus
type EventType string

const (
	EventGameTick                EventType = "game.tick"
	EventGameComplete            EventType = "game.complete"
	EventPlayerState             EventType = "player.state"
	EventConnectionAuthenticated EventType = "connection.authenticated"
	EventConnectionLost          EventType = "connection.lost"
	EventConnectionRestored      EventType = "connection.restored"
	EventWsRawEvent              EventType = "ws.raw_event"
	EventWsSourceChanged         EventType = "ws.source_changed"
	EventTradeBuy                EventType = "trade.buy"
	EventTradeSell               EventType = "trade.sell"
	EventTradeSidebet            EventType = "trade.sidebet"
	EventButtonPress             EventType = "button.press"

	// Wildcard subscribers receive every event type
	Wildcard EventType = "*"
)

const (
	DefaultQueueSize   = 5000
	DefaultStopTimeout = 5 * time.Second

	highWaterPercent = 80
	stopRetries      = 10
	stopRetryWait    = 50 * time.Millisecond
	idlePollInterval = 2 * time.Millisecond
)

// Event is one published item as delivered to handlers
type Event struct {
	Type      EventType
	Timestamp time.Time
	Payload   any
}

// Handler receives events. Handler values are compared by identity, so
// implementations should be pointer types; use Func to wrap a function.
type Handler interface {
	HandleEvent(Event)
}

type funcHandler struct {
	fn func(Event)
}

func (h *funcHandler) HandleEvent(e Event) { h.fn(e) }

// Func wraps fn in a Handler with its own identity. Keep the returned value
// to unsubscribe later.
func Func(fn func(Event)) Handler {
	return &funcHandler{fn: fn}
}

// Subscription is the token returned by Subscribe.
//
// For weak subscriptions the bus only holds a weak reference to the token:
// the subscriber must keep it reachable for as long as it wants events.
type Subscription struct {
	bus       *Bus
	eventType EventType
	handler   Handler
	weak      bool
	released  atomic.Bool
}

// EventType returns the type the subscription listens to
func (s *Subscription) EventType() EventType { return s.eventType }

// Weak reports whether the bus holds the subscription weakly
func (s *Subscription) Weak() bool { return s.weak }

// Release revokes the subscription. Safe to call more than once.
func (s *Subscription) Release() {
	if s.released.Swap(true) {
		return
	}
	s.bus.remove(s)
}

type entry struct {
	strong *Subscription
	weak   weak.Pointer[Subscription]
}

func (e entry) get() *Subscription {
	if e.strong != nil {
		return e.strong
	}
	return e.weak.Value()
}

type queueItem struct {
	event Event
	stop  bool
}

// Config configures a Bus
type Config struct {
	QueueSize   int
	StopTimeout time.Duration
}

// Stats is a snapshot of bus counters
type Stats struct {
	SubscriberCount int         `json:"subscriber_count"`
	EventTypes      []EventType `json:"event_types"`
	QueueSize       int         `json:"queue_size"`
	Processing      bool        `json:"processing"`
	EventsPublished uint64      `json:"events_published"`
	EventsProcessed uint64      `json:"events_processed"`
	EventsDropped   uint64      `json:"events_dropped"`
	Errors          uint64      `json:"errors"`
}

// Bus is a bounded, many-producer/many-consumer event dispatcher with a
// single dispatch goroutine.
type Bus struct {
	subscribers map[EventType][]entry
	mu          sync.Mutex

	queue     chan queueItem
	highWater int
	timeout   time.Duration
	logger    zerolog.Logger

	published  atomic.Uint64
	processed  atomic.Uint64
	dropped    atomic.Uint64
	errors     atomic.Uint64
	processing atomic.Bool
	aboveHigh  atomic.Bool
	started    atomic.Bool
	stopped    atomic.Bool

	startOnce sync.Once
	stopOnce  sync.Once
	done      chan struct{}
}

// New creates a new event bus. Call Start to begin dispatching.
func New(cfg Config) *Bus {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = DefaultStopTimeout
	}

	highWater := cfg.QueueSize * highWaterPercent / 100
	if highWater < 1 {
		highWater = 1
	}

	return &Bus{
		subscribers: make(map[EventType][]entry),
		queue:       make(chan queueItem, cfg.QueueSize),
		highWater:   highWater,
		timeout:     cfg.StopTimeout,
		logger:      log.WithComponent("eventbus"),
		done:        make(chan struct{}),
	}
}

// Start begins the bus's dispatch loop
func (b *Bus) Start() {
	b.startOnce.Do(func() {
		b.started.Store(true)
		go b.run()
		b.logger.Info().Int("capacity", cap(b.queue)).Msg("event bus started")
	})
}

// Stop sends a stop sentinel through the queue and waits for the dispatch
// loop to drain up to it. Events already queued are delivered first. If the
// loop does not exit within the stop timeout, Stop logs and returns.
func (b *Bus) Stop() {
	b.stopOnce.Do(func() {
		b.stopped.Store(true)
		if !b.started.Load() {
			return
		}

		sent := false
		for attempt := 0; attempt < stopRetries && !sent; attempt++ {
			timer := time.NewTimer(stopRetryWait)
			select {
			case b.queue <- queueItem{stop: true}:
				sent = true
			case <-timer.C:
				// Make room by discarding the oldest pending event
				select {
				case <-b.queue:
					b.dropped.Add(1)
					metrics.BusEventsDropped.Inc()
				default:
				}
			}
			timer.Stop()
		}
		if !sent {
			b.logger.Error().Msg("could not enqueue stop sentinel")
		}

		select {
		case <-b.done:
			b.logger.Info().
				Uint64("processed", b.processed.Load()).
				Uint64("dropped", b.dropped.Load()).
				Msg("event bus stopped")
		case <-time.After(b.timeout):
			b.logger.Error().Dur("timeout", b.timeout).Msg("event bus worker did not stop in time")
		}
	})
}

// Publish enqueues an event without blocking. When the queue is full, or
// the bus has been stopped, the event is dropped and counted.
func (b *Bus) Publish(eventType EventType, payload any) {
	if b.stopped.Load() {
		b.dropped.Add(1)
		metrics.BusEventsDropped.Inc()
		return
	}

	item := queueItem{event: Event{
		Type:      eventType,
		Timestamp: time.Now(),
		Payload:   payload,
	}}

	select {
	case b.queue <- item:
		b.published.Add(1)
		metrics.BusEventsPublished.WithLabelValues(string(eventType)).Inc()
	default:
		b.dropped.Add(1)
		metrics.BusEventsDropped.Inc()
		return
	}

	depth := len(b.queue)
	metrics.BusQueueDepth.Set(float64(depth))
	if depth >= b.highWater && b.aboveHigh.CompareAndSwap(false, true) {
		b.logger.Warn().
			Int("queue_size", depth).
			Int("capacity", cap(b.queue)).
			Msg("event queue above 80% capacity")
	}
}

// Subscribe registers handler for eventType (or Wildcard). Subscribing the
// same handler twice for one type returns the existing subscription.
func (b *Bus) Subscribe(eventType EventType, handler Handler, weak bool) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	live := b.pruneLocked(eventType)
	for _, e := range live {
		if sub := e.get(); sub != nil && sameHandler(sub.handler, handler) {
			return sub
		}
	}

	sub := &Subscription{
		bus:       b,
		eventType: eventType,
		handler:   handler,
		weak:      weak,
	}
	e := entry{strong: sub}
	if weak {
		e = entry{weak: weakPointer(sub)}
	}
	b.subscribers[eventType] = append(live, e)

	b.logger.Debug().Str("event_type", string(eventType)).Bool("weak", weak).Msg("subscribed")
	return sub
}

// Unsubscribe removes handler from eventType. Unknown handlers are ignored.
func (b *Bus) Unsubscribe(eventType EventType, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	list := b.subscribers[eventType]
	kept := list[:0]
	for _, e := range list {
		sub := e.get()
		if sub == nil {
			continue
		}
		if sameHandler(sub.handler, handler) {
			sub.released.Store(true)
			continue
		}
		kept = append(kept, e)
	}
	b.setLocked(eventType, kept)
}

// ClearAll removes every subscription
func (b *Bus) ClearAll() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, list := range b.subscribers {
		for _, e := range list {
			if sub := e.get(); sub != nil {
				sub.released.Store(true)
			}
		}
	}
	b.subscribers = make(map[EventType][]entry)
}

// Stats returns a snapshot of the bus counters
func (b *Bus) Stats() Stats {
	b.mu.Lock()
	count := 0
	types := make([]EventType, 0, len(b.subscribers))
	for eventType := range b.subscribers {
		live := b.pruneLocked(eventType)
		if len(live) == 0 {
			continue
		}
		count += len(live)
		types = append(types, eventType)
	}
	b.mu.Unlock()

	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })

	return Stats{
		SubscriberCount: count,
		EventTypes:      types,
		QueueSize:       len(b.queue),
		Processing:      b.processing.Load(),
		EventsPublished: b.published.Load(),
		EventsProcessed: b.processed.Load(),
		EventsDropped:   b.dropped.Load(),
		Errors:          b.errors.Load(),
	}
}

// WaitIdle blocks until every accepted event, including events published by
// handlers while draining, has been dispatched, or until timeout. It reports
// whether the bus became idle.
func (b *Bus) WaitIdle(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		if b.processed.Load() >= b.published.Load() {
			return true
		}
		if !b.started.Load() || b.stopped.Load() || time.Now().After(deadline) {
			return false
		}
		time.Sleep(idlePollInterval)
	}
}

// QueueDepth returns the number of events waiting for dispatch
func (b *Bus) QueueDepth() int {
	return len(b.queue)
}

func (b *Bus) run() {
	defer close(b.done)

	for item := range b.queue {
		if item.stop {
			return
		}

		b.processing.Store(true)
		b.dispatch(item.event)
		b.processing.Store(false)

		depth := len(b.queue)
		metrics.BusQueueDepth.Set(float64(depth))
		if depth < b.highWater {
			b.aboveHigh.Store(false)
		}
	}
}

func (b *Bus) dispatch(event Event) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.BusDispatchDuration)

	// Handlers run without the lock held so they can publish or
	// (un)subscribe from inside a callback.
	for _, sub := range b.snapshot(event.Type) {
		if sub.released.Load() {
			continue
		}
		b.invoke(sub, event)
	}
	b.processed.Add(1)
}

func (b *Bus) snapshot(eventType EventType) []*Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	var subs []*Subscription
	for _, e := range b.pruneLocked(eventType) {
		if sub := e.get(); sub != nil {
			subs = append(subs, sub)
		}
	}
	if eventType != Wildcard {
		for _, e := range b.pruneLocked(Wildcard) {
			if sub := e.get(); sub != nil {
				subs = append(subs, sub)
			}
		}
	}
	return subs
}

func (b *Bus) invoke(sub *Subscription, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.errors.Add(1)
			metrics.BusHandlerErrors.Inc()
			b.logger.Error().
				Str("event_type", string(event.Type)).
				Interface("panic", r).
				Msg("event handler panicked")
		}
	}()
	sub.handler.HandleEvent(event)
}

func (b *Bus) remove(target *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	list := b.subscribers[target.eventType]
	kept := list[:0]
	for _, e := range list {
		if sub := e.get(); sub != nil && sub != target {
			kept = append(kept, e)
		}
	}
	b.setLocked(target.eventType, kept)
}

// pruneLocked drops collected weak entries for eventType and returns the
// remaining list.
func (b *Bus) pruneLocked(eventType EventType) []entry {
	list := b.subscribers[eventType]
	kept := list[:0]
	for _, e := range list {
		if e.get() != nil {
			kept = append(kept, e)
		}
	}
	b.setLocked(eventType, kept)
	return kept
}

func (b *Bus) setLocked(eventType EventType, list []entry) {
	if len(list) == 0 {
		delete(b.subscribers, eventType)
		return
	}
	b.subscribers[eventType] = list
}

func weakPointer(sub *Subscription) weak.Pointer[Subscription] {
	return weak.Make(sub)
}

// sameHandler compares handlers by identity. Handlers whose dynamic type is
// not comparable never match.
func sameHandler(a, b Handler) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb || !ta.Comparable() {
		return false
	}
	return a == b
}
