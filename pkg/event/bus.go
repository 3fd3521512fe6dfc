package event

import (
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	// SubscriberQueueSize bounds each subscriber channel.
	SubscriberQueueSize = 20
	// AsyncQueueSize bounds the fire-and-forget publish queue.
	AsyncQueueSize = 1000
	// AsyncWorkerPoolSize is the number of goroutines draining the async queue.
	AsyncWorkerPoolSize = 4
)

// SubscriberID identifies one subscription for Unsubscribe.
type SubscriberID int

// HandlerFunc consumes events delivered through SubscribeFunc.
type HandlerFunc func(Event)

type asyncEvent struct {
	eventType Type
	event     Event
}

// subscriber owns one delivery channel. The closed flag is checked under the
// lock so Publish never sends on a closed channel.
type subscriber struct {
	ch     chan Event
	mu     sync.RWMutex
	closed bool
}

func newSubscriber() *subscriber {
	return &subscriber{ch: make(chan Event, SubscriberQueueSize)}
}

func (s *subscriber) deliver(evt Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	s.ch <- evt
}

func (s *subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}

// Bus fans events out to channel subscribers. Publish delivers synchronously
// and may block on a full subscriber; PublishAsync never blocks and drops
// when the queue is full.
type Bus struct {
	logger      *slog.Logger
	metrics     *busMetrics
	mu          sync.RWMutex
	lastSubID   SubscriberID
	subscribers map[Type]map[SubscriberID]*subscriber

	asyncQueue chan asyncEvent
	asyncWg    sync.WaitGroup
	stopCh     chan struct{}
	stopOnce   sync.Once
	stopMu     sync.RWMutex
	stopped    bool
}

type busMetrics struct {
	eventsTotal *prometheus.CounterVec
	subscribers *prometheus.GaugeVec
	dropped     *prometheus.CounterVec
}

func newBusMetrics(registry prometheus.Registerer) *busMetrics {
	factory := promauto.With(registry)
	return &busMetrics{
		eventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "agora_events_published_total",
			Help: "Events published per stream",
		}, []string{"type"}),
		subscribers: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "agora_event_subscribers",
			Help: "Active subscribers per stream",
		}, []string{"type"}),
		dropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "agora_events_dropped_total",
			Help: "Async events dropped because the queue was full",
		}, []string{"type"}),
	}
}

// NewBus creates a bus and starts its async worker pool. A nil registry
// disables metrics.
func NewBus(promRegistry prometheus.Registerer, logger *slog.Logger) *Bus {
	b := &Bus{
		logger:      logger,
		subscribers: make(map[Type]map[SubscriberID]*subscriber),
		asyncQueue:  make(chan asyncEvent, AsyncQueueSize),
		stopCh:      make(chan struct{}),
	}
	if promRegistry != nil {
		b.metrics = newBusMetrics(promRegistry)
	}
	for range AsyncWorkerPoolSize {
		b.asyncWg.Add(1)
		go b.asyncWorker()
	}
	return b
}

func (b *Bus) asyncWorker() {
	defer b.asyncWg.Done()
	for {
		select {
		case <-b.stopCh:
			return
		case ae, ok := <-b.asyncQueue:
			if !ok {
				return
			}
			b.Publish(ae.eventType, ae.event)
		}
	}
}

// Subscribe registers a channel consumer for one event type.
func (b *Bus) Subscribe(eventType Type) (SubscriberID, <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := newSubscriber()
	b.lastSubID++
	subID := b.lastSubID

	if _, ok := b.subscribers[eventType]; !ok {
		b.subscribers[eventType] = make(map[SubscriberID]*subscriber)
	}
	b.subscribers[eventType][subID] = sub

	if b.metrics != nil {
		b.metrics.subscribers.WithLabelValues(string(eventType)).Inc()
	}
	return subID, sub.ch
}

// SubscribeFunc registers a callback consumer for one event type. The
// callback goroutine exits when the subscription is removed or the bus stops.
func (b *Bus) SubscribeFunc(eventType Type, handler HandlerFunc) SubscriberID {
	subID, ch := b.Subscribe(eventType)
	go func() {
		for evt := range ch {
			handler(evt)
		}
	}()
	return subID
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Bus) Unsubscribe(eventType Type, subID SubscriberID) {
	b.mu.Lock()
	var toClose *subscriber
	if subs, ok := b.subscribers[eventType]; ok {
		if sub, ok := subs[subID]; ok {
			toClose = sub
			delete(subs, subID)
			if len(subs) == 0 {
				delete(b.subscribers, eventType)
			}
			if b.metrics != nil {
				b.metrics.subscribers.WithLabelValues(string(eventType)).Dec()
			}
		}
	}
	b.mu.Unlock()

	if toClose != nil {
		toClose.close()
	}
}

// Publish delivers an event to every subscriber of its type, blocking on
// full subscriber channels.
func (b *Bus) Publish(eventType Type, evt Event) {
	b.mu.RLock()
	subs := make([]*subscriber, 0, len(b.subscribers[eventType]))
	for _, sub := range b.subscribers[eventType] {
		subs = append(subs, sub)
	}
	b.mu.RUnlock()

	for _, sub := range subs {
		sub.deliver(evt)
	}

	if b.metrics != nil {
		b.metrics.eventsTotal.WithLabelValues(string(eventType)).Inc()
	}
}

// PublishAsync enqueues an event for background delivery. It returns false
// when the bus is stopped or the queue is full; the event is dropped.
func (b *Bus) PublishAsync(eventType Type, evt Event) bool {
	b.stopMu.RLock()
	stopped := b.stopped
	b.stopMu.RUnlock()
	if stopped {
		return false
	}

	select {
	case b.asyncQueue <- asyncEvent{eventType: eventType, event: evt}:
		return true
	default:
		if b.logger != nil {
			b.logger.Warn("async event queue full, dropping event", "type", eventType)
		}
		if b.metrics != nil {
			b.metrics.dropped.WithLabelValues(string(eventType)).Inc()
		}
		return false
	}
}

// Stop shuts the async workers down and closes every subscriber channel so
// SubscribeFunc goroutines exit. The bus is not reusable afterwards.
func (b *Bus) Stop() {
	b.stopOnce.Do(func() {
		b.stopMu.Lock()
		b.stopped = true
		b.stopMu.Unlock()

		close(b.stopCh)
		b.asyncWg.Wait()

		b.mu.Lock()
		subs := b.subscribers
		b.subscribers = make(map[Type]map[SubscriberID]*subscriber)
		b.mu.Unlock()

		for _, typeSubs := range subs {
			for _, sub := range typeSubs {
				sub.close()
			}
		}

		if b.metrics != nil {
			b.metrics.subscribers.Reset()
		}
	})
}
