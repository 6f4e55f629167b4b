package service

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/diagscope/diagscope/internal/domain/lifecycle"
)

type delivery struct {
	event    lifecycle.Event
	listener lifecycle.Listener
}

// Notifier delivers ready events off the caller's goroutine through a
// buffered channel and one background worker. Each event goes to the
// listener passed with it and to every subscriber.
type Notifier struct {
	queue  chan delivery
	wg     sync.WaitGroup
	logger *slog.Logger

	mu          sync.Mutex
	closed      bool
	started     bool
	subscribers map[uint64]lifecycle.Listener
	nextID      uint64

	queueSize int
	dropCount atomic.Int64
	delivered atomic.Int64
}

// NotifierOption configures Notifier.
type NotifierOption func(*Notifier)

// WithQueueSize sets the size of the event buffer.
func WithQueueSize(size int) NotifierOption {
	return func(n *Notifier) {
		if size > 0 {
			n.queueSize = size
		}
	}
}

// NewNotifier creates a Notifier. Call Start before events can be delivered.
func NewNotifier(logger *slog.Logger, opts ...NotifierOption) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	n := &Notifier{
		logger:      logger,
		queueSize:   100,
		subscribers: make(map[uint64]lifecycle.Listener),
	}
	for _, opt := range opts {
		opt(n)
	}
	n.queue = make(chan delivery, n.queueSize)
	return n
}

// Start launches the delivery worker. Calling Start twice is a no-op.
// The worker exits when ctx is cancelled or Stop is called.
func (n *Notifier) Start(ctx context.Context) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.started || n.closed {
		return
	}
	n.started = true
	n.wg.Add(1)
	go n.worker(ctx)
}

// Subscribe registers a listener for every future event. The returned
// function removes it.
func (n *Notifier) Subscribe(l lifecycle.Listener) func() {
	if l == nil {
		return func() {}
	}
	n.mu.Lock()
	id := n.nextID
	n.nextID++
	n.subscribers[id] = l
	n.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			n.mu.Lock()
			delete(n.subscribers, id)
			n.mu.Unlock()
		})
	}
}

// Notify enqueues ev for l (may be nil) and all subscribers. It never
// blocks: when the queue is full, or the notifier is stopped, the event is
// dropped and counted.
func (n *Notifier) Notify(ev lifecycle.Event, l lifecycle.Listener) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		n.recordDrop(ev, "notifier stopped")
		return
	}
	select {
	case n.queue <- delivery{event: ev, listener: l}:
	default:
		n.recordDrop(ev, "queue full")
	}
}

func (n *Notifier) recordDrop(ev lifecycle.Event, reason string) {
	drops := n.dropCount.Add(1)
	n.logger.Warn("ready event dropped",
		"status", ev.Status,
		"reason", reason,
		"total_drops", drops,
	)
}

// DroppedEvents returns the number of events that were never delivered.
func (n *Notifier) DroppedEvents() int64 {
	return n.dropCount.Load()
}

// DeliveredEvents returns the number of events handed to listeners.
func (n *Notifier) DeliveredEvents() int64 {
	return n.delivered.Load()
}

// QueueDepth returns current queue usage (for health reporting).
func (n *Notifier) QueueDepth() int {
	return len(n.queue)
}

// QueueCapacity returns the queue buffer size.
func (n *Notifier) QueueCapacity() int {
	return n.queueSize
}

// Stop closes the queue, delivers whatever is still buffered and waits for
// the worker to exit. Stop is idempotent.
func (n *Notifier) Stop() {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	n.closed = true
	close(n.queue)
	started := n.started
	n.mu.Unlock()

	if started {
		n.wg.Wait()
	}
}

func (n *Notifier) worker(ctx context.Context) {
	defer n.wg.Done()

	for {
		select {
		case d, ok := <-n.queue:
			if !ok {
				return
			}
			n.deliver(d)
		case <-ctx.Done():
			// Drain what was already accepted, then exit.
			for {
				select {
				case d, ok := <-n.queue:
					if !ok {
						return
					}
					n.deliver(d)
				default:
					return
				}
			}
		}
	}
}

func (n *Notifier) deliver(d delivery) {
	n.mu.Lock()
	targets := make([]lifecycle.Listener, 0, len(n.subscribers)+1)
	if d.listener != nil {
		targets = append(targets, d.listener)
	}
	for _, l := range n.subscribers {
		targets = append(targets, l)
	}
	n.mu.Unlock()

	for _, l := range targets {
		n.call(l, d.event)
	}
	n.delivered.Add(1)
}

func (n *Notifier) call(l lifecycle.Listener, ev lifecycle.Event) {
	defer func() {
		if r := recover(); r != nil {
			n.logger.Error("ready listener panicked", "status", ev.Status, "panic", r)
		}
	}()
	l.OnReady(ev)
}
