package event

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"github.com/srg/sensorbridge/internal/groutine"
)

type envelope struct {
	ev      Event
	alive   func() bool
	flushed chan struct{} // set on Flush markers only
}

type handlerEntry struct {
	id uint64
	fn func(Event)
}

// Dispatcher delivers events to observers from a single owner goroutine.
//
// Handlers are never invoked concurrently with each other and never
// re-entrantly: publishing from inside a handler only queues the event.
// Publishing never blocks; the queue is unbounded FIFO so transport order is
// preserved.
//
// Usage:
//
//	d := event.NewDispatcher(logger)
//	unsubscribe := event.On(d, func(ev event.DeviceFound) { ... })
//	d.Start(ctx)
//	defer d.Stop()
type Dispatcher struct {
	logger *logrus.Logger

	mu       sync.Mutex
	queue    []envelope
	handlers []handlerEntry // copy-on-write
	nextID   uint64
	started  bool
	stopped  bool
	cancel   context.CancelFunc
	done     <-chan struct{}

	wake       chan struct{}
	deliveryMu sync.Mutex // held while one envelope is being delivered
	ownerGID   atomic.Uint64

	delivered atomic.Uint64
	skipped   atomic.Uint64
}

// NewDispatcher creates a stopped dispatcher
func NewDispatcher(logger *logrus.Logger) *Dispatcher {
	if logger == nil {
		logger = logrus.New()
	}
	return &Dispatcher{
		logger: logger,
		wake:   make(chan struct{}, 1),
	}
}

// Start launches the owner goroutine. Calling Start twice is a no-op.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.started || d.stopped {
		return
	}
	d.started = true

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.done = groutine.Go(runCtx, "event-dispatcher", d.run)
}

// Stop delivers what is already queued, then terminates the owner goroutine.
// Events published afterwards are dropped.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	cancel, done := d.cancel, d.done
	d.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	if d.ownerGID.Load() != groutine.GetGID() {
		<-done
	}
}

// Publish queues ev for delivery
func (d *Dispatcher) Publish(ev Event) {
	d.PublishFrom(nil, ev)
}

// PublishFrom queues ev on behalf of a subscription. When alive reports false
// at delivery time the event is dropped, so nothing from a cancelled
// subscription reaches observers once its cancellation returned.
func (d *Dispatcher) PublishFrom(alive func() bool, ev Event) {
	if ev == nil {
		return
	}

	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		d.logger.WithField("event", ev.EventName()).Debug("Dropping event published after dispatcher stop")
		return
	}
	d.queue = append(d.queue, envelope{ev: ev, alive: alive})
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Barrier waits for the delivery in progress, if any, to finish. Called from
// inside a handler it returns immediately.
func (d *Dispatcher) Barrier() {
	if d.ownerGID.Load() == groutine.GetGID() {
		return
	}
	d.deliveryMu.Lock()
	//nolint:staticcheck // empty critical section is the point
	d.deliveryMu.Unlock()
}

// Flush waits until every event queued before the call was delivered. Called
// from inside a handler, or on a dispatcher that is not running, it returns
// immediately.
func (d *Dispatcher) Flush() {
	if d.ownerGID.Load() == groutine.GetGID() {
		return
	}

	done := make(chan struct{})
	d.mu.Lock()
	if !d.started || d.stopped {
		d.mu.Unlock()
		return
	}
	d.queue = append(d.queue, envelope{flushed: done})
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
	<-done
}

// Subscribe registers a handler for every event and returns its unregister func
func (d *Dispatcher) Subscribe(fn func(Event)) func() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.nextID++
	id := d.nextID
	handlers := make([]handlerEntry, 0, len(d.handlers)+1)
	handlers = append(handlers, d.handlers...)
	d.handlers = append(handlers, handlerEntry{id: id, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() { d.unsubscribe(id) })
	}
}

func (d *Dispatcher) unsubscribe(id uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	handlers := make([]handlerEntry, 0, len(d.handlers))
	for _, h := range d.handlers {
		if h.id != id {
			handlers = append(handlers, h)
		}
	}
	d.handlers = handlers
}

// On registers a handler for a single event type
func On[T Event](d *Dispatcher, fn func(T)) func() {
	return d.Subscribe(func(ev Event) {
		if typed, ok := ev.(T); ok {
			fn(typed)
		}
	})
}

// Stats returns the number of delivered and skipped (stale) events
func (d *Dispatcher) Stats() (delivered, skipped uint64) {
	return d.delivered.Load(), d.skipped.Load()
}

func (d *Dispatcher) run(ctx context.Context) {
	d.ownerGID.Store(groutine.GetGID())
	d.logger.Debug("Event dispatcher started")

	for {
		select {
		case <-d.wake:
			d.drain()
		case <-ctx.Done():
			d.mu.Lock()
			d.stopped = true
			d.mu.Unlock()
			d.drain()
			d.logger.Debug("Event dispatcher stopped")
			return
		}
	}
}

func (d *Dispatcher) drain() {
	for {
		d.mu.Lock()
		if len(d.queue) == 0 {
			d.queue = nil
			d.mu.Unlock()
			return
		}
		env := d.queue[0]
		d.queue[0] = envelope{}
		d.queue = d.queue[1:]
		handlers := d.handlers
		d.mu.Unlock()

		d.deliver(env, handlers)
	}
}

func (d *Dispatcher) deliver(env envelope, handlers []handlerEntry) {
	if env.flushed != nil {
		close(env.flushed)
		return
	}

	d.deliveryMu.Lock()
	defer d.deliveryMu.Unlock()

	if env.alive != nil && !env.alive() {
		d.skipped.Add(1)
		return
	}

	for _, h := range handlers {
		d.call(h.fn, env.ev)
	}
	d.delivered.Add(1)
}

func (d *Dispatcher) call(fn func(Event), ev Event) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.WithFields(logrus.Fields{
				"event": ev.EventName(),
				"panic": r,
			}).Error("Event observer panicked")
		}
	}()
	fn(ev)
}
