package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// ============================================================================
// Central Daemon Loop - The Event Dispatcher
// ============================================================================
//
// Design rules enforced here:
//   - Exactly one goroutine (Run) pops events and calls handlers, so every
//     peripheral mutation is totally ordered by submission order.
//   - Submit may be called from any goroutine (button interrupts, bus adapters)
//     and never blocks the caller.
//   - Events produced by a handler are appended to the queue tail
//     (breadth-first), never handled re-entrantly.
//   - A panicking handler is logged and skipped; the loop keeps going.
//
// ============================================================================

// Handler consumes one event and may produce follow-up events.
type Handler interface {
	HandleEvent(ev Event) []Event
}

// HandlerFunc adapts a plain function to Handler.
type HandlerFunc func(ev Event) []Event

func (f HandlerFunc) HandleEvent(ev Event) []Event { return f(ev) }

// Dispatcher owns the event queue and the ordered list of handlers.
type Dispatcher struct {
	logger *slog.Logger

	mu       sync.Mutex
	queue    []Event
	handlers []Handler

	// wake has capacity 1; a pending token means "queue may be non-empty".
	wake chan struct{}
}

// NewDispatcher creates a dispatcher with the initial handlers, in call order.
func NewDispatcher(logger *slog.Logger, handlers ...Handler) *Dispatcher {
	return &Dispatcher{
		logger:   logger,
		handlers: append([]Handler(nil), handlers...),
		wake:     make(chan struct{}, 1),
	}
}

// Register appends a handler. Handlers see events in registration order.
func (d *Dispatcher) Register(h Handler) {
	d.mu.Lock()
	d.handlers = append(d.handlers, h)
	d.mu.Unlock()
}

// Submit enqueues an event. Safe for concurrent use; never blocks.
func (d *Dispatcher) Submit(ev Event) {
	if ev == nil {
		return
	}

	d.mu.Lock()
	d.queue = append(d.queue, ev)
	d.mu.Unlock()

	d.signal()
}

func (d *Dispatcher) signal() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// pop removes the head of the queue and snapshots the handler list.
func (d *Dispatcher) pop() (Event, []Handler, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.queue) == 0 {
		return nil, nil, false
	}

	ev := d.queue[0]
	d.queue[0] = nil
	d.queue = d.queue[1:]

	return ev, d.handlers, true
}

// Pending returns the number of queued events.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}

// Run drains the queue until ctx is canceled or running reports false.
//
// Shutdown semantics:
//   - The event being handled when ctx is canceled is finished first.
//   - running is checked before every event (the facade's stop flag).
func (d *Dispatcher) Run(ctx context.Context, running func() bool) {
	for {
		if running != nil && !running() {
			d.logger.Info("dispatcher stopping (facade stopped)")
			return
		}
		if ctx.Err() != nil {
			d.logger.Info("dispatcher stopping (context canceled)")
			return
		}

		ev, handlers, ok := d.pop()
		if !ok {
			select {
			case <-ctx.Done():
				d.logger.Info("dispatcher stopping (context canceled)")
				return
			case <-d.wake:
			}
			continue
		}

		d.dispatch(ev, handlers)
	}
}

// dispatch feeds ev to every handler and enqueues the produced events in order.
func (d *Dispatcher) dispatch(ev Event, handlers []Handler) {
	d.logger.Debug("event", "type", fmt.Sprintf("%T", ev), "event", ev)

	var produced []Event
	for i, h := range handlers {
		produced = append(produced, d.invoke(i, h, ev)...)
	}

	if len(produced) == 0 {
		return
	}

	d.mu.Lock()
	for _, next := range produced {
		if next != nil {
			d.queue = append(d.queue, next)
		}
	}
	d.mu.Unlock()
}

// invoke calls one handler, converting a panic into a log line.
func (d *Dispatcher) invoke(index int, h Handler, ev Event) (out []Event) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("unexpected error while processing event",
				"handler", index,
				"event", fmt.Sprintf("%T", ev),
				"panic", r)
			out = nil
		}
	}()

	return h.HandleEvent(ev)
}
