package main

import (
	"log/slog"
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio"
)

// ============================================================================
// Button Input Controller
// ============================================================================
// One goroutine per button waits for edges. An edge arriving within the
// debounce window of the last accepted edge is dropped. An accepted edge is
// followed by a settle delay and a re-read; only a level that differs from the
// stored state produces a ButtonStateChanged event.
//
// Buttons are pulled up: a low level means active.
// ============================================================================

// ButtonController tracks the debounced state of the four SJ201 buttons.
type ButtonController struct {
	logger   *slog.Logger
	pins     map[string]buttonPin
	debounce time.Duration
	settle   time.Duration
	onChange func(Event)

	// edgeTimeout bounds each WaitForEdge call so Stop is noticed.
	edgeTimeout time.Duration

	mu     sync.Mutex
	states map[string]bool

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewButtonController reads the initial state of every pin.
// onChange is called from the button goroutines; pass Dispatcher.Submit.
func NewButtonController(pins map[string]buttonPin, debounce, settle time.Duration, onChange func(Event), logger *slog.Logger) *ButtonController {
	b := &ButtonController{
		logger:      logger,
		pins:        pins,
		debounce:    debounce,
		settle:      settle,
		onChange:    onChange,
		edgeTimeout: buttonEdgePollTimeout,
		states:      make(map[string]bool, len(pins)),
		done:        make(chan struct{}),
	}
	for name, pin := range pins {
		b.states[name] = isActive(pin.Read())
	}
	return b
}

// Start launches the edge watchers.
func (b *ButtonController) Start() {
	for name, pin := range b.pins {
		b.wg.Add(1)
		go b.watch(name, pin)
	}
}

func (b *ButtonController) watch(name string, pin buttonPin) {
	defer b.wg.Done()

	var lastEdge time.Time
	for {
		select {
		case <-b.done:
			return
		default:
		}

		if !pin.WaitForEdge(b.edgeTimeout) {
			continue
		}

		now := time.Now()
		if !lastEdge.IsZero() && now.Sub(lastEdge) < b.debounce {
			continue
		}
		lastEdge = now

		select {
		case <-b.done:
			return
		case <-time.After(b.settle):
		}

		b.check(name, pin)
	}
}

// check re-reads pin and reports a change against the stored state.
func (b *ButtonController) check(name string, pin buttonPin) {
	active := isActive(pin.Read())

	b.mu.Lock()
	changed := b.states[name] != active
	if changed {
		b.states[name] = active
	}
	b.mu.Unlock()

	if !changed {
		b.logger.Debug("button glitch ignored", "button", name)
		return
	}

	b.logger.Debug("button state changed", "button", name, "active", active)
	if b.onChange != nil {
		b.onChange(ButtonStateChanged{Name: name, State: active})
	}
}

// States returns a copy of the debounced state of every button.
func (b *ButtonController) States() map[string]bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make(map[string]bool, len(b.states))
	for name, active := range b.states {
		out[name] = active
	}
	return out
}

// IsActive returns the debounced state of one button.
func (b *ButtonController) IsActive(name string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.states[name]
}

// Report reads every pin now, bypassing the debounce path.
// The stored states are left untouched.
func (b *ButtonController) Report() map[string]bool {
	out := make(map[string]bool, len(b.pins))
	for name, pin := range b.pins {
		out[name] = isActive(pin.Read())
	}
	return out
}

// Stop ends the watchers and waits for them. Safe to call more than once.
func (b *ButtonController) Stop() error {
	b.stopOnce.Do(func() {
		close(b.done)
		for _, pin := range b.pins {
			// periph pins unblock WaitForEdge on Halt.
			if h, ok := pin.(interface{ Halt() error }); ok {
				_ = h.Halt()
			}
		}
	})
	b.wg.Wait()
	return nil
}

func isActive(level gpio.Level) bool {
	return level == gpio.Low
}
