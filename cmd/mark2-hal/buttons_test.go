package main

import (
	"testing"
	"time"

	"periph.io/x/conn/v3/gpio"
)

const (
	testDebounce = 100 * time.Millisecond
	testSettle   = 20 * time.Millisecond
)

func newTestButtons(t *testing.T) (*ButtonController, map[string]*fakePin, chan Event) {
	t.Helper()
	pins, fakes := newTestPins()
	events := make(chan Event, 16)

	b := NewButtonController(pins, testDebounce, testSettle, func(ev Event) { events <- ev }, testLogger())
	b.edgeTimeout = 10 * time.Millisecond
	b.Start()
	t.Cleanup(func() { _ = b.Stop() })

	return b, fakes, events
}

func expectButtonEvent(t *testing.T, events <-chan Event, want ButtonStateChanged) {
	t.Helper()
	select {
	case ev := <-events:
		got, ok := ev.(ButtonStateChanged)
		if !ok || got != want {
			t.Fatalf("got %#v, want %#v", ev, want)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for %#v", want)
	}
}

func expectNoButtonEvent(t *testing.T, events <-chan Event, wait time.Duration) {
	t.Helper()
	select {
	case ev := <-events:
		t.Fatalf("unexpected event %#v", ev)
	case <-time.After(wait):
	}
}

func TestButtonController_InitialStates(t *testing.T) {
	pins, fakes := newTestPins()
	fakes[buttonMute].Set(gpio.Low)

	b := NewButtonController(pins, testDebounce, testSettle, nil, testLogger())

	states := b.States()
	if len(states) != len(buttonNames) {
		t.Fatalf("expected %d states, got %d", len(buttonNames), len(states))
	}
	if !states[buttonMute] || !b.IsActive(buttonMute) {
		t.Error("mute pin is low, expected active")
	}
	if states[buttonAction] {
		t.Error("action pin is high, expected inactive")
	}
}

func TestButtonController_BouncesProduceOneEvent(t *testing.T) {
	_, fakes, events := newTestButtons(t)
	pin := fakes[buttonVolumeUp]

	pin.Set(gpio.Low)
	pin.Edge()
	pin.Edge()
	pin.Edge()

	expectButtonEvent(t, events, ButtonStateChanged{Name: buttonVolumeUp, State: true})
	expectNoButtonEvent(t, events, 2*testDebounce)

	// Release after the debounce window.
	pin.Set(gpio.High)
	pin.Edge()
	expectButtonEvent(t, events, ButtonStateChanged{Name: buttonVolumeUp, State: false})
}

func TestButtonController_GlitchIgnored(t *testing.T) {
	b, fakes, events := newTestButtons(t)
	pin := fakes[buttonAction]

	// The level is back to released before the settle delay ends.
	pin.Set(gpio.Low)
	pin.Edge()
	pin.Set(gpio.High)

	expectNoButtonEvent(t, events, testDebounce)
	if b.IsActive(buttonAction) {
		t.Error("glitch should not change stored state")
	}
}

func TestButtonController_ReportReadsPinsWithoutUpdatingState(t *testing.T) {
	b, fakes, events := newTestButtons(t)

	// No edge: only a direct read sees the change.
	fakes[buttonVolumeDown].Set(gpio.Low)

	report := b.Report()
	if !report[buttonVolumeDown] {
		t.Error("Report should read the pin directly")
	}
	if b.States()[buttonVolumeDown] {
		t.Error("Report must not update stored state")
	}
	expectNoButtonEvent(t, events, 3*testSettle)
}

func TestButtonController_StopHaltsPins(t *testing.T) {
	pins, fakes := newTestPins()
	b := NewButtonController(pins, testDebounce, testSettle, nil, testLogger())
	b.edgeTimeout = 10 * time.Millisecond
	b.Start()

	done := make(chan struct{})
	go func() {
		_ = b.Stop()
		_ = b.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return")
	}

	for name, p := range fakes {
		p.mu.Lock()
		halted := p.halted
		p.mu.Unlock()
		if !halted {
			t.Errorf("pin %s not halted", name)
		}
	}
}
