package main

import (
	"errors"
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio"
)

// busWrite is one recorded register write.
type busWrite struct {
	addr uint16
	data []byte // register followed by values
}

// fakeBus records writes. Reads succeed unless the address is listed in
// absent, which makes probeDevice report the device missing.
type fakeBus struct {
	mu       sync.Mutex
	writes   []busWrite
	absent   map[uint16]bool
	writeErr error
}

func newFakeBus(absent ...uint16) *fakeBus {
	b := &fakeBus{absent: make(map[uint16]bool)}
	for _, a := range absent {
		b.absent[a] = true
	}
	return b
}

func (b *fakeBus) Tx(addr uint16, w, r []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.absent[addr] {
		return errors.New("no ack")
	}
	if len(w) > 0 {
		if b.writeErr != nil {
			return b.writeErr
		}
		b.writes = append(b.writes, busWrite{addr: addr, data: append([]byte(nil), w...)})
	}
	return nil
}

func (b *fakeBus) Writes() []busWrite {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]busWrite(nil), b.writes...)
}

func (b *fakeBus) Reset() {
	b.mu.Lock()
	b.writes = nil
	b.mu.Unlock()
}

// fakePin is a button input. Tests set the level and push edges.
type fakePin struct {
	mu     sync.Mutex
	level  gpio.Level
	edges  chan struct{}
	halted bool
}

func newFakePin(level gpio.Level) *fakePin {
	return &fakePin{level: level, edges: make(chan struct{}, 16)}
}

func (p *fakePin) Read() gpio.Level {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.level
}

func (p *fakePin) Set(level gpio.Level) {
	p.mu.Lock()
	p.level = level
	p.mu.Unlock()
}

func (p *fakePin) Edge() { p.edges <- struct{}{} }

func (p *fakePin) WaitForEdge(timeout time.Duration) bool {
	select {
	case <-p.edges:
		return true
	case <-time.After(timeout):
		return false
	}
}

func (p *fakePin) Halt() error {
	p.mu.Lock()
	p.halted = true
	p.mu.Unlock()
	return nil
}

// fakePWM records duty cycles.
type fakePWM struct {
	mu     sync.Mutex
	duties []float64
	closed bool
}

func (p *fakePWM) SetDutyPercent(d float64) error {
	p.mu.Lock()
	p.duties = append(p.duties, d)
	p.mu.Unlock()
	return nil
}

func (p *fakePWM) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}

func (p *fakePWM) Last() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.duties) == 0 {
		return -1
	}
	return p.duties[len(p.duties)-1]
}

// fakeStrip records frames written to a directly signaled strip.
type fakeStrip struct {
	mu     sync.Mutex
	frames [][]byte
	halted bool
}

func (s *fakeStrip) Write(p []byte) (int, error) {
	s.mu.Lock()
	s.frames = append(s.frames, append([]byte(nil), p...))
	s.mu.Unlock()
	return len(p), nil
}

func (s *fakeStrip) Halt() error {
	s.mu.Lock()
	s.halted = true
	s.mu.Unlock()
	return nil
}

func (s *fakeStrip) Frames() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.frames...)
}

func noPWM() (pwmOutput, error) {
	return nil, errors.New("pwm not expected")
}

func noStrip() (pixelWriter, error) {
	return nil, errors.New("strip not expected")
}

// testFanConfig and friends return defaults suitable for the fakes.
func testFanConfig() FanConfig { return DefaultConfig().Fan }

func testAmpConfig() AmpConfig { return DefaultConfig().Amp }

func testLedsConfig() LedsConfig { return DefaultConfig().Leds }

// newTestPins returns released pins for every button.
func newTestPins() (map[string]buttonPin, map[string]*fakePin) {
	pins := make(map[string]buttonPin, len(buttonNames))
	fakes := make(map[string]*fakePin, len(buttonNames))
	for _, name := range buttonNames {
		p := newFakePin(gpio.High)
		pins[name] = p
		fakes[name] = p
	}
	return pins, fakes
}

var errTest = errors.New("test error")
