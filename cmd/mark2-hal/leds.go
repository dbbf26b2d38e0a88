package main

import (
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
)

// ============================================================================
// LED Controller
// ============================================================================
// The logical buffer always holds numLeds*numColors values in [0, 255].
// Brightness is applied only when a frame is written to hardware.
//
// Two goroutines touch the controller: the dispatcher (explicit colors,
// brightness, animation changes) and the animation scheduler. The active
// animation is an atomic pointer; the buffer and hardware writes are guarded
// by mu. A scheduler step re-checks the pointer under mu before flushing, so a
// frame from a replaced animation never lands after an explicit color command.
// ============================================================================

// ledBackend writes a brightness-scaled frame to hardware.
type ledBackend interface {
	write(frame []byte) error
	close() error
	String() string
}

// LedController drives the 12 LED ring.
type LedController struct {
	logger   *slog.Logger
	backend  ledBackend
	interval time.Duration

	mu         sync.Mutex
	colors     []int
	brightness int
	lastFrame  []int // last frame flushed by the active animation

	animation atomic.Pointer[runningAnimation]

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// runningAnimation is the value held in the active animation slot.
// Pointer identity distinguishes two runs of the same animation.
type runningAnimation struct {
	name string
	anim animation
}

// NewLedController probes bus for the LED controller. If it is absent, the
// ring is driven directly through openStrip and the black buffer is written
// immediately.
func NewLedController(cfg LedsConfig, bus registerBus, openStrip func() (pixelWriter, error), logger *slog.Logger) (*LedController, error) {
	l := &LedController{
		logger:     logger,
		interval:   time.Duration(cfg.AnimationMS) * time.Millisecond,
		colors:     make([]int, numLeds*numColors),
		brightness: clampInt(cfg.InitialBrightness, minBrightness, maxBrightness),
		done:       make(chan struct{}),
	}
	if l.interval <= 0 {
		l.interval = defaultAnimationInterval
	}

	if probeDevice(bus, cfg.Address) {
		logger.Info("i2c leds detected", "address", cfg.Address)
		l.backend = &i2cLeds{
			bus:         bus,
			addr:        cfg.Address,
			firstReg:    cfg.FirstRegister,
			maxPerWrite: cfg.MaxLedsPerWrite,
		}
		return l, nil
	}

	logger.Info("gpio leds detected", "pin", cfg.StripPin)
	strip, err := openStrip()
	if err != nil {
		return nil, errors.Wrap(err, "open led strip")
	}
	l.backend = &stripLeds{dev: strip}

	l.mu.Lock()
	l.writeLocked()
	l.mu.Unlock()

	return l, nil
}

// Start launches the animation scheduler.
func (l *LedController) Start() {
	l.wg.Add(1)
	go l.run()
}

func (l *LedController) run() {
	defer l.wg.Done()

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-l.done:
			return
		case now := <-ticker.C:
			l.step(now)
		}
	}
}

// step advances the active animation once and flushes its frame when it changed.
func (l *LedController) step(now time.Time) {
	cur := l.animation.Load()
	if cur == nil {
		return
	}

	frame := cur.anim.step(now)
	if frame == nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.animation.Load() != cur {
		return
	}
	if slices.Equal(frame, l.lastFrame) {
		return
	}
	l.lastFrame = slices.Clone(frame)
	l.setColorsLocked(frame)
}

// StartAnimation replaces the active animation.
func (l *LedController) StartAnimation(name string) error {
	anim, err := newAnimation(name, time.Now())
	if err != nil {
		return err
	}

	l.mu.Lock()
	l.lastFrame = nil
	l.mu.Unlock()

	l.animation.Store(&runningAnimation{name: name, anim: anim})
	l.logger.Debug("led animation started", "animation", name)
	return nil
}

// ClearAnimation stops any active animation. The buffer keeps its last frame.
func (l *LedController) ClearAnimation() {
	if prev := l.animation.Swap(nil); prev != nil {
		l.logger.Debug("led animation cleared", "animation", prev.name)
	}
}

// Animation returns the name of the active animation, or "".
func (l *LedController) Animation() string {
	if cur := l.animation.Load(); cur != nil {
		return cur.name
	}
	return ""
}

// SetBrightness clamps brightness to [0, 100] and rewrites the frame if it changed.
func (l *LedController) SetBrightness(brightness int) {
	brightness = clampInt(brightness, minBrightness, maxBrightness)

	l.mu.Lock()
	defer l.mu.Unlock()

	if brightness == l.brightness {
		return
	}
	l.brightness = brightness
	l.writeLocked()
}

// SetColors normalizes seq to a full buffer and writes it if it changed.
func (l *LedController) SetColors(seq []int) {
	colors := normalizeColors(seq)

	l.mu.Lock()
	defer l.mu.Unlock()

	l.setColorsLocked(colors)
}

func (l *LedController) setColorsLocked(colors []int) {
	if slices.Equal(colors, l.colors) {
		return
	}
	copy(l.colors, colors)
	l.writeLocked()
}

// Colors returns a copy of the logical buffer.
func (l *LedController) Colors() []int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.colors)
}

// Brightness returns the current brightness.
func (l *LedController) Brightness() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.brightness
}

// Stop ends the scheduler, blanks the ring and releases the strip.
func (l *LedController) Stop() error {
	var err error
	l.stopOnce.Do(func() {
		close(l.done)
		l.wg.Wait()
		l.animation.Store(nil)

		l.mu.Lock()
		clear(l.colors)
		l.writeLocked()
		l.mu.Unlock()

		err = l.backend.close()
	})
	return err
}

// writeLocked pushes the scaled buffer to hardware. Errors are logged only.
func (l *LedController) writeLocked() {
	frame := scaleFrame(l.colors, l.brightness)
	if err := l.backend.write(frame); err != nil {
		l.logger.Error("error writing leds", "backend", l.backend.String(), "error", err)
	}
}

// normalizeColors clamps seq, pads it to whole triplets and repeats it
// cyclically to exactly numLeds*numColors values. An empty seq is black.
func normalizeColors(seq []int) []int {
	vals := make([]int, 0, len(seq)+numColors)
	for _, v := range seq {
		vals = append(vals, clampInt(v, minColor, maxColor))
	}
	if len(vals) == 0 {
		vals = append(vals, 0)
	}
	for len(vals)%numColors != 0 {
		vals = append(vals, 0)
	}

	out := make([]int, numLeds*numColors)
	for i := range out {
		out[i] = vals[i%len(vals)]
	}
	return out
}

// scaleFrame applies brightness (percent) to every value.
// Both hardware paths use this, so scaling is identical on each.
func scaleFrame(colors []int, brightness int) []byte {
	out := make([]byte, len(colors))
	for i, v := range colors {
		out[i] = byte(v * brightness / maxBrightness)
	}
	return out
}

// ----------------------------------------------------------------------------
// Backends
// ----------------------------------------------------------------------------

// i2cLeds writes the frame to the SJ201 LED controller in chunks of at most
// maxPerWrite LEDs. Each chunk starts at firstReg plus its first LED index.
type i2cLeds struct {
	bus         registerBus
	addr        uint16
	firstReg    uint8
	maxPerWrite int
}

func (b *i2cLeds) write(frame []byte) error {
	leds := len(frame) / numColors
	for start := 0; start < leds; start += b.maxPerWrite {
		end := min(start+b.maxPerWrite, leds)
		reg := b.firstReg + uint8(start)
		if err := writeRegisters(b.bus, b.addr, reg, frame[start*numColors:end*numColors]...); err != nil {
			return err
		}
	}
	return nil
}

func (b *i2cLeds) close() error { return nil }

func (b *i2cLeds) String() string { return "i2c" }

// stripLeds writes the frame to a directly signaled strip in one update.
type stripLeds struct {
	dev pixelWriter
}

func (b *stripLeds) write(frame []byte) error {
	n, err := b.dev.Write(frame)
	if err != nil {
		return errors.Wrap(err, "write led strip")
	}
	if n != len(frame) {
		return errors.Errorf("short led strip write: %d of %d bytes", n, len(frame))
	}
	return nil
}

func (b *stripLeds) close() error {
	return errors.Wrap(b.dev.Halt(), "halt led strip")
}

func (b *stripLeds) String() string { return "strip" }
