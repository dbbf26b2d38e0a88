package main

import (
	"log/slog"
	"math"
	"time"

	"github.com/pkg/errors"
	"github.com/stianeikeland/go-rpio/v4"
	"golang.org/x/sys/unix"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/gpio/gpiostream"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/devices/v3/nrzled"
	"periph.io/x/host/v3"
)

// ============================================================================
// Hardware access
// ============================================================================
// The drivers only see the small interfaces below. The periph.io and go-rpio
// backed implementations are opened once at startup by main().
// ============================================================================

// registerBus is the part of an I2C bus the drivers need.
// periph's i2c.Bus satisfies it.
type registerBus interface {
	Tx(addr uint16, w, r []byte) error
}

// buttonPin is an input with edge detection.
// periph's gpio.PinIn satisfies it.
type buttonPin interface {
	Read() gpio.Level
	WaitForEdge(timeout time.Duration) bool
}

// pwmOutput drives a duty-cycle timer. Duty is expressed in percent (0..100).
type pwmOutput interface {
	SetDutyPercent(p float64) error
	Close() error
}

// pixelWriter pushes one raw RGB frame to a directly signaled LED strip.
type pixelWriter interface {
	Write(p []byte) (int, error)
	Halt() error
}

// initHost loads the periph.io host drivers.
func initHost() error {
	if _, err := host.Init(); err != nil {
		return errors.Wrap(err, "periph host init")
	}
	return nil
}

// openRegisterBus opens the I2C bus by name ("1" for /dev/i2c-1).
func openRegisterBus(name string) (i2c.BusCloser, error) {
	bus, err := i2creg.Open(name)
	if err != nil {
		return nil, errors.Wrapf(err, "open i2c bus %q", name)
	}
	return bus, nil
}

// probeDevice reports whether a device acknowledges a one byte read at addr.
// Any error means "not present".
func probeDevice(bus registerBus, addr uint16) bool {
	if bus == nil {
		return false
	}
	return bus.Tx(addr, nil, make([]byte, 1)) == nil
}

// writeRegisters performs an I2C block write of values starting at reg.
func writeRegisters(bus registerBus, addr uint16, reg byte, values ...byte) error {
	w := make([]byte, 0, len(values)+1)
	w = append(w, reg)
	w = append(w, values...)
	return errors.Wrapf(bus.Tx(addr, w, nil), "i2c write addr=0x%02x reg=0x%02x", addr, reg)
}

// openButtonPins configures each named pin as a pulled-up input with edge detection on both edges.
func openButtonPins(pins map[string]string) (map[string]buttonPin, error) {
	out := make(map[string]buttonPin, len(pins))
	for name, pinName := range pins {
		p := gpioreg.ByName(pinName)
		if p == nil {
			return nil, errors.Errorf("button %s: gpio %s not found", name, pinName)
		}
		if err := p.In(gpio.PullUp, gpio.BothEdges); err != nil {
			return nil, errors.Wrapf(err, "button %s: configure %s", name, pinName)
		}
		out[name] = p
	}
	return out, nil
}

// openLedStrip opens a WS2812 style strip streamed out of a DMA capable pin.
func openLedStrip(pinName string, logger *slog.Logger) (pixelWriter, error) {
	if unix.Geteuid() != 0 {
		logger.Warn("direct LED signaling needs root; strip writes will likely fail", "uid", unix.Geteuid())
	}

	p := gpioreg.ByName(pinName)
	if p == nil {
		return nil, errors.Errorf("led data pin %s not found", pinName)
	}
	stream, ok := p.(gpiostream.PinOut)
	if !ok {
		return nil, errors.Errorf("led data pin %s does not support streaming", pinName)
	}

	dev, err := nrzled.NewStream(stream, &nrzled.Opts{
		NumPixels: numLeds,
		Channels:  numColors,
		Freq:      800 * physic.KiloHertz,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "open led strip on %s", pinName)
	}
	return dev, nil
}

// ----------------------------------------------------------------------------
// go-rpio hardware PWM
// ----------------------------------------------------------------------------

// rpioPWM drives one of the BCM2835 hardware PWM channels.
type rpioPWM struct {
	pin rpio.Pin
}

// openRPIOPWM maps GPIO memory and starts PWM on pin at freqHz with 0% duty.
func openRPIOPWM(pin int, freqHz int) (*rpioPWM, error) {
	if err := rpio.Open(); err != nil {
		return nil, errors.Wrap(err, "open rpio")
	}

	p := rpio.Pin(pin)
	p.Mode(rpio.Pwm)
	// The PWM clock ticks fanPWMCycleLen times per period.
	p.Freq(freqHz * fanPWMCycleLen)
	p.DutyCycle(0, fanPWMCycleLen)

	return &rpioPWM{pin: p}, nil
}

func (p *rpioPWM) SetDutyPercent(duty float64) error {
	if duty < 0 || duty > 100 || math.IsNaN(duty) {
		return errors.Errorf("duty cycle %.1f out of range", duty)
	}
	p.pin.DutyCycle(uint32(math.Round(duty)), fanPWMCycleLen)
	return nil
}

func (p *rpioPWM) Close() error {
	p.pin.DutyCycle(0, fanPWMCycleLen)
	p.pin.Output()
	p.pin.Low()
	return errors.Wrap(rpio.Close(), "close rpio")
}
