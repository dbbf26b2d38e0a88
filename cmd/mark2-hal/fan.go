package main

import (
	"log/slog"
	"sync/atomic"

	"github.com/pkg/errors"
)

// fanBackend is one of the two ways to drive the fan, chosen once at construction.
type fanBackend interface {
	write(speed int) error
	close() error
	String() string
}

// FanDriver controls the SJ201 fan. Speed is a percentage in [0, 100].
//
// Only the dispatcher goroutine calls SetSpeed. Speed is safe from any goroutine.
type FanDriver struct {
	logger  *slog.Logger
	backend fanBackend
	speed   atomic.Int64
}

// NewFanDriver probes bus for the fan controller. If it answers, the fan is
// driven over I2C; otherwise openPWM is called to get the duty-cycle timer.
// The initial speed is applied before returning.
func NewFanDriver(cfg FanConfig, bus registerBus, openPWM func() (pwmOutput, error), logger *slog.Logger) (*FanDriver, error) {
	f := &FanDriver{logger: logger}

	if probeDevice(bus, cfg.Address) {
		logger.Info("i2c fan detected", "address", cfg.Address)
		f.backend = &i2cFan{bus: bus, addr: cfg.Address, reg: cfg.Register}
	} else {
		logger.Info("gpio fan detected", "pin", cfg.PWMPin)
		pwm, err := openPWM()
		if err != nil {
			return nil, errors.Wrap(err, "open fan pwm")
		}
		if err := pwm.SetDutyPercent(0); err != nil {
			logger.Warn("fan pwm reset failed", "error", err)
		}
		f.backend = &pwmFan{pwm: pwm, inverted: cfg.PWMInverted}
	}

	f.SetSpeed(cfg.InitialSpeed)
	return f, nil
}

// SetSpeed clamps speed to [0, 100], stores it and writes it to the hardware.
// A failed write is logged and the stored speed is kept.
func (f *FanDriver) SetSpeed(speed int) {
	speed = clampInt(speed, minSpeed, maxSpeed)
	f.speed.Store(int64(speed))

	if err := f.backend.write(speed); err != nil {
		f.logger.Error("error setting fan speed", "speed", speed, "backend", f.backend.String(), "error", err)
		return
	}
	f.logger.Debug("fan speed set", "speed", speed)
}

// Speed returns the last commanded speed.
func (f *FanDriver) Speed() int {
	return int(f.speed.Load())
}

// Stop releases the duty-cycle timer when one is in use.
func (f *FanDriver) Stop() error {
	return f.backend.close()
}

// i2cFan writes a linearly scaled byte to the fan controller register.
type i2cFan struct {
	bus  registerBus
	addr uint16
	reg  uint8
}

func (b *i2cFan) write(speed int) error {
	value := fanHardwareValue(speed)
	return writeRegisters(b.bus, b.addr, b.reg, byte(value))
}

func (b *i2cFan) close() error { return nil }

func (b *i2cFan) String() string { return "i2c" }

// fanHardwareValue maps [0, 100] onto [0, 255].
func fanHardwareValue(speed int) int {
	v := (maxFanHardwareValue - minFanHardwareValue) * speed / (maxSpeed - minSpeed)
	return clampInt(v+minFanHardwareValue, minFanHardwareValue, maxFanHardwareValue)
}

// pwmFan drives the fan from a hardware PWM channel.
type pwmFan struct {
	pwm      pwmOutput
	inverted bool
}

func (b *pwmFan) write(speed int) error {
	return b.pwm.SetDutyPercent(float64(fanDutyCycle(speed, b.inverted)))
}

func (b *pwmFan) close() error {
	return b.pwm.Close()
}

func (b *pwmFan) String() string { return "pwm" }

// fanDutyCycle converts a speed into a duty percentage. The SJ201 fan input
// is active low, so the inverted form is the default: 100% speed is 0% duty.
func fanDutyCycle(speed int, inverted bool) int {
	if !inverted {
		return speed
	}
	return maxSpeed - (speed % (maxSpeed + 1))
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
