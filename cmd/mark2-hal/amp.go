package main

import (
	"log/slog"
	"math"
	"sync/atomic"
)

// AmpDriver controls the TAS5806 amplifier volume over I2C.
// Volume is a percentage in [0, 100]. Only the dispatcher goroutine sets it.
type AmpDriver struct {
	logger *slog.Logger
	bus    registerBus
	addr   uint16
	reg    uint8

	hardwareMax int // register value at 100%
	hardwareMin int // register value at 0%

	volume atomic.Int64
}

// NewAmpDriver creates the driver and applies the initial volume.
func NewAmpDriver(cfg AmpConfig, bus registerBus, logger *slog.Logger) *AmpDriver {
	a := &AmpDriver{
		logger:      logger,
		bus:         bus,
		addr:        cfg.Address,
		reg:         cfg.VolumeRegister,
		hardwareMax: cfg.HardwareMax,
		hardwareMin: cfg.HardwareMin,
	}
	a.SetVolume(cfg.InitialVolume)
	return a
}

// SetVolume clamps volume to [0, 100] and writes the mapped register value.
// A failed write is logged; the stored volume is kept.
func (a *AmpDriver) SetVolume(volume int) {
	volume = clampInt(volume, minVolume, maxVolume)
	a.volume.Store(int64(volume))

	value := hardwareVolume(volume, a.hardwareMax, a.hardwareMin)
	if err := writeRegisters(a.bus, a.addr, a.reg, byte(value)); err != nil {
		a.logger.Error("error setting volume", "volume", volume, "register_value", value, "error", err)
		return
	}
	a.logger.Debug("volume set", "volume", volume, "register_value", value)
}

// Volume returns the last commanded volume.
func (a *AmpDriver) Volume() int {
	return int(a.volume.Load())
}

// Stop is a no-op: the amplifier keeps its last register value.
func (a *AmpDriver) Stop() error {
	return nil
}

// hardwareVolume maps volume in [0, 100] onto the attenuator register
// logarithmically, from low (at 0) to high (at 100). high is numerically
// smaller than low. The result is clamped into [high, low].
func hardwareVolume(volume, high, low int) int {
	lnHigh := math.Log(float64(high))
	lnLow := math.Log(float64(low))

	y := math.Exp(float64(volume)/float64(maxVolume-minVolume)*(lnHigh-lnLow) + lnLow)
	value := int(math.RoundToEven(y))

	lo, hi := high, low
	if lo > hi {
		lo, hi = hi, lo
	}
	return clampInt(value, lo, hi)
}
