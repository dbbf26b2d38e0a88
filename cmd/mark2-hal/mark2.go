package main

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Mark2 is the facade over the four SJ201 peripherals. It is registered as
// the first dispatcher handler and is the only code that mutates drivers in
// response to events.
type Mark2 struct {
	logger *slog.Logger

	fan     *FanDriver
	amp     *AmpDriver
	leds    *LedController
	buttons *ButtonController

	running  atomic.Bool
	stopOnce sync.Once
	stopErr  error
}

// NewMark2 wires the drivers together. The drivers are already initialized.
func NewMark2(fan *FanDriver, amp *AmpDriver, leds *LedController, buttons *ButtonController, logger *slog.Logger) *Mark2 {
	m := &Mark2{
		logger:  logger,
		fan:     fan,
		amp:     amp,
		leds:    leds,
		buttons: buttons,
	}
	m.running.Store(true)
	return m
}

// HandleEvent applies inbound commands and answers queries.
func (m *Mark2) HandleEvent(ev Event) []Event {
	switch e := ev.(type) {
	case SetFanSpeed:
		m.fan.SetSpeed(e.Speed)
		return nil

	case SetVolume:
		m.amp.SetVolume(e.Volume)
		return []Event{Volume{Volume: m.amp.Volume()}}

	case GetVolume:
		return []Event{Volume{Volume: m.amp.Volume()}}

	case SetLedColors:
		m.leds.ClearAnimation()
		if e.Brightness != nil {
			m.leds.SetBrightness(*e.Brightness)
		}
		m.leds.SetColors(e.RGB)
		return []Event{LedColors{RGB: m.leds.Colors(), Brightness: m.leds.Brightness()}}

	case AnimateLeds:
		if e.Name == animationAsleep {
			return []Event{m.asleepColors()}
		}
		if err := m.leds.StartAnimation(e.Name); err != nil {
			m.logger.Warn("ignoring led animation", "animation", e.Name, "error", err)
		}
		return nil

	case ReportButtonStates:
		return []Event{ButtonStates{States: m.buttons.States()}}

	case Volume, LedColors, ButtonStateChanged, ButtonStates:
		// Outbound notifications; handled by the adapters.
		return nil

	default:
		m.logger.Warn("unhandled event", "type", fmt.Sprintf("%T", ev))
		return nil
	}
}

// asleepColors is black, or red while the mute switch is active.
func (m *Mark2) asleepColors() SetLedColors {
	if m.buttons.IsActive(buttonMute) {
		return SetLedColors{RGB: []int{maxColor, 0, 0}}
	}
	return SetLedColors{RGB: []int{0, 0, 0}}
}

// IsRunning reports false once Stop has been called.
func (m *Mark2) IsRunning() bool {
	return m.running.Load()
}

// Stop tears the drivers down in order: inputs first, then outputs. Only the
// first call does anything; later calls return the same error.
func (m *Mark2) Stop() error {
	m.stopOnce.Do(func() {
		m.running.Store(false)
		m.logger.Info("stopping peripherals")

		var errs []error
		if err := m.buttons.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("buttons: %w", err))
		}
		if err := m.leds.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("leds: %w", err))
		}
		if err := m.fan.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("fan: %w", err))
		}
		if err := m.amp.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("amp: %w", err))
		}
		m.stopErr = errors.Join(errs...)
	})
	return m.stopErr
}

// HALState is the last-known state of every peripheral.
type HALState struct {
	FanSpeed   int             `json:"fan_speed"`
	Volume     int             `json:"volume"`
	LedColors  []int           `json:"led_colors"`
	Brightness int             `json:"brightness"`
	Animation  string          `json:"animation,omitempty"`
	Buttons    map[string]bool `json:"buttons"`
}

// Snapshot returns the last-known state of every peripheral.
// Safe to call from any goroutine.
func (m *Mark2) Snapshot() HALState {
	return HALState{
		FanSpeed:   m.fan.Speed(),
		Volume:     m.amp.Volume(),
		LedColors:  m.leds.Colors(),
		Brightness: m.leds.Brightness(),
		Animation:  m.leds.Animation(),
		Buttons:    m.buttons.States(),
	}
}
