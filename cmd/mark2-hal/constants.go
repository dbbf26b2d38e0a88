package main

import "time"

// Register bus (I2C) addresses and registers
const (
	defaultI2CBus = "1"

	defaultFanAddress  = 0x04
	defaultFanRegister = 101 // 0x65

	defaultAmpAddress        = 0x2f
	defaultAmpVolumeRegister = 0x4c

	defaultLedAddress       = 0x04
	defaultLedFirstRegister = 0x00
	defaultMaxLedsPerWrite  = 10 // larger block writes overload the controller
)

// GPIO pins (BCM numbering)
const (
	defaultFanPWMPin  = 13
	defaultLedDataPin = "GPIO12"

	buttonVolumeUp   = "volume_up"
	buttonVolumeDown = "volume_down"
	buttonAction     = "action"
	buttonMute       = "mute"
)

// buttonNames is the fixed set of buttons, in report order.
var buttonNames = []string{buttonVolumeUp, buttonVolumeDown, buttonAction, buttonMute}

// defaultButtonPins maps button names to their BCM pins (SJ201 rev4+).
var defaultButtonPins = map[string]string{
	buttonVolumeUp:   "GPIO22",
	buttonVolumeDown: "GPIO23",
	buttonAction:     "GPIO24",
	buttonMute:       "GPIO25",
}

// Peripheral ranges and defaults
const (
	minSpeed = 0
	maxSpeed = 100

	minFanHardwareValue = 0
	maxFanHardwareValue = 255

	defaultFanSpeed      = 100
	defaultFanPWMFreqHz  = 1000
	fanPWMCycleLen       = 100 // duty cycle resolution, in percent steps
	defaultFanPWMInverse = true

	minVolume = 0
	maxVolume = 100

	// The amplifier attenuates: a smaller register value is louder.
	defaultMaxHardwareVolume = 84
	defaultMinHardwareVolume = 210
	defaultVolume            = 60

	numLeds   = 12
	numColors = 3
	minColor  = 0
	maxColor  = 255

	minBrightness     = 0
	maxBrightness     = 100
	defaultBrightness = 50
)

// Timing
const (
	defaultButtonDebounce    = 100 * time.Millisecond
	defaultButtonSettle      = 50 * time.Millisecond
	defaultAnimationInterval = time.Millisecond
	defaultWatchdogInterval  = 500 * time.Millisecond
	buttonEdgePollTimeout    = time.Second
)

// LED animation names
const (
	animationAwake    = "awake"
	animationThinking = "thinking"
	animationAsleep   = "asleep"
)

// Mycroft palette
var (
	colorGreen = rgb{64, 219, 176} // 40DBB0
	colorBlue  = rgb{34, 167, 240} // 22A7F0
)

// Animation tuning
const (
	awakePulseInterval    = 50 * time.Millisecond
	awakePulsePeriod      = 2 * time.Second
	thinkingCometInterval = 100 * time.Millisecond
	thinkingCometTail     = 10
)

// Service defaults
const (
	defaultDBusName       = "ai.mycroft.mark2"
	defaultMessageBusURL  = "ws://127.0.0.1:8181/core"
	defaultIPCSocketPath  = "/run/mark2-hal.sock"
	defaultHTTPListenAddr = "127.0.0.1:8085"
	defaultConfigPath     = "/etc/mark2-hal/config.yaml"
	defaultReadTimeoutMS  = 500
)
