package main

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level YAML configuration for the mark2-hal daemon.
//
// Keep defaults and validation centralized so the rest of the code can assume
// a well-formed config. Hardware addresses default to the SJ201 board layout.
type Config struct {
	I2C        I2CConfig        `yaml:"i2c"`
	Fan        FanConfig        `yaml:"fan"`
	Amp        AmpConfig        `yaml:"amp"`
	Leds       LedsConfig       `yaml:"leds"`
	Buttons    ButtonsConfig    `yaml:"buttons"`
	DBus       DBusConfig       `yaml:"dbus"`
	MessageBus MessageBusConfig `yaml:"messagebus"`
	IPC        IPCConfig        `yaml:"ipc"`
	HTTP       HTTPConfig       `yaml:"http"`
	Influx     InfluxConfig     `yaml:"influx"`
	Watchdog   WatchdogConfig   `yaml:"watchdog"`
	Logging    LoggingConfig    `yaml:"logging"`
}

type I2CConfig struct {
	Bus string `yaml:"bus"`
}

type FanConfig struct {
	Address      uint16 `yaml:"address"`
	Register     uint8  `yaml:"register"`
	PWMPin       int    `yaml:"pwm_pin"`
	PWMFreqHz    int    `yaml:"pwm_freq_hz"`
	PWMInverted  bool   `yaml:"pwm_inverted"`
	InitialSpeed int    `yaml:"initial_speed"`
}

type AmpConfig struct {
	Address        uint16 `yaml:"address"`
	VolumeRegister uint8  `yaml:"volume_register"`
	InitialVolume  int    `yaml:"initial_volume"`

	// Register values at 100% and 0% volume. The amplifier attenuates,
	// so HardwareMax is numerically smaller than HardwareMin.
	HardwareMax int `yaml:"hardware_max"`
	HardwareMin int `yaml:"hardware_min"`
}

type LedsConfig struct {
	Address           uint16 `yaml:"address"`
	FirstRegister     uint8  `yaml:"first_register"`
	MaxLedsPerWrite   int    `yaml:"max_leds_per_write"`
	StripPin          string `yaml:"strip_pin"`
	InitialBrightness int    `yaml:"initial_brightness"`
	AnimationMS       int    `yaml:"animation_interval_ms"`
}

type ButtonsConfig struct {
	Pins       map[string]string `yaml:"pins"`
	DebounceMS int               `yaml:"debounce_ms"`
	SettleMS   int               `yaml:"settle_ms"`
}

type DBusConfig struct {
	Enabled bool   `yaml:"enabled"`
	Name    string `yaml:"name"`
}

type MessageBusConfig struct {
	Enabled   bool   `yaml:"enabled"`
	URL       string `yaml:"url"`
	TimeoutMS int    `yaml:"timeout_ms"`
}

type IPCConfig struct {
	SocketPath string `yaml:"socket_path"`
}

type HTTPConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

type InfluxConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Token   string `yaml:"token"`
	Org     string `yaml:"org"`
	Bucket  string `yaml:"bucket"`
}

type WatchdogConfig struct {
	IntervalMS int `yaml:"interval_ms"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// DefaultConfig returns a fully-populated Config with defaults.
// Keep this aligned with constants.go.
func DefaultConfig() Config {
	pins := make(map[string]string, len(defaultButtonPins))
	for name, pin := range defaultButtonPins {
		pins[name] = pin
	}

	return Config{
		I2C: I2CConfig{
			Bus: defaultI2CBus,
		},
		Fan: FanConfig{
			Address:      defaultFanAddress,
			Register:     defaultFanRegister,
			PWMPin:       defaultFanPWMPin,
			PWMFreqHz:    defaultFanPWMFreqHz,
			PWMInverted:  defaultFanPWMInverse,
			InitialSpeed: defaultFanSpeed,
		},
		Amp: AmpConfig{
			Address:        defaultAmpAddress,
			VolumeRegister: defaultAmpVolumeRegister,
			InitialVolume:  defaultVolume,
			HardwareMax:    defaultMaxHardwareVolume,
			HardwareMin:    defaultMinHardwareVolume,
		},
		Leds: LedsConfig{
			Address:           defaultLedAddress,
			FirstRegister:     defaultLedFirstRegister,
			MaxLedsPerWrite:   defaultMaxLedsPerWrite,
			StripPin:          defaultLedDataPin,
			InitialBrightness: defaultBrightness,
			AnimationMS:       int(defaultAnimationInterval / time.Millisecond),
		},
		Buttons: ButtonsConfig{
			Pins:       pins,
			DebounceMS: int(defaultButtonDebounce / time.Millisecond),
			SettleMS:   int(defaultButtonSettle / time.Millisecond),
		},
		DBus: DBusConfig{
			Enabled: true,
			Name:    defaultDBusName,
		},
		MessageBus: MessageBusConfig{
			Enabled:   false,
			URL:       defaultMessageBusURL,
			TimeoutMS: defaultReadTimeoutMS,
		},
		IPC: IPCConfig{
			SocketPath: defaultIPCSocketPath,
		},
		HTTP: HTTPConfig{
			Enabled: true,
			Listen:  defaultHTTPListenAddr,
		},
		Influx: InfluxConfig{
			Enabled: false,
		},
		Watchdog: WatchdogConfig{
			IntervalMS: int(defaultWatchdogInterval / time.Millisecond),
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadConfigFile reads and parses a YAML config file on top of DefaultConfig.
//
// Unknown fields are rejected (helps catch typos) via KnownFields(true).
func LoadConfigFile(path string) (Config, error) {
	if path == "" {
		return Config{}, errors.New("config path is empty")
	}
	b, err := os.ReadFile(ExpandPath(path))
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	cfg := DefaultConfig()

	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)

	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config yaml: %w", err)
	}

	// Only whitespace/comments are allowed after the document.
	if err := dec.Decode(&struct{}{}); err == nil {
		return Config{}, fmt.Errorf("decode config yaml: unexpected trailing document")
	}

	return cfg, nil
}

// LoadConfig loads path if it exists. A missing file at the default path is
// not an error: the daemon runs on defaults.
func LoadConfig(path string) (Config, error) {
	if path == "" {
		return DefaultConfig(), nil
	}
	if _, err := os.Stat(ExpandPath(path)); err != nil {
		if errors.Is(err, os.ErrNotExist) && path == defaultConfigPath {
			return DefaultConfig(), nil
		}
		return Config{}, fmt.Errorf("stat config file: %w", err)
	}
	return LoadConfigFile(path)
}

// FlagOverrides carries flag values to apply on top of a loaded config.
// Each override is only applied if its pointer is non-nil.
type FlagOverrides struct {
	MessageBusEnabled *bool
	IPCSocketPath     *string
	HTTPListen        *string
	LogLevel          *string
}

// Apply merges the overrides into cfg. If the pointer is non-nil, the value
// is applied (even if it is a “zero value”).
func (o FlagOverrides) Apply(cfg *Config) {
	if cfg == nil {
		return
	}
	if o.MessageBusEnabled != nil {
		cfg.MessageBus.Enabled = *o.MessageBusEnabled
	}
	if o.IPCSocketPath != nil {
		cfg.IPC.SocketPath = *o.IPCSocketPath
	}
	if o.HTTPListen != nil {
		cfg.HTTP.Listen = *o.HTTPListen
		cfg.HTTP.Enabled = *o.HTTPListen != ""
	}
	if o.LogLevel != nil {
		cfg.Logging.Level = *o.LogLevel
	}
}

// Validate checks config invariants and returns a user-friendly error.
// This is intended to be called after defaults + file + overrides are applied.
func (c *Config) Validate() error {
	if c.I2C.Bus == "" {
		return errors.New("i2c.bus must not be empty")
	}

	// Fan
	if c.Fan.PWMFreqHz <= 0 {
		return errors.New("fan.pwm_freq_hz must be > 0")
	}
	if c.Fan.InitialSpeed < minSpeed || c.Fan.InitialSpeed > maxSpeed {
		return fmt.Errorf("fan.initial_speed must be between %d and %d", minSpeed, maxSpeed)
	}

	// Amp
	if c.Amp.InitialVolume < minVolume || c.Amp.InitialVolume > maxVolume {
		return fmt.Errorf("amp.initial_volume must be between %d and %d", minVolume, maxVolume)
	}
	if c.Amp.HardwareMax <= 0 || c.Amp.HardwareMin <= 0 {
		return errors.New("amp.hardware_max and amp.hardware_min must be > 0")
	}
	if c.Amp.HardwareMax > 255 || c.Amp.HardwareMin > 255 {
		return errors.New("amp.hardware_max and amp.hardware_min must fit in a byte")
	}

	// LEDs
	if c.Leds.MaxLedsPerWrite <= 0 {
		return errors.New("leds.max_leds_per_write must be > 0")
	}
	if c.Leds.InitialBrightness < minBrightness || c.Leds.InitialBrightness > maxBrightness {
		return fmt.Errorf("leds.initial_brightness must be between %d and %d", minBrightness, maxBrightness)
	}
	if c.Leds.AnimationMS <= 0 {
		return errors.New("leds.animation_interval_ms must be > 0")
	}

	// Buttons
	for _, name := range buttonNames {
		if c.Buttons.Pins[name] == "" {
			return fmt.Errorf("buttons.pins.%s must not be empty", name)
		}
	}
	for name := range c.Buttons.Pins {
		if !isButtonName(name) {
			return fmt.Errorf("buttons.pins: unknown button %q", name)
		}
	}
	if c.Buttons.DebounceMS < 0 || c.Buttons.SettleMS < 0 {
		return errors.New("buttons.debounce_ms and buttons.settle_ms must be >= 0")
	}

	// Adapters
	if c.DBus.Enabled && c.DBus.Name == "" {
		return errors.New("dbus.enabled is true but dbus.name is empty")
	}
	if c.MessageBus.Enabled {
		if c.MessageBus.URL == "" {
			return errors.New("messagebus.enabled is true but messagebus.url is empty")
		}
		if c.MessageBus.TimeoutMS <= 0 {
			return errors.New("messagebus.timeout_ms must be > 0")
		}
	}
	if c.HTTP.Enabled && c.HTTP.Listen == "" {
		return errors.New("http.enabled is true but http.listen is empty")
	}
	if c.Influx.Enabled {
		if c.Influx.URL == "" {
			return errors.New("influx.enabled is true but influx.url is empty")
		}
		if c.Influx.Org == "" || c.Influx.Bucket == "" {
			return errors.New("influx.enabled is true but influx.org or influx.bucket is empty")
		}
	}
	if c.Watchdog.IntervalMS <= 0 {
		return errors.New("watchdog.interval_ms must be > 0")
	}

	// Logging
	if c.Logging.Level == "" {
		return errors.New("logging.level must not be empty")
	}

	return nil
}

func isButtonName(name string) bool {
	for _, n := range buttonNames {
		if n == name {
			return true
		}
	}
	return false
}

// Duration helpers

func (c *Config) buttonDebounce() time.Duration {
	return time.Duration(c.Buttons.DebounceMS) * time.Millisecond
}

func (c *Config) buttonSettle() time.Duration {
	return time.Duration(c.Buttons.SettleMS) * time.Millisecond
}

func (c *Config) watchdogInterval() time.Duration {
	return time.Duration(c.Watchdog.IntervalMS) * time.Millisecond
}

func (c *Config) messageBusTimeout() time.Duration {
	return time.Duration(c.MessageBus.TimeoutMS) * time.Millisecond
}

// ExpandPath expands a leading "~" in a path using $HOME.
func ExpandPath(p string) string {
	if p == "" {
		return p
	}
	if p[0] != '~' {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	if p == "~" {
		return home
	}
	if len(p) >= 2 && (p[1] == '/' || p[1] == '\\') {
		return filepath.Join(home, p[2:])
	}
	return p
}
