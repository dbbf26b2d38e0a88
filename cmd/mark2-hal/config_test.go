package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefaultConfig_Valid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.buttonDebounce() != defaultButtonDebounce || cfg.buttonSettle() != defaultButtonSettle {
		t.Errorf("button timings %v/%v", cfg.buttonDebounce(), cfg.buttonSettle())
	}
	if cfg.MessageBus.Enabled || cfg.Influx.Enabled {
		t.Error("message bus and influx are opt-in")
	}
}

func TestLoadConfigFile_OverlaysDefaults(t *testing.T) {
	path := writeConfigFile(t, `
fan:
  initial_speed: 40
amp:
  initial_volume: 20
buttons:
  pins:
    mute: GPIO5
  debounce_ms: 80
messagebus:
  enabled: true
`)

	cfg, err := LoadConfigFile(path)
	if err != nil {
		t.Fatalf("LoadConfigFile: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	if cfg.Fan.InitialSpeed != 40 || cfg.Amp.InitialVolume != 20 {
		t.Errorf("fan=%d amp=%d", cfg.Fan.InitialSpeed, cfg.Amp.InitialVolume)
	}
	if cfg.Buttons.Pins[buttonMute] != "GPIO5" || cfg.Buttons.Pins[buttonAction] != "GPIO24" {
		t.Errorf("pins=%v", cfg.Buttons.Pins)
	}
	if cfg.buttonDebounce() != 80*time.Millisecond {
		t.Errorf("debounce=%v", cfg.buttonDebounce())
	}
	if !cfg.MessageBus.Enabled || cfg.MessageBus.URL != defaultMessageBusURL {
		t.Errorf("messagebus=%+v", cfg.MessageBus)
	}
	if cfg.Amp.HardwareMax != defaultMaxHardwareVolume {
		t.Errorf("unset fields keep defaults, hardware_max=%d", cfg.Amp.HardwareMax)
	}
}

func TestLoadConfigFile_RejectsUnknownFields(t *testing.T) {
	path := writeConfigFile(t, "fan:\n  speedd: 10\n")
	if _, err := LoadConfigFile(path); err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestLoadConfig_MissingFiles(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("a missing explicit config file is an error")
	}
	cfg, err := LoadConfig("")
	if err != nil || cfg.IPC.SocketPath != defaultIPCSocketPath {
		t.Errorf("empty path should give defaults, got %v", err)
	}
}

func TestFlagOverrides_Apply(t *testing.T) {
	cfg := DefaultConfig()
	on := true
	socket := "/tmp/x.sock"
	listen := ""
	level := "debug"

	FlagOverrides{
		MessageBusEnabled: &on,
		IPCSocketPath:     &socket,
		HTTPListen:        &listen,
		LogLevel:          &level,
	}.Apply(&cfg)

	if !cfg.MessageBus.Enabled || cfg.IPC.SocketPath != socket || cfg.Logging.Level != "debug" {
		t.Errorf("overrides not applied: %+v", cfg)
	}
	if cfg.HTTP.Enabled {
		t.Error("empty -http-listen disables the HTTP API")
	}

	// Nil overrides leave the config alone.
	cfg2 := DefaultConfig()
	FlagOverrides{}.Apply(&cfg2)
	if cfg2.IPC.SocketPath != defaultIPCSocketPath || !cfg2.HTTP.Enabled {
		t.Error("nil overrides changed the config")
	}
}

func TestConfig_ValidateErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"fan speed", func(c *Config) { c.Fan.InitialSpeed = 101 }, "fan.initial_speed"},
		{"volume", func(c *Config) { c.Amp.InitialVolume = -1 }, "amp.initial_volume"},
		{"leds per write", func(c *Config) { c.Leds.MaxLedsPerWrite = 0 }, "max_leds_per_write"},
		{"missing pin", func(c *Config) { delete(c.Buttons.Pins, buttonAction) }, "buttons.pins.action"},
		{"unknown button", func(c *Config) { c.Buttons.Pins["power"] = "GPIO4" }, "unknown button"},
		{"influx bucket", func(c *Config) { c.Influx = InfluxConfig{Enabled: true, URL: "http://x"} }, "influx"},
		{"http listen", func(c *Config) { c.HTTP.Listen = "" }, "http.listen"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err=%v, want mention of %q", err, tt.want)
			}
		})
	}
}
