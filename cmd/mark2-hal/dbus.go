package main

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"
	"github.com/godbus/dbus/v5/prop"
)

// ============================================================================
// D-Bus Adapter
// ============================================================================
// Exports one object per peripheral on the system bus:
//
//   /ai/mycroft/mark2/fan     ai.mycroft.Mark2FanInterface     speed (y, rw)
//   /ai/mycroft/mark2/amp     ai.mycroft.Mark2AmpInterface     volume (y, rw)
//   /ai/mycroft/mark2/led     ai.mycroft.Mark2LedInterface     brightness (y, rw), rgb (s, rw)
//   /ai/mycroft/mark2/button  ai.mycroft.Mark2ButtonInterface  signals volume_up, volume_down,
//                                                              action, mute (b); method report
//
// Property writes become inbound events. Outbound events update the
// properties and fire the button signals. Property callbacks run on godbus
// goroutines while the property table is locked, so they only touch the
// adapter's own mirror and submit events.
// ============================================================================

const (
	dbusFanPath    = dbus.ObjectPath("/ai/mycroft/mark2/fan")
	dbusAmpPath    = dbus.ObjectPath("/ai/mycroft/mark2/amp")
	dbusLedPath    = dbus.ObjectPath("/ai/mycroft/mark2/led")
	dbusButtonPath = dbus.ObjectPath("/ai/mycroft/mark2/button")

	dbusFanIface    = "ai.mycroft.Mark2FanInterface"
	dbusAmpIface    = "ai.mycroft.Mark2AmpInterface"
	dbusLedIface    = "ai.mycroft.Mark2LedInterface"
	dbusButtonIface = "ai.mycroft.Mark2ButtonInterface"
)

// propertySetter is satisfied by *prop.Properties.
type propertySetter interface {
	SetMust(iface, property string, v interface{})
}

// signalEmitter is satisfied by *dbus.Conn.
type signalEmitter interface {
	Emit(path dbus.ObjectPath, name string, values ...interface{}) error
}

// DBusAdapter translates between D-Bus and daemon events.
type DBusAdapter struct {
	logger *slog.Logger
	submit func(Event)

	conn     *dbus.Conn
	emitter  signalEmitter
	fanProps propertySetter
	ampProps propertySetter
	ledProps propertySetter

	mu         sync.Mutex
	speed      int
	volume     int
	brightness int
	rgb        string
}

func newDBusAdapter(initial HALState, submit func(Event), logger *slog.Logger) *DBusAdapter {
	return &DBusAdapter{
		logger:     logger,
		submit:     submit,
		speed:      initial.FanSpeed,
		volume:     initial.Volume,
		brightness: initial.Brightness,
		rgb:        formatRGB(initial.LedColors),
	}
}

// StartDBusAdapter connects to the system bus, claims name and exports the
// four peripheral objects.
func StartDBusAdapter(name string, initial HALState, submit func(Event), logger *slog.Logger) (*DBusAdapter, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, fmt.Errorf("connect system bus: %w", err)
	}

	a := newDBusAdapter(initial, submit, logger)
	a.conn = conn
	a.emitter = conn

	if err := a.export(conn); err != nil {
		conn.Close()
		return nil, err
	}

	reply, err := conn.RequestName(name, dbus.NameFlagDoNotQueue)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("request name %s: %w", name, err)
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		conn.Close()
		return nil, fmt.Errorf("request name %s: already owned", name)
	}

	logger.Info("connected to dbus", "name", name)
	return a, nil
}

func (a *DBusAdapter) export(conn *dbus.Conn) error {
	a.mu.Lock()
	speed, volume, brightness, rgb := a.speed, a.volume, a.brightness, a.rgb
	a.mu.Unlock()

	fanProps, err := a.exportObject(conn, dbusFanPath, dbusFanIface, prop.Map{
		dbusFanIface: {
			"speed": {Value: byte(speed), Writable: true, Emit: prop.EmitTrue, Callback: a.onSpeed},
		},
	})
	if err != nil {
		return err
	}

	ampProps, err := a.exportObject(conn, dbusAmpPath, dbusAmpIface, prop.Map{
		dbusAmpIface: {
			"volume": {Value: byte(volume), Writable: true, Emit: prop.EmitTrue, Callback: a.onVolume},
		},
	})
	if err != nil {
		return err
	}

	ledProps, err := a.exportObject(conn, dbusLedPath, dbusLedIface, prop.Map{
		dbusLedIface: {
			"brightness": {Value: byte(brightness), Writable: true, Emit: prop.EmitTrue, Callback: a.onBrightness},
			"rgb":        {Value: rgb, Writable: true, Emit: prop.EmitTrue, Callback: a.onRGB},
		},
	})
	if err != nil {
		return err
	}

	methods := map[string]interface{}{
		"report": a.report,
	}
	if err := conn.ExportMethodTable(methods, dbusButtonPath, dbusButtonIface); err != nil {
		return fmt.Errorf("export %s: %w", dbusButtonPath, err)
	}

	signals := make([]introspect.Signal, 0, len(buttonNames))
	for _, name := range buttonNames {
		signals = append(signals, introspect.Signal{
			Name: name,
			Args: []introspect.Arg{{Name: "state", Type: "b"}},
		})
	}
	node := &introspect.Node{
		Name: string(dbusButtonPath),
		Interfaces: []introspect.Interface{
			introspect.IntrospectData,
			{
				Name:    dbusButtonIface,
				Methods: []introspect.Method{{Name: "report"}},
				Signals: signals,
			},
		},
	}
	if err := conn.Export(introspect.NewIntrospectable(node), dbusButtonPath, "org.freedesktop.DBus.Introspectable"); err != nil {
		return fmt.Errorf("export introspection %s: %w", dbusButtonPath, err)
	}

	a.fanProps = fanProps
	a.ampProps = ampProps
	a.ledProps = ledProps
	return nil
}

// exportObject exports a property table plus its introspection data.
func (a *DBusAdapter) exportObject(conn *dbus.Conn, path dbus.ObjectPath, iface string, props prop.Map) (*prop.Properties, error) {
	p, err := prop.Export(conn, path, props)
	if err != nil {
		return nil, fmt.Errorf("export properties %s: %w", path, err)
	}

	node := &introspect.Node{
		Name: string(path),
		Interfaces: []introspect.Interface{
			introspect.IntrospectData,
			prop.IntrospectData,
			{
				Name:       iface,
				Properties: p.Introspection(iface),
			},
		},
	}
	if err := conn.Export(introspect.NewIntrospectable(node), path, "org.freedesktop.DBus.Introspectable"); err != nil {
		return nil, fmt.Errorf("export introspection %s: %w", path, err)
	}
	return p, nil
}

// Close releases the bus connection.
func (a *DBusAdapter) Close() error {
	if a.conn == nil {
		return nil
	}
	return a.conn.Close()
}

// ----------------------------------------------------------------------------
// Property write callbacks (godbus goroutines)
// ----------------------------------------------------------------------------

func (a *DBusAdapter) onSpeed(c *prop.Change) *dbus.Error {
	v, ok := c.Value.(byte)
	if !ok {
		return prop.ErrInvalidArg
	}
	a.mu.Lock()
	a.speed = int(v)
	a.mu.Unlock()

	a.submit(SetFanSpeed{Speed: int(v)})
	return nil
}

func (a *DBusAdapter) onVolume(c *prop.Change) *dbus.Error {
	v, ok := c.Value.(byte)
	if !ok {
		return prop.ErrInvalidArg
	}
	a.mu.Lock()
	a.volume = int(v)
	a.mu.Unlock()

	a.submit(SetVolume{Volume: int(v)})
	return nil
}

func (a *DBusAdapter) onBrightness(c *prop.Change) *dbus.Error {
	v, ok := c.Value.(byte)
	if !ok {
		return prop.ErrInvalidArg
	}
	brightness := clampInt(int(v), minBrightness, maxBrightness)

	a.mu.Lock()
	if brightness == a.brightness {
		a.mu.Unlock()
		return nil
	}
	a.brightness = brightness
	rgb := a.rgb
	a.mu.Unlock()

	colors, err := parseRGBString(rgb)
	if err != nil {
		colors = nil
	}
	a.submit(SetLedColors{RGB: colors, Brightness: intPtr(brightness)})
	return nil
}

func (a *DBusAdapter) onRGB(c *prop.Change) *dbus.Error {
	s, ok := c.Value.(string)
	if !ok {
		return prop.ErrInvalidArg
	}
	colors, err := parseRGBString(s)
	if err != nil {
		a.logger.Warn("dbus rejected rgb", "rgb", s, "error", err)
		return prop.ErrInvalidArg
	}
	normalized := formatRGB(normalizeColors(colors))

	a.mu.Lock()
	if normalized == a.rgb {
		a.mu.Unlock()
		return nil
	}
	a.rgb = normalized
	brightness := a.brightness
	a.mu.Unlock()

	a.submit(SetLedColors{RGB: colors, Brightness: intPtr(brightness)})
	return nil
}

func (a *DBusAdapter) report() *dbus.Error {
	a.submit(ReportButtonStates{})
	return nil
}

// ----------------------------------------------------------------------------
// Dispatcher handler
// ----------------------------------------------------------------------------

// HandleEvent mirrors outbound events onto the exported objects.
func (a *DBusAdapter) HandleEvent(ev Event) []Event {
	switch e := ev.(type) {
	case SetFanSpeed:
		speed := clampInt(e.Speed, minSpeed, maxSpeed)
		a.mu.Lock()
		a.speed = speed
		a.mu.Unlock()
		a.setProp(a.fanProps, dbusFanIface, "speed", byte(speed))

	case Volume:
		a.mu.Lock()
		a.volume = e.Volume
		a.mu.Unlock()
		a.setProp(a.ampProps, dbusAmpIface, "volume", byte(e.Volume))

	case LedColors:
		rgb := formatRGB(e.RGB)
		a.mu.Lock()
		a.rgb = rgb
		a.brightness = e.Brightness
		a.mu.Unlock()
		a.setProp(a.ledProps, dbusLedIface, "rgb", rgb)
		a.setProp(a.ledProps, dbusLedIface, "brightness", byte(e.Brightness))

	case ButtonStateChanged:
		a.emitButton(e.Name, e.State)

	case ButtonStates:
		for _, name := range buttonNames {
			a.emitButton(name, e.States[name])
		}
	}
	return nil
}

func (a *DBusAdapter) setProp(p propertySetter, iface, name string, v interface{}) {
	if p == nil {
		return
	}
	p.SetMust(iface, name, v)
}

func (a *DBusAdapter) emitButton(name string, state bool) {
	if a.emitter == nil {
		return
	}
	if err := a.emitter.Emit(dbusButtonPath, dbusButtonIface+"."+name, state); err != nil {
		a.logger.Error("dbus signal failed", "button", name, "error", err)
	}
}

// ----------------------------------------------------------------------------
// rgb property format
// ----------------------------------------------------------------------------

// parseRGBString parses "r,g,b,..." into integers. Values are not clamped.
// An empty string is an empty sequence.
func parseRGBString(s string) ([]int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("invalid color value %q: %w", p, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// formatRGB renders values as "r,g,b,...".
func formatRGB(values []int) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ",")
}
