package main

import (
	"encoding/json"
	"fmt"
)

// ============================================================================
// Event Types
// ============================================================================
// Events are the only currency of the daemon. Inbound commands and queries
// come from the bus adapters, outbound results and notifications are produced
// by the Mark2 facade and the button controller. Every event passes through
// the dispatcher queue and is seen by every registered handler.
// ============================================================================

// Event is a marker interface for all daemon events.
// The marker method is unexported, so the set of variants is closed to this package.
type Event interface {
	eventMarker()
}

// SetFanSpeed requests a fan speed in [0, 100]
type SetFanSpeed struct {
	Speed int `json:"speed"`
}

func (SetFanSpeed) eventMarker() {}

// SetVolume requests an amplifier volume in [0, 100]
type SetVolume struct {
	Volume int `json:"volume"`
}

func (SetVolume) eventMarker() {}

// GetVolume asks for the current volume; answered with Volume
type GetVolume struct{}

func (GetVolume) eventMarker() {}

// Volume reports the current amplifier volume in [0, 100]
type Volume struct {
	Volume int `json:"volume"`
}

func (Volume) eventMarker() {}

// SetLedColors sets the LED ring colors.
// RGB is [r1, g1, b1, r2, g2, b2, ...] and is repeated to fill the ring.
// Brightness is optional, in [0, 100].
type SetLedColors struct {
	RGB        []int `json:"rgb"`
	Brightness *int  `json:"brightness,omitempty"`
}

func (SetLedColors) eventMarker() {}

// LedColors is a snapshot of the full LED buffer (numLeds * 3 values)
type LedColors struct {
	RGB        []int `json:"rgb"`
	Brightness int   `json:"brightness"`
}

func (LedColors) eventMarker() {}

// AnimateLeds starts a named LED animation ("awake", "thinking", "asleep")
type AnimateLeds struct {
	Name string `json:"name"`
}

func (AnimateLeds) eventMarker() {}

// ButtonStateChanged is emitted when a debounced button changes state
type ButtonStateChanged struct {
	Name  string `json:"name"`
	State bool   `json:"state"`
}

func (ButtonStateChanged) eventMarker() {}

// ReportButtonStates asks for all button states; answered with ButtonStates
type ReportButtonStates struct{}

func (ReportButtonStates) eventMarker() {}

// ButtonStates maps every button name to its active flag
type ButtonStates struct {
	States map[string]bool `json:"states"`
}

func (ButtonStates) eventMarker() {}

// intPtr is a convenience for SetLedColors.Brightness.
func intPtr(v int) *int {
	return &v
}

// isInbound reports whether e is a command or query that clients may submit.
// State announcements are produced by the facade and the button controller.
func isInbound(e Event) bool {
	switch e.(type) {
	case SetFanSpeed, SetVolume, GetVolume, SetLedColors, AnimateLeds, ReportButtonStates:
		return true
	default:
		return false
	}
}

// ============================================================================
// JSON Encoding/Decoding Support
// ============================================================================
// EventEnvelope wraps events for JSON serialization/deserialization.
// Since Go doesn't have union types, we use a type discriminator.
// ============================================================================

// Event type discriminators used on the wire (IPC, state websocket, HTTP)
const (
	typeSetFanSpeed        = "set_fan_speed"
	typeSetVolume          = "set_volume"
	typeGetVolume          = "get_volume"
	typeVolume             = "volume"
	typeSetLedColors       = "set_led_colors"
	typeLedColors          = "led_colors"
	typeAnimateLeds        = "animate_leds"
	typeButtonStateChanged = "button_state_changed"
	typeReportButtonStates = "report_button_states"
	typeButtonStates       = "button_states"
)

// EventEnvelope wraps an event with a type discriminator for JSON marshaling
type EventEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// eventTypeName returns the wire discriminator for e.
func eventTypeName(e Event) (string, error) {
	switch e.(type) {
	case SetFanSpeed:
		return typeSetFanSpeed, nil
	case SetVolume:
		return typeSetVolume, nil
	case GetVolume:
		return typeGetVolume, nil
	case Volume:
		return typeVolume, nil
	case SetLedColors:
		return typeSetLedColors, nil
	case LedColors:
		return typeLedColors, nil
	case AnimateLeds:
		return typeAnimateLeds, nil
	case ButtonStateChanged:
		return typeButtonStateChanged, nil
	case ReportButtonStates:
		return typeReportButtonStates, nil
	case ButtonStates:
		return typeButtonStates, nil
	default:
		return "", fmt.Errorf("unsupported event type: %T", e)
	}
}

// MarshalEvent serializes an Event into a JSON envelope with type discriminator
func MarshalEvent(e Event) ([]byte, error) {
	name, err := eventTypeName(e)
	if err != nil {
		return nil, err
	}

	env := EventEnvelope{Type: name}

	switch e.(type) {
	case GetVolume, ReportButtonStates:
		// no payload
	default:
		data, err := json.Marshal(e)
		if err != nil {
			return nil, fmt.Errorf("marshal %T: %w", e, err)
		}
		env.Data = data
	}

	return json.Marshal(env)
}

// UnmarshalEvent deserializes a JSON event envelope into a concrete Event
func UnmarshalEvent(data []byte) (Event, error) {
	var env EventEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("unmarshal envelope: %w", err)
	}

	switch env.Type {
	case typeSetFanSpeed:
		var e SetFanSpeed
		return decodePayload(env, &e)

	case typeSetVolume:
		var e SetVolume
		return decodePayload(env, &e)

	case typeGetVolume:
		return GetVolume{}, nil

	case typeVolume:
		var e Volume
		return decodePayload(env, &e)

	case typeSetLedColors:
		var e SetLedColors
		return decodePayload(env, &e)

	case typeLedColors:
		var e LedColors
		return decodePayload(env, &e)

	case typeAnimateLeds:
		var e AnimateLeds
		return decodePayload(env, &e)

	case typeButtonStateChanged:
		var e ButtonStateChanged
		return decodePayload(env, &e)

	case typeReportButtonStates:
		return ReportButtonStates{}, nil

	case typeButtonStates:
		var e ButtonStates
		return decodePayload(env, &e)

	default:
		return nil, fmt.Errorf("unknown event type: %q", env.Type)
	}
}

// decodePayload unmarshals env.Data into the pointed-to event and returns it by value.
func decodePayload[T Event](env EventEnvelope, e *T) (Event, error) {
	if len(env.Data) == 0 {
		return nil, fmt.Errorf("event %q: missing data", env.Type)
	}
	if err := json.Unmarshal(env.Data, e); err != nil {
		return nil, fmt.Errorf("unmarshal %s: %w", env.Type, err)
	}
	return *e, nil
}
