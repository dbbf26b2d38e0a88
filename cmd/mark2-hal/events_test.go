package main

import (
	"encoding/json"
	"reflect"
	"strings"
	"testing"
)

func TestMarshalEvent_Envelope(t *testing.T) {
	data, err := MarshalEvent(SetVolume{Volume: 40})
	if err != nil {
		t.Fatalf("MarshalEvent: %v", err)
	}
	if string(data) != `{"type":"set_volume","data":{"volume":40}}` {
		t.Errorf("got %s", data)
	}

	data, err = MarshalEvent(GetVolume{})
	if err != nil {
		t.Fatalf("MarshalEvent: %v", err)
	}
	if string(data) != `{"type":"get_volume"}` {
		t.Errorf("queries carry no data, got %s", data)
	}
}

func TestUnmarshalEvent_AllVariants(t *testing.T) {
	events := []Event{
		SetFanSpeed{Speed: 10},
		SetVolume{Volume: 20},
		GetVolume{},
		Volume{Volume: 30},
		SetLedColors{RGB: []int{1, 2, 3}, Brightness: intPtr(40)},
		SetLedColors{RGB: []int{4}},
		LedColors{RGB: []int{5, 6, 7}, Brightness: 50},
		AnimateLeds{Name: animationThinking},
		ButtonStateChanged{Name: buttonMute, State: true},
		ReportButtonStates{},
		ButtonStates{States: map[string]bool{buttonAction: false, buttonMute: true}},
	}

	for _, ev := range events {
		data, err := MarshalEvent(ev)
		if err != nil {
			t.Fatalf("MarshalEvent(%T): %v", ev, err)
		}
		got, err := UnmarshalEvent(data)
		if err != nil {
			t.Fatalf("UnmarshalEvent(%s): %v", data, err)
		}
		if !reflect.DeepEqual(got, ev) {
			t.Errorf("got %#v, want %#v", got, ev)
		}
	}
}

func TestUnmarshalEvent_Errors(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{`{"type":"shutdown"}`, "unknown event type"},
		{`{"type":"set_volume"}`, "missing data"},
		{`{"type":"set_volume","data":{"volume":"loud"}}`, "unmarshal set_volume"},
		{`not json`, "unmarshal envelope"},
	}
	for _, tt := range tests {
		_, err := UnmarshalEvent([]byte(tt.in))
		if err == nil || !strings.Contains(err.Error(), tt.want) {
			t.Errorf("%s: err=%v, want %q", tt.in, err, tt.want)
		}
	}
}

func TestSetLedColors_BrightnessOmittedWhenNil(t *testing.T) {
	data, err := json.Marshal(SetLedColors{RGB: []int{1}})
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), "brightness") {
		t.Errorf("got %s", data)
	}
}

func TestIsInbound(t *testing.T) {
	for _, ev := range []Event{SetFanSpeed{}, SetVolume{}, GetVolume{}, SetLedColors{}, AnimateLeds{}, ReportButtonStates{}} {
		if !isInbound(ev) {
			t.Errorf("%T should be accepted from clients", ev)
		}
	}
	for _, ev := range []Event{Volume{}, LedColors{}, ButtonStateChanged{}, ButtonStates{}} {
		if isInbound(ev) {
			t.Errorf("%T is daemon output and should be rejected", ev)
		}
	}
}
