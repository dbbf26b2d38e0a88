package main

import (
	"bytes"
	"testing"
)

func TestFanDriver_I2CPathScalesSpeed(t *testing.T) {
	bus := newFakeBus()
	fan, err := NewFanDriver(testFanConfig(), bus, noPWM, testLogger())
	if err != nil {
		t.Fatalf("NewFanDriver: %v", err)
	}

	tests := []struct {
		speed     int
		wantSpeed int
		wantValue byte
	}{
		{speed: 50, wantSpeed: 50, wantValue: 127},
		{speed: 0, wantSpeed: 0, wantValue: 0},
		{speed: 150, wantSpeed: 100, wantValue: 255},
		{speed: -5, wantSpeed: 0, wantValue: 0},
	}

	for _, tt := range tests {
		bus.Reset()
		fan.SetSpeed(tt.speed)

		if got := fan.Speed(); got != tt.wantSpeed {
			t.Errorf("SetSpeed(%d): Speed()=%d, want %d", tt.speed, got, tt.wantSpeed)
		}
		writes := bus.Writes()
		if len(writes) != 1 {
			t.Fatalf("SetSpeed(%d): expected 1 write, got %d", tt.speed, len(writes))
		}
		want := []byte{defaultFanRegister, tt.wantValue}
		if writes[0].addr != defaultFanAddress || !bytes.Equal(writes[0].data, want) {
			t.Errorf("SetSpeed(%d): wrote addr=0x%02x %v, want addr=0x%02x %v",
				tt.speed, writes[0].addr, writes[0].data, defaultFanAddress, want)
		}
	}
}

func TestFanDriver_InitialSpeedApplied(t *testing.T) {
	bus := newFakeBus()
	if _, err := NewFanDriver(testFanConfig(), bus, noPWM, testLogger()); err != nil {
		t.Fatalf("NewFanDriver: %v", err)
	}

	writes := bus.Writes()
	if len(writes) != 1 || !bytes.Equal(writes[0].data, []byte{defaultFanRegister, 255}) {
		t.Fatalf("expected full speed written at startup, got %+v", writes)
	}
}

func TestFanDriver_PWMPathWhenControllerAbsent(t *testing.T) {
	bus := newFakeBus(defaultFanAddress)
	pwm := &fakePWM{}
	fan, err := NewFanDriver(testFanConfig(), bus, func() (pwmOutput, error) { return pwm, nil }, testLogger())
	if err != nil {
		t.Fatalf("NewFanDriver: %v", err)
	}

	// Reset to 0%, then full speed is 0% duty on the active-low input.
	if len(pwm.duties) != 2 || pwm.duties[0] != 0 || pwm.duties[1] != 0 {
		t.Fatalf("unexpected startup duties: %v", pwm.duties)
	}

	fan.SetSpeed(30)
	if got := pwm.Last(); got != 70 {
		t.Errorf("SetSpeed(30): duty=%v, want 70", got)
	}
	fan.SetSpeed(0)
	if got := pwm.Last(); got != 100 {
		t.Errorf("SetSpeed(0): duty=%v, want 100", got)
	}

	if err := fan.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if !pwm.closed {
		t.Error("expected pwm to be closed on Stop")
	}
	if len(bus.Writes()) != 0 {
		t.Errorf("expected no register writes on the pwm path, got %d", len(bus.Writes()))
	}
}

func TestFanDutyCycle(t *testing.T) {
	tests := []struct {
		speed    int
		inverted bool
		want     int
	}{
		{100, true, 0},
		{0, true, 100},
		{25, true, 75},
		{40, false, 40},
		{100, false, 100},
	}
	for _, tt := range tests {
		if got := fanDutyCycle(tt.speed, tt.inverted); got != tt.want {
			t.Errorf("fanDutyCycle(%d, %v)=%d, want %d", tt.speed, tt.inverted, got, tt.want)
		}
	}
}

func TestFanDriver_WriteErrorKeepsSpeed(t *testing.T) {
	bus := newFakeBus()
	fan, err := NewFanDriver(testFanConfig(), bus, noPWM, testLogger())
	if err != nil {
		t.Fatalf("NewFanDriver: %v", err)
	}

	bus.writeErr = errTest
	fan.SetSpeed(20)
	if got := fan.Speed(); got != 20 {
		t.Errorf("Speed()=%d after failed write, want 20", got)
	}
}
