package main

import (
	"math"
	"testing"
	"time"
)

func TestPulseAnimation_TriangleWave(t *testing.T) {
	t0 := time.Unix(1000, 0)
	a := newPulseAnimation(colorGreen, awakePulseInterval, awakePulsePeriod, t0)

	tests := []struct {
		at   time.Duration
		want float64
	}{
		{0, 0},
		{500 * time.Millisecond, 0.5},
		{time.Second, 1},
		{1500 * time.Millisecond, 0.5},
		{2 * time.Second, 0},
	}
	for _, tt := range tests {
		if got := a.intensity(t0.Add(tt.at)); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("intensity(+%v)=%v, want %v", tt.at, got, tt.want)
		}
	}
}

func TestPulseAnimation_PacedByInterval(t *testing.T) {
	t0 := time.Unix(1000, 0)
	a := newPulseAnimation(colorGreen, awakePulseInterval, awakePulsePeriod, t0)

	if a.step(t0) == nil {
		t.Fatal("expected a frame on the first step")
	}
	if a.step(t0.Add(10*time.Millisecond)) != nil {
		t.Error("expected no frame before the interval elapsed")
	}

	frame := a.step(t0.Add(time.Second))
	if frame == nil {
		t.Fatal("expected a frame after the interval")
	}
	for c := 0; c < numColors; c++ {
		if frame[c] != int(colorGreen[c]) {
			t.Errorf("peak channel %d=%d, want %d", c, frame[c], colorGreen[c])
		}
	}
}

func TestCometAnimation_HeadAndTail(t *testing.T) {
	t0 := time.Unix(1000, 0)
	a := newCometAnimation(colorBlue, thinkingCometInterval, thinkingCometTail, t0)

	frame := a.step(t0)
	if frame == nil {
		t.Fatal("expected a frame on the first step")
	}

	// Head at LED 0 is the full color.
	for c := 0; c < numColors; c++ {
		if frame[c] != int(colorBlue[c]) {
			t.Errorf("head channel %d=%d, want %d", c, frame[c], colorBlue[c])
		}
	}
	// A tail of 10 wraps back to LED 3; LEDs 1 and 2 are dark.
	for _, led := range []int{1, 2} {
		for c := 0; c < numColors; c++ {
			if frame[led*numColors+c] != 0 {
				t.Errorf("led %d should be dark, got %v", led, frame[led*numColors:led*numColors+3])
			}
		}
	}
	if frame[11*numColors+2] >= frame[2] || frame[11*numColors+2] == 0 {
		t.Errorf("led 11 should be a dimmer tail, got %d vs head %d", frame[11*numColors+2], frame[2])
	}

	if a.step(t0.Add(50*time.Millisecond)) != nil {
		t.Error("expected no frame before the interval elapsed")
	}

	frame = a.step(t0.Add(thinkingCometInterval))
	if frame == nil {
		t.Fatal("expected a frame after the interval")
	}
	if frame[1*numColors+2] != int(colorBlue[2]) {
		t.Errorf("head should advance to led 1, got %v", frame[3:6])
	}
}

func TestNewAnimation(t *testing.T) {
	now := time.Now()
	if _, err := newAnimation(animationAwake, now); err != nil {
		t.Errorf("awake: %v", err)
	}
	if _, err := newAnimation(animationThinking, now); err != nil {
		t.Errorf("thinking: %v", err)
	}
	if _, err := newAnimation(animationAsleep, now); err == nil {
		t.Error("asleep is handled by the facade, expected an error")
	}
}
