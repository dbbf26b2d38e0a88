package main

import (
	"fmt"
	"time"
)

// rgb is one LED color.
type rgb [numColors]uint8

// animation computes LED frames over time.
//
// step is called by the scheduler at its own cadence (about every
// millisecond). It returns nil when the animation has nothing new to show yet,
// otherwise a full numLeds*numColors frame.
type animation interface {
	step(now time.Time) []int
}

// newAnimation builds the named animation, starting at now.
func newAnimation(name string, now time.Time) (animation, error) {
	switch name {
	case animationAwake:
		return newPulseAnimation(colorGreen, awakePulseInterval, awakePulsePeriod, now), nil
	case animationThinking:
		return newCometAnimation(colorBlue, thinkingCometInterval, thinkingCometTail, now), nil
	default:
		return nil, fmt.Errorf("unknown animation %q", name)
	}
}

// frameTicker paces an animation: due reports true at most once per interval.
type frameTicker struct {
	interval time.Duration
	next     time.Time
}

func (t *frameTicker) due(now time.Time) bool {
	if now.Before(t.next) {
		return false
	}
	t.next = now.Add(t.interval)
	return true
}

// ----------------------------------------------------------------------------
// Pulse ("awake")
// ----------------------------------------------------------------------------

// pulseAnimation fades the whole ring in and out in one color.
// Intensity follows a triangle wave over period.
type pulseAnimation struct {
	color  rgb
	period time.Duration
	start  time.Time
	tick   frameTicker
}

func newPulseAnimation(color rgb, interval, period time.Duration, now time.Time) *pulseAnimation {
	return &pulseAnimation{
		color:  color,
		period: period,
		start:  now,
		tick:   frameTicker{interval: interval, next: now},
	}
}

func (a *pulseAnimation) step(now time.Time) []int {
	if !a.tick.due(now) {
		return nil
	}
	return fillFrame(a.color, a.intensity(now))
}

// intensity is in [0, 1]: 0 at the start of a period, 1 halfway through.
func (a *pulseAnimation) intensity(now time.Time) float64 {
	if a.period <= 0 {
		return 1
	}
	elapsed := now.Sub(a.start) % a.period
	phase := float64(elapsed) / float64(a.period)
	if phase < 0.5 {
		return phase * 2
	}
	return (1 - phase) * 2
}

// ----------------------------------------------------------------------------
// Comet ("thinking")
// ----------------------------------------------------------------------------

// cometAnimation sweeps a bright head with a fading tail around the ring,
// one LED per interval.
type cometAnimation struct {
	color rgb
	tail  int
	head  int
	tick  frameTicker
}

func newCometAnimation(color rgb, interval time.Duration, tail int, now time.Time) *cometAnimation {
	return &cometAnimation{
		color: color,
		tail:  min(max(tail, 1), numLeds),
		head:  -1,
		tick:  frameTicker{interval: interval, next: now},
	}
}

func (a *cometAnimation) step(now time.Time) []int {
	if !a.tick.due(now) {
		return nil
	}
	a.head = (a.head + 1) % numLeds

	frame := make([]int, numLeds*numColors)
	for d := 0; d < a.tail; d++ {
		led := (a.head - d + numLeds) % numLeds
		f := float64(a.tail-d) / float64(a.tail)
		for c := 0; c < numColors; c++ {
			frame[led*numColors+c] = int(float64(a.color[c]) * f)
		}
	}
	return frame
}

// fillFrame sets every LED to color scaled by f in [0, 1].
func fillFrame(color rgb, f float64) []int {
	frame := make([]int, numLeds*numColors)
	for led := 0; led < numLeds; led++ {
		for c := 0; c < numColors; c++ {
			frame[led*numColors+c] = int(float64(color[c]) * f)
		}
	}
	return frame
}
