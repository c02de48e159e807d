package main

import (
	"math"
	"time"
)

// Fallback values used when a timeline carries no keypoints at all. The
// loader normally prevents that by substituting DefaultTimeline, but the
// player must still never stall.
var (
	fallbackIntensity = 0.5
	fallbackColor     = RGB{R: 1.0, G: 0.85, B: 0.63}
)

// Player owns the playback clock over an immutable Timeline and answers
// interpolation queries for arbitrary timestamps.
//
// StartAt is the clock: zero means stopped (not advancing). While stopped,
// queries return the boundary value captured at the moment of stopping rather
// than restarting, so the presentation freezes in place instead of jumping.
//
// Sampling is a pure function of (timeline, StartAt, t); repeated queries at
// the same timestamp always yield the same result. No state accumulates
// across ticks.
type Player struct {
	Timeline *Timeline
	StartAt  time.Time

	// Boundary sample retained across Stop so stopped queries stay stable.
	HoldIntensity float64
	HoldColor     RGB
	holdValid     bool
}

// NewPlayer creates a stopped player over tl.
func NewPlayer(tl *Timeline) Player {
	p := Player{}
	p.SetTimeline(tl)
	return p
}

// SetTimeline replaces the timeline wholesale. The swap is a single reference
// assignment so a concurrent tick observes either the old or the new timeline
// in full, never a mix.
func (p *Player) SetTimeline(tl *Timeline) {
	p.Timeline = tl
}

// Start begins (or re-anchors) playback at the given instant.
func (p *Player) Start(at time.Time) {
	p.StartAt = at
}

// Stop halts the clock. The sample at the stop instant is retained so that
// subsequent queries return the last stable value.
func (p *Player) Stop(at time.Time) {
	if !p.StartAt.IsZero() {
		p.HoldIntensity, p.HoldColor = p.sampleRunning(at)
		p.holdValid = true
	}
	p.StartAt = time.Time{}
}

// Reset snaps the playback position back to zero elapsed time.
func (p *Player) Reset(at time.Time) {
	p.holdValid = false
	p.StartAt = at
}

// Running reports whether the clock is advancing.
func (p *Player) Running() bool {
	return !p.StartAt.IsZero()
}

// IntensityAt returns the interpolated emotion intensity at t.
func (p *Player) IntensityAt(t time.Time) float64 {
	intensity, _ := p.Sample(t)
	return intensity
}

// ColorAt returns the interpolated color at t.
func (p *Player) ColorAt(t time.Time) RGB {
	_, color := p.Sample(t)
	return color
}

// Sample returns both interpolated values for one timestamp. Callers that
// need a consistent (intensity, color) pair use this instead of two queries.
func (p *Player) Sample(t time.Time) (float64, RGB) {
	if p.StartAt.IsZero() {
		if p.holdValid {
			return p.HoldIntensity, p.HoldColor
		}
		return p.sampleElapsed(0)
	}
	return p.sampleRunning(t)
}

func (p *Player) sampleRunning(t time.Time) (float64, RGB) {
	tl := p.Timeline
	if tl == nil || tl.DurationS <= 0 {
		return fallbackIntensity, fallbackColor
	}
	elapsed := math.Mod(t.Sub(p.StartAt).Seconds(), tl.DurationS)
	if elapsed < 0 {
		elapsed += tl.DurationS
	}
	return p.sampleElapsed(elapsed)
}

// sampleElapsed interpolates the keypoint ring at a looped offset in
// [0, duration).
func (p *Player) sampleElapsed(elapsed float64) (float64, RGB) {
	tl := p.Timeline
	if tl == nil || len(tl.Points) == 0 {
		return fallbackIntensity, fallbackColor
	}
	pts := tl.Points
	if len(pts) == 1 {
		return pts[0].Intensity, pts[0].Color
	}

	// An exact hit on a keypoint offset is that keypoint, taking the first of
	// any run of duplicate offsets. This also keeps degenerate (zero-width)
	// intervals from ever being interpolated.
	for i := range pts {
		if pts[i].TimeOffsetS == elapsed {
			return pts[i].Intensity, pts[i].Color
		}
		if pts[i].TimeOffsetS > elapsed {
			break
		}
	}

	// Locate the bracketing pair (prev, next) with
	// prev.offset <= elapsed < next.offset, wrapping across the loop seam.
	prev := pts[len(pts)-1]
	prevOff := prev.TimeOffsetS - tl.DurationS
	next := pts[0]
	nextOff := next.TimeOffsetS
	for i := 0; i < len(pts); i++ {
		if pts[i].TimeOffsetS > elapsed {
			next = pts[i]
			nextOff = next.TimeOffsetS
			if i > 0 {
				prev = pts[i-1]
				prevOff = prev.TimeOffsetS
			}
			break
		}
		if i == len(pts)-1 {
			// Elapsed is at or past the last keypoint: interpolate across
			// the seam into the first keypoint of the next cycle.
			prev = pts[i]
			prevOff = prev.TimeOffsetS
			next = pts[0]
			nextOff = next.TimeOffsetS + tl.DurationS
		}
	}

	// Degenerate or duplicate offsets must not divide by zero.
	span := nextOff - prevOff
	progress := 0.0
	if span > 0 {
		progress = clamp01((elapsed - prevOff) / span)
	}

	intensity := prev.Intensity + progress*(next.Intensity-prev.Intensity)
	color := RGB{
		R: prev.Color.R + progress*(next.Color.R-prev.Color.R),
		G: prev.Color.G + progress*(next.Color.G-prev.Color.G),
		B: prev.Color.B + progress*(next.Color.B-prev.Color.B),
	}
	return intensity, color
}
