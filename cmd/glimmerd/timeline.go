package main

import (
	"encoding/json"
	"fmt"
	"sort"
)

// RGB is a color as three normalized channels in [0,1]. Conversion to any
// platform color representation happens at the rendering boundary, not here.
type RGB struct {
	R float64
	G float64
	B float64
}

// ParseHexColor parses a "#RRGGBB" string into normalized channels.
func ParseHexColor(s string) (RGB, error) {
	if len(s) != 7 || s[0] != '#' {
		return RGB{}, fmt.Errorf("color %q is not of the form #RRGGBB", s)
	}
	var chans [3]float64
	for i := 0; i < 3; i++ {
		hi, ok1 := hexNibble(s[1+2*i])
		lo, ok2 := hexNibble(s[2+2*i])
		if !ok1 || !ok2 {
			return RGB{}, fmt.Errorf("color %q contains non-hex digits", s)
		}
		chans[i] = float64(hi<<4|lo) / 255.0
	}
	return RGB{R: chans[0], G: chans[1], B: chans[2]}, nil
}

func hexNibble(b byte) (int, bool) {
	switch {
	case b >= '0' && b <= '9':
		return int(b - '0'), true
	case b >= 'a' && b <= 'f':
		return int(b-'a') + 10, true
	case b >= 'A' && b <= 'F':
		return int(b-'A') + 10, true
	}
	return 0, false
}

// Hex renders the color back to "#RRGGBB".
func (c RGB) Hex() string {
	to255 := func(v float64) int {
		n := int(v*255.0 + 0.5)
		if n < 0 {
			n = 0
		}
		if n > 255 {
			n = 255
		}
		return n
	}
	return fmt.Sprintf("#%02X%02X%02X", to255(c.R), to255(c.G), to255(c.B))
}

// KeyPoint is one interpolation anchor of an emotion timeline.
type KeyPoint struct {
	TimeOffsetS float64
	Intensity   float64
	Color       RGB
}

// Timeline is an immutable, looping keyframe sequence. Points are sorted by
// time offset at construction; consumers treat them as a ring, so the last
// point interpolates back into the first across the duration boundary.
// A Timeline is never mutated after load; scene changes replace it wholesale.
type Timeline struct {
	Name      string
	DurationS float64
	Points    []KeyPoint
}

// Script wire shape:
//
//	{ "duration": 600, "keyPoints": [
//	    { "timeOffset": 0, "emotionIntensity": 0.8, "targetColorHex": "#F2C14E" } ] }
type scriptFile struct {
	Duration  float64       `json:"duration"`
	KeyPoints []scriptPoint `json:"keyPoints"`
}

type scriptPoint struct {
	TimeOffset       float64 `json:"timeOffset"`
	EmotionIntensity float64 `json:"emotionIntensity"`
	TargetColorHex   string  `json:"targetColorHex"`
}

// ParseTimeline decodes a script file into a Timeline. Any structural or
// value problem is returned as an error; callers are expected to fall back to
// DefaultTimeline rather than surface the failure.
func ParseTimeline(name string, raw []byte) (*Timeline, error) {
	var sf scriptFile
	if err := json.Unmarshal(raw, &sf); err != nil {
		return nil, fmt.Errorf("decode script %q: %w", name, err)
	}
	if sf.Duration <= 0 {
		return nil, fmt.Errorf("script %q: duration must be > 0, got %v", name, sf.Duration)
	}
	if len(sf.KeyPoints) == 0 {
		return nil, fmt.Errorf("script %q: no keypoints", name)
	}

	points := make([]KeyPoint, 0, len(sf.KeyPoints))
	for i, sp := range sf.KeyPoints {
		if sp.TimeOffset < 0 {
			return nil, fmt.Errorf("script %q: keyPoints[%d].timeOffset is negative", name, i)
		}
		color, err := ParseHexColor(sp.TargetColorHex)
		if err != nil {
			return nil, fmt.Errorf("script %q: keyPoints[%d]: %w", name, i, err)
		}
		points = append(points, KeyPoint{
			TimeOffsetS: sp.TimeOffset,
			Intensity:   clamp01(sp.EmotionIntensity),
			Color:       color,
		})
	}

	// Scripts are not required to be pre-sorted; the player needs a ring
	// ordered by time offset.
	sort.SliceStable(points, func(i, j int) bool {
		return points[i].TimeOffsetS < points[j].TimeOffsetS
	})

	return &Timeline{Name: name, DurationS: sf.Duration, Points: points}, nil
}

// defaultFireflyHexes keeps the built-in palette in one place so tests can
// reference the exact wire values.
var defaultFireflyHexes = [...]string{
	"#F2C14E", // warm amber dusk
	"#F78154", // ember flare
	"#B5B682", // pale meadow
	"#5FAD56", // deep green lull
	"#F2C14E", // back toward amber before the seam
}

// DefaultTimeline returns the built-in firefly scene: a 600 second loop that
// is installed synchronously whenever a better script source is missing,
// malformed, or still loading. The presentation must never stall on a data
// fault, so this is always valid.
func DefaultTimeline() *Timeline {
	mustColor := func(hex string) RGB {
		c, err := ParseHexColor(hex)
		if err != nil {
			// Palette above is static; a bad entry is a programming error.
			panic(err)
		}
		return c
	}

	return &Timeline{
		Name:      defaultSceneName,
		DurationS: 600,
		Points: []KeyPoint{
			{TimeOffsetS: 0, Intensity: 0.55, Color: mustColor(defaultFireflyHexes[0])},
			{TimeOffsetS: 120, Intensity: 0.85, Color: mustColor(defaultFireflyHexes[1])},
			{TimeOffsetS: 270, Intensity: 0.35, Color: mustColor(defaultFireflyHexes[2])},
			{TimeOffsetS: 420, Intensity: 0.70, Color: mustColor(defaultFireflyHexes[3])},
			{TimeOffsetS: 540, Intensity: 0.45, Color: mustColor(defaultFireflyHexes[4])},
		},
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
