package main

import (
	"math"
	"testing"
	"time"
)

func makeTimeline(duration float64, pts ...KeyPoint) *Timeline {
	return &Timeline{Name: "test", DurationS: duration, Points: pts}
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

// TestPlayer_MidpointInterpolation checks linear interpolation between two
// keypoints at the exact midpoint.
func TestPlayer_MidpointInterpolation(t *testing.T) {
	tl := makeTimeline(300,
		KeyPoint{TimeOffsetS: 0, Intensity: 0.8, Color: RGB{R: 1, G: 0, B: 0}},
		KeyPoint{TimeOffsetS: 150, Intensity: 0.2, Color: RGB{R: 0, G: 0, B: 1}},
	)
	p := NewPlayer(tl)

	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	p.Start(start)

	got := p.IntensityAt(start.Add(75 * time.Second))
	if !almostEqual(got, 0.5) {
		t.Errorf("intensity at midpoint = %v, want 0.5", got)
	}

	c := p.ColorAt(start.Add(75 * time.Second))
	if !almostEqual(c.R, 0.5) || !almostEqual(c.G, 0) || !almostEqual(c.B, 0.5) {
		t.Errorf("color at midpoint = %+v, want {0.5 0 0.5}", c)
	}
}

// TestPlayer_ExactKeypointHit checks that a query exactly at a keypoint offset
// yields that keypoint's values.
func TestPlayer_ExactKeypointHit(t *testing.T) {
	tl := makeTimeline(300,
		KeyPoint{TimeOffsetS: 0, Intensity: 0.8, Color: RGB{R: 1}},
		KeyPoint{TimeOffsetS: 150, Intensity: 0.2, Color: RGB{B: 1}},
	)
	p := NewPlayer(tl)

	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	p.Start(start)

	if got := p.IntensityAt(start); !almostEqual(got, 0.8) {
		t.Errorf("intensity at start = %v, want 0.8", got)
	}
	if got := p.IntensityAt(start.Add(150 * time.Second)); !almostEqual(got, 0.2) {
		t.Errorf("intensity at second keypoint = %v, want 0.2", got)
	}
}

// TestPlayer_Looping checks that a query one full duration later is identical.
func TestPlayer_Looping(t *testing.T) {
	tl := DefaultTimeline()
	p := NewPlayer(tl)

	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	p.Start(start)

	dur := time.Duration(tl.DurationS * float64(time.Second))
	for _, offset := range []time.Duration{0, 37 * time.Second, 299 * time.Second, 599 * time.Second} {
		a := p.IntensityAt(start.Add(offset))
		b := p.IntensityAt(start.Add(offset).Add(dur))
		if !almostEqual(a, b) {
			t.Errorf("offset %v: intensity %v != intensity one loop later %v", offset, a, b)
		}
		ca := p.ColorAt(start.Add(offset))
		cb := p.ColorAt(start.Add(offset).Add(dur))
		if ca != cb {
			t.Errorf("offset %v: color %+v != color one loop later %+v", offset, ca, cb)
		}
	}
}

// TestPlayer_SeamInterpolation checks the last keypoint interpolates across
// the loop seam back into the first.
func TestPlayer_SeamInterpolation(t *testing.T) {
	tl := makeTimeline(100,
		KeyPoint{TimeOffsetS: 10, Intensity: 0.0, Color: RGB{}},
		KeyPoint{TimeOffsetS: 90, Intensity: 1.0, Color: RGB{R: 1, G: 1, B: 1}},
	)
	p := NewPlayer(tl)

	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	p.Start(start)

	// Between offset 90 and offset 10 of the next cycle there are 20 seconds;
	// offset 95 is a quarter of the way through that span.
	got := p.IntensityAt(start.Add(95 * time.Second))
	if !almostEqual(got, 0.75) {
		t.Errorf("intensity across seam at 95s = %v, want 0.75", got)
	}

	// Before the first keypoint the bracketing pair wraps backwards.
	got = p.IntensityAt(start.Add(5 * time.Second))
	if !almostEqual(got, 0.25) {
		t.Errorf("intensity before first keypoint at 5s = %v, want 0.25", got)
	}
}

// TestPlayer_Determinism checks that sampling is a pure function of the
// timestamp: repeated queries agree exactly.
func TestPlayer_Determinism(t *testing.T) {
	p := NewPlayer(DefaultTimeline())
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	p.Start(start)

	at := start.Add(123456 * time.Millisecond)
	i1, c1 := p.Sample(at)
	for n := 0; n < 10; n++ {
		i2, c2 := p.Sample(at)
		if i1 != i2 || c1 != c2 {
			t.Fatalf("query %d: sample (%v, %+v) != first sample (%v, %+v)", n, i2, c2, i1, c1)
		}
	}
}

// TestPlayer_SingleKeypoint checks a one-keypoint timeline holds constant.
func TestPlayer_SingleKeypoint(t *testing.T) {
	tl := makeTimeline(60, KeyPoint{TimeOffsetS: 30, Intensity: 0.42, Color: RGB{R: 0.5}})
	p := NewPlayer(tl)

	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	p.Start(start)

	for _, offset := range []time.Duration{0, 10 * time.Second, 30 * time.Second, 59 * time.Second} {
		if got := p.IntensityAt(start.Add(offset)); !almostEqual(got, 0.42) {
			t.Errorf("offset %v: intensity = %v, want constant 0.42", offset, got)
		}
	}
}

// TestPlayer_DuplicateOffsets checks that two keypoints at the same offset do
// not divide by zero and that an exact hit returns the first of the pair.
func TestPlayer_DuplicateOffsets(t *testing.T) {
	tl := makeTimeline(100,
		KeyPoint{TimeOffsetS: 0, Intensity: 0.1, Color: RGB{}},
		KeyPoint{TimeOffsetS: 50, Intensity: 0.9, Color: RGB{R: 1}},
		KeyPoint{TimeOffsetS: 50, Intensity: 0.3, Color: RGB{B: 1}},
	)
	p := NewPlayer(tl)

	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	p.Start(start)

	if got := p.IntensityAt(start.Add(50 * time.Second)); !almostEqual(got, 0.9) {
		t.Errorf("intensity at duplicate offset = %v, want first keypoint's 0.9", got)
	}

	// Around the degenerate interval the values must stay finite.
	for _, offset := range []time.Duration{49 * time.Second, 51 * time.Second} {
		got := p.IntensityAt(start.Add(offset))
		if math.IsNaN(got) || math.IsInf(got, 0) {
			t.Errorf("offset %v: intensity = %v, want finite", offset, got)
		}
	}
}

// TestPlayer_StoppedHoldsBoundaryValue checks that stopping freezes the
// sample taken at the stop instant.
func TestPlayer_StoppedHoldsBoundaryValue(t *testing.T) {
	tl := makeTimeline(300,
		KeyPoint{TimeOffsetS: 0, Intensity: 0.8, Color: RGB{R: 1}},
		KeyPoint{TimeOffsetS: 150, Intensity: 0.2, Color: RGB{B: 1}},
	)
	p := NewPlayer(tl)

	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	p.Start(start)

	stopAt := start.Add(75 * time.Second)
	want := p.IntensityAt(stopAt)
	p.Stop(stopAt)

	if p.Running() {
		t.Fatal("player reports running after Stop")
	}
	for _, later := range []time.Duration{0, time.Minute, time.Hour} {
		if got := p.IntensityAt(stopAt.Add(later)); !almostEqual(got, want) {
			t.Errorf("stopped query %v later = %v, want held %v", later, got, want)
		}
	}
}

// TestPlayer_NeverStartedSamplesOffsetZero checks the pre-start state answers
// from the timeline start rather than the hold.
func TestPlayer_NeverStartedSamplesOffsetZero(t *testing.T) {
	p := NewPlayer(DefaultTimeline())
	if p.Running() {
		t.Fatal("new player reports running")
	}
	got := p.IntensityAt(time.Now())
	if !almostEqual(got, 0.55) {
		t.Errorf("pre-start intensity = %v, want first keypoint's 0.55", got)
	}
}

// TestPlayer_ResetRestartsClock checks Reset re-anchors elapsed time to zero.
func TestPlayer_ResetRestartsClock(t *testing.T) {
	tl := makeTimeline(300,
		KeyPoint{TimeOffsetS: 0, Intensity: 0.8, Color: RGB{R: 1}},
		KeyPoint{TimeOffsetS: 150, Intensity: 0.2, Color: RGB{B: 1}},
	)
	p := NewPlayer(tl)

	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	p.Start(start)

	resetAt := start.Add(200 * time.Second)
	p.Reset(resetAt)

	if got := p.IntensityAt(resetAt); !almostEqual(got, 0.8) {
		t.Errorf("intensity right after reset = %v, want 0.8", got)
	}
	if !p.Running() {
		t.Error("player stopped after Reset")
	}
}

// TestPlayer_HotSwapTimeline checks a timeline swap takes effect on the very
// next query while the clock keeps running.
func TestPlayer_HotSwapTimeline(t *testing.T) {
	p := NewPlayer(makeTimeline(100,
		KeyPoint{TimeOffsetS: 0, Intensity: 0.0, Color: RGB{}},
		KeyPoint{TimeOffsetS: 50, Intensity: 0.0, Color: RGB{}},
	))

	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	p.Start(start)

	p.SetTimeline(makeTimeline(100,
		KeyPoint{TimeOffsetS: 0, Intensity: 1.0, Color: RGB{R: 1}},
		KeyPoint{TimeOffsetS: 50, Intensity: 1.0, Color: RGB{R: 1}},
	))

	if got := p.IntensityAt(start.Add(25 * time.Second)); !almostEqual(got, 1.0) {
		t.Errorf("intensity after swap = %v, want 1.0 from the new timeline", got)
	}
	if !p.Running() {
		t.Error("player stopped across a timeline swap")
	}
}
