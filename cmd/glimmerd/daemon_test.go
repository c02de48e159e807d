package main

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"
)

// startTestEngine spins up a real runEngine with fake audio and remote
// transports. Events sent on the returned channel travel the same path
// background goroutines use in production.
func startTestEngine(t *testing.T) (chan Event, *FrameBus) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	events := make(chan Event, 64)

	transport, _, _ := testTransport(t, map[string]*fakeStream{})
	remote := NewRemoteChannel(&fakeRemoteTransport{}, 8, func(ev Event) { events <- ev }, logger)
	cfg := testEngineConfig()
	runner := newEffectRunner(transport, NewDirAssets(t.TempDir()), remote, cfg, events, logger)

	bus := &FrameBus{}
	state := NewEngineState(defaultBrightness)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go runEngine(ctx, events, runner, bus, nil, cfg, state, logger)
	return events, bus
}

// A timeline load finishing on a background goroutine arrives through the
// events channel; subsequent frames must sample the swapped-in timeline.
func TestRunEngine_AppliesBackgroundTimelineLoad(t *testing.T) {
	events, bus := startTestEngine(t)

	tl := &Timeline{
		Name:      "firefly",
		DurationS: 10,
		Points:    []KeyPoint{{TimeOffsetS: 0, Intensity: 0.9, Color: RGB{R: 1}}},
	}
	events <- TimelineLoaded{Scene: "firefly", Generation: 0, Timeline: tl, At: time.Now()}

	waitUntil(t, 2*time.Second, func() bool {
		f, ok := bus.Current()
		return ok && almostEqual(f.Intensity, 0.9)
	}, "published frames never reflected the loaded timeline")
}

func TestRunEngine_AnswersSnapshotRequests(t *testing.T) {
	events, bus := startTestEngine(t)

	waitUntil(t, 2*time.Second, func() bool {
		_, ok := bus.Current()
		return ok
	}, "no frame published before snapshot request")

	reply := make(chan ParameterFrame, 1)
	events <- RequestFrameSnapshot{Reply: reply}

	select {
	case f := <-reply:
		if f.At.IsZero() {
			t.Fatal("snapshot frame has zero timestamp")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("snapshot request was never answered")
	}
}
