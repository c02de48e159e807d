package main

import "time"

// Event is the input to the reducer: a user/remote action, a tick, an
// observation from a background load or the audio transport, or a snapshot
// request from a companion connect.
type Event interface {
	eventMarker()
}

// Tick is emitted by the engine loop at the display cadence. Dt is the
// wall-clock delta in seconds since the previous tick. AudioPower is sampled
// by the loop just before reduction so the frame computation stays pure.
// Missed ticks are simply skipped, never queued.
type Tick struct {
	Now        time.Time
	Dt         float64
	AudioPower float64
}

func (Tick) eventMarker() {}

// TimedEvent stamps an action with its arrival time so the reducer never has
// to consult the wall clock itself.
type TimedEvent struct {
	Event Event
	At    time.Time
}

func (TimedEvent) eventMarker() {}

// ============================================================================
// Actions - intent from the remote channel, CLI, or local surface
// ============================================================================

// Origin values distinguish locally-initiated changes from ones arriving via
// the companion link, so remote-originated changes are not mirrored back.
const (
	OriginLocal  = "local"
	OriginRemote = "remote"
)

// StartPlayback starts the timeline clock and scene audio.
type StartPlayback struct{}

func (StartPlayback) eventMarker() {}

// StopPlayback stops the timeline clock; queries hold the boundary value.
type StopPlayback struct{}

func (StopPlayback) eventMarker() {}

// PlayPause toggles between the two, whichever applies.
type PlayPause struct{}

func (PlayPause) eventMarker() {}

// SetBrightness sets the user brightness in [0,1].
type SetBrightness struct {
	Level  float64 `json:"level"`
	Origin string  `json:"origin,omitempty"`
}

func (SetBrightness) eventMarker() {}

// SetNightMode sets night mode absolutely.
type SetNightMode struct {
	On     bool   `json:"on"`
	Origin string `json:"origin,omitempty"`
}

func (SetNightMode) eventMarker() {}

// ToggleNightMode flips night mode.
type ToggleNightMode struct {
	Origin string `json:"origin,omitempty"`
}

func (ToggleNightMode) eventMarker() {}

// ChangeVolume requests an absolute audio volume in [0,1]. Absolute levels
// keep duplicate delivery harmless.
type ChangeVolume struct {
	Level  float64 `json:"level"`
	Origin string  `json:"origin,omitempty"`
}

func (ChangeVolume) eventMarker() {}

// ChangeScene switches to a named scene: the built-in fallback timeline is
// installed synchronously and the scene's script and track load in the
// background.
type ChangeScene struct {
	Name   string `json:"name"`
	Origin string `json:"origin,omitempty"`
}

func (ChangeScene) eventMarker() {}

// ============================================================================
// Observations - results of background work fed back into the reducer
// ============================================================================

// TimelineLoaded reports a finished background script load. The reducer
// discards it unless Generation still matches the active scene generation.
type TimelineLoaded struct {
	Scene      string
	Generation uint64
	Timeline   *Timeline
	At         time.Time
}

func (TimelineLoaded) eventMarker() {}

// TimelineLoadFailed reports a failed background script load. The active
// (fallback) timeline simply stays in place.
type TimelineLoadFailed struct {
	Scene      string
	Generation uint64
	Err        error
	At         time.Time
}

func (TimelineLoadFailed) eventMarker() {}

// AudioObserved reports transport state after a command completed.
type AudioObserved struct {
	State  AudioState
	Volume float64
	At     time.Time
}

func (AudioObserved) eventMarker() {}

// AudioCommandFailed reports a transport command that errored. Playback of
// the visuals continues unaffected.
type AudioCommandFailed struct {
	Command Command
	Err     error
	At      time.Time
}

func (AudioCommandFailed) eventMarker() {}

// RemoteLinkChanged reports companion reachability/pairing transitions.
type RemoteLinkChanged struct {
	Reachable bool
	Paired    bool
	At        time.Time
}

func (RemoteLinkChanged) eventMarker() {}

// RequestFrameSnapshot asks for the last published frame, delivered through
// the effects stage so the reducer stays pure.
type RequestFrameSnapshot struct {
	Reply chan ParameterFrame
}

func (RequestFrameSnapshot) eventMarker() {}
