package main

import "time"

// ParameterFrame is the single output of one tick: an immutable value object,
// replaced wholesale every tick and never mutated after creation. It is the
// sole contract between the engine and rendering/audio collaborators.
type ParameterFrame struct {
	Intensity           float64
	Color               RGB
	AudioPower          float64
	Brightness          float64
	Night               bool
	ParticleDensityHint int
	At                  time.Time
}

// EngineState is the engine-owned state container. One logical owner (the
// engine loop) holds it; no other subsystem mutates it directly. Background
// work marshals results back as events, and the reducer applies them between
// ticks so every tick reads a consistent snapshot.
type EngineState struct {
	// Scene is the active scene name plus the generation token that guards
	// timeline hot-swaps against stale background loads.
	Scene SceneState

	// Player owns the timeline, the playback clock, and interpolation.
	Player Player

	// Audio caches what the transport last reported.
	Audio AudioCacheState

	// View holds the user-adjustable presentation settings read by each tick.
	View ViewState

	// Remote is the companion link state as last reported by the transport.
	Remote RemoteLinkState

	// Intent holds pending changes flushed into commands on the next tick
	// (coalesced latest-wins, like all engine intents).
	Intent EngineIntent

	// LastFrame is the frame produced by the most recent tick.
	LastFrame ParameterFrame
	FrameSeq  uint64
}

type SceneState struct {
	Name       string
	Generation uint64
}

// AudioCacheState is the engine's observed view of the audio transport.
type AudioCacheState struct {
	State  AudioState
	Volume float64
	Known  bool
	At     time.Time
}

type ViewState struct {
	Brightness float64
	Night      bool
}

type RemoteLinkState struct {
	Reachable bool
	Paired    bool
	At        time.Time
}

// EngineIntent captures pending user/system intents. They are applied by the
// centralized effects stage, never directly by event handlers.
type EngineIntent struct {
	// DesiredVolume, if non-nil, is an absolute volume to apply. Duplicate
	// requests with the same level collapse into one.
	DesiredVolume *float64
}

// NewEngineState builds the boot state: stopped player over the built-in
// default timeline, so a frame can be produced before any asset has loaded.
func NewEngineState(brightness float64) *EngineState {
	return &EngineState{
		Scene:  SceneState{Name: defaultSceneName},
		Player: NewPlayer(DefaultTimeline()),
		View:   ViewState{Brightness: clamp01(brightness)},
	}
}

// SetDesiredVolume records an absolute volume intent.
// Called only from the engine goroutine (single-owner).
func (s *EngineState) SetDesiredVolume(v float64) {
	s.Intent.DesiredVolume = &v
}

// ConsumeDesiredVolume consumes the volume intent, if present.
// Called only from the engine goroutine (single-owner).
func (s *EngineState) ConsumeDesiredVolume() (float64, bool) {
	if s.Intent.DesiredVolume == nil {
		return 0, false
	}
	v := *s.Intent.DesiredVolume
	s.Intent.DesiredVolume = nil
	return v, true
}

// SetObservedAudio updates the cached transport state.
// Called only from the engine goroutine (single-owner).
func (s *EngineState) SetObservedAudio(state AudioState, volume float64, now time.Time) {
	s.Audio.State = state
	s.Audio.Volume = volume
	s.Audio.Known = true
	s.Audio.At = now
}

// SetObservedLink updates the cached companion link state.
// Called only from the engine goroutine (single-owner).
func (s *EngineState) SetObservedLink(reachable, paired bool, now time.Time) {
	s.Remote.Reachable = reachable
	s.Remote.Paired = paired
	s.Remote.At = now
}
