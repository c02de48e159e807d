package main

import (
	"math"
	"time"
)

// This file implements the reducer for the engine loop:
//
//   - Events: ticks, user/remote actions, background-load results, transport
//     observations, companion link transitions
//   - Commands: side effects requested by the reducer (audio transport calls,
//     background loads, outbound remote sends)
//   - Broadcasts: state the companion hub fans out to connected clients
//
// Reduce is pure: no I/O, no blocking, no mutation outside the returned
// state. The engine loop executes Commands and feeds observations back in as
// Events. Because every mutation flows through this one function on the
// engine goroutine, each Tick reads a consistent snapshot of brightness,
// night mode, and timeline — a mid-tick writer can only land between
// reductions, never inside one.

// ==============================
// Broadcasts
// ==============================

// StateBroadcast is reducer-emitted state for the companion hub.
type StateBroadcast interface {
	broadcastMarker()
}

// BroadcastFrame carries the frame produced by one tick.
type BroadcastFrame struct {
	Frame ParameterFrame
}

func (BroadcastFrame) broadcastMarker() {}

// BroadcastControlChanged carries the mirrored control surface: emitted on
// every control-state transition, not on ticks.
type BroadcastControlChanged struct {
	Playing    bool
	Scene      string
	Volume     float64
	Brightness float64
	Night      bool
	At         time.Time
}

func (BroadcastControlChanged) broadcastMarker() {}

// BroadcastSceneLifecycle tells rendering collaborators a scene was unloaded
// (Loaded=false, on scene change) or finished loading its script
// (Loaded=true).
type BroadcastSceneLifecycle struct {
	Scene  string
	Loaded bool
	At     time.Time
}

func (BroadcastSceneLifecycle) broadcastMarker() {}

// ==============================
// Reducer
// ==============================

// ReduceResult is the output of Reduce: next state, side effects to execute,
// and state broadcasts for the companion hub.
type ReduceResult struct {
	State      *EngineState
	Commands   []Command
	Broadcasts []StateBroadcast
}

// Reduce computes the next engine state for one event.
func Reduce(s *EngineState, e Event, cfg EngineConfig) ReduceResult {
	if s == nil {
		s = NewEngineState(defaultBrightness)
	}

	var cmds []Command
	var bcasts []StateBroadcast

	switch ev := e.(type) {
	case Tick:
		// Writers that raced this tick were reduced before it; apply the
		// coalesced intents, then compute the frame from the settled state.
		if v, ok := s.ConsumeDesiredVolume(); ok {
			cmds = append(cmds, CmdAudioSetVolume{Level: v})
		}

		frame := computeFrame(s, ev, cfg)
		s.LastFrame = frame
		s.FrameSeq++
		bcasts = append(bcasts, BroadcastFrame{Frame: frame})

	case TimedEvent:
		switch a := ev.Event.(type) {
		case StartPlayback:
			cmds = s.startPlayback(ev.At, cfg, cmds)
			bcasts = append(bcasts, s.controlBroadcast(ev.At))

		case StopPlayback:
			cmds = s.stopPlayback(ev.At, cmds)
			bcasts = append(bcasts, s.controlBroadcast(ev.At))

		case PlayPause:
			if s.Player.Running() {
				cmds = s.stopPlayback(ev.At, cmds)
			} else {
				cmds = s.startPlayback(ev.At, cfg, cmds)
			}
			bcasts = append(bcasts, s.controlBroadcast(ev.At))

		case SetBrightness:
			s.View.Brightness = clamp01(a.Level)
			bcasts = append(bcasts, s.controlBroadcast(ev.At))

		case SetNightMode:
			s.View.Night = a.On
			if a.Origin != OriginRemote {
				on := a.On
				cmds = append(cmds, CmdRemoteSend{Message: MsgNightModeToggle{On: &on}})
			}
			bcasts = append(bcasts, s.controlBroadcast(ev.At))

		case ToggleNightMode:
			s.View.Night = !s.View.Night
			if a.Origin != OriginRemote {
				on := s.View.Night
				cmds = append(cmds, CmdRemoteSend{Message: MsgNightModeToggle{On: &on}})
			}
			bcasts = append(bcasts, s.controlBroadcast(ev.At))

		case ChangeVolume:
			level := clamp01(a.Level)
			s.SetDesiredVolume(level)
			if a.Origin != OriginRemote {
				cmds = append(cmds, CmdRemoteSend{Message: MsgVolumeChange{Level: level}})
			}

		case ChangeScene:
			previous := s.Scene.Name
			cmds = s.changeScene(a, ev.At, cfg, cmds)
			if previous != "" && previous != a.Name {
				bcasts = append(bcasts, BroadcastSceneLifecycle{Scene: previous, Loaded: false, At: ev.At})
			}
			bcasts = append(bcasts, s.controlBroadcast(ev.At))

		default:
			// Not an action: an observation or request the loop stamped on
			// arrival. Unwrap and reduce it as itself.
			return Reduce(s, ev.Event, cfg)
		}

	case TimelineLoaded:
		// A stale result (scene changed while loading) is discarded; an
		// up-to-date one replaces the fallback timeline atomically.
		if ev.Generation == s.Scene.Generation {
			s.Player.SetTimeline(ev.Timeline)
			bcasts = append(bcasts, BroadcastSceneLifecycle{Scene: ev.Scene, Loaded: true, At: ev.At})
		}

	case TimelineLoadFailed:
		// Fallback timeline stays in place; the show keeps animating.
		_ = ev

	case AudioObserved:
		s.SetObservedAudio(ev.State, ev.Volume, ev.At)

	case AudioCommandFailed:
		// Soft failure. Visuals are unaffected; keep state as-is.
		_ = ev

	case RemoteLinkChanged:
		s.SetObservedLink(ev.Reachable, ev.Paired, ev.At)

	case RequestFrameSnapshot:
		cmds = append(cmds, CmdPublishSnapshot{Reply: ev.Reply, Frame: s.LastFrame})

	default:
		// Unknown event type: no-op.
	}

	return ReduceResult{State: s, Commands: cmds, Broadcasts: bcasts}
}

func (s *EngineState) startPlayback(at time.Time, cfg EngineConfig, cmds []Command) []Command {
	s.Player.Start(at)
	switch s.Audio.State {
	case AudioPaused:
		cmds = append(cmds, CmdAudioResume{})
	case AudioPlaying, AudioLoading:
		// Already underway.
	default:
		if track := cfg.sceneTrack(s.Scene.Name); track != "" {
			cmds = append(cmds, CmdAudioPlay{Track: track})
		}
	}
	return cmds
}

func (s *EngineState) stopPlayback(at time.Time, cmds []Command) []Command {
	s.Player.Stop(at)
	if s.Audio.State == AudioPlaying {
		cmds = append(cmds, CmdAudioPause{})
	}
	return cmds
}

func (s *EngineState) changeScene(a ChangeScene, at time.Time, cfg EngineConfig, cmds []Command) []Command {
	s.Scene.Name = a.Name
	s.Scene.Generation++

	// Install the fallback synchronously so the player is immediately usable;
	// the real script hot-swaps in when the background load completes.
	s.Player.SetTimeline(DefaultTimeline())
	s.Player.Reset(at)

	cmds = append(cmds, CmdLoadTimeline{Scene: a.Name, Generation: s.Scene.Generation})

	if s.Audio.State == AudioPlaying || s.Audio.State == AudioPaused || s.Audio.State == AudioLoading {
		cmds = append(cmds, CmdAudioStop{})
	}
	if track := cfg.sceneTrack(a.Name); track != "" {
		cmds = append(cmds, CmdAudioPlay{Track: track})
	}

	if a.Origin != OriginRemote {
		cmds = append(cmds, CmdRemoteSend{Message: MsgSceneChange{Name: a.Name}})
	}
	return cmds
}

func (s *EngineState) controlBroadcast(at time.Time) BroadcastControlChanged {
	volume := s.Audio.Volume
	if s.Intent.DesiredVolume != nil {
		volume = *s.Intent.DesiredVolume
	}
	return BroadcastControlChanged{
		Playing:    s.Player.Running(),
		Scene:      s.Scene.Name,
		Volume:     volume,
		Brightness: s.View.Brightness,
		Night:      s.View.Night,
		At:         at,
	}
}

// computeFrame fuses the tick's consistent snapshot into one ParameterFrame.
// Intensity and color pass through from the timeline; the density hint scales
// a configured base by intensity and brightness.
func computeFrame(s *EngineState, ev Tick, cfg EngineConfig) ParameterFrame {
	intensity, color := s.Player.Sample(ev.Now)

	base := cfg.BaseDensity
	if s.View.Night {
		base = cfg.BaseDensityNight
	}
	hint := int(math.Round(float64(base) * (0.5 + intensity) * (0.5 + s.View.Brightness)))
	if hint < 0 {
		hint = 0
	}

	return ParameterFrame{
		Intensity:           intensity,
		Color:               color,
		AudioPower:          ev.AudioPower,
		Brightness:          s.View.Brightness,
		Night:               s.View.Night,
		ParticleDensityHint: hint,
		At:                  ev.Now,
	}
}
