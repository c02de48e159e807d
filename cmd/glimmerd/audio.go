package main

import (
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/effects"
	"github.com/faiface/beep/speaker"
)

// AudioState is the transport state machine position.
//
//	Idle -> Loading -> Playing <-> Paused -> Idle
//
// A failed load collapses back to Idle; Stop from any state returns to Idle.
type AudioState string

const (
	AudioIdle    AudioState = "idle"
	AudioLoading AudioState = "loading"
	AudioPlaying AudioState = "playing"
	AudioPaused  AudioState = "paused"
)

// TrackSource decodes a named audio asset into a playback stream.
// beepSource is the production implementation; tests substitute a stub.
type TrackSource interface {
	OpenTrack(name string) (beep.StreamSeekCloser, beep.Format, error)
}

// audioSink abstracts the speaker so the transport can run headless in tests.
type audioSink interface {
	Init(sr beep.SampleRate, bufSize int) error
	Play(s beep.Streamer)
	Lock()
	Unlock()
	Clear()
}

// speakerSink routes to the real output device.
type speakerSink struct{}

func (speakerSink) Init(sr beep.SampleRate, bufSize int) error { return speaker.Init(sr, bufSize) }
func (speakerSink) Play(s beep.Streamer)                       { speaker.Play(s) }
func (speakerSink) Lock()                                      { speaker.Lock() }
func (speakerSink) Unlock()                                    { speaker.Unlock() }
func (speakerSink) Clear()                                     { speaker.Clear() }

// AudioTransport is the independent audio playback state machine. It is safe
// for use from the engine loop and from background load goroutines; all state
// is guarded by one mutex, and streamer mutation additionally happens under
// the sink lock so the mixer never observes a half-applied change.
type AudioTransport struct {
	mu     sync.Mutex
	logger *slog.Logger
	source TrackSource
	sink   audioSink
	now    func() time.Time

	state  AudioState
	track  string
	format beep.Format
	stream beep.StreamSeekCloser
	ctrl   *beep.Ctrl
	volume *effects.Volume

	level     float64 // user volume in [0,1]
	sinkReady bool
	epoch     time.Time
}

func NewAudioTransport(source TrackSource, sink audioSink, logger *slog.Logger) *AudioTransport {
	return &AudioTransport{
		logger: logger,
		source: source,
		sink:   sink,
		now:    time.Now,
		state:  AudioIdle,
		level:  defaultVolume,
		epoch:  time.Now(),
	}
}

// Play decodes and starts the named track. Decoding blocks, so the engine
// runs Play on a background goroutine and consumes the result as an event.
// A missing or undecodable asset leaves the transport Idle and returns the
// failure to the caller; it is never fatal.
//
// The track loops indefinitely at natural end-of-track until explicitly
// stopped.
func (t *AudioTransport) Play(track string) error {
	t.mu.Lock()
	if t.state == AudioPlaying || t.state == AudioPaused {
		t.teardownLocked()
	}
	t.state = AudioLoading
	t.track = track
	t.mu.Unlock()

	stream, format, err := t.source.OpenTrack(track)
	if err != nil {
		t.mu.Lock()
		if t.state == AudioLoading && t.track == track {
			t.state = AudioIdle
			t.track = ""
		}
		t.mu.Unlock()
		return fmt.Errorf("open track %q: %w", track, err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != AudioLoading || t.track != track {
		// Stopped or replaced while decoding; discard the late result.
		stream.Close()
		return nil
	}
	if !t.sinkReady {
		if err := t.sink.Init(format.SampleRate, format.SampleRate.N(time.Second/10)); err != nil {
			t.state = AudioIdle
			t.track = ""
			stream.Close()
			return fmt.Errorf("init audio sink: %w", err)
		}
		t.sinkReady = true
	}

	t.stream = stream
	t.format = format
	t.ctrl = &beep.Ctrl{Streamer: beep.Loop(-1, stream)}
	t.volume = &effects.Volume{Streamer: t.ctrl, Base: 2}
	t.applyLevelLocked()
	t.state = AudioPlaying
	t.sink.Play(t.volume)
	return nil
}

// Pause transitions Playing -> Paused, retaining position.
func (t *AudioTransport) Pause() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != AudioPlaying || t.ctrl == nil {
		return
	}
	t.sink.Lock()
	t.ctrl.Paused = true
	t.sink.Unlock()
	t.state = AudioPaused
}

// Resume transitions Paused -> Playing from the retained position.
func (t *AudioTransport) Resume() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != AudioPaused || t.ctrl == nil {
		return
	}
	t.sink.Lock()
	t.ctrl.Paused = false
	t.sink.Unlock()
	t.state = AudioPlaying
}

// Stop returns the transport to Idle from any state and resets position to 0.
// A load still in flight is abandoned; its late result is discarded.
func (t *AudioTransport) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.teardownLocked()
}

func (t *AudioTransport) teardownLocked() {
	if t.stream != nil {
		t.sink.Clear()
		t.stream.Close()
	}
	t.stream = nil
	t.ctrl = nil
	t.volume = nil
	t.track = ""
	t.state = AudioIdle
}

// SetVolume clamps to [0,1] and applies immediately regardless of state.
func (t *AudioTransport) SetVolume(v float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.level = clamp01(v)
	if t.volume == nil {
		return
	}
	t.sink.Lock()
	t.applyLevelLocked()
	t.sink.Unlock()
}

// applyLevelLocked maps the linear [0,1] level onto the exponential volume
// control: 0 is silent, 1 is unity gain, with roughly -24 dB at the low end.
func (t *AudioTransport) applyLevelLocked() {
	if t.volume == nil {
		return
	}
	t.volume.Silent = t.level == 0
	t.volume.Volume = (t.level - 1) * 4
}

// Volume returns the current user volume level.
func (t *AudioTransport) Volume() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.level
}

// State returns the current state machine position.
func (t *AudioTransport) State() AudioState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Position is the playback offset into the current track, 0 when Idle.
func (t *AudioTransport) Position() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stream == nil {
		return 0
	}
	t.sink.Lock()
	n := t.stream.Position()
	t.sink.Unlock()
	return t.format.SampleRate.D(n)
}

// Duration is the length of the current track, 0 when Idle.
func (t *AudioTransport) Duration() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stream == nil {
		return 0
	}
	return t.format.SampleRate.D(t.stream.Len())
}

// AveragePower approximates loudness in [0,1]. beep exposes no tap into the
// mixer, so this is a deterministic-looking synthetic signal: two slow
// sinusoids of elapsed wall time. It varies continuously tick-to-tick and is
// never constant, which is what the downstream visuals need from it.
func (t *AudioTransport) AveragePower() float64 {
	t.mu.Lock()
	elapsed := t.now().Sub(t.epoch).Seconds()
	t.mu.Unlock()
	return syntheticPower(elapsed)
}

func syntheticPower(elapsed float64) float64 {
	p := 0.5 +
		0.3*math.Sin(2*math.Pi*elapsed/powerSlowPeriodS) +
		0.2*math.Sin(2*math.Pi*elapsed/powerFastPeriodS)
	return clamp01(p)
}
