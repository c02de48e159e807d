package main

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// effectRunner executes reducer-emitted commands. It is the only place where
// commands touch the outside world (audio transport, asset reads, remote
// sends).
//
// Fast commands run inline and report through onEvent. Slow commands (decode,
// disk reads) run on background goroutines and report through the events
// channel, which serializes their observations back onto the engine
// goroutine.
type effectRunner struct {
	transport *AudioTransport
	assets    AssetProvider
	remote    *RemoteChannel
	cfg       EngineConfig
	events    chan<- Event
	logger    *slog.Logger
}

func newEffectRunner(
	transport *AudioTransport,
	assets AssetProvider,
	remote *RemoteChannel,
	cfg EngineConfig,
	events chan<- Event,
	logger *slog.Logger,
) *effectRunner {
	return &effectRunner{
		transport: transport,
		assets:    assets,
		remote:    remote,
		cfg:       cfg,
		events:    events,
		logger:    logger,
	}
}

// run executes a single command. onEvent delivers observations produced
// synchronously; background goroutines use r.events instead.
func (r *effectRunner) run(ctx context.Context, cmd Command, onEvent func(Event)) {
	r.logger.Debug("executing command", "cmd", cmd.String())

	switch c := cmd.(type) {
	case CmdAudioPlay:
		go r.playTrack(ctx, c)

	case CmdAudioPause:
		r.transport.Pause()
		onEvent(r.audioObservation())

	case CmdAudioResume:
		r.transport.Resume()
		onEvent(r.audioObservation())

	case CmdAudioStop:
		r.transport.Stop()
		onEvent(r.audioObservation())

	case CmdAudioSetVolume:
		r.transport.SetVolume(c.Level)
		onEvent(r.audioObservation())

	case CmdLoadTimeline:
		go r.loadTimeline(ctx, c)

	case CmdRemoteSend:
		if err := r.remote.Send(c.Message); err != nil {
			if errors.Is(err, ErrRemoteUnavailable) {
				r.logger.Debug("remote mirror skipped, no companion", "msg", c.String())
			} else {
				r.logger.Warn("remote send failed", "msg", c.String(), "error", err)
			}
		}

	case CmdPublishSnapshot:
		select {
		case c.Reply <- c.Frame:
		default:
			// Requester went away; drop the snapshot.
		}

	default:
		r.logger.Warn("unknown command", "cmd", cmd.String())
	}
}

func (r *effectRunner) audioObservation() AudioObserved {
	return AudioObserved{
		State:  r.transport.State(),
		Volume: r.transport.Volume(),
		At:     time.Now(),
	}
}

// playTrack decodes and starts a track on a background goroutine. Decode
// failures are soft: the transport stays Idle and the visuals keep running.
func (r *effectRunner) playTrack(ctx context.Context, c CmdAudioPlay) {
	err := r.transport.Play(c.Track)
	if err != nil {
		r.logger.Warn("audio playback failed", "track", c.Track, "error", err)
		r.deliver(ctx, AudioCommandFailed{Command: c, Err: err, At: time.Now()})
	}
	r.deliver(ctx, r.audioObservation())
}

// loadTimeline reads and parses a scene script on a background goroutine.
// The result carries the scene generation so the reducer can discard it if
// the scene changed while the load was in flight.
func (r *effectRunner) loadTimeline(ctx context.Context, c CmdLoadTimeline) {
	script := r.cfg.sceneScript(c.Scene)

	raw, err := r.assets.ReadAsset(script)
	if err != nil {
		r.logger.Warn("scene script unreadable, keeping fallback timeline",
			"scene", c.Scene, "script", script, "error", err)
		r.deliver(ctx, TimelineLoadFailed{Scene: c.Scene, Generation: c.Generation, Err: err, At: time.Now()})
		return
	}

	tl, err := ParseTimeline(c.Scene, raw)
	if err != nil {
		r.logger.Warn("scene script invalid, keeping fallback timeline",
			"scene", c.Scene, "script", script, "error", err)
		r.deliver(ctx, TimelineLoadFailed{Scene: c.Scene, Generation: c.Generation, Err: err, At: time.Now()})
		return
	}

	r.logger.Info("scene script loaded",
		"scene", c.Scene, "script", script,
		"duration_s", tl.DurationS, "keypoints", len(tl.Points))
	r.deliver(ctx, TimelineLoaded{Scene: c.Scene, Generation: c.Generation, Timeline: tl, At: time.Now()})
}

func (r *effectRunner) deliver(ctx context.Context, ev Event) {
	select {
	case r.events <- ev:
	case <-ctx.Done():
	}
}
