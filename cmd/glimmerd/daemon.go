package main

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// ============================================================================
// Engine Loop - reducer-driven parameter synchronizer
// ============================================================================
//
// Design rules enforced here:
//   - The reducer performs no I/O and computes: next state + commands +
//     broadcasts.
//   - This loop is the only place that executes side effects (audio
//     transport, background loads, remote sends).
//   - Side-effect results are turned into Events and fed back into the
//     reducer; background goroutines deliver theirs through the events
//     channel so only the engine goroutine ever touches EngineState.
//   - Explicit event and command queues; no nested/re-entrant execution.
//
// ============================================================================

// FrameBus is the rendering-collaborator boundary: listeners subscribe for
// ParameterFrames and are notified synchronously after each tick.
type FrameBus struct {
	mu             sync.Mutex
	listeners      []func(ParameterFrame)
	sceneListeners []func(scene string, loaded bool)
	last           ParameterFrame
	has            bool
}

// Subscribe registers a listener for published frames. Listeners run on the
// engine goroutine and must not block.
func (b *FrameBus) Subscribe(fn func(ParameterFrame)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners = append(b.listeners, fn)
}

// SubscribeScene registers a listener for scene load/unload transitions.
func (b *FrameBus) SubscribeScene(fn func(scene string, loaded bool)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sceneListeners = append(b.sceneListeners, fn)
}

// Current returns the most recently published frame.
func (b *FrameBus) Current() (ParameterFrame, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.last, b.has
}

func (b *FrameBus) publish(f ParameterFrame) {
	b.mu.Lock()
	b.last = f
	b.has = true
	listeners := b.listeners
	b.mu.Unlock()
	for _, fn := range listeners {
		fn(f)
	}
}

func (b *FrameBus) publishScene(scene string, loaded bool) {
	b.mu.Lock()
	listeners := b.sceneListeners
	b.mu.Unlock()
	for _, fn := range listeners {
		fn(scene, loaded)
	}
}

// runEngine is the engine loop:
//   - Emits Tick events at the configured cadence (audio power pre-sampled)
//   - Receives actions and background observations from the events channel
//   - Reduces events into (state, commands, broadcasts)
//   - Executes commands and feeds observations back into the reducer
//   - Publishes frames to the FrameBus and broadcasts to the companion hub
//
// Exits when ctx is canceled or the events channel is closed.
func runEngine(
	ctx context.Context,
	events <-chan Event,
	runner *effectRunner,
	bus *FrameBus,
	broadcasts chan<- StateBroadcast,
	cfg EngineConfig,
	state *EngineState,
	logger *slog.Logger,
) {
	if state == nil {
		logger.Error("engine state is nil")
		return
	}

	tickInterval := time.Second / time.Duration(cfg.TickHz)
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	lastTick := time.Now()

	var eventQueue []Event
	var cmdQueue []Command

	enqueueEvent := func(ev Event) {
		eventQueue = append(eventQueue, ev)
	}

	emitBroadcasts := func(bcasts []StateBroadcast) {
		for _, b := range bcasts {
			switch bc := b.(type) {
			case BroadcastFrame:
				bus.publish(bc.Frame)
			case BroadcastSceneLifecycle:
				bus.publishScene(bc.Scene, bc.Loaded)
			}
			if broadcasts == nil {
				continue
			}
			select {
			case broadcasts <- b:
			default:
				// The hub broadcaster coalesces; a full queue just means the
				// companion sees the next frame instead of this one.
			}
		}
	}

	flushEvents := func() {
		for len(eventQueue) > 0 {
			ev := eventQueue[0]
			eventQueue = eventQueue[1:]

			rr := Reduce(state, ev, cfg)
			if rr.State != nil {
				state = rr.State
			}
			cmdQueue = append(cmdQueue, rr.Commands...)
			emitBroadcasts(rr.Broadcasts)
		}
	}

	flushCommands := func() {
		for len(cmdQueue) > 0 {
			cmd := cmdQueue[0]
			cmdQueue = cmdQueue[1:]

			runner.run(ctx, cmd, func(obs Event) {
				enqueueEvent(obs)
			})

			// Reduce observations promptly so follow-up commands (if any)
			// are sequenced behind the state they depend on.
			flushEvents()
		}
	}

	for {
		select {
		case <-ctx.Done():
			logger.Info("engine stopping (context canceled)")
			return

		case ev, ok := <-events:
			if !ok {
				logger.Info("engine stopping (events channel closed)")
				return
			}
			switch ev.(type) {
			case TimedEvent, Tick:
				enqueueEvent(ev)
			default:
				enqueueEvent(TimedEvent{Event: ev, At: time.Now()})
			}
			flushEvents()
			flushCommands()

		case now := <-ticker.C:
			dt := now.Sub(lastTick).Seconds()
			lastTick = now
			enqueueEvent(Tick{Now: now, Dt: dt, AudioPower: runner.transport.AveragePower()})
			flushEvents()
			flushCommands()
		}
	}
}
