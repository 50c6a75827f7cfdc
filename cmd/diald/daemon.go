package main

import (
	"context"
	"log/slog"
	"time"
)

// ============================================================================
// Central Daemon Loop
// ============================================================================
//
// Design rules enforced here:
//   - The reducer performs no I/O and computes: next state + commands.
//   - The daemon loop is the only goroutine that touches DialState.
//   - Every producer (dial input, IPC, MQTT, websocket snapshot requests)
//     shares one events channel, so a remote volume-set can never land in the
//     middle of a hardware commit.
//   - The inactivity check is a Tick merged into the same sequence.
//
// ============================================================================

// runDaemon is the main daemon loop that:
//   - Receives Events from every producer and stamps their arrival time
//   - Emits Tick events on a fixed cadence
//   - Reduces events into (state, commands)
//   - Hands commands to the sink workers
//
// Shutdown semantics:
//   - Exits when ctx is canceled
//   - Exits cleanly when the events channel is closed
func runDaemon(
	ctx context.Context,
	events <-chan Event,
	sinks *Sinks,
	state *DialState,
	cfg EngineConfig,
	tickInterval time.Duration,
	logger *slog.Logger,
) {
	if state == nil {
		logger.Error("daemon state is nil")
		return
	}

	if tickInterval <= 0 {
		tickInterval = defaultIdleCheckMS * time.Millisecond
	}
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	// Explicit queues:
	// - eventQueue holds events awaiting reduction
	// - cmdQueue holds commands awaiting execution
	var eventQueue []Event
	var cmdQueue []Command

	enqueueEvent := func(ev Event) {
		eventQueue = append(eventQueue, ev)
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
		}
	}

	flushCommands := func() {
		for len(cmdQueue) > 0 {
			cmd := cmdQueue[0]
			cmdQueue = cmdQueue[1:]
			runEffect(sinks, cmd, logger)
		}
	}

	stopping := func(reason string) {
		snap := state.Snapshot()
		logger.Info("daemon stopping",
			"reason", reason,
			"mode", snap.Mode,
			"volume", snap.Volume,
			"clicks", snap.Clicks,
			"pending_raw", state.pendingDelta(),
		)
	}

	for {
		select {
		case <-ctx.Done():
			stopping("context canceled")
			return

		case ev, ok := <-events:
			if !ok {
				stopping("events channel closed")
				return
			}
			enqueueEvent(TimedEvent{Event: ev, At: time.Now()})
			flushEvents()
			flushCommands()

		case now := <-ticker.C:
			enqueueEvent(Tick{Now: now})
			flushEvents()
			flushCommands()
		}
	}
}
