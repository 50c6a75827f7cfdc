package main

import (
	"fmt"
	"time"
)

// This file implements the dial engine as a reducer:
//
//   - Events: rotation ticks, button presses, remote volume-set requests, time ticks
//   - Commands: side effects requested by the reducer (haptic pulses, publishes, snapshot replies)
//   - Reduce(): computes next state + commands, without performing I/O
//
// The reducer must be pure. It never reads the clock: arrival times come in on
// TimedEvent and Tick. The daemon loop executes the returned Commands.

// BacklashTimeoutPolicy decides what the inactivity timeout does while a
// backlash episode is still open.
type BacklashTimeoutPolicy string

const (
	// BacklashTimeoutDrain commits the buffered sum (as a cancellation would)
	// and goes idle.
	BacklashTimeoutDrain BacklashTimeoutPolicy = "drain"

	// BacklashTimeoutHold keeps the episode open until further ticks resolve it.
	BacklashTimeoutHold BacklashTimeoutPolicy = "hold"
)

func parseBacklashTimeoutPolicy(s string) (BacklashTimeoutPolicy, error) {
	switch BacklashTimeoutPolicy(s) {
	case BacklashTimeoutDrain, "":
		return BacklashTimeoutDrain, nil
	case BacklashTimeoutHold:
		return BacklashTimeoutHold, nil
	default:
		return "", fmt.Errorf("invalid backlash timeout policy %q (expected drain|hold)", s)
	}
}

// EngineConfig holds the reducer's tunables.
type EngineConfig struct {
	UnitSize         int
	ConfirmThreshold uint
	CancelThreshold  uint
	IdleTimeout      time.Duration
	MaxTickMagnitude int32
	BacklashTimeout  BacklashTimeoutPolicy
}

// DefaultEngineConfig returns the stock thresholds.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		UnitSize:         defaultUnitSize,
		ConfirmThreshold: defaultConfirmThreshold,
		CancelThreshold:  defaultCancelThreshold,
		IdleTimeout:      defaultIdleTimeoutMS * time.Millisecond,
		MaxTickMagnitude: defaultMaxTickMagnitude,
		BacklashTimeout:  BacklashTimeoutDrain,
	}
}

// withDefaults fills zero fields so a zero EngineConfig behaves like the default.
func (c EngineConfig) withDefaults() EngineConfig {
	d := DefaultEngineConfig()
	if c.UnitSize <= 0 {
		c.UnitSize = d.UnitSize
	}
	if c.ConfirmThreshold == 0 {
		c.ConfirmThreshold = d.ConfirmThreshold
	}
	if c.CancelThreshold == 0 {
		c.CancelThreshold = d.CancelThreshold
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = d.IdleTimeout
	}
	if c.BacklashTimeout == "" {
		c.BacklashTimeout = d.BacklashTimeout
	}
	return c
}

// ReduceResult is the output of Reduce(): next state plus the Commands to execute.
type ReduceResult struct {
	State    *DialState
	Commands []Command
}

// Reduce is the pure reducer.
//
// Rules:
// - Must not perform I/O
// - Must not block
// - A commit and the mode change it causes land in the same call, so no
//   observer ever sees one without the other
func Reduce(s *DialState, e Event, cfg EngineConfig) ReduceResult {
	if s == nil {
		s = NewDialState(defaultInitialVolume)
	}
	if s.Mode == nil {
		s.Mode = IdleMode{}
	}

	r := reduction{
		s:        s,
		cfg:      cfg.withDefaults(),
		prevMode: modeName(s.Mode),
	}

	at := s.LastActivity
	if te, ok := e.(TimedEvent); ok {
		e = te.Event
		if !te.At.IsZero() {
			at = te.At
		}
	}

	switch ev := e.(type) {
	case RawEvent:
		r.rotate(ev, at)

	case ButtonPress:
		r.press(at)

	case RemoteSetVolume:
		r.remoteSet(ev)

	case Tick:
		now := ev.Now
		if now.IsZero() {
			now = at
		}
		r.tick(now)

	case RequestStateSnapshot:
		r.cmds = append(r.cmds, CmdReplySnapshot{Reply: ev.Reply, Snapshot: s.Snapshot()})

	default:
		// Unknown event type: no-op.
	}

	return r.finish()
}

// reduction carries the bookkeeping for one Reduce call.
type reduction struct {
	s        *DialState
	cfg      EngineConfig
	prevMode string
	outcome  Outcome
	cmds     []Command
}

func (r *reduction) rotate(ev RawEvent, at time.Time) {
	r.s.LastActivity = at

	if ev.degenerate(r.cfg.MaxTickMagnitude) {
		r.wake(NoDirection)
		return
	}

	switch m := r.s.Mode.(type) {
	case IdleMode:
		r.wake(ev.Direction)
		r.commit(int(ev.Magnitude))

	case ActiveMode:
		if m.LastDirection != NoDirection && ev.Direction != m.LastDirection {
			// The sub-point leftover belongs to the old direction and never
			// became a volume point, so it is dropped rather than buffered.
			r.s.Volume.DiscardRemainder()
			r.s.Mode = BacklashMode{Ctx: enterBacklash(m.LastDirection, ev)}
			return
		}
		r.s.Mode = ActiveMode{LastDirection: ev.Direction}
		r.commit(int(ev.Magnitude))

	case BacklashMode:
		ctx := m.Ctx
		verdict := ctx.absorb(ev, r.cfg.ConfirmThreshold, r.cfg.CancelThreshold)
		r.outcome.Verdict = verdict
		if verdict == backlashPending {
			r.s.Mode = BacklashMode{Ctx: ctx}
			return
		}
		r.s.Mode = ActiveMode{LastDirection: ev.Direction}
		r.commit(ctx.BufferedSum)
	}
}

func (r *reduction) press(at time.Time) {
	r.s.LastActivity = at
	count := r.s.Clicks.Press()
	r.cmds = append(r.cmds, CmdPublishClicks{Count: count})
	r.wake(NoDirection)
}

func (r *reduction) remoteSet(ev RemoteSetVolume) {
	if _, idle := r.s.Mode.(IdleMode); !idle {
		return
	}
	res := r.s.Volume.SetAbsolute(ev.Volume)
	r.cmds = append(r.cmds, CmdPublishVolume{Volume: res.Volume, DecadeCrossed: res.DecadeCrossed})
}

func (r *reduction) tick(now time.Time) {
	if now.Sub(r.s.LastActivity) < r.cfg.IdleTimeout {
		return
	}

	switch m := r.s.Mode.(type) {
	case ActiveMode:
		r.s.Mode = IdleMode{}

	case BacklashMode:
		if r.cfg.BacklashTimeout == BacklashTimeoutHold {
			return
		}
		r.s.Mode = IdleMode{}
		r.commit(m.Ctx.BufferedSum)
	}
}

// wake moves Idle to Active. It is a no-op in any other mode.
func (r *reduction) wake(dir Direction) {
	if _, idle := r.s.Mode.(IdleMode); !idle {
		return
	}
	r.s.Mode = ActiveMode{LastDirection: dir}
	r.outcome.Woke = true
}

func (r *reduction) commit(delta int) {
	res := r.s.Volume.Commit(delta, r.cfg.UnitSize)
	r.outcome.Committed = true
	r.outcome.Commit = res
	if res.Changed() {
		r.cmds = append(r.cmds, CmdPublishVolume{Volume: res.Volume, DecadeCrossed: res.DecadeCrossed})
	}
}

func (r *reduction) finish() ReduceResult {
	if next := modeName(r.s.Mode); next != r.prevMode {
		r.cmds = append(r.cmds, CmdPublishMode{Mode: next})
	}
	if reason, ok := buzzReason(r.outcome); ok {
		r.cmds = append(r.cmds, CmdBuzz{Reason: reason})
	}
	return ReduceResult{
		State:    r.s,
		Commands: r.cmds,
	}
}
