package main

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// reducerHarness drives Reduce with a synthetic clock.
type reducerHarness struct {
	t   *testing.T
	s   *DialState
	cfg EngineConfig
	now time.Time
	seq uint64
}

func newReducerHarness(t *testing.T, volume int) *reducerHarness {
	t.Helper()
	return &reducerHarness{
		t:   t,
		s:   NewDialState(volume),
		cfg: DefaultEngineConfig(),
		now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC),
	}
}

func (h *reducerHarness) send(e Event) []Command {
	h.t.Helper()
	rr := Reduce(h.s, TimedEvent{Event: e, At: h.now}, h.cfg)
	require.NotNil(h.t, rr.State)
	h.s = rr.State
	assertInvariants(h.t, h.s)
	return rr.Commands
}

func (h *reducerHarness) rotate(value int32) []Command {
	h.seq++
	return h.send(NewRawEvent(value, h.seq))
}

func (h *reducerHarness) rotateN(n int, value int32) []Command {
	var all []Command
	for i := 0; i < n; i++ {
		all = append(all, h.rotate(value)...)
	}
	return all
}

func (h *reducerHarness) tick() []Command {
	h.t.Helper()
	rr := Reduce(h.s, Tick{Now: h.now}, h.cfg)
	h.s = rr.State
	assertInvariants(h.t, h.s)
	return rr.Commands
}

func (h *reducerHarness) advance(d time.Duration) { h.now = h.now.Add(d) }

func (h *reducerHarness) mode() string { return modeName(h.s.Mode) }

func assertInvariants(t *testing.T, s *DialState) {
	t.Helper()
	require.GreaterOrEqual(t, s.Volume.Volume, minVolume)
	require.LessOrEqual(t, s.Volume.Volume, maxVolume)
	require.GreaterOrEqual(t, s.Volume.Remainder, 0)
	require.Less(t, s.Volume.Remainder, defaultUnitSize)
}

func buzzReasons(cmds []Command) []BuzzReason {
	var out []BuzzReason
	for _, c := range cmds {
		if b, ok := c.(CmdBuzz); ok {
			out = append(out, b.Reason)
		}
	}
	return out
}

func publishedVolumes(cmds []Command) []int {
	var out []int
	for _, c := range cmds {
		if v, ok := c.(CmdPublishVolume); ok {
			out = append(out, v.Volume)
		}
	}
	return out
}

func publishedModes(cmds []Command) []string {
	var out []string
	for _, c := range cmds {
		if m, ok := c.(CmdPublishMode); ok {
			out = append(out, m.Mode)
		}
	}
	return out
}

func TestReduce_WakeScenario(t *testing.T) {
	h := newReducerHarness(t, 50)

	first := h.rotate(5)
	assert.Equal(t, []BuzzReason{BuzzWake}, buzzReasons(first))
	assert.Equal(t, []string{"active"}, publishedModes(first))
	assert.Empty(t, publishedVolumes(first))

	rest := h.rotateN(7, 5)
	assert.Empty(t, buzzReasons(rest), "no decade or other buzz expected")
	assert.Equal(t, []int{51}, publishedVolumes(rest))
	assert.Equal(t, 51, h.s.Volume.Volume)
	assert.Zero(t, h.s.Volume.Remainder)
}

func TestReduce_FortyNineToFiftyDoesNotBuzz(t *testing.T) {
	h := newReducerHarness(t, 49)
	h.rotate(1) // wake
	cmds := h.rotate(39)

	assert.Equal(t, 50, h.s.Volume.Volume)
	assert.Equal(t, []int{50}, publishedVolumes(cmds))
	assert.Empty(t, buzzReasons(cmds))
}

func TestReduce_BoundaryBuzzOnlyWhenNewlyReached(t *testing.T) {
	h := newReducerHarness(t, 99)
	h.rotate(1)

	cmds := h.rotate(39)
	assert.Equal(t, 100, h.s.Volume.Volume)
	assert.Equal(t, []BuzzReason{BuzzBoundary}, buzzReasons(cmds))

	cmds = h.rotateN(3, 40)
	assert.Empty(t, buzzReasons(cmds))
	assert.Empty(t, publishedVolumes(cmds))
	assert.Equal(t, 100, h.s.Volume.Volume)
}

func TestReduce_ReversalEntersBacklashWithoutCommitting(t *testing.T) {
	h := newReducerHarness(t, 50)
	h.rotate(20)
	require.Equal(t, 20, h.s.Volume.Remainder)

	cmds := h.rotate(-5)
	assert.Equal(t, "backlash", h.mode())
	assert.Equal(t, []string{"backlash"}, publishedModes(cmds))
	assert.Empty(t, buzzReasons(cmds))
	assert.Equal(t, 50, h.s.Volume.Volume)
	assert.Zero(t, h.s.Volume.Remainder, "remainder of the old direction is discarded")

	// Fewer than 10 original and fewer than 50 new: still pending.
	h.rotateN(30, -5)
	h.rotateN(9, 5)
	assert.Equal(t, "backlash", h.mode())
	assert.Equal(t, 50, h.s.Volume.Volume)
}

func TestReduce_ConfirmedReversal(t *testing.T) {
	h := newReducerHarness(t, 50)
	h.rotate(20)
	h.rotate(-5) // trigger

	cmds := h.rotateN(49, -5)
	assert.Equal(t, "backlash", h.mode())
	assert.Empty(t, publishedVolumes(cmds))

	cmds = h.rotate(-5)
	assert.Equal(t, "active", h.mode())
	assert.Equal(t, []BuzzReason{BuzzConfirmedReversal}, buzzReasons(cmds))
	assert.Equal(t, []string{"active"}, publishedModes(cmds))

	// Buffered -255 (trigger + 50 ticks) holds six whole units; 15 raw units
	// are carried downward.
	assert.Equal(t, 44, h.s.Volume.Volume)
	assert.Equal(t, 15, h.s.Volume.Remainder)
	assert.Equal(t, Negative, h.s.Volume.Heading)
	assert.Equal(t, []int{44}, publishedVolumes(cmds))

	m, ok := h.s.Mode.(ActiveMode)
	require.True(t, ok)
	assert.Equal(t, Negative, m.LastDirection)
}

func TestReduce_CancelledReversal(t *testing.T) {
	h := newReducerHarness(t, 50)
	h.rotate(20)
	h.rotate(-5)

	h.rotateN(9, 5)
	cmds := h.rotate(5)

	assert.Equal(t, "active", h.mode())
	assert.Empty(t, buzzReasons(cmds), "cancellation does not buzz")
	// Buffered -5 + 50 = 45 on a zeroed remainder.
	assert.Equal(t, 51, h.s.Volume.Volume)
	assert.Equal(t, 5, h.s.Volume.Remainder)

	m := h.s.Mode.(ActiveMode)
	assert.Equal(t, Positive, m.LastDirection)

	// Continuing in the original direction is a plain commit, not a new episode.
	h.rotate(5)
	assert.Equal(t, "active", h.mode())
}

func TestReduce_RemoteSetOnlyWhenIdle(t *testing.T) {
	h := newReducerHarness(t, 20)
	h.s.Volume.Remainder = 17
	h.s.Volume.Heading = Positive

	cmds := h.send(RemoteSetVolume{Volume: 55, Origin: "test"})
	assert.Equal(t, 55, h.s.Volume.Volume)
	assert.Zero(t, h.s.Volume.Remainder)
	assert.Equal(t, NoDirection, h.s.Volume.Heading)
	assert.Equal(t, []int{55}, publishedVolumes(cmds))
	assert.Empty(t, buzzReasons(cmds))
	assert.Equal(t, "idle", h.mode())

	// Same value again is still published.
	cmds = h.send(RemoteSetVolume{Volume: 55})
	assert.Equal(t, []int{55}, publishedVolumes(cmds))

	h.rotate(5)
	require.Equal(t, "active", h.mode())
	cmds = h.send(RemoteSetVolume{Volume: 10})
	assert.Empty(t, cmds)
	assert.Equal(t, 55, h.s.Volume.Volume)

	h.rotate(-5)
	require.Equal(t, "backlash", h.mode())
	cmds = h.send(RemoteSetVolume{Volume: 10})
	assert.Empty(t, cmds)
	assert.Equal(t, 55, h.s.Volume.Volume)
}

func TestReduce_RemoteSetClamps(t *testing.T) {
	h := newReducerHarness(t, 20)

	h.send(RemoteSetVolume{Volume: 150})
	assert.Equal(t, 100, h.s.Volume.Volume)

	h.send(RemoteSetVolume{Volume: -4})
	assert.Equal(t, 0, h.s.Volume.Volume)
}

func TestReduce_InactivityTimeout(t *testing.T) {
	h := newReducerHarness(t, 50)
	h.rotate(5)

	h.advance(29 * time.Second)
	assert.Empty(t, h.tick())
	assert.Equal(t, "active", h.mode())

	// Activity resets the timer.
	h.rotate(5)
	h.advance(29 * time.Second)
	h.tick()
	assert.Equal(t, "active", h.mode())

	h.advance(time.Second)
	cmds := h.tick()
	assert.Equal(t, "idle", h.mode())
	assert.Equal(t, []string{"idle"}, publishedModes(cmds))
	assert.Empty(t, buzzReasons(cmds))

	// Next tick wakes again with a buzz.
	cmds = h.rotate(5)
	assert.Equal(t, []BuzzReason{BuzzWake}, buzzReasons(cmds))
}

func TestReduce_IdleTickIsNoop(t *testing.T) {
	h := newReducerHarness(t, 50)
	h.advance(time.Hour)
	assert.Empty(t, h.tick())
	assert.Equal(t, "idle", h.mode())
}

func TestReduce_BacklashTimeoutDrain(t *testing.T) {
	h := newReducerHarness(t, 50)
	h.rotate(20)
	h.rotate(-30)
	h.rotateN(3, 5)

	h.advance(30 * time.Second)
	cmds := h.tick()

	assert.Equal(t, "idle", h.mode())
	// Buffered -30 + 15 = -15 on a zeroed remainder: not a whole unit.
	assert.Equal(t, 50, h.s.Volume.Volume)
	assert.Equal(t, 15, h.s.Volume.Remainder)
	assert.Equal(t, Negative, h.s.Volume.Heading)
	assert.Empty(t, publishedVolumes(cmds))
	assert.Equal(t, []string{"idle"}, publishedModes(cmds))
	assert.Empty(t, buzzReasons(cmds))
}

func TestReduce_BacklashTimeoutHold(t *testing.T) {
	h := newReducerHarness(t, 50)
	h.cfg.BacklashTimeout = BacklashTimeoutHold
	h.rotate(20)
	h.rotate(-30)

	h.advance(10 * time.Minute)
	assert.Empty(t, h.tick())
	assert.Equal(t, "backlash", h.mode())
	assert.Equal(t, -30, h.s.pendingDelta())
}

func TestReduce_ButtonPress(t *testing.T) {
	h := newReducerHarness(t, 50)

	cmds := h.send(ButtonPress{Seq: 1})
	assert.Equal(t, uint64(1), h.s.Clicks.Count)
	assert.Contains(t, cmds, Command(CmdPublishClicks{Count: 1}))
	assert.Equal(t, []BuzzReason{BuzzWake}, buzzReasons(cmds))
	assert.Equal(t, "active", h.mode())
	assert.Equal(t, h.now, h.s.LastActivity)

	// A press in Active does not buzz.
	cmds = h.send(ButtonPress{Seq: 2})
	assert.Empty(t, buzzReasons(cmds))

	// A press in Backlash leaves the episode untouched.
	h.rotate(5)
	h.rotate(-5)
	h.rotateN(3, -5)
	before := h.s.Mode.(BacklashMode).Ctx

	h.advance(time.Second)
	cmds = h.send(ButtonPress{Seq: 3})
	assert.Equal(t, []Command{CmdPublishClicks{Count: 3}}, cmds)
	assert.Equal(t, before, h.s.Mode.(BacklashMode).Ctx)
	assert.Equal(t, h.now, h.s.LastActivity)
}

func TestReduce_DegenerateTicksArePulses(t *testing.T) {
	h := newReducerHarness(t, 50)

	cmds := h.rotate(0)
	assert.Equal(t, "active", h.mode(), "a degenerate tick still wakes")
	assert.Equal(t, []BuzzReason{BuzzWake}, buzzReasons(cmds))
	assert.Equal(t, VolumeState{Volume: 50}, h.s.Volume)

	h.rotate(5000)
	assert.Equal(t, VolumeState{Volume: 50}, h.s.Volume)

	// Direction disagreeing with the sign.
	h.send(RawEvent{Direction: Negative, Magnitude: 10})
	assert.Equal(t, VolumeState{Volume: 50}, h.s.Volume)

	// The timer was reset by the pulses.
	h.advance(20 * time.Second)
	h.rotate(0)
	h.advance(20 * time.Second)
	h.tick()
	assert.Equal(t, "active", h.mode())

	// And a real tick after a pulse-wake is not a reversal.
	h.rotate(-40)
	assert.Equal(t, "active", h.mode())
	assert.Equal(t, 49, h.s.Volume.Volume)
}

func TestReduce_DegenerateDoesNotDisturbBacklash(t *testing.T) {
	h := newReducerHarness(t, 50)
	h.rotate(5)
	h.rotate(-5)
	h.rotateN(4, 5)
	before := h.s.Mode.(BacklashMode).Ctx

	h.rotate(0)
	assert.Equal(t, before, h.s.Mode.(BacklashMode).Ctx)
}

func TestReduce_SnapshotRequest(t *testing.T) {
	h := newReducerHarness(t, 42)
	reply := make(chan StateSnapshot, 1)

	cmds := h.send(RequestStateSnapshot{Reply: reply})
	require.Len(t, cmds, 1)
	c, ok := cmds[0].(CmdReplySnapshot)
	require.True(t, ok)
	assert.Equal(t, 42, c.Snapshot.Volume)
	assert.Equal(t, "idle", c.Snapshot.Mode)
	assert.Nil(t, c.Snapshot.Backlash)
}

func TestReduce_NilStateAndZeroConfig(t *testing.T) {
	rr := Reduce(nil, NewRawEvent(40, 1), EngineConfig{})
	require.NotNil(t, rr.State)
	assert.Equal(t, defaultInitialVolume+1, rr.State.Volume.Volume)
}

// Every delivered raw unit is either committed or held in the open episode.
// UnitSize 1 and a mid-range start keep remainder and clamping out of the
// accounting.
func TestReduce_NoTickIsLost(t *testing.T) {
	rng := rand.New(rand.NewSource(7))

	for trial := 0; trial < 200; trial++ {
		h := newReducerHarness(t, 50)
		h.cfg.UnitSize = 1
		h.cfg.ConfirmThreshold = 6
		h.cfg.CancelThreshold = 3

		total := 0
		for i := 0; i < 40; i++ {
			v := int32(1)
			if rng.Intn(2) == 0 {
				v = -1
			}
			total += int(v)
			h.rotate(v)

			committed := h.s.Volume.Volume - 50
			require.Equal(t, total, committed+h.s.pendingDelta(), "trial %d step %d", trial, i)
		}
	}
}

// ledger is the raw position the engine accounts for: committed points,
// the signed leftover and whatever an open episode holds.
func ledger(s *DialState) int {
	return defaultUnitSize*s.Volume.Volume + s.Volume.signedRemainder() + s.pendingDelta()
}

// With the stock unit size every raw unit is committed, carried or buffered.
// The only loss is the sub-unit leftover dropped when a reversal opens an
// episode. Starting mid-range with small ticks keeps clamping out of it.
func TestReduce_RawUnitsAreConserved(t *testing.T) {
	rng := rand.New(rand.NewSource(11))

	for trial := 0; trial < 200; trial++ {
		h := newReducerHarness(t, 50)
		h.cfg.ConfirmThreshold = 6
		h.cfg.CancelThreshold = 3

		dir := int32(1)
		for i := 0; i < 60; i++ {
			if rng.Intn(4) == 0 {
				dir = -dir
			}
			v := dir * int32(1+rng.Intn(20))

			before := ledger(h.s)
			carried := h.s.Volume.signedRemainder()
			_, wasActive := h.s.Mode.(ActiveMode)

			h.rotate(v)

			want := before + int(v)
			if _, nowBacklash := h.s.Mode.(BacklashMode); wasActive && nowBacklash {
				require.Less(t, abs(carried), defaultUnitSize)
				want -= carried
			}
			require.Equal(t, want, ledger(h.s), "trial %d step %d", trial, i)
		}
	}
}

func TestReduce_SingleDownwardUnitDoesNotMoveVolume(t *testing.T) {
	h := newReducerHarness(t, 50)

	cmds := h.rotate(-1)
	assert.Equal(t, 50, h.s.Volume.Volume)
	assert.Empty(t, publishedVolumes(cmds))
	assert.Equal(t, []BuzzReason{BuzzWake}, buzzReasons(cmds))

	// Net +50 raw after the reversal confirms: one whole point up.
	h.rotateN(51, 1)
	assert.Equal(t, "active", h.mode())
	assert.Equal(t, 51, h.s.Volume.Volume)
	assert.Equal(t, 11, h.s.Volume.Remainder)
	assert.Equal(t, Positive, h.s.Volume.Heading)
}

func TestBuzzReason(t *testing.T) {
	tests := []struct {
		name string
		o    Outcome
		want BuzzReason
		buzz bool
	}{
		{"nothing", Outcome{}, "", false},
		{"wake", Outcome{Woke: true}, BuzzWake, true},
		{"plain commit", Outcome{Committed: true, Commit: CommitResult{Previous: 49, Volume: 50, DecadeCrossed: true}}, "", false},
		{"boundary", Outcome{Committed: true, Commit: CommitResult{Previous: 99, Volume: 100, BoundaryReached: true}}, BuzzBoundary, true},
		{"confirmed", Outcome{Committed: true, Verdict: backlashConfirmed}, BuzzConfirmedReversal, true},
		{"cancelled", Outcome{Committed: true, Verdict: backlashCancelled}, "", false},
		{"wake wins", Outcome{Woke: true, Committed: true, Commit: CommitResult{BoundaryReached: true}}, BuzzWake, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := buzzReason(tt.o)
			assert.Equal(t, tt.buzz, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseBacklashTimeoutPolicy(t *testing.T) {
	p, err := parseBacklashTimeoutPolicy("")
	require.NoError(t, err)
	assert.Equal(t, BacklashTimeoutDrain, p)

	p, err = parseBacklashTimeoutPolicy("hold")
	require.NoError(t, err)
	assert.Equal(t, BacklashTimeoutHold, p)

	_, err = parseBacklashTimeoutPolicy("freeze")
	assert.Error(t, err)
}
