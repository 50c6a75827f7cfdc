package main

// BacklashContext buffers ticks after a direction reversal until the episode
// resolves. It only ever lives inside BacklashMode.
//
// The tick that triggered the reversal is part of BufferedSum but is not
// counted, so ConfirmThreshold / CancelThreshold are measured in ticks that
// follow it.
type BacklashContext struct {
	PreDirection        Direction `json:"pre_direction"`
	NewDirection        Direction `json:"new_direction"`
	BufferedSum         int       `json:"buffered_sum"`
	ConsecutiveNew      uint      `json:"consecutive_new"`
	ConsecutiveOriginal uint      `json:"consecutive_original"`
}

type backlashVerdict int

const (
	backlashPending backlashVerdict = iota
	backlashConfirmed
	backlashCancelled
)

func (v backlashVerdict) String() string {
	switch v {
	case backlashConfirmed:
		return "confirmed"
	case backlashCancelled:
		return "cancelled"
	default:
		return "pending"
	}
}

// enterBacklash opens an episode for a tick that reversed pre.
func enterBacklash(pre Direction, trigger RawEvent) BacklashContext {
	return BacklashContext{
		PreDirection: pre,
		NewDirection: trigger.Direction,
		BufferedSum:  int(trigger.Magnitude),
	}
}

// absorb buffers one tick and reports whether the episode is now resolved.
// Confirmation is checked first; both thresholds cannot be reached by the
// same tick because each tick advances exactly one counter.
func (c *BacklashContext) absorb(e RawEvent, confirmAt, cancelAt uint) backlashVerdict {
	c.BufferedSum += int(e.Magnitude)

	switch e.Direction {
	case c.NewDirection:
		c.ConsecutiveNew++
		c.ConsecutiveOriginal = 0
	case c.PreDirection:
		c.ConsecutiveOriginal++
		c.ConsecutiveNew = 0
	}

	if c.ConsecutiveNew >= confirmAt {
		return backlashConfirmed
	}
	if c.ConsecutiveOriginal >= cancelAt {
		return backlashCancelled
	}
	return backlashPending
}
