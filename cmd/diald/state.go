package main

import "time"

// DialState is the daemon-owned engine state. Only the daemon goroutine
// touches it, through Reduce.
type DialState struct {
	Mode   Mode
	Volume VolumeState
	Clicks ClickCounter

	// LastActivity is the arrival time of the latest rotation tick or
	// button press; the inactivity timeout is measured from it.
	LastActivity time.Time
}

// NewDialState returns an idle engine at the given volume.
func NewDialState(initialVolume int) *DialState {
	return &DialState{
		Mode:   IdleMode{},
		Volume: VolumeState{Volume: clamp(initialVolume, minVolume, maxVolume)},
	}
}

// StateSnapshot is a copy of DialState that is safe to hand to other
// goroutines.
type StateSnapshot struct {
	Mode         string           `json:"mode"`
	Volume       int              `json:"volume"`
	Remainder    int              `json:"remainder"`
	Heading      Direction        `json:"heading"`
	Clicks       uint64           `json:"clicks"`
	LastActivity time.Time        `json:"last_activity"`
	Backlash     *BacklashContext `json:"backlash,omitempty"`
}

// Snapshot copies the observable state.
func (s *DialState) Snapshot() StateSnapshot {
	snap := StateSnapshot{
		Mode:         modeName(s.Mode),
		Volume:       s.Volume.Volume,
		Remainder:    s.Volume.Remainder,
		Heading:      s.Volume.Heading,
		Clicks:       s.Clicks.Count,
		LastActivity: s.LastActivity,
	}
	if b, ok := s.Mode.(BacklashMode); ok {
		ctx := b.Ctx
		snap.Backlash = &ctx
	}
	return snap
}

// pendingDelta is the raw magnitude held in an open backlash episode.
func (s *DialState) pendingDelta() int {
	if b, ok := s.Mode.(BacklashMode); ok {
		return b.Ctx.BufferedSum
	}
	return 0
}
