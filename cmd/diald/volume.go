package main

// VolumeState is the committed output of the dial.
//
// Remainder holds raw units that have not yet added up to a whole volume
// point. It is a magnitude in [0, unitSize); Heading says which way it
// points. Conversion truncates toward zero, so both directions need a full
// unitSize of travel per point.
type VolumeState struct {
	Volume    int
	Remainder int
	Heading   Direction
}

// CommitResult describes what a single commit did to the volume.
type CommitResult struct {
	Previous int
	Volume   int

	// BoundaryReached is set when the volume newly arrived at 0 or 100.
	BoundaryReached bool

	// DecadeCrossed is set when the volume moved across a multiple of 10.
	// Haptics do not use it; it is kept for logging.
	DecadeCrossed bool
}

// Changed reports whether the commit moved the volume.
func (r CommitResult) Changed() bool { return r.Volume != r.Previous }

// Commit adds delta raw units and converts whole multiples of unitSize into
// volume points. Magnitude that would push the volume outside [0,100] is
// discarded along with the remainder, so a saturated dial does not snap back
// when it is reversed.
func (v *VolumeState) Commit(delta int, unitSize int) CommitResult {
	if unitSize <= 0 {
		unitSize = defaultUnitSize
	}

	prev := v.Volume
	total := v.signedRemainder() + delta
	points := total / unitSize
	rem := total % unitSize

	next := prev + points
	if next < minVolume || next > maxVolume {
		next = clamp(next, minVolume, maxVolume)
		rem = 0
	}
	// A leftover pointing past the range can never become a point.
	if (next == maxVolume && rem > 0) || (next == minVolume && rem < 0) {
		rem = 0
	}

	v.Volume = next
	v.setRemainder(rem)

	return CommitResult{
		Previous:        prev,
		Volume:          next,
		BoundaryReached: next != prev && (next == minVolume || next == maxVolume),
		DecadeCrossed:   next/10 != prev/10,
	}
}

// SetAbsolute overwrites the volume (clamped) and forgets any remainder.
func (v *VolumeState) SetAbsolute(value int) CommitResult {
	prev := v.Volume
	next := clamp(value, minVolume, maxVolume)
	v.Volume = next
	v.setRemainder(0)
	return CommitResult{
		Previous:        prev,
		Volume:          next,
		BoundaryReached: next != prev && (next == minVolume || next == maxVolume),
		DecadeCrossed:   next/10 != prev/10,
	}
}

// DiscardRemainder drops the sub-point leftover. It never changes Volume.
func (v *VolumeState) DiscardRemainder() {
	v.setRemainder(0)
}

// signedRemainder is the leftover as signed raw units.
func (v *VolumeState) signedRemainder() int {
	return v.Remainder * int(v.Heading)
}

func (v *VolumeState) setRemainder(rem int) {
	v.Remainder = abs(rem)
	switch {
	case rem > 0:
		v.Heading = Positive
	case rem < 0:
		v.Heading = Negative
	default:
		v.Heading = NoDirection
	}
}
