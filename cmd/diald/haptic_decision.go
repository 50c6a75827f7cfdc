package main

// BuzzReason names why a haptic pulse was requested.
type BuzzReason string

const (
	BuzzWake              BuzzReason = "wake"
	BuzzBoundary          BuzzReason = "boundary"
	BuzzConfirmedReversal BuzzReason = "confirmed_reversal"
)

// Outcome summarizes what one reduction step did, as far as haptics care.
type Outcome struct {
	Woke      bool
	Committed bool
	Commit    CommitResult
	Verdict   backlashVerdict
}

// buzzReason picks the single reason for a pulse, if any. One step produces
// at most one pulse even when several reasons apply.
func buzzReason(o Outcome) (BuzzReason, bool) {
	switch {
	case o.Woke:
		return BuzzWake, true
	case o.Verdict == backlashConfirmed:
		return BuzzConfirmedReversal, true
	case o.Committed && o.Commit.BoundaryReached:
		return BuzzBoundary, true
	default:
		return "", false
	}
}
