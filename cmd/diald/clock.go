package main

import "sync/atomic"

// SeqClock hands out arrival-order sequence numbers for input events.
// The dial reader and the IPC server share one clock, so Seq is strictly
// increasing across both sources.
type SeqClock struct {
	seq atomic.Uint64
}

// Next returns the next sequence number; the first call returns 1.
func (c *SeqClock) Next() uint64 {
	return c.seq.Add(1)
}

// Current returns the last number handed out.
func (c *SeqClock) Current() uint64 {
	return c.seq.Load()
}
