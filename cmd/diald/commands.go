package main

import "fmt"

// ==============================
// Commands (side effects)
// ==============================

// Command represents an external side effect to be executed by the daemon loop.
// Every command is fire-and-forget: runEffect hands it to a sink worker and
// never reports back into the reducer.
type Command interface {
	commandMarker()
	String() string
}

// CmdBuzz requests one haptic pulse.
type CmdBuzz struct {
	Reason BuzzReason
}

func (CmdBuzz) commandMarker()   {}
func (c CmdBuzz) String() string { return fmt.Sprintf("CmdBuzz(reason=%s)", c.Reason) }

// CmdPublishVolume announces a new committed volume.
type CmdPublishVolume struct {
	Volume        int
	DecadeCrossed bool
}

func (CmdPublishVolume) commandMarker() {}
func (c CmdPublishVolume) String() string {
	return fmt.Sprintf("CmdPublishVolume(volume=%d)", c.Volume)
}

// CmdPublishClicks announces the click counter after a press.
type CmdPublishClicks struct {
	Count uint64
}

func (CmdPublishClicks) commandMarker() {}
func (c CmdPublishClicks) String() string {
	return fmt.Sprintf("CmdPublishClicks(count=%d)", c.Count)
}

// CmdPublishMode announces a mode transition.
type CmdPublishMode struct {
	Mode string
}

func (CmdPublishMode) commandMarker()   {}
func (c CmdPublishMode) String() string { return fmt.Sprintf("CmdPublishMode(mode=%s)", c.Mode) }

// CmdReplySnapshot delivers a reducer-produced snapshot to a requester.
type CmdReplySnapshot struct {
	Reply    chan<- StateSnapshot
	Snapshot StateSnapshot
}

func (CmdReplySnapshot) commandMarker() {}
func (CmdReplySnapshot) String() string { return "CmdReplySnapshot()" }
