package main

// Linux input event types and codes (from <linux/input.h>)
const (
	EV_SYN = 0x00
	EV_KEY = 0x01
	EV_REL = 0x02

	BTN_0 = 0x100

	// Rotary encoder relative axis code
	REL_DIAL = 0x07
)

// Input event value constants
const (
	evValueRelease = 0
	evValuePress   = 1
)

// Volume scale
const (
	minVolume = 0
	maxVolume = 100
)

// Engine defaults
const (
	defaultUnitSize         = 40    // raw units per volume point
	defaultConfirmThreshold = 50    // consecutive new-direction ticks that confirm a reversal
	defaultCancelThreshold  = 10    // consecutive original-direction ticks that cancel a reversal
	defaultIdleTimeoutMS    = 30000 // Active -> Idle after this much silence
	defaultIdleCheckMS      = 250   // cadence of the inactivity Tick
	defaultMaxTickMagnitude = 1000  // larger |value| is treated as a glitch
	defaultInitialVolume    = 50
)

// Collaborator defaults
const (
	defaultDialDevice     = "/dev/input/event0"
	defaultHapticDevice   = "/dev/hidraw0"
	defaultHapticRetryMS  = 5000
	defaultIPCSocket      = "/tmp/diald.sock"
	defaultStateWSPort    = 3002
	defaultStateWSPath    = "/ws/state"
	defaultMQTTPrefix     = "diald"
	defaultMQTTTimeoutMS  = 2000
	defaultSinkQueue      = 32
	defaultDeviceRetry    = 1000 // ms between input device reopen attempts
	defaultDevicePollMS   = 250  // epoll wait timeout, bounds shutdown latency
	defaultEventQueueSize = 64
)

// hapticReport is the hidraw output report for one "chunky" pulse:
// report id 1, repeat 2, manual 3, retrigger 70.
var hapticReport = []byte{0x01, 0x02, 0x03, 0x46, 0x00}
