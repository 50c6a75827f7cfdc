package main

// Mode is the engine's interaction state. The set of implementations is
// closed: IdleMode, ActiveMode and BacklashMode.
type Mode interface {
	modeMarker()
	Name() string
}

// IdleMode: nobody is touching the dial; remote writers own the volume.
type IdleMode struct{}

// ActiveMode: the dial is being turned. LastDirection is the direction of
// the most recent rotation tick (NoDirection right after a wake caused by a
// button press or a degenerate tick).
type ActiveMode struct {
	LastDirection Direction
}

// BacklashMode: a reversal is being arbitrated.
type BacklashMode struct {
	Ctx BacklashContext
}

func (IdleMode) modeMarker()     {}
func (ActiveMode) modeMarker()   {}
func (BacklashMode) modeMarker() {}

func (IdleMode) Name() string     { return "idle" }
func (ActiveMode) Name() string   { return "active" }
func (BacklashMode) Name() string { return "backlash" }

// modeName tolerates a nil Mode (treated as idle).
func modeName(m Mode) string {
	if m == nil {
		return IdleMode{}.Name()
	}
	return m.Name()
}
