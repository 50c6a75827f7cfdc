package main

import (
	"encoding/json"
	"fmt"
	"time"
)

// ============================================================================
// Events - inputs to the reducer
// ============================================================================
// Producers (dial input, IPC, MQTT, websocket snapshot requests, the daemon
// ticker) only ever construct Events. The daemon goroutine is the single
// consumer and feeds them to Reduce() in arrival order.
// ============================================================================

// Event is the input to the reducer.
type Event interface {
	eventMarker()
}

// Direction is the rotation sense of a single encoder tick.
type Direction int8

const (
	NoDirection Direction = 0
	Positive    Direction = 1
	Negative    Direction = -1
)

func (d Direction) String() string {
	switch d {
	case Positive:
		return "positive"
	case Negative:
		return "negative"
	default:
		return "none"
	}
}

// directionOf returns the sign of a raw value.
func directionOf(v int32) Direction {
	switch {
	case v > 0:
		return Positive
	case v < 0:
		return Negative
	default:
		return NoDirection
	}
}

// RawEvent is one decoded encoder tick.
// Magnitude is signed raw units; Direction always agrees with its sign.
type RawEvent struct {
	Direction Direction `json:"-"`
	Magnitude int32     `json:"value"`
	Seq       uint64    `json:"-"`
}

func (RawEvent) eventMarker() {}

// NewRawEvent builds a RawEvent from a signed device value.
func NewRawEvent(value int32, seq uint64) RawEvent {
	return RawEvent{Direction: directionOf(value), Magnitude: value, Seq: seq}
}

// degenerate reports whether the tick carries no usable rotation.
// Degenerate ticks still count as activity.
func (e RawEvent) degenerate(maxMagnitude int32) bool {
	if e.Magnitude == 0 || e.Direction != directionOf(e.Magnitude) {
		return true
	}
	return maxMagnitude > 0 && abs(e.Magnitude) > maxMagnitude
}

// ButtonPress is a dial click (key down).
type ButtonPress struct {
	Seq uint64 `json:"-"`
}

func (ButtonPress) eventMarker() {}

// RemoteSetVolume asks for an absolute volume from a network writer.
type RemoteSetVolume struct {
	Volume int    `json:"volume"`
	Origin string `json:"origin,omitempty"` // e.g. "mqtt", "ipc"
}

func (RemoteSetVolume) eventMarker() {}

// Tick is emitted by the daemon loop at a fixed cadence to drive the
// inactivity timeout.
type Tick struct {
	Now time.Time
}

func (Tick) eventMarker() {}

// TimedEvent stamps a payload event with the time the daemon received it,
// so the reducer never reads the clock itself.
type TimedEvent struct {
	Event Event
	At    time.Time
}

func (TimedEvent) eventMarker() {}

// RequestStateSnapshot asks the reducer for a coherent copy of the state.
// The reply is delivered by the effects stage, never by the reducer.
type RequestStateSnapshot struct {
	Reply chan<- StateSnapshot
}

func (RequestStateSnapshot) eventMarker() {}

// ============================================================================
// JSON Encoding/Decoding Support (IPC wire format)
// ============================================================================

// EventEnvelope wraps an event with a type discriminator for JSON marshaling
type EventEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// UnmarshalEvent deserializes a JSON event envelope into a concrete Event.
// Sequence numbers are not part of the wire format; the receiver stamps them.
func UnmarshalEvent(data []byte) (Event, error) {
	var env EventEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("unmarshal envelope: %w", err)
	}

	switch env.Type {
	case "remote_set_volume":
		var e RemoteSetVolume
		if err := json.Unmarshal(env.Data, &e); err != nil {
			return nil, fmt.Errorf("unmarshal RemoteSetVolume: %w", err)
		}
		return e, nil

	case "button_press":
		return ButtonPress{}, nil

	case "rotate":
		var e RawEvent
		if err := json.Unmarshal(env.Data, &e); err != nil {
			return nil, fmt.Errorf("unmarshal RawEvent: %w", err)
		}
		return NewRawEvent(e.Magnitude, 0), nil

	default:
		return nil, fmt.Errorf("unknown event type: %q", env.Type)
	}
}

// MarshalEvent serializes an Event into a JSON envelope with type discriminator
func MarshalEvent(e Event) ([]byte, error) {
	var env EventEnvelope

	switch e := e.(type) {
	case RemoteSetVolume:
		env.Type = "remote_set_volume"
		data, err := json.Marshal(e)
		if err != nil {
			return nil, fmt.Errorf("marshal RemoteSetVolume: %w", err)
		}
		env.Data = data

	case ButtonPress:
		env.Type = "button_press"

	case RawEvent:
		env.Type = "rotate"
		data, err := json.Marshal(e)
		if err != nil {
			return nil, fmt.Errorf("marshal RawEvent: %w", err)
		}
		env.Data = data

	default:
		return nil, fmt.Errorf("unsupported event type: %T", e)
	}

	return json.Marshal(env)
}
