// Package logic contains the pure state logic of the sensor node.
// This package has NO external dependencies (no GPIO, radio, HTTP, OS, or time.Sleep).
// Time is always injectable via time.Time parameters.
package logic

import (
	"errors"
	"fmt"
	"time"
)

// Channels is the number of monitored input channels.
const Channels = 4

// Snapshot is the joint level of all input channels, in fixed channel order.
type Snapshot [Channels]bool

// Code renders the snapshot as ASCII digits, e.g. "1011".
func (s Snapshot) Code() string {
	b := make([]byte, Channels)
	for i, on := range s {
		if on {
			b[i] = '1'
		} else {
			b[i] = '0'
		}
	}
	return string(b)
}

// String implements fmt.Stringer.
func (s Snapshot) String() string {
	return s.Code()
}

// ErrInvalidCode is returned by ParseCode for anything but 4 binary digits.
var ErrInvalidCode = errors.New("invalid snapshot code")

// ParseCode is the inverse of Snapshot.Code.
func ParseCode(code string) (Snapshot, error) {
	var s Snapshot
	if len(code) != Channels {
		return s, fmt.Errorf("%w: %q has %d digits, want %d", ErrInvalidCode, code, len(code), Channels)
	}
	for i := 0; i < Channels; i++ {
		switch code[i] {
		case '0':
		case '1':
			s[i] = true
		default:
			return Snapshot{}, fmt.Errorf("%w: %q", ErrInvalidCode, code)
		}
	}
	return s, nil
}

// Input represents a single sample of the input channels.
type Input struct {
	Levels Snapshot
	Time   time.Time
}

// Transition is a snapshot that differs from the last successfully reported one.
type Transition struct {
	Timestamp time.Time
	Snapshot  Snapshot
	Previous  Snapshot
}

// Outcome is the result of one delivery attempt.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeTransientFailure
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "SUCCESS"
	case OutcomeTransientFailure:
		return "TRANSIENT_FAILURE"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// EventCounts tracks transition and delivery counts since startup.
type EventCounts struct {
	Transitions int
	Delivered   int
	Failed      int
}

// HeartbeatData contains information for a heartbeat event.
type HeartbeatData struct {
	Timestamp time.Time
	Uptime    time.Duration
	Counts    EventCounts
}
