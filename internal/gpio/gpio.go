// Package gpio provides GPIO input reading and output writing with hardware abstraction.
// The real implementation uses Linux GPIO character device.
// The fake implementation allows testing without hardware.
package gpio

import "github.com/sweeney/mailbox-node/internal/logic"

// Reader reads the sensor channels.
type Reader interface {
	// Read returns the instantaneous level of each input, in channel order.
	// A high line reads as true.
	Read() (logic.Snapshot, error)

	// Close releases GPIO resources.
	Close() error
}

// Writer drives the mirror outputs and the strobe line.
type Writer interface {
	// Write sets each output line to the level of its channel.
	Write(levels logic.Snapshot) error

	// SetStrobe drives the strobe line.
	SetStrobe(high bool) error

	// Close releases GPIO resources.
	Close() error
}

// Default pin assignments (BCM numbering).
var (
	DefaultInputPins  = []int{5, 6, 13, 19}
	DefaultOutputPins = []int{12, 16, 20, 21}
)

const (
	DefaultStrobePin = 26
	DefaultChip      = "gpiochip0"
)

func toInts(levels logic.Snapshot) []int {
	vals := make([]int, len(levels))
	for i, on := range levels {
		if on {
			vals[i] = 1
		}
	}
	return vals
}

func fromInts(vals []int) logic.Snapshot {
	var s logic.Snapshot
	for i := range s {
		s[i] = i < len(vals) && vals[i] != 0
	}
	return s
}
