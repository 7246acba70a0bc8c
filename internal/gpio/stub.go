//go:build !linux

package gpio

import (
	"errors"

	"github.com/sweeney/mailbox-node/internal/logic"
)

var errUnsupported = errors.New("gpio: not supported on this platform (requires Linux)")

// RealReader is not available on non-Linux platforms.
type RealReader struct{}

// NewRealReader returns an error on non-Linux platforms.
func NewRealReader(chipName string, pins []int) (*RealReader, error) {
	return nil, errUnsupported
}

// Read is not implemented on non-Linux platforms.
func (r *RealReader) Read() (logic.Snapshot, error) {
	return logic.Snapshot{}, errUnsupported
}

// Close is not implemented on non-Linux platforms.
func (r *RealReader) Close() error {
	return nil
}

// RealWriter is not available on non-Linux platforms.
type RealWriter struct{}

// NewRealWriter returns an error on non-Linux platforms.
func NewRealWriter(chipName string, pins []int, strobePin int) (*RealWriter, error) {
	return nil, errUnsupported
}

// Write is not implemented on non-Linux platforms.
func (w *RealWriter) Write(levels logic.Snapshot) error {
	return errUnsupported
}

// SetStrobe is not implemented on non-Linux platforms.
func (w *RealWriter) SetStrobe(high bool) error {
	return errUnsupported
}

// Close is not implemented on non-Linux platforms.
func (w *RealWriter) Close() error {
	return nil
}
