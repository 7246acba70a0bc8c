//go:build linux

package gpio

import (
	"fmt"

	"github.com/warthog618/go-gpiocdev"

	"github.com/sweeney/mailbox-node/internal/logic"
)

// RealReader reads the sensor channels from the Linux GPIO character device.
type RealReader struct {
	chip  *gpiocdev.Chip
	lines *gpiocdev.Lines
}

// NewRealReader requests the input lines with pull resistors disabled.
func NewRealReader(chipName string, pins []int) (*RealReader, error) {
	if len(pins) != logic.Channels {
		return nil, fmt.Errorf("request inputs: want %d pins, got %d", logic.Channels, len(pins))
	}

	chip, err := gpiocdev.NewChip(chipName)
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}

	lines, err := chip.RequestLines(pins, gpiocdev.AsInput, gpiocdev.WithBiasDisabled)
	if err != nil {
		chip.Close()
		return nil, fmt.Errorf("request input pins %v: %w", pins, err)
	}

	return &RealReader{chip: chip, lines: lines}, nil
}

// Read returns the level of each input line.
func (r *RealReader) Read() (logic.Snapshot, error) {
	vals := make([]int, logic.Channels)
	if err := r.lines.Values(vals); err != nil {
		return logic.Snapshot{}, fmt.Errorf("read input pins: %w", err)
	}
	return fromInts(vals), nil
}

// Close releases the lines and the chip.
func (r *RealReader) Close() error {
	var errs []error
	if r.lines != nil {
		if err := r.lines.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close input pins: %w", err))
		}
	}
	if r.chip != nil {
		if err := r.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}

// RealWriter drives the mirror outputs and strobe through the character device.
type RealWriter struct {
	chip   *gpiocdev.Chip
	lines  *gpiocdev.Lines
	strobe *gpiocdev.Line
}

// NewRealWriter requests the output lines and the strobe line, all driven low.
func NewRealWriter(chipName string, pins []int, strobePin int) (*RealWriter, error) {
	if len(pins) != logic.Channels {
		return nil, fmt.Errorf("request outputs: want %d pins, got %d", logic.Channels, len(pins))
	}

	chip, err := gpiocdev.NewChip(chipName)
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}

	lines, err := chip.RequestLines(pins, gpiocdev.AsOutput(0, 0, 0, 0))
	if err != nil {
		chip.Close()
		return nil, fmt.Errorf("request output pins %v: %w", pins, err)
	}

	strobe, err := chip.RequestLine(strobePin, gpiocdev.AsOutput(0))
	if err != nil {
		lines.Close()
		chip.Close()
		return nil, fmt.Errorf("request strobe pin %d: %w", strobePin, err)
	}

	return &RealWriter{chip: chip, lines: lines, strobe: strobe}, nil
}

// Write sets the output lines.
func (w *RealWriter) Write(levels logic.Snapshot) error {
	if err := w.lines.SetValues(toInts(levels)); err != nil {
		return fmt.Errorf("write output pins: %w", err)
	}
	return nil
}

// SetStrobe drives the strobe line.
func (w *RealWriter) SetStrobe(high bool) error {
	v := 0
	if high {
		v = 1
	}
	if err := w.strobe.SetValue(v); err != nil {
		return fmt.Errorf("write strobe pin: %w", err)
	}
	return nil
}

// Close drives every line low, then releases the lines and the chip so the
// downstream latch is left in a known state.
func (w *RealWriter) Close() error {
	var errs []error

	if w.lines != nil {
		if err := w.lines.SetValues([]int{0, 0, 0, 0}); err != nil {
			errs = append(errs, fmt.Errorf("reset output pins: %w", err))
		}
		if err := w.lines.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close output pins: %w", err))
		}
	}
	if w.strobe != nil {
		if err := w.strobe.SetValue(0); err != nil {
			errs = append(errs, fmt.Errorf("reset strobe pin: %w", err))
		}
		if err := w.strobe.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close strobe pin: %w", err))
		}
	}
	if w.chip != nil {
		if err := w.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
