// Package mirror copies a delivered snapshot onto the output pins and
// pulses the strobe line so a downstream latch picks it up.
package mirror

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/sweeney/mailbox-node/internal/gpio"
	"github.com/sweeney/mailbox-node/internal/logic"
)

// DefaultPulse is the strobe high time.
const DefaultPulse = 100 * time.Millisecond

// Mirror drives a gpio.Writer. Calls are serialized so pulses never overlap.
type Mirror struct {
	writer gpio.Writer
	pulse  time.Duration
	sleep  func(time.Duration)
	logger zerolog.Logger

	mu sync.Mutex
}

// New creates a mirror. A non-positive pulse uses DefaultPulse.
func New(w gpio.Writer, pulse time.Duration, logger zerolog.Logger) *Mirror {
	if pulse <= 0 {
		pulse = DefaultPulse
	}
	return &Mirror{
		writer: w,
		pulse:  pulse,
		sleep:  time.Sleep,
		logger: logger.With().Str("component", "mirror").Logger(),
	}
}

// SetSleep replaces the pulse timer. Intended for tests.
func (m *Mirror) SetSleep(fn func(time.Duration)) {
	m.sleep = fn
}

// Apply writes s to the outputs, then pulses the strobe. The strobe is
// always returned low, even if the high write failed.
func (m *Mirror) Apply(s logic.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.writer.Write(s); err != nil {
		return fmt.Errorf("mirror %s: %w", s.Code(), err)
	}

	highErr := m.writer.SetStrobe(true)
	if highErr == nil {
		m.sleep(m.pulse)
	}
	if err := m.writer.SetStrobe(false); err != nil {
		return fmt.Errorf("mirror %s: strobe low: %w", s.Code(), err)
	}
	if highErr != nil {
		return fmt.Errorf("mirror %s: strobe high: %w", s.Code(), highErr)
	}

	m.logger.Debug().Str("irs", s.Code()).Msg("Mirrored")
	return nil
}
