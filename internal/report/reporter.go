// Package report delivers transitions to the remote endpoint. Delivery is
// gated on connectivity readiness and at most one report is in flight.
package report

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/rs/zerolog"

	"github.com/sweeney/mailbox-node/internal/logic"
)

// Default delivery bounds.
const (
	DefaultTimeout       = 5 * time.Second
	DefaultRetryInterval = 10 * time.Millisecond
	DefaultMaxAttempts   = 50
)

// Waiter blocks until the node may send.
type Waiter interface {
	Wait(ctx context.Context) error
}

// Mirror receives each delivered snapshot.
type Mirror interface {
	Apply(s logic.Snapshot) error
}

// Config bounds a single delivery attempt.
type Config struct {
	// Timeout bounds the whole attempt, including would-block retries.
	Timeout time.Duration
	// RetryInterval is the pause between would-block retries.
	RetryInterval time.Duration
	// MaxAttempts caps the number of writes in one attempt.
	MaxAttempts int
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = DefaultRetryInterval
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	return c
}

// Reporter turns a Transition into an Outcome.
type Reporter struct {
	transport Transport
	ready     Waiter
	mirror    Mirror
	cfg       Config
	logger    zerolog.Logger
}

// New creates a reporter. mirror may be nil.
func New(t Transport, ready Waiter, mirror Mirror, cfg Config, logger zerolog.Logger) *Reporter {
	return &Reporter{
		transport: t,
		ready:     ready,
		mirror:    mirror,
		cfg:       cfg.withDefaults(),
		logger:    logger.With().Str("component", "reporter").Logger(),
	}
}

// Report blocks until the node is ready, then makes one bounded delivery
// attempt. On success the snapshot is mirrored. A cancelled ctx while
// waiting yields OutcomeTransientFailure without any write.
func (r *Reporter) Report(ctx context.Context, t logic.Transition) logic.Outcome {
	code := t.Snapshot.Code()

	if err := r.ready.Wait(ctx); err != nil {
		r.logger.Debug().Str("irs", code).Err(err).Msg("Gave up waiting for connectivity")
		return logic.OutcomeTransientFailure
	}

	body, err := FormatBody(t.Snapshot)
	if err != nil {
		r.logger.Error().Err(err).Msg("Failed to encode body")
		return logic.OutcomeTransientFailure
	}

	attemptCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	attempts := 0
	op := func() error {
		attempts++
		err := r.transport.Put(attemptCtx, body)
		if err == nil || errors.Is(err, ErrWouldBlock) {
			return err
		}
		return backoff.Permanent(err)
	}

	if err := backoff.Retry(op, backoff.WithContext(r.policy(), attemptCtx)); err != nil {
		r.logger.Warn().
			Str("irs", code).
			Int("attempts", attempts).
			Err(err).
			Msg("Delivery failed")
		return logic.OutcomeTransientFailure
	}

	r.logger.Info().
		Str("irs", code).
		Str("previous", t.Previous.Code()).
		Int("attempts", attempts).
		Msg("Delivered")

	if r.mirror != nil {
		if err := r.mirror.Apply(t.Snapshot); err != nil {
			r.logger.Error().Err(err).Msg("Mirror write failed")
		}
	}
	return logic.OutcomeSuccess
}

// policy spaces would-block retries evenly. WithMaxRetries treats zero as
// unlimited, so a single-attempt budget needs StopBackOff.
func (r *Reporter) policy() backoff.BackOff {
	if r.cfg.MaxAttempts <= 1 {
		return &backoff.StopBackOff{}
	}
	return backoff.WithMaxRetries(backoff.NewConstantBackOff(r.cfg.RetryInterval), uint64(r.cfg.MaxAttempts-1))
}
