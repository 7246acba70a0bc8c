// Package provision acquires network credentials for the node, either from
// an out-of-band broadcast or through the node's own access point, and hands
// them to the supervisor and the credential store.
package provision

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/sweeney/mailbox-node/internal/credentials"
	"github.com/sweeney/mailbox-node/internal/logic"
	"github.com/sweeney/mailbox-node/internal/supervisor"
)

var (
	// ErrAssociationFailed is returned when the acquired credentials did not
	// lead to an association. Provisioning is not retried.
	ErrAssociationFailed = errors.New("provision: association failed")

	// ErrInProgress is returned by Run while another run is active.
	ErrInProgress = errors.New("provision: already in progress")
)

// Mode names a strategy in configuration.
const (
	ModeBroadcast   = "broadcast"
	ModeAccessPoint = "access-point"
)

// Result is what a strategy acquired.
type Result struct {
	Credentials credentials.Credentials

	// Aux is the optional auxiliary payload of a broadcast.
	Aux []byte

	// PersistFirst stores the credentials before association is attempted.
	// Otherwise they are stored only once the node has associated.
	PersistFirst bool

	// Complete, if set, runs once the node has associated.
	Complete func(address string) error

	// Release, if set, frees strategy resources. It runs exactly once after
	// the association outcome is known.
	Release func()
}

func (r Result) release() {
	if r.Release != nil {
		r.Release()
	}
}

// Strategy acquires credentials. Acquire blocks until credentials arrive or
// ctx is done.
type Strategy interface {
	Name() string
	Acquire(ctx context.Context) (Result, error)
}

// Associator is the part of the supervisor the engine drives.
type Associator interface {
	Suspend()
	Resume() error
	Restart(c credentials.Credentials) error
	Await(ctx context.Context) (logic.AssociationState, error)
	Status() supervisor.Status
}

// Saver persists credentials.
type Saver interface {
	Save(c credentials.Credentials) error
}

// Engine runs one strategy at a time against the supervisor.
type Engine struct {
	strategy Strategy
	sup      Associator
	store    Saver
	logger   zerolog.Logger
	running  atomic.Bool
}

// NewEngine creates an engine for the given strategy.
func NewEngine(strategy Strategy, sup Associator, store Saver, logger zerolog.Logger) *Engine {
	return &Engine{
		strategy: strategy,
		sup:      sup,
		store:    store,
		logger:   logger.With().Str("component", "provision").Str("strategy", strategy.Name()).Logger(),
	}
}

// Run suspends the supervisor, acquires credentials and associates with
// them. It returns the credentials once the node is associated.
func (e *Engine) Run(ctx context.Context) (credentials.Credentials, error) {
	if !e.running.CompareAndSwap(false, true) {
		return credentials.Credentials{}, ErrInProgress
	}
	defer e.running.Store(false)

	e.logger.Info().Msg("Provisioning started")
	e.sup.Suspend()

	res, err := e.strategy.Acquire(ctx)
	if err != nil {
		e.logger.Warn().Err(err).Msg("Provisioning stopped")
		if rerr := e.sup.Resume(); rerr != nil {
			e.logger.Info().Err(rerr).Msg("No previous network to resume")
		}
		return credentials.Credentials{}, fmt.Errorf("acquire credentials: %w", err)
	}
	defer res.release()

	c := res.Credentials
	e.logger.Info().Str("ssid", c.SSID).Bool("persist_first", res.PersistFirst).Msg("Credentials acquired")

	if res.PersistFirst {
		if err := e.store.Save(c); err != nil {
			return c, fmt.Errorf("save credentials: %w", err)
		}
	}

	if err := e.sup.Restart(c); err != nil {
		return c, fmt.Errorf("restart supervisor: %w", err)
	}

	state, err := e.sup.Await(ctx)
	if err != nil {
		return c, fmt.Errorf("await association: %w", err)
	}
	if state != logic.StateAssociated {
		e.logger.Error().Str("state", string(state)).Msg("Provisioned credentials did not associate")
		return c, ErrAssociationFailed
	}

	if res.Complete != nil {
		if err := res.Complete(e.sup.Status().Address); err != nil {
			e.logger.Warn().Err(err).Msg("Completion step failed")
		}
	}

	if !res.PersistFirst {
		if err := e.store.Save(c); err != nil {
			return c, fmt.Errorf("save credentials: %w", err)
		}
	}

	e.logger.Info().Str("ssid", c.SSID).Msg("Provisioning complete")
	return c, nil
}
