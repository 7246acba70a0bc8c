// Package supervisor keeps the node associated with a network. It owns the
// association state machine and the readiness signal that gates reporting.
// Transitions run synchronously inside radio event callbacks and are applied
// one at a time, whichever goroutine delivers them.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/sweeney/mailbox-node/internal/credentials"
	"github.com/sweeney/mailbox-node/internal/logic"
	"github.com/sweeney/mailbox-node/internal/radio"
)

var (
	// ErrNotStarted is returned by Await when no association is in progress.
	ErrNotStarted = errors.New("supervisor: not started")

	// ErrNoCredentials is returned by Start when the credentials are empty.
	ErrNoCredentials = errors.New("supervisor: no credentials")
)

// Status is the observable supervisor state.
type Status struct {
	State   logic.AssociationState
	Retries int
	Address string
	Reason  string
}

// Observer is called after every state change, before the next transition
// can be applied. It must not block and must not call Start, Suspend,
// Resume or Restart.
type Observer func(Status)

// Supervisor drives a Radio through the association state machine.
type Supervisor struct {
	radio  radio.Radio
	ready  *Readiness
	logger zerolog.Logger

	// applyMu is held across a transition, its observers and its readiness
	// effects. mu only guards the fields below.
	applyMu sync.Mutex

	mu          sync.Mutex
	generation  uint64
	assoc       logic.Association
	creds       credentials.Credentials
	address     string
	reason      string
	unsubscribe func()
	changed     chan struct{}
	observers   []Observer
}

// New creates an idle supervisor with the given retry budget.
func New(r radio.Radio, maxFailures int, logger zerolog.Logger) *Supervisor {
	return &Supervisor{
		radio:   r,
		ready:   NewReadiness(),
		logger:  logger.With().Str("component", "supervisor").Logger(),
		assoc:   logic.NewAssociation(maxFailures),
		changed: make(chan struct{}),
	}
}

// OnChange registers an observer. Call before Start.
func (s *Supervisor) OnChange(fn Observer) {
	s.mu.Lock()
	s.observers = append(s.observers, fn)
	s.mu.Unlock()
}

// Ready returns the readiness signal.
func (s *Supervisor) Ready() *Readiness {
	return s.ready
}

// State returns the current association state.
func (s *Supervisor) State() logic.AssociationState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.assoc.State
}

// Retries returns the disconnects seen since the last association.
func (s *Supervisor) Retries() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.assoc.Retries
}

// Status returns a copy of the observable state.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statusLocked()
}

// Start subscribes to radio events and issues the first association
// attempt. It is a no-op unless the supervisor is idle.
func (s *Supervisor) Start(c credentials.Credentials) error {
	if !c.IsProvisioned() {
		return fmt.Errorf("start: %w", ErrNoCredentials)
	}
	if err := c.Validate(); err != nil {
		return fmt.Errorf("start: %w", err)
	}

	s.mu.Lock()
	state := s.assoc.State
	if state != logic.StateIdle && state != logic.StateProvisioning {
		s.mu.Unlock()
		return nil
	}
	s.creds = c
	if s.unsubscribe == nil {
		s.unsubscribe = s.radio.Subscribe(s.handle)
	}
	s.mu.Unlock()

	if state == logic.StateProvisioning {
		s.apply(logic.NetworkEvent{Type: logic.EventReset})
	}
	s.logger.Info().Str("ssid", c.SSID).Msg("Starting association")
	s.apply(logic.NetworkEvent{Type: logic.EventStart})
	return nil
}

// Suspend hands the radio to provisioning: handlers are unregistered,
// readiness is cleared and the association is dropped.
func (s *Supervisor) Suspend() {
	s.mu.Lock()
	if s.unsubscribe != nil {
		s.unsubscribe()
		s.unsubscribe = nil
	}
	s.mu.Unlock()

	s.apply(logic.NetworkEvent{Type: logic.EventBeginProvisioning})

	if err := s.radio.Disconnect(); err != nil {
		s.logger.Warn().Err(err).Msg("Disconnect for provisioning failed")
	}
	s.logger.Info().Msg("Suspended for provisioning")
}

// Resume hands the radio back after a provisioning round that produced no
// credentials, starting again with the ones held before Suspend.
func (s *Supervisor) Resume() error {
	s.mu.Lock()
	state, c := s.assoc.State, s.creds
	s.mu.Unlock()

	if state != logic.StateProvisioning {
		return nil
	}
	if !c.IsProvisioned() {
		return fmt.Errorf("resume: %w", ErrNoCredentials)
	}
	s.logger.Info().Str("ssid", c.SSID).Msg("Resuming with previous credentials")
	return s.Start(c)
}

// Restart resets the machine to idle and starts again with c. It is the
// way out of AssociationFailed.
func (s *Supervisor) Restart(c credentials.Credentials) error {
	s.apply(logic.NetworkEvent{Type: logic.EventReset})
	return s.Start(c)
}

// Await blocks until the supervisor is associated or has failed.
func (s *Supervisor) Await(ctx context.Context) (logic.AssociationState, error) {
	for {
		s.mu.Lock()
		state := s.assoc.State
		ch := s.changed
		s.mu.Unlock()

		switch state {
		case logic.StateAssociated, logic.StateAssociationFailed:
			return state, nil
		case logic.StateIdle, logic.StateProvisioning:
			return state, ErrNotStarted
		}

		select {
		case <-ch:
		case <-ctx.Done():
			return state, ctx.Err()
		}
	}
}

// Close unregisters from the radio.
func (s *Supervisor) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unsubscribe != nil {
		s.unsubscribe()
		s.unsubscribe = nil
	}
}

func (s *Supervisor) handle(ev radio.Event) {
	switch ev.Kind {
	case radio.EventGotAddress:
		s.apply(logic.NetworkEvent{Type: logic.EventAssociated, Address: ev.Address})
	case radio.EventDisconnected:
		s.apply(logic.NetworkEvent{Type: logic.EventDisconnected, Reason: ev.Reason})
	}
}

// apply runs one transition and then issues the association attempt it
// asked for, if any. The attempt is issued outside applyMu because a radio
// may answer it synchronously.
func (s *Supervisor) apply(ev logic.NetworkEvent) {
	if gen, c, retries, ok := s.transition(ev); ok {
		s.connect(gen, c, retries)
	}
}

// transition applies ev under applyMu. The new state is published before
// any observer runs and the readiness signal is raised last, so no other
// transition can be seen between the two.
func (s *Supervisor) transition(ev logic.NetworkEvent) (gen uint64, c credentials.Credentials, retries int, connect bool) {
	s.applyMu.Lock()
	defer s.applyMu.Unlock()

	s.mu.Lock()
	prev := s.assoc
	next, effects := logic.Apply(s.assoc, ev)
	s.assoc = next
	changed := prev != next
	switch ev.Type {
	case logic.EventAssociated:
		if changed {
			s.address, s.reason = ev.Address, ""
		}
	case logic.EventDisconnected:
		if changed {
			s.address, s.reason = "", ev.Reason
		}
	case logic.EventReset, logic.EventBeginProvisioning:
		s.address, s.reason = "", ""
	}
	if changed {
		s.generation++
		close(s.changed)
		s.changed = make(chan struct{})
	}
	status := s.statusLocked()
	observers := append([]Observer(nil), s.observers...)
	gen, c = s.generation, s.creds
	s.mu.Unlock()

	if changed {
		for _, fn := range observers {
			fn(status)
		}
	}

	setReady := false
	for _, eff := range effects {
		switch eff {
		case logic.EffectClearReady:
			s.ready.Clear()
		case logic.EffectConnect:
			connect = true
		case logic.EffectReportFailure:
			s.logger.Error().
				Int("retries", next.Retries).
				Int("max_failures", next.MaxFailures).
				Str("reason", status.Reason).
				Msg("Association failed, re-provisioning required")
		case logic.EffectSetReady:
			setReady = true
		}
	}

	if setReady {
		s.logger.Info().Str("addr", status.Address).Msg("Associated")
		s.ready.Set()
	}
	return gen, c, next.Retries, connect
}

// connect issues the attempt requested by transition gen. It is dropped when
// a later transition has already moved the machine on.
func (s *Supervisor) connect(gen uint64, c credentials.Credentials, retries int) {
	s.mu.Lock()
	stale := s.generation != gen
	s.mu.Unlock()
	if stale {
		s.logger.Debug().Int("retry", retries).Msg("Association attempt superseded")
		return
	}

	if retries > 0 {
		s.logger.Warn().Int("retry", retries).Str("ssid", c.SSID).Msg("Retrying association")
	} else {
		s.logger.Info().Str("ssid", c.SSID).Msg("Association attempt")
	}
	if err := s.radio.Connect(c); err != nil {
		s.logger.Warn().Err(err).Msg("Connect request failed")
		s.apply(logic.NetworkEvent{Type: logic.EventDisconnected, Reason: err.Error()})
	}
}

func (s *Supervisor) statusLocked() Status {
	return Status{
		State:   s.assoc.State,
		Retries: s.assoc.Retries,
		Address: s.address,
		Reason:  s.reason,
	}
}
