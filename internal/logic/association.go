package logic

// AssociationState is the network association state owned by the supervisor.
type AssociationState string

const (
	StateIdle              AssociationState = "IDLE"
	StateAssociating       AssociationState = "ASSOCIATING"
	StateAssociated        AssociationState = "ASSOCIATED"
	StateAssociationFailed AssociationState = "ASSOCIATION_FAILED"
	StateProvisioning      AssociationState = "PROVISIONING"
)

// NetworkEventType identifies an input to the association state machine.
type NetworkEventType string

const (
	EventStart             NetworkEventType = "START"
	EventAssociated        NetworkEventType = "ASSOCIATED"
	EventDisconnected      NetworkEventType = "DISCONNECTED"
	EventBeginProvisioning NetworkEventType = "BEGIN_PROVISIONING"
	EventReset             NetworkEventType = "RESET"
)

// NetworkEvent is a single input to Apply.
type NetworkEvent struct {
	Type    NetworkEventType
	Address string // EventAssociated only
	Reason  string // EventDisconnected only
}

// Effect is a side effect the caller must perform after a transition.
type Effect string

const (
	EffectConnect       Effect = "CONNECT"
	EffectSetReady      Effect = "SET_READY"
	EffectClearReady    Effect = "CLEAR_READY"
	EffectReportFailure Effect = "REPORT_FAILURE"
)

// Association is the state machine value.
type Association struct {
	State       AssociationState
	Retries     int
	MaxFailures int
}

// NewAssociation returns an idle machine with the given retry budget.
func NewAssociation(maxFailures int) Association {
	return Association{State: StateIdle, MaxFailures: maxFailures}
}

// Apply computes the next state and the effects of ev. It never blocks
// and never mutates a.
func Apply(a Association, ev NetworkEvent) (Association, []Effect) {
	switch ev.Type {
	case EventReset:
		next := Association{State: StateIdle, MaxFailures: a.MaxFailures}
		if a.State == StateAssociated {
			return next, []Effect{EffectClearReady}
		}
		return next, nil

	case EventBeginProvisioning:
		next := Association{State: StateProvisioning, MaxFailures: a.MaxFailures}
		if a.State == StateAssociated {
			return next, []Effect{EffectClearReady}
		}
		return next, nil

	case EventStart:
		if a.State != StateIdle {
			return a, nil
		}
		a.State = StateAssociating
		return a, []Effect{EffectConnect}

	case EventAssociated:
		if a.State != StateAssociating {
			// Repeated confirmation while associated, or a stale event
			// after failure/provisioning: nothing to do.
			return a, nil
		}
		a.State = StateAssociated
		a.Retries = 0
		return a, []Effect{EffectSetReady}

	case EventDisconnected:
		if a.State != StateAssociating && a.State != StateAssociated {
			return a, nil
		}
		var effects []Effect
		if a.State == StateAssociated {
			effects = append(effects, EffectClearReady)
		}
		a.Retries++
		if a.Retries >= a.MaxFailures {
			a.State = StateAssociationFailed
			return a, append(effects, EffectReportFailure)
		}
		a.State = StateAssociating
		return a, append(effects, EffectConnect)
	}

	return a, nil
}
