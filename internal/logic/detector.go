package logic

import "time"

// Detector holds the sampled snapshots and detects transitions.
// previous only advances after a successful delivery, so an undelivered
// change keeps comparing as changed on every following sample.
type Detector struct {
	current       Snapshot
	previous      Snapshot
	startTime     time.Time
	eventCounts   EventCounts
	failStreak    int
	offered       Snapshot // snapshot of the undelivered transition, if pending
	pending       bool
	lastHeartbeat time.Time
}

// NewDetector creates a detector whose previous snapshot is all channels low.
// The startTime is used for calculating uptime in heartbeat events.
func NewDetector(startTime time.Time) *Detector {
	return &Detector{
		startTime:     startTime,
		lastHeartbeat: startTime,
	}
}

// Process stores the sample as the current snapshot and returns a transition
// if it differs from the previous one in any channel. A change that is
// offered again after a failed delivery is counted once.
func (d *Detector) Process(input Input) *Transition {
	d.current = input.Levels
	if d.current == d.previous {
		d.pending = false
		return nil
	}

	if !d.pending || d.offered != d.current {
		d.eventCounts.Transitions++
	}
	d.offered, d.pending = d.current, true
	return &Transition{
		Timestamp: input.Time,
		Snapshot:  d.current,
		Previous:  d.previous,
	}
}

// Resolve records the outcome of delivering t. Only a success advances previous.
func (d *Detector) Resolve(t Transition, outcome Outcome) {
	switch outcome {
	case OutcomeSuccess:
		d.previous = t.Snapshot
		d.pending = false
		d.eventCounts.Delivered++
		d.failStreak = 0
	default:
		d.eventCounts.Failed++
		d.failStreak++
	}
}

// Current returns the most recent sample.
func (d *Detector) Current() Snapshot {
	return d.current
}

// Previous returns the last successfully delivered snapshot.
func (d *Detector) Previous() Snapshot {
	return d.previous
}

// FailureStreak returns the number of consecutive failed deliveries.
func (d *Detector) FailureStreak() int {
	return d.failStreak
}

// EventCountsSnapshot returns a copy of the counters.
func (d *Detector) EventCountsSnapshot() EventCounts {
	return d.eventCounts
}

// CheckHeartbeat returns heartbeat data if the interval has elapsed since the
// last heartbeat (or startup). Returns nil if the interval has not elapsed,
// or if interval is <= 0 (disabled).
func (d *Detector) CheckHeartbeat(now time.Time, interval time.Duration) *HeartbeatData {
	if interval <= 0 {
		return nil
	}

	if now.Sub(d.lastHeartbeat) < interval {
		return nil
	}

	d.lastHeartbeat = now
	return &HeartbeatData{
		Timestamp: now,
		Uptime:    now.Sub(d.startTime),
		Counts:    d.eventCounts,
	}
}
