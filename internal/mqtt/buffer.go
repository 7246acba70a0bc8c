package mqtt

import "github.com/rs/zerolog"

// bufferedMsg is a serialized message held for replay after reconnection.
type bufferedMsg struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// backlog holds messages published while the broker is unreachable.
// When full it evicts the oldest report event first, so system events such
// as ASSOCIATION_FAILED outlive a burst of reports. Callers synchronize.
type backlog struct {
	msgs     []bufferedMsg
	capacity int
	dropped  int
	overflow bool
	logger   zerolog.Logger
}

func newBacklog(capacity int, logger zerolog.Logger) *backlog {
	return &backlog{
		msgs:     make([]bufferedMsg, 0, capacity),
		capacity: capacity,
		logger:   logger,
	}
}

func (b *backlog) push(msg bufferedMsg) {
	if len(b.msgs) < b.capacity {
		b.msgs = append(b.msgs, msg)
		return
	}

	if !b.overflow {
		b.logger.Warn().Int("capacity", b.capacity).Msg("Telemetry buffer full, dropping oldest")
		b.overflow = true
	}
	b.dropped++

	victim := 0
	for i, m := range b.msgs {
		if m.topic == TopicReports {
			victim = i
			break
		}
	}
	copy(b.msgs[victim:], b.msgs[victim+1:])
	b.msgs[len(b.msgs)-1] = msg
}

// drainAll returns the held messages oldest first and empties the backlog.
func (b *backlog) drainAll() []bufferedMsg {
	if len(b.msgs) == 0 {
		return nil
	}
	if b.dropped > 0 {
		b.logger.Warn().Int("dropped", b.dropped).Msg("Telemetry lost while disconnected")
	}

	out := b.msgs
	b.msgs = make([]bufferedMsg, 0, b.capacity)
	b.dropped = 0
	b.overflow = false
	return out
}

func (b *backlog) len() int {
	return len(b.msgs)
}
