package mqtt

import (
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DefaultBufferSize is the number of messages held while disconnected.
const DefaultBufferSize = 64

// publishClient is the part of paho.Client the publisher uses.
type publishClient interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Disconnect(quiesce uint)
}

// Options configures a RealPublisher.
type Options struct {
	Broker     string
	ClientID   string
	BufferSize int
}

// RealPublisher publishes to an actual MQTT broker. Publishing never waits
// on the network: tokens are awaited in the background and messages
// published while disconnected are buffered and replayed on reconnect.
type RealPublisher struct {
	client publishClient
	logger zerolog.Logger

	mu        sync.Mutex
	connected bool
	buffer    *backlog
}

func newPublisher(bufferSize int, logger zerolog.Logger) *RealPublisher {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &RealPublisher{
		logger: logger,
		buffer: newBacklog(bufferSize, logger),
	}
}

// NewRealPublisher creates a publisher for the given broker. If the broker
// is not reachable within a few seconds the publisher is still returned;
// paho keeps retrying and events are buffered meanwhile.
func NewRealPublisher(opts Options, logger zerolog.Logger) (*RealPublisher, error) {
	logger = logger.With().Str("component", "mqtt").Str("broker", opts.Broker).Logger()
	p := newPublisher(opts.BufferSize, logger)

	if opts.ClientID == "" {
		opts.ClientID = "mailbox-node"
	}
	clientID := fmt.Sprintf("%s-%s", opts.ClientID, uuid.NewString()[:8])

	will, err := FormatSystemPayload(SystemEvent{Timestamp: time.Now(), Event: EventOffline, Reason: "connection lost"})
	if err != nil {
		return nil, fmt.Errorf("format will payload: %w", err)
	}

	pahoOpts := paho.NewClientOptions().
		AddBroker(opts.Broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetBinaryWill(TopicSystem, will, 1, false).
		SetOnConnectHandler(func(paho.Client) { p.onConnect() }).
		SetConnectionLostHandler(func(_ paho.Client, err error) { p.onConnectionLost(err) })

	client := paho.NewClient(pahoOpts)
	p.client = client

	token := client.Connect()
	if !token.WaitTimeout(5 * time.Second) {
		logger.Warn().Msg("Broker not reachable yet, buffering until connected")
		return p, nil
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}
	return p, nil
}

// Publish sends a report event. QoS 0, not retained.
func (p *RealPublisher) Publish(event ReportEvent) error {
	payload, err := FormatPayload(event)
	if err != nil {
		return fmt.Errorf("format payload: %w", err)
	}
	p.publish(bufferedMsg{topic: TopicReports, payload: payload})
	return nil
}

// PublishSystem sends a system event. QoS 1 so lifecycle events survive
// a flaky link.
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}
	p.publish(bufferedMsg{topic: TopicSystem, payload: payload, qos: 1, retained: event.Retained})
	return nil
}

// IsConnected reports whether the broker connection is up.
func (p *RealPublisher) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

// Buffered returns the number of messages waiting for a connection.
func (p *RealPublisher) Buffered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buffer.len()
}

// Close disconnects from the broker.
func (p *RealPublisher) Close() error {
	if p.client != nil {
		p.client.Disconnect(1000) // 1 second quiesce
	}
	return nil
}

func (p *RealPublisher) publish(msg bufferedMsg) {
	p.mu.Lock()
	if !p.connected {
		p.buffer.push(msg)
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()
	p.send(msg)
}

func (p *RealPublisher) send(msg bufferedMsg) {
	token := p.client.Publish(msg.topic, msg.qos, msg.retained, msg.payload)
	go func() {
		if !token.WaitTimeout(5 * time.Second) {
			p.logger.Warn().Str("topic", msg.topic).Msg("Publish timeout")
			return
		}
		if err := token.Error(); err != nil {
			p.logger.Warn().Str("topic", msg.topic).Err(err).Msg("Publish failed")
		}
	}()
}

func (p *RealPublisher) onConnect() {
	p.mu.Lock()
	p.connected = true
	pending := p.buffer.drainAll()
	p.mu.Unlock()

	p.logger.Info().Int("replayed", len(pending)).Msg("Connected to broker")
	for _, msg := range pending {
		p.send(msg)
	}
}

func (p *RealPublisher) onConnectionLost(err error) {
	p.mu.Lock()
	p.connected = false
	p.mu.Unlock()
	p.logger.Warn().Err(err).Msg("Broker connection lost")
}
