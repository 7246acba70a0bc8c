package provision

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/rs/zerolog"
)

// DefaultBroadcastAddr is where the broadcast listener binds.
const DefaultBroadcastAddr = ":18266"

const maxDatagram = 512

// Broadcast captures credentials from a provisioning frame sent over UDP.
// The credentials are used before they are stored; once the node associates
// an acknowledgment is returned to the sender and the listener is closed.
type Broadcast struct {
	addr   string
	logger zerolog.Logger

	// ListenPacket opens the listener. Defaults to net.ListenPacket.
	ListenPacket func(network, address string) (net.PacketConn, error)
}

// NewBroadcast creates a strategy listening on addr.
func NewBroadcast(addr string, logger zerolog.Logger) *Broadcast {
	if addr == "" {
		addr = DefaultBroadcastAddr
	}
	return &Broadcast{
		addr:         addr,
		logger:       logger.With().Str("component", "broadcast").Logger(),
		ListenPacket: net.ListenPacket,
	}
}

// Name implements Strategy.
func (b *Broadcast) Name() string {
	return ModeBroadcast
}

// Acquire listens until a valid frame arrives. Malformed frames are logged
// and ignored so the operator can simply broadcast again.
func (b *Broadcast) Acquire(ctx context.Context) (Result, error) {
	conn, err := b.ListenPacket("udp", b.addr)
	if err != nil {
		return Result{}, fmt.Errorf("listen %s: %w", b.addr, err)
	}

	var once sync.Once
	closeConn := func() {
		once.Do(func() {
			conn.Close()
			b.logger.Info().Msg("Listener closed")
		})
	}
	stop := context.AfterFunc(ctx, closeConn)

	b.logger.Info().Str("addr", conn.LocalAddr().String()).Msg("Listening for provisioning broadcast")

	buf := make([]byte, maxDatagram)
	for {
		n, from, err := conn.ReadFrom(buf)
		if err != nil {
			stop()
			closeConn()
			if ctx.Err() != nil {
				return Result{}, ctx.Err()
			}
			return Result{}, fmt.Errorf("read broadcast: %w", err)
		}

		f, err := DecodeFrame(buf[:n])
		if err != nil {
			b.logger.Warn().Err(err).Str("from", from.String()).Msg("Discarding broadcast")
			continue
		}
		if !stop() {
			// ctx ended while decoding; the listener is already closing.
			return Result{}, ctx.Err()
		}

		b.logger.Info().Str("from", from.String()).Str("ssid", f.Credentials.SSID).Int("aux_len", len(f.Aux)).Msg("Broadcast decoded")
		return Result{
			Credentials: f.Credentials,
			Aux:         f.Aux,
			Complete: func(address string) error {
				if _, err := conn.WriteTo(EncodeAck(address), from); err != nil {
					return fmt.Errorf("send ack: %w", err)
				}
				b.logger.Info().Str("to", from.String()).Str("addr", address).Msg("Acknowledgment sent")
				return nil
			},
			Release: closeConn,
		}, nil
	}
}
