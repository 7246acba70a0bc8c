package provision

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/sweeney/mailbox-node/internal/credentials"
)

// ErrMalformedFrame is returned by DecodeFrame for anything that is not a
// complete, checksummed provisioning frame.
var ErrMalformedFrame = errors.New("provision: malformed frame")

// Frame layout:
//
//	"MNP1" | ssidLen | pwdLen | auxLen | ssid | pwd | aux | crc8
//
// Lengths are single bytes. The checksum covers every preceding byte.
var (
	frameMagic = []byte("MNP1")
	ackMagic   = []byte("MNPA")
)

const (
	headerLen = 4 + 3
	// MaxAuxLen bounds the auxiliary payload.
	MaxAuxLen = 255
)

// Frame is the decoded content of a provisioning broadcast.
type Frame struct {
	Credentials credentials.Credentials
	Aux         []byte
}

// EncodeFrame serializes f. It is the broadcaster's side of the protocol.
func EncodeFrame(f Frame) ([]byte, error) {
	if err := f.Credentials.Validate(); err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	if len(f.Aux) > MaxAuxLen {
		return nil, fmt.Errorf("encode frame: aux is %d bytes, max %d", len(f.Aux), MaxAuxLen)
	}

	ssid, pwd := f.Credentials.SSID, f.Credentials.Password
	buf := make([]byte, 0, headerLen+len(ssid)+len(pwd)+len(f.Aux)+1)
	buf = append(buf, frameMagic...)
	buf = append(buf, byte(len(ssid)), byte(len(pwd)), byte(len(f.Aux)))
	buf = append(buf, ssid...)
	buf = append(buf, pwd...)
	buf = append(buf, f.Aux...)
	return append(buf, crc8(buf)), nil
}

// DecodeFrame parses a provisioning frame.
func DecodeFrame(b []byte) (Frame, error) {
	if len(b) < headerLen+1 || !bytes.Equal(b[:4], frameMagic) {
		return Frame{}, fmt.Errorf("%w: bad header", ErrMalformedFrame)
	}

	ssidLen, pwdLen, auxLen := int(b[4]), int(b[5]), int(b[6])
	want := headerLen + ssidLen + pwdLen + auxLen + 1
	if len(b) != want {
		return Frame{}, fmt.Errorf("%w: %d bytes, header says %d", ErrMalformedFrame, len(b), want)
	}
	if sum := crc8(b[:want-1]); sum != b[want-1] {
		return Frame{}, fmt.Errorf("%w: checksum %#02x, want %#02x", ErrMalformedFrame, b[want-1], sum)
	}

	p := b[headerLen:]
	f := Frame{
		Credentials: credentials.Credentials{
			SSID:     string(p[:ssidLen]),
			Password: string(p[ssidLen : ssidLen+pwdLen]),
		},
	}
	if auxLen > 0 {
		f.Aux = append([]byte(nil), p[ssidLen+pwdLen:ssidLen+pwdLen+auxLen]...)
	}

	if !f.Credentials.IsProvisioned() {
		return Frame{}, fmt.Errorf("%w: ssid and password are required", ErrMalformedFrame)
	}
	if err := f.Credentials.Validate(); err != nil {
		return Frame{}, fmt.Errorf("%w: %w", ErrMalformedFrame, err)
	}
	return f, nil
}

// EncodeAck builds the acknowledgment datagram sent to the broadcaster.
func EncodeAck(address string) []byte {
	return append(append([]byte(nil), ackMagic...), address...)
}

// DecodeAck returns the address carried by an acknowledgment.
func DecodeAck(b []byte) (string, bool) {
	if !bytes.HasPrefix(b, ackMagic) {
		return "", false
	}
	return string(b[len(ackMagic):]), true
}

// crc8 is the reflected Dallas/Maxim CRC-8 (poly 0x31, reversed 0x8C).
func crc8(data []byte) byte {
	var crc byte
	for _, b := range data {
		crc ^= b
		for i := 0; i < 8; i++ {
			if crc&1 != 0 {
				crc = crc>>1 ^ 0x8C
			} else {
				crc >>= 1
			}
		}
	}
	return crc
}
