// Package credentials holds the network credentials of the node, the
// length-prefixed pairing encoding used to persist them, and the store that
// keeps them across restarts.
package credentials

import (
	"errors"
	"fmt"
)

// Size limits of the credential fields, in bytes.
const (
	MaxSSIDLen     = 32
	MaxPasswordLen = 64
)

var (
	ErrHalfProvisioned   = errors.New("credentials: identifier and secret must both be set or both be empty")
	ErrIdentifierTooLong = errors.New("credentials: identifier too long")
	ErrSecretTooLong     = errors.New("credentials: secret too long")
)

// Credentials is the (identifier, secret) pair used to join a network.
type Credentials struct {
	SSID     string
	Password string
}

// IsProvisioned reports whether both fields are set.
func (c Credentials) IsProvisioned() bool {
	return c.SSID != "" && c.Password != ""
}

// Validate checks the field sizes and that the pair is either complete or empty.
func (c Credentials) Validate() error {
	if len(c.SSID) > MaxSSIDLen {
		return fmt.Errorf("%w: %d bytes, max %d", ErrIdentifierTooLong, len(c.SSID), MaxSSIDLen)
	}
	if len(c.Password) > MaxPasswordLen {
		return fmt.Errorf("%w: %d bytes, max %d", ErrSecretTooLong, len(c.Password), MaxPasswordLen)
	}
	if (c.SSID == "") != (c.Password == "") {
		return ErrHalfProvisioned
	}
	return nil
}

// String never includes the secret.
func (c Credentials) String() string {
	if c.SSID == "" {
		return "<unprovisioned>"
	}
	return fmt.Sprintf("ssid=%q", c.SSID)
}
