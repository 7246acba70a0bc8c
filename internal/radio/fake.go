package radio

import (
	"sync"

	"github.com/sweeney/mailbox-node/internal/credentials"
)

// FakeRadio is a test double that records calls and lets tests inject events.
type FakeRadio struct {
	dispatcher

	mu sync.Mutex

	// Connects records the credentials of every Connect call.
	Connects []credentials.Credentials

	// Disconnects counts Disconnect calls.
	Disconnects int

	// AccessPoints records every StartAccessPoint call.
	AccessPoints []AccessPoint

	// APActive reports whether the access point is up.
	APActive bool

	// Networks is returned by Scan.
	Networks []Network

	// ConnectError, if set, is returned by Connect.
	ConnectError error

	// ScanError, if set, is returned by Scan.
	ScanError error

	// OnConnect, if set, is called synchronously from Connect after it is recorded.
	OnConnect func(c credentials.Credentials)

	// Closed tracks if Close was called.
	Closed bool
}

// NewFakeRadio creates a FakeRadio.
func NewFakeRadio() *FakeRadio {
	return &FakeRadio{}
}

// Subscribe registers fn for events injected with Emit.
func (f *FakeRadio) Subscribe(fn func(Event)) func() {
	return f.subscribe(fn)
}

// Subscribers returns the number of registered handlers.
func (f *FakeRadio) Subscribers() int {
	return f.count()
}

// Emit delivers ev to all subscribers synchronously.
func (f *FakeRadio) Emit(ev Event) {
	f.emit(ev)
}

// Connect records the attempt.
func (f *FakeRadio) Connect(c credentials.Credentials) error {
	f.mu.Lock()
	if f.ConnectError != nil {
		err := f.ConnectError
		f.mu.Unlock()
		return err
	}
	f.Connects = append(f.Connects, c)
	hook := f.OnConnect
	f.mu.Unlock()

	if hook != nil {
		hook(c)
	}
	return nil
}

// ConnectCount returns the number of recorded Connect calls.
func (f *FakeRadio) ConnectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Connects)
}

// Disconnect counts the call.
func (f *FakeRadio) Disconnect() error {
	f.mu.Lock()
	f.Disconnects++
	f.mu.Unlock()
	return nil
}

// StartAccessPoint records the access point.
func (f *FakeRadio) StartAccessPoint(ap AccessPoint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.AccessPoints = append(f.AccessPoints, ap)
	f.APActive = true
	return nil
}

// StopAccessPoint marks the access point down.
func (f *FakeRadio) StopAccessPoint() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.APActive = false
	return nil
}

// IsAPActive reports whether the access point is up.
func (f *FakeRadio) IsAPActive() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.APActive
}

// Scan returns the scripted networks.
func (f *FakeRadio) Scan() ([]Network, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ScanError != nil {
		return nil, f.ScanError
	}
	return f.Networks, nil
}

// Close marks the radio as closed.
func (f *FakeRadio) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Closed = true
	return nil
}
