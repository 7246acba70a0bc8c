// Package radio abstracts the Wi-Fi interface: station association, the
// local access point, scanning, and the network events the driver emits.
// The real implementation drives NetworkManager; the fake allows testing
// without a radio.
package radio

import (
	"sync"

	"github.com/sweeney/mailbox-node/internal/credentials"
)

// EventKind identifies a network event.
type EventKind string

const (
	// EventGotAddress is emitted when the station interface obtains an address.
	EventGotAddress EventKind = "GOT_ADDRESS"
	// EventDisconnected is emitted when an attempt fails or an association is lost.
	EventDisconnected EventKind = "DISCONNECTED"
)

// Event is delivered to subscribers on the radio's event goroutine.
// Handlers must return quickly and must not block.
type Event struct {
	Kind    EventKind
	Address string
	Reason  string
}

// Network is one entry of a scan.
type Network struct {
	SSID     string `json:"ssid"`
	Signal   int    `json:"signal"`
	Security string `json:"security"`
}

// AccessPoint configures the node's own provisioning network.
// An empty Password means an open network.
type AccessPoint struct {
	SSID     string
	Password string
}

// Radio is the single mutable network resource of the node.
type Radio interface {
	// Subscribe registers fn for network events and returns a function
	// that unregisters it.
	Subscribe(fn func(Event)) (unsubscribe func())

	// Connect issues an association attempt and returns without waiting
	// for it. The outcome arrives as an Event.
	Connect(c credentials.Credentials) error

	// Disconnect drops the current association.
	Disconnect() error

	// StartAccessPoint brings up the node's own network.
	StartAccessPoint(ap AccessPoint) error

	// StopAccessPoint tears the node's own network down.
	StopAccessPoint() error

	// Scan lists nearby networks.
	Scan() ([]Network, error)

	// Close releases driver resources.
	Close() error
}

// dispatcher fans events out to subscribers.
type dispatcher struct {
	mu       sync.Mutex
	next     int
	handlers map[int]func(Event)
}

func (d *dispatcher) subscribe(fn func(Event)) func() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.handlers == nil {
		d.handlers = make(map[int]func(Event))
	}
	id := d.next
	d.next++
	d.handlers[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			d.mu.Lock()
			delete(d.handlers, id)
			d.mu.Unlock()
		})
	}
}

// emit calls every handler registered at the time of the call.
func (d *dispatcher) emit(ev Event) {
	d.mu.Lock()
	handlers := make([]func(Event), 0, len(d.handlers))
	for i := 0; i < d.next; i++ {
		if fn, ok := d.handlers[i]; ok {
			handlers = append(handlers, fn)
		}
	}
	d.mu.Unlock()

	for _, fn := range handlers {
		fn(ev)
	}
}

func (d *dispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.handlers)
}
