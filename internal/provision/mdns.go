package provision

import (
	"fmt"

	"github.com/grandcat/zeroconf"
)

// ServiceType is the mDNS service under which the provisioning surface is
// announced.
const ServiceType = "_http._tcp"

// Advertiser announces a service and returns a function that withdraws it.
type Advertiser func(instance string, port int, text []string) (stop func(), err error)

// Advertise registers the provisioning surface over mDNS.
func Advertise(instance string, port int, text []string) (func(), error) {
	server, err := zeroconf.Register(instance, ServiceType, "local.", port, text, nil)
	if err != nil {
		return nil, fmt.Errorf("register mdns %s: %w", instance, err)
	}
	return server.Shutdown, nil
}
