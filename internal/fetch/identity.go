package fetch

import (
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/vishvananda/netlink"
)

// FallbackIdentifier names the configuration every node may fall back to.
const FallbackIdentifier = "00_00_00_00_00_01"

// Identity is what a node knows about itself before it has a configuration.
type Identity struct {
	Interface string
	MAC       net.HardwareAddr
	// Gateway is the default IPv4 route's next hop, which is the backend.
	Gateway net.IP
}

// Identifier renders a MAC address the way configuration files are named.
func Identifier(mac net.HardwareAddr) string {
	return strings.ReplaceAll(strings.ToLower(mac.String()), ":", "_")
}

// Discover reads the MAC of iface and the default IPv4 gateway.
func Discover(iface string) (Identity, error) {
	link, err := netlink.LinkByName(iface)
	if err != nil {
		return Identity{}, fmt.Errorf("look up interface %s: %w", iface, err)
	}
	mac := link.Attrs().HardwareAddr
	if len(mac) == 0 {
		return Identity{}, fmt.Errorf("interface %s has no hardware address", iface)
	}

	gateway, err := DefaultGateway()
	if err != nil {
		return Identity{}, err
	}
	return Identity{Interface: iface, MAC: mac, Gateway: gateway}, nil
}

// DefaultGateway returns the next hop of the default IPv4 route.
func DefaultGateway() (net.IP, error) {
	routes, err := netlink.RouteList(nil, netlink.FAMILY_V4)
	if err != nil {
		return nil, fmt.Errorf("list routes: %w", err)
	}
	for _, route := range routes {
		if isDefault(route.Dst) && route.Gw != nil {
			return route.Gw, nil
		}
	}
	return nil, errors.New("no default IPv4 gateway")
}

func isDefault(dst *net.IPNet) bool {
	if dst == nil {
		return true
	}
	ones, _ := dst.Mask.Size()
	return ones == 0 && dst.IP.IsUnspecified()
}
