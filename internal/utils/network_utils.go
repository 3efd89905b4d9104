package utils

import (
	"net"
	"strings"
)

// tunnelHints are interface name fragments used by VPNs and virtual
// adapters (OpenVPN, WireGuard, PPP, Cloudflare WARP).
var tunnelHints = []string{"tun", "tap", "wg", "ppp", "warp"}

// Carrier-grade NAT range. WARP and Tailscale hand out addresses here too.
var cgnatBlock = &net.IPNet{
	IP:   net.IPv4(100, 64, 0, 0),
	Mask: net.CIDRMask(10, 32),
}

// ShouldForceRelay reports whether an active interface looks like a VPN
// tunnel or sits behind CGNAT. Direct candidates rarely connect from
// there, so callers restrict ICE to TURN.
func ShouldForceRelay() bool {
	interfaces, err := net.Interfaces()
	if err != nil {
		return false
	}

	for _, iface := range interfaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		if IsTunnelInterface(iface.Name) {
			return true
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			if ipnet, ok := addr.(*net.IPNet); ok && IsCGNAT(ipnet.IP) {
				return true
			}
			if ipaddr, ok := addr.(*net.IPAddr); ok && IsCGNAT(ipaddr.IP) {
				return true
			}
		}
	}
	return false
}

func IsTunnelInterface(name string) bool {
	name = strings.ToLower(name)
	for _, hint := range tunnelHints {
		if strings.Contains(name, hint) {
			return true
		}
	}
	return false
}

func IsCGNAT(ip net.IP) bool {
	return ip != nil && cgnatBlock.Contains(ip)
}
