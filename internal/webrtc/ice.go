package webrtc

import (
	"fmt"
	"strings"

	pion "github.com/pion/webrtc/v4"
)

// Options describes how peers reach each other: STUN/TURN servers, the
// transport policy and test-only loopback candidates.
type Options struct {
	STUNServers []string
	// TURNHost is a bare host (e.g. "turn.example.org"); the UDP, TCP and
	// TLS URLs are derived from it. Full "turn:" URLs are used as given.
	TURNHost string
	TURNUser string
	TURNPass string

	// ForceRelay restricts candidates to TURN relays. Ignored when no TURN
	// server is configured.
	ForceRelay bool

	// IncludeLoopback enables 127.0.0.1 candidates, needed when both peers
	// live on the same host with no other interface.
	IncludeLoopback bool
}

// TURNServers returns the TURN URLs derived from TURNHost, or nil when no
// TURN server is configured.
func (o Options) TURNServers() []string {
	if o.TURNHost == "" {
		return nil
	}
	host := strings.TrimPrefix(strings.TrimPrefix(o.TURNHost, "turns:"), "turn:")
	if strings.ContainsAny(host, ":?") {
		// Already carries a port or transport; use it verbatim.
		if host == o.TURNHost {
			return []string{"turn:" + host}
		}
		return []string{o.TURNHost}
	}
	return []string{
		fmt.Sprintf("turn:%s:3478?transport=udp", host),
		fmt.Sprintf("turn:%s:3478?transport=tcp", host),
		fmt.Sprintf("turns:%s:5349?transport=tcp", host),
	}
}

// Configuration converts the options into a pion configuration.
func (o Options) Configuration() pion.Configuration {
	var servers []pion.ICEServer
	if len(o.STUNServers) > 0 {
		servers = append(servers, pion.ICEServer{URLs: o.STUNServers})
	}

	turn := o.TURNServers()
	if turn != nil {
		servers = append(servers, pion.ICEServer{
			URLs:       turn,
			Username:   o.TURNUser,
			Credential: o.TURNPass,
		})
	}

	policy := pion.ICETransportPolicyAll
	if turn != nil && o.ForceRelay {
		policy = pion.ICETransportPolicyRelay
	}

	return pion.Configuration{
		ICEServers:         servers,
		ICETransportPolicy: policy,
	}
}
