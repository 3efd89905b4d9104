package session

import (
	"context"
	"time"

	"github.com/BioHazard786/warplink/internal/signaling"
	"github.com/rs/zerolog"
)

const DefaultProbeTimeout = time.Second

// Negotiator picks a role by probing the relay: if another peer already
// sits in the room this side answers, otherwise it offers.
//
// Two peers probing an empty room at the same moment both become
// initiators. The relay then refuses the second offer with a room
// conflict; nothing here prevents the race.
type Negotiator struct {
	transport signaling.Transport
	timeout   time.Duration
	log       zerolog.Logger
}

func NewNegotiator(transport signaling.Transport, timeout time.Duration, log zerolog.Logger) *Negotiator {
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	return &Negotiator{transport: transport, timeout: timeout, log: log}
}

// Decide returns Responder when the room is occupied and Initiator
// otherwise. Probe errors count as an empty room.
func (n *Negotiator) Decide(ctx context.Context, roomID string) Role {
	occupied, err := n.transport.Probe(ctx, roomID, n.timeout)
	if err != nil {
		n.log.Debug().Err(err).Str("room", roomID).Msg("probe failed, assuming empty room")
		return Initiator
	}
	if occupied {
		return Responder
	}
	return Initiator
}
