package session

import (
	"context"
	"time"

	"github.com/BioHazard786/warplink/internal/webrtc"
	pion "github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

// GatherResult reports how candidate gathering ended.
type GatherResult struct {
	Complete bool
	Elapsed  time.Duration
}

// Gather waits for peer to finish gathering candidates, for at most
// timeout. It never fails: on timeout or cancellation negotiation goes on
// with whatever candidates are already in the local description.
func Gather(ctx context.Context, peer webrtc.PeerHandle, timeout time.Duration, log zerolog.Logger) GatherResult {
	start := time.Now()
	if peer.GatheringState() == pion.ICEGatheringStateComplete {
		return GatherResult{Complete: true}
	}

	done := peer.GatheringComplete()
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		elapsed := time.Since(start)
		log.Debug().Dur("took", elapsed).Msg("candidate gathering complete")
		return GatherResult{Complete: true, Elapsed: elapsed}
	case <-timer.C:
		log.Info().
			Err(ErrCandidateGatherTimeout).
			Dur("timeout", timeout).
			Msg("continuing with partial candidates")
	case <-ctx.Done():
	}
	return GatherResult{Elapsed: time.Since(start)}
}
