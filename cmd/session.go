package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/BioHazard786/warplink/internal/config"
	"github.com/BioHazard786/warplink/internal/session"
	"github.com/BioHazard786/warplink/internal/signaling"
	"github.com/BioHazard786/warplink/internal/ui"
	"github.com/BioHazard786/warplink/internal/utils"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// startFunc begins negotiation on a fresh session and blocks until it is
// connected or has failed.
type startFunc func(ctx context.Context, s *session.Session) error

// connect runs start on a new Session, recreating it after failures that
// retry accepts, up to cfg.Retry.MaxAttempts times. Every attempt uses the
// same peer id, so the relay sees one peer coming back rather than a
// stranger competing for the room.
func connect(ctx context.Context, cfg *config.Config, retry func(error) bool, start startFunc) (*session.Session, error) {
	logger := log.With().Str("module", "cli").Logger()
	policy := cfg.Retry
	peerID := uuid.NewString()

	for attempt := 1; ; attempt++ {
		s := session.New(cfg.Session(), session.WithPeerID(peerID))
		began := time.Now()

		err := start(ctx, s)
		if err == nil {
			logger.Debug().
				Str("room", s.RoomID()).
				Str("role", s.Role().String()).
				Dur("took", time.Since(began)).
				Msg("session connected")
			if flagStats {
				printSessionSummary(cfg, s, time.Since(began))
			}
			return s, nil
		}
		s.Close()

		if attempt >= policy.MaxAttempts || !retry(err) {
			return nil, err
		}
		logger.Warn().Err(err).Int("attempt", attempt).Msg("session failed, retrying")
		ui.PrintWarningf("Attempt %d/%d failed: %v", attempt, policy.MaxAttempts, err)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(policy.Backoff):
		}
	}
}

// retryJoin is Retryable minus the relay answers that will not change
// for the same token.
func retryJoin(err error) bool {
	if errors.Is(err, signaling.ErrRoomExpired) || errors.Is(err, signaling.ErrRoomConflict) {
		return false
	}
	return session.Retryable(err)
}

// retrySend is Retryable minus timeouts. When nobody answered, the
// receiver never got the token, and a fresh one would not reach them
// either.
func retrySend(err error) bool {
	if errors.Is(err, signaling.ErrSignalingTimeout) || errors.Is(err, session.ErrNegotiationTimeout) {
		return false
	}
	return session.Retryable(err)
}

// followState keeps sp's message in step with the session lifecycle.
func followState(s *session.Session, sp *ui.SimpleSpinner) {
	s.On(session.EventState, func(ev session.Event) {
		switch ev.State {
		case session.Negotiating:
			sp.UpdateMessage("Negotiating connection...")
		case session.Disconnected:
			sp.UpdateMessage("Connection lost, waiting for it to recover...")
		}
	})
	s.On(session.EventDisconnect, func(ev session.Event) {
		log.Warn().Str("module", "cli").Str("reason", ev.Reason).Err(ev.Err).Msg("peer disconnected")
	})
}

// settle ends sp with a success line when err is nil.
func settle(sp *ui.SimpleSpinner, err error, success string) {
	if err != nil {
		sp.Stop()
		return
	}
	sp.Success(success)
}

// applyRelayHeuristic forces TURN-only ICE on VPN and CGNAT hosts when a
// TURN server is available.
func applyRelayHeuristic(cfg *config.Config) {
	if cfg.ForceRelay || cfg.TURNServer == "" || !utils.ShouldForceRelay() {
		return
	}
	ui.PrintInfo("VPN or CGNAT detected, relaying through TURN")
	cfg.ForceRelay = true
}

func printSessionSummary(cfg *config.Config, s *session.Session, took time.Duration) {
	gathering := "partial"
	if g := s.Gathered(); g.Complete {
		gathering = "complete in " + g.Elapsed.Round(time.Millisecond).String()
	}
	fmt.Println()
	fmt.Println(ui.SessionSummaryView(ui.SessionSummary{
		Room:      s.RoomID(),
		Role:      s.Role().String(),
		State:     ui.StateStyle(s.State().String()).Render(s.State().String()),
		Transport: cfg.Transport + " via " + cfg.RelayURL,
		Gathering: gathering,
		Took:      utils.FormatTimeDuration(took),
	}))
}
