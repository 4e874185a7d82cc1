package server

import (
	"errors"

	"github.com/rs/zerolog/log"
)

const maxReleaseAttempts = 3

type connectionChecker interface {
	IsConnected(userID string) bool
}

// Supervisor returns a user to idle, whatever they were doing. It is used
// when their last connection drops and for explicit cancelMatch.
type Supervisor struct {
	presence *PresenceTracker
	queue    *MatchmakingQueue
	invites  *InviteBroker
	rooms    *RoomManager
	conns    connectionChecker
}

// NewSupervisor builds a supervisor. conns may be nil, in which case every
// HandleDisconnect is treated as final.
func NewSupervisor(presence *PresenceTracker, queue *MatchmakingQueue, invites *InviteBroker, rooms *RoomManager, conns connectionChecker) *Supervisor {
	return &Supervisor{
		presence: presence,
		queue:    queue,
		invites:  invites,
		rooms:    rooms,
		conns:    conns,
	}
}

// Release undoes the user's current activity. Activity can change between
// reading presence and acting on it (a queued user gets paired, an invite
// gets accepted), so it re-reads and retries a bounded number of times.
func (s *Supervisor) Release(userID string) {
	for attempt := 0; attempt < maxReleaseAttempts; attempt++ {
		p := s.presence.Get(userID)

		switch p.Activity {
		case ActivityIdle:
			return

		case ActivityQueued:
			if s.queue.Cancel(userID) {
				return
			}

		case ActivityInviting, ActivityInvited:
			if s.invites.Withdraw(userID) {
				return
			}

		case ActivityPlaying:
			err := s.rooms.Forfeit(p.SessionID, userID)
			if err == nil {
				return
			}
			if errors.Is(err, ErrSessionNotFound) {
				s.presence.ReleaseIf(userID, inSession(p.SessionID, ActivityPlaying))
				return
			}
			log.Warn().Err(err).Str("user", userID).Int("session", p.SessionID).Msg("Forfeit failed")

		case ActivitySpectating:
			s.rooms.Detach(p.SessionID, userID)
			return
		}
	}

	log.Warn().Str("user", userID).Str("activity", string(s.presence.Get(userID).Activity)).
		Msg("User activity kept changing, giving up release")
}

// HandleDisconnect runs once the user's last connection has closed. A user
// who has already reconnected keeps whatever the new connection started.
func (s *Supervisor) HandleDisconnect(userID string) {
	if s.conns != nil && s.conns.IsConnected(userID) {
		log.Debug().Str("user", userID).Msg("User reconnected, keeping activity")
		return
	}

	log.Info().Str("user", userID).Str("activity", string(s.presence.Get(userID).Activity)).
		Msg("User disconnected")
	s.Release(userID)
}
