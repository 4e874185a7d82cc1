package server

import (
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

type QueueEntry struct {
	UserID     string
	EnqueuedAt time.Time
	seq        uint64
}

type pairingHandler interface {
	CreateFromPairing(first, second string) (*Room, error)
}

// MatchmakingQueue pairs users in arrival order. Pairing happens inline
// under the queue lock, so a user is either in the queue or seated in a
// session, never both.
type MatchmakingQueue struct {
	entries  []QueueEntry
	seq      uint64
	mu       sync.Mutex
	presence *PresenceTracker
	rooms    pairingHandler
	notifier Notifier
	now      func() time.Time
}

func NewMatchmakingQueue(presence *PresenceTracker, rooms pairingHandler, notifier Notifier) *MatchmakingQueue {
	return &MatchmakingQueue{
		presence: presence,
		rooms:    rooms,
		notifier: notifier,
		now:      time.Now,
	}
}

// Enqueue adds the user and pairs the two oldest entries when possible.
// The queued ack is sent before any session events for the same user.
func (q *MatchmakingQueue) Enqueue(userID string) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	current, ok := q.presence.Acquire(Presence{UserID: userID, Activity: ActivityQueued})
	if !ok {
		if current.Activity == ActivityQueued || current.Activity == ActivityPlaying {
			return 0, ErrAlreadyQueued
		}
		return 0, ErrUserBusy
	}

	q.seq++
	q.entries = append(q.entries, QueueEntry{UserID: userID, EnqueuedAt: q.now(), seq: q.seq})
	position := len(q.entries)

	q.notifier.Notify(userID, ServerMessage{Type: EventQueued, Payload: QueuedResponse{Position: position}})
	log.Debug().Str("user", userID).Int("position", position).Msg("User queued")

	q.pairLocked()
	return position, nil
}

func (q *MatchmakingQueue) pairLocked() {
	for len(q.entries) >= 2 {
		first, second := q.entries[0], q.entries[1]
		q.entries = slices.Delete(q.entries, 0, 2)

		if _, err := q.rooms.CreateFromPairing(first.UserID, second.UserID); err != nil {
			log.Error().Err(err).Str("first", first.UserID).Str("second", second.UserID).Msg("Failed to create session for pairing")
			for _, entry := range []QueueEntry{first, second} {
				q.presence.ReleaseIf(entry.UserID, isActivity(ActivityQueued))
				q.notifier.Notify(entry.UserID, ServerMessage{Type: EventMatchCancelled, Payload: toErrorMessage(err)})
			}
		}
	}
}

// Cancel removes the user from the queue. Reports whether they were queued.
func (q *MatchmakingQueue) Cancel(userID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	i := slices.IndexFunc(q.entries, func(e QueueEntry) bool { return e.UserID == userID })
	if i < 0 {
		return false
	}
	q.entries = slices.Delete(q.entries, i, i+1)
	q.presence.ReleaseIf(userID, isActivity(ActivityQueued))

	q.notifier.Notify(userID, ServerMessage{Type: EventMatchCancelled})
	log.Debug().Str("user", userID).Msg("User left queue")
	return true
}

func (q *MatchmakingQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Entries returns the waiting users, oldest first.
func (q *MatchmakingQueue) Entries() []QueueEntry {
	q.mu.Lock()
	defer q.mu.Unlock()
	return slices.Clone(q.entries)
}
