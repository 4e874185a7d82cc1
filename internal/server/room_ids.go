package server

import "time"

type releasedID struct {
	id int
	at time.Time
}

// RoomIDs hands out session ids, preferring the oldest released id once its
// cool-down has passed. Until then a destroyed id stays unused so a late
// message cannot reach a newer session. Not safe for concurrent use; the
// RoomManager lock guards it.
type RoomIDs struct {
	next     int
	released []releasedID // ordered by release time
	cooldown time.Duration
}

func NewRoomIDs(cooldown time.Duration) *RoomIDs {
	return &RoomIDs{
		next:     1,
		cooldown: cooldown,
	}
}

func (ids *RoomIDs) Allocate(now time.Time) int {
	if len(ids.released) > 0 && now.Sub(ids.released[0].at) >= ids.cooldown {
		id := ids.released[0].id
		ids.released = ids.released[1:]
		return id
	}

	id := ids.next
	ids.next++
	return id
}

func (ids *RoomIDs) Release(id int, now time.Time) {
	ids.released = append(ids.released, releasedID{id: id, at: now})
}

func ValidateRoomID(id int) error {
	if id <= 0 {
		return ErrInvalidSessionID
	}
	return nil
}
