package server

import (
	"sync"
	"time"
)

// Activity is what a user is doing right now. A user has exactly one.
type Activity string

const (
	ActivityIdle       Activity = "idle"
	ActivityQueued     Activity = "queued"
	ActivityInviting   Activity = "inviting"
	ActivityInvited    Activity = "invited"
	ActivityPlaying    Activity = "playing"
	ActivitySpectating Activity = "spectating"
)

type Presence struct {
	UserID    string
	Activity  Activity
	SessionID int    // set while playing or spectating
	InviteID  string // set while inviting or invited
	Since     time.Time
}

func (p Presence) Idle() bool { return p.Activity == ActivityIdle }

// PresenceTracker is the single source of truth for user activity. Leaving
// idle is compare-and-set, which is what stops a user from being queued and
// invited at the same time.
type PresenceTracker struct {
	users map[string]Presence // userID -> presence, idle users are absent
	mu    sync.RWMutex
}

func NewPresenceTracker() *PresenceTracker {
	return &PresenceTracker{
		users: make(map[string]Presence),
	}
}

func (pt *PresenceTracker) Get(userID string) Presence {
	pt.mu.RLock()
	defer pt.mu.RUnlock()

	if p, ok := pt.users[userID]; ok {
		return p
	}
	return Presence{UserID: userID, Activity: ActivityIdle}
}

// Acquire moves an idle user to p. If the user is not idle nothing changes
// and the current presence is returned with false.
func (pt *PresenceTracker) Acquire(p Presence) (Presence, bool) {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	if current, ok := pt.users[p.UserID]; ok {
		return current, false
	}
	if p.Since.IsZero() {
		p.Since = time.Now()
	}
	pt.users[p.UserID] = p
	return p, true
}

// Set overwrites the user's presence unconditionally.
func (pt *PresenceTracker) Set(p Presence) {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	if p.Activity == ActivityIdle {
		delete(pt.users, p.UserID)
		return
	}
	if p.Since.IsZero() {
		p.Since = time.Now()
	}
	pt.users[p.UserID] = p
}

func (pt *PresenceTracker) Release(userID string) {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	delete(pt.users, userID)
}

// ReleaseIf returns the user to idle only when match accepts the current
// presence. Used where a stale release must not clobber a newer activity.
func (pt *PresenceTracker) ReleaseIf(userID string, match func(Presence) bool) bool {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	current, ok := pt.users[userID]
	if !ok || !match(current) {
		return false
	}
	delete(pt.users, userID)
	return true
}

func (pt *PresenceTracker) Count(activity Activity) int {
	pt.mu.RLock()
	defer pt.mu.RUnlock()

	n := 0
	for _, p := range pt.users {
		if p.Activity == activity {
			n++
		}
	}
	return n
}

func inSession(sessionID int, activity Activity) func(Presence) bool {
	return func(p Presence) bool {
		return p.Activity == activity && p.SessionID == sessionID
	}
}

func withInvite(inviteID string) func(Presence) bool {
	return func(p Presence) bool {
		return (p.Activity == ActivityInviting || p.Activity == ActivityInvited) && p.InviteID == inviteID
	}
}

func isActivity(activity Activity) func(Presence) bool {
	return func(p Presence) bool { return p.Activity == activity }
}
