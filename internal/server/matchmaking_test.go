package server

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnqueue_PairsInArrivalOrder(t *testing.T) {
	assert := assert.New(t)
	d := newTestDeps(t)

	pos, err := d.queue.Enqueue("alice")
	assert.NoError(err)
	assert.Equal(1, pos)
	assert.Equal(ActivityQueued, d.presence.Get("alice").Activity)

	pos, err = d.queue.Enqueue("bob")
	assert.NoError(err)
	assert.Equal(2, pos)
	assert.Equal(0, d.queue.Len())

	alice := d.presence.Get("alice")
	bob := d.presence.Get("bob")
	assert.Equal(ActivityPlaying, alice.Activity)
	assert.Equal(ActivityPlaying, bob.Activity)
	assert.Equal(alice.SessionID, bob.SessionID)

	room, err := d.rooms.Lookup(alice.SessionID)
	require.NoError(t, err)
	assert.Equal([2]string{"alice", "bob"}, room.Players())
	assert.Equal(OriginQueue, room.Origin)

	require.Eventually(t, func() bool { return room.State() == StateRunning }, time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return d.notifier.count("alice", EventSessionAssigned) == 1 }, time.Second, time.Millisecond)
	assert.Equal(EventQueued, d.notifier.types("alice")[0], "queued ack precedes session events")
}

func TestEnqueue_Rejections(t *testing.T) {
	assert := assert.New(t)
	d := newTestDeps(t)

	_, err := d.queue.Enqueue("alice")
	require.NoError(t, err)
	_, err = d.queue.Enqueue("alice")
	assert.ErrorIs(err, ErrAlreadyQueued)
	assert.Equal(1, d.queue.Len())

	d.presence.Set(Presence{UserID: "bob", Activity: ActivityPlaying, SessionID: 9})
	_, err = d.queue.Enqueue("bob")
	assert.ErrorIs(err, ErrAlreadyQueued)

	d.presence.Set(Presence{UserID: "carol", Activity: ActivityInvited, InviteID: "x"})
	_, err = d.queue.Enqueue("carol")
	assert.ErrorIs(err, ErrUserBusy)

	d.presence.Set(Presence{UserID: "dave", Activity: ActivitySpectating, SessionID: 9})
	_, err = d.queue.Enqueue("dave")
	assert.ErrorIs(err, ErrUserBusy)

	assert.Equal(1, d.queue.Len())
	assert.Equal(0, d.rooms.Count())
}

func TestCancel_IsIdempotent(t *testing.T) {
	assert := assert.New(t)
	d := newTestDeps(t)

	_, err := d.queue.Enqueue("alice")
	require.NoError(t, err)

	assert.True(d.queue.Cancel("alice"))
	assert.False(d.queue.Cancel("alice"))
	assert.False(d.queue.Cancel("nobody"))

	assert.True(d.presence.Get("alice").Idle())
	assert.Equal(1, d.notifier.count("alice", EventMatchCancelled))

	// Cancelled users can queue again.
	pos, err := d.queue.Enqueue("alice")
	assert.NoError(err)
	assert.Equal(1, pos)
}

func TestCancel_SkipsCancelledUserWhenPairing(t *testing.T) {
	d := newTestDeps(t)

	for _, user := range []string{"alice", "bob"} {
		_, err := d.queue.Enqueue(user)
		require.NoError(t, err)
		if user == "alice" {
			require.True(t, d.queue.Cancel("alice"))
		}
	}
	_, err := d.queue.Enqueue("carol")
	require.NoError(t, err)

	bob := d.presence.Get("bob")
	room, err := d.rooms.Lookup(bob.SessionID)
	require.NoError(t, err)
	assert.Equal(t, [2]string{"bob", "carol"}, room.Players())
	assert.True(t, d.presence.Get("alice").Idle())
}

func TestEnqueue_ConcurrentUsersPairedOnce(t *testing.T) {
	d := newTestDeps(t)

	const users = 100
	var wg sync.WaitGroup
	for i := 0; i < users; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			user := fmt.Sprintf("user-%d", i)
			_, err := d.queue.Enqueue(user)
			assert.NoError(t, err)
			// A second join from another tab must never pair the user twice.
			_, err = d.queue.Enqueue(user)
			assert.ErrorIs(t, err, ErrAlreadyQueued)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 0, d.queue.Len())
	assert.Equal(t, users/2, d.rooms.Count())

	seats := make(map[int]int)
	for i := 0; i < users; i++ {
		p := d.presence.Get(fmt.Sprintf("user-%d", i))
		require.Equal(t, ActivityPlaying, p.Activity)
		seats[p.SessionID]++
	}
	for id, n := range seats {
		assert.Equal(t, 2, n, "session %d", id)
	}
}

type failingPairer struct{}

func (failingPairer) CreateFromPairing(first, second string) (*Room, error) {
	return nil, errors.New("boom")
}

func TestEnqueue_PairingFailureReleasesBoth(t *testing.T) {
	presence := NewPresenceTracker()
	notifier := newRecordingNotifier()
	q := NewMatchmakingQueue(presence, failingPairer{}, notifier)

	_, err := q.Enqueue("alice")
	require.NoError(t, err)
	_, err = q.Enqueue("bob")
	require.NoError(t, err)

	assert.Equal(t, 0, q.Len())
	for _, user := range []string{"alice", "bob"} {
		assert.True(t, presence.Get(user).Idle())
		assert.Equal(t, 1, notifier.count(user, EventMatchCancelled))
	}
}
