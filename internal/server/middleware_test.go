package server

import (
	"errors"
	"testing"
	"time"
)

func TestRateLimiter_Allow(t *testing.T) {
	limiter := NewRateLimiter(10, time.Second)
	connID := "test-conn-1"

	for i := 0; i < 10; i++ {
		if !limiter.Allow(connID) {
			t.Errorf("Request %d should be allowed", i+1)
		}
	}

	if limiter.Allow(connID) {
		t.Error("11th request should be denied")
	}
}

func TestRateLimiter_WindowSlides(t *testing.T) {
	now := time.Unix(1000, 0)
	limiter := NewRateLimiter(2, time.Second)
	limiter.now = func() time.Time { return now }
	connID := "test-conn-2"

	limiter.Allow(connID)
	now = now.Add(600 * time.Millisecond)
	limiter.Allow(connID)

	if limiter.Allow(connID) {
		t.Error("Third request inside the window should be denied")
	}

	// The first request leaves the window; the second is still inside it.
	now = now.Add(500 * time.Millisecond)
	if !limiter.Allow(connID) {
		t.Error("Request after the oldest left the window should be allowed")
	}
	if limiter.Allow(connID) {
		t.Error("Window should be full again")
	}
}

func TestRateLimiter_MultipleConnections(t *testing.T) {
	limiter := NewRateLimiter(5, time.Second)

	for i := 0; i < 5; i++ {
		limiter.Allow("conn-1")
	}

	if limiter.Allow("conn-1") {
		t.Error("conn-1 should be rate limited")
	}
	if !limiter.Allow("conn-2") {
		t.Error("conn-2 should not be affected by conn-1's limit")
	}
}

func TestRateLimiter_Cleanup(t *testing.T) {
	now := time.Unix(1000, 0)
	limiter := NewRateLimiter(5, time.Second)
	limiter.now = func() time.Time { return now }

	limiter.Allow("old")
	now = now.Add(2 * time.Second)
	limiter.Allow("fresh")

	limiter.Cleanup()

	if _, ok := limiter.requests["old"]; ok {
		t.Error("Expected old connection to be cleaned up")
	}
	if _, ok := limiter.requests["fresh"]; !ok {
		t.Error("Expected fresh connection to be kept")
	}
}

func TestRateLimiter_RemoveConnection(t *testing.T) {
	limiter := NewRateLimiter(1, time.Minute)

	limiter.Allow("conn")
	limiter.RemoveConnection("conn")

	if !limiter.Allow("conn") {
		t.Error("Removed connection should start with a fresh window")
	}
}

func TestConnectionHealth(t *testing.T) {
	now := time.Unix(1000, 0)
	health := NewConnectionHealth()
	health.now = func() time.Time { return now }

	if health.IsInactive("unknown", time.Second) {
		t.Error("Untracked connection should not be reported inactive")
	}

	health.UpdateActivity("quiet")
	now = now.Add(2 * time.Minute)
	health.UpdateActivity("chatty")

	if !health.IsInactive("quiet", time.Minute) {
		t.Error("Expected quiet connection to be inactive")
	}
	if health.IsInactive("chatty", time.Minute) {
		t.Error("Expected chatty connection to be active")
	}

	inactive := health.GetInactiveConnections(time.Minute)
	if len(inactive) != 1 || inactive[0] != "quiet" {
		t.Errorf("Expected [quiet], got %v", inactive)
	}

	health.RemoveConnection("quiet")
	if len(health.GetInactiveConnections(time.Minute)) != 0 {
		t.Error("Removed connection should not be reported")
	}
}

func TestValidateMessageType(t *testing.T) {
	valid := []string{
		MsgPing, MsgJoin, MsgInvite, MsgAcceptInvite, MsgDeclineInvite, MsgCancelInvite,
		MsgJoinAsSpectator, MsgSetConfig, MsgMove, MsgLeave, MsgLeaveAsSpectator, MsgCancelMatch,
	}
	for _, msgType := range valid {
		if err := ValidateMessageType(msgType); err != nil {
			t.Errorf("Expected %q to be valid, got %v", msgType, err)
		}
	}

	for _, msgType := range []string{"", "create_game", "Join", "stateUpdate"} {
		err := ValidateMessageType(msgType)
		if !errors.Is(err, ErrUnknownMessage) {
			t.Errorf("Expected %q to be rejected with ErrUnknownMessage, got %v", msgType, err)
		}
	}
}
