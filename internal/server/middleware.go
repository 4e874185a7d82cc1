package server

import (
	"sync"
	"time"
)

// RateLimiter is a per-connection sliding window limiter.
type RateLimiter struct {
	maxRequests int
	window      time.Duration
	requests    map[string][]time.Time // connectionID -> timestamps inside the window
	mu          sync.Mutex
	now         func() time.Time
}

func NewRateLimiter(maxRequests int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		maxRequests: maxRequests,
		window:      window,
		requests:    make(map[string][]time.Time),
		now:         time.Now,
	}
}

// Allow records a request and reports whether it fits in the window.
// Rejected requests are not recorded.
func (r *RateLimiter) Allow(connectionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	timestamps := prune(r.requests[connectionID], now.Add(-r.window))

	if len(timestamps) >= r.maxRequests {
		r.requests[connectionID] = timestamps
		return false
	}

	r.requests[connectionID] = append(timestamps, now)
	return true
}

// Cleanup drops connections with no requests inside the window.
func (r *RateLimiter) Cleanup() {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-r.window)
	for connID, timestamps := range r.requests {
		if len(prune(timestamps, cutoff)) == 0 {
			delete(r.requests, connID)
		}
	}
}

func (r *RateLimiter) RemoveConnection(connectionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.requests, connectionID)
}

// prune drops timestamps at or before cutoff. timestamps is in ascending order.
func prune(timestamps []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(timestamps) && !timestamps[i].After(cutoff) {
		i++
	}
	return timestamps[i:]
}

// ConnectionHealth tracks when each connection last sent anything, so the
// reaper can close sockets that stopped answering heartbeats.
type ConnectionHealth struct {
	lastActivity map[string]time.Time // connectionID -> last message time
	mu           sync.RWMutex
	now          func() time.Time
}

func NewConnectionHealth() *ConnectionHealth {
	return &ConnectionHealth{
		lastActivity: make(map[string]time.Time),
		now:          time.Now,
	}
}

func (h *ConnectionHealth) UpdateActivity(connectionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastActivity[connectionID] = h.now()
}

// IsInactive is false for connections that were never tracked.
func (h *ConnectionHealth) IsInactive(connectionID string, timeout time.Duration) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	lastActivity, exists := h.lastActivity[connectionID]
	if !exists {
		return false
	}
	return h.now().Sub(lastActivity) > timeout
}

func (h *ConnectionHealth) GetInactiveConnections(timeout time.Duration) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	inactive := make([]string, 0)
	now := h.now()
	for connID, lastActivity := range h.lastActivity {
		if now.Sub(lastActivity) > timeout {
			inactive = append(inactive, connID)
		}
	}
	return inactive
}

func (h *ConnectionHealth) RemoveConnection(connectionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.lastActivity, connectionID)
}

var validMessageTypes = map[string]bool{
	MsgPing:             true,
	MsgJoin:             true,
	MsgInvite:           true,
	MsgAcceptInvite:     true,
	MsgDeclineInvite:    true,
	MsgCancelInvite:     true,
	MsgJoinAsSpectator:  true,
	MsgSetConfig:        true,
	MsgMove:             true,
	MsgLeave:            true,
	MsgLeaveAsSpectator: true,
	MsgCancelMatch:      true,
}

func ValidateMessageType(msgType string) error {
	if !validMessageTypes[msgType] {
		return newValidationError(ErrUnknownMessage.Code, "Unknown message type '%s'", msgType)
	}
	return nil
}
