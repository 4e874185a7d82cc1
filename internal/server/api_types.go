package server

import "pong-server/internal/pong"

// ============================================================================
// ERROR RESPONSES
// ============================================================================
// tygo:generate
type ErrorMessage struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// ============================================================================
// MATCHMAKING (join, cancelMatch)
// ============================================================================
// tygo:generate
type QueuedResponse struct {
	Position int `json:"position"`
}

// tygo:generate
type CancelMatchRequest struct {
	SessionID int `json:"sessionId,omitempty"`
}

// ============================================================================
// INVITES (invite, acceptInvite, declineInvite, cancelInvite)
// ============================================================================
// tygo:generate
type InviteRequest struct {
	TargetUserID string `json:"targetUserId"`
}

// tygo:generate
type InviteIDRequest struct {
	InviteID string `json:"inviteId"`
}

// tygo:generate
type InviteNotification struct {
	InviteID string `json:"inviteId"`
	From     string `json:"from,omitempty"`
	To       string `json:"to,omitempty"`
}

// ============================================================================
// SESSION (setConfig, move, leave, joinAsSpectator, leaveAsSpectator)
// ============================================================================
// tygo:generate
type SetConfigRequest struct {
	SessionID int     `json:"sessionId"`
	Speed     float64 `json:"speed"`
}

// tygo:generate
type MoveRequest struct {
	SessionID int    `json:"sessionId"`
	Slot      int    `json:"slot"`
	Direction string `json:"direction"`
}

// tygo:generate
type SessionRequest struct {
	SessionID int `json:"sessionId"`
}

// tygo:generate
type SpectateRequest struct {
	TargetUserID string `json:"targetUserId,omitempty"`
	SessionID    int    `json:"sessionId,omitempty"`
}

// ============================================================================
// SESSION EVENTS
// ============================================================================
// tygo:generate
type SessionAssignedNotification struct {
	SessionID int `json:"sessionId"`
}

// tygo:generate
type AssignedSlotNotification struct {
	Slot int `json:"slot"`
}

// tygo:generate
type OpponentFoundNotification struct {
	OpponentID string `json:"opponentId"`
}

// tygo:generate
type ConfigPendingNotification struct {
	SessionID int     `json:"sessionId"`
	HostID    string  `json:"hostId"`
	MinSpeed  float64 `json:"minSpeed"`
	MaxSpeed  float64 `json:"maxSpeed"`
}

// tygo:generate
type MatchStartingNotification struct {
	SessionID  int     `json:"sessionId"`
	Speed      float64 `json:"speed"`
	StartsInMs int64   `json:"startsInMs"`
}

// tygo:generate
type SnapshotPayload struct {
	SessionID int `json:"sessionId"`
	pong.Snapshot
}

// tygo:generate
type SpectatingNotification struct {
	SessionID int       `json:"sessionId"`
	Players   [2]string `json:"players"`
}

// tygo:generate
type MatchEndedNotification struct {
	SessionID  int    `json:"sessionId"`
	WinnerID   string `json:"winnerId"`
	WinnerSlot int    `json:"winnerSlot"`
	Score      [2]int `json:"score"`
	Forfeit    bool   `json:"forfeit"`
	Reason     string `json:"reason"`
}

// ============================================================================
// HTTP
// ============================================================================
// tygo:generate
type UserStatusResponse struct {
	UserID    string `json:"userId"`
	Status    string `json:"status"`
	SessionID int    `json:"sessionId,omitempty"`
}

// tygo:generate
type HealthResponse struct {
	Status         string            `json:"status"`
	Sessions       int               `json:"sessions"`
	Queued         int               `json:"queued"`
	PendingInvites int               `json:"pendingInvites"`
	Connections    int               `json:"connections"`
	Database       map[string]string `json:"database,omitempty"`
}
