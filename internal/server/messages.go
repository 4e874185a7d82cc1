package server

import "encoding/json"

type ClientMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type ServerMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// Inbound message types.
const (
	MsgPing             = "ping"
	MsgJoin             = "join"
	MsgInvite           = "invite"
	MsgAcceptInvite     = "acceptInvite"
	MsgDeclineInvite    = "declineInvite"
	MsgCancelInvite     = "cancelInvite"
	MsgJoinAsSpectator  = "joinAsSpectator"
	MsgSetConfig        = "setConfig"
	MsgMove             = "move"
	MsgLeave            = "leave"
	MsgLeaveAsSpectator = "leaveAsSpectator"
	MsgCancelMatch      = "cancelMatch"
)

// Outbound event types.
const (
	EventPong                  = "pong"
	EventError                 = "error"
	EventQueued                = "queued"
	EventMatchCancelled        = "matchCancelled"
	EventInviteSent            = "inviteSent"
	EventInviteReceived        = "inviteReceived"
	EventInviteCancelled       = "inviteCancelled"
	EventInviteDeclined        = "inviteDeclined"
	EventInviteExpired         = "inviteExpired"
	EventInviteAlreadyResolved = "inviteAlreadyResolved"
	EventSessionAssigned       = "sessionAssigned"
	EventAssignedSlot          = "assignedSlot"
	EventOpponentFound         = "opponentFound"
	EventConfigPending         = "configPending"
	EventMatchStarting         = "matchStarting"
	EventMatchStarted          = "matchStarted"
	EventStateUpdate           = "stateUpdate"
	EventSpectating            = "spectating"
	EventSpectatorLeft         = "spectatorLeft"
	EventMatchEnded            = "matchEnded"
)
