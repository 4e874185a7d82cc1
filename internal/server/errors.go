package server

import (
	"errors"
	"fmt"
)

type ErrorKind string

const (
	KindValidation   ErrorKind = "validation"
	KindConflict     ErrorKind = "conflict"
	KindNotFound     ErrorKind = "not_found"
	KindUnauthorized ErrorKind = "unauthorized"
	KindInternal     ErrorKind = "internal"
)

// Error is reported to clients as {"message", "code"}. Its text keeps the
// "CODE: message" form used in logs.
type Error struct {
	Kind    ErrorKind
	Code    string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is matches on code so that errors built by newValidationError with the
// same code compare equal to the sentinel.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

var (
	ErrInvalidPayload   = &Error{KindValidation, "INVALID_PAYLOAD", "Malformed message payload"}
	ErrUnknownMessage   = &Error{KindValidation, "INVALID_MESSAGE_TYPE", "Unknown message type"}
	ErrInvalidSpeed     = &Error{KindValidation, "INVALID_SPEED", "Speed out of range"}
	ErrInvalidSlot      = &Error{KindValidation, "INVALID_SLOT", "Slot does not belong to this player"}
	ErrInvalidDirection = &Error{KindValidation, "INVALID_DIRECTION", "Direction must be up or down"}
	ErrInvalidSessionID = &Error{KindValidation, "INVALID_SESSION_ID", "Session id must be a positive integer"}
	ErrNotAPlayer       = &Error{KindValidation, "NOT_A_PLAYER", "User is not a player in this session"}
	ErrConfigNotAllowed = &Error{KindValidation, "CONFIG_NOT_ALLOWED", "Only the host can configure an invited match before it starts"}
	ErrMatchNotRunning  = &Error{KindValidation, "MATCH_NOT_RUNNING", "Match is not running"}
	ErrSelfSpectate     = &Error{KindValidation, "SELF_SPECTATE", "Players cannot spectate their own session"}
	ErrSelfInvite       = &Error{KindValidation, "SELF_INVITE", "Cannot invite yourself"}
	ErrRateLimited      = &Error{KindValidation, "RATE_LIMITED", "Too many messages"}

	ErrAlreadyQueued         = &Error{KindConflict, "ALREADY_QUEUED", "User is already queued or playing"}
	ErrUserBusy              = &Error{KindConflict, "USER_BUSY", "User is busy with another match, invite or session"}
	ErrDuplicateInvite       = &Error{KindConflict, "DUPLICATE_INVITE", "A pending invite already exists between these users"}
	ErrTargetBusy            = &Error{KindConflict, "TARGET_BUSY", "Invited user is not available"}
	ErrInviteAlreadyResolved = &Error{KindConflict, "INVITE_ALREADY_RESOLVED", "Invite was already resolved"}

	ErrInviteNotFound  = &Error{KindNotFound, "INVITE_NOT_FOUND", "Invite not found"}
	ErrSessionNotFound = &Error{KindNotFound, "SESSION_NOT_FOUND", "Session not found"}
	ErrAlreadyEnded    = &Error{KindNotFound, "ALREADY_ENDED", "Session has already ended"}

	ErrUnauthorized = &Error{KindUnauthorized, "UNAUTHORIZED", "Missing or invalid credentials"}
)

func newValidationError(code, format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Code: code, Message: fmt.Sprintf(format, args...)}
}

// errorKind returns KindInternal for errors that did not originate here.
func errorKind(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

func toErrorMessage(err error) ErrorMessage {
	var e *Error
	if errors.As(err, &e) {
		return ErrorMessage{Message: e.Message, Code: e.Code}
	}
	return ErrorMessage{Message: "Internal error", Code: "INTERNAL"}
}
