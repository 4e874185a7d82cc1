package server

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

type InviteState string

const (
	InvitePending   InviteState = "pending"
	InviteAccepted  InviteState = "accepted"
	InviteDeclined  InviteState = "declined"
	InviteExpired   InviteState = "expired"
	InviteCancelled InviteState = "cancelled"
)

type Invite struct {
	ID         string
	Inviter    string
	Invitee    string
	State      InviteState
	CreatedAt  time.Time
	ResolvedAt time.Time
	timer      *time.Timer
}

type inviteRoomCreator interface {
	CreateFromInvite(inv *Invite) (*Room, error)
}

// InviteBroker tracks direct invites. An invite resolves exactly once;
// resolved invites are kept for a while so a late accept or decline gets
// INVITE_ALREADY_RESOLVED rather than INVITE_NOT_FOUND.
type InviteBroker struct {
	invites   map[string]*Invite // inviteID -> invite, pending or recently resolved
	pending   map[string]*Invite // userID (either side) -> pending invite
	resolved  map[string]*Invite // userID (either side) -> last resolved invite, until forgotten
	mu        sync.Mutex
	presence  *PresenceTracker
	rooms     inviteRoomCreator
	notifier  Notifier
	timeout   time.Duration
	retention time.Duration
	now       func() time.Time
}

func NewInviteBroker(presence *PresenceTracker, rooms inviteRoomCreator, notifier Notifier, timeout, retention time.Duration) *InviteBroker {
	return &InviteBroker{
		invites:   make(map[string]*Invite),
		pending:   make(map[string]*Invite),
		resolved:  make(map[string]*Invite),
		presence:  presence,
		rooms:     rooms,
		notifier:  notifier,
		timeout:   timeout,
		retention: retention,
		now:       time.Now,
	}
}

func (b *InviteBroker) Invite(inviterID, inviteeID string) (Invite, error) {
	if inviteeID == "" {
		return Invite{}, newValidationError(ErrInvalidPayload.Code, "targetUserId is required")
	}
	if inviterID == inviteeID {
		return Invite{}, ErrSelfInvite
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	// Both sides of a pending invite are indexed, so one lookup covers
	// A->B and B->A.
	if inv := b.pending[inviterID]; inv != nil && inv.involves(inviteeID) {
		return Invite{}, ErrDuplicateInvite
	}
	if !b.presence.Get(inviteeID).Idle() {
		return Invite{}, ErrTargetBusy
	}

	id := uuid.NewString()
	if _, ok := b.presence.Acquire(Presence{UserID: inviterID, Activity: ActivityInviting, InviteID: id}); !ok {
		return Invite{}, ErrUserBusy
	}
	if _, ok := b.presence.Acquire(Presence{UserID: inviteeID, Activity: ActivityInvited, InviteID: id}); !ok {
		b.presence.ReleaseIf(inviterID, withInvite(id))
		return Invite{}, ErrTargetBusy
	}

	inv := &Invite{
		ID:        id,
		Inviter:   inviterID,
		Invitee:   inviteeID,
		State:     InvitePending,
		CreatedAt: b.now(),
	}
	b.invites[id] = inv
	b.pending[inviterID] = inv
	b.pending[inviteeID] = inv
	if b.timeout > 0 {
		inv.timer = time.AfterFunc(b.timeout, func() { b.expire(id) })
	}

	b.notifier.Notify(inviterID, ServerMessage{
		Type:    EventInviteSent,
		Payload: InviteNotification{InviteID: id, To: inviteeID},
	})
	b.notifier.Notify(inviteeID, ServerMessage{
		Type:    EventInviteReceived,
		Payload: InviteNotification{InviteID: id, From: inviterID},
	})

	log.Info().Str("invite", id).Str("from", inviterID).Str("to", inviteeID).Msg("Invite sent")
	return *inv, nil
}

// Accept resolves the invite and creates the session. inviteID may be empty,
// in which case the invitee's pending invite is used.
func (b *InviteBroker) Accept(inviteeID, inviteID string) (Invite, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	inv, err := b.findLocked(inviteeID, inviteID)
	if err != nil {
		return Invite{}, err
	}
	if inv.Invitee != inviteeID {
		return Invite{}, ErrInviteNotFound
	}
	if inv.State != InvitePending {
		return *inv, ErrInviteAlreadyResolved
	}

	b.resolveLocked(inv, InviteAccepted)

	if _, err := b.rooms.CreateFromInvite(inv); err != nil {
		log.Error().Err(err).Str("invite", inv.ID).Msg("Failed to create session for invite")
		for _, userID := range []string{inv.Inviter, inv.Invitee} {
			b.presence.ReleaseIf(userID, withInvite(inv.ID))
			b.notifier.Notify(userID, ServerMessage{Type: EventMatchCancelled, Payload: toErrorMessage(err)})
		}
		return *inv, err
	}

	log.Info().Str("invite", inv.ID).Msg("Invite accepted")
	return *inv, nil
}

func (b *InviteBroker) Decline(inviteeID, inviteID string) (Invite, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	inv, err := b.findLocked(inviteeID, inviteID)
	if err != nil {
		return Invite{}, err
	}
	if inv.Invitee != inviteeID {
		return Invite{}, ErrInviteNotFound
	}
	if inv.State != InvitePending {
		return *inv, ErrInviteAlreadyResolved
	}

	b.declineLocked(inv)
	return *inv, nil
}

func (b *InviteBroker) Cancel(inviterID, inviteID string) (Invite, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	inv, err := b.findLocked(inviterID, inviteID)
	if err != nil {
		return Invite{}, err
	}
	if inv.Inviter != inviterID {
		return Invite{}, ErrInviteNotFound
	}
	if inv.State != InvitePending {
		return *inv, ErrInviteAlreadyResolved
	}

	b.cancelLocked(inv)
	return *inv, nil
}

// Withdraw drops whatever pending invite the user is part of, cancelling as
// inviter or declining as invitee. Reports whether there was one.
func (b *InviteBroker) Withdraw(userID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	inv := b.pending[userID]
	if inv == nil {
		return false
	}
	if inv.Inviter == userID {
		b.cancelLocked(inv)
	} else {
		b.declineLocked(inv)
	}
	return true
}

func (b *InviteBroker) declineLocked(inv *Invite) {
	b.resolveLocked(inv, InviteDeclined)
	b.notifier.Notify(inv.Inviter, ServerMessage{
		Type:    EventInviteDeclined,
		Payload: InviteNotification{InviteID: inv.ID, From: inv.Invitee},
	})
	log.Info().Str("invite", inv.ID).Msg("Invite declined")
}

func (b *InviteBroker) cancelLocked(inv *Invite) {
	b.resolveLocked(inv, InviteCancelled)
	b.notifier.Notify(inv.Invitee, ServerMessage{
		Type:    EventInviteCancelled,
		Payload: InviteNotification{InviteID: inv.ID, From: inv.Inviter},
	})
	log.Info().Str("invite", inv.ID).Msg("Invite cancelled")
}

func (b *InviteBroker) expire(inviteID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	inv, ok := b.invites[inviteID]
	if !ok || inv.State != InvitePending {
		return
	}

	b.resolveLocked(inv, InviteExpired)
	for _, userID := range []string{inv.Inviter, inv.Invitee} {
		b.notifier.Notify(userID, ServerMessage{
			Type:    EventInviteExpired,
			Payload: InviteNotification{InviteID: inv.ID, From: inv.Inviter, To: inv.Invitee},
		})
	}
	log.Info().Str("invite", inv.ID).Msg("Invite expired")
}

func (b *InviteBroker) resolveLocked(inv *Invite, state InviteState) {
	inv.State = state
	inv.ResolvedAt = b.now()
	if inv.timer != nil {
		inv.timer.Stop()
	}
	delete(b.pending, inv.Inviter)
	delete(b.pending, inv.Invitee)
	b.resolved[inv.Inviter] = inv
	b.resolved[inv.Invitee] = inv

	// Accepted invites hand both users straight to the session.
	if state != InviteAccepted {
		b.presence.ReleaseIf(inv.Inviter, withInvite(inv.ID))
		b.presence.ReleaseIf(inv.Invitee, withInvite(inv.ID))
	}

	id := inv.ID
	time.AfterFunc(b.retention, func() { b.forget(id) })
}

func (b *InviteBroker) forget(inviteID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	inv, ok := b.invites[inviteID]
	if !ok || inv.State == InvitePending {
		return
	}
	delete(b.invites, inviteID)
	for _, userID := range []string{inv.Inviter, inv.Invitee} {
		if b.resolved[userID] == inv {
			delete(b.resolved, userID)
		}
	}
}

func (b *InviteBroker) findLocked(userID, inviteID string) (*Invite, error) {
	var inv *Invite
	if inviteID != "" {
		inv = b.invites[inviteID]
	} else if inv = b.pending[userID]; inv == nil {
		// Lets a repeated accept or decline without an id see that the
		// invite was already resolved.
		inv = b.resolved[userID]
	}
	if inv == nil {
		return nil, ErrInviteNotFound
	}
	return inv, nil
}

func (b *InviteBroker) Get(inviteID string) (Invite, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	inv, ok := b.invites[inviteID]
	if !ok {
		return Invite{}, false
	}
	return *inv, true
}

func (b *InviteBroker) PendingCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := 0
	for _, inv := range b.invites {
		if inv.State == InvitePending {
			n++
		}
	}
	return n
}

func (inv *Invite) involves(userID string) bool {
	return inv.Inviter == userID || inv.Invitee == userID
}
