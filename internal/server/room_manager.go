package server

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"pong-server/internal/pong"
)

var errShuttingDown = &Error{KindInternal, "SHUTTING_DOWN", "Server is shutting down"}

// RoomManager owns the session table and the id allocator. A room stays
// in the table until EndGrace after it ends, so late messages get a
// specific answer instead of SESSION_NOT_FOUND.
type RoomManager struct {
	rooms    map[int]*Room
	ids      *RoomIDs
	closed   bool
	mu       sync.RWMutex
	wg       sync.WaitGroup
	cfg      RoomConfig
	presence *PresenceTracker
	notifier Notifier
	results  ResultSink
	now      func() time.Time
	gameOpts []pong.Option
}

func NewRoomManager(cfg RoomConfig, idCooldown time.Duration, presence *PresenceTracker, notifier Notifier, results ResultSink) *RoomManager {
	return &RoomManager{
		rooms:    make(map[int]*Room),
		ids:      NewRoomIDs(idCooldown),
		cfg:      cfg,
		presence: presence,
		notifier: notifier,
		results:  results,
		now:      time.Now,
	}
}

// CreateFromPairing starts a quick match. The earlier-queued user takes slot 0.
func (rm *RoomManager) CreateFromPairing(first, second string) (*Room, error) {
	return rm.create(OriginQueue, [2]string{first, second})
}

// CreateFromInvite starts an invited match with the inviter as host in slot 0.
func (rm *RoomManager) CreateFromInvite(inv *Invite) (*Room, error) {
	return rm.create(OriginInvite, [2]string{inv.Inviter, inv.Invitee})
}

func (rm *RoomManager) create(origin MatchOrigin, players [2]string) (*Room, error) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if rm.closed {
		return nil, errShuttingDown
	}

	id := rm.ids.Allocate(rm.now())
	room := newRoom(id, origin, players, rm.cfg, rm.notifier, rm.gameOpts...)
	room.onEnd = rm.roomEnded
	rm.rooms[id] = room

	for _, userID := range players {
		rm.presence.Set(Presence{UserID: userID, Activity: ActivityPlaying, SessionID: id})
	}

	rm.wg.Add(1)
	room.start()

	log.Info().Int("session", id).Str("origin", string(origin)).
		Strs("players", players[:]).Msg("Session created")
	return room, nil
}

func (rm *RoomManager) Lookup(sessionID int) (*Room, error) {
	if err := ValidateRoomID(sessionID); err != nil {
		return nil, err
	}

	rm.mu.RLock()
	defer rm.mu.RUnlock()

	room, exists := rm.rooms[sessionID]
	if !exists {
		return nil, ErrSessionNotFound
	}
	return room, nil
}

func (rm *RoomManager) Move(sessionID int, userID string, slot int, dir pong.Direction) error {
	room, err := rm.Lookup(sessionID)
	if err != nil {
		return err
	}
	if room.State() == StateEnded {
		return ErrAlreadyEnded
	}
	return room.Move(userID, slot, dir)
}

func (rm *RoomManager) Configure(sessionID int, userID string, speed float64) error {
	room, err := rm.Lookup(sessionID)
	if err != nil {
		return err
	}
	return room.Configure(userID, speed)
}

// Forfeit ends the user's session with the other player as winner.
func (rm *RoomManager) Forfeit(sessionID int, userID string) error {
	room, err := rm.Lookup(sessionID)
	if err != nil {
		return err
	}
	return room.Forfeit(userID)
}

// Attach adds userID as a spectator. The user must be idle.
func (rm *RoomManager) Attach(sessionID int, userID string) error {
	room, err := rm.Lookup(sessionID)
	if err != nil {
		return err
	}
	if room.State() == StateEnded {
		return ErrAlreadyEnded
	}
	if room.SlotOf(userID) >= 0 {
		return ErrSelfSpectate
	}

	if _, ok := rm.presence.Acquire(Presence{UserID: userID, Activity: ActivitySpectating, SessionID: sessionID}); !ok {
		return ErrUserBusy
	}

	if err := room.Attach(userID); err != nil {
		rm.presence.ReleaseIf(userID, inSession(sessionID, ActivitySpectating))
		return err
	}
	return nil
}

// AttachToUser spectates whichever session targetUserID is playing in.
func (rm *RoomManager) AttachToUser(targetUserID, userID string) (int, error) {
	p := rm.presence.Get(targetUserID)
	if p.Activity != ActivityPlaying {
		return 0, ErrSessionNotFound
	}
	return p.SessionID, rm.Attach(p.SessionID, userID)
}

// Detach is idempotent.
func (rm *RoomManager) Detach(sessionID int, userID string) {
	if room, err := rm.Lookup(sessionID); err == nil {
		_ = room.Detach(userID)
	}
	rm.presence.ReleaseIf(userID, inSession(sessionID, ActivitySpectating))
}

func (rm *RoomManager) Count() int {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return len(rm.rooms)
}

// roomEnded runs on the room goroutine after the loop has stopped.
func (rm *RoomManager) roomEnded(room *Room, outcome Outcome) {
	defer rm.wg.Done()

	for _, userID := range outcome.Players {
		rm.presence.ReleaseIf(userID, inSession(room.ID, ActivityPlaying))
	}
	for _, userID := range outcome.Spectators {
		rm.presence.ReleaseIf(userID, inSession(room.ID, ActivitySpectating))
	}

	rm.recordResult(outcome)

	id := room.ID
	time.AfterFunc(rm.cfg.EndGrace, func() { rm.destroy(id) })
}

func (rm *RoomManager) recordResult(outcome Outcome) {
	// Aborted sessions have no result to record.
	if rm.results == nil || outcome.WinnerSlot < 0 {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := rm.results.RecordResult(ctx, outcome); err != nil {
			log.Warn().Err(err).Int("session", outcome.SessionID).Msg("Failed to record match result")
		}
	}()
}

func (rm *RoomManager) destroy(sessionID int) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if _, exists := rm.rooms[sessionID]; !exists {
		return
	}
	delete(rm.rooms, sessionID)
	rm.ids.Release(sessionID, rm.now())

	log.Debug().Int("session", sessionID).Msg("Session destroyed")
}

// Shutdown aborts every session and waits for their loops to stop.
func (rm *RoomManager) Shutdown(ctx context.Context) error {
	rm.mu.Lock()
	rm.closed = true
	rooms := make([]*Room, 0, len(rm.rooms))
	for _, room := range rm.rooms {
		rooms = append(rooms, room)
	}
	rm.mu.Unlock()

	for _, room := range rooms {
		room.abort()
	}

	done := make(chan struct{})
	go func() {
		rm.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
