package server

import (
	"errors"
	"math"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"pong-server/internal/pong"
)

type RoomState string

const (
	StateAwaitingOpponent RoomState = "awaiting_opponent"
	StateAwaitingConfig   RoomState = "awaiting_config"
	StateRunning          RoomState = "running"
	StateEnded            RoomState = "ended"
)

type MatchOrigin string

const (
	OriginQueue  MatchOrigin = "queue"
	OriginInvite MatchOrigin = "invite"
)

type EndReason string

const (
	ReasonScoreLimit EndReason = "score_limit"
	ReasonForfeit    EndReason = "forfeit"
	ReasonShutdown   EndReason = "shutdown"
)

type RoomConfig struct {
	TickInterval  time.Duration
	ScoreLimit    int
	DefaultSpeed  float64
	MinSpeed      float64
	MaxSpeed      float64
	StartDelay    time.Duration
	ConfigTimeout time.Duration
	EndGrace      time.Duration
}

// Outcome is the record of a finished session.
type Outcome struct {
	SessionID  int
	Origin     MatchOrigin
	Players    [2]string
	WinnerSlot int // -1 when the session ended without a winner
	Score      [2]int
	Reason     EndReason
	Speed      float64
	StartedAt  time.Time
	EndedAt    time.Time
	Spectators []string
}

func (o Outcome) Winner() string {
	if o.WinnerSlot < 0 {
		return ""
	}
	return o.Players[o.WinnerSlot]
}

func (o Outcome) Loser() string {
	if o.WinnerSlot < 0 {
		return ""
	}
	return o.Players[1-o.WinnerSlot]
}

type commandKind int

const (
	cmdConfigure commandKind = iota
	cmdAttach
	cmdDetach
	cmdForfeit
	cmdAbort
)

type roomCommand struct {
	kind   commandKind
	userID string
	speed  float64
	reply  chan error
}

// Room is one authoritative session. Everything that changes simulation state
// runs on the room goroutine, between ticks: commands arrive on cmds and
// movement arrives through one overwrite-only slot per player.
type Room struct {
	ID        int
	Origin    MatchOrigin
	CreatedAt time.Time

	players  [2]string
	cfg      RoomConfig
	notifier Notifier
	onEnd    func(*Room, Outcome)
	now      func() time.Time

	state atomic.Value // RoomState
	moves [2]atomic.Int32
	cmds  chan roomCommand
	done  chan struct{}

	// Owned by the room goroutine.
	game           *pong.Game
	spectators     map[string]struct{}
	configDeadline time.Time
	startAt        time.Time
	started        bool
	startedAt      time.Time
	outcome        Outcome
}

func newRoom(id int, origin MatchOrigin, players [2]string, cfg RoomConfig, notifier Notifier, opts ...pong.Option) *Room {
	gameOpts := append([]pong.Option{
		pong.WithScoreLimit(cfg.ScoreLimit),
		pong.WithSpeed(cfg.DefaultSpeed),
	}, opts...)

	r := &Room{
		ID:         id,
		Origin:     origin,
		CreatedAt:  time.Now(),
		players:    players,
		cfg:        cfg,
		notifier:   notifier,
		now:        time.Now,
		cmds:       make(chan roomCommand, 16),
		done:       make(chan struct{}),
		game:       pong.NewGame(gameOpts...),
		spectators: make(map[string]struct{}),
	}
	r.state.Store(StateAwaitingOpponent)
	return r
}

func (r *Room) State() RoomState {
	return r.state.Load().(RoomState)
}

func (r *Room) Players() [2]string {
	return r.players
}

// SlotOf returns the user's slot, or -1 for non-players.
func (r *Room) SlotOf(userID string) int {
	for slot, id := range r.players {
		if id == userID {
			return slot
		}
	}
	return -1
}

// Done is closed once the room has ended and stopped ticking.
func (r *Room) Done() <-chan struct{} {
	return r.done
}

func (r *Room) start() {
	go func() {
		r.run()
		close(r.done)
		if r.onEnd != nil {
			r.onEnd(r, r.outcome)
		}
	}()
}

func (r *Room) run() {
	r.open()

	ticker := time.NewTicker(r.cfg.TickInterval)
	defer ticker.Stop()

	for r.State() != StateEnded {
		select {
		case cmd := <-r.cmds:
			r.handle(cmd)
		case <-ticker.C:
			r.tick()
		}
	}
}

// open seats both players. Invited sessions wait for the host's config,
// queue sessions start straight away at the default speed.
func (r *Room) open() {
	for slot, userID := range r.players {
		r.notifier.Notify(userID, ServerMessage{
			Type:    EventSessionAssigned,
			Payload: SessionAssignedNotification{SessionID: r.ID},
		})
		r.notifier.Notify(userID, ServerMessage{
			Type:    EventAssignedSlot,
			Payload: AssignedSlotNotification{Slot: slot},
		})
		r.notifier.Notify(userID, ServerMessage{
			Type:    EventOpponentFound,
			Payload: OpponentFoundNotification{OpponentID: r.players[1-slot]},
		})
	}

	now := r.now()
	if r.Origin == OriginInvite {
		r.state.Store(StateAwaitingConfig)
		if r.cfg.ConfigTimeout > 0 {
			r.configDeadline = now.Add(r.cfg.ConfigTimeout)
		}
		r.broadcast(ServerMessage{
			Type: EventConfigPending,
			Payload: ConfigPendingNotification{
				SessionID: r.ID,
				HostID:    r.players[0],
				MinSpeed:  r.cfg.MinSpeed,
				MaxSpeed:  r.cfg.MaxSpeed,
			},
		})
		return
	}

	r.begin(now)
}

func (r *Room) begin(now time.Time) {
	r.state.Store(StateRunning)
	r.startAt = now.Add(r.cfg.StartDelay)

	r.broadcast(ServerMessage{
		Type: EventMatchStarting,
		Payload: MatchStartingNotification{
			SessionID:  r.ID,
			Speed:      r.game.Speed(),
			StartsInMs: r.cfg.StartDelay.Milliseconds(),
		},
	})
	log.Info().Int("session", r.ID).Str("origin", string(r.Origin)).
		Float64("speed", r.game.Speed()).Msg("Match starting")
}

func (r *Room) tick() {
	now := r.now()

	switch r.State() {
	case StateAwaitingConfig:
		if !r.configDeadline.IsZero() && !now.Before(r.configDeadline) {
			log.Info().Int("session", r.ID).Msg("Host did not configure in time, using default speed")
			r.begin(now)
		}
		return
	case StateRunning:
	default:
		return
	}

	// The countdown keeps the snapshot cadence with the opening position.
	if now.Before(r.startAt) {
		r.broadcast(ServerMessage{Type: EventStateUpdate, Payload: r.snapshot()})
		return
	}

	if !r.started {
		r.started = true
		r.startedAt = now
		r.moves[0].Store(0)
		r.moves[1].Store(0)
		r.broadcast(ServerMessage{Type: EventMatchStarted, Payload: r.snapshot()})
		return
	}

	dirs := [2]pong.Direction{
		pong.Direction(r.moves[0].Swap(0)),
		pong.Direction(r.moves[1].Swap(0)),
	}
	res := r.game.Step(dirs)

	r.broadcast(ServerMessage{Type: EventStateUpdate, Payload: r.snapshot()})

	if res.Winner >= 0 {
		r.finish(res.Winner, ReasonScoreLimit)
	}
}

func (r *Room) handle(cmd roomCommand) {
	var err error
	switch cmd.kind {
	case cmdConfigure:
		err = r.configure(cmd.userID, cmd.speed)
	case cmdAttach:
		err = r.attach(cmd.userID)
	case cmdDetach:
		delete(r.spectators, cmd.userID)
	case cmdForfeit:
		err = r.forfeit(cmd.userID)
	case cmdAbort:
		r.finish(-1, ReasonShutdown)
	}

	if cmd.reply != nil {
		cmd.reply <- err
	}
}

func (r *Room) configure(userID string, speed float64) error {
	slot := r.SlotOf(userID)
	if slot < 0 {
		return ErrNotAPlayer
	}
	if r.Origin != OriginInvite || slot != 0 || r.State() != StateAwaitingConfig {
		return ErrConfigNotAllowed
	}
	if math.IsNaN(speed) || speed < r.cfg.MinSpeed || speed > r.cfg.MaxSpeed {
		return newValidationError(ErrInvalidSpeed.Code, "Speed must be between %v and %v", r.cfg.MinSpeed, r.cfg.MaxSpeed)
	}
	if err := r.game.SetSpeed(speed); err != nil {
		return newValidationError(ErrInvalidSpeed.Code, "%v", err)
	}

	r.begin(r.now())
	return nil
}

// attach adds a spectator and sends the current snapshot right away, which
// is the same state the players last received.
func (r *Room) attach(userID string) error {
	if r.SlotOf(userID) >= 0 {
		return ErrSelfSpectate
	}
	if r.State() == StateEnded {
		return ErrAlreadyEnded
	}

	r.spectators[userID] = struct{}{}
	r.notifier.Notify(userID, ServerMessage{
		Type:    EventSpectating,
		Payload: SpectatingNotification{SessionID: r.ID, Players: r.players},
	})
	r.notifier.Notify(userID, ServerMessage{Type: EventStateUpdate, Payload: r.snapshot()})
	return nil
}

func (r *Room) forfeit(userID string) error {
	slot := r.SlotOf(userID)
	if slot < 0 {
		return ErrNotAPlayer
	}
	if r.State() == StateEnded {
		return nil
	}
	r.finish(1-slot, ReasonForfeit)
	return nil
}

// finish ends the session exactly once: players and spectators all receive
// the same matchEnded payload, then spectators are detached.
func (r *Room) finish(winnerSlot int, reason EndReason) {
	if r.State() == StateEnded {
		return
	}
	r.state.Store(StateEnded)

	spectators := make([]string, 0, len(r.spectators))
	for userID := range r.spectators {
		spectators = append(spectators, userID)
	}

	r.outcome = Outcome{
		SessionID:  r.ID,
		Origin:     r.Origin,
		Players:    r.players,
		WinnerSlot: winnerSlot,
		Score:      r.game.Scores(),
		Reason:     reason,
		Speed:      r.game.Speed(),
		StartedAt:  r.startedAt,
		EndedAt:    r.now(),
		Spectators: spectators,
	}

	r.broadcast(ServerMessage{
		Type: EventMatchEnded,
		Payload: MatchEndedNotification{
			SessionID:  r.ID,
			WinnerID:   r.outcome.Winner(),
			WinnerSlot: winnerSlot,
			Score:      r.outcome.Score,
			Forfeit:    reason == ReasonForfeit,
			Reason:     string(reason),
		},
	})
	clear(r.spectators)

	log.Info().Int("session", r.ID).Str("winner", r.outcome.Winner()).
		Ints("score", r.outcome.Score[:]).Str("reason", string(reason)).Msg("Match ended")
}

// broadcast delivers players first, then spectators, within the same tick.
func (r *Room) broadcast(msg ServerMessage) {
	for _, userID := range r.players {
		r.notifier.Notify(userID, msg)
	}
	for userID := range r.spectators {
		r.notifier.Notify(userID, msg)
	}
}

func (r *Room) snapshot() SnapshotPayload {
	return SnapshotPayload{SessionID: r.ID, Snapshot: r.game.Snapshot()}
}

// Move overwrites the player's pending movement. It never blocks; only the
// latest direction before a tick is applied.
func (r *Room) Move(userID string, slot int, dir pong.Direction) error {
	if r.SlotOf(userID) < 0 {
		return ErrNotAPlayer
	}
	if slot < 0 || slot > 1 || r.players[slot] != userID {
		return ErrInvalidSlot
	}
	if dir != pong.Up && dir != pong.Down {
		return ErrInvalidDirection
	}
	if r.State() != StateRunning {
		return ErrMatchNotRunning
	}
	r.moves[slot].Store(int32(dir))
	return nil
}

func (r *Room) Configure(userID string, speed float64) error {
	return r.submit(roomCommand{kind: cmdConfigure, userID: userID, speed: speed})
}

func (r *Room) Attach(userID string) error {
	return r.submit(roomCommand{kind: cmdAttach, userID: userID})
}

// Detach is idempotent and never fails for ended rooms.
func (r *Room) Detach(userID string) error {
	err := r.submit(roomCommand{kind: cmdDetach, userID: userID})
	if errors.Is(err, ErrAlreadyEnded) {
		return nil
	}
	return err
}

// Forfeit ends the match in favour of the other player. A no-op once ended.
func (r *Room) Forfeit(userID string) error {
	if r.SlotOf(userID) < 0 {
		return ErrNotAPlayer
	}
	err := r.submit(roomCommand{kind: cmdForfeit, userID: userID})
	if errors.Is(err, ErrAlreadyEnded) {
		return nil
	}
	return err
}

func (r *Room) abort() {
	_ = r.submit(roomCommand{kind: cmdAbort})
}

func (r *Room) submit(cmd roomCommand) error {
	cmd.reply = make(chan error, 1)

	select {
	case r.cmds <- cmd:
	case <-r.done:
		return ErrAlreadyEnded
	}

	select {
	case err := <-cmd.reply:
		return err
	case <-r.done:
		select {
		case err := <-cmd.reply:
			return err
		default:
			return ErrAlreadyEnded
		}
	}
}
