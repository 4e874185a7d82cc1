package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"pong-server/internal/pong"
)

const maxMessageSize = 4096

func (s *Server) RegisterRoutes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/", s.HelloWorldHandler)
	mux.HandleFunc("/health", s.healthHandler)
	mux.HandleFunc("/websocket", s.websocketHandler)
	mux.HandleFunc("GET /users/{id}/status", s.userStatusHandler)

	return s.corsMiddleware(mux)
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type")
		w.Header().Set("Access-Control-Allow-Credentials", "false")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) HelloWorldHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "Hello World"})
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:         "ok",
		Sessions:       s.rooms.Count(),
		Queued:         s.queue.Len(),
		PendingInvites: s.invites.PendingCount(),
		Connections:    s.connections.Count(),
	}
	if s.store != nil {
		resp.Database = s.store.Health(r.Context())
		if resp.Database["status"] != "up" {
			resp.Status = "degraded"
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) userStatusHandler(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("id")
	p := s.presence.Get(userID)

	resp := UserStatusResponse{UserID: userID}
	switch p.Activity {
	case ActivityQueued:
		resp.Status = "matchmaking"
	case ActivityInviting, ActivityInvited:
		resp.Status = "invited"
	case ActivityPlaying:
		resp.Status = "in_game"
		resp.SessionID = p.SessionID
	case ActivitySpectating:
		resp.Status = "spectating"
		resp.SessionID = p.SessionID
	default:
		resp.Status = "offline"
		if s.connections.IsConnected(userID) {
			resp.Status = "online"
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "Failed to marshal response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		log.Debug().Err(err).Msg("Failed to write response")
	}
}

func (s *Server) websocketHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := s.identity.ResolveIdentity(r)
	if err != nil {
		log.Debug().Err(err).Str("remote", r.RemoteAddr).Msg("Rejected websocket upgrade")
		writeJSON(w, http.StatusUnauthorized, toErrorMessage(ErrUnauthorized))
		return
	}

	socket, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.cfg.AllowedOrigins,
	})
	if err != nil {
		log.Warn().Err(err).Str("user", userID).Msg("Failed to open websocket")
		return
	}
	socket.SetReadLimit(maxMessageSize)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	client := NewClient(uuid.New().String(), userID, socket, s.cfg.SendBuffer)
	s.connections.AddClient(client)
	s.health.UpdateActivity(client.ID)
	log.Info().Str("conn", client.ID).Str("user", userID).Msg("New connection")

	pumpDone := make(chan struct{})
	go func() {
		client.writePump(ctx)
		close(pumpDone)
	}()

	defer func() {
		_, remaining := s.connections.RemoveClient(client.ID)
		s.rateLimiter.RemoveConnection(client.ID)
		s.health.RemoveConnection(client.ID)
		log.Info().Str("conn", client.ID).Str("user", userID).Int("remaining", remaining).Msg("Connection closed")

		// Other tabs keep the user present.
		if remaining == 0 {
			s.supervisor.HandleDisconnect(userID)
		}

		client.Close(websocket.StatusNormalClosure, "")
		<-pumpDone
	}()

	for {
		msgType, data, err := socket.Read(ctx)
		if err != nil {
			log.Debug().Err(err).Str("conn", client.ID).Msg("Read ended")
			return
		}
		s.health.UpdateActivity(client.ID)

		if msgType != websocket.MessageText {
			log.Debug().Str("conn", client.ID).Msg("Ignoring non-text frame")
			continue
		}

		if !s.rateLimiter.Allow(client.ID) {
			s.sendError(client, ErrRateLimited)
			continue
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.sendError(client, newValidationError(ErrInvalidPayload.Code, "Invalid JSON"))
			continue
		}

		if err := ValidateMessageType(msg.Type); err != nil {
			s.sendError(client, err)
			continue
		}

		if msg.Type != MsgMove && msg.Type != MsgPing {
			log.Debug().Str("conn", client.ID).Str("user", userID).Str("type", msg.Type).Msg("Message received")
		}

		if err := s.dispatch(client, msg); err != nil {
			s.sendError(client, err)
		}
	}
}

func (s *Server) dispatch(c *Client, msg ClientMessage) error {
	switch msg.Type {
	case MsgPing:
		return s.handlePing(c)
	case MsgJoin:
		return s.handleJoin(c)
	case MsgCancelMatch:
		return s.handleCancelMatch(c, msg.Payload)
	case MsgInvite:
		return s.handleInvite(c, msg.Payload)
	case MsgAcceptInvite:
		return s.handleAcceptInvite(c, msg.Payload)
	case MsgDeclineInvite:
		return s.handleDeclineInvite(c, msg.Payload)
	case MsgCancelInvite:
		return s.handleCancelInvite(c, msg.Payload)
	case MsgJoinAsSpectator:
		return s.handleJoinAsSpectator(c, msg.Payload)
	case MsgLeaveAsSpectator:
		return s.handleLeaveAsSpectator(c, msg.Payload)
	case MsgSetConfig:
		return s.handleSetConfig(c, msg.Payload)
	case MsgMove:
		return s.handleMove(c, msg.Payload)
	case MsgLeave:
		return s.handleLeave(c, msg.Payload)
	default:
		return ErrUnknownMessage
	}
}

// decodePayload treats a missing payload as empty.
func decodePayload(raw json.RawMessage, v any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return newValidationError(ErrInvalidPayload.Code, "Invalid payload: %v", err)
	}
	return nil
}

func (s *Server) handlePing(c *Client) error {
	c.Enqueue(ServerMessage{Type: EventPong, Payload: struct{}{}})
	return nil
}

func (s *Server) handleJoin(c *Client) error {
	_, err := s.queue.Enqueue(c.UserID)
	return err
}

// handleCancelMatch forfeits the named session, or leaves the queue, or
// drops whatever else the user is doing.
func (s *Server) handleCancelMatch(c *Client, payload json.RawMessage) error {
	var req CancelMatchRequest
	if err := decodePayload(payload, &req); err != nil {
		return err
	}

	if req.SessionID != 0 {
		return s.rooms.Forfeit(req.SessionID, c.UserID)
	}
	if !s.queue.Cancel(c.UserID) {
		s.supervisor.Release(c.UserID)
	}
	return nil
}

func (s *Server) handleInvite(c *Client, payload json.RawMessage) error {
	var req InviteRequest
	if err := decodePayload(payload, &req); err != nil {
		return err
	}
	_, err := s.invites.Invite(c.UserID, req.TargetUserID)
	return err
}

func (s *Server) handleAcceptInvite(c *Client, payload json.RawMessage) error {
	var req InviteIDRequest
	if err := decodePayload(payload, &req); err != nil {
		return err
	}
	inv, err := s.invites.Accept(c.UserID, req.InviteID)
	return s.inviteResult(c, inv, err)
}

func (s *Server) handleDeclineInvite(c *Client, payload json.RawMessage) error {
	var req InviteIDRequest
	if err := decodePayload(payload, &req); err != nil {
		return err
	}
	inv, err := s.invites.Decline(c.UserID, req.InviteID)
	return s.inviteResult(c, inv, err)
}

func (s *Server) handleCancelInvite(c *Client, payload json.RawMessage) error {
	var req InviteIDRequest
	if err := decodePayload(payload, &req); err != nil {
		return err
	}
	inv, err := s.invites.Cancel(c.UserID, req.InviteID)
	return s.inviteResult(c, inv, err)
}

// inviteResult reports a late accept, decline or cancel as an event rather
// than an error, so the client can just drop its invite UI.
func (s *Server) inviteResult(c *Client, inv Invite, err error) error {
	if errors.Is(err, ErrInviteAlreadyResolved) {
		c.Enqueue(ServerMessage{
			Type:    EventInviteAlreadyResolved,
			Payload: InviteNotification{InviteID: inv.ID, From: inv.Inviter, To: inv.Invitee},
		})
		return nil
	}
	return err
}

func (s *Server) handleJoinAsSpectator(c *Client, payload json.RawMessage) error {
	var req SpectateRequest
	if err := decodePayload(payload, &req); err != nil {
		return err
	}

	if req.SessionID != 0 {
		return s.rooms.Attach(req.SessionID, c.UserID)
	}
	if req.TargetUserID == "" {
		return newValidationError(ErrInvalidPayload.Code, "targetUserId or sessionId is required")
	}
	_, err := s.rooms.AttachToUser(req.TargetUserID, c.UserID)
	return err
}

func (s *Server) handleLeaveAsSpectator(c *Client, payload json.RawMessage) error {
	var req SessionRequest
	if err := decodePayload(payload, &req); err != nil {
		return err
	}

	sessionID := req.SessionID
	if sessionID == 0 {
		p := s.presence.Get(c.UserID)
		if p.Activity != ActivitySpectating {
			return nil
		}
		sessionID = p.SessionID
	}

	s.rooms.Detach(sessionID, c.UserID)
	c.Enqueue(ServerMessage{Type: EventSpectatorLeft, Payload: SessionRequest{SessionID: sessionID}})
	return nil
}

func (s *Server) handleSetConfig(c *Client, payload json.RawMessage) error {
	var req SetConfigRequest
	if err := decodePayload(payload, &req); err != nil {
		return err
	}
	return s.rooms.Configure(req.SessionID, c.UserID, req.Speed)
}

func (s *Server) handleMove(c *Client, payload json.RawMessage) error {
	var req MoveRequest
	if err := decodePayload(payload, &req); err != nil {
		return err
	}

	dir, err := pong.ParseDirection(req.Direction)
	if err != nil {
		return ErrInvalidDirection
	}
	return s.rooms.Move(req.SessionID, c.UserID, req.Slot, dir)
}

func (s *Server) handleLeave(c *Client, payload json.RawMessage) error {
	var req SessionRequest
	if err := decodePayload(payload, &req); err != nil {
		return err
	}

	sessionID := req.SessionID
	if sessionID == 0 {
		p := s.presence.Get(c.UserID)
		if p.Activity != ActivityPlaying {
			return nil
		}
		sessionID = p.SessionID
	}
	return s.rooms.Forfeit(sessionID, c.UserID)
}

func (s *Server) sendError(c *Client, err error) {
	if errorKind(err) == KindInternal {
		log.Error().Err(err).Str("conn", c.ID).Str("user", c.UserID).Msg("Request failed")
	} else {
		log.Debug().Err(err).Str("conn", c.ID).Str("user", c.UserID).Msg("Request rejected")
	}

	c.Enqueue(ServerMessage{Type: EventError, Payload: toErrorMessage(err)})
}
