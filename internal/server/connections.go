package server

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/rs/zerolog/log"
)

const (
	writeTimeout = 5 * time.Second
	flushTimeout = time.Second
)

// Client is one live websocket bound to a user. Outbound messages go through
// a bounded buffer drained by writePump, so senders never block on the socket.
type Client struct {
	ID     string
	UserID string

	conn      *websocket.Conn
	send      chan ServerMessage
	done      chan struct{}
	closeOnce sync.Once

	closeCode   websocket.StatusCode
	closeReason string
}

func NewClient(id, userID string, conn *websocket.Conn, buffer int) *Client {
	return &Client{
		ID:     id,
		UserID: userID,
		conn:   conn,
		send:   make(chan ServerMessage, buffer),
		done:   make(chan struct{}),
	}
}

// Enqueue never blocks. A client that cannot keep up is closed rather than
// allowed to hold back the sender.
func (c *Client) Enqueue(msg ServerMessage) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- msg:
		return true
	default:
		log.Warn().Str("conn", c.ID).Str("user", c.UserID).Str("type", msg.Type).
			Msg("Send buffer full, closing slow client")
		c.Close(websocket.StatusPolicyViolation, "send buffer full")
		return false
	}
}

// Close marks the client done. writePump flushes what is buffered and closes
// the socket. Safe to call more than once.
func (c *Client) Close(code websocket.StatusCode, reason string) {
	c.closeOnce.Do(func() {
		c.closeCode = code
		c.closeReason = reason
		close(c.done)
	})
}

func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Ping sends a websocket ping and waits for the pong. It needs the read
// loop to be running.
func (c *Client) Ping(ctx context.Context) error {
	if c.conn == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return c.conn.Ping(ctx)
}

func (c *Client) writePump(ctx context.Context) {
	defer func() {
		c.flush()
		if c.conn != nil {
			c.conn.Close(c.closeCode, c.closeReason)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			c.Close(websocket.StatusGoingAway, "server closing")
			return
		case <-c.done:
			return
		case msg := <-c.send:
			if err := c.write(ctx, msg); err != nil {
				log.Debug().Err(err).Str("conn", c.ID).Msg("Write failed")
				c.Close(websocket.StatusInternalError, "write failed")
				return
			}
		}
	}
}

// flush writes whatever is still buffered, giving up after flushTimeout.
func (c *Client) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()

	for {
		select {
		case msg := <-c.send:
			if err := c.write(ctx, msg); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *Client) write(ctx context.Context, msg ServerMessage) error {
	if c.conn == nil {
		return nil
	}
	data, err := json.Marshal(msg)
	if err != nil {
		log.Error().Err(err).Str("type", msg.Type).Msg("Marshal error")
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return c.conn.Write(ctx, websocket.MessageText, data)
}

// ConnectionManager is the connection registry: it addresses users by id and
// never hands a socket to the session layer.
type ConnectionManager struct {
	clients map[string]*Client            // connectionID -> client
	users   map[string]map[string]*Client // userID -> connectionID -> client
	mu      sync.RWMutex
}

func NewConnectionManager() *ConnectionManager {
	return &ConnectionManager{
		clients: make(map[string]*Client),
		users:   make(map[string]map[string]*Client),
	}
}

func (cm *ConnectionManager) AddClient(c *Client) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	cm.clients[c.ID] = c
	conns, ok := cm.users[c.UserID]
	if !ok {
		conns = make(map[string]*Client)
		cm.users[c.UserID] = conns
	}
	conns[c.ID] = c
}

// RemoveClient forgets a connection and reports how many connections its user
// still has. Zero means the user is gone.
func (cm *ConnectionManager) RemoveClient(connectionID string) (userID string, remaining int) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	c, ok := cm.clients[connectionID]
	if !ok {
		return "", 0
	}
	delete(cm.clients, connectionID)

	conns := cm.users[c.UserID]
	delete(conns, connectionID)
	if len(conns) == 0 {
		delete(cm.users, c.UserID)
	}
	return c.UserID, len(conns)
}

func (cm *ConnectionManager) GetClient(connectionID string) *Client {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.clients[connectionID]
}

func (cm *ConnectionManager) ClientsForUser(userID string) []*Client {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	conns := cm.users[userID]
	out := make([]*Client, 0, len(conns))
	for _, c := range conns {
		out = append(out, c)
	}
	return out
}

func (cm *ConnectionManager) IsConnected(userID string) bool {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return len(cm.users[userID]) > 0
}

// Notify enqueues msg on every connection of the user. Users without a live
// connection are skipped.
func (cm *ConnectionManager) Notify(userID string, msg ServerMessage) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	for _, c := range cm.users[userID] {
		c.Enqueue(msg)
	}
}

func (cm *ConnectionManager) Count() int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return len(cm.clients)
}

func (cm *ConnectionManager) Clients() []*Client {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	out := make([]*Client, 0, len(cm.clients))
	for _, c := range cm.clients {
		out = append(out, c)
	}
	return out
}

func (cm *ConnectionManager) CloseAll(code websocket.StatusCode, reason string) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	for _, c := range cm.clients {
		c.Close(code, reason)
	}
}
