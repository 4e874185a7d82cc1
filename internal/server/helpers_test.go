package server

import (
	"context"
	"encoding/json"
	"math/rand/v2"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"pong-server/internal/pong"
)

const testJWTSecret = "test-secret"

func mustMarshal(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}

// recordingNotifier keeps every message per user in delivery order.
type recordingNotifier struct {
	mu       sync.Mutex
	messages map[string][]ServerMessage
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{messages: make(map[string][]ServerMessage)}
}

func (n *recordingNotifier) Notify(userID string, msg ServerMessage) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages[userID] = append(n.messages[userID], msg)
}

func (n *recordingNotifier) all(userID string) []ServerMessage {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]ServerMessage(nil), n.messages[userID]...)
}

func (n *recordingNotifier) types(userID string) []string {
	var out []string
	for _, msg := range n.all(userID) {
		out = append(out, msg.Type)
	}
	return out
}

func (n *recordingNotifier) ofType(userID, msgType string) []ServerMessage {
	var out []ServerMessage
	for _, msg := range n.all(userID) {
		if msg.Type == msgType {
			out = append(out, msg)
		}
	}
	return out
}

func (n *recordingNotifier) count(userID, msgType string) int {
	return len(n.ofType(userID, msgType))
}

func (n *recordingNotifier) reset() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = make(map[string][]ServerMessage)
}

func testRoomConfig() RoomConfig {
	return RoomConfig{
		TickInterval: 2 * time.Millisecond,
		ScoreLimit:   5,
		DefaultSpeed: 1,
		MinSpeed:     1,
		MaxSpeed:     3,
		EndGrace:     200 * time.Millisecond,
	}
}

func seeded() pong.Option {
	return pong.WithRand(rand.New(rand.NewPCG(1, 2)))
}

// newTestRoom builds a room that is driven by hand: call open, tick and
// handle directly instead of starting its goroutine.
func newTestRoom(origin MatchOrigin) (*Room, *recordingNotifier) {
	notifier := newRecordingNotifier()
	r := newRoom(1, origin, [2]string{"alice", "bob"}, testRoomConfig(), notifier, seeded())
	return r, notifier
}

// command runs a room command synchronously on a hand-driven room.
func command(r *Room, cmd roomCommand) error {
	cmd.reply = make(chan error, 1)
	r.handle(cmd)
	return <-cmd.reply
}

type testDeps struct {
	presence *PresenceTracker
	notifier *recordingNotifier
	rooms    *RoomManager
	queue    *MatchmakingQueue
	invites  *InviteBroker
}

func newTestDeps(t *testing.T) *testDeps {
	t.Helper()

	d := &testDeps{
		presence: NewPresenceTracker(),
		notifier: newRecordingNotifier(),
	}
	d.rooms = NewRoomManager(testRoomConfig(), time.Hour, d.presence, d.notifier, nil)
	d.rooms.gameOpts = []pong.Option{seeded()}
	d.queue = NewMatchmakingQueue(d.presence, d.rooms, d.notifier)
	d.invites = NewInviteBroker(d.presence, d.rooms, d.notifier, time.Minute, time.Minute)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = d.rooms.Shutdown(ctx)
	})
	return d
}

func testConfig() Config {
	return Config{
		TickInterval:   2 * time.Millisecond,
		ScoreLimit:     5,
		DefaultSpeed:   1,
		MinSpeed:       1,
		MaxSpeed:       3,
		EndGrace:       50 * time.Millisecond,
		IDCooldown:     time.Second,
		InviteTimeout:  time.Minute,
		InviteRetained: time.Minute,
		SendBuffer:     1024,
		RateLimit:      1000,
		RateWindow:     time.Second,
		IdleTimeout:    time.Minute,
		AllowedOrigins: []string{"*"},
		JWTSecret:      testJWTSecret,
	}
}

func setupTestServer() (*Server, string, func()) {
	return setupTestServerWith(testConfig())
}

func setupTestServerWith(cfg Config) (*Server, string, func()) {
	s := newServer(cfg, NewJWTResolver(testJWTSecret, ""), nil, nil)
	server := httptest.NewServer(s.RegisterRoutes())

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/websocket"

	cleanup := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.Shutdown(ctx)
		server.Close()
	}

	return s, url, cleanup
}

func mintToken(t *testing.T, userID string) string {
	t.Helper()

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   userID,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, err := token.SignedString([]byte(testJWTSecret))
	require.NoError(t, err)
	return signed
}

func dialAs(t *testing.T, ctx context.Context, url, userID string) *websocket.Conn {
	t.Helper()

	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPHeader: http.Header{"Authorization": []string{"Bearer " + mintToken(t, userID)}},
	})
	require.NoError(t, err)
	conn.SetReadLimit(1 << 20)
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func send(t *testing.T, ctx context.Context, conn *websocket.Conn, msgType string, payload interface{}) {
	t.Helper()

	msg := ClientMessage{Type: msgType}
	if payload != nil {
		msg.Payload = mustMarshal(payload)
	}
	require.NoError(t, conn.Write(ctx, websocket.MessageText, mustMarshal(msg)))
}

type received struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// readUntil reads frames until one of msgType arrives, skipping the rest.
func readUntil(t *testing.T, ctx context.Context, conn *websocket.Conn, msgType string) received {
	t.Helper()

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	for {
		_, data, err := conn.Read(ctx)
		require.NoError(t, err, "waiting for %s", msgType)

		var msg received
		require.NoError(t, json.Unmarshal(data, &msg))
		if msg.Type == msgType {
			return msg
		}
	}
}

func decode[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()

	var v T
	require.NoError(t, json.Unmarshal(raw, &v))
	return v
}

// payloadAs converts a recorded in-memory payload to T.
func payloadAs[T any](t *testing.T, msg ServerMessage) T {
	t.Helper()

	v, ok := msg.Payload.(T)
	require.True(t, ok, "payload of %s is %T", msg.Type, msg.Payload)
	return v
}
