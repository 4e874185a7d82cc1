package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serve(t *testing.T, s *Server, method, target string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, target, nil)
	rr := httptest.NewRecorder()
	s.RegisterRoutes().ServeHTTP(rr, req)
	return rr
}

func TestHelloWorldHandler(t *testing.T) {
	s, _, cleanup := setupTestServer()
	defer cleanup()

	rr := serve(t, s, http.MethodGet, "/")

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"message":"Hello World"}`, rr.Body.String())
}

func TestCORSPreflight(t *testing.T) {
	s, _, cleanup := setupTestServer()
	defer cleanup()

	rr := serve(t, s, http.MethodOptions, "/health")

	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, "*", rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestHealthHandler(t *testing.T) {
	s, _, cleanup := setupTestServer()
	defer cleanup()

	_, err := s.queue.Enqueue("alice")
	require.NoError(t, err)
	_, err = s.invites.Invite("bob", "carol")
	require.NoError(t, err)

	rr := serve(t, s, http.MethodGet, "/health")
	require.Equal(t, http.StatusOK, rr.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 1, resp.Queued)
	assert.Equal(t, 1, resp.PendingInvites)
	assert.Equal(t, 0, resp.Sessions)
	assert.Nil(t, resp.Database)
}

func TestUserStatusHandler(t *testing.T) {
	s, _, cleanup := setupTestServer()
	defer cleanup()

	_, err := s.queue.Enqueue("alice")
	require.NoError(t, err)
	_, err = s.invites.Invite("carol", "dave")
	require.NoError(t, err)

	tests := []struct {
		user string
		want string
	}{
		{"alice", "matchmaking"},
		{"carol", "invited"},
		{"dave", "invited"},
		{"nobody", "offline"},
	}

	for _, tt := range tests {
		t.Run(tt.user, func(t *testing.T) {
			rr := serve(t, s, http.MethodGet, "/users/"+tt.user+"/status")
			require.Equal(t, http.StatusOK, rr.Code)

			var resp UserStatusResponse
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
			assert.Equal(t, tt.user, resp.UserID)
			assert.Equal(t, tt.want, resp.Status)
		})
	}
}

func TestUserStatusHandler_InGame(t *testing.T) {
	s, _, cleanup := setupTestServer()
	defer cleanup()

	_, err := s.queue.Enqueue("alice")
	require.NoError(t, err)
	_, err = s.queue.Enqueue("bob")
	require.NoError(t, err)

	rr := serve(t, s, http.MethodGet, "/users/bob/status")

	var resp UserStatusResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "in_game", resp.Status)
	assert.Equal(t, 1, resp.SessionID)
}

func TestWebsocketHandler_RejectsWithoutToken(t *testing.T) {
	s, _, cleanup := setupTestServer()
	defer cleanup()

	rr := serve(t, s, http.MethodGet, "/websocket")

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Contains(t, rr.Body.String(), "UNAUTHORIZED")
}
