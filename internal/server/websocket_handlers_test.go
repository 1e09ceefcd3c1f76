package server

import (
	"encoding/json"
	"net"
	"net/http"
	"testing"
	"time"

	"postservice/internal/models"
	"postservice/internal/notifications"
	"postservice/internal/store"

	"github.com/alicebob/miniredis/v2"
	gorillaws "github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestWebSocketFeed_ReceivesPostEvents(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	repo := new(MockPostRepository)
	repo.On("Create", mock.Anything, "a@x.com", mock.Anything).Return(testOID, nil)

	s := NewServerWithDeps(testConfig(), repo, &fakeStore{state: store.StateConnected}, rdb)
	defer shutdown(s)
	require.NoError(t, s.feedHub.StartWiring(s.shutdownCtx, s.notifier))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = s.App().Listener(ln) }()

	conn, resp, err := gorillaws.DefaultDialer.Dial("ws://"+ln.Addr().String()+"/ws/feed", nil)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()
	assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)

	require.Eventually(t, func() bool { return s.feedHub.Count() == 1 }, 2*time.Second, 10*time.Millisecond)

	res, body := doRequest(t, s, http.MethodPost, "/posts/a@x.com", []byte(`{"text":"hi"}`))
	require.Equal(t, http.StatusCreated, res.StatusCode, string(body))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)

	var evt notifications.PostEvent
	require.NoError(t, json.Unmarshal(msg, &evt))
	assert.Equal(t, notifications.EventPostCreated, evt.Type)
	assert.Equal(t, "a@x.com", evt.AuthorID)
	assert.Equal(t, testOID.Hex(), evt.PostID)
}

func TestWebSocketFeed_RequiresUpgrade(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := NewServerWithDeps(testConfig(), new(MockPostRepository), &fakeStore{}, rdb)
	defer shutdown(s)

	resp, _ := doRequest(t, s, http.MethodGet, "/ws/feed", nil)
	assert.Equal(t, http.StatusUpgradeRequired, resp.StatusCode)
}

func TestReadinessReportsRedis(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := NewServerWithDeps(testConfig(), new(MockPostRepository), &fakeStore{state: store.StateConnected}, rdb)
	defer shutdown(s)

	resp, body := doRequest(t, s, http.MethodGet, "/health/ready", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var payload struct {
		Checks map[string]string `json:"checks"`
	}
	require.NoError(t, json.Unmarshal(body, &payload))
	assert.Equal(t, "healthy", payload.Checks["redis"])

	mr.Close()
	resp, body = doRequest(t, s, http.MethodGet, "/health/ready", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode, "redis is optional")
	require.NoError(t, json.Unmarshal(body, &payload))
	assert.Equal(t, "unhealthy", payload.Checks["redis"])
}

func TestCreatePost_InvalidatesCache(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cfg := testConfig()
	cfg.CacheTTL = time.Minute

	repo := new(MockPostRepository)
	repo.On("ListFeed", mock.Anything, 20).Return([]models.Post{}, nil)
	repo.On("Create", mock.Anything, "a@x.com", mock.Anything).Return(testOID, nil)

	s := NewServerWithDeps(cfg, repo, &fakeStore{state: store.StateConnected}, rdb)
	defer shutdown(s)

	doRequest(t, s, http.MethodGet, "/posts", nil)
	doRequest(t, s, http.MethodGet, "/posts", nil)
	repo.AssertNumberOfCalls(t, "ListFeed", 1)

	doRequest(t, s, http.MethodPost, "/posts/a@x.com", []byte(`{"text":"hi"}`))
	doRequest(t, s, http.MethodGet, "/posts", nil)
	repo.AssertNumberOfCalls(t, "ListFeed", 2)
}
