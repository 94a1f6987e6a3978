package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/mossy-p/stranger-chat/config"
	"github.com/mossy-p/stranger-chat/internal/logging"
	"github.com/mossy-p/stranger-chat/internal/models"
	"github.com/mossy-p/stranger-chat/internal/redis"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *config.Config {
	return &config.Config{
		AllowedOrigins: []string{"http://localhost:3000"},
		JWTSecret:      "test-secret",
		Operator:       config.OperatorConfig{Username: "ops", Password: "hunter2"},
		Chat:           config.ChatConfig{MaxMessageLength: 2000, SendBuffer: 64},
	}
}

func startServer(t *testing.T, store *redis.Store) *httptest.Server {
	t.Helper()
	_, ts := newTestServer(t, testConfig(), store)
	return ts
}

func newTestServer(t *testing.T, cfg *config.Config, store *redis.Store) (*Server, *httptest.Server) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	srv := NewServer(Options{Chat: cfg.Chat, Store: store, Log: logging.Discard()})
	ts := httptest.NewServer(NewRouter(cfg, srv))
	t.Cleanup(ts.Close)
	return srv, ts
}

// registered lists the ids currently in the hub.
func (s *Server) registered() []string {
	s.hub.mu.RLock()
	defer s.hub.mu.RUnlock()
	ids := make([]string, 0, len(s.hub.peers))
	for id := range s.hub.peers {
		ids = append(ids, id)
	}
	return ids
}

type peer struct {
	t    *testing.T
	conn *websocket.Conn
}

func dial(t *testing.T, ts *httptest.Server) *peer {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &peer{t: t, conn: conn}
}

func (p *peer) send(typ models.MessageType, payload any) {
	p.t.Helper()
	msg, err := models.NewMessage(typ, payload)
	require.NoError(p.t, err)
	require.NoError(p.t, p.conn.WriteJSON(msg))
}

func (p *peer) read() models.Message {
	p.t.Helper()
	p.conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var msg models.Message
	require.NoError(p.t, p.conn.ReadJSON(&msg))
	return msg
}

func (p *peer) expect(typ models.MessageType, into any) {
	p.t.Helper()
	msg := p.read()
	require.Equal(p.t, typ, msg.Type)
	if into != nil {
		require.NoError(p.t, msg.Decode(into))
	}
}

// pairUp connects a then b and returns both chat:start payloads.
func pairUp(t *testing.T, ts *httptest.Server) (*peer, models.ChatStartPayload, *peer, models.ChatStartPayload) {
	a := dial(t, ts)
	a.expect(models.TypeQueueWaiting, nil)
	b := dial(t, ts)

	var aStart, bStart models.ChatStartPayload
	a.expect(models.TypeChatStart, &aStart)
	b.expect(models.TypeChatStart, &bStart)
	return a, aStart, b, bStart
}

func TestHealth(t *testing.T) {
	ts := startServer(t, nil)
	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestPairingAssignsRoles(t *testing.T) {
	ts := startServer(t, nil)
	_, aStart, _, bStart := pairUp(t, ts)

	assert.Equal(t, models.RoleCaller, aStart.Role)
	assert.Equal(t, models.RoleCallee, bStart.Role)
	assert.NotEmpty(t, aStart.PartnerID)
	assert.NotEmpty(t, bStart.PartnerID)
	assert.NotEqual(t, aStart.PartnerID, bStart.PartnerID)
	assert.False(t, aStart.PartnerVideoMode)
}

func TestChatRelay(t *testing.T) {
	ts := startServer(t, nil)
	a, _, b, _ := pairUp(t, ts)

	a.send(models.TypeChatMessage, models.ChatMessagePayload{Text: strings.Repeat("é", 2100)})
	var got models.ChatMessagePayload
	b.expect(models.TypeChatMessage, &got)
	assert.Equal(t, 2000, len([]rune(got.Text)))

	a.send(models.TypeChatTyping, 1)
	msg := b.read()
	assert.Equal(t, models.TypeChatTyping, msg.Type)
	assert.JSONEq(t, "true", string(msg.Payload))

	b.send(models.TypeModeChanged, models.ModePayload{VideoMode: true})
	var mode models.ModePayload
	a.expect(models.TypePartnerMode, &mode)
	assert.True(t, mode.VideoMode)
}

func TestConsentIsEchoed(t *testing.T) {
	ts := startServer(t, nil)
	a, _, b, _ := pairUp(t, ts)

	a.send(models.TypeVideoRequest, nil)
	b.expect(models.TypeVideoRequest, nil)

	b.send(models.TypeVideoAccept, nil)
	a.expect(models.TypeVideoAccept, nil)
	b.expect(models.TypeVideoAccept, nil)

	a.send(models.TypeVideoReady, nil)
	b.expect(models.TypeVideoReady, nil)

	b.send(models.TypeVideoDecline, nil)
	a.expect(models.TypeVideoDecline, nil)
	b.expect(models.TypeVideoDecline, nil)
}

func TestSignalSplitAndTagged(t *testing.T) {
	ts := startServer(t, nil)
	a, aStart, b, bStart := pairUp(t, ts)

	a.send(models.TypeSignal, models.SignalPayload{
		Description: json.RawMessage(`{"type":"offer","sdp":"v=0"}`),
		Candidate:   json.RawMessage(`{"candidate":"candidate:1"}`),
		To:          aStart.PartnerID,
	})

	var first, second models.SignalPayload
	b.expect(models.TypeSignal, &first)
	b.expect(models.TypeSignal, &second)

	assert.JSONEq(t, `{"type":"offer","sdp":"v=0"}`, string(first.Description))
	assert.Empty(t, first.Candidate)
	assert.JSONEq(t, `{"candidate":"candidate:1"}`, string(second.Candidate))
	assert.Equal(t, bStart.PartnerID, first.From)
	assert.Equal(t, bStart.PartnerID, second.From)
	assert.Empty(t, first.To)

	// A signal addressed to someone other than the partner is dropped.
	a.send(models.TypeSignal, models.SignalPayload{Candidate: json.RawMessage(`{}`), To: "stale-peer"})
	a.send(models.TypeChatMessage, models.ChatMessagePayload{Text: "marker"})
	var marker models.ChatMessagePayload
	b.expect(models.TypeChatMessage, &marker)
	assert.Equal(t, "marker", marker.Text)
}

func TestDisconnectEndsSessionAndRequeuesPartner(t *testing.T) {
	ts := startServer(t, nil)
	a, _, b, _ := pairUp(t, ts)

	a.conn.Close()
	b.expect(models.TypeChatEnded, nil)
	b.expect(models.TypeQueueWaiting, nil)

	c := dial(t, ts)
	var bStart, cStart models.ChatStartPayload
	b.expect(models.TypeChatStart, &bStart)
	c.expect(models.TypeChatStart, &cStart)
	assert.Equal(t, models.RoleCaller, bStart.Role)
	assert.Equal(t, models.RoleCallee, cStart.Role)
}

func TestNextRequeuesBoth(t *testing.T) {
	ts := startServer(t, nil)
	a, _, b, _ := pairUp(t, ts)

	a.send(models.TypeChatNext, nil)
	b.expect(models.TypeChatEnded, nil)
	b.expect(models.TypeQueueWaiting, nil)

	// a re-enqueues behind b and the two are paired again.
	var aStart, bStart models.ChatStartPayload
	b.expect(models.TypeChatStart, &bStart)
	a.expect(models.TypeChatStart, &aStart)
	assert.Equal(t, models.RoleCaller, bStart.Role)
	assert.Equal(t, models.RoleCallee, aStart.Role)
}

func TestUnknownTypeGetsError(t *testing.T) {
	ts := startServer(t, nil)
	a := dial(t, ts)
	a.expect(models.TypeQueueWaiting, nil)

	a.send("game:init", nil)
	var e models.ErrorPayload
	a.expect(models.TypeError, &e)
	assert.NotEmpty(t, e.Error)
}

func TestOriginFilter(t *testing.T) {
	ts := startServer(t, nil)

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/health", nil)
	req.Header.Set("Origin", "http://evil.example")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	req.Header.Set("Origin", "http://localhost:3000")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "http://localhost:3000", resp.Header.Get("Access-Control-Allow-Origin"))
}

func login(t *testing.T, ts *httptest.Server, user, pass string) (int, string) {
	t.Helper()
	body, _ := json.Marshal(LoginRequest{Username: user, Password: pass})
	resp, err := http.Post(ts.URL+"/api/auth/login", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	var out LoginResponse
	json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out.Token
}

func operatorRequest(t *testing.T, method, url, token string, into any) int {
	t.Helper()
	req, err := http.NewRequest(method, url, nil)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if into != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(into))
	}
	return resp.StatusCode
}

func TestOperatorAPI(t *testing.T) {
	mr := miniredis.RunT(t)
	store := redis.NewStore(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}), time.Hour, logging.Discard())
	t.Cleanup(func() { store.Close() })
	ts := startServer(t, store)

	code, _ := login(t, ts, "ops", "wrong")
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, http.StatusUnauthorized, operatorRequest(t, http.MethodGet, ts.URL+"/api/stats", "", nil))

	code, token := login(t, ts, "ops", "hunter2")
	require.Equal(t, http.StatusOK, code)
	require.NotEmpty(t, token)

	a, aStart, b, _ := pairUp(t, ts)

	// Redis observers run after the chat:start notifications are queued.
	var stats models.Stats
	require.Eventually(t, func() bool {
		stats = models.Stats{}
		operatorRequest(t, http.MethodGet, ts.URL+"/api/stats", token, &stats)
		return stats.TotalSessions == 1
	}, 3*time.Second, 20*time.Millisecond)
	assert.Equal(t, 2, stats.Connected)
	assert.Equal(t, 0, stats.Waiting)
	assert.Equal(t, 1, stats.ActiveSessions)
	assert.Equal(t, int64(2), stats.Online)
	assert.Equal(t, int64(1), stats.TotalSessions)

	var sessions struct {
		Sessions []models.SessionRecord `json:"sessions"`
	}
	require.Equal(t, http.StatusOK, operatorRequest(t, http.MethodGet, ts.URL+"/api/sessions", token, &sessions))
	require.Len(t, sessions.Sessions, 1)

	// Kicking b runs the disconnect path for a.
	var kicked models.KickResponse
	require.Equal(t, http.StatusOK, operatorRequest(t, http.MethodDelete, ts.URL+"/api/peers/"+aStart.PartnerID, token, &kicked))
	assert.True(t, kicked.Kicked)
	a.expect(models.TypeChatEnded, nil)
	a.expect(models.TypeQueueWaiting, nil)

	b.conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, _, err := b.conn.ReadMessage()
	assert.Error(t, err)

	assert.Equal(t, http.StatusNotFound, operatorRequest(t, http.MethodDelete, ts.URL+"/api/peers/nobody", token, nil))
}

func TestStatsWithoutRedis(t *testing.T) {
	ts := startServer(t, nil)
	_, token := login(t, ts, "ops", "hunter2")

	var stats models.Stats
	require.Equal(t, http.StatusOK, operatorRequest(t, http.MethodGet, ts.URL+"/api/stats", token, &stats))
	assert.Equal(t, int64(-1), stats.Online)
	assert.Equal(t, int64(-1), stats.TotalSessions)
}

func TestDepartingPeerLeavesQueueBeforeHub(t *testing.T) {
	srv, ts := newTestServer(t, testConfig(), nil)

	a := dial(t, ts)
	a.expect(models.TypeQueueWaiting, nil)
	ids := srv.registered()
	require.Len(t, ids, 1)
	id := ids[0]
	require.True(t, srv.matchmaker.Queued(id))

	a.conn.Close()
	// Once the hub has forgotten the peer, matchmaking must have too.
	require.Eventually(t, func() bool {
		_, ok := srv.hub.Lookup(id)
		if ok {
			return false
		}
		assert.False(t, srv.matchmaker.Queued(id), "unreachable peer still queued")
		return true
	}, 3*time.Second, time.Millisecond)

	b := dial(t, ts)
	b.expect(models.TypeQueueWaiting, nil)
}

func TestInvalidChatLimitsFallBackToDefaults(t *testing.T) {
	cfg := testConfig()
	cfg.Chat = config.ChatConfig{MaxMessageLength: -5, SendBuffer: -1}
	srv, ts := newTestServer(t, cfg, nil)
	assert.Equal(t, config.DefaultSendBuffer, srv.chat.SendBuffer)
	assert.Equal(t, config.DefaultMaxMessageLength, srv.chat.MaxMessageLength)

	a, _, b, _ := pairUp(t, ts)
	b.send(models.TypeChatMessage, models.ChatMessagePayload{Text: "hello"})
	var got models.ChatMessagePayload
	a.expect(models.TypeChatMessage, &got)
	assert.Equal(t, "hello", got.Text)
}
