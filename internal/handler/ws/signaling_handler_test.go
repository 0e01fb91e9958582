package ws

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medipredict-backend/internal/domain"
	"medipredict-backend/internal/signaling"
	"medipredict-backend/pkg/config"
	"medipredict-backend/pkg/metrics"
)

func newTestHub(t *testing.T, maxConns int) (*httptest.Server, *SignalingHub) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	m := metrics.NewMetrics("ws-test")
	hub := NewSignalingHub(config.SignalingConfig{
		MaxConnections: maxConns,
		SendBuffer:     16,
		ReadLimit:      64 * 1024,
		PingInterval:   time.Minute,
		AllowedOrigins: []string{"http://localhost:3000"},
	}, m)
	recorder := signaling.NewAsyncRecorder(nil, 8, time.Second, m)
	router := signaling.NewRouter(signaling.NewConnectionRegistry(), signaling.NewSessionTable(), hub, recorder, m)
	hub.Bind(router)

	engine := gin.New()
	engine.GET("/v1/signaling/ws", hub.ServeWS)
	srv := httptest.NewServer(engine)

	t.Cleanup(func() {
		hub.Shutdown()
		srv.Close()
		recorder.Close()
	})
	return srv, hub
}

func dial(t *testing.T, srv *httptest.Server, header http.Header) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/signaling/ws"
	return websocket.DefaultDialer.Dial(url, header)
}

// readUntil returns the first event of the wanted type, skipping others
func readUntil(t *testing.T, conn *websocket.Conn, want string, match func(*signaling.Event) bool) *signaling.Event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		var ev signaling.Event
		require.NoError(t, conn.ReadJSON(&ev))
		if ev.Type == want && (match == nil || match(&ev)) {
			return &ev
		}
	}
}

func TestSignalingHub_InviteOverWebSocket(t *testing.T) {
	srv, hub := newTestHub(t, 10)

	doc, _, err := dial(t, srv, nil)
	require.NoError(t, err)
	defer doc.Close()
	pat, _, err := dial(t, srv, nil)
	require.NoError(t, err)
	defer pat.Close()

	require.NoError(t, doc.WriteJSON(signaling.Event{
		Type:          signaling.EventPresenceAnnounce,
		ParticipantID: "doc1",
		Role:          domain.RoleClinician,
	}))
	readUntil(t, doc, signaling.EventPresenceChanged, func(ev *signaling.Event) bool { return ev.ParticipantID == "doc1" })

	require.NoError(t, pat.WriteJSON(signaling.Event{
		Type:          signaling.EventPresenceAnnounce,
		ParticipantID: "pat1",
		Role:          domain.RolePatient,
	}))
	online := readUntil(t, doc, signaling.EventPresenceChanged, func(ev *signaling.Event) bool { return ev.ParticipantID == "pat1" })
	assert.Equal(t, domain.PresenceOnline, online.Status)

	require.NoError(t, doc.WriteMessage(websocket.TextMessage,
		[]byte(`{"type":"invite","fromId":"doc1","toId":"pat1","medium":"audio","offer":{"sdp":"v=0"}}`)))

	incoming := readUntil(t, pat, signaling.EventIncomingCall, nil)
	assert.Equal(t, "doc1", incoming.FromID)
	assert.Equal(t, domain.MediumAudio, incoming.Medium)
	assert.JSONEq(t, `{"sdp":"v=0"}`, string(incoming.Offer))

	assert.Equal(t, 2, hub.Count())
}

func TestSignalingHub_DisconnectBroadcastsOffline(t *testing.T) {
	srv, _ := newTestHub(t, 10)

	watcher, _, err := dial(t, srv, nil)
	require.NoError(t, err)
	defer watcher.Close()
	leaver, _, err := dial(t, srv, nil)
	require.NoError(t, err)

	require.NoError(t, leaver.WriteJSON(signaling.Event{
		Type:          signaling.EventPresenceAnnounce,
		ParticipantID: "pat1",
		Role:          domain.RolePatient,
	}))
	readUntil(t, watcher, signaling.EventPresenceChanged, nil)

	require.NoError(t, leaver.Close())

	offline := readUntil(t, watcher, signaling.EventPresenceChanged, func(ev *signaling.Event) bool {
		return ev.Status == domain.PresenceOffline
	})
	assert.Equal(t, "pat1", offline.ParticipantID)
}

func TestSignalingHub_RejectsForeignOrigin(t *testing.T) {
	srv, _ := newTestHub(t, 10)

	_, resp, err := dial(t, srv, http.Header{"Origin": []string{"http://evil.example"}})

	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestSignalingHub_RejectsAtCapacity(t *testing.T) {
	srv, _ := newTestHub(t, 1)

	first, _, err := dial(t, srv, nil)
	require.NoError(t, err)
	defer first.Close()

	_, resp, err := dial(t, srv, nil)

	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestSignalingClient_AuthorizePinsIdentity(t *testing.T) {
	client := &SignalingClient{id: "c1", identity: "doc1"}

	ev := &signaling.Event{Type: signaling.EventPresenceAnnounce}
	assert.True(t, client.authorize(ev))
	assert.Equal(t, "doc1", ev.ParticipantID)

	assert.False(t, client.authorize(&signaling.Event{Type: signaling.EventPresenceAnnounce, ParticipantID: "pat1"}))
	assert.True(t, client.authorize(&signaling.Event{Type: signaling.EventInvite, ToID: "pat1"}))

	anonymous := &SignalingClient{id: "c2"}
	assert.True(t, anonymous.authorize(&signaling.Event{Type: signaling.EventPresenceAnnounce, ParticipantID: "pat1"}))
}

func TestSignalingHub_SlowClientClosedOnBackpressure(t *testing.T) {
	hub := NewSignalingHub(config.SignalingConfig{MaxConnections: 4, SendBuffer: 1}, metrics.NewMetrics("ws-test"))

	newClient := func(id string) *SignalingClient {
		client := &SignalingClient{hub: hub, id: id, send: make(chan []byte, 1)}
		hub.mu.Lock()
		hub.clients[id] = client
		hub.mu.Unlock()
		return client
	}
	changed := &signaling.Event{Type: signaling.EventPresenceChanged, ParticipantID: "doc1"}

	t.Run("broadcast", func(t *testing.T) {
		slow, fast := newClient("slow-b"), newClient("fast-b")
		slow.send <- []byte("{}")

		hub.Broadcast(changed)

		assert.True(t, slow.closed)
		assert.False(t, fast.closed)
		assert.Len(t, fast.send, 1)
	})

	t.Run("send", func(t *testing.T) {
		slow := newClient("slow-s")
		slow.send <- []byte("{}")

		err := hub.Send("slow-s", changed)

		assert.ErrorIs(t, err, ErrBackpressure)
		assert.True(t, slow.closed)
		assert.ErrorIs(t, hub.Send("slow-s", changed), ErrConnectionClosed)
	})
}
