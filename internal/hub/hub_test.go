package hub

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	redismock "github.com/go-redis/redismock/v9"

	"github.com/avantos/audiohook-bridge/internal/broker"
	"github.com/avantos/audiohook-bridge/internal/observability"
)

const testSecret = "test-hub-secret"

func TestNewHubIDIsUniquePerCall(t *testing.T) {
	start := time.Now()
	a := NewHubID(start)
	b := NewHubID(start)
	require.NotEqual(t, a, b, "the random component must differ even for the same process start time")
}

func signToken(t *testing.T, secret string) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Subject: "agent-1",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	signed, err := tok.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func newTestHub(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	client, _ := redismock.NewClientMock()
	brk := broker.New(client, observability.NewNoop(), 30*time.Second)
	h := New("hub-1", testSecret, brk, observability.NewNoop())

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.ServeWS(w, r)
	}))
	t.Cleanup(srv.Close)
	return h, srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	return ws
}

func TestValidateTokenRejectsEmptyAndWrongSecret(t *testing.T) {
	h := New("hub-1", testSecret, nil, observability.NewNoop())

	require.Error(t, h.validateToken(""))
	require.Error(t, h.validateToken(signToken(t, "wrong-secret")))
	require.NoError(t, h.validateToken(signToken(t, testSecret)))
}

func TestUnauthenticatedHandshakeIsRefused(t *testing.T) {
	_, srv := newTestHub(t)
	ws := dial(t, srv)

	require.NoError(t, ws.WriteJSON(handshake{}))

	var resp map[string]string
	require.NoError(t, ws.ReadJSON(&resp))
	require.Equal(t, "unauthenticated", resp["type"])
}

func TestJoinConversationAcksAndRegistersRoom(t *testing.T) {
	h, srv := newTestHub(t)
	ws := dial(t, srv)

	hs := handshake{}
	hs.Auth.Token = signToken(t, testSecret)
	require.NoError(t, ws.WriteJSON(hs))

	require.NoError(t, ws.WriteJSON(clientMessage{Type: "join-conversation", Name: "projects/p/locations/l/conversations/c"}))

	var ack ackMessage
	require.NoError(t, ws.ReadJSON(&ack))
	require.Equal(t, "join-conversation", ack.Type)
	require.True(t, ack.OK)

	require.Eventually(t, func() bool {
		h.mu.Lock()
		defer h.mu.Unlock()
		_, ok := h.rooms["projects/p/conversations/c"]
		return ok
	}, time.Second, 5*time.Millisecond)
}

func TestLeaveConversationRemovesRoom(t *testing.T) {
	h, srv := newTestHub(t)
	ws := dial(t, srv)

	hs := handshake{}
	hs.Auth.Token = signToken(t, testSecret)
	require.NoError(t, ws.WriteJSON(hs))
	require.NoError(t, ws.WriteJSON(clientMessage{Type: "join-conversation", Name: "c"}))
	var ack ackMessage
	require.NoError(t, ws.ReadJSON(&ack))

	require.NoError(t, ws.WriteJSON(clientMessage{Type: "leave-conversation", Name: "c"}))
	require.NoError(t, ws.ReadJSON(&ack))
	require.Equal(t, "leave-conversation", ack.Type)

	require.Eventually(t, func() bool {
		h.mu.Lock()
		defer h.mu.Unlock()
		_, ok := h.rooms["c"]
		return !ok
	}, time.Second, 5*time.Millisecond)
}

func TestDisconnectReclaimsRoomMembership(t *testing.T) {
	h, srv := newTestHub(t)
	ws := dial(t, srv)

	hs := handshake{}
	hs.Auth.Token = signToken(t, testSecret)
	require.NoError(t, ws.WriteJSON(hs))
	require.NoError(t, ws.WriteJSON(clientMessage{Type: "join-conversation", Name: "c"}))
	var ack ackMessage
	require.NoError(t, ws.ReadJSON(&ack))

	ws.Close()

	require.Eventually(t, func() bool {
		h.mu.Lock()
		defer h.mu.Unlock()
		_, roomExists := h.rooms["c"]
		return !roomExists && len(h.conns) == 0
	}, time.Second, 5*time.Millisecond)
}

func TestDeliverBroadcastsSummariesToEveryConnection(t *testing.T) {
	h, srv := newTestHub(t)
	wsA := dial(t, srv)
	wsB := dial(t, srv)

	for _, ws := range []*websocket.Conn{wsA, wsB} {
		hs := handshake{}
		hs.Auth.Token = signToken(t, testSecret)
		require.NoError(t, ws.WriteJSON(hs))
	}

	require.Eventually(t, func() bool {
		h.mu.Lock()
		defer h.mu.Unlock()
		return len(h.conns) == 2
	}, time.Second, 5*time.Millisecond)

	h.deliver(broker.Message{DataType: broker.DataTypeSummary, ConversationName: "c", Payload: map[string]interface{}{"summary": "hi"}})

	for _, ws := range []*websocket.Conn{wsA, wsB} {
		_, raw, err := ws.ReadMessage()
		require.NoError(t, err)
		var msg broker.Message
		require.NoError(t, json.Unmarshal(raw, &msg))
		require.Equal(t, broker.DataTypeSummary, msg.DataType)
	}
}

func TestDeliverScopesSuggestionsToRoomMembersOnly(t *testing.T) {
	h, srv := newTestHub(t)
	wsA := dial(t, srv)
	wsB := dial(t, srv)

	hsA := handshake{}
	hsA.Auth.Token = signToken(t, testSecret)
	require.NoError(t, wsA.WriteJSON(hsA))
	var ack ackMessage
	require.NoError(t, wsA.WriteJSON(clientMessage{Type: "join-conversation", Name: "c"}))
	require.NoError(t, wsA.ReadJSON(&ack))

	hsB := handshake{}
	hsB.Auth.Token = signToken(t, testSecret)
	require.NoError(t, wsB.WriteJSON(hsB))

	h.deliver(broker.Message{DataType: broker.DataTypeSuggestion, ConversationName: "c", Payload: map[string]interface{}{"transcript": "hi"}})

	_, raw, err := wsA.ReadMessage()
	require.NoError(t, err)
	var msg broker.Message
	require.NoError(t, json.Unmarshal(raw, &msg))
	require.Equal(t, broker.DataTypeSuggestion, msg.DataType)

	require.NoError(t, wsB.SetReadDeadline(time.Now().Add(50*time.Millisecond)))
	_, _, err = wsB.ReadMessage()
	require.Error(t, err, "B never joined the room and must not receive the suggestion")
}
