// Package hub implements the agent-UI subscription hub (spec.md §4.7): a
// WebSocket fan-out point that authenticates agent UIs, tracks which
// conversation rooms each connection has joined, and relays broker
// events into those rooms or, for summaries, broadcasts them to every
// authenticated connection on the hub.
package hub

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"

	"github.com/avantos/audiohook-bridge/internal/aiclient"
	"github.com/avantos/audiohook-bridge/internal/broker"
	"github.com/avantos/audiohook-bridge/internal/observability"
)

// NewHubID derives a unique, non-reusable hub identifier from a random
// scalar and the process start time (SPEC_FULL.md supplemented feature
// 2). It is computed once per process and never persisted.
func NewHubID(processStart time.Time) string {
	var b [8]byte
	_, _ = rand.Read(b[:])
	return fmt.Sprintf("%x-%d", b, processStart.UnixNano())
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// handshake is the first message a connecting client must send.
type handshake struct {
	Auth struct {
		Token string `json:"token"`
	} `json:"auth"`
}

// clientMessage is a room-protocol request from an already-authenticated
// connection (spec.md §4.7, "Room protocol").
type clientMessage struct {
	Type string `json:"type"`
	Name string `json:"name"`
}

type ackMessage struct {
	Type string `json:"type"`
	OK   bool   `json:"ok"`
	Name string `json:"name,omitempty"`
}

// conn is one authenticated agent-UI WebSocket, tracking the set of
// conversation rooms it currently holds.
type conn struct {
	ws    *websocket.Conn
	mu    sync.Mutex // guards writes; gorilla forbids concurrent writers
	rooms map[string]struct{}
}

func (c *conn) writeJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteJSON(v)
}

// Hub owns the set of live agent-UI connections, their room membership,
// and the broker subscription that feeds events into them.
type Hub struct {
	id        string
	jwtSecret string
	brk       *broker.Bridge
	logger    observability.Logger

	mu    sync.Mutex
	rooms map[string]map[*conn]struct{} // conversation name -> connections
	conns map[*conn]struct{}            // every authenticated connection
}

// New builds a Hub identified by id, validating handshake tokens against
// jwtSecret (spec.md §4.7, "JWT check").
func New(id, jwtSecret string, brk *broker.Bridge, logger observability.Logger) *Hub {
	return &Hub{
		id:        id,
		jwtSecret: jwtSecret,
		brk:       brk,
		logger:    logger,
		rooms:     make(map[string]map[*conn]struct{}),
		conns:     make(map[*conn]struct{}),
	}
}

// ID returns this hub's identifier, used to subscribe to its broker
// channel namespace and to populate routing entries on join.
func (h *Hub) ID() string { return h.id }

// Run starts the broker subscription loop. It returns when ctx is done.
func (h *Hub) Run(ctx context.Context) {
	events := h.brk.Subscribe(ctx, h.id)
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-events:
			if !ok {
				return
			}
			h.deliver(msg)
		}
	}
}

func (h *Hub) deliver(msg broker.Message) {
	body, err := json.Marshal(msg)
	if err != nil {
		h.logger.Warnw("dropping broker message that failed to re-encode", "error", err)
		return
	}

	h.mu.Lock()
	var targets []*conn
	if msg.DataType == broker.DataTypeSummary {
		// Broadcast: the subscribing UI may not yet know the
		// conversation name and so cannot have joined the room.
		targets = make([]*conn, 0, len(h.conns))
		for c := range h.conns {
			targets = append(targets, c)
		}
	} else {
		room := h.rooms[msg.ConversationName]
		targets = make([]*conn, 0, len(room))
		for c := range room {
			targets = append(targets, c)
		}
	}
	h.mu.Unlock()

	for _, c := range targets {
		if err := c.writeRaw(body); err != nil {
			h.logger.Warnw("dropping event for disconnected agent-UI client", "error", err)
		}
	}
}

func (c *conn) writeRaw(body []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteMessage(websocket.TextMessage, body)
}

// ServeWS upgrades the request, runs the handshake, then blocks for the
// life of the connection processing room-protocol messages.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warnw("agent-UI websocket upgrade failed", "error", err)
		return
	}

	var hs handshake
	if err := ws.ReadJSON(&hs); err != nil {
		_ = ws.WriteJSON(map[string]string{"type": "unauthenticated"})
		ws.Close()
		return
	}

	if err := h.validateToken(hs.Auth.Token); err != nil {
		h.logger.Warnw("agent-UI handshake rejected", "error", err)
		_ = ws.WriteJSON(map[string]string{"type": "unauthenticated"})
		ws.Close()
		return
	}

	c := &conn{ws: ws, rooms: make(map[string]struct{})}
	h.mu.Lock()
	h.conns[c] = struct{}{}
	h.mu.Unlock()

	defer h.disconnect(c)

	for {
		var msg clientMessage
		if err := ws.ReadJSON(&msg); err != nil {
			return
		}
		h.handleClientMessage(c, msg)
	}
}

// claims is the bearer token's expected shape: spec.md §4.7 names only
// "JWT check, external collaborator" without a field schema, so this
// carries the minimum a collaborator token needs to identify itself.
type claims struct {
	Subject string `json:"sub"`
	jwt.RegisteredClaims
}

func (h *Hub) validateToken(token string) error {
	if token == "" {
		return fmt.Errorf("hub: empty bearer token")
	}
	parsed, err := jwt.ParseWithClaims(token, &claims{}, func(t *jwt.Token) (interface{}, error) {
		return []byte(h.jwtSecret), nil
	})
	if err != nil {
		return fmt.Errorf("hub: token validation: %w", err)
	}
	if !parsed.Valid {
		return fmt.Errorf("hub: token rejected")
	}
	return nil
}

func (h *Hub) handleClientMessage(c *conn, msg clientMessage) {
	switch msg.Type {
	case "join-conversation":
		h.join(context.Background(), c, msg.Name)
	case "leave-conversation":
		h.leave(context.Background(), c, msg.Name)
	default:
		h.logger.Debugw("ignoring unknown agent-UI message type", "type", msg.Type)
	}
}

func (h *Hub) join(ctx context.Context, c *conn, name string) {
	stripped := aiclient.StripLocation(name)

	h.mu.Lock()
	if h.rooms[stripped] == nil {
		h.rooms[stripped] = make(map[*conn]struct{})
	}
	h.rooms[stripped][c] = struct{}{}
	c.mu.Lock()
	c.rooms[stripped] = struct{}{}
	c.mu.Unlock()
	h.mu.Unlock()

	if err := h.brk.Join(ctx, stripped, h.id); err != nil {
		h.logger.Warnw("broker join failed", "conversation", stripped, "error", err)
	}

	_ = c.writeJSON(ackMessage{Type: "join-conversation", OK: true, Name: name})
}

func (h *Hub) leave(ctx context.Context, c *conn, name string) {
	stripped := aiclient.StripLocation(name)
	h.removeFromRoom(c, stripped)

	if err := h.brk.Leave(ctx, stripped); err != nil {
		h.logger.Warnw("broker leave failed", "conversation", stripped, "error", err)
	}

	_ = c.writeJSON(ackMessage{Type: "leave-conversation", OK: true, Name: name})
}

func (h *Hub) removeFromRoom(c *conn, stripped string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if room, ok := h.rooms[stripped]; ok {
		delete(room, c)
		if len(room) == 0 {
			delete(h.rooms, stripped)
		}
	}
	c.mu.Lock()
	delete(c.rooms, stripped)
	c.mu.Unlock()
}

// disconnect enumerates the connection's rooms and reclaims each routing
// entry (spec.md §4.7, "the only place orphan entries are normally
// reclaimed"). A crash that skips this path is instead bounded by the
// broker's routing-entry TTL.
func (h *Hub) disconnect(c *conn) {
	c.mu.Lock()
	names := make([]string, 0, len(c.rooms))
	for name := range c.rooms {
		names = append(names, name)
	}
	c.mu.Unlock()

	ctx := context.Background()
	for _, name := range names {
		h.removeFromRoom(c, name)
		if err := h.brk.Leave(ctx, name); err != nil {
			h.logger.Warnw("broker leave on disconnect failed", "conversation", name, "error", err)
		}
	}

	h.mu.Lock()
	delete(h.conns, c)
	h.mu.Unlock()

	c.ws.Close()
}
