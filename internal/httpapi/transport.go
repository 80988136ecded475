// Package httpapi wires the Audiohook ingress endpoint and the agent-UI
// hub upgrade endpoint onto a gin engine (spec.md §6).
package httpapi

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/avantos/audiohook-bridge/internal/conversation"
	"github.com/avantos/audiohook-bridge/internal/observability"
)

var audiohookUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	Subprotocols:    []string{"audiohook"},
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsTransport adapts a gorilla websocket connection to
// conversation.Transport. Writes are serialized because the orchestrator's
// await-subscriber task calls SendText from its own goroutine,
// independently of the connection's own read loop (spec.md §5, "No lock
// is held across WebSocket IO" governs reads; writes still need mutual
// exclusion between these independent goroutines).
type wsTransport struct {
	mu sync.Mutex
	ws *websocket.Conn
}

func (t *wsTransport) SendText(data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ws.WriteMessage(websocket.TextMessage, data)
}

func (t *wsTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ws.Close()
}

// ServeAudiohook upgrades the request and drives one session's read loop
// until the client disconnects or the orchestrator closes the transport.
func ServeAudiohook(newOrchestrator func(conversation.Transport) *conversation.Orchestrator, logger observability.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ws, err := audiohookUpgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warnw("audiohook websocket upgrade failed", "error", err)
			return
		}
		defer ws.Close()

		transport := &wsTransport{ws: ws}
		orch := newOrchestrator(transport)
		ctx := r.Context()

		for {
			msgType, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			switch msgType {
			case websocket.TextMessage:
				orch.HandleText(ctx, data)
			case websocket.BinaryMessage:
				orch.HandleBinary(ctx, data)
			}
			if orch.State() == conversation.StateDone {
				return
			}
		}
	}
}

