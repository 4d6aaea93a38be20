// Package transport is the websocket boundary between the Core's facade and
// the external host shell: it turns StateService's debounced outbound
// notifications into broadcast frames, and inbound WINDOW_STATE_UPDATE
// frames into facade.Service.HandleWindowStateUpdate calls. Grounded on
// internal/server.Hub's per-connection buffered-channel broadcast idiom.
package transport

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/jeffers-sub/classicbrowsercore/internal/core/types"
)

// outboundMessage is the wire envelope for a per-window outbound
// notification: `{type, payload}`, where payload is the OutboundUpdate with
// windowId, tabs, activeTabId, tabGroupTitle and freezeState as sibling
// fields. There is no nested `update` object.
type outboundMessage struct {
	Type    string                `json:"type"`
	Payload types.OutboundUpdate `json:"payload"`
}

// Hub fans out outbound notifications to every connected websocket client.
// One buffered channel per connection, drained by a per-connection writer
// goroutine, so one slow client can't block delivery to the rest — the same
// shape as the teacher's Hub, generalized from string/log broadcast to the
// Core's typed outbound update.
type Hub struct {
	mu    sync.RWMutex
	conns map[*websocket.Conn]chan []byte
	log   *zap.Logger
}

// NewHub constructs an empty Hub.
func NewHub(log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{conns: make(map[*websocket.Conn]chan []byte), log: log}
}

// Register starts a writer goroutine for conn and returns the channel to
// send frames on.
func (h *Hub) Register(conn *websocket.Conn) chan []byte {
	ch := make(chan []byte, 128)
	h.mu.Lock()
	h.conns[conn] = ch
	h.mu.Unlock()

	go func() {
		for msg := range ch {
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.log.Debug("websocket write failed", zap.Error(err))
				return
			}
		}
	}()
	return ch
}

// Unregister stops conn's writer goroutine and drops its channel.
func (h *Hub) Unregister(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.conns[conn]; ok {
		close(ch)
		delete(h.conns, conn)
	}
}

// BroadcastOutboundUpdate fans out a per-window outbound notification to
// every connected client. Non-blocking per connection: a full buffer drops
// the frame rather than stalling the debounce timer's goroutine.
func (h *Hub) BroadcastOutboundUpdate(update types.OutboundUpdate) {
	payload, err := json.Marshal(outboundMessage{Type: "classic-browser:update", Payload: update})
	if err != nil {
		h.log.Warn("failed to marshal outbound update", zap.Error(err))
		return
	}
	h.broadcastRaw(payload)
}

// broadcastRaw fans out an already-encoded frame to every connection.
// Non-blocking per connection: a full buffer drops the frame rather than
// stalling the caller.
func (h *Hub) broadcastRaw(payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.conns {
		select {
		case ch <- payload:
		default:
		}
	}
}

// ConnectionCount returns the number of currently registered connections,
// exposed for the metrics collector's connected-clients gauge.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}
