package ipc

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// wsClient pairs a connection with a buffered, non-blocking send channel —
// the same shape as the teacher's hub client, so a slow GUI consumer drops
// frames instead of stalling acquisition.
type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// WebsocketHub relays Publish events to any number of connected GUI
// clients. It never gates or slows command dispatch: Broadcast is
// best-effort, drop-on-full per client.
type WebsocketHub struct {
	log      *zap.Logger
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*wsClient]struct{}
}

// NewWebsocketHub constructs an empty hub. The upgrader accepts any
// origin, matching the teacher's own CheckOrigin (a local-network
// companion GUI has no third-party origin to restrict).
func NewWebsocketHub(log *zap.Logger) *WebsocketHub {
	return &WebsocketHub{
		log:      log,
		upgrader: websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
		clients:  make(map[*wsClient]struct{}),
	}
}

// ServeHTTP upgrades the connection and relays broadcast events to it
// until it disconnects. The relay is send-only; any inbound message is
// read and discarded, used only to detect disconnect.
func (h *WebsocketHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		if h.log != nil {
			h.log.Warn("ipc: websocket upgrade failed", zap.Error(err))
		}
		return
	}

	c := &wsClient{conn: conn, send: make(chan []byte, 8)}
	h.register(c)

	go func() {
		defer h.unregister(c)
		defer conn.Close()
		for msg := range c.send {
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			h.unregister(c)
			return
		}
	}
}

func (h *WebsocketHub) register(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
}

func (h *WebsocketHub) unregister(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

// ClientCount reports the number of currently connected relay clients.
func (h *WebsocketHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast sends eventType/data to every connected client, dropping the
// frame for any client whose send buffer is full.
func (h *WebsocketHub) Broadcast(eventType string, data any) {
	payload, err := json.Marshal(Event{MessageID: uuid.NewString(), Event: true, Type: eventType, Data: data})
	if err != nil {
		if h.log != nil {
			h.log.Error("ipc: broadcast marshal failed", zap.Error(err))
		}
		return
	}

	h.mu.RLock()
	snapshot := make([]*wsClient, 0, len(h.clients))
	for c := range h.clients {
		snapshot = append(snapshot, c)
	}
	h.mu.RUnlock()

	for _, c := range snapshot {
		select {
		case c.send <- payload:
		default:
		}
	}
}
