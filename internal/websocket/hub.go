package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"iot-telemetry-gateway/internal/data"
	"iot-telemetry-gateway/internal/metrics"
)

const (
	TypeSnapshot = "snapshot"
	TypeDevice   = "device"
	TypeAlert    = "alert"
)

// Message is the envelope every frame sent to dashboards uses.
type Message struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// SnapshotSource provides the state sent to a client right after it connects.
type SnapshotSource interface {
	Snapshot() data.Snapshot
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Hub maintains the set of active clients and broadcasts messages.
type Hub struct {
	logger     zerolog.Logger
	recorder   *metrics.Recorder
	snapshots  SnapshotSource
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mu         sync.RWMutex
}

func NewHub(logger zerolog.Logger, recorder *metrics.Recorder, snapshots SnapshotSource) *Hub {
	return &Hub{
		logger:     logger.With().Str("component", "websocket").Logger(),
		recorder:   recorder,
		snapshots:  snapshots,
		broadcast:  make(chan []byte, 64),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		clients:    make(map[*Client]bool),
	}
}

// Run serves register, unregister and broadcast requests until ctx is done,
// then closes every client.
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.Send)
			}
			h.mu.Unlock()
			h.recorder.WebSocketClients(0)
			return nil

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			n := len(h.clients)
			h.mu.Unlock()
			h.recorder.WebSocketClients(n)
			h.logger.Info().Str("remote", client.remote).Int("clients", n).Msg("WebSocket client registered")

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.Send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.recorder.WebSocketClients(n)
			h.logger.Info().Str("remote", client.remote).Int("clients", n).Msg("WebSocket client unregistered")

		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.Send <- message:
				default:
					h.logger.Warn().Str("remote", client.remote).Msg("WebSocket client send buffer full, removing")
					close(client.Send)
					delete(h.clients, client)
				}
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.recorder.WebSocketClients(n)
		}
	}
}

// ClientCount returns the number of registered clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeWS upgrades the connection, queues the current snapshot and starts the
// client's pumps.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	client := newClient(h, conn)
	if h.snapshots != nil {
		if msg, err := encode(TypeSnapshot, h.snapshots.Snapshot()); err == nil {
			client.Send <- msg
		} else {
			h.logger.Error().Err(err).Msg("Encoding initial snapshot failed")
		}
	}

	select {
	case h.register <- client:
	case <-h.done:
		_ = conn.Close()
		return
	}

	go client.WritePump()
	go client.ReadPump()
}

// BroadcastSnapshot sends a full snapshot to every client.
func (h *Hub) BroadcastSnapshot(snap data.Snapshot) {
	h.send(TypeSnapshot, snap)
}

// PublishDevice sends one updated device view to every client.
func (h *Hub) PublishDevice(view data.DeviceView) {
	h.send(TypeDevice, view)
}

func (h *Hub) Name() string { return "websocket" }

// PublishAlert sends an alert to every client.
func (h *Hub) PublishAlert(_ context.Context, alert data.Alert) error {
	h.send(TypeAlert, alert)
	return nil
}

// send never blocks the caller; a message is dropped when the hub is backed
// up or has stopped.
func (h *Hub) send(kind string, payload interface{}) {
	msg, err := encode(kind, payload)
	if err != nil {
		h.logger.Error().Err(err).Str("type", kind).Msg("Encoding broadcast failed")
		return
	}
	select {
	case h.broadcast <- msg:
	case <-h.done:
	default:
		h.logger.Warn().Str("type", kind).Msg("Broadcast queue full, dropping message")
	}
}

func encode(kind string, payload interface{}) ([]byte, error) {
	return json.Marshal(Message{Type: kind, Payload: payload})
}
