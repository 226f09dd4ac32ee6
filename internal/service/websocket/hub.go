package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"feeder/internal/logger"

	"github.com/gorilla/websocket"
)

const writeWait = 5 * time.Second

// HubService fans status updates out to connected websocket clients.
type HubService struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan []byte
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	done       chan struct{}
	mutex      sync.RWMutex
	logger     *logger.Logger

	last []byte // replayed to new clients
}

func NewHubService(logger *logger.Logger) *HubService {
	return &HubService{
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan []byte, 1),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Run serves the hub until ctx is done, then closes every client. Run must
// be called at most once.
func (h *HubService) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mutex.Lock()
			for client := range h.clients {
				client.Close()
				delete(h.clients, client)
			}
			h.mutex.Unlock()
			return

		case client := <-h.register:
			h.mutex.Lock()
			h.clients[client] = true
			last := h.last
			h.mutex.Unlock()
			if last != nil {
				h.send(client, last)
			}
			h.logger.Info("Status client connected. Total: %d", h.GetClientCount())

		case client := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.Close()
			}
			h.mutex.Unlock()
			h.logger.Info("Status client disconnected. Total: %d", h.GetClientCount())

		case message := <-h.broadcast:
			h.mutex.Lock()
			h.last = message
			h.mutex.Unlock()
			for client := range h.GetClients() {
				h.send(client, message)
			}
		}
	}
}

func (h *HubService) send(client *websocket.Conn, message []byte) {
	client.SetWriteDeadline(time.Now().Add(writeWait))
	if err := client.WriteMessage(websocket.TextMessage, message); err != nil {
		h.logger.Warning("Error sending status: %v", err)
		h.mutex.Lock()
		delete(h.clients, client)
		h.mutex.Unlock()
		client.Close()
	}
}

// Register adds client. Once the hub has stopped the client is closed instead.
func (h *HubService) Register(client *websocket.Conn) {
	select {
	case h.register <- client:
	case <-h.done:
		client.Close()
	}
}

// Unregister removes and closes client. It returns immediately once the hub
// has stopped, since Run already closed every client.
func (h *HubService) Unregister(client *websocket.Conn) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Broadcast queues message for every client. If the hub is still sending the
// previous message the older one is replaced, so a slow client never stalls
// the caller.
func (h *HubService) Broadcast(message []byte) {
	for {
		select {
		case h.broadcast <- message:
			return
		default:
		}
		select {
		case <-h.broadcast:
		default:
		}
	}
}

// BroadcastJSON encodes v and broadcasts it.
func (h *HubService) BroadcastJSON(v interface{}) error {
	message, err := json.Marshal(v)
	if err != nil {
		return err
	}
	h.Broadcast(message)
	return nil
}

func (h *HubService) GetClients() map[*websocket.Conn]bool {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	clients := make(map[*websocket.Conn]bool)
	for k, v := range h.clients {
		clients[k] = v
	}
	return clients
}

func (h *HubService) GetClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}
