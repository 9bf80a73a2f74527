// Package relayserver is the websocket relay rooms connect through: every
// frame a member publishes is forwarded to the other members of its room.
package relayserver

import (
	"log/slog"
	"sync"
)

// Connection is one member of a room.
type Connection interface {
	ID() string
	Room() string
	Send(data []byte) error
	Close() error
}

type room struct {
	clients map[string]Connection
	mu      sync.RWMutex
}

// Hub tracks room membership.
type Hub struct {
	rooms map[string]*room
	mu    sync.RWMutex
	log   *slog.Logger
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		rooms: make(map[string]*room),
		log:   logger.With("component", "hub"),
	}
}

func (h *Hub) Register(conn Connection) {
	h.mu.Lock()
	r, exists := h.rooms[conn.Room()]
	if !exists {
		r = &room{clients: make(map[string]Connection)}
		h.rooms[conn.Room()] = r
	}
	// Holding h.mu keeps Unregister from dropping r in between.
	r.mu.Lock()
	r.clients[conn.ID()] = conn
	count := len(r.clients)
	r.mu.Unlock()
	h.mu.Unlock()

	h.log.Info("client connected", "room", conn.Room(), "clientId", conn.ID(), "clients", count)
}

func (h *Hub) Unregister(conn Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	r, exists := h.rooms[conn.Room()]
	if !exists {
		return
	}

	r.mu.Lock()
	if _, ok := r.clients[conn.ID()]; !ok {
		r.mu.Unlock()
		return
	}
	delete(r.clients, conn.ID())
	count := len(r.clients)
	r.mu.Unlock()

	h.log.Info("client disconnected", "room", conn.Room(), "clientId", conn.ID(), "clients", count)

	if count == 0 {
		delete(h.rooms, conn.Room())
		h.log.Info("room removed", "room", conn.Room())
	}
}

// Broadcast sends data to every member of the sender's room except the
// sender. Members whose send buffer is full are dropped.
func (h *Hub) Broadcast(sender Connection, data []byte) {
	h.mu.RLock()
	r, exists := h.rooms[sender.Room()]
	h.mu.RUnlock()

	if !exists {
		return
	}

	var stale []Connection
	r.mu.RLock()
	for id, conn := range r.clients {
		if id == sender.ID() {
			continue
		}
		if err := conn.Send(data); err != nil {
			stale = append(stale, conn)
		}
	}
	r.mu.RUnlock()

	for _, conn := range stale {
		h.log.Warn("dropping slow client", "room", conn.Room(), "clientId", conn.ID())
		h.Unregister(conn)
		_ = conn.Close()
	}
}

// Stats reports the number of rooms and connected clients.
func (h *Hub) Stats() (rooms, clients int) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	rooms = len(h.rooms)
	for _, r := range h.rooms {
		r.mu.RLock()
		clients += len(r.clients)
		r.mu.RUnlock()
	}
	return rooms, clients
}

// Members returns the number of clients in room.
func (h *Hub) Members(name string) int {
	h.mu.RLock()
	r, exists := h.rooms[name]
	h.mu.RUnlock()
	if !exists {
		return 0
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}
