package server

import (
	"sync"

	"github.com/coder/websocket"
)

// ClientRegistry manages connected WebSocket clients thread-safely
type ClientRegistry struct {
	clients map[*websocket.Conn]string
	mu      sync.RWMutex
}

// NewClientRegistry creates a new client registry
func NewClientRegistry() *ClientRegistry {
	return &ClientRegistry{
		clients: make(map[*websocket.Conn]string),
	}
}

// Add registers a new client connection with its remote address
func (r *ClientRegistry) Add(conn *websocket.Conn, remote string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[conn] = remote
}

// Remove unregisters a client connection
func (r *ClientRegistry) Remove(conn *websocket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.clients, conn)
}

// Count returns the number of connected clients
func (r *ClientRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// Contains checks if a client is registered
func (r *ClientRegistry) Contains(conn *websocket.Conn) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.clients[conn]
	return ok
}

// ForEach executes a function for each connected client
func (r *ClientRegistry) ForEach(fn func(*websocket.Conn)) {
	r.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(r.clients))
	for conn := range r.clients {
		conns = append(conns, conn)
	}
	r.mu.RUnlock()

	for _, conn := range conns {
		fn(conn)
	}
}
