package socketio

import (
	"net"
	"strings"
	"sync"
)

// ConnectionLimiter caps concurrent external UI clients. Localhost clients
// are always allowed; when an external client exceeds the cap, the oldest
// external client is evicted.
type ConnectionLimiter struct {
	mu          sync.Mutex
	maxExternal int
	// oldest first
	externalClients []string
	// clientID -> remote address
	connections map[string]string
}

// NewConnectionLimiter creates a limiter allowing up to maxExternal
// concurrent non-localhost clients.
func NewConnectionLimiter(maxExternal int) *ConnectionLimiter {
	return &ConnectionLimiter{
		maxExternal:     maxExternal,
		externalClients: make([]string, 0),
		connections:     make(map[string]string),
	}
}

// TryAdd registers a connection and returns whether it is allowed plus the
// id of any client evicted to make room ("" when none).
func (cl *ConnectionLimiter) TryAdd(clientID, remoteAddr string) (allowed bool, evictedID string) {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	if _, exists := cl.connections[clientID]; exists {
		return true, ""
	}

	cl.connections[clientID] = remoteAddr

	if isLocalAddr(remoteAddr) {
		return true, ""
	}

	cl.externalClients = append(cl.externalClients, clientID)

	if len(cl.externalClients) > cl.maxExternal {
		evictedID = cl.externalClients[0]
		cl.externalClients = cl.externalClients[1:]
		delete(cl.connections, evictedID)
		return true, evictedID
	}

	return true, ""
}

// Remove unregisters a disconnected client.
func (cl *ConnectionLimiter) Remove(clientID string) {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	addr, exists := cl.connections[clientID]
	if !exists {
		return
	}

	delete(cl.connections, clientID)

	if isLocalAddr(addr) {
		return
	}

	for i, id := range cl.externalClients {
		if id == clientID {
			cl.externalClients = append(cl.externalClients[:i], cl.externalClients[i+1:]...)
			break
		}
	}
}

// isLocalAddr reports whether the remote address is localhost. Handshake
// addresses may carry a port or brackets.
func isLocalAddr(addr string) bool {
	host := addr
	if h, _, err := net.SplitHostPort(addr); err == nil {
		host = h
	}
	host = strings.Trim(host, "[]")
	return host == "127.0.0.1" || host == "::1" || host == "localhost"
}
