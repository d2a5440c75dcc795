package domain

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Connection is one live duplex channel. Outbound frames are queued on a
// buffered channel and drained by the transport's writer.
type Connection struct {
	ID          string
	RemoteAddr  string
	ConnectedAt time.Time

	mu     sync.RWMutex
	closed bool
	send   chan []byte
}

func NewConnection(remoteAddr string, buffer int) *Connection {
	if buffer <= 0 {
		buffer = 1
	}
	return &Connection{
		ID:          uuid.New().String(),
		RemoteAddr:  remoteAddr,
		ConnectedAt: time.Now().UTC(),
		send:        make(chan []byte, buffer),
	}
}

// Outbound is drained by the writer. It is closed by Close.
func (c *Connection) Outbound() <-chan []byte {
	return c.send
}

// Enqueue never blocks. It reports false when the connection is closed or
// its queue is full.
func (c *Connection) Enqueue(payload []byte) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return false
	}

	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

func (c *Connection) IsOpen() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.closed
}

// Close marks the connection closed and closes the outbound queue once.
func (c *Connection) Close() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	c.closed = true
	close(c.send)
	return true
}
