package server

import (
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/inkroom/internal/replication"
	"github.com/gorilla/websocket"
)

const (
	defaultSendBuffer = 256
	writeWait         = 10 * time.Second
	pongWait          = 60 * time.Second
	pingPeriod        = (pongWait * 9) / 10

	closeReasonSlowConsumer = "slow consumer"
	closeReasonShutdown     = "server shutting down"
)

// connection is the outbound side of one websocket client. Deliver never
// blocks: frames are queued and a client that falls a full buffer behind is
// disconnected so the room never waits on it.
type connection struct {
	id     string
	socket *websocket.Conn
	send   chan replication.Envelope
	done   chan struct{}

	closeOnce   sync.Once
	closeCode   int
	closeReason string
}

func newConnection(id string, socket *websocket.Conn, bufferSize int) *connection {
	if bufferSize <= 0 {
		bufferSize = defaultSendBuffer
	}
	return &connection{
		id:     id,
		socket: socket,
		send:   make(chan replication.Envelope, bufferSize),
		done:   make(chan struct{}),
	}
}

func (c *connection) ID() string {
	return c.id
}

func (c *connection) Deliver(envelope replication.Envelope) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- envelope:
		return true
	default:
		c.close(websocket.CloseTryAgainLater, closeReasonSlowConsumer)
		return false
	}
}

// close asks the write loop to send a close frame and stop. Only the first
// call's code is used.
func (c *connection) close(code int, reason string) {
	c.closeOnce.Do(func() {
		c.closeCode = code
		c.closeReason = reason
		close(c.done)
	})
}

// writeLoop owns every write to the socket. It flushes queued frames, keeps the
// connection alive with pings and sends the close frame once done is closed.
func (c *connection) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.socket.Close()
	}()
	for {
		select {
		case envelope := <-c.send:
			_ = c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.socket.WriteJSON(envelope); err != nil {
				c.close(websocket.CloseAbnormalClosure, "")
				return
			}
		case <-ticker.C:
			_ = c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.socket.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close(websocket.CloseAbnormalClosure, "")
				return
			}
		case <-c.done:
			if c.closeCode != websocket.CloseAbnormalClosure {
				message := websocket.FormatCloseMessage(c.closeCode, c.closeReason)
				_ = c.socket.WriteControl(websocket.CloseMessage, message, time.Now().Add(writeWait))
			}
			return
		}
	}
}

// ConnectionHub tracks open websocket connections so they can be closed on
// shutdown; http.Server.Shutdown does not close hijacked connections.
type ConnectionHub struct {
	mu          sync.Mutex
	connections map[string]*connection
	closed      bool
}

// NewConnectionHub constructs an empty hub.
func NewConnectionHub() *ConnectionHub {
	return &ConnectionHub{connections: make(map[string]*connection)}
}

// Len returns the number of open connections.
func (h *ConnectionHub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.connections)
}

// CloseAll sends every open connection a going-away close frame and refuses
// new registrations.
func (h *ConnectionHub) CloseAll() {
	h.mu.Lock()
	h.closed = true
	open := make([]*connection, 0, len(h.connections))
	for _, conn := range h.connections {
		open = append(open, conn)
	}
	h.mu.Unlock()
	for _, conn := range open {
		conn.close(websocket.CloseGoingAway, closeReasonShutdown)
	}
}

func (h *ConnectionHub) register(conn *connection) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.connections[conn.id] = conn
	return true
}

func (h *ConnectionHub) unregister(connectionID string) {
	h.mu.Lock()
	delete(h.connections, connectionID)
	h.mu.Unlock()
}
