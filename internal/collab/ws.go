package collab

import (
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	maxMessageSize = 64 * 1024
	pongWait       = 2 * time.Minute
	pingPeriod     = time.Minute
	writeWait      = 10 * time.Second

	sendQueueSize = 256
)

var errSendQueueFull = errors.New("collab: send queue full")

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Cross-origin policy is enforced by the HTTP middleware in front of
	// the upgrade, not here.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// WSConn adapts a gorilla websocket connection to ClientConn. Writes go
// through a buffered queue drained by a single write pump, so Send never
// blocks on a slow peer; a full queue fails the send and gets the member
// pruned by the hub.
type WSConn struct {
	conn *websocket.Conn

	sendCh chan []byte
	done   chan struct{}

	closeOnce sync.Once
}

// Upgrade hijacks the HTTP request into a websocket and starts the write pump.
func Upgrade(w http.ResponseWriter, r *http.Request) (*WSConn, error) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}

	c := &WSConn{
		conn:   conn,
		sendCh: make(chan []byte, sendQueueSize),
		done:   make(chan struct{}),
	}
	go c.writePump()
	return c, nil
}

// Send queues data for delivery. It fails when the connection is closed or
// the queue is full.
func (c *WSConn) Send(data []byte) error {
	select {
	case <-c.done:
		return errors.New("collab: connection closed")
	default:
	}
	select {
	case c.sendCh <- data:
		return nil
	default:
		return errSendQueueFull
	}
}

// ReadMessage blocks for the next text message from the client.
func (c *WSConn) ReadMessage() ([]byte, error) {
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	_, data, err := c.conn.ReadMessage()
	return data, err
}

// ClosePolicyViolation sends a 1008 close frame. Used when authentication
// or authorization fails before the client joins a room.
func (c *WSConn) ClosePolicyViolation(reason string) {
	msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason)
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait)); err != nil {
		log.Printf("collab: write close frame: %v", err)
	}
}

// Close shuts down the write pump and the underlying connection. Safe to
// call more than once.
func (c *WSConn) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
	})
	return c.conn.Close()
}

// writePump is the single writer on the connection. It drains the send
// queue and keeps the connection alive with pings.
func (c *WSConn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case data := <-c.sendCh:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
