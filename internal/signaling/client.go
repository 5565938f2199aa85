package signaling

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeDeadline = 10 * time.Second
	pongDeadline  = 60 * time.Second
	pingInterval  = 54 * time.Second
	readLimit     = 64 * 1024
	sendBuffer    = 32
)

// Client is one signaling connection. It moves through connected →
// subscribed(streamID) → closed; after close no per-connection state
// survives. Writes go through a buffered send channel so a slow client can
// never block the broadcaster: when the buffer is full the message is
// dropped.
type Client struct {
	id   string
	gw   *Gateway
	conn *websocket.Conn
	send chan []byte

	mu       sync.Mutex
	streamID string
	closed   bool
}

func (c *Client) setStream(id string) {
	c.mu.Lock()
	c.streamID = id
	c.mu.Unlock()
}

func (c *Client) stream() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.streamID
}

// enqueue marshals msg and hands it to the write pump. Best-effort: closed
// clients and full buffers swallow the message.
func (c *Client) enqueue(msg any) {
	data, err := json.Marshal(msg)
	if err != nil {
		c.gw.log.Error("marshal outbound message", slog.String("error", err.Error()))
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- data:
	default:
		c.gw.log.Debug("client send buffer full, dropping message", slog.String("client_id", c.id))
	}
}

// markClosed flips the closed flag and closes the send channel exactly once.
func (c *Client) markClosed() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// readPump consumes inbound messages until the connection errors or closes,
// then unregisters the client.
func (c *Client) readPump() {
	defer func() {
		c.gw.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(readLimit)
	c.conn.SetReadDeadline(time.Now().Add(pongDeadline))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongDeadline))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.gw.log.Debug("read error", slog.String("client_id", c.id), slog.String("error", err.Error()))
			}
			return
		}
		c.gw.dispatch(c, data)
	}
}

// writePump drains the send channel onto the wire and keeps the connection
// alive with periodic pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
