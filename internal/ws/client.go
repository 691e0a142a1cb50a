package ws

import (
	"sync"
	"time"

	"classifieds-messaging/backend/pkg/logger"

	"github.com/gorilla/websocket"
)

// Client is an authenticated push connection
type Client struct {
	id     string
	userID string
	conn   *websocket.Conn
	send   chan []byte
	log    *logger.Logger

	done      chan struct{}
	closeOnce sync.Once
	reason    string
}

func newClient(id, userID string, conn *websocket.Conn, buffer int, log *logger.Logger) *Client {
	return &Client{
		id:     id,
		userID: userID,
		conn:   conn,
		send:   make(chan []byte, buffer),
		log:    log,
		done:   make(chan struct{}),
	}
}

// enqueue never blocks
func (c *Client) enqueue(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// close asks the write pump to send a close frame and drop the socket.
// Frames still queued are discarded.
func (c *Client) close(reason string) {
	c.closeOnce.Do(func() {
		c.reason = reason
		close(c.done)
	})
}

func (c *Client) isClosed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// writePump is the only writer once the connection is registered
func (c *Client) writePump(writeWait, pingPeriod time.Duration) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.log.Debug("Write failed", "error", err.Error())
				c.close("write failed")
				return
			}

			// Send any queued messages separately instead of combining them
			n := len(c.send)
			for i := 0; i < n; i++ {
				if err := c.conn.WriteMessage(websocket.TextMessage, <-c.send); err != nil {
					c.close("write failed")
					return
				}
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close("ping failed")
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, c.reason))
			return
		}
	}
}
