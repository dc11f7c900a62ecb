package stream

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/louisbranch/outtake.studio/internal/platform/timeouts"
)

// maxInboundBytes caps inbound messages. Viewers only send control frames;
// anything larger is a protocol error.
const maxInboundBytes = 4 * 1024

type client struct {
	hub       *Hub
	sessionID string
	conn      *websocket.Conn
	send      chan Frame
	done      chan struct{}
	once      sync.Once
}

func (c *client) close() {
	c.once.Do(func() { close(c.done) })
}

// writePump owns all writes on the connection: frames, keepalive pings, and
// the close frame.
func (c *client) writePump() {
	ticker := time.NewTicker(timeouts.StreamPing)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			// Flush queued frames so an end-of-session notice is not lost to
			// the shutdown race.
			for {
				select {
				case frame := <-c.send:
					c.writeFrame(frame)
				default:
					c.conn.SetWriteDeadline(time.Now().Add(timeouts.StreamWrite))
					c.conn.WriteMessage(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
					return
				}
			}
		case frame := <-c.send:
			if err := c.writeFrame(frame); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(timeouts.StreamWrite))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *client) writeFrame(frame Frame) error {
	c.conn.SetWriteDeadline(time.Now().Add(timeouts.StreamWrite))
	data, err := json.Marshal(frame)
	if err != nil {
		log.Printf("coaching: encode stream frame session=%s err=%v", c.sessionID, err)
		return nil
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// readPump discards inbound data and watches for disconnect. The loop exists
// to service pongs and close frames.
func (c *client) readPump() {
	defer func() {
		c.hub.detach(c)
		c.close()
	}()

	c.conn.SetReadLimit(maxInboundBytes)
	c.conn.SetReadDeadline(time.Now().Add(timeouts.StreamPong))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(timeouts.StreamPong))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
