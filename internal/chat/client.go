package chat

import (
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"signet/internal/models"
)

const (
	writeWait  = 5 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 10 * time.Second
)

// Client is one WebSocket subscription to one room. The stream is push-only:
// the server writes event frames, and anything the peer sends besides control
// frames is discarded.
type Client struct {
	Conn *websocket.Conn
	Room string
	User models.UserKey
	Send chan []byte
	Hub  *Hub
	once sync.Once
}

func NewClient(hub *Hub, conn *websocket.Conn, room string, user models.UserKey) *Client {
	return &Client{
		Conn: conn,
		Room: room,
		User: user,
		Send: make(chan []byte, 256),
		Hub:  hub,
	}
}

func (c *Client) close() {
	c.once.Do(func() {
		c.Conn.Close()
		close(c.Send)
	})
}

// WritePump drains Send onto the connection, one frame per message, and keeps
// the connection alive with pings. It exits when Send is closed or a write
// fails.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Hub.Unregister(c)
		c.Conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ReadPump services control frames and notices disconnects. Data frames are
// read and dropped.
func (c *Client) ReadPump() {
	defer func() {
		c.Hub.Unregister(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(512)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[CLIENT] Unexpected close: %v", err)
			}
			break
		}
	}
}
