package signaling

import (
	"encoding/json"
	"time"

	"github.com/amalgammas/link/internal/wire"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer. SDP with many candidates fits.
	maxMessageSize = 64 * 1024

	// sendBuffer bounds the per-connection outbound queue. A client that falls
	// this far behind is evicted.
	sendBuffer = 256
)

// Client is one websocket connection (a participant) as seen by the hub.
type Client struct {
	// ID identifies the transport session in logs.
	ID string

	Hub  *Hub
	Conn *websocket.Conn

	// Send is the outbound queue drained by WritePump. The hub closes it.
	Send chan *wire.Message

	// roomID is the room the client is in, "" when none.
	// Owned by the hub loop.
	roomID string
}

// NewClient wraps an upgraded connection.
func NewClient(hub *Hub, conn *websocket.Conn) *Client {
	return &Client{
		ID:   uuid.NewString(),
		Hub:  hub,
		Conn: conn,
		Send: make(chan *wire.Message, sendBuffer),
	}
}

func (c *Client) log() *logrus.Entry {
	fields := logrus.Fields{"conn_id": c.ID}
	if c.Conn != nil {
		fields["remote"] = c.Conn.RemoteAddr().String()
	}
	return logrus.WithFields(fields)
}

// ReadPump pumps messages from the websocket connection to the hub.
//
// The application runs ReadPump in a per-connection goroutine. The application
// ensures that there is at most one reader on a connection by executing all
// reads from this goroutine.
func (c *Client) ReadPump() {
	defer func() {
		c.Hub.unregister(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log().WithError(err).Warn("websocket closed unexpectedly")
			}
			return
		}

		// Malformed frames are dropped; the connection stays up.
		var msg wire.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.log().WithError(err).Debug("dropping malformed frame")
			continue
		}

		if !c.Hub.deliver(Inbound{Client: c, Message: &msg}) {
			return
		}
	}
}

// WritePump pumps messages from the hub to the websocket connection.
//
// A goroutine running WritePump is started for each connection. The
// application ensures that there is at most one writer to a connection by
// executing all writes from this goroutine.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.Conn.WriteJSON(message); err != nil {
				c.log().WithError(err).Debug("write failed")
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
