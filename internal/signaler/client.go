// Package signaler is the endpoint side of the signaling websocket.
package signaler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/amalgammas/link/internal/dns"
	"github.com/amalgammas/link/internal/wire"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	queueSize      = 64
)

// ErrClosed is returned by Send once the connection is gone.
var ErrClosed = errors.New("signaling connection closed")

// Client manages the WebSocket connection to the signaling server.
type Client struct {
	serverURL string
	dialer    *websocket.Dialer

	conn     *websocket.Conn
	incoming chan *wire.Message
	outgoing chan *wire.Message

	// done is closed by Close, lost by readPump when the server goes away.
	done     chan struct{}
	lost     chan struct{}
	doneOnce sync.Once
}

// New creates a client for a ws:// or wss:// URL. Hosts are resolved with
// the public DNS fallback.
func New(serverURL string) *Client {
	return &Client{
		serverURL: serverURL,
		dialer: &websocket.Dialer{
			NetDialContext:   dns.DialContext,
			HandshakeTimeout: 10 * time.Second,
		},
		incoming: make(chan *wire.Message, queueSize),
		outgoing: make(chan *wire.Message, queueSize),
		done:     make(chan struct{}),
		lost:     make(chan struct{}),
	}
}

// Connect establishes the WebSocket connection and starts the pumps.
func (c *Client) Connect(ctx context.Context) error {
	u, err := url.Parse(c.serverURL)
	if err != nil {
		return fmt.Errorf("invalid server URL: %w", err)
	}

	conn, _, err := c.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}

	c.conn = conn
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go c.readPump()
	go c.writePump()

	logrus.WithField("url", u.String()).Debug("connected to signaling server")
	return nil
}

func (c *Client) readPump() {
	defer func() {
		close(c.lost)
		close(c.incoming)
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
			default:
				logrus.WithError(err).Debug("signaling read failed")
			}
			return
		}
		// Any frame proves the server is alive.
		c.conn.SetReadDeadline(time.Now().Add(pongWait))

		var msg wire.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			logrus.WithError(err).Debug("ignoring malformed signaling frame")
			continue
		}

		select {
		case c.incoming <- &msg:
		case <-c.done:
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.outgoing:
			if err := c.write(msg); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.lost:
			return

		case <-c.done:
			// Flush what was queued before Close, such as a final leaveRoom.
			for {
				select {
				case msg := <-c.outgoing:
					if err := c.write(msg); err != nil {
						return
					}
					continue
				default:
				}
				break
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

func (c *Client) write(msg *wire.Message) error {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteJSON(msg); err != nil {
		logrus.WithError(err).WithField("type", msg.Type).Debug("signaling write failed")
		return err
	}
	return nil
}

// Send queues msg for the server.
func (c *Client) Send(msg *wire.Message) error {
	select {
	case <-c.done:
		return ErrClosed
	case <-c.lost:
		return ErrClosed
	default:
	}

	select {
	case c.outgoing <- msg:
		return nil
	case <-c.done:
		return ErrClosed
	case <-c.lost:
		return ErrClosed
	}
}

// Incoming delivers server messages. It is closed when the connection drops.
func (c *Client) Incoming() <-chan *wire.Message {
	return c.incoming
}

// Close shuts the connection down after flushing queued messages. Safe to
// call more than once.
func (c *Client) Close() {
	c.doneOnce.Do(func() { close(c.done) })
}
