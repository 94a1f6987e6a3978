package peerclient

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mossy-p/stranger-chat/internal/models"
	"github.com/sirupsen/logrus"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

// ErrClientClosed is returned by Send after Close.
var ErrClientClosed = errors.New("signaling client closed")

// Client manages the WebSocket connection to the matchmaking server.
type Client struct {
	conn      *websocket.Conn
	serverURL string
	incoming  chan models.Message
	outgoing  chan models.Message
	done      chan struct{}
	closeOnce sync.Once
	log       logrus.FieldLogger
}

func NewClient(serverURL string, log logrus.FieldLogger) *Client {
	return &Client{
		serverURL: serverURL,
		incoming:  make(chan models.Message, 64),
		outgoing:  make(chan models.Message, 64),
		done:      make(chan struct{}),
		log:       log,
	}
}

// Connect dials the server and starts the pumps.
func (c *Client) Connect(ctx context.Context) error {
	u, err := url.Parse(c.serverURL)
	if err != nil {
		return fmt.Errorf("invalid server URL: %w", err)
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
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
	return nil
}

func (c *Client) readPump() {
	defer func() {
		c.conn.Close()
		close(c.incoming)
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))

	for {
		var msg models.Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.WithError(err).Warn("Signaling connection lost")
			}
			return
		}
		c.incoming <- msg
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
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				c.log.WithError(err).Debug("Failed to write message")
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// Send queues a message for the server. It is safe for concurrent use,
// including from pion callbacks.
func (c *Client) Send(t models.MessageType, payload any) error {
	msg, err := models.NewMessage(t, payload)
	if err != nil {
		return err
	}
	select {
	case <-c.done:
		return ErrClientClosed
	default:
	}
	select {
	case c.outgoing <- msg:
		return nil
	case <-c.done:
		return ErrClientClosed
	}
}

// Incoming is closed when the connection drops.
func (c *Client) Incoming() <-chan models.Message {
	return c.incoming
}

// Close sends a close frame and stops the pumps.
func (c *Client) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}
