package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/mossy-p/stranger-chat/config"
	"github.com/mossy-p/stranger-chat/internal/matchmaking"
	"github.com/mossy-p/stranger-chat/internal/models"
	"github.com/mossy-p/stranger-chat/internal/redis"
	"github.com/mossy-p/stranger-chat/internal/relay"
	"github.com/sirupsen/logrus"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origin checking is handled by middleware
		return true
	},
}

// Client represents a WebSocket client connection
type Client struct {
	ID   string
	Conn *websocket.Conn
	Send chan []byte

	done chan struct{}
	log  logrus.FieldLogger
}

// Deliver queues msg for the write pump. It never blocks.
func (c *Client) Deliver(msg models.Message) bool {
	data, err := json.Marshal(msg)
	if err != nil {
		c.log.WithError(err).Error("Failed to marshal message")
		return false
	}

	select {
	case c.Send <- data:
		return true
	default:
		return false
	}
}

// Options wires a Server. Store may be nil when Redis is disabled.
type Options struct {
	Chat  config.ChatConfig
	Store *redis.Store
	Log   logrus.FieldLogger
}

// Server owns the peer hub, the matchmaker and the relay.
type Server struct {
	hub        *Hub
	matchmaker *matchmaking.Matchmaker
	relay      *relay.Relay
	store      *redis.Store
	chat       config.ChatConfig
	log        logrus.FieldLogger
}

func NewServer(opts Options) *Server {
	hub := NewHub(opts.Log)

	if opts.Chat.SendBuffer < 1 {
		opts.Chat.SendBuffer = config.DefaultSendBuffer
	}
	if opts.Chat.MaxMessageLength < 1 {
		opts.Chat.MaxMessageLength = config.DefaultMaxMessageLength
	}

	var observers []matchmaking.SessionObserver
	if opts.Store != nil {
		observers = append(observers, opts.Store)
	}

	return &Server{
		hub:        hub,
		matchmaker: matchmaking.NewMatchmaker(hub, opts.Log, observers...),
		relay:      relay.New(hub, opts.Log),
		store:      opts.Store,
		chat:       opts.Chat,
		log:        opts.Log,
	}
}

// HandleWebSocket upgrades an anonymous participant and puts it into
// matchmaking.
func (s *Server) HandleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.WithError(err).Warn("Failed to upgrade connection")
		return
	}

	peerID := uuid.New().String()
	client := &Client{
		ID:   peerID,
		Conn: conn,
		Send: make(chan []byte, s.chat.SendBuffer),
		done: make(chan struct{}),
		log:  s.log.WithField("peer", peerID),
	}

	ctx := context.Background()
	s.hub.Register(client)
	if s.store != nil {
		if err := s.store.MarkOnline(ctx, peerID); err != nil {
			client.log.WithError(err).Warn("Failed to record presence")
		}
	}
	client.log.Info("Peer connected")

	go client.writePump()
	s.matchmaker.Connect(ctx, peerID)
	go s.readPump(client)
}

func (s *Server) readPump(c *Client) {
	ctx := context.Background()
	defer func() {
		// Leave matchmaking while still registered so no one is paired
		// with a peer that can no longer be reached.
		s.matchmaker.Disconnect(ctx, c.ID)
		s.hub.Unregister(c)
		c.Conn.Close()
		close(c.done)

		if s.store != nil {
			if err := s.store.MarkOffline(ctx, c.ID); err != nil {
				c.log.WithError(err).Warn("Failed to clear presence")
			}
		}
		c.log.Info("Peer disconnected")
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var msg models.Message
		if err := c.Conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.WithError(err).Warn("WebSocket error")
			}
			return
		}
		s.route(ctx, c, msg)
	}
}

func (s *Server) route(ctx context.Context, c *Client, msg models.Message) {
	switch msg.Type {
	case models.TypeChatNext:
		s.matchmaker.Next(ctx, c.ID)

	case models.TypeChatMessage:
		var p models.ChatMessagePayload
		if err := msg.Decode(&p); err != nil {
			c.log.WithError(err).Debug("Dropping malformed chat message")
			return
		}
		s.toPartner(c, msg.Type, models.ChatMessagePayload{Text: truncate(p.Text, s.chat.MaxMessageLength)})

	case models.TypeChatTyping:
		s.toPartner(c, msg.Type, models.Truthy(msg.Payload))

	case models.TypeModeChanged:
		var p models.ModePayload
		if err := msg.Decode(&p); err != nil {
			c.log.WithError(err).Debug("Dropping malformed mode change")
			return
		}
		if partner, ok := s.matchmaker.SetMode(c.ID, p.VideoMode); ok {
			s.relay.Forward(c.ID, partner, models.TypePartnerMode, models.ModePayload{VideoMode: p.VideoMode})
		}

	case models.TypeVideoRequest, models.TypeVideoReady:
		s.toPartner(c, msg.Type, nil)

	case models.TypeVideoAccept, models.TypeVideoDecline:
		if partner, ok := s.matchmaker.Partner(c.ID); ok {
			s.relay.Echo(c.ID, partner, msg.Type)
			c.log.WithFields(logrus.Fields{"partner": partner, "type": msg.Type}).Info("Video consent answered")
		}

	case models.TypeSignal:
		var sig models.SignalPayload
		if err := msg.Decode(&sig); err != nil {
			c.log.WithError(err).Debug("Dropping malformed signal")
			return
		}
		partner, ok := s.matchmaker.Partner(c.ID)
		if !ok {
			return
		}
		if sig.To != "" && sig.To != partner {
			c.log.WithFields(logrus.Fields{"partner": partner, "to": sig.To}).Debug("Dropping signal for a previous partner")
			return
		}
		s.relay.ForwardSignal(c.ID, partner, sig)

	default:
		c.log.WithField("type", msg.Type).Warn("Unknown message type")
		if reply, err := models.NewMessage(models.TypeError, models.ErrorPayload{Error: "unknown message type"}); err == nil {
			c.Deliver(reply)
		}
	}
}

// toPartner forwards to the current partner. Without one the message is
// dropped.
func (s *Server) toPartner(c *Client, t models.MessageType, payload any) {
	if partner, ok := s.matchmaker.Partner(c.ID); ok {
		s.relay.Forward(c.ID, partner, t, payload)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.log.WithError(err).Debug("Failed to write message")
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

func truncate(s string, limit int) string {
	if limit <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit])
}
