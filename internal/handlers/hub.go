package handlers

import (
	"sync"

	"github.com/mossy-p/stranger-chat/internal/models"
	"github.com/mossy-p/stranger-chat/internal/relay"
	"github.com/sirupsen/logrus"
)

// Hub indexes connected peers by id. It is the relay's Directory and the
// matchmaker's Notifier.
type Hub struct {
	mu    sync.RWMutex
	peers map[string]*Client
	log   logrus.FieldLogger
}

func NewHub(log logrus.FieldLogger) *Hub {
	return &Hub{
		peers: make(map[string]*Client),
		log:   log,
	}
}

func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.peers[c.ID] = c
}

// Unregister removes c if it is still the registered client for its id.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.peers[c.ID] == c {
		delete(h.peers, c.ID)
	}
}

func (h *Hub) client(peerID string) (*Client, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.peers[peerID]
	return c, ok
}

func (h *Hub) Lookup(peerID string) (relay.Endpoint, bool) {
	c, ok := h.client(peerID)
	if !ok {
		return nil, false
	}
	return c, true
}

// Notify queues a server message for peerID without blocking.
func (h *Hub) Notify(peerID string, t models.MessageType, payload any) {
	c, ok := h.client(peerID)
	if !ok {
		h.log.WithFields(logrus.Fields{"peer": peerID, "type": t}).Debug("Notify for unknown peer")
		return
	}

	msg, err := models.NewMessage(t, payload)
	if err != nil {
		h.log.WithError(err).WithField("type", t).Error("Failed to marshal notification")
		return
	}
	if !c.Deliver(msg) {
		h.log.WithFields(logrus.Fields{"peer": peerID, "type": t}).Warn("Failed to notify peer, buffer full")
	}
}

// Kick closes the peer's socket. The read pump then runs the normal
// disconnect path.
func (h *Hub) Kick(peerID string) bool {
	c, ok := h.client(peerID)
	if !ok {
		return false
	}
	c.Conn.Close()
	return true
}
