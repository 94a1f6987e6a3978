package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mossy-p/stranger-chat/internal/middleware"
	"github.com/mossy-p/stranger-chat/internal/models"
)

// GetStats reports live matchmaking counters, plus presence and lifetime
// totals when Redis is enabled (-1 otherwise).
func (s *Server) GetStats(c *gin.Context) {
	stats := s.matchmaker.Stats()
	stats.Online, stats.TotalSessions = -1, -1

	if s.store != nil {
		online, total, err := s.store.Counters(c.Request.Context())
		if err != nil {
			s.log.WithError(err).Warn("Failed to read Redis counters")
		} else {
			stats.Online, stats.TotalSessions = online, total
		}
	}

	c.JSON(http.StatusOK, stats)
}

// ListSessions returns the active sessions.
func (s *Server) ListSessions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"sessions": s.matchmaker.Sessions()})
}

// KickPeer closes a participant's socket, which runs the usual disconnect
// path: its partner is told chat:ended and re-enqueued.
func (s *Server) KickPeer(c *gin.Context) {
	peerID := c.Param("peerId")

	if !s.hub.Kick(peerID) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Peer not found"})
		return
	}

	s.log.WithField("peer", peerID).WithField("operator", c.GetString(middleware.OperatorKey)).Info("Peer kicked")
	c.JSON(http.StatusOK, models.KickResponse{PeerID: peerID, Kicked: true})
}
