package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mossy-p/stranger-chat/config"
	"github.com/mossy-p/stranger-chat/internal/middleware"
)

// NewRouter wires the participant websocket and the operator API.
func NewRouter(cfg *config.Config, s *Server) *gin.Engine {
	router := gin.Default()

	// Global CORS middleware (runs before routing)
	router.Use(OriginFilter(cfg.AllowedOrigins))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Participants are anonymous: no token on the websocket.
	router.GET("/ws", s.HandleWebSocket)

	apiGroup := router.Group("/api")
	{
		apiGroup.POST("/auth/login", Login(cfg.JWTSecret, cfg.Operator))

		operator := apiGroup.Group("", middleware.JWTAuth(cfg.JWTSecret))
		operator.GET("/stats", s.GetStats)
		operator.GET("/sessions", s.ListSessions)
		operator.DELETE("/peers/:peerId", s.KickPeer)
	}

	return router
}
