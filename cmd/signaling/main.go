package main

import (
	"os"

	"github.com/gin-gonic/gin"
	"github.com/mossy-p/stranger-chat/config"
	"github.com/mossy-p/stranger-chat/internal/handlers"
	"github.com/mossy-p/stranger-chat/internal/logging"
	"github.com/mossy-p/stranger-chat/internal/redis"
	"github.com/sirupsen/logrus"
)

func main() {
	// Load configuration
	cfg := config.Load()
	log := logging.New(cfg.LogLevel, cfg.Environment)

	if err := run(cfg, log); err != nil {
		log.WithError(err).Error("Server stopped")
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *logrus.Logger) error {
	// Redis only backs presence and statistics; matchmaking works without it.
	var store *redis.Store
	if cfg.Redis.Enabled {
		s, err := redis.Connect(cfg.Redis, log)
		if err != nil {
			return err
		}
		defer s.Close()
		store = s
		log.Info("Redis connection established")
	}

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	server := handlers.NewServer(handlers.Options{
		Chat:  cfg.Chat,
		Store: store,
		Log:   log,
	})
	router := handlers.NewRouter(cfg, server)

	log.WithField("port", cfg.Port).Info("Starting stranger chat server")
	return router.Run(":" + cfg.Port)
}
