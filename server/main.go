// Development matchmaking and signaling server: pairs waiting callers FIFO,
// runs the mutual-accept handshake, and relays SDP/ICE between the two
// parties of a call. State lives in memory; restarting drops all sessions.
package main

import (
	"log/slog"
	"os"

	"github.com/gin-gonic/gin"

	"example.com/voicematch/config"
)

func main() {
	cfg := config.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := newRouter(newHub(logger), cfg.JWTSecret, logger)

	logger.Info("signaling server starting", "port", cfg.Port, "env", cfg.Environment)
	if err := router.Run(":" + cfg.Port); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func newRouter(h *hub, secret string, logger *slog.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/health", handleHealth)
	router.POST("/auth/token", handleToken(secret))
	router.GET("/ws", handleWS(h, secret, logger))
	return router
}
