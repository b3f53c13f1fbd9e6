package main

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"example.com/voicematch/auth"
	"example.com/voicematch/signaling"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type tokenRequest struct {
	UserID   string           `json:"userId"`
	Nickname string           `json:"nickname" binding:"required"`
	Gender   signaling.Gender `json:"gender" binding:"required"`
	Age      *int             `json:"age"`
	Region   *string          `json:"region"`
}

// handleToken issues a profile token. Development convenience; a real
// deployment would sit this behind account auth.
func handleToken(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req tokenRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if req.UserID == "" {
			req.UserID = uuid.New().String()
		}
		token, err := auth.NewToken(secret, req.UserID, req.Nickname, req.Gender, req.Age, req.Region)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not issue token"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"token": token, "userId": req.UserID})
	}
}

// bearerToken pulls the token from the Authorization header or, for
// websocket clients that cannot set headers, the token query parameter.
func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return c.Query("token")
}

// handleWS authenticates, upgrades and runs the per-connection read loop.
func handleWS(h *hub, secret string, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
			return
		}
		claims, err := auth.ParseToken(secret, token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", "error", err)
			return
		}

		cl := &client{
			id:     claims.UserID,
			claims: claims,
			conn:   conn,
			logger: logger,
		}
		logger.Info("client connected", "clientId", cl.id, "nickname", claims.Nickname)
		readLoop(h, cl)
	}
}

func readLoop(h *hub, c *client) {
	defer func() {
		h.disconnect(c)
		c.conn.Close()
	}()

	for {
		var msg wire
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("read failed", "clientId", c.id, "error", err)
			}
			return
		}

		switch msg.Type {
		case signaling.TypeJoinMatching:
			h.joinMatching(c)
		case signaling.TypeLeaveMatching:
			h.leaveMatching(c)
		case signaling.TypeAcceptMatch:
			h.acceptMatch(c, msg.callID())
		case signaling.TypeCancelMatch:
			h.cancelMatch(c, msg.callID())
		case signaling.TypeOffer, signaling.TypeAnswer, signaling.TypeICECandidate:
			h.relay(c, msg)
		case signaling.TypeJoinRoom:
			h.joinRoom(c, msg.RoomID)
		case signaling.TypeLeaveRoom:
			h.leaveRoom(c)
		case signaling.TypeEndCall:
			h.endCall(c)
		default:
			c.logger.Warn("unknown message type", "clientId", c.id, "type", msg.Type)
		}
	}
}
