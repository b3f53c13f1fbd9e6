package main

import (
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"

	"example.com/voicematch/auth"
)

// client is one connected user. Profile comes from the verified token, not
// from anything the socket carries.
type client struct {
	id     string
	claims *auth.Claims
	conn   *websocket.Conn
	logger *slog.Logger

	// writeMu serializes writes; gorilla allows one concurrent writer.
	writeMu sync.Mutex

	// match and room are managed by the hub under its lock.
	match *pendingMatch
	room  *room
}

func (c *client) send(msg wire) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteJSON(msg); err != nil {
		c.logger.Warn("write failed", "clientId", c.id, "type", msg.Type, "error", err)
	}
}

func (c *client) sendError(message string) {
	c.send(wire{Type: "error", Error: message})
}
