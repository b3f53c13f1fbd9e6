package signaling

import (
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// TransportEventKind classifies connection-level events reported to the
// handler, as opposed to decoded application messages.
type TransportEventKind int

const (
	// TransportConnected fires once the WebSocket is established.
	TransportConnected TransportEventKind = iota
	// TransportClosed fires when the connection drops or is closed locally.
	TransportClosed
	// TransportSendFailed fires when an outbound write fails. Send itself
	// never returns an error to the caller.
	TransportSendFailed
)

func (k TransportEventKind) String() string {
	switch k {
	case TransportConnected:
		return "connected"
	case TransportClosed:
		return "closed"
	case TransportSendFailed:
		return "send_failed"
	}
	return "unknown"
}

// TransportEvent carries a connection-level event and, where relevant, the
// underlying error.
type TransportEvent struct {
	Kind TransportEventKind
	Err  error
}

// Handler receives everything the channel produces. Inbound messages are
// routed by type tag: matching-lifecycle messages to HandleMatchEvent,
// SDP/ICE messages to HandleSignalEvent. The channel performs no business
// logic beyond that split.
type Handler interface {
	HandleMatchEvent(msg ServerMessage)
	HandleSignalEvent(msg ServerMessage)
	HandleTransport(event TransportEvent)
}

// Channel is a typed duplex signaling transport over a WebSocket. It owns
// serialization and routing only; reconnecting is the caller's decision
// (Connect may be called again after Disconnect).
type Channel struct {
	url    string
	logger *slog.Logger

	handler Handler

	mu        sync.Mutex // guards conn, connected, done
	writeMu   sync.Mutex // serializes writes on the shared conn
	conn      *websocket.Conn
	connected bool
	done      chan struct{}
}

// NewChannel creates a channel that will dial url on Connect. SetHandler
// must be called before Connect.
func NewChannel(url string, logger *slog.Logger) *Channel {
	return &Channel{
		url:    url,
		logger: logger,
	}
}

// SetHandler registers the consumer of inbound messages and transport
// events. Must be called before Connect.
func (c *Channel) SetHandler(handler Handler) {
	c.handler = handler
}

// Connect establishes the WebSocket using token as the bearer identity.
// A connect failure is returned synchronously; everything after that is
// reported through the handler.
func (c *Channel) Connect(token string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.handler == nil {
		return fmt.Errorf("signaling channel has no handler")
	}
	if c.connected {
		return fmt.Errorf("already connected")
	}

	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	conn, _, err := websocket.DefaultDialer.Dial(c.url, header)
	if err != nil {
		return fmt.Errorf("websocket dial failed: %w", err)
	}

	c.conn = conn
	c.connected = true
	c.done = make(chan struct{})

	go c.readLoop(conn, c.done)

	c.logger.Info("signaling connected", "url", c.url)
	c.handler.HandleTransport(TransportEvent{Kind: TransportConnected})
	return nil
}

// Send serializes and transmits msg. Failures are reported asynchronously
// through the handler, never returned to the caller.
func (c *Channel) Send(msg ClientMessage) {
	c.mu.Lock()
	conn := c.conn
	connected := c.connected
	c.mu.Unlock()

	if !connected || conn == nil {
		c.handler.HandleTransport(TransportEvent{
			Kind: TransportSendFailed,
			Err:  fmt.Errorf("send %s: not connected", msg.Type),
		})
		return
	}

	c.writeMu.Lock()
	err := conn.WriteJSON(msg)
	c.writeMu.Unlock()

	if err != nil {
		c.logger.Warn("signaling send failed", "type", msg.Type, "error", err)
		c.handler.HandleTransport(TransportEvent{Kind: TransportSendFailed, Err: err})
	}
}

// Disconnect tears down the transport. The read loop reports the resulting
// close to the handler so in-flight sessions get ended there.
func (c *Channel) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		return nil
	}

	close(c.done)
	err := c.conn.Close()
	c.conn = nil
	c.connected = false

	c.logger.Info("signaling disconnected")
	return err
}

// IsConnected reports whether the transport is currently established.
func (c *Channel) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *Channel) readLoop(conn *websocket.Conn, done chan struct{}) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-done:
				// Local disconnect already reported the state change.
				c.handler.HandleTransport(TransportEvent{Kind: TransportClosed})
			default:
				c.logger.Warn("signaling read error", "error", err)
				c.mu.Lock()
				if c.conn == conn {
					c.conn = nil
					c.connected = false
					close(c.done)
				}
				c.mu.Unlock()
				c.handler.HandleTransport(TransportEvent{Kind: TransportClosed, Err: err})
			}
			return
		}

		msg, err := DecodeServerMessage(data)
		if err != nil {
			c.logger.Warn("dropping malformed signaling message", "error", err)
			continue
		}

		c.dispatch(msg)
	}
}

// dispatch routes one decoded message to exactly one handler entry point.
func (c *Channel) dispatch(msg ServerMessage) {
	switch msg.(type) {
	case MatchFound, StartCall, CallEnded, ServerError:
		c.handler.HandleMatchEvent(msg)
	case RemoteOffer, RemoteAnswer, RemoteCandidate:
		c.handler.HandleSignalEvent(msg)
	}
}
