package transport

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is one live WebSocket session. Its id is the opaque address the relay
// core routes by; it never changes for the lifetime of the socket.
type Conn struct {
	id        string
	sock      *websocket.Conn
	send      chan []byte
	hub       *Hub
	limiter   *tokenBucket
	logger    *slog.Logger
	closeOnce sync.Once
}

func newConn(id string, sock *websocket.Conn, hub *Hub, logger *slog.Logger) *Conn {
	cfg := hub.cfg
	if sock != nil {
		sock.SetReadLimit(cfg.MaxMessageSize)
	}
	return &Conn{
		id:      id,
		sock:    sock,
		send:    make(chan []byte, cfg.SendQueueSize),
		hub:     hub,
		limiter: newTokenBucket(cfg.RateLimitBurst, cfg.RateLimitInterval),
		logger:  logger,
	}
}

// ID returns the transport-assigned connection address.
func (c *Conn) ID() string {
	return c.id
}

// close shuts the socket down at most once, from any goroutine.
func (c *Conn) close() {
	c.closeOnce.Do(func() {
		deadline := time.Now().Add(c.hub.cfg.WriteWait)
		_ = c.sock.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		if err := c.sock.Close(); err != nil && !isExpectedCloseError(err) {
			c.logger.Warn("socket close failed", "error", err)
		}
	})
}

// readPump pulls frames off the socket, decodes the envelope, and hands
// events to the hub's session handler. It owns connection teardown: when the
// read loop exits for any reason the connection is dropped from the hub.
func (c *Conn) readPump() {
	defer func() {
		c.hub.drop(c)
		c.close()
	}()

	pongWait := c.hub.cfg.PongWait
	if err := c.sock.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.logger.Warn("setting read deadline failed", "error", err)
	}
	c.sock.SetPongHandler(func(string) error {
		return c.sock.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, frame, err := c.sock.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure) && !isExpectedCloseError(err) {
				c.logger.Warn("read pump failed", "error", err)
			}
			return
		}

		if !c.limiter.allow() {
			c.logger.Warn("rate limit exceeded; frame dropped")
			continue
		}

		env, err := DecodeEnvelope(frame)
		if err != nil {
			c.logger.Warn("bad frame dropped", "error", err)
			continue
		}
		c.hub.dispatch(c.id, env)
	}
}

// writePump drains the send queue onto the socket and keeps the connection
// alive with pings. Each queued frame is one WebSocket message; envelopes
// are never concatenated.
func (c *Conn) writePump() {
	ticker := time.NewTicker(c.hub.cfg.PingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			if err := c.sock.SetWriteDeadline(time.Now().Add(c.hub.cfg.WriteWait)); err != nil {
				return
			}
			if !ok {
				_ = c.sock.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.sock.WriteMessage(websocket.TextMessage, frame); err != nil {
				if !isExpectedCloseError(err) {
					c.logger.Warn("write pump failed", "error", err)
				}
				return
			}
		case <-ticker.C:
			if err := c.sock.SetWriteDeadline(time.Now().Add(c.hub.cfg.WriteWait)); err != nil {
				return
			}
			if err := c.sock.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// isExpectedCloseError checks for the error strings routine connection
// teardown produces.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "use of closed network connection") ||
		strings.Contains(msg, "websocket: close sent") ||
		strings.Contains(msg, "broken pipe")
}
