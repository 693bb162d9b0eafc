package transport

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/m-jim-d/springsandpucks-relay/internal/relay"
)

// Hub owns every live connection and the room groups used for broadcast. It
// satisfies relay.Transport; all of its delivery methods are non-blocking —
// a full send queue drops the frame rather than stalling the caller.
type Hub struct {
	mu       sync.RWMutex
	conns    map[string]*Conn
	groups   map[string]map[string]*Conn
	memberOf map[string]string
	closed   bool

	session relay.Handler
	cfg     Config
	logger  *slog.Logger
	wg      sync.WaitGroup

	allowedOrigins  map[string]struct{}
	allowAllOrigins bool
}

var _ relay.Transport = (*Hub)(nil)

// NewHub builds a hub around the given config. Attach a session handler
// before serving traffic.
func NewHub(cfg Config, logger *slog.Logger) *Hub {
	cfg.sanitize()
	if logger == nil {
		logger = slog.Default()
	}
	origins, allowAll := normalizeOrigins(cfg.AllowedOrigins, logger)
	return &Hub{
		conns:           make(map[string]*Conn),
		groups:          make(map[string]map[string]*Conn),
		memberOf:        make(map[string]string),
		cfg:             cfg,
		logger:          logger,
		allowedOrigins:  origins,
		allowAllOrigins: allowAll,
	}
}

// Attach wires the session core that receives connect, event, and
// disconnect callbacks. Call it once, before the hub serves traffic.
func (h *Hub) Attach(session relay.Handler) {
	h.session = session
}

func (h *Hub) dispatch(id string, env Envelope) {
	if h.session != nil {
		h.session.OnEvent(id, env.Event, env.Data)
	}
}

// drop removes a connection from the hub and tells the session. Dropping a
// connection that is already gone is a no-op, so the read-pump teardown and
// a server-initiated disconnect can overlap safely.
func (h *Hub) drop(c *Conn) {
	h.mu.Lock()
	if _, ok := h.conns[c.id]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.conns, c.id)
	if room, ok := h.memberOf[c.id]; ok {
		delete(h.memberOf, c.id)
		delete(h.groups[room], c.id)
		if len(h.groups[room]) == 0 {
			delete(h.groups, room)
		}
	}
	remaining := len(h.conns)
	h.mu.Unlock()

	// The channel close happens outside the lock; queueFrame tolerates the
	// race by checking membership under the read lock.
	close(c.send)
	h.logger.Info("connection dropped", "id", c.id, "remaining", remaining)

	if h.session != nil {
		h.session.OnDisconnect(c.id)
	}
}

// queueFrame enqueues one encoded frame for a connection, dropping it when
// the connection is gone or its queue is full.
func (h *Hub) queueFrame(c *Conn, frame []byte) bool {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Warn("send raced connection teardown", "id", c.id)
		}
	}()

	h.mu.RLock()
	defer h.mu.RUnlock()

	if _, ok := h.conns[c.id]; !ok {
		return false
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// Send delivers one event to one address. Unknown addresses and encode
// failures drop the frame; delivery is best-effort at-most-once.
func (h *Hub) Send(id, event string, data any) {
	frame, err := EncodeEnvelope(event, data)
	if err != nil {
		h.logger.Warn("encoding frame failed", "event", event, "error", err)
		return
	}

	h.mu.RLock()
	c, ok := h.conns[id]
	h.mu.RUnlock()
	if !ok {
		return
	}
	if !h.queueFrame(c, frame) {
		h.logger.Warn("frame dropped", "id", id, "event", event)
	}
}

// Broadcast delivers one event to every member of a room group, optionally
// excluding one id.
func (h *Hub) Broadcast(room, event string, data any, exceptID string) {
	frame, err := EncodeEnvelope(event, data)
	if err != nil {
		h.logger.Warn("encoding frame failed", "event", event, "error", err)
		return
	}

	h.mu.RLock()
	targets := make([]*Conn, 0, len(h.groups[room]))
	for id, c := range h.groups[room] {
		if id == exceptID {
			continue
		}
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		h.queueFrame(c, frame)
	}
}

// BroadcastAll delivers one event to every connected socket regardless of
// room membership.
func (h *Hub) BroadcastAll(event string, data any) {
	frame, err := EncodeEnvelope(event, data)
	if err != nil {
		h.logger.Warn("encoding frame failed", "event", event, "error", err)
		return
	}

	h.mu.RLock()
	targets := make([]*Conn, 0, len(h.conns))
	for _, c := range h.conns {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		h.queueFrame(c, frame)
	}
}

// JoinGroup moves a connection into a room group, leaving any previous
// group first; a connection broadcasts in at most one room.
func (h *Hub) JoinGroup(id, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	c, ok := h.conns[id]
	if !ok {
		return
	}
	if prev, ok := h.memberOf[id]; ok {
		delete(h.groups[prev], id)
		if len(h.groups[prev]) == 0 {
			delete(h.groups, prev)
		}
	}
	if h.groups[room] == nil {
		h.groups[room] = make(map[string]*Conn)
	}
	h.groups[room][id] = c
	h.memberOf[id] = room
}

// Disconnect closes a connection's socket. Teardown completes on the read
// pump's goroutine, so this never blocks the caller.
func (h *Hub) Disconnect(id string) {
	h.mu.RLock()
	c, ok := h.conns[id]
	h.mu.RUnlock()
	if !ok {
		return
	}
	go c.close()
}

// Shutdown closes every connection and waits for the pump goroutines to
// finish, up to the timeout.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.mu.Lock()
	h.closed = true
	targets := make([]*Conn, 0, len(h.conns))
	for _, c := range h.conns {
		targets = append(targets, c)
	}
	h.mu.Unlock()

	h.logger.Info("closing connections", "count", len(targets))
	for _, c := range targets {
		c.close()
	}

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.logger.Info("hub shutdown complete")
		return nil
	case <-time.After(timeout):
		h.logger.Warn("hub shutdown timed out")
		return context.DeadlineExceeded
	}
}
