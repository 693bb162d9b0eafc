package transport

import (
	"net/http"
	"net/url"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/m-jim-d/springsandpucks-relay/internal/relay"
)

// ServeHTTP upgrades an HTTP request to a WebSocket connection, registers it
// under a fresh transport address, starts its pumps, and announces it to the
// session with the client-supplied hints.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  h.cfg.ReadBufferSize,
		WriteBufferSize: h.cfg.WriteBufferSize,
		CheckOrigin:     h.checkOrigin,
	}
	sock, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	hints := parseHints(r.URL.Query())
	id := uuid.NewString()
	c := newConn(id, sock, h, h.logger.With("id", id, "addr", r.RemoteAddr))

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = sock.Close()
		return
	}
	h.conns[c.id] = c
	total := len(h.conns)
	h.mu.Unlock()

	h.logger.Info("connection accepted", "id", c.id, "addr", r.RemoteAddr, "total", total)

	h.wg.Add(2)
	go func() {
		defer h.wg.Done()
		c.writePump()
	}()
	go func() {
		defer h.wg.Done()
		c.readPump()
	}()

	if h.session != nil {
		h.session.OnConnect(c.id, hints)
	}
}

// parseHints extracts the connect-time hints from the upgrade query string.
func parseHints(q url.Values) relay.Hints {
	rejoin := q.Get("rejoin")
	return relay.Hints{
		Name:     q.Get("name"),
		Nickname: q.Get("nickname"),
		Team:     q.Get("team"),
		Rejoin:   rejoin == "true" || rejoin == "yes" || rejoin == "1",
	}
}
