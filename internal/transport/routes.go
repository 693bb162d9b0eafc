package transport

import (
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Routes wires the relay's HTTP surface: the WebSocket upgrade endpoint, a
// health check, and the metrics exposition.
func Routes(h *Hub) *mux.Router {
	r := mux.NewRouter()
	r.Handle("/ws", h).Methods(http.MethodGet)
	r.HandleFunc("/healthz", healthHandler).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	return r
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprint(w, "springsandpucks relay is running")
}
