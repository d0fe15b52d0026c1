// Package admin exposes an HTTP surface around a gateway.Transport: health
// and neighbor inspection, Prometheus metrics, and a WebSocket stream of
// the transport's receive/neighbor/error events for operators and
// dashboards to consume.
//
// Grounded on internal/api/router.go's chi + cors wiring, trimmed from that
// file's auth/subscription/dashboard domain routes down to the
// observability surface a transport process actually needs.
package admin

import (
	"encoding/json"
	"net/http"

	"github.com/asgard/gatewaytransport/internal/gateway"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Router wires a gateway.Transport's observability surface behind an HTTP
// handler. Construct one per Transport instance with NewRouter.
type Router struct {
	transport *gateway.Transport
	stream    *EventStream
}

// NewRouter builds the admin HTTP handler for transport. allowedOrigins
// configures the CORS policy and the WebSocket origin check; an empty list
// allows only same-origin requests.
func NewRouter(transport *gateway.Transport, allowedOrigins []string) http.Handler {
	stream := NewEventStream(transport, allowedOrigins)
	ar := &Router{transport: transport, stream: stream}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	if len(allowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   allowedOrigins,
			AllowedMethods:   []string{"GET", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Content-Type"},
			AllowCredentials: false,
			MaxAge:           300,
		}))
	}

	r.Get("/healthz", ar.handleHealth)
	r.Get("/neighbors", ar.handleNeighbors)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/ws/events", stream.HandleWebSocket)

	return r
}

func (ar *Router) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if !ar.transport.IsRunning() {
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]string{"status": "stopped"})
		return
	}
	json.NewEncoder(w).Encode(map[string]string{"status": "running"})
}

func (ar *Router) handleNeighbors(w http.ResponseWriter, r *http.Request) {
	addr := r.URL.Query().Get("addr")
	w.Header().Set("Content-Type", "application/json")

	if addr == "" {
		http.Error(w, `{"error":"addr query parameter is required"}`, http.StatusBadRequest)
		return
	}

	n := ar.transport.GetNeighbor(addr)
	if n == nil {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{"error": "neighbor not found"})
		return
	}

	json.NewEncoder(w).Encode(map[string]interface{}{
		"host":                  n.Host,
		"port":                  n.Port,
		"gatewayCanSendTo":      n.GatewayCanSendTo,
		"gatewayCanReceiveFrom": n.GatewayCanReceiveFrom,
		"connected":             ar.transport.IsConnectedTo(n),
	})
}
