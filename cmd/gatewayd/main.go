// Command gatewayd runs a gateway transport node: it listens for inbound
// neighbor connections, dials the neighbors listed in GATEWAY_NEIGHBORS,
// and serves an admin HTTP surface (health, neighbor
// inspection, Prometheus metrics, and a WebSocket event stream) alongside
// it.
//
// Grounded on cmd/satnet_router/main.go's shape: flag parsing, an
// environment-variable neighbor list, structured startup logging, and
// signal-driven graceful shutdown — trimmed of that command's DTN-specific
// concerns (storage backend selection, routing policy, RL model loading).
package main

import (
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/asgard/gatewaytransport/internal/gateway"
	"github.com/asgard/gatewaytransport/internal/gateway/admin"
	"github.com/asgard/gatewaytransport/pkg/packer"
	"github.com/asgard/gatewaytransport/pkg/transaction"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

func main() {
	host := flag.String("host", gateway.DefaultHost, "listener bind address")
	port := flag.Uint("port", 4560, "listener bind port, also announced to neighbors")
	adminAddr := flag.String("admin-addr", ":8080", "admin HTTP server bind address")
	reconnectInterval := flag.Duration("reconnect-interval", gateway.DefaultReconnectionInterval, "period between reconnection attempts")
	packetSize := flag.Int("packet-size", packer.DefaultPacketSize, "fixed packet size in bytes")
	receiveUnknown := flag.Bool("receive-unknown-neighbor", false, "admit inbound connections from unconfigured neighbors")
	natsURL := flag.String("nats-url", "", "optional NATS URL to also publish events to; empty disables the bridge")
	jsonLogs := flag.Bool("json-logs", false, "emit logs as JSON instead of text")
	adminOrigins := flag.String("admin-allowed-origins", "", "comma-separated Origins allowed to reach the admin HTTP/WebSocket surface; empty allows only same-origin requests")
	flag.Parse()

	log := logrus.New()
	if *jsonLogs {
		log.SetFormatter(&logrus.JSONFormatter{})
	}

	neighbors, err := parseNeighbors(os.Getenv("GATEWAY_NEIGHBORS"))
	if err != nil {
		log.WithError(err).Fatal("invalid GATEWAY_NEIGHBORS")
	}

	reg := prometheus.DefaultRegisterer
	transport := gateway.New(gateway.Config{
		Host:                   *host,
		Port:                   uint16(*port),
		Packer:                 packer.New(*packetSize),
		ReconnectionInterval:   *reconnectInterval,
		ReceiveUnknownNeighbor: *receiveUnknown,
	}, reg)

	transport.OnError(func(err error) {
		log.WithError(err).Warn("transport error")
	})
	transport.OnNeighbor(func(n *gateway.Neighbor) {
		log.WithFields(logrus.Fields{"host": n.Host, "port": n.Port}).Info("discovered neighbor")
	})
	transport.OnReceive(func(tx transaction.Transaction, from *gateway.Neighbor, remoteAddr string) {
		log.WithFields(logrus.Fields{"from": remoteAddr, "size": len(tx.Payload)}).Debug("received transaction")
	})

	for _, n := range neighbors {
		if err := transport.AddNeighbor(n); err != nil {
			log.WithError(err).WithField("host", n.Host).Warn("failed to register neighbor")
		}
	}

	log.WithFields(logrus.Fields{
		"host": *host,
		"port": *port,
	}).Info("starting gateway transport")

	if err := transport.Run(); err != nil {
		log.WithError(err).Fatal("failed to start transport")
	}

	var bridge *admin.Bridge
	if *natsURL != "" {
		cfg := admin.DefaultBridgeConfig()
		cfg.NATSURL = *natsURL
		bridge, err = admin.NewBridge(cfg, transport)
		if err != nil {
			log.WithError(err).Warn("failed to connect NATS event bridge, continuing without it")
		} else {
			defer bridge.Close()
		}
	}

	adminServer := &http.Server{
		Addr:    *adminAddr,
		Handler: admin.NewRouter(transport, parseOrigins(*adminOrigins)),
	}
	go func() {
		log.WithField("addr", *adminAddr).Info("starting admin HTTP server")
		if err := adminServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("admin server stopped unexpectedly")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down")
	if err := transport.Shutdown(); err != nil {
		log.WithError(err).Error("error during transport shutdown")
	}
	_ = adminServer.Close()
	log.Info("gateway transport stopped")
}

// parseNeighbors parses a comma-separated "host:port" list, as produced by
// GATEWAY_NEIGHBORS, into gateway.Neighbor values.
func parseNeighbors(raw string) ([]*gateway.Neighbor, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}

	var neighbors []*gateway.Neighbor
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		host, portStr, err := net.SplitHostPort(entry)
		if err != nil {
			return nil, fmt.Errorf("parse neighbor %q: %w", entry, err)
		}
		port, err := strconv.ParseUint(portStr, 10, 16)
		if err != nil {
			return nil, fmt.Errorf("parse neighbor port %q: %w", entry, err)
		}
		neighbors = append(neighbors, gateway.NewNeighbor(host, uint16(port)))
	}
	return neighbors, nil
}

func parseOrigins(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	var origins []string
	for _, o := range strings.Split(raw, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}
