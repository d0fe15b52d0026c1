package admin

import (
	"encoding/json"
	"log"
	"time"

	"github.com/asgard/gatewaytransport/internal/gateway"
	"github.com/asgard/gatewaytransport/pkg/transaction"
	"github.com/nats-io/nats.go"
)

// BridgeConfig configures an optional NATS export of a transport's events.
// Grounded on internal/platform/realtime.BridgeConfig, trimmed to the
// fields this transport's single subject actually needs.
type BridgeConfig struct {
	NATSURL       string
	Subject       string
	ReconnectWait time.Duration
	MaxReconnects int
}

// DefaultBridgeConfig returns sane defaults for a local NATS instance.
func DefaultBridgeConfig() BridgeConfig {
	return BridgeConfig{
		NATSURL:       nats.DefaultURL,
		Subject:       "gateway.events",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: 60,
	}
}

// Bridge publishes every receive/neighbor/error event from a transport onto
// a NATS subject, for consumers that do not want to hold a WebSocket open.
type Bridge struct {
	nc      *nats.Conn
	subject string
}

// NewBridge connects to NATS and wires transport's observers to publish
// onto cfg.Subject. The caller is responsible for calling Close when done.
func NewBridge(cfg BridgeConfig, transport *gateway.Transport) (*Bridge, error) {
	nc, err := nats.Connect(cfg.NATSURL,
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("admin: nats disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("admin: nats reconnected to %s", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, err
	}

	b := &Bridge{nc: nc, subject: cfg.Subject}

	transport.OnReceive(func(tx transaction.Transaction, from *gateway.Neighbor, remoteAddr string) {
		b.publish("receive", map[string]interface{}{
			"transactionId": tx.ID.String(),
			"size":          len(tx.Payload),
			"from":          remoteAddr,
		})
	})
	transport.OnNeighbor(func(n *gateway.Neighbor) {
		b.publish("neighbor", map[string]interface{}{"host": n.Host, "port": n.Port})
	})
	transport.OnError(func(err error) {
		b.publish("error", map[string]interface{}{"message": err.Error()})
	})

	return b, nil
}

func (b *Bridge) publish(eventType string, payload interface{}) {
	data, err := json.Marshal(wireEvent{Type: eventType, Timestamp: time.Now().UTC(), Payload: payload})
	if err != nil {
		log.Printf("admin: marshal nats event: %v", err)
		return
	}
	if err := b.nc.Publish(b.subject, data); err != nil {
		log.Printf("admin: nats publish: %v", err)
	}
}

// Close closes the underlying NATS connection.
func (b *Bridge) Close() {
	b.nc.Close()
}
