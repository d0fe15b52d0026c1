package gateway

import (
	"time"

	"github.com/asgard/gatewaytransport/pkg/packer"
)

// DefaultReconnectionInterval is the period between reconnection attempts
// when Config.ReconnectionInterval is left zero (spec.md §6).
const DefaultReconnectionInterval = 60 * time.Second

// DefaultHost is the listener bind address used when Config.Host is empty.
const DefaultHost = "0.0.0.0"

// Config configures a Transport, grounded on dtn.TCPTransportConfig's shape
// (listen address, timeouts, reconnect backoff) but generalized to spec.md
// §6's option table: a pluggable Packer instead of a hardcoded wire format,
// and ReceiveUnknownNeighbor instead of a fixed max-reconnects count (this
// transport's reconnection loop runs until Shutdown, not a bounded retry
// budget — see internal/gateway/reconnect.go).
type Config struct {
	// Host is the listener bind address. Empty defaults to DefaultHost.
	Host string

	// Port is the listener bind port, and the port announced in every
	// outbound handshake. Required.
	Port uint16

	// Packer provides PacketSize/Pack/Unpack. Required; pass
	// packer.New(packer.DefaultPacketSize) for the reference codec.
	Packer packer.Packer

	// ReconnectionInterval is the period between reconnection attempts.
	// Zero defaults to DefaultReconnectionInterval.
	ReconnectionInterval time.Duration

	// ReceiveUnknownNeighbor, if true, synthesizes and admits a Neighbor
	// for an inbound connection whose address matches no known neighbor.
	ReceiveUnknownNeighbor bool
}

func (c Config) withDefaults() Config {
	if c.Host == "" {
		c.Host = DefaultHost
	}
	if c.ReconnectionInterval <= 0 {
		c.ReconnectionInterval = DefaultReconnectionInterval
	}
	return c
}
