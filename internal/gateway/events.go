package gateway

import (
	"sync"

	"github.com/asgard/gatewaytransport/pkg/transaction"
)

// ReceiveHandler is invoked once per successfully decoded inbound packet
// (spec.md §6, the `receive` event).
type ReceiveHandler func(tx transaction.Transaction, from *Neighbor, remoteAddr string)

// NeighborHandler is invoked once per auto-discovered neighbor when
// ReceiveUnknownNeighbor is enabled (the `neighbor` event).
type NeighborHandler func(n *Neighbor)

// ErrorHandler is invoked for non-fatal socket and listener errors (the
// `error` event).
type ErrorHandler func(err error)

// observers holds the transport's event subscribers. Per spec.md §9, this
// replaces the source's pattern of nullable per-connection callback slots
// (stored to be detached later) with capability-style subscription: a
// caller registers a handler once, and every connection's routine calls
// through the shared slice rather than holding its own closure reference.
type observers struct {
	mu         sync.Mutex
	onReceive  []ReceiveHandler
	onNeighbor []NeighborHandler
	onError    []ErrorHandler
}

func newObservers() *observers {
	return &observers{}
}

// OnReceive registers a handler for decoded inbound packets. Safe to call
// before or after Run.
func (o *observers) OnReceive(h ReceiveHandler) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.onReceive = append(o.onReceive, h)
}

// OnNeighbor registers a handler for auto-discovered neighbors.
func (o *observers) OnNeighbor(h NeighborHandler) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.onNeighbor = append(o.onNeighbor, h)
}

// OnError registers a handler for non-fatal transport errors.
func (o *observers) OnError(h ErrorHandler) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.onError = append(o.onError, h)
}

func (o *observers) emitReceive(tx transaction.Transaction, from *Neighbor, remoteAddr string) {
	o.mu.Lock()
	handlers := append([]ReceiveHandler(nil), o.onReceive...)
	o.mu.Unlock()
	for _, h := range handlers {
		h(tx, from, remoteAddr)
	}
}

func (o *observers) emitNeighbor(n *Neighbor) {
	o.mu.Lock()
	handlers := append([]NeighborHandler(nil), o.onNeighbor...)
	o.mu.Unlock()
	for _, h := range handlers {
		h(n)
	}
}

func (o *observers) emitError(err error) {
	o.mu.Lock()
	handlers := append([]ErrorHandler(nil), o.onError...)
	o.mu.Unlock()
	for _, h := range handlers {
		h(err)
	}
}
