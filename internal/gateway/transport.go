// Package gateway implements the TCP transport described by this
// repository's specification: a listener accepting connections from known
// neighbors, outbound connections dialed to configured neighbors, a
// periodic reconnection loop, and fixed-size packet framing.
//
// Generalized from internal/platform/dtn/transport.go (TCPTransport) and
// internal/platform/dtn/node.go (Node's Start/Stop lifecycle and neighbor
// map), trading the DTN transport's bundle-routing concerns (multi-hop
// next-hop selection, persistent storage, contact-graph prediction — all
// out of scope here, see DESIGN.md) for the flat two-socket-per-neighbor
// model and one-shot port-announcement handshake this specification
// requires.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"sync"
	"sync/atomic"

	"github.com/asgard/gatewaytransport/pkg/transaction"
	"github.com/prometheus/client_golang/prometheus"
)

// Transport owns one listener, one set of outbound send sockets, one set
// of inbound receive sockets, and the reconnection loop that heals them.
// All mutation of the neighbor table and the two socket maps happens
// under mu, per spec.md §5's single-logical-mutex requirement; I/O
// (dialing, accepting, reading, writing) always happens outside the lock.
type Transport struct {
	cfg Config

	mu              sync.Mutex
	running         bool
	listener        net.Listener
	neighbors       *neighborTable
	sendSockets     map[*Neighbor]*sendSocket
	receiveSockets  map[*Neighbor]*receiveSocket
	reconnectCancel context.CancelFunc

	wg        sync.WaitGroup
	observers *observers
	metrics   *Metrics
	logger    *log.Logger
}

// New creates a Transport in the IDLE state. Pass a dedicated
// prometheus.Registerer (e.g. prometheus.NewRegistry()) per Transport in
// tests to avoid double-registering metrics against the default registry.
func New(cfg Config, reg prometheus.Registerer) *Transport {
	cfg = cfg.withDefaults()
	return &Transport{
		cfg:            cfg,
		neighbors:      newNeighborTable(),
		sendSockets:    make(map[*Neighbor]*sendSocket),
		receiveSockets: make(map[*Neighbor]*receiveSocket),
		observers:      newObservers(),
		metrics:        NewMetrics(reg),
		logger:         log.New(os.Stdout, fmt.Sprintf("[gateway %s:%d] ", cfg.Host, cfg.Port), log.LstdFlags),
	}
}

// OnReceive, OnNeighbor and OnError register observers for the transport's
// event surface (spec.md §6). Safe to call at any time.
func (t *Transport) OnReceive(h ReceiveHandler)   { t.observers.OnReceive(h) }
func (t *Transport) OnNeighbor(h NeighborHandler) { t.observers.OnNeighbor(h) }
func (t *Transport) OnError(h ErrorHandler)       { t.observers.OnError(h) }

// Supports reports whether n is a neighbor this transport can act on. This
// transport supports exactly one neighbor variant, so it is true for any
// non-nil Neighbor (spec.md §4.6's "variant check", generalized from a
// system with multiple transport kinds down to this package's single one).
func (t *Transport) Supports(n *Neighbor) bool {
	return n != nil
}

// IsRunning reports whether the transport is between a successful Run and
// its matching Shutdown.
func (t *Transport) IsRunning() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

// IsConnectedTo reports whether n currently has a live send socket.
func (t *Transport) IsConnectedTo(n *Neighbor) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.sendSockets[n]
	return ok
}

// GetNeighbor returns the first known neighbor whose Match(addr) is true,
// in insertion order, or nil if none matches.
func (t *Transport) GetNeighbor(addr string) *Neighbor {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.neighbors.find(addr)
}

// AddNeighbor registers n. If the transport is running, it attempts an
// immediate connect; a failed connect is swallowed into the reconnection
// set rather than returned — addNeighbor only fails for a duplicate
// neighbor (spec.md §4.6).
func (t *Transport) AddNeighbor(n *Neighbor) error {
	t.mu.Lock()
	if t.neighbors.contains(n) {
		t.mu.Unlock()
		return wrapError(KindAlreadyExists, "neighbor already registered", nil)
	}
	t.neighbors.add(n)
	running := t.running
	t.mu.Unlock()

	if !running {
		return nil
	}

	if err := t.connect(context.Background(), n); err != nil {
		t.mu.Lock()
		t.neighbors.markNeedsReconnect(n)
		t.mu.Unlock()
	}
	return nil
}

// RemoveNeighbor tears down both of n's sockets (if any), drops it from
// the reconnection set, and removes it from the neighbor table. Fails
// with NotFound if n was never registered.
func (t *Transport) RemoveNeighbor(n *Neighbor) error {
	t.mu.Lock()
	if !t.neighbors.contains(n) {
		t.mu.Unlock()
		return wrapError(KindNotFound, "neighbor not registered", nil)
	}
	rs, hasReceive := t.receiveSockets[n]
	if hasReceive {
		silenceReceiveSocket(rs)
		delete(t.receiveSockets, n)
		t.metrics.ConnectionsActive.WithLabelValues("receive").Dec()
	}
	t.neighbors.remove(n)
	t.mu.Unlock()

	if hasReceive {
		rs.conn.Close()
	}
	t.disconnect(n)
	return nil
}

// Run binds the listener, attempts an initial connect to every currently
// registered neighbor, arms the reconnection loop, and transitions to
// RUNNING. Initial connect failures are swallowed into the reconnection
// set, never returned (spec.md §4.6).
func (t *Transport) Run() error {
	t.mu.Lock()
	if t.running {
		t.mu.Unlock()
		return ErrAlreadyRunning
	}
	host, port := t.cfg.Host, t.cfg.Port
	t.mu.Unlock()

	ln, err := net.Listen("tcp4", fmt.Sprintf("%s:%d", host, port))
	if err != nil {
		return wrapError(KindListenFailed, fmt.Sprintf("listen on %s:%d", host, port), err)
	}

	t.mu.Lock()
	t.listener = ln
	t.running = true
	initial := append([]*Neighbor(nil), t.neighbors.order...)
	t.mu.Unlock()

	t.wg.Add(1)
	go t.acceptLoop()

	var initWG sync.WaitGroup
	for _, n := range initial {
		n := n
		initWG.Add(1)
		go func() {
			defer initWG.Done()
			if err := t.connect(context.Background(), n); err != nil {
				t.mu.Lock()
				t.neighbors.markNeedsReconnect(n)
				t.mu.Unlock()
			}
		}()
	}
	initWG.Wait()

	reconnectCtx, cancel := context.WithCancel(context.Background())
	t.mu.Lock()
	t.reconnectCancel = cancel
	t.mu.Unlock()
	t.wg.Add(1)
	go t.reconnectLoop(reconnectCtx)

	t.logger.Printf("listening on %s", ln.Addr())
	return nil
}

// Shutdown disarms the reconnection loop, disconnects every send socket
// concurrently, closes every receive socket, and closes the listener.
func (t *Transport) Shutdown() error {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return ErrNotRunning
	}
	t.running = false
	if t.reconnectCancel != nil {
		t.reconnectCancel()
	}
	t.neighbors.needsReconnect = make(map[*Neighbor]struct{})

	sendSnapshot := make([]*Neighbor, 0, len(t.sendSockets))
	for n := range t.sendSockets {
		sendSnapshot = append(sendSnapshot, n)
	}
	receiveSnapshot := make([]*receiveSocket, 0, len(t.receiveSockets))
	for _, rs := range t.receiveSockets {
		receiveSnapshot = append(receiveSnapshot, rs)
	}
	t.receiveSockets = make(map[*Neighbor]*receiveSocket)
	t.metrics.ConnectionsActive.WithLabelValues("receive").Sub(float64(len(receiveSnapshot)))
	listener := t.listener
	t.mu.Unlock()

	var wg sync.WaitGroup
	for _, n := range sendSnapshot {
		n := n
		wg.Add(1)
		go func() {
			defer wg.Done()
			t.disconnect(n)
		}()
	}
	wg.Wait()

	for _, rs := range receiveSnapshot {
		rs.conn.Close()
	}

	if listener != nil {
		listener.Close()
	}
	t.wg.Wait()

	t.logger.Printf("shut down")
	return nil
}

// Send writes data to n's send socket, framed as exactly one packet by the
// configured Packer. It fails with SendForbidden if n disallows sending,
// or NotConnected if no send socket exists.
func (t *Transport) Send(data transaction.Data, n *Neighbor) error {
	if !n.GatewayCanSendTo {
		return wrapError(KindSendForbidden, "neighbor does not permit sending", nil)
	}

	t.mu.Lock()
	ss, ok := t.sendSockets[n]
	t.mu.Unlock()
	if !ok {
		return wrapError(KindNotConnected, "no send socket for neighbor", nil)
	}

	block, err := t.cfg.Packer.Pack(transaction.New(data))
	if err != nil {
		return wrapError(KindSocketError, "pack outbound packet", err)
	}
	if _, err := ss.conn.Write(block); err != nil {
		return wrapError(KindSocketError, "write outbound packet", err)
	}

	t.metrics.PacketsSentTotal.Inc()
	t.metrics.BytesSentTotal.Add(float64(len(block)))
	return nil
}

// acceptLoop accepts inbound connections until the listener closes,
// handling each one in its own goroutine so a slow handshake from one peer
// never blocks accepting the next.
func (t *Transport) acceptLoop() {
	defer t.wg.Done()

	for {
		conn, err := t.listener.Accept()
		if err != nil {
			if isClosedErr(err) {
				return
			}
			t.observers.emitError(wrapError(KindSocketError, "accept", err))
			continue
		}

		t.wg.Add(1)
		go func() {
			defer t.wg.Done()
			t.acceptInbound(conn)
		}()
	}
}

func silenceReceiveSocket(rs *receiveSocket) {
	// Suppress the error event the read loop would otherwise emit when
	// its Read() unblocks because we are about to close the connection
	// out from under it.
	atomic.StoreInt32(&rs.silenced, 1)
}

func isClosedErr(err error) bool {
	return errors.Is(err, net.ErrClosed)
}
