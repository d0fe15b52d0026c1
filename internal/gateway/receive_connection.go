package gateway

import (
	"errors"
	"io"
	"net"
	"sync/atomic"
	"time"
)

// handshakeReadTimeout is the hard deadline for the inbound handshake read,
// per spec.md §4.4 step 1.
const handshakeReadTimeout = 10 * time.Second

// receiveSocket is the inbound half-duplex connection from a neighbor.
// silenced is set by RemoveNeighbor to suppress the error event a
// concurrently-failing read would otherwise emit, mirroring spec.md §4.6's
// "silence its error handler" step.
type receiveSocket struct {
	conn     net.Conn
	closed   chan struct{}
	silenced int32
}

// acceptInbound runs the full inbound connection lifecycle: handshake read
// and validation, neighbor lookup or synthesis, permission check, and the
// framed read loop. It never returns an error to its caller — every
// failure path destroys the socket itself, per spec.md §4.4.
//
// Grounded on dtn.TCPTransport.acceptLoop/handleConnection (accept, spawn a
// per-connection goroutine, read a length-prefixed frame) and GoVaultFS's
// handleConn (handshake then read loop, drop the connection on any
// handshake or decode failure).
func (t *Transport) acceptInbound(conn net.Conn) {
	conn.SetReadDeadline(time.Now().Add(handshakeReadTimeout))
	handshake := make([]byte, handshakeSize)
	if _, err := io.ReadFull(conn, handshake); err != nil {
		conn.Close()
		if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
			t.metrics.HandshakeFailures.WithLabelValues("timeout").Inc()
		}
		return // spec.md §7: HandshakeTimeout is a silent drop, no emission.
	}
	conn.SetReadDeadline(time.Time{})

	remotePort, err := decodeHandshake(handshake)
	if err != nil {
		conn.Close()
		t.metrics.HandshakeFailures.WithLabelValues("invalid").Inc()
		return // spec.md §7: HandshakeInvalid is also a silent drop.
	}

	remoteAddr, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		conn.Close()
		return
	}

	n, discovered := t.resolveInboundNeighbor(remoteAddr, remotePort)
	if n == nil {
		conn.Close()
		return
	}
	if discovered {
		t.observers.emitNeighbor(n)
	}

	if !n.GatewayCanReceiveFrom {
		conn.Close()
		return
	}

	rs := &receiveSocket{conn: conn, closed: make(chan struct{})}
	if !t.registerReceiveSocket(n, rs) {
		conn.Close()
		return
	}

	t.wg.Add(1)
	go t.readLoop(n, rs, remoteAddr)
}

// resolveInboundNeighbor finds the neighbor matching remoteAddr, or
// synthesizes and registers one when ReceiveUnknownNeighbor is enabled. The
// bool return reports whether a new neighbor was created, so the caller can
// emit the `neighbor` event outside the lock.
func (t *Transport) resolveInboundNeighbor(remoteAddr string, remotePort uint16) (*Neighbor, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if n := t.neighbors.find(remoteAddr); n != nil {
		return n, false
	}
	if !t.cfg.ReceiveUnknownNeighbor {
		return nil, false
	}
	n := NewNeighbor(remoteAddr, remotePort)
	t.neighbors.add(n)
	return n, true
}

// registerReceiveSocket stores rs as n's receive socket, refusing to
// replace an existing live receive socket (at most one per neighbor, per
// spec.md §3).
func (t *Transport) registerReceiveSocket(n *Neighbor, rs *receiveSocket) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.receiveSockets[n]; exists {
		return false
	}
	t.receiveSockets[n] = rs
	t.metrics.ConnectionsActive.WithLabelValues("receive").Inc()
	return true
}

// readLoop frames bytes off the connection, decodes each block, and emits
// a receive event per transaction, until the connection closes or errors.
func (t *Transport) readLoop(n *Neighbor, rs *receiveSocket, remoteAddr string) {
	defer t.wg.Done()
	defer close(rs.closed)

	f := newFramer(t.cfg.Packer.PacketSize())
	buf := make([]byte, 32*1024)

	for {
		nRead, err := rs.conn.Read(buf)
		if nRead > 0 {
			f.feed(buf[:nRead])
			for _, block := range f.drain() {
				tx, decodeErr := t.cfg.Packer.Unpack(block)
				if decodeErr != nil {
					t.emitSocketError(rs, wrapError(KindSocketError, "decode from "+remoteAddr, decodeErr))
					t.finishReceiveSocket(n, rs)
					return
				}
				t.metrics.PacketsReceivedTotal.Inc()
				t.metrics.BytesReceivedTotal.Add(float64(len(block)))
				t.observers.emitReceive(tx, n, remoteAddr)
			}
		}
		if err != nil {
			t.finishReceiveSocket(n, rs)
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				t.emitSocketError(rs, wrapError(KindSocketError, "receive socket "+remoteAddr, err))
			}
			return
		}
	}
}

func (t *Transport) emitSocketError(rs *receiveSocket, err error) {
	if atomic.LoadInt32(&rs.silenced) == 1 {
		return
	}
	t.observers.emitError(err)
}

// finishReceiveSocket removes n's receive socket entry if it still points
// at rs and closes the underlying connection.
func (t *Transport) finishReceiveSocket(n *Neighbor, rs *receiveSocket) {
	t.mu.Lock()
	if current, ok := t.receiveSockets[n]; ok && current == rs {
		delete(t.receiveSockets, n)
		t.metrics.ConnectionsActive.WithLabelValues("receive").Dec()
	}
	t.mu.Unlock()
	rs.conn.Close()
}
