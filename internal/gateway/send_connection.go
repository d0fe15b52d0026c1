package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
)

// sendSocket is the outbound half-duplex connection to a neighbor. A
// background goroutine watches it for close/error so the transport's
// sendSockets map stays accurate without the neighbor ever writing to it —
// this stands in for the close/error handlers spec.md §4.3 step 2
// describes a JS EventEmitter-based socket carrying natively.
type sendSocket struct {
	conn   net.Conn
	closed chan struct{}
}

// connect dials neighbor, performs the outbound handshake, and registers
// the resulting socket as the neighbor's send socket. It never returns a
// socket it did not register, and never registers a socket without first
// writing the handshake — spec.md §4.3: "the only message ever written
// before application packets."
//
// Grounded on dtn.TCPTransport.Connect (dial with a timeout-bearing
// dialer, store in a connection map, spawn a reader goroutine) and
// GoVaultFS's TCPTransport.Dial (plain net.Dial, goroutine per connection).
func (t *Transport) connect(ctx context.Context, n *Neighbor) error {
	addr := fmt.Sprintf("%s:%d", n.Host, n.Port)

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp4", addr)
	if err != nil {
		t.metrics.ConnectAttemptsTotal.WithLabelValues("failure").Inc()
		return wrapError(KindConnectFailed, "dial "+addr, err)
	}

	if _, err := conn.Write(encodeHandshake(t.cfg.Port)); err != nil {
		conn.Close()
		t.metrics.ConnectAttemptsTotal.WithLabelValues("failure").Inc()
		return wrapError(KindConnectFailed, "handshake write", err)
	}

	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		conn.Close()
		t.metrics.ConnectAttemptsTotal.WithLabelValues("failure").Inc()
		return wrapError(KindConnectFailed, "closed", errors.New("transport shut down during connect"))
	}
	ss := &sendSocket{conn: conn, closed: make(chan struct{})}
	t.sendSockets[n] = ss
	t.metrics.ConnectionsActive.WithLabelValues("send").Inc()
	t.mu.Unlock()

	t.wg.Add(1)
	go t.watchSendSocket(n, ss)

	t.metrics.ConnectAttemptsTotal.WithLabelValues("success").Inc()
	return nil
}

// watchSendSocket blocks on a read from a socket the transport never
// expects data on; any result (EOF, reset, or stray bytes) means the
// connection is no longer usable, so the socket is removed from the send
// map. This is the Go equivalent of installing 'close'/'error' handlers on
// an outbound-only socket.
func (t *Transport) watchSendSocket(n *Neighbor, ss *sendSocket) {
	defer t.wg.Done()

	buf := make([]byte, 1)
	_, err := ss.conn.Read(buf)

	removed := t.removeSendSocket(n, ss)
	ss.conn.Close()
	close(ss.closed)

	if !removed {
		return
	}
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
		t.observers.emitError(wrapError(KindSocketError, "send socket "+n.Host, err))
	}
}

// removeSendSocket deletes n's send socket entry if it still points at ss,
// returning whether it did. Using the specific *sendSocket value (not just
// the key) guards against a watcher goroutine racing a newer connect() for
// the same neighbor.
func (t *Transport) removeSendSocket(n *Neighbor, ss *sendSocket) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if current, ok := t.sendSockets[n]; ok && current == ss {
		delete(t.sendSockets, n)
		t.metrics.ConnectionsActive.WithLabelValues("send").Dec()
		return true
	}
	return false
}

// disconnect closes n's send socket, if any, and waits for its watcher
// goroutine to finish tearing it down. It never returns an error — spec.md
// §4.7: "a disconnect must never throw."
func (t *Transport) disconnect(n *Neighbor) {
	t.mu.Lock()
	ss, ok := t.sendSockets[n]
	t.mu.Unlock()
	if !ok {
		return
	}
	ss.conn.Close()
	<-ss.closed
}
