package gateway

import (
	"sync"
	"testing"
	"time"

	"github.com/asgard/gatewaytransport/pkg/packer"
	"github.com/asgard/gatewaytransport/pkg/transaction"
	"github.com/prometheus/client_golang/prometheus"
)

func newTestTransport(t *testing.T, cfg Config) *Transport {
	t.Helper()
	cfg.Host = "127.0.0.1"
	if cfg.Packer == nil {
		cfg.Packer = packer.New(packer.DefaultPacketSize)
	}
	if cfg.ReconnectionInterval == 0 {
		cfg.ReconnectionInterval = 50 * time.Millisecond
	}
	tr := New(cfg, prometheus.NewRegistry())
	t.Cleanup(func() {
		_ = tr.Shutdown()
	})
	return tr
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not satisfied within %s", timeout)
}

func TestBringUpConnectsToEachOther(t *testing.T) {
	a := newTestTransport(t, Config{Port: 18901})
	b := newTestTransport(t, Config{Port: 18902})

	an := NewNeighbor("127.0.0.1", 18902)
	bn := NewNeighbor("127.0.0.1", 18901)
	if err := a.AddNeighbor(an); err != nil {
		t.Fatalf("a.AddNeighbor: %v", err)
	}
	if err := b.AddNeighbor(bn); err != nil {
		t.Fatalf("b.AddNeighbor: %v", err)
	}

	if err := a.Run(); err != nil {
		t.Fatalf("a.Run: %v", err)
	}
	if err := b.Run(); err != nil {
		t.Fatalf("b.Run: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool { return a.IsConnectedTo(an) })
	waitFor(t, 2*time.Second, func() bool { return b.IsConnectedTo(bn) })
}

func TestSendAndReceiveRoundTrip(t *testing.T) {
	a := newTestTransport(t, Config{Port: 18911})
	b := newTestTransport(t, Config{Port: 18912})

	an := NewNeighbor("127.0.0.1", 18912)
	bn := NewNeighbor("127.0.0.1", 18911)
	if err := a.AddNeighbor(an); err != nil {
		t.Fatalf("a.AddNeighbor: %v", err)
	}
	if err := b.AddNeighbor(bn); err != nil {
		t.Fatalf("b.AddNeighbor: %v", err)
	}

	var mu sync.Mutex
	var received transaction.Transaction
	var got bool
	b.OnReceive(func(tx transaction.Transaction, from *Neighbor, remoteAddr string) {
		mu.Lock()
		defer mu.Unlock()
		received = tx
		got = true
	})

	if err := a.Run(); err != nil {
		t.Fatalf("a.Run: %v", err)
	}
	if err := b.Run(); err != nil {
		t.Fatalf("b.Run: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool { return a.IsConnectedTo(an) })

	payload := transaction.Data("hello gateway")
	if err := a.Send(payload, an); err != nil {
		t.Fatalf("a.Send: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return got
	})

	mu.Lock()
	defer mu.Unlock()
	if string(received.Payload) != string(payload) {
		t.Fatalf("received payload %q, want %q", received.Payload, payload)
	}
}

func TestSendWithoutConnectionFailsNotConnected(t *testing.T) {
	a := newTestTransport(t, Config{Port: 18921})
	if err := a.Run(); err != nil {
		t.Fatalf("a.Run: %v", err)
	}

	n := NewNeighbor("127.0.0.1", 18999)
	if err := a.AddNeighbor(n); err != nil {
		t.Fatalf("a.AddNeighbor: %v", err)
	}

	err := a.Send(transaction.Data("x"), n)
	if err == nil {
		t.Fatal("expected error sending to unconnected neighbor")
	}
	te, ok := err.(*TransportError)
	if !ok || te.Kind != KindNotConnected {
		t.Fatalf("got error %v, want KindNotConnected", err)
	}
}

func TestSendForbiddenWhenNeighborCannotSendTo(t *testing.T) {
	a := newTestTransport(t, Config{Port: 18931})
	n := &Neighbor{Host: "127.0.0.1", Port: 18932, GatewayCanSendTo: false, GatewayCanReceiveFrom: true}
	err := a.Send(transaction.Data("x"), n)
	if err == nil {
		t.Fatal("expected error")
	}
	te, ok := err.(*TransportError)
	if !ok || te.Kind != KindSendForbidden {
		t.Fatalf("got error %v, want KindSendForbidden", err)
	}
}

func TestReceiveForbiddenNeighborSilentlyDropped(t *testing.T) {
	a := newTestTransport(t, Config{Port: 18935})
	b := newTestTransport(t, Config{Port: 18936})

	bn := &Neighbor{Host: "127.0.0.1", Port: 18936, GatewayCanSendTo: true, GatewayCanReceiveFrom: false}
	if err := a.AddNeighbor(bn); err != nil {
		t.Fatalf("a.AddNeighbor: %v", err)
	}
	an := NewNeighbor("127.0.0.1", 18935)
	if err := b.AddNeighbor(an); err != nil {
		t.Fatalf("b.AddNeighbor: %v", err)
	}

	var mu sync.Mutex
	var got bool
	a.OnReceive(func(tx transaction.Transaction, from *Neighbor, remoteAddr string) {
		mu.Lock()
		defer mu.Unlock()
		got = true
	})

	if err := a.Run(); err != nil {
		t.Fatalf("a.Run: %v", err)
	}
	if err := b.Run(); err != nil {
		t.Fatalf("b.Run: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool { return b.IsConnectedTo(an) })

	if err := b.Send(transaction.Data("should be dropped"), an); err != nil {
		t.Fatalf("b.Send: %v", err)
	}

	time.Sleep(200 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if got {
		t.Fatal("expected A's receive listener to never fire for a GatewayCanReceiveFrom=false neighbor")
	}
}

func TestReconnectLoopHealsBrokenNeighbor(t *testing.T) {
	a := newTestTransport(t, Config{Port: 18941, ReconnectionInterval: 30 * time.Millisecond})
	an := NewNeighbor("127.0.0.1", 18942)
	if err := a.AddNeighbor(an); err != nil {
		t.Fatalf("a.AddNeighbor: %v", err)
	}
	if err := a.Run(); err != nil {
		t.Fatalf("a.Run: %v", err)
	}

	waitFor(t, time.Second, func() bool {
		a.mu.Lock()
		defer a.mu.Unlock()
		_, pending := a.neighbors.needsReconnect[an]
		return pending
	})

	b := newTestTransport(t, Config{Port: 18942})
	if err := b.Run(); err != nil {
		t.Fatalf("b.Run: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool { return a.IsConnectedTo(an) })
}

func TestUnknownNeighborAdmittedWhenEnabled(t *testing.T) {
	a := newTestTransport(t, Config{Port: 18951, ReceiveUnknownNeighbor: true})
	b := newTestTransport(t, Config{Port: 18952})

	var discovered *Neighbor
	var mu sync.Mutex
	a.OnNeighbor(func(n *Neighbor) {
		mu.Lock()
		defer mu.Unlock()
		discovered = n
	})

	if err := a.Run(); err != nil {
		t.Fatalf("a.Run: %v", err)
	}
	bn := NewNeighbor("127.0.0.1", 18951)
	if err := b.AddNeighbor(bn); err != nil {
		t.Fatalf("b.AddNeighbor: %v", err)
	}
	if err := b.Run(); err != nil {
		t.Fatalf("b.Run: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return discovered != nil
	})
}

func TestUnknownNeighborRejectedByDefault(t *testing.T) {
	a := newTestTransport(t, Config{Port: 18961})
	b := newTestTransport(t, Config{Port: 18962})

	if err := a.Run(); err != nil {
		t.Fatalf("a.Run: %v", err)
	}
	bn := NewNeighbor("127.0.0.1", 18961)
	if err := b.AddNeighbor(bn); err != nil {
		t.Fatalf("b.AddNeighbor: %v", err)
	}
	if err := b.Run(); err != nil {
		t.Fatalf("b.Run: %v", err)
	}

	waitFor(t, time.Second, func() bool { return b.IsConnectedTo(bn) })

	time.Sleep(100 * time.Millisecond)
	if a.GetNeighbor("127.0.0.1") != nil {
		t.Fatal("expected no neighbor to be auto-admitted")
	}
}

func TestTeardownClosesSendSockets(t *testing.T) {
	a := newTestTransport(t, Config{Port: 18971})
	b := newTestTransport(t, Config{Port: 18972})

	an := NewNeighbor("127.0.0.1", 18972)
	if err := a.AddNeighbor(an); err != nil {
		t.Fatalf("a.AddNeighbor: %v", err)
	}
	if err := a.Run(); err != nil {
		t.Fatalf("a.Run: %v", err)
	}
	if err := b.Run(); err != nil {
		t.Fatalf("b.Run: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool { return a.IsConnectedTo(an) })

	if err := a.Shutdown(); err != nil {
		t.Fatalf("a.Shutdown: %v", err)
	}
	if a.IsConnectedTo(an) {
		t.Fatal("expected send socket to be gone after shutdown")
	}
	if a.IsRunning() {
		t.Fatal("expected transport to report not running after shutdown")
	}
	if err := a.Shutdown(); err != ErrNotRunning {
		t.Fatalf("second Shutdown: got %v, want ErrNotRunning", err)
	}
}

func TestRunTwiceFailsAlreadyRunning(t *testing.T) {
	a := newTestTransport(t, Config{Port: 18981})
	if err := a.Run(); err != nil {
		t.Fatalf("a.Run: %v", err)
	}
	if err := a.Run(); err != ErrAlreadyRunning {
		t.Fatalf("second Run: got %v, want ErrAlreadyRunning", err)
	}
}

func TestAddNeighborTwiceFailsAlreadyExists(t *testing.T) {
	a := newTestTransport(t, Config{Port: 18991})
	n := NewNeighbor("127.0.0.1", 18992)
	if err := a.AddNeighbor(n); err != nil {
		t.Fatalf("first AddNeighbor: %v", err)
	}
	err := a.AddNeighbor(n)
	te, ok := err.(*TransportError)
	if !ok || te.Kind != KindAlreadyExists {
		t.Fatalf("got error %v, want KindAlreadyExists", err)
	}
}

func TestRemoveNeighborNotFound(t *testing.T) {
	a := newTestTransport(t, Config{Port: 19001})
	n := NewNeighbor("127.0.0.1", 19002)
	err := a.RemoveNeighbor(n)
	te, ok := err.(*TransportError)
	if !ok || te.Kind != KindNotFound {
		t.Fatalf("got error %v, want KindNotFound", err)
	}
}
