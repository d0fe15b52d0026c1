package packer

import (
	"strings"
	"testing"

	"github.com/asgard/gatewaytransport/pkg/transaction"
)

func TestPackUnpackRoundTrip(t *testing.T) {
	p := New(DefaultPacketSize)
	tx := transaction.New(transaction.Data("hello, neighbor"))

	block, err := p.Pack(tx)
	if err != nil {
		t.Fatalf("Pack() error: %v", err)
	}
	if len(block) != p.PacketSize() {
		t.Fatalf("Pack() produced %d bytes, want %d", len(block), p.PacketSize())
	}

	got, err := p.Unpack(block)
	if err != nil {
		t.Fatalf("Unpack() error: %v", err)
	}

	if !tx.Equivalent(got) {
		t.Errorf("round trip mismatch: sent %v, got %v", tx, got)
	}
}

func TestPackRejectsOversizedPayload(t *testing.T) {
	p := New(headerSize + 4)
	tx := transaction.New(transaction.Data("too big for this packet"))

	if _, err := p.Pack(tx); err == nil {
		t.Fatal("Pack() should reject a payload that exceeds packet capacity")
	}
}

func TestUnpackRejectsWrongLength(t *testing.T) {
	p := New(DefaultPacketSize)

	if _, err := p.Unpack(make([]byte, p.PacketSize()-1)); err == nil {
		t.Fatal("Unpack() should reject a block of the wrong length")
	}
}

func TestNewPanicsOnTinyPacketSize(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("New() should panic when packetSize is smaller than the header")
		}
	}()
	New(4)
}

func TestPackZeroPadsUnusedCapacity(t *testing.T) {
	p := New(DefaultPacketSize)
	tx := transaction.New(transaction.Data("x"))

	block, err := p.Pack(tx)
	if err != nil {
		t.Fatalf("Pack() error: %v", err)
	}

	trailing := block[headerSize+len(tx.Payload):]
	if strings.Count(string(trailing), "\x00") != len(trailing) {
		t.Error("Pack() should zero-pad bytes beyond the encoded payload")
	}
}
