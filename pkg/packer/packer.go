// Package packer implements the fixed-size wire codec a gateway transport
// uses to turn transactions into constant-length packets and back. The
// transport treats the codec as an external collaborator (spec.md §1); this
// package is the concrete default implementation tests and commands use.
//
// Wire format of one packed transaction (always exactly PacketSize bytes):
//
//	bytes 0..15   transaction UUID (16 bytes, big-endian fields per RFC 4122)
//	bytes 16..19  payload length, uint32 big-endian
//	bytes 20..N   payload
//	bytes N..end  zero padding
//
// This mirrors pkg/bundle's Encoder/Decoder (length-prefixed fields written
// with encoding/binary), adapted to a fixed total size instead of a
// variable-length stream.
package packer

import (
	"encoding/binary"
	"fmt"

	"github.com/asgard/gatewaytransport/pkg/transaction"
	"github.com/google/uuid"
)

const headerSize = 16 + 4

// DefaultPacketSize is used when a caller does not have a specific MTU in
// mind. 512 bytes comfortably fits a UUID, length prefix, and a modest
// payload without fragmentation concerns at the framer.
const DefaultPacketSize = 512

// Packer packs a Transaction into a fixed-size packet and back. Implementations
// must be safe for concurrent use; Pack and Unpack are pure functions of
// their argument.
type Packer interface {
	// PacketSize is the exact length, in bytes, of every packet this Packer
	// produces and consumes.
	PacketSize() int

	// Pack encodes a transaction into exactly PacketSize() bytes.
	Pack(tx transaction.Transaction) ([]byte, error)

	// Unpack decodes a packet previously produced by Pack.
	Unpack(block []byte) (transaction.Transaction, error)
}

// FixedPacker is the reference Packer implementation: a length-prefixed
// header padded with zeroes out to a fixed packet size.
type FixedPacker struct {
	packetSize int
}

// New creates a FixedPacker with the given packet size. packetSize must be
// large enough to hold the header (20 bytes); New panics otherwise, since a
// too-small packet size is a programming error, not a runtime condition.
func New(packetSize int) *FixedPacker {
	if packetSize < headerSize {
		panic(fmt.Sprintf("packer: packetSize %d smaller than header size %d", packetSize, headerSize))
	}
	return &FixedPacker{packetSize: packetSize}
}

// PacketSize implements Packer.
func (p *FixedPacker) PacketSize() int {
	return p.packetSize
}

// Pack implements Packer.
func (p *FixedPacker) Pack(tx transaction.Transaction) ([]byte, error) {
	if headerSize+len(tx.Payload) > p.packetSize {
		return nil, fmt.Errorf("packer: payload of %d bytes exceeds packet capacity %d",
			len(tx.Payload), p.packetSize-headerSize)
	}

	out := make([]byte, p.packetSize)
	idBytes, err := tx.ID.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("packer: marshal id: %w", err)
	}
	copy(out[0:16], idBytes)
	binary.BigEndian.PutUint32(out[16:20], uint32(len(tx.Payload)))
	copy(out[20:], tx.Payload)
	return out, nil
}

// Unpack implements Packer.
func (p *FixedPacker) Unpack(block []byte) (transaction.Transaction, error) {
	if len(block) != p.packetSize {
		return transaction.Transaction{}, fmt.Errorf("packer: block of %d bytes, want %d", len(block), p.packetSize)
	}

	id, err := uuid.FromBytes(block[0:16])
	if err != nil {
		return transaction.Transaction{}, fmt.Errorf("packer: parse id: %w", err)
	}

	payloadLen := binary.BigEndian.Uint32(block[16:20])
	if int(payloadLen) > p.packetSize-headerSize {
		return transaction.Transaction{}, fmt.Errorf("packer: declared payload length %d exceeds packet capacity", payloadLen)
	}

	payload := make(transaction.Data, payloadLen)
	copy(payload, block[20:20+int(payloadLen)])

	return transaction.Transaction{ID: id, Payload: payload}, nil
}
