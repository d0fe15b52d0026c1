// Package transaction defines the data model exchanged over a gateway
// transport: an opaque payload (Data), the envelope that carries it
// (Transaction), and the content hash used to verify round-trips.
//
// This mirrors the role pkg/bundle.Bundle played for the DTN transport this
// package was generalized from, trimmed to the fields a flat neighbor-to-
// neighbor gateway actually needs (no endpoint IDs, hop counts, or
// fragmentation — those belong to multi-hop routing, which is out of scope
// here).
package transaction

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Data is the opaque application payload carried by a Transaction.
type Data []byte

// Hash is the content hash of a Transaction, used to verify that a value
// received by a peer round-trips to the value sent.
type Hash [32]byte

// String returns the lowercase hex encoding of the hash.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// Transaction is the envelope a gateway transport sends and receives.
type Transaction struct {
	ID        uuid.UUID `json:"id"`
	Payload   Data      `json:"payload"`
	CreatedAt time.Time `json:"createdAt"`
}

// New creates a Transaction wrapping the given payload.
func New(payload Data) Transaction {
	return Transaction{
		ID:        uuid.New(),
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}
}

// Hash returns the content hash of the transaction, computed over its ID
// and payload, mirroring pkg/bundle.Bundle.Hash.
func (t Transaction) Hash() Hash {
	h := sha256.New()
	h.Write(t.ID[:])
	h.Write(t.Payload)
	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}

// Equivalent reports whether two transactions carry the same payload and
// identity — the round-trip equality the transport's testable properties
// require (see spec.md §8, invariant 4).
func (t Transaction) Equivalent(other Transaction) bool {
	return t.ID == other.ID && string(t.Payload) == string(other.Payload)
}

// Clone returns a deep copy of the transaction.
func (t Transaction) Clone() Transaction {
	payloadCopy := make(Data, len(t.Payload))
	copy(payloadCopy, t.Payload)
	return Transaction{ID: t.ID, Payload: payloadCopy, CreatedAt: t.CreatedAt}
}

// String returns a human-readable representation of the transaction.
func (t Transaction) String() string {
	return fmt.Sprintf("Transaction[id=%s, size=%d]", t.ID.String()[:8], len(t.Payload))
}
