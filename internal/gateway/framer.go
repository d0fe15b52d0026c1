package gateway

// framer turns a continuous inbound byte stream into fixed-size blocks, per
// spec.md §4.1. It has no concept of message boundaries beyond the packet
// size: Feed appends bytes to an internal buffer and Next drains complete
// blocks in arrival order, leaving a trailing partial block buffered.
//
// Grounded on the length-delimited read loop in
// internal/platform/dtn/transport.go's handleConnection (which reads a
// 4-byte length header then exactly that many payload bytes); here the
// length is constant instead of wire-declared, so framer only needs a
// growable buffer and a slice operation.
type framer struct {
	packetSize int
	buf        []byte
}

func newFramer(packetSize int) *framer {
	return &framer{packetSize: packetSize}
}

// feed appends bytes read from the socket to the framer's buffer.
func (f *framer) feed(b []byte) {
	f.buf = append(f.buf, b...)
}

// next returns the next complete block and true if one is available, or
// nil and false if fewer than packetSize bytes are currently buffered.
func (f *framer) next() ([]byte, bool) {
	if len(f.buf) < f.packetSize {
		return nil, false
	}
	block := make([]byte, f.packetSize)
	copy(block, f.buf[:f.packetSize])
	f.buf = f.buf[f.packetSize:]
	return block, true
}

// drain returns every complete block currently bufferable, in arrival
// order. Used after each socket Read to emit as many packets as the read
// contained.
func (f *framer) drain() [][]byte {
	var blocks [][]byte
	for {
		block, ok := f.next()
		if !ok {
			return blocks
		}
		blocks = append(blocks, block)
	}
}
