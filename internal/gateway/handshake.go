package gateway

import (
	"fmt"
	"regexp"
	"strconv"
)

// handshakeSize is the fixed length, in bytes, of the port-announcement
// handshake every outbound socket writes before any application packet
// (spec.md §6).
const handshakeSize = 10

var handshakePattern = regexp.MustCompile(`^[0-9]{10}$`)

// encodeHandshake renders a listening port as the 10-ASCII-digit,
// zero-left-padded handshake payload spec.md §4.3 and §6 require. Port
// 1440 becomes "0000001440".
func encodeHandshake(port uint16) []byte {
	return []byte(fmt.Sprintf("%010d", port))
}

// decodeHandshake validates and parses a handshake payload. It returns a
// *TransportError of kind HandshakeInvalid for anything that is not
// exactly 10 ASCII digits, matching spec.md §4.4 step 2 and the explicit
// "treat invalid handshake as terminal" guidance in §9 (the source this was
// generalized from kept going after logging the error; this does not).
func decodeHandshake(payload []byte) (uint16, error) {
	text := string(payload)
	if !handshakePattern.MatchString(text) {
		return 0, wrapError(KindHandshakeInvalid, fmt.Sprintf("invalid handshake payload %q", text), nil)
	}

	port, err := strconv.ParseUint(text, 10, 16)
	if err != nil {
		// A 10-digit string that is valid per the regex can still exceed
		// uint16's range (e.g. "9999999999"); that is also an invalid
		// handshake, not a parse bug.
		return 0, wrapError(KindHandshakeInvalid, fmt.Sprintf("handshake port %q out of range", text), err)
	}
	return uint16(port), nil
}
