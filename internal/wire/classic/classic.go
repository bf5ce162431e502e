// Package classic encodes the classic protocol's packet header and the
// admission-rejection ERR packet a Route sends a client it refuses.
package classic

import "encoding/binary"

// EncodeHeader writes a uint24_le length + uint8 seq header into dst
// (which must be at least 4 bytes) and returns it.
func EncodeHeader(dst []byte, length uint32, seq uint8) []byte {
	dst[0] = byte(length)
	dst[1] = byte(length >> 8)
	dst[2] = byte(length >> 16)
	dst[3] = seq
	return dst
}

// erConCountError is the classic protocol's "too many connections" error
// code.
const erConCountError = 1040

// RejectionPacket builds the ERR packet sent to a client refused on
// admission (blacklisted IP or the route at max_connections). Seq is 0
// because no packet has been exchanged yet.
func RejectionPacket(message string) []byte {
	body := make([]byte, 0, 9+len(message))
	body = append(body, 0xff) // ERR header marker
	code := make([]byte, 2)
	binary.LittleEndian.PutUint16(code, erConCountError)
	body = append(body, code...)
	body = append(body, '#')
	body = append(body, []byte("08004")...) // SQLSTATE: too many connections
	body = append(body, []byte(message)...)

	pkt := make([]byte, 4+len(body))
	EncodeHeader(pkt, uint32(len(body)), 0)
	copy(pkt[4:], body)
	return pkt
}
