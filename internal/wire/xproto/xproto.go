// Package xproto encodes the extended protocol's message header, the
// fatal Notice frame a Route sends a client it refuses on admission, and
// the ConnectionClose message the framer recognizes.
package xproto

import "encoding/binary"

// ConnectionClose is the literal 5-byte message a client or server sends
// to announce a graceful relay termination: length=1, type=3.
var ConnectionClose = []byte{0x01, 0x00, 0x00, 0x00, 0x03}

const noticeType = 11

// EncodeHeader writes a uint32_le length + uint8 type header into dst
// (which must be at least 5 bytes). length counts the type byte plus
// whatever payload follows it.
func EncodeHeader(dst []byte, length uint32, msgType uint8) []byte {
	binary.LittleEndian.PutUint32(dst[0:4], length)
	dst[4] = msgType
	return dst
}

// fatalNoticeCode marks a Notice frame as a fatal, connection-ending
// error rather than an informational one.
const fatalNoticeCode = 1

// RejectionFrame builds the fatal Notice frame sent to a client refused
// on admission (blacklisted IP or the route at max_connections).
func RejectionFrame(message string) []byte {
	payload := make([]byte, 0, 1+len(message))
	payload = append(payload, fatalNoticeCode)
	payload = append(payload, []byte(message)...)

	frame := make([]byte, 5+len(payload))
	EncodeHeader(frame, uint32(1+len(payload)), noticeType)
	copy(frame[5:], payload)
	return frame
}
