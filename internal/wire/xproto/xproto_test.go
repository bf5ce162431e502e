package xproto

import "testing"

func TestEncodeHeader(t *testing.T) {
	dst := make([]byte, 5)
	EncodeHeader(dst, 0x04030201, 9)
	want := []byte{0x01, 0x02, 0x03, 0x04, 9}
	for i := range want {
		if dst[i] != want[i] {
			t.Errorf("dst[%d] = %#x, want %#x", i, dst[i], want[i])
		}
	}
}

func TestConnectionCloseLiteral(t *testing.T) {
	want := []byte{0x01, 0x00, 0x00, 0x00, 0x03}
	if len(ConnectionClose) != len(want) {
		t.Fatalf("len(ConnectionClose) = %d, want %d", len(ConnectionClose), len(want))
	}
	for i := range want {
		if ConnectionClose[i] != want[i] {
			t.Errorf("ConnectionClose[%d] = %#x, want %#x", i, ConnectionClose[i], want[i])
		}
	}
}

func TestRejectionFrame(t *testing.T) {
	frame := RejectionFrame("Too many connections")

	length := uint32(frame[0]) | uint32(frame[1])<<8 | uint32(frame[2])<<16 | uint32(frame[3])<<24
	if int(length)+4 != len(frame) {
		t.Errorf("header length = %d, frame len = %d", length, len(frame))
	}
	if frame[4] != noticeType {
		t.Errorf("type = %d, want %d", frame[4], noticeType)
	}
	if frame[5] != fatalNoticeCode {
		t.Errorf("notice code = %d, want %d", frame[5], fatalNoticeCode)
	}
	if string(frame[6:]) != "Too many connections" {
		t.Errorf("message = %q", frame[6:])
	}
}
