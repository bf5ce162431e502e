package framer

import "github.com/mohanson/routerd/internal/sockops"

// xprotoLenFieldSize is the size of the uint32_le length prefix. The
// length itself counts the type byte plus payload that follow it, so a
// complete message is xprotoLenFieldSize+length bytes on the wire.
const xprotoLenFieldSize = 4

// connectionCloseType is the extended-protocol message type identifying
// a graceful termination notice (type=3, length=1 — the 5-byte message
// 01 00 00 00 03).
const connectionCloseType = 3

// Xproto relays extended-protocol traffic and recognizes the
// ConnectionClose message (the literal bytes 01 00 00 00 03).
type Xproto struct{}

// NewXproto returns the extended-protocol Framer.
func NewXproto() *Xproto {
	return &Xproto{}
}

// CopyPackets implements Framer.
func (x *Xproto) CopyPackets(ops sockops.Ops, from, to *sockops.FD, buf []byte, state *FrameState) (int, error) {
	n, err := ops.Read(from, buf)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, ErrEOF
	}

	moved, err := writeAll(ops, to, buf[:n])
	if err != nil {
		return moved, err
	}

	if state.HandshakeDone && !state.PassThrough {
		state.residual = append(state.residual, buf[:n]...)
		for {
			if len(state.residual) < xprotoLenFieldSize+1 {
				break
			}
			length := uint32(state.residual[0]) | uint32(state.residual[1])<<8 |
				uint32(state.residual[2])<<16 | uint32(state.residual[3])<<24
			total := xprotoLenFieldSize + int(length)
			if len(state.residual) < total {
				break
			}
			msgType := state.residual[xprotoLenFieldSize]
			if msgType == connectionCloseType && length == 1 {
				state.GracefulClose = true
			}
			state.residual = state.residual[total:]
		}
	}

	return moved, nil
}

var _ Framer = (*Xproto)(nil)
