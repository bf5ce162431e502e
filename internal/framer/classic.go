package framer

import "github.com/mohanson/routerd/internal/sockops"

// classicHeaderLen is the uint24_le length + uint8 seq header size of a
// classic protocol packet.
const classicHeaderLen = 4

// Classic relays classic-protocol traffic, advancing a running
// packet-sequence counter once the handshake has completed and the
// Route isn't in raw pass-through mode.
type Classic struct{}

// NewClassic returns the classic-protocol Framer.
func NewClassic() *Classic {
	return &Classic{}
}

// CopyPackets implements Framer.
func (c *Classic) CopyPackets(ops sockops.Ops, from, to *sockops.FD, buf []byte, state *FrameState) (int, error) {
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
			if len(state.residual) < classicHeaderLen {
				break
			}
			length := int(state.residual[0]) | int(state.residual[1])<<8 | int(state.residual[2])<<16
			total := classicHeaderLen + length
			if len(state.residual) < total {
				break
			}
			state.Seq++ // wraps modulo 256 by virtue of uint8 arithmetic
			state.residual = state.residual[total:]
		}
	}

	return moved, nil
}

var _ Framer = (*Classic)(nil)
