// Package framer implements the two protocol-aware byte pumps a pair
// worker runs, one per direction: classic (per-packet sequence numbers)
// and extended (length-prefixed messages). Neither variant parses the
// payload; both only walk framing headers far enough to track a running
// sequence counter / recognize the extended ConnectionClose message.
package framer

import (
	"errors"
	"time"

	"github.com/mohanson/routerd/internal/sockops"
)

// ErrEOF is returned when a read returns 0 bytes with no error — an
// orderly close of the source side. The Route ends the relay on this and
// closes both connections without logging an error, whether or not an
// extended ConnectionClose message set FrameState.GracefulClose first.
var ErrEOF = errors.New("framer: orderly eof")

// FrameState carries per-direction framing state across repeated
// CopyPackets calls. Seq is only meaningful for the classic variant.
// GracefulClose is only ever set by the extended variant.
type FrameState struct {
	Seq           uint8
	HandshakeDone bool
	PassThrough   bool
	GracefulClose bool

	residual []byte
}

// Framer performs one bounded read from "from" and relays it to "to",
// retrying partial and zero-length writes until every byte read has been
// emitted.
type Framer interface {
	// CopyPackets performs exactly one read from "from". It returns the
	// number of bytes successfully relayed to "to" and a nil error on
	// success, ErrEOF on an orderly empty read, or the underlying I/O
	// error otherwise.
	CopyPackets(ops sockops.Ops, from, to *sockops.FD, buf []byte, state *FrameState) (moved int, err error)
}

// Retrying a 0-byte write forever would busy-spin (spec's open question);
// bound the spin and fall back to polling for writability instead.
const (
	maxZeroWriteSpins   = 64
	writeRetryPollDelay = 200 * time.Microsecond
)

// writeAll relays data to "to", loop-retrying partial writes. A write
// returning 0 is not an error and must be retried; after
// maxZeroWriteSpins consecutive zero-writes it polls for writability
// rather than spinning the CPU.
func writeAll(ops sockops.Ops, to *sockops.FD, data []byte) (int, error) {
	moved := 0
	zeroSpins := 0
	for len(data) > 0 {
		n, err := ops.Write(to, data)
		if err != nil {
			return moved, err
		}
		if n == 0 {
			zeroSpins++
			if zeroSpins >= maxZeroWriteSpins {
				ops.Poll(to, sockops.PollWritable, writeRetryPollDelay)
				zeroSpins = 0
			}
			continue
		}
		zeroSpins = 0
		moved += n
		data = data[n:]
	}
	return moved, nil
}
