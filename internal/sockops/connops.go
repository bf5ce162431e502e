package sockops

import (
	"errors"
	"io"
	"net"
	"time"
)

var errUnsupportedAdapter = errors.New("sockops: operation not supported on a ConnOps adapter")

// ConnOps adapts a handful of already-established net.Conn values to
// the Ops interface so the relay stage's Framer.CopyPackets can read and
// write through the same abstraction used by the accept/connect paths,
// without re-deriving raw file descriptors from a net.Conn (which the
// standard library does not expose portably).
//
// Only the operations a running relay actually needs — Read, Write,
// Poll (for the framer's zero-write retry), Shutdown and Close — are
// meaningful. Open, Bind, Listen, Accept and Connect return an error if
// called; SocketError, SetBlocking and SetNoDelay are no-ops returning
// nil.
type ConnOps struct {
	conns map[int]net.Conn
	next  int
}

// NewConnOps returns an empty ConnOps.
func NewConnOps() *ConnOps {
	return &ConnOps{conns: map[int]net.Conn{}, next: 1}
}

// Track registers conn and returns the FD handle CopyPackets should use
// to address it.
func (c *ConnOps) Track(conn net.Conn) *FD {
	id := c.next
	c.next++
	c.conns[id] = conn
	return NewFD(id)
}

func (c *ConnOps) Read(fd *FD, buf []byte) (int, error) {
	n, err := c.conns[fd.Raw].Read(buf)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return 0, nil
		}
		return -1, err
	}
	return n, nil
}

func (c *ConnOps) Write(fd *FD, buf []byte) (int, error) {
	n, err := c.conns[fd.Raw].Write(buf)
	if err != nil {
		return -1, err
	}
	return n, nil
}

func (c *ConnOps) Poll(fd *FD, events PollEvent, timeout time.Duration) (int, error) {
	time.Sleep(timeout)
	return 1, nil
}

func (c *ConnOps) Shutdown(fd *FD) error {
	conn := c.conns[fd.Raw]
	if conn == nil {
		return nil
	}
	type halfCloser interface {
		CloseRead() error
		CloseWrite() error
	}
	if hc, ok := conn.(halfCloser); ok {
		rerr := hc.CloseRead()
		if werr := hc.CloseWrite(); werr != nil {
			return werr
		}
		return rerr
	}
	return nil
}

func (c *ConnOps) Close(fd *FD) error {
	if fd.closed.Swap(true) {
		return nil
	}
	conn := c.conns[fd.Raw]
	if conn == nil {
		return nil
	}
	return conn.Close()
}

func (c *ConnOps) Errno() error { return nil }

func (c *ConnOps) Open(family, sockType int) (*FD, error) { return nil, errUnsupportedAdapter }
func (c *ConnOps) Bind(fd *FD, addr net.Addr) error        { return errUnsupportedAdapter }
func (c *ConnOps) Listen(fd *FD, backlog int) error        { return errUnsupportedAdapter }
func (c *ConnOps) Accept(fd *FD) (*FD, net.Addr, error)    { return nil, nil, errUnsupportedAdapter }
func (c *ConnOps) Connect(fd *FD, addr net.Addr) (ConnectResult, error) {
	return ConnectError, errUnsupportedAdapter
}
func (c *ConnOps) SocketError(fd *FD) error                { return nil }
func (c *ConnOps) SetBlocking(fd *FD, blocking bool) error  { return nil }
func (c *ConnOps) SetNoDelay(fd *FD, enabled bool) error    { return nil }

var _ Ops = (*ConnOps)(nil)
