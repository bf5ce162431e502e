//go:build !linux

package sockops

import (
	"errors"
	"net"
	"time"
)

// Real is a stub on non-Linux platforms. The router core's use of
// POSIX-level poll/SO_ERROR/non-blocking primitives is Linux-specific;
// elsewhere the process should be run against a Mock or a future
// platform-specific implementation.
type Real struct{}

// NewReal returns a Real whose methods all fail with errUnsupported,
// except Errno, which returns nil.
func NewReal() *Real {
	return &Real{}
}

var errUnsupported = errors.New("sockops: real implementation requires linux")

func (r *Real) Open(family, sockType int) (*FD, error)                             { return nil, errUnsupported }
func (r *Real) Bind(fd *FD, addr net.Addr) error                                   { return errUnsupported }
func (r *Real) Listen(fd *FD, backlog int) error                                   { return errUnsupported }
func (r *Real) Accept(fd *FD) (*FD, net.Addr, error)                               { return nil, nil, errUnsupported }
func (r *Real) Connect(fd *FD, addr net.Addr) (ConnectResult, error)               { return ConnectError, errUnsupported }
func (r *Real) Poll(fd *FD, events PollEvent, timeout time.Duration) (int, error)  { return 0, errUnsupported }
func (r *Real) SocketError(fd *FD) error                                          { return errUnsupported }
func (r *Real) Read(fd *FD, buf []byte) (int, error)                               { return -1, errUnsupported }
func (r *Real) Write(fd *FD, buf []byte) (int, error)                              { return -1, errUnsupported }
func (r *Real) SetBlocking(fd *FD, blocking bool) error                            { return errUnsupported }
func (r *Real) SetNoDelay(fd *FD, enabled bool) error                              { return errUnsupported }
func (r *Real) Shutdown(fd *FD) error                                             { return errUnsupported }
func (r *Real) Close(fd *FD) error                                                { return errUnsupported }
func (r *Real) Errno() error                                                      { return nil }
