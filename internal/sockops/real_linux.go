//go:build linux

package sockops

import (
	"fmt"
	"net"
	"time"

	"golang.org/x/sys/unix"
)

// Real is the production Ops, a thin wrapper over golang.org/x/sys/unix.
// One Real is shared by every Route in the process (see Default()).
type Real struct{}

// NewReal returns the real, syscall-backed Ops.
func NewReal() *Real {
	return &Real{}
}

func (r *Real) Open(family, sockType int) (*FD, error) {
	fd, err := unix.Socket(family, sockType, 0)
	if err != nil {
		return nil, fmt.Errorf("sockops: open: %w", err)
	}
	return NewFD(fd), nil
}

func toSockaddr(addr net.Addr) (unix.Sockaddr, error) {
	switch a := addr.(type) {
	case *net.TCPAddr:
		if ip4 := a.IP.To4(); ip4 != nil {
			var sa unix.SockaddrInet4
			sa.Port = a.Port
			copy(sa.Addr[:], ip4)
			return &sa, nil
		}
		var sa unix.SockaddrInet6
		sa.Port = a.Port
		copy(sa.Addr[:], a.IP.To16())
		return &sa, nil
	case *net.UnixAddr:
		return &unix.SockaddrUnix{Name: a.Name}, nil
	}
	return nil, fmt.Errorf("sockops: unsupported address type %T", addr)
}

func (r *Real) Bind(fd *FD, addr net.Addr) error {
	sa, err := toSockaddr(addr)
	if err != nil {
		return err
	}
	return unix.Bind(fd.Raw, sa)
}

func (r *Real) Listen(fd *FD, backlog int) error {
	return unix.Listen(fd.Raw, backlog)
}

func (r *Real) Accept(fd *FD) (*FD, net.Addr, error) {
	nfd, sa, err := unix.Accept(fd.Raw)
	if err != nil {
		return nil, nil, err
	}
	return NewFD(nfd), sockaddrToNet(sa), nil
}

func sockaddrToNet(sa unix.Sockaddr) net.Addr {
	switch v := sa.(type) {
	case *unix.SockaddrInet4:
		return &net.TCPAddr{IP: append([]byte(nil), v.Addr[:]...), Port: v.Port}
	case *unix.SockaddrInet6:
		return &net.TCPAddr{IP: append([]byte(nil), v.Addr[:]...), Port: v.Port}
	case *unix.SockaddrUnix:
		return &net.UnixAddr{Name: v.Name, Net: "unix"}
	}
	return nil
}

func (r *Real) Connect(fd *FD, addr net.Addr) (ConnectResult, error) {
	sa, err := toSockaddr(addr)
	if err != nil {
		return ConnectError, err
	}
	err = unix.Connect(fd.Raw, sa)
	if err == nil {
		return ConnectOK, nil
	}
	if err == unix.EINPROGRESS {
		return ConnectInProgress, nil
	}
	return ConnectError, err
}

func (r *Real) Poll(fd *FD, events PollEvent, timeout time.Duration) (int, error) {
	var flags int16
	if events&PollWritable != 0 {
		flags |= unix.POLLOUT
	}
	if events&PollReadable != 0 {
		flags |= unix.POLLIN
	}
	fds := []unix.PollFd{{Fd: int32(fd.Raw), Events: flags}}
	ms := int(timeout / time.Millisecond)
	if timeout < 0 {
		ms = -1
	}
	n, err := unix.Poll(fds, ms)
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (r *Real) SocketError(fd *FD) error {
	errno, err := unix.GetsockoptInt(fd.Raw, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return err
	}
	if errno == 0 {
		return nil
	}
	return unix.Errno(errno)
}

func (r *Real) Read(fd *FD, buf []byte) (int, error) {
	n, err := unix.Read(fd.Raw, buf)
	if err != nil {
		return -1, err
	}
	return n, nil
}

func (r *Real) Write(fd *FD, buf []byte) (int, error) {
	n, err := unix.Write(fd.Raw, buf)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return 0, nil
		}
		return -1, err
	}
	return n, nil
}

func (r *Real) SetBlocking(fd *FD, blocking bool) error {
	return unix.SetNonblock(fd.Raw, !blocking)
}

func (r *Real) SetNoDelay(fd *FD, enabled bool) error {
	v := 0
	if enabled {
		v = 1
	}
	return unix.SetsockoptInt(fd.Raw, unix.IPPROTO_TCP, unix.TCP_NODELAY, v)
}

func (r *Real) Shutdown(fd *FD) error {
	if fd.Closed() {
		return nil
	}
	err := unix.Shutdown(fd.Raw, unix.SHUT_RDWR)
	if err != nil && err != unix.ENOTCONN {
		return err
	}
	return nil
}

func (r *Real) Close(fd *FD) error {
	if fd.closed.Swap(true) {
		return nil
	}
	return unix.Close(fd.Raw)
}

func (r *Real) Errno() error {
	return nil
}
