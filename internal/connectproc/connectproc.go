// Package connectproc implements the outbound connect procedure: resolve
// an address's candidate IPs, attempt a non-blocking connect against
// each in turn, and distinguish a refused candidate from one that timed
// out.
package connectproc

import (
	"context"
	"net"
	"time"

	"github.com/mohanson/routerd/internal/netaddr"
	"github.com/mohanson/routerd/internal/sockops"
)

// Address family / socket type constants, Linux values (matching
// sockops.Real, which is Linux-only — see its build tag).
const (
	unixAFInet     = 2
	unixAFInet6    = 10
	unixSockStream = 1
)

// Outcome is the tri-state result of Dial.
type Outcome int

const (
	Connected Outcome = iota
	Refused
	TimedOut
)

// String implements fmt.Stringer.
func (o Outcome) String() string {
	switch o {
	case Connected:
		return "connected"
	case Refused:
		return "refused"
	case TimedOut:
		return "timed-out"
	}
	return "unknown"
}

// HostResolver looks up the IP candidates for a host. The production
// implementation wraps *net.Resolver; tests substitute a fixed list.
type HostResolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

// SystemResolver adapts *net.Resolver to HostResolver.
type SystemResolver struct {
	Resolver *net.Resolver
}

// LookupIPAddr implements HostResolver.
func (s SystemResolver) LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error) {
	r := s.Resolver
	if r == nil {
		r = net.DefaultResolver
	}
	return r.LookupIPAddr(ctx, host)
}

// Dial resolves addr via AF_UNSPEC getaddrinfo-equivalent lookup and
// iterates candidates, non-blocking-connecting each with the remaining
// slice of timeout. It returns the connected fd on success, or Refused /
// TimedOut with the last observed error once every candidate is
// exhausted.
func Dial(ctx context.Context, ops sockops.Ops, resolver HostResolver, addr netaddr.Address, timeout time.Duration) (*sockops.FD, Outcome, error) {
	deadline := time.Now().Add(timeout)

	ips, err := resolver.LookupIPAddr(ctx, addr.Host)
	if err != nil {
		if ip := net.ParseIP(addr.Host); ip != nil {
			ips = []net.IPAddr{{IP: ip}}
		} else {
			return nil, Refused, err
		}
	}
	if len(ips) == 0 {
		return nil, Refused, context.DeadlineExceeded
	}

	var lastErr error
	lastWasTimeout := false

	for _, ipAddr := range ips {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			lastWasTimeout = true
			break
		}

		family := unixAFInet
		if ipAddr.IP.To4() == nil {
			family = unixAFInet6
		}

		fd, err := ops.Open(family, unixSockStream)
		if err != nil {
			lastErr = err
			continue
		}
		if err := ops.SetBlocking(fd, false); err != nil {
			ops.Close(fd)
			lastErr = err
			continue
		}

		target := &net.TCPAddr{IP: ipAddr.IP, Port: int(addr.Port)}
		result, connErr := ops.Connect(fd, target)
		switch result {
		case sockops.ConnectOK:
			finish(ops, fd)
			return fd, Connected, nil
		case sockops.ConnectError:
			ops.Close(fd)
			lastErr = connErr
			lastWasTimeout = false
			continue
		}

		// In progress: poll for writability within the remaining budget.
		ready, pollErr := ops.Poll(fd, sockops.PollWritable, remaining)
		if pollErr != nil {
			ops.Close(fd)
			lastErr = pollErr
			lastWasTimeout = false
			continue
		}
		if ready == 0 {
			ops.Close(fd)
			lastErr = context.DeadlineExceeded
			lastWasTimeout = true
			continue
		}
		if sockErr := ops.SocketError(fd); sockErr != nil {
			ops.Close(fd)
			lastErr = sockErr
			lastWasTimeout = false
			continue
		}
		finish(ops, fd)
		return fd, Connected, nil
	}

	if lastWasTimeout {
		return nil, TimedOut, lastErr
	}
	return nil, Refused, lastErr
}

// finish restores blocking mode and enables TCP_NODELAY on a freshly
// connected socket, per the connect procedure's final step.
func finish(ops sockops.Ops, fd *sockops.FD) {
	ops.SetBlocking(fd, true)
	ops.SetNoDelay(fd, true)
}
