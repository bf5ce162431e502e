// Package route implements a single configured listener: its listening
// socket(s), the bounded pool of active client<->backend pairs, the
// active-connection counter, and the per-IP client-error counter and
// blacklist.
package route

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"runtime/pprof"
	"sync"
	"sync/atomic"
	"time"

	"github.com/godump/lru"

	"github.com/mohanson/routerd/internal/connectproc"
	"github.com/mohanson/routerd/internal/destination"
	"github.com/mohanson/routerd/internal/framer"
	"github.com/mohanson/routerd/internal/netaddr"
	"github.com/mohanson/routerd/internal/sockops"
	"github.com/mohanson/routerd/internal/wire/classic"
	"github.com/mohanson/routerd/internal/wire/xproto"
	"github.com/mohanson/routerd/lib/rate"
)

// errorCounterCacheSize bounds the per-IP connect-failure counter so a
// Route facing a long tail of distinct failing client IPs doesn't grow
// that bookkeeping without bound; it ages out the least-recently-seen
// IP once full, the same LRU the teacher uses for its own route cache
// (see DESIGN.md).
const errorCounterCacheSize = 4096

// state is the Route's lifecycle: Configured -> Started -> Stopping ->
// Stopped. Only Configured->Started and Started->Stopping are externally
// triggered.
type state int32

const (
	Configured state = iota
	Started
	Stopping
	Stopped
)

// Errors surfaced by Route construction and operation. ConfigInvalid
// failures propagate to the caller; runtime failures (Refused/Timeout)
// are localized to a single pair and observable only through counters.
var (
	ErrAlreadyStarted = errors.New("route: already started")
	ErrNotStarted     = errors.New("route: not started")
)

// Route is one configured listener.
type Route struct {
	cfg     Config
	ops     sockops.Ops
	res     connectproc.HostResolver
	limiter *rate.Limits // nil when cfg.RateLimitBytesPerSec is 0

	state state

	active        atomic.Uint32
	totalAccepted atomic.Uint64
	totalRejected atomic.Uint64
	cidSeq        atomic.Uint32

	mu            sync.Mutex
	errorCounters *lru.Lru[string, uint64]
	blocked       map[string]struct{}

	listeners []*listener
	wg        sync.WaitGroup
	stopCh    chan struct{}
}

// listener wraps one bound net.Listener. The accept path uses the
// standard library directly rather than sockops.Ops: net.Listener's
// Accept already gives a ready-to-use net.Conn, and unblocking it on
// Stop is just Close. sockops.Ops earns its keep on the connect side,
// where the non-blocking-connect-plus-SO_ERROR dance is what lets
// dialDestination tell Refused from Timeout (see DESIGN.md).
type listener struct {
	net net.Listener
}

// New constructs a fully configured, not-yet-started Route. Construction
// failures (bad destinations, etc.) are the caller's responsibility —
// Config.Destinations is built via destination.NewStatic/NewDynamic,
// which already enforce the ConfigInvalid rules.
func New(cfg Config, ops sockops.Ops, res connectproc.HostResolver) (*Route, error) {
	cfg = cfg.Defaults()
	if cfg.Destinations == nil {
		return nil, fmt.Errorf("route: %s: no destinations configured", cfg.Name)
	}
	if cfg.BindTCP == nil && cfg.BindLocalPath == "" {
		return nil, fmt.Errorf("route: %s: no bind address configured", cfg.Name)
	}
	var limiter *rate.Limits
	if cfg.RateLimitBytesPerSec > 0 {
		limiter = rate.NewLimits(cfg.RateLimitBytesPerSec, time.Second)
	}
	return &Route{
		cfg:           cfg,
		ops:           ops,
		res:           res,
		limiter:       limiter,
		errorCounters: lru.New[string, uint64](errorCounterCacheSize),
		blocked:       map[string]struct{}{},
		stopCh:        make(chan struct{}),
	}, nil
}

// Name returns the route's configured name.
func (r *Route) Name() string { return r.cfg.Name }

// Active returns the current number of active pairs.
func (r *Route) Active() uint32 { return r.active.Load() }

// Addr returns the bound address of the route's TCP listener, or nil if
// the route isn't started or binds only a local socket. Used for
// logging and by tests that bind an ephemeral port (BindTCP port 0).
func (r *Route) Addr() net.Addr {
	for _, ln := range r.listeners {
		if _, ok := ln.net.Addr().(*net.TCPAddr); ok {
			return ln.net.Addr()
		}
	}
	return nil
}

// Stats snapshots the route's observable counters.
type Stats struct {
	Name           string
	Active         uint32
	MaxConnections uint32
	TotalAccepted  uint64
	TotalRejected  uint64
	Blocked        int
}

// Stats returns a point-in-time snapshot of the route's counters.
func (r *Route) Stats() Stats {
	r.mu.Lock()
	blocked := len(r.blocked)
	r.mu.Unlock()
	return Stats{
		Name:           r.cfg.Name,
		Active:         r.active.Load(),
		MaxConnections: r.cfg.MaxConnections,
		TotalAccepted:  r.totalAccepted.Load(),
		TotalRejected:  r.totalRejected.Load(),
		Blocked:        blocked,
	}
}

// Start binds the configured listener(s) and spawns the accept loop(s).
// A Route cannot be reconfigured while started; calling Start twice is
// an error.
func (r *Route) Start() error {
	if !atomic.CompareAndSwapInt32((*int32)(&r.state), int32(Configured), int32(Started)) {
		return ErrAlreadyStarted
	}

	if r.cfg.BindTCP != nil {
		ln, err := net.Listen("tcp", r.cfg.BindTCP.String())
		if err != nil {
			atomic.StoreInt32((*int32)(&r.state), int32(Configured))
			return fmt.Errorf("route: %s: listen tcp: %w", r.cfg.Name, err)
		}
		r.listeners = append(r.listeners, &listener{net: ln})
	}
	if r.cfg.BindLocalPath != "" {
		ln, err := net.Listen("unix", r.cfg.BindLocalPath)
		if err != nil {
			atomic.StoreInt32((*int32)(&r.state), int32(Configured))
			return fmt.Errorf("route: %s: listen unix: %w", r.cfg.Name, err)
		}
		r.listeners = append(r.listeners, &listener{net: ln})
	}

	for _, ln := range r.listeners {
		r.wg.Add(1)
		go r.acceptLoop(ln)
	}
	log.Printf("route %s: started", r.cfg.Name)
	return nil
}

// Stop sets the stop flag, shuts down every listener (unblocking
// Accept), waits for the accept loops to return, then waits for every
// in-flight pair worker to finish. Closing the stop flag also makes every
// running relay close its client and backend connections, so the wait
// does not depend on clients disconnecting. Stop is idempotent.
func (r *Route) Stop() {
	if !atomic.CompareAndSwapInt32((*int32)(&r.state), int32(Started), int32(Stopping)) {
		return
	}
	close(r.stopCh)
	for _, ln := range r.listeners {
		ln.net.Close()
	}
	r.wg.Wait()
	atomic.StoreInt32((*int32)(&r.state), int32(Stopped))
	log.Printf("route %s: stopped", r.cfg.Name)
}

func (r *Route) acceptLoop(ln *listener) {
	defer r.wg.Done()
	for {
		conn, err := ln.net.Accept()
		if err != nil {
			select {
			case <-r.stopCh:
				return
			default:
				log.Printf("route %s: accept error: %v", r.cfg.Name, err)
				return
			}
		}
		r.handleAccept(conn)
	}
}

// peerIP extracts the dotted/bracketed host part of a remote address,
// used as the blacklist/error-counter key. Local-domain peers have no
// meaningful IP and are keyed by the literal path instead.
func peerIP(addr net.Addr) string {
	switch a := addr.(type) {
	case *net.TCPAddr:
		return a.IP.String()
	case *net.UnixAddr:
		return a.Name
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}

func (r *Route) handleAccept(conn net.Conn) {
	r.totalAccepted.Add(1)
	ip := peerIP(conn.RemoteAddr())

	r.mu.Lock()
	_, isBlocked := r.blocked[ip]
	r.mu.Unlock()

	if isBlocked || !r.admit() {
		r.totalRejected.Add(1)
		r.rejectClient(conn)
		conn.Close()
		return
	}

	cid := r.cidSeq.Add(1)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		labels := pprof.Labels("route-worker", MakeThreadName(r.cfg.Name, "RtS"))
		pprof.Do(context.Background(), labels, func(context.Context) {
			r.runPair(conn, ip, cid)
		})
	}()
}

// admit atomically reserves one active-pair slot if the route is below
// MaxConnections, incrementing Active() as part of the same compare-
// and-swap. Split check-then-increment would race across the two
// acceptLoop goroutines a dual TCP+Unix bind runs, transiently
// admitting more than MaxConnections pairs.
func (r *Route) admit() bool {
	for {
		cur := r.active.Load()
		if cur >= r.cfg.MaxConnections {
			return false
		}
		if r.active.CompareAndSwap(cur, cur+1) {
			return true
		}
	}
}

// rejectClient sends the protocol-appropriate admission-rejection frame
// to a client refused for being blacklisted or because the route is at
// max_connections.
func (r *Route) rejectClient(conn net.Conn) {
	conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
	switch r.cfg.Protocol {
	case netaddr.Classic:
		conn.Write(classic.RejectionPacket("Too many connections"))
	case netaddr.Extended:
		conn.Write(xproto.RejectionFrame("Too many connections"))
	}
}

// runPair drives one client<->backend pair worker from dial through
// relay teardown.
func (r *Route) runPair(cli net.Conn, ip string, cid uint32) {
	defer func() {
		r.active.Add(^uint32(0)) // -1
		cli.Close()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.ClientConnectTimeout)
	defer cancel()

	backend, outcome, err := r.dialDestination(ctx)
	if err != nil || outcome != connectproc.Connected {
		r.recordConnectFailure(ip)
		r.rejectClient(cli)
		return
	}
	defer backend.Close()

	r.resetConnectFailure(ip)

	framerA := r.newFramer()
	framerB := r.newFramer()
	r.relay(cli, backend, framerA, framerB, cid)
}

// throttle blocks until n bytes' worth of bandwidth is available, when
// the route has a configured limit; a no-op otherwise.
func (r *Route) throttle(n int) {
	if r.limiter == nil || n <= 0 {
		return
	}
	r.limiter.Wait(uint64(n))
}

// dialDestination tries destinations.Next repeatedly until one connects
// or the set is exhausted: it stops as soon as Next offers an address
// already dialed in this call, so each destination is tried at most once
// per client. maxAttempts caps the loop for a set that keeps offering
// addresses it has not offered before.
func (r *Route) dialDestination(ctx context.Context) (net.Conn, connectproc.Outcome, error) {
	const maxAttempts = 32
	tried := map[netaddr.Address]bool{}
	for attempt := 0; attempt < maxAttempts; attempt++ {
		dest := r.destinations()
		addr, ok := dest.Next(ctx, r.cfg.AccessMode)
		if !ok {
			return nil, connectproc.Refused, fmt.Errorf("route: %s: no destination available", r.cfg.Name)
		}
		if tried[addr] {
			break
		}
		tried[addr] = true

		fd, outcome, err := connectproc.Dial(ctx, r.ops, r.res, addr, r.cfg.ConnectTimeout)
		if outcome == connectproc.Connected {
			dest.MarkSucceeded(addr)
			conn, convErr := fdToConn(fd)
			if convErr != nil {
				return nil, connectproc.Refused, convErr
			}
			return conn, outcome, nil
		}
		dest.MarkFailed(addr)
		log.Printf("route %s: dial %s: %s", r.cfg.Name, addr, outcome)
		_ = err
	}
	return nil, connectproc.Refused, fmt.Errorf("route: %s: exhausted destinations", r.cfg.Name)
}

// destinations returns the route's current destination set, guarding
// against a concurrent SwapDestinations from config.Watch's reload path.
func (r *Route) destinations() destination.Set {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cfg.Destinations
}

// fdToConn converts connectproc.Dial's connected sockops.FD into a
// net.Conn for the relay stage, without a second dial: os.NewFile hands
// the raw descriptor to net.FileConn, which dups it, so f.Close() here
// only closes our original reference. fd.Invalidate (not Close) reflects
// that: the descriptor stays open, owned from here on by conn.
func fdToConn(fd *sockops.FD) (net.Conn, error) {
	f := os.NewFile(uintptr(fd.Raw), "backend")
	conn, err := net.FileConn(f)
	f.Close()
	fd.Invalidate()
	if err != nil {
		return nil, fmt.Errorf("route: fdToConn: %w", err)
	}
	return conn, nil
}

func (r *Route) newFramer() framer.Framer {
	switch r.cfg.Protocol {
	case netaddr.Extended:
		return framer.NewXproto()
	default:
		return framer.NewClassic()
	}
}

// relay runs the two framers concurrently, one per direction. As soon as
// either pump returns (an I/O error or an orderly EOF alike) or the route
// is stopping, it closes both connections, which ends the other pump,
// and waits for both pumps to return.
func (r *Route) relay(cli, backend net.Conn, up, down framer.Framer, cid uint32) {
	done := make(chan struct{}, 2)
	go func() {
		defer func() { done <- struct{}{} }()
		r.pumpNetConn(cli, backend, up, cid)
	}()
	go func() {
		defer func() { done <- struct{}{} }()
		r.pumpNetConn(backend, cli, down, cid)
	}()
	pending := 2
	select {
	case <-done:
		pending--
	case <-r.stopCh:
	}
	cli.Close()
	backend.Close()
	for ; pending > 0; pending-- {
		<-done
	}
}

// pumpNetConn adapts a net.Conn pair to the Framer.CopyPackets loop via
// a ConnOps, so the relay stage runs through the same Ops abstraction
// the framer tests exercise with sockops.Mock. It loops CopyPackets
// until CopyPackets returns a non-nil error, throttling between
// iterations when the route has a rate limit. A non-nil error ends the
// pump either way, but an extended ConnectionClose (state.GracefulClose)
// is the protocol's own orderly shutdown rather than a failed relay, so
// only the latter is logged.
func (r *Route) pumpNetConn(src, dst net.Conn, f framer.Framer, cid uint32) {
	state := &framer.FrameState{HandshakeDone: true}
	buf := make([]byte, r.cfg.NetBufferLen)
	ops := sockops.NewConnOps()
	srcFD := ops.Track(src)
	dstFD := ops.Track(dst)
	for {
		moved, err := f.CopyPackets(ops, srcFD, dstFD, buf, state)
		r.throttle(moved)
		if err != nil {
			if !state.GracefulClose && !errors.Is(err, framer.ErrEOF) {
				log.Printf("%08x  relay error %s", cid, err)
			}
			return
		}
	}
}

func (r *Route) recordConnectFailure(ip string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := r.errorCounters.Get(ip) + 1
	r.errorCounters.Set(ip, n)
	if n >= r.cfg.MaxConnectErrors {
		r.blocked[ip] = struct{}{}
	}
}

func (r *Route) resetConnectFailure(ip string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errorCounters.Del(ip)
}

// SwapDestinations replaces the route's destination set in place, for
// config.Watch's hot-reload path. It rejects a Static set that
// self-loops against this route's own TCP bind address — the same
// check NewStatic performs at construction, re-run here because a
// destination.Static built against a different route's bind address
// would otherwise pass NewStatic's own check silently.
func (r *Route) SwapDestinations(dest destination.Set) error {
	if static, ok := dest.(*destination.Static); ok && r.cfg.BindTCP != nil {
		for _, addr := range static.List() {
			if addr.Equal(*r.cfg.BindTCP) {
				return fmt.Errorf("route: %s: %s self-loops onto the route's bind address", r.cfg.Name, addr)
			}
		}
	}
	r.mu.Lock()
	r.cfg.Destinations = dest
	r.mu.Unlock()
	return nil
}

// IsBlocked reports whether ip is currently blacklisted.
func (r *Route) IsBlocked(ip string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.blocked[ip]
	return ok
}
