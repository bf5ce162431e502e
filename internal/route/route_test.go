package route

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/mohanson/routerd/internal/connectproc"
	"github.com/mohanson/routerd/internal/destination"
	"github.com/mohanson/routerd/internal/netaddr"
	"github.com/mohanson/routerd/internal/sockops"
)

func mustParse(t *testing.T, s string, proto netaddr.ProtocolKind) netaddr.Address {
	t.Helper()
	addr, err := netaddr.Parse(s, netaddr.DefaultPort(proto))
	if err != nil {
		t.Fatalf("netaddr.Parse(%q): %v", s, err)
	}
	return addr
}

// echoBackend runs a TCP listener that echoes every byte it reads back
// to the same connection until the connection closes.
func echoBackend(t *testing.T) (addr string, stop func()) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				buf := make([]byte, 4096)
				for {
					n, err := c.Read(buf)
					if n > 0 {
						c.Write(buf[:n])
					}
					if err != nil {
						return
					}
				}
			}(conn)
		}
	}()
	return ln.Addr().String(), func() { ln.Close() }
}

func newLoopbackConfig(t *testing.T, destCSV string, maxConns uint32, maxConnErrs uint64) Config {
	t.Helper()
	bind := mustParse(t, "127.0.0.1:0", netaddr.Classic)
	dest, err := destination.NewStatic(destCSV, netaddr.Classic, bind)
	if err != nil {
		t.Fatalf("NewStatic: %v", err)
	}
	cfg := Config{
		Name:                 "routing:test",
		AccessMode:           destination.ReadWrite,
		Protocol:             netaddr.Classic,
		BindTCP:              &bind,
		Destinations:         dest,
		MaxConnections:       maxConns,
		ConnectTimeout:       200 * time.Millisecond,
		ClientConnectTimeout: time.Second,
		MaxConnectErrors:     maxConnErrs,
	}
	return cfg.Defaults()
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for condition")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRouteLoopbackRelay(t *testing.T) {
	backendAddr, stopBackend := echoBackend(t)
	defer stopBackend()

	cfg := newLoopbackConfig(t, backendAddr, 8, 100)
	r, err := New(cfg, sockops.NewReal(), connectproc.SystemResolver{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := r.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer r.Stop()

	conn, err := net.Dial("tcp", r.Addr().String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	waitFor(t, time.Second, func() bool { return r.Active() == 1 })

	msg := []byte("hello-router")
	if _, err := conn.Write(msg); err != nil {
		t.Fatalf("Write: %v", err)
	}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, len(msg))
	if _, err := readFull(conn, buf); err != nil {
		t.Fatalf("readFull: %v", err)
	}
	if string(buf) != string(msg) {
		t.Errorf("echoed payload = %q, want %q", buf, msg)
	}

	conn.Close()
	waitFor(t, time.Second, func() bool { return r.Active() == 0 })
}

func TestNewRejectsNilDestinations(t *testing.T) {
	bind := mustParse(t, "127.0.0.1:0", netaddr.Classic)
	cfg := Config{Name: "routing:test", BindTCP: &bind}
	if _, err := New(cfg, sockops.NewReal(), connectproc.SystemResolver{}); err == nil {
		t.Fatal("expected error for nil Destinations")
	}
}

func TestNewRejectsNoBindAddress(t *testing.T) {
	bind := mustParse(t, "127.0.0.1:0", netaddr.Classic)
	dest, err := destination.NewStatic("10.0.0.1:3306", netaddr.Classic, bind)
	if err != nil {
		t.Fatalf("NewStatic: %v", err)
	}
	cfg := Config{Name: "routing:test", Destinations: dest}
	if _, err := New(cfg, sockops.NewReal(), connectproc.SystemResolver{}); err == nil {
		t.Fatal("expected error for no bind address")
	}
}

func TestSwapDestinationsRejectsSelfLoop(t *testing.T) {
	cfg := newLoopbackConfig(t, "10.0.0.1:3306", 8, 100)
	r, err := New(cfg, sockops.NewReal(), connectproc.SystemResolver{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// Build a destination set against an unrelated bind address so
	// NewStatic's own self-loop check doesn't catch it; it names this
	// route's real bind address, which SwapDestinations must reject.
	elsewhere := mustParse(t, "0.0.0.0:1", netaddr.Classic)
	replaced, err := destination.NewStatic(cfg.BindTCP.String(), netaddr.Classic, elsewhere)
	if err != nil {
		t.Fatalf("NewStatic: %v", err)
	}
	if err := r.SwapDestinations(replaced); err == nil {
		t.Fatal("expected self-loop rejection from SwapDestinations")
	}
}

func TestSwapDestinationsAppliesNewList(t *testing.T) {
	cfg := newLoopbackConfig(t, "10.0.0.1:3306", 8, 100)
	r, err := New(cfg, sockops.NewReal(), connectproc.SystemResolver{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	elsewhere := mustParse(t, "0.0.0.0:1", netaddr.Classic)
	replaced, err := destination.NewStatic("10.0.0.2:3306", netaddr.Classic, elsewhere)
	if err != nil {
		t.Fatalf("NewStatic: %v", err)
	}
	if err := r.SwapDestinations(replaced); err != nil {
		t.Fatalf("SwapDestinations: %v", err)
	}
	addr, ok := r.destinations().Next(context.Background(), destination.ReadWrite)
	if !ok || addr.Host != "10.0.0.2" {
		t.Errorf("destinations() = %+v, %v, want 10.0.0.2", addr, ok)
	}
}

func TestMaxConnectionsRejection(t *testing.T) {
	backendAddr, stopBackend := echoBackend(t)
	defer stopBackend()

	cfg := newLoopbackConfig(t, backendAddr, 1, 100)
	r, err := New(cfg, sockops.NewReal(), connectproc.SystemResolver{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := r.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer r.Stop()

	first, err := net.Dial("tcp", r.Addr().String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer first.Close()
	waitFor(t, time.Second, func() bool { return r.Active() == 1 })

	second, err := net.Dial("tcp", r.Addr().String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer second.Close()

	second.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 256)
	n, _ := second.Read(buf)
	if n == 0 {
		t.Fatal("expected a rejection packet on the second connection")
	}

	waitFor(t, time.Second, func() bool { return r.Stats().TotalRejected == 1 })
}

func TestMaxConnectErrorsBlacklists(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	deadAddr := ln.Addr().String()
	ln.Close()

	cfg := newLoopbackConfig(t, deadAddr, 8, 2)
	r, err := New(cfg, sockops.NewReal(), connectproc.SystemResolver{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := r.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer r.Stop()

	for i := 0; i < 2; i++ {
		conn, err := net.Dial("tcp", r.Addr().String())
		if err != nil {
			t.Fatalf("Dial attempt %d: %v", i, err)
		}
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		buf := make([]byte, 256)
		conn.Read(buf)
		conn.Close()
	}

	waitFor(t, 2*time.Second, func() bool { return r.IsBlocked("127.0.0.1") })
}
