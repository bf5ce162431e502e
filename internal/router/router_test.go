package router

import (
	"testing"
	"time"

	"github.com/mohanson/routerd/internal/connectproc"
	"github.com/mohanson/routerd/internal/destination"
	"github.com/mohanson/routerd/internal/netaddr"
	"github.com/mohanson/routerd/internal/route"
	"github.com/mohanson/routerd/internal/sockops"
)

func mustRoute(t *testing.T, name string) *route.Route {
	t.Helper()
	bind, err := netaddr.Parse("127.0.0.1:0", netaddr.DefaultPort(netaddr.Classic))
	if err != nil {
		t.Fatalf("netaddr.Parse: %v", err)
	}
	dest, err := destination.NewStatic("10.0.0.1:3306", netaddr.Classic, bind)
	if err != nil {
		t.Fatalf("NewStatic: %v", err)
	}
	cfg := route.Config{
		Name:           name,
		AccessMode:     destination.ReadWrite,
		Protocol:       netaddr.Classic,
		BindTCP:        &bind,
		Destinations:   dest,
		MaxConnections: 8,
		ConnectTimeout: 200 * time.Millisecond,
	}.Defaults()
	r, err := route.New(cfg, sockops.NewReal(), connectproc.SystemResolver{})
	if err != nil {
		t.Fatalf("route.New: %v", err)
	}
	return r
}

func TestRegisterRejectsDuplicateName(t *testing.T) {
	rt := New()
	if err := rt.Register(mustRoute(t, "routing:a")); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := rt.Register(mustRoute(t, "routing:a")); err == nil {
		t.Fatal("expected error registering a duplicate route name")
	}
}

func TestLookup(t *testing.T) {
	rt := New()
	r := mustRoute(t, "routing:a")
	if err := rt.Register(r); err != nil {
		t.Fatalf("Register: %v", err)
	}
	got, ok := rt.Lookup("routing:a")
	if !ok || got != r {
		t.Errorf("Lookup(\"routing:a\") = %v, %v, want the registered route", got, ok)
	}
	if _, ok := rt.Lookup("routing:missing"); ok {
		t.Error("Lookup of an unregistered name should report false")
	}
}

func TestStartAndStopAll(t *testing.T) {
	rt := New()
	if err := rt.Register(mustRoute(t, "routing:a")); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := rt.Register(mustRoute(t, "routing:b")); err != nil {
		t.Fatalf("Register: %v", err)
	}

	if err := rt.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	rt.StopAll()

	stats := rt.Stats()
	if len(stats) != 2 {
		t.Fatalf("Stats() returned %d entries, want 2", len(stats))
	}
	if stats[0].Name != "routing:a" || stats[1].Name != "routing:b" {
		t.Errorf("Stats() order = [%s, %s], want [routing:a, routing:b]", stats[0].Name, stats[1].Name)
	}
}

func TestStartAggregatesFailuresWithoutShortCircuiting(t *testing.T) {
	rt := New()
	ok := mustRoute(t, "routing:ok")
	bad := mustRoute(t, "routing:bad")
	if err := rt.Register(ok); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := rt.Register(bad); err != nil {
		t.Fatalf("Register: %v", err)
	}
	defer rt.StopAll()

	// Start the first route directly so the router's own Start call on
	// it fails with ErrAlreadyStarted; the second route must still get
	// its own Start attempt.
	if err := ok.Start(); err != nil {
		t.Fatalf("ok.Start: %v", err)
	}

	if err := rt.Start(); err == nil {
		t.Fatal("expected Start to report the already-started route's failure")
	}

	// bad's own Start attempt inside rt.Start() must have succeeded
	// despite ok's failure; a second direct Start call now reports
	// ErrAlreadyStarted, proving it wasn't skipped.
	if err := bad.Start(); err != route.ErrAlreadyStarted {
		t.Errorf("bad.Start() = %v, want ErrAlreadyStarted (route should have started)", err)
	}
}
