// Package destination implements the DestinationSet: a static,
// CSV-configured backend list, or a dynamic set resolved lazily against
// an external metadata cache.
package destination

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/mohanson/routerd/internal/netaddr"
)

// AccessMode controls which role a Dynamic set prefers.
type AccessMode int

const (
	// undefined is a parse-time sentinel only; it must never reach a
	// running Route.
	undefined AccessMode = iota
	ReadWrite
	ReadOnly
)

// String renders the textual form used in configuration.
func (m AccessMode) String() string {
	switch m {
	case ReadWrite:
		return "read-write"
	case ReadOnly:
		return "read-only"
	}
	return ""
}

// ParseAccessMode parses "read-write"/"read-only". Any other value,
// including the empty string, is an error — mode is required
// configuration.
func ParseAccessMode(s string) (AccessMode, error) {
	switch s {
	case "read-write":
		return ReadWrite, nil
	case "read-only":
		return ReadOnly, nil
	}
	return undefined, fmt.Errorf("destination: undefined access mode %q", s)
}

// Role labels a destination's standing in the dynamic metadata cache.
type Role int

const (
	Primary Role = iota
	Secondary
	PrimaryAndSecondary
)

// String renders the wire/query form of a Role, the inverse of ParseRole.
func (r Role) String() string {
	switch r {
	case Primary:
		return "PRIMARY"
	case Secondary:
		return "SECONDARY"
	case PrimaryAndSecondary:
		return "PRIMARY_AND_SECONDARY"
	}
	return ""
}

// ParseRole parses the role query parameter of a metadata-cache URI.
func ParseRole(s string) (Role, error) {
	switch s {
	case "PRIMARY":
		return Primary, nil
	case "SECONDARY":
		return Secondary, nil
	case "PRIMARY_AND_SECONDARY":
		return PrimaryAndSecondary, nil
	}
	return 0, fmt.Errorf("destination: unknown role %q", s)
}

// Set selects the next destination for a new client connection.
type Set interface {
	// Next returns the address to dial and true, or false when the set
	// has no destination to offer (e.g. an exhausted dynamic snapshot).
	Next(ctx context.Context, mode AccessMode) (netaddr.Address, bool)
	// MarkFailed records that a connect attempt to addr just failed, so
	// a Static set can skip it on the next round (sticky failure skip).
	MarkFailed(addr netaddr.Address)
	// MarkSucceeded clears any failure-skip state for addr.
	MarkSucceeded(addr netaddr.Address)
}

// Static is an ordered, fixed backend list parsed from CSV.
type Static struct {
	mu      sync.Mutex
	list    []netaddr.Address
	next    int
	skipped map[netaddr.Address]bool
}

// NewStatic parses a comma-separated Address list. It fails if the list
// is empty, any element fails to parse, or any element self-loops
// against bind (the route's own listen address) — construction-time
// failures per the self-loop-prevention invariant.
func NewStatic(csv string, proto netaddr.ProtocolKind, bind netaddr.Address) (*Static, error) {
	parts := strings.Split(csv, ",")
	list := make([]netaddr.Address, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		addr, err := netaddr.Parse(p, netaddr.DefaultPort(proto))
		if err != nil {
			return nil, fmt.Errorf("destination: %w", err)
		}
		if addr.Equal(bind) {
			return nil, fmt.Errorf("destination: %s self-loops onto the route's bind address", addr)
		}
		list = append(list, addr)
	}
	if len(list) == 0 {
		return nil, fmt.Errorf("destination: destination list is empty")
	}
	return &Static{list: list, skipped: map[netaddr.Address]bool{}}, nil
}

// Next implements Set: round robin over the list, skipping any address
// currently marked as recently failed unless every address is.
func (s *Static) Next(ctx context.Context, mode AccessMode) (netaddr.Address, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.list)
	for i := 0; i < n; i++ {
		idx := (s.next + i) % n
		addr := s.list[idx]
		if !s.skipped[addr] {
			s.next = (idx + 1) % n
			return addr, true
		}
	}
	// Every address is marked failed: fall back to plain round robin
	// rather than stalling admission entirely.
	addr := s.list[s.next%n]
	s.next = (s.next + 1) % n
	return addr, true
}

// MarkFailed implements Set.
func (s *Static) MarkFailed(addr netaddr.Address) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.skipped[addr] = true
}

// MarkSucceeded implements Set.
func (s *Static) MarkSucceeded(addr netaddr.Address) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.skipped, addr)
}

// List returns the configured destination list, in order. Used for
// stringification / round-trip tests.
func (s *Static) List() []netaddr.Address {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]netaddr.Address, len(s.list))
	copy(out, s.list)
	return out
}

var _ Set = (*Static)(nil)
