package destination

import (
	"context"
	"fmt"
	"net/url"
	"sync"

	"github.com/mohanson/routerd/internal/netaddr"
)

// MetadataResolver is the seam through which a Dynamic set asks the
// external metadata cache for the current address list of a named
// cache/role pair. internal/metacache provides the concrete
// implementation; tests substitute a fixed-table fake.
type MetadataResolver interface {
	Resolve(ctx context.Context, cacheName string, role Role) ([]netaddr.Address, error)
}

// Dynamic resolves its address list lazily, on every Next call, against
// an external metadata cache.
type Dynamic struct {
	cacheName string
	role      Role
	resolver  MetadataResolver

	mu   sync.Mutex
	next int
}

// NewDynamic parses a metadata-cache:// URI destinations specification.
// Only scheme "metadata-cache" is accepted; the query string must carry
// role=PRIMARY|SECONDARY|PRIMARY_AND_SECONDARY.
func NewDynamic(uri string, resolver MetadataResolver) (*Dynamic, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "metadata-cache" {
		return nil, fmt.Errorf("Invalid URI scheme; expecting: 'metadata-cache' is: '%s'", u.Scheme)
	}
	roleStr := u.Query().Get("role")
	if roleStr == "" {
		return nil, fmt.Errorf("Missing 'role' in routing destination specification")
	}
	role, err := ParseRole(roleStr)
	if err != nil {
		return nil, err
	}
	cacheName := u.Host
	if cacheName == "" {
		cacheName = trimLeadingSlash(u.Path)
	}
	return &Dynamic{cacheName: cacheName, role: role, resolver: resolver}, nil
}

func trimLeadingSlash(p string) string {
	if len(p) > 0 && p[0] == '/' {
		return p[1:]
	}
	return p
}

// Next asks the resolver for a fresh snapshot and round-robins within
// it. access_mode=ReadOnly prefers Secondary addresses when the
// configured role includes them, and falls back to Primary when the
// configured role is PRIMARY_AND_SECONDARY and no Secondary is listed;
// ReadWrite requires Primary.
func (d *Dynamic) Next(ctx context.Context, mode AccessMode) (netaddr.Address, bool) {
	role := d.effectiveRole(mode)
	candidates, err := d.resolver.Resolve(ctx, d.cacheName, role)
	if (err != nil || len(candidates) == 0) && role == Secondary && d.role == PrimaryAndSecondary {
		candidates, err = d.resolver.Resolve(ctx, d.cacheName, Primary)
	}
	if err != nil || len(candidates) == 0 {
		return netaddr.Address{}, false
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	idx := d.next % len(candidates)
	d.next = (d.next + 1) % len(candidates)
	return candidates[idx], true
}

// effectiveRole narrows the configured role by the requested access
// mode: ReadWrite requires Primary, ReadOnly asks for Secondary unless
// the configured role is Primary (Next handles the fallback to Primary).
func (d *Dynamic) effectiveRole(mode AccessMode) Role {
	switch mode {
	case ReadWrite:
		return Primary
	case ReadOnly:
		if d.role == Primary {
			return Primary
		}
		return Secondary
	}
	return d.role
}

// MarkFailed is a no-op for Dynamic: each Next call re-resolves against
// the metadata cache, which is the system of record for backend health.
func (d *Dynamic) MarkFailed(addr netaddr.Address) {}

// MarkSucceeded is a no-op for Dynamic, for the same reason.
func (d *Dynamic) MarkSucceeded(addr netaddr.Address) {}

var _ Set = (*Dynamic)(nil)
