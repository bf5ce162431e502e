// Package metacache is a client for the external metadata cache that
// backs a Dynamic destination set. It is not the metadata cache itself
// (out of scope per the routing core's spec) — only the seam the core
// needs to ask it "what addresses currently hold this role."
//
// Snapshots are cached briefly in an LRU (github.com/godump/lru, reused
// from the teacher's own RouterCache for the same concern: avoid
// hammering a slow or momentarily unavailable upstream on every new
// connection) so a transient metadata-cache outage does not stall
// admission.
package metacache

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/godump/lru"

	"github.com/mohanson/routerd/internal/destination"
	"github.com/mohanson/routerd/internal/netaddr"
)

// record is the wire shape of one metadata cache entry.
type record struct {
	Host string `json:"host"`
	Port uint16 `json:"port"`
	Role string `json:"role"`
}

type snapshotKey struct {
	cache string
	role  destination.Role
}

type snapshot struct {
	addrs     []netaddr.Address
	fetchedAt time.Time
}

// Client resolves destination.MetadataResolver against an HTTP endpoint
// serving a JSON array of records for GET {Endpoint}/{cacheName}.
type Client struct {
	Endpoint string
	HTTP     *http.Client
	TTL      time.Duration

	cache *lru.Lru[snapshotKey, snapshot]
}

// NewClient returns a metadata cache client. size bounds the number of
// distinct (cache, role) snapshots held at once.
func NewClient(endpoint string, size int, ttl time.Duration) *Client {
	return &Client{
		Endpoint: endpoint,
		HTTP:     http.DefaultClient,
		TTL:      ttl,
		cache:    lru.New[snapshotKey, snapshot](size),
	}
}

// Resolve implements destination.MetadataResolver.
func (c *Client) Resolve(ctx context.Context, cacheName string, role destination.Role) ([]netaddr.Address, error) {
	key := snapshotKey{cache: cacheName, role: role}
	if snap, ok := c.cache.GetExists(key); ok && time.Since(snap.fetchedAt) < c.TTL {
		return snap.addrs, nil
	}

	addrs, err := c.fetch(ctx, cacheName, role)
	if err != nil {
		// Serve a stale snapshot rather than failing admission outright,
		// if one exists.
		if snap, ok := c.cache.GetExists(key); ok {
			return snap.addrs, nil
		}
		return nil, err
	}

	c.cache.Set(key, snapshot{addrs: addrs, fetchedAt: time.Now()})
	return addrs, nil
}

func (c *Client) fetch(ctx context.Context, cacheName string, role destination.Role) ([]netaddr.Address, error) {
	reqURL := fmt.Sprintf("%s/%s?role=%s", c.Endpoint, cacheName, role)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	httpClient := c.HTTP
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("metacache: %s returned status %d", cacheName, resp.StatusCode)
	}

	var records []record
	if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
		return nil, fmt.Errorf("metacache: decoding %s: %w", cacheName, err)
	}

	var addrs []netaddr.Address
	for _, r := range records {
		recRole, err := destination.ParseRole(r.Role)
		if err != nil {
			continue
		}
		if !roleMatches(role, recRole) {
			continue
		}
		addrs = append(addrs, netaddr.Address{Host: r.Host, Port: r.Port})
	}
	return addrs, nil
}

// roleMatches reports whether a record's role satisfies the requested
// role filter.
func roleMatches(want, have destination.Role) bool {
	if want == destination.PrimaryAndSecondary {
		return true
	}
	return want == have
}

var _ destination.MetadataResolver = (*Client)(nil)
