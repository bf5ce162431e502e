package route

import (
	"time"

	"github.com/mohanson/routerd/internal/destination"
	"github.com/mohanson/routerd/internal/netaddr"
)

// Config fully describes one Route before it is started. Routes are
// created fully configured; there is no partial-construction path.
type Config struct {
	Name string

	AccessMode destination.AccessMode
	Protocol   netaddr.ProtocolKind

	BindTCP       *netaddr.Address
	BindLocalPath string

	Destinations destination.Set

	MaxConnections       uint32
	ConnectTimeout       time.Duration
	ClientConnectTimeout time.Duration
	NetBufferLen         uint32
	MaxConnectErrors     uint64

	// RateLimitBytesPerSec bounds the route's total relay throughput:
	// one token bucket is shared by every pair and both directions, with
	// no separate per-pair or per-direction limit; 0 means unbounded.
	// Not part of spec.md's
	// option table — a domain-stack supplement grounded in the
	// teacher's lib/rate token bucket, which daze's protocol servers
	// use the same way to cap bandwidth per connection.
	RateLimitBytesPerSec uint64
}

// Defaults fills the zero-valued fields of a Config with the option
// table's defaults (max_connections=512, connect_timeout=1s,
// client_connect_timeout=9s, max_connect_errors=100,
// net_buffer_length=16384).
func (c Config) Defaults() Config {
	if c.MaxConnections == 0 {
		c.MaxConnections = 512
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = time.Second
	}
	if c.ClientConnectTimeout == 0 {
		c.ClientConnectTimeout = 9 * time.Second
	}
	if c.NetBufferLen == 0 {
		c.NetBufferLen = 16384
	}
	if c.MaxConnectErrors == 0 {
		c.MaxConnectErrors = 100
	}
	return c
}
