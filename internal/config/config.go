// Package config loads the TOML route table into []route.Config. One
// [[route]] table corresponds to one Route; load-time validation
// matches destination.NewStatic/NewDynamic and route.New's own checks,
// surfaced early with full file context rather than at Start time.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/mohanson/routerd/internal/destination"
	"github.com/mohanson/routerd/internal/netaddr"
	"github.com/mohanson/routerd/internal/route"
)

// ErrConfigInvalid is wrapped by every validation failure Load returns.
var ErrConfigInvalid = fmt.Errorf("config: invalid configuration")

// file is the raw TOML document shape.
type file struct {
	Route []routeEntry `toml:"route"`
}

// routeEntry is one [[route]] table, field names matching spec.md's
// option table, plus name and rate_limit_bytes_per_sec. bind_address may
// carry its own port; bind_port, when set, overrides it.
type routeEntry struct {
	Name                 string `toml:"name"`
	BindAddress          string `toml:"bind_address"`
	BindPort             uint16 `toml:"bind_port"`
	Socket               string `toml:"socket"`
	Destinations         string `toml:"destinations"`
	Mode                 string `toml:"mode"`
	Protocol             string `toml:"protocol"`
	ConnectTimeout       int64  `toml:"connect_timeout"`
	ClientConnectTimeout int64  `toml:"client_connect_timeout"`
	MaxConnections       uint32 `toml:"max_connections"`
	MaxConnectErrors     uint64 `toml:"max_connect_errors"`
	NetBufferLength      uint32 `toml:"net_buffer_length"`
	RateLimitBytesPerSec uint64 `toml:"rate_limit_bytes_per_sec"`
}

// MetadataResolver is the seam Load needs to build a Dynamic destination
// set; nil is fine for a file with only CSV destinations.
type MetadataResolver = destination.MetadataResolver

// Load reads path and returns one route.Config per [[route]] table. A
// route name is stored as "routing:<name>", matching the convention
// make_thread_name expects to find (see internal/route/threadname.go).
func Load(path string, resolver MetadataResolver) ([]route.Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %s", ErrConfigInvalid, path, err)
	}

	var f file
	if _, err := toml.Decode(string(raw), &f); err != nil {
		return nil, fmt.Errorf("%w: parsing %s: %s", ErrConfigInvalid, path, err)
	}
	if len(f.Route) == 0 {
		return nil, fmt.Errorf("%w: %s defines no [[route]] tables", ErrConfigInvalid, path)
	}

	seen := map[string]bool{}
	cfgs := make([]route.Config, 0, len(f.Route))
	for _, e := range f.Route {
		cfg, err := e.toRouteConfig(resolver)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrConfigInvalid, err)
		}
		if seen[cfg.Name] {
			return nil, fmt.Errorf("%w: duplicate route name %q", ErrConfigInvalid, cfg.Name)
		}
		seen[cfg.Name] = true
		cfgs = append(cfgs, cfg)
	}
	return cfgs, nil
}

func (e routeEntry) toRouteConfig(resolver MetadataResolver) (route.Config, error) {
	if e.Name == "" {
		return route.Config{}, fmt.Errorf("route entry has no name")
	}

	proto, err := netaddr.ParseProtocolKind(e.Protocol)
	if err != nil {
		return route.Config{}, err
	}

	mode, err := destination.ParseAccessMode(e.Mode)
	if err != nil {
		return route.Config{}, fmt.Errorf("route %q: %w", e.Name, err)
	}

	if e.BindAddress == "" && e.BindPort == 0 && e.Socket == "" {
		return route.Config{}, fmt.Errorf("route %q: neither bind_address, bind_port nor socket configured", e.Name)
	}

	var bindAddr netaddr.Address
	hasBindTCP := e.BindAddress != "" || e.BindPort != 0
	if hasBindTCP {
		bindHost := e.BindAddress
		if bindHost == "" {
			bindHost = "127.0.0.1"
		}
		bindAddr, err = netaddr.Parse(bindHost, netaddr.DefaultPort(proto))
		if err != nil {
			return route.Config{}, fmt.Errorf("route %q: bind_address: %w", e.Name, err)
		}
		if e.BindPort != 0 {
			bindAddr.Port = e.BindPort
		}
	}

	dest, err := parseDestinations(e.Destinations, proto, bindAddr, resolver)
	if err != nil {
		return route.Config{}, fmt.Errorf("route %q: %w", e.Name, err)
	}

	cfg := route.Config{
		Name:                 "routing:" + e.Name,
		AccessMode:           mode,
		Protocol:             proto,
		BindLocalPath:        e.Socket,
		Destinations:         dest,
		MaxConnections:       e.MaxConnections,
		ConnectTimeout:       durationSeconds(e.ConnectTimeout),
		ClientConnectTimeout: durationSeconds(e.ClientConnectTimeout),
		NetBufferLen:         e.NetBufferLength,
		MaxConnectErrors:     e.MaxConnectErrors,
		RateLimitBytesPerSec: e.RateLimitBytesPerSec,
	}
	if hasBindTCP {
		cfg.BindTCP = &bindAddr
	}
	return cfg.Defaults(), nil
}

func parseDestinations(spec string, proto netaddr.ProtocolKind, bind netaddr.Address, resolver MetadataResolver) (destination.Set, error) {
	if spec == "" {
		return nil, fmt.Errorf("destinations: not configured")
	}
	if isMetadataCacheURI(spec) {
		if resolver == nil {
			return nil, fmt.Errorf("destinations: %q needs a metadata cache resolver", spec)
		}
		return destination.NewDynamic(spec, resolver)
	}
	return destination.NewStatic(spec, proto, bind)
}

func isMetadataCacheURI(s string) bool {
	return len(s) >= len("metadata-cache://") && s[:len("metadata-cache://")] == "metadata-cache://"
}

func durationSeconds(n int64) time.Duration {
	if n <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second
}
