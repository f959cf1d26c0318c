// Package cache defines the verification cache: a TTL-bounded store of probe
// results keyed by (protocol, host, port). Adapters live in subpackages;
// everything behind Store must tolerate concurrent readers and writers.
package cache

import (
	"context"
	"fmt"

	"github.com/omarobando/proxystorm/internal/domain"
)

// Key addresses one cached probe result. The same endpoint probed under two
// protocols occupies two independent entries.
type Key struct {
	Protocol domain.Protocol
	Host     string
	Port     uint16
}

func KeyFor(p domain.Protocol, c domain.Candidate) Key {
	return Key{Protocol: p, Host: c.Host, Port: c.Port}
}

func (k Key) String() string {
	return fmt.Sprintf("%s|%s:%d", k.Protocol, k.Host, k.Port)
}

// Store is the verification cache port. Lookup returns (nil, nil) on a miss;
// an entry older than the store's TTL is a miss, never a stale hit. Store
// overwrites any prior entry for the same key (last write wins).
type Store interface {
	Lookup(ctx context.Context, key Key) (*domain.ProbeResult, error)
	Store(ctx context.Context, r *domain.ProbeResult) error
	EvictExpired(ctx context.Context) (int, error)
	EnforceSizeLimit(ctx context.Context) (int, error)
	Close() error
}

// PayloadStore caches raw source downloads under the same TTL so repeat runs
// skip re-fetching unchanged lists.
type PayloadStore interface {
	LookupPayload(ctx context.Context, key string) ([]byte, bool, error)
	StorePayload(ctx context.Context, key string, body []byte) error
}
