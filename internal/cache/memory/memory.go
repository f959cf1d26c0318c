// Package memory is the in-process cache adapter. It backs tests and the
// degraded mode where no durable store is available.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/omarobando/proxystorm/internal/cache"
	"github.com/omarobando/proxystorm/internal/domain"
)

type entry struct {
	result domain.ProbeResult
	size   int64
}

type payload struct {
	body     []byte
	storedAt time.Time
	size     int64
}

type Store struct {
	mu       sync.RWMutex
	ttl      time.Duration
	maxBytes int64
	bytes    int64
	results  map[cache.Key]entry
	payloads map[string]payload
	now      func() time.Time // swappable in tests
}

var _ cache.Store = (*Store)(nil)
var _ cache.PayloadStore = (*Store)(nil)

func New(ttl time.Duration, maxBytes int64) *Store {
	return &Store{
		ttl:      ttl,
		maxBytes: maxBytes,
		results:  make(map[cache.Key]entry),
		payloads: make(map[string]payload),
		now:      time.Now,
	}
}

func (s *Store) Lookup(ctx context.Context, key cache.Key) (*domain.ProbeResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.results[key]
	if !ok || s.expired(e.result.CheckedAt) {
		return nil, nil
	}
	r := e.result
	return &r, nil
}

func (s *Store) Store(ctx context.Context, r *domain.ProbeResult) error {
	key := cache.KeyFor(r.Protocol, r.Candidate)
	sz := approxSize(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.results[key]; ok {
		s.bytes -= old.size
	}
	s.results[key] = entry{result: *r, size: sz}
	s.bytes += sz
	return nil
}

func (s *Store) EvictExpired(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k, e := range s.results {
		if s.expired(e.result.CheckedAt) {
			s.bytes -= e.size
			delete(s.results, k)
			n++
		}
	}
	for k, p := range s.payloads {
		if s.expired(p.storedAt) {
			s.bytes -= p.size
			delete(s.payloads, k)
		}
	}
	return n, nil
}

func (s *Store) EnforceSizeLimit(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.maxBytes <= 0 || s.bytes <= s.maxBytes {
		return 0, nil
	}

	type aged struct {
		key cache.Key
		at  time.Time
	}
	order := make([]aged, 0, len(s.results))
	for k, e := range s.results {
		order = append(order, aged{key: k, at: e.result.CheckedAt})
	}
	sort.Slice(order, func(i, j int) bool { return order[i].at.Before(order[j].at) })

	n := 0
	for _, a := range order {
		if s.bytes <= s.maxBytes {
			break
		}
		e := s.results[a.key]
		s.bytes -= e.size
		delete(s.results, a.key)
		n++
	}
	return n, nil
}

func (s *Store) LookupPayload(ctx context.Context, key string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.payloads[key]
	if !ok || s.expired(p.storedAt) {
		return nil, false, nil
	}
	out := make([]byte, len(p.body))
	copy(out, p.body)
	return out, true, nil
}

// StorePayload counts the payload toward the same byte budget the durable
// adapters charge for raw bodies, keeping the size cap comparable.
func (s *Store) StorePayload(ctx context.Context, key string, body []byte) error {
	cp := make([]byte, len(body))
	copy(cp, body)
	sz := int64(len(key) + len(cp))
	s.mu.Lock()
	if old, ok := s.payloads[key]; ok {
		s.bytes -= old.size
	}
	s.payloads[key] = payload{body: cp, storedAt: s.now(), size: sz}
	s.bytes += sz
	s.mu.Unlock()
	return nil
}

func (s *Store) Close() error { return nil }

func (s *Store) expired(at time.Time) bool {
	return s.ttl > 0 && s.now().Sub(at) > s.ttl
}

// approxSize mirrors what the durable adapters pay per entry, so the size
// cap behaves comparably across backends.
func approxSize(r *domain.ProbeResult) int64 {
	return int64(len(r.Candidate.Host)+len(r.Protocol)+len(r.Reason)) + 64
}
