package memory

import (
	"context"
	"testing"
	"time"

	"github.com/omarobando/proxystorm/internal/cache"
	"github.com/omarobando/proxystorm/internal/domain"
)

func result(host string, port uint16, proto domain.Protocol, checkedAt time.Time) *domain.ProbeResult {
	return &domain.ProbeResult{
		Candidate: domain.Candidate{Host: host, Port: port},
		Protocol:  proto,
		Alive:     true,
		LatencyMS: 100,
		CheckedAt: checkedAt,
	}
}

func TestLookupMissThenHit(t *testing.T) {
	ctx := context.Background()
	s := New(30*time.Minute, 0)

	key := cache.Key{Protocol: domain.ProtocolHTTP, Host: "1.2.3.4", Port: 8080}
	if got, err := s.Lookup(ctx, key); err != nil || got != nil {
		t.Fatalf("want miss, got %v err=%v", got, err)
	}

	r := result("1.2.3.4", 8080, domain.ProtocolHTTP, time.Now())
	if err := s.Store(ctx, r); err != nil {
		t.Fatalf("store: %v", err)
	}
	got, err := s.Lookup(ctx, key)
	if err != nil || got == nil || got.LatencyMS != 100 {
		t.Fatalf("want hit, got %v err=%v", got, err)
	}
}

func TestExpiredEntryBehavesAsMiss(t *testing.T) {
	ctx := context.Background()
	s := New(30*time.Minute, 0)

	r := result("1.2.3.4", 8080, domain.ProtocolHTTP, time.Now().Add(-31*time.Minute))
	if err := s.Store(ctx, r); err != nil {
		t.Fatalf("store: %v", err)
	}
	got, err := s.Lookup(ctx, cache.KeyFor(domain.ProtocolHTTP, r.Candidate))
	if err != nil || got != nil {
		t.Fatalf("31-minute-old entry must be a miss, got %v err=%v", got, err)
	}

	n, err := s.EvictExpired(ctx)
	if err != nil || n != 1 {
		t.Fatalf("want 1 eviction, got %d err=%v", n, err)
	}
}

func TestLastWriteWins(t *testing.T) {
	ctx := context.Background()
	s := New(30*time.Minute, 0)

	c := domain.Candidate{Host: "1.2.3.4", Port: 8080}
	first := &domain.ProbeResult{Candidate: c, Protocol: domain.ProtocolHTTP, Alive: true, LatencyMS: 500, CheckedAt: time.Now()}
	second := &domain.ProbeResult{Candidate: c, Protocol: domain.ProtocolHTTP, Alive: false, Reason: domain.FailTimeout, CheckedAt: time.Now()}
	_ = s.Store(ctx, first)
	_ = s.Store(ctx, second)

	got, _ := s.Lookup(ctx, cache.KeyFor(domain.ProtocolHTTP, c))
	if got == nil || got.Alive {
		t.Fatalf("later store must supersede, got %v", got)
	}
}

func TestProtocolKeysAreIndependent(t *testing.T) {
	ctx := context.Background()
	s := New(30*time.Minute, 0)

	c := domain.Candidate{Host: "1.2.3.4", Port: 1080}
	_ = s.Store(ctx, &domain.ProbeResult{Candidate: c, Protocol: domain.ProtocolHTTP, Alive: false, Reason: domain.FailProtocolMismatch, CheckedAt: time.Now()})
	_ = s.Store(ctx, &domain.ProbeResult{Candidate: c, Protocol: domain.ProtocolSOCKS5, Alive: true, LatencyMS: 42, CheckedAt: time.Now()})

	h, _ := s.Lookup(ctx, cache.KeyFor(domain.ProtocolHTTP, c))
	s5, _ := s.Lookup(ctx, cache.KeyFor(domain.ProtocolSOCKS5, c))
	if h == nil || h.Alive {
		t.Fatalf("http entry clobbered: %v", h)
	}
	if s5 == nil || !s5.Alive || s5.LatencyMS != 42 {
		t.Fatalf("socks5 entry wrong: %v", s5)
	}
}

func TestSizeLimitEvictsOldestFirst(t *testing.T) {
	ctx := context.Background()
	s := New(time.Hour, 200) // room for ~2 entries at ~80 bytes each

	now := time.Now()
	_ = s.Store(ctx, result("1.1.1.1", 1, domain.ProtocolHTTP, now.Add(-3*time.Minute)))
	_ = s.Store(ctx, result("2.2.2.2", 2, domain.ProtocolHTTP, now.Add(-2*time.Minute)))
	_ = s.Store(ctx, result("3.3.3.3", 3, domain.ProtocolHTTP, now.Add(-1*time.Minute)))

	if _, err := s.EnforceSizeLimit(ctx); err != nil {
		t.Fatalf("enforce: %v", err)
	}

	oldest, _ := s.Lookup(ctx, cache.Key{Protocol: domain.ProtocolHTTP, Host: "1.1.1.1", Port: 1})
	newest, _ := s.Lookup(ctx, cache.Key{Protocol: domain.ProtocolHTTP, Host: "3.3.3.3", Port: 3})
	if oldest != nil {
		t.Fatal("oldest entry should have been evicted first")
	}
	if newest == nil {
		t.Fatal("newest entry should have survived")
	}
}

func TestPayloadBytesCountTowardSizeLimit(t *testing.T) {
	ctx := context.Background()
	s := New(time.Hour, 200)

	now := time.Now()
	_ = s.Store(ctx, result("1.1.1.1", 1, domain.ProtocolHTTP, now.Add(-2*time.Minute)))
	_ = s.Store(ctx, result("2.2.2.2", 2, domain.ProtocolHTTP, now.Add(-1*time.Minute)))

	// Two results alone fit under the cap; nothing may be evicted yet.
	if n, err := s.EnforceSizeLimit(ctx); err != nil || n != 0 {
		t.Fatalf("under cap, want 0 evictions, got %d err=%v", n, err)
	}

	// A 150-byte payload pushes the total over the cap, so enforcement
	// must now evict results even though they did not grow.
	_ = s.StorePayload(ctx, "src|big", make([]byte, 150))
	n, err := s.EnforceSizeLimit(ctx)
	if err != nil {
		t.Fatalf("enforce: %v", err)
	}
	if n == 0 {
		t.Fatal("payload bytes ignored by the size cap")
	}
	if got, _ := s.Lookup(ctx, cache.Key{Protocol: domain.ProtocolHTTP, Host: "1.1.1.1", Port: 1}); got != nil {
		t.Fatal("oldest result should have been evicted first")
	}
}

func TestPayloadRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := New(time.Hour, 0)

	if _, ok, _ := s.LookupPayload(ctx, "src|http://x"); ok {
		t.Fatal("want payload miss")
	}
	_ = s.StorePayload(ctx, "src|http://x", []byte("1.2.3.4:8080\n"))
	body, ok, err := s.LookupPayload(ctx, "src|http://x")
	if err != nil || !ok || string(body) != "1.2.3.4:8080\n" {
		t.Fatalf("payload hit wrong: %q ok=%v err=%v", body, ok, err)
	}
}
