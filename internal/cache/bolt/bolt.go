// Package bolt is the durable cache adapter. It keeps probe results and raw
// source payloads in a single bbolt file under the configured cache
// directory, standing in for the original on-disk cache the tool shipped
// with. Entries survive process restarts; freshness is enforced on read.
package bolt

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	bbolt "go.etcd.io/bbolt"

	"github.com/omarobando/proxystorm/internal/cache"
	"github.com/omarobando/proxystorm/internal/domain"
)

var (
	bucketResults  = []byte("results")
	bucketPayloads = []byte("payloads")
)

type Store struct {
	db       *bbolt.DB
	ttl      time.Duration
	maxBytes int64
}

var _ cache.Store = (*Store)(nil)
var _ cache.PayloadStore = (*Store)(nil)

// Open creates or reopens the cache database at dir/proxystorm.db.
func Open(dir string, ttl time.Duration, maxBytes int64) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	db, err := bbolt.Open(filepath.Join(dir, "proxystorm.db"), 0o600, &bbolt.Options{
		Timeout: 2 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketResults); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(bucketPayloads)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init cache buckets: %w", err)
	}
	return &Store{db: db, ttl: ttl, maxBytes: maxBytes}, nil
}

func (s *Store) Lookup(ctx context.Context, key cache.Key) (*domain.ProbeResult, error) {
	var out *domain.ProbeResult
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucketResults).Get([]byte(key.String()))
		if v == nil {
			return nil
		}
		var r domain.ProbeResult
		if err := json.Unmarshal(v, &r); err != nil {
			// Corrupt entry; behave as a miss, a fresh probe overwrites it.
			return nil
		}
		if s.expired(r.CheckedAt) {
			return nil
		}
		out = &r
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("cache lookup %s: %w", key, err)
	}
	return out, nil
}

func (s *Store) Store(ctx context.Context, r *domain.ProbeResult) error {
	key := cache.KeyFor(r.Protocol, r.Candidate)
	v, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}
	err = s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketResults).Put([]byte(key.String()), v)
	})
	if err != nil {
		return fmt.Errorf("cache store %s: %w", key, err)
	}
	return nil
}

func (s *Store) EvictExpired(ctx context.Context) (int, error) {
	n := 0
	err := s.db.Update(func(tx *bbolt.Tx) error {
		rb := tx.Bucket(bucketResults)
		c := rb.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var r domain.ProbeResult
			if json.Unmarshal(v, &r) != nil || s.expired(r.CheckedAt) {
				if err := c.Delete(); err != nil {
					return err
				}
				n++
			}
		}
		pb := tx.Bucket(bucketPayloads)
		pc := pb.Cursor()
		for k, v := pc.First(); k != nil; k, v = pc.Next() {
			var p storedPayload
			if json.Unmarshal(v, &p) != nil || s.expired(p.StoredAt) {
				if err := pc.Delete(); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return n, fmt.Errorf("cache evict expired: %w", err)
	}
	return n, nil
}

// EnforceSizeLimit measures the logical footprint (keys plus values across
// both buckets) and deletes the oldest probe results until back under the
// cap. The bbolt file itself does not shrink on delete; freed pages are
// reused by later writes.
func (s *Store) EnforceSizeLimit(ctx context.Context) (int, error) {
	if s.maxBytes <= 0 {
		return 0, nil
	}
	type aged struct {
		key  []byte
		size int64
		at   time.Time
	}

	var total int64
	var entries []aged
	err := s.db.View(func(tx *bbolt.Tx) error {
		rb := tx.Bucket(bucketResults)
		if err := rb.ForEach(func(k, v []byte) error {
			sz := int64(len(k) + len(v))
			total += sz
			var r domain.ProbeResult
			at := time.Time{} // unparseable entries sort oldest, evicted first
			if json.Unmarshal(v, &r) == nil {
				at = r.CheckedAt
			}
			kc := make([]byte, len(k))
			copy(kc, k)
			entries = append(entries, aged{key: kc, size: sz, at: at})
			return nil
		}); err != nil {
			return err
		}
		return tx.Bucket(bucketPayloads).ForEach(func(k, v []byte) error {
			total += int64(len(k) + len(v))
			return nil
		})
	})
	if err != nil {
		return 0, fmt.Errorf("cache size scan: %w", err)
	}
	if total <= s.maxBytes {
		return 0, nil
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].at.Before(entries[j].at) })

	n := 0
	err = s.db.Update(func(tx *bbolt.Tx) error {
		rb := tx.Bucket(bucketResults)
		for _, e := range entries {
			if total <= s.maxBytes {
				break
			}
			if err := rb.Delete(e.key); err != nil {
				return err
			}
			total -= e.size
			n++
		}
		return nil
	})
	if err != nil {
		return n, fmt.Errorf("cache size eviction: %w", err)
	}
	return n, nil
}

type storedPayload struct {
	Body     []byte    `json:"body"`
	StoredAt time.Time `json:"stored_at"`
}

func (s *Store) LookupPayload(ctx context.Context, key string) ([]byte, bool, error) {
	var body []byte
	var found bool
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucketPayloads).Get([]byte(key))
		if v == nil {
			return nil
		}
		var p storedPayload
		if err := json.Unmarshal(v, &p); err != nil {
			return nil
		}
		if s.expired(p.StoredAt) {
			return nil
		}
		body = p.Body
		found = true
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("payload lookup: %w", err)
	}
	return body, found, nil
}

func (s *Store) StorePayload(ctx context.Context, key string, body []byte) error {
	v, err := json.Marshal(storedPayload{Body: body, StoredAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	err = s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketPayloads).Put([]byte(key), v)
	})
	if err != nil {
		return fmt.Errorf("payload store: %w", err)
	}
	return nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) expired(at time.Time) bool {
	return s.ttl > 0 && time.Since(at) > s.ttl
}
