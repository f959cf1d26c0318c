// Package postgres backs the verification cache with a shared database, for
// deployments where several scraper instances should benefit from each
// other's probes. Schema is created on first connect.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/omarobando/proxystorm/internal/cache"
	"github.com/omarobando/proxystorm/internal/domain"
)

var _ cache.Store = (*Store)(nil)
var _ cache.PayloadStore = (*Store)(nil)

type Store struct {
	pool     *pgxpool.Pool
	log      *zap.Logger
	ttl      time.Duration
	maxBytes int64
}

const schema = `
CREATE TABLE IF NOT EXISTS probe_results (
    protocol   text        NOT NULL,
    host       text        NOT NULL,
    port       integer     NOT NULL,
    alive      boolean     NOT NULL,
    latency_ms bigint      NOT NULL DEFAULT 0,
    reason     text        NOT NULL DEFAULT '',
    checked_at timestamptz NOT NULL,
    PRIMARY KEY (protocol, host, port)
);
CREATE INDEX IF NOT EXISTS probe_results_checked_at ON probe_results (checked_at);

CREATE TABLE IF NOT EXISTS source_payloads (
    key       text        PRIMARY KEY,
    body      bytea       NOT NULL,
    stored_at timestamptz NOT NULL
);`

func New(ctx context.Context, dsn string, ttl time.Duration, maxBytes int64, log *zap.Logger) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.New: %w", err)
	}
	ctxPing, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(ctxPing); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return &Store{pool: pool, log: log, ttl: ttl, maxBytes: maxBytes}, nil
}

func (s *Store) Lookup(ctx context.Context, key cache.Key) (*domain.ProbeResult, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT alive, latency_ms, reason, checked_at
		   FROM probe_results
		  WHERE protocol = $1 AND host = $2 AND port = $3
		    AND checked_at > $4`,
		string(key.Protocol), key.Host, int(key.Port), time.Now().UTC().Add(-s.ttl),
	)
	r := domain.ProbeResult{
		Candidate: domain.Candidate{Host: key.Host, Port: key.Port},
		Protocol:  key.Protocol,
	}
	var reason string
	err := row.Scan(&r.Alive, &r.LatencyMS, &reason, &r.CheckedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("lookup %s: %w", key, err)
	}
	r.Reason = domain.FailureReason(reason)
	return &r, nil
}

func (s *Store) Store(ctx context.Context, r *domain.ProbeResult) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO probe_results (protocol, host, port, alive, latency_ms, reason, checked_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (protocol, host, port) DO UPDATE
		 SET alive = EXCLUDED.alive,
		     latency_ms = EXCLUDED.latency_ms,
		     reason = EXCLUDED.reason,
		     checked_at = EXCLUDED.checked_at`,
		string(r.Protocol), r.Candidate.Host, int(r.Candidate.Port),
		r.Alive, r.LatencyMS, string(r.Reason), r.CheckedAt,
	)
	if err != nil {
		return fmt.Errorf("store result: %w", err)
	}
	return nil
}

func (s *Store) EvictExpired(ctx context.Context) (int, error) {
	cutoff := time.Now().UTC().Add(-s.ttl)
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM probe_results WHERE checked_at <= $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("evict expired: %w", err)
	}
	if _, err := s.pool.Exec(ctx,
		`DELETE FROM source_payloads WHERE stored_at <= $1`, cutoff); err != nil {
		s.log.Warn("payload_evict_failed", zap.Error(err))
	}
	return int(tag.RowsAffected()), nil
}

func (s *Store) EnforceSizeLimit(ctx context.Context) (int, error) {
	if s.maxBytes <= 0 {
		return 0, nil
	}
	var size int64
	err := s.pool.QueryRow(ctx,
		`SELECT pg_total_relation_size('probe_results') + pg_total_relation_size('source_payloads')`,
	).Scan(&size)
	if err != nil {
		return 0, fmt.Errorf("measure cache size: %w", err)
	}
	evicted := 0
	for size > s.maxBytes {
		tag, err := s.pool.Exec(ctx, `
			DELETE FROM probe_results
			 WHERE ctid IN (
			       SELECT ctid FROM probe_results
			        ORDER BY checked_at ASC
			        LIMIT 512)`)
		if err != nil {
			return evicted, fmt.Errorf("size eviction: %w", err)
		}
		n := int(tag.RowsAffected())
		evicted += n
		if n == 0 {
			break
		}
		if err := s.pool.QueryRow(ctx,
			`SELECT pg_total_relation_size('probe_results') + pg_total_relation_size('source_payloads')`,
		).Scan(&size); err != nil {
			return evicted, fmt.Errorf("re-measure cache size: %w", err)
		}
	}
	return evicted, nil
}

func (s *Store) LookupPayload(ctx context.Context, key string) ([]byte, bool, error) {
	var body []byte
	err := s.pool.QueryRow(ctx,
		`SELECT body FROM source_payloads WHERE key = $1 AND stored_at > $2`,
		key, time.Now().UTC().Add(-s.ttl),
	).Scan(&body)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("payload lookup: %w", err)
	}
	return body, true, nil
}

func (s *Store) StorePayload(ctx context.Context, key string, body []byte) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO source_payloads (key, body, stored_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (key) DO UPDATE
		 SET body = EXCLUDED.body, stored_at = EXCLUDED.stored_at`,
		key, body, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("payload store: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}
