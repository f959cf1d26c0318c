// Package engine orchestrates a verification run: candidate expansion, cache
// consultation, the bounded probe pool, and result aggregation.
package engine

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/omarobando/proxystorm/internal/cache"
	"github.com/omarobando/proxystorm/internal/domain"
	"github.com/omarobando/proxystorm/internal/probe"
)

// Stats summarizes one verification run.
type Stats struct {
	RunID     string        `json:"run_id"`
	Total     int           `json:"total"` // work items (candidate x protocol)
	CacheHits int           `json:"cache_hits"`
	Probed    int           `json:"probed"`
	Alive     int           `json:"alive"`
	Dead      int           `json:"dead"`
	Skipped   int           `json:"skipped"` // dispatch cancelled after the target count was reached
	Elapsed   time.Duration `json:"elapsed"`
}

// Engine drives verification. Cache may be nil; the engine then degrades to
// probing everything, correctness over speed.
type Engine struct {
	Logger *zap.Logger
	Cache  cache.Store
	Prober probe.Prober

	// OnProgress, when set, is called after every work item settles
	// (cache hit or probe completion). Used by the CLI progress bar.
	OnProgress func(done, total, alive int)
}

func New(logger *zap.Logger, store cache.Store, prober probe.Prober) *Engine {
	return &Engine{Logger: logger, Cache: store, Prober: prober}
}

type workItem struct {
	candidate domain.Candidate
	protocol  domain.Protocol
}

// hardTimeout is the absolute per-probe bound. The latency ceiling governs
// acceptance, not cancellation: a probe may run past the ceiling, but a hung
// proxy must release its worker slot at this bound.
func hardTimeout(ceiling time.Duration) time.Duration {
	t := 2 * ceiling
	if t < 3*time.Second {
		t = 3 * time.Second
	}
	if t > 10*time.Second {
		t = 10 * time.Second
	}
	return t
}

// Verify runs the full pipeline and returns the qualifying results sorted by
// latency ascending, truncated to the requested target count. Every probe
// outcome, pass or fail, is written back to the cache.
func (e *Engine) Verify(ctx context.Context, candidates []domain.Candidate, req domain.VerificationRequest) ([]domain.ProbeResult, *Stats, error) {
	req = req.Normalized()
	stats := &Stats{RunID: uuid.NewString()}
	start := time.Now()

	if len(candidates) == 0 {
		return nil, stats, domain.ErrNoCandidates
	}

	items := expand(candidates, req.Protocols)
	stats.Total = len(items)
	e.Logger.Info("verify_run_started",
		zap.String("run_id", stats.RunID),
		zap.Int("candidates", len(candidates)),
		zap.Int("work_items", len(items)),
		zap.Int("target_count", req.TargetCount),
		zap.Duration("latency_ceiling", req.LatencyCeiling),
		zap.Int("concurrency", req.Concurrency),
	)

	var (
		all       []domain.ProbeResult
		misses    []workItem
		degraded  bool
		doneCount int
	)
	ceilingMS := req.LatencyCeiling.Milliseconds()
	qualifies := func(r *domain.ProbeResult) bool {
		return r.Alive && r.LatencyMS <= ceilingMS
	}
	progress := func(alive int) {
		doneCount++
		if e.OnProgress != nil {
			e.OnProgress(doneCount, stats.Total, alive)
		}
	}

	// Cache pass. Hits are reused as-is, original latency included, and
	// count toward the target immediately.
	qualifying := 0
	for _, it := range items {
		if e.Cache == nil || degraded {
			misses = append(misses, it)
			continue
		}
		hit, err := e.Cache.Lookup(ctx, cache.KeyFor(it.protocol, it.candidate))
		if err != nil {
			e.Logger.Warn("cache_unavailable_degrading",
				zap.String("run_id", stats.RunID), zap.Error(err))
			degraded = true
			misses = append(misses, it)
			continue
		}
		if hit == nil {
			misses = append(misses, it)
			continue
		}
		stats.CacheHits++
		all = append(all, *hit)
		if qualifies(hit) {
			qualifying++
		}
		progress(qualifying)
	}

	// Probe pass over the misses, under the concurrency budget. Dispatch
	// stops as soon as the target count is met; in-flight probes finish
	// and are still cache-recorded.
	if len(misses) > 0 && !(req.TargetCount > 0 && qualifying >= req.TargetCount) {
		e.runPool(ctx, misses, req, stats, qualifying, func(r domain.ProbeResult) {
			all = append(all, r)
			if qualifies(&r) {
				qualifying++
			}
			progress(qualifying)
		})
	} else {
		stats.Skipped = len(misses)
	}

	for i := range all {
		if all[i].Alive {
			stats.Alive++
		} else {
			stats.Dead++
		}
	}

	// Final ordering contract: latency ascending, deterministic tie-break.
	results := make([]domain.ProbeResult, 0, qualifying)
	for _, r := range all {
		if qualifies(&r) {
			results = append(results, r)
		}
	}
	sort.Slice(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.LatencyMS != b.LatencyMS {
			return a.LatencyMS < b.LatencyMS
		}
		if a.Candidate.Host != b.Candidate.Host {
			return a.Candidate.Host < b.Candidate.Host
		}
		if a.Candidate.Port != b.Candidate.Port {
			return a.Candidate.Port < b.Candidate.Port
		}
		return a.Protocol < b.Protocol
	})
	if req.TargetCount > 0 && len(results) > req.TargetCount {
		results = results[:req.TargetCount]
	}

	stats.Elapsed = time.Since(start)
	e.Logger.Info("verify_run_finished",
		zap.String("run_id", stats.RunID),
		zap.Int("cache_hits", stats.CacheHits),
		zap.Int("probed", stats.Probed),
		zap.Int("alive", stats.Alive),
		zap.Int("dead", stats.Dead),
		zap.Int("skipped", stats.Skipped),
		zap.Int("returned", len(results)),
		zap.Duration("elapsed", stats.Elapsed),
	)
	return results, stats, nil
}

// runPool fans the cache misses out to workers. Cancellation stops the
// dispatcher immediately; workers drain what was already queued so no probe
// is abandoned mid-flight with an unrecorded outcome. onResult sees every
// probe outcome in completion order; fromCache seeds the target counter so
// cache hits shorten the run.
func (e *Engine) runPool(ctx context.Context, misses []workItem, req domain.VerificationRequest, stats *Stats, fromCache int, onResult func(domain.ProbeResult)) {
	perProbe := hardTimeout(req.LatencyCeiling)
	workers := req.Concurrency
	if workers > len(misses) {
		workers = len(misses)
	}

	dispatchCtx, stopDispatch := context.WithCancel(ctx)
	defer stopDispatch()

	jobs := make(chan workItem)
	resultCh := make(chan domain.ProbeResult)

	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for it := range jobs {
				pctx, cancel := context.WithTimeout(ctx, perProbe)
				r := e.Prober.Probe(pctx, it.candidate, it.protocol)
				cancel()
				if e.Cache != nil {
					if err := e.Cache.Store(ctx, &r); err != nil {
						e.Logger.Warn("cache_store_failed",
							zap.String("key", cache.KeyFor(it.protocol, it.candidate).String()),
							zap.Error(err))
					}
				}
				resultCh <- r
			}
		}()
	}

	dispatched := 0
	go func() {
		defer close(jobs)
		for _, it := range misses {
			select {
			case <-dispatchCtx.Done():
				return
			case jobs <- it:
				dispatched++
			}
		}
	}()

	go func() {
		wg.Wait()
		close(resultCh)
	}()

	ceilingMS := req.LatencyCeiling.Milliseconds()
	qualifying := fromCache
	for r := range resultCh {
		stats.Probed++
		if r.Alive && r.LatencyMS <= ceilingMS {
			qualifying++
			if req.TargetCount > 0 && qualifying >= req.TargetCount {
				stopDispatch()
			}
		}
		onResult(r)
	}

	stats.Skipped += len(misses) - dispatched
	if e.Cache != nil {
		if _, err := e.Cache.EnforceSizeLimit(ctx); err != nil {
			e.Logger.Warn("cache_size_enforcement_failed", zap.Error(err))
		}
	}
}

// expand builds the work queue: one item per (candidate, protocol) pair in
// the request's protocol selection, input order preserved.
func expand(candidates []domain.Candidate, protocols []domain.Protocol) []workItem {
	items := make([]workItem, 0, len(candidates)*len(protocols))
	for _, c := range candidates {
		for _, p := range protocols {
			items = append(items, workItem{candidate: c, protocol: p})
		}
	}
	return items
}
