package sources

import (
	"context"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/omarobando/proxystorm/internal/cache"
	"github.com/omarobando/proxystorm/internal/domain"
	"github.com/omarobando/proxystorm/internal/normalize"
)

// Fetcher downloads every configured source concurrently, normalizes the
// lines, and dedupes per protocol (first occurrence wins). Payloads, when a
// PayloadStore is wired, let a rerun inside the cache TTL skip the download.
type Fetcher struct {
	Logger   *zap.Logger
	Sources  []Source
	Payloads cache.PayloadStore // optional
}

func NewFetcher(logger *zap.Logger, srcs []Source, payloads cache.PayloadStore) *Fetcher {
	return &Fetcher{Logger: logger, Sources: srcs, Payloads: payloads}
}

// FetchAll returns normalized candidates grouped by protocol hypothesis.
// Individual source failures are logged, aggregated, and tolerated; the only
// fatal outcome is every source coming back empty, reported as
// domain.ErrNoCandidates so callers can distinguish it from a healthy run
// that found nothing alive.
func (f *Fetcher) FetchAll(ctx context.Context) (map[domain.Protocol][]domain.Candidate, error) {
	type fetched struct {
		src  Source
		body []byte
		err  error
	}

	results := make([]fetched, len(f.Sources))
	var wg sync.WaitGroup
	for i, src := range f.Sources {
		wg.Add(1)
		go func(i int, src Source) {
			defer wg.Done()
			body, err := f.fetchOne(ctx, src)
			results[i] = fetched{src: src, body: body, err: err}
		}(i, src)
	}
	wg.Wait()

	out := make(map[domain.Protocol][]domain.Candidate)
	seen := make(map[domain.Protocol]map[domain.Candidate]struct{})
	var errs error
	total := 0

	for _, r := range results {
		if r.err != nil {
			f.Logger.Warn("source_fetch_failed",
				zap.String("source", r.src.Name()),
				zap.Error(r.err))
			errs = multierr.Append(errs, r.err)
			continue
		}
		proto := r.src.Protocol()
		if seen[proto] == nil {
			seen[proto] = make(map[domain.Candidate]struct{})
		}
		added := 0
		for _, c := range normalize.Lines(splitLines(r.body)) {
			if _, dup := seen[proto][c]; dup {
				continue
			}
			seen[proto][c] = struct{}{}
			out[proto] = append(out[proto], c)
			added++
		}
		total += added
		f.Logger.Info("source_fetched",
			zap.String("source", r.src.Name()),
			zap.String("protocol", string(proto)),
			zap.Int("candidates", added))
	}

	if total == 0 {
		if errs != nil {
			return nil, multierr.Append(domain.ErrNoCandidates, errs)
		}
		return nil, domain.ErrNoCandidates
	}
	return out, nil
}

func (f *Fetcher) fetchOne(ctx context.Context, src Source) ([]byte, error) {
	key := "source|" + src.Name() + "|" + string(src.Protocol())
	if f.Payloads != nil {
		if body, ok, err := f.Payloads.LookupPayload(ctx, key); err == nil && ok {
			f.Logger.Debug("source_payload_cached", zap.String("source", src.Name()))
			return body, nil
		}
	}
	body, err := src.Fetch(ctx)
	if err != nil {
		return nil, err
	}
	if f.Payloads != nil && len(body) > 0 {
		if err := f.Payloads.StorePayload(ctx, key, body); err != nil {
			f.Logger.Warn("source_payload_store_failed",
				zap.String("source", src.Name()), zap.Error(err))
		}
	}
	return body, nil
}

func splitLines(body []byte) []string {
	var lines []string
	start := 0
	for i, b := range body {
		if b == '\n' {
			lines = append(lines, string(body[start:i]))
			start = i + 1
		}
	}
	if start < len(body) {
		lines = append(lines, string(body[start:]))
	}
	return lines
}
