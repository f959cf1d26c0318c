package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/omarobando/proxystorm/internal/cache"
	boltcache "github.com/omarobando/proxystorm/internal/cache/bolt"
	pgcache "github.com/omarobando/proxystorm/internal/cache/postgres"
	"github.com/omarobando/proxystorm/internal/config"
	"github.com/omarobando/proxystorm/internal/domain"
	"github.com/omarobando/proxystorm/internal/engine"
	"github.com/omarobando/proxystorm/internal/httpapi"
	"github.com/omarobando/proxystorm/internal/logging"
	"github.com/omarobando/proxystorm/internal/probe"
	"github.com/omarobando/proxystorm/internal/sources"
)

var debugFlag bool

var rootCmd = &cobra.Command{
	Use:           "proxystorm",
	Short:         "Scrape proxy candidates and verify which ones actually work",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&debugFlag, "debug", false, "also log to the console")
	rootCmd.AddCommand(scrapeCmd, verifyCmd, serveCmd)
}

// cacheStore is the full backend contract: probe results plus raw
// source payloads. All three backends satisfy it.
type cacheStore interface {
	cache.Store
	cache.PayloadStore
}

type app struct {
	cfg    config.Config
	logger *zap.Logger
	store  cacheStore
}

// newApp wires config, logging and the cache backend. DATABASE_URL
// selects postgres; otherwise the local bolt store under CACHE_DIR.
func newApp(ctx context.Context) (*app, error) {
	cfg := config.FromEnv()
	logger, err := logging.NewLogger(cfg.LogDir, debugFlag)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}

	var store cacheStore
	if cfg.DatabaseURL != "" {
		store, err = pgcache.New(ctx, cfg.DatabaseURL, cfg.CacheTTL, cfg.CacheMaxBytes, logger)
	} else {
		store, err = boltcache.Open(cfg.CacheDir, cfg.CacheTTL, cfg.CacheMaxBytes)
	}
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}

	return &app{cfg: cfg, logger: logger, store: store}, nil
}

func (a *app) close() {
	_ = a.store.Close()
	_ = a.logger.Sync()
}

func (a *app) newEngine() *engine.Engine {
	return engine.New(a.logger, a.store, probe.NewExecutor(a.cfg.JudgeURL, 0))
}

// buildSources resolves where candidates come from: an explicit input
// file, the SITES_FILE list, or the built-in defaults. Remote sources
// not matching the requested protocols are skipped.
func (a *app) buildSources(protocols []domain.Protocol, inputFile string) ([]sources.Source, error) {
	if inputFile != "" {
		srcs := make([]sources.Source, 0, len(protocols))
		for _, p := range protocols {
			srcs = append(srcs, sources.NewFileSource(inputFile, p))
		}
		return srcs, nil
	}

	var all []sources.Source
	if a.cfg.SitesFile != "" {
		loaded, err := sources.LoadSites(a.cfg.SitesFile)
		if err != nil {
			return nil, fmt.Errorf("load sites file: %w", err)
		}
		all = loaded
	} else {
		all = sources.DefaultSources()
	}

	want := make(map[domain.Protocol]bool, len(protocols))
	for _, p := range protocols {
		want[p] = true
	}
	var out []sources.Source
	for _, s := range all {
		if want[s.Protocol()] {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no configured source serves the requested protocols")
	}
	return out, nil
}

// runnerWith is the full pipeline behind one run: fetch, union, verify.
func (a *app) runnerWith(eng *engine.Engine, inputFile string) httpapi.Runner {
	return func(ctx context.Context, req domain.VerificationRequest) ([]domain.ProbeResult, *engine.Stats, error) {
		srcs, err := a.buildSources(req.Protocols, inputFile)
		if err != nil {
			return nil, nil, err
		}
		byProto, err := sources.NewFetcher(a.logger, srcs, a.store).FetchAll(ctx)
		if err != nil {
			return nil, nil, err
		}
		return eng.Verify(ctx, unionCandidates(byProto, req.Protocols), req)
	}
}

// unionCandidates flattens the per-protocol groups into one deduped
// list. Protocol tags on sources only steer fetching; the engine probes
// every candidate under every requested protocol.
func unionCandidates(byProto map[domain.Protocol][]domain.Candidate, order []domain.Protocol) []domain.Candidate {
	seen := make(map[domain.Candidate]struct{})
	var out []domain.Candidate
	for _, p := range order {
		for _, c := range byProto[p] {
			if _, dup := seen[c]; dup {
				continue
			}
			seen[c] = struct{}{}
			out = append(out, c)
		}
	}
	return out
}
