// Package httpapi exposes the verification engine over HTTP for the
// serve mode: trigger runs, read back the latest result set, health.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/omarobando/proxystorm/internal/domain"
	"github.com/omarobando/proxystorm/internal/engine"
	"github.com/omarobando/proxystorm/internal/format"
	"github.com/omarobando/proxystorm/internal/httpapi/middleware"
)

// Runner executes one full run: fetch sources, normalize, verify.
// Wired in by the caller so the server stays transport-only.
type Runner func(ctx context.Context, req domain.VerificationRequest) ([]domain.ProbeResult, *engine.Stats, error)

type Server struct {
	Logger     *zap.Logger
	Run        Runner
	Keys       *middleware.Keyring
	RatePerMin int

	mu      sync.RWMutex
	results []domain.ProbeResult
	stats   *engine.Stats
	busy    bool
}

func NewServer(l *zap.Logger, run Runner, keys *middleware.Keyring, ratePerMin int) *Server {
	return &Server{Logger: l, Run: run, Keys: keys, RatePerMin: ratePerMin}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(cors.AllowAll().Handler)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.RateLimit(s.RatePerMin))

		r.Group(func(r chi.Router) {
			r.Use(s.Keys.Require(middleware.RolePublic))
			r.Get("/proxies", s.handleProxies)
			r.Get("/results", s.handleResults)
			r.Get("/stats", s.handleStats)
		})
		r.Group(func(r chi.Router) {
			r.Use(s.Keys.Require(middleware.RoleAdmin))
			r.Post("/verify", s.handleVerify)
		})
	})

	return r
}

type verifyPayload struct {
	TargetCount      int    `json:"target_count"`
	LatencyCeilingMS int    `json:"latency_ceiling_ms"`
	Concurrency      int    `json:"concurrency"`
	Protocols        string `json:"protocols"` // "http,socks5" or "all"
	Format           int    `json:"format"`
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	var p verifyPayload
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			http.Error(w, "bad payload", http.StatusBadRequest)
			return
		}
	}

	protocols, err := domain.ParseProtocols(p.Protocols)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	req := domain.VerificationRequest{
		TargetCount:    p.TargetCount,
		LatencyCeiling: time.Duration(p.LatencyCeilingMS) * time.Millisecond,
		Concurrency:    p.Concurrency,
		Protocols:      protocols,
		Format:         domain.OutputFormat(p.Format),
	}.Normalized()

	s.mu.Lock()
	if s.busy {
		s.mu.Unlock()
		http.Error(w, "a run is already in progress", http.StatusConflict)
		return
	}
	s.busy = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.busy = false
		s.mu.Unlock()
	}()

	results, stats, err := s.Run(r.Context(), req)
	if err != nil {
		if errors.Is(err, domain.ErrNoCandidates) {
			http.Error(w, "no candidates available from any source", http.StatusBadGateway)
			return
		}
		s.Logger.Error("api_verify_failed", zap.Error(err))
		http.Error(w, "verification failed", http.StatusInternalServerError)
		return
	}

	s.mu.Lock()
	s.results = results
	s.stats = stats
	s.mu.Unlock()

	s.Logger.Info("api_verify_finished",
		zap.String("run_id", stats.RunID),
		zap.Int("alive", stats.Alive),
		zap.Int("returned", len(results)),
	)

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"run_id":   stats.RunID,
		"returned": len(results),
		"stats":    stats,
	})
}

// handleProxies serves the latest verified set as plain text in the
// requested layout, one proxy per line.
func (s *Server) handleProxies(w http.ResponseWriter, r *http.Request) {
	f := domain.FormatIPPort
	if q := r.URL.Query().Get("format"); q != "" {
		parsed, err := domain.ParseOutputFormat(q)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f = parsed
	}

	s.mu.RLock()
	results := s.results
	s.mu.RUnlock()
	if results == nil {
		http.Error(w, "no run completed yet", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_ = format.Write(w, results, f)
}

func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	results := s.results
	s.mu.RUnlock()
	if results == nil {
		http.Error(w, "no run completed yet", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(results)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	stats := s.stats
	s.mu.RUnlock()
	if stats == nil {
		http.Error(w, "no run completed yet", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(stats)
}
