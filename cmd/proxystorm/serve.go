package main

import (
	"context"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/omarobando/proxystorm/internal/httpapi"
	"github.com/omarobando/proxystorm/internal/httpapi/middleware"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API: trigger runs remotely, read back results",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	keys := middleware.NewKeyring(a.cfg.PublicKeys, a.cfg.AdminKeys)
	srv := httpapi.NewServer(a.logger, a.runnerWith(a.newEngine(), ""), keys, a.cfg.APIRatePerMin)

	go a.cacheJanitor(ctx)

	a.logger.Info("api_listen", zap.String("addr", a.cfg.APIAddr))
	return http.ListenAndServe(a.cfg.APIAddr, srv.Router())
}

// cacheJanitor keeps a long-lived server's cache within TTL and size
// bounds between runs.
func (a *app) cacheJanitor(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := a.store.EvictExpired(ctx); err != nil {
				a.logger.Warn("cache_evict_failed", zap.Error(err))
			} else if n > 0 {
				a.logger.Info("cache_evicted_expired", zap.Int("entries", n))
			}
			if _, err := a.store.EnforceSizeLimit(ctx); err != nil {
				a.logger.Warn("cache_size_enforcement_failed", zap.Error(err))
			}
		}
	}
}
