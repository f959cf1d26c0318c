package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/omarobando/proxystorm/internal/domain"
	"github.com/omarobando/proxystorm/internal/format"
	"github.com/omarobando/proxystorm/internal/notify"
)

var (
	verifyCount     int
	verifyCeiling   int
	verifyWorkers   int
	verifyProtocols string
	verifyFormat    int
	verifyInput     string
	verifyOutDir    string
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Fetch candidates and keep the ones that answer through the judge",
	RunE:  runVerify,
}

func init() {
	f := verifyCmd.Flags()
	f.IntVarP(&verifyCount, "count", "n", 0, "stop after this many working proxies (0 = keep all)")
	f.IntVar(&verifyCeiling, "ceiling-ms", 0, "latency acceptance ceiling in milliseconds")
	f.IntVarP(&verifyWorkers, "workers", "w", 0, "concurrent probes")
	f.StringVarP(&verifyProtocols, "protocols", "p", "all", "http, socks4, socks5, all, or a comma list")
	f.IntVarP(&verifyFormat, "format", "f", 1, "output layout: 1=IP:PORT 2=PORT:IP 3=proto://IP:PORT")
	f.StringVarP(&verifyInput, "input", "i", "", "read candidates from a local file instead of remote sources")
	f.StringVarP(&verifyOutDir, "output-dir", "o", "", "save a timestamped result file here instead of printing")
}

func runVerify(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	protocols, err := domain.ParseProtocols(verifyProtocols)
	if err != nil {
		return err
	}
	if !domain.OutputFormat(verifyFormat).Valid() {
		return fmt.Errorf("output format must be 1, 2 or 3, got %d", verifyFormat)
	}

	req := domain.VerificationRequest{
		TargetCount:    verifyCount,
		LatencyCeiling: time.Duration(verifyCeiling) * time.Millisecond,
		Concurrency:    verifyWorkers,
		Protocols:      protocols,
		Format:         domain.OutputFormat(verifyFormat),
	}.Normalized()
	req.Concurrency = a.cfg.ClampWorkers(req.Concurrency)

	eng := a.newEngine()
	var bar *progressbar.ProgressBar
	eng.OnProgress = func(done, total, alive int) {
		if bar == nil {
			bar = progressbar.NewOptions(total,
				progressbar.OptionSetDescription("verifying"),
				progressbar.OptionSetWriter(os.Stderr),
				progressbar.OptionShowCount(),
				progressbar.OptionClearOnFinish(),
				progressbar.OptionThrottle(100*time.Millisecond),
			)
		}
		_ = bar.Set(done)
	}

	results, stats, err := a.runnerWith(eng, verifyInput)(ctx, req)
	if bar != nil {
		_ = bar.Finish()
	}
	if err != nil {
		if errors.Is(err, domain.ErrNoCandidates) {
			return fmt.Errorf("no candidates: every source failed or came back empty")
		}
		return err
	}

	if verifyOutDir != "" {
		path, err := format.SaveTimestamped(verifyOutDir, "proxies", results, req.Format)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "saved", path)
	} else if err := format.Write(cmd.OutOrStdout(), results, req.Format); err != nil {
		return err
	}

	fmt.Fprintf(cmd.ErrOrStderr(), "checked %d (cache %d), alive %d, returned %d in %s\n",
		stats.Total, stats.CacheHits, stats.Alive, len(results),
		stats.Elapsed.Round(time.Millisecond))

	if a.cfg.WebhookURL != "" {
		notifiers := notify.Multi{notify.NewWebhook(a.cfg.WebhookURL)}
		summary := notify.RunSummary{
			RunID:    stats.RunID,
			Total:    stats.Total,
			Alive:    stats.Alive,
			Dead:     stats.Dead,
			Returned: len(results),
			Elapsed:  stats.Elapsed,
		}
		if err := notifiers.Notify(ctx, summary); err != nil {
			a.logger.Warn("webhook_failed", zap.Error(err))
		}
	}
	return nil
}
