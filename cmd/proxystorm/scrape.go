package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/omarobando/proxystorm/internal/domain"
	"github.com/omarobando/proxystorm/internal/sources"
)

var (
	scrapeProtocols string
	scrapeOutDir    string
	scrapeLimit     int
)

var scrapeCmd = &cobra.Command{
	Use:   "scrape",
	Short: "Download and normalize candidates without probing them",
	RunE:  runScrape,
}

func init() {
	f := scrapeCmd.Flags()
	f.StringVarP(&scrapeProtocols, "protocols", "p", "all", "http, socks4, socks5, all, or a comma list")
	f.StringVarP(&scrapeOutDir, "output-dir", "o", "", "save one timestamped file per protocol instead of printing")
	f.IntVarP(&scrapeLimit, "limit", "n", 0, "keep at most this many candidates per protocol (0 = all)")
}

func runScrape(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	protocols, err := domain.ParseProtocols(scrapeProtocols)
	if err != nil {
		return err
	}
	srcs, err := a.buildSources(protocols, "")
	if err != nil {
		return err
	}

	byProto, err := sources.NewFetcher(a.logger, srcs, a.store).FetchAll(ctx)
	if err != nil {
		return err
	}

	for _, p := range protocols {
		candidates := byProto[p]
		if len(candidates) == 0 {
			continue
		}
		if scrapeLimit > 0 && len(candidates) > scrapeLimit {
			candidates = candidates[:scrapeLimit]
		}
		var b strings.Builder
		for _, c := range candidates {
			b.WriteString(c.Addr())
			b.WriteByte('\n')
		}

		if scrapeOutDir == "" {
			fmt.Fprint(cmd.OutOrStdout(), b.String())
		} else {
			if err := os.MkdirAll(scrapeOutDir, 0o755); err != nil {
				return err
			}
			name := fmt.Sprintf("candidates_%s_%s.txt", p, time.Now().Format("20060102_150405"))
			path := filepath.Join(scrapeOutDir, name)
			if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "saved", path)
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "%s: %d candidates\n", p, len(candidates))
	}
	return nil
}
