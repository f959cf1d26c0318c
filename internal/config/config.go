package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	LogDir        string        // logs directory
	CacheDir      string        // local cache store location
	CacheTTL      time.Duration // how long a probe result stays fresh
	CacheMaxBytes int64         // cache footprint cap, oldest-first eviction beyond this
	DatabaseURL   string        // optional; set to back the cache with postgres instead of the local store
	JudgeURL      string        // low-cost endpoint probes are forwarded to
	SitesFile     string        // optional list of source URLs, one per line
	APIAddr       string        // serve-mode bind address
	AdminKeys     []string      // keys allowed to trigger runs over the API
	PublicKeys    []string      // keys allowed to read results over the API
	WebhookURL    string        // optional run-completion webhook
	APIRatePerMin int           // per-client request budget for the API, 0 disables
	MaxWorkers    int           // upper bound for the probe pool, from the FD capability probe
}

func FromEnv() Config {
	logDir := os.Getenv("LOG_DIR")
	if logDir == "" {
		logDir = "logs"
	}

	cacheDir := os.Getenv("CACHE_DIR")
	if cacheDir == "" {
		cacheDir = "./cache"
	}

	ttl := 30 * time.Minute
	if v := os.Getenv("CACHE_TTL_MINUTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			ttl = time.Duration(n) * time.Minute
		}
	}

	maxBytes := int64(1_000_000_000)
	if v := os.Getenv("CACHE_MAX_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			maxBytes = n
		}
	}

	judge := os.Getenv("JUDGE_URL")
	if judge == "" {
		judge = "http://ip-api.com/json/"
	}

	apiAddr := os.Getenv("API_ADDR")
	if apiAddr == "" {
		apiAddr = "127.0.0.1:8080"
	}

	ratePerMin := 120
	if v := os.Getenv("API_RATE_PER_MIN"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			ratePerMin = n
		}
	}

	return Config{
		LogDir:        logDir,
		CacheDir:      cacheDir,
		CacheTTL:      ttl,
		CacheMaxBytes: maxBytes,
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		JudgeURL:      judge,
		SitesFile:     os.Getenv("SITES_FILE"),
		APIAddr:       apiAddr,
		AdminKeys:     splitKeys(os.Getenv("ADMIN_API_KEYS")),
		PublicKeys:    splitKeys(os.Getenv("PUBLIC_API_KEYS")),
		WebhookURL:    os.Getenv("WEBHOOK_URL"),
		APIRatePerMin: ratePerMin,
		MaxWorkers:    maxWorkersFromFDLimit(),
	}
}

func splitKeys(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	var out []string
	for _, k := range strings.Split(s, ",") {
		k = strings.TrimSpace(k)
		if k != "" {
			out = append(out, k)
		}
	}
	return out
}

// ClampWorkers bounds a requested concurrency by the capability probe.
func (c Config) ClampWorkers(requested int) int {
	if requested < 1 {
		requested = 1
	}
	if c.MaxWorkers > 0 && requested > c.MaxWorkers {
		return c.MaxWorkers
	}
	return requested
}
