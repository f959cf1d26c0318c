// Preflight checks the environment before a deployment: cache
// directory writability, URL shapes, API key hygiene. It never touches
// the network.
package main

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

func main() {
	failed := false
	fail := func(msg string) {
		fmt.Fprintln(os.Stderr, "✖", msg)
		failed = true
	}
	warn := func(msg string) { fmt.Fprintln(os.Stderr, "⚠", msg) }
	ok := func(msg string) { fmt.Println("✔", msg) }

	cacheDir := strings.TrimSpace(os.Getenv("CACHE_DIR"))
	if cacheDir == "" {
		cacheDir = "./cache"
	}
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		fail("CACHE_DIR not creatable: " + err.Error())
	} else {
		probe := filepath.Join(cacheDir, ".preflight")
		if err := os.WriteFile(probe, []byte("ok"), 0o644); err != nil {
			fail("CACHE_DIR not writable: " + err.Error())
		} else {
			_ = os.Remove(probe)
			ok("CACHE_DIR writable: " + cacheDir)
		}
	}

	if judge := strings.TrimSpace(os.Getenv("JUDGE_URL")); judge != "" {
		if u, err := url.Parse(judge); err != nil || u.Scheme == "" || u.Host == "" {
			fail("JUDGE_URL is not an absolute URL: " + judge)
		} else {
			ok("JUDGE_URL=" + judge)
		}
	} else {
		warn("JUDGE_URL empty; the built-in default will be used.")
	}

	if db := strings.TrimSpace(os.Getenv("DATABASE_URL")); db == "" {
		warn("DATABASE_URL empty; the cache falls back to the local store.")
	} else if !strings.HasPrefix(db, "postgres://") && !strings.HasPrefix(db, "postgresql://") {
		fail("DATABASE_URL does not look like a postgres DSN.")
	} else {
		ok("DATABASE_URL present")
	}

	if sites := strings.TrimSpace(os.Getenv("SITES_FILE")); sites != "" {
		if _, err := os.Stat(sites); err != nil {
			fail("SITES_FILE not readable: " + err.Error())
		} else {
			ok("SITES_FILE=" + sites)
		}
	}

	admin := strings.TrimSpace(os.Getenv("ADMIN_API_KEYS"))
	pub := strings.TrimSpace(os.Getenv("PUBLIC_API_KEYS"))
	if admin == "" && pub == "" {
		warn("no API keys configured; serve mode will accept every request.")
	}
	for name, v := range map[string]string{"ADMIN_API_KEYS": admin, "PUBLIC_API_KEYS": pub} {
		if strings.Contains(v, " ") {
			warn(name + " contains spaces; use comma-separated with no spaces, e.g. key1,key2")
		}
	}

	if wh := strings.TrimSpace(os.Getenv("WEBHOOK_URL")); wh != "" {
		if u, err := url.Parse(wh); err != nil || u.Scheme == "" || u.Host == "" {
			fail("WEBHOOK_URL is not an absolute URL: " + wh)
		} else {
			ok("WEBHOOK_URL=" + wh)
		}
	}

	if failed {
		os.Exit(1)
	}
	ok("preflight passed")
}
