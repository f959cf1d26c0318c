package sources

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/omarobando/proxystorm/internal/cache/memory"
	"github.com/omarobando/proxystorm/internal/domain"
)

func TestHTTPSourceFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("1.2.3.4:8080\ngarbage line\n5.6.7.8:3128\n"))
	}))
	defer srv.Close()

	src := NewHTTPSource("test", srv.URL, domain.ProtocolHTTP)
	body, err := src.Fetch(context.Background())
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(body) == 0 {
		t.Fatal("empty body")
	}
}

func TestFetchAllSkipsFailingSource(t *testing.T) {
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("1.2.3.4:8080\n"))
	}))
	defer good.Close()
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer bad.Close()

	f := NewFetcher(zap.NewNop(), []Source{
		NewHTTPSource("bad", bad.URL, domain.ProtocolHTTP),
		NewHTTPSource("good", good.URL, domain.ProtocolHTTP),
	}, nil)

	got, err := f.FetchAll(context.Background())
	if err != nil {
		t.Fatalf("one healthy source should be enough: %v", err)
	}
	if len(got[domain.ProtocolHTTP]) != 1 {
		t.Fatalf("want 1 candidate from the good source, got %v", got)
	}
}

func TestFetchAllAllEmptyIsErrNoCandidates(t *testing.T) {
	empty := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer empty.Close()

	f := NewFetcher(zap.NewNop(), []Source{
		NewHTTPSource("empty", empty.URL, domain.ProtocolSOCKS5),
	}, nil)

	_, err := f.FetchAll(context.Background())
	if !errors.Is(err, domain.ErrNoCandidates) {
		t.Fatalf("want ErrNoCandidates, got %v", err)
	}
}

func TestFetchAllDedupesAcrossSourcesPerProtocol(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("1.2.3.4:8080\n"))
	}))
	defer srv.Close()

	f := NewFetcher(zap.NewNop(), []Source{
		NewHTTPSource("a", srv.URL, domain.ProtocolHTTP),
		NewHTTPSource("b", srv.URL, domain.ProtocolHTTP),
		NewHTTPSource("c", srv.URL, domain.ProtocolSOCKS5),
	}, nil)

	got, err := f.FetchAll(context.Background())
	if err != nil {
		t.Fatalf("fetch all: %v", err)
	}
	if len(got[domain.ProtocolHTTP]) != 1 {
		t.Fatalf("same endpoint in two http lists must dedupe, got %v", got[domain.ProtocolHTTP])
	}
	if len(got[domain.ProtocolSOCKS5]) != 1 {
		t.Fatalf("same endpoint under another protocol stays, got %v", got[domain.ProtocolSOCKS5])
	}
}

func TestFetchAllUsesPayloadCache(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		_, _ = w.Write([]byte("1.2.3.4:8080\n"))
	}))
	defer srv.Close()

	payloads := memory.New(30*time.Minute, 0)
	f := NewFetcher(zap.NewNop(), []Source{
		NewHTTPSource("cached", srv.URL, domain.ProtocolHTTP),
	}, payloads)

	if _, err := f.FetchAll(context.Background()); err != nil {
		t.Fatalf("first fetch: %v", err)
	}
	if _, err := f.FetchAll(context.Background()); err != nil {
		t.Fatalf("second fetch: %v", err)
	}
	if n := atomic.LoadInt32(&hits); n != 1 {
		t.Fatalf("second run should come from the payload cache, server saw %d requests", n)
	}
}

func TestLoadSites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sites.txt")
	content := `
# comment, ignored
https://lists.example/http.txt
https://lists.example/socks4-list.txt
https://lists.example/SOCKS5.txt
table https://free.example/socks5-table.html
not-a-url
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write sites: %v", err)
	}

	srcs, err := LoadSites(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(srcs) != 4 {
		t.Fatalf("want 4 sources, got %d", len(srcs))
	}
	if srcs[0].Protocol() != domain.ProtocolHTTP ||
		srcs[1].Protocol() != domain.ProtocolSOCKS4 ||
		srcs[2].Protocol() != domain.ProtocolSOCKS5 {
		t.Fatalf("protocol inference wrong: %v %v %v",
			srcs[0].Protocol(), srcs[1].Protocol(), srcs[2].Protocol())
	}
	tbl, ok := srcs[3].(*HTMLTableSource)
	if !ok {
		t.Fatalf("table line should yield an HTMLTableSource, got %T", srcs[3])
	}
	if tbl.Protocol() != domain.ProtocolSOCKS5 {
		t.Fatalf("table line protocol inference wrong: %v", tbl.Protocol())
	}
}

func TestHTMLTableSource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html><body><table>
<tr><th>IP</th><th>Port</th></tr>
<tr><td>1.2.3.4</td><td>8080</td></tr>
<tr><td> 5.6.7.8 </td><td> 1080 </td></tr>
<tr><td></td><td>99</td></tr>
</table></body></html>`))
	}))
	defer srv.Close()

	src := NewHTMLTableSource("table", srv.URL, domain.ProtocolSOCKS5)
	body, err := src.Fetch(context.Background())
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	want := "1.2.3.4:8080\n5.6.7.8:1080\n"
	if string(body) != want {
		t.Fatalf("table reduced to %q, want %q", body, want)
	}
}

func TestFileSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "proxies.txt")
	if err := os.WriteFile(path, []byte("1.2.3.4:8080\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	src := NewFileSource(path, domain.ProtocolHTTP)
	body, err := src.Fetch(context.Background())
	if err != nil || string(body) != "1.2.3.4:8080\n" {
		t.Fatalf("file source: %q err=%v", body, err)
	}
}
