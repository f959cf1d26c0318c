package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/omarobando/proxystorm/internal/domain"
	"github.com/omarobando/proxystorm/internal/engine"
	"github.com/omarobando/proxystorm/internal/httpapi/middleware"
)

func testRunner(results []domain.ProbeResult, err error) Runner {
	return func(ctx context.Context, req domain.VerificationRequest) ([]domain.ProbeResult, *engine.Stats, error) {
		if err != nil {
			return nil, nil, err
		}
		return results, &engine.Stats{RunID: "test-run", Total: len(results), Alive: len(results)}, nil
	}
}

func newTestServer(t *testing.T, run Runner) *httptest.Server {
	t.Helper()
	s := NewServer(zap.NewNop(), run, middleware.NewKeyring(nil, nil), 0)
	srv := httptest.NewServer(s.Router())
	t.Cleanup(srv.Close)
	return srv
}

func verified() []domain.ProbeResult {
	return []domain.ProbeResult{
		{Candidate: domain.Candidate{Host: "1.2.3.4", Port: 8080}, Protocol: domain.ProtocolHTTP, Alive: true, LatencyMS: 50},
		{Candidate: domain.Candidate{Host: "5.6.7.8", Port: 1080}, Protocol: domain.ProtocolSOCKS5, Alive: true, LatencyMS: 90},
	}
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t, testRunner(nil, nil))
	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
}

func TestProxiesBeforeAnyRun(t *testing.T) {
	srv := newTestServer(t, testRunner(nil, nil))
	resp, err := http.Get(srv.URL + "/api/proxies")
	if err != nil {
		t.Fatalf("proxies: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("want 404 before first run, got %d", resp.StatusCode)
	}
}

func TestVerifyThenFetchProxies(t *testing.T) {
	srv := newTestServer(t, testRunner(verified(), nil))

	resp, err := http.Post(srv.URL+"/api/verify", "application/json",
		strings.NewReader(`{"target_count":2,"protocols":"all"}`))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("verify status %d", resp.StatusCode)
	}
	var out struct {
		RunID    string `json:"run_id"`
		Returned int    `json:"returned"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.RunID != "test-run" || out.Returned != 2 {
		t.Fatalf("verify response: %+v", out)
	}

	got, err := http.Get(srv.URL + "/api/proxies?format=3")
	if err != nil {
		t.Fatalf("proxies: %v", err)
	}
	defer got.Body.Close()
	body, _ := io.ReadAll(got.Body)
	want := "http://1.2.3.4:8080\nsocks5://5.6.7.8:1080\n"
	if string(body) != want {
		t.Fatalf("proxies body %q, want %q", body, want)
	}
}

func TestVerifyEmptyBodyUsesDefaults(t *testing.T) {
	var seen domain.VerificationRequest
	run := func(ctx context.Context, req domain.VerificationRequest) ([]domain.ProbeResult, *engine.Stats, error) {
		seen = req
		return nil, &engine.Stats{RunID: "r"}, nil
	}
	srv := newTestServer(t, run)

	resp, err := http.Post(srv.URL+"/api/verify", "application/json", nil)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	resp.Body.Close()
	if seen.Concurrency != domain.DefaultConcurrency {
		t.Fatalf("concurrency default not applied: %d", seen.Concurrency)
	}
	if seen.LatencyCeiling != domain.DefaultLatencyCeiling {
		t.Fatalf("ceiling default not applied: %v", seen.LatencyCeiling)
	}
	if len(seen.Protocols) != 3 {
		t.Fatalf("protocols default not applied: %v", seen.Protocols)
	}
}

func TestVerifyNoCandidatesIs502(t *testing.T) {
	srv := newTestServer(t, testRunner(nil, domain.ErrNoCandidates))
	resp, err := http.Post(srv.URL+"/api/verify", "application/json", nil)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("want 502, got %d", resp.StatusCode)
	}
}

func TestVerifyBadProtocolIs400(t *testing.T) {
	srv := newTestServer(t, testRunner(verified(), nil))
	resp, err := http.Post(srv.URL+"/api/verify", "application/json",
		strings.NewReader(`{"protocols":"gopher"}`))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("want 400, got %d", resp.StatusCode)
	}
}

func TestAdminKeyRequiredForVerify(t *testing.T) {
	s := NewServer(zap.NewNop(), testRunner(verified(), nil),
		middleware.NewKeyring([]string{"pub"}, []string{"adm"}), 0)
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/api/verify", nil)
	req.Header.Set("X-API-Key", "pub")
	resp, _ := http.DefaultClient.Do(req)
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("public key on admin route: %d", resp.StatusCode)
	}

	req.Header.Set("X-API-Key", "adm")
	resp, _ = http.DefaultClient.Do(req)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("admin key rejected: %d", resp.StatusCode)
	}
}
