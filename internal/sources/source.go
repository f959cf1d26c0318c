// Package sources collects raw proxy candidates from configured list
// endpoints. Sources are untrusted: any fraction of their output may be
// noise, and a failing source never aborts the run as long as another one
// still yields candidates.
package sources

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/omarobando/proxystorm/internal/domain"
)

// Source yields the raw lines of one proxy list, tagged with the protocol
// hypothesis the list represents.
type Source interface {
	Name() string
	Protocol() domain.Protocol
	Fetch(ctx context.Context) ([]byte, error)
}

const fetchTimeout = 10 * time.Second

// HTTPSource downloads a newline-delimited host:port list.
type HTTPSource struct {
	name   string
	url    string
	proto  domain.Protocol
	client *http.Client
}

func NewHTTPSource(name, url string, proto domain.Protocol) *HTTPSource {
	return &HTTPSource{
		name:   name,
		url:    url,
		proto:  proto,
		client: &http.Client{Timeout: fetchTimeout},
	}
}

func (s *HTTPSource) Name() string              { return s.name }
func (s *HTTPSource) Protocol() domain.Protocol { return s.proto }
func (s *HTTPSource) URL() string               { return s.url }

func (s *HTTPSource) Fetch(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("source %s: %w", s.name, err)
	}
	req.Header.Set("User-Agent", "proxystorm/1.0")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("source %s: %w", s.name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("source %s: status %d", s.name, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, fmt.Errorf("source %s: read body: %w", s.name, err)
	}
	return body, nil
}

// FileSource reads a local list, mostly useful for re-checking a previously
// saved result file.
type FileSource struct {
	path  string
	proto domain.Protocol
}

func NewFileSource(path string, proto domain.Protocol) *FileSource {
	return &FileSource{path: path, proto: proto}
}

func (s *FileSource) Name() string              { return "file:" + s.path }
func (s *FileSource) Protocol() domain.Protocol { return s.proto }

func (s *FileSource) Fetch(ctx context.Context) ([]byte, error) {
	body, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("source %s: %w", s.Name(), err)
	}
	return body, nil
}

// Default list endpoints, used when no sites file is configured.
func DefaultSources() []Source {
	return []Source{
		NewHTTPSource("TheSpeedX-HTTP", "https://raw.githubusercontent.com/TheSpeedX/PROXY-List/master/http.txt", domain.ProtocolHTTP),
		NewHTTPSource("TheSpeedX-SOCKS4", "https://raw.githubusercontent.com/TheSpeedX/PROXY-List/master/socks4.txt", domain.ProtocolSOCKS4),
		NewHTTPSource("TheSpeedX-SOCKS5", "https://raw.githubusercontent.com/TheSpeedX/PROXY-List/master/socks5.txt", domain.ProtocolSOCKS5),
	}
}

// LoadSites reads a sites file: one URL per line, protocol inferred from the
// URL itself ("socks4"/"socks5" substrings, anything else is http). A line
// may start with a "table" token to mark an HTML page whose proxies sit in
// a <table> instead of a plaintext list. Other lines not starting with http
// are ignored, matching the list-of-lists format the tool has always
// consumed.
func LoadSites(path string) ([]Source, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read sites file: %w", err)
	}
	var out []Source
	for i, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		table := false
		if rest, ok := strings.CutPrefix(line, "table "); ok {
			table = true
			line = strings.TrimSpace(rest)
		}
		if line == "" || !strings.HasPrefix(line, "http") {
			continue
		}
		proto := domain.ProtocolHTTP
		lower := strings.ToLower(line)
		switch {
		case strings.Contains(lower, "socks4"):
			proto = domain.ProtocolSOCKS4
		case strings.Contains(lower, "socks5"):
			proto = domain.ProtocolSOCKS5
		}
		name := fmt.Sprintf("sites[%d]", i)
		if table {
			out = append(out, NewHTMLTableSource(name, line, proto))
		} else {
			out = append(out, NewHTTPSource(name, line, proto))
		}
	}
	return out, nil
}
