package sources

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/omarobando/proxystorm/internal/domain"
)

// HTMLTableSource scrapes proxy sites that publish their list as an HTML
// table with the IP in the first column and the port in the second. The
// fetched page is reduced to plain "host:port" lines so downstream handling
// is identical to the plaintext sources.
type HTMLTableSource struct {
	name   string
	url    string
	proto  domain.Protocol
	client *http.Client
}

func NewHTMLTableSource(name, url string, proto domain.Protocol) *HTMLTableSource {
	return &HTMLTableSource{
		name:   name,
		url:    url,
		proto:  proto,
		client: &http.Client{Timeout: 15 * time.Second},
	}
}

func (s *HTMLTableSource) Name() string              { return s.name }
func (s *HTMLTableSource) Protocol() domain.Protocol { return s.proto }

func (s *HTMLTableSource) Fetch(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("source %s: %w", s.name, err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) Chrome/91.0.4472.124")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("source %s: %w", s.name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("source %s: status %d", s.name, resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("source %s: parse html: %w", s.name, err)
	}

	var buf bytes.Buffer
	doc.Find("table tr").Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("td")
		if cells.Length() < 2 {
			return
		}
		host := strings.TrimSpace(cells.Eq(0).Text())
		port := strings.TrimSpace(cells.Eq(1).Text())
		if host == "" || port == "" {
			return
		}
		fmt.Fprintf(&buf, "%s:%s\n", host, port)
	})
	return buf.Bytes(), nil
}
