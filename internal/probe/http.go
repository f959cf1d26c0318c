package probe

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/omarobando/proxystorm/internal/domain"
)

// checkHTTP drives the candidate as a plain HTTP forward proxy: the GET for
// the judge URL goes to the proxy in absolute-URI form and the proxy is
// expected to relay it.
func (e *Executor) checkHTTP(ctx context.Context, c domain.Candidate) error {
	proxyURL, err := url.Parse("http://" + c.Addr())
	if err != nil {
		return fmt.Errorf("proxy url: %w", err)
	}
	tr := &http.Transport{
		Proxy:             http.ProxyURL(proxyURL),
		DisableKeepAlives: true,
		TLSClientConfig:   &tls.Config{InsecureSkipVerify: true},
	}
	defer tr.CloseIdleConnections()
	return e.forward(ctx, tr)
}

// forward sends the synthetic judge request over the prepared transport and
// decides whether the response counts as a confirmed relay.
func (e *Executor) forward(ctx context.Context, tr *http.Transport) error {
	client := &http.Client{
		Transport: tr,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			// A redirect is not a relayed judge response.
			return http.ErrUseLastResponse
		},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.JudgeURL, nil)
	if err != nil {
		return fmt.Errorf("judge request: %w", err)
	}
	req.Header.Set("User-Agent", e.UserAgent)
	req.Header.Set("Accept", "*/*")
	req.Header.Set("Connection", "close")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	// Drain a little so the response is actually relayed, not just headers.
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &BadStatusError{Code: resp.StatusCode}
	}
	return nil
}
