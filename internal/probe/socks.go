package probe

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"golang.org/x/net/proxy"
	"h12.io/socks"

	"github.com/omarobando/proxystorm/internal/domain"
)

// checkSOCKS5 negotiates the SOCKS5 greeting through the candidate and then
// forwards the judge request over the tunneled connection.
func (e *Executor) checkSOCKS5(ctx context.Context, c domain.Candidate) error {
	d, err := proxy.SOCKS5("tcp", c.Addr(), nil, &net.Dialer{Timeout: e.Timeout})
	if err != nil {
		return fmt.Errorf("socks5 dialer: %w", err)
	}
	cd, ok := d.(proxy.ContextDialer)
	if !ok {
		return fmt.Errorf("socks5 dialer is not context-aware")
	}
	tr := &http.Transport{
		DialContext:       cd.DialContext,
		DisableKeepAlives: true,
	}
	defer tr.CloseIdleConnections()
	return e.forward(ctx, tr)
}

// checkSOCKS4 does the same through the SOCKS4 handshake. The dialer from
// h12.io/socks is not context-aware, so it runs under dialWithContext to
// keep the hard probe timeout authoritative.
func (e *Executor) checkSOCKS4(ctx context.Context, c domain.Candidate) error {
	timeout := e.Timeout
	if dl, ok := ctx.Deadline(); ok {
		if d := time.Until(dl); d < timeout {
			timeout = d
		}
	}
	dial := socks.Dial(fmt.Sprintf("socks4://%s?timeout=%s", c.Addr(), timeout))
	tr := &http.Transport{
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			return dialWithContext(ctx, dial, network, addr)
		},
		DisableKeepAlives: true,
	}
	defer tr.CloseIdleConnections()
	return e.forward(ctx, tr)
}

// dialWithContext adapts a blocking dial function to context cancellation.
// If the context fires first the eventual connection is closed, never leaked.
func dialWithContext(ctx context.Context, dial func(network, addr string) (net.Conn, error), network, addr string) (net.Conn, error) {
	type dialed struct {
		conn net.Conn
		err  error
	}
	ch := make(chan dialed, 1)
	go func() {
		conn, err := dial(network, addr)
		ch <- dialed{conn: conn, err: err}
	}()
	select {
	case <-ctx.Done():
		go func() {
			if d := <-ch; d.conn != nil {
				_ = d.conn.Close()
			}
		}()
		return nil, ctx.Err()
	case d := <-ch:
		return d.conn, d.err
	}
}
