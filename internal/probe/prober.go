// Package probe issues one synthetic request through a candidate proxy to
// confirm it actually forwards traffic, and classifies every failure mode so
// the engine can cache dead endpoints alongside live ones.
package probe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"syscall"
	"time"

	"github.com/omarobando/proxystorm/internal/domain"
)

// Prober verifies a single (candidate, protocol) pair. Implementations must
// not retry internally; the probe either confirms a forwarded response or
// reports one failure reason.
type Prober interface {
	Probe(ctx context.Context, c domain.Candidate, p domain.Protocol) domain.ProbeResult
}

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) Chrome/91.0.4472.124"

// Executor is the network-backed Prober. JudgeURL should be a cheap endpoint
// that answers a plain GET, e.g. an IP-echo service.
type Executor struct {
	JudgeURL  string
	Timeout   time.Duration // fallback hard bound when ctx carries no deadline
	UserAgent string
}

func NewExecutor(judgeURL string, timeout time.Duration) *Executor {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Executor{
		JudgeURL:  judgeURL,
		Timeout:   timeout,
		UserAgent: defaultUserAgent,
	}
}

// Probe dials through the candidate as a proxy of the given protocol and
// forwards one GET to the judge URL. Latency covers dial start through the
// confirmed response. Exactly one connection attempt, no retries.
func (e *Executor) Probe(ctx context.Context, c domain.Candidate, p domain.Protocol) domain.ProbeResult {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}

	start := time.Now()
	var err error
	switch p {
	case domain.ProtocolHTTP:
		err = e.checkHTTP(ctx, c)
	case domain.ProtocolSOCKS4:
		err = e.checkSOCKS4(ctx, c)
	case domain.ProtocolSOCKS5:
		err = e.checkSOCKS5(ctx, c)
	default:
		err = fmt.Errorf("unsupported protocol %q", p)
	}
	checkedAt := time.Now().UTC()

	if err != nil {
		return domain.ProbeResult{
			Candidate: c,
			Protocol:  p,
			Alive:     false,
			Reason:    Classify(err),
			CheckedAt: checkedAt,
		}
	}
	return domain.ProbeResult{
		Candidate: c,
		Protocol:  p,
		Alive:     true,
		LatencyMS: time.Since(start).Milliseconds(),
		CheckedAt: checkedAt,
	}
}

// BadStatusError marks a proxy that spoke the protocol but did not relay a
// successful response from the judge.
type BadStatusError struct {
	Code int
}

func (e *BadStatusError) Error() string {
	return fmt.Sprintf("judge returned status %d", e.Code)
}

// Classify maps a probe error onto the failure taxonomy. Unrecognized
// errors fall through to FailUnknown rather than guessing.
func Classify(err error) domain.FailureReason {
	if err == nil {
		return ""
	}
	var badStatus *BadStatusError
	switch {
	case errors.As(err, &badStatus):
		return domain.FailProtocolMismatch
	case errors.Is(err, syscall.ECONNREFUSED):
		return domain.FailConnectRefused
	case errors.Is(err, context.DeadlineExceeded) || isNetTimeout(err):
		return domain.FailTimeout
	case isHandshakeError(err):
		return domain.FailHandshake
	case isMalformedResponse(err):
		return domain.FailProtocolMismatch
	default:
		return domain.FailUnknown
	}
}

func isNetTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func isHandshakeError(err error) bool {
	// x/net/proxy wraps negotiation failures in an OpError with a
	// "socks"-prefixed Op; h12.io/socks prefixes its messages the same way.
	var op *net.OpError
	if errors.As(err, &op) && strings.Contains(op.Op, "socks") {
		return true
	}
	if strings.Contains(err.Error(), "socks") {
		return true
	}
	// A peer that accepts the connection and slams it mid-negotiation.
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE)
}

func isMalformedResponse(err error) bool {
	return strings.Contains(err.Error(), "malformed HTTP")
}
