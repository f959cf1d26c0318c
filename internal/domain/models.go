package domain

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// ErrNoCandidates signals that every configured source came back empty.
// It is distinct from a run that probed candidates and found none alive.
var ErrNoCandidates = errors.New("no candidates produced by any source")

// Protocol is the proxy protocol a candidate is probed as.
type Protocol string

const (
	ProtocolHTTP   Protocol = "http"
	ProtocolSOCKS4 Protocol = "socks4"
	ProtocolSOCKS5 Protocol = "socks5"
)

func (p Protocol) Valid() bool {
	switch p {
	case ProtocolHTTP, ProtocolSOCKS4, ProtocolSOCKS5:
		return true
	}
	return false
}

// AllProtocols returns the probe order used by "all" mode.
func AllProtocols() []Protocol {
	return []Protocol{ProtocolHTTP, ProtocolSOCKS4, ProtocolSOCKS5}
}

// ParseProtocols maps a CLI/API selection string to a protocol list.
// Accepts "http", "socks4", "socks5", "all", or a comma-separated mix.
func ParseProtocols(s string) ([]Protocol, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" || s == "all" {
		return AllProtocols(), nil
	}
	var out []Protocol
	seen := make(map[Protocol]bool)
	for _, part := range strings.Split(s, ",") {
		p := Protocol(strings.TrimSpace(part))
		if !p.Valid() {
			return nil, fmt.Errorf("unknown protocol %q", part)
		}
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	return out, nil
}

// Candidate is an unverified host:port pair. Immutable once built;
// (Host, Port) is the uniqueness key.
type Candidate struct {
	Host string `json:"host"`
	Port uint16 `json:"port"`
}

// Addr returns the dialable "host:port" form.
func (c Candidate) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(int(c.Port)))
}

func (c Candidate) String() string { return c.Addr() }

// FailureReason classifies why a probe came back dead.
type FailureReason string

const (
	FailConnectRefused   FailureReason = "connect_refused"
	FailHandshake        FailureReason = "handshake_failed"
	FailTimeout          FailureReason = "timeout"
	FailProtocolMismatch FailureReason = "protocol_mismatch"
	FailUnknown          FailureReason = "unknown"
)

// ProbeResult is the immutable outcome of one (candidate, protocol) probe.
// LatencyMS is meaningful only when Alive is true; Reason only when false.
type ProbeResult struct {
	Candidate Candidate     `json:"candidate"`
	Protocol  Protocol      `json:"protocol"`
	Alive     bool          `json:"alive"`
	LatencyMS int64         `json:"latency_ms,omitempty"`
	Reason    FailureReason `json:"reason,omitempty"`
	CheckedAt time.Time     `json:"checked_at"`
}

// OutputFormat selects one of the three result layouts.
type OutputFormat int

const (
	FormatIPPort      OutputFormat = 1 // IP:PORT
	FormatPortIP      OutputFormat = 2 // PORT:IP
	FormatProtoIPPort OutputFormat = 3 // protocol://IP:PORT
)

func (f OutputFormat) Valid() bool {
	return f >= FormatIPPort && f <= FormatProtoIPPort
}

func ParseOutputFormat(s string) (OutputFormat, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || !OutputFormat(n).Valid() {
		return 0, fmt.Errorf("output format must be 1, 2 or 3, got %q", s)
	}
	return OutputFormat(n), nil
}

// Defaults applied by VerificationRequest.Normalized.
const (
	DefaultLatencyCeiling = 1500 * time.Millisecond
	DefaultConcurrency    = 200
)

// VerificationRequest is the caller-supplied run configuration. It is a
// value object; build it once, validate it at the boundary, never mutate.
type VerificationRequest struct {
	TargetCount    int           `json:"target_count"`    // 0 = unbounded
	LatencyCeiling time.Duration `json:"latency_ceiling"` // acceptance ceiling, not a cancellation bound
	Concurrency    int           `json:"concurrency"`     // worker pool size
	Protocols      []Protocol    `json:"protocols"`
	Format         OutputFormat  `json:"format"`
}

// Normalized returns a copy with defaults filled in for zero values.
func (r VerificationRequest) Normalized() VerificationRequest {
	if r.LatencyCeiling <= 0 {
		r.LatencyCeiling = DefaultLatencyCeiling
	}
	if r.Concurrency <= 0 {
		r.Concurrency = DefaultConcurrency
	}
	if len(r.Protocols) == 0 {
		r.Protocols = AllProtocols()
	}
	if !r.Format.Valid() {
		r.Format = FormatIPPort
	}
	if r.TargetCount < 0 {
		r.TargetCount = 0
	}
	return r
}
