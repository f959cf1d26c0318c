// Package normalize turns raw, untrusted proxy-list lines into canonical
// candidates. Source lists are public text files full of noise, so malformed
// lines are dropped without comment.
package normalize

import (
	"bufio"
	"io"
	"net"
	"regexp"
	"strconv"
	"strings"

	"github.com/omarobando/proxystorm/internal/domain"
)

var hostnameRe = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9.-]{0,251}[a-zA-Z0-9])?$`)

// Line parses a single raw "host:port" line. Returns ok=false for anything
// that does not yield a syntactically valid candidate.
func Line(raw string) (domain.Candidate, bool) {
	s := strings.TrimSpace(raw)
	s = strings.TrimSuffix(s, "/")
	if s == "" || strings.HasPrefix(s, "#") {
		return domain.Candidate{}, false
	}
	// Tolerate protocol-tagged lines some lists emit.
	if i := strings.Index(s, "://"); i >= 0 {
		s = s[i+3:]
	}

	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return domain.Candidate{}, false
	}
	if !validHost(host) {
		return domain.Candidate{}, false
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil || port == 0 {
		return domain.Candidate{}, false
	}
	return domain.Candidate{Host: host, Port: uint16(port)}, true
}

func validHost(host string) bool {
	if host == "" {
		return false
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.To4() != nil
	}
	if !hostnameRe.MatchString(host) {
		return false
	}
	// An all-numeric "hostname" is a broken IP, not a name.
	return strings.IndexFunc(host, func(r rune) bool {
		return r != '.' && (r < '0' || r > '9')
	}) >= 0
}

// Lines parses and deduplicates a batch of raw lines. First occurrence of a
// (host, port) pair wins.
func Lines(raw []string) []domain.Candidate {
	seen := make(map[domain.Candidate]struct{}, len(raw))
	out := make([]domain.Candidate, 0, len(raw))
	for _, l := range raw {
		c, ok := Line(l)
		if !ok {
			continue
		}
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}

// FromReader scans newline-delimited candidates from r. The input may be
// arbitrarily large; scanning is line-at-a-time.
func FromReader(r io.Reader) []domain.Candidate {
	seen := make(map[domain.Candidate]struct{})
	var out []domain.Candidate
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		c, ok := Line(sc.Text())
		if !ok {
			continue
		}
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}
