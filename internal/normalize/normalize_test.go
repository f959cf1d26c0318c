package normalize

import (
	"strings"
	"testing"

	"github.com/omarobando/proxystorm/internal/domain"
)

func TestLineValid(t *testing.T) {
	c, ok := Line("1.2.3.4:8080")
	if !ok || c.Host != "1.2.3.4" || c.Port != 8080 {
		t.Fatalf("got %v ok=%v", c, ok)
	}
}

func TestLineTolerance(t *testing.T) {
	cases := map[string]domain.Candidate{
		"  1.2.3.4:8080  ":       {Host: "1.2.3.4", Port: 8080},
		"1.2.3.4:8080/":          {Host: "1.2.3.4", Port: 8080},
		"socks5://1.2.3.4:1080":  {Host: "1.2.3.4", Port: 1080},
		"proxy.example.com:3128": {Host: "proxy.example.com", Port: 3128},
	}
	for in, want := range cases {
		c, ok := Line(in)
		if !ok || c != want {
			t.Fatalf("Line(%q) = %v ok=%v, want %v", in, c, ok, want)
		}
	}
}

func TestLineMalformed(t *testing.T) {
	bad := []string{
		"", "   ", "# comment",
		"1.2.3.4",          // no port
		"1.2.3.4:0",        // port out of range
		"1.2.3.4:70000",    // port out of range
		"1.2.3.4:abc",      // non-numeric port
		"300.1.1.1:8080",   // not an IP and not a hostname
		"::1:8080",         // IPv6 literal, not accepted
		"host name:8080",   // space in host
		"1.2.3.4:8080 junk",
	}
	for _, in := range bad {
		if c, ok := Line(in); ok {
			t.Fatalf("Line(%q) unexpectedly parsed to %v", in, c)
		}
	}
}

func TestLinesDedupeFirstWins(t *testing.T) {
	got := Lines([]string{"1.2.3.4:8080", "1.2.3.4:8080", "1.2.3.4:8080/"})
	if len(got) != 1 {
		t.Fatalf("want exactly one candidate, got %v", got)
	}
	if got[0] != (domain.Candidate{Host: "1.2.3.4", Port: 8080}) {
		t.Fatalf("unexpected candidate %v", got[0])
	}
}

func TestFromReader(t *testing.T) {
	in := "1.1.1.1:80\ngarbage\n2.2.2.2:443\n1.1.1.1:80\n"
	got := FromReader(strings.NewReader(in))
	if len(got) != 2 {
		t.Fatalf("want 2 candidates, got %v", got)
	}
	if got[0].Host != "1.1.1.1" || got[1].Host != "2.2.2.2" {
		t.Fatalf("order not preserved: %v", got)
	}
}
