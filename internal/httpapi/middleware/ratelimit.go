package middleware

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// slidingWindow counts requests per client over fixed intervals and
// weighs the previous interval into the current one, smoothing bursts
// at interval boundaries.
type slidingWindow struct {
	limit    int
	interval time.Duration

	mu      sync.Mutex
	clients map[string]*windowState
}

type windowState struct {
	start time.Time
	cur   int
	prev  int
}

func newSlidingWindow(limit int, interval time.Duration) *slidingWindow {
	return &slidingWindow{
		limit:    limit,
		interval: interval,
		clients:  make(map[string]*windowState),
	}
}

func (s *slidingWindow) allow(client string, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	ws := s.clients[client]
	if ws == nil {
		ws = &windowState{start: now}
		s.clients[client] = ws
	}

	elapsed := now.Sub(ws.start)
	switch {
	case elapsed >= 2*s.interval:
		ws.start, ws.cur, ws.prev = now, 0, 0
		elapsed = 0
	case elapsed >= s.interval:
		ws.start = ws.start.Add(s.interval)
		ws.prev, ws.cur = ws.cur, 0
		elapsed -= s.interval
	}

	frac := 1 - float64(elapsed)/float64(s.interval)
	estimated := float64(ws.cur) + float64(ws.prev)*frac
	if estimated >= float64(s.limit) {
		return false
	}
	ws.cur++
	return true
}

// RateLimit bounds each client to reqPerMin requests per minute, keyed by
// remote IP. Zero or negative disables the limiter.
func RateLimit(reqPerMin int) func(http.Handler) http.Handler {
	if reqPerMin <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	sw := newSlidingWindow(reqPerMin, time.Minute)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !sw.allow(clientIP(r), time.Now()) {
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", strconv.Itoa(int(time.Minute.Seconds())))
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte(`{"error":"rate limit exceeded"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return strings.TrimSpace(strings.SplitN(xff, ",", 2)[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
