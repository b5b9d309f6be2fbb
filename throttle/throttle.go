// Package throttle rate-limits failed authentication attempts per source
// address. Counters live in a TTL cache, so a source that stops failing is
// forgotten after the window expires without any sweeper of our own.
package throttle

import (
	"net"
	"time"

	"github.com/patrickmn/go-cache"
)

// DefaultLimit is the number of failed attempts tolerated per window.
const DefaultLimit = 5

// DefaultWindow is the default sliding window for failed attempts.
const DefaultWindow = time.Minute

// Limiter counts failed authentication attempts per source IP inside a TTL
// window and reports when a source should be refused further attempts. It is
// safe for concurrent use.
type Limiter struct {
	counters *cache.Cache
	limit    int
	window   time.Duration
}

// New creates a Limiter.
//
// Parameters:
//   - limit: Failed attempts tolerated per window; values < 1 fall back to
//     DefaultLimit
//   - window: The counting window; values <= 0 fall back to DefaultWindow
//
// Returns:
//   - A Limiter ready for concurrent use
func New(limit int, window time.Duration) *Limiter {
	if limit < 1 {
		limit = DefaultLimit
	}
	if window <= 0 {
		window = DefaultWindow
	}

	return &Limiter{
		counters: cache.New(window, 2*window),
		limit:    limit,
		window:   window,
	}
}

// Allow reports whether an authentication attempt from addr should proceed.
//
// Parameters:
//   - addr: The source "ip:port" address; the port is ignored
//
// Returns:
//   - false if the source has exhausted its failed attempts for the current
//     window, true otherwise
func (l *Limiter) Allow(addr string) bool {
	v, found := l.counters.Get(sourceKey(addr))
	if !found {
		return true
	}
	return v.(int) < l.limit
}

// Fail records one failed authentication attempt from addr. The counter's
// TTL is refreshed, so a persistently failing source stays throttled.
//
// Parameters:
//   - addr: The source "ip:port" address; the port is ignored
func (l *Limiter) Fail(addr string) {
	key := sourceKey(addr)
	v, found := l.counters.Get(key)
	if !found {
		l.counters.Set(key, 1, l.window)
		return
	}
	l.counters.Set(key, v.(int)+1, l.window)
}

// Reset clears the failed-attempt counter for addr, typically after a
// successful authentication.
//
// Parameters:
//   - addr: The source "ip:port" address; the port is ignored
func (l *Limiter) Reset(addr string) {
	l.counters.Delete(sourceKey(addr))
}

// sourceKey strips the port so all connections from one host share a
// counter.
func sourceKey(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
