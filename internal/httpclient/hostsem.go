package httpclient

import (
	"context"
	"net/url"
	"strings"
	"sync"
)

// perHostLimit caps concurrent requests against a single upstream host.
// Several configured sources often point at the same provider, and a full
// sync fans out one goroutine per source; without the cap those fan-outs
// stampede the shared host together.
const perHostLimit = 4

// hostLimiter hands out per-host request slots. One instance is shared by
// every fetch in the process. Slots are buffered channels so a queued
// acquire can be abandoned when the caller's context is canceled.
type hostLimiter struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
	cap   int
}

var hosts = newHostLimiter(perHostLimit)

func newHostLimiter(cap int) *hostLimiter {
	if cap < 1 {
		cap = 1
	}
	return &hostLimiter{
		slots: make(map[string]chan struct{}),
		cap:   cap,
	}
}

// acquire blocks until a slot for rawURL's host frees up or ctx is done.
// The returned release must be called exactly once, after the response has
// been consumed.
func (l *hostLimiter) acquire(ctx context.Context, rawURL string) (func(), error) {
	sem := l.slotFor(hostKey(rawURL))
	select {
	case sem <- struct{}{}:
		return func() { <-sem }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *hostLimiter) slotFor(key string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.slots[key]
	if !ok {
		s = make(chan struct{}, l.cap)
		l.slots[key] = s
	}
	return s
}

// hostKey reduces a URL to its lowercased host:port. The scheme is ignored
// so http and https fetches against the same provider share one budget; an
// unparseable input keys on itself rather than sharing a catch-all slot.
func hostKey(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return rawURL
	}
	return strings.ToLower(u.Host)
}
