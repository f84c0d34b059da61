// Package guard tracks recently deleted source ids so writers finishing a
// slow fetch can discard their results instead of resurrecting rows. Entries
// expire after a window slightly longer than the worst expected fetch; the
// map never grows past the number of deletions inside one window.
package guard

import (
	"sync"
	"time"
)

// DefaultWindow covers a slow provider fetch plus the store write. A fetch
// that outlives the window can still commit rows for a deleted source; the
// next scheduled sync removes nothing because the source row is gone, so the
// exposure is bounded to orphan rows until the operator re-runs a cleanup.
const DefaultWindow = 30 * time.Second

// Guard is an expiring denylist of source ids. The zero value is not usable;
// call New.
type Guard struct {
	mu      sync.Mutex
	window  time.Duration
	deleted map[string]time.Time // id -> expiry deadline
	now     func() time.Time
}

func New(window time.Duration) *Guard {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Guard{
		window:  window,
		deleted: make(map[string]time.Time),
		now:     time.Now,
	}
}

// MarkDeleted records a source deletion. Call BEFORE the cascade delete so no
// writer can commit between the delete and the mark.
func (g *Guard) MarkDeleted(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.deleted[id] = g.now().Add(g.window)
}

// Deleted reports whether id was deleted within the window. Expired entries
// are pruned on access.
func (g *Guard) Deleted(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	deadline, ok := g.deleted[id]
	if !ok {
		return false
	}
	if g.now().After(deadline) {
		delete(g.deleted, id)
		return false
	}
	return true
}

// Allow returns the pre-commit callback the store write methods expect:
// true while the source is NOT marked deleted.
func (g *Guard) Allow(id string) func() bool {
	return func() bool { return !g.Deleted(id) }
}
