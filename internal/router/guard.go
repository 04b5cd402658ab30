package router

import (
	"sync"
	"time"

	"github.com/vdavid/mailrelay/internal/models"
)

type guardKey struct {
	action         models.Action
	emailMessageID string
}

type guardEntry struct {
	chatMessageID string
	expires       time.Time
}

// Guard suppresses repeated relays of the same action for the same email within a window.
// A nil *Guard allows everything, which is the default.
type Guard struct {
	mu      sync.Mutex
	window  time.Duration
	entries map[guardKey]guardEntry
	now     func() time.Time
}

// NewGuard returns nil when window is not positive.
func NewGuard(window time.Duration) *Guard {
	if window <= 0 {
		return nil
	}
	return &Guard{
		window:  window,
		entries: make(map[guardKey]guardEntry),
		now:     time.Now,
	}
}

// Acquire reports whether the relay may proceed and, if so, records it.
func (g *Guard) Acquire(action models.Action, emailMessageID, chatMessageID string) bool {
	if g == nil {
		return true
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	key := guardKey{action: action, emailMessageID: models.UnwrapMessageID(emailMessageID)}
	now := g.now()
	if entry, ok := g.entries[key]; ok && now.Before(entry.expires) {
		return false
	}
	g.entries[key] = guardEntry{chatMessageID: chatMessageID, expires: now.Add(g.window)}
	return true
}

// Release clears the entry after a rejected relay so the human can retry at once.
func (g *Guard) Release(action models.Action, emailMessageID string) {
	if g == nil {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.entries, guardKey{action: action, emailMessageID: models.UnwrapMessageID(emailMessageID)})
}

// ResolveResult clears entries for an action whose result arrived for the given chat message.
func (g *Guard) ResolveResult(action models.Action, chatMessageID string) {
	if g == nil {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	for key, entry := range g.entries {
		if key.action == action && entry.chatMessageID == chatMessageID {
			delete(g.entries, key)
		}
	}
}

// Sweep drops expired entries and returns how many were removed.
func (g *Guard) Sweep() int {
	if g == nil {
		return 0
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	removed := 0
	for key, entry := range g.entries {
		if !now.Before(entry.expires) {
			delete(g.entries, key)
			removed++
		}
	}
	return removed
}
