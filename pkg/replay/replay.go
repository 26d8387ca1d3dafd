package replay

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

// Guard remembers envelope digests for a TTL so a captured envelope replayed
// inside the acceptance window (or redelivered by the broker) is processed at
// most once. The TTL should cover skew tolerance plus one rotation overlap.
type Guard struct {
	mu   sync.Mutex
	ttl  time.Duration
	max  int
	seen map[string]time.Time
}

// New creates a Guard. Non-positive arguments fall back to safe defaults.
func New(ttl time.Duration, max int) *Guard {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if max <= 0 {
		max = 10000
	}
	return &Guard{ttl: ttl, max: max, seen: make(map[string]time.Time, max)}
}

// Digest keys an envelope for the guard.
func Digest(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// ShouldProcess reports whether this digest is new within the TTL and records
// it. The map is pruned opportunistically when it exceeds the cap.
func (g *Guard) ShouldProcess(id string) bool {
	if id == "" {
		return true
	}
	now := time.Now()
	g.mu.Lock()
	defer g.mu.Unlock()
	if exp, ok := g.seen[id]; ok && now.Before(exp) {
		return false
	}
	g.seen[id] = now.Add(g.ttl)
	if len(g.seen) > g.max {
		for k, v := range g.seen {
			if now.After(v) {
				delete(g.seen, k)
			}
			if len(g.seen) <= g.max {
				break
			}
		}
	}
	return true
}
