package timesync

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/beevik/ntp"
	"github.com/cenkalti/backoff/v4"
)

// Clock supplies the current UTC time. The protocol layer takes a Clock so
// tests can pin it.
type Clock interface {
	Now() time.Time
}

// SystemClock trusts the host clock directly.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// Source is an NTP-disciplined clock. Sync queries the server and stores the
// measured offset; Now applies it to the local clock without blocking. Now
// must not be called before the first successful Sync.
type Source struct {
	server   string
	attempts int

	mu     sync.RWMutex
	offset time.Duration
	synced bool
	lastOK time.Time
}

// NewSource creates a Source for the given NTP server ("pool.ntp.org" when
// empty) with a bounded number of attempts per Sync call.
func NewSource(server string, attempts int) *Source {
	if server == "" {
		server = "pool.ntp.org"
	}
	if attempts <= 0 {
		attempts = 5
	}
	return &Source{server: server, attempts: attempts}
}

// Sync blocks until a fresh offset is obtained or the attempt budget is
// exhausted. It never silently keeps a stale offset: on failure the caller
// gets an error and decides (the relay transitions to Error).
func (s *Source) Sync(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 30 * time.Second

	err := backoff.Retry(func() error {
		resp, err := ntp.Query(s.server)
		if err != nil {
			log.Printf("[ntp] query %s failed: %v", s.server, err)
			return err
		}
		if err := resp.Validate(); err != nil {
			log.Printf("[ntp] invalid response from %s: %v", s.server, err)
			return err
		}
		s.mu.Lock()
		s.offset = resp.ClockOffset
		s.synced = true
		s.lastOK = time.Now()
		s.mu.Unlock()
		log.Printf("[ntp] synced with %s, offset %s", s.server, resp.ClockOffset)
		return nil
	}, backoff.WithContext(backoff.WithMaxRetries(bo, uint64(s.attempts-1)), ctx))
	if err != nil {
		return fmt.Errorf("time sync with %s failed: %w", s.server, err)
	}
	return nil
}

// Now returns the offset-corrected UTC time.
func (s *Source) Now() time.Time {
	s.mu.RLock()
	off := s.offset
	s.mu.RUnlock()
	return time.Now().Add(off).UTC()
}

// Synced reports whether at least one Sync has succeeded.
func (s *Source) Synced() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.synced
}

// LastSync returns when the offset was last refreshed.
func (s *Source) LastSync() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastOK
}
