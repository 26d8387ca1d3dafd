package schedule

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"
)

// Schedule describes the local auto-wake plan: wake the target at the listed
// times of day, optionally restricted to certain weekdays.
type Schedule struct {
	Enabled bool     `json:"enabled"`
	Times   []string `json:"times"`          // "HH:MM", UTC
	Days    []string `json:"days,omitempty"` // "mon".."sun"; empty = every day
}

// Manager loads the schedule file and answers ShouldWake at most once per
// matching minute, so a slow poll loop cannot double-fire.
type Manager struct {
	mu       sync.Mutex
	sched    Schedule
	lastFire time.Time
}

// Load reads the schedule from path. A missing file yields a disabled
// schedule rather than an error.
func Load(path string) (*Manager, error) {
	m := &Manager{}
	if path == "" {
		return m, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return m, nil
		}
		return nil, fmt.Errorf("read schedule %s: %w", path, err)
	}
	if err := json.Unmarshal(raw, &m.sched); err != nil {
		return nil, fmt.Errorf("parse schedule %s: %w", path, err)
	}
	return m, nil
}

// ShouldWake reports whether an auto-wake is due at now. It latches on the
// minute: the same (time, day) slot fires once.
func (m *Manager) ShouldWake(now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.sched.Enabled {
		return false
	}
	if !m.dayMatches(now) {
		return false
	}

	hhmm := now.UTC().Format("15:04")
	for _, t := range m.sched.Times {
		if strings.TrimSpace(t) != hhmm {
			continue
		}
		minute := now.UTC().Truncate(time.Minute)
		if m.lastFire.Equal(minute) {
			return false
		}
		m.lastFire = minute
		return true
	}
	return false
}

func (m *Manager) dayMatches(now time.Time) bool {
	if len(m.sched.Days) == 0 {
		return true
	}
	day := strings.ToLower(now.UTC().Weekday().String()[:3])
	for _, d := range m.sched.Days {
		if strings.ToLower(strings.TrimSpace(d)) == day {
			return true
		}
	}
	return false
}
