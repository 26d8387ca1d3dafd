package monitor

import (
	"log"
	"sync"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Writer wraps the async Influx WriteAPI and tracks the last write error so
// /healthz and /readyz can report ingestion health.
type Writer struct {
	api     api.WriteAPI
	mu      sync.RWMutex
	lastErr time.Time
	counts  map[string]int64
}

// NewWriter starts the listener for Influx's asynchronous write errors.
func NewWriter(w api.WriteAPI) *Writer {
	ww := &Writer{
		api:     w,
		lastErr: time.Now().Add(-24 * time.Hour),
		counts:  make(map[string]int64),
	}
	go func() {
		for err := range w.Errors() {
			if err != nil {
				ww.mu.Lock()
				ww.lastErr = time.Now()
				ww.mu.Unlock()
				log.Printf("influx write error: %v", err)
			}
		}
	}()
	return ww
}

// Write queues a point and bumps the per-measurement ingest counter.
func (w *Writer) Write(p *write.Point, measurement string) {
	w.api.WritePoint(p)
	w.mu.Lock()
	w.counts[measurement]++
	w.mu.Unlock()
}

// LastErrorAge returns how long ago the last write error happened.
func (w *Writer) LastErrorAge() time.Duration {
	if w == nil {
		return 99999 * time.Hour
	}
	w.mu.RLock()
	t := w.lastErr
	w.mu.RUnlock()
	return time.Since(t)
}

// Count reads the ingest counter for a measurement.
func (w *Writer) Count(measurement string) int64 {
	if w == nil {
		return 0
	}
	w.mu.RLock()
	c := w.counts[measurement]
	w.mu.RUnlock()
	return c
}
