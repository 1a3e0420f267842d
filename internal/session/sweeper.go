package session

import (
	"context"
	"log"
	"time"

	"github.com/civicmesh/enroll/internal/platform/metrics"
)

// Sweeper defaults size the store for a human-paced registration campaign.
const (
	DefaultTTL           = 48 * time.Hour
	DefaultSweepInterval = 15 * time.Minute
)

// Sweeper evicts idle sessions on an interval, bounding the store's memory.
type Sweeper struct {
	store    *Store
	ttl      time.Duration
	interval time.Duration
	metrics  *metrics.Metrics
	clock    func() time.Time
}

// NewSweeper creates a sweeper for the given store. Non-positive ttl or
// interval fall back to the defaults.
func NewSweeper(store *Store, ttl, interval time.Duration, m *metrics.Metrics) *Sweeper {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if m == nil {
		m = metrics.New(nil)
	}
	return &Sweeper{
		store:    store,
		ttl:      ttl,
		interval: interval,
		metrics:  m,
		clock:    time.Now,
	}
}

// Run sweeps until the context is cancelled.
func (w *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if evicted := w.store.Sweep(w.clock(), w.ttl); evicted > 0 {
				w.metrics.SessionsEvicted.Add(float64(evicted))
				log.Printf("session sweep evicted=%d remaining=%d", evicted, w.store.Len())
			}
		}
	}
}
