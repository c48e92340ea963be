// Package trigger owns the "when does ingestion run" policy: an explicit
// at-most-one-in-flight guard plus the periodic schedule. The pipeline
// itself stays oblivious to scheduling; overlapping requests are dropped
// in favour of the run already in progress.
package trigger

import (
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/snapetech/iptvguide/internal/ingest"
)

// SyncFunc runs one ingestion and reports its result.
type SyncFunc func(ctx context.Context) (ingest.Result, error)

// Status describes the most recent run. Zero value means no run yet.
type Status struct {
	Running     bool      `json:"running"`
	LastSyncAt  time.Time `json:"last_sync_at,omitzero"`
	LastOutcome string    `json:"last_outcome"` // "", "ok", "not_modified", "retryable", "failed"
	LastError   string    `json:"last_error,omitempty"`
	Programmes  int       `json:"programmes_upserted"`
}

// Trigger schedules ingestion runs.
type Trigger struct {
	Sync          SyncFunc
	Interval      time.Duration // normal re-sync cadence
	RetryInterval time.Duration // cadence after a retryable/failed run

	running atomic.Bool
	mu      sync.RWMutex
	status  Status
}

// Kick starts a sync in the background unless one is already in flight.
// Returns false when the request was dropped ("keep existing run" policy).
func (t *Trigger) Kick(ctx context.Context) bool {
	if t.running.Swap(true) {
		return false
	}
	go func() {
		defer t.running.Store(false)
		t.runOnce(ctx)
	}()
	return true
}

// Run syncs immediately, then loops until ctx is cancelled, re-syncing on
// Interval, or on RetryInterval after a run that did not succeed.
func (t *Trigger) Run(ctx context.Context) {
	t.syncNow(ctx)
	for {
		interval := t.Interval
		if outcome := t.Status().LastOutcome; outcome == "retryable" || outcome == "failed" {
			interval = t.RetryInterval
		}
		if interval <= 0 {
			interval = time.Hour
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
			t.syncNow(ctx)
		}
	}
}

// syncNow runs inline, still honouring the in-flight guard (a Kick may
// have raced the timer).
func (t *Trigger) syncNow(ctx context.Context) {
	if t.running.Swap(true) {
		log.Printf("trigger: sync already running, dropping request")
		return
	}
	defer t.running.Store(false)
	t.runOnce(ctx)
}

func (t *Trigger) runOnce(ctx context.Context) {
	res, err := t.Sync(ctx)
	st := Status{
		LastSyncAt: time.Now(),
		Programmes: res.Programmes,
	}
	switch {
	case err == nil && res.NotModified:
		st.LastOutcome = "not_modified"
	case err == nil:
		st.LastOutcome = "ok"
	case errors.Is(err, ingest.ErrFeedUnavailable):
		st.LastOutcome = "retryable"
		st.LastError = err.Error()
		log.Printf("trigger: sync failed (will retry sooner): %v", err)
	default:
		st.LastOutcome = "failed"
		st.LastError = err.Error()
		log.Printf("trigger: sync failed: %v", err)
	}
	t.mu.Lock()
	t.status = st
	t.mu.Unlock()
}

// Status returns a snapshot of the last run plus the in-flight flag.
func (t *Trigger) Status() Status {
	t.mu.RLock()
	st := t.status
	t.mu.RUnlock()
	st.Running = t.running.Load()
	return st
}
