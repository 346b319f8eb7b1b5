package logstore

import (
	"sync"

	"github.com/kreepthom/aiproxy/internal/relay"
)

// maxRecent bounds the in-memory tail of outcomes kept for the live admin
// view. The database holds the full history.
const maxRecent = 100

type recentRing struct {
	mu       sync.RWMutex
	outcomes []relay.RequestOutcome
}

func (r *recentRing) add(outcome relay.RequestOutcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append([]relay.RequestOutcome{outcome}, r.outcomes...)
	if len(r.outcomes) > maxRecent {
		r.outcomes = r.outcomes[:maxRecent]
	}
}

func (r *recentRing) list(limit int) []relay.RequestOutcome {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if limit <= 0 || limit > len(r.outcomes) {
		limit = len(r.outcomes)
	}
	out := make([]relay.RequestOutcome, limit)
	copy(out, r.outcomes[:limit])
	return out
}

// Recent returns the newest outcomes first, straight from memory with no
// database read.
func (s *Store) Recent(limit int) []relay.RequestOutcome {
	return s.recent.list(limit)
}
