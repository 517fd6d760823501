package output

import (
	"github.com/Ipswich/sproot-sub000/internal/automation"
	"github.com/Ipswich/sproot-sub000/internal/cache"
)

// HistoryCache is the bounded in-memory state history of one output.
type HistoryCache struct {
	q *cache.QueueCache[State]
}

// NewHistoryCache creates a cache holding at most maxSize states.
func NewHistoryCache(maxSize int) *HistoryCache {
	return &HistoryCache{q: cache.NewQueueCache[State](maxSize)}
}

// Add appends st, evicting the oldest state when full.
func (h *HistoryCache) Add(st State) { h.q.Add(st) }

// Load replaces the cache contents with states, oldest first. Only the
// newest states fitting the capacity are kept.
func (h *HistoryCache) Load(states []State) {
	h.q.Clear()
	for _, st := range states {
		h.q.Add(st)
	}
}

// All returns every cached state, oldest first.
func (h *HistoryCache) All() []State { return h.q.Get() }

// Page returns up to limit states starting at offset. A limit below one
// returns everything from offset.
func (h *HistoryCache) Page(offset, limit int) []State {
	if limit < 1 {
		limit = h.q.Len()
		if limit == 0 {
			return []State{}
		}
	}
	return h.q.Page(offset, limit)
}

// Latest returns the newest state.
func (h *HistoryCache) Latest() (State, bool) { return h.q.Latest() }

// Len returns the number of cached states.
func (h *HistoryCache) Len() int { return h.q.Len() }

// Readings returns the newest n states as automation readings, oldest first.
func (h *HistoryCache) Readings(n int) []automation.Reading {
	states := h.q.Last(n)
	out := make([]automation.Reading, len(states))
	for i, st := range states {
		out[i] = automation.Reading{Value: float64(st.Value), LogTime: st.LogTime}
	}
	return out
}
