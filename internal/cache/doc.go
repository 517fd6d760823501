// Package cache provides QueueCache, a bounded, insertion-ordered cache.
//
// Outputs keep their recent state history in one and the sensor provider
// keeps one per sensor reading type. Adding past the limit evicts the oldest
// entry. Get and Page return copies, so callers may hold results while new
// entries arrive.
//
//	states := cache.NewQueueCache[output.State](settings.MaxCacheSize)
//	states.Add(st)
//	recent := states.Page(0, 10)
package cache
