package service

import "github.com/okian/geocluster/pkg/metrics"

// Stats is a point-in-time view of the map screen.
type Stats struct {
	Started         bool
	Epoch           uint64
	RenderedMarkers int
	PendingIcons    int
	CacheEntries    int
	CacheBytes      int
	QueueLength     int
	InflightRenders int64
	Workers         int
}

// Stats returns the current counters.
func (s *MapScreen) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Stats{
		Started:         s.started,
		Epoch:           s.epoch.Load(),
		RenderedMarkers: s.reconciler.Len(),
		PendingIcons:    len(s.pending),
		CacheEntries:    s.icons.Len(),
		CacheBytes:      s.icons.Bytes(),
	}
	if s.started {
		st.QueueLength = s.eventQueue.Len()
		st.InflightRenders = s.tracker.Size()
		st.Workers = s.workerPool.Size()
	}
	return st
}

// GetStats returns Stats as a JSON-friendly map for the debug endpoint.
func (s *MapScreen) GetStats() map[string]any {
	st := s.Stats()
	metrics.UpdateCacheUsage(st.CacheEntries, st.CacheBytes)
	return map[string]any{
		"started":          st.Started,
		"epoch":            st.Epoch,
		"rendered_markers": st.RenderedMarkers,
		"pending_icons":    st.PendingIcons,
		"cache_entries":    st.CacheEntries,
		"cache_bytes":      st.CacheBytes,
		"queue_length":     st.QueueLength,
		"inflight_renders": st.InflightRenders,
		"workers":          st.Workers,
	}
}
