package profiler

// hit aggregates every span of one profile sharing (identifier, group).
type hit struct {
	identifier string
	group      string
	count      int64

	sumDuration float64
	sumMemory   float64

	minDuration, maxDuration, lastDuration float64
	minMemory, maxMemory, lastMemory       int64
}

// aggregateHits groups entries by (identifier, group) in first-seen order.
func aggregateHits(entries []Entry) []*hit {
	type key struct{ identifier, group string }
	index := make(map[key]*hit, len(entries))
	var out []*hit

	for _, e := range entries {
		k := key{e.Identifier, e.Group}
		h, ok := index[k]
		if !ok {
			h = &hit{
				identifier:  e.Identifier,
				group:       e.Group,
				minDuration: e.Duration,
				maxDuration: e.Duration,
				minMemory:   e.MemoryPeak,
				maxMemory:   e.MemoryPeak,
			}
			index[k] = h
			out = append(out, h)
		}
		h.count++
		h.sumDuration += e.Duration
		h.sumMemory += float64(e.MemoryPeak)
		h.minDuration = min(h.minDuration, e.Duration)
		h.maxDuration = max(h.maxDuration, e.Duration)
		h.minMemory = min(h.minMemory, e.MemoryPeak)
		h.maxMemory = max(h.maxMemory, e.MemoryPeak)
		h.lastDuration = e.Duration
		h.lastMemory = e.MemoryPeak
	}
	return out
}

// update turns the hit into an entry metric update: the per-profile mean is
// the sample fed into the running average with weight count, while the
// extrema and last values are the individual calls.
func (h *hit) update(profileID int64) MetricUpdate {
	n := float64(h.count)
	return MetricUpdate{
		Identifier:     h.identifier,
		Type:           MetricTypeEntry,
		Group:          h.group,
		ProfileID:      profileID,
		Count:          h.count,
		Duration:       h.sumDuration / n,
		MemoryPeak:     h.sumMemory / n,
		LastDuration:   h.lastDuration,
		LastMemoryPeak: h.lastMemory,
		MinDuration:    h.minDuration,
		MinMemoryPeak:  h.minMemory,
		MaxDuration:    h.maxDuration,
		MaxMemoryPeak:  h.maxMemory,
	}
}
