package cache

// Statistics is a point-in-time view of the cache.
type Statistics struct {
	Entries       int            `json:"entries"`
	Fresh         int            `json:"fresh"`
	Stale         int            `json:"stale"`
	MaxEntries    int            `json:"maxEntries"`
	Hits          int64          `json:"hits"`
	Misses        int64          `json:"misses"`
	HitRate       float64        `json:"hitRate"`
	Evictions     int64          `json:"evictions"`
	Revalidations int64          `json:"revalidations"`
	ByPriority    map[string]int `json:"byPriority"`
}

// Statistics reports entry counts and counters.
func (c *Cache) Statistics() Statistics {
	now := c.now()
	s := Statistics{
		MaxEntries:    c.maxEntries,
		Hits:          c.hits.Load(),
		Misses:        c.misses.Load(),
		Evictions:     c.evictions.Load(),
		Revalidations: c.revalidations.Load(),
		ByPriority:    map[string]int{},
	}
	for _, it := range c.items.Items() {
		e, ok := it.Object.(*Entry)
		if !ok {
			continue
		}
		s.Entries++
		if e.Fresh(now) {
			s.Fresh++
		} else {
			s.Stale++
		}
		s.ByPriority[e.Priority.String()]++
	}
	if total := s.Hits + s.Misses; total > 0 {
		s.HitRate = float64(s.Hits) / float64(total)
	}
	return s
}
