package routestore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/theoremus-urban-solutions/departures/model"
)

// MemoryStore keeps routes in a map.
type MemoryStore struct {
	mu     sync.RWMutex
	routes map[string]model.Route
}

var _ Repository = (*MemoryStore)(nil)

func NewMemoryStore(routes ...model.Route) *MemoryStore {
	s := &MemoryStore{routes: make(map[string]model.Route, len(routes))}
	for _, r := range routes {
		s.routes[r.ID] = r
	}
	return s
}

// Put inserts or replaces a route.
func (s *MemoryStore) Put(r model.Route) {
	s.mu.Lock()
	s.routes[r.ID] = r
	s.mu.Unlock()
}

// List returns routes ordered by id.
func (s *MemoryStore) List(_ context.Context) ([]model.Route, error) {
	s.mu.RLock()
	out := make([]model.Route, 0, len(s.routes))
	for _, r := range s.routes {
		out = append(out, r)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (model.Route, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.routes[id]
	if !ok {
		return model.Route{}, fmt.Errorf("%w: %s", ErrRouteNotFound, id)
	}
	return r, nil
}

func (s *MemoryStore) IncrementUsage(_ context.Context, id string, at time.Time) (model.Route, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.routes[id]
	if !ok {
		return model.Route{}, fmt.Errorf("%w: %s", ErrRouteNotFound, id)
	}
	r.UsageCount++
	r.LastUsedAt = at
	s.routes[id] = r
	return r, nil
}
