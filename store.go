package flowsentry

import (
	"sync"
)

// InMemoryEventStore implements EventStore with bounded in-memory buffers.
// Suitable for tests and single-process deployments where durability does not
// matter.
type InMemoryEventStore struct {
	mu         sync.RWMutex
	maxEntries int
	alerts     []*AlertEvent
	files      []*FileEvent
}

func NewInMemoryEventStore(maxEntries int) *InMemoryEventStore {
	if maxEntries <= 0 {
		maxEntries = 4096
	}
	return &InMemoryEventStore{maxEntries: maxEntries}
}

func (s *InMemoryEventStore) SaveAlert(ev *AlertEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, ev)
	if len(s.alerts) > s.maxEntries {
		s.alerts = s.alerts[len(s.alerts)-s.maxEntries:]
	}
	return nil
}

func (s *InMemoryEventStore) SaveFileEvent(ev *FileEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files = append(s.files, ev)
	if len(s.files) > s.maxEntries {
		s.files = s.files[len(s.files)-s.maxEntries:]
	}
	return nil
}

// RecentAlerts returns up to limit alerts, newest first.
func (s *InMemoryEventStore) RecentAlerts(limit int) ([]*AlertEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return recentOf(s.alerts, limit), nil
}

// RecentFileEvents returns up to limit file events, newest first.
func (s *InMemoryEventStore) RecentFileEvents(limit int) ([]*FileEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return recentOf(s.files, limit), nil
}

func recentOf[T any](events []T, limit int) []T {
	if limit <= 0 || limit > len(events) {
		limit = len(events)
	}
	out := make([]T, 0, limit)
	for i := len(events) - 1; i >= len(events)-limit; i-- {
		out = append(out, events[i])
	}
	return out
}

func (s *InMemoryEventStore) HealthCheck() error { return nil }

func (s *InMemoryEventStore) Close() error { return nil }
