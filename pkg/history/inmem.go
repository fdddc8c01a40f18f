package history

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMem keeps the most recent events in memory. When it holds Size
// events, the oldest are dropped to make room.
type InMem struct {
	Size int

	mu     sync.RWMutex
	events []Event
}

func NewInMem(size int) *InMem {
	return &InMem{Size: size}
}

func (m *InMem) LogEvent(e Event) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.StartedAt.IsZero() {
		e.StartedAt = time.Now().UTC()
	}
	if e.EndedAt.IsZero() {
		e.EndedAt = e.StartedAt
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Size > 0 && len(m.events) >= m.Size {
		m.events = m.events[len(m.events)-(m.Size-1):]
	}
	m.events = append(m.events, e)
	return nil
}

// newestFirst copies the events that pass keep, most recent first.
// Events logged at the same time keep the reverse of their logging
// order.
func (m *InMem) newestFirst(keep func(Event) bool) []Event {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var found []Event
	for i := len(m.events) - 1; i >= 0; i-- {
		if keep(m.events[i]) {
			found = append(found, m.events[i])
		}
	}
	sort.SliceStable(found, func(i, j int) bool {
		return found[i].StartedAt.After(found[j].StartedAt)
	})
	return found
}

func (m *InMem) EventsForRun(runID string) ([]Event, error) {
	return m.newestFirst(func(e Event) bool { return e.RunID == runID }), nil
}

func (m *InMem) AllEvents(before time.Time, limit int64) ([]Event, error) {
	events := m.newestFirst(func(e Event) bool { return e.StartedAt.Before(before) })
	if limit >= 0 && int64(len(events)) > limit {
		events = events[:limit]
	}
	return events, nil
}
