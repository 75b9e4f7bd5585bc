// Package sessions holds per-session conversation memory.
package sessions

import (
	"sync"
	"time"

	"github.com/rigmate/rigmate/pkg/models"
)

// defaultMaxTurns is the sliding window of turns retained per session when no
// limit is configured.
const defaultMaxTurns = 40

// MemoryStore is an in-memory conversation store. Each session owns an
// ordered sequence of turns, capped to a sliding window of the most recent
// maxTurns. Insertion order of sessions is tracked so eviction removes the
// oldest-created sessions first.
type MemoryStore struct {
	mu       sync.RWMutex
	turns    map[string][]models.Turn
	order    []string // session ids in creation order
	maxTurns int
}

// NewMemoryStore creates a store with the given per-session turn window.
// maxTurns <= 0 selects the default window.
func NewMemoryStore(maxTurns int) *MemoryStore {
	if maxTurns <= 0 {
		maxTurns = defaultMaxTurns
	}
	return &MemoryStore{
		turns:    map[string][]models.Turn{},
		maxTurns: maxTurns,
	}
}

// Append records a turn for the session, creating the session's memory on
// first use and trimming the window when it overflows.
func (m *MemoryStore) Append(sessionID, role, content string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.turns[sessionID]; !ok {
		m.order = append(m.order, sessionID)
	}
	turns := append(m.turns[sessionID], models.Turn{
		Role:    role,
		Content: content,
		At:      time.Now(),
	})
	if len(turns) > m.maxTurns {
		turns = turns[len(turns)-m.maxTurns:]
	}
	m.turns[sessionID] = turns
}

// History returns a copy of the session's turns in order. A session without
// memory yields an empty, non-nil slice.
func (m *MemoryStore) History(sessionID string) []models.Turn {
	m.mu.RLock()
	defer m.mu.RUnlock()

	turns := m.turns[sessionID]
	out := make([]models.Turn, len(turns))
	copy(out, turns)
	return out
}

// Clear drops the session's memory. Safe no-op if absent.
func (m *MemoryStore) Clear(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.remove(sessionID)
}

// EvictOldest removes oldest-created sessions until at most maxSessions
// remain. Returns the number of sessions evicted.
func (m *MemoryStore) EvictOldest(maxSessions int) int {
	if maxSessions < 0 {
		maxSessions = 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	evicted := 0
	for len(m.order) > maxSessions {
		m.remove(m.order[0])
		evicted++
	}
	return evicted
}

// Stats returns the number of live sessions and total retained turns.
func (m *MemoryStore) Stats() models.MemoryStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	total := 0
	for _, turns := range m.turns {
		total += len(turns)
	}
	return models.MemoryStats{
		ActiveSessions: len(m.turns),
		TotalTurns:     total,
	}
}

// remove deletes a session's memory and its order entry. Caller holds the lock.
func (m *MemoryStore) remove(sessionID string) {
	if _, ok := m.turns[sessionID]; !ok {
		return
	}
	delete(m.turns, sessionID)
	for i, id := range m.order {
		if id == sessionID {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
}
