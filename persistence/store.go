// Package persistence stores the events a server emits while it runs.
package persistence

import (
	"sort"
	"sync"
	"time"
)

// Record is one stored server event.
type Record struct {
	ID        int64         `json:"id"`
	RunID     string        `json:"run_id"`
	Kind      string        `json:"kind"`
	Tool      string        `json:"tool,omitzero"`
	Success   bool          `json:"success"`
	Duration  time.Duration `json:"duration_ns,omitzero"`
	Error     string        `json:"error,omitzero"`
	Timestamp time.Time     `json:"timestamp"`
}

// Store defines the interface for persisting server event records.
type Store interface {
	// AddRecord inserts a new record for a run and returns its ID.
	AddRecord(runID string, record Record) (int64, error)

	// Records retrieves all records of a run in chronological order.
	Records(runID string) ([]Record, error)

	// ListRuns returns every run ID in the store, oldest run first.
	ListRuns() ([]string, error)

	// DeleteRun removes all records of a run.
	DeleteRun(runID string) error

	// Close closes the store and releases resources.
	Close() error
}

// MemoryStore provides an in-memory implementation of Store.
type MemoryStore struct {
	mu     sync.Mutex
	runs   map[string][]Record
	order  []string
	nextID int64
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		runs:   make(map[string][]Record),
		nextID: 1,
	}
}

// AddRecord adds a new record to the in-memory store and returns its assigned ID.
func (m *MemoryStore) AddRecord(runID string, record Record) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.runs[runID]; !ok {
		m.order = append(m.order, runID)
	}

	record.ID = m.nextID
	record.RunID = runID
	m.nextID++
	m.runs[runID] = append(m.runs[runID], record)
	return record.ID, nil
}

// Records returns a copy of the records of a run, ordered by timestamp.
func (m *MemoryStore) Records(runID string) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	records := make([]Record, len(m.runs[runID]))
	copy(records, m.runs[runID])
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Timestamp.Before(records[j].Timestamp)
	})
	return records, nil
}

// ListRuns returns run IDs in the order their first record was added.
func (m *MemoryStore) ListRuns() ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	runs := make([]string, len(m.order))
	copy(runs, m.order)
	return runs, nil
}

// DeleteRun removes all data for a run.
func (m *MemoryStore) DeleteRun(runID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.runs[runID]; !ok {
		return nil
	}
	delete(m.runs, runID)
	for i, id := range m.order {
		if id == runID {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return nil
}

// Close is a no-op for the in-memory store as there are no resources to release.
func (m *MemoryStore) Close() error {
	return nil
}

// Summary aggregates the tool calls of a run.
type Summary struct {
	RunID    string
	Started  time.Time
	Stopped  time.Time
	Calls    int
	Failures int
	ByTool   map[string]int
	Total    time.Duration
}

// Summarize computes a Summary from the records of a single run.
func Summarize(runID string, records []Record) Summary {
	s := Summary{
		RunID:  runID,
		ByTool: make(map[string]int),
	}
	for _, r := range records {
		switch r.Kind {
		case "started":
			s.Started = r.Timestamp
		case "stopped":
			s.Stopped = r.Timestamp
		case "tool_executed":
			s.Calls++
			s.ByTool[r.Tool]++
			s.Total += r.Duration
			if !r.Success {
				s.Failures++
			}
		}
	}
	return s
}
