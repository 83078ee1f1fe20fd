package store

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/i474232898/water-quality-archive/internal/archive"
)

var (
	// ErrNotFound is returned when no run exists for a given ID.
	ErrNotFound = errors.New("run not found")
)

// Run is a stored run: its report and, once completed, its joined table.
type Run struct {
	Report archive.RunReport
	Table  archive.JoinedTable
}

// MemoryStore is a concurrency-safe in-memory store of runs.
type MemoryStore struct {
	mu sync.RWMutex

	// key: run ID
	data  map[string]*Run
	order []string // run IDs, oldest first

	// retention configuration
	maxHistory int           // max number of runs kept
	maxAge     time.Duration // optional max age of finished runs
}

// NewMemoryStore creates a new MemoryStore with optional limits.
// If maxHistory is <= 0, it is treated as unlimited.
func NewMemoryStore(maxHistory int, maxAge time.Duration) *MemoryStore {
	return &MemoryStore{
		data:       make(map[string]*Run),
		maxHistory: maxHistory,
		maxAge:     maxAge,
	}
}

// SaveRun inserts or replaces a run and enforces retention.
func (s *MemoryStore) SaveRun(report archive.RunReport, table archive.JoinedTable) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.data[report.ID]; !ok {
		s.order = append(s.order, report.ID)
	}
	s.data[report.ID] = &Run{Report: report, Table: table}

	s.evictLocked(time.Now())
}

// evictLocked drops the oldest runs past maxHistory, then finished runs older
// than maxAge. Running runs are never evicted by age.
func (s *MemoryStore) evictLocked(now time.Time) {
	if s.maxHistory > 0 && len(s.order) > s.maxHistory {
		over := len(s.order) - s.maxHistory
		for _, id := range s.order[:over] {
			delete(s.data, id)
		}
		s.order = s.order[over:]
	}

	if s.maxAge > 0 {
		cutoff := now.Add(-s.maxAge)
		kept := s.order[:0]
		for _, id := range s.order {
			r := s.data[id]
			if r.Report.Status != archive.RunRunning && r.Report.FinishedAt.Before(cutoff) {
				delete(s.data, id)
				continue
			}
			kept = append(kept, id)
		}
		s.order = kept
	}
}

// Get returns the run with the given ID.
func (s *MemoryStore) Get(id string) (Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.data[id]
	if !ok {
		return Run{}, ErrNotFound
	}
	return *r, nil
}

// List returns the reports of stored runs, newest first.
func (s *MemoryStore) List() []archive.RunReport {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]archive.RunReport, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.data[id].Report)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	return out
}
