// Package results holds the shared list of scoring results the dashboard reads.
package results

import (
	"sync"

	"github.com/opensource-finance/finsentinel/internal/domain"
)

// MemoryStore keeps every result, newest first. It has no capacity bound.
type MemoryStore struct {
	mu      sync.RWMutex
	results []*domain.ScoringResult
	byID    map[string]*domain.ScoringResult
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID: make(map[string]*domain.ScoringResult),
	}
}

// Add prepends a result.
func (s *MemoryStore) Add(result *domain.ScoringResult) {
	if result == nil {
		return
	}
	r := result.Clone()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.results = append(s.results, nil)
	copy(s.results[1:], s.results)
	s.results[0] = r
	if r.ID != "" {
		s.byID[r.ID] = r
	}
}

// List returns up to limit results, newest first. limit <= 0 returns all.
func (s *MemoryStore) List(limit int) []*domain.ScoringResult {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := len(s.results)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]*domain.ScoringResult, n)
	for i := 0; i < n; i++ {
		out[i] = s.results[i].Clone()
	}
	return out
}

// Get returns a result by ID.
func (s *MemoryStore) Get(id string) (*domain.ScoringResult, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.byID[id]
	if !ok {
		return nil, false
	}
	return r.Clone(), true
}

// Len returns the number of stored results.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.results)
}

// Stats summarizes the stored results.
type Stats struct {
	Total          int     `json:"total"`
	AverageOverall float64 `json:"average_overall_risk"`
	High           int     `json:"high"`
	Medium         int     `json:"medium"`
	Low            int     `json:"low"`
}

// Stats computes totals and class counts. The average is on the unit scale.
func (s *MemoryStore) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Stats{Total: len(s.results)}
	if st.Total == 0 {
		return st
	}

	var sum float64
	for _, r := range s.results {
		u := r.Unit(r.OverallRisk)
		sum += u
		switch domain.Classify(u) {
		case domain.RiskHigh:
			st.High++
		case domain.RiskMedium:
			st.Medium++
		default:
			st.Low++
		}
	}
	st.AverageOverall = sum / float64(st.Total)
	return st
}
