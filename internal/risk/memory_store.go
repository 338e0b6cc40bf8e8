package risk

import (
	"context"
	"errors"
	"sync"
)

// ErrAssessmentNotFound is returned when no assessment matches a lookup.
var ErrAssessmentNotFound = errors.New("assessment not found")

// MemoryStore is an in-memory, append-only assessment history.
type MemoryStore struct {
	mu     sync.RWMutex
	byID   map[string]*RiskAssessment
	byTx   map[string]*RiskAssessment
	sorted []*RiskAssessment // append order
}

// NewMemoryStore creates an in-memory assessment store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID: make(map[string]*RiskAssessment),
		byTx: make(map[string]*RiskAssessment),
	}
}

func (s *MemoryStore) Record(ctx context.Context, assessment *RiskAssessment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a := cloneAssessment(assessment)
	s.byID[a.ID] = a
	s.byTx[a.TransactionID] = a
	s.sorted = append(s.sorted, a)
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*RiskAssessment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if a, ok := s.byID[id]; ok {
		return cloneAssessment(a), nil
	}
	return nil, ErrAssessmentNotFound
}

func (s *MemoryStore) GetByTransaction(ctx context.Context, txID string) (*RiskAssessment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if a, ok := s.byTx[txID]; ok {
		return cloneAssessment(a), nil
	}
	return nil, ErrAssessmentNotFound
}

func (s *MemoryStore) ListRecent(ctx context.Context, limit int) ([]*RiskAssessment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	start := len(s.sorted) - limit
	if start < 0 {
		start = 0
	}
	result := make([]*RiskAssessment, 0, len(s.sorted)-start)
	for i := len(s.sorted) - 1; i >= start; i-- {
		result = append(result, cloneAssessment(s.sorted[i]))
	}
	return result, nil
}

// Clear drops all history. Administrative use only.
func (s *MemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID = make(map[string]*RiskAssessment)
	s.byTx = make(map[string]*RiskAssessment)
	s.sorted = nil
}

func cloneAssessment(a *RiskAssessment) *RiskAssessment {
	c := *a
	c.Patterns = append([]string(nil), a.Patterns...)
	c.Providers = append([]string(nil), a.Providers...)
	return &c
}
