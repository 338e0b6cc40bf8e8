package recovery

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory recovery store for demo/test use.
type MemoryStore struct {
	mu            sync.RWMutex
	byID          map[string]*Request
	byContainment map[string]string // containment id → request id
}

// NewMemoryStore creates an in-memory recovery store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:          make(map[string]*Request),
		byContainment: make(map[string]string),
	}
}

// cloneRequest deep-copies a request so callers never share mutable state.
func cloneRequest(r *Request) *Request {
	cp := *r
	cp.Checks = make(map[Check]CheckStatus, len(r.Checks))
	for k, v := range r.Checks {
		cp.Checks[k] = v
	}
	cp.Approvals = append([]string(nil), r.Approvals...)
	if r.Evidence != nil {
		cp.Evidence = make(map[string]string, len(r.Evidence))
		for k, v := range r.Evidence {
			cp.Evidence[k] = v
		}
	}
	return &cp
}

func (s *MemoryStore) Create(ctx context.Context, r *Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[r.ID] = cloneRequest(r)
	s.byContainment[r.ContainmentID] = r.ID
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if r, ok := s.byID[id]; ok {
		return cloneRequest(r), nil
	}
	return nil, ErrRecoveryNotFound
}

func (s *MemoryStore) GetByContainment(ctx context.Context, containmentID string) (*Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if id, ok := s.byContainment[containmentID]; ok {
		if r, ok := s.byID[id]; ok {
			return cloneRequest(r), nil
		}
	}
	return nil, ErrRecoveryNotFound
}

func (s *MemoryStore) Update(ctx context.Context, r *Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[r.ID]; !ok {
		return ErrRecoveryNotFound
	}
	s.byID[r.ID] = cloneRequest(r)
	return nil
}

func (s *MemoryStore) ListOverdue(ctx context.Context, before time.Time, limit int) ([]*Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []*Request
	for _, r := range s.byID {
		if !r.IsTerminal() && r.Deadline.Before(before) {
			result = append(result, cloneRequest(r))
			if limit > 0 && len(result) >= limit {
				break
			}
		}
	}
	return result, nil
}
