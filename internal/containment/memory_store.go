package containment

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory containment store for demo/test use.
type MemoryStore struct {
	mu   sync.RWMutex
	byID map[string]*Containment
	byTx map[string]string // transaction id → containment id
}

// NewMemoryStore creates an in-memory containment store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID: make(map[string]*Containment),
		byTx: make(map[string]string),
	}
}

func (s *MemoryStore) Create(ctx context.Context, c *Containment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *c
	s.byID[c.ID] = &cp
	s.byTx[c.TransactionID] = c.ID
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*Containment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if c, ok := s.byID[id]; ok {
		cp := *c
		return &cp, nil
	}
	return nil, ErrContainmentNotFound
}

func (s *MemoryStore) GetByTransaction(ctx context.Context, txID string) (*Containment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if id, ok := s.byTx[txID]; ok {
		if c, ok := s.byID[id]; ok {
			cp := *c
			return &cp, nil
		}
	}
	return nil, ErrContainmentNotFound
}

func (s *MemoryStore) ListByWallet(ctx context.Context, wallet string, limit int) ([]*Containment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []*Containment
	for _, c := range s.byID {
		if c.WalletAddress == wallet {
			cp := *c
			result = append(result, &cp)
			if limit > 0 && len(result) >= limit {
				break
			}
		}
	}
	return result, nil
}

func (s *MemoryStore) Update(ctx context.Context, c *Containment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[c.ID]; !ok {
		return ErrContainmentNotFound
	}
	cp := *c
	s.byID[c.ID] = &cp
	return nil
}

func (s *MemoryStore) ListExpired(ctx context.Context, before time.Time, limit int) ([]*Containment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []*Containment
	for _, c := range s.byID {
		if !c.IsTerminal() && c.ExpiresAt.Before(before) {
			cp := *c
			result = append(result, &cp)
			if limit > 0 && len(result) >= limit {
				break
			}
		}
	}
	return result, nil
}
