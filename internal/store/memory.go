package store

import (
	"context"
	"sort"
	"sync"

	"github.com/investsim/portfolio-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing and
// development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu       sync.RWMutex
	accounts map[string]*model.Account
	ledger   []model.Transaction
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: make(map[string]*model.Account),
	}
}

func (s *MemoryStore) CreateAccount(_ context.Context, a *model.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[a.AccountID]; ok {
		return ErrAccountExists
	}

	// Store a copy to avoid external mutation.
	cp := *a
	s.accounts[a.AccountID] = &cp
	return nil
}

func (s *MemoryStore) GetAccount(_ context.Context, accountID string) (*model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.accounts[accountID]
	if !ok {
		return nil, ErrAccountNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *MemoryStore) SaveAccount(_ context.Context, a *model.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[a.AccountID]; !ok {
		return ErrAccountNotFound
	}
	cp := *a
	s.accounts[a.AccountID] = &cp
	return nil
}

func (s *MemoryStore) AppendTransaction(_ context.Context, tx *model.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ledger = append(s.ledger, *tx)
	return nil
}

func (s *MemoryStore) Transactions(_ context.Context, accountID, tournamentID string) ([]model.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Transaction
	for _, tx := range s.ledger {
		if tx.AccountID != accountID {
			continue
		}
		if tournamentID != "" && tx.TournamentID != tournamentID {
			continue
		}
		result = append(result, tx)
	}

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Timestamp.Before(result[j].Timestamp)
	})
	return result, nil
}
