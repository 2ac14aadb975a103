// Package ledger provides implementations of the broker.Store
// contract: an append-only transaction log plus a mutable account
// record with an atomic pair-write commit.
package ledger

import (
	"context"
	"sync"

	"github.com/paperledger/brokerd/pkg/broker"
)

// Memory is the in-process store used for tests and dev mode.
// A single RWMutex makes the commit pair-write atomic; per-account
// serialization is the engine's job.
type Memory struct {
	mu       sync.RWMutex
	accounts map[string]broker.Account
	logs     map[string][]broker.Transaction
}

func NewMemory() *Memory {
	return &Memory{
		accounts: make(map[string]broker.Account),
		logs:     make(map[string][]broker.Transaction),
	}
}

func (m *Memory) CreateAccount(ctx context.Context, acct broker.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.accounts[acct.ID]; ok {
		return broker.ErrAccountExists
	}
	m.accounts[acct.ID] = acct
	return nil
}

func (m *Memory) Account(ctx context.Context, userID string) (broker.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	acct, ok := m.accounts[userID]
	if !ok {
		return broker.Account{}, broker.ErrAccountNotFound
	}
	return acct, nil
}

func (m *Memory) Transactions(ctx context.Context, userID string) ([]broker.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	log := m.logs[userID]
	out := make([]broker.Transaction, len(log))
	copy(out, log) // appended in commit order, already ascending
	return out, nil
}

func (m *Memory) Commit(ctx context.Context, acct broker.Account, tx broker.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.accounts[acct.ID]; !ok {
		return broker.ErrAccountNotFound
	}
	m.accounts[acct.ID] = acct
	m.logs[tx.UserID] = append(m.logs[tx.UserID], tx)
	return nil
}

func (m *Memory) Close() error { return nil }
