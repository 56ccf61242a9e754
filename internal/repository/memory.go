package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fortec/gateway/internal/apperr"
	"github.com/fortec/gateway/internal/model"
	"github.com/fortec/gateway/internal/quota"
)

// Memory is an in-process account store with the same semantics as
// Repository. Contents are lost on restart.
type Memory struct {
	mu       sync.Mutex
	byID     map[string]*model.Account
	byEmail  map[string]string
	byPrefix map[string]string
}

// NewMemory returns an empty Memory store.
func NewMemory() *Memory {
	return &Memory{
		byID:     make(map[string]*model.Account),
		byEmail:  make(map[string]string),
		byPrefix: make(map[string]string),
	}
}

// Ping always succeeds.
func (m *Memory) Ping(context.Context) error {
	return nil
}

// CreateAccount stores a copy of acc.
func (m *Memory) CreateAccount(_ context.Context, acc *model.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byEmail[acc.Email]; ok {
		return ErrEmailExists
	}
	if _, ok := m.byPrefix[acc.KeyPrefix]; ok {
		return ErrKeyPrefixExists
	}

	m.byID[acc.ID] = acc.Clone()
	m.byEmail[acc.Email] = acc.ID
	m.byPrefix[acc.KeyPrefix] = acc.ID
	return nil
}

// GetAccountByID returns a copy of the account with id.
func (m *Memory) GetAccountByID(_ context.Context, id string) (*model.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.get(id)
}

// GetAccountByEmail returns a copy of the account registered with email.
func (m *Memory) GetAccountByEmail(_ context.Context, email string) (*model.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.get(m.byEmail[email])
}

// GetAccountByKeyPrefix returns a copy of the account whose key has prefix.
func (m *Memory) GetAccountByKeyPrefix(_ context.Context, prefix string) (*model.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.get(m.byPrefix[prefix])
}

// UpdateAccountKey swaps the active key if currentPrefix is still active.
func (m *Memory) UpdateAccountKey(_ context.Context, id, currentPrefix, prefix, hash string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	acc, ok := m.byID[id]
	if !ok {
		return ErrAccountNotFound
	}
	if acc.KeyPrefix != currentPrefix {
		return ErrKeySuperseded
	}
	if owner, taken := m.byPrefix[prefix]; taken && owner != id {
		return ErrKeyPrefixExists
	}

	delete(m.byPrefix, acc.KeyPrefix)
	acc.KeyPrefix = prefix
	acc.KeyHash = hash
	acc.UpdatedAt = at
	m.byPrefix[prefix] = id
	return nil
}

// IncrementUsage checks and records one use of category under one lock.
func (m *Memory) IncrementUsage(_ context.Context, id string, category model.Category, at time.Time) (*model.Account, error) {
	if !category.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCategory, category)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	acc, ok := m.byID[id]
	if !ok {
		return nil, ErrAccountNotFound
	}
	if err := quota.Apply(acc, category, at); err != nil {
		if errors.Is(err, apperr.ErrQuotaExceeded) {
			return nil, ErrUsageLimitReached
		}
		return nil, err
	}
	acc.UpdatedAt = at
	return acc.Clone(), nil
}

// DecrementUsage reverts a use of category recorded at time at.
func (m *Memory) DecrementUsage(_ context.Context, id string, category model.Category, at time.Time) error {
	if !category.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownCategory, category)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	acc, ok := m.byID[id]
	if !ok {
		return ErrAccountNotFound
	}
	return quota.Revert(acc, category, at)
}

// get returns a copy of the account with id. Caller holds mu.
func (m *Memory) get(id string) (*model.Account, error) {
	acc, ok := m.byID[id]
	if !ok {
		return nil, ErrAccountNotFound
	}
	return acc.Clone(), nil
}
