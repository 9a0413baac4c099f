// Package authtest provides an in-memory credential store for tests.
package authtest

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/quillpress/apiserver/internal/store"
	"github.com/quillpress/apiserver/types"
)

// Store is a concurrency-safe in-memory account and role store. Like the
// postgres store it enforces case-insensitive email uniqueness on insert.
type Store struct {
	mu       sync.Mutex
	nextID   int
	accounts map[int]types.Account
	byEmail  map[string]int
	roles    map[string]types.Role

	// Err, when set, is returned by every read.
	Err error
}

// NewStore returns a store seeded with the named roles.
func NewStore(roles ...string) *Store {
	s := &Store{
		accounts: map[int]types.Account{},
		byEmail:  map[string]int{},
		roles:    map[string]types.Role{},
	}
	for i, name := range roles {
		s.roles[name] = types.Role{ID: i + 1, Name: name}
	}
	return s
}

func (s *Store) GetByName(_ context.Context, name string) (types.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return types.Role{}, s.Err
	}
	role, ok := s.roles[name]
	if !ok {
		return types.Role{}, store.ErrNotFound
	}
	return role, nil
}

func (s *Store) GetByEmail(_ context.Context, email string) (types.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return types.Account{}, s.Err
	}
	id, ok := s.byEmail[strings.ToLower(strings.TrimSpace(email))]
	if !ok {
		return types.Account{}, store.ErrNotFound
	}
	return cloneAccount(s.accounts[id]), nil
}

func (s *Store) GetByID(_ context.Context, id int) (types.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return types.Account{}, s.Err
	}
	account, ok := s.accounts[id]
	if !ok {
		return types.Account{}, store.ErrNotFound
	}
	return cloneAccount(account), nil
}

func (s *Store) Create(_ context.Context, account types.Account) (types.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := strings.ToLower(strings.TrimSpace(account.Email))
	if _, exists := s.byEmail[key]; exists {
		return types.Account{}, store.ErrDuplicate
	}

	s.nextID++
	now := time.Now()
	account.ID = s.nextID
	account.Email = key
	account.CreatedAt = now
	account.UpdatedAt = now
	s.accounts[account.ID] = cloneAccount(account)
	s.byEmail[key] = account.ID
	return account, nil
}

func (s *Store) UpdatePasswordHash(_ context.Context, id int, hash string) error {
	return s.update(id, func(a *types.Account) { a.PasswordHash = hash })
}

func (s *Store) SetStatus(_ context.Context, id int, enabled, locked bool) error {
	return s.update(id, func(a *types.Account) {
		a.Enabled = enabled
		a.AccountLocked = locked
	})
}

// GrantRole adds a seeded role to the account.
func (s *Store) GrantRole(id int, name string) error {
	s.mu.Lock()
	role, ok := s.roles[name]
	s.mu.Unlock()
	if !ok {
		return store.ErrNotFound
	}
	return s.update(id, func(a *types.Account) { a.Roles = append(a.Roles, role) })
}

// Count returns the number of stored accounts.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.accounts)
}

func (s *Store) update(id int, fn func(*types.Account)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	account, ok := s.accounts[id]
	if !ok {
		return store.ErrNotFound
	}
	fn(&account)
	account.UpdatedAt = time.Now()
	s.accounts[id] = account
	return nil
}

func cloneAccount(a types.Account) types.Account {
	a.Roles = append([]types.Role(nil), a.Roles...)
	return a
}
