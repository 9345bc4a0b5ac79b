package store

import (
	"context"
	"sync"

	"jobs-admin/client/internal/credential/domain"
)

// MemoryStore keeps the credential in process memory. Nothing survives a restart.
type MemoryStore struct {
	mu   sync.RWMutex
	cred *domain.Credential
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Save replaces the stored credential.
func (s *MemoryStore) Save(_ context.Context, cred domain.Credential) error {
	if err := cred.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c := cred
	s.cred = &c
	return nil
}

// Load returns a copy of the stored credential, or nil.
func (s *MemoryStore) Load(_ context.Context) (*domain.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cred == nil {
		return nil, nil
	}
	c := *s.cred
	return &c, nil
}

// Clear removes the stored credential.
func (s *MemoryStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cred = nil
	return nil
}
