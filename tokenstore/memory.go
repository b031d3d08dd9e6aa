package tokenstore

import (
	"context"
	"sync"

	"github.com/uber/rides-go-sdk/auth"
)

// Memory keeps tokens in process memory. Contents are lost on exit; it
// backs tests and short-lived tools.
type Memory struct {
	mu     sync.RWMutex
	tokens map[Key]*auth.AccessToken
}

// NewMemory constructs an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{tokens: make(map[Key]*auth.AccessToken)}
}

// Save stores or replaces the token under key.
func (m *Memory) Save(_ context.Context, key Key, token *auth.AccessToken) error {
	if err := key.check(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[key] = token.Clone()
	return nil
}

// Fetch returns a copy of the stored token.
func (m *Memory) Fetch(_ context.Context, key Key) (*auth.AccessToken, error) {
	if err := key.check(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	token, ok := m.tokens[key]
	if !ok {
		return nil, ErrNotFound
	}
	return token.Clone(), nil
}

// Delete removes the token under key.
func (m *Memory) Delete(_ context.Context, key Key) (bool, error) {
	if err := key.check(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.tokens[key]
	delete(m.tokens, key)
	return ok, nil
}
