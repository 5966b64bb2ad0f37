// Package secretstore persists the single durable secret of the app:
// the refresh token. Exactly one value is stored at a time; each
// rotation overwrites the previous one.
package secretstore

import (
	"context"
	"sync"

	"github.com/okazan/clauth/internal/apperrors"
)

type Store interface {
	// Return the stored secret or apperrors.ErrSecretNotFound
	Get(ctx context.Context) (string, error)

	// Overwrite the stored secret
	Set(ctx context.Context, secret string) error

	// Remove the stored secret
	// Deleting an absent secret is not an error
	Delete(ctx context.Context) error
}

// Memory is an in-process store for tests and ephemeral runs
type Memory struct {
	mu     sync.Mutex
	secret string
	exists bool
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Get(_ context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.exists {
		return "", apperrors.ErrSecretNotFound
	}
	return m.secret, nil
}

func (m *Memory) Set(_ context.Context, secret string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.secret = secret
	m.exists = true
	return nil
}

func (m *Memory) Delete(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.secret = ""
	m.exists = false
	return nil
}
