package session

import (
	"context"
	"sync"

	"github.com/piewallah/pw-gateway/internal/model"
)

// MemoryBackend keeps the credential for the lifetime of the process.
type MemoryBackend struct {
	mu  sync.RWMutex
	c   model.Credential
	set bool
}

func NewMemoryBackend() *MemoryBackend { return &MemoryBackend{} }

func (m *MemoryBackend) Load(context.Context) (model.Credential, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.set {
		return model.Credential{}, ErrNoCredential
	}
	return m.c, nil
}

func (m *MemoryBackend) Save(_ context.Context, c model.Credential) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.c, m.set = c, true
	return nil
}

func (m *MemoryBackend) Delete(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.c, m.set = model.Credential{}, false
	return nil
}
