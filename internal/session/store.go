// Package session holds the student's credential. A Store composes a
// durable backend and a session-scoped backend: reads prefer the durable
// one, writes go to both or neither, and a failing backend reads as "no
// credential".
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/piewallah/pw-gateway/internal/logging"
	"github.com/piewallah/pw-gateway/internal/model"
)

// ErrNoCredential is returned by backends that hold nothing.
var ErrNoCredential = errors.New("no credential stored")

// Backend is one key/value slot holding a credential.
type Backend interface {
	Load(ctx context.Context) (model.Credential, error)
	Save(ctx context.Context, c model.Credential) error
	Delete(ctx context.Context) error
}

// Store is the only owner of the credential.
type Store struct {
	durable Backend
	scoped  Backend
	log     logrus.FieldLogger

	mu sync.Mutex
}

// NewStore wires the two backends. A nil backend is replaced by an empty
// in-memory one.
func NewStore(durable, scoped Backend, log logrus.FieldLogger) *Store {
	if durable == nil {
		durable = NewMemoryBackend()
	}
	if scoped == nil {
		scoped = NewMemoryBackend()
	}
	if log == nil {
		log = logging.Discard()
	}
	return &Store{durable: durable, scoped: scoped, log: log}
}

// Init mirrors a durable credential into the session-scoped backend so both
// can serve reads from the start.
func (s *Store) Init(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.durable.Load(ctx)
	if err != nil {
		return
	}
	if err := s.scoped.Save(ctx, c); err != nil {
		s.log.WithError(err).Warn("session: mirror to session-scoped store failed")
	}
}

// Get returns the credential, or false when none is stored or storage is
// unavailable.
func (s *Store) Get(ctx context.Context) (model.Credential, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, err := s.durable.Load(ctx); err == nil && !c.Empty() {
		return c, true
	} else if err != nil && !errors.Is(err, ErrNoCredential) {
		s.log.WithError(err).Warn("session: durable store unavailable")
	}
	c, err := s.scoped.Load(ctx)
	if err != nil {
		if !errors.Is(err, ErrNoCredential) {
			s.log.WithError(err).Warn("session: session-scoped store unavailable")
		}
		return model.Credential{}, false
	}
	if c.Empty() {
		return model.Credential{}, false
	}
	return c, true
}

// Set writes the same credential to both backends. If either write fails
// both backends are emptied, so no reader can see a stale token next to a
// fresh one.
func (s *Store) Set(ctx context.Context, c model.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	errD := s.durable.Save(ctx, c)
	errS := s.scoped.Save(ctx, c)
	if errD == nil && errS == nil {
		return nil
	}
	if errD != nil {
		s.log.WithError(errD).Warn("session: durable write failed")
	}
	if errS != nil {
		s.log.WithError(errS).Warn("session: session-scoped write failed")
	}
	s.clearLocked(ctx)
	return fmt.Errorf("session: write credential: %w", errors.Join(errD, errS))
}

// Clear removes the credential from both backends.
func (s *Store) Clear(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearLocked(ctx)
}

func (s *Store) clearLocked(ctx context.Context) {
	if err := s.durable.Delete(ctx); err != nil {
		s.log.WithError(err).Warn("session: durable delete failed")
	}
	if err := s.scoped.Delete(ctx); err != nil {
		s.log.WithError(err).Warn("session: session-scoped delete failed")
	}
}
