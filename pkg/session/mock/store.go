package sessionmock

import (
	"context"
	"sync"
	"time"

	"github.com/openkcm/vmware-session/internal/serviceerr"
	"github.com/openkcm/vmware-session/pkg/session"
)

type StoreOption func(*Store)

// Store is an in-memory session.Store.
type Store struct {
	mu     sync.Mutex
	handle *session.Handle
	ttl    time.Duration

	loadErr, saveErr, deleteErr error
}

func WithHandle(h session.Handle) StoreOption {
	return func(s *Store) { s.handle = &h }
}
func WithLoadError(err error) StoreOption {
	return func(s *Store) { s.loadErr = err }
}
func WithSaveError(err error) StoreOption {
	return func(s *Store) { s.saveErr = err }
}
func WithDeleteError(err error) StoreOption {
	return func(s *Store) { s.deleteErr = err }
}

var _ = session.Store(&Store{})

func NewInMemStore(opts ...StoreOption) *Store {
	s := &Store{}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Load(context.Context) (session.Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.loadErr != nil {
		return session.Handle{}, s.loadErr
	}
	if s.handle == nil {
		return session.Handle{}, serviceerr.ErrNotFound
	}

	return *s.handle, nil
}

func (s *Store) Save(_ context.Context, h session.Handle, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.saveErr != nil {
		return s.saveErr
	}
	s.handle = &h
	s.ttl = ttl

	return nil
}

func (s *Store) Delete(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.deleteErr != nil {
		return s.deleteErr
	}
	if s.handle == nil {
		return serviceerr.ErrNotFound
	}
	s.handle = nil

	return nil
}

// Handle returns the published handle, if any.
func (s *Store) Handle() (session.Handle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.handle == nil {
		return session.Handle{}, false
	}
	return *s.handle, true
}

func (s *Store) TTL() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.ttl
}
