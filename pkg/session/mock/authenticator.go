package sessionmock

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/openkcm/vmware-session/pkg/session"
)

type AuthenticatorOption func(*Authenticator)

// Authenticator hands out key-1, key-2, ... unless told otherwise.
type Authenticator struct {
	logins  atomic.Int64
	logouts atomic.Int64

	mu        sync.Mutex
	loginErrs []error
	logoutErr error
	active    map[string]bool
	gate      chan struct{}
	loggedOut []string
}

// WithLoginErrors makes the next logins fail with errs, in order.
func WithLoginErrors(errs ...error) AuthenticatorOption {
	return func(a *Authenticator) { a.loginErrs = append(a.loginErrs, errs...) }
}
func WithLogoutError(err error) AuthenticatorOption {
	return func(a *Authenticator) { a.logoutErr = err }
}

// WithGate blocks every login until gate is closed.
func WithGate(gate chan struct{}) AuthenticatorOption {
	return func(a *Authenticator) { a.gate = gate }
}

var (
	_ = session.Authenticator(&Authenticator{})
	_ = session.Checker(&Authenticator{})
)

func NewAuthenticator(opts ...AuthenticatorOption) *Authenticator {
	a := &Authenticator{active: make(map[string]bool)}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Authenticator) Login(ctx context.Context) (session.Handle, error) {
	n := a.logins.Add(1)

	if a.gate != nil {
		select {
		case <-a.gate:
		case <-ctx.Done():
			return session.Handle{}, ctx.Err()
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.loginErrs) > 0 {
		err := a.loginErrs[0]
		a.loginErrs = a.loginErrs[1:]
		if err != nil {
			return session.Handle{}, err
		}
	}

	key := fmt.Sprintf("key-%d", n)
	a.active[key] = true

	return session.Handle{Key: key, UserName: "admin"}, nil
}

func (a *Authenticator) Logout(_ context.Context, h session.Handle) error {
	a.logouts.Add(1)

	a.mu.Lock()
	defer a.mu.Unlock()

	a.loggedOut = append(a.loggedOut, h.Key)
	if a.logoutErr != nil {
		return a.logoutErr
	}
	delete(a.active, h.Key)

	return nil
}

func (a *Authenticator) IsActive(_ context.Context, h session.Handle) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.active[h.Key], nil
}

// Expire makes the controller forget key.
func (a *Authenticator) Expire(key string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	delete(a.active, key)
}

func (a *Authenticator) Logins() int {
	return int(a.logins.Load())
}

func (a *Authenticator) Logouts() int {
	return int(a.logouts.Load())
}

func (a *Authenticator) LoggedOut() []string {
	a.mu.Lock()
	defer a.mu.Unlock()

	return append([]string(nil), a.loggedOut...)
}
