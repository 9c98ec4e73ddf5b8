package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	slogctx "github.com/veqryn/slog-context"

	"github.com/openkcm/vmware-session/internal/serviceerr"
	"github.com/openkcm/vmware-session/pkg/transport"
)

var (
	ErrEmptyKey           = errors.New("login returned an empty session key")
	ErrSessionUnavailable = errors.New("no usable session is available")
)

// Authenticator creates and destroys sessions on the controller.
type Authenticator interface {
	Login(ctx context.Context) (Handle, error)
	Logout(ctx context.Context, h Handle) error
}

// Checker asks the controller whether a session is still alive.
type Checker interface {
	IsActive(ctx context.Context, h Handle) (bool, error)
}

// Store shares a session key between processes.
type Store interface {
	// Load returns serviceerr.ErrNotFound when no key is published.
	Load(ctx context.Context) (Handle, error)
	Save(ctx context.Context, h Handle, ttl time.Duration) error
	Delete(ctx context.Context) error
}

type Credentials struct {
	UserName string
	Password string
	Locale   string
}

// CredentialAuthenticator logs in with a user name and password.
type CredentialAuthenticator struct {
	client transport.Client
	creds  Credentials
}

var (
	_ Authenticator = (*CredentialAuthenticator)(nil)
	_ Checker       = (*CredentialAuthenticator)(nil)
)

func NewCredentialAuthenticator(client transport.Client, creds Credentials) *CredentialAuthenticator {
	return &CredentialAuthenticator{
		client: client,
		creds:  creds,
	}
}

func (a *CredentialAuthenticator) Login(ctx context.Context) (Handle, error) {
	args := map[string]any{
		"userName": a.creds.UserName,
		"password": a.creds.Password,
	}
	if a.creds.Locale != "" {
		args["locale"] = a.creds.Locale
	}

	result, err := a.client.Call(ctx, "", transport.Request{
		Method: transport.MethodLogin,
		Target: transport.SessionManagerRef,
		Args:   args,
	})
	if err != nil {
		return Handle{}, err
	}

	var h Handle
	if err := transport.Decode(result, &h); err != nil {
		return Handle{}, fmt.Errorf("login response: %w", err)
	}

	if h.Key == "" {
		return Handle{}, ErrEmptyKey
	}

	if h.UserName == "" {
		h.UserName = a.creds.UserName
	}

	return h, nil
}

func (a *CredentialAuthenticator) Logout(ctx context.Context, h Handle) error {
	_, err := a.client.Call(ctx, h.Key, transport.Request{
		Method: transport.MethodLogout,
		Target: transport.SessionManagerRef,
	})

	return err
}

func (a *CredentialAuthenticator) IsActive(ctx context.Context, h Handle) (bool, error) {
	result, err := a.client.Call(ctx, h.Key, transport.Request{
		Method: transport.MethodSessionIsActive,
		Target: transport.SessionManagerRef,
		Args: map[string]any{
			"sessionID": h.Key,
			"userName":  h.UserName,
		},
	})
	if err != nil {
		return false, err
	}

	var active bool
	if err := transport.Decode(result, &active); err != nil {
		return false, fmt.Errorf("session check response: %w", err)
	}

	return active, nil
}

// ExternalAuthenticator hands out a session key that somebody else created.
// Once the controller rejected the key there is nothing left to log in with.
// A local logout returns the key, so the next Login hands it out again.
type ExternalAuthenticator struct {
	mu     sync.Mutex
	handle Handle
	used   bool
}

var _ Authenticator = (*ExternalAuthenticator)(nil)

func NewExternalAuthenticator(key, userName string) *ExternalAuthenticator {
	return &ExternalAuthenticator{handle: Handle{Key: key, UserName: userName}}
}

func (a *ExternalAuthenticator) Login(ctx context.Context) (Handle, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.handle.Key == "" {
		return Handle{}, ErrEmptyKey
	}

	if a.used {
		return Handle{}, fmt.Errorf("%w: external session %s is no longer accepted",
			ErrSessionUnavailable, TruncKey(a.handle.Key))
	}

	a.used = true
	slogctx.Debug(ctx, "Using externally supplied session", "session", TruncKey(a.handle.Key))

	return a.handle, nil
}

// Logout leaves the session alone on the controller, it belongs to whoever
// supplied it.
func (a *ExternalAuthenticator) Logout(_ context.Context, h Handle) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if h.Key == a.handle.Key {
		a.used = false
	}

	return nil
}

// SharedAuthenticator takes the session key from a Store. When next is set
// it logs in through next whenever the store has no usable key and publishes
// the new key; without next it only consumes keys published by others.
type SharedAuthenticator struct {
	store Store
	next  Authenticator
	ttl   time.Duration

	mu   sync.Mutex
	last string
}

var _ Authenticator = (*SharedAuthenticator)(nil)

func NewSharedAuthenticator(store Store, next Authenticator, ttl time.Duration) *SharedAuthenticator {
	return &SharedAuthenticator{
		store: store,
		next:  next,
		ttl:   ttl,
	}
}

func (a *SharedAuthenticator) Login(ctx context.Context) (Handle, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	h, err := a.store.Load(ctx)
	switch {
	case err == nil && h.Key != "" && h.Key != a.last:
		// Login is only asked for again once the previous key was dropped,
		// so a key equal to the last one handed out is known to be stale.
		a.last = h.Key
		slogctx.Debug(ctx, "Using shared session", "session", TruncKey(h.Key))
		return h, nil
	case err != nil && !errors.Is(err, serviceerr.ErrNotFound):
		slogctx.Warn(ctx, "Failed to load shared session", "error", err)
	}

	if a.next == nil {
		return Handle{}, fmt.Errorf("%w: shared store has no fresh session", ErrSessionUnavailable)
	}

	h, err = a.next.Login(ctx)
	if err != nil {
		return Handle{}, err
	}

	if err := a.store.Save(ctx, h, a.ttl); err != nil {
		slogctx.Warn(ctx, "Failed to publish shared session", "session", TruncKey(h.Key), "error", err)
	}

	a.last = h.Key

	return h, nil
}

// Logout ends the session only when this process is the publisher.
func (a *SharedAuthenticator) Logout(ctx context.Context, h Handle) error {
	if a.next == nil {
		// The key is still published, so the next Login may use it again.
		a.mu.Lock()
		if a.last == h.Key {
			a.last = ""
		}
		a.mu.Unlock()

		return nil
	}

	if err := a.store.Delete(ctx); err != nil && !errors.Is(err, serviceerr.ErrNotFound) {
		slogctx.Warn(ctx, "Failed to remove shared session", "error", err)
	}

	return a.next.Logout(ctx, h)
}
