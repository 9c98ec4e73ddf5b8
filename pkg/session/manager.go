package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"

	slogctx "github.com/veqryn/slog-context"

	"github.com/openkcm/vmware-session/internal/clock"
)

var (
	ErrClosed      = errors.New("session manager is closed")
	ErrLoginFailed = errors.New("login failed")
)

const (
	defaultActiveTTL    = 10 * time.Second
	defaultLoginTimeout = 2 * time.Minute
	loginFlightKey      = "login"
)

type Option func(*Manager)

// WithChecker enables remote liveness checks in Manager.Active.
func WithChecker(c Checker) Option {
	return func(m *Manager) { m.checker = c }
}

// WithLoginTimeout bounds a single login. The login runs detached from the
// caller that started it, so this is its only deadline.
func WithLoginTimeout(d time.Duration) Option {
	return func(m *Manager) { m.loginTimeout = d }
}

// WithActiveTTL sets how long a liveness answer is reused.
func WithActiveTTL(d time.Duration) Option {
	return func(m *Manager) { m.activeTTL = d }
}

func WithClock(c clock.Clock) Option {
	return func(m *Manager) { m.clock = c }
}

// Manager owns the single current session of a process.
type Manager struct {
	auth         Authenticator
	checker      Checker
	clock        clock.Clock
	loginTimeout time.Duration
	activeTTL    time.Duration
	active       *cache.Cache
	logins       singleflight.Group

	mu         sync.Mutex
	current    Session
	state      State
	generation uint64
	closed     bool
}

func NewManager(auth Authenticator, opts ...Option) *Manager {
	m := &Manager{
		auth:         auth,
		clock:        clock.Real{},
		loginTimeout: defaultLoginTimeout,
		activeTTL:    defaultActiveTTL,
	}
	for _, opt := range opts {
		opt(m)
	}

	m.active = cache.New(m.activeTTL, 2*m.activeTTL)

	return m
}

// EnsureValid returns the current session, logging in first when there is
// none. Concurrent callers share one login and all observe its outcome. A
// caller whose ctx ends stops waiting, the login itself carries on for the
// others.
func (m *Manager) EnsureValid(ctx context.Context) (Session, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return Session{}, ErrClosed
	}
	if m.state == Authenticated {
		s := m.current
		m.mu.Unlock()
		return s, nil
	}
	m.mu.Unlock()

	flight := m.logins.DoChan(loginFlightKey, func() (any, error) {
		return m.login(context.WithoutCancel(ctx))
	})

	select {
	case <-ctx.Done():
		return Session{}, ctx.Err()
	case res := <-flight:
		if res.Err != nil {
			return Session{}, res.Err
		}
		return res.Val.(Session), nil
	}
}

func (m *Manager) login(ctx context.Context) (Session, error) {
	// A caller that saw Unauthenticated may only get here after another
	// flight already installed a session.
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return Session{}, ErrClosed
	}
	if m.state == Authenticated {
		s := m.current
		m.mu.Unlock()
		return s, nil
	}
	m.mu.Unlock()

	if m.loginTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.loginTimeout)
		defer cancel()
	}

	slogctx.Debug(ctx, "Creating session with the controller")

	h, err := m.auth.Login(ctx)
	if err != nil {
		slogctx.Warn(ctx, "Failed to create session", "error", err)
		return Session{}, fmt.Errorf("%w: %w", ErrLoginFailed, err)
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		m.logout(ctx, h)
		return Session{}, ErrClosed
	}

	m.generation++
	s := Session{
		Key:        h.Key,
		UserName:   h.UserName,
		Generation: m.generation,
		CreatedAt:  m.clock.Now(),
	}
	m.current = s
	m.state = Authenticated
	m.mu.Unlock()

	slogctx.Info(ctx, "Session established",
		"session", TruncKey(s.Key),
		"generation", s.Generation,
		"user", s.UserName)

	return s, nil
}

// Invalidate drops s if it is still the current session and reports whether
// it did. A session from an older generation is ignored.
func (m *Manager) Invalidate(s Session) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != Authenticated || s.Generation != m.generation {
		return false
	}

	m.active.Delete(m.current.Key)
	m.current = Session{}
	m.state = Unauthenticated

	return true
}

// Current returns the current session without logging in.
func (m *Manager) Current() (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.current, m.state == Authenticated
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.state
}

// Active reports whether the controller still accepts the current session.
// Without a Checker the local state is all there is to go on.
func (m *Manager) Active(ctx context.Context) (bool, error) {
	s, ok := m.Current()
	if !ok {
		return false, nil
	}

	if m.checker == nil {
		return true, nil
	}

	if v, found := m.active.Get(s.Key); found && m.activeTTL > 0 {
		return v.(bool), nil
	}

	active, err := m.checker.IsActive(ctx, s.Handle())
	if err != nil {
		return false, fmt.Errorf("checking session %s: %w", TruncKey(s.Key), err)
	}

	if m.activeTTL > 0 {
		m.active.Set(s.Key, active, cache.DefaultExpiration)
	}
	slogctx.Debug(ctx, "Checked session liveness", "session", TruncKey(s.Key), "active", active)

	return active, nil
}

// Logout ends the current session. The local state is cleared even if the
// controller rejects the logout, failures are only logged.
func (m *Manager) Logout(ctx context.Context) {
	m.mu.Lock()
	if m.state != Authenticated {
		m.mu.Unlock()
		return
	}
	s := m.current
	m.current = Session{}
	m.state = Unauthenticated
	m.mu.Unlock()

	m.active.Delete(s.Key)
	m.logout(ctx, s.Handle())
}

// Close logs out and makes every later EnsureValid fail with ErrClosed.
func (m *Manager) Close(ctx context.Context) {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	m.Logout(ctx)
}

func (m *Manager) logout(ctx context.Context, h Handle) {
	slogctx.Debug(ctx, "Logging out session", "session", TruncKey(h.Key))

	if err := m.auth.Logout(ctx, h); err != nil {
		slogctx.Error(ctx, "Failed to log out session", "session", TruncKey(h.Key), "error", err)
		return
	}

	slogctx.Info(ctx, "Session logged out", "session", TruncKey(h.Key))
}
