// Package client puts a session manager, an invocation retrier and a task
// poller in front of one transport, which is what most callers want.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	slogctx "github.com/veqryn/slog-context"

	"github.com/openkcm/vmware-session/internal/clock"
	"github.com/openkcm/vmware-session/pkg/fault"
	"github.com/openkcm/vmware-session/pkg/invoke"
	"github.com/openkcm/vmware-session/pkg/property"
	"github.com/openkcm/vmware-session/pkg/session"
	"github.com/openkcm/vmware-session/pkg/task"
	"github.com/openkcm/vmware-session/pkg/transport"
)

var ErrNoTransport = errors.New("no transport configured")

// Options describe a Client. Only Transport is required: without an
// Authenticator the client logs in with Credentials.
type Options struct {
	Transport     transport.Client
	Authenticator session.Authenticator
	Credentials   session.Credentials
	// Checker answers liveness checks. Defaults to the Authenticator when it
	// can check sessions itself.
	Checker session.Checker

	Classifier fault.Classifier
	Policy     *invoke.Policy
	Poll       *task.Options
	Observer   invoke.Observer
	OpIDPrefix string

	// CreateSession logs in while the client is built instead of on the
	// first call.
	CreateSession bool

	Clock          clock.Clock
	SessionOptions []session.Option
}

// Client is safe for concurrent use.
type Client struct {
	sessions *session.Manager
	retrier  *invoke.Retrier
	poller   *task.Poller
	poll     task.Options
}

func New(ctx context.Context, opts Options) (*Client, error) {
	if opts.Transport == nil {
		return nil, ErrNoTransport
	}

	auth := opts.Authenticator
	if auth == nil {
		auth = session.NewCredentialAuthenticator(opts.Transport, opts.Credentials)
	}

	clk := opts.Clock
	if clk == nil {
		clk = clock.Real{}
	}

	checker := opts.Checker
	if checker == nil {
		checker, _ = auth.(session.Checker)
	}

	sessOpts := []session.Option{session.WithClock(clk)}
	if checker != nil {
		sessOpts = append(sessOpts, session.WithChecker(checker))
	}
	sessions := session.NewManager(auth, append(sessOpts, opts.SessionOptions...)...)

	retrierOpts := []invoke.Option{invoke.WithClock(clk)}
	if opts.Policy != nil {
		retrierOpts = append(retrierOpts, invoke.WithPolicy(*opts.Policy))
	}
	if opts.Classifier != nil {
		retrierOpts = append(retrierOpts, invoke.WithClassifier(opts.Classifier))
	}
	if opts.Observer != nil {
		retrierOpts = append(retrierOpts, invoke.WithObserver(opts.Observer))
	}
	if opts.OpIDPrefix != "" {
		retrierOpts = append(retrierOpts, invoke.WithOpIDPrefix(opts.OpIDPrefix))
	}

	retrier, err := invoke.New(sessions, opts.Transport, retrierOpts...)
	if err != nil {
		return nil, fmt.Errorf("creating retrier: %w", err)
	}

	poll := task.DefaultOptions()
	if opts.Poll != nil {
		poll = *opts.Poll
	}
	if err := poll.Validate(); err != nil {
		return nil, err
	}

	poller, err := task.NewPoller(retrier, task.WithClock(clk))
	if err != nil {
		return nil, fmt.Errorf("creating poller: %w", err)
	}

	c := &Client{
		sessions: sessions,
		retrier:  retrier,
		poller:   poller,
		poll:     poll,
	}

	if opts.CreateSession {
		s, err := sessions.EnsureValid(ctx)
		if err != nil {
			return nil, fmt.Errorf("creating session: %w", err)
		}
		slogctx.Info(ctx, "Session created", "session", session.TruncKey(s.Key))
	}

	return c, nil
}

// Invoke calls method on target with the current session. See invoke.Retrier.
func (c *Client) Invoke(ctx context.Context, method string, target transport.Ref, args map[string]any, opts ...invoke.CallOption) (any, error) {
	return c.retrier.Invoke(ctx, transport.Request{
		Method: method,
		Target: target,
		Args:   args,
	}, opts...)
}

// WaitForTask waits for a task to finish. A task that ends in error is
// reported both in the returned Status and as an error matching
// task.ErrTaskFailed. When the outcome could not be learnt the error is a
// *task.TimeoutError or matches invoke.ErrRemoteFault, and the Status holds
// the last state seen.
func (c *Client) WaitForTask(ctx context.Context, ref transport.Ref) (task.Status, error) {
	return c.WaitForTaskWith(ctx, ref, c.poll)
}

func (c *Client) WaitForTaskWith(ctx context.Context, ref transport.Ref, opts task.Options) (task.Status, error) {
	status, err := c.poller.Await(ctx, ref, opts)
	if err != nil {
		return status, err
	}

	return status, status.Err()
}

func (c *Client) WaitForLease(ctx context.Context, ref transport.Ref) error {
	return c.poller.AwaitLease(ctx, ref, c.poll)
}

// Retrieve starts a paged property read. See property.Retrieval.
func (c *Client) Retrieve(ctx context.Context, spec property.Spec) (*property.Retrieval, error) {
	return property.Retrieve(ctx, c.retrier, spec)
}

// Collect reads every object spec selects, following all pages.
func (c *Client) Collect(ctx context.Context, spec property.Spec) ([]property.Object, error) {
	return property.Collect(ctx, c.retrier, spec)
}

// Properties reads the named properties of one object.
func (c *Client) Properties(ctx context.Context, ref transport.Ref, paths ...string) (map[string]json.RawMessage, error) {
	return property.Get(ctx, c.retrier, ref, paths...)
}

// Active reports whether the controller still accepts the current session.
func (c *Client) Active(ctx context.Context) (bool, error) {
	return c.sessions.Active(ctx)
}

// Login makes sure there is a session, logging in if needed.
func (c *Client) Login(ctx context.Context) (session.Session, error) {
	return c.sessions.EnsureValid(ctx)
}

func (c *Client) Session() (session.Session, bool) {
	return c.sessions.Current()
}

// Logout ends the current session. The next call logs in again.
func (c *Client) Logout(ctx context.Context) {
	c.sessions.Logout(ctx)
}

// Close logs out for good. Calls made afterwards fail with
// invoke.ErrSessionFailure.
func (c *Client) Close(ctx context.Context) {
	c.sessions.Close(ctx)
}
