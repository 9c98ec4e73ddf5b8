package transportmock

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/openkcm/vmware-session/pkg/transport"
)

var ErrUnexpectedCall = errors.New("unexpected call")

type ClientOption func(*Client)

// Reply is one scripted answer.
type Reply struct {
	Result any
	Err    error
}

// Call records a request as the client saw it.
type Call struct {
	Token   string
	Request transport.Request
}

// HandlerFunc computes an answer for a method when no scripted reply is queued.
type HandlerFunc func(ctx context.Context, token string, req transport.Request) (any, error)

// Client is a scripted transport.Client. Replies queued for a method are
// consumed in order, then the method's handler is used if there is one.
type Client struct {
	mu       sync.Mutex
	replies  map[string][]Reply
	handlers map[string]HandlerFunc
	calls    []Call
}

func WithReplies(method string, replies ...Reply) ClientOption {
	return func(c *Client) { c.replies[method] = append(c.replies[method], replies...) }
}
func WithHandler(method string, h HandlerFunc) ClientOption {
	return func(c *Client) { c.handlers[method] = h }
}

// Always answers method with the same result or error forever.
func Always(method string, result any, err error) ClientOption {
	return WithHandler(method, func(context.Context, string, transport.Request) (any, error) {
		return result, err
	})
}

var _ = transport.Client(&Client{})

func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		replies:  make(map[string][]Reply),
		handlers: make(map[string]HandlerFunc),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Push queues more replies for method.
func (c *Client) Push(method string, replies ...Reply) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.replies[method] = append(c.replies[method], replies...)
}

func (c *Client) Call(ctx context.Context, token string, req transport.Request) (any, error) {
	c.mu.Lock()
	c.calls = append(c.calls, Call{Token: token, Request: req})

	if queue := c.replies[req.Method]; len(queue) > 0 {
		reply := queue[0]
		c.replies[req.Method] = queue[1:]
		c.mu.Unlock()

		return reply.Result, reply.Err
	}

	h, ok := c.handlers[req.Method]
	c.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnexpectedCall, req.Method)
	}

	return h(ctx, token, req)
}

// Calls returns the recorded calls, optionally restricted to some methods.
func (c *Client) Calls(methods ...string) []Call {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Call, 0, len(c.calls))
	for _, call := range c.calls {
		if len(methods) == 0 || slices.Contains(methods, call.Request.Method) {
			out = append(out, call)
		}
	}

	return out
}

func (c *Client) CallCount(methods ...string) int {
	return len(c.Calls(methods...))
}
