// Package invoke calls the controller through a transport.Client with a
// session attached, re-logging in on rejected sessions and backing off on
// transient faults within the bounds of a Policy.
package invoke

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	slogctx "github.com/veqryn/slog-context"

	"github.com/openkcm/vmware-session/internal/clock"
	"github.com/openkcm/vmware-session/pkg/fault"
	"github.com/openkcm/vmware-session/pkg/session"
	"github.com/openkcm/vmware-session/pkg/transport"
)

const tracerName = "github.com/openkcm/vmware-session/pkg/invoke"

// Sessions is the part of session.Manager the retrier needs.
type Sessions interface {
	EnsureValid(ctx context.Context) (session.Session, error)
	Invalidate(s session.Session) bool
}

var _ Sessions = (*session.Manager)(nil)

type Option func(*Retrier)

func WithPolicy(p Policy) Option {
	return func(r *Retrier) { r.policy = p }
}
func WithClassifier(c fault.Classifier) Option {
	return func(r *Retrier) { r.classifier = c }
}

// WithOpIDPrefix enables operation IDs of the form {prefix}-{uuid}.
func WithOpIDPrefix(prefix string) Option {
	return func(r *Retrier) { r.opIDPrefix = prefix }
}
func WithObserver(o Observer) Option {
	return func(r *Retrier) { r.observer = o }
}
func WithClock(c clock.Clock) Option {
	return func(r *Retrier) { r.clock = c }
}

// WithRandom replaces the jitter source. f must return values in [0, 1).
func WithRandom(f func() float64) Option {
	return func(r *Retrier) { r.random = f }
}
func WithTracer(t trace.Tracer) Option {
	return func(r *Retrier) { r.tracer = t }
}

type callOptions struct {
	noOpID bool
	policy *Policy
}

type CallOption func(*callOptions)

// WithoutOpID skips the operation ID, used for status polls.
func WithoutOpID() CallOption {
	return func(o *callOptions) { o.noOpID = true }
}

// WithCallPolicy overrides the retrier's policy for one call.
func WithCallPolicy(p Policy) CallOption {
	return func(o *callOptions) { o.policy = &p }
}

// Retrier is safe for concurrent use.
type Retrier struct {
	sessions   Sessions
	client     transport.Client
	classifier fault.Classifier
	policy     Policy
	opIDPrefix string
	observer   Observer
	clock      clock.Clock
	random     func() float64
	tracer     trace.Tracer
}

func New(sessions Sessions, client transport.Client, opts ...Option) (*Retrier, error) {
	r := &Retrier{
		sessions:   sessions,
		client:     client,
		classifier: fault.DefaultTable(),
		policy:     DefaultPolicy(),
		observer:   LogObserver{},
		clock:      clock.Real{},
		random:     rand.Float64,
		tracer:     otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(r)
	}

	if err := r.policy.Validate(); err != nil {
		return nil, err
	}

	return r, nil
}

// Policy returns the default policy of the retrier.
func (r *Retrier) Policy() Policy {
	return r.policy
}

// Invoke performs req with the current session until it succeeds or the
// policy gives up, in which case the error is an *Error.
func (r *Retrier) Invoke(ctx context.Context, req transport.Request, opts ...CallOption) (any, error) {
	var co callOptions
	for _, opt := range opts {
		opt(&co)
	}

	policy := r.policy
	if co.policy != nil {
		if err := co.policy.Validate(); err != nil {
			return nil, err
		}
		policy = *co.policy
	}

	ctx = slogctx.With(ctx, "method", req.Method)
	if !req.Target.IsZero() {
		ctx = slogctx.With(ctx, "target", req.Target.String())
	}

	ctx, span := r.tracer.Start(ctx, "invoke "+req.Method, trace.WithAttributes(
		attribute.String("controller.method", req.Method),
		attribute.String("controller.target", req.Target.String()),
	))
	defer span.End()

	l := &loop{
		r:      r,
		policy: policy,
		req:    req,
		noOpID: co.noOpID,
		start:  r.clock.Now(),
		bo:     newBackoff(policy, r.random),
	}

	result, err := l.run(ctx)

	span.SetAttributes(attribute.Int("controller.attempts", l.attempts))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	return result, nil
}

// loop is the state of one Invoke.
type loop struct {
	r        *Retrier
	policy   Policy
	req      transport.Request
	noOpID   bool
	start    time.Time
	bo       *backoff
	attempts int
	last     error
}

func (l *loop) run(ctx context.Context) (any, error) {
	for l.attempts < l.policy.MaxAttempts {
		if ctx.Err() != nil {
			return nil, l.fail(ctx, KindTimeout, ctx.Err())
		}
		if l.policy.MaxElapsed > 0 && l.elapsed() >= l.policy.MaxElapsed {
			return nil, l.fail(ctx, KindTimeout, l.last)
		}

		l.attempts++
		attempt := Attempt{
			Method: l.req.Method,
			Target: l.req.Target,
			Args:   l.req.Args,
			Number: l.attempts,
		}

		sess, err := l.r.sessions.EnsureValid(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, l.fail(ctx, KindTimeout, err)
			}

			l.last = err
			class := l.r.classifier.Classify(err)
			// Only a transient login failure is worth another try, anything
			// else means there is no session to be had.
			if errors.Is(err, session.ErrClosed) || l.policy.ActionFor(class) != ActionRetry {
				return nil, l.fail(ctx, KindSessionFailure, err)
			}

			attempt.Err = err
			if failure := l.backoff(ctx, attempt, class); failure != nil {
				return nil, failure
			}
			continue
		}

		req := l.req
		if !l.noOpID && l.r.opIDPrefix != "" {
			req.OpID = l.r.opIDPrefix + "-" + uuid.NewString()
			attempt.OpID = req.OpID
		}

		result, err := l.r.client.Call(ctx, sess.Key, req)
		if err == nil {
			attempt.Elapsed = l.elapsed()
			l.r.observer.Observe(ctx, Event{Kind: EventSuccess, Attempt: attempt})
			return result, nil
		}

		if ctx.Err() != nil {
			l.last = err
			return nil, l.fail(ctx, KindTimeout, errors.Join(err, ctx.Err()))
		}

		l.last = err
		attempt.Err = err
		class := l.r.classifier.Classify(err)

		switch l.policy.ActionFor(class) {
		case ActionReauth:
			l.r.sessions.Invalidate(sess)
			attempt.Elapsed = l.elapsed()
			l.r.observer.Observe(ctx, Event{Kind: EventReauth, Attempt: attempt, Class: class})
		case ActionRetry:
			if failure := l.backoff(ctx, attempt, class); failure != nil {
				return nil, failure
			}
		default:
			return nil, l.fail(ctx, KindRemoteFault, err)
		}
	}

	return nil, l.fail(ctx, KindExhaustedRetries, l.last)
}

// backoff sleeps before the next attempt. It returns the error to surface
// when there is no next attempt to sleep for.
func (l *loop) backoff(ctx context.Context, attempt Attempt, class fault.Class) error {
	if l.attempts >= l.policy.MaxAttempts {
		return l.fail(ctx, KindExhaustedRetries, attempt.Err)
	}

	delay := l.bo.next()
	attempt.Elapsed = l.elapsed()

	if l.policy.MaxElapsed > 0 && attempt.Elapsed+delay > l.policy.MaxElapsed {
		return l.fail(ctx, KindTimeout, attempt.Err)
	}

	l.r.observer.Observe(ctx, Event{Kind: EventRetry, Attempt: attempt, Class: class, Delay: delay})

	if err := l.r.clock.Sleep(ctx, delay); err != nil {
		return l.fail(ctx, KindTimeout, errors.Join(attempt.Err, err))
	}

	return nil
}

func (l *loop) elapsed() time.Duration {
	return l.r.clock.Now().Sub(l.start)
}

func (l *loop) fail(ctx context.Context, kind Kind, last error) error {
	if last == nil {
		last = l.last
	}

	err := &Error{
		Kind:     kind,
		Method:   l.req.Method,
		Target:   l.req.Target,
		Attempts: l.attempts,
		Elapsed:  l.elapsed(),
		Last:     last,
	}

	l.r.observer.Observe(ctx, Event{
		Kind: EventFailure,
		Attempt: Attempt{
			Method:  l.req.Method,
			Target:  l.req.Target,
			Args:    l.req.Args,
			Number:  l.attempts,
			Elapsed: err.Elapsed,
			Err:     last,
		},
		Err: err,
	})

	return err
}
