// Package task waits for long-running controller operations. Every status
// read goes through the invocation retrier, so transient failures while
// polling are absorbed there.
package task

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	slogctx "github.com/veqryn/slog-context"

	"github.com/openkcm/vmware-session/internal/clock"
	"github.com/openkcm/vmware-session/pkg/fault"
	"github.com/openkcm/vmware-session/pkg/invoke"
	"github.com/openkcm/vmware-session/pkg/transport"
)

const meterName = "github.com/openkcm/vmware-session/pkg/task"

// Invoker is the part of invoke.Retrier the poller needs.
type Invoker interface {
	Invoke(ctx context.Context, req transport.Request, opts ...invoke.CallOption) (any, error)
}

var _ Invoker = (*invoke.Retrier)(nil)

type Option func(*Poller)

func WithClock(c clock.Clock) Option {
	return func(p *Poller) { p.clock = c }
}

// Poller is safe for concurrent use. It keeps no state about the objects it
// waits for.
type Poller struct {
	invoker Invoker
	clock   clock.Clock
	polls   metric.Int64Counter
}

func NewPoller(invoker Invoker, opts ...Option) (*Poller, error) {
	p := &Poller{
		invoker: invoker,
		clock:   clock.Real{},
	}
	for _, opt := range opts {
		opt(p)
	}

	meter := otel.Meter(meterName, metric.WithInstrumentationVersion(otel.Version()))

	var err error
	p.polls, err = meter.Int64Counter(
		"controller.task.polls",
		metric.WithDescription("Status reads of tasks and leases"),
		metric.WithUnit("poll"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating poll counter: %w", err)
	}

	return p, nil
}

// Await polls the info of task until it is terminal. A task that failed on
// the controller is returned as a Status in StateError, not as an error.
// Errors are either a *TimeoutError, which matches invoke.ErrTimeout, or
// match invoke.ErrRemoteFault.
func (p *Poller) Await(ctx context.Context, task transport.Ref, opts Options) (Status, error) {
	if err := opts.Validate(); err != nil {
		return Status{}, err
	}

	ctx = slogctx.With(ctx, "task", task.Value)

	var status Status
	status.Task = task

	polls, err := p.wait(ctx, task, opts, func(ctx context.Context) (bool, string, error) {
		status.Polls++

		var info Info
		if err := p.read(ctx, task, "info", &info); err != nil {
			return false, "", err
		}

		if info.State.rank() == 0 {
			return false, string(info.State), fmt.Errorf("%w: %w: %q", invoke.ErrRemoteFault, ErrUnknownState, info.State)
		}

		// A late read must not move the task backwards.
		if info.State.rank() < status.State.rank() {
			slogctx.Warn(ctx, "Ignoring stale task state", "state", info.State, "known", status.State)
			return false, string(status.State), nil
		}

		changed := info.State != status.State
		prevProgress := status.Progress
		status.State = info.State
		status.Info = info
		if info.Progress != nil {
			status.Progress = *info.Progress
		}

		switch info.State {
		case StateSuccess:
			status.Progress = 100
			status.Result = info.Result
			slogctx.Debug(ctx, "Task completed successfully")
		case StateError:
			status.Fault = fault.Translate(info.Error, "")
			slogctx.Debug(ctx, "Task failed", "error", status.Fault)
		case StateRunning:
			if changed || status.Progress != prevProgress {
				slogctx.Debug(ctx, "Task in progress", "progress", status.Progress)
				if opts.OnProgress != nil {
					opts.OnProgress(status)
				}
			}
		}

		return info.State.Terminal(), string(info.State), nil
	})
	status.Polls = polls

	return status, err
}

// AwaitLease polls the state of an import/export lease until it is ready.
func (p *Poller) AwaitLease(ctx context.Context, lease transport.Ref, opts Options) error {
	if err := opts.Validate(); err != nil {
		return err
	}

	ctx = slogctx.With(ctx, "lease", lease.Value)

	_, err := p.wait(ctx, lease, opts, func(ctx context.Context) (bool, string, error) {
		var state string
		if err := p.read(ctx, lease, "state", &state); err != nil {
			return false, "", err
		}

		switch state {
		case "ready":
			slogctx.Debug(ctx, "Lease is ready")
			return true, state, nil
		case "initializing":
			slogctx.Debug(ctx, "Lease is initializing")
			return false, state, nil
		case "error":
			return true, state, p.leaseError(ctx, lease)
		default:
			return true, state, fmt.Errorf("%w: %w: %q", invoke.ErrRemoteFault, ErrUnknownLeaseState, state)
		}
	})

	return err
}

func (p *Poller) leaseError(ctx context.Context, lease transport.Ref) error {
	var lf fault.LocalizedFault
	if err := p.read(ctx, lease, "error", &lf); err != nil {
		slogctx.Warn(ctx, "Failed to read lease error", "error", err)
		return fmt.Errorf("%w: %w: %w", invoke.ErrRemoteFault, ErrLeaseFailed, fault.Translate(nil, "Unknown"))
	}

	return fmt.Errorf("%w: %w: %w", invoke.ErrRemoteFault, ErrLeaseFailed, fault.Translate(&lf, ""))
}

func (p *Poller) read(ctx context.Context, ref transport.Ref, property string, into any) error {
	p.polls.Add(ctx, 1, metric.WithAttributes(
		attribute.String("type", ref.Type),
		attribute.String("property", property),
	))

	result, err := p.invoker.Invoke(ctx, transport.Request{
		Method: transport.MethodReadProperty,
		Target: ref,
		Args:   map[string]any{"property": property},
	}, invoke.WithoutOpID())
	if err != nil {
		return err
	}

	if err := transport.Decode(result, into); err != nil {
		return fmt.Errorf("%w: %w", invoke.ErrRemoteFault, err)
	}

	return nil
}

// wait runs poll until it reports done, fails, or the deadline passes. The
// sleep between polls grows geometrically and is cut short at the deadline;
// no poll starts once the deadline has passed.
func (p *Poller) wait(ctx context.Context, ref transport.Ref, opts Options, poll func(context.Context) (bool, string, error)) (int, error) {
	start := p.clock.Now()
	deadline := start.Add(opts.Timeout)
	interval := opts.Interval

	var (
		polls int
		last  string
	)

	timeout := func(cause error) error {
		waited := p.clock.Now().Sub(start)
		slogctx.Warn(ctx, "Gave up waiting", "polls", polls, "waited", waited, "last_state", last)

		return &TimeoutError{Ref: ref, Polls: polls, Waited: waited, Last: last, Cause: cause}
	}

	for {
		remaining := time.Duration(0)
		if opts.Timeout > 0 {
			remaining = deadline.Sub(p.clock.Now())
			if remaining <= 0 {
				return polls, timeout(nil)
			}
		}

		if err := ctx.Err(); err != nil {
			return polls, timeout(err)
		}

		pollCtx, cancel := ctx, context.CancelFunc(func() {})
		if remaining > 0 {
			pollCtx, cancel = context.WithTimeout(ctx, remaining)
		}

		done, state, err := poll(pollCtx)
		cancel()
		polls++
		if state != "" {
			last = state
		}

		if err != nil {
			if errors.Is(err, invoke.ErrTimeout) {
				return polls, timeout(err)
			}
			return polls, err
		}
		if done {
			return polls, nil
		}

		sleep := interval
		if opts.Timeout > 0 {
			remaining = deadline.Sub(p.clock.Now())
			if remaining <= 0 {
				return polls, timeout(nil)
			}
			sleep = min(sleep, remaining)
		}

		if err := p.clock.Sleep(ctx, sleep); err != nil {
			return polls, timeout(err)
		}

		interval = opts.nextInterval(interval)
	}
}
