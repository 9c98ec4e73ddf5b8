package invoke

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	slogctx "github.com/veqryn/slog-context"

	"github.com/openkcm/vmware-session/pkg/fault"
	"github.com/openkcm/vmware-session/pkg/transport"
)

// Attempt describes one try of one logical call.
type Attempt struct {
	Method  string
	Target  transport.Ref
	Args    map[string]any
	OpID    string
	Number  int
	Elapsed time.Duration
	Err     error
}

type EventKind int

const (
	// EventRetry follows a retriable failure, Delay is the upcoming sleep.
	EventRetry EventKind = iota
	// EventReauth follows a rejected session.
	EventReauth
	EventSuccess
	EventFailure
)

func (k EventKind) String() string {
	switch k {
	case EventRetry:
		return "retry"
	case EventReauth:
		return "reauth"
	case EventSuccess:
		return "success"
	case EventFailure:
		return "failure"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

type Event struct {
	Kind    EventKind
	Attempt Attempt
	Class   fault.Class
	Delay   time.Duration
	// Err is the *Error returned to the caller, set for EventFailure only.
	Err error
}

// Observer sees every attempt outcome. It must not block.
type Observer interface {
	Observe(ctx context.Context, ev Event)
}

type ObserverFunc func(ctx context.Context, ev Event)

func (f ObserverFunc) Observe(ctx context.Context, ev Event) {
	f(ctx, ev)
}

// Observers fans an event out to several observers.
type Observers []Observer

func (o Observers) Observe(ctx context.Context, ev Event) {
	for _, obs := range o {
		obs.Observe(ctx, ev)
	}
}

// LogObserver writes events to the context logger.
type LogObserver struct{}

func (LogObserver) Observe(ctx context.Context, ev Event) {
	attrs := []any{
		"attempt", ev.Attempt.Number,
		"elapsed", ev.Attempt.Elapsed,
	}
	if ev.Attempt.OpID != "" {
		attrs = append(attrs, "op_id", ev.Attempt.OpID)
	}

	switch ev.Kind {
	case EventRetry:
		slogctx.Warn(ctx, "Retrying call after transient fault",
			append(attrs, "delay", ev.Delay, "class", ev.Class.String(), "error", ev.Attempt.Err)...)
	case EventReauth:
		slogctx.Warn(ctx, "Session rejected, logging in again",
			append(attrs, "error", ev.Attempt.Err)...)
	case EventSuccess:
		slogctx.Debug(ctx, "Call succeeded", attrs...)
	case EventFailure:
		slogctx.Error(ctx, "Call failed", append(attrs, "error", ev.Err)...)
	}
}

// MetricsObserver records attempt counts and call durations.
type MetricsObserver struct {
	attempts metric.Int64Counter
	duration metric.Int64Histogram
}

// NewMetricsObserver creates the instruments on the global meter provider.
func NewMetricsObserver(name string, attrs ...attribute.KeyValue) (*MetricsObserver, error) {
	meter := otel.Meter(
		name,
		metric.WithInstrumentationVersion(otel.Version()),
		metric.WithInstrumentationAttributes(attrs...),
	)

	attempts, err := meter.Int64Counter(
		"controller.invoke.attempts",
		metric.WithDescription("Controller call attempts by outcome"),
		metric.WithUnit("attempt"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating attempt counter: %w", err)
	}

	duration, err := meter.Int64Histogram(
		"controller.invoke.duration",
		metric.WithDescription("End to end duration of controller calls including retries"),
		metric.WithUnit("milliseconds"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating duration histogram: %w", err)
	}

	return &MetricsObserver{attempts: attempts, duration: duration}, nil
}

func (m *MetricsObserver) Observe(ctx context.Context, ev Event) {
	method := attribute.String("method", ev.Attempt.Method)
	outcome := attribute.String("outcome", ev.Kind.String())

	m.attempts.Add(ctx, 1, metric.WithAttributes(method, outcome))

	if ev.Kind == EventSuccess || ev.Kind == EventFailure {
		m.duration.Record(ctx, ev.Attempt.Elapsed.Milliseconds(), metric.WithAttributes(method, outcome))
	}
}
