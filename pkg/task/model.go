package task

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/openkcm/vmware-session/pkg/fault"
	"github.com/openkcm/vmware-session/pkg/invoke"
	"github.com/openkcm/vmware-session/pkg/transport"
)

var (
	ErrInvalidOptions    = errors.New("invalid poll options")
	ErrUnknownState      = errors.New("unknown task state")
	ErrUnknownLeaseState = errors.New("unknown lease state")
	ErrLeaseFailed       = errors.New("lease entered error state")
	// ErrTaskFailed marks the fault of a task that ended in StateError.
	ErrTaskFailed = errors.New("task failed")
)

// State of a remote task. Tasks only move forward:
// queued, then running any number of times, then success or error.
type State string

const (
	StateQueued  State = "queued"
	StateRunning State = "running"
	StateSuccess State = "success"
	StateError   State = "error"
)

func (s State) Terminal() bool {
	return s == StateSuccess || s == StateError
}

func (s State) rank() int {
	switch s {
	case StateQueued:
		return 1
	case StateRunning:
		return 2
	case StateSuccess, StateError:
		return 3
	default:
		return 0
	}
}

// Info is the task payload the controller reports.
type Info struct {
	Key          string                `json:"key"`
	Name         string                `json:"name,omitempty"`
	EntityName   string                `json:"entityName,omitempty"`
	State        State                 `json:"state"`
	Progress     *int                  `json:"progress,omitempty"`
	Result       json.RawMessage       `json:"result,omitempty"`
	Error        *fault.LocalizedFault `json:"error,omitempty"`
	QueueTime    *time.Time            `json:"queueTime,omitempty"`
	StartTime    *time.Time            `json:"startTime,omitempty"`
	CompleteTime *time.Time            `json:"completeTime,omitempty"`
}

// Status is the outcome of Await. A task that failed on the controller is
// still a successful wait: State is StateError and Fault says why.
type Status struct {
	Task     transport.Ref
	State    State
	Progress int
	Result   json.RawMessage
	Fault    *fault.Fault
	Info     Info
	Polls    int
}

// Err returns the task fault of a failed task, matching ErrTaskFailed, and
// nil otherwise.
func (s Status) Err() error {
	if s.State != StateError {
		return nil
	}
	if s.Fault == nil {
		return fmt.Errorf("%w: %w", ErrTaskFailed, fault.Translate(nil, "task "+s.Task.Value+" failed"))
	}

	return fmt.Errorf("%w: %w", ErrTaskFailed, s.Fault)
}

// Options control one wait.
type Options struct {
	// Interval is the first sleep between polls.
	Interval time.Duration
	// MaxInterval caps the sleep as it grows.
	MaxInterval time.Duration
	// Growth multiplies the sleep after every poll.
	Growth float64
	// Timeout bounds the whole wait. Zero leaves it to the caller's context.
	Timeout time.Duration
	// OnProgress is called whenever a running task reports new progress.
	OnProgress func(Status)
}

func DefaultOptions() Options {
	return Options{
		Interval:    500 * time.Millisecond,
		MaxInterval: 5 * time.Second,
		Growth:      2,
	}
}

func (o Options) Validate() error {
	switch {
	case o.Interval <= 0:
		return fmt.Errorf("%w: interval must be positive, got %s", ErrInvalidOptions, o.Interval)
	case o.MaxInterval < o.Interval:
		return fmt.Errorf("%w: max interval %s is below interval %s", ErrInvalidOptions, o.MaxInterval, o.Interval)
	case o.Growth < 1:
		return fmt.Errorf("%w: growth must be at least 1, got %g", ErrInvalidOptions, o.Growth)
	case o.Timeout < 0:
		return fmt.Errorf("%w: timeout must not be negative, got %s", ErrInvalidOptions, o.Timeout)
	}

	return nil
}

func (o Options) nextInterval(cur time.Duration) time.Duration {
	next := time.Duration(float64(cur) * o.Growth)
	if next > o.MaxInterval || next < cur {
		return o.MaxInterval
	}

	return next
}

// TimeoutError means the local wait ended before the remote object reached a
// final state. The remote operation carries on.
type TimeoutError struct {
	Ref    transport.Ref
	Polls  int
	Waited time.Duration
	// Last is the last observed state, empty if no poll completed.
	Last  string
	Cause error
}

func (e *TimeoutError) Error() string {
	msg := fmt.Sprintf("timed out waiting for %s after %d poll(s) in %s", e.Ref, e.Polls, e.Waited.Round(time.Millisecond))
	if e.Last != "" {
		msg += ", last state " + e.Last
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}

	return msg
}

func (e *TimeoutError) Unwrap() []error {
	if e.Cause == nil {
		return []error{invoke.ErrTimeout}
	}

	return []error{invoke.ErrTimeout, e.Cause}
}
