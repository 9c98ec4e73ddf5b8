package invoke

import (
	"errors"
	"fmt"
	"time"

	"github.com/openkcm/vmware-session/pkg/transport"
)

var (
	// ErrTimeout means the caller's deadline or MaxElapsed ran out. The
	// outcome of the remote operation is unknown.
	ErrTimeout = errors.New("invocation timed out")
	// ErrSessionFailure means no session could be obtained.
	ErrSessionFailure = errors.New("session could not be established")
	// ErrRemoteFault means the controller rejected the call for good.
	ErrRemoteFault = errors.New("remote fault")
	// ErrExhaustedRetries means every attempt failed with a recoverable fault.
	ErrExhaustedRetries = errors.New("retries exhausted")
)

type Kind int

const (
	KindTimeout Kind = iota
	KindSessionFailure
	KindRemoteFault
	KindExhaustedRetries
)

func (k Kind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindSessionFailure:
		return "session_failure"
	case KindRemoteFault:
		return "remote_fault"
	case KindExhaustedRetries:
		return "exhausted_retries"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

func (k Kind) sentinel() error {
	switch k {
	case KindTimeout:
		return ErrTimeout
	case KindSessionFailure:
		return ErrSessionFailure
	case KindRemoteFault:
		return ErrRemoteFault
	default:
		return ErrExhaustedRetries
	}
}

// Error is returned by Retrier.Invoke. Both the sentinel of its Kind and the
// last underlying failure can be matched with errors.Is and errors.As.
type Error struct {
	Kind     Kind
	Method   string
	Target   transport.Ref
	Attempts int
	Elapsed  time.Duration
	Last     error
}

func (e *Error) Error() string {
	target := ""
	if !e.Target.IsZero() {
		target = " on " + e.Target.String()
	}

	msg := fmt.Sprintf("%s: %s%s after %d attempt(s) in %s",
		e.Kind.sentinel(), e.Method, target, e.Attempts, e.Elapsed.Round(time.Millisecond))
	if e.Last != nil {
		msg += ": " + e.Last.Error()
	}

	return msg
}

func (e *Error) Unwrap() []error {
	if e.Last == nil {
		return []error{e.Kind.sentinel()}
	}

	return []error{e.Kind.sentinel(), e.Last}
}
