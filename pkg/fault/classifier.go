package fault

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"syscall"
)

// Class is the category the invocation layer acts on. The zero value is Fatal
// so that anything not explicitly classified is never retried.
type Class int

const (
	Fatal Class = iota
	Retriable
	SessionInvalid
)

func (c Class) String() string {
	switch c {
	case Fatal:
		return "fatal"
	case Retriable:
		return "retriable"
	case SessionInvalid:
		return "session_invalid"
	default:
		return fmt.Sprintf("class(%d)", int(c))
	}
}

// ParseClass parses the textual form produced by Class.String.
func ParseClass(s string) (Class, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "fatal":
		return Fatal, nil
	case "retriable", "retryable":
		return Retriable, nil
	case "session_invalid", "sessioninvalid":
		return SessionInvalid, nil
	default:
		return Fatal, fmt.Errorf("%w: %q", ErrUnknownClass, s)
	}
}

// Classifier maps a raw failure to a Class.
type Classifier interface {
	Classify(err error) Class
}

// ClassifierFunc adapts a function to the Classifier interface.
type ClassifierFunc func(err error) Class

func (f ClassifierFunc) Classify(err error) Class {
	return f(err)
}

var ErrUnknownClass = errors.New("unknown fault class")

// Messages that the socket layer and overloaded endpoints produce for
// conditions that go away on their own.
var transientMarkers = []string{
	"address already in use",
	"software caused connection abort",
	"connection reset by peer",
	"connection refused",
	"broken pipe",
	`response is "text/html"`,
}

// Classify maps err to a Class using the table.
func (t *Table) Classify(err error) Class {
	if err == nil {
		return Fatal
	}

	// A caller giving up is never something to retry on its behalf.
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return Fatal
	}

	var f *Fault
	if errors.As(err, &f) {
		return t.classifyFault(f)
	}

	var te *TransportError
	if errors.As(err, &te) {
		switch te.Kind {
		case KindConnection, KindTimeout, KindOverload:
			return Retriable
		default:
			return Fatal
		}
	}

	if isTransientNetwork(err) {
		return Retriable
	}

	return Fatal
}

// classifyFault lets a session problem win over everything else, since a
// re-login is needed before any retry can succeed. A fault is retriable only
// when every identifier it carries is.
func (t *Table) classifyFault(f *Fault) Class {
	if len(f.Names) == 0 {
		return Fatal
	}

	result := Retriable
	for _, name := range f.Names {
		switch t.lookup(name) {
		case SessionInvalid:
			return SessionInvalid
		case Fatal:
			result = Fatal
		}
	}

	return result
}

func isTransientNetwork(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, syscall.EADDRINUSE) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range transientMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}

	return false
}
