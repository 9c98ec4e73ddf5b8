// Package fault describes the failures a controller call can produce and
// classifies them into the three categories the invocation layer acts on:
// re-login, back off and retry, or give up.
package fault

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
)

// Known fault identifiers reported by the controller.
const (
	AlreadyExists         = "AlreadyExists"
	CannotDeleteFile      = "CannotDeleteFile"
	DuplicateName         = "DuplicateName"
	FileAlreadyExists     = "FileAlreadyExists"
	FileFault             = "FileFault"
	FileLocked            = "FileLocked"
	FileNotFound          = "FileNotFound"
	InvalidPowerState     = "InvalidPowerState"
	InvalidProperty       = "InvalidProperty"
	ManagedObjectNotFound = "ManagedObjectNotFound"
	NoDiskSpace           = "NoDiskSpace"
	NoPermission          = "NoPermission"
	NotAuthenticated      = "NotAuthenticated"
	SecurityError         = "SecurityError"
	TaskInProgress        = "TaskInProgress"
	ToolsUnavailable      = "ToolsUnavailable"
)

// Fault is an application-level fault returned by the controller. A single
// response may carry several fault identifiers.
type Fault struct {
	Names   []string
	Message string
	Details map[string]string
	Cause   error
}

// New creates a fault with normalised identifiers.
func New(names []string, message string) *Fault {
	normalised := make([]string, 0, len(names))
	for _, name := range names {
		normalised = append(normalised, NormalizeName(name))
	}

	return &Fault{
		Names:   normalised,
		Message: message,
	}
}

// WithDetails returns a copy of the fault carrying the given details.
func (f *Fault) WithDetails(details map[string]string) *Fault {
	c := *f
	c.Details = maps.Clone(details)
	return &c
}

// Has reports whether the fault carries the given identifier.
func (f *Fault) Has(name string) bool {
	return slices.Contains(f.Names, name)
}

func (f *Fault) Error() string {
	var b strings.Builder
	if f.Message != "" {
		b.WriteString(f.Message)
	} else {
		b.WriteString("controller fault")
	}

	if len(f.Names) > 0 {
		fmt.Fprintf(&b, " (faults: %s)", strings.Join(f.Names, ", "))
	}

	if len(f.Details) > 0 {
		keys := slices.Sorted(maps.Keys(f.Details))
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, k+"="+f.Details[k])
		}
		fmt.Fprintf(&b, " [%s]", strings.Join(parts, ", "))
	}

	if f.Cause != nil {
		fmt.Fprintf(&b, ": %v", f.Cause)
	}

	return b.String()
}

// Unwrap exposes the sentinel error of every known identifier together with
// the underlying cause, so errors.Is(err, ErrFileNotFound) works on a Fault.
func (f *Fault) Unwrap() []error {
	errs := make([]error, 0, len(f.Names)+1)
	for _, name := range f.Names {
		if sentinel := Sentinel(name); sentinel != nil {
			errs = append(errs, sentinel)
		}
	}

	if f.Cause != nil {
		errs = append(errs, f.Cause)
	}

	return errs
}

// NormalizeName strips any namespace prefix from a fault type and folds the
// security error reported by some endpoints on session expiry into NotAuthenticated.
func NormalizeName(name string) string {
	name = strings.TrimSpace(name)
	if idx := strings.LastIndexAny(name, ":."); idx != -1 {
		name = name[idx+1:]
	}

	if strings.HasSuffix(name, SecurityError) || strings.HasSuffix(name, NotAuthenticated) {
		return NotAuthenticated
	}

	return name
}

// TransportKind tells what went wrong below the application layer.
type TransportKind int

const (
	// KindConnection covers refused, reset and otherwise broken connections.
	KindConnection TransportKind = iota
	// KindTimeout means the peer did not answer in time.
	KindTimeout
	// KindOverload means the endpoint is up but cannot serve the call right now.
	KindOverload
	// KindProtocol means the response could not be understood at all.
	KindProtocol
)

func (k TransportKind) String() string {
	switch k {
	case KindConnection:
		return "connection"
	case KindTimeout:
		return "timeout"
	case KindOverload:
		return "overload"
	case KindProtocol:
		return "protocol"
	default:
		return "unknown"
	}
}

// TransportError wraps a failure that happened while moving a call over the wire.
type TransportError struct {
	Kind   TransportKind
	Method string
	Err    error
}

func (e *TransportError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s error in %s", e.Kind, e.Method)
	}
	return fmt.Sprintf("%s error in %s: %v", e.Kind, e.Method, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsTransport reports whether err is a transport failure of one of the given kinds.
// Without kinds any transport failure matches.
func IsTransport(err error, kinds ...TransportKind) bool {
	var te *TransportError
	if !errors.As(err, &te) {
		return false
	}

	return len(kinds) == 0 || slices.Contains(kinds, te.Kind)
}
