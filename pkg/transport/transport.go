// Package transport defines the boundary between the session layer and the
// wire. A Client performs exactly one remote call per Call and never retries.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Controller methods the session layer calls itself.
const (
	MethodLogin                = "Login"
	MethodLogout               = "Logout"
	MethodSessionIsActive      = "SessionIsActive"
	MethodReadProperty         = "ReadProperty"
	MethodRetrievePropertiesEx = "RetrievePropertiesEx"

	MethodContinueRetrievePropertiesEx = "ContinueRetrievePropertiesEx"
	MethodCancelRetrievePropertiesEx   = "CancelRetrievePropertiesEx"
)

var (
	// SessionManagerRef is the controller object that owns login state.
	SessionManagerRef = Ref{Type: "SessionManager", Value: "SessionManager"}
	// PropertyCollectorRef answers bulk property reads.
	PropertyCollectorRef = Ref{Type: "PropertyCollector", Value: "propertyCollector"}
)

var (
	ErrDecode     = errors.New("decoding result")
	ErrInvalidRef = errors.New("invalid managed object reference")
)

// Ref references a managed object on the controller.
type Ref struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

func (r Ref) String() string {
	if r.Type == "" {
		return r.Value
	}
	return r.Type + ":" + r.Value
}

func (r Ref) IsZero() bool {
	return r.Type == "" && r.Value == ""
}

// ParseRef reads a reference in the Type:Value form of Ref.String. A bare
// value is given defaultType.
func ParseRef(s, defaultType string) (Ref, error) {
	typ, value, found := strings.Cut(s, ":")
	if !found {
		typ, value = defaultType, s
	}

	if typ == "" || value == "" {
		return Ref{}, fmt.Errorf("%w: %q", ErrInvalidRef, s)
	}

	return Ref{Type: typ, Value: value}, nil
}

// Request describes a single remote call.
type Request struct {
	Method string
	Target Ref
	Args   map[string]any
	// OpID is sent to the controller to correlate its logs with ours.
	OpID string
}

// Client performs one synchronous call with the given session token attached.
// An empty token means the call is made without a session.
type Client interface {
	Call(ctx context.Context, token string, req Request) (any, error)
}

// Decode converts a raw result into the given value. Results from the HTTP
// transport are json.RawMessage, fakes usually return the target type directly.
func Decode(result, into any) error {
	var data []byte
	switch v := result.(type) {
	case nil:
		return fmt.Errorf("%w: empty result", ErrDecode)
	case json.RawMessage:
		data = v
	case []byte:
		data = v
	default:
		var err error
		data, err = json.Marshal(v)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrDecode, err)
		}
	}

	if err := json.Unmarshal(data, into); err != nil {
		return fmt.Errorf("%w: %w", ErrDecode, err)
	}

	return nil
}
