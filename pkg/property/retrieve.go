// Package property reads managed object properties through the property
// collector. Large results come in pages; a Retrieval follows them and
// cancels whatever is left when the caller stops early.
package property

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	slogctx "github.com/veqryn/slog-context"

	"github.com/openkcm/vmware-session/pkg/fault"
	"github.com/openkcm/vmware-session/pkg/invoke"
	"github.com/openkcm/vmware-session/pkg/transport"
)

var ErrInvalidSpec = errors.New("invalid retrieval spec")

// Invoker is the part of invoke.Retrier a retrieval needs.
type Invoker interface {
	Invoke(ctx context.Context, req transport.Request, opts ...invoke.CallOption) (any, error)
}

var _ Invoker = (*invoke.Retrier)(nil)

type Property struct {
	Name string          `json:"name"`
	Val  json.RawMessage `json:"val"`
}

// MissingProperty is a requested property the controller could not read.
type MissingProperty struct {
	Path  string                `json:"path"`
	Fault *fault.LocalizedFault `json:"fault,omitempty"`
}

type Object struct {
	Obj        transport.Ref     `json:"obj"`
	PropSet    []Property        `json:"propSet,omitempty"`
	MissingSet []MissingProperty `json:"missingSet,omitempty"`
}

// Properties returns the property values keyed by name.
func (o Object) Properties() map[string]json.RawMessage {
	props := make(map[string]json.RawMessage, len(o.PropSet))
	for _, p := range o.PropSet {
		props[p.Name] = p.Val
	}

	return props
}

// Spec selects what to read. Without Root every object of Type in the
// inventory is read; with Root only that object.
type Spec struct {
	Type string
	Root transport.Ref
	// PathSet defaults to the object name.
	PathSet []string
	// All reads every property and ignores PathSet.
	All bool
	// MaxObjects bounds the size of one page. Zero leaves it to the controller.
	MaxObjects int
}

func (s Spec) args() (map[string]any, error) {
	if s.Type == "" {
		return nil, fmt.Errorf("%w: object type is required", ErrInvalidSpec)
	}
	if s.MaxObjects < 0 {
		return nil, fmt.Errorf("%w: maxObjects must not be negative", ErrInvalidSpec)
	}

	paths := s.PathSet
	if len(paths) == 0 && !s.All {
		paths = []string{"name"}
	}

	args := map[string]any{
		"type":    s.Type,
		"pathSet": paths,
		"all":     s.All,
	}
	if !s.Root.IsZero() {
		args["obj"] = s.Root
	}
	if s.MaxObjects > 0 {
		args["maxObjects"] = s.MaxObjects
	}

	return args, nil
}

type page struct {
	Objects []Object `json:"objects"`
	Token   string   `json:"token,omitempty"`
}

// Retrieval is an open property read. It is not safe for concurrent use and
// its objects can be walked once.
type Retrieval struct {
	invoker Invoker
	page    page
}

// Retrieve starts a property read. The caller must Close the retrieval
// unless Each ran to the end.
func Retrieve(ctx context.Context, invoker Invoker, spec Spec) (*Retrieval, error) {
	args, err := spec.args()
	if err != nil {
		return nil, err
	}

	first, err := fetch(ctx, invoker, transport.MethodRetrievePropertiesEx, args)
	if err != nil {
		return nil, err
	}

	return &Retrieval{invoker: invoker, page: first}, nil
}

// Each calls fn for every object, fetching further pages as needed. It stops
// at the first error fn returns; the remaining pages are left for Close.
func (r *Retrieval) Each(ctx context.Context, fn func(Object) error) error {
	for {
		for len(r.page.Objects) > 0 {
			obj := r.page.Objects[0]
			r.page.Objects = r.page.Objects[1:]

			if err := fn(obj); err != nil {
				return err
			}
		}

		if r.page.Token == "" {
			return nil
		}

		next, err := fetch(ctx, r.invoker, transport.MethodContinueRetrievePropertiesEx,
			map[string]any{"token": r.page.Token})
		if err != nil {
			return err
		}
		r.page = next
	}
}

// Close cancels the read on the controller if pages are left.
func (r *Retrieval) Close(ctx context.Context) error {
	token := r.page.Token
	r.page = page{}
	if token == "" {
		return nil
	}

	_, err := r.invoker.Invoke(ctx, transport.Request{
		Method: transport.MethodCancelRetrievePropertiesEx,
		Target: transport.PropertyCollectorRef,
		Args:   map[string]any{"token": token},
	})
	if err != nil {
		return fmt.Errorf("cancelling retrieval: %w", err)
	}

	return nil
}

// Collect reads every object spec selects.
func Collect(ctx context.Context, invoker Invoker, spec Spec) ([]Object, error) {
	r, err := Retrieve(ctx, invoker, spec)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := r.Close(context.WithoutCancel(ctx)); err != nil {
			slogctx.Warn(ctx, "Failed to cancel retrieval", "error", err)
		}
	}()

	var objects []Object
	err = r.Each(ctx, func(o Object) error {
		objects = append(objects, o)
		return nil
	})

	return objects, err
}

// Get reads the named properties of one object. Properties the controller
// could not read are left out of the result.
func Get(ctx context.Context, invoker Invoker, ref transport.Ref, paths ...string) (map[string]json.RawMessage, error) {
	objects, err := Collect(ctx, invoker, Spec{Type: ref.Type, Root: ref, PathSet: paths, MaxObjects: 1})
	if err != nil {
		return nil, err
	}
	if len(objects) == 0 {
		return map[string]json.RawMessage{}, nil
	}

	obj := objects[0]
	for _, m := range obj.MissingSet {
		slogctx.Debug(ctx, "Property could not be read", "object", ref.String(), "path", m.Path)
	}

	return obj.Properties(), nil
}

func fetch(ctx context.Context, invoker Invoker, method string, args map[string]any) (page, error) {
	result, err := invoker.Invoke(ctx, transport.Request{
		Method: method,
		Target: transport.PropertyCollectorRef,
		Args:   args,
	})
	if err != nil {
		return page{}, err
	}
	if result == nil {
		return page{}, nil
	}

	var p page
	if err := transport.Decode(result, &p); err != nil {
		return page{}, fmt.Errorf("%w: %w", invoke.ErrRemoteFault, err)
	}

	return p, nil
}
