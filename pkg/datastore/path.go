// Package datastore handles datastore paths of the form "[ds] dir/file".
// The relative part always uses forward slashes.
package datastore

import (
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidPath = errors.New("invalid datastore path")

// Path is a file or directory on a datastore. The zero value is not valid.
type Path struct {
	datastore string
	rel       string
}

// NewPath joins paths below the root of the named datastore.
func NewPath(datastore string, paths ...string) (Path, error) {
	if datastore == "" {
		return Path{}, fmt.Errorf("%w: datastore name is empty", ErrInvalidPath)
	}

	return Path{datastore: datastore, rel: join("", paths...)}, nil
}

// ParsePath reads "[ds]" or "[ds] rel/path".
func ParsePath(s string) (Path, error) {
	if s == "" {
		return Path{}, fmt.Errorf("%w: empty", ErrInvalidPath)
	}

	_, rest, ok := strings.Cut(s, "[")
	if !ok {
		return Path{}, fmt.Errorf("%w: %q has no datastore name", ErrInvalidPath, s)
	}

	name, rel, _ := strings.Cut(rest, "]")

	return NewPath(name, strings.TrimSpace(rel))
}

func (p Path) Datastore() string { return p.datastore }

// Rel is the path relative to the datastore root.
func (p Path) Rel() string { return p.rel }

func (p Path) String() string {
	if p.rel == "" {
		return "[" + p.datastore + "]"
	}

	return "[" + p.datastore + "] " + p.rel
}

// Join appends path components. A component starting with a slash replaces
// everything before it.
func (p Path) Join(paths ...string) Path {
	if len(paths) == 0 {
		return p
	}

	return Path{datastore: p.datastore, rel: join(p.rel, paths...)}
}

func (p Path) Parent() Path {
	return Path{datastore: p.datastore, rel: p.Dir()}
}

// Dir is the relative directory part, "" for a file in the root.
func (p Path) Dir() string {
	head := p.rel[:strings.LastIndex(p.rel, "/")+1]
	if strings.Trim(head, "/") != "" {
		head = strings.TrimRight(head, "/")
	}

	return head
}

func (p Path) Base() string {
	return p.rel[strings.LastIndex(p.rel, "/")+1:]
}

func join(base string, paths ...string) string {
	out := base
	for _, p := range paths {
		switch {
		case strings.HasPrefix(p, "/"):
			out = p
		case out == "" || strings.HasSuffix(out, "/"):
			out += p
		default:
			out += "/" + p
		}
	}

	return out
}
