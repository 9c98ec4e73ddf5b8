package fault

import (
	"fmt"
	"maps"
	"os"

	"github.com/goccy/go-yaml"
)

// Table maps fault identifiers to classes. It is immutable after
// construction and safe to share between goroutines; identifiers that are not
// in the table are Fatal.
type Table struct {
	classes map[string]Class
}

var defaultClasses = map[string]Class{
	NotAuthenticated: SessionInvalid,
	TaskInProgress:   Retriable,
}

// DefaultTable returns the built-in table.
func DefaultTable() *Table {
	return NewTable(nil)
}

// NewTable returns the built-in table extended with overrides.
func NewTable(overrides map[string]Class) *Table {
	classes := maps.Clone(defaultClasses)
	for name, class := range overrides {
		classes[NormalizeName(name)] = class
	}

	return &Table{classes: classes}
}

// Register returns a copy of the table with name mapped to class.
func (t *Table) Register(name string, class Class) *Table {
	classes := maps.Clone(t.classes)
	classes[NormalizeName(name)] = class

	return &Table{classes: classes}
}

func (t *Table) lookup(name string) Class {
	class, ok := t.classes[NormalizeName(name)]
	if !ok {
		return Fatal
	}

	return class
}

type tableFile struct {
	Faults map[string]string `yaml:"faults"`
}

// ParseTable decodes YAML of the form
//
//	faults:
//	  FileLocked: retriable
//	  InvalidLogin: session_invalid
//
// and returns the built-in table extended with those entries.
func ParseTable(data []byte) (*Table, error) {
	var file tableFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("decoding fault table: %w", err)
	}

	overrides := make(map[string]Class, len(file.Faults))
	for name, raw := range file.Faults {
		class, err := ParseClass(raw)
		if err != nil {
			return nil, fmt.Errorf("fault %s: %w", name, err)
		}
		overrides[name] = class
	}

	return NewTable(overrides), nil
}

// LoadTable reads a fault table from a YAML file.
func LoadTable(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading fault table: %w", err)
	}

	return ParseTable(data)
}
