package validation

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrInvalid is matched by every *Error through errors.Is.
var ErrInvalid = errors.New("validation failed")

// Error collects per-field validation failures.
type Error struct {
	Fields map[string]string `json:"fields"`
}

// Add records a failure for field. The first message recorded for a field wins.
func (e *Error) Add(field, message string) {
	if e.Fields == nil {
		e.Fields = make(map[string]string)
	}
	if _, exists := e.Fields[field]; exists {
		return
	}
	e.Fields[field] = message
}

// Err returns nil when no field failed.
func (e *Error) Err() error {
	if e == nil || len(e.Fields) == 0 {
		return nil
	}
	return e
}

func (e *Error) Error() string {
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s: %s", name, e.Fields[name]))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *Error) Is(target error) bool {
	return target == ErrInvalid
}
