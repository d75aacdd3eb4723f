// Package errs provides small error-aggregation helpers shared by the
// device and runner packages.
package errs

import (
	"bytes"
	"fmt"
)

// Multi collects zero or more errors that occurred while processing a batch
// of independent items (e.g. the setup actions of one device, or the devices
// of one spawned generation). It satisfies the error interface so it can be returned directly
// once populated.
type Multi struct {
	// For names the operation the errors occurred during. Optional, used
	// only for the aggregate error message.
	For string

	// Errors is the collection of errors added to the aggregate.
	Errors []error
}

// NewMulti creates a new, empty Multi for the named operation.
func NewMulti(forOp string) *Multi {
	return &Multi{For: forOp}
}

// Add appends an error to the aggregate. Nil errors are ignored.
func (m *Multi) Add(err error) {
	if err == nil {
		return
	}
	m.Errors = append(m.Errors, err)
}

// HasErrors reports whether any errors have been added.
func (m *Multi) HasErrors() bool {
	return len(m.Errors) != 0
}

// Err returns m if it holds any errors, otherwise nil. This lets callers
// write `return agg.Err()` without an extra HasErrors check.
func (m *Multi) Err() error {
	if m.HasErrors() {
		return m
	}
	return nil
}

// Error implements the error interface.
func (m *Multi) Error() string {
	if len(m.Errors) == 0 {
		return ""
	}

	src := m.For
	if src == "" {
		src = "unspecified"
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%d error(s) for: %s\n", len(m.Errors), src)
	for _, e := range m.Errors {
		fmt.Fprintf(&buf, "  - %s\n", e.Error())
	}
	return buf.String()
}

// Unwrap allows errors.Is/As to traverse into the first aggregated error,
// which is typically the most relevant one for a caller doing a single
// error-type check against a batch result.
func (m *Multi) Unwrap() error {
	if len(m.Errors) == 0 {
		return nil
	}
	return m.Errors[0]
}
