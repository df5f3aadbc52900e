// Package domain implements the test engine: discovery, normalization,
// fixture resolution, execution and result aggregation.
package domain

import "github.com/MatthewMckee4/karva/internal/model"

// RuntimeModule is an imported python module.
type RuntimeModule interface {
	Path() model.Path
	Attr(name string) (any, error)
	Global(name string) (any, bool)
}

// Runtime is the engine's view of the python bridge. Values are opaque;
// tests substitute plain Go values behind a fake.
type Runtime interface {
	// ImportModule imports a python file, once per runtime.
	ImportModule(path model.Path) (RuntimeModule, error)

	// Call invokes a python callable.
	Call(fn any, args []any, kwargs map[string]any) (any, error)

	// IsGenerator reports whether a call result is a suspended generator.
	IsGenerator(v any) bool

	// ResumeGenerator advances a generator; done is true at exhaustion.
	ResumeGenerator(gen any) (value any, done bool, err error)

	// FinalizeGenerator resumes a yield-form fixture to run its teardown.
	FinalizeGenerator(gen any) error

	// Truthy evaluates python truthiness.
	Truthy(v any) (bool, error)

	// Repr renders a value's python repr.
	Repr(v any) string

	// AsString extracts a Go string from a python str.
	AsString(v any) (string, bool)

	// MaterializeValue turns a collected PyValue into a live object,
	// resolving bare names against the given module.
	MaterializeValue(mod any, v model.PyValue) (any, error)

	// NewRequest builds the request object handed to fixtures that
	// declare a request parameter.
	NewRequest(param any, nodeName string) (any, error)

	// CaptureOutput redirects the interpreter's streams around fn.
	CaptureOutput(fn func() error) (string, error)

	// BuiltinFixture materializes a runtime-provided fixture. The bool
	// reports whether the name is a builtin.
	BuiltinFixture(name string) (value any, finalizer func() error, ok bool, err error)

	// ClassifyException maps a bridge error onto the outcome taxonomy.
	ClassifyException(err error) *model.PyError
}

// RuntimeFactory defers interpreter construction until a process
// actually executes tests.
type RuntimeFactory func(root model.Path) (Runtime, error)
