package model

// PyValue is a python value captured during collection. Literal decorator
// arguments carry their backing object and a stable repr; bare names are
// recorded for late binding against module globals; anything else is
// opaque and only usable when runtime import is enabled.
type PyValue struct {
	// Repr is the python repr of the value. It is the display form and
	// the structural-equality key for parameter tuples.
	Repr string

	// Name is set when the value is a bare name reference to be resolved
	// from the defining module's globals at execution time.
	Name string

	// Obj is the backing object: a py.Object when extracted from source,
	// or a plain Go value in tests.
	Obj any

	// Literal reports whether the value was extracted literally from the
	// AST. Non-literal values need late binding.
	Literal bool
}

// LiteralValue wraps a plain Go value for tests and builtins.
func LiteralValue(repr string, obj any) PyValue {
	return PyValue{Repr: repr, Obj: obj, Literal: true}
}

// NameValue records a bare-name reference.
func NameValue(name string) PyValue {
	return PyValue{Repr: name, Name: name}
}

// OpaqueValue records an expression that could not be captured literally.
func OpaqueValue(repr string) PyValue {
	return PyValue{Repr: repr}
}

// Resolvable reports whether the value can be produced without importing
// the defining module.
func (v PyValue) Resolvable() bool { return v.Literal }

// ParamBinding binds one parametrize name to a concrete value.
type ParamBinding struct {
	Name  string
	Value PyValue
}
