package python

import (
	"bytes"
	"fmt"

	"github.com/go-python/gpython/py"

	"github.com/MatthewMckee4/karva/internal/model"
)

// ClassifyException translates a python error from the bridge into the
// executor's taxonomy: skip requests, explicit failures, assertion
// failures, and everything else.
func (i *Interpreter) ClassifyException(err error) *model.PyError {
	if err == nil {
		return nil
	}

	var exc *py.Exception

	switch e := err.(type) {
	case *py.Exception:
		exc = e
	case *py.ExceptionInfo:
		exc, _ = e.Value.(*py.Exception)
	case py.ExceptionInfo:
		exc, _ = e.Value.(*py.Exception)
	}

	if exc == nil {
		return &model.PyError{
			Kind:     model.PyErrOther,
			TypeName: fmt.Sprintf("%T", err),
			Message:  err.Error(),
		}
	}

	typeName := exc.Type().Name
	message := exceptionMessage(exc)

	out := &model.PyError{
		Kind:      model.PyErrOther,
		TypeName:  typeName,
		Message:   message,
		Traceback: renderTraceback(err),
	}

	switch typeName {
	case "SkipError":
		out.Kind = model.PyErrSkip
	case "FailError":
		out.Kind = model.PyErrFail
	case "AssertionError":
		out.Kind = model.PyErrAssertion
	}

	return out
}

// exceptionMessage renders the exception arguments the way python's
// default excepthook does.
func exceptionMessage(exc *py.Exception) string {
	args, ok := exc.Args.(py.Tuple)
	if !ok || len(args) == 0 {
		return ""
	}

	if len(args) == 1 {
		if s, ok := args[0].(py.String); ok {
			return string(s)
		}
		return ReprString(args[0])
	}

	return ReprString(args)
}

// renderTraceback formats the python traceback carried by the error, if
// any.
func renderTraceback(err error) string {
	var buf bytes.Buffer

	switch e := err.(type) {
	case py.ExceptionInfo:
		e.TracebackDump(&buf)
	case *py.ExceptionInfo:
		e.TracebackDump(&buf)
	default:
		py.TracebackDump(err)
	}

	return buf.String()
}

// ReprString returns the python repr of an object, falling back to the
// type name when repr itself fails.
func ReprString(obj py.Object) string {
	r, err := py.Repr(obj)
	if err != nil {
		return fmt.Sprintf("<%s>", obj.Type().Name)
	}
	if s, ok := r.(py.String); ok {
		return string(s)
	}
	return fmt.Sprintf("<%s>", obj.Type().Name)
}
