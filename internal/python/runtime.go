package python

import (
	"github.com/MatthewMckee4/karva/internal/domain"
	"github.com/MatthewMckee4/karva/internal/model"
)

// runtime adapts the interpreter to the domain Runtime interface.
type runtime struct {
	*Interpreter
}

// NewRuntime builds a domain Runtime backed by an embedded interpreter.
// It is the RuntimeFactory wired in by the CLI.
func NewRuntime(root model.Path) (domain.Runtime, error) {
	interp, err := NewInterpreter(root)
	if err != nil {
		return nil, err
	}

	return &runtime{Interpreter: interp}, nil
}

// ImportModule implements domain.Runtime.
func (r *runtime) ImportModule(path model.Path) (domain.RuntimeModule, error) {
	mod, err := r.Interpreter.ImportModule(path)
	if err != nil {
		return nil, err
	}

	return mod, nil
}
