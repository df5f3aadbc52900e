package domain

import (
	"fmt"

	"github.com/MatthewMckee4/karva/internal/model"
)

// fakeCallable stands in for a python callable in engine tests.
type fakeCallable func(args []any, kwargs map[string]any) (any, error)

// fakeGenerator models a yield-form fixture: one value, then teardown.
type fakeGenerator struct {
	value    any
	teardown func() error
	resumed  int
}

type fakeModule struct {
	path  model.Path
	attrs map[string]any
}

func (m *fakeModule) Path() model.Path { return m.path }

func (m *fakeModule) Attr(name string) (any, error) {
	v, ok := m.attrs[name]
	if !ok {
		return nil, fmt.Errorf("module %s has no attribute %q", m.path, name)
	}
	return v, nil
}

func (m *fakeModule) Global(name string) (any, bool) {
	v, ok := m.attrs[name]
	return v, ok
}

// fakeRuntime implements Runtime over plain Go values.
type fakeRuntime struct {
	modules    map[model.Path]*fakeModule
	importErrs map[model.Path]error
	captured   string
	tempDirs   int
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{
		modules:    map[model.Path]*fakeModule{},
		importErrs: map[model.Path]error{},
	}
}

func (r *fakeRuntime) module(path model.Path) *fakeModule {
	mod, ok := r.modules[path]
	if !ok {
		mod = &fakeModule{path: path, attrs: map[string]any{}}
		r.modules[path] = mod
	}
	return mod
}

func (r *fakeRuntime) ImportModule(path model.Path) (RuntimeModule, error) {
	if err := r.importErrs[path]; err != nil {
		return nil, err
	}
	return r.module(path), nil
}

func (r *fakeRuntime) Call(fn any, args []any, kwargs map[string]any) (any, error) {
	callable, ok := fn.(fakeCallable)
	if !ok {
		return nil, fmt.Errorf("not callable: %T", fn)
	}
	return callable(args, kwargs)
}

func (r *fakeRuntime) IsGenerator(v any) bool {
	_, ok := v.(*fakeGenerator)
	return ok
}

func (r *fakeRuntime) ResumeGenerator(gen any) (any, bool, error) {
	g, ok := gen.(*fakeGenerator)
	if !ok {
		return nil, false, fmt.Errorf("not a generator: %T", gen)
	}

	g.resumed++

	if g.resumed == 1 {
		return g.value, false, nil
	}

	if g.teardown != nil {
		if err := g.teardown(); err != nil {
			return nil, false, err
		}
	}

	return nil, true, nil
}

func (r *fakeRuntime) FinalizeGenerator(gen any) error {
	_, done, err := r.ResumeGenerator(gen)
	if err != nil {
		return err
	}
	if !done {
		return fmt.Errorf("fixture generator yielded more than once")
	}
	return nil
}

func (r *fakeRuntime) Truthy(v any) (bool, error) {
	switch x := v.(type) {
	case nil:
		return false, nil
	case bool:
		return x, nil
	case int:
		return x != 0, nil
	case string:
		return x != "", nil
	default:
		return true, nil
	}
}

func (r *fakeRuntime) Repr(v any) string { return fmt.Sprintf("%v", v) }

func (r *fakeRuntime) AsString(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

func (r *fakeRuntime) MaterializeValue(mod any, v model.PyValue) (any, error) {
	if v.Literal {
		return v.Obj, nil
	}

	if v.Name != "" {
		m, ok := mod.(*fakeModule)
		if !ok || m == nil {
			return nil, fmt.Errorf("cannot resolve name %q", v.Name)
		}
		value, ok := m.Global(v.Name)
		if !ok {
			return nil, fmt.Errorf("name %q is not defined", v.Name)
		}
		return value, nil
	}

	return nil, fmt.Errorf("value %q requires runtime import", v.Repr)
}

func (r *fakeRuntime) NewRequest(param any, nodeName string) (any, error) {
	return map[string]any{"param": param, "node": nodeName}, nil
}

func (r *fakeRuntime) CaptureOutput(fn func() error) (string, error) {
	return r.captured, fn()
}

func (r *fakeRuntime) BuiltinFixture(name string) (any, func() error, bool, error) {
	switch name {
	case "tmp_path", "tmpdir", "temp_path", "temp_dir":
		r.tempDirs++
		return fmt.Sprintf("/tmp/fake-%d", r.tempDirs), func() error { return nil }, true, nil
	case "monkeypatch":
		return map[string]any{}, func() error { return nil }, true, nil
	default:
		return nil, nil, false, nil
	}
}

func (r *fakeRuntime) ClassifyException(err error) *model.PyError {
	if err == nil {
		return nil
	}

	var pyErr *model.PyError
	if ok := asPyError(err, &pyErr); ok {
		return pyErr
	}

	return &model.PyError{Kind: model.PyErrOther, TypeName: "RuntimeError", Message: err.Error()}
}

func asPyError(err error, target **model.PyError) bool {
	if pe, ok := err.(*model.PyError); ok {
		*target = pe
		return true
	}
	return false
}

// Test helpers for building python-like errors.

func skipError(reason string) error {
	return &model.PyError{Kind: model.PyErrSkip, TypeName: "SkipError", Message: reason}
}

func failError(reason string) error {
	return &model.PyError{Kind: model.PyErrFail, TypeName: "FailError", Message: reason}
}

func assertionError(message string) error {
	return &model.PyError{
		Kind:      model.PyErrAssertion,
		TypeName:  "AssertionError",
		Message:   message,
		Traceback: "Traceback (most recent call last):\n  ...",
	}
}
