package python

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/go-python/gpython/py"
	_ "github.com/go-python/gpython/stdlib" // interpreter stdlib modules

	"github.com/MatthewMckee4/karva/internal/model"
)

// Interpreter owns one embedded python context. It is single-threaded
// cooperative: callers never run two python operations concurrently. The
// mutex guards only the imported-module cache.
type Interpreter struct {
	ctx  py.Context
	root model.Path

	mu      sync.Mutex
	modules map[model.Path]*Module
	karva   *py.Module
}

// Module wraps an imported python module.
type Module struct {
	path model.Path
	mod  *py.Module
}

// Path returns the file the module was imported from.
func (m *Module) Path() model.Path { return m.path }

// Attr returns a module-level attribute.
func (m *Module) Attr(name string) (any, error) {
	obj, ok := m.mod.Globals[name]
	if !ok {
		return nil, fmt.Errorf("module %s has no attribute %q", m.path, name)
	}
	return obj, nil
}

// Global looks up a module-level name without error reporting.
func (m *Module) Global(name string) (any, bool) {
	obj, ok := m.mod.Globals[name]
	return obj, ok
}

// NewInterpreter creates an interpreter context rooted at the project
// root, which is placed on the import path so test modules can import
// their own packages.
func NewInterpreter(root model.Path) (*Interpreter, error) {
	opts := py.DefaultContextOpts()
	opts.SysPaths = append([]string{string(root)}, opts.SysPaths...)

	ctx := py.NewContext(opts)

	i := &Interpreter{
		ctx:     ctx,
		root:    root,
		modules: map[model.Path]*Module{},
	}

	karva, err := i.importKarva()
	if err != nil {
		return nil, err
	}
	i.karva = karva

	return i, nil
}

// importKarva initializes the registered karva support module in this
// context so its helpers are callable from the bridge.
func (i *Interpreter) importKarva() (*py.Module, error) {
	if _, err := py.RunSrc(i.ctx, "import karva", "<karva-init>", nil); err != nil {
		slog.Error("failed to initialize karva support module", "error", err)
		return nil, fmt.Errorf("failed to initialize karva support module: %w", err)
	}

	mod, err := i.ctx.GetModule("karva")
	if err != nil {
		return nil, fmt.Errorf("karva support module missing after import: %w", err)
	}

	return mod, nil
}

// ImportModule imports a python file, caching by path. The module is
// executed at most once per interpreter.
func (i *Interpreter) ImportModule(path model.Path) (*Module, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if mod, ok := i.modules[path]; ok {
		return mod, nil
	}

	mod, err := py.RunFile(i.ctx, string(path), py.CompileOpts{CurDir: string(i.root)}, nil)
	if err != nil {
		slog.Error("failed to import module", "path", path, "error", err)
		return nil, fmt.Errorf("failed to import %s: %w", path, err)
	}

	wrapped := &Module{path: path, mod: mod}
	i.modules[path] = wrapped

	return wrapped, nil
}

// karvaAttr fetches a helper from the karva support module.
func (i *Interpreter) karvaAttr(name string) (py.Object, error) {
	obj, ok := i.karva.Globals[name]
	if !ok {
		return nil, fmt.Errorf("karva support module has no attribute %q", name)
	}
	return obj, nil
}

// Call invokes a python callable with positional and keyword arguments.
func (i *Interpreter) Call(fn any, args []any, kwargs map[string]any) (any, error) {
	callable, err := asObject(fn)
	if err != nil {
		return nil, err
	}

	tuple := make(py.Tuple, 0, len(args))
	for _, a := range args {
		obj, err := asObject(a)
		if err != nil {
			return nil, err
		}
		tuple = append(tuple, obj)
	}

	var kw py.StringDict
	if len(kwargs) > 0 {
		kw = py.NewStringDict()
		for name, v := range kwargs {
			obj, err := asObject(v)
			if err != nil {
				return nil, err
			}
			kw[name] = obj
		}
	}

	return py.Call(callable, tuple, kw)
}

// IsGenerator reports whether the value is a generator object.
func (i *Interpreter) IsGenerator(v any) bool {
	_, ok := v.(*py.Generator)
	return ok
}

// ResumeGenerator advances a generator one step. done is true when the
// generator is exhausted; value is only meaningful when done is false.
func (i *Interpreter) ResumeGenerator(gen any) (any, bool, error) {
	g, ok := gen.(*py.Generator)
	if !ok {
		return nil, false, fmt.Errorf("not a generator: %T", gen)
	}

	value, err := g.Send(py.None)
	if err != nil {
		if py.IsException(py.StopIteration, err) {
			return nil, true, nil
		}
		return nil, false, err
	}

	return value, false, nil
}

// FinalizeGenerator resumes a suspended generator fixture so its
// teardown code runs. A fixture that yields more than once is an error.
func (i *Interpreter) FinalizeGenerator(gen any) error {
	_, done, err := i.ResumeGenerator(gen)
	if err != nil {
		return err
	}
	if !done {
		return fmt.Errorf("fixture generator yielded more than once")
	}
	return nil
}

// Truthy evaluates python truthiness.
func (i *Interpreter) Truthy(v any) (bool, error) {
	obj, err := asObject(v)
	if err != nil {
		return false, err
	}

	b, err := py.MakeBool(obj)
	if err != nil {
		return false, err
	}

	return b == py.True, nil
}

// Repr renders a value's python repr, falling back to a Go rendering
// when repr itself raises.
func (i *Interpreter) Repr(v any) string {
	obj, err := asObject(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return ReprString(obj)
}

// AsString extracts a Go string from a python str value.
func (i *Interpreter) AsString(v any) (string, bool) {
	s, ok := v.(py.String)
	if !ok {
		return "", false
	}
	return string(s), true
}

// MaterializeValue turns a collected PyValue into a live python object:
// literals pass through, bare names resolve against the defining module's
// globals, anything else is a collection-stage failure.
func (i *Interpreter) MaterializeValue(mod any, v model.PyValue) (any, error) {
	if v.Literal {
		return asObject(v.Obj)
	}

	if v.Name != "" {
		m, ok := mod.(*Module)
		if !ok || m == nil {
			return nil, fmt.Errorf("cannot resolve name %q without an imported module", v.Name)
		}
		obj, ok := m.Global(v.Name)
		if !ok {
			return nil, fmt.Errorf("name %q is not defined in %s", v.Name, m.path)
		}
		return obj, nil
	}

	return nil, fmt.Errorf("value %q requires runtime import", v.Repr)
}

// NewRequest builds a karva Request object carrying the current
// parameter value, passed to fixtures that declare a request parameter.
func (i *Interpreter) NewRequest(param any, nodeName string) (any, error) {
	cls, err := i.karvaAttr("Request")
	if err != nil {
		return nil, err
	}

	paramObj := py.Object(py.None)
	if param != nil {
		obj, err := asObject(param)
		if err != nil {
			return nil, err
		}
		paramObj = obj
	}

	return py.Call(cls, py.Tuple{paramObj, py.String(nodeName)}, nil)
}

// CaptureOutput redirects the interpreter's standard streams for the
// duration of fn and returns whatever python code wrote.
func (i *Interpreter) CaptureOutput(fn func() error) (string, error) {
	begin, err := i.karvaAttr("_capture_begin")
	if err != nil {
		return "", err
	}
	end, err := i.karvaAttr("_capture_end")
	if err != nil {
		return "", err
	}

	if _, err := py.Call(begin, nil, nil); err != nil {
		return "", fmt.Errorf("failed to begin output capture: %w", err)
	}

	fnErr := fn()

	out, err := py.Call(end, nil, nil)
	if err != nil {
		slog.Error("failed to end output capture", "error", err)
		return "", fnErr
	}

	captured, _ := out.(py.String)

	return string(captured), fnErr
}

// BuiltinFixture materializes one of the runtime-provided fixtures.
// The boolean reports whether the name is a builtin at all.
func (i *Interpreter) BuiltinFixture(name string) (any, func() error, bool, error) {
	switch name {
	case "tmp_path", "tmpdir", "temp_path", "temp_dir":
		dir, err := os.MkdirTemp("", "karva-")
		if err != nil {
			return nil, nil, true, fmt.Errorf("failed to create temp dir: %w", err)
		}
		finalize := func() error {
			return os.RemoveAll(dir)
		}
		return py.String(filepath.Clean(dir)), finalize, true, nil

	case "monkeypatch":
		cls, err := i.karvaAttr("MonkeyPatch")
		if err != nil {
			return nil, nil, true, err
		}
		inst, err := py.Call(cls, nil, nil)
		if err != nil {
			return nil, nil, true, fmt.Errorf("failed to create monkeypatch: %w", err)
		}
		finalize := func() error {
			undo, err := py.GetAttrString(inst, "undo")
			if err != nil {
				return err
			}
			_, err = py.Call(undo, nil, nil)
			return err
		}
		return inst, finalize, true, nil

	default:
		return nil, nil, false, nil
	}
}

// asObject coerces bridge inputs to python objects. Plain Go values show
// up from builtins and tests.
func asObject(v any) (py.Object, error) {
	switch x := v.(type) {
	case nil:
		return py.None, nil
	case py.Object:
		return x, nil
	case bool:
		if x {
			return py.True, nil
		}
		return py.False, nil
	case int:
		return py.Int(x), nil
	case int64:
		return py.Int(x), nil
	case float64:
		return py.Float(x), nil
	case string:
		return py.String(x), nil
	default:
		return nil, fmt.Errorf("cannot convert %T to a python object", v)
	}
}
