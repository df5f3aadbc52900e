// Package python is the runtime bridge to the embedded gpython
// interpreter. It imports test modules, invokes callables, drives
// generator fixtures and translates exceptions into diagnostics.
//
// Everything gpython-facing lives in this package; the engine only sees
// opaque values behind the domain Runtime interface.
package python

import "github.com/go-python/gpython/py"

// karvaSrc is the python source of the karva module available to test
// files. Decorators are recognized structurally at collection time; at
// import time they only need to leave the decorated callable usable.
const karvaSrc = `
import sys


class SkipError(Exception):
    pass


class FailError(Exception):
    pass


def skip_test(reason=""):
    raise SkipError(reason)


def fail(reason=""):
    raise FailError(reason)


class Request:
    def __init__(self, param=None, node=None):
        self.param = param
        self.node = node


class MonkeyPatch:
    def __init__(self):
        self._undo = []

    def setattr(self, target, name, value):
        had = hasattr(target, name)
        old = getattr(target, name) if had else None
        self._undo.append((target, name, had, old))
        setattr(target, name, value)

    def delattr(self, target, name):
        old = getattr(target, name)
        self._undo.append((target, name, True, old))
        delattr(target, name)

    def setitem(self, mapping, key, value):
        had = key in mapping
        old = mapping[key] if had else None
        self._undo.append((mapping, key, had, old))
        mapping[key] = value

    def delitem(self, mapping, key):
        old = mapping[key]
        self._undo.append((mapping, key, True, old))
        del mapping[key]

    def undo(self):
        while self._undo:
            target, name, had, old = self._undo.pop()
            if isinstance(target, dict):
                if had:
                    target[name] = old
                elif name in target:
                    del target[name]
            else:
                if had:
                    setattr(target, name, old)
                elif hasattr(target, name):
                    delattr(target, name)


def fixture(func=None, scope=None, name=None, auto_use=False, params=None):
    if func is not None:
        return func

    def decorate(f):
        return f

    return decorate


def parametrize(arg_names=None, arg_values=None):
    def decorate(f):
        return f

    return decorate


def skip(*conditions, **kwargs):
    if len(conditions) == 1 and callable(conditions[0]):
        return conditions[0]

    def decorate(f):
        return f

    return decorate


def expect_fail(*conditions, **kwargs):
    if len(conditions) == 1 and callable(conditions[0]):
        return conditions[0]

    def decorate(f):
        return f

    return decorate


def use_fixtures(*names):
    def decorate(f):
        return f

    return decorate


class Param:
    def __init__(self, values, tags):
        self.values = values
        self.tags = tags


def param(*values, **kwargs):
    return Param(values, kwargs.get("tags"))


class _Sink:
    def __init__(self):
        self.parts = []

    def write(self, s):
        self.parts.append(s)
        return len(s)

    def flush(self):
        pass


_capture_stack = []


def _capture_begin():
    sink = _Sink()
    _capture_stack.append((sys.stdout, sys.stderr, sink))
    sys.stdout = sink
    sys.stderr = sink
    return sink


def _capture_end():
    out, err, sink = _capture_stack.pop()
    sys.stdout = out
    sys.stderr = err
    return "".join(sink.parts)
`

// pytestSrc provides the pytest-compatible surface on top of karva so
// existing pytest suites collect and run unchanged.
const pytestSrc = `
import karva

fixture = karva.fixture
param = karva.param
skip = karva.skip_test
fail = karva.fail


class _Mark:
    def parametrize(self, arg_names=None, arg_values=None):
        return karva.parametrize(arg_names, arg_values)

    def skip(self, *conditions, **kwargs):
        return karva.skip(*conditions)

    def skipif(self, *conditions, **kwargs):
        return karva.skip(*conditions)

    def xfail(self, *conditions, **kwargs):
        return karva.expect_fail(*conditions)


mark = _Mark()
`

func init() {
	py.RegisterModule(&py.ModuleImpl{
		Info:    py.ModuleInfo{Name: "karva", Doc: "karva test runner support module"},
		CodeSrc: karvaSrc,
	})
	py.RegisterModule(&py.ModuleImpl{
		Info:    py.ModuleInfo{Name: "pytest", Doc: "pytest compatibility shims"},
		CodeSrc: pytestSrc,
	})
}
