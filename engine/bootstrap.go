package engine

// The bootstrap runs once inside the interpreter, right after
// initialization. It reroutes sys.stdout and sys.stderr through the host and
// registers the "pythonx" guest module with the PID marker class and
// send_tagged_object.
//
// The _pythonx_host built-in module is provided by the artifact's shim
// layer; its functions forward to the pyx_handle_* imports in the
// pythonx_host namespace. The __pythonx_eval_info_bytes__ global holds the
// call context token the evaluator plants in each execution's globals; the
// stack walk below recovers it from the outermost frame that carries one, so
// output from functions defined in one evaluation and called from another is
// attributed to the caller.
const bootstrapSource = `
import sys
import types

import _pythonx_host


def __pythonx_find_token__():
    token = None
    frame = sys._getframe()
    while frame is not None:
        value = frame.f_globals.get("__pythonx_eval_info_bytes__")
        if value is not None:
            token = value
        frame = frame.f_back
    return token if token is not None else b""


class __PythonxOutput__:
    def __init__(self, stream):
        self._stream = stream

    def write(self, text):
        text = str(text)
        _pythonx_host.io_write(text, __pythonx_find_token__(), self._stream)
        return len(text)

    def flush(self):
        pass

    def isatty(self):
        return False

    @property
    def encoding(self):
        return "utf-8"


sys.stdout = __PythonxOutput__(0)
sys.stderr = __PythonxOutput__(1)


class PID:
    def __init__(self, data):
        self.data = data

    def __repr__(self):
        return "#PID<>"

    def __eq__(self, other):
        return isinstance(other, PID) and self.data == other.data

    def __hash__(self):
        return hash(self.data)


def send_tagged_object(pid, tag, obj):
    if not isinstance(pid, PID):
        raise TypeError("pid must be a pythonx.PID")
    _pythonx_host.send(pid.data, str(tag), obj, __pythonx_find_token__())


__pythonx_module__ = types.ModuleType("pythonx")
__pythonx_module__.PID = PID
__pythonx_module__.send_tagged_object = send_tagged_object
sys.modules["pythonx"] = __pythonx_module__
`
