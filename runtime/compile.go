package runtime

import (
	"sync"

	"go.uber.org/zap"

	"github.com/livebook-dev/pythonx"
	"github.com/livebook-dev/pythonx/capi"
	"github.com/livebook-dev/pythonx/errors"
)

const sourceFilename = "<pythonx>"

// compiledCode is one cached compilation: the module body in exec mode and,
// when the source ends in an expression statement, that expression alone in
// eval mode.
type compiledCode struct {
	body capi.ObjRef
	last capi.ObjRef
}

// codeCache stores compilations keyed by source digest. The cache mutex is
// taken before the global lock and never the other way around.
type codeCache struct {
	mu      sync.Mutex
	entries map[string]compiledCode
}

func newCodeCache() *codeCache {
	return &codeCache{entries: make(map[string]compiledCode)}
}

// lookup returns a cached compilation, compiling on miss. Called on a
// scheduler thread without the global lock; compilation takes it
// internally.
func (r *Runtime) lookupCompiled(tid capi.ThreadID, source string) (compiledCode, error) {
	key := pythonx.ContentHash([]byte(source))

	r.cache.mu.Lock()
	defer r.cache.mu.Unlock()

	if code, ok := r.cache.entries[key]; ok {
		return code, nil
	}

	guard := r.gil.lock(tid)
	defer guard.unlock()

	code, err := r.compile(source)
	if err != nil {
		return compiledCode{}, err
	}
	r.cache.entries[key] = code
	r.logger.Debug("compiled source", zap.String("digest", key), zap.Int("bytes", len(source)))
	return code, nil
}

// compile parses source into a syntax tree, splits off a trailing expression
// statement, and compiles body and expression separately. Lock held.
//
// The split mirrors interactive sessions: "x = 1\nx + 1" binds x and yields
// 2, while "x = 1" yields no value. Position attributes are copied onto the
// expression wrapper so tracebacks point at the original line.
func (r *Runtime) compile(source string) (compiledCode, error) {
	sourceRef := r.api.UnicodeFromString(source)
	if sourceRef == 0 {
		return compiledCode{}, r.fetchPyErr(errors.PhaseCompile)
	}
	defer r.api.DecRef(sourceRef)

	filenameRef := r.api.UnicodeFromString(sourceFilename)
	if filenameRef == 0 {
		return compiledCode{}, r.fetchPyErr(errors.PhaseCompile)
	}
	defer r.api.DecRef(filenameRef)

	execRef := r.api.UnicodeFromString("exec")
	if execRef == 0 {
		return compiledCode{}, r.fetchPyErr(errors.PhaseCompile)
	}
	defer r.api.DecRef(execRef)

	tree, err := r.parseSource(sourceRef, filenameRef, execRef)
	if err != nil {
		return compiledCode{}, err
	}
	defer r.api.DecRef(tree)

	lastCode, err := r.splitTrailingExpression(tree, filenameRef)
	if err != nil {
		return compiledCode{}, err
	}

	bodyArgs := r.api.TuplePack(tree, filenameRef, execRef)
	if bodyArgs == 0 {
		r.api.DecRef(lastCode)
		return compiledCode{}, r.fetchPyErr(errors.PhaseCompile)
	}
	defer r.api.DecRef(bodyArgs)

	bodyCode := r.api.Call(r.types.compileFn, bodyArgs, 0)
	if bodyCode == 0 {
		r.api.DecRef(lastCode)
		return compiledCode{}, r.fetchPyErr(errors.PhaseCompile)
	}

	return compiledCode{body: bodyCode, last: lastCode}, nil
}

// parseSource runs ast.parse(source, filename, "exec").
func (r *Runtime) parseSource(sourceRef, filenameRef, execRef capi.ObjRef) (capi.ObjRef, error) {
	args := r.api.TuplePack(sourceRef, filenameRef, execRef)
	if args == 0 {
		return 0, r.fetchPyErr(errors.PhaseCompile)
	}
	defer r.api.DecRef(args)

	tree := r.api.Call(r.types.parseFn, args, 0)
	if tree == 0 {
		return 0, r.fetchPyErr(errors.PhaseCompile)
	}
	return tree, nil
}

// splitTrailingExpression pops a trailing ast.Expr statement off the tree
// body and compiles it in eval mode. Returns 0 when the source does not end
// in an expression statement.
func (r *Runtime) splitTrailingExpression(tree, filenameRef capi.ObjRef) (capi.ObjRef, error) {
	body := r.api.GetAttrString(tree, "body")
	if body == 0 {
		return 0, r.fetchPyErr(errors.PhaseCompile)
	}
	defer r.api.DecRef(body)

	n := r.api.ListSize(body)
	if n == 0 {
		return 0, nil
	}

	lastStmt := r.api.ListGetItem(body, n-1)
	if lastStmt == 0 {
		return 0, r.fetchPyErr(errors.PhaseCompile)
	}
	if !r.isInstance(lastStmt, r.types.exprStmtClass) {
		return 0, nil
	}

	popFn := r.api.GetAttrString(body, "pop")
	if popFn == 0 {
		return 0, r.fetchPyErr(errors.PhaseCompile)
	}
	defer r.api.DecRef(popFn)

	popped := r.api.CallNoArgs(popFn)
	if popped == 0 {
		return 0, r.fetchPyErr(errors.PhaseCompile)
	}
	defer r.api.DecRef(popped)

	value := r.api.GetAttrString(popped, "value")
	if value == 0 {
		return 0, r.fetchPyErr(errors.PhaseCompile)
	}
	defer r.api.DecRef(value)

	exprArgs := r.api.TuplePack(value)
	if exprArgs == 0 {
		return 0, r.fetchPyErr(errors.PhaseCompile)
	}
	defer r.api.DecRef(exprArgs)

	exprNode := r.api.Call(r.types.expressionClass, exprArgs, 0)
	if exprNode == 0 {
		return 0, r.fetchPyErr(errors.PhaseCompile)
	}
	defer r.api.DecRef(exprNode)

	r.copyPosition(popped, exprNode)

	evalRef := r.api.UnicodeFromString("eval")
	if evalRef == 0 {
		return 0, r.fetchPyErr(errors.PhaseCompile)
	}
	defer r.api.DecRef(evalRef)

	compileArgs := r.api.TuplePack(exprNode, filenameRef, evalRef)
	if compileArgs == 0 {
		return 0, r.fetchPyErr(errors.PhaseCompile)
	}
	defer r.api.DecRef(compileArgs)

	code := r.api.Call(r.types.compileFn, compileArgs, 0)
	if code == 0 {
		return 0, r.fetchPyErr(errors.PhaseCompile)
	}
	return code, nil
}

// copyPosition carries the statement's position attributes onto the
// expression wrapper. Missing attributes are skipped.
func (r *Runtime) copyPosition(from, to capi.ObjRef) {
	for _, attr := range []string{"lineno", "col_offset", "end_lineno", "end_col_offset"} {
		v := r.api.GetAttrString(from, attr)
		if v == 0 {
			r.clearPending()
			continue
		}
		if r.api.SetAttrString(to, attr, v) != 0 {
			r.clearPending()
		}
		r.api.DecRef(v)
	}
}

// drain empties the cache and hands the code references to the caller for
// retirement. Takes only the cache mutex, keeping the mutex-before-lock
// order intact; the caller decrefs the snapshot under the global lock.
func (c *codeCache) drain() []capi.ObjRef {
	c.mu.Lock()
	defer c.mu.Unlock()

	refs := make([]capi.ObjRef, 0, 2*len(c.entries))
	for key, code := range c.entries {
		if code.body != 0 {
			refs = append(refs, code.body)
		}
		if code.last != 0 {
			refs = append(refs, code.last)
		}
		delete(c.entries, key)
	}
	return refs
}
