package fakepy

import (
	"fmt"
	"math/big"

	"github.com/livebook-dev/pythonx/capi"
)

// evalCtx is one execution's context: the globals dict the code runs
// against. Builtins resolve through the shared builtins dict.
type evalCtx struct {
	globals capi.ObjRef
}

func (in *Interp) execStmts(ctx *evalCtx, stmts []*stmtNode) *raised {
	for _, s := range stmts {
		val, err := in.evalExpr(ctx, s.expr)
		if err != nil {
			return err
		}
		if s.assign {
			if in.DictSetItemString(ctx.globals, s.target, val) != 0 {
				in.decref(val)
				return raise("RuntimeError", "assignment failed")
			}
		}
		in.decref(val)
	}
	return nil
}

// evalExpr returns an owned reference to the expression's value.
func (in *Interp) evalExpr(ctx *evalCtx, e *exprNode) (capi.ObjRef, *raised) {
	switch e.kind {
	case exLit:
		return in.evalLiteral(e)
	case exName:
		return in.lookupName(ctx, e.name)
	case exBin:
		return in.evalBinary(ctx, e)
	case exNeg:
		return in.evalNeg(ctx, e)
	case exCall:
		return in.evalCall(ctx, e)
	case exTuple:
		items, err := in.evalItems(ctx, e.items)
		if err != nil {
			return 0, err
		}
		return in.alloc(&object{kind: kindTuple, items: items}), nil
	case exList:
		items, err := in.evalItems(ctx, e.items)
		if err != nil {
			return 0, err
		}
		return in.alloc(&object{kind: kindList, items: items}), nil
	case exSet:
		return in.evalSetDisplay(ctx, e)
	case exDict:
		return in.evalDictDisplay(ctx, e)
	}
	return 0, raise("RuntimeError", "unsupported expression")
}

func (in *Interp) evalLiteral(e *exprNode) (capi.ObjRef, *raised) {
	switch v := e.lit.(type) {
	case nil:
		return in.NoneNew(), nil
	case bool:
		if v {
			return in.BoolFromInt(1), nil
		}
		return in.BoolFromInt(0), nil
	case *big.Int:
		return in.alloc(&object{kind: kindInt, i: new(big.Int).Set(v)}), nil
	case float64:
		return in.FloatFromFloat64(v), nil
	case string:
		return in.newStr(v), nil
	case []byte:
		return in.BytesFromSlice(v), nil
	}
	return 0, raise("RuntimeError", "unsupported literal")
}

func (in *Interp) lookupName(ctx *evalCtx, name string) (capi.ObjRef, *raised) {
	if ref := in.DictGetItemString(ctx.globals, name); ref != 0 {
		in.incref(ref)
		return ref, nil
	}
	if ref := in.DictGetItemString(in.builtins, name); ref != 0 {
		in.incref(ref)
		return ref, nil
	}
	return 0, raise("NameError", fmt.Sprintf("name '%s' is not defined", name))
}

func (in *Interp) evalItems(ctx *evalCtx, exprs []*exprNode) ([]capi.ObjRef, *raised) {
	items := make([]capi.ObjRef, 0, len(exprs))
	for _, e := range exprs {
		v, err := in.evalExpr(ctx, e)
		if err != nil {
			for _, done := range items {
				in.decref(done)
			}
			return nil, err
		}
		items = append(items, v)
	}
	return items, nil
}

func (in *Interp) evalSetDisplay(ctx *evalCtx, e *exprNode) (capi.ObjRef, *raised) {
	set := in.SetNew()
	for _, itemExpr := range e.items {
		v, err := in.evalExpr(ctx, itemExpr)
		if err != nil {
			in.decref(set)
			return 0, err
		}
		in.SetAdd(set, v)
		in.decref(v)
	}
	return set, nil
}

func (in *Interp) evalDictDisplay(ctx *evalCtx, e *exprNode) (capi.ObjRef, *raised) {
	dict := in.DictNew()
	for i, keyExpr := range e.keys {
		key, err := in.evalExpr(ctx, keyExpr)
		if err != nil {
			in.decref(dict)
			return 0, err
		}
		val, err := in.evalExpr(ctx, e.vals[i])
		if err != nil {
			in.decref(key)
			in.decref(dict)
			return 0, err
		}
		in.DictSetItem(dict, key, val)
		in.decref(key)
		in.decref(val)
	}
	return dict, nil
}

func (in *Interp) evalCall(ctx *evalCtx, e *exprNode) (capi.ObjRef, *raised) {
	fn, err := in.evalExpr(ctx, e.fn)
	if err != nil {
		return 0, err
	}
	defer in.decref(fn)

	args, err := in.evalItems(ctx, e.args)
	if err != nil {
		return 0, err
	}
	defer func() {
		for _, a := range args {
			in.decref(a)
		}
	}()

	out := in.callRef(ctx, fn, args)
	if out == 0 {
		if p := in.takePending(); p != nil {
			return 0, p
		}
		return 0, raise("RuntimeError", "call failed")
	}
	return out, nil
}

func (in *Interp) evalNeg(ctx *evalCtx, e *exprNode) (capi.ObjRef, *raised) {
	v, err := in.evalExpr(ctx, e.operand)
	if err != nil {
		return 0, err
	}
	defer in.decref(v)

	o := in.get(v)
	switch {
	case o != nil && o.kind == kindInt:
		return in.alloc(&object{kind: kindInt, i: new(big.Int).Neg(o.i)}), nil
	case o != nil && o.kind == kindFloat:
		return in.FloatFromFloat64(-o.f), nil
	}
	return 0, raise("TypeError", "bad operand type for unary -")
}

func (in *Interp) evalBinary(ctx *evalCtx, e *exprNode) (capi.ObjRef, *raised) {
	left, err := in.evalExpr(ctx, e.left)
	if err != nil {
		return 0, err
	}
	defer in.decref(left)

	right, err := in.evalExpr(ctx, e.right)
	if err != nil {
		return 0, err
	}
	defer in.decref(right)

	lo := in.get(left)
	ro := in.get(right)
	if lo == nil || ro == nil {
		return 0, raise("RuntimeError", "operand is gone")
	}

	// str + str concatenates
	if e.op == '+' && lo.kind == kindStr && ro.kind == kindStr {
		return in.newStr(lo.s + ro.s), nil
	}

	// int op int stays exact except for division
	if lo.kind == kindInt && ro.kind == kindInt && e.op != '/' {
		out := new(big.Int)
		switch e.op {
		case '+':
			out.Add(lo.i, ro.i)
		case '-':
			out.Sub(lo.i, ro.i)
		case '*':
			out.Mul(lo.i, ro.i)
		}
		return in.alloc(&object{kind: kindInt, i: out}), nil
	}

	lf, lok := numericValue(lo)
	rf, rok := numericValue(ro)
	if !lok || !rok {
		return 0, raise("TypeError", fmt.Sprintf(
			"unsupported operand type(s) for %c: '%s' and '%s'",
			e.op, in.typeNameOfObj(lo), in.typeNameOfObj(ro)))
	}

	switch e.op {
	case '+':
		return in.FloatFromFloat64(lf + rf), nil
	case '-':
		return in.FloatFromFloat64(lf - rf), nil
	case '*':
		return in.FloatFromFloat64(lf * rf), nil
	case '/':
		if rf == 0 {
			return 0, raise("ZeroDivisionError", "division by zero")
		}
		return in.FloatFromFloat64(lf / rf), nil
	}
	return 0, raise("RuntimeError", "unsupported operator")
}

func numericValue(o *object) (float64, bool) {
	switch o.kind {
	case kindInt:
		f, _ := new(big.Float).SetInt(o.i).Float64()
		return f, true
	case kindFloat:
		return o.f, true
	case kindBool:
		if o.b {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}
