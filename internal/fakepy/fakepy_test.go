package fakepy

import (
	"testing"
)

func newInitialized(t *testing.T) *Interp {
	t.Helper()
	in := New()
	in.InitializeEx(false)
	in.EvalSaveThread()
	return in
}

func TestParseStatements(t *testing.T) {
	stmts, err := parseSource("x = 1\ny = x + 2; y  # trailing\n")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(stmts) != 3 {
		t.Fatalf("expected 3 statements, got %d", len(stmts))
	}
	if !stmts[0].assign || stmts[0].target != "x" {
		t.Errorf("statement 0: expected assignment to x, got %+v", stmts[0])
	}
	if !stmts[1].assign || stmts[1].target != "y" {
		t.Errorf("statement 1: expected assignment to y, got %+v", stmts[1])
	}
	if stmts[2].assign {
		t.Errorf("statement 2: expected bare expression, got %+v", stmts[2])
	}
}

func TestParseRejectsBadSyntax(t *testing.T) {
	for _, src := range []string{"x = = 1", "1 +", "(1", "{1: }"} {
		if _, err := parseSource(src); err == nil {
			t.Errorf("%q: expected syntax error", src)
		}
	}
}

func TestTuplePackRefcounts(t *testing.T) {
	in := newInitialized(t)

	item := in.LongFromInt64(7)
	if got := in.Refcount(item); got != 1 {
		t.Fatalf("fresh object refcount: %d", got)
	}

	tup := in.TuplePack(item)
	if got := in.Refcount(item); got != 2 {
		t.Errorf("packed item refcount: %d", got)
	}

	in.DecRef(item)
	in.DecRef(tup)
	if got := in.Refcount(item); got != -1 {
		t.Errorf("item must die with the tuple, refcount %d", got)
	}
}

func TestTupleSetItemSteals(t *testing.T) {
	in := newInitialized(t)

	tup := in.TupleNew(1)
	item := in.LongFromInt64(3)
	if in.TupleSetItem(tup, 0, item) != 0 {
		t.Fatal("set item failed")
	}
	if got := in.Refcount(item); got != 1 {
		t.Errorf("stolen reference must not bump the count, got %d", got)
	}

	in.DecRef(tup)
	if got := in.Refcount(item); got != -1 {
		t.Errorf("item must die with the tuple, refcount %d", got)
	}
}

func TestDictReplaceRetiresOldValue(t *testing.T) {
	in := newInitialized(t)

	d := in.DictNew()
	first := in.LongFromInt64(1)
	second := in.LongFromInt64(2)

	in.DictSetItemString(d, "k", first)
	in.DecRef(first)
	in.DictSetItemString(d, "k", second)
	in.DecRef(second)

	if got := in.Refcount(first); got != -1 {
		t.Errorf("replaced value must be retired, refcount %d", got)
	}
	if got := in.DictSize(d); got != 1 {
		t.Errorf("expected one entry, got %d", got)
	}

	ref := in.DictGetItemString(d, "k")
	v, overflow := in.LongAsInt64AndOverflow(ref)
	if v != 2 || overflow != 0 {
		t.Errorf("expected 2, got %d (overflow %d)", v, overflow)
	}
	in.DecRef(d)
}

func TestIterExhaustsWithoutError(t *testing.T) {
	in := newInitialized(t)

	list := in.ListNew(0)
	item := in.LongFromInt64(5)
	in.ListAppend(list, item)
	in.DecRef(item)

	iter := in.GetIter(list)
	if iter == 0 {
		t.Fatal("iterator expected")
	}

	first := in.IterNext(iter)
	if first == 0 {
		t.Fatal("expected one element")
	}
	in.DecRef(first)

	if next := in.IterNext(iter); next != 0 {
		t.Errorf("expected exhaustion, got ref %d", next)
	}
	if in.ErrOccurred() != 0 {
		t.Error("exhaustion must not raise")
	}

	in.DecRef(iter)
	in.DecRef(list)
}

func TestPendingException(t *testing.T) {
	in := newInitialized(t)

	if ref := in.ImportModule("missing"); ref != 0 {
		t.Fatal("import of missing module must fail")
	}
	if in.ErrOccurred() == 0 {
		t.Fatal("expected pending exception")
	}

	typ, value, tb := in.ErrFetch()
	if in.typeName(typ) != "ModuleNotFoundError" {
		t.Errorf("expected ModuleNotFoundError, got %q", in.typeName(typ))
	}
	if tb != 0 {
		t.Errorf("fake never produces traceback objects, got %d", tb)
	}
	if in.ErrOccurred() != 0 {
		t.Error("fetch must clear the indicator")
	}

	in.DecRef(typ)
	in.DecRef(value)
}

func TestRenderValues(t *testing.T) {
	in := newInitialized(t)

	f := in.FloatFromFloat64(2)
	if got := in.reprValue(f); got != "2.0" {
		t.Errorf("integral float renders with trailing .0, got %q", got)
	}
	in.DecRef(f)

	s := in.UnicodeFromString("hi")
	if got := in.reprValue(s); got != "'hi'" {
		t.Errorf("repr of str quotes, got %q", got)
	}
	if got := in.strValue(s); got != "hi" {
		t.Errorf("str of str does not quote, got %q", got)
	}
	in.DecRef(s)
}
