package fakepy

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/livebook-dev/pythonx/capi"
)

// The statement language is line oriented: one simple statement per line or
// semicolon-separated, either "name = expression" or a bare expression.
// Compound statements are out of scope for the fake.

type stmtNode struct {
	assign bool
	target string
	expr   *exprNode
	lineno int
}

type exprKind int

const (
	exLit exprKind = iota
	exName
	exBin
	exNeg
	exCall
	exTuple
	exList
	exDict
	exSet
)

type exprNode struct {
	kind       exprKind
	lit        any // *big.Int, float64, string, []byte, bool, nil
	name       string
	op         byte
	left       *exprNode
	right      *exprNode
	operand    *exprNode
	fn         *exprNode
	args       []*exprNode
	items      []*exprNode
	keys, vals []*exprNode
	lineno     int
}

type syntaxError struct {
	msg    string
	lineno int
}

func (e *syntaxError) Error() string {
	return fmt.Sprintf("invalid syntax (line %d): %s", e.lineno, e.msg)
}

func parseSource(src string) ([]*stmtNode, error) {
	var stmts []*stmtNode
	for i, line := range strings.Split(src, "\n") {
		lineno := i + 1
		for _, piece := range strings.Split(line, ";") {
			trimmed := strings.TrimSpace(piece)
			if trimmed == "" || strings.HasPrefix(trimmed, "#") {
				continue
			}
			stmt, err := parseStatement(trimmed, lineno)
			if err != nil {
				return nil, err
			}
			stmts = append(stmts, stmt)
		}
	}
	return stmts, nil
}

func parseStatement(line string, lineno int) (*stmtNode, error) {
	p := &parser{src: line, lineno: lineno}
	p.next()

	// assignment: NAME = expression, where = is not ==
	if p.tok.kind == tokName {
		save := *p
		name := p.tok.text
		p.next()
		if p.tok.kind == tokOp && p.tok.text == "=" {
			p.next()
			expr, err := p.parseExprList()
			if err != nil {
				return nil, err
			}
			if p.tok.kind != tokEOF {
				return nil, p.errorf("unexpected %q after expression", p.tok.text)
			}
			return &stmtNode{assign: true, target: name, expr: expr, lineno: lineno}, nil
		}
		*p = save
	}

	expr, err := p.parseExprList()
	if err != nil {
		return nil, err
	}
	if p.tok.kind != tokEOF {
		return nil, p.errorf("unexpected %q after expression", p.tok.text)
	}
	return &stmtNode{expr: expr, lineno: lineno}, nil
}

type tokKind int

const (
	tokEOF tokKind = iota
	tokName
	tokInt
	tokFloat
	tokStr
	tokBytes
	tokOp
)

type token struct {
	kind tokKind
	text string
	i    *big.Int
	f    float64
}

type parser struct {
	src    string
	pos    int
	tok    token
	lineno int
}

func (p *parser) errorf(format string, args ...any) error {
	return &syntaxError{msg: fmt.Sprintf(format, args...), lineno: p.lineno}
}

func (p *parser) next() {
	for p.pos < len(p.src) && (p.src[p.pos] == ' ' || p.src[p.pos] == '\t') {
		p.pos++
	}
	if p.pos >= len(p.src) || p.src[p.pos] == '#' {
		p.tok = token{kind: tokEOF}
		return
	}

	c := p.src[p.pos]
	switch {
	case isNameStart(c):
		start := p.pos
		for p.pos < len(p.src) && isNameChar(p.src[p.pos]) {
			p.pos++
		}
		text := p.src[start:p.pos]
		// bytes literal prefix
		if text == "b" && p.pos < len(p.src) && (p.src[p.pos] == '\'' || p.src[p.pos] == '"') {
			s, ok := p.scanString()
			if !ok {
				p.tok = token{kind: tokOp, text: "?"}
				return
			}
			p.tok = token{kind: tokBytes, text: s}
			return
		}
		p.tok = token{kind: tokName, text: text}
	case c >= '0' && c <= '9':
		start := p.pos
		isFloat := false
		for p.pos < len(p.src) {
			ch := p.src[p.pos]
			if ch >= '0' && ch <= '9' || ch == '_' {
				p.pos++
				continue
			}
			if ch == '.' || ch == 'e' || ch == 'E' {
				isFloat = true
				p.pos++
				if ch != '.' && p.pos < len(p.src) && (p.src[p.pos] == '+' || p.src[p.pos] == '-') {
					p.pos++
				}
				continue
			}
			break
		}
		text := strings.ReplaceAll(p.src[start:p.pos], "_", "")
		if isFloat {
			var f float64
			fmt.Sscanf(text, "%g", &f)
			p.tok = token{kind: tokFloat, text: text, f: f}
			return
		}
		i, _ := new(big.Int).SetString(text, 10)
		p.tok = token{kind: tokInt, text: text, i: i}
	case c == '\'' || c == '"':
		s, ok := p.scanString()
		if !ok {
			p.tok = token{kind: tokOp, text: "?"}
			return
		}
		p.tok = token{kind: tokStr, text: s}
	default:
		// two-character operators are rejected later; == never reaches the
		// assignment check because = is consumed one character at a time
		p.pos++
		p.tok = token{kind: tokOp, text: string(c)}
	}
}

func (p *parser) scanString() (string, bool) {
	quote := p.src[p.pos]
	p.pos++
	var b strings.Builder
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		if c == quote {
			p.pos++
			return b.String(), true
		}
		if c == '\\' && p.pos+1 < len(p.src) {
			p.pos++
			switch p.src[p.pos] {
			case 'n':
				b.WriteByte('\n')
			case 't':
				b.WriteByte('\t')
			case '\\':
				b.WriteByte('\\')
			case '\'':
				b.WriteByte('\'')
			case '"':
				b.WriteByte('"')
			default:
				b.WriteByte(p.src[p.pos])
			}
			p.pos++
			continue
		}
		b.WriteByte(c)
		p.pos++
	}
	return "", false
}

func isNameStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isNameChar(c byte) bool {
	return isNameStart(c) || (c >= '0' && c <= '9')
}

// parseExprList parses comma-separated expressions; more than one forms a
// tuple.
func (p *parser) parseExprList() (*exprNode, error) {
	first, err := p.parseSum()
	if err != nil {
		return nil, err
	}
	if !(p.tok.kind == tokOp && p.tok.text == ",") {
		return first, nil
	}

	items := []*exprNode{first}
	for p.tok.kind == tokOp && p.tok.text == "," {
		p.next()
		if p.tok.kind == tokEOF {
			break // trailing comma
		}
		item, err := p.parseSum()
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return &exprNode{kind: exTuple, items: items, lineno: p.lineno}, nil
}

func (p *parser) parseSum() (*exprNode, error) {
	left, err := p.parseProduct()
	if err != nil {
		return nil, err
	}
	for p.tok.kind == tokOp && (p.tok.text == "+" || p.tok.text == "-") {
		op := p.tok.text[0]
		p.next()
		right, err := p.parseProduct()
		if err != nil {
			return nil, err
		}
		left = &exprNode{kind: exBin, op: op, left: left, right: right, lineno: p.lineno}
	}
	return left, nil
}

func (p *parser) parseProduct() (*exprNode, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.tok.kind == tokOp && (p.tok.text == "*" || p.tok.text == "/") {
		op := p.tok.text[0]
		p.next()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &exprNode{kind: exBin, op: op, left: left, right: right, lineno: p.lineno}
	}
	return left, nil
}

func (p *parser) parseUnary() (*exprNode, error) {
	if p.tok.kind == tokOp && p.tok.text == "-" {
		p.next()
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &exprNode{kind: exNeg, operand: operand, lineno: p.lineno}, nil
	}
	return p.parsePostfix()
}

func (p *parser) parsePostfix() (*exprNode, error) {
	atom, err := p.parseAtom()
	if err != nil {
		return nil, err
	}
	for p.tok.kind == tokOp && p.tok.text == "(" {
		p.next()
		var args []*exprNode
		for !(p.tok.kind == tokOp && p.tok.text == ")") {
			if p.tok.kind == tokEOF {
				return nil, p.errorf("unterminated call")
			}
			arg, err := p.parseSum()
			if err != nil {
				return nil, err
			}
			args = append(args, arg)
			if p.tok.kind == tokOp && p.tok.text == "," {
				p.next()
			}
		}
		p.next()
		atom = &exprNode{kind: exCall, fn: atom, args: args, lineno: p.lineno}
	}
	return atom, nil
}

func (p *parser) parseAtom() (*exprNode, error) {
	switch p.tok.kind {
	case tokInt:
		node := &exprNode{kind: exLit, lit: p.tok.i, lineno: p.lineno}
		p.next()
		return node, nil
	case tokFloat:
		node := &exprNode{kind: exLit, lit: p.tok.f, lineno: p.lineno}
		p.next()
		return node, nil
	case tokStr:
		node := &exprNode{kind: exLit, lit: p.tok.text, lineno: p.lineno}
		p.next()
		return node, nil
	case tokBytes:
		node := &exprNode{kind: exLit, lit: []byte(p.tok.text), lineno: p.lineno}
		p.next()
		return node, nil
	case tokName:
		var node *exprNode
		switch p.tok.text {
		case "True":
			node = &exprNode{kind: exLit, lit: true, lineno: p.lineno}
		case "False":
			node = &exprNode{kind: exLit, lit: false, lineno: p.lineno}
		case "None":
			node = &exprNode{kind: exLit, lit: nil, lineno: p.lineno}
		default:
			node = &exprNode{kind: exName, name: p.tok.text, lineno: p.lineno}
		}
		p.next()
		return node, nil
	case tokOp:
		switch p.tok.text {
		case "(":
			p.next()
			if p.tok.kind == tokOp && p.tok.text == ")" {
				p.next()
				return &exprNode{kind: exTuple, lineno: p.lineno}, nil
			}
			inner, err := p.parseExprList()
			if err != nil {
				return nil, err
			}
			if !(p.tok.kind == tokOp && p.tok.text == ")") {
				return nil, p.errorf("expected )")
			}
			p.next()
			return inner, nil
		case "[":
			p.next()
			var items []*exprNode
			for !(p.tok.kind == tokOp && p.tok.text == "]") {
				if p.tok.kind == tokEOF {
					return nil, p.errorf("unterminated list")
				}
				item, err := p.parseSum()
				if err != nil {
					return nil, err
				}
				items = append(items, item)
				if p.tok.kind == tokOp && p.tok.text == "," {
					p.next()
				}
			}
			p.next()
			return &exprNode{kind: exList, items: items, lineno: p.lineno}, nil
		case "{":
			return p.parseBraced()
		}
	}
	return nil, p.errorf("unexpected %q", p.tok.text)
}

// parseBraced handles dict and set displays. An empty display is a dict.
func (p *parser) parseBraced() (*exprNode, error) {
	p.next()
	if p.tok.kind == tokOp && p.tok.text == "}" {
		p.next()
		return &exprNode{kind: exDict, lineno: p.lineno}, nil
	}

	first, err := p.parseSum()
	if err != nil {
		return nil, err
	}

	if p.tok.kind == tokOp && p.tok.text == ":" {
		keys := []*exprNode{first}
		var vals []*exprNode
		for {
			if !(p.tok.kind == tokOp && p.tok.text == ":") {
				return nil, p.errorf("expected : in dict display")
			}
			p.next()
			val, err := p.parseSum()
			if err != nil {
				return nil, err
			}
			vals = append(vals, val)

			if p.tok.kind == tokOp && p.tok.text == "," {
				p.next()
				key, err := p.parseSum()
				if err != nil {
					return nil, err
				}
				keys = append(keys, key)
				continue
			}
			break
		}
		if !(p.tok.kind == tokOp && p.tok.text == "}") {
			return nil, p.errorf("expected }")
		}
		p.next()
		return &exprNode{kind: exDict, keys: keys, vals: vals, lineno: p.lineno}, nil
	}

	items := []*exprNode{first}
	for p.tok.kind == tokOp && p.tok.text == "," {
		p.next()
		item, err := p.parseSum()
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if !(p.tok.kind == tokOp && p.tok.text == "}") {
		return nil, p.errorf("expected }")
	}
	p.next()
	return &exprNode{kind: exSet, items: items, lineno: p.lineno}, nil
}

// builtinParse is ast.parse: it turns source text into the node objects the
// bridge manipulates through the object protocol.
func builtinParse(in *Interp, _ *evalCtx, args []capi.ObjRef) (capi.ObjRef, *raised) {
	if len(args) < 1 {
		return 0, raise("TypeError", "parse() missing source argument")
	}
	source, ok := in.UnicodeAsString(args[0])
	if !ok {
		return 0, raise("TypeError", "source must be str")
	}

	stmts, err := parseSource(source)
	if err != nil {
		return 0, raise("SyntaxError", err.Error())
	}

	items := make([]capi.ObjRef, 0, len(stmts))
	for _, s := range stmts {
		items = append(items, in.newStmtObject(s))
	}
	body := in.alloc(&object{kind: kindList, items: items})

	moduleClass := in.typeRefs["Module"]
	in.incref(moduleClass)
	return in.alloc(&object{
		kind:  kindInstance,
		class: moduleClass,
		attrs: map[string]capi.ObjRef{"body": body},
	}), nil
}

// newStmtObject wraps a parsed statement in a node object carrying position
// attributes and, for expression statements, a value node.
func (in *Interp) newStmtObject(s *stmtNode) capi.ObjRef {
	className := "Expr"
	if s.assign {
		className = "Assign"
	}
	class := in.typeRefs[className]
	in.incref(class)

	attrs := map[string]capi.ObjRef{
		"lineno":         in.newInt64(int64(s.lineno)),
		"col_offset":     in.newInt64(0),
		"end_lineno":     in.newInt64(int64(s.lineno)),
		"end_col_offset": in.newInt64(0),
	}
	if !s.assign {
		attrs["value"] = in.alloc(&object{kind: kindInstance, node: s.expr})
	}

	return in.alloc(&object{kind: kindInstance, class: class, attrs: attrs, node: s})
}

// builtinCompile is the compile builtin for syntax tree objects.
func builtinCompile(in *Interp, _ *evalCtx, args []capi.ObjRef) (capi.ObjRef, *raised) {
	if len(args) != 3 {
		return 0, raise("TypeError", "compile() takes exactly three arguments")
	}
	mode, ok := in.UnicodeAsString(args[2])
	if !ok {
		return 0, raise("TypeError", "mode must be str")
	}

	node := in.get(args[0])
	if node == nil || node.kind != kindInstance {
		return 0, raise("TypeError", "compile() expects a syntax tree")
	}

	in.compileCount.Add(1)

	switch mode {
	case "exec":
		bodyRef := node.attrs["body"]
		body := in.get(bodyRef)
		if body == nil || body.kind != kindList {
			return 0, raise("TypeError", "tree has no statement list")
		}
		var stmts []*stmtNode
		for _, item := range body.items {
			stmtObj := in.get(item)
			if stmtObj == nil {
				continue
			}
			if s, isStmt := stmtObj.node.(*stmtNode); isStmt {
				stmts = append(stmts, s)
			}
		}
		return in.alloc(&object{kind: kindCode, code: &codeObject{stmts: stmts}}), nil
	case "eval":
		expr, isExpr := node.node.(*exprNode)
		if !isExpr {
			return 0, raise("TypeError", "tree is not an expression")
		}
		return in.alloc(&object{kind: kindCode, code: &codeObject{expr: expr}}), nil
	default:
		return 0, raise("ValueError", "compile() mode must be 'exec' or 'eval'")
	}
}
