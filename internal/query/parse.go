package query

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Guizzs26/go-datasync/internal/query/ast"
)

// System fields every record carries, with their static kinds.
var systemFields = map[string]ast.Kind{
	"id":        ast.KindString,
	"updatedAt": ast.KindDateTimeOffset,
	"version":   ast.KindString,
	"deleted":   ast.KindBool,
}

// ParseQuery decodes a raw query string into a Description. Unknown $ options
// are rejected; unknown __ options are ignored.
func ParseQuery(raw string) (*Description, error) {
	values, err := url.ParseQuery(raw)
	if err != nil {
		return nil, &SyntaxError{Param: "query", Offset: -1, Msg: err.Error()}
	}
	d := &Description{}
	for key, vals := range values {
		v := vals[0]
		switch key {
		case ParamFilter:
			if d.Filter, err = ParseFilter(v); err != nil {
				return nil, err
			}
		case ParamOrderBy:
			if d.Ordering, err = ParseOrderBy(v); err != nil {
				return nil, err
			}
		case ParamSelect:
			d.Selection = ParseSelect(v)
		case ParamSkip:
			if d.Skip, err = parseNonNegative(key, v); err != nil {
				return nil, err
			}
		case ParamTop:
			if d.Top, err = parseNonNegative(key, v); err != nil {
				return nil, err
			}
		case ParamCount:
			if d.RequestTotalCount, err = parseFlag(key, v); err != nil {
				return nil, err
			}
		case ParamIncludeDeleted:
			if d.IncludeDeleted, err = parseFlag(key, v); err != nil {
				return nil, err
			}
		case ParamCursor:
			d.Cursor = v
		default:
			if strings.HasPrefix(key, "$") {
				return nil, &SyntaxError{Param: key, Offset: -1, Msg: "unknown query option"}
			}
			if strings.HasPrefix(key, "__") {
				continue
			}
			if d.Parameters == nil {
				d.Parameters = make(map[string]string)
			}
			d.Parameters[key] = v
		}
	}
	return d, nil
}

func parseNonNegative(key, v string) (int, error) {
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, &SyntaxError{Param: key, Offset: -1, Msg: fmt.Sprintf("%q is not a non-negative integer", v)}
	}
	return n, nil
}

func parseFlag(key, v string) (bool, error) {
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, &SyntaxError{Param: key, Offset: -1, Msg: fmt.Sprintf("%q is not a boolean", v)}
	}
	return b, nil
}

// ParseOrderBy parses "a,b desc" into ordering keys.
func ParseOrderBy(s string) ([]Ordering, error) {
	var out []Ordering
	for _, part := range strings.Split(s, ",") {
		fields := strings.Fields(part)
		if len(fields) == 0 || len(fields) > 2 {
			return nil, &SyntaxError{Param: ParamOrderBy, Offset: -1, Msg: fmt.Sprintf("invalid key %q", part)}
		}
		dir := Ascending
		if len(fields) == 2 {
			switch strings.ToLower(fields[1]) {
			case "asc":
			case "desc":
				dir = Descending
			default:
				return nil, &SyntaxError{Param: ParamOrderBy, Offset: -1, Msg: fmt.Sprintf("invalid direction %q", fields[1])}
			}
		}
		m, ok := memberFromPath(fields[0])
		if !ok {
			return nil, &SyntaxError{Param: ParamOrderBy, Offset: -1, Msg: fmt.Sprintf("invalid member %q", fields[0])}
		}
		out = append(out, Ordering{Key: m, Direction: dir})
	}
	return out, nil
}

// ParseSelect splits a $select list.
func ParseSelect(s string) []string {
	var out []string
	for _, f := range strings.Split(s, ",") {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}

func memberFromPath(p string) (*ast.MemberAccess, bool) {
	var m *ast.MemberAccess
	for _, seg := range strings.Split(p, "/") {
		if !isIdent(seg) {
			return nil, false
		}
		if m == nil {
			m = ast.Field(seg, systemFields[seg])
			continue
		}
		m = ast.Member(m, seg, ast.KindUnknown)
	}
	return m, m != nil
}

func isIdent(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !(isLetter(c) || c == '_' || (i > 0 && isDigit(c))) {
			return false
		}
	}
	return true
}

func isLetter(c byte) bool { return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' }
func isDigit(c byte) bool  { return c >= '0' && c <= '9' }

// ParseFilter parses a $filter expression into a wire tree.
func ParseFilter(s string) (ast.Node, error) {
	p := &parser{src: s}
	n, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	if p.pos < len(p.src) {
		return nil, p.errorf("unexpected %q", p.src[p.pos:])
	}
	return n, nil
}

type parser struct {
	src string
	pos int
}

func (p *parser) errorf(format string, args ...any) error {
	return &SyntaxError{Param: ParamFilter, Offset: p.pos, Msg: fmt.Sprintf(format, args...)}
}

func (p *parser) skipSpace() {
	for p.pos < len(p.src) && (p.src[p.pos] == ' ' || p.src[p.pos] == '\t') {
		p.pos++
	}
}

func (p *parser) peek() byte {
	p.skipSpace()
	if p.pos < len(p.src) {
		return p.src[p.pos]
	}
	return 0
}

func (p *parser) expect(c byte) error {
	if p.peek() != c {
		return p.errorf("expected %q", c)
	}
	p.pos++
	return nil
}

// peekWord returns the identifier at the cursor without consuming it.
func (p *parser) peekWord() string {
	p.skipSpace()
	end := p.pos
	for end < len(p.src) && (isLetter(p.src[end]) || p.src[end] == '_' || (end > p.pos && isDigit(p.src[end]))) {
		end++
	}
	return p.src[p.pos:end]
}

// acceptKeyword consumes kw when it stands alone as a word.
func (p *parser) acceptKeyword(kw string) bool {
	if p.peekWord() != kw {
		return false
	}
	p.pos += len(kw)
	return true
}

func (p *parser) parseOr() (ast.Node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.acceptKeyword("or") {
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = ast.Or(left, right)
	}
	return left, nil
}

func (p *parser) parseAnd() (ast.Node, error) {
	left, err := p.parseComparison()
	if err != nil {
		return nil, err
	}
	for p.acceptKeyword("and") {
		right, err := p.parseComparison()
		if err != nil {
			return nil, err
		}
		left = ast.And(left, right)
	}
	return left, nil
}

func (p *parser) parseComparison() (ast.Node, error) {
	left, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	w := p.peekWord()
	if w == "in" {
		p.pos += 2
		list, err := p.parseList()
		if err != nil {
			return nil, err
		}
		return ast.Binary(ast.OpIn, left, list), nil
	}
	if op, ok := ast.OpFromKeyword(w); ok && op.IsComparison() {
		p.pos += len(w)
		right, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		return ast.Binary(op, left, right), nil
	}
	return left, nil
}

func (p *parser) parseAdditive() (ast.Node, error) {
	left, err := p.parseMultiplicative()
	if err != nil {
		return nil, err
	}
	for {
		w := p.peekWord()
		if w != "add" && w != "sub" {
			return left, nil
		}
		p.pos += len(w)
		right, err := p.parseMultiplicative()
		if err != nil {
			return nil, err
		}
		op, _ := ast.OpFromKeyword(w)
		left = ast.Binary(op, left, right)
	}
}

func (p *parser) parseMultiplicative() (ast.Node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		w := p.peekWord()
		if w != "mul" && w != "div" && w != "mod" {
			return left, nil
		}
		p.pos += len(w)
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		op, _ := ast.OpFromKeyword(w)
		left = ast.Binary(op, left, right)
	}
}

func (p *parser) parseUnary() (ast.Node, error) {
	if p.peek() == '-' {
		p.pos++
		if p.pos < len(p.src) && isDigit(p.src[p.pos]) {
			p.pos--
			return p.parseNumber()
		}
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return ast.Negate(operand), nil
	}
	if p.acceptKeyword("not") {
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return ast.Not(operand), nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (ast.Node, error) {
	c := p.peek()
	switch {
	case c == 0:
		return nil, p.errorf("unexpected end of expression")
	case c == '(':
		p.pos++
		n, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if err := p.expect(')'); err != nil {
			return nil, err
		}
		return n, nil
	case c == '\'':
		s, err := p.parseString()
		if err != nil {
			return nil, err
		}
		return ast.Const(s), nil
	case isDigit(c):
		return p.parseNumber()
	case isLetter(c) || c == '_':
		return p.parseIdentifier()
	}
	return nil, p.errorf("unexpected %q", c)
}

func (p *parser) parseString() (string, error) {
	start := p.pos
	p.pos++ // opening quote
	var sb strings.Builder
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		p.pos++
		if c != '\'' {
			sb.WriteByte(c)
			continue
		}
		if p.pos < len(p.src) && p.src[p.pos] == '\'' {
			sb.WriteByte('\'')
			p.pos++
			continue
		}
		return sb.String(), nil
	}
	p.pos = start
	return "", p.errorf("unterminated string")
}

func (p *parser) parseNumber() (ast.Node, error) {
	p.skipSpace()
	start := p.pos
	if p.src[p.pos] == '-' {
		p.pos++
	}
	isFloat := false
scan:
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		switch {
		case isDigit(c):
		case c == '.':
			isFloat = true
		case c == 'e' || c == 'E':
			isFloat = true
			if p.pos+1 < len(p.src) && (p.src[p.pos+1] == '+' || p.src[p.pos+1] == '-') {
				p.pos++
			}
		default:
			break scan
		}
		p.pos++
	}
	lit := p.src[start:p.pos]
	suffix := byte(0)
	if p.pos < len(p.src) && strings.IndexByte("MmDdFfLl", p.src[p.pos]) >= 0 {
		suffix = p.src[p.pos] | 0x20
		p.pos++
	}
	switch {
	case suffix == 'm':
		d, err := decimal.NewFromString(lit)
		if err != nil {
			return nil, p.errorf("invalid decimal %q", lit)
		}
		return ast.TypedConst(d, ast.KindDecimal), nil
	case isFloat || suffix == 'd' || suffix == 'f':
		f, err := strconv.ParseFloat(lit, 64)
		if err != nil {
			return nil, p.errorf("invalid number %q", lit)
		}
		return ast.TypedConst(f, ast.KindFloat), nil
	}
	i, err := strconv.ParseInt(lit, 10, 64)
	if err != nil {
		return nil, p.errorf("invalid integer %q", lit)
	}
	return ast.TypedConst(i, ast.KindInt), nil
}

func (p *parser) parseIdentifier() (ast.Node, error) {
	start := p.pos
	name := p.peekWord()
	p.pos += len(name)
	switch name {
	case "null":
		return ast.Null(), nil
	case "true":
		return ast.Const(true), nil
	case "false":
		return ast.Const(false), nil
	}
	if p.pos < len(p.src) && p.src[p.pos] == '(' {
		p.pos++
		if name == "cast" {
			return p.parseCast()
		}
		args, err := p.parseArgs()
		if err != nil {
			return nil, err
		}
		if !IsWireFunction(name, len(args)) {
			p.pos = start
			return nil, p.errorf("unknown function %s with %d arguments", name, len(args))
		}
		return wireCall(name, args...), nil
	}
	// Member path.
	for p.pos < len(p.src) && p.src[p.pos] == '/' {
		p.pos++
		seg := p.peekWord()
		if seg == "" {
			return nil, p.errorf("empty path segment")
		}
		p.pos += len(seg)
	}
	m, ok := memberFromPath(p.src[start:p.pos])
	if !ok {
		p.pos = start
		return nil, p.errorf("invalid member")
	}
	return m, nil
}

func (p *parser) parseArgs() ([]ast.Node, error) {
	var args []ast.Node
	if p.peek() == ')' {
		p.pos++
		return args, nil
	}
	for {
		a, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		args = append(args, a)
		switch p.peek() {
		case ',':
			p.pos++
		case ')':
			p.pos++
			return args, nil
		default:
			return nil, p.errorf("expected ',' or ')'")
		}
	}
}

func (p *parser) parseList() (*ast.Constant, error) {
	if err := p.expect('('); err != nil {
		return nil, err
	}
	var items []any
	for {
		n, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		c, ok := n.(*ast.Constant)
		if !ok {
			return nil, p.errorf("list elements must be literals")
		}
		items = append(items, c.Value)
		switch p.peek() {
		case ',':
			p.pos++
		case ')':
			p.pos++
			return ast.List(items...), nil
		default:
			return nil, p.errorf("expected ',' or ')'")
		}
	}
}

// parseCast handles cast(<literal-or-expr>,Edm.Type). Typed literals are
// folded into constants.
func (p *parser) parseCast() (ast.Node, error) {
	start := p.pos
	depth, inString := 0, false
	comma := -1
	for i := p.pos; i < len(p.src) && comma < 0; i++ {
		switch c := p.src[i]; {
		case c == '\'':
			inString = !inString
		case inString:
		case c == '(':
			depth++
		case c == ')':
			depth--
		case c == ',' && depth == 0:
			comma = i
		}
	}
	if comma < 0 {
		return nil, p.errorf("cast requires a type argument")
	}
	raw := strings.TrimSpace(p.src[start:comma])
	p.pos = comma + 1
	p.skipSpace()
	tstart := p.pos
	for p.pos < len(p.src) && (isLetter(p.src[p.pos]) || isDigit(p.src[p.pos]) || p.src[p.pos] == '.') {
		p.pos++
	}
	typeName := p.src[tstart:p.pos]
	target, ok := ast.KindFromEdm(typeName)
	if !ok {
		p.pos = tstart
		return nil, p.errorf("unknown type %q", typeName)
	}
	if err := p.expect(')'); err != nil {
		return nil, err
	}
	if c, ok := typedLiteral(strings.Trim(raw, "'"), target); ok {
		return c, nil
	}
	sub := &parser{src: raw}
	src, err := sub.parseOr()
	if err == nil && sub.peek() != 0 {
		err = sub.errorf("unexpected %q", raw[sub.pos:])
	}
	if err != nil {
		var se *SyntaxError
		if errors.As(err, &se) {
			se.Offset += start
		}
		return nil, err
	}
	return &ast.Convert{Source: src, Target: target}, nil
}

func typedLiteral(raw string, kind ast.Kind) (*ast.Constant, bool) {
	switch kind {
	case ast.KindDateTimeOffset:
		if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			return ast.TypedConst(t.UTC(), kind), true
		}
	case ast.KindDate:
		if d, err := ast.ParseDate(raw); err == nil {
			return ast.TypedConst(d, kind), true
		}
	case ast.KindTime:
		if t, err := ast.ParseTimeOfDay(raw); err == nil {
			return ast.TypedConst(t, kind), true
		}
	case ast.KindGUID:
		if u, err := uuid.Parse(raw); err == nil {
			return ast.TypedConst(u, kind), true
		}
	}
	return nil, false
}
