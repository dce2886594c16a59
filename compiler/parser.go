package compiler

import (
	"strconv"
)

// ---------------------------------------------------------------------------
// Parser: Recursive descent over the token stream
// ---------------------------------------------------------------------------

// Parser builds an AST from a token stream.
type Parser struct {
	tokens []Token
	pos    int
}

// NewParser creates a parser over the given tokens. The slice must end
// with a TokenEOF (Tokenize guarantees this).
func NewParser(tokens []Token) *Parser {
	return &Parser{tokens: tokens}
}

// Parse tokenizes and parses a complete source file.
func Parse(source string) (*Module, *Error) {
	tokens, err := Tokenize(source)
	if err != nil {
		return nil, err
	}
	return NewParser(tokens).ParseModule()
}

// ParseModule parses the top-level statement sequence.
func (p *Parser) ParseModule() (*Module, *Error) {
	var body []Stmt
	start := p.cur().Span.Start

	p.skipNewlines()
	for p.cur().Type != TokenEOF {
		stmt, err := p.parseStatement()
		if err != nil {
			return nil, err
		}
		body = append(body, stmt)
		p.skipNewlines()
	}

	return &Module{
		SpanVal: Span{Start: start, End: p.cur().Span.End},
		Body:    body,
	}, nil
}

// ---------------------------------------------------------------------------
// Token stream helpers
// ---------------------------------------------------------------------------

func (p *Parser) cur() Token {
	if p.pos >= len(p.tokens) {
		return p.tokens[len(p.tokens)-1] // EOF
	}
	return p.tokens[p.pos]
}

func (p *Parser) peek() Token {
	if p.pos+1 >= len(p.tokens) {
		return p.tokens[len(p.tokens)-1]
	}
	return p.tokens[p.pos+1]
}

func (p *Parser) advance() Token {
	tok := p.cur()
	if p.pos < len(p.tokens)-1 {
		p.pos++
	}
	return tok
}

// expect consumes a token of the given type or fails.
func (p *Parser) expect(t TokenType) (Token, *Error) {
	tok := p.cur()
	if tok.Type != t {
		return tok, parseError(ErrUnexpectedToken, tok.Span,
			"expected %s, found %s", t, tok)
	}
	return p.advance(), nil
}

func (p *Parser) skipNewlines() {
	for p.cur().Type == TokenNewline {
		p.advance()
	}
}

// endOfStatement consumes the newline terminating a simple statement.
// EOF and Dedent also terminate a statement.
func (p *Parser) endOfStatement() *Error {
	switch p.cur().Type {
	case TokenNewline:
		p.advance()
		return nil
	case TokenEOF, TokenDedent:
		return nil
	}
	return parseError(ErrUnexpectedToken, p.cur().Span,
		"expected end of statement, found %s", p.cur())
}

// ---------------------------------------------------------------------------
// Statements
// ---------------------------------------------------------------------------

func (p *Parser) parseStatement() (Stmt, *Error) {
	switch p.cur().Type {
	case TokenFn:
		return p.parseFunctionDef(false)
	case TokenAsync:
		return p.parseAsyncDef()
	case TokenClass:
		return p.parseClassDef()
	case TokenIf:
		return p.parseIf()
	case TokenWhile:
		return p.parseWhile()
	case TokenFor:
		return p.parseFor()
	case TokenReturn:
		return p.parseReturn()
	case TokenBreak:
		tok := p.advance()
		return &Break{SpanVal: tok.Span}, p.endOfStatement()
	case TokenContinue:
		tok := p.advance()
		return &Continue{SpanVal: tok.Span}, p.endOfStatement()
	case TokenPass:
		tok := p.advance()
		return &Pass{SpanVal: tok.Span}, p.endOfStatement()
	case TokenPrint:
		return p.parsePrint()
	case TokenRaise:
		return p.parseRaise()
	case TokenTry:
		return p.parseTry()
	default:
		return p.parseSimpleStatement()
	}
}

// parseBlock parses ':' NEWLINE INDENT stmt+ DEDENT.
func (p *Parser) parseBlock() ([]Stmt, *Error) {
	if _, err := p.expect(TokenColon); err != nil {
		return nil, err
	}
	if _, err := p.expect(TokenNewline); err != nil {
		return nil, err
	}
	if p.cur().Type != TokenIndent {
		return nil, parseError(ErrEmptyBlock, p.cur().Span, "expected an indented block")
	}
	p.advance()

	var body []Stmt
	p.skipNewlines()
	for p.cur().Type != TokenDedent && p.cur().Type != TokenEOF {
		stmt, err := p.parseStatement()
		if err != nil {
			return nil, err
		}
		body = append(body, stmt)
		p.skipNewlines()
	}
	if p.cur().Type == TokenDedent {
		p.advance()
	}
	if len(body) == 0 {
		return nil, parseError(ErrEmptyBlock, p.cur().Span, "block has no statements")
	}
	return body, nil
}

func (p *Parser) parseFunctionDef(isAsync bool) (*FunctionDef, *Error) {
	start := p.advance().Span.Start // consume 'fn'

	nameTok, err := p.expect(TokenIdentifier)
	if err != nil {
		return nil, err
	}
	params, err := p.parseParams()
	if err != nil {
		return nil, err
	}
	body, err := p.parseBlock()
	if err != nil {
		return nil, err
	}

	return &FunctionDef{
		SpanVal: Span{Start: start, End: body[len(body)-1].Span().End},
		Name:    nameTok.Literal,
		Params:  params,
		Body:    body,
		IsAsync: isAsync,
	}, nil
}

func (p *Parser) parseAsyncDef() (Stmt, *Error) {
	start := p.advance().Span.Start // consume 'async'
	if p.cur().Type != TokenFn {
		return nil, parseError(ErrUnexpectedToken, p.cur().Span,
			"expected fn after async, found %s", p.cur())
	}
	fn, err := p.parseFunctionDef(true)
	if err != nil {
		return nil, err
	}
	fn.SpanVal.Start = start
	return fn, nil
}

func (p *Parser) parseParams() ([]string, *Error) {
	if _, err := p.expect(TokenLParen); err != nil {
		return nil, err
	}
	var params []string
	for p.cur().Type != TokenRParen {
		tok, err := p.expect(TokenIdentifier)
		if err != nil {
			return nil, err
		}
		params = append(params, tok.Literal)
		if p.cur().Type != TokenComma {
			break
		}
		p.advance()
	}
	if _, err := p.expect(TokenRParen); err != nil {
		return nil, err
	}
	return params, nil
}

// parseClassDef parses 'class NAME [( NAME )]:' followed by a body of
// method definitions. 'pass' is allowed as the sole body statement.
func (p *Parser) parseClassDef() (Stmt, *Error) {
	start := p.advance().Span.Start // consume 'class'

	nameTok, err := p.expect(TokenIdentifier)
	if err != nil {
		return nil, err
	}

	var base *Identifier
	if p.cur().Type == TokenLParen {
		p.advance()
		baseTok, err := p.expect(TokenIdentifier)
		if err != nil {
			return nil, err
		}
		base = &Identifier{SpanVal: baseTok.Span, Name: baseTok.Literal}
		if _, err := p.expect(TokenRParen); err != nil {
			return nil, err
		}
	}

	body, err := p.parseBlock()
	if err != nil {
		return nil, err
	}

	var methods []*FunctionDef
	for _, stmt := range body {
		switch s := stmt.(type) {
		case *FunctionDef:
			methods = append(methods, s)
		case *Pass:
			// empty class body
		default:
			return nil, parseError(ErrUnexpectedToken, stmt.Span(),
				"class body may only contain method definitions")
		}
	}

	return &ClassDef{
		SpanVal: Span{Start: start, End: body[len(body)-1].Span().End},
		Name:    nameTok.Literal,
		Base:    base,
		Methods: methods,
	}, nil
}

func (p *Parser) parseIf() (Stmt, *Error) {
	start := p.advance().Span.Start // consume 'if' or 'elif'

	cond, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	then, err := p.parseBlock()
	if err != nil {
		return nil, err
	}

	node := &If{
		SpanVal: Span{Start: start, End: then[len(then)-1].Span().End},
		Cond:    cond,
		Then:    then,
	}

	switch p.cur().Type {
	case TokenElif:
		// Desugar elif into a nested if in the else branch.
		elif, err := p.parseIf()
		if err != nil {
			return nil, err
		}
		node.Else = []Stmt{elif}
		node.SpanVal.End = elif.Span().End
	case TokenElse:
		p.advance()
		els, err := p.parseBlock()
		if err != nil {
			return nil, err
		}
		node.Else = els
		node.SpanVal.End = els[len(els)-1].Span().End
	}

	return node, nil
}

func (p *Parser) parseWhile() (Stmt, *Error) {
	start := p.advance().Span.Start

	cond, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	body, err := p.parseBlock()
	if err != nil {
		return nil, err
	}

	return &While{
		SpanVal: Span{Start: start, End: body[len(body)-1].Span().End},
		Cond:    cond,
		Body:    body,
	}, nil
}

func (p *Parser) parseFor() (Stmt, *Error) {
	start := p.advance().Span.Start

	varTok, err := p.expect(TokenIdentifier)
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(TokenIn); err != nil {
		return nil, err
	}
	iter, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	body, err := p.parseBlock()
	if err != nil {
		return nil, err
	}

	return &For{
		SpanVal: Span{Start: start, End: body[len(body)-1].Span().End},
		Var:     &Identifier{SpanVal: varTok.Span, Name: varTok.Literal},
		Iter:    iter,
		Body:    body,
	}, nil
}

func (p *Parser) parseReturn() (Stmt, *Error) {
	tok := p.advance()
	node := &Return{SpanVal: tok.Span}

	if p.cur().Type != TokenNewline && p.cur().Type != TokenEOF && p.cur().Type != TokenDedent {
		value, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		node.Value = value
		node.SpanVal.End = value.Span().End
	}
	return node, p.endOfStatement()
}

func (p *Parser) parsePrint() (Stmt, *Error) {
	tok := p.advance()
	value, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	node := &Print{
		SpanVal: Span{Start: tok.Span.Start, End: value.Span().End},
		Value:   value,
	}
	return node, p.endOfStatement()
}

func (p *Parser) parseRaise() (Stmt, *Error) {
	tok := p.advance()
	value, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	node := &Raise{
		SpanVal: Span{Start: tok.Span.Start, End: value.Span().End},
		Value:   value,
	}
	return node, p.endOfStatement()
}

// parseTry parses try/except/finally. At least one of the except and
// finally clauses must be present.
func (p *Parser) parseTry() (Stmt, *Error) {
	start := p.advance().Span.Start // consume 'try'

	body, err := p.parseBlock()
	if err != nil {
		return nil, err
	}

	node := &Try{
		SpanVal: Span{Start: start, End: body[len(body)-1].Span().End},
		Body:    body,
	}

	if p.cur().Type == TokenExcept {
		p.advance()
		if p.cur().Type == TokenIdentifier {
			node.ErrName = p.advance().Literal
		}
		except, err := p.parseBlock()
		if err != nil {
			return nil, err
		}
		node.Except = except
		node.SpanVal.End = except[len(except)-1].Span().End
	}

	if p.cur().Type == TokenFinally {
		p.advance()
		finally, err := p.parseBlock()
		if err != nil {
			return nil, err
		}
		node.Finally = finally
		node.SpanVal.End = finally[len(finally)-1].Span().End
	}

	if node.Except == nil && node.Finally == nil {
		return nil, parseError(ErrUnexpectedToken, p.cur().Span,
			"try statement requires an except or finally clause")
	}
	return node, nil
}

// parseSimpleStatement parses an expression statement or an assignment.
func (p *Parser) parseSimpleStatement() (Stmt, *Error) {
	expr, err := p.parseExpression()
	if err != nil {
		return nil, err
	}

	if p.cur().Type == TokenAssign {
		eq := p.advance()
		switch expr.(type) {
		case *Identifier, *Index, *Attribute:
		default:
			return nil, parseError(ErrInvalidAssignTarget, eq.Span,
				"cannot assign to this expression")
		}
		value, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		node := &Assign{
			SpanVal: Span{Start: expr.Span().Start, End: value.Span().End},
			Target:  expr,
			Value:   value,
		}
		return node, p.endOfStatement()
	}

	return &ExprStmt{SpanVal: expr.Span(), Expr: expr}, p.endOfStatement()
}

// ---------------------------------------------------------------------------
// Expressions
// ---------------------------------------------------------------------------

// Precedence, loosest first: or, and, not, comparison, additive,
// multiplicative, unary minus, power, postfix.

func (p *Parser) parseExpression() (Expr, *Error) {
	return p.parseOr()
}

func (p *Parser) parseOr() (Expr, *Error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.cur().Type == TokenOr {
		p.advance()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &BinaryOp{
			SpanVal: Span{Start: left.Span().Start, End: right.Span().End},
			Op:      TokenOr,
			Left:    left,
			Right:   right,
		}
	}
	return left, nil
}

func (p *Parser) parseAnd() (Expr, *Error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.cur().Type == TokenAnd {
		p.advance()
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = &BinaryOp{
			SpanVal: Span{Start: left.Span().Start, End: right.Span().End},
			Op:      TokenAnd,
			Left:    left,
			Right:   right,
		}
	}
	return left, nil
}

func (p *Parser) parseNot() (Expr, *Error) {
	if p.cur().Type == TokenNot {
		tok := p.advance()
		operand, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return &UnaryOp{
			SpanVal: Span{Start: tok.Span.Start, End: operand.Span().End},
			Op:      TokenNot,
			Operand: operand,
		}, nil
	}
	return p.parseComparison()
}

func (p *Parser) parseComparison() (Expr, *Error) {
	left, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	for {
		op := p.cur().Type
		switch op {
		case TokenEq, TokenNe, TokenLt, TokenLe, TokenGt, TokenGe:
		default:
			return left, nil
		}
		p.advance()
		right, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		left = &BinaryOp{
			SpanVal: Span{Start: left.Span().Start, End: right.Span().End},
			Op:      op,
			Left:    left,
			Right:   right,
		}
	}
}

func (p *Parser) parseAdditive() (Expr, *Error) {
	left, err := p.parseMultiplicative()
	if err != nil {
		return nil, err
	}
	for p.cur().Type == TokenPlus || p.cur().Type == TokenMinus {
		op := p.advance().Type
		right, err := p.parseMultiplicative()
		if err != nil {
			return nil, err
		}
		left = &BinaryOp{
			SpanVal: Span{Start: left.Span().Start, End: right.Span().End},
			Op:      op,
			Left:    left,
			Right:   right,
		}
	}
	return left, nil
}

func (p *Parser) parseMultiplicative() (Expr, *Error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.cur().Type == TokenStar || p.cur().Type == TokenSlash || p.cur().Type == TokenPercent {
		op := p.advance().Type
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &BinaryOp{
			SpanVal: Span{Start: left.Span().Start, End: right.Span().End},
			Op:      op,
			Left:    left,
			Right:   right,
		}
	}
	return left, nil
}

func (p *Parser) parseUnary() (Expr, *Error) {
	if p.cur().Type == TokenMinus {
		tok := p.advance()
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &UnaryOp{
			SpanVal: Span{Start: tok.Span.Start, End: operand.Span().End},
			Op:      TokenMinus,
			Operand: operand,
		}, nil
	}
	if p.cur().Type == TokenAwait {
		tok := p.advance()
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &Await{
			SpanVal: Span{Start: tok.Span.Start, End: operand.Span().End},
			Operand: operand,
		}, nil
	}
	return p.parsePower()
}

// parsePower parses '**', which is right-associative and binds tighter
// than unary minus on its left but looser on its right: -2 ** 2 is
// -(2 ** 2) and 2 ** -1 is 2 ** (-1).
func (p *Parser) parsePower() (Expr, *Error) {
	left, err := p.parsePostfix()
	if err != nil {
		return nil, err
	}
	if p.cur().Type == TokenStarStar {
		p.advance()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &BinaryOp{
			SpanVal: Span{Start: left.Span().Start, End: right.Span().End},
			Op:      TokenStarStar,
			Left:    left,
			Right:   right,
		}, nil
	}
	return left, nil
}

// parsePostfix parses calls, subscripts and attribute accesses.
func (p *Parser) parsePostfix() (Expr, *Error) {
	expr, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}

	for {
		switch p.cur().Type {
		case TokenLParen:
			p.advance()
			var args []Expr
			for p.cur().Type != TokenRParen {
				arg, err := p.parseExpression()
				if err != nil {
					return nil, err
				}
				args = append(args, arg)
				if p.cur().Type != TokenComma {
					break
				}
				p.advance()
			}
			closeTok, err := p.expect(TokenRParen)
			if err != nil {
				return nil, err
			}
			expr = &Call{
				SpanVal: Span{Start: expr.Span().Start, End: closeTok.Span.End},
				Callee:  expr,
				Args:    args,
			}

		case TokenLBracket:
			p.advance()
			key, err := p.parseExpression()
			if err != nil {
				return nil, err
			}
			closeTok, err := p.expect(TokenRBracket)
			if err != nil {
				return nil, err
			}
			expr = &Index{
				SpanVal: Span{Start: expr.Span().Start, End: closeTok.Span.End},
				Object:  expr,
				Key:     key,
			}

		case TokenDot:
			p.advance()
			nameTok, err := p.expect(TokenIdentifier)
			if err != nil {
				return nil, err
			}
			expr = &Attribute{
				SpanVal: Span{Start: expr.Span().Start, End: nameTok.Span.End},
				Object:  expr,
				Name:    nameTok.Literal,
			}

		default:
			return expr, nil
		}
	}
}

func (p *Parser) parsePrimary() (Expr, *Error) {
	tok := p.cur()

	switch tok.Type {
	case TokenNone:
		p.advance()
		return &NoneLiteral{SpanVal: tok.Span}, nil

	case TokenTrue:
		p.advance()
		return &BoolLiteral{SpanVal: tok.Span, Value: true}, nil

	case TokenFalse:
		p.advance()
		return &BoolLiteral{SpanVal: tok.Span, Value: false}, nil

	case TokenInt:
		p.advance()
		n, err := strconv.ParseInt(tok.Literal, 10, 64)
		if err != nil {
			// Too large for int64: fall back to a float literal, the
			// way Python promotes silently.
			f, ferr := strconv.ParseFloat(tok.Literal, 64)
			if ferr != nil {
				return nil, parseError(ErrUnexpectedToken, tok.Span,
					"invalid integer literal %q", tok.Literal)
			}
			return &FloatLiteral{SpanVal: tok.Span, Value: f}, nil
		}
		return &IntLiteral{SpanVal: tok.Span, Value: n}, nil

	case TokenFloat:
		p.advance()
		f, err := strconv.ParseFloat(tok.Literal, 64)
		if err != nil {
			return nil, parseError(ErrUnexpectedToken, tok.Span,
				"invalid float literal %q", tok.Literal)
		}
		return &FloatLiteral{SpanVal: tok.Span, Value: f}, nil

	case TokenString:
		p.advance()
		return &StringLiteral{SpanVal: tok.Span, Value: tok.Literal}, nil

	case TokenIdentifier:
		p.advance()
		return &Identifier{SpanVal: tok.Span, Name: tok.Literal}, nil

	case TokenLParen:
		p.advance()
		expr, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(TokenRParen); err != nil {
			return nil, err
		}
		return expr, nil

	case TokenLBracket:
		return p.parseListLiteral()

	case TokenLBrace:
		return p.parseDictLiteral()

	default:
		return nil, parseError(ErrUnexpectedToken, tok.Span,
			"expected an expression, found %s", tok)
	}
}

func (p *Parser) parseListLiteral() (Expr, *Error) {
	open := p.advance() // consume [

	var elems []Expr
	for p.cur().Type != TokenRBracket {
		elem, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		elems = append(elems, elem)
		if p.cur().Type != TokenComma {
			break
		}
		p.advance()
	}
	closeTok, err := p.expect(TokenRBracket)
	if err != nil {
		return nil, err
	}

	return &ListLiteral{
		SpanVal:  Span{Start: open.Span.Start, End: closeTok.Span.End},
		Elements: elems,
	}, nil
}

func (p *Parser) parseDictLiteral() (Expr, *Error) {
	open := p.advance() // consume {

	var keys, values []Expr
	for p.cur().Type != TokenRBrace {
		key, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(TokenColon); err != nil {
			return nil, err
		}
		value, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
		values = append(values, value)
		if p.cur().Type != TokenComma {
			break
		}
		p.advance()
	}
	closeTok, err := p.expect(TokenRBrace)
	if err != nil {
		return nil, err
	}

	return &DictLiteral{
		SpanVal: Span{Start: open.Span.Start, End: closeTok.Span.End},
		Keys:    keys,
		Values:  values,
	}, nil
}
