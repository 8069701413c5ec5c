package gravitas

import "github.com/hashicorp/go-multierror"

// Parser is a Pratt parser: a one-token-lookahead cursor over the
// Lexer's pull stream, with `cur`/`advance`/`check`/`expect` helpers
// over a single mutable cursor rather than a recursive-descent-over-
// slice design. The grammar needs no backtracking: one token of
// lookahead always determines how to proceed, so there is no
// `mark`/`reset` cursor-saving machinery here.
type Parser struct {
	lx      *Lexer
	interns *InternTable
	cur     Lexeme
	errs    *multierror.Error
}

func newParser(src []byte, interns *InternTable) *Parser {
	p := &Parser{lx: NewLexer(src, interns), interns: interns, errs: newErrorList()}
	p.cur = p.nextLexeme()
	return p
}

// Parse runs the full pipeline: lex + parse a byte slice into an Ast.
// Errors accumulate across the whole file (panic-mode recovery at
// statement boundaries) rather than stopping at the first one,
// matching errors.go's newErrorList/appendError accumulation
// discipline shared with the generator. The lexer itself does not
// accumulate; its Error lexemes are folded into this list by
// nextLexeme.
func Parse(src []byte) (*Ast, *InternTable, error) {
	interns := NewInternTable()
	p := newParser(src, interns)

	var stmts []Stmt
	for !p.check(TEof) {
		stmt, err := p.parseStmt()
		if err != nil {
			p.fail(err)
			p.synchronize()
			continue
		}
		stmts = append(stmts, stmt)
	}

	if err := p.errs.ErrorOrNil(); err != nil {
		return nil, interns, err
	}
	return &Ast{Stmts: stmts}, interns, nil
}

// nextLexeme pulls the next lexeme from the lexer, folding any Error
// lexeme straight into the accumulated error list and skipping past it
// — the lexer itself never recovers, so the parser is where that
// recovery happens.
func (p *Parser) nextLexeme() Lexeme {
	for {
		lx := p.lx.Next()
		if lx.Kind != TError {
			return lx
		}
		p.fail(ParseError{Kind: "lex-error", Expected: "", Got: lx, Span: lx.Span})
	}
}

func (p *Parser) advance() Lexeme {
	prev := p.cur
	p.cur = p.nextLexeme()
	return prev
}

func (p *Parser) check(k TokenKind) bool { return p.cur.Kind == k }

func (p *Parser) fail(err error) { p.errs = appendError(p.errs, err) }

// expect consumes the current token if it has kind k, else produces
// the "expected" ParseError variant named in errors.go, carrying both
// what was wanted and what was actually found.
func (p *Parser) expect(k TokenKind) (Lexeme, error) {
	if p.cur.Kind != k {
		return Lexeme{}, ParseError{Kind: "expected", Expected: k.String(), Got: p.cur, Span: p.cur.Span}
	}
	return p.advance(), nil
}

// synchronize discards tokens until it reaches a likely statement
// boundary: the semicolon ending the failed statement, or a keyword
// that starts a new one. This is ordinary panic-mode recovery, used so
// a single run can report more than one diagnostic.
func (p *Parser) synchronize() {
	for !p.check(TEof) {
		if p.check(TSemicolon) {
			p.advance()
			return
		}
		switch p.cur.Kind {
		case TLet, TFn, TClass, TIf, TWhile, TReturn, TBreak, TContinue:
			return
		}
		p.advance()
	}
}

// parseStmt dispatches on the leading token: `let`/`fn`/`class` each
// own a dedicated form, anything else is an expression statement.
func (p *Parser) parseStmt() (Stmt, error) {
	switch p.cur.Kind {
	case TLet:
		return p.parseLetDecl()
	case TFn:
		return p.parseFnDecl()
	case TClass:
		return p.parseClassDecl()
	default:
		return p.parseExprStmt()
	}
}

func (p *Parser) parseExprStmt() (Stmt, error) {
	start := p.cur.Span
	expr, err := p.parseExpr(0)
	if err != nil {
		return nil, err
	}
	semi, err := p.expect(TSemicolon)
	if err != nil {
		return nil, err
	}
	return &ExpressionStmt{Expr: expr, Span: start.Union(semi.Span)}, nil
}

func (p *Parser) parseLetDecl() (Stmt, error) {
	letTok := p.advance()
	nameLex, err := p.expect(TIdentifier)
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(TEqual); err != nil {
		return nil, err
	}
	expr, err := p.parseExpr(0)
	if err != nil {
		return nil, err
	}
	semi, err := p.expect(TSemicolon)
	if err != nil {
		return nil, err
	}
	return &VariableDeclarationStmt{Name: nameLex.Symbol, Expr: expr, Span: letTok.Span.Union(semi.Span)}, nil
}

// parseParams parses a comma-separated identifier list bracketed by
// open/close, used for `fn name(params)`; parseClosureExpr applies the
// same rule between its pipes. A comma immediately before the closing
// delimiter is rejected outright rather than silently accepted.
func (p *Parser) parseParams(open, close TokenKind) ([]Symbol, error) {
	if _, err := p.expect(open); err != nil {
		return nil, err
	}
	var params []Symbol
	for !p.check(close) {
		lex, err := p.expect(TIdentifier)
		if err != nil {
			return nil, err
		}
		params = append(params, lex.Symbol)
		if p.check(close) {
			break
		}
		if _, err := p.expect(TComma); err != nil {
			return nil, err
		}
		if p.check(close) {
			return nil, ParseError{Kind: "trailing-comma", Got: p.cur, Span: p.cur.Span}
		}
	}
	if _, err := p.expect(close); err != nil {
		return nil, err
	}
	return params, nil
}

func (p *Parser) parseFnDecl() (Stmt, error) {
	fnTok := p.advance()
	nameLex, err := p.expect(TIdentifier)
	if err != nil {
		return nil, err
	}
	params, err := p.parseParams(TLParen, TRParen)
	if err != nil {
		return nil, err
	}
	arrow := p.check(TFatArrow)
	body, err := p.parseFnBody()
	if err != nil {
		return nil, err
	}
	span := fnTok.Span.Union(body.exprSpan())
	if arrow && p.check(TSemicolon) {
		// An arrow body `=> expr` may be closed with `;`, like a `let`.
		span = span.Union(p.advance().Span)
	}
	return &FunctionDeclarationStmt{Name: nameLex.Symbol, Params: params, Body: body, Span: span}, nil
}

// parseFnBody implements the two function-body forms: a block
// `{ ... }`, or an arrow body `=> expr` for one-liners.
func (p *Parser) parseFnBody() (Expr, error) {
	if p.check(TLBrace) {
		return p.parseBlock()
	}
	if _, err := p.expect(TFatArrow); err != nil {
		return nil, err
	}
	return p.parseExpr(0)
}

// parseClassDecl implements `class Name (: Super)? { method* }`. The
// superclass clause uses `:` (TColon, already in token.go) rather than
// a dedicated `inherit` keyword; see DESIGN.md for the reasoning.
func (p *Parser) parseClassDecl() (Stmt, error) {
	classTok := p.advance()
	nameLex, err := p.expect(TIdentifier)
	if err != nil {
		return nil, err
	}

	var super Symbol
	hasSuper := false
	if p.check(TColon) {
		p.advance()
		superLex, err := p.expect(TIdentifier)
		if err != nil {
			return nil, err
		}
		super = superLex.Symbol
		hasSuper = true
	}

	if _, err := p.expect(TLBrace); err != nil {
		return nil, err
	}
	var methods []*FunctionDeclarationStmt
	for !p.check(TRBrace) && !p.check(TEof) {
		if !p.check(TFn) {
			return nil, ParseError{Kind: "expected", Expected: "fn", Got: p.cur, Span: p.cur.Span}
		}
		m, err := p.parseFnDecl()
		if err != nil {
			return nil, err
		}
		methods = append(methods, m.(*FunctionDeclarationStmt))
	}
	closeTok, err := p.expect(TRBrace)
	if err != nil {
		return nil, err
	}
	return &ClassDeclarationStmt{
		Name:     nameLex.Symbol,
		Super:    super,
		HasSuper: hasSuper,
		Methods:  methods,
		Span:     classTok.Span.Union(closeTok.Span),
	}, nil
}

// parseBlock implements the block-expression grammar: zero or more
// statements followed by an optional trailing (semicolon-less)
// expression that becomes the block's value.
func (p *Parser) parseBlock() (*BlockExpr, error) {
	open, err := p.expect(TLBrace)
	if err != nil {
		return nil, err
	}
	var stmts []Stmt
	var trailing Expr
	for !p.check(TRBrace) && !p.check(TEof) {
		switch p.cur.Kind {
		case TLet:
			s, err := p.parseLetDecl()
			if err != nil {
				return nil, err
			}
			stmts = append(stmts, s)
			continue
		case TFn:
			s, err := p.parseFnDecl()
			if err != nil {
				return nil, err
			}
			stmts = append(stmts, s)
			continue
		case TClass:
			s, err := p.parseClassDecl()
			if err != nil {
				return nil, err
			}
			stmts = append(stmts, s)
			continue
		}

		exprStart := p.cur.Span
		e, err := p.parseExpr(0)
		if err != nil {
			return nil, err
		}
		if p.check(TSemicolon) {
			semi := p.advance()
			stmts = append(stmts, &ExpressionStmt{Expr: e, Span: exprStart.Union(semi.Span)})
			continue
		}
		trailing = e
		break
	}
	closeTok, err := p.expect(TRBrace)
	if err != nil {
		return nil, err
	}
	return &BlockExpr{Stmts: stmts, Trailing: trailing, Span: open.Span.Union(closeTok.Span)}, nil
}

// --- Pratt expression parsing ----------------------------------------
//
// infixOps is the binding-power table. The unusual fact that unary
// `-`/`!` bind looser than binary `+`/`-` is not a transcription
// error, it's load-bearing: `- 2 + 2` parses as `(- (+ 2 2))`, kept
// exactly as designed rather than "corrected" to the conventional
// C-family precedence. Entries absent here (assignment, `.`, call,
// index) are handled as special cases in parseExpr because their
// right-hand side isn't a generic sub-expression, or because they
// build a different Expr node than BinaryExpr.
type infixOp struct {
	l, r int
	op   BinaryOp
}

var infixOps = map[TokenKind]infixOp{
	TAnd:          {2, 3, BAnd},
	TOr:           {2, 3, BOr},
	TLess:         {4, 5, BLt},
	TLessEqual:    {4, 5, BLe},
	TGreater:      {4, 5, BGt},
	TGreaterEqual: {4, 5, BGe},
	TEqualEqual:   {4, 5, BEq},
	TBangEqual:    {4, 5, BNe},
	TPlus:         {6, 7, BAdd},
	TMinus:        {6, 7, BSub},
	TStar:         {8, 9, BMul},
	TSlash:        {8, 9, BDiv},
	TPercent:      {8, 9, BMod},
	TStarStar:     {10, 11, BPow},
}

const (
	bpAssign    = 0
	bpDot       = 12
	bpCall      = 11
	bpIndex     = 11
	bpUnaryRhs  = 5
)

// parseExpr is the matklad-style precedence-climbing loop: parse a
// prefix expression, then repeatedly fold it into an infix/postfix
// operator whose left binding power is at least minBP, recursing on
// the right with that operator's right binding power.
func (p *Parser) parseExpr(minBP int) (Expr, error) {
	lhs, err := p.parsePrefix()
	if err != nil {
		return nil, err
	}

	for {
		switch p.cur.Kind {
		case TEqual:
			if bpAssign < minBP {
				return lhs, nil
			}
			p.advance()
			// Recursing at bpAssign rather than one above it makes `=`
			// right-associative: `a = b = 1` folds the inner assignment
			// first, yielding `a = (b = 1)`.
			rhs, err := p.parseExpr(bpAssign)
			if err != nil {
				return nil, err
			}
			lhs = &AssignmentExpr{Target: lhs, Value: rhs, Span: lhs.exprSpan().Union(rhs.exprSpan())}
			continue
		case TDot:
			if bpDot < minBP {
				return lhs, nil
			}
			p.advance()
			nameLex, err := p.expect(TIdentifier)
			if err != nil {
				return nil, err
			}
			lhs = &PropertyExpr{Target: lhs, Path: nameLex.Symbol, Span: lhs.exprSpan().Union(nameLex.Span)}
			continue
		case TLParen:
			if bpCall < minBP {
				return lhs, nil
			}
			args, endSpan, err := p.parseArgList()
			if err != nil {
				return nil, err
			}
			lhs = &CallExpr{Callee: lhs, Args: args, Span: lhs.exprSpan().Union(endSpan)}
			continue
		case TLBracket:
			if bpIndex < minBP {
				return lhs, nil
			}
			p.advance()
			idx, err := p.parseExpr(0)
			if err != nil {
				return nil, err
			}
			closeTok, err := p.expect(TRBracket)
			if err != nil {
				return nil, err
			}
			lhs = &IndexExpr{Target: lhs, Pos: idx, Span: lhs.exprSpan().Union(closeTok.Span)}
			continue
		}

		info, ok := infixOps[p.cur.Kind]
		if !ok || info.l < minBP {
			return lhs, nil
		}
		p.advance()
		rhs, err := p.parseExpr(info.r)
		if err != nil {
			return nil, err
		}
		lhs = &BinaryExpr{Lhs: lhs, Op: info.op, Rhs: rhs, Span: lhs.exprSpan().Union(rhs.exprSpan())}
	}
}

// parsePrefix parses a primary expression: unary operators, grouping,
// every block-like control-flow expression, and leaf atoms.
func (p *Parser) parsePrefix() (Expr, error) {
	switch p.cur.Kind {
	case TMinus, TBang:
		opTok := p.advance()
		rhs, err := p.parseExpr(bpUnaryRhs)
		if err != nil {
			return nil, err
		}
		op := UNeg
		if opTok.Kind == TBang {
			op = UNot
		}
		return &UnaryExpr{Op: op, Rhs: rhs, Span: opTok.Span.Union(rhs.exprSpan())}, nil
	case TLParen:
		p.advance()
		inner, err := p.parseExpr(0)
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(TRParen); err != nil {
			return nil, err
		}
		return inner, nil
	case TLBracket:
		return p.parseArrayLiteral()
	case TLBrace:
		return p.parseBlock()
	case TIf:
		return p.parseIfExpr()
	case TWhile:
		return p.parseWhileExpr()
	case TBreak:
		return p.parseBreakExpr()
	case TContinue:
		tok := p.advance()
		return &ContinueExpr{Span: tok.Span}, nil
	case TReturn:
		return p.parseReturnExpr()
	case TThis:
		tok := p.advance()
		return &ThisExpr{Span: tok.Span}, nil
	case TSuper:
		return p.parseSuperExpr()
	case TPipe:
		return p.parseClosureExpr()
	case TNumber:
		tok := p.advance()
		return &AtomExpr{Value: AtomicValue{Kind: AtomNumber, Number: tok.Number, Span: tok.Span}, Span: tok.Span}, nil
	case TString:
		tok := p.advance()
		return &AtomExpr{Value: AtomicValue{Kind: AtomText, Text: tok.Symbol, Span: tok.Span}, Span: tok.Span}, nil
	case TTrue, TFalse:
		tok := p.advance()
		return &AtomExpr{Value: AtomicValue{Kind: AtomBoolean, Bool: tok.Kind == TTrue, Span: tok.Span}, Span: tok.Span}, nil
	case TNull:
		tok := p.advance()
		return &AtomExpr{Value: AtomicValue{Kind: AtomNull, Span: tok.Span}, Span: tok.Span}, nil
	case TIdentifier:
		tok := p.advance()
		return &AtomExpr{Value: AtomicValue{Kind: AtomIdentifier, Ident: tok.Symbol, Span: tok.Span}, Span: tok.Span}, nil
	default:
		return nil, ParseError{Kind: "unexpected-token", Got: p.cur, Span: p.cur.Span}
	}
}

// parseArgList parses `(expr,*)` as used by call postfix expressions,
// rejecting a trailing comma like parseParams does.
func (p *Parser) parseArgList() ([]Expr, Range, error) {
	if _, err := p.expect(TLParen); err != nil {
		return nil, Range{}, err
	}
	var args []Expr
	for !p.check(TRParen) {
		e, err := p.parseExpr(0)
		if err != nil {
			return nil, Range{}, err
		}
		args = append(args, e)
		if p.check(TRParen) {
			break
		}
		if _, err := p.expect(TComma); err != nil {
			return nil, Range{}, err
		}
		if p.check(TRParen) {
			return nil, Range{}, ParseError{Kind: "trailing-comma", Got: p.cur, Span: p.cur.Span}
		}
	}
	closeTok, err := p.expect(TRParen)
	if err != nil {
		return nil, Range{}, err
	}
	return args, closeTok.Span, nil
}

func (p *Parser) parseArrayLiteral() (Expr, error) {
	open, err := p.expect(TLBracket)
	if err != nil {
		return nil, err
	}
	var values []Expr
	for !p.check(TRBracket) {
		e, err := p.parseExpr(0)
		if err != nil {
			return nil, err
		}
		values = append(values, e)
		if p.check(TRBracket) {
			break
		}
		if _, err := p.expect(TComma); err != nil {
			return nil, err
		}
		if p.check(TRBracket) {
			return nil, ParseError{Kind: "trailing-comma", Got: p.cur, Span: p.cur.Span}
		}
	}
	closeTok, err := p.expect(TRBracket)
	if err != nil {
		return nil, err
	}
	return &ArrayExpr{Values: values, Span: open.Span.Union(closeTok.Span)}, nil
}

// parseIfExpr implements else-if chaining by recursing into
// parseIfExpr itself whenever `else` is immediately followed by `if`.
func (p *Parser) parseIfExpr() (Expr, error) {
	ifTok := p.advance()
	cond, err := p.parseExpr(0)
	if err != nil {
		return nil, err
	}
	then, err := p.parseBlock()
	if err != nil {
		return nil, err
	}

	var elseExpr Expr
	end := then.Span
	if p.check(TElse) {
		p.advance()
		if p.check(TIf) {
			elseExpr, err = p.parseIfExpr()
		} else {
			elseExpr, err = p.parseBlock()
		}
		if err != nil {
			return nil, err
		}
		end = elseExpr.exprSpan()
	}
	return &IfExpr{Cond: cond, Then: then, Else: elseExpr, Span: ifTok.Span.Union(end)}, nil
}

func (p *Parser) parseWhileExpr() (Expr, error) {
	whileTok := p.advance()
	cond, err := p.parseExpr(0)
	if err != nil {
		return nil, err
	}
	body, err := p.parseBlock()
	if err != nil {
		return nil, err
	}
	return &WhileExpr{Cond: cond, Body: body, Span: whileTok.Span.Union(body.Span)}, nil
}

// parseBreakExpr and parseReturnExpr both parse an optional value,
// treating `;` or `}` immediately following the keyword as "no value"
// rather than requiring an explicit `break null;`.
func (p *Parser) parseBreakExpr() (Expr, error) {
	tok := p.advance()
	var val Expr
	span := tok.Span
	if !p.check(TSemicolon) && !p.check(TRBrace) {
		v, err := p.parseExpr(0)
		if err != nil {
			return nil, err
		}
		val = v
		span = span.Union(v.exprSpan())
	}
	return &BreakExpr{Value: val, Span: span}, nil
}

func (p *Parser) parseReturnExpr() (Expr, error) {
	tok := p.advance()
	var val Expr
	span := tok.Span
	if !p.check(TSemicolon) && !p.check(TRBrace) {
		v, err := p.parseExpr(0)
		if err != nil {
			return nil, err
		}
		val = v
		span = span.Union(v.exprSpan())
	}
	return &ReturnExpr{Value: val, Span: span}, nil
}

// parseSuperExpr parses `super.method`; a bare `super` with no `.name`
// is rejected the same way a bare `.` would be — via expect(TDot).
func (p *Parser) parseSuperExpr() (Expr, error) {
	superTok := p.advance()
	if _, err := p.expect(TDot); err != nil {
		return nil, err
	}
	nameLex, err := p.expect(TIdentifier)
	if err != nil {
		return nil, err
	}
	return &SuperExpr{Method: nameLex.Symbol, Span: superTok.Span.Union(nameLex.Span)}, nil
}

// parseClosureExpr implements `|params| => body`, sharing parseParams'
// trailing-comma rule for the parameter list between the pipes. The
// fat arrow is mandatory even when body is itself a block.
func (p *Parser) parseClosureExpr() (Expr, error) {
	openTok := p.advance()
	var params []Symbol
	for !p.check(TPipe) {
		lex, err := p.expect(TIdentifier)
		if err != nil {
			return nil, err
		}
		params = append(params, lex.Symbol)
		if p.check(TPipe) {
			break
		}
		if _, err := p.expect(TComma); err != nil {
			return nil, err
		}
		if p.check(TPipe) {
			return nil, ParseError{Kind: "trailing-comma", Got: p.cur, Span: p.cur.Span}
		}
	}
	if _, err := p.expect(TPipe); err != nil {
		return nil, err
	}
	if _, err := p.expect(TFatArrow); err != nil {
		return nil, err
	}
	body, err := p.parseExpr(0)
	if err != nil {
		return nil, err
	}
	return &ClosureExpr{Params: params, Body: body, Span: openTok.Span.Union(body.exprSpan())}, nil
}
