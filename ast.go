package gravitas

// Ast is the parser's product: an ordered sequence of top-level
// statements. There is no separate "Program" AST node — the implicit
// main function is assembled by the generator from this slice.
type Ast struct {
	Stmts []Stmt
}

// AtomicValue is the leaf of an Expr: a literal or a bare identifier
// reference.
type AtomicValue struct {
	Kind AtomValueKind
	Span Range

	Bool   bool
	Number float64
	Text   Symbol // valid when Kind is AtomText
	Ident  Symbol // valid when Kind is AtomIdentifier
}

type AtomValueKind int

const (
	AtomBoolean AtomValueKind = iota
	AtomNumber
	AtomText
	AtomIdentifier
	// AtomNull backs the `null` literal token; the generator lowers it
	// straight to OpNull.
	AtomNull
)

// Stmt is the sum type `Stmt ∈ { Expression, VariableDeclaration,
// FunctionDeclaration, ClassDeclaration }`. Dispatch over it is by
// type switch in the resolver/generator, a single function with match
// arms rather than a visitor interface per node type.
type Stmt interface{ stmtSpan() Range }

type ExpressionStmt struct {
	Expr Expr
	Span Range
}

type VariableDeclarationStmt struct {
	Name Symbol
	Expr Expr
	Span Range
}

type FunctionDeclarationStmt struct {
	Name   Symbol
	Params []Symbol
	Body   Expr // either a Block or a bare expression (=> form)
	Span   Range
}

type ClassDeclarationStmt struct {
	Name    Symbol
	Super   Symbol // zero value with HasSuper=false when absent
	HasSuper bool
	Methods []*FunctionDeclarationStmt
	Span    Range
}

func (s *ExpressionStmt) stmtSpan() Range          { return s.Span }
func (s *VariableDeclarationStmt) stmtSpan() Range { return s.Span }
func (s *FunctionDeclarationStmt) stmtSpan() Range { return s.Span }
func (s *ClassDeclarationStmt) stmtSpan() Range    { return s.Span }

// Expr is the expression sum type. BinaryOp/UnaryOp enumerate the
// concrete operators so the generator can switch on them directly
// when lowering to opcodes.
type Expr interface{ exprSpan() Range }

type BinaryOp int

const (
	BAdd BinaryOp = iota
	BSub
	BMul
	BDiv
	BMod
	BPow
	BEq
	BNe
	BLt
	BLe
	BGt
	BGe
	BOr
	BAnd
)

type UnaryOp int

const (
	UNot UnaryOp = iota
	UNeg
)

type AtomExpr struct {
	Value AtomicValue
	Span  Range
}

type BinaryExpr struct {
	Lhs  Expr
	Op   BinaryOp
	Rhs  Expr
	Span Range
}

type UnaryExpr struct {
	Op   UnaryOp
	Rhs  Expr
	Span Range
}

type IfExpr struct {
	Cond Expr
	Then Expr // always a *BlockExpr
	Else Expr // *BlockExpr, *IfExpr (else-if), or nil
	Span Range
}

type WhileExpr struct {
	Cond Expr
	Body Expr // *BlockExpr
	Span Range
}

type BlockExpr struct {
	Stmts    []Stmt
	Trailing Expr // nil if the block ends with `;` or is empty
	Span     Range
}

type BreakExpr struct {
	Value Expr // nil if bare `break;`
	Span  Range
}

type ContinueExpr struct {
	Span Range
}

type CallExpr struct {
	Callee Expr
	Args   []Expr
	Span   Range
}

type ReturnExpr struct {
	Value Expr // nil if bare `return;`
	Span  Range
}

type ArrayExpr struct {
	Values []Expr
	Span   Range
}

type IndexExpr struct {
	Target Expr
	Pos    Expr
	Span   Range
}

type PropertyExpr struct {
	Target Expr
	Path   Symbol
	Span   Range
}

type AssignmentExpr struct {
	Target Expr
	Value  Expr
	Span   Range
}

type ClosureExpr struct {
	Params []Symbol
	Body   Expr
	Span   Range
}

type SuperExpr struct {
	Method Symbol
	Span   Range
}

type ThisExpr struct {
	Span Range
}

func (e *AtomExpr) exprSpan() Range       { return e.Span }
func (e *BinaryExpr) exprSpan() Range     { return e.Span }
func (e *UnaryExpr) exprSpan() Range      { return e.Span }
func (e *IfExpr) exprSpan() Range         { return e.Span }
func (e *WhileExpr) exprSpan() Range      { return e.Span }
func (e *BlockExpr) exprSpan() Range      { return e.Span }
func (e *BreakExpr) exprSpan() Range      { return e.Span }
func (e *ContinueExpr) exprSpan() Range   { return e.Span }
func (e *CallExpr) exprSpan() Range       { return e.Span }
func (e *ReturnExpr) exprSpan() Range     { return e.Span }
func (e *ArrayExpr) exprSpan() Range      { return e.Span }
func (e *IndexExpr) exprSpan() Range      { return e.Span }
func (e *PropertyExpr) exprSpan() Range   { return e.Span }
func (e *AssignmentExpr) exprSpan() Range { return e.Span }
func (e *ClosureExpr) exprSpan() Range    { return e.Span }
func (e *SuperExpr) exprSpan() Range      { return e.Span }
func (e *ThisExpr) exprSpan() Range       { return e.Span }
