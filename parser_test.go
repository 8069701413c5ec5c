package gravitas

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parseOne(t *testing.T, src string) Stmt {
	t.Helper()
	ast, _, err := Parse([]byte(src))
	require.NoError(t, err)
	require.Len(t, ast.Stmts, 1)
	return ast.Stmts[0]
}

func exprOf(t *testing.T, s Stmt) Expr {
	t.Helper()
	es, ok := s.(*ExpressionStmt)
	require.True(t, ok, "expected an ExpressionStmt, got %T", s)
	return es.Expr
}

func TestParserArithmeticPrecedence(t *testing.T) {
	// `2 + 3 * 4;` parses as `(+ 2 (* 3 4))`.
	expr := exprOf(t, parseOne(t, "2 + 3 * 4;"))
	add, ok := expr.(*BinaryExpr)
	require.True(t, ok)
	assert.Equal(t, BAdd, add.Op)
	lhs, ok := add.Lhs.(*AtomExpr)
	require.True(t, ok)
	assert.Equal(t, 2.0, lhs.Value.Number)
	mul, ok := add.Rhs.(*BinaryExpr)
	require.True(t, ok)
	assert.Equal(t, BMul, mul.Op)
}

func TestParserUnaryBindsLooserThanBinaryPlus(t *testing.T) {
	// The binding-power table gives unary `-`/`!` a right binding power
	// of 5, looser than binary `+`/`-`'s (6,7): "- 2 + 2" parses as
	// "(- (+ 2 2))", not "(+ (- 2) 2)".
	expr := exprOf(t, parseOne(t, "-2 + 2;"))
	neg, ok := expr.(*UnaryExpr)
	require.True(t, ok)
	assert.Equal(t, UNeg, neg.Op)
	add, ok := neg.Rhs.(*BinaryExpr)
	require.True(t, ok)
	assert.Equal(t, BAdd, add.Op)
}

func TestParserPowerIsLeftAssociative(t *testing.T) {
	// `2 ** 3 ** 2` parses as `(** (** 2 3) 2)`.
	expr := exprOf(t, parseOne(t, "2 ** 3 ** 2;"))
	outer, ok := expr.(*BinaryExpr)
	require.True(t, ok)
	assert.Equal(t, BPow, outer.Op)
	inner, ok := outer.Lhs.(*BinaryExpr)
	require.True(t, ok)
	assert.Equal(t, BPow, inner.Op)
	_, rhsIsAtom := outer.Rhs.(*AtomExpr)
	assert.True(t, rhsIsAtom)
}

func TestParserAssignmentIsRightAssociative(t *testing.T) {
	expr := exprOf(t, parseOne(t, "a = b = 1;"))
	outer, ok := expr.(*AssignmentExpr)
	require.True(t, ok)
	_, targetIsAtom := outer.Target.(*AtomExpr)
	assert.True(t, targetIsAtom)
	_, valueIsAssignment := outer.Value.(*AssignmentExpr)
	assert.True(t, valueIsAssignment)
}

func TestParserIfElseValue(t *testing.T) {
	ast, _, err := Parse([]byte("let x = if true { 1 } else { 2 }; x;"))
	require.NoError(t, err)
	require.Len(t, ast.Stmts, 2)
	decl, ok := ast.Stmts[0].(*VariableDeclarationStmt)
	require.True(t, ok)
	ifExpr, ok := decl.Expr.(*IfExpr)
	require.True(t, ok)
	require.NotNil(t, ifExpr.Else)
	_, elseIsBlock := ifExpr.Else.(*BlockExpr)
	assert.True(t, elseIsBlock)
}

func TestParserElseIfChain(t *testing.T) {
	ast, _, err := Parse([]byte("if a { 1 } else if b { 2 } else { 3 };"))
	require.NoError(t, err)
	require.Len(t, ast.Stmts, 1)
	ifExpr := exprOf(t, ast.Stmts[0]).(*IfExpr)
	elseIf, ok := ifExpr.Else.(*IfExpr)
	require.True(t, ok)
	_, ok = elseIf.Else.(*BlockExpr)
	assert.True(t, ok)
}

func TestParserWhileLoopAsLetInitializer(t *testing.T) {
	ast, _, err := Parse([]byte(`
		let i = 0;
		let r = while i < 3 { i = i + 1; };
		i;
	`))
	require.NoError(t, err)
	require.Len(t, ast.Stmts, 3)
	decl, ok := ast.Stmts[1].(*VariableDeclarationStmt)
	require.True(t, ok)
	_, ok = decl.Expr.(*WhileExpr)
	assert.True(t, ok)
}

func TestParserRecursiveFunction(t *testing.T) {
	ast, _, err := Parse([]byte("fn fact(n) => if n <= 1 { 1 } else { n * fact(n - 1) };"))
	require.NoError(t, err)
	require.Len(t, ast.Stmts, 1)
	fn, ok := ast.Stmts[0].(*FunctionDeclarationStmt)
	require.True(t, ok)
	assert.Len(t, fn.Params, 1)
	_, ok = fn.Body.(*IfExpr)
	assert.True(t, ok)
}

func TestParserClosureCapture(t *testing.T) {
	ast, _, err := Parse([]byte(`
		fn make_adder(x) {
			fn add(y) => x + y;
			add
		}
	`))
	require.NoError(t, err)
	fn := ast.Stmts[0].(*FunctionDeclarationStmt)
	block, ok := fn.Body.(*BlockExpr)
	require.True(t, ok)
	require.Len(t, block.Stmts, 1)
	require.NotNil(t, block.Trailing)
	_, ok = block.Trailing.(*AtomExpr)
	assert.True(t, ok)
}

func TestParserClassWithSuperAndMethods(t *testing.T) {
	ast, _, err := Parse([]byte(`
		class Point {
			fn init(x, y) { this.x = x; this.y = y; }
			fn sum() => this.x + this.y;
		}
		class Point3D : Point {
			fn init(x, y, z) { super.init(x, y); this.z = z; }
		}
	`))
	require.NoError(t, err)
	require.Len(t, ast.Stmts, 2)
	point := ast.Stmts[0].(*ClassDeclarationStmt)
	assert.False(t, point.HasSuper)
	assert.Len(t, point.Methods, 2)
	point3d := ast.Stmts[1].(*ClassDeclarationStmt)
	assert.True(t, point3d.HasSuper)
}

func TestParserClosureLiteral(t *testing.T) {
	ast, _, err := Parse([]byte("let double = |x| => x * 2;"))
	require.NoError(t, err)
	decl := ast.Stmts[0].(*VariableDeclarationStmt)
	closure, ok := decl.Expr.(*ClosureExpr)
	require.True(t, ok)
	assert.Len(t, closure.Params, 1)
}

func TestParserArrayAndIndex(t *testing.T) {
	expr := exprOf(t, parseOne(t, "[1, 2, 3][0];"))
	idx, ok := expr.(*IndexExpr)
	require.True(t, ok)
	arr, ok := idx.Target.(*ArrayExpr)
	require.True(t, ok)
	assert.Len(t, arr.Values, 3)
}

func TestParserPropertyAndCall(t *testing.T) {
	expr := exprOf(t, parseOne(t, "p.sum();"))
	call, ok := expr.(*CallExpr)
	require.True(t, ok)
	_, ok = call.Callee.(*PropertyExpr)
	assert.True(t, ok)
	assert.Empty(t, call.Args)
}

func TestParserTrailingCommaRejectedInParams(t *testing.T) {
	_, _, err := Parse([]byte("fn f(a, b,) => a;"))
	require.Error(t, err)
}

func TestParserTrailingCommaRejectedInArgs(t *testing.T) {
	_, _, err := Parse([]byte("f(1, 2,);"))
	require.Error(t, err)
}

func TestParserTrailingCommaRejectedInArray(t *testing.T) {
	_, _, err := Parse([]byte("let a = [1, 2,];"))
	require.Error(t, err)
}

func TestParserAccumulatesMultipleErrors(t *testing.T) {
	// Both declarations are missing their identifier; the parser's
	// accumulation policy should surface both diagnoses in one error
	// rather than stopping after the first.
	_, _, err := Parse([]byte("let = 1; let = 2;"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 errors occurred")
}

func TestParserBareBreak(t *testing.T) {
	ast, _, err := Parse([]byte("while true { break; };"))
	require.NoError(t, err)
	decl := exprOf(t, ast.Stmts[0]).(*WhileExpr)
	block := decl.Body.(*BlockExpr)
	require.Len(t, block.Stmts, 1)
	es := block.Stmts[0].(*ExpressionStmt)
	brk, ok := es.Expr.(*BreakExpr)
	require.True(t, ok)
	assert.Nil(t, brk.Value)
}

func TestParserNullLiteral(t *testing.T) {
	expr := exprOf(t, parseOne(t, "null;"))
	atom, ok := expr.(*AtomExpr)
	require.True(t, ok)
	assert.Equal(t, AtomNull, atom.Value.Kind)
}
