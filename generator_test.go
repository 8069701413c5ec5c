package gravitas

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func genFrom(t *testing.T, src string) (*Program, *InternTable) {
	t.Helper()
	ast, interns, err := Parse([]byte(src))
	require.NoError(t, err)
	program, err := Generate(ast, interns)
	require.NoError(t, err)
	return program, interns
}

func TestGeneratorArithmeticPrecedence(t *testing.T) {
	// `2 + 3 * 4;` lowers to Const 2, Const 3, Const 4, Mul, Add. Unlike
	// a non-final expression statement, the sole top-level statement's
	// value is left on the stack rather than popped (genTopLevel), since
	// it doubles as the program's result.
	program, _ := genFrom(t, "2 + 3 * 4;")
	main := program.Globals[program.Main].Function
	ops := opKinds(main.Chunk.Opcodes)
	assert.Equal(t, []OpKind{OpConstant, OpConstant, OpConstant, OpMul, OpAdd}, ops)
}

func opKinds(ops []Opcode) []OpKind {
	ks := make([]OpKind, len(ops))
	for i, o := range ops {
		ks[i] = o.Op
	}
	return ks
}

func TestGeneratorTopLevelTrailingExpressionIsResult(t *testing.T) {
	program, _ := genFrom(t, "let x = 1; x;")
	main := program.Globals[program.Main].Function
	last := main.Chunk.Opcodes[len(main.Chunk.Opcodes)-1]
	// The final statement is an expression statement, so its value is
	// left on the stack instead of being popped (genTopLevel).
	assert.NotEqual(t, OpPop, last.Op)
}

func TestGeneratorFunctionDeclarationRegistersGlobal(t *testing.T) {
	program, _ := genFrom(t, "fn add(a, b) => a + b; add(1, 2);")
	var found *Function
	for _, g := range program.Globals {
		if g.Function != nil && g.Function.Arity == 2 {
			found = g.Function
		}
	}
	require.NotNil(t, found)
	assert.Equal(t, 2, found.Arity)
}

func TestGeneratorClassRegistersConstructorAndMethods(t *testing.T) {
	program, interns := genFrom(t, `
		class Point {
			fn init(x, y) { this.x = x; this.y = y; }
			fn sum() => this.x + this.y;
		}
	`)
	var class *Class
	for _, g := range program.Globals {
		if g.IsClass {
			class = g.Class
		}
	}
	require.NotNil(t, class)
	assert.Equal(t, "Point", interns.Text(class.Name))
	assert.GreaterOrEqual(t, class.Constructor, 0)
	assert.Len(t, class.Methods, 2)
}

func TestGeneratorSuperclassResolution(t *testing.T) {
	program, _ := genFrom(t, `
		class Base { fn greet() => 1; }
		class Derived : Base { fn greet() => 2; }
	`)
	var derived *Class
	for _, g := range program.Globals {
		if g.IsClass && g.Class.Super >= 0 {
			derived = g.Class
		}
	}
	require.NotNil(t, derived)
	assert.True(t, program.Globals[derived.Super].IsClass)
}

func TestGeneratorUndeclaredIdentifierIsAnError(t *testing.T) {
	ast, interns, err := Parse([]byte("x;"))
	require.NoError(t, err)
	_, err = Generate(ast, interns)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "undeclared-identifier")
}

func TestGeneratorLetReadingItsOwnInitializerIsAnError(t *testing.T) {
	ast, interns, err := Parse([]byte("let x = x;"))
	require.NoError(t, err)
	_, err = Generate(ast, interns)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "used-before-initialization")
}

func TestGeneratorBreakOutsideLoopIsAnError(t *testing.T) {
	ast, interns, err := Parse([]byte("break;"))
	require.NoError(t, err)
	_, err = Generate(ast, interns)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "used-outside-loop")
}

func TestGeneratorThisOutsideClassIsAnError(t *testing.T) {
	ast, interns, err := Parse([]byte("this;"))
	require.NoError(t, err)
	_, err = Generate(ast, interns)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "used-outside-class")
}

func TestGeneratorMethodCapturingEnclosingLocalIsAnError(t *testing.T) {
	// Methods run through a BoundMethod with no closure attached, so a
	// method body reaching for an enclosing function's local has
	// nothing to dereference at runtime; the generator rejects it.
	ast, interns, err := Parse([]byte(`
		fn wrapper() {
			let secret = 1;
			class Leaky {
				fn peek() => secret;
			}
			Leaky
		}
	`))
	require.NoError(t, err)
	_, err = Generate(ast, interns)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "method-captures-enclosing-local")
}

func TestGeneratorClassCannotInheritFromItself(t *testing.T) {
	ast, interns, err := Parse([]byte("class Loopy : Loopy { fn m() => 1; }"))
	require.NoError(t, err)
	_, err = Generate(ast, interns)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cant-inherit-from-itself")
}
