package gravitas

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func interpret(t *testing.T, src string) Value {
	t.Helper()
	v, err := Interpret([]byte(src), NewConfig())
	require.NoError(t, err)
	return v
}

func TestVMArithmeticPrecedence(t *testing.T) {
	v := interpret(t, "2 + 3 * 4;")
	require.Equal(t, ValNumber, v.Kind)
	assert.Equal(t, 14.0, v.Number)
}

func TestVMIfElseValue(t *testing.T) {
	v := interpret(t, "let x = if true { 1 } else { 2 }; x;")
	require.Equal(t, ValNumber, v.Kind)
	assert.Equal(t, 1.0, v.Number)
}

func TestVMWhileLoopLeavesNullValue(t *testing.T) {
	program, interns, err := Compile([]byte(`
		let i = 0;
		let r = while i < 3 { i = i + 1; };
		i;
	`))
	require.NoError(t, err)
	result, err := Run(program, interns, NewConfig())
	require.NoError(t, err)
	assert.Equal(t, 3.0, result.Number)

	r := interpret(t, `
		let i = 0;
		let r = while i < 3 { i = i + 1; };
		r;
	`)
	assert.Equal(t, ValNull, r.Kind)
}

func TestVMRecursiveFunction(t *testing.T) {
	v := interpret(t, "fn fact(n) => if n <= 1 { 1 } else { n * fact(n - 1) }; fact(5);")
	require.Equal(t, ValNumber, v.Kind)
	assert.Equal(t, 120.0, v.Number)
}

func TestVMClosureCapturing(t *testing.T) {
	v := interpret(t, `
		fn make_adder(x) {
			fn add(y) => x + y;
			add
		}
		let add3 = make_adder(3);
		add3(4);
	`)
	require.Equal(t, ValNumber, v.Kind)
	assert.Equal(t, 7.0, v.Number)
}

func TestVMClosureInstancesDoNotPerturbEachOther(t *testing.T) {
	v := interpret(t, `
		fn make_adder(x) {
			fn add(y) => x + y;
			add
		}
		let add3 = make_adder(3);
		let add10 = make_adder(10);
		add10(1);
		add3(4);
	`)
	assert.Equal(t, 7.0, v.Number)
}

func TestVMClassInstanceAndMethod(t *testing.T) {
	v := interpret(t, `
		class Point {
			fn init(x, y) { this.x = x; this.y = y; }
			fn sum() => this.x + this.y;
		}
		let p = Point(3, 4);
		p.sum();
	`)
	require.Equal(t, ValNumber, v.Kind)
	assert.Equal(t, 7.0, v.Number)
}

func TestVMInheritedSuperMethod(t *testing.T) {
	v := interpret(t, `
		class Base {
			fn init(x) { this.x = x; }
			fn describe() => this.x;
		}
		class Derived : Base {
			fn init(x, y) { super.init(x); this.y = y; }
			fn describe() => super.describe() + this.y;
		}
		let d = Derived(1, 2);
		d.describe();
	`)
	require.Equal(t, ValNumber, v.Kind)
	assert.Equal(t, 3.0, v.Number)
}

func TestVMLocalsDeclaredAfterClassKeepTheirSlots(t *testing.T) {
	// A class declaration consumes exactly one stack slot (the class
	// value itself); the slotless declaration inside its class scope
	// must not shift the addresses of later locals.
	v := interpret(t, `
		class First {
			fn tag() => 1;
		}
		class Second {
			fn tag() => 2;
		}
		let a = 10;
		let b = 20;
		a + b;
	`)
	require.Equal(t, ValNumber, v.Kind)
	assert.Equal(t, 30.0, v.Number)
}

func TestVMArrayIndexing(t *testing.T) {
	v := interpret(t, "let a = [10, 20, 30]; a[1];")
	assert.Equal(t, 20.0, v.Number)
}

func TestVMArrayIndexOutOfRangeIsRuntimeError(t *testing.T) {
	_, err := Interpret([]byte("let a = [1]; a[5];"), NewConfig())
	require.Error(t, err)
	rtErr, ok := err.(RuntimeError)
	require.True(t, ok)
	assert.Equal(t, "expected-usize", rtErr.Kind)
}

func TestVMDivisionByZeroYieldsNaN(t *testing.T) {
	v := interpret(t, "0 / 0;")
	assert.True(t, math.IsNaN(v.Number))
}

func TestVMNegationBoundary(t *testing.T) {
	// Neg(f64::MAX) == f64::MIN and vice versa, a free consequence of
	// using Go float64 arithmetic. Number literals have no exponent
	// form, so f64::MAX is written out in full.
	v := interpret(t, "-179769313486231570000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000;")
	assert.InDelta(t, -math.MaxFloat64, v.Number, 1e292)
}

func TestVMArityMismatchIsRuntimeError(t *testing.T) {
	_, err := Interpret([]byte("fn f(a, b) => a + b; f(1);"), NewConfig())
	require.Error(t, err)
	rtErr, ok := err.(RuntimeError)
	require.True(t, ok)
	assert.Equal(t, "arity-mismatch", rtErr.Kind)
}

func TestVMCallingNonCallableIsRuntimeError(t *testing.T) {
	_, err := Interpret([]byte("let x = 1; x();"), NewConfig())
	require.Error(t, err)
	rtErr, ok := err.(RuntimeError)
	require.True(t, ok)
	assert.Equal(t, "not-callable", rtErr.Kind)
}

func TestVMUndefinedPropertyIsRuntimeError(t *testing.T) {
	_, err := Interpret([]byte(`
		class Empty {}
		let e = Empty();
		e.missing;
	`), NewConfig())
	require.Error(t, err)
	rtErr, ok := err.(RuntimeError)
	require.True(t, ok)
	assert.Equal(t, "undefined-property", rtErr.Kind)
}

func TestVMBackwardJumpPastChunkStartIsStackOverflow(t *testing.T) {
	// A backward jump past index 0 must raise StackOverflow, not wrap.
	// Constructed directly since no surface syntax emits a jump large
	// enough to underflow a chunk this small.
	chunk := &Chunk{Opcodes: []Opcode{{Op: OpJp, Arg: -100}}}
	fn := &Function{Name: 0, Arity: 0, Chunk: chunk}
	program := &Program{Globals: []GlobalItem{{Function: fn}}, Main: 0}
	_, err := Run(program, NewInternTable(), NewConfig())
	require.Error(t, err)
	rtErr, ok := err.(RuntimeError)
	require.True(t, ok)
	assert.Equal(t, "stack-overflow", rtErr.Kind)
}

func TestVMBuiltinClockReturnsNumber(t *testing.T) {
	v := interpret(t, "clock();")
	assert.Equal(t, ValNumber, v.Kind)
}

func TestVMBuiltinPrintReturnsNull(t *testing.T) {
	v := interpret(t, `print("hi");`)
	assert.Equal(t, ValNull, v.Kind)
}

func TestVMEqualityAcrossMismatchedTypesIsRuntimeError(t *testing.T) {
	_, err := Interpret([]byte("1 == true;"), NewConfig())
	require.Error(t, err)
	rtErr, ok := err.(RuntimeError)
	require.True(t, ok)
	assert.Equal(t, "mismatched-types", rtErr.Kind)
}

func TestVMStackDisciplineAfterExpressionStatement(t *testing.T) {
	// A non-final Expression statement's value is popped, so only the
	// trailing statement's value survives to become the program's
	// result.
	v := interpret(t, "1 + 1; 2 + 2;")
	assert.Equal(t, 4.0, v.Number)
}
