package gravitas

import "fmt"

// ValueKind tags the runtime value sum type:
// Number | String(ref) | Bool | Null | MemoryAddress | GlobalPointer | HeapPointer.
type ValueKind int

const (
	ValNumber ValueKind = iota
	ValString
	ValBool
	ValNull
	ValAddress
	ValGlobal
	ValHeap
	// ValCell marks a local slot that CreateClosure has converted into
	// a heap-indirected capture cell. It is distinct from ValHeap so the
	// VM can tell "this slot holds a shared cell" apart from "this slot
	// legitimately holds some other heap handle".
	ValCell
)

// Value is the VM's operand-stack element. Dispatch is by Kind, not
// by interface type, keeping values flat and comparable.
type Value struct {
	Kind ValueKind

	Number  float64
	Text    Symbol
	Bool    bool
	Addr    MemoryAddress
	Global  int
	Heap    HeapPointer
}

func NullValue() Value               { return Value{Kind: ValNull} }
func NumberValue(n float64) Value     { return Value{Kind: ValNumber, Number: n} }
func BoolValue(b bool) Value          { return Value{Kind: ValBool, Bool: b} }
func StringValue(s Symbol) Value      { return Value{Kind: ValString, Text: s} }
func AddressValue(a MemoryAddress) Value { return Value{Kind: ValAddress, Addr: a} }
func GlobalValue(p int) Value         { return Value{Kind: ValGlobal, Global: p} }
func HeapValue(p HeapPointer) Value   { return Value{Kind: ValHeap, Heap: p} }

func (v Value) IsTruthy() bool {
	switch v.Kind {
	case ValBool:
		return v.Bool
	case ValNull:
		return false
	default:
		return true
	}
}

func (v Value) String() string {
	switch v.Kind {
	case ValNumber:
		return fmt.Sprintf("%g", v.Number)
	case ValBool:
		return fmt.Sprintf("%t", v.Bool)
	case ValNull:
		return "null"
	case ValString:
		return fmt.Sprintf("#%d", v.Text)
	case ValAddress:
		return fmt.Sprintf("<addr %v>", v.Addr)
	case ValGlobal:
		return fmt.Sprintf("<global %d>", v.Global)
	case ValHeap:
		return fmt.Sprintf("<heap %d>", v.Heap)
	default:
		return "<?>"
	}
}

// sameType reports whether a and b are comparable under Eq/Ne's
// "equal types only" rule: mismatched kinds are a MismatchedTypes
// error, never a bare `false`.
func sameType(a, b Value) bool {
	return a.Kind == b.Kind
}

func valuesEqual(a, b Value) bool {
	switch a.Kind {
	case ValNumber:
		return a.Number == b.Number
	case ValBool:
		return a.Bool == b.Bool
	case ValNull:
		return true
	case ValString:
		return a.Text == b.Text
	case ValHeap:
		return a.Heap == b.Heap
	case ValGlobal:
		return a.Global == b.Global
	default:
		return false
	}
}
