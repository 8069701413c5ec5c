package gravitas

import (
	"fmt"
	"time"
)

// callBuiltin dispatches one of the handful of natives the generator
// registers as globals: clock() and print(value). Both are invoked
// directly by the VM instead of pushing a call frame, since neither
// has a Chunk to run.
func callBuiltin(name string, args []Value, interns *InternTable) (Value, error) {
	switch name {
	case "clock":
		if len(args) != 0 {
			return Value{}, RuntimeError{Kind: "arity-mismatch", Detail: "clock() takes no arguments"}
		}
		return NumberValue(float64(time.Now().UnixMilli())), nil
	case "print":
		if len(args) != 1 {
			return Value{}, RuntimeError{Kind: "arity-mismatch", Detail: "print(value) takes exactly one argument"}
		}
		fmt.Println(renderValue(args[0], interns))
		return NullValue(), nil
	}
	return Value{}, RuntimeError{Kind: "not-callable", Detail: "unknown native " + name}
}

// renderValue formats a Value for print(), deliberately distinct from
// Value.String() (which renders symbols/addresses for debugging) —
// this is the user-facing text, not a diagnostic.
func renderValue(v Value, interns *InternTable) string {
	switch v.Kind {
	case ValNull:
		return "null"
	case ValBool:
		if v.Bool {
			return "true"
		}
		return "false"
	case ValNumber:
		return fmt.Sprintf("%g", v.Number)
	case ValString:
		return interns.Text(v.Text)
	default:
		return v.String()
	}
}
