package gravitas

import "github.com/josharian/intern"

// Symbol is an index into an InternTable. It is cheap to copy and
// compare, and is what the resolver and bytecode generator pass
// around instead of raw strings.
type Symbol int

// InternTable is the bidirectional map symbol <-> text described in
// the data model: populated during lexing (every String/Identifier
// lexeme is interned as it's read), and consulted during bytecode
// generation (to look up the `main`/`init` symbols and to name
// identifiers in diagnostics) and by the VM (to render strings for
// print() and to name a missing property in a diagnostic).
//
// The text side is deduplicated through intern.String, so repeated
// identical literals and identifiers across a whole program end up
// sharing one backing string instead of each lexeme allocating its
// own copy.
type InternTable struct {
	bySymbol []string
	byText   map[string]Symbol
}

func NewInternTable() *InternTable {
	return &InternTable{byText: map[string]Symbol{}}
}

// Intern returns the Symbol for s, allocating a new one if s hasn't
// been seen before.
func (t *InternTable) Intern(s string) Symbol {
	if sym, ok := t.byText[s]; ok {
		return sym
	}
	shared := intern.String(s)
	sym := Symbol(len(t.bySymbol))
	t.bySymbol = append(t.bySymbol, shared)
	t.byText[shared] = sym
	return sym
}

// Text resolves a Symbol back to its backing string. It panics on an
// out-of-range symbol: by construction every Symbol handed out by
// Intern is valid for the lifetime of the table that produced it.
func (t *InternTable) Text(sym Symbol) string {
	if int(sym) < 0 || int(sym) >= len(t.bySymbol) {
		panic("gravitas: symbol out of range")
	}
	return t.bySymbol[sym]
}

func (t *InternTable) Len() int { return len(t.bySymbol) }
