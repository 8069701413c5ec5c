package gravitas

import (
	"fmt"

	"github.com/hashicorp/go-multierror"
)

// LexError is raised while scanning. Kind identifies what went wrong
// so callers can react programmatically instead of matching strings.
type LexError struct {
	Kind string // "too-much-dots", "invalid-number", "unterminated-string", "unexpected-char"
	Text string
	Span Range
}

func (e LexError) Error() string {
	return fmt.Sprintf("%s: %s @ %s", e.Kind, e.Text, e.Span)
}

// ParseError is raised by the Pratt parser. Kind is one of
// unexpected-token, expected, trailing-comma, or lex-error (an Error
// lexeme from the lexer; its LexError, e.g. too-much-dots or
// invalid-number, is in Got.Err). Input that ends too early is reported
// as unexpected-token or expected with an eof Got; the parser has no
// separate end-of-input or expected-one-of kind.
type ParseError struct {
	Kind     string
	Expected string
	Got      Lexeme
	Span     Range
}

func (e ParseError) Error() string {
	if e.Expected != "" {
		return fmt.Sprintf("%s: expected %s, got %s @ %s", e.Kind, e.Expected, e.Got.Kind, e.Span)
	}
	return fmt.Sprintf("%s: got %s @ %s", e.Kind, e.Got.Kind, e.Span)
}

// GenerationError is raised by the resolver/generator pass: scope
// errors discovered while lowering the Ast to bytecode.
type GenerationError struct {
	Kind string // "undeclared-identifier", "used-before-initialization",
	// "used-outside-loop", "used-outside-class", "cant-inherit-from-itself",
	// "superclass-doesnt-exist", "method-captures-enclosing-local"
	Name string
	Span Range
}

func (e GenerationError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("%s: %q @ %s", e.Kind, e.Name, e.Span)
	}
	return fmt.Sprintf("%s @ %s", e.Kind, e.Span)
}

// RuntimeError is raised by the VM's dispatch loop.
type RuntimeError struct {
	Kind string // "popped-from-empty-stack", "mismatched-types", "stack-overflow",
	// "expected-number", "expected-bool", "expected-usize", "not-callable",
	// "arity-mismatch", "undefined-property", "used-outside-class"
	Detail string
}

func (e RuntimeError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
	}
	return e.Kind
}

// newErrorList and appendError centralize the go-multierror
// accumulation idiom used by the parser and generator: both passes
// keep going after a recoverable error so a single run can report more
// than one diagnostic, then return the accumulated list if non-empty.
func newErrorList() *multierror.Error {
	return &multierror.Error{
		ErrorFormat: func(errs []error) string {
			if len(errs) == 1 {
				return errs[0].Error()
			}
			s := fmt.Sprintf("%d errors occurred:", len(errs))
			for _, err := range errs {
				s += "\n\t* " + err.Error()
			}
			return s
		},
	}
}

func appendError(list *multierror.Error, err error) *multierror.Error {
	if err == nil {
		return list
	}
	return multierror.Append(list, err)
}
